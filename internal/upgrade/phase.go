package upgrade

import (
	"context"
	"sync"

	"github.com/looplab/fsm"

	"github.com/autopeer-io/adminupgrade/internal/pkg/metrics"
	fsmutil "github.com/autopeer-io/adminupgrade/internal/pkg/util/fsm"
	"github.com/autopeer-io/adminupgrade/pkg/log"
)

// eventTo names the event moving the tracker into phase p.
func eventTo(p Phase) string {
	return "to_" + string(p)
}

// PhaseTracker follows the phase derived from the sentinels. Transitions the
// upgrade script is not expected to produce are logged as warnings and
// applied anyway; the files are the source of truth.
type PhaseTracker struct {
	mu     sync.Mutex
	fsm    *fsm.FSM
	logger log.Logger
}

// NewPhaseTracker creates a tracker starting in initial.
func NewPhaseTracker(initial Phase, logger log.Logger) *PhaseTracker {
	t := &PhaseTracker{logger: log.OrStd(logger).WithName("phase")}

	all := func(except Phase) []string {
		var src []string
		for _, p := range Phases {
			if p != except {
				src = append(src, string(p))
			}
		}
		return src
	}

	events := fsm.Events{
		{Name: eventTo(PhaseUpgrading), Src: []string{string(PhaseIdle), string(PhaseFailed), string(PhaseSucceeded), string(PhaseInconsistent)}, Dst: string(PhaseUpgrading)},
		{Name: eventTo(PhaseSucceeded), Src: []string{string(PhaseUpgrading), string(PhaseInconsistent)}, Dst: string(PhaseSucceeded)},
		{Name: eventTo(PhaseFailed), Src: []string{string(PhaseUpgrading), string(PhaseInconsistent)}, Dst: string(PhaseFailed)},

		// Cancel or manual cleanup of a finished upgrade.
		{Name: eventTo(PhaseIdle), Src: all(PhaseIdle), Dst: string(PhaseIdle)},

		{Name: eventTo(PhaseInconsistent), Src: all(PhaseInconsistent), Dst: string(PhaseInconsistent)},
	}

	callbacks := fsm.Callbacks{
		"enter_state": fsmutil.WrapEvent(func(ctx context.Context, e *fsm.Event) error {
			t.entered(Phase(e.Src), Phase(e.Dst))
			return nil
		}),
	}

	t.fsm = fsm.NewFSM(string(initial), events, callbacks)
	metrics.SetPhase(string(initial), phaseNames())
	return t
}

// Current returns the tracked phase.
func (t *PhaseTracker) Current() Phase {
	return Phase(t.fsm.Current())
}

// Observe moves the tracker to phase and reports the previous phase and
// whether it changed.
func (t *PhaseTracker) Observe(ctx context.Context, phase Phase) (Phase, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	from := t.Current()
	if from == phase {
		return from, false
	}

	err := t.fsm.Event(ctx, eventTo(phase))
	switch {
	case err == nil, fsmutil.IsNoTransition(err):
	case fsmutil.IsInvalidTransition(err):
		t.logger.Warn("Unexpected upgrade phase transition", "from", from, "to", phase)
		t.fsm.SetState(string(phase))
		t.entered(from, phase)
	default:
		t.logger.Error(err, "Failed to track upgrade phase", "from", from, "to", phase)
		t.fsm.SetState(string(phase))
		t.entered(from, phase)
	}
	return from, true
}

func (t *PhaseTracker) entered(from, to Phase) {
	metrics.PhaseTransitionsTotal.WithLabelValues(string(from), string(to)).Inc()
	metrics.SetPhase(string(to), phaseNames())

	switch to {
	case PhaseInconsistent:
		t.logger.Warn("Upgrade sentinels disagree, more than one state flag is set", "from", from)
	case PhaseFailed:
		t.logger.Warn("Admin server upgrade failed", "from", from)
	default:
		t.logger.Info("Upgrade phase changed", "from", from, "to", to)
	}
}

func phaseNames() []string {
	names := make([]string, 0, len(Phases))
	for _, p := range Phases {
		names = append(names, string(p))
	}
	return names
}
