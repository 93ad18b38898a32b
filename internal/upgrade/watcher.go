package upgrade

import (
	"context"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/autopeer-io/adminupgrade/internal/upgrade/sentinel"
	"github.com/autopeer-io/adminupgrade/pkg/log"
)

const (
	notifyTimeout     = 5 * time.Second
	subscriberBacklog = 8
)

// PhaseChange is emitted whenever the observed phase changes.
type PhaseChange struct {
	From   Phase     `json:"from"`
	To     Phase     `json:"to"`
	Status *Status   `json:"status"`
	At     time.Time `json:"at"`
}

// Notifier forwards phase changes to an external system.
type Notifier interface {
	Notify(ctx context.Context, change PhaseChange) error
}

// WatchedStore is a sentinel store backed by files in one directory.
type WatchedStore interface {
	sentinel.Store
	Dir() string
	Lookup(name string) (sentinel.Sentinel, bool)
}

// Watcher follows the sentinel directory and publishes phase changes. It
// re-reads all sentinels on every relevant file event and on a fixed period,
// so missed events only delay detection.
type Watcher struct {
	store     WatchedStore
	reporter  *Reporter
	tracker   *PhaseTracker
	resync    time.Duration
	notifiers []Notifier
	logger    log.Logger

	refreshMu sync.Mutex

	subMu  sync.Mutex
	nextID int
	subs   map[int]chan PhaseChange
}

// NewWatcher creates a Watcher. The tracker starts from the current on-disk phase.
func NewWatcher(store WatchedStore, reporter *Reporter, resync time.Duration, logger log.Logger, notifiers ...Notifier) *Watcher {
	logger = log.OrStd(logger).WithName("watcher")

	initial := PhaseIdle
	if s, err := reporter.Status(); err == nil {
		initial = s.Phase()
	} else {
		logger.Error(err, "Failed to read initial upgrade state")
	}

	return &Watcher{
		store:     store,
		reporter:  reporter,
		tracker:   NewPhaseTracker(initial, logger),
		resync:    resync,
		notifiers: notifiers,
		logger:    logger,
		subs:      make(map[int]chan PhaseChange),
	}
}

// Current returns the last observed phase.
func (w *Watcher) Current() Phase {
	return w.tracker.Current()
}

// Start watches until ctx is done.
func (w *Watcher) Start(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer func() { _ = fw.Close() }()

	watching := w.watch(fw)
	w.logger.Info("Watching upgrade sentinels", "dir", w.store.Dir(), "resync", w.resync, "phase", w.Current())
	w.refresh(ctx)

	ticker := time.NewTicker(w.resync)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if _, known := w.store.Lookup(filepath.Base(ev.Name)); known {
				w.logger.Debug("Sentinel event", "file", ev.Name, "op", ev.Op.String())
				w.refresh(ctx)
			}
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Error(err, "Sentinel watch error")
		case <-ticker.C:
			if !watching {
				watching = w.watch(fw)
			}
			w.refresh(ctx)
		}
	}
}

// watch adds the sentinel directory. It may not exist before the first upgrade.
func (w *Watcher) watch(fw *fsnotify.Watcher) bool {
	if err := fw.Add(w.store.Dir()); err != nil {
		w.logger.Warn("Cannot watch sentinel directory yet, relying on resync", "dir", w.store.Dir(), "error", err)
		return false
	}
	return true
}

func (w *Watcher) refresh(ctx context.Context) {
	if _, err := w.Refresh(ctx); err != nil {
		w.logger.Error(err, "Failed to refresh upgrade state")
	}
}

// Refresh reads the sentinels now and emits a change if the phase moved.
func (w *Watcher) Refresh(ctx context.Context) (*Status, error) {
	w.refreshMu.Lock()
	s, err := w.reporter.Status()
	if err != nil {
		w.refreshMu.Unlock()
		return nil, err
	}
	from, changed := w.tracker.Observe(ctx, s.Phase())
	w.refreshMu.Unlock()

	if changed {
		w.emit(ctx, PhaseChange{From: from, To: s.Phase(), Status: s, At: time.Now()})
	}
	return s, nil
}

func (w *Watcher) emit(ctx context.Context, change PhaseChange) {
	w.subMu.Lock()
	for _, ch := range w.subs {
		select {
		case ch <- change:
		default:
			w.logger.Debug("Dropping phase change for slow subscriber", "to", change.To)
		}
	}
	w.subMu.Unlock()

	for _, n := range w.notifiers {
		nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
		if err := n.Notify(nctx, change); err != nil {
			w.logger.Error(err, "Failed to notify phase change", "to", change.To)
		}
		cancel()
	}
}

// Subscribe returns a channel of future phase changes and a func releasing it.
func (w *Watcher) Subscribe() (<-chan PhaseChange, func()) {
	w.subMu.Lock()
	defer w.subMu.Unlock()

	id := w.nextID
	w.nextID++
	ch := make(chan PhaseChange, subscriberBacklog)
	w.subs[id] = ch

	return ch, func() {
		w.subMu.Lock()
		defer w.subMu.Unlock()
		delete(w.subs, id)
	}
}

// Await blocks until the phase is one of phases. It refreshes on its own
// every resync period, so it works without Start running.
func (w *Watcher) Await(ctx context.Context, phases ...Phase) (*Status, error) {
	changes, release := w.Subscribe()
	defer release()

	s, err := w.Refresh(ctx)
	if err != nil {
		return nil, err
	}
	if slices.Contains(phases, s.Phase()) {
		return s, nil
	}

	ticker := time.NewTicker(w.resync)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return s, ctx.Err()
		case c := <-changes:
			s = c.Status
			if slices.Contains(phases, c.To) {
				return s, nil
			}
		case <-ticker.C:
			w.refresh(ctx)
		}
	}
}
