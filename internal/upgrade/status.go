// Package upgrade drives the admin node upgrade lifecycle: reporting its
// state, launching the upgrade script and cancelling an upgrade.
package upgrade

import (
	"fmt"

	"github.com/autopeer-io/adminupgrade/internal/upgrade/sentinel"
)

// Phase summarizes the sentinel flags.
type Phase string

const (
	PhaseIdle         Phase = "idle"
	PhaseUpgrading    Phase = "upgrading"
	PhaseSucceeded    Phase = "succeeded"
	PhaseFailed       Phase = "failed"
	PhaseInconsistent Phase = "inconsistent"
)

// Phases lists every phase.
var Phases = []Phase{PhaseIdle, PhaseUpgrading, PhaseSucceeded, PhaseFailed, PhaseInconsistent}

// State holds the sentinel flags as read from disk.
type State struct {
	Upgrading bool `json:"upgrading"`
	Success   bool `json:"success"`
	Failed    bool `json:"failed"`
}

// Status is the version plus a fresh read of the upgrade state.
type Status struct {
	Version string `json:"version"`
	Upgrade State  `json:"upgrade"`
}

// Consistent reports whether at most one flag is set.
func (s *Status) Consistent() bool {
	n := 0
	for _, f := range []bool{s.Upgrade.Upgrading, s.Upgrade.Success, s.Upgrade.Failed} {
		if f {
			n++
		}
	}
	return n <= 1
}

// Phase maps the flags to a phase. Several flags at once are reported as
// inconsistent, never resolved.
func (s *Status) Phase() Phase {
	switch {
	case !s.Consistent():
		return PhaseInconsistent
	case s.Upgrade.Upgrading:
		return PhaseUpgrading
	case s.Upgrade.Success:
		return PhaseSucceeded
	case s.Upgrade.Failed:
		return PhaseFailed
	default:
		return PhaseIdle
	}
}

// Reporter reads the upgrade status. Nothing is cached.
type Reporter struct {
	store   sentinel.Store
	version string
}

// NewReporter creates a Reporter.
func NewReporter(store sentinel.Store, version string) *Reporter {
	return &Reporter{store: store, version: version}
}

// Version returns the configured version.
func (r *Reporter) Version() string {
	return r.version
}

// Status reads all three sentinels.
func (r *Reporter) Status() (*Status, error) {
	s := &Status{Version: r.version}

	for _, f := range []struct {
		sentinel sentinel.Sentinel
		dst      *bool
	}{
		{sentinel.Upgrading, &s.Upgrade.Upgrading},
		{sentinel.Succeeded, &s.Upgrade.Success},
		{sentinel.Failed, &s.Upgrade.Failed},
	} {
		ok, err := r.store.Exists(f.sentinel)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s sentinel: %w", f.sentinel, err)
		}
		*f.dst = ok
	}

	return s, nil
}
