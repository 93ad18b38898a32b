package upgrade

import (
	"context"

	"github.com/autopeer-io/adminupgrade/internal/node"
	"github.com/autopeer-io/adminupgrade/internal/pkg/metrics"
	"github.com/autopeer-io/adminupgrade/internal/pkg/util"
	"github.com/autopeer-io/adminupgrade/internal/precheck"
	"github.com/autopeer-io/adminupgrade/pkg/log"
)

// Operation names used in metrics and logs.
const (
	OpLaunch  = "launch"
	OpCancel  = "cancel"
	OpPrepare = "prepare"
)

// Prechecker evaluates the upgrade preconditions.
type Prechecker interface {
	Run(ctx context.Context) (precheck.Report, error)
}

// ManagerConfig wires a Manager.
type ManagerConfig struct {
	Reporter  *Reporter
	Launcher  *Launcher
	Canceller *Canceller
	Preparer  node.Preparer
	Prechecks Prechecker
	Watcher   *Watcher
	Logger    log.Logger
}

// Manager is the entry point for callers of the upgrade lifecycle.
type Manager struct {
	reporter  *Reporter
	launcher  *Launcher
	canceller *Canceller
	preparer  node.Preparer
	prechecks Prechecker
	watcher   *Watcher
	logger    log.Logger
}

// NewManager creates a Manager.
func NewManager(cfg ManagerConfig) *Manager {
	return &Manager{
		reporter:  cfg.Reporter,
		launcher:  cfg.Launcher,
		canceller: cfg.Canceller,
		preparer:  cfg.Preparer,
		prechecks: cfg.Prechecks,
		watcher:   cfg.Watcher,
		logger:    log.OrStd(cfg.Logger).WithName("upgrade"),
	}
}

// Version returns the reported version.
func (m *Manager) Version() string {
	return m.reporter.Version()
}

// Status reads the current upgrade status.
func (m *Manager) Status(_ context.Context) (*Status, error) {
	return m.reporter.Status()
}

// Prechecks runs every precondition check.
func (m *Manager) Prechecks(ctx context.Context) (precheck.Report, error) {
	return m.prechecks.Run(ctx)
}

// Launch starts the upgrade and returns the script's pid.
func (m *Manager) Launch(ctx context.Context) (int, error) {
	pid, err := m.launcher.Launch(ctx)
	m.record(OpLaunch, err)
	if err == nil {
		m.sync(ctx)
	}
	return pid, err
}

// Cancel aborts the upgrade.
func (m *Manager) Cancel(ctx context.Context) error {
	err := m.canceller.Cancel(ctx)
	m.record(OpCancel, err)
	if err == nil {
		m.sync(ctx)
	}
	return err
}

// Prepare marks the non-admin nodes for the admin server upgrade.
func (m *Manager) Prepare(ctx context.Context) error {
	err := m.preparer.Prepare(ctx)
	m.record(OpPrepare, err)
	if err != nil {
		m.logger.Error(err, "Failed to prepare nodes for the admin server upgrade")
	}
	return err
}

// Await blocks until the upgrade reaches one of phases.
func (m *Manager) Await(ctx context.Context, phases ...Phase) (*Status, error) {
	return m.watcher.Await(ctx, phases...)
}

func (m *Manager) record(op string, err error) {
	result := metrics.ResultSuccess
	if err != nil {
		result = util.Kind(err)
	}
	metrics.OperationsTotal.WithLabelValues(op, result).Inc()
}

// sync pushes a state change to watch subscribers without waiting for the
// file event.
func (m *Manager) sync(ctx context.Context) {
	if m.watcher == nil {
		return
	}
	if _, err := m.watcher.Refresh(ctx); err != nil {
		m.logger.Error(err, "Failed to refresh upgrade state")
	}
}
