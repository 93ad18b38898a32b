package upgrade

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/autopeer-io/adminupgrade/internal/node"
	"github.com/autopeer-io/adminupgrade/internal/pkg/util"
	"github.com/autopeer-io/adminupgrade/internal/upgrade/sentinel"
	"github.com/autopeer-io/adminupgrade/pkg/log"
)

// LauncherConfig wires a Launcher.
type LauncherConfig struct {
	Store sentinel.Store
	// Lock serializes launches with other processes. Nil relies on the
	// in-process mutex alone.
	Lock    sentinel.Locker
	Nodes   node.Registry
	Spawner Spawner
	// Script is the absolute path of the upgrade script.
	Script string
	// Sudo prefixes the script invocation when set.
	Sudo   string
	Logger log.Logger
}

// Launcher starts the admin node upgrade.
type Launcher struct {
	mu      sync.Mutex
	store   sentinel.Store
	lock    sentinel.Locker
	nodes   node.Registry
	spawner Spawner
	script  string
	sudo    string
	logger  log.Logger
}

// NewLauncher creates a Launcher.
func NewLauncher(cfg LauncherConfig) *Launcher {
	return &Launcher{
		store:   cfg.Store,
		lock:    cfg.Lock,
		nodes:   cfg.Nodes,
		spawner: cfg.Spawner,
		script:  cfg.Script,
		sudo:    cfg.Sudo,
		logger:  log.OrStd(cfg.Logger).WithName("launcher"),
	}
}

// Script returns the configured script path.
func (l *Launcher) Script() string {
	return l.script
}

// Launch starts the upgrade script detached and returns its pid once it runs.
//
// Launches are serialized by the in-process mutex and the cross-process lock,
// both held until the spawn returns. The upgrading sentinel belongs to the
// script; Launch only reads it. The node mutation is not rolled back if the
// spawn fails.
func (l *Launcher) Launch(ctx context.Context) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.lock != nil {
		unlock, err := l.lock.TryLock()
		if err != nil {
			if errors.Is(err, sentinel.ErrLocked) {
				err = fmt.Errorf("%w: another launch is running: %w", util.ErrAlreadyInProgress, err)
			}
			l.logger.Error(err, "Failed to take the launch lock")
			return 0, err
		}
		defer unlock()
	}

	upgrading, err := sentinel.IsUpgrading(l.store)
	if err != nil {
		l.logger.Error(err, "Failed to read upgrade state")
		return 0, err
	}
	if upgrading {
		err := fmt.Errorf("%w: the admin server upgrade is already running", util.ErrAlreadyInProgress)
		l.logger.Error(err, "Refusing to launch upgrade")
		return 0, err
	}

	if fi, err := os.Stat(l.script); err != nil || fi.IsDir() {
		err := fmt.Errorf("%w: could not find %s", util.ErrScriptMissing, l.script)
		l.logger.Error(err, "Upgrade script not found", "script", l.script)
		return 0, err
	}

	if err := l.prepareAdminNode(ctx); err != nil {
		l.logger.Error(err, "Failed to prepare the admin node for upgrade")
		return 0, err
	}

	argv := []string{l.script}
	if l.sudo != "" {
		argv = []string{l.sudo, l.script}
	}

	pid, err := l.spawner.Spawn(ctx, argv)
	if err != nil {
		err = fmt.Errorf("%w: failed to start %s: %w", util.ErrExternalCommandFailed, l.script, err)
		l.logger.Error(err, "Failed to start upgrade script")
		l.logger.Warn("Admin node platform settings stay cleared after the failed launch", "script", l.script)
		return 0, err
	}

	l.logger.Info(fmt.Sprintf("%s executed with pid: %d", l.script, pid), "pid", pid)
	return pid, nil
}

// prepareAdminNode clears the admin node's platform pins; it boots a
// different OS after the upgrade.
func (l *Launcher) prepareAdminNode(ctx context.Context) error {
	admin, err := l.nodes.AdminNode(ctx)
	if err != nil {
		return fmt.Errorf("%w: failed to load admin node: %w", util.ErrNodeMutationFailed, err)
	}

	admin.ClearPlatform()
	if err := l.nodes.Save(ctx, admin); err != nil {
		return fmt.Errorf("%w: failed to save admin node %s: %w", util.ErrNodeMutationFailed, admin.Name, err)
	}
	return nil
}
