package upgrade

import (
	"context"
	"fmt"
	"os"
	"os/exec"

	"github.com/autopeer-io/adminupgrade/pkg/log"
)

// Spawner starts a process that outlives its caller.
type Spawner interface {
	// Spawn starts argv detached and returns its pid without waiting for it.
	Spawn(ctx context.Context, argv []string) (int, error)
}

// ProcessSpawner starts processes in their own session so they survive the
// controller exiting. Output goes to LogPath, or is discarded if it is empty.
type ProcessSpawner struct {
	LogPath string
	Logger  log.Logger
}

var _ Spawner = (*ProcessSpawner)(nil)

func (p *ProcessSpawner) Spawn(_ context.Context, argv []string) (int, error) {
	if len(argv) == 0 {
		return 0, fmt.Errorf("empty command")
	}
	logger := log.OrStd(p.Logger)

	// Not CommandContext: the child must outlive the request.
	cmd := exec.Command(argv[0], argv[1:]...)
	detach(cmd)

	var out *os.File
	if p.LogPath != "" {
		f, err := os.OpenFile(p.LogPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640)
		if err != nil {
			return 0, fmt.Errorf("failed to open %s: %w", p.LogPath, err)
		}
		out = f
		cmd.Stdout, cmd.Stderr = f, f
	}

	if err := cmd.Start(); err != nil {
		if out != nil {
			_ = out.Close()
		}
		return 0, err
	}
	pid := cmd.Process.Pid

	// Reap the child so it does not linger as a zombie while we run.
	go func() {
		err := cmd.Wait()
		if out != nil {
			_ = out.Close()
		}
		if err != nil {
			logger.Warn("Detached process exited with error", "pid", pid, "command", argv[0], "error", err)
			return
		}
		logger.Info("Detached process exited", "pid", pid, "command", argv[0])
	}()

	return pid, nil
}
