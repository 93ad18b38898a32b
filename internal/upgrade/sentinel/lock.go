package sentinel

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/autopeer-io/adminupgrade/internal/pkg/util"
)

// DefaultLockFile is created next to the markers and never read by the script.
const DefaultLockFile = ".admin_server_upgrade.lock"

// ErrLocked is returned by TryLock while another holder owns the lock.
var ErrLocked = errors.New("lock is held")

// Locker serializes launches across processes sharing a marker directory.
type Locker interface {
	// TryLock takes the lock without waiting. The returned func releases it.
	TryLock() (unlock func(), err error)
}

// FileLock is an advisory flock(2) lock on a single file. The kernel drops it
// when the holding process exits, so a crashed launch cannot leave it behind.
// The holder writes its pid into the file for diagnosis.
type FileLock struct {
	path string
}

var _ Locker = (*FileLock)(nil)

// NewFileLock creates a FileLock on path. Nothing is touched until TryLock.
func NewFileLock(path string) *FileLock {
	return &FileLock{path: filepath.Clean(path)}
}

// Path returns the lock file path.
func (l *FileLock) Path() string {
	return l.path
}

func (l *FileLock) TryLock() (func(), error) {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return nil, fmt.Errorf("%w: failed to create lock directory: %w", util.ErrStateUnavailable, err)
	}

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open %s: %w", util.ErrStateUnavailable, l.path, err)
	}

	if err := flock(f); err != nil {
		_ = f.Close()
		if errors.Is(err, ErrLocked) {
			if pid := l.HolderPID(); pid > 0 {
				return nil, fmt.Errorf("%w: %s by pid %d", ErrLocked, l.path, pid)
			}
			return nil, fmt.Errorf("%w: %s", ErrLocked, l.path)
		}
		return nil, fmt.Errorf("%w: failed to lock %s: %w", util.ErrStateUnavailable, l.path, err)
	}

	if err := f.Truncate(0); err == nil {
		_, _ = f.WriteAt([]byte(strconv.Itoa(os.Getpid())+"\n"), 0)
	}

	return func() {
		_ = f.Truncate(0)
		_ = funlock(f)
		_ = f.Close()
	}, nil
}

// HolderPID returns the pid recorded by the current holder, or 0.
func (l *FileLock) HolderPID() int {
	b, err := os.ReadFile(l.path)
	if err != nil {
		return 0
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(b)))
	if err != nil {
		return 0
	}
	return pid
}
