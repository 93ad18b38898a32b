// Package sentinel stores admin node upgrade progress as empty marker files.
//
// The upgrade script creates and removes the markers itself. This package only
// tests for their presence and clears the in-progress marker when an upgrade
// is cancelled. Launches are serialized by a lock file next to the markers
// that the script never looks at.
package sentinel

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/autopeer-io/adminupgrade/internal/pkg/util"
)

// Sentinel names one of the durable upgrade markers.
type Sentinel string

const (
	// Upgrading is present while the upgrade script runs.
	Upgrading Sentinel = "upgrading"
	// Succeeded is left behind by a successful upgrade.
	Succeeded Sentinel = "succeeded"
	// Failed is left behind by a failed upgrade.
	Failed Sentinel = "failed"
)

// All lists every sentinel in a stable order.
var All = []Sentinel{Upgrading, Succeeded, Failed}

// Default marker layout shared with upgrade_admin_server.sh.
const (
	DefaultDir           = "/var/lib/crowbar/install"
	DefaultUpgradingFile = "admin_server_upgrading"
	DefaultSucceededFile = "admin-server-upgraded-ok"
	DefaultFailedFile    = "admin-server-upgrade-failed"
)

// Store gives existence-only access to the upgrade markers.
type Store interface {
	// Exists reports whether the marker is present.
	Exists(s Sentinel) (bool, error)

	// Remove deletes the marker. Removing an absent marker is not an error.
	Remove(s Sentinel) error
}

func IsUpgrading(st Store) (bool, error) { return st.Exists(Upgrading) }
func IsSucceeded(st Store) (bool, error) { return st.Exists(Succeeded) }
func IsFailed(st Store) (bool, error)    { return st.Exists(Failed) }

// ClearUpgrading removes the in-progress marker.
func ClearUpgrading(st Store) error { return st.Remove(Upgrading) }

// FileStore keeps all markers under one base directory so every read agrees on
// a single root.
type FileStore struct {
	dir   string
	files map[Sentinel]string
}

var _ Store = (*FileStore)(nil)

// Layout overrides the marker file names. Empty fields keep the defaults.
type Layout struct {
	UpgradingFile string
	SucceededFile string
	FailedFile    string
}

// NewFileStore creates a FileStore rooted at dir.
func NewFileStore(dir string, layout Layout) *FileStore {
	files := map[Sentinel]string{
		Upgrading: DefaultUpgradingFile,
		Succeeded: DefaultSucceededFile,
		Failed:    DefaultFailedFile,
	}
	if layout.UpgradingFile != "" {
		files[Upgrading] = layout.UpgradingFile
	}
	if layout.SucceededFile != "" {
		files[Succeeded] = layout.SucceededFile
	}
	if layout.FailedFile != "" {
		files[Failed] = layout.FailedFile
	}

	return &FileStore{dir: filepath.Clean(dir), files: files}
}

// Dir returns the canonical base directory.
func (f *FileStore) Dir() string {
	return f.dir
}

// Path returns the marker path for s.
func (f *FileStore) Path(s Sentinel) (string, error) {
	name, ok := f.files[s]
	if !ok {
		return "", fmt.Errorf("%w: unknown sentinel %q", util.ErrStateUnavailable, s)
	}
	return filepath.Join(f.dir, name), nil
}

// Lookup maps a marker file name back to its sentinel.
func (f *FileStore) Lookup(name string) (Sentinel, bool) {
	for s, file := range f.files {
		if file == name {
			return s, true
		}
	}
	return "", false
}

func (f *FileStore) Exists(s Sentinel) (bool, error) {
	p, err := f.Path(s)
	if err != nil {
		return false, err
	}

	_, err = os.Stat(p)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, os.ErrNotExist):
		return false, nil
	default:
		return false, fmt.Errorf("%w: failed to stat %s: %w", util.ErrStateUnavailable, p, err)
	}
}

func (f *FileStore) Remove(s Sentinel) error {
	p, err := f.Path(s)
	if err != nil {
		return err
	}

	if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: failed to remove %s: %w", util.ErrStateUnavailable, p, err)
	}
	return nil
}
