package upgrade

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/autopeer-io/adminupgrade/internal/node"
	"github.com/autopeer-io/adminupgrade/internal/upgrade/sentinel"
)

type fakeRegistry struct {
	mu      sync.Mutex
	admin   *node.Node
	loadErr error
	saveErr error
	saved   []*node.Node
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{admin: &node.Node{
		Name:           "crowbar",
		Admin:          true,
		TargetPlatform: "suse-12.1",
		Provisioner:    map[string]string{node.DefaultOSKey: "suse-12.1", "keep": "me"},
	}}
}

func (f *fakeRegistry) AdminNode(context.Context) (*node.Node, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.loadErr != nil {
		return nil, f.loadErr
	}
	return f.admin.DeepCopy(), nil
}

func (f *fakeRegistry) ListByRole(context.Context, string) ([]*node.Node, error) {
	return nil, nil
}

func (f *fakeRegistry) Save(_ context.Context, n *node.Node) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return f.saveErr
	}
	f.saved = append(f.saved, n.DeepCopy())
	f.admin = n.DeepCopy()
	return nil
}

func (f *fakeRegistry) saves() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.saved)
}

type fakeSpawner struct {
	mu    sync.Mutex
	pid   int
	err   error
	calls [][]string
	// started runs after a successful spawn, standing in for the script.
	started func()
}

func (f *fakeSpawner) Spawn(_ context.Context, argv []string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, argv)
	if f.err != nil {
		return 0, f.err
	}
	if f.started != nil {
		f.started()
	}
	return f.pid, nil
}

func (f *fakeSpawner) spawns() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeReverter struct {
	err   error
	calls int
}

func (f *fakeReverter) Revert(context.Context) error {
	f.calls++
	return f.err
}

func (f *fakeReverter) Prepare(context.Context) error {
	return f.err
}

func writeScript(t *testing.T) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "upgrade_admin_server.sh")
	require.NoError(t, os.WriteFile(p, []byte("#!/bin/sh\nexit 0\n"), 0o755))
	return p
}

// mark writes a marker the way the upgrade script does.
func mark(t *testing.T, st *sentinel.FileStore, s sentinel.Sentinel) {
	t.Helper()
	p, err := st.Path(s)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(p, nil, 0o644))
}
