package sentinel

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autopeer-io/adminupgrade/internal/pkg/util"
)

func touch(t *testing.T, dir, name string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), nil, 0o644))
}

func TestFileStore_Exists(t *testing.T) {
	dir := t.TempDir()
	st := NewFileStore(dir, Layout{})

	for _, s := range All {
		ok, err := st.Exists(s)
		require.NoError(t, err)
		assert.False(t, ok, "%s should be absent", s)
	}

	touch(t, dir, DefaultUpgradingFile)
	touch(t, dir, DefaultFailedFile)

	upgrading, err := IsUpgrading(st)
	require.NoError(t, err)
	assert.True(t, upgrading)

	succeeded, err := IsSucceeded(st)
	require.NoError(t, err)
	assert.False(t, succeeded)

	failed, err := IsFailed(st)
	require.NoError(t, err)
	assert.True(t, failed)
}

func TestFileStore_ReadsHaveNoSideEffects(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "missing")
	st := NewFileStore(dir, Layout{})

	for _, s := range All {
		_, err := st.Exists(s)
		require.NoError(t, err)
	}

	_, err := os.Stat(dir)
	assert.True(t, os.IsNotExist(err), "reads must not create the base directory")
}

func TestFileStore_CustomLayout(t *testing.T) {
	dir := t.TempDir()
	st := NewFileStore(dir, Layout{UpgradingFile: "in.progress"})

	touch(t, dir, "in.progress")
	ok, err := st.Exists(Upgrading)
	require.NoError(t, err)
	assert.True(t, ok)

	s, found := st.Lookup("in.progress")
	assert.True(t, found)
	assert.Equal(t, Upgrading, s)

	_, found = st.Lookup(DefaultUpgradingFile)
	assert.False(t, found)
}

func TestFileStore_RemoveIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	st := NewFileStore(dir, Layout{})
	touch(t, dir, DefaultUpgradingFile)

	require.NoError(t, ClearUpgrading(st))
	require.NoError(t, ClearUpgrading(st))

	ok, err := IsUpgrading(st)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFileStore_UnknownSentinel(t *testing.T) {
	st := NewFileStore(t.TempDir(), Layout{})

	_, err := st.Exists(Sentinel("bogus"))
	require.ErrorIs(t, err, util.ErrStateUnavailable)
	require.ErrorIs(t, st.Remove(Sentinel("bogus")), util.ErrStateUnavailable)
}

func TestFileStore_StatErrorIsNotAbsence(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("root bypasses directory permissions")
	}

	dir := t.TempDir()
	st := NewFileStore(dir, Layout{})
	require.NoError(t, os.Chmod(dir, 0o000))
	t.Cleanup(func() { _ = os.Chmod(dir, 0o755) })

	_, err := st.Exists(Upgrading)
	require.ErrorIs(t, err, util.ErrStateUnavailable)
}

func TestMemoryStore(t *testing.T) {
	st := NewMemoryStore(Succeeded)

	ok, err := IsSucceeded(st)
	require.NoError(t, err)
	assert.True(t, ok)

	st.Create(Upgrading)
	ok, err = IsUpgrading(st)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, ClearUpgrading(st))
	require.NoError(t, ClearUpgrading(st))
	ok, err = IsUpgrading(st)
	require.NoError(t, err)
	assert.False(t, ok)
}
