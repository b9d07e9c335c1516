package relocate

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/cenkalti/backoff/v5"
	"github.com/petitechose-midi-studio/ms-manager/internal/apierr"
	"github.com/petitechose-midi-studio/ms-manager/internal/layout"
	"github.com/petitechose-midi-studio/ms-manager/internal/statestore"
	"github.com/stretchr/testify/require"
)

func TestCheckNotNestedRejectsIdenticalAndNestedRoots(t *testing.T) {
	base := t.TempDir()
	require.Error(t, checkNotNested(base, base))
	require.Error(t, checkNotNested(base, filepath.Join(base, "child")))
	require.Error(t, checkNotNested(filepath.Join(base, "child"), base))
	require.NoError(t, checkNotNested(filepath.Join(base, "a"), filepath.Join(base, "b")))
}

func TestRelocateRejectsNestedRoots(t *testing.T) {
	base := t.TempDir()
	old := &layout.Layout{Root: base}
	r := New(Config{ControlPort: 1})

	_, err := r.Relocate(context.Background(), old, filepath.Join(base, "nested"))
	var apiErr *apierr.Error
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, apierr.CodePayloadRootInvalid, apiErr.Code)
}

func TestRelocateRejectsNonEmptyTarget(t *testing.T) {
	parent := t.TempDir()
	oldRoot := filepath.Join(parent, "old")
	newRoot := filepath.Join(parent, "new")
	require.NoError(t, os.MkdirAll(oldRoot, 0o755))
	require.NoError(t, os.MkdirAll(newRoot, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(newRoot, "occupied"), []byte("x"), 0o644))

	old := &layout.Layout{Root: oldRoot}
	r := New(Config{ControlPort: 1})

	_, err := r.Relocate(context.Background(), old, newRoot)
	var apiErr *apierr.Error
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, apierr.CodePayloadRootExists, apiErr.Code)
}

func TestRelocateMovesRootAndRecreatesCurrentPointer(t *testing.T) {
	parent := t.TempDir()
	oldRoot := filepath.Join(parent, "old")
	newRoot := filepath.Join(parent, "new")

	old := &layout.Layout{Root: oldRoot}
	versionDir := old.VersionDir("v1.2.3")
	require.NoError(t, os.MkdirAll(versionDir, 0o755))
	require.NoError(t, os.MkdirAll(old.StateDir(), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(versionDir, "marker.txt"), []byte("payload"), 0o644))
	require.NoError(t, statestore.SaveInstallState(old.InstallStatePath(), statestore.InstallState{
		Tag: "v1.2.3", Profile: "default",
	}))

	r := New(Config{ControlPort: 1})
	newLayout, err := r.Relocate(context.Background(), old, newRoot)
	require.NoError(t, err)
	require.Equal(t, newRoot, newLayout.Root)

	marker, err := os.ReadFile(filepath.Join(newLayout.VersionDir("v1.2.3"), "marker.txt"))
	require.NoError(t, err)
	require.Equal(t, "payload", string(marker))

	target, err := os.Readlink(newLayout.CurrentLink())
	if err == nil {
		require.Equal(t, newLayout.VersionDir("v1.2.3"), target)
	}

	settings, err := statestore.LoadSettings(newLayout.SettingsPath())
	require.NoError(t, err)
	require.Equal(t, newRoot, settings.PayloadRootOverride)

	_, err = os.Stat(oldRoot)
	require.True(t, os.IsNotExist(err))
}

func TestCopySwapCopiesSubtreesAndSwaps(t *testing.T) {
	parent := t.TempDir()
	oldRoot := filepath.Join(parent, "old")
	newRoot := filepath.Join(parent, "new")

	require.NoError(t, os.MkdirAll(filepath.Join(oldRoot, "versions", "v1"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(oldRoot, "versions", "v1", "file.bin"), []byte("abc"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(oldRoot, "cache"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(oldRoot, "cache", "blob"), []byte("xyz"), 0o644))

	require.NoError(t, copySwap(oldRoot, newRoot))

	got, err := os.ReadFile(filepath.Join(newRoot, "versions", "v1", "file.bin"))
	require.NoError(t, err)
	require.Equal(t, "abc", string(got))

	got, err = os.ReadFile(filepath.Join(newRoot, "cache", "blob"))
	require.NoError(t, err)
	require.Equal(t, "xyz", string(got))

	_, err = os.Stat(newRoot + ".staging")
	require.True(t, os.IsNotExist(err))
}

func TestFixedDelayBackOffExhausts(t *testing.T) {
	b := &fixedDelayBackOff{delays: renameRetryDelays}
	for _, want := range renameRetryDelays {
		require.Equal(t, want, b.NextBackOff())
	}
	require.Equal(t, backoff.Stop, b.NextBackOff())
}
