package statestore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/petitechose-midi-studio/ms-manager/internal/channel"
	"github.com/stretchr/testify/require"
)

type sample struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func TestWriteJSONAtomicRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "sample.json")

	require.NoError(t, WriteJSONAtomic(path, sample{Name: "a", Count: 1}))

	var got sample
	ok, err := ReadJSONOptional(path, &got)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, sample{Name: "a", Count: 1}, got)

	_, err = os.Stat(path + ".tmp")
	require.True(t, os.IsNotExist(err))
}

func TestWriteJSONAtomicOverwritesExisting(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sample.json")

	require.NoError(t, WriteJSONAtomic(path, sample{Name: "old", Count: 1}))
	require.NoError(t, WriteJSONAtomic(path, sample{Name: "new", Count: 2}))

	var got sample
	ok, err := ReadJSONOptional(path, &got)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, sample{Name: "new", Count: 2}, got)
}

func TestReadJSONOptionalAbsentFile(t *testing.T) {
	dir := t.TempDir()
	var got sample
	ok, err := ReadJSONOptional(filepath.Join(dir, "missing.json"), &got)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestReadJSONOptionalMalformed(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	var got sample
	ok, err := ReadJSONOptional(path, &got)
	require.Error(t, err)
	require.True(t, ok)
}

func TestQuarantineRenamesAside(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	require.NoError(t, Quarantine(path))

	_, err := os.Stat(path)
	require.True(t, os.IsNotExist(err))
	_, err = os.Stat(path + ".corrupt.json")
	require.NoError(t, err)
}

func TestQuarantineDisambiguatesWhenTargetExists(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))
	require.NoError(t, os.WriteFile(path+".corrupt.json", []byte("previous"), 0o644))

	require.NoError(t, Quarantine(path))

	_, err := os.Stat(path)
	require.True(t, os.IsNotExist(err))
	matches, err := filepath.Glob(path + ".corrupt.*.json")
	require.NoError(t, err)
	require.Len(t, matches, 1)
}

func TestQuarantineAbsentFileIsNoop(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, Quarantine(filepath.Join(dir, "missing.json")))
}

func TestLoadWithDefaultsQuarantinesCorruptFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sample.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	var got sample
	require.NoError(t, LoadWithDefaults(path, &got))

	require.Equal(t, sample{}, got)
	_, err := os.Stat(path + ".corrupt.json")
	require.NoError(t, err)
}

func TestLoadWithDefaultsResetsPreviouslyPopulatedStruct(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sample.json")
	require.NoError(t, os.WriteFile(path, []byte("not valid json at all"), 0o644))

	got := sample{Name: "leftover", Count: 99}
	require.NoError(t, LoadWithDefaults(path, &got))

	require.Equal(t, sample{}, got)
}

func TestLoadWithDefaultsPassesThroughValidFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sample.json")
	require.NoError(t, WriteJSONAtomic(path, sample{Name: "a", Count: 7}))

	var got sample
	require.NoError(t, LoadWithDefaults(path, &got))
	require.Equal(t, sample{Name: "a", Count: 7}, got)
}

func TestLoadInstallStateMigratesLegacyFile(t *testing.T) {
	dir := t.TempDir()
	installPath := filepath.Join(dir, "install_state.json")
	legacyPath := filepath.Join(dir, "state.json")

	legacy := InstallState{Schema: InstallStateSchema, Channel: channel.Stable, Profile: "default", Tag: "v1.0.0"}
	require.NoError(t, WriteJSONAtomic(legacyPath, legacy))

	st, err := LoadInstallState(installPath, legacyPath)
	require.NoError(t, err)
	require.Equal(t, legacy, st)

	_, err = os.Stat(installPath)
	require.NoError(t, err)
	_, err = os.Stat(legacyPath)
	require.True(t, os.IsNotExist(err))
}

func TestLoadInstallStatePrefersExistingOverLegacy(t *testing.T) {
	dir := t.TempDir()
	installPath := filepath.Join(dir, "install_state.json")
	legacyPath := filepath.Join(dir, "state.json")

	current := InstallState{Schema: InstallStateSchema, Channel: channel.Beta, Profile: "default", Tag: "v2.0.0"}
	require.NoError(t, WriteJSONAtomic(installPath, current))
	require.NoError(t, WriteJSONAtomic(legacyPath, InstallState{Schema: InstallStateSchema, Channel: channel.Stable, Tag: "v1.0.0"}))

	st, err := LoadInstallState(installPath, legacyPath)
	require.NoError(t, err)
	require.Equal(t, current, st)
	_, err = os.Stat(legacyPath)
	require.NoError(t, err)
}

func TestLoadInstallStateAbsentReturnsZeroValue(t *testing.T) {
	dir := t.TempDir()
	st, err := LoadInstallState(filepath.Join(dir, "install_state.json"), filepath.Join(dir, "state.json"))
	require.NoError(t, err)
	require.Equal(t, InstallState{}, st)
}

func TestSaveAndLoadControllerState(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "controller.json")

	cs := ControllerState{LastFlashed: &LastFlashed{Channel: channel.Stable, Tag: "v1.0.0", Profile: "default", FlashedAtMS: 1234}}
	require.NoError(t, SaveControllerState(path, cs))

	got, err := LoadControllerState(path)
	require.NoError(t, err)
	require.Equal(t, ControllerStateSchema, got.Schema)
	require.Equal(t, *cs.LastFlashed, *got.LastFlashed)
}

func TestLoadSettingsDefaultsWhenAbsent(t *testing.T) {
	dir := t.TempDir()
	st, err := LoadSettings(filepath.Join(dir, "settings.json"))
	require.NoError(t, err)
	require.Equal(t, DefaultSettings(), st)
}

func TestSaveAndLoadSettingsRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "settings.json")

	s := Settings{Channel: channel.Nightly, Profile: "dev", PinnedTag: "nightly-2026-01-15", PayloadRootOverride: "/custom/root"}
	require.NoError(t, SaveSettings(path, s))

	got, err := LoadSettings(path)
	require.NoError(t, err)
	s.Schema = SettingsSchema
	require.Equal(t, s, got)
}
