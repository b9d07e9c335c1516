package statestore

import (
	"errors"
	"os"

	"github.com/petitechose-midi-studio/ms-manager/internal/apierr"
	"github.com/petitechose-midi-studio/ms-manager/internal/channel"
)

// InstallStateSchema is the compiled schema version for InstallState.
// A mismatch between a persisted file's schema and this constant resets
// to defaults, reserved for future migrations.
const InstallStateSchema = 1

// ControllerStateSchema is the compiled schema version for ControllerState.
const ControllerStateSchema = 1

// SettingsSchema is the compiled schema version for Settings.
const SettingsSchema = 1

// InstallState identifies what is currently live behind the current
// pointer.
type InstallState struct {
	Schema  int             `json:"schema"`
	Channel channel.Channel `json:"channel"`
	Profile string          `json:"profile"`
	Tag     string          `json:"tag"`
}

// LastFlashed records the most recent successful firmware flash.
type LastFlashed struct {
	Channel     channel.Channel `json:"channel"`
	Tag         string          `json:"tag"`
	Profile     string          `json:"profile"`
	FlashedAtMS int64           `json:"flashed_at_ms"`
}

// ControllerState is the persisted record of the controller's flash history.
type ControllerState struct {
	Schema      int          `json:"schema"`
	LastFlashed *LastFlashed `json:"last_flashed,omitempty"`
}

// Settings is the small persisted user-preference blob.
type Settings struct {
	Schema              int             `json:"schema"`
	Channel             channel.Channel `json:"channel"`
	Profile             string          `json:"profile"`
	PinnedTag           string          `json:"pinned_tag,omitempty"`
	PayloadRootOverride string          `json:"payload_root_override,omitempty"`
}

// DefaultSettings returns the settings a fresh install starts with: the
// stable channel and the "default" profile.
func DefaultSettings() Settings {
	return Settings{Schema: SettingsSchema, Channel: channel.Stable, Profile: "default"}
}

// LoadInstallState loads install_state.json, migrating the legacy
// state.json filename in if the new name is absent, and quarantining
// corrupt files. It also resets to zero value if the persisted schema
// doesn't match InstallStateSchema.
func LoadInstallState(installPath, legacyPath string) (InstallState, error) {
	if _, err := os.Stat(installPath); errors.Is(err, os.ErrNotExist) {
		if _, err := os.Stat(legacyPath); err == nil {
			if err := os.Rename(legacyPath, installPath); err != nil {
				return InstallState{}, apierr.Wrap(apierr.CodeIORename, "failed to migrate legacy state file", err)
			}
		}
	}

	var st InstallState
	if err := LoadWithDefaults(installPath, &st); err != nil {
		return InstallState{}, err
	}
	if st.Schema != 0 && st.Schema != InstallStateSchema {
		return InstallState{}, nil
	}
	return st, nil
}

// SaveInstallState persists st (stamping the compiled schema) atomically.
func SaveInstallState(path string, st InstallState) error {
	st.Schema = InstallStateSchema
	return WriteJSONAtomic(path, st)
}

// LoadControllerState loads controller.json, quarantining corrupt files.
func LoadControllerState(path string) (ControllerState, error) {
	var st ControllerState
	if err := LoadWithDefaults(path, &st); err != nil {
		return ControllerState{}, err
	}
	if st.Schema != 0 && st.Schema != ControllerStateSchema {
		return ControllerState{}, nil
	}
	return st, nil
}

// SaveControllerState persists st (stamping the compiled schema) atomically.
func SaveControllerState(path string, st ControllerState) error {
	st.Schema = ControllerStateSchema
	return WriteJSONAtomic(path, st)
}

// LoadSettings loads settings.json, quarantining corrupt files and
// defaulting to DefaultSettings() when absent or reset.
func LoadSettings(path string) (Settings, error) {
	st := DefaultSettings()
	if err := LoadWithDefaults(path, &st); err != nil {
		return Settings{}, err
	}
	if st.Schema == 0 {
		return DefaultSettings(), nil
	}
	if st.Schema != SettingsSchema {
		return DefaultSettings(), nil
	}
	return st, nil
}

// SaveSettings persists st (stamping the compiled schema) atomically.
func SaveSettings(path string, st Settings) error {
	st.Schema = SettingsSchema
	return WriteJSONAtomic(path, st)
}
