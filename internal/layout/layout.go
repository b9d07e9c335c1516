// Package layout implements the canonical on-disk path algebra for the
// payload root: versions, staging, current pointer, content-addressed cache,
// and persisted state. It performs no I/O beyond reading environment
// variables and $HOME at resolution time.
package layout

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/petitechose-midi-studio/ms-manager/internal/apierr"
)

const appDirName = "midi-studio"

// Layout is a resolved payload root and its derived subpaths.
type Layout struct {
	Root string
}

// Resolve computes the Layout to use, honoring override if non-empty.
// override is accepted only if absolute (after `~` expansion on non-Windows);
// a relative or malformed override is rejected with payload_root_invalid.
func Resolve(override string) (*Layout, error) {
	if override != "" {
		root, err := resolveOverride(override)
		if err != nil {
			return nil, err
		}
		return &Layout{Root: root}, nil
	}
	root, err := defaultRoot()
	if err != nil {
		return nil, err
	}
	return &Layout{Root: root}, nil
}

func resolveOverride(override string) (string, error) {
	path := override
	if runtime.GOOS != "windows" {
		if path == "~" {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", apierr.Wrap(apierr.CodePayloadRootInvalid, "cannot resolve ~", err)
			}
			path = home
		} else if strings.HasPrefix(path, "~/") {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", apierr.Wrap(apierr.CodePayloadRootInvalid, "cannot resolve ~", err)
			}
			path = filepath.Join(home, strings.TrimPrefix(path, "~/"))
		}
	}
	if !filepath.IsAbs(path) {
		return "", apierr.New(apierr.CodePayloadRootInvalid, "payload root override must be an absolute path")
	}
	return filepath.Clean(path), nil
}

func defaultRoot() (string, error) {
	switch runtime.GOOS {
	case "linux":
		if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
			return filepath.Join(xdg, appDirName), nil
		}
		home, err := os.UserHomeDir()
		if err != nil {
			return "", apierr.Wrap(apierr.CodePayloadRootInvalid, "cannot resolve $HOME", err)
		}
		return filepath.Join(home, ".local", "share", appDirName), nil
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", apierr.Wrap(apierr.CodePayloadRootInvalid, "cannot resolve $HOME", err)
		}
		return filepath.Join(home, "Library", "Application Support", "MIDI Studio"), nil
	case "windows":
		if pd := os.Getenv("PROGRAMDATA"); pd != "" {
			return filepath.Join(pd, "MIDI Studio"), nil
		}
		return "", apierr.New(apierr.CodePayloadRootInvalid, "%PROGRAMDATA% is not set")
	default:
		return "", apierr.New(apierr.CodeUnsupportedPlatform, "unsupported platform: "+runtime.GOOS)
	}
}

// VersionDir is R/versions/<tag>.
func (l *Layout) VersionDir(tag string) string {
	return filepath.Join(l.Root, "versions", tag)
}

// StagingDir is R/versions/<tag>.staging.
func (l *Layout) StagingDir(tag string) string {
	return filepath.Join(l.Root, "versions", tag+".staging")
}

// VersionsDir is R/versions.
func (l *Layout) VersionsDir() string {
	return filepath.Join(l.Root, "versions")
}

// CurrentLink is R/current.
func (l *Layout) CurrentLink() string {
	return filepath.Join(l.Root, "current")
}

// CacheDir is R/cache/assets.
func (l *Layout) CacheDir() string {
	return filepath.Join(l.Root, "cache", "assets")
}

// CacheEntryDir is R/cache/assets/<sha256>.
func (l *Layout) CacheEntryDir(sha256Hex string) string {
	return filepath.Join(l.CacheDir(), sha256Hex)
}

// CachePath is R/cache/assets/<sha256>/<filename>.
func (l *Layout) CachePath(sha256Hex, filename string) string {
	return filepath.Join(l.CacheEntryDir(sha256Hex), filename)
}

// StateDir is R/state.
func (l *Layout) StateDir() string {
	return filepath.Join(l.Root, "state")
}

// InstallStatePath is R/state/install_state.json.
func (l *Layout) InstallStatePath() string {
	return filepath.Join(l.StateDir(), "install_state.json")
}

// LegacyStatePath is R/state/state.json, migrated into InstallStatePath if
// present and the latter is absent.
func (l *Layout) LegacyStatePath() string {
	return filepath.Join(l.StateDir(), "state.json")
}

// ControllerStatePath is R/state/controller.json.
func (l *Layout) ControllerStatePath() string {
	return filepath.Join(l.StateDir(), "controller.json")
}

// SettingsPath is R/state/settings.json.
func (l *Layout) SettingsPath() string {
	return filepath.Join(l.StateDir(), "settings.json")
}

// BridgeExecutable is the expected helper executable path under a given
// installed version's bin directory (or under "current").
func (l *Layout) BridgeExecutable(versionDir string) string {
	if runtime.GOOS == "windows" {
		return filepath.Join(versionDir, "bin", "oc-bridge.exe")
	}
	return filepath.Join(versionDir, "bin", "oc-bridge")
}

// LoaderExecutable is the expected firmware loader path under a given
// installed version's bin directory (or under "current").
func (l *Layout) LoaderExecutable(versionDir string) string {
	if runtime.GOOS == "windows" {
		return filepath.Join(versionDir, "bin", "midi-studio-loader.exe")
	}
	return filepath.Join(versionDir, "bin", "midi-studio-loader")
}

// FirmwareDir is <versionDir>/firmware.
func (l *Layout) FirmwareDir(versionDir string) string {
	return filepath.Join(versionDir, "firmware")
}

// AssetRelPath returns the kind-dependent relative path (under a version
// directory) that a non-bundle asset of the given kind is placed at,
// joined with filename.
func AssetRelPath(kind, filename string) string {
	switch kind {
	case "firmware":
		return filepath.Join("firmware", filename)
	case "bitwig-extension":
		return filepath.Join("integrations", "bitwig", filename)
	default:
		return filepath.Join("assets", kind, filename)
	}
}
