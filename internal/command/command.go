// Package command implements the typed RPC-style surface the UI frontend
// drives: one request/response struct pair per operation, with every
// error normalized to a wire-safe CommandError instead of raw Go errors.
// Grounded on the teacher's CollectorError typed-code error shape
// (controlplane/internet-latency-collector/internal/collector/errors.go),
// adapted from a free-text ErrorType to this system's closed, stable
// apierr.Code enumeration.
package command

import (
	"context"
	"errors"

	"github.com/petitechose-midi-studio/ms-manager/internal/apierr"
	"github.com/petitechose-midi-studio/ms-manager/internal/bridge"
	"github.com/petitechose-midi-studio/ms-manager/internal/channel"
	"github.com/petitechose-midi-studio/ms-manager/internal/discovery"
	"github.com/petitechose-midi-studio/ms-manager/internal/flash"
	"github.com/petitechose-midi-studio/ms-manager/internal/layout"
	"github.com/petitechose-midi-studio/ms-manager/internal/orchestrator"
	"github.com/petitechose-midi-studio/ms-manager/internal/relocate"
	"github.com/petitechose-midi-studio/ms-manager/internal/statestore"
)

// CommandError is the wire-safe shape every failed command returns instead
// of a raw Go error: a stable code, a human-readable message, and optional
// structured details.
type CommandError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

func (e *CommandError) Error() string {
	return e.Message
}

// FromError normalizes err into a *CommandError. Non-apierr errors are
// mapped to a generic "internal_error" code so the command surface never
// leaks an unstructured error string as if it were stable.
func FromError(err error) *CommandError {
	if err == nil {
		return nil
	}
	var apiErr *apierr.Error
	if errors.As(err, &apiErr) {
		return &CommandError{Code: string(apiErr.Code), Message: apiErr.Message, Details: apiErr.Details}
	}
	return &CommandError{Code: "internal_error", Message: err.Error()}
}

// AutostartProbe mirrors the opaque install/uninstall/is_installed shape
// spec.md treats as out-of-scope external collaborators (OS autostart
// registration, the manager self-updater). The command surface types a
// response for these operations without owning an implementation.
type AutostartProbe interface {
	Install(ctx context.Context) error
	Uninstall(ctx context.Context) error
	IsInstalled(ctx context.Context) (bool, error)
}

// Surface wires every component the command layer dispatches to.
type Surface struct {
	Layout       *layout.Layout
	Orchestrator *orchestrator.Orchestrator
	Discoverer   *discovery.Discoverer
	Flasher      *flash.Flasher
	Relocator    *relocate.Relocator
	Supervisor   *bridge.Supervisor
	Autostart    AutostartProbe
	ManagerSlug  string
}

// InstallRequest drives the Install Orchestrator.
type InstallRequest struct {
	Channel        channel.Channel
	Profile        string
	Tag            string // empty means "latest"
	AllowDowngrade bool
}

// InstallResponse is returned once Install completes (or fails).
type InstallResponse struct {
	OK    bool
	Error *CommandError
}

// Install runs the full install pipeline and normalizes its result.
func (s *Surface) Install(ctx context.Context, req InstallRequest) InstallResponse {
	err := s.Orchestrator.Install(ctx, req.Channel, req.Profile, req.Tag, req.AllowDowngrade)
	if err != nil {
		return InstallResponse{Error: FromError(err)}
	}
	return InstallResponse{OK: true}
}

// LatestTagRequest asks discovery for the newest tag on a channel.
type LatestTagRequest struct {
	Channel channel.Channel
}

// LatestTagResponse reports the resolved tag, if any.
type LatestTagResponse struct {
	Tag       string
	Available bool
	Error     *CommandError
}

// LatestTag resolves the newest published tag for req.Channel.
func (s *Surface) LatestTag(ctx context.Context, req LatestTagRequest) LatestTagResponse {
	tag, ok, err := s.Discoverer.LatestTag(ctx, req.Channel)
	if err != nil {
		return LatestTagResponse{Error: FromError(err)}
	}
	return LatestTagResponse{Tag: tag, Available: ok}
}

// SelfUpdateCheckRequest asks whether a newer ms-manager release exists.
type SelfUpdateCheckRequest struct {
	CurrentVersion string
}

// SelfUpdateCheckResponse reports the self-update check outcome.
type SelfUpdateCheckResponse struct {
	Result discovery.SelfUpdateResult
	Error  *CommandError
}

// SelfUpdateCheck checks for a newer release of the manager application
// itself, distinct from the MIDI Studio release channel it manages.
func (s *Surface) SelfUpdateCheck(ctx context.Context, req SelfUpdateCheckRequest) SelfUpdateCheckResponse {
	res, err := s.Discoverer.CheckSelfUpdate(ctx, s.ManagerSlug, req.CurrentVersion)
	if err != nil {
		return SelfUpdateCheckResponse{Error: FromError(err)}
	}
	return SelfUpdateCheckResponse{Result: res}
}

// FlashRequest drives the Flash Driver for a chosen profile against the
// currently installed tag.
type FlashRequest struct {
	Profile string
}

// FlashResponse is returned once the flash sequence completes (or fails).
type FlashResponse struct {
	OK    bool
	Error *CommandError
}

// Flash flashes firmware for req.Profile onto the device, using the
// currently installed tag/channel from persisted install state.
func (s *Surface) Flash(ctx context.Context, req FlashRequest) FlashResponse {
	installState, err := statestore.LoadInstallState(s.Layout.InstallStatePath(), s.Layout.LegacyStatePath())
	if err != nil {
		return FlashResponse{Error: FromError(err)}
	}
	if installState.Tag == "" {
		return FlashResponse{Error: FromError(apierr.New(apierr.CodeNotInstalled, "no version is currently installed"))}
	}

	err = s.Flasher.Flash(ctx, flash.Installed{Channel: installState.Channel, Tag: installState.Tag}, req.Profile)
	if err != nil {
		return FlashResponse{Error: FromError(err)}
	}
	return FlashResponse{OK: true}
}

// ListTargetsResponse reports the loader's enumerated flash targets.
type ListTargetsResponse struct {
	Targets []flash.Target
	Error   *CommandError
}

// ListTargets enumerates devices the firmware loader can see.
func (s *Surface) ListTargets(ctx context.Context) ListTargetsResponse {
	targets, err := flash.ListTargets(ctx, s.Layout)
	if err != nil {
		return ListTargetsResponse{Error: FromError(err)}
	}
	return ListTargetsResponse{Targets: targets}
}

// RelocateRequest drives Payload Relocation to a new root directory.
type RelocateRequest struct {
	NewRoot string
}

// RelocateResponse reports the new root on success.
type RelocateResponse struct {
	NewRoot string
	Error   *CommandError
}

// Relocate moves the payload root to req.NewRoot and repoints Layout at it.
func (s *Surface) Relocate(ctx context.Context, req RelocateRequest) RelocateResponse {
	newLayout, err := s.Relocator.Relocate(ctx, s.Layout, req.NewRoot)
	if err != nil {
		return RelocateResponse{Error: FromError(err)}
	}
	s.Layout = newLayout
	return RelocateResponse{NewRoot: newLayout.Root}
}

// BridgeStatusResponse reports the bridge supervisor's current view of the
// helper process.
type BridgeStatusResponse struct {
	Status bridge.Status
}

// BridgeStatus reports the bridge's current liveness and reported state.
func (s *Surface) BridgeStatus() BridgeStatusResponse {
	return BridgeStatusResponse{Status: s.Supervisor.Status()}
}

// SettingsResponse wraps persisted Settings with error normalization.
type SettingsResponse struct {
	Settings statestore.Settings
	Error    *CommandError
}

// GetSettings loads the persisted settings blob.
func (s *Surface) GetSettings() SettingsResponse {
	st, err := statestore.LoadSettings(s.Layout.SettingsPath())
	if err != nil {
		return SettingsResponse{Error: FromError(err)}
	}
	return SettingsResponse{Settings: st}
}

// SetSettingsRequest persists a new settings blob verbatim.
type SetSettingsRequest struct {
	Settings statestore.Settings
}

// SetSettings persists req.Settings.
func (s *Surface) SetSettings(req SetSettingsRequest) SettingsResponse {
	if err := statestore.SaveSettings(s.Layout.SettingsPath(), req.Settings); err != nil {
		return SettingsResponse{Error: FromError(err)}
	}
	return SettingsResponse{Settings: req.Settings}
}

// AutostartProbeResponse reports the outcome of an autostart probe
// operation, routed through the out-of-scope AutostartProbe collaborator.
type AutostartProbeResponse struct {
	Installed bool
	Error     *CommandError
}

// AutostartInstall installs the OS autostart entry via the configured probe.
func (s *Surface) AutostartInstall(ctx context.Context) AutostartProbeResponse {
	if s.Autostart == nil {
		return AutostartProbeResponse{Error: FromError(apierr.New(apierr.CodeUnsupportedPlatform, "no autostart probe configured"))}
	}
	if err := s.Autostart.Install(ctx); err != nil {
		return AutostartProbeResponse{Error: FromError(err)}
	}
	return AutostartProbeResponse{Installed: true}
}

// AutostartUninstall removes the OS autostart entry via the configured probe.
func (s *Surface) AutostartUninstall(ctx context.Context) AutostartProbeResponse {
	if s.Autostart == nil {
		return AutostartProbeResponse{Error: FromError(apierr.New(apierr.CodeUnsupportedPlatform, "no autostart probe configured"))}
	}
	if err := s.Autostart.Uninstall(ctx); err != nil {
		return AutostartProbeResponse{Error: FromError(err)}
	}
	return AutostartProbeResponse{Installed: false}
}

// AutostartIsInstalled reports whether the OS autostart entry is present.
func (s *Surface) AutostartIsInstalled(ctx context.Context) AutostartProbeResponse {
	if s.Autostart == nil {
		return AutostartProbeResponse{Error: FromError(apierr.New(apierr.CodeUnsupportedPlatform, "no autostart probe configured"))}
	}
	installed, err := s.Autostart.IsInstalled(ctx)
	if err != nil {
		return AutostartProbeResponse{Error: FromError(err)}
	}
	return AutostartProbeResponse{Installed: installed}
}
