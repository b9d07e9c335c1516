// Package flash drives the external firmware loader binary: selecting a
// profile-matched .hex image, pausing the bridge's serial port, streaming
// the loader's JSON-progress stdout as events, and recording the result in
// controller state. Grounded on the control package's split-timeout client
// calls and the orchestrator's best-effort, non-blocking event emission.
package flash

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/petitechose-midi-studio/ms-manager/internal/apierr"
	"github.com/petitechose-midi-studio/ms-manager/internal/bridge/control"
	"github.com/petitechose-midi-studio/ms-manager/internal/channel"
	"github.com/petitechose-midi-studio/ms-manager/internal/layout"
	"github.com/petitechose-midi-studio/ms-manager/internal/statestore"
)

const (
	pauseTimeout  = 2 * time.Second
	resumeTimeout = 600 * time.Millisecond
	waitTimeoutMS = 60000
)

// EventKind enumerates flash progress event variants.
type EventKind string

const (
	EventFlashBegin  EventKind = "flash_begin"
	EventFlashOutput EventKind = "flash_output"
	EventFlashDone   EventKind = "flash_done"
)

// Event is one point-in-time flash progress notification.
type Event struct {
	ID      string
	Kind    EventKind
	Channel channel.Channel
	Tag     string
	Profile string
	Line    string
	OK      bool
}

// TargetKind distinguishes a target running its application firmware from
// one sitting in the HalfKay bootloader mid-flash.
type TargetKind string

const (
	TargetKindSerial  TargetKind = "serial"
	TargetKindHalfKay TargetKind = "halfkay"
)

// Target is one entry reported by the loader's `list --json` contract
// (§6): {index, target_id, kind, port_name?, path?, serial_number?,
// manufacturer?, product?, vid, pid}.
type Target struct {
	Index        int        `json:"index"`
	TargetID     string     `json:"target_id"`
	Kind         TargetKind `json:"kind"`
	PortName     string     `json:"port_name,omitempty"`
	Path         string     `json:"path,omitempty"`
	SerialNumber string     `json:"serial_number,omitempty"`
	Manufacturer string     `json:"manufacturer,omitempty"`
	Product      string     `json:"product,omitempty"`
	VID          uint32     `json:"vid"`
	PID          uint32     `json:"pid"`
}

// Installed identifies what's currently live, as needed to locate the
// loader and firmware images for a flash.
type Installed struct {
	Channel channel.Channel
	Tag     string
}

// Config wires a Flasher's collaborators.
type Config struct {
	Layout           *layout.Layout
	ControlPort      int
	Events           chan<- Event
	CommandTimeoutMS int // overrides waitTimeoutMS when non-zero; for tests
}

// Flasher drives firmware flashes against the current install.
type Flasher struct {
	cfg    Config
	client *control.Client
}

// New constructs a Flasher.
func New(cfg Config) *Flasher {
	port := cfg.ControlPort
	if port == 0 {
		port = control.DefaultPort
	}
	return &Flasher{cfg: cfg, client: control.NewClient(port)}
}

func (f *Flasher) emit(ev Event) {
	if f.cfg.Events == nil {
		return
	}
	select {
	case f.cfg.Events <- ev:
	default:
	}
}

// selectFirmware enumerates <versionDir>/firmware/*.hex and returns the one
// whose filename case-insensitively contains profile. Exactly one match is
// required.
func selectFirmware(firmwareDir, profile string) (string, error) {
	entries, err := os.ReadDir(firmwareDir)
	if err != nil {
		return "", apierr.Wrap(apierr.CodeFirmwareMissing, "failed to read firmware directory", err)
	}

	needle := strings.ToLower(profile)
	var matches []string
	var available []string
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".hex") {
			continue
		}
		available = append(available, e.Name())
		if strings.Contains(strings.ToLower(e.Name()), needle) {
			matches = append(matches, e.Name())
		}
	}

	if len(matches) != 1 {
		return "", apierr.New(apierr.CodeFirmwareMissing, fmt.Sprintf("expected exactly one firmware image matching profile %q, found %d", profile, len(matches))).
			WithDetail("available", available)
	}
	return filepath.Join(firmwareDir, matches[0]), nil
}

// Flash runs the full flash pipeline for installed.tag/profile, streaming
// progress on Config.Events and persisting LastFlashed controller state on
// success.
func (f *Flasher) Flash(ctx context.Context, installed Installed, profile string) error {
	if profile == "" {
		return apierr.New(apierr.CodeInvalidProfile, "profile must not be empty")
	}

	loaderPath := f.cfg.Layout.LoaderExecutable(f.cfg.Layout.CurrentLink())
	if _, err := os.Stat(loaderPath); err != nil {
		return apierr.Wrap(apierr.CodeLoaderMissing, "loader executable not found", err)
	}

	versionDir := f.cfg.Layout.VersionDir(installed.Tag)
	firmwarePath, err := selectFirmware(f.cfg.Layout.FirmwareDir(versionDir), profile)
	if err != nil {
		return err
	}

	id := uuid.NewString()

	_, _ = f.client.Call(control.CmdPause, pauseTimeout)

	f.emit(Event{ID: id, Kind: EventFlashBegin, Channel: installed.Channel, Tag: installed.Tag, Profile: profile})

	waitMS := waitTimeoutMS
	if f.cfg.CommandTimeoutMS != 0 {
		waitMS = f.cfg.CommandTimeoutMS
	}
	args := []string{
		"flash", "--json", "--json-progress", "percent",
		"--wait", "--wait-timeout-ms", fmt.Sprintf("%d", waitMS),
		firmwarePath,
	}

	ok, runErr := f.runLoader(ctx, id, installed, profile, loaderPath, args)

	_, _ = f.client.Call(control.CmdResume, resumeTimeout)

	f.emit(Event{ID: id, Kind: EventFlashDone, Channel: installed.Channel, Tag: installed.Tag, Profile: profile, OK: ok})

	if runErr != nil {
		return runErr
	}
	if !ok {
		return apierr.New(apierr.CodeFlashFailed, "firmware loader reported failure")
	}

	return statestore.SaveControllerState(f.cfg.Layout.ControllerStatePath(), statestore.ControllerState{
		LastFlashed: &statestore.LastFlashed{
			Channel:     installed.Channel,
			Tag:         installed.Tag,
			Profile:     profile,
			FlashedAtMS: nowMS(),
		},
	})
}

// runLoader spawns the loader, streaming each non-empty stdout line as a
// FlashOutput event and collecting stderr for error context. ok reports
// whether the process exited zero.
func (f *Flasher) runLoader(ctx context.Context, id string, installed Installed, profile, loaderPath string, args []string) (ok bool, err error) {
	cmd := exec.CommandContext(ctx, loaderPath, args...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return false, apierr.Wrap(apierr.CodeIOExec, "failed to open loader stdout", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return false, apierr.Wrap(apierr.CodeIOExec, "failed to open loader stderr", err)
	}

	if err := cmd.Start(); err != nil {
		return false, apierr.Wrap(apierr.CodeIOExec, "failed to start firmware loader", err)
	}

	var stderrBuf strings.Builder
	stderrDone := make(chan struct{})
	go func() {
		defer close(stderrDone)
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			stderrBuf.WriteString(scanner.Text())
			stderrBuf.WriteByte('\n')
		}
	}()

	scanner := bufio.NewScanner(stdout)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		f.emit(Event{ID: id, Kind: EventFlashOutput, Channel: installed.Channel, Tag: installed.Tag, Profile: profile, Line: line})
	}
	<-stderrDone

	waitErr := cmd.Wait()
	if waitErr != nil {
		return false, apierr.Wrap(apierr.CodeFlashFailed, "firmware loader exited with error: "+strings.TrimSpace(stderrBuf.String()), waitErr)
	}
	return true, nil
}

// ListTargets runs the loader's `list --json` contract and returns the
// reported targets.
func ListTargets(ctx context.Context, l *layout.Layout) ([]Target, error) {
	loaderPath := l.LoaderExecutable(l.CurrentLink())
	if _, err := os.Stat(loaderPath); err != nil {
		return nil, apierr.Wrap(apierr.CodeLoaderMissing, "loader executable not found", err)
	}

	out, err := exec.CommandContext(ctx, loaderPath, "list", "--json").Output()
	if err != nil {
		return nil, apierr.Wrap(apierr.CodeIOExec, "failed to list targets", err)
	}

	var payload struct {
		Event   string   `json:"event"`
		Count   int      `json:"count"`
		Targets []Target `json:"targets"`
	}
	if err := json.Unmarshal(out, &payload); err != nil {
		return nil, apierr.Wrap(apierr.CodeJSONParseFailed, "failed to parse loader list output", err)
	}
	return payload.Targets, nil
}

func nowMS() int64 {
	return time.Now().UnixMilli()
}
