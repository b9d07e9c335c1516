// Package bridge implements the supervisor that keeps the oc-bridge helper
// process alive, health-checked over the control protocol, reconciling
// stale instances left over from a previous payload layout. Grounded on the
// netlink manager's functional-options constructor and its cooperative,
// single-outstanding-action StartReconciler loop — generalized here from
// on-chain state reconciliation to health-check-and-respawn.
package bridge

import (
	"context"
	"log/slog"
	"os"
	"runtime"
	"strconv"
	"sync"
	"time"

	"github.com/petitechose-midi-studio/ms-manager/internal/bridge/control"
	"github.com/petitechose-midi-studio/ms-manager/internal/layout"
	"github.com/petitechose-midi-studio/ms-manager/internal/procutil"
)

const (
	defaultControlPort      = control.DefaultPort
	defaultLogBroadcastPort = 9999

	noBundleSleep    = 3 * time.Second
	iterationSleep   = 2 * time.Second
	healthPingTO     = 150 * time.Millisecond
	readinessTimeout = 4 * time.Second
	readinessCadence = 140 * time.Millisecond
)

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithControlPort overrides the bridge control port (default 7999).
func WithControlPort(port int) Option {
	return func(s *Supervisor) { s.controlPort = port }
}

// WithLogBroadcastPort overrides the bridge's log broadcast port (default 9999).
func WithLogBroadcastPort(port int) Option {
	return func(s *Supervisor) { s.logBroadcastPort = port }
}

// WithLogger sets the supervisor's logger.
func WithLogger(log *slog.Logger) Option {
	return func(s *Supervisor) { s.log = log }
}

// WithLegacyAutostartCleanup sets the once-per-process-lifetime cleanup
// hook that removes pre-existing OS auto-launch entries for the helper.
// The default is a no-op.
func WithLegacyAutostartCleanup(f func()) Option {
	return func(s *Supervisor) { s.legacyCleanupFunc = f }
}

// Supervisor keeps the bridge helper process alive.
type Supervisor struct {
	layout           *layout.Layout
	controlPort      int
	logBroadcastPort int
	client           *control.Client
	log              *slog.Logger

	legacyCleanupOnce sync.Once
	legacyCleanupFunc func()

	sleep     func(time.Duration)
	spawnFunc func(bin string)
}

// New constructs a Supervisor for l's current layout.
func New(l *layout.Layout, opts ...Option) *Supervisor {
	s := &Supervisor{
		layout:            l,
		controlPort:       defaultControlPort,
		logBroadcastPort:  defaultLogBroadcastPort,
		log:               slog.Default(),
		legacyCleanupFunc: func() {},
		sleep:             time.Sleep,
	}
	s.spawnFunc = s.defaultSpawn
	for _, o := range opts {
		o(s)
	}
	s.client = control.NewClient(s.controlPort)
	return s
}

// Run executes the reconcile loop until ctx is cancelled.
func (s *Supervisor) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}
		s.reconcileOnce(ctx)
	}
}

// reconcileOnce performs one iteration of the eight-step loop described in
// the supervisor's design, sleeping at the end (or early exit points) per
// step, so Run is just "call this until cancelled".
func (s *Supervisor) reconcileOnce(ctx context.Context) {
	bin := s.layout.BridgeExecutable(s.layout.CurrentLink())

	if _, err := os.Stat(bin); err != nil {
		s.sleep(noBundleSleep)
		return
	}

	s.legacyCleanupOnce.Do(s.legacyCleanupFunc)

	if s.client.Ping(healthPingTO) {
		s.sleep(iterationSleep)
		return
	}

	s.spawnFunc(bin)
	if s.waitForReady(ctx) {
		s.sleep(iterationSleep)
		return
	}

	killed, err := procutil.KillMatching(ctx, bin, bridgeProcessName(), "--daemon")
	if err != nil {
		s.log.Warn("supervisor: failed to kill stale bridge instances", "error", err)
	} else if killed > 0 {
		s.log.Info("supervisor: killed stale bridge instances", "count", killed)
	}

	s.spawnFunc(bin)
	s.waitForReady(ctx)
	s.sleep(iterationSleep)
}

func (s *Supervisor) defaultSpawn(bin string) {
	args := []string{
		"--daemon",
		"--daemon-control-port", strconv.Itoa(s.controlPort),
		"--daemon-log-broadcast-port", strconv.Itoa(s.logBroadcastPort),
	}
	if _, err := procutil.SpawnDetached(bin, args); err != nil {
		s.log.Error("supervisor: failed to spawn bridge", "error", err)
	}
}

func bridgeProcessName() string {
	if runtime.GOOS == "windows" {
		return "oc-bridge.exe"
	}
	return "oc-bridge"
}

func (s *Supervisor) waitForReady(ctx context.Context) bool {
	deadline := time.Now().Add(readinessTimeout)
	for time.Now().Before(deadline) {
		if s.client.Ping(healthPingTO) {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		default:
		}
		s.sleep(readinessCadence)
	}
	return s.client.Ping(healthPingTO)
}

const statusCallTimeout = 500 * time.Millisecond

// Status is a richer bridge-liveness projection than a raw ping: one status
// call, whose ok flag stands for liveness, plus whatever the helper reports
// in that reply. No separate ping is sent.
type Status struct {
	Alive      bool
	Paused     bool
	SerialOpen bool
	Version    string
}

// Status queries the bridge's current liveness and reported state.
func (s *Supervisor) Status() Status {
	resp, err := s.client.Call(control.CmdStatus, statusCallTimeout)
	if err != nil || !resp.OK {
		return Status{}
	}
	st := Status{Alive: true, Version: resp.Version}
	if resp.Paused != nil {
		st.Paused = *resp.Paused
	}
	if resp.SerialOpen != nil {
		st.SerialOpen = *resp.SerialOpen
	}
	return st
}
