// Package relocate implements moving the payload root to a new directory:
// stopping the bridge, an atomic rename with a bounded retry ladder for
// access-denied errors, a cross-device copy-swap fallback, and recreation
// of the current pointer and persisted settings under the new root.
// Grounded on the discovery package's backoff.Retry idiom (generalized here
// to a fixed delay ladder instead of exponential backoff) and the
// container-test runner's filepath.Walk recursive-copy idiom.
package relocate

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/petitechose-midi-studio/ms-manager/internal/apierr"
	"github.com/petitechose-midi-studio/ms-manager/internal/bridge/control"
	"github.com/petitechose-midi-studio/ms-manager/internal/installer"
	"github.com/petitechose-midi-studio/ms-manager/internal/layout"
	"github.com/petitechose-midi-studio/ms-manager/internal/statestore"
)

// renameRetryDelays is the fixed backoff ladder for access-denied rename
// failures (§4.L step 4).
var renameRetryDelays = []time.Duration{
	50 * time.Millisecond,
	150 * time.Millisecond,
	400 * time.Millisecond,
	900 * time.Millisecond,
}

const shutdownTimeout = 2 * time.Second

// subtrees are the payload-root directories copy-swapped across devices.
var subtrees = []string{"versions", "cache", "state"}

// Config wires a Relocator's collaborators.
type Config struct {
	ControlPort int
}

// Relocator moves a payload root from one location to another.
type Relocator struct {
	cfg    Config
	client *control.Client
}

// New constructs a Relocator.
func New(cfg Config) *Relocator {
	port := cfg.ControlPort
	if port == 0 {
		port = control.DefaultPort
	}
	return &Relocator{cfg: cfg, client: control.NewClient(port)}
}

// Relocate moves old's payload root to newRoot, recreates the current
// pointer from the reloaded install state, persists the new root as the
// settings override, and returns the Layout rooted at newRoot.
func (r *Relocator) Relocate(ctx context.Context, old *layout.Layout, newRoot string) (*layout.Layout, error) {
	if err := checkNotNested(old.Root, newRoot); err != nil {
		return nil, err
	}

	r.stopBridge(ctx)

	if err := prepareTarget(newRoot); err != nil {
		return nil, err
	}

	if err := r.moveRoot(ctx, old.Root, newRoot); err != nil {
		return nil, err
	}

	newLayout := &layout.Layout{Root: newRoot}

	installState, err := statestore.LoadInstallState(newLayout.InstallStatePath(), newLayout.LegacyStatePath())
	if err != nil {
		return nil, err
	}
	if installState.Tag != "" {
		if err := installer.SetCurrent(newLayout, installState.Tag); err != nil {
			return nil, err
		}
	}

	cleanupOldRoot(old.Root)

	settings, err := statestore.LoadSettings(newLayout.SettingsPath())
	if err != nil {
		return nil, err
	}
	settings.PayloadRootOverride = newRoot
	if err := statestore.SaveSettings(newLayout.SettingsPath(), settings); err != nil {
		return nil, err
	}

	return newLayout, nil
}

// checkNotNested rejects a relocation where either root is nested inside
// the other.
func checkNotNested(oldRoot, newRoot string) error {
	oldAbs, err1 := filepath.Abs(oldRoot)
	newAbs, err2 := filepath.Abs(newRoot)
	if err1 != nil || err2 != nil {
		return apierr.New(apierr.CodePayloadRootInvalid, "failed to resolve absolute paths for relocation")
	}
	if oldAbs == newAbs || isNestedUnder(oldAbs, newAbs) || isNestedUnder(newAbs, oldAbs) {
		return apierr.New(apierr.CodePayloadRootInvalid, "new payload root must not be nested inside the current one, or vice versa")
	}
	return nil
}

func isNestedUnder(child, parent string) bool {
	rel, err := filepath.Rel(parent, child)
	if err != nil {
		return false
	}
	return rel != "." && !strings.HasPrefix(rel, "..")
}

// stopBridge sends shutdown, then force-kills any remaining oc-bridge
// process via the platform tool. Both steps are best-effort.
func (r *Relocator) stopBridge(ctx context.Context) {
	_, _ = r.client.Call(control.CmdShutdown, shutdownTimeout)
	_ = forceKillBridge(ctx)
}

func forceKillBridge(ctx context.Context) error {
	var cmd *exec.Cmd
	if runtime.GOOS == "windows" {
		cmd = exec.CommandContext(ctx, "taskkill", "/IM", "oc-bridge.exe", "/T", "/F")
	} else {
		cmd = exec.CommandContext(ctx, "pkill", "-x", "oc-bridge")
	}
	err := cmd.Run()
	if err == nil {
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		successCode := 1
		if runtime.GOOS == "windows" {
			successCode = 128
		}
		if exitErr.ExitCode() == successCode {
			return nil
		}
	}
	return err
}

// prepareTarget ensures newRoot is ready to be the destination of a rename:
// if it already exists it must be empty (and is removed so rename can
// recreate it); otherwise its parent must exist.
func prepareTarget(newRoot string) error {
	entries, err := os.ReadDir(newRoot)
	if err == nil {
		if len(entries) > 0 {
			return apierr.New(apierr.CodePayloadRootExists, "target payload root already exists and is not empty")
		}
		if err := os.Remove(newRoot); err != nil {
			return apierr.Wrap(apierr.CodeIORemove, "failed to remove empty target directory", err)
		}
		return nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return apierr.Wrap(apierr.CodeIORead, "failed to stat target payload root", err)
	}
	if err := os.MkdirAll(filepath.Dir(newRoot), 0o755); err != nil {
		return apierr.Wrap(apierr.CodeIOMkdir, "failed to create target parent directory", err)
	}
	return nil
}

// moveRoot tries a fast rename with a bounded retry ladder for
// access-denied failures, falling back to a copy-swap on cross-device or
// persistent access-denied errors.
func (r *Relocator) moveRoot(ctx context.Context, oldRoot, newRoot string) error {
	err := renameWithRetry(ctx, oldRoot, newRoot)
	if err == nil {
		return nil
	}
	if !isCrossDevice(err) && !isAccessDenied(err) {
		return apierr.Wrap(apierr.CodePayloadRootMoveFailed, "failed to move payload root", err)
	}
	return copySwap(oldRoot, newRoot)
}

type fixedDelayBackOff struct {
	delays []time.Duration
	n      int
}

func (b *fixedDelayBackOff) NextBackOff() time.Duration {
	if b.n >= len(b.delays) {
		return backoff.Stop
	}
	d := b.delays[b.n]
	b.n++
	return d
}

func renameWithRetry(ctx context.Context, oldRoot, newRoot string) error {
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		err := os.Rename(oldRoot, newRoot)
		if err == nil {
			return struct{}{}, nil
		}
		if isAccessDenied(err) {
			return struct{}{}, err
		}
		return struct{}{}, backoff.Permanent(err)
	}, backoff.WithBackOff(&fixedDelayBackOff{delays: renameRetryDelays}))
	return err
}

func isCrossDevice(err error) bool {
	var linkErr *os.LinkError
	if errors.As(err, &linkErr) {
		return errors.Is(linkErr.Err, syscallEXDEV())
	}
	return false
}

func isAccessDenied(err error) bool {
	return errors.Is(err, os.ErrPermission)
}

// copySwap creates <newRoot>.staging, recursively copies the `versions`,
// `cache`, and `state` subtrees of oldRoot into it, then atomically renames
// staging to newRoot.
func copySwap(oldRoot, newRoot string) error {
	staging := newRoot + ".staging"
	if err := os.RemoveAll(staging); err != nil {
		return apierr.Wrap(apierr.CodeIORemove, "failed to clear staging directory", err)
	}
	if err := os.MkdirAll(staging, 0o755); err != nil {
		return apierr.Wrap(apierr.CodeIOMkdir, "failed to create staging directory", err)
	}

	for _, sub := range subtrees {
		src := filepath.Join(oldRoot, sub)
		if _, err := os.Stat(src); errors.Is(err, os.ErrNotExist) {
			continue
		}
		dst := filepath.Join(staging, sub)
		if err := copyTree(src, dst); err != nil {
			_ = os.RemoveAll(staging)
			return err
		}
	}

	if err := os.Rename(staging, newRoot); err != nil {
		_ = os.RemoveAll(staging)
		return apierr.Wrap(apierr.CodePayloadRootMoveFailed, "failed to finalize copy-swap", err)
	}
	return nil
}

func copyTree(src, dst string) error {
	return filepath.Walk(src, func(path string, info fs.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)

		if info.IsDir() {
			return os.MkdirAll(target, info.Mode().Perm())
		}
		if info.Mode()&os.ModeSymlink != 0 {
			linkTarget, err := os.Readlink(path)
			if err != nil {
				return err
			}
			return os.Symlink(linkTarget, target)
		}
		return copyFile(path, target, info.Mode().Perm())
	})
}

func copyFile(src, dst string, perm os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return apierr.Wrap(apierr.CodeIORead, "failed to open source file during copy-swap", err)
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return apierr.Wrap(apierr.CodeIOMkdir, "failed to create destination directory during copy-swap", err)
	}
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return apierr.Wrap(apierr.CodeIOWrite, "failed to create destination file during copy-swap", err)
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return apierr.Wrap(apierr.CodeIOCopy, "failed to copy file during copy-swap", err)
	}
	return nil
}

// cleanupOldRoot best-effort removes the old root's known subtrees and
// then the (now hopefully empty) root itself.
func cleanupOldRoot(oldRoot string) {
	for _, sub := range subtrees {
		_ = os.RemoveAll(filepath.Join(oldRoot, sub))
	}
	_ = os.Remove(oldRoot)
}
