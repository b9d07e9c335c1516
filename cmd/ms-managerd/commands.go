// Subcommand wiring for ms-managerd. Each subcommand builds its deps from
// the parsed root flags, dispatches to the command.Surface, and renders the
// typed response as JSON on stdout — mirroring the teacher's device/internet
// cli commands (controlplane/telemetry/internal/data/cli) that parse flags,
// call into a provider, and print a result, but sized down to this CLI's
// single-process, single-operation-per-invocation shape.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/petitechose-midi-studio/ms-manager/internal/channel"
	"github.com/petitechose-midi-studio/ms-manager/internal/command"
	"github.com/petitechose-midi-studio/ms-manager/internal/statestore"
	"github.com/spf13/cobra"
)

// printJSON pretty-prints v to stdout. Marshal errors here would indicate a
// programmer mistake (an unserializable response type), not a user-facing
// failure, so they're fatal.
func printJSON(v any) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	fmt.Println(string(b))
}

// signalContext returns a context cancelled on SIGINT/SIGTERM, the same
// shutdown trigger mcastrelay's cmd/server/main.go uses.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func parseChannel(s string) (channel.Channel, error) {
	ch := channel.Channel(s)
	if !ch.Valid() {
		return "", fmt.Errorf("invalid channel %q (want stable, beta, or nightly)", s)
	}
	return ch, nil
}

// newRunCmd starts the bridge supervisor loop and blocks until signaled,
// the long-lived daemon mode of this binary.
func newRunCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the bridge supervisor loop until signaled",
		RunE: func(cmd *cobra.Command, args []string) error {
			deps, err := newDeps(flags)
			if err != nil {
				return err
			}
			ctx, cancel := signalContext()
			defer cancel()

			deps.log.Info("starting bridge supervisor", "payload_root", deps.layout.Root)
			if err := deps.surface.Supervisor.Run(ctx); err != nil {
				return fmt.Errorf("supervisor exited: %w", err)
			}
			return nil
		},
	}
}

// newInstallCmd drives the Install Orchestrator for a channel/profile/tag.
func newInstallCmd(flags *rootFlags) *cobra.Command {
	var (
		channelStr     string
		profile        string
		tag            string
		allowDowngrade bool
	)

	cmd := &cobra.Command{
		Use:   "install",
		Short: "Resolve, verify, and install a release",
		RunE: func(cmd *cobra.Command, args []string) error {
			ch, err := parseChannel(channelStr)
			if err != nil {
				return err
			}
			deps, err := newDeps(flags)
			if err != nil {
				return err
			}
			ctx, cancel := signalContext()
			defer cancel()

			resp := deps.surface.Install(ctx, command.InstallRequest{
				Channel:        ch,
				Profile:        profile,
				Tag:            tag,
				AllowDowngrade: allowDowngrade,
			})
			printJSON(resp)
			if resp.Error != nil {
				return fmt.Errorf("install failed: %s", resp.Error.Message)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&channelStr, "channel", string(channel.Stable), "release channel (stable, beta, nightly)")
	cmd.Flags().StringVar(&profile, "profile", "default", "install-set profile to apply")
	cmd.Flags().StringVar(&tag, "tag", "", "install a specific tag instead of the channel's latest")
	cmd.Flags().BoolVar(&allowDowngrade, "allow-downgrade", false, "permit installing a tag older than the one currently installed")

	return cmd
}

// newStatusCmd reports the persisted install state and bridge liveness.
func newStatusCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the installed version and bridge status",
		RunE: func(cmd *cobra.Command, args []string) error {
			deps, err := newDeps(flags)
			if err != nil {
				return err
			}

			installState, err := statestore.LoadInstallState(deps.layout.InstallStatePath(), deps.layout.LegacyStatePath())
			if err != nil {
				return err
			}

			printJSON(struct {
				Install statestore.InstallState      `json:"install"`
				Bridge  command.BridgeStatusResponse `json:"bridge"`
			}{
				Install: installState,
				Bridge:  deps.surface.BridgeStatus(),
			})
			return nil
		},
	}
}

// newFlashCmd drives the Flash Driver against the currently installed tag.
func newFlashCmd(flags *rootFlags) *cobra.Command {
	var profile string

	cmd := &cobra.Command{
		Use:   "flash",
		Short: "Flash firmware for a profile onto the connected device",
		RunE: func(cmd *cobra.Command, args []string) error {
			deps, err := newDeps(flags)
			if err != nil {
				return err
			}
			ctx, cancel := signalContext()
			defer cancel()

			resp := deps.surface.Flash(ctx, command.FlashRequest{Profile: profile})
			printJSON(resp)
			if resp.Error != nil {
				return fmt.Errorf("flash failed: %s", resp.Error.Message)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&profile, "profile", "", "install-set profile identifying which firmware image to flash")
	_ = cmd.MarkFlagRequired("profile")

	return cmd
}

// newListTargetsCmd enumerates devices the firmware loader can see.
func newListTargetsCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "list-targets",
		Short: "List devices visible to the firmware loader",
		RunE: func(cmd *cobra.Command, args []string) error {
			deps, err := newDeps(flags)
			if err != nil {
				return err
			}
			ctx, cancel := signalContext()
			defer cancel()

			resp := deps.surface.ListTargets(ctx)
			printJSON(resp)
			if resp.Error != nil {
				return fmt.Errorf("list-targets failed: %s", resp.Error.Message)
			}
			return nil
		},
	}
}

// newRelocateCmd moves the payload root to a new location.
func newRelocateCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "relocate <new-root>",
		Short: "Move the payload root to a new directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			deps, err := newDeps(flags)
			if err != nil {
				return err
			}
			ctx, cancel := signalContext()
			defer cancel()

			resp := deps.surface.Relocate(ctx, command.RelocateRequest{NewRoot: args[0]})
			printJSON(resp)
			if resp.Error != nil {
				return fmt.Errorf("relocate failed: %s", resp.Error.Message)
			}
			return nil
		},
	}
}

// newSettingsCmd groups the get/set subcommands for the persisted settings
// blob.
func newSettingsCmd(flags *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Get or set persisted user settings",
	}
	cmd.AddCommand(newSettingsGetCmd(flags), newSettingsSetCmd(flags))
	return cmd
}

func newSettingsGetCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "get",
		Short: "Print the persisted settings blob",
		RunE: func(cmd *cobra.Command, args []string) error {
			deps, err := newDeps(flags)
			if err != nil {
				return err
			}
			resp := deps.surface.GetSettings()
			printJSON(resp)
			if resp.Error != nil {
				return fmt.Errorf("settings get failed: %s", resp.Error.Message)
			}
			return nil
		},
	}
}

func newSettingsSetCmd(flags *rootFlags) *cobra.Command {
	var (
		channelStr string
		profile    string
		pinnedTag  string
	)

	cmd := &cobra.Command{
		Use:   "set",
		Short: "Persist a new settings blob",
		RunE: func(cmd *cobra.Command, args []string) error {
			ch, err := parseChannel(channelStr)
			if err != nil {
				return err
			}
			deps, err := newDeps(flags)
			if err != nil {
				return err
			}

			current := deps.surface.GetSettings()
			if current.Error != nil {
				return fmt.Errorf("settings set failed: %s", current.Error.Message)
			}

			next := current.Settings
			next.Channel = ch
			next.Profile = profile
			next.PinnedTag = pinnedTag

			resp := deps.surface.SetSettings(command.SetSettingsRequest{Settings: next})
			printJSON(resp)
			if resp.Error != nil {
				return fmt.Errorf("settings set failed: %s", resp.Error.Message)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&channelStr, "channel", string(channel.Stable), "release channel (stable, beta, nightly)")
	cmd.Flags().StringVar(&profile, "profile", "default", "default install-set profile")
	cmd.Flags().StringVar(&pinnedTag, "pinned-tag", "", "pin tracking to a specific tag (authorizes downgrade)")

	return cmd
}

// newSelfUpdateCheckCmd checks whether a newer ms-manager build is
// published, independent of the product release channel it manages.
func newSelfUpdateCheckCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "self-update-check",
		Short: "Check whether a newer ms-manager build is available",
		RunE: func(cmd *cobra.Command, args []string) error {
			deps, err := newDeps(flags)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			resp := deps.surface.SelfUpdateCheck(ctx, command.SelfUpdateCheckRequest{CurrentVersion: version})
			printJSON(resp)
			if resp.Error != nil {
				return fmt.Errorf("self-update-check failed: %s", resp.Error.Message)
			}
			return nil
		},
	}
}
