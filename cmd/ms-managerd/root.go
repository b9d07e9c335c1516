package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"runtime"

	"github.com/petitechose-midi-studio/ms-manager/internal/apierr"
	"github.com/petitechose-midi-studio/ms-manager/internal/applog"
	"github.com/petitechose-midi-studio/ms-manager/internal/assetcache"
	"github.com/petitechose-midi-studio/ms-manager/internal/bridge"
	"github.com/petitechose-midi-studio/ms-manager/internal/channel"
	"github.com/petitechose-midi-studio/ms-manager/internal/command"
	"github.com/petitechose-midi-studio/ms-manager/internal/discovery"
	"github.com/petitechose-midi-studio/ms-manager/internal/flash"
	"github.com/petitechose-midi-studio/ms-manager/internal/layout"
	"github.com/petitechose-midi-studio/ms-manager/internal/orchestrator"
	"github.com/petitechose-midi-studio/ms-manager/internal/relocate"
	"github.com/spf13/cobra"
)

// productSlug and managerSlug are placeholders substituted at build time
// with the project's real repository slugs, same as channel.StablePubKeyB64
// is a placeholder for the real signing key.
const (
	productSlug = "petitechose-midi-studio/midi-studio"
	managerSlug = "petitechose-midi-studio/ms-manager"
)

// version is set by LDFLAGS at build time, mirroring mcastrelay's
// cmd/server version/commit/date pattern.
var version = "dev"

type rootFlags struct {
	verbose      bool
	payloadRoot  string
}

func newRootCmd() *cobra.Command {
	var flags rootFlags

	cmd := &cobra.Command{
		Use:   "ms-managerd",
		Short: "Update and deployment core for the MIDI Studio desktop manager.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cmd.PersistentFlags().BoolVarP(&flags.verbose, "verbose", "v", false, "enable debug logging")
	cmd.PersistentFlags().StringVar(&flags.payloadRoot, "payload-root", "", "override the payload root directory")

	cmd.AddCommand(
		newRunCmd(&flags),
		newInstallCmd(&flags),
		newStatusCmd(&flags),
		newFlashCmd(&flags),
		newListTargetsCmd(&flags),
		newRelocateCmd(&flags),
		newSettingsCmd(&flags),
		newSelfUpdateCheckCmd(&flags),
	)

	return cmd
}

// deps is every collaborator a subcommand needs, built once flags are
// parsed.
type deps struct {
	log     *slog.Logger
	layout  *layout.Layout
	surface *command.Surface
}

func newDeps(flags *rootFlags) (*deps, error) {
	log := applog.New(os.Stderr, flags.verbose)

	l, err := layout.Resolve(flags.payloadRoot)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve payload root: %w", err)
	}

	httpClient := http.DefaultClient
	cache := assetcache.New(l, httpClient)

	disc := discovery.New(discovery.Config{Slug: productSlug, HTTPClient: httpClient})

	orch, err := orchestrator.New(orchestrator.Config{
		Layout:      l,
		Cache:       cache,
		FetchLatest: fetchLatestManifest(disc, httpClient),
		FetchByTag:  fetchManifestByTag(httpClient),
		AssetURL:    assetURL,
		OS:          runtime.GOOS,
		Arch:        runtime.GOARCH,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to construct orchestrator: %w", err)
	}

	sup := bridge.New(l, bridge.WithLogger(log))
	flasher := flash.New(flash.Config{Layout: l})
	reloc := relocate.New(relocate.Config{})

	surface := &command.Surface{
		Layout:       l,
		Orchestrator: orch,
		Discoverer:   disc,
		Flasher:      flasher,
		Relocator:    reloc,
		Supervisor:   sup,
		ManagerSlug:  managerSlug,
	}

	return &deps{log: log, layout: l, surface: surface}, nil
}

// assetURL builds the fallback download URL for an asset whose manifest
// entry has no explicit url (§4.H step 4).
func assetURL(tag, filename string) string {
	return fmt.Sprintf("https://github.com/%s/releases/download/%s/%s", productSlug, tag, filename)
}

func manifestURL(tag string) string {
	return fmt.Sprintf("https://github.com/%s/releases/download/%s/manifest.json", productSlug, tag)
}

func signatureURL(tag string) string {
	return manifestURL(tag) + ".sig"
}

// stableLatestManifestURL is the §4.C/§6 shortcut that bypasses discovery
// entirely for the stable channel.
func stableLatestManifestURL() string {
	return fmt.Sprintf("https://github.com/%s/releases/latest/download/manifest.json", productSlug)
}

func stableLatestSignatureURL() string {
	return stableLatestManifestURL() + ".sig"
}

func fetchManifestByTag(client *http.Client) func(ctx context.Context, ch channel.Channel, tag string) (orchestrator.FetchResult, error) {
	return func(ctx context.Context, ch channel.Channel, tag string) (orchestrator.FetchResult, error) {
		return fetchManifestAt(ctx, client, manifestURL(tag), signatureURL(tag))
	}
}

// fetchLatestManifest resolves "latest manifest for channel". Stable takes
// the §4.C shortcut (the host's /releases/latest/download URLs) and never
// touches discovery; beta/nightly always go through the two-tier discovery
// lookup before fetching by resolved tag.
func fetchLatestManifest(disc *discovery.Discoverer, client *http.Client) func(ctx context.Context, ch channel.Channel) (orchestrator.FetchResult, error) {
	return func(ctx context.Context, ch channel.Channel) (orchestrator.FetchResult, error) {
		if ch == channel.Stable {
			res, found, err := fetchStableLatestShortcut(ctx, client)
			if err != nil {
				return orchestrator.FetchResult{}, err
			}
			if !found {
				return orchestrator.FetchResult{}, apierr.New(apierr.CodeNoReleaseAvailable, "No stable release published yet.")
			}
			return res, nil
		}

		tag, ok, err := disc.LatestTag(ctx, ch)
		if err != nil {
			return orchestrator.FetchResult{}, err
		}
		if !ok {
			return orchestrator.FetchResult{}, apierr.New(apierr.CodeNoReleaseAvailable, "no release is published on this channel")
		}
		return fetchManifestAt(ctx, client, manifestURL(tag), signatureURL(tag))
	}
}

// fetchStableLatestShortcut tries the stable "latest" download URLs
// directly. A 404 on the manifest is the documented explicit no-op (§4.C):
// it reports found=false rather than an error.
func fetchStableLatestShortcut(ctx context.Context, client *http.Client) (orchestrator.FetchResult, bool, error) {
	body, status, err := getBytesStatus(ctx, client, stableLatestManifestURL())
	if err != nil {
		return orchestrator.FetchResult{}, false, err
	}
	if status == http.StatusNotFound {
		return orchestrator.FetchResult{}, false, nil
	}
	if status < 200 || status >= 300 {
		return orchestrator.FetchResult{}, false, apierr.New(apierr.CodeHTTPStatus, fmt.Sprintf("unexpected status %d fetching %s", status, stableLatestManifestURL()))
	}

	sig, err := getBytes(ctx, client, stableLatestSignatureURL())
	if err != nil {
		return orchestrator.FetchResult{}, false, err
	}
	return orchestrator.FetchResult{Body: body, SignatureB64: string(sig)}, true, nil
}

func fetchManifestAt(ctx context.Context, client *http.Client, body, sig string) (orchestrator.FetchResult, error) {
	b, err := getBytes(ctx, client, body)
	if err != nil {
		return orchestrator.FetchResult{}, err
	}
	s, err := getBytes(ctx, client, sig)
	if err != nil {
		return orchestrator.FetchResult{}, err
	}
	return orchestrator.FetchResult{Body: b, SignatureB64: string(s)}, nil
}

// getBytesStatus is like getBytes but surfaces the HTTP status code instead
// of treating every non-2xx as fatal, so callers can special-case 404.
func getBytesStatus(ctx context.Context, client *http.Client, url string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, 0, apierr.Wrap(apierr.CodeHTTPRequestFailed, "", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, 0, apierr.Wrap(apierr.CodeHTTPRequestFailed, "", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil, resp.StatusCode, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, resp.StatusCode, apierr.New(apierr.CodeHTTPStatus, fmt.Sprintf("unexpected status %d fetching %s", resp.StatusCode, url))
	}
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, apierr.Wrap(apierr.CodeHTTPReadFailed, "", err)
	}
	return b, resp.StatusCode, nil
}

func getBytes(ctx context.Context, client *http.Client, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, apierr.Wrap(apierr.CodeHTTPRequestFailed, "", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, apierr.Wrap(apierr.CodeHTTPRequestFailed, "", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, apierr.New(apierr.CodeHTTPStatus, fmt.Sprintf("unexpected status %d fetching %s", resp.StatusCode, url))
	}
	return io.ReadAll(resp.Body)
}
