// Package orchestrator implements the install pipeline: resolve a manifest,
// verify it, compute an asset plan, enforce anti-rollback, materialize
// assets, apply them, and persist the result — publishing progress on a
// best-effort event channel throughout. Grounded on the teacher's
// Submitter/Config shape (a struct of func-injected collaborators driving a
// strictly sequential per-tick pipeline), generalized from a periodic retry
// loop to a one-shot sequential install.
package orchestrator

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/petitechose-midi-studio/ms-manager/internal/apierr"
	"github.com/petitechose-midi-studio/ms-manager/internal/assetcache"
	"github.com/petitechose-midi-studio/ms-manager/internal/channel"
	"github.com/petitechose-midi-studio/ms-manager/internal/installer"
	"github.com/petitechose-midi-studio/ms-manager/internal/layout"
	"github.com/petitechose-midi-studio/ms-manager/internal/manifest"
	"github.com/petitechose-midi-studio/ms-manager/internal/statestore"
)

// EventKind enumerates the install progress event variants.
type EventKind string

const (
	EventBegin       EventKind = "begin"
	EventDownloading EventKind = "downloading"
	EventApplying    EventKind = "applying"
	EventDone        EventKind = "done"
)

// Event is one point-in-time progress notification. Delivery on Config.Events
// is best-effort; a full or nil channel silently drops the event.
type Event struct {
	ID      string
	Kind    EventKind
	Channel channel.Channel
	Tag     string
	Profile string
	Index   int
	Total   int
	Step    string
}

// FetchResult is a retrieved, not-yet-verified manifest with its raw bytes
// and detached signature, as returned by Config.FetchLatest or
// Config.FetchByTag.
type FetchResult struct {
	Body         []byte
	SignatureB64 string
}

// Config wires an Orchestrator's collaborators. FetchLatest and FetchByTag
// are the two manifest sources described in §4.C/§4.H; exactly one is called
// per Install, depending on whether tag is given.
type Config struct {
	Layout      *layout.Layout
	Cache       *assetcache.Cache
	FetchLatest func(ctx context.Context, ch channel.Channel) (FetchResult, error)
	FetchByTag  func(ctx context.Context, ch channel.Channel, tag string) (FetchResult, error)
	AssetURL    func(tag, filename string) string
	OS          string
	Arch        string
	Events      chan<- Event

	// PubKeyFor resolves a channel's pinned verification key. Defaults to
	// channel.PubKeyFor; overridable in tests that sign manifests with a
	// generated keypair instead of the real compiled-in keys.
	PubKeyFor func(channel.KeyID) (string, bool)
}

// Orchestrator drives the install pipeline.
type Orchestrator struct {
	cfg Config
}

// New constructs an Orchestrator. FetchLatest, FetchByTag, and AssetURL are
// required.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.FetchLatest == nil || cfg.FetchByTag == nil {
		return nil, fmt.Errorf("orchestrator: FetchLatest and FetchByTag are required")
	}
	if cfg.AssetURL == nil {
		return nil, fmt.Errorf("orchestrator: AssetURL is required")
	}
	if cfg.PubKeyFor == nil {
		cfg.PubKeyFor = channel.PubKeyFor
	}
	return &Orchestrator{cfg: cfg}, nil
}

func (o *Orchestrator) emit(ev Event) {
	if o.cfg.Events == nil {
		return
	}
	select {
	case o.cfg.Events <- ev:
	default:
	}
}

// Install runs the full pipeline for the given channel and install-set
// profile. tag pins to a specific release (empty means "latest").
// allowDowngrade, when true (typically because the user pinned a tag),
// bypasses the anti-rollback check.
func (o *Orchestrator) Install(ctx context.Context, ch channel.Channel, profile, tag string, allowDowngrade bool) error {
	id := uuid.NewString()
	o.emit(Event{ID: id, Kind: EventBegin, Channel: ch, Tag: tag, Profile: profile})

	m, err := o.fetchManifest(ctx, ch, tag)
	if err != nil {
		return err
	}
	if err := m.CheckChannel(ch); err != nil {
		return err
	}
	if tag != "" {
		if err := m.CheckTag(tag); err != nil {
			return err
		}
	}

	set, ok := m.InstallSetByID(profile)
	if !ok || (set.OS != "" && set.OS != o.cfg.OS) || (set.Arch != "" && set.Arch != o.cfg.Arch) {
		return apierr.New(apierr.CodeNoMatchingInstallSet, "no install set matches profile "+profile+" for this platform")
	}

	plan := make([]installer.CachedAsset, 0, len(set.Assets))
	assetPlans := make([]assetPlan, 0, len(set.Assets))
	for _, assetID := range set.Assets {
		a, ok := m.AssetByID(assetID)
		if !ok {
			return apierr.New(apierr.CodeManifestInvalidInstallSet, "install set references unknown asset id: "+assetID)
		}
		url := a.URL
		if url == "" {
			url = o.cfg.AssetURL(m.Tag, a.Filename)
		}
		assetPlans = append(assetPlans, assetPlan{kind: a.Kind, filename: a.Filename, sha256: a.SHA256, size: a.Size, url: url})
	}

	if err := o.checkAntiRollback(ch, m.Tag, allowDowngrade); err != nil {
		return err
	}

	for i, ap := range assetPlans {
		o.emit(Event{ID: id, Kind: EventDownloading, Channel: ch, Tag: m.Tag, Profile: profile, Index: i + 1, Total: len(assetPlans)})
		localPath, err := o.cfg.Cache.EnsureCached(assetcache.Asset{Filename: ap.filename, SHA256: ap.sha256, Size: ap.size, URL: ap.url})
		if err != nil {
			return err
		}
		plan = append(plan, installer.CachedAsset{Kind: ap.kind, Filename: ap.filename, LocalPath: localPath})
	}

	o.emit(Event{ID: id, Kind: EventApplying, Channel: ch, Tag: m.Tag, Profile: profile, Step: "extract_and_stage"})
	if err := installer.ApplyInstall(o.cfg.Layout, installer.Plan{Tag: m.Tag, Assets: plan}); err != nil {
		return err
	}

	if err := statestore.SaveInstallState(o.cfg.Layout.InstallStatePath(), statestore.InstallState{
		Channel: ch, Profile: profile, Tag: m.Tag,
	}); err != nil {
		return err
	}

	o.emit(Event{ID: id, Kind: EventDone, Channel: ch, Tag: m.Tag, Profile: profile})
	return nil
}

type assetPlan struct {
	kind, filename, sha256, url string
	size                        uint64
}

func (o *Orchestrator) fetchManifest(ctx context.Context, ch channel.Channel, tag string) (*manifest.Manifest, error) {
	var res FetchResult
	var err error
	if tag == "" {
		res, err = o.cfg.FetchLatest(ctx, ch)
	} else {
		res, err = o.cfg.FetchByTag(ctx, ch, tag)
	}
	if err != nil {
		return nil, err
	}

	m, err := manifest.Parse(res.Body)
	if err != nil {
		return nil, err
	}

	keyID, err := ch.KeyFor()
	if err != nil {
		return nil, err
	}
	pubKeyB64, ok := o.cfg.PubKeyFor(keyID)
	if !ok {
		return nil, apierr.New(apierr.CodePublicKeyInvalid, "no pinned key for "+string(keyID))
	}
	if err := manifest.VerifySignature(res.Body, res.SignatureB64, pubKeyB64); err != nil {
		return nil, err
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// checkAntiRollback refuses tag if it is strictly older, under ch's
// ordering, than whatever is currently installed on the same channel —
// unless allowDowngrade is set (the caller pinned a specific tag).
func (o *Orchestrator) checkAntiRollback(ch channel.Channel, tag string, allowDowngrade bool) error {
	if allowDowngrade {
		return nil
	}
	installed, err := statestore.LoadInstallState(o.cfg.Layout.InstallStatePath(), o.cfg.Layout.LegacyStatePath())
	if err != nil {
		return err
	}
	if installed.Tag == "" || installed.Channel != ch {
		return nil
	}
	ordering, ok := channel.Compare(ch, tag, installed.Tag)
	if !ok {
		return nil
	}
	if ordering == channel.Less {
		return apierr.New(apierr.CodeDowngradeRefused, fmt.Sprintf("refusing to install %s over already-installed %s", tag, installed.Tag))
	}
	return nil
}
