// Package manifest parses signed release manifests and verifies their
// Ed25519 signatures against the pinned per-channel keys.
package manifest

import (
	"encoding/json"
	"fmt"

	"github.com/petitechose-midi-studio/ms-manager/internal/apierr"
	"github.com/petitechose-midi-studio/ms-manager/internal/channel"
)

// SupportedSchema is the only manifest schema version this build accepts.
const SupportedSchema = 2

// Repo is a source repository pinned by the release.
type Repo struct {
	ID  string `json:"id"`
	URL string `json:"url"`
	SHA string `json:"sha"`
}

// Asset describes one downloadable artifact of a release.
type Asset struct {
	ID       string `json:"id"`
	Kind     string `json:"kind"`
	OS       string `json:"os,omitempty"`
	Arch     string `json:"arch,omitempty"`
	Filename string `json:"filename"`
	Size     uint64 `json:"size"`
	SHA256   string `json:"sha256"`
	URL      string `json:"url,omitempty"`
}

// InstallSet is a named subset of assets selected by (os, arch).
type InstallSet struct {
	ID     string   `json:"id"`
	OS     string   `json:"os,omitempty"`
	Arch   string   `json:"arch,omitempty"`
	Assets []string `json:"assets"`
}

// Pages carries optional marketing/demo metadata, unused by the core.
type Pages struct {
	DemoURL string `json:"demo_url,omitempty"`
}

// Manifest is the signed description of one release.
type Manifest struct {
	Schema       int              `json:"schema"`
	Channel      channel.Channel  `json:"channel"`
	Tag          string           `json:"tag"`
	PublishedAt  string           `json:"published_at"`
	Repos        []Repo           `json:"repos"`
	Assets       []Asset          `json:"assets"`
	InstallSets  []InstallSet     `json:"install_sets"`
	Pages        *Pages           `json:"pages,omitempty"`
}

// AssetByID returns the asset with the given id, or false if none matches.
func (m *Manifest) AssetByID(id string) (Asset, bool) {
	for _, a := range m.Assets {
		if a.ID == id {
			return a, true
		}
	}
	return Asset{}, false
}

// InstallSetByID returns the install set with the given id, or false.
func (m *Manifest) InstallSetByID(id string) (InstallSet, bool) {
	for _, s := range m.InstallSets {
		if s.ID == id {
			return s, true
		}
	}
	return InstallSet{}, false
}

// Validate checks the structural invariants in spec.md §3: every asset id
// referenced by an install set must resolve in Assets.
func (m *Manifest) Validate() error {
	for _, set := range m.InstallSets {
		for _, assetID := range set.Assets {
			if _, ok := m.AssetByID(assetID); !ok {
				return apierr.New(apierr.CodeManifestInvalidInstallSet,
					fmt.Sprintf("install set %q references unknown asset %q", set.ID, assetID))
			}
		}
	}
	return nil
}

// Parse decodes manifest JSON bytes, rejecting unsupported schemas.
func Parse(body []byte) (*Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(body, &m); err != nil {
		return nil, apierr.Wrap(apierr.CodeManifestJSONInvalid, "", err)
	}
	if m.Schema != SupportedSchema {
		return nil, apierr.New(apierr.CodeManifestSchemaUnsupported,
			fmt.Sprintf("unsupported manifest schema %d", m.Schema)).
			WithDetail("schema", m.Schema)
	}
	return &m, nil
}

// CheckChannel returns a manifest_channel_mismatch error unless m.Channel
// equals want.
func (m *Manifest) CheckChannel(want channel.Channel) error {
	if m.Channel != want {
		return apierr.New(apierr.CodeManifestChannelMismatch,
			fmt.Sprintf("manifest channel %q does not match requested channel %q", m.Channel, want))
	}
	return nil
}

// CheckTag returns a manifest_tag_mismatch error unless m.Tag equals want.
func (m *Manifest) CheckTag(want string) error {
	if m.Tag != want {
		return apierr.New(apierr.CodeManifestTagMismatch,
			fmt.Sprintf("manifest tag %q does not match requested tag %q", m.Tag, want))
	}
	return nil
}
