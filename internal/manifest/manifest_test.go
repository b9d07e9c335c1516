package manifest

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"errors"
	"testing"

	"github.com/petitechose-midi-studio/ms-manager/internal/apierr"
	"github.com/stretchr/testify/require"
)

func validManifestJSON() []byte {
	m := Manifest{
		Schema:      2,
		Channel:     "stable",
		Tag:         "v1.2.3",
		PublishedAt: "2026-01-01T00:00:00Z",
		Assets: []Asset{
			{ID: "bundle", Kind: "bundle", Filename: "bundle.zip", Size: 10, SHA256: "deadbeef"},
			{ID: "fw", Kind: "firmware", Filename: "fw.hex", Size: 4, SHA256: "cafebabe"},
		},
		InstallSets: []InstallSet{
			{ID: "default", OS: "linux", Arch: "x86_64", Assets: []string{"bundle", "fw"}},
		},
	}
	b, _ := json.Marshal(m)
	return b
}

func TestParseValid(t *testing.T) {
	m, err := Parse(validManifestJSON())
	require.NoError(t, err)
	require.Equal(t, "v1.2.3", m.Tag)
	require.NoError(t, m.Validate())
}

func TestParseInvalidJSON(t *testing.T) {
	_, err := Parse([]byte("{not json"))
	require.Error(t, err)
	var apiErr *apierr.Error
	require.True(t, errors.As(err, &apiErr))
	require.Equal(t, apierr.CodeManifestJSONInvalid, apiErr.Code)
}

func TestParseUnsupportedSchema(t *testing.T) {
	_, err := Parse([]byte(`{"schema":1,"channel":"stable","tag":"v1.0.0"}`))
	require.Error(t, err)
	var apiErr *apierr.Error
	require.True(t, errors.As(err, &apiErr))
	require.Equal(t, apierr.CodeManifestSchemaUnsupported, apiErr.Code)
}

func TestValidateRejectsUnknownAssetID(t *testing.T) {
	m := &Manifest{
		Schema:      2,
		Assets:      []Asset{{ID: "bundle"}},
		InstallSets: []InstallSet{{ID: "default", Assets: []string{"bundle", "missing"}}},
	}
	err := m.Validate()
	require.Error(t, err)
	var apiErr *apierr.Error
	require.True(t, errors.As(err, &apiErr))
	require.Equal(t, apierr.CodeManifestInvalidInstallSet, apiErr.Code)
}

func TestCheckChannelAndTag(t *testing.T) {
	m := &Manifest{Channel: "stable", Tag: "v1.0.0"}
	require.Error(t, m.CheckChannel("beta"))
	require.NoError(t, m.CheckChannel("stable"))
	require.Error(t, m.CheckTag("v2.0.0"))
	require.NoError(t, m.CheckTag("v1.0.0"))
}

func TestVerifySignatureRoundTrip(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	body := []byte(`{"hello":"world"}`)
	sig := ed25519.Sign(priv, body)

	pubB64 := base64.StdEncoding.EncodeToString(pub)
	sigB64 := base64.StdEncoding.EncodeToString(sig)

	require.NoError(t, VerifySignature(body, sigB64, pubB64))

	// Mutate one byte of the body.
	mutated := append([]byte(nil), body...)
	mutated[0] ^= 0xFF
	require.Error(t, VerifySignature(mutated, sigB64, pubB64))

	// Mutate one byte of the signature.
	mutatedSig := append([]byte(nil), sig...)
	mutatedSig[0] ^= 0xFF
	require.Error(t, VerifySignature(body, base64.StdEncoding.EncodeToString(mutatedSig), pubB64))
}

func TestVerifySignatureRejectsInvalidBase64(t *testing.T) {
	err := VerifySignature([]byte("x"), "not-base64!!!", "not-base64!!!")
	require.Error(t, err)
	var apiErr *apierr.Error
	require.True(t, errors.As(err, &apiErr))
	require.Equal(t, apierr.CodeBase64Invalid, apiErr.Code)
}
