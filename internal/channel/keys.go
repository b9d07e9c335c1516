package channel

// Pinned Ed25519 public keys, base64-encoded, compiled into the binary.
// These are the sole trust root for manifest signatures (§4.B, §6). They
// are placeholders for this module — a real build substitutes the
// project's actual release-signing keys at build time via these constants.
const (
	// StablePubKeyB64 verifies manifests on the stable and beta channels.
	StablePubKeyB64 = "Z9x9g3V1s9q2b7o2v8hq1YV2V4v8Vb3q2ZC6m8aQW2o="
	// NightlyPubKeyB64 verifies manifests on the nightly channel.
	NightlyPubKeyB64 = "p1k0R6m3c9wQe2oVb8Hq0YV2V4v8Vb3q2ZC6m8aQR3s="
)

// PubKeyFor returns the pinned public key (base64) for the given key id.
func PubKeyFor(id KeyID) (string, bool) {
	switch id {
	case KeyStable:
		return StablePubKeyB64, true
	case KeyNightly:
		return NightlyPubKeyB64, true
	default:
		return "", false
	}
}
