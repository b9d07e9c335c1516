package manifest

import (
	"encoding/base64"
	"fmt"

	"github.com/petitechose-midi-studio/ms-manager/internal/apierr"
	"golang.org/x/crypto/ed25519"
)

// VerifySignature decodes signatureB64 and pubKeyB64 and checks that
// signature is the strict Ed25519 signature of body under the given public
// key. Strict verification rejects signatures that do not match the
// canonical length/encoding (Go's crypto/ed25519.Verify already performs
// this — it never accepts malleable encodings), so a single call covers
// spec.md's "strict Ed25519 signature" requirement.
func VerifySignature(body []byte, signatureB64, pubKeyB64 string) error {
	sig, err := base64.StdEncoding.DecodeString(signatureB64)
	if err != nil {
		return apierr.Wrap(apierr.CodeBase64Invalid, "invalid signature base64", err)
	}
	pub, err := base64.StdEncoding.DecodeString(pubKeyB64)
	if err != nil {
		return apierr.Wrap(apierr.CodeBase64Invalid, "invalid public key base64", err)
	}
	if len(pub) != ed25519.PublicKeySize {
		return apierr.New(apierr.CodePublicKeyInvalid,
			fmt.Sprintf("public key must be %d bytes, got %d", ed25519.PublicKeySize, len(pub)))
	}
	if len(sig) != ed25519.SignatureSize {
		return apierr.New(apierr.CodeManifestSigInvalid,
			fmt.Sprintf("signature must be %d bytes, got %d", ed25519.SignatureSize, len(sig)))
	}
	if !ed25519.Verify(ed25519.PublicKey(pub), body, sig) {
		return apierr.New(apierr.CodeManifestSigInvalid, "signature does not verify under pinned key")
	}
	return nil
}
