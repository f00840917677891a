package p2p

import (
	"encoding/hex"
	"encoding/json"

	"github.com/cloudflare/circl/sign/ed25519"

	"tribechat/internal/models"
)

// SignAnnounce fills in the announce signature using the root peer's
// Ed25519 private key. The signature covers the canonical JSON of the
// announce with the Signature field empty.
func SignAnnounce(ann *models.RootPeerAnnounce, privHex string) error {
	priv, err := hex.DecodeString(privHex)
	if err != nil || len(priv) != ed25519.PrivateKeySize {
		return ErrBadSeed.WithDetails("announce signing key must be 64 hex-encoded bytes")
	}
	payload, err := announcePayload(ann)
	if err != nil {
		return err
	}
	sig := ed25519.Sign(ed25519.PrivateKey(priv), payload)
	ann.Signature = hex.EncodeToString(sig)
	return nil
}

// VerifyAnnounce reports whether the announce carries a valid signature
// from the given public key. Unsigned or tampered announcements are how a
// stranger would impersonate the relay, so callers drop anything that
// fails here.
func VerifyAnnounce(ann *models.RootPeerAnnounce, pubHex string) bool {
	pub, err := hex.DecodeString(pubHex)
	if err != nil || len(pub) != ed25519.PublicKeySize {
		return false
	}
	sig, err := hex.DecodeString(ann.Signature)
	if err != nil || len(sig) != ed25519.SignatureSize {
		return false
	}
	payload, err := announcePayload(ann)
	if err != nil {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(pub), payload, sig)
}

func announcePayload(ann *models.RootPeerAnnounce) ([]byte, error) {
	unsigned := *ann
	unsigned.Signature = ""
	return json.Marshal(unsigned)
}
