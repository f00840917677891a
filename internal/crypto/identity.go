package crypto

import (
	"crypto/rand"
	"encoding/hex"

	"github.com/cloudflare/circl/sign/ed25519"

	"tribechat/internal/models"
)

// GenerateIdentityKeyPair creates a fresh Ed25519 identity keypair, hex
// encoded for storage.
func GenerateIdentityKeyPair() (models.KeyPair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return models.KeyPair{}, ErrEncryptionFailed.WithDetails(err.Error())
	}
	return models.KeyPair{
		PublicKey: hex.EncodeToString(pub),
		SecretKey: hex.EncodeToString(priv),
	}, nil
}
