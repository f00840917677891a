package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"encoding/hex"
	"io"

	"filippo.io/edwards25519"
	"github.com/cloudflare/circl/sign/ed25519"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"
)

const dmInviteInfo = "tribechat/dm-invite"

// EncryptWithPublicKey seals data for the holder of recipientPub using a
// static-static ECDH between the sender's and recipient's identity keys.
// Both keys are Ed25519 and are mapped to X25519 form for the agreement, so
// the one identity keypair serves signing and invitations alike. Output is
// base64(nonce || ciphertext).
func EncryptWithPublicKey(data []byte, recipientPubHex, senderPrivHex string) (string, error) {
	shared, err := sharedSecret(senderPrivHex, recipientPubHex)
	if err != nil {
		return "", err
	}
	aead, err := sharedAEAD(shared)
	if err != nil {
		return "", ErrEncryptionFailed.WithDetails(err.Error())
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", ErrEncryptionFailed.WithDetails(err.Error())
	}
	ct := aead.Seal(nonce, nonce, data, nil)
	return base64.StdEncoding.EncodeToString(ct), nil
}

// DecryptWithPrivateKey opens a box produced by EncryptWithPublicKey. The
// recipient derives the same shared secret from their own private key and
// the sender's public key.
func DecryptWithPrivateKey(encrypted, ownPrivHex, senderPubHex string) ([]byte, error) {
	shared, err := sharedSecret(ownPrivHex, senderPubHex)
	if err != nil {
		return nil, err
	}
	aead, err := sharedAEAD(shared)
	if err != nil {
		return nil, ErrDecryptionFailed.WithDetails(err.Error())
	}
	box, err := base64.StdEncoding.DecodeString(encrypted)
	if err != nil {
		return nil, ErrDecryptionFailed.WithDetails("payload is not valid base64")
	}
	if len(box) < aead.NonceSize() {
		return nil, ErrDecryptionFailed.WithDetails("payload shorter than nonce")
	}
	nonce, ct := box[:aead.NonceSize()], box[aead.NonceSize():]
	data, err := aead.Open(nil, nonce, ct, nil)
	if err != nil {
		return nil, ErrDecryptionFailed.WithDetails("wrong key pair or corrupted payload")
	}
	return data, nil
}

// sharedSecret runs X25519 between one side's Ed25519 private key and the
// other side's Ed25519 public key. The u-coordinate agreement is symmetric,
// so sharedSecret(A.priv, B.pub) == sharedSecret(B.priv, A.pub).
func sharedSecret(privHex, pubHex string) ([]byte, error) {
	edPriv, err := hex.DecodeString(privHex)
	if err != nil || len(edPriv) != ed25519.PrivateKeySize {
		return nil, ErrBadKey.WithDetails("private key must be 64 hex-encoded bytes")
	}
	edPub, err := hex.DecodeString(pubHex)
	if err != nil || len(edPub) != ed25519.PublicKeySize {
		return nil, ErrBadKey.WithDetails("public key must be 32 hex-encoded bytes")
	}
	montPub, err := edwardsToMontgomery(edPub)
	if err != nil {
		return nil, ErrBadKey.WithDetails("public key is not a valid curve point")
	}
	xPriv := montgomeryPrivate(ed25519.PrivateKey(edPriv).Seed())
	shared, err := curve25519.X25519(xPriv, montPub)
	if err != nil {
		return nil, ErrBadKey.WithDetails(err.Error())
	}
	return shared, nil
}

// edwardsToMontgomery maps an Ed25519 public key to its X25519 equivalent.
func edwardsToMontgomery(edPub []byte) ([]byte, error) {
	p, err := new(edwards25519.Point).SetBytes(edPub)
	if err != nil {
		return nil, err
	}
	return p.BytesMontgomery(), nil
}

// montgomeryPrivate derives the X25519 scalar matching an Ed25519 seed,
// mirroring the hash-and-clamp step of Ed25519 key expansion so that the
// scalar pairs with BytesMontgomery of the matching public key.
func montgomeryPrivate(seed []byte) []byte {
	h := sha512.Sum512(seed)
	x := h[:curve25519.ScalarSize]
	x[0] &= 248
	x[31] &= 127
	x[31] |= 64
	return x
}

// sharedAEAD stretches the raw agreement output through HKDF-SHA256 into an
// AES-256-GCM key.
func sharedAEAD(shared []byte) (cipher.AEAD, error) {
	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, shared, nil, []byte(dmInviteInfo)), key); err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
