package crypto_test

import (
	"encoding/base64"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"tribechat/internal/crypto"
)

func TestAsymmetricRoundTrip(t *testing.T) {
	alice, err := crypto.GenerateIdentityKeyPair()
	require.NoError(t, err)
	require.Len(t, alice.PublicKey, 64)
	require.Len(t, alice.SecretKey, 128)
	bob, err := crypto.GenerateIdentityKeyPair()
	require.NoError(t, err)

	data := []byte(`{"invitationType":"DM_INVITE","dmRoomId":"abc"}`)

	// A seals for B with A's own private key
	box, err := crypto.EncryptWithPublicKey(data, bob.PublicKey, alice.SecretKey)
	require.NoError(t, err)
	require.NotEqual(t, base64.StdEncoding.EncodeToString(data), box)

	// B opens with B's private key and A's public key
	got, err := crypto.DecryptWithPrivateKey(box, bob.SecretKey, alice.PublicKey)
	require.NoError(t, err)
	require.Equal(t, data, got)
}

func TestAsymmetricMismatchedKeys(t *testing.T) {
	alice, err := crypto.GenerateIdentityKeyPair()
	require.NoError(t, err)
	bob, err := crypto.GenerateIdentityKeyPair()
	require.NoError(t, err)
	mallory, err := crypto.GenerateIdentityKeyPair()
	require.NoError(t, err)

	box, err := crypto.EncryptWithPublicKey([]byte("secret"), bob.PublicKey, alice.SecretKey)
	require.NoError(t, err)

	tests := []struct {
		name      string
		ownPriv   string
		senderPub string
	}{
		{name: "Wrong recipient key", ownPriv: mallory.SecretKey, senderPub: alice.PublicKey},
		{name: "Wrong sender key", ownPriv: bob.SecretKey, senderPub: mallory.PublicKey},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := crypto.DecryptWithPrivateKey(box, tt.ownPriv, tt.senderPub)
			require.True(t, errors.Is(err, crypto.ErrDecryptionFailed), "got %v", err)
		})
	}
}

func TestAsymmetricCorruptedBox(t *testing.T) {
	alice, err := crypto.GenerateIdentityKeyPair()
	require.NoError(t, err)
	bob, err := crypto.GenerateIdentityKeyPair()
	require.NoError(t, err)

	box, err := crypto.EncryptWithPublicKey([]byte("secret"), bob.PublicKey, alice.SecretKey)
	require.NoError(t, err)

	// flip one byte of the ciphertext
	raw, err := base64.StdEncoding.DecodeString(box)
	require.NoError(t, err)
	raw[len(raw)-1] ^= 0x01
	corrupted := base64.StdEncoding.EncodeToString(raw)

	_, err = crypto.DecryptWithPrivateKey(corrupted, bob.SecretKey, alice.PublicKey)
	require.True(t, errors.Is(err, crypto.ErrDecryptionFailed), "got %v", err)

	for _, bad := range []string{"%%%", "AAAA", ""} {
		_, err := crypto.DecryptWithPrivateKey(bad, bob.SecretKey, alice.PublicKey)
		require.True(t, errors.Is(err, crypto.ErrDecryptionFailed), "payload %q: got %v", bad, err)
	}
}

func TestAsymmetricBadKeys(t *testing.T) {
	alice, err := crypto.GenerateIdentityKeyPair()
	require.NoError(t, err)

	_, err = crypto.EncryptWithPublicKey([]byte("x"), "zz", alice.SecretKey)
	require.True(t, errors.Is(err, crypto.ErrBadKey), "got %v", err)

	_, err = crypto.EncryptWithPublicKey([]byte("x"), alice.PublicKey, "zz")
	require.True(t, errors.Is(err, crypto.ErrBadKey), "got %v", err)

	_, err = crypto.DecryptWithPrivateKey("AAAA", "zz", alice.PublicKey)
	require.True(t, errors.Is(err, crypto.ErrBadKey), "got %v", err)
}
