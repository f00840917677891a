package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
)

// Encrypt serializes message to JSON and encrypts it with AES-256-GCM,
// using the hex-decoded room key directly as key material. No KDF is
// applied on purpose: the raw-key behavior is part of the wire contract
// and changing it would orphan existing rooms. The returned string is
// base64(nonce || ciphertext).
func Encrypt(roomKey string, message any) (string, error) {
	aead, err := roomAEAD(roomKey)
	if err != nil {
		return "", err
	}
	plaintext, err := json.Marshal(message)
	if err != nil {
		return "", ErrEncryptionFailed.WithDetails(err.Error())
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", ErrEncryptionFailed.WithDetails(err.Error())
	}
	ct := aead.Seal(nonce, nonce, plaintext, nil)
	return base64.StdEncoding.EncodeToString(ct), nil
}

// Decrypt reverses Encrypt into out. A wrong key, a truncated payload or
// any bit flip yields ErrDecryptionFailed, never garbage output.
func Decrypt(roomKey, encrypted string, out any) error {
	aead, err := roomAEAD(roomKey)
	if err != nil {
		return err
	}
	data, err := base64.StdEncoding.DecodeString(encrypted)
	if err != nil {
		return ErrDecryptionFailed.WithDetails("payload is not valid base64")
	}
	if len(data) < aead.NonceSize() {
		return ErrDecryptionFailed.WithDetails("payload shorter than nonce")
	}
	nonce, ct := data[:aead.NonceSize()], data[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, ct, nil)
	if err != nil {
		return ErrDecryptionFailed.WithDetails("wrong room key or corrupted payload")
	}
	if err := json.Unmarshal(plaintext, out); err != nil {
		return ErrDecryptionFailed.WithDetails("decrypted payload is not valid JSON")
	}
	return nil
}

func roomAEAD(roomKey string) (cipher.AEAD, error) {
	if !IsValidRoomKey(roomKey) {
		return nil, ErrBadKey.WithDetails("room key must be 64 hex characters")
	}
	key, err := hex.DecodeString(roomKey)
	if err != nil {
		return nil, ErrBadKey.WithDetails(err.Error())
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, ErrBadKey.WithDetails(err.Error())
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, ErrBadKey.WithDetails(err.Error())
	}
	return aead, nil
}
