// Package crypto provides the cryptographic building blocks of the chat
// subsystem: room key generation and hashing, symmetric room encryption,
// ECDH encryption for DM invitations, and deterministic inbox addressing.
package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"regexp"
)

// RoomKeySize is the byte length of a room key (64 hex chars on the wire).
const RoomKeySize = 32

var roomKeyPattern = regexp.MustCompile(`^[0-9a-fA-F]{64}$`)

// GenerateRoomKey returns a fresh random room key as a 64-char hex string.
func GenerateRoomKey() (string, error) {
	key := make([]byte, RoomKeySize)
	if _, err := rand.Read(key); err != nil {
		return "", ErrBadKey.WithDetails(err.Error())
	}
	return hex.EncodeToString(key), nil
}

// DeriveRoomID hashes a room key into the public room id used as the
// discovery topic. SHA-256 makes the commitment one-way: knowing the id
// never reveals the key.
func DeriveRoomID(roomKey string) string {
	sum := sha256.Sum256([]byte(roomKey))
	return hex.EncodeToString(sum[:])
}

// IsValidRoomKey reports whether s is exactly 64 hex characters.
func IsValidRoomKey(s string) bool {
	return roomKeyPattern.MatchString(s)
}
