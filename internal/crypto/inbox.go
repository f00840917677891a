package crypto

import (
	"crypto/sha256"
	"encoding/hex"
)

const inboxKeyPrefix = "inbox:"

// GenerateInboxRoomKey derives the deterministic inbox room key for an
// identity public key. Anyone who knows the public key can derive the same
// key, which is what lets strangers deliver DM invitations, so nothing
// private may ever be stored in an inbox room.
func GenerateInboxRoomKey(identityPubHex string) string {
	sum := sha256.Sum256([]byte(inboxKeyPrefix + identityPubHex))
	return hex.EncodeToString(sum[:])
}

// GenerateInboxRoomID returns the room ID of the inbox derived from the
// given identity public key.
func GenerateInboxRoomID(identityPubHex string) string {
	return DeriveRoomID(GenerateInboxRoomKey(identityPubHex))
}
