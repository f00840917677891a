package models

// RoomType distinguishes group rooms, direct-message rooms and the
// per-identity inbox room used for DM invitations.
type RoomType string

const (
	RoomTypeGroup         RoomType = "GROUP"
	RoomTypeDirectMessage RoomType = "DIRECT_MESSAGE"
	RoomTypeInbox         RoomType = "INBOX"
)

// Room is the local record of a chat room. RoomID is always the SHA-256
// hex digest of RoomKey: the id is safe to advertise for discovery while
// the key stays secret among participants.
type Room struct {
	RoomID              string   `json:"roomId"`
	RoomKey             string   `json:"roomKey"`
	RoomType            RoomType `json:"roomType"`
	RoomName            string   `json:"roomName"`
	RoomDescription     string   `json:"roomDescription"`
	Peers               []string `json:"peers"`
	Creator             string   `json:"creator"`
	CreatedAt           int64    `json:"createdAt"`
	LastActive          int64    `json:"lastActive"`
	InitializedIdentity bool     `json:"initializedIdentity"`
	RoomImage           string   `json:"roomImage,omitempty"`

	// DM only: the other participant's public key.
	OtherParticipantPubKey string `json:"otherParticipantPubKey,omitempty"`
}

// HasPeer reports whether peerID is already in the room's peer set.
func (r *Room) HasPeer(peerID string) bool {
	for _, p := range r.Peers {
		if p == peerID {
			return true
		}
	}
	return false
}
