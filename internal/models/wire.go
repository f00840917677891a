package models

// CipherEnvelope is the unit that travels over room topics and to the root
// peer. The message id and room id ride outside the ciphertext so the relay
// can order and dedupe without holding any room key.
type CipherEnvelope struct {
	MessageID  string `json:"messageId"`
	RoomID     string `json:"roomId"`
	Ciphertext string `json:"ciphertext"`
	Timestamp  int64  `json:"timestamp"`
}

// StoredCipher is a CipherEnvelope with the relay-assigned per-room index,
// the canonical position of the message in the room's history.
type StoredCipher struct {
	CipherEnvelope
	Index uint64 `json:"index"`
}

type RegisterRoomRequest struct {
	RoomID string `json:"roomId"`
}

type RegisterRoomResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

type StoreMessageRequest struct {
	Envelope CipherEnvelope `json:"envelope"`
}

type StoreMessageResponse struct {
	Success bool   `json:"success"`
	Index   uint64 `json:"index"`
	Error   string `json:"error,omitempty"`
}

type SyncRequest struct {
	RoomID    string `json:"roomId"`
	LastIndex uint64 `json:"lastIndex"`
}

type SyncResponse struct {
	Messages  []StoredCipher `json:"messages"`
	LastIndex uint64         `json:"lastIndex"`
	Error     string         `json:"error,omitempty"`
}

// RootPeerAnnounce is broadcast by the relay on the discovery topic so
// clients can find and authenticate it. Signature covers the canonical JSON
// of the announce with the Signature field empty.
type RootPeerAnnounce struct {
	PeerID    string   `json:"peerId"`
	Addrs     []string `json:"addrs"`
	Timestamp int64    `json:"timestamp"`
	Signature string   `json:"signature,omitempty"`
}
