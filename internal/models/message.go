// Package models defines the data types shared across the chat subsystem.
package models

// MessageType indicates which kind of payload lives inside a message.
type MessageType string

const (
	MsgTypeText     MessageType = "TEXT"
	MsgTypeIdentity MessageType = "IDENTITY"
	MsgTypeSystem   MessageType = "SYSTEM"
	MsgTypeDMInvite MessageType = "DM_INVITE"
)

// Message is the wire and storage representation of a chat message.
// Content may itself be JSON (identity announcements) or ciphertext
// (DM invitations); Timestamp is unix milliseconds.
type Message struct {
	MessageID   string      `json:"messageId"`
	RoomID      string      `json:"roomId"`
	SenderID    string      `json:"senderId"`
	MessageType MessageType `json:"messageType"`
	Content     string      `json:"content"`
	Timestamp   int64       `json:"timestamp"`
}

// ReceivedMessage is the in-flight form of an incoming message.
// FromRootPeer is transport metadata and is never persisted; it gates
// whether the message may be durably saved.
type ReceivedMessage struct {
	Message
	FromRootPeer bool `json:"fromRootPeer"`
}

// IdentityAnnouncement is the JSON payload carried by an IDENTITY message.
type IdentityAnnouncement struct {
	Name      string `json:"name"`
	PublicKey string `json:"publicKey"`
	Image     string `json:"image,omitempty"`
}
