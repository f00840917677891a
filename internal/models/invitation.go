package models

// InvitationTypeDM is the only invitation type currently defined; the
// DM-invite processor rejects payloads carrying anything else.
const InvitationTypeDM = "DM_INVITE"

// DMInvitation grants the recipient access to a newly created
// direct-message room. It is never persisted as-is: the whole struct is
// ECDH-encrypted before it travels through the recipient's inbox room, so
// the relay learns neither the sender identity nor the room key.
type DMInvitation struct {
	InvitationType  string `json:"invitationType"`
	DMRoomKey       string `json:"dmRoomKey"`
	DMRoomID        string `json:"dmRoomId"`
	SenderPublicKey string `json:"senderPublicKey"`
	SenderName      string `json:"senderName"`
	SenderImage     string `json:"senderImage,omitempty"`
	InvitationID    string `json:"invitationId"`
	Timestamp       int64  `json:"timestamp"`
}
