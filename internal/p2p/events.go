package p2p

import "tribechat/internal/models"

// EventType enumerates everything the network layer can report. The set is
// closed on purpose: consumers switch over it and the compiler keeps them
// honest when a case is added.
type EventType int

const (
	EventPeerConnected EventType = iota
	EventPeerDisconnected
	EventRootPeerConnected
	EventRootPeerDisconnected
	EventMessagesReceived
	EventError
)

func (t EventType) String() string {
	switch t {
	case EventPeerConnected:
		return "peer_connected"
	case EventPeerDisconnected:
		return "peer_disconnected"
	case EventRootPeerConnected:
		return "root_peer_connected"
	case EventRootPeerDisconnected:
		return "root_peer_disconnected"
	case EventMessagesReceived:
		return "messages_received"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is one notification from the network layer. PeerID is set for peer
// events, Messages for EventMessagesReceived, Err for EventError.
type Event struct {
	Type     EventType
	PeerID   string
	RoomID   string
	Messages []models.ReceivedMessage
	Err      error
}
