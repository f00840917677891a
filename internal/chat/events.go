package chat

import (
	"sync"

	"tribechat/internal/models"
)

// EventType enumerates everything the adapter reports to the hosting
// application. Closed set: consumers register handlers per type and the
// compiler catches a misspelled event where a string key would not.
type EventType int

const (
	EventRoomCreated EventType = iota
	EventRoomJoined
	EventRoomLeft
	EventMessageSent
	EventMessageReceived
	EventPeerConnected
	EventPeerDisconnected
	EventRootPeerConnected
	EventRootPeerDisconnected
	EventDMInvitationSent
	EventError
)

func (t EventType) String() string {
	switch t {
	case EventRoomCreated:
		return "room_created"
	case EventRoomJoined:
		return "room_joined"
	case EventRoomLeft:
		return "room_left"
	case EventMessageSent:
		return "message_sent"
	case EventMessageReceived:
		return "message_received"
	case EventPeerConnected:
		return "peer_connected"
	case EventPeerDisconnected:
		return "peer_disconnected"
	case EventRootPeerConnected:
		return "root_peer_connected"
	case EventRootPeerDisconnected:
		return "root_peer_disconnected"
	case EventDMInvitationSent:
		return "dm_invitation_sent"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is one notification to the hosting application. Room is set for
// room events, Message for message events, PeerID for peer events and Err
// for EventError.
type Event struct {
	Type    EventType
	Room    *models.Room
	Message *models.Message
	PeerID  string
	Err     error
}

// Handler consumes one event. Handlers run on the adapter's event
// goroutine and must not block.
type Handler func(Event)

type handlerTable struct {
	mu       sync.RWMutex
	handlers map[EventType][]Handler
}

func newHandlerTable() *handlerTable {
	return &handlerTable{handlers: make(map[EventType][]Handler)}
}

func (h *handlerTable) on(t EventType, fn Handler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handlers[t] = append(h.handlers[t], fn)
}

func (h *handlerTable) dispatch(evt Event) {
	h.mu.RLock()
	handlers := h.handlers[evt.Type]
	h.mu.RUnlock()
	for _, fn := range handlers {
		fn(evt)
	}
}
