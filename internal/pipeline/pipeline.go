// Package pipeline routes received messages through type-specific
// processors before they reach display and persistence. Dispatch is an
// explicit first-match registry; a message no processor claims is saved
// and displayed as-is rather than silently dropped.
package pipeline

import (
	"context"

	"tribechat/internal/logger"
	"tribechat/internal/models"
)

// Store is the slice of persistence the processors need.
type Store interface {
	SavePeer(ctx context.Context, peer *models.Peer) error
	AddPeerToRoom(ctx context.Context, roomID, peerID string) error
	GetRoom(ctx context.Context, roomID string) (*models.Room, error)
	SaveRoom(ctx context.Context, room *models.Room) error
}

// Context carries what processors know about the session: the room the
// message arrived in, the local identity keys and the store handle.
type Context struct {
	RoomID string
	Keys   models.KeyPair
	Store  Store
	Log    *logger.Logger
}

// Result is a processor's verdict. Processed replaces the original message
// downstream.
type Result struct {
	ShouldSave    bool
	ShouldDisplay bool
	Processed     models.Message
}

// Processor handles one family of message types. Process must degrade
// internally: whatever goes wrong, it returns a usable Result.
type Processor interface {
	CanProcess(msg models.Message) bool
	Process(ctx context.Context, msg models.Message, pctx *Context) Result
}

type Registry struct {
	procs []Processor
	log   *logger.Logger
}

// NewRegistry builds a registry with the standard processors in dispatch
// order.
func NewRegistry(log *logger.Logger) *Registry {
	r := &Registry{log: log.With("component", "pipeline")}
	r.Register(&IdentityProcessor{})
	r.Register(&TextProcessor{})
	r.Register(&DMInviteProcessor{})
	return r
}

func (r *Registry) Register(p Processor) {
	r.procs = append(r.procs, p)
}

// Process dispatches msg to the first matching processor. No match means
// default passthrough: save and display the message untouched.
func (r *Registry) Process(ctx context.Context, msg models.Message, pctx *Context) Result {
	for _, p := range r.procs {
		if p.CanProcess(msg) {
			return p.Process(ctx, msg, pctx)
		}
	}
	r.log.Debug("no processor for message type, passing through", "type", string(msg.MessageType))
	return Result{ShouldSave: true, ShouldDisplay: true, Processed: msg}
}
