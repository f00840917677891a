package pipeline

import (
	"context"
	"encoding/json"
	"fmt"

	"tribechat/internal/models"
)

// IdentityProcessor turns IDENTITY announcements into SYSTEM "joined"
// entries and keeps the peer directory current.
type IdentityProcessor struct{}

func (p *IdentityProcessor) CanProcess(msg models.Message) bool {
	return msg.MessageType == models.MsgTypeIdentity
}

func (p *IdentityProcessor) Process(ctx context.Context, msg models.Message, pctx *Context) Result {
	out := msg
	out.MessageType = models.MsgTypeSystem

	var ann models.IdentityAnnouncement
	if err := json.Unmarshal([]byte(msg.Content), &ann); err != nil || ann.PublicKey == "" {
		// malformed announcements still record that someone arrived
		pctx.Log.Warn("malformed identity announcement", "room", pctx.RoomID, "sender", msg.SenderID)
		out.Content = "A peer joined the room"
		return Result{ShouldSave: true, ShouldDisplay: true, Processed: out}
	}

	if err := pctx.Store.SavePeer(ctx, &models.Peer{
		PeerID:    msg.SenderID,
		PeerName:  ann.Name,
		PeerImage: ann.Image,
	}); err != nil {
		pctx.Log.Warn("saving peer profile failed", "peer", msg.SenderID, "err", err)
	}
	if err := pctx.Store.AddPeerToRoom(ctx, pctx.RoomID, msg.SenderID); err != nil {
		pctx.Log.Warn("adding peer to room failed", "room", pctx.RoomID, "peer", msg.SenderID, "err", err)
	}

	if ann.PublicKey == pctx.Keys.PublicKey {
		out.Content = "You joined the room"
	} else if ann.Name != "" {
		out.Content = fmt.Sprintf("%s joined the room", ann.Name)
	} else {
		out.Content = "A peer joined the room"
	}
	return Result{ShouldSave: true, ShouldDisplay: true, Processed: out}
}
