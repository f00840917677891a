package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"tribechat/internal/crypto"
	"tribechat/internal/models"
	"tribechat/internal/storage"
)

// DMInviteProcessor opens DM_INVITE payloads addressed to this identity.
// The content is ECDH ciphertext between the sender's key, read from the
// message envelope, and our own. Every failure path degrades to a generic
// notice with ShouldSave=false; nothing escapes the pipeline.
type DMInviteProcessor struct{}

func (p *DMInviteProcessor) CanProcess(msg models.Message) bool {
	return msg.MessageType == models.MsgTypeDMInvite
}

func (p *DMInviteProcessor) Process(ctx context.Context, msg models.Message, pctx *Context) Result {
	out := msg
	out.MessageType = models.MsgTypeSystem

	fail := func(reason string, err error) Result {
		pctx.Log.Warn("dropping unreadable DM invitation", "room", pctx.RoomID, "reason", reason, "err", err)
		out.Content = "Received a DM invitation that could not be read"
		return Result{ShouldSave: false, ShouldDisplay: true, Processed: out}
	}

	data, err := crypto.DecryptWithPrivateKey(msg.Content, pctx.Keys.SecretKey, msg.SenderID)
	if err != nil {
		return fail("decrypt", err)
	}
	var inv models.DMInvitation
	if err := json.Unmarshal(data, &inv); err != nil {
		return fail("unmarshal", err)
	}
	if inv.InvitationType != models.InvitationTypeDM {
		return fail("type mismatch", nil)
	}
	if !crypto.IsValidRoomKey(inv.DMRoomKey) || crypto.DeriveRoomID(inv.DMRoomKey) != inv.DMRoomID {
		return fail("room id mismatch", nil)
	}

	if _, err := pctx.Store.GetRoom(ctx, inv.DMRoomID); err != nil {
		if !errors.Is(err, storage.ErrNoRows) {
			return fail("room lookup", err)
		}
		now := time.Now().UnixMilli()
		room := &models.Room{
			RoomID:                 inv.DMRoomID,
			RoomKey:                inv.DMRoomKey,
			RoomType:               models.RoomTypeDirectMessage,
			RoomName:               inv.SenderName,
			Peers:                  []string{inv.SenderPublicKey},
			Creator:                inv.SenderPublicKey,
			CreatedAt:              now,
			LastActive:             now,
			RoomImage:              inv.SenderImage,
			OtherParticipantPubKey: inv.SenderPublicKey,
		}
		if err := pctx.Store.SaveRoom(ctx, room); err != nil {
			return fail("room create", err)
		}
	}

	if inv.SenderName != "" {
		out.Content = fmt.Sprintf("%s invited you to a direct chat", inv.SenderName)
	} else {
		out.Content = "You received a direct chat invitation"
	}
	return Result{ShouldSave: true, ShouldDisplay: true, Processed: out}
}
