package pipeline_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"tribechat/internal/crypto"
	"tribechat/internal/logger"
	"tribechat/internal/models"
	"tribechat/internal/pipeline"
	"tribechat/internal/storage"
)

// fakeStore records pipeline-side persistence without a database.
type fakeStore struct {
	peers     map[string]*models.Peer
	rooms     map[string]*models.Room
	roomPeers map[string][]string
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		peers:     make(map[string]*models.Peer),
		rooms:     make(map[string]*models.Room),
		roomPeers: make(map[string][]string),
	}
}

func (f *fakeStore) SavePeer(_ context.Context, peer *models.Peer) error {
	f.peers[peer.PeerID] = peer
	return nil
}

func (f *fakeStore) AddPeerToRoom(_ context.Context, roomID, peerID string) error {
	f.roomPeers[roomID] = append(f.roomPeers[roomID], peerID)
	return nil
}

func (f *fakeStore) GetRoom(_ context.Context, roomID string) (*models.Room, error) {
	room, ok := f.rooms[roomID]
	if !ok {
		return nil, storage.ErrNoRows
	}
	return room, nil
}

func (f *fakeStore) SaveRoom(_ context.Context, room *models.Room) error {
	f.rooms[room.RoomID] = room
	return nil
}

func testContext(t *testing.T) (*pipeline.Context, *fakeStore) {
	t.Helper()
	keys, err := crypto.GenerateIdentityKeyPair()
	require.NoError(t, err)
	store := newFakeStore()
	return &pipeline.Context{
		RoomID: "room-1",
		Keys:   keys,
		Store:  store,
		Log:    logger.Nop(),
	}, store
}

func TestDispatchTextPassThrough(t *testing.T) {
	pctx, _ := testContext(t)
	reg := pipeline.NewRegistry(logger.Nop())

	msg := models.Message{
		MessageID:   "m1",
		RoomID:      "room-1",
		SenderID:    "peer-a",
		MessageType: models.MsgTypeText,
		Content:     "hello",
		Timestamp:   time.Now().UnixMilli(),
	}
	res := reg.Process(context.Background(), msg, pctx)
	require.True(t, res.ShouldSave)
	require.True(t, res.ShouldDisplay)
	require.Equal(t, msg, res.Processed)
}

func TestDispatchUnknownTypeDefaults(t *testing.T) {
	pctx, _ := testContext(t)
	reg := pipeline.NewRegistry(logger.Nop())

	msg := models.Message{
		MessageID:   "m1",
		MessageType: models.MessageType("WEIRD"),
		Content:     "???",
	}
	res := reg.Process(context.Background(), msg, pctx)
	require.True(t, res.ShouldSave)
	require.True(t, res.ShouldDisplay)
	require.Equal(t, msg, res.Processed, "unknown types pass through untouched")
}

func TestIdentityProcessor(t *testing.T) {
	pctx, store := testContext(t)
	reg := pipeline.NewRegistry(logger.Nop())

	ann, err := json.Marshal(models.IdentityAnnouncement{
		Name:      "alice",
		PublicKey: "alice-pub",
		Image:     "img",
	})
	require.NoError(t, err)

	msg := models.Message{
		MessageID:   "m1",
		SenderID:    "alice-pub",
		MessageType: models.MsgTypeIdentity,
		Content:     string(ann),
	}
	res := reg.Process(context.Background(), msg, pctx)
	require.True(t, res.ShouldSave)
	require.True(t, res.ShouldDisplay)
	require.Equal(t, models.MsgTypeSystem, res.Processed.MessageType)
	require.Equal(t, "alice joined the room", res.Processed.Content)

	require.Equal(t, "alice", store.peers["alice-pub"].PeerName)
	require.Equal(t, []string{"alice-pub"}, store.roomPeers["room-1"])
}

func TestIdentityProcessorSelfJoin(t *testing.T) {
	pctx, _ := testContext(t)
	reg := pipeline.NewRegistry(logger.Nop())

	ann, err := json.Marshal(models.IdentityAnnouncement{
		Name:      "me",
		PublicKey: pctx.Keys.PublicKey,
	})
	require.NoError(t, err)

	res := reg.Process(context.Background(), models.Message{
		MessageID:   "m1",
		SenderID:    pctx.Keys.PublicKey,
		MessageType: models.MsgTypeIdentity,
		Content:     string(ann),
	}, pctx)
	require.Equal(t, "You joined the room", res.Processed.Content)
}

func TestIdentityProcessorMalformed(t *testing.T) {
	pctx, store := testContext(t)
	reg := pipeline.NewRegistry(logger.Nop())

	res := reg.Process(context.Background(), models.Message{
		MessageID:   "m1",
		SenderID:    "peer-a",
		MessageType: models.MsgTypeIdentity,
		Content:     "{not json",
	}, pctx)
	require.True(t, res.ShouldSave)
	require.True(t, res.ShouldDisplay)
	require.Equal(t, models.MsgTypeSystem, res.Processed.MessageType)
	require.Equal(t, "A peer joined the room", res.Processed.Content)
	require.Empty(t, store.peers, "malformed announcements must not pollute the peer directory")
}

func buildInvite(t *testing.T, sender, recipient models.KeyPair, mutate func(*models.DMInvitation)) models.Message {
	t.Helper()
	dmKey, err := crypto.GenerateRoomKey()
	require.NoError(t, err)
	inv := models.DMInvitation{
		InvitationType:  models.InvitationTypeDM,
		DMRoomKey:       dmKey,
		DMRoomID:        crypto.DeriveRoomID(dmKey),
		SenderPublicKey: sender.PublicKey,
		SenderName:      "alice",
		InvitationID:    "inv-1",
		Timestamp:       time.Now().UnixMilli(),
	}
	if mutate != nil {
		mutate(&inv)
	}
	payload, err := json.Marshal(inv)
	require.NoError(t, err)
	ct, err := crypto.EncryptWithPublicKey(payload, recipient.PublicKey, sender.SecretKey)
	require.NoError(t, err)

	return models.Message{
		MessageID:   "m1",
		SenderID:    sender.PublicKey,
		MessageType: models.MsgTypeDMInvite,
		Content:     ct,
		Timestamp:   time.Now().UnixMilli(),
	}
}

func TestDMInviteEndToEnd(t *testing.T) {
	pctx, store := testContext(t)
	reg := pipeline.NewRegistry(logger.Nop())
	sender, err := crypto.GenerateIdentityKeyPair()
	require.NoError(t, err)

	msg := buildInvite(t, sender, pctx.Keys, nil)
	res := reg.Process(context.Background(), msg, pctx)
	require.True(t, res.ShouldSave)
	require.True(t, res.ShouldDisplay)
	require.Equal(t, models.MsgTypeSystem, res.Processed.MessageType)
	require.Equal(t, "alice invited you to a direct chat", res.Processed.Content)

	require.Len(t, store.rooms, 1)
	for _, room := range store.rooms {
		require.Equal(t, models.RoomTypeDirectMessage, room.RoomType)
		require.Equal(t, crypto.DeriveRoomID(room.RoomKey), room.RoomID)
		require.Equal(t, sender.PublicKey, room.OtherParticipantPubKey)
	}
}

func TestDMInviteExistingRoomNotRecreated(t *testing.T) {
	pctx, store := testContext(t)
	reg := pipeline.NewRegistry(logger.Nop())
	sender, err := crypto.GenerateIdentityKeyPair()
	require.NoError(t, err)

	var roomID string
	msg := buildInvite(t, sender, pctx.Keys, func(inv *models.DMInvitation) {
		roomID = inv.DMRoomID
	})
	existing := &models.Room{RoomID: roomID, RoomName: "keep me"}
	store.rooms[roomID] = existing

	res := reg.Process(context.Background(), msg, pctx)
	require.True(t, res.ShouldSave)
	require.Same(t, existing, store.rooms[roomID])
}

func TestDMInviteFailurePaths(t *testing.T) {
	pctx, store := testContext(t)
	reg := pipeline.NewRegistry(logger.Nop())
	sender, err := crypto.GenerateIdentityKeyPair()
	require.NoError(t, err)

	corrupt := func(msg models.Message) models.Message {
		raw, err := base64.StdEncoding.DecodeString(msg.Content)
		require.NoError(t, err)
		raw[len(raw)-1] ^= 0x01
		msg.Content = base64.StdEncoding.EncodeToString(raw)
		return msg
	}

	tests := []struct {
		name string
		msg  models.Message
	}{
		{name: "Corrupted ciphertext", msg: corrupt(buildInvite(t, sender, pctx.Keys, nil))},
		{name: "Wrong invitation type", msg: buildInvite(t, sender, pctx.Keys, func(inv *models.DMInvitation) {
			inv.InvitationType = "SOMETHING_ELSE"
		})},
		{name: "Room id mismatch", msg: buildInvite(t, sender, pctx.Keys, func(inv *models.DMInvitation) {
			inv.DMRoomID = "0000000000000000000000000000000000000000000000000000000000000000"
		})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := reg.Process(context.Background(), tt.msg, pctx)
			require.False(t, res.ShouldSave)
			require.True(t, res.ShouldDisplay)
			require.Equal(t, models.MsgTypeSystem, res.Processed.MessageType)
			require.Equal(t, "Received a DM invitation that could not be read", res.Processed.Content)
			require.Empty(t, store.rooms, "no room may be created on a failure path")
		})
	}
}
