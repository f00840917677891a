package storage_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"tribechat/internal/logger"
	"tribechat/internal/models"
	"tribechat/internal/storage"
)

func newTestStore(t *testing.T) *storage.Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "chat.db")
	store, err := storage.NewSQLiteStore(dbPath)
	require.NoError(t, err)
	require.NoError(t, store.Migrate())
	t.Cleanup(store.Close)
	return store
}

func testRoom(id string) *models.Room {
	now := time.Now().UnixMilli()
	return &models.Room{
		RoomID:     id,
		RoomKey:    "key-" + id,
		RoomType:   models.RoomTypeGroup,
		RoomName:   "room " + id,
		Peers:      []string{},
		CreatedAt:  now,
		LastActive: now,
	}
}

func TestRoomCRUD(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.GetRoom(ctx, "missing")
	require.True(t, errors.Is(err, storage.ErrNoRows), "got %v", err)

	room := testRoom("r1")
	room.RoomDescription = "a test room"
	require.NoError(t, store.SaveRoom(ctx, room))

	got, err := store.GetRoom(ctx, "r1")
	require.NoError(t, err)
	require.Equal(t, room, got)

	byKey, err := store.GetRoomByKey(ctx, room.RoomKey)
	require.NoError(t, err)
	require.Equal(t, room.RoomID, byKey.RoomID)

	// replace keeps a single row
	room.RoomName = "renamed"
	require.NoError(t, store.SaveRoom(ctx, room))
	all, err := store.GetAllRooms(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	require.Equal(t, "renamed", all[0].RoomName)

	require.NoError(t, store.DeleteRoom(ctx, "r1"))
	_, err = store.GetRoom(ctx, "r1")
	require.True(t, errors.Is(err, storage.ErrNoRows))
}

func TestSetInitializedIdentity(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.True(t, errors.Is(store.SetInitializedIdentity(ctx, "missing", true), storage.ErrNoRows))

	require.NoError(t, store.SaveRoom(ctx, testRoom("r1")))
	require.NoError(t, store.SetInitializedIdentity(ctx, "r1", true))

	got, err := store.GetRoom(ctx, "r1")
	require.NoError(t, err)
	require.True(t, got.InitializedIdentity)
}

func TestAddPeerToRoom(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveRoom(ctx, testRoom("r1")))
	require.NoError(t, store.AddPeerToRoom(ctx, "r1", "peer-a"))
	require.NoError(t, store.AddPeerToRoom(ctx, "r1", "peer-b"))
	// duplicate is a no-op
	require.NoError(t, store.AddPeerToRoom(ctx, "r1", "peer-a"))

	got, err := store.GetRoom(ctx, "r1")
	require.NoError(t, err)
	require.Equal(t, []string{"peer-a", "peer-b"}, got.Peers)
}

func TestMessageCRUD(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	msg := &models.Message{
		MessageID:   "m1",
		RoomID:      "r1",
		SenderID:    "peer-a",
		MessageType: models.MsgTypeText,
		Content:     "hello",
		Timestamp:   100,
	}
	require.NoError(t, store.SaveMessage(ctx, msg))

	// duplicate id is ignored, not overwritten
	dup := *msg
	dup.Content = "changed"
	require.NoError(t, store.SaveMessage(ctx, &dup))

	got, err := store.GetMessage(ctx, "m1")
	require.NoError(t, err)
	require.Equal(t, "hello", got.Content)

	require.NoError(t, store.SaveMessage(ctx, &models.Message{
		MessageID: "m2", RoomID: "r1", MessageType: models.MsgTypeText, Content: "second", Timestamp: 200,
	}))
	require.NoError(t, store.SaveMessage(ctx, &models.Message{
		MessageID: "m3", RoomID: "other", MessageType: models.MsgTypeText, Content: "elsewhere", Timestamp: 150,
	}))

	msgs, err := store.GetMessagesForRoom(ctx, "r1", 0)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	require.Equal(t, "m1", msgs[0].MessageID)
	require.Equal(t, "m2", msgs[1].MessageID)

	limited, err := store.GetMessagesForRoom(ctx, "r1", 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)

	require.NoError(t, store.DeleteMessage(ctx, "m1"))
	_, err = store.GetMessage(ctx, "m1")
	require.True(t, errors.Is(err, storage.ErrNoRows))
}

func TestDeleteRoomDropsMessages(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveRoom(ctx, testRoom("r1")))
	require.NoError(t, store.SaveMessage(ctx, &models.Message{
		MessageID: "m1", RoomID: "r1", MessageType: models.MsgTypeText, Content: "hi", Timestamp: 1,
	}))

	require.NoError(t, store.DeleteRoom(ctx, "r1"))
	msgs, err := store.GetMessagesForRoom(ctx, "r1", 0)
	require.NoError(t, err)
	require.Empty(t, msgs)
}

func TestPeerCRUD(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.GetPeer(ctx, "missing")
	require.True(t, errors.Is(err, storage.ErrNoRows))

	peer := &models.Peer{PeerID: "peer-a", PeerName: "alice", PeerImage: "img"}
	require.NoError(t, store.SavePeer(ctx, peer))

	// replace updates the profile in place
	peer.PeerName = "alice2"
	require.NoError(t, store.SavePeer(ctx, peer))

	got, err := store.GetPeer(ctx, "peer-a")
	require.NoError(t, err)
	require.Equal(t, "alice2", got.PeerName)

	all, err := store.GetAllPeers(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
}

func TestMessageWriter(t *testing.T) {
	store := newTestStore(t)
	w := storage.NewMessageWriter(16, logger.Nop())
	w.Start(store)

	var results []<-chan error
	for i := 0; i < 5; i++ {
		res, err := w.Enqueue(&models.Message{
			MessageID:   fmt.Sprintf("m%d", i),
			RoomID:      "r1",
			MessageType: models.MsgTypeText,
			Content:     "queued",
			Timestamp:   int64(i),
		})
		require.NoError(t, err)
		results = append(results, res)
	}

	// Stop drains the queue before returning
	w.Stop()
	for _, res := range results {
		require.NoError(t, <-res)
	}

	msgs, err := store.GetMessagesForRoom(context.Background(), "r1", 0)
	require.NoError(t, err)
	require.Len(t, msgs, 5)
}

func TestMessageWriterReportsFailedSaves(t *testing.T) {
	store := newTestStore(t)
	var buf bytes.Buffer
	w := storage.NewMessageWriter(4, logger.NewWithWriter(logger.LevelError, &buf))
	w.Start(store)

	// closing the database makes every subsequent save fail
	store.Close()
	res, err := w.Enqueue(&models.Message{
		MessageID:   "m-fail",
		RoomID:      "r1",
		MessageType: models.MsgTypeText,
		Content:     "doomed",
		Timestamp:   1,
	})
	require.NoError(t, err)
	w.Stop()

	require.Error(t, <-res, "the enqueue result must carry the save error")
	require.Contains(t, buf.String(), "saving queued message failed")
	require.Contains(t, buf.String(), "m-fail")
}

func TestMessageWriterQueueFull(t *testing.T) {
	w := storage.NewMessageWriter(1, logger.Nop())
	// never started: the queue fills immediately
	_, err := w.Enqueue(&models.Message{MessageID: "a"})
	require.NoError(t, err)
	_, err = w.Enqueue(&models.Message{MessageID: "b"})
	require.True(t, errors.Is(err, storage.ErrQueueFull), "got %v", err)
}
