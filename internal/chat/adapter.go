// Package chat is the application-facing surface of the subsystem: room
// lifecycle, message flow, DM invitations and the persistence gating rule
// that separates session messages from durable ones.
package chat

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"tribechat/internal/config"
	"tribechat/internal/crypto"
	"tribechat/internal/logger"
	"tribechat/internal/models"
	"tribechat/internal/p2p"
	"tribechat/internal/pipeline"
	"tribechat/internal/storage"
	"tribechat/internal/utils"
)

// seenLimit bounds the display-dedupe window. A message id seen twice
// (live copy, then root peer echo) is displayed once but both copies still
// run the persistence gate.
const seenLimit = 1024

// Network is the slice of the p2p manager the adapter drives.
type Network interface {
	Initialize(ctx context.Context, seedHex string) error
	Keys() (models.KeyPair, error)
	JoinRoom(ctx context.Context, roomID, roomKey string) (p2p.JoinResult, error)
	LeaveRoom(ctx context.Context, roomID string) error
	SendMessage(ctx context.Context, roomID string, msg models.Message) (p2p.SendResult, error)
	RequestSync(ctx context.Context, roomID string, lastIndex uint64) error
	ConnectedPeers(ctx context.Context) ([]string, error)
	IsRootPeerConnected() bool
	ReconnectRootPeer(ctx context.Context) (p2p.ReconnectResult, error)
	WaitForRootPeer(ctx context.Context, timeout time.Duration, triggerReconnect bool) error
	Events() <-chan p2p.Event
	Close() error
}

// Store is the persistence surface the adapter and pipeline share.
type Store interface {
	pipeline.Store
	GetRoomByKey(ctx context.Context, roomKey string) (*models.Room, error)
	GetAllRooms(ctx context.Context) ([]*models.Room, error)
	SetInitializedIdentity(ctx context.Context, roomID string, v bool) error
	TouchRoom(ctx context.Context, roomID string) error
	SaveMessage(ctx context.Context, msg *models.Message) error
	GetMessagesForRoom(ctx context.Context, roomID string, limit int) ([]*models.Message, error)
}

type Adapter struct {
	cfg      *config.Config
	log      *logger.Logger
	net      Network
	store    Store
	pipeline *pipeline.Registry
	events   *handlerTable

	mu          sync.Mutex
	initialized bool
	keys        models.KeyPair
	profile     models.Profile
	currentRoom *models.Room

	seen  map[string]struct{}
	seenQ []string

	loopCancel context.CancelFunc
	loopDone   chan struct{}
}

func NewAdapter(cfg *config.Config, net Network, store Store, log *logger.Logger) *Adapter {
	return &Adapter{
		cfg:      cfg,
		log:      log.With("component", "chat"),
		net:      net,
		store:    store,
		pipeline: pipeline.NewRegistry(log),
		events:   newHandlerTable(),
		seen:     make(map[string]struct{}),
	}
}

// On registers a handler for one event type.
func (a *Adapter) On(t EventType, fn Handler) {
	a.events.on(t, fn)
}

// Initialize brings up the network manager, caches the identity keys and
// profile, and starts consuming network events.
func (a *Adapter) Initialize(ctx context.Context, seedHex string, profile models.Profile) error {
	if err := a.net.Initialize(ctx, seedHex); err != nil {
		return err
	}
	keys, err := a.net.Keys()
	if err != nil {
		return err
	}

	a.mu.Lock()
	a.keys = keys
	a.profile = profile
	a.initialized = true
	if a.loopDone == nil {
		loopCtx, cancel := context.WithCancel(context.Background())
		a.loopCancel = cancel
		done := make(chan struct{})
		a.loopDone = done
		go a.eventLoop(loopCtx, done)
	}
	a.mu.Unlock()
	return nil
}

// Close stops the event loop and tears down the network manager.
func (a *Adapter) Close() error {
	a.mu.Lock()
	if a.loopCancel != nil {
		a.loopCancel()
		a.loopCancel = nil
	}
	done := a.loopDone
	a.loopDone = nil
	a.initialized = false
	a.currentRoom = nil
	a.mu.Unlock()

	err := a.net.Close()
	if done != nil {
		<-done
	}
	return err
}

// Keys returns the cached identity keypair.
func (a *Adapter) Keys() (models.KeyPair, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.initialized {
		return models.KeyPair{}, ErrNotInitialized
	}
	return a.keys, nil
}

// CurrentRoom returns the active room, or nil.
func (a *Adapter) CurrentRoom() *models.Room {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.currentRoom
}

// CreateRoom builds and persists a room record. With joinKey set it adopts
// an externally created room's key instead of generating a fresh one; the
// room still has to be joined separately.
func (a *Adapter) CreateRoom(ctx context.Context, name string, roomType models.RoomType, description, image, joinKey string) (*models.Room, error) {
	if err := a.requireInit(); err != nil {
		return nil, err
	}
	roomKey := joinKey
	if roomKey == "" {
		var err error
		roomKey, err = crypto.GenerateRoomKey()
		if err != nil {
			return nil, err
		}
	} else if !crypto.IsValidRoomKey(roomKey) {
		return nil, ErrInvalidRoomKey
	}

	now := time.Now().UnixMilli()
	room := &models.Room{
		RoomID:          crypto.DeriveRoomID(roomKey),
		RoomKey:         roomKey,
		RoomType:        roomType,
		RoomName:        name,
		RoomDescription: description,
		Peers:           []string{},
		Creator:         a.keys.PublicKey,
		CreatedAt:       now,
		LastActive:      now,
		RoomImage:       image,
	}
	if err := a.store.SaveRoom(ctx, room); err != nil {
		return nil, err
	}
	a.log.Info("room created", "room", utils.ShortKey(room.RoomID), "type", string(roomType))
	a.events.dispatch(Event{Type: EventRoomCreated, Room: room})
	return room, nil
}

// JoinRoom joins the room persisted under roomKey and makes it the active
// room. Joining while another room is active performs an implicit leave
// first. After the network join it requests a sync from lastSyncIndex and
// only then, when the sync succeeded and the room has never announced,
// sends the identity announcement; identity failures are logged, never
// returned.
func (a *Adapter) JoinRoom(ctx context.Context, roomKey string, lastSyncIndex uint64) (*models.Room, error) {
	if err := a.requireInit(); err != nil {
		return nil, err
	}
	if !crypto.IsValidRoomKey(roomKey) {
		return nil, ErrInvalidRoomKey
	}
	room, err := a.store.GetRoomByKey(ctx, roomKey)
	if err != nil {
		if errors.Is(err, storage.ErrNoRows) {
			return nil, ErrRoomNotFound
		}
		return nil, err
	}

	a.mu.Lock()
	prev := a.currentRoom
	a.mu.Unlock()
	if prev != nil && prev.RoomID != room.RoomID {
		if err := a.leave(ctx, prev); err != nil {
			a.log.Warn("implicit leave before join failed", "room", prev.RoomID, "err", err)
		}
	}

	if _, err := a.net.JoinRoom(ctx, room.RoomID, roomKey); err != nil {
		return nil, err
	}
	a.mu.Lock()
	a.currentRoom = room
	a.mu.Unlock()

	if err := a.store.TouchRoom(ctx, room.RoomID); err != nil {
		a.log.Warn("touching room failed", "room", room.RoomID, "err", err)
	}
	a.events.dispatch(Event{Type: EventRoomJoined, Room: room})

	// sync strictly before the identity announcement: joining peers must
	// see existing history before either side decides who announces
	syncErr := a.net.RequestSync(ctx, room.RoomID, lastSyncIndex)
	if syncErr != nil {
		a.log.Warn("room sync failed", "room", room.RoomID, "err", syncErr)
	}
	if !room.InitializedIdentity && syncErr == nil {
		a.sendIdentity(ctx, room)
	}
	return room, nil
}

// sendIdentity announces the local profile into the room. Failures are
// logged and swallowed: a broken announcement must not undo a join.
func (a *Adapter) sendIdentity(ctx context.Context, room *models.Room) {
	ann, err := json.Marshal(models.IdentityAnnouncement{
		Name:      a.profile.Name,
		PublicKey: a.keys.PublicKey,
		Image:     a.profile.Image,
	})
	if err != nil {
		a.log.Warn("marshaling identity announcement failed", "err", err)
		return
	}
	msg := models.Message{
		MessageID:   uuid.NewString(),
		RoomID:      room.RoomID,
		SenderID:    a.keys.PublicKey,
		MessageType: models.MsgTypeIdentity,
		Content:     string(ann),
		Timestamp:   time.Now().UnixMilli(),
	}
	if _, err := a.net.SendMessage(ctx, room.RoomID, msg); err != nil {
		a.log.Warn("identity announcement failed", "room", room.RoomID, "err", err)
		return
	}
	if err := a.store.SetInitializedIdentity(ctx, room.RoomID, true); err != nil {
		a.log.Warn("flagging identity sent failed", "room", room.RoomID, "err", err)
		return
	}
	room.InitializedIdentity = true
}

// SendMessage transmits content into the active room and runs it through
// the pipeline for immediate local display. The message is NOT persisted
// here: the durable copy arrives later as the root peer echo.
func (a *Adapter) SendMessage(ctx context.Context, content string, msgType models.MessageType) (*models.Message, error) {
	if err := a.requireInit(); err != nil {
		return nil, err
	}
	a.mu.Lock()
	room := a.currentRoom
	keys := a.keys
	a.mu.Unlock()
	if room == nil {
		return nil, ErrNoActiveRoom
	}

	msg := models.Message{
		MessageID:   uuid.NewString(),
		RoomID:      room.RoomID,
		SenderID:    keys.PublicKey,
		MessageType: msgType,
		Content:     content,
		Timestamp:   time.Now().UnixMilli(),
	}
	if _, err := a.net.SendMessage(ctx, room.RoomID, msg); err != nil {
		return nil, err
	}

	res := a.pipeline.Process(ctx, msg, a.pipelineContext(room.RoomID))
	a.markSeen(msg.MessageID)
	if err := a.store.TouchRoom(ctx, room.RoomID); err != nil {
		a.log.Warn("touching room failed", "room", room.RoomID, "err", err)
	}
	a.events.dispatch(Event{Type: EventMessageSent, Room: room, Message: &res.Processed})
	return &res.Processed, nil
}

// LeaveRoom leaves the active room and clears the current-room pointer.
func (a *Adapter) LeaveRoom(ctx context.Context) error {
	if err := a.requireInit(); err != nil {
		return err
	}
	a.mu.Lock()
	room := a.currentRoom
	a.mu.Unlock()
	if room == nil {
		return ErrNoActiveRoom
	}
	return a.leave(ctx, room)
}

func (a *Adapter) leave(ctx context.Context, room *models.Room) error {
	err := a.net.LeaveRoom(ctx, room.RoomID)
	a.mu.Lock()
	if a.currentRoom != nil && a.currentRoom.RoomID == room.RoomID {
		a.currentRoom = nil
	}
	a.mu.Unlock()
	a.events.dispatch(Event{Type: EventRoomLeft, Room: room})
	return err
}

// SyncInbox drains the own identity's inbox: join, request queued
// invitations, dwell long enough for them to arrive, leave. The
// current-room pointer is never touched; the inbox visit runs alongside
// whatever room is active.
func (a *Adapter) SyncInbox(ctx context.Context, lastSyncIndex uint64) error {
	if err := a.requireInit(); err != nil {
		return err
	}
	a.mu.Lock()
	pub := a.keys.PublicKey
	a.mu.Unlock()

	inboxKey := crypto.GenerateInboxRoomKey(pub)
	inboxID := crypto.DeriveRoomID(inboxKey)

	if _, err := a.store.GetRoom(ctx, inboxID); err != nil {
		if !errors.Is(err, storage.ErrNoRows) {
			return err
		}
		now := time.Now().UnixMilli()
		if err := a.store.SaveRoom(ctx, &models.Room{
			RoomID:     inboxID,
			RoomKey:    inboxKey,
			RoomType:   models.RoomTypeInbox,
			RoomName:   "Inbox",
			Peers:      []string{},
			Creator:    pub,
			CreatedAt:  now,
			LastActive: now,
		}); err != nil {
			return err
		}
	}

	if _, err := a.net.JoinRoom(ctx, inboxID, inboxKey); err != nil {
		return err
	}
	defer func() {
		if err := a.net.LeaveRoom(context.Background(), inboxID); err != nil {
			a.log.Warn("leaving inbox failed", "err", err)
		}
	}()

	if err := a.net.RequestSync(ctx, inboxID, lastSyncIndex); err != nil {
		a.log.Warn("inbox sync failed", "err", err)
	}

	// bounded drain, not a subscription
	timer := time.NewTimer(a.cfg.InboxDwell)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
	return nil
}

// SendDMInvitation creates a DM room with the recipient and delivers the
// fully encrypted invitation through their inbox. An existing DM room with
// that participant short-circuits without sending anything.
func (a *Adapter) SendDMInvitation(ctx context.Context, recipientPub, name, image string) (*models.Room, error) {
	if err := a.requireInit(); err != nil {
		return nil, err
	}
	a.mu.Lock()
	keys := a.keys
	profile := a.profile
	a.mu.Unlock()

	rooms, err := a.store.GetAllRooms(ctx)
	if err != nil {
		return nil, err
	}
	for _, room := range rooms {
		if room.RoomType == models.RoomTypeDirectMessage && room.OtherParticipantPubKey == recipientPub {
			return room, nil
		}
	}

	dmKey, err := crypto.GenerateRoomKey()
	if err != nil {
		return nil, err
	}
	dmID := crypto.DeriveRoomID(dmKey)

	inv := models.DMInvitation{
		InvitationType:  models.InvitationTypeDM,
		DMRoomKey:       dmKey,
		DMRoomID:        dmID,
		SenderPublicKey: keys.PublicKey,
		SenderName:      profile.Name,
		SenderImage:     profile.Image,
		InvitationID:    uuid.NewString(),
		Timestamp:       time.Now().UnixMilli(),
	}
	payload, err := json.Marshal(inv)
	if err != nil {
		return nil, err
	}
	// the entire payload is sealed: the relay carrying the inbox learns
	// neither sender identity nor the room key
	ciphertext, err := crypto.EncryptWithPublicKey(payload, recipientPub, keys.SecretKey)
	if err != nil {
		return nil, err
	}

	now := time.Now().UnixMilli()
	room := &models.Room{
		RoomID:                 dmID,
		RoomKey:                dmKey,
		RoomType:               models.RoomTypeDirectMessage,
		RoomName:               name,
		Peers:                  []string{},
		Creator:                keys.PublicKey,
		CreatedAt:              now,
		LastActive:             now,
		RoomImage:              image,
		OtherParticipantPubKey: recipientPub,
	}
	if err := a.store.SaveRoom(ctx, room); err != nil {
		return nil, err
	}

	// transient visit to the recipient's inbox, addressable from their
	// public key alone
	inboxKey := crypto.GenerateInboxRoomKey(recipientPub)
	inboxID := crypto.DeriveRoomID(inboxKey)
	if _, err := a.net.JoinRoom(ctx, inboxID, inboxKey); err != nil {
		return nil, err
	}
	defer func() {
		if err := a.net.LeaveRoom(context.Background(), inboxID); err != nil {
			a.log.Warn("leaving recipient inbox failed", "err", err)
		}
	}()

	msg := models.Message{
		MessageID:   uuid.NewString(),
		RoomID:      inboxID,
		SenderID:    keys.PublicKey,
		MessageType: models.MsgTypeDMInvite,
		Content:     ciphertext,
		Timestamp:   now,
	}
	if _, err := a.net.SendMessage(ctx, inboxID, msg); err != nil {
		return nil, err
	}
	a.log.Info("dm invitation sent", "room", utils.ShortKey(dmID))
	a.events.dispatch(Event{Type: EventDMInvitationSent, Room: room})
	return room, nil
}

// GetAllRooms lists every locally known room, most recently active first.
func (a *Adapter) GetAllRooms(ctx context.Context) ([]*models.Room, error) {
	if err := a.requireInit(); err != nil {
		return nil, err
	}
	return a.store.GetAllRooms(ctx)
}

// GetMessages returns the durable history of one room.
func (a *Adapter) GetMessages(ctx context.Context, roomID string, limit int) ([]*models.Message, error) {
	if err := a.requireInit(); err != nil {
		return nil, err
	}
	return a.store.GetMessagesForRoom(ctx, roomID, limit)
}

func (a *Adapter) GetConnectedPeers(ctx context.Context) ([]string, error) {
	if err := a.requireInit(); err != nil {
		return nil, err
	}
	return a.net.ConnectedPeers(ctx)
}

func (a *Adapter) IsRootPeerConnected() bool {
	if err := a.requireInit(); err != nil {
		return false
	}
	return a.net.IsRootPeerConnected()
}

func (a *Adapter) ReconnectRootPeer(ctx context.Context) (p2p.ReconnectResult, error) {
	if err := a.requireInit(); err != nil {
		return p2p.ReconnectResult{}, err
	}
	return a.net.ReconnectRootPeer(ctx)
}

func (a *Adapter) WaitForRootPeer(ctx context.Context, timeout time.Duration, triggerReconnect bool) error {
	if err := a.requireInit(); err != nil {
		return err
	}
	return a.net.WaitForRootPeer(ctx, timeout, triggerReconnect)
}

func (a *Adapter) requireInit() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.initialized {
		return ErrNotInitialized
	}
	return nil
}

func (a *Adapter) pipelineContext(roomID string) *pipeline.Context {
	a.mu.Lock()
	keys := a.keys
	a.mu.Unlock()
	return &pipeline.Context{
		RoomID: roomID,
		Keys:   keys,
		Store:  a.store,
		Log:    a.log,
	}
}

// eventLoop consumes network events for the lifetime of the adapter. The
// done channel is passed in rather than read from the struct: Close nils
// the field concurrently.
func (a *Adapter) eventLoop(ctx context.Context, done chan struct{}) {
	defer close(done)
	events := a.net.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			a.handleNetworkEvent(ctx, evt)
		}
	}
}

func (a *Adapter) handleNetworkEvent(ctx context.Context, evt p2p.Event) {
	switch evt.Type {
	case p2p.EventPeerConnected:
		a.events.dispatch(Event{Type: EventPeerConnected, PeerID: evt.PeerID})
	case p2p.EventPeerDisconnected:
		a.events.dispatch(Event{Type: EventPeerDisconnected, PeerID: evt.PeerID})
	case p2p.EventRootPeerConnected:
		a.events.dispatch(Event{Type: EventRootPeerConnected, PeerID: evt.PeerID})
	case p2p.EventRootPeerDisconnected:
		a.events.dispatch(Event{Type: EventRootPeerDisconnected, PeerID: evt.PeerID})
	case p2p.EventError:
		a.events.dispatch(Event{Type: EventError, Err: evt.Err})
	case p2p.EventMessagesReceived:
		for _, rm := range evt.Messages {
			a.handleReceived(ctx, rm)
		}
	}
}

// handleReceived applies the ordering invariant: a message is durably
// saved iff its processor said ShouldSave AND it arrived through the root
// peer. Direct copies are session messages, displayed but not stored.
func (a *Adapter) handleReceived(ctx context.Context, rm models.ReceivedMessage) {
	res := a.pipeline.Process(ctx, rm.Message, a.pipelineContext(rm.RoomID))

	if res.ShouldSave && rm.FromRootPeer {
		if err := a.store.SaveMessage(ctx, &res.Processed); err != nil {
			a.log.Error("persisting message failed", "id", res.Processed.MessageID, "err", err)
		}
		if err := a.store.TouchRoom(ctx, rm.RoomID); err != nil {
			a.log.Warn("touching room failed", "room", rm.RoomID, "err", err)
		}
	}

	if res.ShouldDisplay && !a.markSeen(res.Processed.MessageID) {
		a.mu.Lock()
		room := a.currentRoom
		a.mu.Unlock()
		a.events.dispatch(Event{Type: EventMessageReceived, Room: room, Message: &res.Processed})
	}
}

// markSeen records a message id in the display-dedupe window and reports
// whether it was already there.
func (a *Adapter) markSeen(messageID string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.seen[messageID]; ok {
		return true
	}
	a.seen[messageID] = struct{}{}
	a.seenQ = append(a.seenQ, messageID)
	if len(a.seenQ) > seenLimit {
		delete(a.seen, a.seenQ[0])
		a.seenQ = a.seenQ[1:]
	}
	return false
}
