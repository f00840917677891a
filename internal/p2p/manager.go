// Package p2p is the network layer of the chat subsystem. The exported
// Manager talks to an isolated node actor over a request channel; room keys
// stay on the Manager side of that boundary, so the worker only ever sees
// ciphertext.
package p2p

import (
	"context"
	"encoding/hex"
	"sync"
	"time"

	"github.com/cloudflare/circl/sign/ed25519"

	"tribechat/internal/config"
	"tribechat/internal/crypto"
	"tribechat/internal/logger"
	"tribechat/internal/models"
	"tribechat/internal/utils"
)

type JoinResult struct {
	Success       bool
	AlreadyJoined bool
}

type SendResult struct {
	Success bool
	SentTo  int
}

type ReconnectResult struct {
	Success          bool
	AlreadyConnected bool
}

type Manager struct {
	cfg *config.Config
	log *logger.Logger

	mu       sync.RWMutex
	keys     models.KeyPair
	roomKeys map[string]string
	n        *node

	events chan Event
}

func NewManager(cfg *config.Config, log *logger.Logger) *Manager {
	return &Manager{
		cfg:      cfg,
		log:      log.With("component", "p2p-manager"),
		roomKeys: make(map[string]string),
		events:   make(chan Event, 64),
	}
}

// Initialize derives the Ed25519 identity from seedHex, starts the node
// actor and begins root peer discovery. Calling it again after a node
// crash builds a fresh actor.
func (m *Manager) Initialize(ctx context.Context, seedHex string) error {
	seed, err := hex.DecodeString(seedHex)
	if err != nil || len(seed) != ed25519.SeedSize {
		return ErrBadSeed.WithDetails("seed must be 32 hex-encoded bytes")
	}
	priv := ed25519.NewKeyFromSeed(seed)
	pub := priv.Public().(ed25519.PublicKey)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.n != nil {
		select {
		case <-m.n.done:
			// previous actor crashed, replace it
		default:
			return nil
		}
	}

	n, err := newNode(ctx, m.cfg, priv, m.log)
	if err != nil {
		return err
	}
	m.keys = models.KeyPair{
		PublicKey: hex.EncodeToString(pub),
		SecretKey: hex.EncodeToString(priv),
	}
	m.n = n
	go m.pump(n)
	return nil
}

// Keys returns the identity keypair derived at Initialize.
func (m *Manager) Keys() (models.KeyPair, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.n == nil {
		return models.KeyPair{}, ErrNotInitialized
	}
	return m.keys, nil
}

// Events is the stream of network notifications. Message batches arrive
// already decrypted.
func (m *Manager) Events() <-chan Event {
	return m.events
}

// JoinRoom subscribes the room topic and registers the room with the root
// peer. The key is retained here for encrypt/decrypt and never crosses
// into the node.
func (m *Manager) JoinRoom(ctx context.Context, roomID, roomKey string) (JoinResult, error) {
	m.mu.Lock()
	m.roomKeys[roomID] = roomKey
	m.mu.Unlock()

	resp, err := m.request(ctx, nodeRequest{kind: reqJoinRoom, roomID: roomID})
	if err != nil {
		return JoinResult{}, err
	}
	if resp.alreadyJoined {
		return JoinResult{Success: true, AlreadyJoined: true}, nil
	}
	return JoinResult{Success: true}, nil
}

// LeaveRoom unsubscribes the room topic and forgets the room key.
func (m *Manager) LeaveRoom(ctx context.Context, roomID string) error {
	_, err := m.request(ctx, nodeRequest{kind: reqLeaveRoom, roomID: roomID})
	m.mu.Lock()
	delete(m.roomKeys, roomID)
	m.mu.Unlock()
	return err
}

// SendMessage encrypts msg with the room key, publishes the ciphertext to
// the room topic and stores it with the root peer.
func (m *Manager) SendMessage(ctx context.Context, roomID string, msg models.Message) (SendResult, error) {
	m.mu.RLock()
	roomKey, ok := m.roomKeys[roomID]
	m.mu.RUnlock()
	if !ok {
		return SendResult{}, ErrRoomNotJoined.WithDetails(roomID)
	}
	ciphertext, err := crypto.Encrypt(roomKey, msg)
	if err != nil {
		return SendResult{}, err
	}
	env := models.CipherEnvelope{
		MessageID:  msg.MessageID,
		RoomID:     roomID,
		Ciphertext: ciphertext,
		Timestamp:  msg.Timestamp,
	}
	resp, err := m.request(ctx, nodeRequest{kind: reqPublish, roomID: roomID, env: env})
	if err != nil {
		return SendResult{}, err
	}
	return SendResult{Success: true, SentTo: resp.sentTo}, nil
}

// RequestSync asks the root peer for every message in the room after
// lastIndex. Results arrive as an EventMessagesReceived batch tagged as
// root peer copies.
func (m *Manager) RequestSync(ctx context.Context, roomID string, lastIndex uint64) error {
	_, err := m.request(ctx, nodeRequest{kind: reqSync, roomID: roomID, lastIndex: lastIndex})
	return err
}

// ConnectedPeers lists the ids of currently connected peers.
func (m *Manager) ConnectedPeers(ctx context.Context) ([]string, error) {
	resp, err := m.request(ctx, nodeRequest{kind: reqPeers})
	if err != nil {
		return nil, err
	}
	return resp.peers, nil
}

func (m *Manager) IsRootPeerConnected() bool {
	resp, err := m.request(context.Background(), nodeRequest{kind: reqRootState})
	if err != nil {
		return false
	}
	return resp.connected
}

// ReconnectRootPeer triggers a single reconnection attempt. When already
// connected it short-circuits without dialing anything.
func (m *Manager) ReconnectRootPeer(ctx context.Context) (ReconnectResult, error) {
	resp, err := m.request(ctx, nodeRequest{kind: reqReconnect})
	if err != nil {
		return ReconnectResult{}, err
	}
	if resp.alreadyJoined {
		return ReconnectResult{AlreadyConnected: true}, nil
	}
	return ReconnectResult{Success: true}, nil
}

// WaitForRootPeer blocks until the root peer is connected, the timeout
// elapses (ErrRootPeerTimeout) or ctx is done. With triggerReconnect set
// it first kicks off a reconnection attempt.
func (m *Manager) WaitForRootPeer(ctx context.Context, timeout time.Duration, triggerReconnect bool) error {
	if triggerReconnect {
		if res, err := m.ReconnectRootPeer(ctx); err != nil {
			return err
		} else if res.AlreadyConnected {
			return nil
		}
	}
	resp, err := m.request(ctx, nodeRequest{kind: reqRootState})
	if err != nil {
		return err
	}
	if resp.connected {
		return nil
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-resp.waitCh:
		return nil
	case <-timer.C:
		return ErrRootPeerTimeout
	case <-ctx.Done():
		return ErrRootPeerTimeout.WithDetails(ctx.Err().Error())
	}
}

// Close tears down the node actor. The manager must be re-initialized
// before further use.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.n == nil {
		return nil
	}
	m.n.cancel()
	<-m.n.done
	m.n = nil
	m.roomKeys = make(map[string]string)
	return nil
}

// request sends one request into the actor. If the actor has terminated,
// pending and future requests fail with ErrNetworkFailure until the
// manager is re-initialized.
func (m *Manager) request(ctx context.Context, req nodeRequest) (nodeResponse, error) {
	m.mu.RLock()
	n := m.n
	m.mu.RUnlock()
	if n == nil {
		return nodeResponse{}, ErrNotInitialized
	}

	req.resp = make(chan nodeResponse, 1)
	select {
	case n.reqCh <- req:
	case <-n.done:
		return nodeResponse{}, ErrNetworkFailure.WithDetails("network worker terminated")
	case <-ctx.Done():
		return nodeResponse{}, ErrNetworkFailure.WithDetails(ctx.Err().Error())
	}
	select {
	case resp := <-req.resp:
		return resp, resp.err
	case <-n.done:
		return nodeResponse{}, ErrNetworkFailure.WithDetails("network worker terminated")
	case <-ctx.Done():
		return nodeResponse{}, ErrNetworkFailure.WithDetails(ctx.Err().Error())
	}
}

// pump translates node events into public ones, decrypting message batches
// with the manager-held room keys. When the actor terminates an Error
// event is emitted and the stream for that actor ends.
func (m *Manager) pump(n *node) {
	for {
		select {
		case evt := <-n.events:
			if evt.batch == nil {
				m.emit(evt.evt)
				continue
			}
			m.emitBatch(evt.roomID, evt.batch)
		case <-n.done:
			m.emit(Event{Type: EventError, Err: ErrNetworkFailure.WithDetails("network worker terminated")})
			return
		}
	}
}

func (m *Manager) emitBatch(roomID string, batch []rawMessage) {
	m.mu.RLock()
	roomKey, ok := m.roomKeys[roomID]
	m.mu.RUnlock()
	if !ok {
		m.log.Debug("dropping batch for unknown room", "room", utils.ShortKey(roomID))
		return
	}
	out := make([]models.ReceivedMessage, 0, len(batch))
	for _, raw := range batch {
		var msg models.Message
		if err := crypto.Decrypt(roomKey, raw.Env.Ciphertext, &msg); err != nil {
			m.log.Warn("dropping undecryptable message", "room", roomID, "id", raw.Env.MessageID, "err", err)
			continue
		}
		if msg.RoomID == "" {
			msg.RoomID = roomID
		}
		out = append(out, models.ReceivedMessage{Message: msg, FromRootPeer: raw.FromRootPeer})
	}
	if len(out) == 0 {
		return
	}
	m.emit(Event{Type: EventMessagesReceived, RoomID: roomID, Messages: out})
}

func (m *Manager) emit(evt Event) {
	select {
	case m.events <- evt:
	default:
		m.log.Warn("event consumer falling behind, dropping event", "type", evt.Type.String())
	}
}
