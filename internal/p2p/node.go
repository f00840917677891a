package p2p

import (
	"context"
	"encoding/json"
	"time"

	libp2p "github.com/libp2p/go-libp2p"
	dht "github.com/libp2p/go-libp2p-kad-dht"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	libp2pcrypto "github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/p2p/discovery/routing"
	"github.com/multiformats/go-multiaddr"

	"tribechat/internal/config"
	"tribechat/internal/logger"
	"tribechat/internal/models"
)

// node is the isolated network worker. It owns the libp2p host, DHT,
// pubsub and the root peer connection, and is driven entirely through
// reqCh by the Manager. Room keys never enter this type: everything the
// node touches is ciphertext.
type node struct {
	ctx    context.Context
	cancel context.CancelFunc
	cfg    *config.Config
	log    *logger.Logger

	host host.Host
	dht  *dht.IpfsDHT
	ps   *pubsub.PubSub

	topics map[string]*roomTopic

	rootPeer      peer.ID
	rootConnected bool
	rootWait      chan struct{}
	lastAnnounce  *models.RootPeerAnnounce

	reqCh      chan nodeRequest
	inboundCh  chan inboundEnvelope
	notifCh    chan Event
	announceCh chan models.RootPeerAnnounce
	rootConnCh chan rootConnResult
	events     chan nodeEvent
	done       chan struct{}
}

type roomTopic struct {
	topic  *pubsub.Topic
	sub    *pubsub.Subscription
	cancel context.CancelFunc
}

type nodeReqKind int

const (
	reqJoinRoom nodeReqKind = iota
	reqLeaveRoom
	reqPublish
	reqSync
	reqPeers
	reqRootState
	reqReconnect
)

type nodeRequest struct {
	kind      nodeReqKind
	roomID    string
	env       models.CipherEnvelope
	lastIndex uint64
	resp      chan nodeResponse
}

type nodeResponse struct {
	err           error
	alreadyJoined bool
	sentTo        int
	peers         []string
	connected     bool
	waitCh        chan struct{}
}

type inboundEnvelope struct {
	roomID string
	env    models.CipherEnvelope
	from   peer.ID
}

type rootConnResult struct {
	pid peer.ID
	err error
}

// rawMessage is one ciphertext handed up to the Manager for decryption.
type rawMessage struct {
	Env          models.CipherEnvelope
	FromRootPeer bool
}

// nodeEvent is either a connectivity event or a batch of ciphertexts.
type nodeEvent struct {
	evt    Event
	roomID string
	batch  []rawMessage
}

func newNode(parent context.Context, cfg *config.Config, identityPriv []byte, log *logger.Logger) (*node, error) {
	ctx, cancel := context.WithCancel(parent)

	pk, err := libp2pcrypto.UnmarshalEd25519PrivateKey(identityPriv)
	if err != nil {
		cancel()
		return nil, ErrBadSeed.WithDetails(err.Error())
	}
	h, err := libp2p.New(
		libp2p.Identity(pk),
		libp2p.ListenAddrStrings(cfg.ListenAddrs...),
	)
	if err != nil {
		cancel()
		return nil, ErrNetworkFailure.WithDetails(err.Error())
	}
	kdht, err := dht.New(ctx, h)
	if err != nil {
		cancel()
		_ = h.Close()
		return nil, ErrNetworkFailure.WithDetails(err.Error())
	}
	if err := kdht.Bootstrap(ctx); err != nil {
		cancel()
		_ = h.Close()
		return nil, ErrNetworkFailure.WithDetails(err.Error())
	}
	ps, err := pubsub.NewGossipSub(ctx, h)
	if err != nil {
		cancel()
		_ = h.Close()
		return nil, ErrNetworkFailure.WithDetails(err.Error())
	}

	n := &node{
		ctx:        ctx,
		cancel:     cancel,
		cfg:        cfg,
		log:        log.With("component", "p2p-node"),
		host:       h,
		dht:        kdht,
		ps:         ps,
		topics:     make(map[string]*roomTopic),
		rootWait:   make(chan struct{}),
		reqCh:      make(chan nodeRequest),
		inboundCh:  make(chan inboundEnvelope, 64),
		notifCh:    make(chan Event, 16),
		announceCh: make(chan models.RootPeerAnnounce, 4),
		rootConnCh: make(chan rootConnResult, 4),
		events:     make(chan nodeEvent, 64),
		done:       make(chan struct{}),
	}

	h.Network().Notify(&network.NotifyBundle{
		ConnectedF: func(_ network.Network, c network.Conn) {
			n.pushNotif(Event{Type: EventPeerConnected, PeerID: c.RemotePeer().String()})
		},
		DisconnectedF: func(_ network.Network, c network.Conn) {
			n.pushNotif(Event{Type: EventPeerDisconnected, PeerID: c.RemotePeer().String()})
		},
	})

	if err := n.watchAnnouncements(); err != nil {
		cancel()
		_ = h.Close()
		return nil, err
	}
	go n.discoverRootPeer()
	go n.run()
	return n, nil
}

// pushNotif forwards a connectivity notification without ever blocking the
// libp2p network callback.
func (n *node) pushNotif(evt Event) {
	select {
	case n.notifCh <- evt:
	default:
	}
}

// watchAnnouncements subscribes to the root peer announce topic and feeds
// verified announcements to the actor. Announcements failing signature
// verification against the configured key are dropped.
func (n *node) watchAnnouncements() error {
	topic, err := n.ps.Join(AnnounceTopic(n.cfg.RootPeer.DiscoveryNamespace))
	if err != nil {
		return ErrNetworkFailure.WithDetails(err.Error())
	}
	sub, err := topic.Subscribe()
	if err != nil {
		return ErrNetworkFailure.WithDetails(err.Error())
	}
	go func() {
		for {
			msg, err := sub.Next(n.ctx)
			if err != nil {
				return
			}
			var ann models.RootPeerAnnounce
			if err := json.Unmarshal(msg.Data, &ann); err != nil {
				continue
			}
			if !VerifyAnnounce(&ann, n.cfg.RootPeer.PublicKey) {
				n.log.Warn("dropping root peer announce with bad signature", "from", msg.GetFrom().String())
				continue
			}
			select {
			case n.announceCh <- ann:
			case <-n.ctx.Done():
				return
			}
		}
	}()
	return nil
}

// discoverRootPeer dials the statically configured relay addrs, if any, and
// walks the DHT rendezvous once. Everything after that comes from signed
// announcements.
func (n *node) discoverRootPeer() {
	for _, addr := range n.cfg.RootPeer.Addrs {
		pi, err := peer.AddrInfoFromString(addr)
		if err != nil {
			n.log.Warn("bad static root peer addr", "addr", addr, "err", err)
			continue
		}
		n.tryConnect(*pi)
	}

	rd := routing.NewRoutingDiscovery(n.dht)
	peerCh, err := rd.FindPeers(n.ctx, RendezvousString(n.cfg.RootPeer.DiscoveryNamespace))
	if err != nil {
		n.log.Debug("rendezvous discovery failed", "err", err)
		return
	}
	for pi := range peerCh {
		if pi.ID == n.host.ID() || len(pi.Addrs) == 0 {
			continue
		}
		n.tryConnect(pi)
	}
}

// tryConnect attempts one connection and reports the outcome to the actor.
func (n *node) tryConnect(pi peer.AddrInfo) {
	ctx, cancel := context.WithTimeout(n.ctx, 15*time.Second)
	defer cancel()
	err := n.host.Connect(ctx, pi)
	select {
	case n.rootConnCh <- rootConnResult{pid: pi.ID, err: err}:
	case <-n.ctx.Done():
	}
}

// run is the actor loop. All node state is owned here.
func (n *node) run() {
	defer close(n.done)
	defer n.shutdown()

	for {
		select {
		case <-n.ctx.Done():
			return

		case req := <-n.reqCh:
			n.handleRequest(req)

		case in := <-n.inboundCh:
			if in.from == n.host.ID() {
				continue // own live copy, persisted only via root peer echo
			}
			n.pushEvent(nodeEvent{
				roomID: in.roomID,
				batch:  []rawMessage{{Env: in.env, FromRootPeer: in.from == n.rootPeer}},
			})

		case evt := <-n.notifCh:
			if evt.Type == EventPeerDisconnected && n.rootConnected && evt.PeerID == n.rootPeer.String() {
				n.rootConnected = false
				n.rootWait = make(chan struct{})
				n.pushEvent(nodeEvent{evt: Event{Type: EventRootPeerDisconnected, PeerID: evt.PeerID}})
			}
			n.pushEvent(nodeEvent{evt: evt})

		case ann := <-n.announceCh:
			n.lastAnnounce = &ann
			if !n.rootConnected {
				if pi, err := announceAddrInfo(&ann); err == nil {
					go n.tryConnect(pi)
				}
			}

		case res := <-n.rootConnCh:
			if res.err != nil {
				n.log.Debug("root peer connect attempt failed", "peer", res.pid.String(), "err", res.err)
				continue
			}
			if n.rootConnected {
				continue
			}
			n.rootPeer = res.pid
			n.rootConnected = true
			close(n.rootWait)
			n.pushEvent(nodeEvent{evt: Event{Type: EventRootPeerConnected, PeerID: res.pid.String()}})
			n.registerAllRooms()
		}
	}
}

func (n *node) handleRequest(req nodeRequest) {
	switch req.kind {
	case reqJoinRoom:
		req.resp <- n.joinRoom(req.roomID)
	case reqLeaveRoom:
		req.resp <- n.leaveRoom(req.roomID)
	case reqPublish:
		n.publish(req)
	case reqSync:
		n.syncRoom(req)
	case reqPeers:
		peers := n.host.Network().Peers()
		out := make([]string, 0, len(peers))
		for _, p := range peers {
			out = append(out, p.String())
		}
		req.resp <- nodeResponse{peers: out}
	case reqRootState:
		req.resp <- nodeResponse{connected: n.rootConnected, waitCh: n.rootWait}
	case reqReconnect:
		n.reconnect(req)
	}
}

func (n *node) joinRoom(roomID string) nodeResponse {
	if _, ok := n.topics[roomID]; ok {
		return nodeResponse{alreadyJoined: true}
	}
	topic, err := n.ps.Join(RoomTopic(roomID))
	if err != nil {
		return nodeResponse{err: ErrNetworkFailure.WithDetails(err.Error())}
	}
	sub, err := topic.Subscribe()
	if err != nil {
		_ = topic.Close()
		return nodeResponse{err: ErrNetworkFailure.WithDetails(err.Error())}
	}
	subCtx, cancel := context.WithCancel(n.ctx)
	n.topics[roomID] = &roomTopic{topic: topic, sub: sub, cancel: cancel}
	go n.readLoop(subCtx, roomID, sub)

	if n.rootConnected {
		go n.registerRoom(n.rootPeer, roomID)
	}
	return nodeResponse{}
}

func (n *node) leaveRoom(roomID string) nodeResponse {
	rt, ok := n.topics[roomID]
	if !ok {
		return nodeResponse{err: ErrRoomNotJoined.WithDetails(roomID)}
	}
	delete(n.topics, roomID)
	rt.cancel()
	rt.sub.Cancel()
	if err := rt.topic.Close(); err != nil {
		n.log.Debug("closing room topic", "room", roomID, "err", err)
	}
	return nodeResponse{}
}

// readLoop pumps one room subscription into the actor.
func (n *node) readLoop(ctx context.Context, roomID string, sub *pubsub.Subscription) {
	for {
		msg, err := sub.Next(ctx)
		if err != nil {
			return
		}
		var env models.CipherEnvelope
		if err := json.Unmarshal(msg.Data, &env); err != nil {
			n.log.Debug("dropping malformed envelope", "room", roomID, "err", err)
			continue
		}
		select {
		case n.inboundCh <- inboundEnvelope{roomID: roomID, env: env, from: msg.GetFrom()}:
		case <-ctx.Done():
			return
		}
	}
}

// publish sends the envelope to the room topic and, when connected, stores
// it with the root peer. The topic peer count is reported back so callers
// know how many peers the live copy could reach.
func (n *node) publish(req nodeRequest) {
	rt, ok := n.topics[req.roomID]
	if !ok {
		req.resp <- nodeResponse{err: ErrRoomNotJoined.WithDetails(req.roomID)}
		return
	}
	data, err := json.Marshal(req.env)
	if err != nil {
		req.resp <- nodeResponse{err: ErrNetworkFailure.WithDetails(err.Error())}
		return
	}
	sentTo := len(rt.topic.ListPeers())
	rootConnected, rootPeer := n.rootConnected, n.rootPeer

	go func() {
		if err := rt.topic.Publish(n.ctx, data); err != nil {
			req.resp <- nodeResponse{err: ErrNetworkFailure.WithDetails(err.Error())}
			return
		}
		if rootConnected {
			var resp models.StoreMessageResponse
			err := n.sendRootPeerRequest(n.ctx, rootPeer, "StoreMessage",
				models.StoreMessageRequest{Envelope: req.env}, &resp)
			if err != nil {
				n.log.Warn("store with root peer failed", "room", req.roomID, "err", err)
			}
		}
		req.resp <- nodeResponse{sentTo: sentTo}
	}()
}

// syncRoom asks the relay for everything after lastIndex. Returned messages
// flow through the normal event stream tagged as root peer copies.
func (n *node) syncRoom(req nodeRequest) {
	if !n.rootConnected {
		req.resp <- nodeResponse{err: ErrNetworkFailure.WithDetails("root peer not connected")}
		return
	}
	rootPeer := n.rootPeer
	go func() {
		ctx, cancel := context.WithTimeout(n.ctx, n.cfg.SyncTimeout)
		defer cancel()

		var resp models.SyncResponse
		err := n.sendRootPeerRequest(ctx, rootPeer, "Sync",
			models.SyncRequest{RoomID: req.roomID, LastIndex: req.lastIndex}, &resp)
		if err != nil {
			req.resp <- nodeResponse{err: err}
			return
		}
		if resp.Error != "" {
			req.resp <- nodeResponse{err: ErrNetworkFailure.WithDetails(resp.Error)}
			return
		}
		if len(resp.Messages) > 0 {
			batch := make([]rawMessage, 0, len(resp.Messages))
			for _, m := range resp.Messages {
				batch = append(batch, rawMessage{Env: m.CipherEnvelope, FromRootPeer: true})
			}
			n.pushEvent(nodeEvent{roomID: req.roomID, batch: batch})
		}
		req.resp <- nodeResponse{}
	}()
}

// reconnect is idempotent: when already connected it answers immediately
// and makes no new attempt.
func (n *node) reconnect(req nodeRequest) {
	if n.rootConnected {
		req.resp <- nodeResponse{alreadyJoined: true}
		return
	}
	if n.lastAnnounce != nil {
		if pi, err := announceAddrInfo(n.lastAnnounce); err == nil {
			go n.tryConnect(pi)
		}
	}
	go n.discoverRootPeer()
	req.resp <- nodeResponse{}
}

// registerAllRooms re-registers every joined room after a (re)connect, so
// the relay resumes echoing into them.
func (n *node) registerAllRooms() {
	for roomID := range n.topics {
		go n.registerRoom(n.rootPeer, roomID)
	}
}

func (n *node) registerRoom(pid peer.ID, roomID string) {
	var resp models.RegisterRoomResponse
	err := n.sendRootPeerRequest(n.ctx, pid, "RegisterRoom",
		models.RegisterRoomRequest{RoomID: roomID}, &resp)
	if err != nil {
		n.log.Warn("register room with root peer failed", "room", roomID, "err", err)
	}
}

func (n *node) pushEvent(evt nodeEvent) {
	select {
	case n.events <- evt:
	default:
		n.log.Warn("event queue full, dropping event")
	}
}

func (n *node) shutdown() {
	for roomID, rt := range n.topics {
		rt.cancel()
		rt.sub.Cancel()
		_ = rt.topic.Close()
		delete(n.topics, roomID)
	}
	_ = n.host.Close()
}

func announceAddrInfo(ann *models.RootPeerAnnounce) (peer.AddrInfo, error) {
	pid, err := peer.Decode(ann.PeerID)
	if err != nil {
		return peer.AddrInfo{}, err
	}
	addrs := make([]multiaddr.Multiaddr, 0, len(ann.Addrs))
	for _, a := range ann.Addrs {
		ma, err := multiaddr.NewMultiaddr(a)
		if err != nil {
			continue
		}
		addrs = append(addrs, ma)
	}
	return peer.AddrInfo{ID: pid, Addrs: addrs}, nil
}
