package rootpeer

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"sync"
	"time"

	libp2p "github.com/libp2p/go-libp2p"
	dht "github.com/libp2p/go-libp2p-kad-dht"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	libp2pcrypto "github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/p2p/discovery/routing"

	"tribechat/internal/logger"
	"tribechat/internal/models"
	"tribechat/internal/p2p"
)

const announceInterval = 15 * time.Second

// ServerConfig carries what the relay needs to come up.
type ServerConfig struct {
	ListenAddrs        []string
	DiscoveryNamespace string
	// Identity is the relay's Ed25519 keypair (hex). It signs announces
	// and anchors the libp2p peer id.
	Identity models.KeyPair
}

// Server is the relay process. It answers the root peer stream protocol,
// keeps the per-room ordered log and echoes stored messages back into the
// room topics.
type Server struct {
	ctx  context.Context
	cfg  ServerConfig
	log  *logger.Logger
	Host host.Host
	dht  *dht.IpfsDHT
	ps   *pubsub.PubSub

	store *Log

	mu     sync.Mutex
	topics map[string]*pubsub.Topic
}

func NewServer(ctx context.Context, cfg ServerConfig, store *Log, log *logger.Logger) (*Server, error) {
	priv, err := hex.DecodeString(cfg.Identity.SecretKey)
	if err != nil {
		return nil, ErrBadEnvelope.WithDetails("identity secret key must be hex")
	}
	pk, err := libp2pcrypto.UnmarshalEd25519PrivateKey(priv)
	if err != nil {
		return nil, err
	}
	h, err := libp2p.New(
		libp2p.Identity(pk),
		libp2p.ListenAddrStrings(cfg.ListenAddrs...),
	)
	if err != nil {
		return nil, err
	}
	kdht, err := dht.New(ctx, h)
	if err != nil {
		_ = h.Close()
		return nil, err
	}
	if err := kdht.Bootstrap(ctx); err != nil {
		_ = h.Close()
		return nil, err
	}
	ps, err := pubsub.NewGossipSub(ctx, h)
	if err != nil {
		_ = h.Close()
		return nil, err
	}

	s := &Server{
		ctx:    ctx,
		cfg:    cfg,
		log:    log.With("component", "rootpeer"),
		Host:   h,
		dht:    kdht,
		ps:     ps,
		store:  store,
		topics: make(map[string]*pubsub.Topic),
	}

	h.SetStreamHandler(p2p.RootPeerProtocolID, s.handleRPC)

	rd := routing.NewRoutingDiscovery(kdht)
	if _, err := rd.Advertise(ctx, p2p.RendezvousString(cfg.DiscoveryNamespace)); err != nil {
		s.log.Debug("rendezvous advertise failed", "err", err)
	}
	go s.announceLoop()

	s.log.Info("root peer up", "peer", h.ID().String())
	return s, nil
}

func (s *Server) Close() error {
	return s.Host.Close()
}

// Addrs returns the full dialable multiaddrs of the relay.
func (s *Server) Addrs() []string {
	out := make([]string, 0, len(s.Host.Addrs()))
	for _, a := range s.Host.Addrs() {
		out = append(out, a.String()+"/p2p/"+s.Host.ID().String())
	}
	return out
}

// announceLoop periodically broadcasts a signed announce so clients can
// find and authenticate the relay.
func (s *Server) announceLoop() {
	topic, err := s.ps.Join(p2p.AnnounceTopic(s.cfg.DiscoveryNamespace))
	if err != nil {
		s.log.Error("joining announce topic failed", "err", err)
		return
	}
	ticker := time.NewTicker(announceInterval)
	defer ticker.Stop()

	publish := func() {
		addrs := make([]string, 0, len(s.Host.Addrs()))
		for _, a := range s.Host.Addrs() {
			addrs = append(addrs, a.String())
		}
		ann := models.RootPeerAnnounce{
			PeerID:    s.Host.ID().String(),
			Addrs:     addrs,
			Timestamp: time.Now().UnixMilli(),
		}
		if err := p2p.SignAnnounce(&ann, s.cfg.Identity.SecretKey); err != nil {
			s.log.Error("signing announce failed", "err", err)
			return
		}
		data, err := json.Marshal(ann)
		if err != nil {
			return
		}
		if err := topic.Publish(s.ctx, data); err != nil {
			s.log.Debug("publishing announce failed", "err", err)
		}
	}

	publish()
	for {
		select {
		case <-ticker.C:
			publish()
		case <-s.ctx.Done():
			return
		}
	}
}

// handleRPC answers one {method, params} envelope per stream.
func (s *Server) handleRPC(stream network.Stream) {
	defer stream.Close()
	remote := stream.Conn().RemotePeer().String()

	decoder := json.NewDecoder(stream)
	encoder := json.NewEncoder(stream)

	var env struct {
		Method string          `json:"method"`
		Params json.RawMessage `json:"params"`
	}
	if err := decoder.Decode(&env); err != nil {
		s.log.Debug("malformed rpc envelope", "from", remote, "err", err)
		return
	}

	switch env.Method {
	case "RegisterRoom":
		var req models.RegisterRoomRequest
		if err := json.Unmarshal(env.Params, &req); err != nil {
			_ = encoder.Encode(models.RegisterRoomResponse{Error: "bad params"})
			return
		}
		if err := s.registerRoom(req.RoomID); err != nil {
			s.log.Warn("register room failed", "room", req.RoomID, "err", err)
			_ = encoder.Encode(models.RegisterRoomResponse{Error: err.Error()})
			return
		}
		s.log.Info("room registered", "room", req.RoomID, "from", remote)
		_ = encoder.Encode(models.RegisterRoomResponse{Success: true})

	case "StoreMessage":
		var req models.StoreMessageRequest
		if err := json.Unmarshal(env.Params, &req); err != nil {
			_ = encoder.Encode(models.StoreMessageResponse{Error: "bad params"})
			return
		}
		index, err := s.storeAndEcho(req.Envelope)
		if err != nil {
			s.log.Warn("store message failed", "room", req.Envelope.RoomID, "err", err)
			_ = encoder.Encode(models.StoreMessageResponse{Error: err.Error()})
			return
		}
		_ = encoder.Encode(models.StoreMessageResponse{Success: true, Index: index})

	case "Sync":
		var req models.SyncRequest
		if err := json.Unmarshal(env.Params, &req); err != nil {
			_ = encoder.Encode(models.SyncResponse{Error: "bad params"})
			return
		}
		msgs, err := s.store.MessagesSince(req.RoomID, req.LastIndex, 0)
		if err != nil {
			_ = encoder.Encode(models.SyncResponse{Error: err.Error()})
			return
		}
		last := req.LastIndex
		if len(msgs) > 0 {
			last = msgs[len(msgs)-1].Index
		}
		s.log.Debug("sync served", "room", req.RoomID, "since", req.LastIndex, "count", len(msgs))
		_ = encoder.Encode(models.SyncResponse{Messages: msgs, LastIndex: last})

	default:
		s.log.Debug("unknown rpc method", "method", env.Method, "from", remote)
	}
}

// registerRoom joins the room topic so the relay hears live traffic and
// can echo stored copies back in.
func (s *Server) registerRoom(roomID string) error {
	if roomID == "" {
		return ErrBadEnvelope.WithDetails("roomId is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.topics[roomID]; ok {
		return nil
	}
	topic, err := s.ps.Join(p2p.RoomTopic(roomID))
	if err != nil {
		return err
	}
	sub, err := topic.Subscribe()
	if err != nil {
		_ = topic.Close()
		return err
	}
	s.topics[roomID] = topic
	go s.readLoop(roomID, sub)
	return nil
}

// readLoop stores everything the relay overhears on a room topic. Appends
// dedupe by messageId, so traffic that also arrives via StoreMessage is
// counted once.
func (s *Server) readLoop(roomID string, sub *pubsub.Subscription) {
	for {
		msg, err := sub.Next(s.ctx)
		if err != nil {
			return
		}
		if msg.GetFrom() == s.Host.ID() {
			continue
		}
		var env models.CipherEnvelope
		if err := json.Unmarshal(msg.Data, &env); err != nil {
			continue
		}
		if env.RoomID != roomID {
			continue
		}
		if _, err := s.store.Append(env); err != nil {
			s.log.Warn("storing overheard message failed", "room", roomID, "err", err)
		}
	}
}

// storeAndEcho appends the envelope and republishes it to the room so every
// member, the sender included, receives the durable root peer copy.
func (s *Server) storeAndEcho(env models.CipherEnvelope) (uint64, error) {
	index, err := s.store.Append(env)
	if err != nil {
		return 0, err
	}
	if err := s.registerRoom(env.RoomID); err != nil {
		return index, err
	}
	s.mu.Lock()
	topic := s.topics[env.RoomID]
	s.mu.Unlock()

	data, err := json.Marshal(env)
	if err != nil {
		return index, err
	}
	if err := topic.Publish(s.ctx, data); err != nil {
		s.log.Warn("echo publish failed", "room", env.RoomID, "err", err)
	}
	return index, nil
}
