package chat

import (
	"context"
	"sync"

	"tribechat/internal/config"
	"tribechat/internal/logger"
	"tribechat/internal/models"
	"tribechat/internal/p2p"
	"tribechat/internal/storage"
)

// Service owns the whole chat stack: session database, network manager
// and adapter. It is constructed explicitly and injected where needed;
// there is no package-level instance.
type Service struct {
	cfg *config.Config
	log *logger.Logger

	mu          sync.Mutex
	initialized bool
	db          *storage.SessionDB
	mgr         *p2p.Manager
	adapter     *Adapter
}

func NewService(cfg *config.Config, log *logger.Logger) *Service {
	return &Service{cfg: cfg, log: log}
}

// Init brings up storage, network and adapter. Calling it again while
// initialized is a no-op.
func (s *Service) Init(ctx context.Context, seedHex string, profile models.Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.initialized {
		return nil
	}

	db, err := storage.InitSessionDB(s.cfg.DatabasePath, 256, s.log)
	if err != nil {
		return err
	}
	mgr := p2p.NewManager(s.cfg, s.log)
	adapter := NewAdapter(s.cfg, mgr, newSessionStore(db), s.log)
	if err := adapter.Initialize(ctx, seedHex, profile); err != nil {
		db.Close()
		return err
	}

	s.db = db
	s.mgr = mgr
	s.adapter = adapter
	s.initialized = true
	return nil
}

// Adapter returns the chat surface, or nil before Init.
func (s *Service) Adapter() *Adapter {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.adapter
}

// Reset tears everything down. A later Init starts a fresh session.
func (s *Service) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return nil
	}
	err := s.adapter.Close()
	s.db.Close()
	s.adapter = nil
	s.mgr = nil
	s.db = nil
	s.initialized = false
	return err
}

// sessionStore adapts the session database to the adapter's Store,
// routing message saves through the batching writer so the event loop
// never blocks on disk.
type sessionStore struct {
	*storage.Store
	writer *storage.MessageWriter
}

func newSessionStore(db *storage.SessionDB) *sessionStore {
	return &sessionStore{Store: db.Store, writer: db.Writer}
}

func (s *sessionStore) SaveMessage(ctx context.Context, msg *models.Message) error {
	if _, err := s.writer.Enqueue(msg); err != nil {
		// queue full: take the slow path rather than dropping history
		return s.Store.SaveMessage(ctx, msg)
	}
	return nil
}
