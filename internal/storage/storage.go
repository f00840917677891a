package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"

	"tribechat/internal/logger"
)

type Store struct {
	db *sql.DB
}

// SessionDB bundles the store with the background message writer for one
// chat session.
type SessionDB struct {
	Store  *Store
	Writer *MessageWriter
}

// NewSQLiteStore opens (or creates) a sqlite DB file.
// dsn example: "file:chat.db?_foreign_keys=1".
func NewSQLiteStore(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, ErrCannotConnect.WithDetails(err.Error())
	}
	if _, err := db.Exec(`PRAGMA journal_mode = WAL;`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
	if _, err := db.Exec(`PRAGMA synchronous = NORMAL;`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set synchronous: %w", err)
	}
	if _, err := db.Exec(`PRAGMA foreign_keys = ON;`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign_keys: %w", err)
	}
	if _, err := db.Exec(`PRAGMA busy_timeout = 5000;`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy_timeout: %w", err)
	}

	return &Store{db: db}, nil
}

// InitSessionDB opens the session database at dbPath (or a default under the
// user's home dir when empty), runs migrations and starts the write worker.
func InitSessionDB(dbPath string, writeQSize int, log *logger.Logger) (*SessionDB, error) {
	if dbPath == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, err
		}
		dir := filepath.Join(homeDir, ".tribechat")
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, err
		}
		dbPath = filepath.Join(dir, "chat.db")
	}
	store, err := NewSQLiteStore(dbPath)
	if err != nil {
		return nil, err
	}
	if err := store.Migrate(); err != nil {
		store.Close()
		return nil, err
	}

	w := NewMessageWriter(writeQSize, log)
	w.Start(store)

	return &SessionDB{Store: store, Writer: w}, nil
}

func (s *SessionDB) Close() {
	if s.Writer != nil {
		s.Writer.Stop()
	}
	if s.Store != nil {
		s.Store.Close()
	}
}

func (s *Store) Close() {
	if s.db != nil {
		_ = s.db.Close()
	}
}

// Migrate creates the room, message and peer tables. This is idempotent.
func (s *Store) Migrate() error {
	const sqlStmt = `
CREATE TABLE IF NOT EXISTS rooms (
  room_id TEXT PRIMARY KEY,
  room_key TEXT NOT NULL UNIQUE,
  room_type TEXT NOT NULL,
  room_name TEXT NOT NULL,
  room_description TEXT,
  peers TEXT NOT NULL DEFAULT '[]', -- JSON array of peer ids
  creator TEXT,
  created_at INTEGER NOT NULL, -- unix milli
  last_active INTEGER NOT NULL,
  initialized_identity INTEGER NOT NULL DEFAULT 0,
  room_image TEXT,
  other_pubkey TEXT
);

CREATE INDEX IF NOT EXISTS idx_rooms_last_active ON rooms (last_active DESC);

CREATE TABLE IF NOT EXISTS messages (
  message_id TEXT PRIMARY KEY,
  room_id TEXT NOT NULL,
  sender_id TEXT,
  msg_type TEXT NOT NULL,
  content TEXT NOT NULL,
  timestamp INTEGER NOT NULL -- unix milli
);

CREATE INDEX IF NOT EXISTS idx_messages_room_time ON messages (room_id, timestamp ASC);
CREATE INDEX IF NOT EXISTS idx_messages_sender ON messages (sender_id);

CREATE TABLE IF NOT EXISTS peers (
  peer_id TEXT PRIMARY KEY,
  peer_name TEXT,
  peer_image TEXT,
  last_seen INTEGER -- unix milli
);
`
	_, err := s.db.Exec(sqlStmt)
	return err
}
