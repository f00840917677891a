// Package rootpeer implements the relay: the always-on peer that stores
// room ciphertext, assigns the canonical message order and echoes messages
// back into rooms so clients can tell durable copies from session ones.
package rootpeer

import (
	"encoding/binary"
	"encoding/json"

	bolt "go.etcd.io/bbolt"

	"tribechat/internal/models"
	"tribechat/internal/utils"
)

var (
	ErrBadEnvelope = utils.NewChatError("invalid message envelope")
	ErrStoreClosed = utils.NewChatError("root peer store closed")
)

// Log is the relay's durable, per-room ordered message log. Each room gets
// a message bucket keyed by big-endian index and an id bucket for duplicate
// suppression. The index assigned here is the room's canonical order.
type Log struct {
	db *bolt.DB
}

func OpenLog(path string) (*Log, error) {
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, err
	}
	return &Log{db: db}, nil
}

func (l *Log) Close() error {
	return l.db.Close()
}

func msgBucket(roomID string) []byte { return []byte("msgs:" + roomID) }
func idBucket(roomID string) []byte  { return []byte("ids:" + roomID) }

// Append stores one envelope and returns its index. A messageId already in
// the room's log is suppressed and the original index returned, so replays
// and double submissions are harmless.
func (l *Log) Append(env models.CipherEnvelope) (uint64, error) {
	if env.MessageID == "" || env.RoomID == "" {
		return 0, ErrBadEnvelope.WithDetails("messageId and roomId are required")
	}
	var index uint64
	err := l.db.Update(func(tx *bolt.Tx) error {
		msgs, err := tx.CreateBucketIfNotExists(msgBucket(env.RoomID))
		if err != nil {
			return err
		}
		ids, err := tx.CreateBucketIfNotExists(idBucket(env.RoomID))
		if err != nil {
			return err
		}
		if existing := ids.Get([]byte(env.MessageID)); existing != nil {
			index = binary.BigEndian.Uint64(existing)
			return nil
		}

		idx, err := msgs.NextSequence()
		if err != nil {
			return err
		}
		key := make([]byte, 8)
		binary.BigEndian.PutUint64(key, idx)

		stored := models.StoredCipher{CipherEnvelope: env, Index: idx}
		data, err := json.Marshal(stored)
		if err != nil {
			return err
		}
		if err := msgs.Put(key, data); err != nil {
			return err
		}
		if err := ids.Put([]byte(env.MessageID), key); err != nil {
			return err
		}
		index = idx
		return nil
	})
	if err != nil {
		return 0, err
	}
	return index, nil
}

// MessagesSince returns messages with index > lastIndex in index order.
// limit <= 0 means no limit.
func (l *Log) MessagesSince(roomID string, lastIndex uint64, limit int) ([]models.StoredCipher, error) {
	var out []models.StoredCipher
	err := l.db.View(func(tx *bolt.Tx) error {
		msgs := tx.Bucket(msgBucket(roomID))
		if msgs == nil {
			return nil
		}
		start := make([]byte, 8)
		binary.BigEndian.PutUint64(start, lastIndex+1)

		c := msgs.Cursor()
		for k, v := c.Seek(start); k != nil; k, v = c.Next() {
			var sc models.StoredCipher
			if err := json.Unmarshal(v, &sc); err != nil {
				return err
			}
			out = append(out, sc)
			if limit > 0 && len(out) >= limit {
				return nil
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// LastIndex returns the highest index assigned in the room, zero when the
// room is empty or unknown.
func (l *Log) LastIndex(roomID string) (uint64, error) {
	var last uint64
	err := l.db.View(func(tx *bolt.Tx) error {
		msgs := tx.Bucket(msgBucket(roomID))
		if msgs == nil {
			return nil
		}
		if k, _ := msgs.Cursor().Last(); k != nil {
			last = binary.BigEndian.Uint64(k)
		}
		return nil
	})
	return last, err
}
