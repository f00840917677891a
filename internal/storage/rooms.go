package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"tribechat/internal/models"
)

// SaveRoom inserts or replaces a room record. Peers are stored as a JSON
// array in a single column.
func (s *Store) SaveRoom(ctx context.Context, room *models.Room) error {
	peers, err := json.Marshal(room.Peers)
	if err != nil {
		return fmt.Errorf("marshal peers: %w", err)
	}

	const q = `
INSERT OR REPLACE INTO rooms
(room_id, room_key, room_type, room_name, room_description, peers, creator, created_at, last_active, initialized_identity, room_image, other_pubkey)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
`
	_, err = s.db.ExecContext(ctx, q,
		room.RoomID,
		room.RoomKey,
		string(room.RoomType),
		room.RoomName,
		room.RoomDescription,
		string(peers),
		room.Creator,
		room.CreatedAt,
		room.LastActive,
		boolToInt(room.InitializedIdentity),
		room.RoomImage,
		room.OtherParticipantPubKey,
	)
	if err != nil {
		return fmt.Errorf("insert room: %w", err)
	}
	return nil
}

// GetRoom returns the room with the given id, or ErrNoRows.
func (s *Store) GetRoom(ctx context.Context, roomID string) (*models.Room, error) {
	const q = roomSelect + ` WHERE room_id = ? LIMIT 1;`
	return s.queryRoom(ctx, q, roomID)
}

// GetRoomByKey returns the room with the given key, or ErrNoRows.
func (s *Store) GetRoomByKey(ctx context.Context, roomKey string) (*models.Room, error) {
	const q = roomSelect + ` WHERE room_key = ? LIMIT 1;`
	return s.queryRoom(ctx, q, roomKey)
}

// GetAllRooms returns every saved room ordered by most recent activity.
func (s *Store) GetAllRooms(ctx context.Context) ([]*models.Room, error) {
	const q = roomSelect + ` ORDER BY last_active DESC;`
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("select all rooms: %w", err)
	}
	defer rows.Close()

	var out []*models.Room
	for rows.Next() {
		room, err := scanRoom(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, room)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// SetInitializedIdentity flips the identity flag for a room.
func (s *Store) SetInitializedIdentity(ctx context.Context, roomID string, v bool) error {
	const q = `UPDATE rooms SET initialized_identity = ? WHERE room_id = ?;`
	res, err := s.db.ExecContext(ctx, q, boolToInt(v), roomID)
	if err != nil {
		return fmt.Errorf("update initialized_identity: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNoRows
	}
	return nil
}

// AddPeerToRoom appends peerID to the room's peer list if not already
// present and bumps last_active.
func (s *Store) AddPeerToRoom(ctx context.Context, roomID, peerID string) error {
	room, err := s.GetRoom(ctx, roomID)
	if err != nil {
		return err
	}
	if room.HasPeer(peerID) {
		return nil
	}
	room.Peers = append(room.Peers, peerID)
	room.LastActive = time.Now().UnixMilli()
	return s.SaveRoom(ctx, room)
}

// TouchRoom bumps the room's last_active timestamp.
func (s *Store) TouchRoom(ctx context.Context, roomID string) error {
	const q = `UPDATE rooms SET last_active = ? WHERE room_id = ?;`
	_, err := s.db.ExecContext(ctx, q, time.Now().UnixMilli(), roomID)
	return err
}

// DeleteRoom removes a room and all of its messages.
func (s *Store) DeleteRoom(ctx context.Context, roomID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE room_id = ?;`, roomID); err != nil {
		return fmt.Errorf("delete room messages: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM rooms WHERE room_id = ?;`, roomID); err != nil {
		return fmt.Errorf("delete room: %w", err)
	}
	return nil
}

const roomSelect = `
SELECT room_id, room_key, room_type, room_name, room_description, peers, creator, created_at, last_active, initialized_identity, room_image, other_pubkey
FROM rooms`

func (s *Store) queryRoom(ctx context.Context, q string, arg any) (*models.Room, error) {
	row := s.db.QueryRowContext(ctx, q, arg)
	room, err := scanRoom(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoRows
	}
	return room, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRoom(r rowScanner) (*models.Room, error) {
	var (
		room      models.Room
		roomType  string
		desc      sql.NullString
		peersJSON string
		creator   sql.NullString
		initIdent int64
		image     sql.NullString
		otherPub  sql.NullString
	)
	if err := r.Scan(
		&room.RoomID,
		&room.RoomKey,
		&roomType,
		&room.RoomName,
		&desc,
		&peersJSON,
		&creator,
		&room.CreatedAt,
		&room.LastActive,
		&initIdent,
		&image,
		&otherPub,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan room: %w", err)
	}
	if err := json.Unmarshal([]byte(peersJSON), &room.Peers); err != nil {
		return nil, fmt.Errorf("unmarshal peers: %w", err)
	}
	room.RoomType = models.RoomType(roomType)
	room.RoomDescription = desc.String
	room.Creator = creator.String
	room.InitializedIdentity = initIdent != 0
	room.RoomImage = image.String
	room.OtherParticipantPubKey = otherPub.String
	return &room, nil
}

func boolToInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}
