package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"tribechat/internal/models"
)

// SavePeer inserts or updates a peer profile and refreshes last_seen.
func (s *Store) SavePeer(ctx context.Context, peer *models.Peer) error {
	const q = `
INSERT OR REPLACE INTO peers
(peer_id, peer_name, peer_image, last_seen)
VALUES (?, ?, ?, ?);
`
	_, err := s.db.ExecContext(ctx, q,
		peer.PeerID,
		peer.PeerName,
		peer.PeerImage,
		time.Now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("insert peer: %w", err)
	}
	return nil
}

// GetPeer returns a peer profile by id, or ErrNoRows.
func (s *Store) GetPeer(ctx context.Context, peerID string) (*models.Peer, error) {
	const q = `
SELECT peer_id, peer_name, peer_image
FROM peers
WHERE peer_id = ?
LIMIT 1;
`
	var (
		peer  models.Peer
		name  sql.NullString
		image sql.NullString
	)
	err := s.db.QueryRowContext(ctx, q, peerID).Scan(&peer.PeerID, &name, &image)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoRows
	}
	if err != nil {
		return nil, fmt.Errorf("select peer: %w", err)
	}
	peer.PeerName = name.String
	peer.PeerImage = image.String
	return &peer, nil
}

// GetAllPeers returns every known peer profile.
func (s *Store) GetAllPeers(ctx context.Context) ([]*models.Peer, error) {
	const q = `SELECT peer_id, peer_name, peer_image FROM peers;`
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("select all peers: %w", err)
	}
	defer rows.Close()

	var out []*models.Peer
	for rows.Next() {
		var (
			peer  models.Peer
			name  sql.NullString
			image sql.NullString
		)
		if err := rows.Scan(&peer.PeerID, &name, &image); err != nil {
			return nil, fmt.Errorf("scan peer: %w", err)
		}
		peer.PeerName = name.String
		peer.PeerImage = image.String
		out = append(out, &peer)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
