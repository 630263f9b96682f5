package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/signaling-relay/backend/internal/model"
)

// PeerRepository provides data access for the connection audit log.
type PeerRepository struct {
	db *sql.DB
}

// NewPeerRepository creates a new PeerRepository.
func NewPeerRepository(db *sql.DB) *PeerRepository {
	return &PeerRepository{db: db}
}

const peerColumns = `id, remote_addr, user_agent, status, reason, messages_received, messages_delivered, connected_at, disconnected_at`

// Create inserts a new peer record.
func (r *PeerRepository) Create(ctx context.Context, peer *model.PeerRecord) error {
	query := `
		INSERT INTO peers (id, remote_addr, user_agent, status, connected_at)
		VALUES (?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, query,
		peer.ID,
		peer.RemoteAddr,
		peer.UserAgent,
		peer.Status,
		peer.ConnectedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create peer: %w", err)
	}

	return nil
}

// MarkDisconnected closes out a peer record with its final counters.
func (r *PeerRepository) MarkDisconnected(ctx context.Context, id string, reason model.DisconnectReason, at time.Time, received, delivered int64) error {
	query := `
		UPDATE peers
		SET status = ?, reason = ?, disconnected_at = ?, messages_received = ?, messages_delivered = ?
		WHERE id = ?
	`

	result, err := r.db.ExecContext(ctx, query,
		model.PeerStatusDisconnected, reason, at, received, delivered, id)
	if err != nil {
		return fmt.Errorf("failed to update peer: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return model.ErrPeerNotFound
	}

	return nil
}

// GetByID retrieves a peer record by its ID.
func (r *PeerRepository) GetByID(ctx context.Context, id string) (*model.PeerRecord, error) {
	query := `SELECT ` + peerColumns + ` FROM peers WHERE id = ?`

	peer, err := scanPeer(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, model.ErrPeerNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get peer: %w", err)
	}

	return peer, nil
}

// ListRecent returns up to limit records, most recent connection first.
func (r *PeerRepository) ListRecent(ctx context.Context, limit int) ([]*model.PeerRecord, error) {
	query := `SELECT ` + peerColumns + ` FROM peers ORDER BY connected_at DESC, rowid DESC LIMIT ?`

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list peers: %w", err)
	}
	defer rows.Close()

	var peers []*model.PeerRecord
	for rows.Next() {
		peer, err := scanPeer(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan peer: %w", err)
		}
		peers = append(peers, peer)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating peers: %w", err)
	}

	return peers, nil
}

// CloseStale marks every record still flagged as connected as
// disconnected. Called at startup, since no connection survives a restart.
func (r *PeerRepository) CloseStale(ctx context.Context, at time.Time) (int64, error) {
	query := `
		UPDATE peers
		SET status = ?, reason = ?, disconnected_at = ?
		WHERE status = ?
	`

	result, err := r.db.ExecContext(ctx, query,
		model.PeerStatusDisconnected, model.DisconnectStale, at, model.PeerStatusConnected)
	if err != nil {
		return 0, fmt.Errorf("failed to close stale peers: %w", err)
	}

	return result.RowsAffected()
}

// CountByStatus returns the number of records with the given status.
func (r *PeerRepository) CountByStatus(ctx context.Context, status model.PeerStatus) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM peers WHERE status = ?`, status).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count peers: %w", err)
	}
	return count, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPeer(row rowScanner) (*model.PeerRecord, error) {
	peer := &model.PeerRecord{}
	var userAgent sql.NullString
	var reason sql.NullString
	var disconnectedAt sql.NullTime

	err := row.Scan(
		&peer.ID,
		&peer.RemoteAddr,
		&userAgent,
		&peer.Status,
		&reason,
		&peer.MessagesReceived,
		&peer.MessagesDelivered,
		&peer.ConnectedAt,
		&disconnectedAt,
	)
	if err != nil {
		return nil, err
	}

	if userAgent.Valid {
		peer.UserAgent = userAgent.String
	}
	if reason.Valid {
		peer.Reason = model.DisconnectReason(reason.String)
	}
	if disconnectedAt.Valid {
		t := disconnectedAt.Time
		peer.DisconnectedAt = &t
	}

	return peer, nil
}
