// Package store is the relay's persistence contract: an append-only event
// log and a peer registry, both backed by Postgres.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dooapps/tisane-relay/internal/models"
)

var ErrNotFound = errors.New("record not found")

// EpochCursorTime is the default replication cursor time for a newly added
// peer (spec.md section 3, Peer lifecycle: "Initialized to the Unix epoch").
var EpochCursorTime = time.Unix(0, 0).UTC()

// Store is the persistence contract for events and peers.
type Store interface {
	// InsertEvents attempts to insert each event in order, skipping silently
	// on an event_id conflict. Returns the events that were actually
	// inserted, each with ServerSeq populated, in insert order.
	InsertEvents(ctx context.Context, events []models.Event) ([]models.Event, error)

	// FetchEventsSince returns up to limit events with server_seq > since,
	// ordered by server_seq ascending, plus the next cursor to page from.
	FetchEventsSince(ctx context.Context, since int64, limit int) ([]models.Event, int64, error)

	// FetchReplicationBatch returns up to limit events satisfying
	// (occurred_at, event_id) > (lastTime, lastID), ordered the same way.
	FetchReplicationBatch(ctx context.Context, lastTime time.Time, lastID uuid.UUID, limit int) ([]models.Event, error)

	AddPeer(ctx context.Context, url, sharedSecret string) (models.Peer, error)
	ListPeers(ctx context.Context) ([]models.Peer, error)
	HealthyPeers(ctx context.Context) ([]models.Peer, error)
	PeerByToken(ctx context.Context, token string) (models.Peer, error)
	RemovePeer(ctx context.Context, peerID uuid.UUID) (bool, error)
	AdvancePeerCursor(ctx context.Context, peerID uuid.UUID, lastTime time.Time, lastID uuid.UUID) error

	Ping(ctx context.Context) error
}

// PGStore is the Postgres-backed Store implementation.
type PGStore struct {
	db *sql.DB
}

func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) InsertEvents(ctx context.Context, events []models.Event) ([]models.Event, error) {
	const query = `
		INSERT INTO events (event_id, author_pubkey, signature, payload_hash, device_id, author_id, content_id, event_type, payload_json, occurred_at, lamport)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		ON CONFLICT (event_id) DO NOTHING
		RETURNING server_seq
	`

	inserted := make([]models.Event, 0, len(events))
	for _, ev := range events {
		var seq int64
		err := s.db.QueryRowContext(
			ctx,
			query,
			ev.EventID,
			ev.AuthorPubkey,
			ev.Signature,
			ev.PayloadHash,
			ev.DeviceID,
			ev.AuthorID,
			ev.ContentID,
			ev.EventType,
			nullableJSON(ev.PayloadJSON),
			ev.OccurredAt,
			ev.Lamport,
		).Scan(&seq)
		if errors.Is(err, sql.ErrNoRows) {
			// Conflict on event_id: no-op per spec.md invariant 1.
			continue
		}
		if err != nil {
			return inserted, fmt.Errorf("insert event %s: %w", ev.EventID, err)
		}
		ev.ServerSeq = seq
		inserted = append(inserted, ev)
	}
	return inserted, nil
}

func (s *PGStore) FetchEventsSince(ctx context.Context, since int64, limit int) ([]models.Event, int64, error) {
	const query = `
		SELECT event_id, server_seq, author_pubkey, signature, payload_hash, device_id, author_id, content_id, event_type, payload_json, occurred_at, lamport
		FROM events
		WHERE server_seq > $1
		ORDER BY server_seq ASC
		LIMIT $2
	`
	rows, err := s.db.QueryContext(ctx, query, since, limit)
	if err != nil {
		return nil, since, fmt.Errorf("query events since: %w", err)
	}
	defer rows.Close()

	events, err := scanEvents(rows)
	if err != nil {
		return nil, since, err
	}

	next := since
	if len(events) > 0 {
		next = events[len(events)-1].ServerSeq
	}
	return events, next, nil
}

func (s *PGStore) FetchReplicationBatch(ctx context.Context, lastTime time.Time, lastID uuid.UUID, limit int) ([]models.Event, error) {
	const query = `
		SELECT event_id, server_seq, author_pubkey, signature, payload_hash, device_id, author_id, content_id, event_type, payload_json, occurred_at, lamport
		FROM events
		WHERE (occurred_at > $1) OR (occurred_at = $1 AND event_id > $2)
		ORDER BY occurred_at ASC, event_id ASC
		LIMIT $3
	`
	rows, err := s.db.QueryContext(ctx, query, lastTime, lastID, limit)
	if err != nil {
		return nil, fmt.Errorf("query replication batch: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

func scanEvents(rows *sql.Rows) ([]models.Event, error) {
	var events []models.Event
	for rows.Next() {
		var (
			ev                                          models.Event
			deviceID, authorID, contentID, eventType    sql.NullString
			occurredAt                                  sql.NullTime
			lamport                                     sql.NullInt64
			payload                                      []byte
		)
		if err := rows.Scan(
			&ev.EventID,
			&ev.ServerSeq,
			&ev.AuthorPubkey,
			&ev.Signature,
			&ev.PayloadHash,
			&deviceID,
			&authorID,
			&contentID,
			&eventType,
			&payload,
			&occurredAt,
			&lamport,
		); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		if len(payload) > 0 {
			ev.PayloadJSON = append(json.RawMessage(nil), payload...)
		}
		if deviceID.Valid {
			ev.DeviceID = &deviceID.String
		}
		if authorID.Valid {
			ev.AuthorID = &authorID.String
		}
		if contentID.Valid {
			ev.ContentID = &contentID.String
		}
		if eventType.Valid {
			ev.EventType = &eventType.String
		}
		if occurredAt.Valid {
			t := occurredAt.Time
			ev.OccurredAt = &t
		}
		if lamport.Valid {
			l := lamport.Int64
			ev.Lamport = &l
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("events rows err: %w", err)
	}
	return events, nil
}

func (s *PGStore) AddPeer(ctx context.Context, url, sharedSecret string) (models.Peer, error) {
	peer := models.Peer{
		PeerID:         uuid.New(),
		URL:            url,
		SharedSecret:   sharedSecret,
		LastCursorTime: EpochCursorTime,
		LastCursorID:   uuid.Nil,
		Health:         models.PeerHealthUnknown,
	}
	const query = `
		INSERT INTO peers (peer_id, url, shared_secret, last_cursor_time, last_cursor_id, health)
		VALUES ($1,$2,$3,$4,$5,$6)
	`
	if _, err := s.db.ExecContext(ctx, query, peer.PeerID, peer.URL, peer.SharedSecret, peer.LastCursorTime, peer.LastCursorID, peer.Health); err != nil {
		return models.Peer{}, fmt.Errorf("insert peer: %w", err)
	}
	return peer, nil
}

func (s *PGStore) ListPeers(ctx context.Context) ([]models.Peer, error) {
	const query = `SELECT peer_id, url, shared_secret, last_cursor_time, last_cursor_id, health FROM peers`
	return s.queryPeers(ctx, query)
}

func (s *PGStore) HealthyPeers(ctx context.Context) ([]models.Peer, error) {
	const query = `
		SELECT peer_id, url, shared_secret, last_cursor_time, last_cursor_id, health
		FROM peers
		WHERE health = $1 OR health = $2
	`
	return s.queryPeers(ctx, query, models.PeerHealthHealthy, models.PeerHealthUnknown)
}

func (s *PGStore) queryPeers(ctx context.Context, query string, args ...interface{}) ([]models.Peer, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query peers: %w", err)
	}
	defer rows.Close()

	var peers []models.Peer
	for rows.Next() {
		var p models.Peer
		if err := rows.Scan(&p.PeerID, &p.URL, &p.SharedSecret, &p.LastCursorTime, &p.LastCursorID, &p.Health); err != nil {
			return nil, fmt.Errorf("scan peer: %w", err)
		}
		peers = append(peers, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("peers rows err: %w", err)
	}
	return peers, nil
}

func (s *PGStore) PeerByToken(ctx context.Context, token string) (models.Peer, error) {
	const query = `
		SELECT peer_id, url, shared_secret, last_cursor_time, last_cursor_id, health
		FROM peers
		WHERE shared_secret = $1
	`
	var p models.Peer
	err := s.db.QueryRowContext(ctx, query, token).Scan(&p.PeerID, &p.URL, &p.SharedSecret, &p.LastCursorTime, &p.LastCursorID, &p.Health)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Peer{}, ErrNotFound
	}
	if err != nil {
		return models.Peer{}, fmt.Errorf("select peer by token: %w", err)
	}
	return p, nil
}

func (s *PGStore) RemovePeer(ctx context.Context, peerID uuid.UUID) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM peers WHERE peer_id = $1`, peerID)
	if err != nil {
		return false, fmt.Errorf("delete peer: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

func (s *PGStore) AdvancePeerCursor(ctx context.Context, peerID uuid.UUID, lastTime time.Time, lastID uuid.UUID) error {
	const query = `UPDATE peers SET last_cursor_time = $1, last_cursor_id = $2 WHERE peer_id = $3`
	if _, err := s.db.ExecContext(ctx, query, lastTime, lastID, peerID); err != nil {
		return fmt.Errorf("advance peer cursor: %w", err)
	}
	return nil
}

func (s *PGStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("db ping: %w", err)
	}
	return nil
}

func nullableJSON(raw json.RawMessage) interface{} {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}
