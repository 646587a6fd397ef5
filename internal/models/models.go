// Package models holds the wire and storage types for the relay's event plane.
package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Event is an immutable, signed, server-sequenced record.
type Event struct {
	EventID      uuid.UUID       `json:"event_id"`
	ServerSeq    int64           `json:"server_seq"`
	AuthorPubkey string          `json:"author_pubkey"`
	Signature    string          `json:"signature"`
	PayloadHash  string          `json:"payload_hash"`
	PayloadJSON  json.RawMessage `json:"payload_json,omitempty"`
	EventType    *string         `json:"event_type,omitempty"`
	DeviceID     *string         `json:"device_id,omitempty"`
	AuthorID     *string         `json:"author_id,omitempty"`
	ContentID    *string         `json:"content_id,omitempty"`
	OccurredAt   *time.Time      `json:"occurred_at,omitempty"`
	Lamport      *int64          `json:"lamport,omitempty"`
}

// EventInput is the shape accepted on /relay/push and /relay/replicate.
// payload_hash is accepted but always discarded and recomputed by the relay.
type EventInput struct {
	EventID      uuid.UUID       `json:"event_id"`
	AuthorPubkey string          `json:"author_pubkey"`
	Signature    string          `json:"signature"`
	PayloadHash  string          `json:"payload_hash,omitempty"`
	PayloadJSON  json.RawMessage `json:"payload_json,omitempty"`
	EventType    *string         `json:"event_type,omitempty"`
	DeviceID     *string         `json:"device_id,omitempty"`
	AuthorID     *string         `json:"author_id,omitempty"`
	ContentID    *string         `json:"content_id,omitempty"`
	OccurredAt   *time.Time      `json:"occurred_at,omitempty"`
	Lamport      *int64          `json:"lamport,omitempty"`
}

// Peer health states. Only Healthy and Unknown are eligible for replication
// fan-out (spec.md section 3, Peer lifecycle).
const (
	PeerHealthHealthy = "healthy"
	PeerHealthUnknown = "unknown"
	PeerHealthDown    = "down"
)

// Peer is a known remote relay.
type Peer struct {
	PeerID         uuid.UUID `json:"peer_id"`
	URL            string    `json:"url"`
	SharedSecret   string    `json:"shared_secret"`
	LastCursorTime time.Time `json:"last_cursor_time"`
	LastCursorID   uuid.UUID `json:"last_cursor_id"`
	Health         string    `json:"health"`
}

// Eligible reports whether the worker should attempt to replicate to this peer.
func (p Peer) Eligible() bool {
	return p.Health == PeerHealthHealthy || p.Health == PeerHealthUnknown
}
