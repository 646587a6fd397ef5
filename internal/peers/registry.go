// Package peers wraps the store's peer-facing operations for the operator
// CLI and the replication worker: registration, listing, health filtering,
// and cursor advancement.
package peers

import (
	"context"
	"crypto/subtle"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dooapps/tisane-relay/internal/models"
	"github.com/dooapps/tisane-relay/internal/store"
)

type Registry struct {
	store store.Store
}

func New(s store.Store) *Registry {
	return &Registry{store: s}
}

func (r *Registry) Add(ctx context.Context, url, sharedSecret string) (models.Peer, error) {
	if url == "" {
		return models.Peer{}, fmt.Errorf("peer url required")
	}
	if sharedSecret == "" {
		return models.Peer{}, fmt.Errorf("peer shared secret required")
	}
	return r.store.AddPeer(ctx, url, sharedSecret)
}

func (r *Registry) List(ctx context.Context) ([]models.Peer, error) {
	return r.store.ListPeers(ctx)
}

func (r *Registry) Remove(ctx context.Context, peerID uuid.UUID) (bool, error) {
	return r.store.RemovePeer(ctx, peerID)
}

// Healthy returns peers eligible for outbound replication fan-out.
func (r *Registry) Healthy(ctx context.Context) ([]models.Peer, error) {
	return r.store.HealthyPeers(ctx)
}

// Authenticate resolves the peer owning token, using a constant-time
// comparison over the candidate's shared secret to avoid a timing
// side-channel on the lookup (spec.md section 9 hardening note; the
// original implementation compares tokens with plain equality).
func (r *Registry) Authenticate(ctx context.Context, token string) (models.Peer, error) {
	if token == "" {
		return models.Peer{}, store.ErrNotFound
	}
	peer, err := r.store.PeerByToken(ctx, token)
	if err != nil {
		return models.Peer{}, err
	}
	if subtle.ConstantTimeCompare([]byte(peer.SharedSecret), []byte(token)) != 1 {
		return models.Peer{}, store.ErrNotFound
	}
	return peer, nil
}

// AdvanceCursor persists the replication progress for peerID after a
// successful push.
func (r *Registry) AdvanceCursor(ctx context.Context, peerID uuid.UUID, lastTime time.Time, lastID uuid.UUID) error {
	return r.store.AdvancePeerCursor(ctx, peerID, lastTime, lastID)
}
