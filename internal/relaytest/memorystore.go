// Package relaytest provides an in-memory store.Store double used by
// ingestion, replication, and HTTP handler tests.
package relaytest

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/dooapps/tisane-relay/internal/models"
	"github.com/dooapps/tisane-relay/internal/store"
)

// MemoryStore is a lightweight in-memory implementation of store.Store.
type MemoryStore struct {
	Events     map[uuid.UUID]models.Event
	ServerSeqs []uuid.UUID // insertion order, index+1 == server_seq
	Peers      map[uuid.UUID]models.Peer

	// NowFunc is the store's clock hook (see now); no Store method reads it.
	NowFunc func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		Events: make(map[uuid.UUID]models.Event),
		Peers:  make(map[uuid.UUID]models.Peer),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	}
}

func (m *MemoryStore) now() time.Time {
	if m.NowFunc != nil {
		return m.NowFunc()
	}
	return time.Now().UTC()
}

func (m *MemoryStore) InsertEvents(ctx context.Context, events []models.Event) ([]models.Event, error) {
	var inserted []models.Event
	for _, ev := range events {
		if _, exists := m.Events[ev.EventID]; exists {
			continue
		}
		m.ServerSeqs = append(m.ServerSeqs, ev.EventID)
		ev.ServerSeq = int64(len(m.ServerSeqs))
		m.Events[ev.EventID] = ev
		inserted = append(inserted, ev)
	}
	return inserted, nil
}

func (m *MemoryStore) FetchEventsSince(ctx context.Context, since int64, limit int) ([]models.Event, int64, error) {
	var out []models.Event
	next := since
	for _, id := range m.ServerSeqs {
		ev := m.Events[id]
		if ev.ServerSeq <= since {
			continue
		}
		out = append(out, ev)
		next = ev.ServerSeq
		if len(out) >= limit {
			break
		}
	}
	return out, next, nil
}

func (m *MemoryStore) FetchReplicationBatch(ctx context.Context, lastTime time.Time, lastID uuid.UUID, limit int) ([]models.Event, error) {
	all := make([]models.Event, 0, len(m.Events))
	for _, ev := range m.Events {
		all = append(all, ev)
	}
	sort.Slice(all, func(i, j int) bool {
		ti, tj := occurredOrZero(all[i]), occurredOrZero(all[j])
		if ti.Equal(tj) {
			return all[i].EventID.String() < all[j].EventID.String()
		}
		return ti.Before(tj)
	})

	var out []models.Event
	for _, ev := range all {
		t := occurredOrZero(ev)
		if t.After(lastTime) || (t.Equal(lastTime) && ev.EventID.String() > lastID.String()) {
			out = append(out, ev)
			if len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

func occurredOrZero(ev models.Event) time.Time {
	if ev.OccurredAt != nil {
		return *ev.OccurredAt
	}
	return time.Time{}
}

func (m *MemoryStore) AddPeer(ctx context.Context, url, sharedSecret string) (models.Peer, error) {
	peer := models.Peer{
		PeerID:         uuid.New(),
		URL:            url,
		SharedSecret:   sharedSecret,
		LastCursorTime: store.EpochCursorTime,
		LastCursorID:   uuid.Nil,
		Health:         models.PeerHealthUnknown,
	}
	m.Peers[peer.PeerID] = peer
	return peer, nil
}

func (m *MemoryStore) ListPeers(ctx context.Context) ([]models.Peer, error) {
	var peers []models.Peer
	for _, p := range m.Peers {
		peers = append(peers, p)
	}
	sort.Slice(peers, func(i, j int) bool { return peers[i].PeerID.String() < peers[j].PeerID.String() })
	return peers, nil
}

func (m *MemoryStore) HealthyPeers(ctx context.Context) ([]models.Peer, error) {
	all, _ := m.ListPeers(ctx)
	var out []models.Peer
	for _, p := range all {
		if p.Eligible() {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *MemoryStore) PeerByToken(ctx context.Context, token string) (models.Peer, error) {
	for _, p := range m.Peers {
		if p.SharedSecret == token {
			return p, nil
		}
	}
	return models.Peer{}, store.ErrNotFound
}

func (m *MemoryStore) RemovePeer(ctx context.Context, peerID uuid.UUID) (bool, error) {
	if _, ok := m.Peers[peerID]; !ok {
		return false, nil
	}
	delete(m.Peers, peerID)
	return true, nil
}

func (m *MemoryStore) AdvancePeerCursor(ctx context.Context, peerID uuid.UUID, lastTime time.Time, lastID uuid.UUID) error {
	p, ok := m.Peers[peerID]
	if !ok {
		return store.ErrNotFound
	}
	p.LastCursorTime = lastTime
	p.LastCursorID = lastID
	m.Peers[peerID] = p
	return nil
}

func (m *MemoryStore) Ping(ctx context.Context) error {
	return nil
}

// AddPeerWithHealth inserts a pre-built peer into the store, for tests that
// need to control health state or cursor position directly.
func (m *MemoryStore) AddPeerWithHealth(peer models.Peer) {
	if peer.PeerID == uuid.Nil {
		peer.PeerID = uuid.New()
	}
	m.Peers[peer.PeerID] = peer
}

var _ store.Store = (*MemoryStore)(nil)
