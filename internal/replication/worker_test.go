package replication_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dooapps/tisane-relay/internal/models"
	"github.com/dooapps/tisane-relay/internal/peers"
	"github.com/dooapps/tisane-relay/internal/relaytest"
	"github.com/dooapps/tisane-relay/internal/replication"
)

func TestRunOnceAdvancesCursorOnSuccess(t *testing.T) {
	var received []models.EventInput
	var gotHeaders http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeaders = r.Header.Clone()
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ms := relaytest.NewMemoryStore()
	occurredAt := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	evID := uuid.New()
	_, err := ms.InsertEvents(context.Background(), []models.Event{{
		EventID:      evID,
		AuthorPubkey: "pub",
		Signature:    "sig",
		PayloadHash:  "hash",
		OccurredAt:   &occurredAt,
	}})
	require.NoError(t, err)

	ms.AddPeerWithHealth(models.Peer{URL: srv.URL, Health: models.PeerHealthHealthy, SharedSecret: "s3cr3t"})
	registry := peers.New(ms)

	relayID := uuid.New()
	w := replication.NewWorker(registry, ms, replication.WorkerConfig{
		RelayID:    relayID,
		BatchSize:  50,
		HTTPClient: srv.Client(),
	})

	w.RunOnce(context.Background())

	require.Len(t, received, 1)
	assert.Equal(t, evID, received[0].EventID)
	assert.Equal(t, relayID.String(), gotHeaders.Get("X-Relay-Id"))
	assert.Equal(t, "1", gotHeaders.Get("X-Hop"))
	assert.Equal(t, "s3cr3t", gotHeaders.Get("X-Peer-Token"))

	all, err := ms.ListPeers(context.Background())
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, evID, all[0].LastCursorID)
	assert.True(t, all[0].LastCursorTime.Equal(occurredAt))
}

func TestRunOnceSkipsPeerWithNothingToSend(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ms := relaytest.NewMemoryStore()
	ms.AddPeerWithHealth(models.Peer{URL: srv.URL, Health: models.PeerHealthHealthy})
	registry := peers.New(ms)

	w := replication.NewWorker(registry, ms, replication.WorkerConfig{RelayID: uuid.New(), HTTPClient: srv.Client()})
	w.RunOnce(context.Background())

	assert.False(t, called)
}

func TestRunOnceLeavesCursorOnFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	ms := relaytest.NewMemoryStore()
	occurredAt := time.Now().UTC()
	_, err := ms.InsertEvents(context.Background(), []models.Event{{
		EventID:      uuid.New(),
		AuthorPubkey: "pub",
		Signature:    "sig",
		PayloadHash:  "hash",
		OccurredAt:   &occurredAt,
	}})
	require.NoError(t, err)

	ms.AddPeerWithHealth(models.Peer{URL: srv.URL, Health: models.PeerHealthHealthy})
	registry := peers.New(ms)

	w := replication.NewWorker(registry, ms, replication.WorkerConfig{RelayID: uuid.New(), HTTPClient: srv.Client()})
	w.RunOnce(context.Background())

	all, err := ms.ListPeers(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uuid.Nil, all[0].LastCursorID)
}
