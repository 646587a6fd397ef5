package replication

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/dooapps/tisane-relay/internal/archive"
	"github.com/dooapps/tisane-relay/internal/metrics"
	"github.com/dooapps/tisane-relay/internal/models"
	"github.com/dooapps/tisane-relay/internal/peers"
	"github.com/dooapps/tisane-relay/internal/store"
)

// WorkerConfig tunes the outbound fan-out loop.
type WorkerConfig struct {
	RelayID        uuid.UUID
	CycleInterval  time.Duration
	BatchSize      int
	RequestTimeout time.Duration
	HTTPClient     *http.Client
	Logger         *log.Logger

	// Archiver is optional; when set, every successfully-pushed batch is
	// also uploaded for cold storage.
	Archiver archive.Archiver
}

// Worker periodically fans batches out to every healthy peer.
type Worker struct {
	registry *peers.Registry
	store    store.Store
	cfg      WorkerConfig
}

func NewWorker(registry *peers.Registry, s store.Store, cfg WorkerConfig) *Worker {
	if cfg.CycleInterval <= 0 {
		cfg.CycleInterval = 5 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 10 * time.Second
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(os.Stdout, "[replication] ", log.LstdFlags)
	}
	return &Worker{registry: registry, store: s, cfg: cfg}
}

// Run loops until ctx is cancelled, replicating to every healthy peer once
// per cycle.
func (w *Worker) Run(ctx context.Context) {
	w.cfg.Logger.Printf("replication worker started, relay id %s", w.cfg.RelayID)
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(w.cfg.CycleInterval):
		}
		w.RunOnce(ctx)
	}
}

// RunOnce fans a single cycle out to every healthy peer. Exported so tests
// can drive individual cycles without waiting on the interval.
func (w *Worker) RunOnce(ctx context.Context) {
	peerList, err := w.registry.Healthy(ctx)
	if err != nil {
		w.cfg.Logger.Printf("fetch peers: %v", err)
		return
	}

	for _, peer := range peerList {
		if err := w.replicateToPeer(ctx, peer); err != nil {
			w.cfg.Logger.Printf("replicate to peer %s: %v", peer.PeerID, err)
		}
	}
}

func (w *Worker) replicateToPeer(ctx context.Context, peer models.Peer) error {
	batch, err := w.store.FetchReplicationBatch(ctx, peer.LastCursorTime, peer.LastCursorID, w.cfg.BatchSize)
	if err != nil {
		return fmt.Errorf("fetch batch: %w", err)
	}
	if len(batch) == 0 {
		return nil
	}
	metrics.ReplicationBatchSize.Observe(float64(len(batch)))

	body, err := json.Marshal(toInputs(batch))
	if err != nil {
		return fmt.Errorf("marshal batch: %w", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, w.cfg.RequestTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, peer.URL+"/relay/replicate", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Peer-Token", peer.SharedSecret)
	req.Header.Set("X-Relay-Id", w.cfg.RelayID.String())
	req.Header.Set("X-Hop", "1")

	resp, err := w.cfg.HTTPClient.Do(req)
	if err != nil {
		metrics.ReplicationPushes.WithLabelValues("failure").Inc()
		return fmt.Errorf("send batch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		metrics.ReplicationPushes.WithLabelValues("failure").Inc()
		return fmt.Errorf("peer responded with status %s", resp.Status)
	}

	last := batch[len(batch)-1]
	lastTime := time.Now().UTC()
	if last.OccurredAt != nil {
		lastTime = *last.OccurredAt
	}
	if err := w.registry.AdvanceCursor(ctx, peer.PeerID, lastTime, last.EventID); err != nil {
		return fmt.Errorf("advance cursor: %w", err)
	}

	metrics.ReplicationPushes.WithLabelValues("success").Inc()
	w.cfg.Logger.Printf("replicated %d events to peer %s", len(batch), peer.PeerID)

	if w.cfg.Archiver != nil {
		if err := w.cfg.Archiver.ArchiveBatch(ctx, peer.PeerID, batch); err != nil {
			w.cfg.Logger.Printf("archive batch for peer %s: %v", peer.PeerID, err)
		}
	}

	return nil
}

// toInputs converts stored events back to the wire EventInput shape for
// transport; the relay doesn't yet have a distinct replication DTO.
func toInputs(events []models.Event) []models.EventInput {
	out := make([]models.EventInput, len(events))
	for i, ev := range events {
		out[i] = models.EventInput{
			EventID:      ev.EventID,
			AuthorPubkey: ev.AuthorPubkey,
			Signature:    ev.Signature,
			PayloadHash:  ev.PayloadHash,
			PayloadJSON:  ev.PayloadJSON,
			EventType:    ev.EventType,
			DeviceID:     ev.DeviceID,
			AuthorID:     ev.AuthorID,
			ContentID:    ev.ContentID,
			OccurredAt:   ev.OccurredAt,
			Lamport:      ev.Lamport,
		}
	}
	return out
}
