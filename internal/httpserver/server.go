// Package httpserver exposes the relay's event plane and peer-registry
// surface over HTTP.
package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/dooapps/tisane-relay/internal/config"
	"github.com/dooapps/tisane-relay/internal/ingestion"
	"github.com/dooapps/tisane-relay/internal/metrics"
	"github.com/dooapps/tisane-relay/internal/models"
	"github.com/dooapps/tisane-relay/internal/peers"
	"github.com/dooapps/tisane-relay/internal/replication"
	"github.com/dooapps/tisane-relay/internal/store"
)

type Server struct {
	cfg    config.Config
	db     store.Store
	ingest *ingestion.Service
	peers  *peers.Registry
	gate   *replication.Gate
}

func New(cfg config.Config, db store.Store, ingest *ingestion.Service, registry *peers.Registry) *Server {
	return &Server{
		cfg:    cfg,
		db:     db,
		ingest: ingest,
		peers:  registry,
		gate:   replication.NewGate(cfg.RelayID),
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/relay", func(r chi.Router) {
		r.Post("/push", s.handlePush)
		r.Get("/pull", s.handlePull)
		r.Post("/replicate", s.handleReplicate)
		r.Get("/peers", s.handlePeers)
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	status := map[string]interface{}{"status": "ok"}
	if err := s.db.Ping(ctx); err != nil {
		status["status"] = "down"
		status["error"] = err.Error()
		respondJSON(w, http.StatusServiceUnavailable, status)
		return
	}
	respondJSON(w, http.StatusOK, status)
}

func (s *Server) handlePush(w http.ResponseWriter, r *http.Request) {
	var inputs []models.EventInput
	if err := decodeJSON(w, r, &inputs); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	inserted, err := s.ingest.Accept(r.Context(), inputs)
	if err != nil {
		code, msg := classifyIngestError(err)
		if code == http.StatusBadRequest || code == http.StatusUnauthorized {
			metrics.EventsRejected.WithLabelValues(rejectReason(err)).Inc()
		}
		respondError(w, code, msg)
		return
	}

	metrics.EventsIngested.WithLabelValues("push").Add(float64(len(inserted)))
	respondJSON(w, http.StatusOK, map[string]interface{}{"inserted": len(inserted)})
}

func (s *Server) handlePull(w http.ResponseWriter, r *http.Request) {
	since := int64(0)
	if v := r.URL.Query().Get("since"); v != "" {
		parsed, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid since")
			return
		}
		since = parsed
	}

	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed <= 0 {
			respondError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = parsed
	}

	events, next, err := s.db.FetchEventsSince(r.Context(), since, limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"events":      events,
		"next_cursor": next,
	})
}

func (s *Server) handleReplicate(w http.ResponseWriter, r *http.Request) {
	token := r.Header.Get("X-Peer-Token")
	if token == "" {
		respondError(w, http.StatusUnauthorized, replication.ErrMissingPeerToken.Error())
		return
	}

	_, err := s.peers.Authenticate(r.Context(), token)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			respondError(w, http.StatusUnauthorized, replication.ErrInvalidPeerToken.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if err := s.gate.CheckLoop(r.Header.Get("X-Relay-Id")); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.gate.CheckHops(r.Header.Get("X-Hop")); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	var inputs []models.EventInput
	if err := decodeJSON(w, r, &inputs); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	inserted, err := s.ingest.Accept(r.Context(), inputs)
	if err != nil {
		code, msg := classifyIngestError(err)
		respondError(w, code, msg)
		return
	}

	metrics.EventsIngested.WithLabelValues("replicate").Add(float64(len(inserted)))
	respondJSON(w, http.StatusOK, map[string]interface{}{"inserted": len(inserted)})
}

func (s *Server) handlePeers(w http.ResponseWriter, r *http.Request) {
	healthy, err := s.peers.Healthy(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, healthy)
}

func classifyIngestError(err error) (int, string) {
	switch {
	case errors.Is(err, ingestion.ErrBatchTooLarge):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, ingestion.ErrSchemaInvalid):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, ingestion.ErrInvalidSignature):
		return http.StatusUnauthorized, err.Error()
	default:
		return http.StatusInternalServerError, err.Error()
	}
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, ingestion.ErrBatchTooLarge):
		return "batch_too_large"
	case errors.Is(err, ingestion.ErrSchemaInvalid):
		return "schema_invalid"
	case errors.Is(err, ingestion.ErrInvalidSignature):
		return "invalid_signature"
	default:
		return "unknown"
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, 5<<20)
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(v)
}

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}
