package httpserver

import (
	"bytes"
	"context"
	"crypto/ed25519"
	crand "crypto/rand"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"

	"github.com/dooapps/tisane-relay/internal/config"
	"github.com/dooapps/tisane-relay/internal/ingestion"
	"github.com/dooapps/tisane-relay/internal/models"
	"github.com/dooapps/tisane-relay/internal/peers"
	"github.com/dooapps/tisane-relay/internal/relaytest"
)

func newTestServer(t *testing.T) (*relaytest.MemoryStore, http.Handler) {
	t.Helper()
	ms := relaytest.NewMemoryStore()
	cfg := config.Config{RelayID: uuid.New()}
	ingest := ingestion.New(ms, nil)
	registry := peers.New(ms)
	srv := New(cfg, ms, ingest, registry)
	return ms, srv.Router()
}

func doRequest(router http.Handler, method, path string, body []byte, headers map[string]string) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func signedInput(t *testing.T) ([]byte, models.EventInput) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(crand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	payload := json.RawMessage(`{"hello":"world"}`)
	sig := ed25519.Sign(priv, payload)
	in := models.EventInput{
		EventID:      uuid.New(),
		AuthorPubkey: hex.EncodeToString(pub),
		Signature:    hex.EncodeToString(sig),
		PayloadJSON:  payload,
	}
	body, err := json.Marshal([]models.EventInput{in})
	if err != nil {
		t.Fatalf("marshal input: %v", err)
	}
	return body, in
}

func TestHealthReportsOK(t *testing.T) {
	_, router := newTestServer(t)
	rec := doRequest(router, http.MethodGet, "/health", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestPushRejectsBadSignature(t *testing.T) {
	_, router := newTestServer(t)
	body := `[{"event_id":"` + uuid.New().String() + `","author_pubkey":"` + hex.EncodeToString(make([]byte, 32)) + `","signature":"` + hex.EncodeToString(make([]byte, 64)) + `"}]`
	rec := doRequest(router, http.MethodPost, "/relay/push", []byte(body), nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d (%s)", rec.Code, rec.Body.String())
	}
}

func TestPushAcceptsValidEvent(t *testing.T) {
	ms, router := newTestServer(t)
	body, in := signedInput(t)

	rec := doRequest(router, http.MethodPost, "/relay/push", body, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	if _, ok := ms.Events[in.EventID]; !ok {
		t.Fatalf("expected event to be stored")
	}
}

func TestPullReturnsPushedEvents(t *testing.T) {
	_, router := newTestServer(t)
	body, in := signedInput(t)
	doRequest(router, http.MethodPost, "/relay/push", body, nil)

	rec := doRequest(router, http.MethodGet, "/relay/pull?since=0&limit=10", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var resp struct {
		Events     []models.Event `json:"events"`
		NextCursor int64          `json:"next_cursor"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Events) != 1 || resp.Events[0].EventID != in.EventID {
		t.Fatalf("expected pulled event to match pushed event, got %+v", resp.Events)
	}
}

func TestReplicateRequiresPeerToken(t *testing.T) {
	_, router := newTestServer(t)
	body, _ := signedInput(t)
	rec := doRequest(router, http.MethodPost, "/relay/replicate", body, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestReplicateRejectsLoopback(t *testing.T) {
	ms := relaytest.NewMemoryStore()
	relayID := uuid.New()
	cfg := config.Config{RelayID: relayID}
	srv := New(cfg, ms, ingestion.New(ms, nil), peers.New(ms))
	router := srv.Router()

	if _, err := ms.AddPeer(context.Background(), "https://peer.example", "s3cr3t"); err != nil {
		t.Fatalf("add peer: %v", err)
	}

	body, _ := signedInput(t)
	rec := doRequest(router, http.MethodPost, "/relay/replicate", body, map[string]string{
		"X-Peer-Token": "s3cr3t",
		"X-Relay-Id":   relayID.String(),
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d (%s)", rec.Code, rec.Body.String())
	}
}

func TestReplicateAcceptsFromKnownPeer(t *testing.T) {
	ms, router := newTestServer(t)
	if _, err := ms.AddPeer(context.Background(), "https://peer.example", "s3cr3t"); err != nil {
		t.Fatalf("add peer: %v", err)
	}

	body, in := signedInput(t)
	rec := doRequest(router, http.MethodPost, "/relay/replicate", body, map[string]string{
		"X-Peer-Token": "s3cr3t",
		"X-Hop":        "1",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	if _, ok := ms.Events[in.EventID]; !ok {
		t.Fatalf("expected replicated event to be stored")
	}
}

func TestPeersListsHealthyOnly(t *testing.T) {
	ms, router := newTestServer(t)
	ms.AddPeerWithHealth(models.Peer{URL: "https://a", Health: models.PeerHealthHealthy})
	ms.AddPeerWithHealth(models.Peer{URL: "https://b", Health: models.PeerHealthDown})

	rec := doRequest(router, http.MethodGet, "/relay/peers", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var peersResp []models.Peer
	if err := json.Unmarshal(rec.Body.Bytes(), &peersResp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(peersResp) != 1 {
		t.Fatalf("expected 1 healthy peer, got %d", len(peersResp))
	}
}
