package ingestion_test

import (
	"context"
	"crypto/ed25519"
	crand "crypto/rand"
	"encoding/hex"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dooapps/tisane-relay/internal/ingestion"
	"github.com/dooapps/tisane-relay/internal/models"
	"github.com/dooapps/tisane-relay/internal/relaytest"
)

func signedInput(t *testing.T, pub ed25519.PublicKey, priv ed25519.PrivateKey, eventType *string, payload json.RawMessage) models.EventInput {
	t.Helper()
	sig := ed25519.Sign(priv, canonicalize(t, payload))
	return models.EventInput{
		EventID:      uuid.New(),
		AuthorPubkey: hex.EncodeToString(pub),
		Signature:    hex.EncodeToString(sig),
		PayloadJSON:  payload,
		EventType:    eventType,
	}
}

func canonicalize(t *testing.T, payload json.RawMessage) []byte {
	t.Helper()
	if len(payload) == 0 {
		return nil
	}
	var generic interface{}
	require.NoError(t, json.Unmarshal(payload, &generic))
	out, err := json.Marshal(generic)
	require.NoError(t, err)
	return out
}

func TestAcceptInsertsValidEvent(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(crand.Reader)
	require.NoError(t, err)

	ms := relaytest.NewMemoryStore()
	svc := ingestion.New(ms, nil)

	in := signedInput(t, pub, priv, nil, json.RawMessage(`{"hello":"world"}`))

	inserted, err := svc.Accept(context.Background(), []models.EventInput{in})
	require.NoError(t, err)
	require.Len(t, inserted, 1)
	assert.Equal(t, in.EventID, inserted[0].EventID)
	assert.NotEmpty(t, inserted[0].PayloadHash)
}

func TestAcceptRejectsBatchTooLarge(t *testing.T) {
	ms := relaytest.NewMemoryStore()
	svc := ingestion.New(ms, nil)

	inputs := make([]models.EventInput, ingestion.MaxBatchSize+1)
	for i := range inputs {
		inputs[i] = models.EventInput{EventID: uuid.New()}
	}

	_, err := svc.Accept(context.Background(), inputs)
	assert.ErrorIs(t, err, ingestion.ErrBatchTooLarge)
}

func TestAcceptRejectsInvalidSignature(t *testing.T) {
	pub, _, err := ed25519.GenerateKey(crand.Reader)
	require.NoError(t, err)

	ms := relaytest.NewMemoryStore()
	svc := ingestion.New(ms, nil)

	in := models.EventInput{
		EventID:      uuid.New(),
		AuthorPubkey: hex.EncodeToString(pub),
		Signature:    hex.EncodeToString(make([]byte, ed25519.SignatureSize)),
		PayloadJSON:  json.RawMessage(`{"a":1}`),
	}

	_, err = svc.Accept(context.Background(), []models.EventInput{in})
	assert.ErrorIs(t, err, ingestion.ErrInvalidSignature)
}

func TestAcceptRequiresContentIDForValueProtocolEvents(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(crand.Reader)
	require.NoError(t, err)

	ms := relaytest.NewMemoryStore()
	svc := ingestion.New(ms, nil)

	etype := "read.completed"
	in := signedInput(t, pub, priv, &etype, json.RawMessage(`{"foo":"bar"}`))

	_, err = svc.Accept(context.Background(), []models.EventInput{in})
	require.Error(t, err)
	assert.ErrorIs(t, err, ingestion.ErrSchemaInvalid)
	assert.Contains(t, err.Error(), "content_id")
}

func TestAcceptRequiresWindowForValueSnapshot(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(crand.Reader)
	require.NoError(t, err)

	ms := relaytest.NewMemoryStore()
	svc := ingestion.New(ms, nil)

	etype := "value.snapshot"
	in := signedInput(t, pub, priv, &etype, json.RawMessage(`{"content_id":"c1"}`))

	_, err = svc.Accept(context.Background(), []models.EventInput{in})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "window_start")
}

func TestAcceptToleratesUnknownEventTypes(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(crand.Reader)
	require.NoError(t, err)

	ms := relaytest.NewMemoryStore()
	svc := ingestion.New(ms, nil)

	etype := "legacy.custom"
	in := signedInput(t, pub, priv, &etype, json.RawMessage(`{"anything":true}`))

	inserted, err := svc.Accept(context.Background(), []models.EventInput{in})
	require.NoError(t, err)
	assert.Len(t, inserted, 1)
}

type recordingPublisher struct {
	published []models.Event
}

func (p *recordingPublisher) Publish(ctx context.Context, ev models.Event) {
	p.published = append(p.published, ev)
}

func TestAcceptNotifiesPublisherOnlyForInsertedEvents(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(crand.Reader)
	require.NoError(t, err)

	ms := relaytest.NewMemoryStore()
	publisher := &recordingPublisher{}
	svc := ingestion.New(ms, publisher)

	in := signedInput(t, pub, priv, nil, json.RawMessage(`{"x":1}`))

	_, err = svc.Accept(context.Background(), []models.EventInput{in})
	require.NoError(t, err)
	require.Len(t, publisher.published, 1)
	assert.Equal(t, in.EventID, publisher.published[0].EventID)

	// Re-submitting the same event is a no-op at the store layer and must
	// not notify the publisher a second time.
	_, err = svc.Accept(context.Background(), []models.EventInput{in})
	require.NoError(t, err)
	assert.Len(t, publisher.published, 1)
}
