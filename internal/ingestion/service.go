// Package ingestion implements the five-step event admission pipeline shared
// by the push and replicate-in entry points: batch-size gate, schema
// validation, hash recomputation, signature verification, and persistence.
package ingestion

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dooapps/tisane-relay/internal/crypto"
	"github.com/dooapps/tisane-relay/internal/models"
	"github.com/dooapps/tisane-relay/internal/store"
)

// MaxBatchSize is the hard cap on events accepted in a single push or
// replicate request.
const MaxBatchSize = 100

var (
	ErrBatchTooLarge    = fmt.Errorf("batch size exceeds limit (%d)", MaxBatchSize)
	ErrSchemaInvalid    = errors.New("event payload failed schema validation")
	ErrInvalidSignature = errors.New("invalid signature")
)

// valueProtocolEventTypes are the event types that receive strong schema
// validation beyond the generic envelope checks. Any other event_type is
// accepted without further inspection, matching the relay's legacy/extension
// tolerance for event kinds it doesn't yet understand.
var valueProtocolEventTypes = map[string]bool{
	"read.completed":     true,
	"derivative.created": true,
	"citation.created":   true,
	"value.snapshot":     true,
}

// Publisher is a best-effort sink notified of newly-persisted events. A nil
// Publisher (or a publish error) never fails ingestion.
type Publisher interface {
	Publish(ctx context.Context, ev models.Event)
}

// Service runs the admission pipeline against a Store.
type Service struct {
	store     store.Store
	publisher Publisher
}

func New(s store.Store, publisher Publisher) *Service {
	return &Service{store: s, publisher: publisher}
}

// SchemaError carries a human-readable validation failure, distinct from the
// generic ErrSchemaInvalid sentinel so handlers can surface the message.
type SchemaError struct {
	Message string
}

func (e *SchemaError) Error() string { return e.Message }
func (e *SchemaError) Unwrap() error { return ErrSchemaInvalid }

// ValidateSchema enforces the Value Protocol's structural requirements for
// the event types it recognizes (spec.md section 4.2). Unrecognized event
// types, or inputs with no event_type at all, pass through unexamined.
func ValidateSchema(in models.EventInput) error {
	if in.EventType == nil || !valueProtocolEventTypes[*in.EventType] {
		return nil
	}
	etype := *in.EventType

	if len(in.PayloadJSON) == 0 {
		return &SchemaError{Message: fmt.Sprintf("missing payload for event type '%s'", etype)}
	}

	var payload map[string]interface{}
	if err := json.Unmarshal(in.PayloadJSON, &payload); err != nil {
		return &SchemaError{Message: fmt.Sprintf("malformed payload for event type '%s'", etype)}
	}

	contentID, _ := payload["content_id"].(string)
	if contentID == "" {
		return &SchemaError{Message: fmt.Sprintf("missing or empty content_id for event type '%s'", etype)}
	}

	if etype == "value.snapshot" {
		_, hasStart := payload["window_start"]
		_, hasEnd := payload["window_end"]
		if !hasStart || !hasEnd {
			return &SchemaError{Message: "missing window_start or window_end for value.snapshot"}
		}
	}

	return nil
}

// Accept runs the full pipeline over a batch: batch-size gate, schema
// validation, hash recomputation, signature verification, then persistence.
// It returns the newly-inserted events with their assigned ServerSeq (events
// already seen, identified by event_id, are silently skipped by the store).
func (s *Service) Accept(ctx context.Context, inputs []models.EventInput) ([]models.Event, error) {
	if len(inputs) > MaxBatchSize {
		return nil, ErrBatchTooLarge
	}

	events := make([]models.Event, 0, len(inputs))
	for _, in := range inputs {
		if err := ValidateSchema(in); err != nil {
			return nil, err
		}

		hash, err := crypto.CanonicalPayloadHash(in.PayloadJSON)
		if err != nil {
			return nil, fmt.Errorf("compute payload hash: %w", err)
		}

		if !crypto.VerifySignature(in.AuthorPubkey, in.Signature, in.PayloadJSON) {
			return nil, ErrInvalidSignature
		}

		events = append(events, models.Event{
			EventID:      in.EventID,
			AuthorPubkey: in.AuthorPubkey,
			Signature:    in.Signature,
			PayloadHash:  hash,
			PayloadJSON:  in.PayloadJSON,
			EventType:    in.EventType,
			DeviceID:     in.DeviceID,
			AuthorID:     in.AuthorID,
			ContentID:    in.ContentID,
			OccurredAt:   in.OccurredAt,
			Lamport:      in.Lamport,
		})
	}

	inserted, err := s.store.InsertEvents(ctx, events)
	if err != nil {
		return nil, fmt.Errorf("insert events: %w", err)
	}

	if s.publisher != nil {
		for _, ev := range inserted {
			s.publisher.Publish(ctx, ev)
		}
	}

	return inserted, nil
}
