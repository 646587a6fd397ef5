// Package bus publishes newly-admitted events to Kafka for downstream
// consumers. Publishing is best-effort: it runs synchronously inside
// ingestion with bounded retries, and never turns a Kafka outage into an
// ingestion failure.
package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/dooapps/tisane-relay/internal/models"
)

// KafkaPublisherConfig configures the underlying writer.
type KafkaPublisherConfig struct {
	Brokers []string
	Topic   string

	// MaxAttempts caps write attempts per message. Defaults to 3 if <= 0.
	MaxAttempts int
	// WriteTimeout is the per-attempt timeout. Defaults to 5s if zero.
	WriteTimeout time.Duration
}

// KafkaPublisher writes admitted events to a Kafka topic, keyed by event_id;
// the hash balancer sends every publish of one event to the same partition.
type KafkaPublisher struct {
	writer      *kafka.Writer
	maxAttempts int
	writeTime   time.Duration
}

// NewKafkaPublisher constructs a publisher. Returns an error if brokers or
// topic are missing; callers should treat the bus as optional and skip
// construction entirely when RELAY_KAFKA_BROKERS is unset.
func NewKafkaPublisher(cfg KafkaPublisherConfig) (*KafkaPublisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("bus: at least one broker required")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("bus: topic required")
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 5 * time.Second
	}

	w := kafka.NewWriter(kafka.WriterConfig{
		Brokers:      cfg.Brokers,
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: cfg.WriteTimeout,
		Async:        false,
	})

	return &KafkaPublisher{writer: w, maxAttempts: cfg.MaxAttempts, writeTime: cfg.WriteTimeout}, nil
}

// Publish implements ingestion.Publisher. Failures are logged, not returned:
// the event plane's durability guarantee comes from Postgres, not the bus.
func (p *KafkaPublisher) Publish(ctx context.Context, ev models.Event) {
	if p == nil || p.writer == nil {
		return
	}
	value, err := json.Marshal(ev)
	if err != nil {
		log.Printf("bus: marshal event %s: %v", ev.EventID, err)
		return
	}

	var lastErr error
	backoff := 100 * time.Millisecond
	for attempt := 1; attempt <= p.maxAttempts; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, p.writeTime)
		err := p.writer.WriteMessages(attemptCtx, kafka.Message{
			Key:   []byte(ev.EventID.String()),
			Value: value,
			Time:  time.Now().UTC(),
		})
		cancel()
		if err == nil {
			return
		}
		lastErr = err
		time.Sleep(backoff)
		if backoff < 2*time.Second {
			backoff *= 2
		}
	}
	log.Printf("bus: publish event %s failed after %d attempts: %v", ev.EventID, p.maxAttempts, lastErr)
}

// Close releases the underlying writer.
func (p *KafkaPublisher) Close() error {
	if p == nil || p.writer == nil {
		return nil
	}
	return p.writer.Close()
}
