// Package config loads runtime settings for the relay from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
)

// Config captures runtime settings for the relay service.
type Config struct {
	Addr            string
	DatabaseURL     string
	RelayID         uuid.UUID
	CycleInterval   time.Duration
	PushBatchLimit  int
	ReplicationSize int
	MaxHops         int
	KafkaBrokers    []string
	KafkaTopic      string
	ArchiveBucket   string
	ArchivePrefix   string
}

const (
	defaultAddr            = ":8080"
	defaultCycleInterval   = 5 * time.Second
	defaultPushBatchLimit  = 100
	defaultReplicationSize = 50
	defaultMaxHops         = 3
	defaultKafkaTopic      = "relay.events"
)

// Load reads environment variables (after optionally loading a local .env
// file) and returns a Config. A missing .env file is not an error.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		Addr:            normalizeAddr(getEnv("PORT", defaultAddr)),
		DatabaseURL:     os.Getenv("DATABASE_URL"),
		CycleInterval:   getDuration("RELAY_CYCLE_INTERVAL", defaultCycleInterval),
		PushBatchLimit:  getInt("RELAY_BATCH_LIMIT", defaultPushBatchLimit),
		ReplicationSize: getInt("RELAY_REPLICATION_BATCH", defaultReplicationSize),
		MaxHops:         getInt("RELAY_MAX_HOPS", defaultMaxHops),
		KafkaBrokers:    splitNonEmpty(os.Getenv("RELAY_KAFKA_BROKERS")),
		KafkaTopic:      getEnv("RELAY_KAFKA_TOPIC", defaultKafkaTopic),
		ArchiveBucket:   os.Getenv("RELAY_ARCHIVE_BUCKET"),
		ArchivePrefix:   os.Getenv("RELAY_ARCHIVE_PREFIX"),
	}

	if cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("DATABASE_URL is required")
	}

	if raw := os.Getenv("RELAY_ID"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return Config{}, fmt.Errorf("invalid RELAY_ID: %w", err)
		}
		cfg.RelayID = id
	} else {
		cfg.RelayID = uuid.New()
	}

	return cfg, nil
}

// normalizeAddr allows PORT to be given as either "8080" or ":8080".
func normalizeAddr(v string) string {
	if v == "" {
		return defaultAddr
	}
	if v[0] == ':' {
		return v
	}
	if _, err := strconv.Atoi(v); err == nil {
		return ":" + v
	}
	return v
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil && i > 0 {
			return i
		}
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
	}
	return fallback
}

func splitNonEmpty(raw string) []string {
	if raw == "" {
		return nil
	}
	var out []string
	start := 0
	for i := 0; i <= len(raw); i++ {
		if i == len(raw) || raw[i] == ',' {
			if i > start {
				out = append(out, raw[start:i])
			}
			start = i + 1
		}
	}
	return out
}
