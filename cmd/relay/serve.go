package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/spf13/cobra"

	"github.com/dooapps/tisane-relay/internal/archive"
	"github.com/dooapps/tisane-relay/internal/bus"
	"github.com/dooapps/tisane-relay/internal/config"
	"github.com/dooapps/tisane-relay/internal/httpserver"
	"github.com/dooapps/tisane-relay/internal/ingestion"
	"github.com/dooapps/tisane-relay/internal/peers"
	"github.com/dooapps/tisane-relay/internal/replication"
	"github.com/dooapps/tisane-relay/internal/store"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "start the relay server and its replication worker",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config load: %w", err)
	}

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("db open: %w", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		return fmt.Errorf("db ping: %w", err)
	}

	relayStore := store.NewPGStore(db)
	registry := peers.New(relayStore)

	var publisher ingestion.Publisher
	if len(cfg.KafkaBrokers) > 0 {
		kp, err := bus.NewKafkaPublisher(bus.KafkaPublisherConfig{Brokers: cfg.KafkaBrokers, Topic: cfg.KafkaTopic})
		if err != nil {
			return fmt.Errorf("kafka publisher init: %w", err)
		}
		defer kp.Close()
		publisher = kp
	}

	ingest := ingestion.New(relayStore, publisher)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var archiver archive.Archiver
	if cfg.ArchiveBucket != "" {
		a, err := archive.NewS3Archiver(ctx, cfg.ArchiveBucket, cfg.ArchivePrefix)
		if err != nil {
			return fmt.Errorf("s3 archiver init: %w", err)
		}
		archiver = a
	}

	worker := replication.NewWorker(registry, relayStore, replication.WorkerConfig{
		RelayID:       cfg.RelayID,
		CycleInterval: cfg.CycleInterval,
		BatchSize:     cfg.ReplicationSize,
		Archiver:      archiver,
	})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		worker.Run(ctx)
	}()

	server := httpserver.New(cfg, relayStore, ingest, registry)
	httpServer := &http.Server{
		Addr:    cfg.Addr,
		Handler: server.Router(),
	}

	go func() {
		log.Printf("relay %s listening on %s", cfg.RelayID, cfg.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http server error: %v", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}
	wg.Wait()
	return nil
}
