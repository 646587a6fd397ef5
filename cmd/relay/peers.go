package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/spf13/cobra"

	"github.com/dooapps/tisane-relay/internal/peers"
	"github.com/dooapps/tisane-relay/internal/store"
)

var (
	peerURL    string
	peerSecret string
	peerID     string
	databaseURL string
)

var addPeerCmd = &cobra.Command{
	Use:   "add-peer",
	Short: "register a remote relay as a replication peer",
	RunE: func(cmd *cobra.Command, args []string) error {
		registry, closeFn, err := openRegistry()
		if err != nil {
			return err
		}
		defer closeFn()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		peer, err := registry.Add(ctx, peerURL, peerSecret)
		if err != nil {
			return err
		}
		fmt.Printf("added peer %s (%s)\n", peer.PeerID, peer.URL)
		return nil
	},
}

var listPeersCmd = &cobra.Command{
	Use:   "list-peers",
	Short: "list all known replication peers",
	RunE: func(cmd *cobra.Command, args []string) error {
		registry, closeFn, err := openRegistry()
		if err != nil {
			return err
		}
		defer closeFn()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		list, err := registry.List(ctx)
		if err != nil {
			return err
		}
		for _, peer := range list {
			fmt.Printf("%s\t%s\t%s\n", peer.PeerID, peer.URL, peer.Health)
		}
		return nil
	},
}

var removePeerCmd = &cobra.Command{
	Use:   "remove-peer",
	Short: "remove a replication peer",
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := uuid.Parse(peerID)
		if err != nil {
			return fmt.Errorf("invalid peer id: %w", err)
		}

		registry, closeFn, err := openRegistry()
		if err != nil {
			return err
		}
		defer closeFn()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		removed, err := registry.Remove(ctx, id)
		if err != nil {
			return err
		}
		if !removed {
			return fmt.Errorf("peer %s not found", id)
		}
		fmt.Printf("removed peer %s\n", id)
		return nil
	},
}

func init() {
	addPeerCmd.Flags().StringVar(&peerURL, "url", "", "peer URL (e.g. http://peer-relay:8080)")
	addPeerCmd.Flags().StringVar(&peerSecret, "secret", "", "shared secret for authentication")
	addPeerCmd.Flags().StringVar(&databaseURL, "database-url", "", "Postgres database URL (or DATABASE_URL)")
	_ = addPeerCmd.MarkFlagRequired("url")
	_ = addPeerCmd.MarkFlagRequired("secret")

	listPeersCmd.Flags().StringVar(&databaseURL, "database-url", "", "Postgres database URL (or DATABASE_URL)")

	removePeerCmd.Flags().StringVar(&peerID, "peer-id", "", "peer ID to remove")
	removePeerCmd.Flags().StringVar(&databaseURL, "database-url", "", "Postgres database URL (or DATABASE_URL)")
	_ = removePeerCmd.MarkFlagRequired("peer-id")

	rootCmd.AddCommand(addPeerCmd, listPeersCmd, removePeerCmd)
}

func openRegistry() (*peers.Registry, func() error, error) {
	url := databaseURL
	if url == "" {
		url = os.Getenv("DATABASE_URL")
	}
	if url == "" {
		return nil, nil, fmt.Errorf("database url required (--database-url or DATABASE_URL)")
	}

	db, err := sql.Open("postgres", url)
	if err != nil {
		return nil, nil, fmt.Errorf("db open: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("db ping: %w", err)
	}

	registry := peers.New(store.NewPGStore(db))
	return registry, db.Close, nil
}
