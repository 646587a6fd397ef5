package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "relay",
	Short: "tisane-relay operates a signed-event relay node",
	Long: `tisane-relay runs an append-only, cryptographically verified event
log with cursor-based pull and peer-to-peer gossip replication.`,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	// Subcommands register themselves in their own files:
	// - serve.go: serveCmd
	// - peers.go: addPeerCmd, listPeersCmd, removePeerCmd
}
