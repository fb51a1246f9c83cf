package cli

import (
	"context"
	"os"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/nickcecere/docchat/internal/config"
	"github.com/nickcecere/docchat/internal/mcp"
)

var mcpWatchDir string

// mcpCmd represents the MCP server command.
var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start MCP server for AI agent integration",
	Long: `Start a Model Context Protocol (MCP) server so AI agents can use your documents.

The server communicates via stdin/stdout using JSON-RPC 2.0 and provides tools for:
  - ask_documents: Answer a question with sources
  - list_files: List the documents of a conversation
  - ingest_document: Ingest a local PDF
  - remove_file: Remove a document

With --watch, a background watcher keeps the conversation in sync with a
directory of PDFs.

This command is typically invoked by an agent and not run directly by users.`,
	Args: cobra.NoArgs,
	RunE: runMcpCmd,
}

func init() {
	mcpCmd.Flags().StringVar(&mcpWatchDir, "watch", "", "directory of PDFs to keep in sync")
}

func runMcpCmd(cmd *cobra.Command, args []string) error {
	// stdout carries the protocol, so logs must go to stderr
	log.SetOutput(os.Stderr)

	cfg := config.Get()

	ctx, cancel := signalContext(func(sig os.Signal) {
		log.Info("Received signal, shutting down", "signal", sig)
	})
	defer cancel()

	a, err := newApp(ctx, cfg, appOptions{Models: true, Derive: cfg.Artifacts.Derive})
	if err != nil {
		return err
	}
	defer closeApp(a)

	if mcpWatchDir != "" {
		go startBackgroundWatcher(ctx, a, mcpWatchDir)
	}

	server := mcp.NewServer(a.indexer, a.composer, mcp.Options{
		UserID:         userID,
		ConversationID: conversationID,
		Version:        version,
	})
	return server.Run(ctx)
}

// startBackgroundWatcher keeps dir in sync until ctx is cancelled.
func startBackgroundWatcher(ctx context.Context, a *app, dir string) {
	// Let the MCP handshake finish first
	select {
	case <-ctx.Done():
		return
	case <-time.After(2 * time.Second):
	}

	w, err := newWatcher(a, dir, time.Second)
	if err != nil {
		log.Error("Failed to create watcher", "error", err)
		return
	}

	log.Info("Starting background watcher", "path", dir)
	if err := w.Start(ctx); err != nil && ctx.Err() == nil {
		log.Error("Watcher error", "error", err)
	}
}
