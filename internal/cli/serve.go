package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/nickcecere/docchat/internal/config"
	"github.com/nickcecere/docchat/internal/metrics"
	"github.com/nickcecere/docchat/internal/server"
)

var (
	serveAddr         string
	serveDrainTimeout time.Duration
)

// serveCmd runs the HTTP API
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP API",
	Long: `Start the HTTP API for uploads, questions and derived content.

Every /v1 route requires a bearer token signed with server.jwt_secret;
use 'docchat token' to mint one. Prometheus metrics are served on /metrics.

Examples:
  # Serve on the configured address
  DOCCHAT_SERVER_JWT_SECRET=change-me docchat serve

  # Serve on another port
  docchat serve --addr :9090`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (overrides server.addr)")
	serveCmd.Flags().DurationVar(&serveDrainTimeout, "drain-timeout", 30*time.Second, "how long background tasks may run after shutdown")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := config.Get()
	if cfg.Server.JWTSecret == "" {
		return errors.New("server.jwt_secret is required to serve the API")
	}

	addr := cfg.Server.Addr
	if serveAddr != "" {
		addr = serveAddr
	}

	ctx, cancel := signalContext(func(sig os.Signal) {
		log.Info("Received signal, shutting down", "signal", sig)
	})
	defer cancel()

	a, err := newApp(ctx, cfg, appOptions{Models: true, Derive: cfg.Artifacts.Derive})
	if err != nil {
		return err
	}
	defer func() {
		drainCtx, drainCancel := context.WithTimeout(context.Background(), serveDrainTimeout)
		defer drainCancel()
		if err := a.Close(drainCtx); err != nil {
			log.Warn("Shutdown incomplete", "error", err)
		}
	}()

	metrics.Register()

	deps := server.Deps{
		Indexer: a.indexer,
		Search:  a.composer,
		Index:   a.index,
		Sink:    a.sink,
		Mindmap: a.mindmap,
		Notes:   a.notes,
	}
	if a.queue != nil {
		deps.Tasks = a.queue
	}

	srv := server.New(deps, server.Options{
		JWTSecret:      []byte(cfg.Server.JWTSecret),
		MaxUploadBytes: cfg.Server.MaxUploadBytes,
	})

	if err := srv.ListenAndServe(ctx, addr); err != nil {
		return fmt.Errorf("server stopped: %w", err)
	}
	return nil
}
