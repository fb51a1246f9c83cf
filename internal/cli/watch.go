package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/nickcecere/docchat/internal/config"
	"github.com/nickcecere/docchat/internal/indexer"
	"github.com/nickcecere/docchat/internal/ui"
	"github.com/nickcecere/docchat/internal/watcher"
)

var watchNoInitial bool

// watchCmd represents the watch command.
var watchCmd = &cobra.Command{
	Use:   "watch [dir]",
	Short: "Keep a conversation in sync with a folder of PDFs",
	Long: `Watch a directory and ingest PDFs as they appear or change.

The directory is ingested first (unless --no-initial is specified); after
that new or modified PDFs are ingested and deleted ones are removed from
the conversation.

Examples:
  # Watch the current directory
  docchat watch

  # Watch an inbox folder into its own conversation
  docchat watch ~/Inbox -C inbox

  # Skip the initial sync (assumes already ingested)
  docchat watch --no-initial`,
	Args: cobra.MaximumNArgs(1),
	RunE: runWatchCmd,
}

func init() {
	watchCmd.Flags().BoolVar(&watchNoInitial, "no-initial", false, "skip initial ingest")
}

func runWatchCmd(cmd *cobra.Command, args []string) error {
	path := "."
	if len(args) > 0 {
		path = args[0]
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve path: %w", err)
	}
	info, err := os.Stat(absPath)
	if err != nil {
		return fmt.Errorf("path does not exist: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("path is not a directory: %s", absPath)
	}

	cfg := config.Get()

	ctx, cancel := signalContext(func(os.Signal) { fmt.Println("\nShutting down...") })
	defer cancel()

	a, err := newApp(ctx, cfg, appOptions{Models: true, Derive: cfg.Artifacts.Derive})
	if err != nil {
		return err
	}
	defer closeApp(a)

	if !watchNoInitial {
		fmt.Println(ui.Header.Render("Initial Ingest"))
		fmt.Printf("Path: %s\n", absPath)
		fmt.Printf("Provider: %s (%s)\n\n", cfg.Embeddings.Provider, a.embedder.ModelName())

		err := withSpinner("Ingesting documents", func() error {
			return a.indexer.IngestDir(ctx, userID, conversationID, absPath, indexer.DirOptions{
				IgnorePatterns: cfg.Ignore,
			})
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("initial ingest failed: %w", err)
		}

		p := a.indexer.Progress()
		fmt.Printf("Initial ingest complete: %d ingested, %d unchanged, %d chunks\n\n",
			p.ProcessedFiles, p.SkippedFiles, p.TotalChunks)
	}

	w, err := newWatcher(a, absPath, 500*time.Millisecond)
	if err != nil {
		return err
	}

	fmt.Println(ui.Header.Render("Watching for Changes"))
	fmt.Printf("Directory:    %s\n", absPath)
	fmt.Printf("Conversation: %s\n", conversationID)
	fmt.Println("Press Ctrl+C to stop.")
	fmt.Println()

	if err := w.Start(ctx); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

// newWatcher creates a watcher feeding dir into the current conversation.
func newWatcher(a *app, dir string, debounce time.Duration) (*watcher.Watcher, error) {
	w, err := watcher.New(dir, userID, conversationID, a.indexer,
		watcher.WithDebounceTime(debounce),
		watcher.WithIgnorePatterns(a.cfg.Ignore),
		watcher.WithMaxFileSize(a.cfg.Server.MaxUploadBytes),
		watcher.WithEventCallback(func(event, path string) {
			log.Debug("File event", "event", event, "path", path)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	return w, nil
}
