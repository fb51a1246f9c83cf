package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/nickcecere/docchat/internal/config"
	"github.com/nickcecere/docchat/internal/fs"
	"github.com/nickcecere/docchat/internal/indexer"
	"github.com/nickcecere/docchat/internal/ui"
)

var (
	ingestForce    bool
	ingestDryRun   bool
	ingestNoDerive bool
	ingestIgnore   []string
	ingestMaxFiles int
)

// ingestCmd represents the ingest command
var ingestCmd = &cobra.Command{
	Use:   "ingest <pdf|dir>...",
	Short: "Ingest PDF documents into a conversation",
	Long: `Ingest PDF files, or every PDF under a directory, into the current conversation.

Each document is:
1. Extracted, from its text layer or by OCR when it is scanned
2. Split into overlapping chunks
3. Embedded and stored in the conversation's vector index
4. Summarised in the background (unless --no-derive is set)

Unchanged files in a directory are skipped unless --force is given.

Examples:
  # Ingest a single report
  docchat ingest report.pdf

  # Ingest a folder into a named conversation
  docchat ingest ./papers -C research

  # Preview what a directory ingest would pick up
  docchat ingest ./papers --dry-run`,
	Args: cobra.MinimumNArgs(1),
	RunE: runIngest,
}

func init() {
	ingestCmd.Flags().BoolVar(&ingestForce, "force", false, "re-ingest files even if unchanged")
	ingestCmd.Flags().BoolVarP(&ingestDryRun, "dry-run", "d", false, "preview without ingesting")
	ingestCmd.Flags().BoolVar(&ingestNoDerive, "no-derive", false, "skip background summaries")
	ingestCmd.Flags().StringSliceVarP(&ingestIgnore, "ignore", "i", nil, "additional patterns to ignore")
	ingestCmd.Flags().IntVar(&ingestMaxFiles, "max-files", 0, "maximum number of PDFs to take from a directory")
}

func runIngest(cmd *cobra.Command, args []string) error {
	cfg := config.Get()

	if ingestDryRun {
		for _, path := range args {
			if err := runDryRun(path, cfg); err != nil {
				return err
			}
		}
		return nil
	}

	ctx, cancel := signalContext(func(os.Signal) {
		fmt.Println("\nInterrupted, cleaning up...")
	})
	defer cancel()

	a, err := newApp(ctx, cfg, appOptions{Models: true, Derive: cfg.Artifacts.Derive && !ingestNoDerive})
	if err != nil {
		return err
	}
	defer closeApp(a)

	fmt.Println(ui.Header.Render("Ingesting into " + conversationID))
	fmt.Printf("Provider: %s (%s)\n", cfg.Embeddings.Provider, a.embedder.ModelName())
	fmt.Printf("Index:    %s\n", a.index.Backend())
	fmt.Println()

	startTime := time.Now()
	var failed int

	for _, path := range args {
		info, err := os.Stat(path)
		if err != nil {
			return fmt.Errorf("path does not exist: %s", path)
		}

		if info.IsDir() {
			if err := ingestDir(ctx, a, path); err != nil {
				if ctx.Err() != nil {
					fmt.Println(ui.Warning.Render("Ingest cancelled"))
					return nil
				}
				return err
			}
			continue
		}

		if err := ingestOne(ctx, a, path); err != nil {
			if ctx.Err() != nil {
				fmt.Println(ui.Warning.Render("Ingest cancelled"))
				return nil
			}
			failed++
		}
	}

	stats, err := a.indexer.Stats(ctx, userID, conversationID)
	if err != nil {
		log.Warn("Failed to get stats", "error", err)
	} else {
		fmt.Println()
		fmt.Println(ui.Success.Render("Ingest complete!"))
		fmt.Println()
		fmt.Printf("  Files:    %d\n", stats.TotalFiles)
		fmt.Printf("  Chunks:   %d\n", stats.TotalChunks)
		fmt.Printf("  Duration: %s\n", time.Since(startTime).Round(time.Millisecond))
	}

	if n := a.pendingTasks(); n > 0 {
		fmt.Println()
		fmt.Println(ui.Dim.Render(fmt.Sprintf("Waiting for %d background summaries...", n)))
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d files failed", failed, len(args))
	}
	return nil
}

// ingestOne ingests a single file and prints its receipt.
func ingestOne(ctx context.Context, a *app, path string) error {
	receipt, err := a.indexer.IngestFile(ctx, userID, conversationID, path)
	if err != nil {
		fmt.Printf("%s %s: %s\n", ui.Error.Render("✗"), filepath.Base(path), describeIngestError(err))
		return err
	}

	kind := "digital"
	if receipt.Scanned {
		kind = "scanned"
	}
	fmt.Printf("%s %s %s\n",
		ui.Success.Render("✓"),
		ui.FilePath.Render(receipt.Filename),
		ui.Dim.Render(fmt.Sprintf("(%d pages, %s, %d chunks)", receipt.Pages, kind, receipt.Chunks)),
	)
	log.Debug("Ingested", "file_id", receipt.FileID, "hash", receipt.Hash, "task", receipt.TaskID)
	return nil
}

// ingestDir ingests a directory with a live progress line.
func ingestDir(ctx context.Context, a *app, path string) error {
	fmt.Printf("Path: %s\n", path)
	lastUpdate := time.Now()

	err := a.indexer.IngestDir(ctx, userID, conversationID, path, indexer.DirOptions{
		IgnorePatterns: append(a.cfg.Ignore, ingestIgnore...),
		MaxFileCount:   ingestMaxFiles,
		Force:          ingestForce,
		OnProgress: func(p indexer.Progress) {
			// Throttle updates to every 100ms
			if time.Since(lastUpdate) < 100*time.Millisecond {
				return
			}
			lastUpdate = time.Now()

			fmt.Printf("\r\033[K")
			if p.TotalFiles > 0 {
				done := p.ProcessedFiles + p.SkippedFiles + p.Errors
				pct := float64(done) / float64(p.TotalFiles) * 100
				fmt.Printf("Progress: %d/%d files (%.0f%%) | Chunks: %d | %s",
					done, p.TotalFiles, pct, p.TotalChunks,
					truncatePath(p.CurrentFile, 40))
			}
		},
	})

	fmt.Printf("\r\033[K")
	if err != nil {
		return fmt.Errorf("ingest failed: %w", err)
	}

	p := a.indexer.Progress()
	fmt.Printf("  %d ingested, %d unchanged, %d failed\n", p.ProcessedFiles, p.SkippedFiles, p.Errors)
	return nil
}

// describeIngestError turns ingest sentinels into short messages.
func describeIngestError(err error) string {
	switch {
	case errors.Is(err, indexer.ErrUnsupportedType):
		return "not a PDF"
	case errors.Is(err, indexer.ErrTooLarge):
		return "file too large"
	case errors.Is(err, indexer.ErrEmptyFile):
		return "empty file"
	case errors.Is(err, indexer.ErrNoChunks):
		return "no text found"
	case errors.Is(err, indexer.ErrEmbedding):
		return "embedding failed"
	default:
		return err.Error()
	}
}

// runDryRun shows what would be ingested without ingesting.
func runDryRun(path string, cfg *config.Config) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("path does not exist: %s", path)
	}

	fmt.Println(ui.Header.Render("Dry Run - Preview"))
	fmt.Printf("Path: %s\n\n", path)

	if !info.IsDir() {
		mime, err := fs.DetectMIME(path)
		if err != nil {
			return fmt.Errorf("failed to read file: %w", err)
		}
		fmt.Printf("  %s (%s, %s)\n", filepath.Base(path), mime, formatBytes(info.Size()))
		return nil
	}

	opts := fs.DefaultWalkOptions()
	opts.Root = path
	opts.IgnorePatterns = append(cfg.Ignore, ingestIgnore...)
	if cfg.Server.MaxUploadBytes > 0 {
		opts.MaxFileSize = cfg.Server.MaxUploadBytes
	}
	if ingestMaxFiles > 0 {
		opts.MaxFileCount = ingestMaxFiles
	}

	walker, err := fs.NewFileWalker(opts)
	if err != nil {
		return fmt.Errorf("failed to create file walker: %w", err)
	}

	var files []fs.FileInfo
	err = walker.Walk(func(fi fs.FileInfo) error {
		files = append(files, fi)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to walk directory: %w", err)
	}

	stats := walker.Stats()
	var totalSize int64
	for _, f := range files {
		totalSize += f.Size
	}

	fmt.Printf("PDFs to ingest: %d\n", len(files))
	fmt.Printf("Total size:     %s\n", formatBytes(totalSize))
	fmt.Printf("Skipped:        %d files, %d directories\n", stats.FilesSkipped, stats.DirsSkipped)

	if len(files) > 0 {
		fmt.Println("\nFirst 10 files:")
		for i, f := range files {
			if i >= 10 {
				fmt.Printf("  ... and %d more\n", len(files)-10)
				break
			}
			fmt.Printf("  %s (%s)\n", f.RelPath, formatBytes(f.Size))
		}
	}

	return nil
}

// closeApp releases the pipeline, letting queued summaries finish.
func closeApp(a *app) {
	ctx, cancel := signalContext(nil)
	defer cancel()
	if err := a.Close(ctx); err != nil {
		log.Warn("Shutdown incomplete", "error", err)
	}
}

// truncatePath shortens a path for display.
func truncatePath(path string, maxLen int) string {
	if len(path) <= maxLen {
		return path
	}
	return "..." + path[len(path)-maxLen+3:]
}

// formatBytes formats bytes as human-readable string.
func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
