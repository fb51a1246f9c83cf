package cli

import (
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/nickcecere/docchat/internal/config"
	"github.com/nickcecere/docchat/internal/indexer"
	"github.com/nickcecere/docchat/internal/manifest"
	"github.com/nickcecere/docchat/internal/ui"
)

// statusCmd represents the status command
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show conversation status and statistics",
	Long: `Display information about the current conversation including:
- Number of documents and chunks
- Vector index backend and stored chunk count
- Whether each document's summary is ready

Examples:
  # Status of the default conversation
  docchat status

  # Status of another conversation
  docchat status -C research`,
	Args: cobra.NoArgs,
	RunE: runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg := config.Get()

	log.Debug("Showing status", "user", userID, "conversation", conversationID)

	a, err := newApp(ctx, cfg, appOptions{})
	if err != nil {
		return err
	}
	defer closeApp(a)

	stats, err := a.indexer.Stats(ctx, userID, conversationID)
	if err != nil {
		return fmt.Errorf("failed to get stats: %w", err)
	}

	fmt.Println(ui.Header.Render("Conversation Status"))
	fmt.Println()

	fmt.Printf("%s %s\n", ui.Highlight.Render("Conversation:"), ui.Bold.Render(conversationID))
	fmt.Printf("  %s %s\n", ui.Dim.Render("User:"), userID)

	ns := indexer.Namespace(userID, conversationID)
	fmt.Printf("  %s %s (%s)\n", ui.Dim.Render("Collection:"), ns, a.index.Backend())

	stored := -1
	coll, err := a.index.Open(ctx, ns)
	if err != nil {
		log.Warn("Failed to open collection", "namespace", ns, "error", err)
	} else if coll != nil {
		if stored, err = coll.Count(ctx); err != nil {
			log.Warn("Failed to count chunks", "namespace", ns, "error", err)
			stored = -1
		}
		fmt.Printf("  %s %d\n", ui.Dim.Render("Dimensions:"), coll.Dimensions())
	}

	fmt.Printf("  %s %d files, %d chunks\n", ui.Dim.Render("Documents:"), stats.TotalFiles, stats.TotalChunks)
	fmt.Printf("  %s %s\n", ui.Dim.Render("Health:"), getHealthStatus(stats, stored))

	if len(stats.Files) > 0 {
		fmt.Println()
		fmt.Println(ui.Dim.Render("Files:"))
		for _, f := range stats.Files {
			summary := ui.Dim.Render("no summary")
			if a.sink != nil {
				file, err := a.sink.File(ctx, userID, conversationID, f.FileID)
				if err != nil {
					log.Debug("Failed to read derived content", "file_id", f.FileID, "error", err)
				} else if file != nil && file.Summary != "" {
					summary = ui.Success.Render("summary ready")
				}
			}
			fmt.Printf("  %s %s %s\n",
				ui.FilePath.Render(f.Filename),
				ui.Dim.Render(fmt.Sprintf("(%d chunks)", f.ChunkCount)),
				summary,
			)
		}
	}

	fmt.Println()
	fmt.Println(ui.Dim.Render("Configuration:"))
	fmt.Printf("  Data dir: %s\n", cfg.Storage.DataDir)
	fmt.Printf("  Embedding Provider: %s\n", cfg.Embeddings.Provider)
	fmt.Printf("  LLM Provider: %s\n", cfg.LLM.Provider)

	return nil
}

// formatTime formats a time for display.
func formatTime(t time.Time) string {
	if t.IsZero() {
		return "unknown"
	}

	// If today, show time only
	now := time.Now()
	if t.Year() == now.Year() && t.YearDay() == now.YearDay() {
		return "today at " + t.Format("15:04")
	}

	// If this year, omit year
	if t.Year() == now.Year() {
		return t.Format("Jan 2 at 15:04")
	}

	return t.Format("Jan 2, 2006 at 15:04")
}

// getHealthStatus compares the manifest with the index. stored is -1 when
// the index could not be read.
func getHealthStatus(stats *manifest.Stats, stored int) string {
	if stats.TotalFiles == 0 {
		return ui.Warning.Render("empty (no documents ingested)")
	}
	if stored < 0 {
		return ui.Warning.Render("unknown (index unavailable)")
	}
	if stored != stats.TotalChunks {
		return ui.Warning.Render(fmt.Sprintf("out of sync (%d chunks indexed, %d expected)", stored, stats.TotalChunks))
	}
	return ui.Success.Render("healthy")
}
