package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/nickcecere/docchat/internal/config"
	"github.com/nickcecere/docchat/internal/indexer"
	"github.com/nickcecere/docchat/internal/search"
	"github.com/nickcecere/docchat/internal/ui"
)

var (
	askJSON    bool
	askContent bool
)

// askCmd represents the ask command
var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Ask a question about the ingested documents",
	Long: `Answer a question from the documents of the current conversation.

The question is embedded, the closest chunks are retrieved and an LLM
composes an answer from them. Sources are listed per file.

Examples:
  # Ask across every file in the conversation
  docchat ask "what are the key findings?"

  # Restrict to specific files and retrieve more chunks
  docchat ask "summarise the methodology" -f <file-id> -k 10

  # Show the retrieved chunks
  docchat ask "who signed the contract?" -c`,
	Args: cobra.ExactArgs(1),
	RunE: runAsk,
}

func init() {
	askCmd.Flags().IntP("top-k", "k", 0, "number of chunks to retrieve")
	askCmd.Flags().StringSliceP("file", "f", nil, "restrict the question to these file ids")
	askCmd.Flags().BoolVar(&askJSON, "json", false, "output the answer as JSON")
	askCmd.Flags().BoolVarP(&askContent, "content", "c", false, "show retrieved chunks")
}

func runAsk(cmd *cobra.Command, args []string) error {
	k, _ := cmd.Flags().GetInt("top-k")
	fileIDs, _ := cmd.Flags().GetStringSlice("file")

	log.Debug("Starting query",
		"question", args[0],
		"conversation", conversationID,
		"k", k,
		"files", fileIDs,
	)

	cfg := config.Get()

	ctx, cancel := signalContext(func(os.Signal) { fmt.Println("\nInterrupted") })
	defer cancel()

	a, err := newApp(ctx, cfg, appOptions{Models: true})
	if err != nil {
		return err
	}
	defer closeApp(a)

	var answer *search.Answer
	err = withSpinner("Thinking", func() error {
		answer, err = a.composer.Query(ctx, search.Request{
			Namespace: indexer.Namespace(userID, conversationID),
			Query:     args[0],
			K:         k,
			FileIDs:   fileIDs,
		})
		return err
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("query failed: %w", err)
	}

	if askJSON {
		out, err := json.MarshalIndent(answer, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to encode answer: %w", err)
		}
		fmt.Println(string(out))
		return nil
	}

	displayAnswer(answer, askContent)
	return nil
}

// displayAnswer renders the answer as markdown followed by its sources.
func displayAnswer(answer *search.Answer, showContent bool) {
	fmt.Println(ui.Header.Render("Answer"))
	fmt.Println()

	rendered, err := renderMarkdown(answer.Answer)
	if err != nil {
		fmt.Println(answer.Answer)
	} else {
		fmt.Print(rendered)
	}

	if len(answer.FileOrder) == 0 {
		return
	}

	fmt.Println(ui.Dim.Render("Sources:"))
	for i, fileID := range answer.FileOrder {
		src := answer.SourcesByFile[fileID]
		if src == nil {
			continue
		}

		best := 0.0
		for _, c := range src.Chunks {
			best = max(best, c.Score)
		}
		fmt.Printf("  %s %s %s\n",
			ui.Highlight.Render(fmt.Sprintf("[%d]", i+1)),
			ui.FilePath.Render(src.Filename),
			ui.FormatScore(best),
		)

		if !showContent {
			continue
		}
		for _, c := range src.Chunks {
			fmt.Printf("    %s %s\n",
				ui.LineNum.Render(fmt.Sprintf("#%d", c.ChunkIndex)),
				truncateLine(c.Content, 100),
			)
		}
	}
}

// withSpinner runs fn while an animated spinner is shown.
func withSpinner(message string, fn func() error) error {
	stop := make(chan struct{})
	done := make(chan struct{})
	go showSpinner(message, stop, done)

	err := fn()

	close(stop)
	<-done
	return err
}

// showSpinner displays an animated spinner until stopCh is closed.
func showSpinner(message string, stopCh <-chan struct{}, doneCh chan<- struct{}) {
	frames := []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}
	ticker := time.NewTicker(80 * time.Millisecond)
	defer ticker.Stop()
	defer close(doneCh)

	i := 0
	for {
		select {
		case <-stopCh:
			// Clear spinner line
			fmt.Print("\r\033[2K")
			return
		case <-ticker.C:
			fmt.Printf("\r%s %s", ui.Highlight.Render(frames[i]), message)
			i = (i + 1) % len(frames)
		}
	}
}

// renderMarkdown renders markdown content using glamour.
func renderMarkdown(content string) (string, error) {
	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(100),
	)
	if err != nil {
		return "", err
	}
	return renderer.Render(content)
}

// truncateLine flattens a chunk to one display line.
func truncateLine(line string, maxLen int) string {
	line = strings.Join(strings.Fields(line), " ")
	runes := []rune(line)
	if len(runes) <= maxLen {
		return line
	}
	return string(runes[:maxLen-3]) + "..."
}
