package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nickcecere/docchat/internal/config"
	"github.com/nickcecere/docchat/internal/ui"
)

var (
	filesJSON bool
	removeYes bool
)

// filesCmd lists the documents of a conversation
var filesCmd = &cobra.Command{
	Use:   "files",
	Short: "List documents in the conversation",
	Long:  `List every document ingested into the current conversation.`,
	Args:  cobra.NoArgs,
	RunE:  runFiles,
}

func init() {
	filesCmd.Flags().BoolVar(&filesJSON, "json", false, "output as JSON")
}

func runFiles(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx, config.Get(), appOptions{})
	if err != nil {
		return err
	}
	defer closeApp(a)

	entries, err := a.indexer.Files(ctx, userID, conversationID)
	if err != nil {
		return fmt.Errorf("failed to list files: %w", err)
	}

	if filesJSON {
		out, err := json.MarshalIndent(entries, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to encode files: %w", err)
		}
		fmt.Println(string(out))
		return nil
	}

	if len(entries) == 0 {
		fmt.Println("No documents in this conversation.")
		fmt.Println("\nRun 'docchat ingest <pdf>' to add one.")
		return nil
	}

	fmt.Println(ui.Header.Render("Documents in " + conversationID))
	fmt.Println()

	for _, e := range entries {
		fmt.Printf("%s\n", ui.Highlight.Render(e.Filename))
		fmt.Printf("  ID:      %s\n", e.FileID)
		fmt.Printf("  Chunks:  %d\n", e.ChunkCount)
		fmt.Printf("  Added:   %s\n", formatTime(e.AddedAt.Local()))
		fmt.Println()
	}

	return nil
}

// removeCmd deletes a document from a conversation
var removeCmd = &cobra.Command{
	Use:     "rm <file-id>",
	Aliases: []string{"remove"},
	Short:   "Remove a document from the conversation",
	Long:    `Remove a document's chunks, its manifest entry and any derived content.`,
	Args:    cobra.ExactArgs(1),
	RunE:    runRemove,
}

func init() {
	removeCmd.Flags().BoolVarP(&removeYes, "yes", "y", false, "do not ask for confirmation")
}

func runRemove(cmd *cobra.Command, args []string) error {
	fileID := args[0]
	ctx := cmd.Context()

	a, err := newApp(ctx, config.Get(), appOptions{})
	if err != nil {
		return err
	}
	defer closeApp(a)

	entry, err := a.indexer.File(ctx, userID, conversationID, fileID)
	if err != nil {
		return fmt.Errorf("failed to look up file: %w", err)
	}
	name := fileID
	if entry != nil {
		name = entry.Filename
	}

	if !removeYes {
		fmt.Printf("Remove '%s' from %s? [y/N]: ", name, conversationID)
		var confirm string
		fmt.Scanln(&confirm)
		if strings.ToLower(confirm) != "y" {
			fmt.Println("Cancelled.")
			return nil
		}
	}

	removed, err := a.indexer.Remove(ctx, userID, conversationID, fileID)
	if err != nil {
		return fmt.Errorf("failed to remove file: %w", err)
	}
	if !removed && entry == nil {
		return fmt.Errorf("file not found: %s", fileID)
	}

	fmt.Println(ui.Success.Render(fmt.Sprintf("Removed '%s'.", name)))
	return nil
}
