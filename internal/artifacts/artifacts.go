// Package artifacts derives and persists content built from ingested
// documents: reconstructed text, summaries, notes and mindmaps.
package artifacts

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/nickcecere/docchat/internal/config"
	"github.com/nickcecere/docchat/internal/store"
)

// Artifact types.
const (
	TypeNote    = "note"
	TypeMindmap = "mindmap"
)

// File is the derived text of one ingested file.
type File struct {
	UserID         string    `json:"user_id" db:"user_id"`
	ConversationID string    `json:"conversation_id" db:"conversation_id"`
	FileID         string    `json:"file_id" db:"file_id"`
	Filename       string    `json:"filename" db:"filename"`
	Content        string    `json:"content,omitempty" db:"content"`
	Summary        string    `json:"summary,omitempty" db:"summary"`
	UpdatedAt      time.Time `json:"updated_at" db:"updated_at"`
}

// Artifact is a note or mindmap attached to a conversation. Payload is
// Markdown for notes and the JSON tree for mindmaps.
type Artifact struct {
	ID             string    `json:"id" db:"id"`
	UserID         string    `json:"user_id" db:"user_id"`
	ConversationID string    `json:"conversation_id" db:"conversation_id"`
	FileID         string    `json:"file_id" db:"file_id"`
	Type           string    `json:"type" db:"type"`
	Name           string    `json:"name" db:"name"`
	Payload        string    `json:"payload" db:"payload"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
}

// Sink persists derived content. Everything is keyed by user and
// conversation, since conversation ids are only unique per user.
type Sink interface {
	// SaveContent stores the reconstructed text of a file.
	SaveContent(ctx context.Context, f File) error

	// SaveSummary attaches a summary to a file saved with SaveContent.
	SaveSummary(ctx context.Context, userID, conversationID, fileID, summary string) error

	// SaveArtifact stores a note or mindmap. A missing ID or CreatedAt is filled in.
	SaveArtifact(ctx context.Context, a *Artifact) error

	// File returns the derived text of a file, or nil when unknown.
	File(ctx context.Context, userID, conversationID, fileID string) (*File, error)

	// Artifacts lists a conversation's artifacts, oldest first.
	Artifacts(ctx context.Context, userID, conversationID string) ([]Artifact, error)

	// DeleteFile removes a file's derived text and its artifacts.
	DeleteFile(ctx context.Context, userID, conversationID, fileID string) error

	Close() error
}

// NewSink creates the sink selected by artifacts.backend.
func NewSink(ctx context.Context, cfg *config.Config) (Sink, error) {
	switch cfg.Artifacts.Backend {
	case "sql":
		return NewSQLSink(cfg.Artifacts.SQL.Driver, cfg.Artifacts.SQL.DSN)
	case "s3":
		return NewS3Sink(ctx, cfg.Artifacts.S3)
	default:
		return nil, fmt.Errorf("unsupported artifacts backend: %s", cfg.Artifacts.Backend)
	}
}

// fillArtifact assigns an id and creation time when missing.
func fillArtifact(a *Artifact) {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
}

// Source identifies an ingested file to derive content from.
type Source struct {
	Namespace      string
	UserID         string
	ConversationID string
	FileID         string
	Filename       string
}

// NoteName is the default artifact name for a file: its name without the
// .pdf extension.
func NoteName(filename string) string {
	if strings.EqualFold(filepath.Ext(filename), ".pdf") {
		return filename[:len(filename)-4]
	}
	return filename
}

// Deriver rebuilds a file's text from its stored chunks, summarizes it and
// records the summary as a note.
type Deriver struct {
	index      store.Index
	sink       Sink
	summarizer *Summarizer
}

// NewDeriver creates a Deriver.
func NewDeriver(index store.Index, sink Sink, summarizer *Summarizer) *Deriver {
	return &Deriver{index: index, sink: sink, summarizer: summarizer}
}

// Content joins the stored chunks of a file in order. It returns "" when
// the namespace or file has no chunks.
func Content(ctx context.Context, index store.Index, namespace, fileID string) (string, error) {
	coll, err := index.Open(ctx, namespace)
	if err != nil {
		return "", fmt.Errorf("failed to open collection: %w", err)
	}
	if coll == nil {
		return "", nil
	}
	chunks, err := coll.Chunks(ctx, fileID)
	if err != nil {
		return "", fmt.Errorf("failed to read chunks: %w", err)
	}
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
	}
	return strings.Join(texts, "\n"), nil
}

// Derive runs the whole derivation for one file.
func (d *Deriver) Derive(ctx context.Context, src Source) error {
	content, err := Content(ctx, d.index, src.Namespace, src.FileID)
	if err != nil {
		return err
	}
	if content == "" {
		return fmt.Errorf("no stored chunks for file %s", src.FileID)
	}

	if err := d.sink.SaveContent(ctx, File{
		UserID:         src.UserID,
		ConversationID: src.ConversationID,
		FileID:         src.FileID,
		Filename:       src.Filename,
		Content:        content,
		UpdatedAt:      time.Now().UTC(),
	}); err != nil {
		return fmt.Errorf("failed to save content: %w", err)
	}
	log.Debug("Saved file content", "file_id", src.FileID, "chars", len(content))

	summary, err := d.summarizer.Summarize(ctx, content)
	if err != nil {
		return err
	}
	if err := d.sink.SaveSummary(ctx, src.UserID, src.ConversationID, src.FileID, summary); err != nil {
		return fmt.Errorf("failed to save summary: %w", err)
	}

	if err := d.sink.SaveArtifact(ctx, &Artifact{
		UserID:         src.UserID,
		ConversationID: src.ConversationID,
		FileID:         src.FileID,
		Type:           TypeNote,
		Name:           NoteName(src.Filename),
		Payload:        summary,
	}); err != nil {
		return fmt.Errorf("failed to save note: %w", err)
	}

	log.Info("Derived file artifacts", "file_id", src.FileID, "filename", src.Filename)
	return nil
}
