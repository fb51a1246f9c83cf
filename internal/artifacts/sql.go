package artifacts

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// ErrFileNotFound is returned when a summary targets a file with no saved content.
var ErrFileNotFound = errors.New("file content not found")

var sqlSchema = []string{
	`CREATE TABLE IF NOT EXISTS file_contents (
		user_id TEXT NOT NULL,
		conversation_id TEXT NOT NULL,
		file_id TEXT NOT NULL,
		filename TEXT NOT NULL DEFAULT '',
		content TEXT NOT NULL DEFAULT '',
		summary TEXT NOT NULL DEFAULT '',
		updated_at TIMESTAMP NOT NULL,
		PRIMARY KEY (user_id, conversation_id, file_id)
	)`,
	`CREATE TABLE IF NOT EXISTS artifacts (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		conversation_id TEXT NOT NULL,
		file_id TEXT NOT NULL DEFAULT '',
		type TEXT NOT NULL,
		name TEXT NOT NULL,
		payload TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_artifacts_conversation ON artifacts(user_id, conversation_id, created_at)`,
}

// SQLSink stores derived content in SQLite or PostgreSQL.
type SQLSink struct {
	db *sqlx.DB
}

// NewSQLSink connects with driver ("sqlite3" or "postgres") and creates the
// tables if needed.
func NewSQLSink(driver, dsn string) (*SQLSink, error) {
	switch driver {
	case "sqlite3":
		if err := os.MkdirAll(filepath.Dir(dsn), 0755); err != nil {
			return nil, fmt.Errorf("failed to create artifacts directory: %w", err)
		}
	case "postgres":
	default:
		return nil, fmt.Errorf("unsupported artifacts driver: %s", driver)
	}

	db, err := sqlx.Connect(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open artifacts database: %w", err)
	}
	if driver == "sqlite3" {
		db.SetMaxOpenConns(1)
	}

	for _, stmt := range sqlSchema {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to initialize artifacts schema: %w", err)
		}
	}

	return &SQLSink{db: db}, nil
}

// Close closes the database.
func (s *SQLSink) Close() error {
	return s.db.Close()
}

// SaveContent inserts or replaces a file's text. An existing summary is kept.
func (s *SQLSink) SaveContent(ctx context.Context, f File) error {
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO file_contents (user_id, conversation_id, file_id, filename, content, summary, updated_at)
		VALUES (:user_id, :conversation_id, :file_id, :filename, :content, :summary, :updated_at)
		ON CONFLICT (user_id, conversation_id, file_id) DO UPDATE SET
			filename = excluded.filename,
			content = excluded.content,
			updated_at = excluded.updated_at`, f)
	if err != nil {
		return fmt.Errorf("failed to save file content: %w", err)
	}
	return nil
}

// SaveSummary sets the summary of a saved file.
func (s *SQLSink) SaveSummary(ctx context.Context, userID, conversationID, fileID, summary string) error {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`
		UPDATE file_contents SET summary = ?
		WHERE user_id = ? AND conversation_id = ? AND file_id = ?`),
		summary, userID, conversationID, fileID)
	if err != nil {
		return fmt.Errorf("failed to save summary: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to save summary: %w", err)
	}
	if n == 0 {
		return ErrFileNotFound
	}
	return nil
}

// SaveArtifact inserts an artifact.
func (s *SQLSink) SaveArtifact(ctx context.Context, a *Artifact) error {
	fillArtifact(a)
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO artifacts (id, user_id, conversation_id, file_id, type, name, payload, created_at)
		VALUES (:id, :user_id, :conversation_id, :file_id, :type, :name, :payload, :created_at)`, a)
	if err != nil {
		return fmt.Errorf("failed to save artifact: %w", err)
	}
	return nil
}

// File returns a file's derived text, or nil when unknown.
func (s *SQLSink) File(ctx context.Context, userID, conversationID, fileID string) (*File, error) {
	var f File
	err := s.db.GetContext(ctx, &f, s.db.Rebind(`
		SELECT user_id, conversation_id, file_id, filename, content, summary, updated_at
		FROM file_contents WHERE user_id = ? AND conversation_id = ? AND file_id = ?`),
		userID, conversationID, fileID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get file content: %w", err)
	}
	return &f, nil
}

// Artifacts lists a conversation's artifacts, oldest first.
func (s *SQLSink) Artifacts(ctx context.Context, userID, conversationID string) ([]Artifact, error) {
	var out []Artifact
	err := s.db.SelectContext(ctx, &out, s.db.Rebind(`
		SELECT id, user_id, conversation_id, file_id, type, name, payload, created_at
		FROM artifacts WHERE user_id = ? AND conversation_id = ?
		ORDER BY created_at, id`), userID, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to list artifacts: %w", err)
	}
	return out, nil
}

// DeleteFile removes a file's text and its artifacts in one transaction.
func (s *SQLSink) DeleteFile(ctx context.Context, userID, conversationID, fileID string) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, tx.Rebind(
		`DELETE FROM file_contents WHERE user_id = ? AND conversation_id = ? AND file_id = ?`),
		userID, conversationID, fileID); err != nil {
		return fmt.Errorf("failed to delete file content: %w", err)
	}
	if _, err := tx.ExecContext(ctx, tx.Rebind(
		`DELETE FROM artifacts WHERE user_id = ? AND conversation_id = ? AND file_id = ?`),
		userID, conversationID, fileID); err != nil {
		return fmt.Errorf("failed to delete artifacts: %w", err)
	}

	return tx.Commit()
}
