package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/charmbracelet/log"
	_ "github.com/mattn/go-sqlite3"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
)

func init() {
	// Register sqlite-vec extension
	sqlite_vec.Auto()
}

// SQLiteIndex implements Index using SQLite and sqlite-vec. Every collection
// gets its own vec0 table so collections may differ in dimensions.
type SQLiteIndex struct {
	db *sql.DB
	mu sync.RWMutex
}

// NewSQLiteIndex opens or creates the index database at dbPath.
func NewSQLiteIndex(dbPath string) (*SQLiteIndex, error) {
	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := initSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	log.Debug("Opened SQLite index", "path", dbPath)

	return &SQLiteIndex{db: db}, nil
}

// Backend implements Index.
func (s *SQLiteIndex) Backend() string { return "sqlite" }

// Close closes the database connection.
func (s *SQLiteIndex) Close() error {
	return s.db.Close()
}

// Open implements Index.
func (s *SQLiteIndex) Open(ctx context.Context, namespace string) (Collection, error) {
	if err := validateNamespace(namespace); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var dims int
	err := s.db.QueryRowContext(ctx, "SELECT dimensions FROM collections WHERE name = ?", namespace).Scan(&dims)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get collection: %w", err)
	}

	return &sqliteCollection{index: s, name: namespace, dims: dims}, nil
}

// Create implements Index.
func (s *SQLiteIndex) Create(ctx context.Context, namespace string, dimensions int) (Collection, error) {
	if err := validateNamespace(namespace); err != nil {
		return nil, err
	}
	if dimensions <= 0 {
		return nil, fmt.Errorf("invalid dimensions: %d", dimensions)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var existing int
	err := s.db.QueryRowContext(ctx, "SELECT dimensions FROM collections WHERE name = ?", namespace).Scan(&existing)
	switch {
	case err == nil:
		if existing != dimensions {
			return nil, fmt.Errorf("%w: collection %s has %d dimensions, got %d",
				ErrDimensionMismatch, namespace, existing, dimensions)
		}
		return &sqliteCollection{index: s, name: namespace, dims: existing}, nil
	case err != sql.ErrNoRows:
		return nil, fmt.Errorf("failed to get collection: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "INSERT INTO collections (name, dimensions) VALUES (?, ?)", namespace, dimensions); err != nil {
		return nil, fmt.Errorf("failed to create collection: %w", err)
	}
	if err := createVectorTable(tx, namespace, dimensions); err != nil {
		return nil, fmt.Errorf("failed to create vector table: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	log.Debug("Created collection", "namespace", namespace, "dimensions", dimensions)

	return &sqliteCollection{index: s, name: namespace, dims: dimensions}, nil
}

// Drop implements Index.
func (s *SQLiteIndex) Drop(ctx context.Context, namespace string) error {
	if err := validateNamespace(namespace); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DROP TABLE IF EXISTS "+vectorTable(namespace)); err != nil {
		return fmt.Errorf("failed to drop vector table: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM chunks WHERE collection = ?", namespace); err != nil {
		return fmt.Errorf("failed to delete chunks: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM collections WHERE name = ?", namespace); err != nil {
		return fmt.Errorf("failed to delete collection: %w", err)
	}

	return tx.Commit()
}

type sqliteCollection struct {
	index *SQLiteIndex
	name  string
	dims  int
}

func (c *sqliteCollection) Namespace() string { return c.name }
func (c *sqliteCollection) Dimensions() int   { return c.dims }

// Upsert writes chunks and their vectors in one transaction.
func (c *sqliteCollection) Upsert(ctx context.Context, chunks []Chunk, embeddings [][]float32) error {
	if err := checkBatch(chunks, embeddings, c.dims); err != nil {
		return err
	}
	if len(chunks) == 0 {
		return nil
	}

	c.index.mu.Lock()
	defer c.index.mu.Unlock()

	tx, err := c.index.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	vecTable := vectorTable(c.name)
	for i, chunk := range chunks {
		// Replace any previous version of this chunk
		var oldID int64
		err := tx.QueryRowContext(ctx,
			"SELECT id FROM chunks WHERE collection = ? AND file_id = ? AND chunk_index = ?",
			c.name, chunk.FileID, chunk.ChunkIndex).Scan(&oldID)
		if err == nil {
			if _, err := tx.ExecContext(ctx, "DELETE FROM "+vecTable+" WHERE chunk_id = ?", oldID); err != nil {
				return fmt.Errorf("failed to delete old vector: %w", err)
			}
			if _, err := tx.ExecContext(ctx, "DELETE FROM chunks WHERE id = ?", oldID); err != nil {
				return fmt.Errorf("failed to delete old chunk: %w", err)
			}
		} else if err != sql.ErrNoRows {
			return fmt.Errorf("failed to look up chunk: %w", err)
		}

		result, err := tx.ExecContext(ctx, `
			INSERT INTO chunks (collection, file_id, filename, file_type, chunk_index, content, user_id, conversation_id)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, c.name, chunk.FileID, chunk.Filename, chunk.FileType, chunk.ChunkIndex,
			chunk.Content, chunk.UserID, chunk.ConversationID)
		if err != nil {
			return fmt.Errorf("failed to insert chunk: %w", err)
		}

		chunkID, err := result.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to get chunk ID: %w", err)
		}

		// Zero vectors stay out of the KNN index; Search backfills them.
		if isZeroVector(embeddings[i]) {
			continue
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO "+vecTable+" (chunk_id, embedding) VALUES (?, ?)",
			chunkID, serializeEmbedding(embeddings[i])); err != nil {
			return fmt.Errorf("failed to insert embedding: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	log.Debug("Upserted chunks", "namespace", c.name, "chunks", len(chunks))
	return nil
}

// DeleteByFile removes a file's chunks and vectors atomically.
func (c *sqliteCollection) DeleteByFile(ctx context.Context, fileID string) (int, error) {
	c.index.mu.Lock()
	defer c.index.mu.Unlock()

	tx, err := c.index.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM `+vectorTable(c.name)+` WHERE chunk_id IN (
			SELECT id FROM chunks WHERE collection = ? AND file_id = ?
		)
	`, c.name, fileID); err != nil {
		return 0, fmt.Errorf("failed to delete vectors: %w", err)
	}

	result, err := tx.ExecContext(ctx, "DELETE FROM chunks WHERE collection = ? AND file_id = ?", c.name, fileID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete chunks: %w", err)
	}
	removed, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count deleted chunks: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return int(removed), nil
}

// Search ranks by cosine distance. Without a filter it uses the vec0 KNN
// index; with one it scores only the chunks of the listed files, so the
// filter is applied before ranking and never starves the result. Chunks
// without an embedding come last at UnembeddedDistance.
func (c *sqliteCollection) Search(ctx context.Context, query []float32, k int, fileIDs []string) ([]Hit, error) {
	if len(query) != c.dims {
		return nil, fmt.Errorf("%w: query has %d dimensions, collection has %d",
			ErrDimensionMismatch, len(query), c.dims)
	}
	if k <= 0 {
		return nil, nil
	}

	c.index.mu.RLock()
	defer c.index.mu.RUnlock()

	blob := serializeEmbedding(query)
	vecTable := vectorTable(c.name)

	if len(fileIDs) > 0 {
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(fileIDs)), ",")
		args := make([]any, 0, len(fileIDs)+5)
		args = append(args, UnembeddedDistance, blob, UnembeddedDistance, c.name)
		for _, id := range fileIDs {
			args = append(args, id)
		}
		args = append(args, k)

		rows, err := c.index.db.QueryContext(ctx, `
			SELECT file_id, filename, file_type, chunk_index, content,
				user_id, conversation_id, distance
			FROM (
				SELECT c.file_id, c.filename, c.file_type, c.chunk_index, c.content,
					c.user_id, c.conversation_id,
					v.chunk_id IS NULL AS unembedded,
					CASE WHEN v.chunk_id IS NULL THEN ?
						ELSE COALESCE(vec_distance_cosine(v.embedding, ?), ?) END AS distance
				FROM chunks c
				LEFT JOIN `+vecTable+` v ON v.chunk_id = c.id
				WHERE c.collection = ? AND c.file_id IN (`+placeholders+`)
			)
			ORDER BY unembedded, distance, file_id, chunk_index
			LIMIT ?
		`, args...)
		if err != nil {
			return nil, fmt.Errorf("failed to search: %w", err)
		}
		return scanHits(rows)
	}

	rows, err := c.index.db.QueryContext(ctx, `
		WITH knn AS (
			SELECT chunk_id, distance
			FROM `+vecTable+`
			WHERE embedding MATCH ? AND k = ?
		)
		SELECT c.file_id, c.filename, c.file_type, c.chunk_index, c.content,
			c.user_id, c.conversation_id, COALESCE(knn.distance, ?) AS distance
		FROM knn
		JOIN chunks c ON c.id = knn.chunk_id
		ORDER BY distance
	`, blob, k, UnembeddedDistance)
	if err != nil {
		return nil, fmt.Errorf("failed to search: %w", err)
	}
	hits, err := scanHits(rows)
	if err != nil || len(hits) >= k {
		return hits, err
	}

	rows, err = c.index.db.QueryContext(ctx, `
		SELECT c.file_id, c.filename, c.file_type, c.chunk_index, c.content,
			c.user_id, c.conversation_id, ? AS distance
		FROM chunks c
		WHERE c.collection = ? AND c.id NOT IN (SELECT chunk_id FROM `+vecTable+`)
		ORDER BY c.file_id, c.chunk_index
		LIMIT ?
	`, UnembeddedDistance, c.name, k-len(hits))
	if err != nil {
		return nil, fmt.Errorf("failed to list unembedded chunks: %w", err)
	}
	rest, err := scanHits(rows)
	if err != nil {
		return nil, err
	}
	return append(hits, rest...), nil
}

// scanHits reads search rows and closes them.
func scanHits(rows *sql.Rows) ([]Hit, error) {
	defer rows.Close()

	var hits []Hit
	for rows.Next() {
		var h Hit
		if err := rows.Scan(
			&h.Chunk.FileID, &h.Chunk.Filename, &h.Chunk.FileType, &h.Chunk.ChunkIndex,
			&h.Chunk.Content, &h.Chunk.UserID, &h.Chunk.ConversationID, &h.Distance,
		); err != nil {
			return nil, fmt.Errorf("failed to scan result: %w", err)
		}
		h.Score = 1 - h.Distance
		hits = append(hits, h)
	}

	return hits, rows.Err()
}

// Chunks implements Collection.
func (c *sqliteCollection) Chunks(ctx context.Context, fileID string) ([]Chunk, error) {
	c.index.mu.RLock()
	defer c.index.mu.RUnlock()

	rows, err := c.index.db.QueryContext(ctx, `
		SELECT file_id, filename, file_type, chunk_index, content, user_id, conversation_id
		FROM chunks
		WHERE collection = ? AND file_id = ?
		ORDER BY chunk_index
	`, c.name, fileID)
	if err != nil {
		return nil, fmt.Errorf("failed to list chunks: %w", err)
	}
	defer rows.Close()

	var chunks []Chunk
	for rows.Next() {
		var ch Chunk
		if err := rows.Scan(&ch.FileID, &ch.Filename, &ch.FileType, &ch.ChunkIndex,
			&ch.Content, &ch.UserID, &ch.ConversationID); err != nil {
			return nil, fmt.Errorf("failed to scan chunk: %w", err)
		}
		chunks = append(chunks, ch)
	}

	return chunks, rows.Err()
}

// Count implements Collection.
func (c *sqliteCollection) Count(ctx context.Context) (int, error) {
	c.index.mu.RLock()
	defer c.index.mu.RUnlock()

	var n int
	if err := c.index.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM chunks WHERE collection = ?", c.name).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count chunks: %w", err)
	}
	return n, nil
}
