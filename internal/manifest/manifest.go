// Package manifest records which files were ingested into a conversation.
// Each (user, conversation) pair has one JSON file keyed by file id.
package manifest

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/charmbracelet/log"
)

// Entry describes one ingested file.
type Entry struct {
	FileID     string    `json:"file_id"`
	Filename   string    `json:"filename"`
	FileType   string    `json:"file_type"`
	AddedAt    time.Time `json:"added_at"`
	ChunkCount int       `json:"chunk_count"`
	Hash       string    `json:"hash,omitempty"`
}

// FileStats is the per-file part of Stats.
type FileStats struct {
	FileID     string `json:"file_id"`
	Filename   string `json:"filename"`
	ChunkCount int    `json:"chunk_count"`
}

// Stats summarises a conversation's manifest.
type Stats struct {
	TotalFiles  int         `json:"total_files"`
	TotalChunks int         `json:"total_chunks"`
	Files       []FileStats `json:"files"`
}

// Store reads and writes manifests under a data directory. Updates to the
// same manifest are serialised and every write replaces the file atomically,
// so concurrent ingests into one conversation never lose entries.
type Store struct {
	dataDir string
	locks   sync.Map // path -> *sync.Mutex
}

// New creates a manifest store rooted at dataDir.
func New(dataDir string) *Store {
	return &Store{dataDir: dataDir}
}

var unsafePathChars = regexp.MustCompile(`[^A-Za-z0-9_.@-]`)

const maxSegmentLen = 64

// safeSegment maps an id to a file name fragment. The readable part loses
// characters outside unsafePathChars, so a hash of the raw id keeps distinct
// ids apart ("x+y@e.com" and "x_y@e.com" both sanitise to "x_y@e.com").
func safeSegment(s string) string {
	safe := unsafePathChars.ReplaceAllString(s, "_")
	if len(safe) > maxSegmentLen {
		safe = safe[:maxSegmentLen]
	}
	return fmt.Sprintf("%s_%08x", safe, uint32(xxhash.Sum64String(s)))
}

// Path returns the manifest file of a conversation.
func (s *Store) Path(userID, conversationID string) string {
	return filepath.Join(s.dataDir, safeSegment(userID),
		fmt.Sprintf("chat_%s_files.json", safeSegment(conversationID)))
}

func (s *Store) lock(path string) func() {
	m, _ := s.locks.LoadOrStore(path, &sync.Mutex{})
	mu := m.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// load reads a manifest; a missing file is an empty manifest.
func load(path string) (map[string]Entry, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return map[string]Entry{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	entries := map[string]Entry{}
	if len(data) == 0 {
		return entries, nil
	}
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("failed to parse manifest %s: %w", path, err)
	}
	return entries, nil
}

// save writes to a temporary file in the same directory and renames it over
// the manifest.
func save(path string, entries map[string]Entry) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create manifest directory: %w", err)
	}

	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal manifest: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".manifest-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close manifest: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to replace manifest: %w", err)
	}
	return nil
}

// Add records a file, replacing any entry with the same id. A zero AddedAt
// is set to now.
func (s *Store) Add(userID, conversationID string, e Entry) error {
	if e.FileID == "" {
		return fmt.Errorf("file id is required")
	}
	if e.AddedAt.IsZero() {
		e.AddedAt = time.Now().UTC()
	}

	path := s.Path(userID, conversationID)
	defer s.lock(path)()

	entries, err := load(path)
	if err != nil {
		return err
	}
	entries[e.FileID] = e

	if err := save(path, entries); err != nil {
		return err
	}

	log.Debug("Added file to manifest", "path", path, "file_id", e.FileID, "chunks", e.ChunkCount)
	return nil
}

// Remove deletes a file entry and reports whether it existed.
func (s *Store) Remove(userID, conversationID, fileID string) (bool, error) {
	path := s.Path(userID, conversationID)
	defer s.lock(path)()

	entries, err := load(path)
	if err != nil {
		return false, err
	}
	if _, ok := entries[fileID]; !ok {
		return false, nil
	}
	delete(entries, fileID)

	return true, save(path, entries)
}

// Get returns one entry, or nil if the file is not in the manifest.
func (s *Store) Get(userID, conversationID, fileID string) (*Entry, error) {
	path := s.Path(userID, conversationID)
	defer s.lock(path)()

	entries, err := load(path)
	if err != nil {
		return nil, err
	}
	e, ok := entries[fileID]
	if !ok {
		return nil, nil
	}
	return &e, nil
}

// List returns all entries ordered by the time they were added.
func (s *Store) List(userID, conversationID string) ([]Entry, error) {
	path := s.Path(userID, conversationID)
	defer s.lock(path)()

	entries, err := load(path)
	if err != nil {
		return nil, err
	}

	list := make([]Entry, 0, len(entries))
	for _, e := range entries {
		list = append(list, e)
	}
	sort.Slice(list, func(i, j int) bool {
		if !list[i].AddedAt.Equal(list[j].AddedAt) {
			return list[i].AddedAt.Before(list[j].AddedAt)
		}
		return list[i].FileID < list[j].FileID
	})
	return list, nil
}

// Stats totals files and chunks of a conversation.
func (s *Store) Stats(userID, conversationID string) (*Stats, error) {
	list, err := s.List(userID, conversationID)
	if err != nil {
		return nil, err
	}

	stats := &Stats{TotalFiles: len(list), Files: make([]FileStats, 0, len(list))}
	for _, e := range list {
		stats.TotalChunks += e.ChunkCount
		stats.Files = append(stats.Files, FileStats{
			FileID:     e.FileID,
			Filename:   e.Filename,
			ChunkCount: e.ChunkCount,
		})
	}
	return stats, nil
}
