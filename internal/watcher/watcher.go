// Package watcher keeps a conversation in sync with a directory of PDFs.
package watcher

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/fsnotify/fsnotify"
	gitignore "github.com/sabhiram/go-gitignore"

	"github.com/nickcecere/docchat/internal/fs"
	"github.com/nickcecere/docchat/internal/indexer"
)

// Handler applies file changes to a conversation. *indexer.Indexer
// implements it.
type Handler interface {
	IngestFile(ctx context.Context, userID, conversationID, path string) (*indexer.Receipt, error)
	Remove(ctx context.Context, userID, conversationID, fileID string) (bool, error)
}

// Watcher watches a directory and ingests or removes PDFs as they change.
type Watcher struct {
	root           string
	userID         string
	conversationID string
	handler        Handler
	ignorer        *gitignore.GitIgnore
	maxFileSize    int64

	// debounce holds pending file events to batch process
	debounce     map[string]fsnotify.Op
	debounceMu   sync.Mutex
	debounceTime time.Duration

	// callback for status updates
	onEvent func(event string, path string)
}

// Option configures the watcher.
type Option func(*Watcher)

// WithDebounceTime sets the debounce duration for batching events.
func WithDebounceTime(d time.Duration) Option {
	return func(w *Watcher) {
		w.debounceTime = d
	}
}

// WithEventCallback sets a callback for file events.
func WithEventCallback(fn func(event string, path string)) Option {
	return func(w *Watcher) {
		w.onEvent = fn
	}
}

// WithIgnorePatterns skips paths matching gitignore-style patterns.
func WithIgnorePatterns(patterns []string) Option {
	return func(w *Watcher) {
		w.ignorer = gitignore.CompileIgnoreLines(patterns...)
	}
}

// WithMaxFileSize skips files larger than n bytes. Zero disables the check.
func WithMaxFileSize(n int64) Option {
	return func(w *Watcher) {
		w.maxFileSize = n
	}
}

// New creates a watcher that feeds changes under root into one conversation.
func New(root, userID, conversationID string, h Handler, opts ...Option) (*Watcher, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		root:           absRoot,
		userID:         userID,
		conversationID: conversationID,
		handler:        h,
		debounce:       make(map[string]fsnotify.Op),
		debounceTime:   500 * time.Millisecond,
		onEvent:        func(string, string) {}, // noop default
	}

	for _, opt := range opts {
		opt(w)
	}

	return w, nil
}

// Start begins watching for file changes. Blocks until context is cancelled.
func (w *Watcher) Start(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := w.addDirectories(watcher); err != nil {
		return err
	}

	log.Info("Watching for document changes", "root", w.root, "conversation", w.conversationID)

	go w.processDebounced(ctx)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			w.handleEvent(event, watcher)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Error("Watcher error", "error", err)
		}
	}
}

// addDirectories recursively adds all directories to the watcher.
func (w *Watcher) addDirectories(watcher *fsnotify.Watcher) error {
	return filepath.WalkDir(w.root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil // Skip errors
		}
		if !d.IsDir() {
			return nil
		}
		if path != w.root && w.skipped(path, true) {
			return filepath.SkipDir
		}

		if err := watcher.Add(path); err != nil {
			log.Debug("Failed to watch directory", "path", path, "error", err)
		}
		return nil
	})
}

// skipped reports whether path is hidden or ignored.
func (w *Watcher) skipped(path string, isDir bool) bool {
	if strings.HasPrefix(filepath.Base(path), ".") {
		return true
	}
	if w.ignorer == nil {
		return false
	}
	rel, err := filepath.Rel(w.root, path)
	if err != nil {
		return false
	}
	rel = filepath.ToSlash(rel)
	if isDir {
		return w.ignorer.MatchesPath(rel) || w.ignorer.MatchesPath(rel+"/")
	}
	return w.ignorer.MatchesPath(rel)
}

// handleEvent queues a single file system event.
func (w *Watcher) handleEvent(event fsnotify.Event, watcher *fsnotify.Watcher) {
	path := event.Name

	info, statErr := os.Stat(path)
	if statErr == nil && info.IsDir() {
		if event.Has(fsnotify.Create) && !w.skipped(path, true) {
			if err := watcher.Add(path); err != nil {
				log.Debug("Failed to watch directory", "path", path, "error", err)
			} else {
				log.Debug("Added directory to watch", "path", path)
			}
		}
		return
	}

	if w.skipped(path, false) || fs.MIMEFromName(path) != fs.MIMEPDF {
		return
	}

	w.debounceMu.Lock()
	w.debounce[path] |= event.Op
	w.debounceMu.Unlock()
}

// processDebounced processes debounced file events periodically.
func (w *Watcher) processDebounced(ctx context.Context) {
	ticker := time.NewTicker(w.debounceTime)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.flushDebounced(ctx)
		}
	}
}

// flushDebounced applies all pending events. A path that still exists is
// (re)ingested whatever happened to it in between; a missing one is removed.
func (w *Watcher) flushDebounced(ctx context.Context) {
	w.debounceMu.Lock()
	if len(w.debounce) == 0 {
		w.debounceMu.Unlock()
		return
	}
	events := w.debounce
	w.debounce = make(map[string]fsnotify.Op)
	w.debounceMu.Unlock()

	for path := range events {
		if ctx.Err() != nil {
			return
		}

		relPath, _ := filepath.Rel(w.root, path)

		info, err := os.Stat(path)
		if err != nil {
			if err := w.handleDelete(ctx, path); err != nil {
				log.Error("Failed to remove document", "path", relPath, "error", err)
				continue
			}
			w.onEvent("remove", relPath)
			log.Info("Removed from conversation", "file", relPath)
			continue
		}

		if w.maxFileSize > 0 && info.Size() > w.maxFileSize {
			log.Warn("Skipping oversized document", "path", relPath, "size", info.Size())
			continue
		}

		receipt, err := w.handler.IngestFile(ctx, w.userID, w.conversationID, path)
		if err != nil {
			log.Error("Failed to ingest document", "path", relPath, "error", err)
			continue
		}
		w.onEvent("ingest", relPath)
		log.Info("Ingested", "file", relPath, "chunks", receipt.Chunks)
	}
}

// handleDelete removes a file from the conversation.
func (w *Watcher) handleDelete(ctx context.Context, path string) error {
	_, err := w.handler.Remove(ctx, w.userID, w.conversationID, indexer.FileIDForPath(path))
	return err
}
