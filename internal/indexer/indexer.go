// Package indexer turns uploaded PDFs into searchable chunks and keeps the
// vector index and the file manifest in step.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/nickcecere/docchat/internal/artifacts"
	"github.com/nickcecere/docchat/internal/chunker"
	"github.com/nickcecere/docchat/internal/embeddings"
	"github.com/nickcecere/docchat/internal/extract"
	"github.com/nickcecere/docchat/internal/fs"
	"github.com/nickcecere/docchat/internal/manifest"
	"github.com/nickcecere/docchat/internal/metrics"
	"github.com/nickcecere/docchat/internal/store"
	"github.com/nickcecere/docchat/internal/tasks"
)

// Ingest failures. Callers map these to user-facing reasons.
var (
	ErrUnsupportedType = errors.New("unsupported file type: only PDF files are accepted")
	ErrTooLarge        = errors.New("file exceeds the upload size limit")
	ErrEmptyFile       = errors.New("file is empty")
	ErrNoChunks        = errors.New("document produced no chunks")
	ErrEmbedding       = errors.New("failed to embed chunks")
)

// DeriveTask is the name of the background task queued after each ingest.
const DeriveTask = "file.derive"

// Deriver produces derived content for an ingested file.
type Deriver interface {
	Derive(ctx context.Context, src artifacts.Source) error
}

// Submitter queues background work.
type Submitter interface {
	Submit(name string, meta map[string]string, fn tasks.Func) string
}

// Upload is one file handed to Ingest.
type Upload struct {
	UserID         string
	ConversationID string
	FileID         string
	Filename       string
	MIMEType       string // declared type; guessed from Filename when empty
	Data           []byte
}

// Receipt describes a successful ingest.
type Receipt struct {
	FileID   string `json:"file_id"`
	Filename string `json:"filename"`
	FileType string `json:"file_type"`
	Chunks   int    `json:"chunks"`
	Pages    int    `json:"pages"`
	Scanned  bool   `json:"scanned"`
	Hash     string `json:"hash"`
	TaskID   string `json:"task_id,omitempty"`
}

// Options holds the optional collaborators of an Indexer.
type Options struct {
	// Deriver and Tasks together enable background derivation.
	Deriver Deriver
	Tasks   Submitter

	// Sink receives deletions so derived content does not outlive its file.
	Sink artifacts.Sink

	// MaxBytes caps upload size. Zero disables the check.
	MaxBytes int64
}

// Indexer orchestrates ingestion of files into the vector index.
type Indexer struct {
	index     store.Index
	embedder  embeddings.Service
	chunker   *chunker.Chunker
	extractor *extract.Extractor
	manifest  *manifest.Store
	opts      Options

	// Progress tracking for directory ingest
	progress Progress
	mu       sync.Mutex
}

// Progress tracks directory ingest progress.
type Progress struct {
	TotalFiles     int
	ProcessedFiles int
	SkippedFiles   int
	TotalChunks    int
	Errors         int
	StartTime      time.Time
	CurrentFile    string
}

// ProgressFunc is called to report progress during directory ingest.
type ProgressFunc func(Progress)

// DirOptions configures IngestDir.
type DirOptions struct {
	// IgnorePatterns are additional patterns to ignore.
	IgnorePatterns []string

	// MaxFileCount limits how many PDFs are picked up.
	MaxFileCount int

	// Force re-ingests files even if unchanged.
	Force bool

	// OnProgress is called to report progress.
	OnProgress ProgressFunc
}

// New creates a new Indexer.
func New(index store.Index, emb embeddings.Service, ch *chunker.Chunker, ex *extract.Extractor, mf *manifest.Store, opts Options) *Indexer {
	return &Indexer{
		index:     index,
		embedder:  emb,
		chunker:   ch,
		extractor: ex,
		manifest:  mf,
		opts:      opts,
	}
}

// Namespace returns the collection namespace of a conversation.
func Namespace(userID, conversationID string) string {
	return store.NamespaceFor(userID, conversationID)
}

// FileIDForPath returns a stable file id for a local path, so ingesting the
// same path twice replaces the earlier copy.
func FileIDForPath(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("file://"+filepath.ToSlash(abs))).String()
}

func resolveType(u Upload) string {
	mimeType := strings.ToLower(strings.TrimSpace(u.MIMEType))
	if i := strings.IndexByte(mimeType, ';'); i >= 0 {
		mimeType = strings.TrimSpace(mimeType[:i])
	}
	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType = fs.MIMEFromName(u.Filename)
	}
	return mimeType
}

// Ingest extracts, chunks, embeds and stores one PDF, then records it in the
// manifest and queues derivation. A file id seen before is replaced.
func (idx *Indexer) Ingest(ctx context.Context, u Upload) (*Receipt, error) {
	path := "none"
	receipt, err := idx.ingest(ctx, u, &path)

	status := "success"
	switch {
	case errors.Is(err, ErrUnsupportedType), errors.Is(err, ErrTooLarge), errors.Is(err, ErrEmptyFile):
		status = "rejected"
	case err != nil:
		status = "failed"
	}
	metrics.IngestTotal.WithLabelValues(path, status).Inc()

	if err != nil {
		log.Warn("Ingest failed", "file_id", u.FileID, "filename", u.Filename, "path", path, "error", err)
		return nil, err
	}
	return receipt, nil
}

func (idx *Indexer) ingest(ctx context.Context, u Upload, path *string) (*Receipt, error) {
	if u.FileID == "" {
		return nil, fmt.Errorf("file id is required")
	}

	fileType := resolveType(u)
	if fileType != fs.MIMEPDF {
		return nil, fmt.Errorf("%w (got %q)", ErrUnsupportedType, fileType)
	}
	if len(u.Data) == 0 {
		return nil, ErrEmptyFile
	}
	if idx.opts.MaxBytes > 0 && int64(len(u.Data)) > idx.opts.MaxBytes {
		return nil, fmt.Errorf("%w (%d > %d bytes)", ErrTooLarge, len(u.Data), idx.opts.MaxBytes)
	}
	if !fs.IsPDF(u.Data) {
		return nil, fmt.Errorf("%w: content is not a PDF", ErrUnsupportedType)
	}

	start := time.Now()

	res, err := idx.extractor.Extract(ctx, u.Data)
	if res != nil {
		*path = extractionPath(res.Scanned)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to extract text: %w", err)
	}

	texts, err := idx.chunker.Chunk(ctx, res.Text)
	if err != nil {
		return nil, fmt.Errorf("failed to chunk text: %w", err)
	}
	if len(texts) == 0 {
		return nil, ErrNoChunks
	}

	vectors, err := idx.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEmbedding, err)
	}
	zeroed := 0
	for _, v := range vectors {
		if embeddings.IsZero(v) {
			zeroed++
		}
	}
	if zeroed > 0 {
		// Stored anyway: the chunks stay listed and deletable but never rank.
		log.Warn("Some chunks have no embedding", "file_id", u.FileID, "zeroed", zeroed, "chunks", len(texts))
	}

	ns := Namespace(u.UserID, u.ConversationID)
	coll, err := idx.index.Create(ctx, ns, idx.embedder.Dimensions())
	if err != nil {
		return nil, fmt.Errorf("failed to open collection: %w", err)
	}

	// A shorter re-upload must not leave the old tail behind.
	if _, err := coll.DeleteByFile(ctx, u.FileID); err != nil {
		return nil, fmt.Errorf("failed to clear previous chunks: %w", err)
	}

	chunks := make([]store.Chunk, len(texts))
	for i, text := range texts {
		chunks[i] = store.Chunk{
			FileID:         u.FileID,
			Filename:       u.Filename,
			FileType:       fileType,
			ChunkIndex:     i,
			Content:        text,
			UserID:         u.UserID,
			ConversationID: u.ConversationID,
		}
	}
	if err := coll.Upsert(ctx, chunks, vectors); err != nil {
		// The previous chunks are gone, so a manifest entry would now lie.
		if _, rmErr := idx.manifest.Remove(u.UserID, u.ConversationID, u.FileID); rmErr != nil {
			log.Warn("Failed to drop stale manifest entry", "file_id", u.FileID, "error", rmErr)
		}
		return nil, fmt.Errorf("failed to store chunks: %w", err)
	}
	metrics.IngestedChunksTotal.Add(float64(len(chunks)))

	hash := fs.HashContent(u.Data)
	if err := idx.manifest.Add(u.UserID, u.ConversationID, manifest.Entry{
		FileID:     u.FileID,
		Filename:   u.Filename,
		FileType:   fileType,
		ChunkCount: len(chunks),
		Hash:       hash,
	}); err != nil {
		if _, delErr := coll.DeleteByFile(context.WithoutCancel(ctx), u.FileID); delErr != nil {
			log.Warn("Failed to roll back chunks", "file_id", u.FileID, "error", delErr)
		}
		return nil, fmt.Errorf("failed to update manifest: %w", err)
	}

	receipt := &Receipt{
		FileID:   u.FileID,
		Filename: u.Filename,
		FileType: fileType,
		Chunks:   len(chunks),
		Pages:    res.Pages,
		Scanned:  res.Scanned,
		Hash:     hash,
		TaskID:   idx.queueDerive(ns, u),
	}

	log.Info("Ingested file",
		"file_id", u.FileID,
		"filename", u.Filename,
		"path", *path,
		"pages", res.Pages,
		"chunks", len(chunks),
		"duration", time.Since(start).Round(time.Millisecond),
	)
	return receipt, nil
}

func extractionPath(scanned bool) string {
	if scanned {
		return "scanned"
	}
	return "digital"
}

func (idx *Indexer) queueDerive(ns string, u Upload) string {
	if idx.opts.Deriver == nil || idx.opts.Tasks == nil {
		return ""
	}
	src := artifacts.Source{
		Namespace:      ns,
		UserID:         u.UserID,
		ConversationID: u.ConversationID,
		FileID:         u.FileID,
		Filename:       u.Filename,
	}
	meta := map[string]string{
		"user_id":         u.UserID,
		"conversation_id": u.ConversationID,
		"file_id":         u.FileID,
		"filename":        u.Filename,
	}
	return idx.opts.Tasks.Submit(DeriveTask, meta, func(ctx context.Context) error {
		return idx.opts.Deriver.Derive(ctx, src)
	})
}

// Remove deletes a file's vectors, manifest entry and derived content. It
// reports whether any vectors were removed.
func (idx *Indexer) Remove(ctx context.Context, userID, conversationID, fileID string) (bool, error) {
	removed := 0

	coll, err := idx.index.Open(ctx, Namespace(userID, conversationID))
	if err != nil {
		return false, fmt.Errorf("failed to open collection: %w", err)
	}
	if coll != nil {
		removed, err = coll.DeleteByFile(ctx, fileID)
		if err != nil {
			return false, fmt.Errorf("failed to delete chunks: %w", err)
		}
	}

	if _, err := idx.manifest.Remove(userID, conversationID, fileID); err != nil {
		return false, fmt.Errorf("failed to update manifest: %w", err)
	}

	if idx.opts.Sink != nil {
		if err := idx.opts.Sink.DeleteFile(ctx, userID, conversationID, fileID); err != nil {
			log.Warn("Failed to delete derived content", "file_id", fileID, "error", err)
		}
	}

	log.Info("Removed file", "file_id", fileID, "chunks", removed)
	return removed > 0, nil
}

// Files lists the manifest entries of a conversation.
func (idx *Indexer) Files(ctx context.Context, userID, conversationID string) ([]manifest.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return idx.manifest.List(userID, conversationID)
}

// File returns one manifest entry, or nil when the file is unknown.
func (idx *Indexer) File(ctx context.Context, userID, conversationID, fileID string) (*manifest.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return idx.manifest.Get(userID, conversationID, fileID)
}

// Stats summarises a conversation's manifest.
func (idx *Indexer) Stats(ctx context.Context, userID, conversationID string) (*manifest.Stats, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return idx.manifest.Stats(userID, conversationID)
}

// IngestFile ingests a PDF from disk. The file id is derived from the path.
func (idx *Indexer) IngestFile(ctx context.Context, userID, conversationID, path string) (*Receipt, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	return idx.Ingest(ctx, Upload{
		UserID:         userID,
		ConversationID: conversationID,
		FileID:         FileIDForPath(path),
		Filename:       filepath.Base(path),
		MIMEType:       fs.SniffMIME(data),
		Data:           data,
	})
}

// IngestDir ingests every PDF under root. Files whose content hash matches
// the manifest are skipped unless opts.Force is set. Per-file failures are
// logged and counted; only walk and context errors abort the run.
func (idx *Indexer) IngestDir(ctx context.Context, userID, conversationID, root string, opts DirOptions) error {
	absPath, err := filepath.Abs(root)
	if err != nil {
		return fmt.Errorf("failed to resolve path: %w", err)
	}

	idx.mu.Lock()
	idx.progress = Progress{StartTime: time.Now()}
	idx.mu.Unlock()

	walkOpts := fs.DefaultWalkOptions()
	walkOpts.Root = absPath
	walkOpts.IgnorePatterns = opts.IgnorePatterns
	if idx.opts.MaxBytes > 0 {
		walkOpts.MaxFileSize = idx.opts.MaxBytes
	}
	if opts.MaxFileCount > 0 {
		walkOpts.MaxFileCount = opts.MaxFileCount
	}

	walker, err := fs.NewFileWalker(walkOpts)
	if err != nil {
		return fmt.Errorf("failed to create file walker: %w", err)
	}

	// First pass: collect files and count
	var files []fs.FileInfo
	if err := walker.Walk(func(fi fs.FileInfo) error {
		files = append(files, fi)
		return nil
	}); err != nil {
		return fmt.Errorf("failed to walk directory: %w", err)
	}

	idx.mu.Lock()
	idx.progress.TotalFiles = len(files)
	idx.mu.Unlock()

	log.Info("Found documents to ingest", "count", len(files), "skipped", walker.Stats().FilesSkipped)

	for _, fi := range files {
		if err := ctx.Err(); err != nil {
			return err
		}

		idx.mu.Lock()
		idx.progress.CurrentFile = fi.RelPath
		idx.mu.Unlock()

		if !opts.Force && idx.unchanged(userID, conversationID, fi) {
			log.Debug("File unchanged, skipping", "path", fi.RelPath)
			idx.report(opts.OnProgress, func(p *Progress) { p.SkippedFiles++ })
			continue
		}

		receipt, err := idx.IngestFile(ctx, userID, conversationID, fi.Path)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Warn("Failed to ingest file", "path", fi.RelPath, "error", err)
			idx.report(opts.OnProgress, func(p *Progress) { p.Errors++ })
			continue
		}

		idx.report(opts.OnProgress, func(p *Progress) {
			p.ProcessedFiles++
			p.TotalChunks += receipt.Chunks
		})
	}

	p := idx.Progress()
	log.Info("Ingest complete",
		"files", p.ProcessedFiles,
		"skipped", p.SkippedFiles,
		"errors", p.Errors,
		"chunks", p.TotalChunks,
		"duration", time.Since(p.StartTime).Round(time.Millisecond),
	)
	return nil
}

func (idx *Indexer) unchanged(userID, conversationID string, fi fs.FileInfo) bool {
	entry, err := idx.manifest.Get(userID, conversationID, FileIDForPath(fi.Path))
	if err != nil {
		log.Debug("Error checking existing file", "path", fi.RelPath, "error", err)
		return false
	}
	return entry != nil && entry.Hash == fi.Hash
}

func (idx *Indexer) report(fn ProgressFunc, update func(*Progress)) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	update(&idx.progress)
	if fn != nil {
		fn(idx.progress)
	}
}

// Progress returns the current directory ingest progress.
func (idx *Indexer) Progress() Progress {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return idx.progress
}
