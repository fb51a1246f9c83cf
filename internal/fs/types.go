// Package fs finds PDF documents on disk for bulk ingest and the inbox watcher.
package fs

import (
	"time"
)

// FileInfo represents metadata about a document on disk.
type FileInfo struct {
	Path     string    // Absolute path to the file
	RelPath  string    // Path relative to the root
	Size     int64     // File size in bytes
	ModTime  time.Time // Last modification time
	Hash     string    // xxhash of file contents
	MIMEType string    // Sniffed content type
}

// WalkOptions configures the file walker.
type WalkOptions struct {
	// Root is the directory to start walking from.
	Root string

	// MaxFileSize is the maximum file size to process (in bytes).
	MaxFileSize int64

	// MaxFileCount is the maximum number of files to process.
	MaxFileCount int

	// IgnorePatterns are additional patterns to ignore (gitignore syntax).
	IgnorePatterns []string

	// IncludeHidden includes hidden files and directories.
	IncludeHidden bool

	// UseIgnoreFile respects a .docchatignore file in the root.
	UseIgnoreFile bool
}

// DefaultWalkOptions returns sensible defaults for walking.
func DefaultWalkOptions() WalkOptions {
	return WalkOptions{
		MaxFileSize:   50 << 20, // 50MB
		MaxFileCount:  10000,
		UseIgnoreFile: true,
	}
}

// Walker walks a directory tree and yields documents.
type Walker interface {
	// Walk walks the directory tree and calls fn for each document.
	// The walk stops if fn returns an error.
	Walk(fn func(FileInfo) error) error

	// Stats returns statistics about the walk.
	Stats() WalkStats
}

// WalkStats contains statistics from a directory walk.
type WalkStats struct {
	FilesFound   int   // Documents found
	FilesSkipped int   // Files skipped due to size/pattern/type
	DirsSkipped  int   // Directories skipped
	TotalBytes   int64 // Total bytes of documents found
	SkippedBytes int64 // Total bytes of skipped files
}
