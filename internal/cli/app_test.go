package cli

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nickcecere/docchat/internal/config"
	"github.com/nickcecere/docchat/internal/extract"
	"github.com/nickcecere/docchat/internal/indexer"
	"github.com/nickcecere/docchat/internal/manifest"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()

	cfg := config.DefaultConfig()
	cfg.Index.SQLite.Path = filepath.Join(dir, "index.db")
	cfg.Storage.DataDir = filepath.Join(dir, "data")
	cfg.Artifacts.SQL.DSN = filepath.Join(dir, "artifacts.db")
	return cfg
}

func TestNewAppStorageOnly(t *testing.T) {
	cfg := testConfig(t)
	ctx := context.Background()

	a, err := newApp(ctx, cfg, appOptions{})
	require.NoError(t, err)
	defer a.Close(ctx)

	assert.Equal(t, "sqlite", a.index.Backend())
	assert.NotNil(t, a.sink)
	assert.Nil(t, a.embedder, "storage-only mode builds no model clients")
	assert.Nil(t, a.composer)
	assert.Nil(t, a.queue)
	assert.Zero(t, a.pendingTasks())

	files, err := a.indexer.Files(ctx, "u1", "c1")
	require.NoError(t, err)
	assert.Empty(t, files)

	removed, err := a.indexer.Remove(ctx, "u1", "c1", "missing")
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestNewAppWithoutArtifacts(t *testing.T) {
	cfg := testConfig(t)
	cfg.Artifacts.Backend = ""
	ctx := context.Background()

	a, err := newApp(ctx, cfg, appOptions{})
	require.NoError(t, err)
	assert.Nil(t, a.sink)
	assert.NoError(t, a.Close(ctx))
}

func TestNewAppRejectsUnknownBackend(t *testing.T) {
	cfg := testConfig(t)
	cfg.Index.Backend = "chroma"

	a, err := newApp(context.Background(), cfg, appOptions{})
	assert.Error(t, err)
	assert.Nil(t, a)
	assert.Contains(t, err.Error(), "unsupported index backend")
}

func TestNewOCR(t *testing.T) {
	cfg := config.DefaultConfig()
	ctx := context.Background()

	cfg.Extraction.OCR = "tesseract"
	ocr, err := newOCR(ctx, cfg)
	require.NoError(t, err)
	tess, ok := ocr.(*extract.TesseractOCR)
	require.True(t, ok)
	assert.Equal(t, cfg.Extraction.OCRLanguages, tess.Languages)
	assert.Equal(t, cfg.Extraction.Workers, tess.Workers)

	for _, name := range []string{"none", ""} {
		cfg.Extraction.OCR = name
		ocr, err = newOCR(ctx, cfg)
		require.NoError(t, err)
		assert.Nil(t, ocr, "engine %q", name)
	}

	cfg.Extraction.OCR = "abbyy"
	_, err = newOCR(ctx, cfg)
	assert.ErrorContains(t, err, "unsupported OCR engine")
}

func TestDescribeIngestError(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{fmt.Errorf("%w (got %q)", indexer.ErrUnsupportedType, "text/plain"), "not a PDF"},
		{fmt.Errorf("%w (9 > 4 bytes)", indexer.ErrTooLarge), "file too large"},
		{indexer.ErrEmptyFile, "empty file"},
		{indexer.ErrNoChunks, "no text found"},
		{fmt.Errorf("%w: %w", indexer.ErrEmbedding, errors.New("timeout")), "embedding failed"},
		{errors.New("disk full"), "disk full"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, describeIngestError(tt.err))
	}
}

func TestGetHealthStatus(t *testing.T) {
	tests := []struct {
		name   string
		stats  *manifest.Stats
		stored int
		want   string
	}{
		{"empty", &manifest.Stats{}, 0, "empty"},
		{"index unavailable", &manifest.Stats{TotalFiles: 1, TotalChunks: 3}, -1, "unknown"},
		{"missing chunks", &manifest.Stats{TotalFiles: 1, TotalChunks: 3}, 2, "out of sync (2 chunks indexed, 3 expected)"},
		{"in sync", &manifest.Stats{TotalFiles: 2, TotalChunks: 7}, 7, "healthy"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Contains(t, getHealthStatus(tt.stats, tt.stored), tt.want)
		})
	}
}

func TestTruncateLine(t *testing.T) {
	assert.Equal(t, "short line", truncateLine("short\n  line", 20))
	assert.Equal(t, "Doanh thu...", truncateLine("Doanh thu tăng 12%", 12))
	assert.Len(t, []rune(truncateLine(strings.Repeat("ư", 50), 10)), 10)
}

func TestFormatHelpers(t *testing.T) {
	assert.Equal(t, "512 B", formatBytes(512))
	assert.Equal(t, "1.5 KB", formatBytes(1536))
	assert.Equal(t, "2.0 MB", formatBytes(2<<20))

	assert.Equal(t, "a/b.pdf", truncatePath("a/b.pdf", 10))
	assert.Equal(t, "...report.pdf", truncatePath("/home/user/docs/report.pdf", 13))
}
