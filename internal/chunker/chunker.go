// Package chunker splits cleaned document text into overlapping token windows.
package chunker

import (
	"context"
	"fmt"
	"sort"

	"github.com/charmbracelet/log"
	"github.com/sourcegraph/conc/pool"
)

// Options configures a Chunker.
type Options struct {
	ChunkSize    int // tokens per window
	ChunkOverlap int // tokens shared by neighbouring windows
	SliceSize    int // characters per slice
	SliceStride  int // characters between slice starts
	Workers      int
}

// DefaultOptions returns the standard chunking parameters.
func DefaultOptions() Options {
	return Options{
		ChunkSize:    2000,
		ChunkOverlap: 100,
		SliceSize:    50000,
		SliceStride:  45000,
		Workers:      1,
	}
}

// Chunker splits large texts by first cutting them into overlapping
// character slices, then tokenizing each slice concurrently.
type Chunker struct {
	tok  Tokenizer
	opts Options
}

// New creates a Chunker.
func New(tok Tokenizer, opts Options) (*Chunker, error) {
	d := DefaultOptions()
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = d.ChunkSize
	}
	if opts.ChunkOverlap < 0 {
		opts.ChunkOverlap = 0
	}
	if opts.SliceSize <= 0 {
		opts.SliceSize = d.SliceSize
	}
	if opts.SliceStride <= 0 {
		opts.SliceStride = d.SliceStride
	}
	if opts.Workers <= 0 {
		opts.Workers = d.Workers
	}
	if opts.ChunkOverlap >= opts.ChunkSize {
		return nil, fmt.Errorf("chunk overlap %d must be smaller than chunk size %d", opts.ChunkOverlap, opts.ChunkSize)
	}
	if opts.SliceStride > opts.SliceSize {
		return nil, fmt.Errorf("slice stride %d must not exceed slice size %d", opts.SliceStride, opts.SliceSize)
	}
	return &Chunker{tok: tok, opts: opts}, nil
}

type sliceChunks struct {
	slice  int
	chunks []string
}

// Chunk returns the ordered chunk sequence for text. The result depends only
// on the text and options, never on worker scheduling.
func (c *Chunker) Chunk(ctx context.Context, text string) ([]string, error) {
	if text == "" {
		return nil, nil
	}

	slices := Slices(text, c.opts.SliceSize, c.opts.SliceStride)

	p := pool.NewWithResults[sliceChunks]().WithContext(ctx).WithMaxGoroutines(c.opts.Workers)
	for i, s := range slices {
		p.Go(func(ctx context.Context) (sliceChunks, error) {
			if err := ctx.Err(); err != nil {
				return sliceChunks{}, err
			}
			return sliceChunks{slice: i, chunks: Windows(c.tok, s, c.opts.ChunkSize, c.opts.ChunkOverlap)}, nil
		})
	}

	results, err := p.Wait()
	if err != nil {
		return nil, fmt.Errorf("failed to chunk text: %w", err)
	}

	sort.Slice(results, func(a, b int) bool { return results[a].slice < results[b].slice })

	var out []string
	for _, r := range results {
		out = append(out, r.chunks...)
	}

	log.Debug("Chunked text", "slices", len(slices), "chunks", len(out))
	return out, nil
}

// Slices cuts text into windows of size runes starting every stride runes.
// The last slice always ends at the end of the text.
func Slices(text string, size, stride int) []string {
	runes := []rune(text)
	if len(runes) == 0 {
		return nil
	}

	var out []string
	for start := 0; ; start += stride {
		end := min(start+size, len(runes))
		out = append(out, string(runes[start:end]))
		if end == len(runes) {
			break
		}
	}
	return out
}

// Windows tokenizes text and decodes fixed-size token windows, each starting
// size-overlap tokens after the previous one.
func Windows(tok Tokenizer, text string, size, overlap int) []string {
	ids := tok.Encode(text)
	if len(ids) == 0 {
		return nil
	}

	step := size - overlap
	var out []string
	for start := 0; ; start += step {
		end := min(start+size, len(ids))
		out = append(out, tok.Decode(ids[start:end]))
		if end == len(ids) {
			break
		}
	}
	return out
}
