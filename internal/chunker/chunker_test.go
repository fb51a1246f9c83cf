package chunker

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func words(n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = fmt.Sprintf("w%d", i)
	}
	return strings.Join(parts, " ")
}

func TestSlices(t *testing.T) {
	assert.Nil(t, Slices("", 10, 5))
	assert.Equal(t, []string{"abc"}, Slices("abc", 10, 5))
	assert.Equal(t, []string{"abcdef", "efghij"}, Slices("abcdefghij", 6, 4))
	assert.Equal(t, []string{"abcd", "efgh", "ij"}, Slices("abcdefghij", 4, 4))
}

func TestSlices_CountsRunes(t *testing.T) {
	got := Slices("héllo wörld", 5, 5)
	assert.Equal(t, []string{"héllo", " wörl", "d"}, got)
}

func TestWindows(t *testing.T) {
	tok := NewWordTokenizer()

	got := Windows(tok, words(10), 4, 1)
	assert.Equal(t, []string{
		"w0 w1 w2 w3",
		"w3 w4 w5 w6",
		"w6 w7 w8 w9",
	}, got)

	assert.Equal(t, []string{"w0 w1"}, Windows(tok, words(2), 4, 1))
	assert.Nil(t, Windows(tok, "   ", 4, 1))
}

func TestWindows_OverlapIsShared(t *testing.T) {
	tok := NewWordTokenizer()
	chunks := Windows(tok, words(5000), 2000, 100)
	require.Len(t, chunks, 3)

	for i := 1; i < len(chunks); i++ {
		prev := strings.Fields(chunks[i-1])
		cur := strings.Fields(chunks[i])
		assert.Equal(t, prev[len(prev)-100:], cur[:100])
	}
}

func TestNew_Validation(t *testing.T) {
	_, err := New(NewWordTokenizer(), Options{ChunkSize: 100, ChunkOverlap: 100})
	assert.Error(t, err)

	_, err = New(NewWordTokenizer(), Options{SliceSize: 10, SliceStride: 20})
	assert.Error(t, err)

	c, err := New(NewWordTokenizer(), Options{})
	require.NoError(t, err)
	assert.Equal(t, DefaultOptions().ChunkSize, c.opts.ChunkSize)
}

func TestChunk_Empty(t *testing.T) {
	c, err := New(NewWordTokenizer(), DefaultOptions())
	require.NoError(t, err)

	out, err := c.Chunk(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestChunk_DeterministicAcrossWorkers(t *testing.T) {
	text := words(60000)

	var reference []string
	for _, workers := range []int{1, 2, 4, 8} {
		c, err := New(NewWordTokenizer(), Options{
			ChunkSize:    500,
			ChunkOverlap: 50,
			SliceSize:    20000,
			SliceStride:  18000,
			Workers:      workers,
		})
		require.NoError(t, err)

		for run := 0; run < 3; run++ {
			out, err := c.Chunk(context.Background(), text)
			require.NoError(t, err)
			if reference == nil {
				reference = out
				continue
			}
			assert.Equal(t, reference, out, "workers=%d run=%d", workers, run)
		}
	}
	require.NotEmpty(t, reference)
	assert.True(t, strings.HasPrefix(reference[0], "w0 w1 "))
}

func TestChunk_SliceOrderPreserved(t *testing.T) {
	c, err := New(NewWordTokenizer(), Options{
		ChunkSize:    10,
		ChunkOverlap: 0,
		SliceSize:    100,
		SliceStride:  100,
		Workers:      4,
	})
	require.NoError(t, err)

	text := strings.Repeat("a ", 50) + strings.Repeat("b ", 50) + strings.Repeat("c ", 50)
	out, err := c.Chunk(context.Background(), text)
	require.NoError(t, err)

	require.NotEmpty(t, out)
	assert.True(t, strings.HasPrefix(out[0], "a"))
	assert.True(t, strings.HasPrefix(out[len(out)-1], "c"))
}

func TestChunk_SixThousandCharacterDocument(t *testing.T) {
	c, err := New(NewWordTokenizer(), DefaultOptions())
	require.NoError(t, err)

	text := strings.Repeat("lorem ipsum dolor sit amet ", 223)[:6000]
	out, err := c.Chunk(context.Background(), text)
	require.NoError(t, err)

	assert.GreaterOrEqual(t, len(out), 1)
	assert.LessOrEqual(t, len(out), 4)
}

func TestChunk_Cancelled(t *testing.T) {
	c, err := New(NewWordTokenizer(), Options{SliceSize: 10, SliceStride: 10})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = c.Chunk(ctx, words(100))
	assert.Error(t, err)
}

func TestNewTokenizer_Unknown(t *testing.T) {
	_, err := NewTokenizer("sentencepiece", "")
	assert.Error(t, err)

	tok, err := NewTokenizer("words", "")
	require.NoError(t, err)
	assert.Equal(t, "a b", tok.Decode(tok.Encode("a  b")))
}
