package chunker

import (
	"fmt"
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// Tokenizer converts text to token ids and back.
type Tokenizer interface {
	Encode(text string) []int
	Decode(tokens []int) string
}

// NewTokenizer creates a tokenizer by name ("tiktoken" or "words").
func NewTokenizer(kind, encoding string) (Tokenizer, error) {
	switch kind {
	case "tiktoken", "":
		if encoding == "" {
			encoding = "r50k_base"
		}
		enc, err := tiktoken.GetEncoding(encoding)
		if err != nil {
			return nil, fmt.Errorf("failed to load %s encoding: %w", encoding, err)
		}
		return &bpeTokenizer{enc: enc}, nil
	case "words":
		return NewWordTokenizer(), nil
	default:
		return nil, fmt.Errorf("unsupported tokenizer: %s", kind)
	}
}

// bpeTokenizer wraps a tiktoken byte-pair encoding.
type bpeTokenizer struct {
	enc *tiktoken.Tiktoken
}

func (t *bpeTokenizer) Encode(text string) []int {
	return t.enc.Encode(text, nil, nil)
}

func (t *bpeTokenizer) Decode(tokens []int) string {
	return t.enc.Decode(tokens)
}

// WordTokenizer treats every whitespace-separated word as one token. Ids are
// assigned on first sight, so a WordTokenizer can decode only what it encoded.
type WordTokenizer struct {
	mu    sync.RWMutex
	ids   map[string]int
	words []string
}

// NewWordTokenizer creates an empty WordTokenizer.
func NewWordTokenizer() *WordTokenizer {
	return &WordTokenizer{ids: make(map[string]int)}
}

// Encode splits text on whitespace.
func (t *WordTokenizer) Encode(text string) []int {
	fields := strings.Fields(text)
	out := make([]int, len(fields))

	t.mu.Lock()
	defer t.mu.Unlock()
	for i, w := range fields {
		id, ok := t.ids[w]
		if !ok {
			id = len(t.words)
			t.ids[w] = id
			t.words = append(t.words, w)
		}
		out[i] = id
	}
	return out
}

// Decode joins words with single spaces.
func (t *WordTokenizer) Decode(tokens []int) string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	parts := make([]string, 0, len(tokens))
	for _, id := range tokens {
		if id >= 0 && id < len(t.words) {
			parts = append(parts, t.words[id])
		}
	}
	return strings.Join(parts, " ")
}
