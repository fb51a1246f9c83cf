// Package store provides the per-conversation vector index, backed either by
// an embedded SQLite database with sqlite-vec or by a remote Redis search index.
package store

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strings"

	"github.com/cespare/xxhash/v2"
)

var (
	// ErrDimensionMismatch is returned when a vector does not fit a collection.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")

	// ErrInvalidNamespace is returned for namespace names that are not safe identifiers.
	ErrInvalidNamespace = errors.New("invalid namespace")
)

// Chunk is one stored window of a document.
type Chunk struct {
	FileID         string `json:"file_id"`
	Filename       string `json:"filename"`
	FileType       string `json:"file_type"`
	ChunkIndex     int    `json:"chunk_index"`
	Content        string `json:"content"`
	UserID         string `json:"user_id"`
	ConversationID string `json:"conversation_id"`
}

// Hit is a search result.
type Hit struct {
	Chunk    Chunk   `json:"chunk"`
	Distance float64 `json:"distance"` // Cosine distance, 0 is identical
	Score    float64 `json:"score"`    // 1 - distance
}

// UnembeddedDistance is the distance reported for chunks stored without a
// usable embedding. They rank after every real match but stay retrievable.
const UnembeddedDistance = 1.0

// isZeroVector reports whether v has no direction. Failed embedding batches
// produce such vectors and cosine distance to them is undefined.
func isZeroVector(v []float32) bool {
	for _, x := range v {
		if x != 0 {
			return false
		}
	}
	return true
}

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9_]`)
var validNamespace = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*$`)

// NamespaceFor derives the collection name of a (user, conversation) pair.
// The hash suffix keeps pairs distinct even when sanitising maps them to the
// same readable prefix.
func NamespaceFor(userID, conversationID string) string {
	sum := xxhash.Sum64String(userID + "\x00" + conversationID)
	return fmt.Sprintf("docs_%s_%s_%08x",
		sanitize(userID), sanitize(conversationID), uint32(sum))
}

func sanitize(s string) string {
	s = unsafeChars.ReplaceAllString(s, "_")
	if len(s) > 40 {
		s = s[:40]
	}
	return strings.Trim(s, "_")
}

// validateNamespace guards identifiers that end up inside SQL or key names.
func validateNamespace(ns string) error {
	if !validNamespace.MatchString(ns) {
		return fmt.Errorf("%w: %q", ErrInvalidNamespace, ns)
	}
	return nil
}

// serializeEmbedding converts a float32 slice to little-endian bytes.
func serializeEmbedding(embedding []float32) []byte {
	buf := make([]byte, len(embedding)*4)
	for i, v := range embedding {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

func checkBatch(chunks []Chunk, embeddings [][]float32, dims int) error {
	if len(chunks) != len(embeddings) {
		return fmt.Errorf("got %d chunks but %d embeddings", len(chunks), len(embeddings))
	}
	for i, e := range embeddings {
		if len(e) != dims {
			return fmt.Errorf("%w: chunk %d has %d dimensions, collection has %d",
				ErrDimensionMismatch, i, len(e), dims)
		}
	}
	return nil
}
