package store

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNamespaceFor(t *testing.T) {
	ns := NamespaceFor("alice@example.com", "chat-42")

	assert.Regexp(t, `^docs_alice_example_com_chat_42_[0-9a-f]{8}$`, ns)
	assert.Equal(t, ns, NamespaceFor("alice@example.com", "chat-42"))
	assert.NoError(t, validateNamespace(ns))

	// Sanitising collapses these prefixes, the hash keeps them apart
	assert.NotEqual(t, NamespaceFor("a.b", "c"), NamespaceFor("a_b", "c"))
	assert.NotEqual(t, NamespaceFor("u", "c1"), NamespaceFor("u", "c2"))
	assert.NotEqual(t, NamespaceFor("ab", "c"), NamespaceFor("a", "bc"))
}

func TestNamespaceForEmpty(t *testing.T) {
	ns := NamespaceFor("", "")
	assert.NoError(t, validateNamespace(ns))
}

func TestValidateNamespace(t *testing.T) {
	assert.NoError(t, validateNamespace("docs_a"))
	assert.Error(t, validateNamespace(""))
	assert.Error(t, validateNamespace("1docs"))
	assert.Error(t, validateNamespace("docs-a"))
	assert.Error(t, validateNamespace("docs a"))
}

func TestSerializeEmbedding(t *testing.T) {
	embedding := []float32{1.0, 2.0, 3.0, -1.5}
	bytes := serializeEmbedding(embedding)

	assert.Len(t, bytes, 16) // 4 floats * 4 bytes
	bits := uint32(bytes[0]) | uint32(bytes[1])<<8 | uint32(bytes[2])<<16 | uint32(bytes[3])<<24
	assert.Equal(t, float32(1.0), math.Float32frombits(bits))
}
