package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTrustKey_Symmetric(t *testing.T) {
	pairs := [][2]string{
		{"alice", "bob"},
		{"bob", "alice"},
		{"Z", "a"},
		{"same", "same"},
		{"", "x"},
	}
	for _, p := range pairs {
		assert.Equal(t, TrustKey(p[0], p[1]), TrustKey(p[1], p[0]), "pair %v", p)
		assert.Equal(t, ConversationID(p[0], p[1]), ConversationID(p[1], p[0]), "pair %v", p)
	}
	assert.Equal(t, "alice:bob", TrustKey("bob", "alice"))
	assert.Len(t, ConversationID("a", "b"), 32)
	assert.NotEqual(t, ConversationID("a", "b"), ConversationID("a", "c"))
}

func TestNewTrustRecord_Sorted(t *testing.T) {
	now := time.Unix(1700000000, 0)
	r1 := NewTrustRecord("bob", "encB", "alice", "encA", now)
	r2 := NewTrustRecord("alice", "encA", "bob", "encB", now)

	assert.Equal(t, r1, r2)
	assert.Equal(t, "alice", r1.PartyA)
	assert.Equal(t, "encA", r1.EncKeyA)
	assert.Equal(t, "alice:bob", r1.Key())

	peer, key, ok := r1.Peer("alice")
	assert.True(t, ok)
	assert.Equal(t, "bob", peer)
	assert.Equal(t, "encB", key)

	_, _, ok = r1.Peer("carol")
	assert.False(t, ok)
	assert.True(t, r1.Involves("bob"))
	assert.False(t, r1.Involves("carol"))
}
