package bitmapindex

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGlobalIDPacking(t *testing.T) {
	gid := NewGlobalID(0x3a, 42)
	assert.Equal(t, byte(0x3a), gid.Shard())
	assert.Equal(t, uint32(42), gid.Local())
}

func TestGlobalIDLocalMasksHighBits(t *testing.T) {
	gid := NewGlobalID(0xff, MaxLocalID+5)
	assert.Equal(t, byte(0xff), gid.Shard())
	assert.Equal(t, uint32(4), gid.Local())
}

func TestShardKeyByteHexPrefix(t *testing.T) {
	nodeID := "abcdef0123456789abcdef0123456789abcdef01" // 40 hex chars
	assert.Equal(t, byte(0xab), ShardKeyByte(nodeID))
	assert.Equal(t, "ab", ShardKeyHex(nodeID))
}

func TestShardKeyByteFallsBackToFNVForNonHexIDs(t *testing.T) {
	a := ShardKeyByte("alice")
	b := ShardKeyByte("alice")
	assert.Equal(t, a, b, "shard key must be deterministic for the same id")
}

func TestShardKeyByteFallsBackForShortHexIDs(t *testing.T) {
	// Only 4 hex chars: too short to qualify as a 40-hex-char id, so this
	// must hash, not take the first two characters literally.
	short := "abcd"
	assert.NotPanics(t, func() { ShardKeyByte(short) })
}
