package writer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warpgraph/warp/pkg/crdt"
	"github.com/warpgraph/warp/pkg/store/codecadapter"
	"github.com/warpgraph/warp/pkg/store/storeadapter"
	"github.com/warpgraph/warp/pkg/warperr"
)

func TestCommitRateLimiterAllowsUpToBurstThenRejects(t *testing.T) {
	rl := NewCommitRateLimiter(CommitRateLimiterConfig{CommitsPerSecond: 1, Burst: 2, IdleTTL: time.Minute})
	assert.True(t, rl.Allow("w1"))
	assert.True(t, rl.Allow("w1"))
	assert.False(t, rl.Allow("w1"))

	// A different writer has its own independent bucket.
	assert.True(t, rl.Allow("w2"))
}

func TestCommitRateLimiterCollectIdle(t *testing.T) {
	rl := NewCommitRateLimiter(CommitRateLimiterConfig{CommitsPerSecond: 1, Burst: 1, IdleTTL: time.Millisecond})
	require.True(t, rl.Allow("w1"))
	time.Sleep(5 * time.Millisecond)
	assert.Equal(t, 1, rl.CollectIdle())
}

func TestBeginPatchRejectsWhenRateLimited(t *testing.T) {
	ctx := context.Background()
	objStore := storeadapter.New()
	codec := codecadapter.New()
	rl := NewCommitRateLimiter(CommitRateLimiterConfig{CommitsPerSecond: 1, Burst: 1, IdleTTL: time.Minute})

	w := NewWithLimiter("g1", "w1", objStore, codec, nil, rl)
	_, err := w.BeginPatch(ctx, crdt.NewState())
	require.NoError(t, err)

	_, err = w.BeginPatch(ctx, crdt.NewState())
	require.Error(t, err)
	assert.True(t, warperr.HasCode(err, warperr.CodeRateLimited))
}
