package writer

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/warpgraph/warp/pkg/warperr"
)

// CommitRateLimiterConfig controls per-writer commit throttling.
type CommitRateLimiterConfig struct {
	// CommitsPerSecond is the steady-state rate a single writer may commit at.
	CommitsPerSecond float64
	// Burst is the number of commits a writer may make in a single instant
	// before being throttled.
	Burst int
	// IdleTTL is how long a writer's limiter is kept after its last commit
	// before CollectIdle may evict it.
	IdleTTL time.Duration
}

// DefaultCommitRateLimiterConfig returns a permissive default: ten commits
// per second per writer with bursts of thirty, which is generous enough
// not to throttle a single interactive caller but still bounds a runaway
// retry loop.
func DefaultCommitRateLimiterConfig() CommitRateLimiterConfig {
	return CommitRateLimiterConfig{
		CommitsPerSecond: 10,
		Burst:            30,
		IdleTTL:          10 * time.Minute,
	}
}

// CommitRateLimiter throttles Writer.BeginPatch calls (and so commits) per
// writer ID, so one writer
// hammering the object store (a buggy client stuck in a commit-conflict
// retry loop, for instance) can't starve the others sharing it.
type CommitRateLimiter struct {
	mu       sync.Mutex
	cfg      CommitRateLimiterConfig
	limiters map[string]*writerLimiter
}

type writerLimiter struct {
	limiter      *rate.Limiter
	lastAccessed time.Time
}

// NewCommitRateLimiter constructs a CommitRateLimiter. A zero-value cfg is
// replaced with DefaultCommitRateLimiterConfig.
func NewCommitRateLimiter(cfg CommitRateLimiterConfig) *CommitRateLimiter {
	if cfg.CommitsPerSecond <= 0 {
		cfg.CommitsPerSecond = DefaultCommitRateLimiterConfig().CommitsPerSecond
	}
	if cfg.Burst <= 0 {
		cfg.Burst = DefaultCommitRateLimiterConfig().Burst
	}
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = DefaultCommitRateLimiterConfig().IdleTTL
	}
	return &CommitRateLimiter{cfg: cfg, limiters: make(map[string]*writerLimiter)}
}

// Allow reports whether writerID may commit right now, creating and
// caching a token bucket for it on first use.
func (rl *CommitRateLimiter) Allow(writerID string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	wl, ok := rl.limiters[writerID]
	if !ok {
		wl = &writerLimiter{limiter: rate.NewLimiter(rate.Limit(rl.cfg.CommitsPerSecond), rl.cfg.Burst)}
		rl.limiters[writerID] = wl
	}
	wl.lastAccessed = time.Now()
	return wl.limiter.Allow()
}

// CollectIdle evicts limiters for writers that haven't committed within
// the configured IdleTTL, so a long-lived process doesn't accumulate one
// entry per writer ID it has ever seen.
func (rl *CommitRateLimiter) CollectIdle() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	removed := 0
	cutoff := time.Now().Add(-rl.cfg.IdleTTL)
	for id, wl := range rl.limiters {
		if wl.lastAccessed.Before(cutoff) {
			delete(rl.limiters, id)
			removed++
		}
	}
	return removed
}

// errRateLimited is returned by Writer.BeginPatch when the configured
// CommitRateLimiter rejects the calling writer.
func errRateLimited(writerID string) error {
	return warperr.New(warperr.CodeRateLimited, "writer is committing too fast").With("writer", writerID)
}
