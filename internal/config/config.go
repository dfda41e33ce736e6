// Package config loads and validates the graph controller's tunables:
// GC thresholds, cache sizes, and cancellation cadence. These are
// operational knobs, not part of the CRDT/reducer/index semantics, so
// they live in their own small package rather than as constants.
package config

import (
	"os"

	"gopkg.in/yaml.v3"

	"github.com/warpgraph/warp/pkg/warperr"
)

// ControllerConfig tunes a graph controller's caching and GC behavior.
type ControllerConfig struct {
	// GCTombstoneThreshold is the minimum number of tombstoned dots
	// before maybeRunGC considers compacting.
	GCTombstoneThreshold int `yaml:"gcTombstoneThreshold"`
	// GCTombstoneRatio is the minimum tombstones/total-dots ratio
	// maybeRunGC additionally requires before compacting.
	GCTombstoneRatio float64 `yaml:"gcTombstoneRatio"`
	// MaxCachedShards bounds the bitmap index's shard read cache.
	MaxCachedShards int `yaml:"maxCachedShards"`
	// NeighborCacheSize bounds the traversal engine's neighbor cache.
	NeighborCacheSize int `yaml:"neighborCacheSize"`
	// CancelCheckEvery is how many visited nodes a traversal processes
	// between context-cancellation checks.
	CancelCheckEvery int `yaml:"cancelCheckEvery"`
	// IndexStrictMode, if true, makes a failed index build fatal rather
	// than falling back to a degraded linear scan.
	IndexStrictMode bool `yaml:"indexStrictMode"`
}

// Default returns the configuration a new graph controller uses absent
// any explicit override.
func Default() ControllerConfig {
	return ControllerConfig{
		GCTombstoneThreshold: 1000,
		GCTombstoneRatio:     0.3,
		MaxCachedShards:      256,
		NeighborCacheSize:    4096,
		CancelCheckEvery:     1000,
		IndexStrictMode:      false,
	}
}

// Validate checks required fields and ranges, returning E_CONFIG_INVALID
// on the first violation found.
func (c ControllerConfig) Validate() error {
	if c.GCTombstoneThreshold < 0 {
		return warperr.New(warperr.CodeConfigInvalid, "gcTombstoneThreshold must be >= 0").
			With("value", c.GCTombstoneThreshold)
	}
	if c.GCTombstoneRatio < 0 || c.GCTombstoneRatio > 1 {
		return warperr.New(warperr.CodeConfigInvalid, "gcTombstoneRatio must be in [0,1]").
			With("value", c.GCTombstoneRatio)
	}
	if c.MaxCachedShards <= 0 {
		return warperr.New(warperr.CodeConfigInvalid, "maxCachedShards must be > 0").
			With("value", c.MaxCachedShards)
	}
	if c.NeighborCacheSize <= 0 {
		return warperr.New(warperr.CodeConfigInvalid, "neighborCacheSize must be > 0").
			With("value", c.NeighborCacheSize)
	}
	if c.CancelCheckEvery <= 0 {
		return warperr.New(warperr.CodeConfigInvalid, "cancelCheckEvery must be > 0").
			With("value", c.CancelCheckEvery)
	}
	return nil
}

// Load reads a YAML controller config from path, applying Default()
// first so a partial file only overrides what it names, then validates
// the result.
func Load(path string) (ControllerConfig, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return ControllerConfig{}, warperr.Wrap(warperr.CodeConfigInvalid, "reading config file", err).
			With("path", path)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return ControllerConfig{}, warperr.Wrap(warperr.CodeConfigInvalid, "parsing config yaml", err).
			With("path", path)
	}
	if err := cfg.Validate(); err != nil {
		return ControllerConfig{}, err
	}
	return cfg, nil
}
