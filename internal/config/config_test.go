package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warpgraph/warp/pkg/warperr"
)

func TestDefaultConfigValidates(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestValidateRejectsOutOfRangeFields(t *testing.T) {
	cases := []struct {
		name string
		cfg  ControllerConfig
	}{
		{"negative threshold", ControllerConfig{GCTombstoneThreshold: -1, GCTombstoneRatio: 0.5, MaxCachedShards: 1, NeighborCacheSize: 1, CancelCheckEvery: 1}},
		{"ratio above one", ControllerConfig{GCTombstoneRatio: 1.5, MaxCachedShards: 1, NeighborCacheSize: 1, CancelCheckEvery: 1}},
		{"ratio below zero", ControllerConfig{GCTombstoneRatio: -0.1, MaxCachedShards: 1, NeighborCacheSize: 1, CancelCheckEvery: 1}},
		{"zero max shards", ControllerConfig{GCTombstoneRatio: 0.5, MaxCachedShards: 0, NeighborCacheSize: 1, CancelCheckEvery: 1}},
		{"zero neighbor cache", ControllerConfig{GCTombstoneRatio: 0.5, MaxCachedShards: 1, NeighborCacheSize: 0, CancelCheckEvery: 1}},
		{"zero cancel cadence", ControllerConfig{GCTombstoneRatio: 0.5, MaxCachedShards: 1, NeighborCacheSize: 1, CancelCheckEvery: 0}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.cfg.Validate()
			require.Error(t, err)
			assert.True(t, warperr.HasCode(err, warperr.CodeConfigInvalid))
		})
	}
}

func TestLoadAppliesDefaultsThenOverridesFromYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "controller.yaml")
	require.NoError(t, os.WriteFile(path, []byte("gcTombstoneThreshold: 50\nindexStrictMode: true\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 50, cfg.GCTombstoneThreshold)
	assert.True(t, cfg.IndexStrictMode)
	assert.Equal(t, Default().MaxCachedShards, cfg.MaxCachedShards)
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "controller.yaml")
	require.NoError(t, os.WriteFile(path, []byte("gcTombstoneThreshold: [not, a, number]\n"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
	assert.True(t, warperr.HasCode(err, warperr.CodeConfigInvalid))
}

func TestLoadRejectsMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.True(t, warperr.HasCode(err, warperr.CodeConfigInvalid))
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "controller.yaml")
	require.NoError(t, os.WriteFile(path, []byte("gcTombstoneRatio: 2.0\n"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
	assert.True(t, warperr.HasCode(err, warperr.CodeConfigInvalid))
}
