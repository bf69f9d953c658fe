package qcache

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigYAML(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "qcache.yaml")
	body := "query:\n  stale_time_ms: 60000\n  cache_time_ms: 300000\n  retry_count: 3\nmutation:\n  cache_time_ms: 600000\n  retry_count: -1\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, int64(60000), cfg.Query.StaleTimeMS)
	assert.Equal(t, 3, cfg.Query.RetryCount)
	assert.Equal(t, -1, cfg.Mutation.RetryCount)
}

func TestLoadConfigTOML(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "qcache.toml")
	body := "[query]\nstale_time_ms = 1000\ncache_time_ms = 2000\nretry_count = 0\n\n[mutation]\ncache_time_ms = 3000\nretry_count = 5\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), cfg.Query.StaleTimeMS)
	assert.Equal(t, 5, cfg.Mutation.RetryCount)
}

func TestLoadConfigUnrecognizedExtension(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "qcache.json")
	require.NoError(t, os.WriteFile(path, []byte("{}"), 0o644))

	_, err := LoadConfig(path)
	assert.Error(t, err)
}

func TestLoadConfigMissingFile(t *testing.T) {
	t.Parallel()

	_, err := LoadConfig("/nonexistent/qcache.yaml")
	assert.Error(t, err)
}

func TestConfigQueryOptionsConversion(t *testing.T) {
	t.Parallel()

	cfg := &Config{Query: QueryDefaultsConfig{StaleTimeMS: 5000, CacheTimeMS: 10000, RetryCount: 2}}
	opts := cfg.QueryOptions()
	assert.Equal(t, 5*time.Second, opts.StaleTime)
	assert.Equal(t, 10*time.Second, opts.CacheTime)
	assert.Equal(t, 2, opts.Retry)
}

func TestRetryPolicyFromCount(t *testing.T) {
	t.Parallel()

	assert.Equal(t, false, retryPolicyFromCount(0))
	assert.Equal(t, true, retryPolicyFromCount(-1))
	assert.Equal(t, 4, retryPolicyFromCount(4))
}
