package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openoverheid/docpipe/pkg/storage"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, "localhost:6379", cfg.Broker.Addr)
	assert.Equal(t, storage.DriverMinio, cfg.Storage.Driver)
	assert.Equal(t, 1000, cfg.Embedding.ChunkSize)
	assert.Equal(t, 200, cfg.Embedding.ChunkOverlap)
	assert.Equal(t, "documents", cfg.Solr.Collection)
}

func TestLoadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
log:
  level: debug
  encoding: console
broker:
  addr: redis.internal:6379
  maxDeliveries: 3
consumer:
  maxConcurrentCalls: 4
  receiveWait: 2s
solr:
  url: http://solr.internal:8983/solr
  collection: wetten
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "redis.internal:6379", cfg.Broker.Addr)
	assert.Equal(t, 3, cfg.Broker.MaxDeliveries)
	assert.Equal(t, 4, cfg.Consumer.MaxConcurrentCalls)
	assert.Equal(t, 2*time.Second, cfg.Consumer.ReceiveWait)
	assert.Equal(t, "wetten", cfg.Solr.Collection)
	// untouched sections keep their defaults
	assert.Equal(t, "docpipe.db", cfg.DocStore.Path)
	assert.Equal(t, ":8080", cfg.Server.Addr)
}

func TestLoadInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log: [unclosed"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("REDIS_ADDR", "env-redis:6379")
	t.Setenv("RESEND_API_KEY", "re_env")
	t.Setenv("STORAGE_DRIVER", "s3")
	t.Setenv("MAX_CONCURRENT_CALLS", "8")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "env-redis:6379", cfg.Broker.Addr)
	assert.Equal(t, "env-redis:6379", cfg.Ledger.Addr)
	assert.Equal(t, "re_env", cfg.Notify.APIKey)
	assert.Equal(t, storage.DriverS3, cfg.Storage.Driver)
	assert.Equal(t, 8, cfg.Consumer.MaxConcurrentCalls)
}

func TestEnvOverridesBeatYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("broker:\n  addr: yaml-redis:6379\n"), 0o644))
	t.Setenv("REDIS_ADDR", "env-redis:6379")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "env-redis:6379", cfg.Broker.Addr)
}
