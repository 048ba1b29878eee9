package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeTOML(t *testing.T, dir, contents string) string {
	t.Helper()
	path := filepath.Join(dir, "syncmesh.toml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeTOML(t, t.TempDir(), `process_secret = "supersecretsupersecret"`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, defaultWorkerCount, cfg.WorkerCount)
	require.Equal(t, defaultMaxQueueLength, cfg.MaxQueueLength)
	require.Equal(t, defaultMaxAttempts, cfg.MaxAttempts)
	require.Equal(t, defaultWebhookAddr, cfg.WebhookAddr)
	require.Equal(t, defaultMappingCacheTTL, cfg.MappingCacheTTL)
	require.Equal(t, defaultShutdownGrace, cfg.ShutdownGrace)
}

func TestLoadHonorsExplicitValues(t *testing.T) {
	path := writeTOML(t, t.TempDir(), `
process_secret = "supersecretsupersecret"
worker_count = 10
max_queue_length = 500
webhook_addr = ":9999"
mapping_cache_ttl = "1m"
shutdown_grace = "45s"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 10, cfg.WorkerCount)
	require.Equal(t, 500, cfg.MaxQueueLength)
	require.Equal(t, ":9999", cfg.WebhookAddr)
	require.Equal(t, time.Minute, cfg.MappingCacheTTL)
	require.Equal(t, 45*time.Second, cfg.ShutdownGrace)
}

func TestLoadMissingSecretFails(t *testing.T) {
	path := writeTOML(t, t.TempDir(), `worker_count = 3`)

	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	path := writeTOML(t, t.TempDir(), `
process_secret = "from-file-from-file-from-file"
worker_count = 2
`)

	t.Setenv("SYNCMESH_PROCESS_SECRET", "from-env-from-env-from-env")
	t.Setenv("SYNCMESH_WORKER_COUNT", "7")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "from-env-from-env-from-env", cfg.ProcessSecret)
	require.Equal(t, 7, cfg.WorkerCount)
}

func TestWatchFileReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := writeTOML(t, dir, `
process_secret = "supersecretsupersecret"
worker_count = 3
`)

	reloaded := make(chan *Config, 1)
	w, err := WatchFile(path, func(c *Config) { reloaded <- c })
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, os.WriteFile(path, []byte(`
process_secret = "supersecretsupersecret"
worker_count = 9
`), 0o600))

	select {
	case cfg := <-reloaded:
		require.Equal(t, 9, cfg.WorkerCount)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for reload")
	}
}
