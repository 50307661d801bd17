package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv(PathEnv, "")
	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("GOOGLE_API_KEY", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.API.Addr)
	assert.Equal(t, "gemini-2.5-flash", cfg.Gemini.Model)
	assert.Empty(t, cfg.Gemini.APIKey)
	assert.Equal(t, StorageBackendFile, cfg.Storage.Backend)
	assert.Equal(t, DatabaseDriverMemory, cfg.Database.Driver)
	assert.True(t, cfg.TryOn.EnableAnalysis)
	assert.Equal(t, 3, cfg.Queue.MaxRetry)
	assert.Equal(t, 2*time.Minute, cfg.Queue.TaskTimeout)
	assert.Equal(t, ":9091", cfg.Worker.MetricsAddr)
	assert.True(t, cfg.Worker.DeleteUploads)
}

func TestLoadYAMLThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fitroom.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
api:
  addr: ":9090"
gemini:
  model: gemini-2.0-flash
  api_key: from-file
tryon:
  quality: high
  fallback_mode: overlay
rate_limit:
  enabled: true
  capacity: 12
  window: 30s
storage:
  backend: minio
  bucket: fitroom-test
`), 0o644))

	t.Setenv(PathEnv, path)
	t.Setenv("GEMINI_API_KEY", "from-env")
	t.Setenv("FITROOM_API_ADDR", ":7070")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":7070", cfg.API.Addr, "env overrides file")
	assert.Equal(t, "from-env", cfg.Gemini.APIKey)
	assert.Equal(t, "gemini-2.0-flash", cfg.Gemini.Model)
	assert.Equal(t, "high", cfg.TryOn.Quality)
	assert.Equal(t, "overlay", cfg.TryOn.FallbackMode)
	assert.True(t, cfg.RateLimit.Enabled)
	assert.Equal(t, 12, cfg.RateLimit.Capacity)
	assert.Equal(t, 30*time.Second, cfg.RateLimit.Window)
	assert.Equal(t, StorageBackendMinio, cfg.Storage.Backend)
	assert.Equal(t, float32(0.7), cfg.Gemini.Temperature, "unset keys keep defaults")
}

func TestLoadRejectsInvalid(t *testing.T) {
	t.Setenv(PathEnv, "")
	t.Setenv("STORAGE_BACKEND", "ftp")
	t.Setenv("TRYON_QUALITY", "ultra")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "storage.backend")
	assert.Contains(t, err.Error(), "unsupported quality")
}

func TestLoadMissingFile(t *testing.T) {
	t.Setenv(PathEnv, filepath.Join(t.TempDir(), "missing.yaml"))
	_, err := Load()
	assert.Error(t, err)
}
