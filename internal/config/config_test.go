package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "./data", cfg.Storage.BaseDir)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, 16, cfg.Ingest.MaxStreams)
	assert.Equal(t, 3, cfg.Health.FailureThreshold)
}

func TestLoad_FromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "lightnvr.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 9090
storage:
  base_dir: /srv/nvr
logging:
  level: debug
  format: text
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "/srv/nvr", cfg.Storage.BaseDir)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "text", cfg.Logging.Format)
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		cfg, err := Load("")
		require.NoError(t, err)
		return cfg
	}

	t.Run("invalid port", func(t *testing.T) {
		cfg := base()
		cfg.Server.Port = 0
		assert.Error(t, cfg.Validate())
	})

	t.Run("missing storage root", func(t *testing.T) {
		cfg := base()
		cfg.Storage.BaseDir = ""
		assert.Error(t, cfg.Validate())
	})

	t.Run("unknown driver", func(t *testing.T) {
		cfg := base()
		cfg.Database.Driver = "oracle"
		assert.Error(t, cfg.Validate())
	})
}

func TestDatabasePath(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, filepath.Join("data", "database", "nvr.db"), filepath.Clean(cfg.DatabasePath()))

	cfg.Database.DSN = "/explicit/nvr.db"
	assert.Equal(t, "/explicit/nvr.db", cfg.DatabasePath())
}

func TestStoragePaths(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, filepath.Join("data", "mp4", "front"), filepath.Clean(cfg.Storage.MP4Path("front")))
	assert.Equal(t, filepath.Join("data", "front"), filepath.Clean(cfg.Storage.DetectionPath("front")))
	assert.Equal(t, filepath.Join("data", "hls", "front"), filepath.Clean(cfg.Storage.HLSPath("front")))
}
