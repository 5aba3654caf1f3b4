package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadFileAndDefaults(t *testing.T) {
	path := writeConfig(t, `
app:
  env: development
  port: 9000
jwt:
  algorithm: HS256
  hs_secret: s3cret
storage:
  driver: memory
ws:
  ping_interval_seconds: 5
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.App.Port)
	assert.True(t, cfg.Development())
	assert.Equal(t, "memory", cfg.Storage.Driver)
	assert.Equal(t, 5*time.Second, cfg.PingInterval)
	assert.Equal(t, 10*time.Second, cfg.WriteDeadline)
	assert.Equal(t, 50, cfg.Realtime.HistoryLimit)
	assert.Equal(t, DefaultPalette, cfg.Realtime.Palette)
	assert.Equal(t, int64(65536), cfg.WS.MaxMessageSizeBytes)
	assert.Equal(t, 24*time.Hour, cfg.PresignTTL)
	assert.Equal(t, int64(10<<20), cfg.Media.MaxUploadBytes)
	assert.False(t, cfg.Discovery.Enabled)
}

func TestLoadEnvOverride(t *testing.T) {
	path := writeConfig(t, `
jwt:
  hs_secret: from-file
storage:
  driver: memory
`)
	t.Setenv("REALTIME_APP_PORT", "7001")
	t.Setenv("REALTIME_JWT_HS_SECRET", "from-env")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 7001, cfg.App.Port)
	assert.Equal(t, "from-env", cfg.JWT.HSSecret)
}

func TestLoadMissingFileUsesEnv(t *testing.T) {
	t.Setenv("REALTIME_JWT_HS_SECRET", "env-only")
	t.Setenv("REALTIME_STORAGE_DRIVER", "memory")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "env-only", cfg.JWT.HSSecret)
	assert.Equal(t, 8086, cfg.App.Port)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"missing secret", "storage:\n  driver: memory\n"},
		{"rs256 without key", "jwt:\n  algorithm: RS256\nstorage:\n  driver: memory\n"},
		{"bad driver", "jwt:\n  hs_secret: x\nstorage:\n  driver: sqlite\n"},
		{"enrichment without urls", "jwt:\n  hs_secret: x\nstorage:\n  driver: memory\nenrichment:\n  enabled: true\n"},
		{"redis bad addr", "jwt:\n  hs_secret: x\nstorage:\n  driver: memory\nredis:\n  enabled: true\n  addr: localhost\n"},
		{"media without bucket", "jwt:\n  hs_secret: x\nstorage:\n  driver: memory\nmedia:\n  enabled: true\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			assert.Error(t, err)
		})
	}
}
