package config

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("ENTITYQL_MODEL", "")
	t.Setenv("PORT", "")
	t.Setenv("ENTITYQL_LOG_LEVEL", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "model.yaml", cfg.ModelPath)
	assert.Equal(t, ":8080", cfg.Addr())
	assert.Equal(t, slog.LevelInfo, cfg.LogLevel)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("ENTITYQL_MODEL", "/etc/entityql/shop.yaml")
	t.Setenv("PORT", "9090")
	t.Setenv("ENTITYQL_LOG_LEVEL", "debug")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "/etc/entityql/shop.yaml", cfg.ModelPath)
	assert.Equal(t, ":9090", cfg.Addr())
	assert.Equal(t, slog.LevelDebug, cfg.LogLevel)
}

func TestLoadBadLevel(t *testing.T) {
	t.Setenv("ENTITYQL_LOG_LEVEL", "loud")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ENTITYQL_LOG_LEVEL")
}
