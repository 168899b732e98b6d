package config_test

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/durablestep/engine/config"
)

func TestLoadRequiresDatabaseURL(t *testing.T) {
	viper.Reset()
	_, err := config.Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database.url")
}

func TestLoadAppliesDefaults(t *testing.T) {
	viper.Reset()
	t.Setenv("DATABASE_URL", "postgres://localhost/durablestep?sslmode=disable")

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, "durablestep-engine", cfg.App.Name)
	assert.Equal(t, 25, cfg.Database.MaxOpenConns)
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
	assert.Equal(t, time.Second, cfg.Retry.InitialBackoff)
}

func TestLoadHonorsEnvOverrides(t *testing.T) {
	viper.Reset()
	t.Setenv("DATABASE_URL", "postgres://localhost/durablestep?sslmode=disable")
	t.Setenv("RETRY_MAX_ATTEMPTS", "5")

	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.Retry.MaxAttempts)
}
