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
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.DB.Driver)
	assert.Equal(t, ":8070", cfg.HTTPAddr)
	assert.Equal(t, 50, cfg.MaxBatch)
	assert.Equal(t, 5*time.Second, cfg.DB.RetryDelay)
	assert.Equal(t, "@every 1m", cfg.Keeper.Schedule)
	assert.False(t, cfg.OpenClaims)
}

func TestLoadEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	content := "DB_DRIVER=sqlite\nFEE_RATE_BPS=250\nOPEN_COLLATERAL_CLAIMS=true\nKEEPER_SCHEDULE=@every 10s\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	t.Cleanup(func() {
		for _, key := range []string{"DB_DRIVER", "FEE_RATE_BPS", "OPEN_COLLATERAL_CLAIMS", "KEEPER_SCHEDULE"} {
			os.Unsetenv(key)
		}
	})

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "sqlite", cfg.DB.Driver)
	assert.Equal(t, uint16(250), cfg.FeeRate)
	assert.True(t, cfg.OpenClaims)
	assert.Equal(t, "@every 10s", cfg.Keeper.Schedule)
}
