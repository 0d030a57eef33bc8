package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("ENVIRONMENT", "test")
	t.Setenv("DB_SOURCE", "postgres://localhost/feeledger")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, DriverPostgres, cfg.StoreDriver)
	assert.Equal(t, "feeledger", cfg.MongoDatabase)
	assert.Equal(t, "1000", cfg.OverdueThreshold.String())
	assert.Equal(t, time.Hour, cfg.OverdueSweepInterval)
	assert.Equal(t, 5, cfg.TxMaxRetries)
	assert.Equal(t, 5, cfg.RateLimitAttempts)
	assert.Equal(t, 15*time.Minute, cfg.RateLimitWindow)
	assert.Empty(t, cfg.TrustedProxies)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("ENVIRONMENT", "test")
	t.Setenv("STORE_DRIVER", "MEMORY")
	t.Setenv("OVERDUE_THRESHOLD", "250.50")
	t.Setenv("RATE_LIMIT_WINDOW", "30s")
	t.Setenv("RATE_LIMIT_ATTEMPTS", "0")
	t.Setenv("TRUSTED_PROXIES", "10.0.0.0/8, 192.0.2.1")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, DriverMemory, cfg.StoreDriver)
	assert.Equal(t, "250.5", cfg.OverdueThreshold.String())
	assert.Equal(t, 30*time.Second, cfg.RateLimitWindow)
	assert.Equal(t, 0, cfg.RateLimitAttempts)
	assert.Equal(t, []string{"10.0.0.0/8", "192.0.2.1"}, cfg.TrustedProxies)
}

func TestLoadKeepsZeroThreshold(t *testing.T) {
	t.Setenv("ENVIRONMENT", "test")
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("OVERDUE_THRESHOLD", "0")

	cfg, err := Load()
	require.NoError(t, err)
	assert.True(t, cfg.OverdueThreshold.IsZero())
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"postgres needs a source", map[string]string{"STORE_DRIVER": "postgres", "DB_SOURCE": ""}, "DB_SOURCE"},
		{"mongo needs a uri", map[string]string{"STORE_DRIVER": "mongo", "MONGO_URI": ""}, "MONGO_URI"},
		{"unknown driver", map[string]string{"STORE_DRIVER": "sqlite"}, "STORE_DRIVER"},
		{"bad threshold", map[string]string{"STORE_DRIVER": "memory", "OVERDUE_THRESHOLD": "lots"}, "OVERDUE_THRESHOLD"},
		{"no retries", map[string]string{"STORE_DRIVER": "memory", "TX_MAX_RETRIES": "0"}, "TX_MAX_RETRIES"},
		{"zero sweep interval", map[string]string{"STORE_DRIVER": "memory", "OVERDUE_SWEEP_INTERVAL": "0s"}, "OVERDUE_SWEEP_INTERVAL"},
		{"bad proxy", map[string]string{"STORE_DRIVER": "memory", "TRUSTED_PROXIES": "10.0.0.0/8, gateway"}, "TRUSTED_PROXIES"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv("ENVIRONMENT", "test")
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}
