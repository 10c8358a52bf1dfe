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
	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfigFromFileWithEnvOverrides(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9090
database:
  driver: postgres
  host: db.internal
outbox:
  poll_interval: 2s
auth:
  enabled: true
  secret: from-file
`)
	t.Setenv("BILLING_DATABASE_DSN", "postgres://billing@db/billing?sslmode=disable")
	t.Setenv("BILLING_AUTH_SECRET", "from-env")
	t.Setenv("BILLING_ALERTS_TO", "a@example.com,b@example.com")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "db.internal", cfg.Database.Host)
	assert.Equal(t, "postgres://billing@db/billing?sslmode=disable", cfg.Database.PostgresDSN())
	assert.Equal(t, "from-env", cfg.Auth.Secret)
	assert.Equal(t, []string{"a@example.com", "b@example.com"}, cfg.Alerts.To)
	assert.Equal(t, 2*time.Second, cfg.Outbox.PollInterval)

	// untouched keys keep their defaults
	assert.Equal(t, 100, cfg.Outbox.BatchSize)
	assert.Equal(t, time.Minute, cfg.Billing.FeeCacheTTL)

	wc := cfg.Outbox.ToWorkerConfig()
	assert.Equal(t, 2*time.Second, wc.PollInterval)
	assert.Equal(t, 5, wc.MaxAttempts)
}

func TestLoadConfigValidation(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"unknown driver", "database:\n  driver: mongo\n"},
		{"sqlite without dsn", "database:\n  driver: sqlite\n"},
		{"auth without secret", "auth:\n  enabled: true\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, tt.body))
			assert.Error(t, err)
		})
	}
}

func TestLoadConfigMissingExplicitFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yml"))
	assert.Error(t, err)
}

func TestPostgresDSNFromFields(t *testing.T) {
	db := DatabaseConfig{Host: "h", Port: 5433, User: "u", Password: "p", Name: "n", SSLMode: "require"}
	assert.Equal(t, "host=h port=5433 user=u password=p dbname=n sslmode=require", db.PostgresDSN())
}
