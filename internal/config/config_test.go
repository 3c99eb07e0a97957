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

func TestLoad_MissingFileGivesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_OverlaysFile(t *testing.T) {
	path := writeConfig(t, `
server:
  port: "9090"
  allowed_origins: ["https://yoonha.example"]
postgres:
  dsn: postgres://u:p@db:5432/hp
auth:
  jwt_secret: s3cret
  session_ttl: 2h
  admins:
    - identifier: admin@yoonha.example
      password_hash: $2a$10$abcdefghijklmnopqrstuv
timeouts:
  operation: 3s
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, []string{"https://yoonha.example"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, "postgres://u:p@db:5432/hp", cfg.Postgres.DSN)
	assert.Equal(t, 2*time.Hour, cfg.Auth.SessionTTL)
	assert.Equal(t, 3*time.Second, cfg.Timeouts.Operation)
	require.Len(t, cfg.Auth.Admins, 1)
	assert.Equal(t, "admin@yoonha.example", cfg.Auth.Admins[0].Identifier)
	// untouched sections keep their defaults
	assert.Equal(t, 16, cfg.Live.MaxSubscriptionsPerConn)
	assert.Equal(t, 5, cfg.Auth.LoginAttempts)
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeConfig(t, "server: [")
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoad_RejectsIncompleteAdmin(t *testing.T) {
	path := writeConfig(t, `
auth:
  admins:
    - identifier: admin
`)
	_, err := Load(path)
	assert.EqualError(t, err, "auth.admins[0]: identifier and password_hash are required")
}

func TestUploadsEnabled(t *testing.T) {
	cfg := Default()
	assert.False(t, cfg.UploadsEnabled())
	cfg.S3.Bucket = "images"
	assert.True(t, cfg.UploadsEnabled(), "plain AWS needs no endpoint")
	cfg.S3.Endpoint = "http://minio:9000"
	assert.True(t, cfg.UploadsEnabled())
}
