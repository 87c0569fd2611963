package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefaultConfig_IsValid(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())
}

func TestLoad_UsesDefaultsWhenFileMissing(t *testing.T) {
	cfg, err := Load("non-existent-config.yaml")
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Server.Address)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "memory", cfg.Storage.Backend)
	assert.Equal(t, 20*time.Second, cfg.Session.HeartbeatTimeout)
}

func TestLoad_LoadsFromYAMLAndAppliesEnvOverrides(t *testing.T) {
	path := writeTempConfig(t, `
server:
  address: ":9000"
  read_timeout: 10s
  write_timeout: 15s

signal:
  ping_interval: 5s
  pong_timeout: 12s
  send_buffer: 16

webrtc:
  ice_servers:
    - urls: ["turn:turn.example.org:3478"]
      username: "class"
      credential: "secret"

session:
  default_capacity: 40
  heartbeat_interval: 5s
  heartbeat_timeout: 15s

storage:
  backend: sqlite
  sqlite_path: /tmp/classes.db

logging:
  level: "debug"
  format: "console"
`)

	t.Setenv("LIVECLASS_SERVER_ADDRESS", ":7000")
	t.Setenv("LIVECLASS_LOG_LEVEL", "warn")
	t.Setenv("LIVECLASS_DEFAULT_CAPACITY", "25")

	cfg, err := Load(path)
	require.NoError(t, err)

	// YAML values
	assert.Equal(t, 10*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 15*time.Second, cfg.Server.WriteTimeout)
	assert.Equal(t, 16, cfg.Signal.SendBuffer)
	require.Len(t, cfg.WebRTC.ICEServers, 1)
	assert.Equal(t, "class", cfg.WebRTC.ICEServers[0].Username)
	assert.Equal(t, 15*time.Second, cfg.Session.HeartbeatTimeout)
	assert.Equal(t, "sqlite", cfg.Storage.Backend)
	assert.Equal(t, "console", cfg.Logging.Format)

	// Unset sections keep their defaults
	assert.Equal(t, 4, cfg.Recording.Workers)

	// Env overrides
	assert.Equal(t, ":7000", cfg.Server.Address)
	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.Equal(t, 25, cfg.Session.DefaultCapacity)
}

func TestLoad_InvalidEnvOverride(t *testing.T) {
	t.Setenv("LIVECLASS_HEARTBEAT_INTERVAL", "soon")

	_, err := Load("non-existent-config.yaml")
	assert.Error(t, err)
}

func TestLoad_HeartbeatEnvWidensTimeout(t *testing.T) {
	t.Setenv("LIVECLASS_HEARTBEAT_INTERVAL", "30s")

	cfg, err := Load("non-existent-config.yaml")
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, cfg.Session.HeartbeatInterval)
	assert.Equal(t, 60*time.Second, cfg.Session.HeartbeatTimeout)
}

func TestLoad_InvalidConfigFailsValidation(t *testing.T) {
	path := writeTempConfig(t, `
server:
  address: ""
  read_timeout: 0s

logging:
  level: ""
`)

	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"pong timeout not above ping interval", func(c *Config) { c.Signal.PongTimeout = c.Signal.PingInterval }},
		{"zero send buffer", func(c *Config) { c.Signal.SendBuffer = 0 }},
		{"ice server without urls", func(c *Config) { c.WebRTC.ICEServers = []ICEServer{{Username: "x"}} }},
		{"zero capacity", func(c *Config) { c.Session.DefaultCapacity = 0 }},
		{"heartbeat timeout not above interval", func(c *Config) { c.Session.HeartbeatTimeout = c.Session.HeartbeatInterval }},
		{"zero departed cache", func(c *Config) { c.Session.DepartedCacheSize = 0 }},
		{"empty recording path", func(c *Config) { c.Recording.StoragePath = "" }},
		{"zero recording workers", func(c *Config) { c.Recording.Workers = 0 }},
		{"unknown backend", func(c *Config) { c.Storage.Backend = "mongo" }},
		{"sqlite without path", func(c *Config) {
			c.Storage.Backend = "sqlite"
			c.Storage.SQLitePath = ""
		}},
		{"redis backend without address", func(c *Config) {
			c.Storage.Backend = "redis"
			c.Redis.Address = ""
		}},
		{"empty jwt secret", func(c *Config) { c.Auth.JWTSecret = "" }},
		{"zero session token ttl", func(c *Config) { c.Auth.SessionTokenTTL = 0 }},
		{"tracing sample rate above one", func(c *Config) {
			c.Tracing.Enabled = true
			c.Tracing.SampleRate = 1.5
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestValidate_RateLimitingDisabled_AllowsZeroValues(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RateLimiting.Enabled = false
	cfg.RateLimiting.HTTP.RequestsPerSecond = 0
	cfg.RateLimiting.HTTP.Burst = 0
	cfg.RateLimiting.WebSocket.MessagesPerSecond = 0
	cfg.RateLimiting.WebSocket.Burst = 0

	assert.NoError(t, cfg.Validate())
}

func TestValidate_RateLimiting_InvalidValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"http rps must be > 0", func(c *Config) { c.RateLimiting.HTTP.RequestsPerSecond = 0 }},
		{"http burst must be > 0", func(c *Config) { c.RateLimiting.HTTP.Burst = 0 }},
		{"ws messages per second must be > 0", func(c *Config) { c.RateLimiting.WebSocket.MessagesPerSecond = 0 }},
		{"ws burst must be > 0", func(c *Config) { c.RateLimiting.WebSocket.Burst = 0 }},
		{"ws max message size must be >= 0", func(c *Config) { c.RateLimiting.WebSocket.MaxMessageSizeBytes = -1 }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.RateLimiting.Enabled = true
			tc.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestSplitList(t *testing.T) {
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, splitList(" https://a.example, ,https://b.example "))
}
