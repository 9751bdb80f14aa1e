package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "timeline.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfigKeepsDefaults(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, `
server:
  port: 9090
  store: Postgres
room:
  cards_to_win: 8
sweep:
  stale_after: 3h
gateway:
  nats:
    url: nats://nats:4222
`)

	cfg, err := loadConfig(path)
	require.NoError(t, err)
	require.NoError(t, cfg.validate())

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, storePostgres, cfg.Server.Store)
	assert.Equal(t, 8, cfg.Room.CardsToWin)
	assert.Equal(t, 20, cfg.Room.MaxPlayers)
	assert.Equal(t, 60, cfg.Room.TurnTimeLimitSeconds)
	assert.Equal(t, 3*time.Hour, cfg.Sweep.StaleAfter)
	assert.Equal(t, 30*time.Minute, cfg.Sweep.EmptyRetention)
	assert.Equal(t, "nats://nats:4222", cfg.Gateway.NATS.URL)
	assert.Equal(t, 2*time.Second, cfg.Gateway.NATS.ReconnectWait)
	assert.NotNil(t, cfg.Gateway.Connection.CheckOrigin)
}

func TestLoadConfigErrors(t *testing.T) {
	t.Parallel()

	_, err := loadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = loadConfig(writeConfig(t, "server: [1, 2"))
	assert.Error(t, err)

	cfg, err := loadConfig("")
	require.NoError(t, err)
	want := defaultConfig()
	require.NotNil(t, cfg.Gateway.Connection.CheckOrigin)
	cfg.Gateway.Connection.CheckOrigin = nil
	want.Gateway.Connection.CheckOrigin = nil
	assert.Equal(t, want, cfg)
}

func TestValidate(t *testing.T) {
	t.Parallel()

	type testCase struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}

	tests := []testCase{
		{name: "defaults", mutate: func(*Config) {}},
		{name: "port zero", mutate: func(c *Config) { c.Server.Port = 0 }, wantErr: true},
		{name: "port too high", mutate: func(c *Config) { c.Server.Port = 70000 }, wantErr: true},
		{name: "unknown store", mutate: func(c *Config) { c.Server.Store = "redis" }, wantErr: true},
		{name: "no cards to win", mutate: func(c *Config) { c.Room.CardsToWin = 0 }, wantErr: true},
		{name: "no players", mutate: func(c *Config) { c.Room.MaxPlayers = 0 }, wantErr: true},
		{name: "no turn time", mutate: func(c *Config) { c.Room.TurnTimeLimitSeconds = 0 }, wantErr: true},
		{name: "no sweep interval", mutate: func(c *Config) { c.Sweep.Interval = 0 }, wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg := defaultConfig()
			tc.mutate(cfg)
			err := cfg.validate()
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestEnvironmentOverridesFile(t *testing.T) {
	t.Setenv("PORT", "7070")
	t.Setenv("PUBLIC_URL", "https://play.example.com")
	t.Setenv("NATS_URL", "nats://bus:4222")

	root := newRootCmd()
	v := viper.New()
	v.SetEnvKeyReplacer(replacer())
	root.PersistentFlags().VisitAll(bindFlag(v))

	cfg, err := loadConfig(writeConfig(t, "server:\n  port: 9090\n  log_level: debug\n"))
	require.NoError(t, err)
	applyOverrides(cfg, v)

	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, "https://play.example.com", cfg.Server.PublicURL)
	assert.Equal(t, "nats://bus:4222", cfg.Gateway.NATS.URL)
	assert.Equal(t, "debug", cfg.Server.LogLevel, "file value kept when nothing overrides it")
}

func TestSetupLogging(t *testing.T) {
	assert.NoError(t, setupLogging("DEBUG"))
	assert.Error(t, setupLogging("chatty"))
}
