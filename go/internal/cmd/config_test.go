package main

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

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("NATS_URL", "")
	cfg, err := loadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, 3, cfg.Race.Lobby.MinPlayers)
	assert.Equal(t, "race.events", cfg.JetStream.SubjectPrefix)
}

func TestLoadConfigOverridesRaceSection(t *testing.T) {
	path := writeConfig(t, `
race:
  lobby:
    min_players: 4
    countdown: 5s
  session:
    bot_tick: 250ms
outbox:
  poll_interval: 1m
catalog:
  path: /etc/typerace/catalog.yaml
`)
	cfg, err := loadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 4, cfg.Race.Lobby.MinPlayers)
	assert.Equal(t, 5, cfg.Race.Lobby.MaxPlayers, "unset keys keep their defaults")
	assert.Equal(t, 5*time.Second, cfg.Race.Lobby.Countdown)
	assert.Equal(t, 250*time.Millisecond, cfg.Race.Session.BotTick)
	assert.Equal(t, time.Minute, cfg.Outbox.PollInterval)
	assert.Equal(t, "/etc/typerace/catalog.yaml", cfg.Catalog.Path)
}

func TestLoadConfigEnvironmentWins(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("NATS_URL", "nats://broker:4222")
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("OUTBOX_BATCH_SIZE", "7")

	cfg, err := loadConfig(writeConfig(t, "server:\n  port: \"7000\"\n"))
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, "nats://broker:4222", cfg.JetStream.URL)
	assert.Equal(t, "s3cret", cfg.Auth.JWTSecret)
	assert.Equal(t, 7, cfg.Outbox.BatchSize)
}

func TestLoadConfigRejectsInvalidValues(t *testing.T) {
	_, err := loadConfig(writeConfig(t, "race:\n  lobby:\n    min_players: 6\n"))
	assert.Error(t, err)

	_, err = loadConfig(writeConfig(t, "race: ["))
	assert.Error(t, err)
}
