package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/mcdev12/typerace/go/internal/outbox"
	"github.com/mcdev12/typerace/go/internal/race/coordinator"
	"github.com/mcdev12/typerace/go/internal/race/gateway"
	"github.com/mcdev12/typerace/go/internal/race/settlement"
)

type Config struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`
	Race       coordinator.Config       `yaml:"race"`
	Settlement settlement.Config        `yaml:"settlement"`
	Gateway    gateway.ConnectionConfig `yaml:"gateway"`
	Outbox     outbox.Config            `yaml:"outbox"`
	JetStream  outbox.JetStreamConfig   `yaml:"jetstream"`
	Catalog    struct {
		Path string `yaml:"path"`
	} `yaml:"catalog"`
	Texts struct {
		Path string `yaml:"path"`
	} `yaml:"texts"`
	Auth struct {
		JWTSecret string `yaml:"-"`
	} `yaml:"-"`
	LogLevel string `yaml:"log_level"`
}

func defaultConfig() *Config {
	cfg := &Config{
		Race:       coordinator.DefaultConfig(),
		Settlement: settlement.DefaultConfig(),
		Gateway:    gateway.DefaultConnectionConfig(),
		Outbox:     outbox.DefaultConfig(),
		JetStream:  outbox.DefaultJetStreamConfig(),
		LogLevel:   "info",
	}
	cfg.Server.Port = "8080"
	return cfg
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// loadConfig layers the YAML file over the defaults, then the environment
// over both. A missing file is not an error.
func loadConfig(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		log.Info().Str("path", path).Msg("no config file, using defaults")
	case err != nil:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	cfg.Server.Port = getEnv("PORT", cfg.Server.Port)
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)
	cfg.JetStream.URL = getEnv("NATS_URL", cfg.JetStream.URL)
	cfg.Outbox.BatchSize = getEnvAsInt("OUTBOX_BATCH_SIZE", cfg.Outbox.BatchSize)
	cfg.Auth.JWTSecret = os.Getenv("JWT_SECRET")

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	lobby := c.Race.Lobby
	if lobby.MinPlayers < 1 || lobby.MaxPlayers < lobby.MinPlayers {
		return fmt.Errorf("invalid lobby size: min %d, max %d", lobby.MinPlayers, lobby.MaxPlayers)
	}
	if lobby.Countdown <= 0 || c.Race.Session.BotTick <= 0 {
		return errors.New("race durations must be positive")
	}
	if c.Outbox.PollInterval <= 0 {
		return errors.New("outbox poll interval must be positive")
	}
	return nil
}
