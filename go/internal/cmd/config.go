package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/mcdev12/timeline/go/internal/room"
	"github.com/mcdev12/timeline/go/internal/room/gateway"
	"github.com/mcdev12/timeline/go/internal/room/orchestrator"
)

const (
	storeMemory   = "memory"
	storePostgres = "postgres"
)

type Config struct {
	Server  ServerConfig             `yaml:"server"`
	Room    room.Config              `yaml:"room"`
	Sweep   orchestrator.SweepConfig `yaml:"sweep"`
	Gateway gateway.Config           `yaml:"gateway"`
	Catalog CatalogConfig            `yaml:"catalog"`
}

type ServerConfig struct {
	Port            int           `yaml:"port"`
	PublicURL       string        `yaml:"public_url"`
	LogLevel        string        `yaml:"log_level"`
	Store           string        `yaml:"store"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// CatalogConfig seeds the in-memory catalog. Without a file the built-in
// sample songs are used.
type CatalogConfig struct {
	SeedFile string `yaml:"seed_file"`
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			LogLevel:        "info",
			Store:           storeMemory,
			ShutdownTimeout: 10 * time.Second,
		},
		Room:    room.DefaultConfig(),
		Sweep:   orchestrator.DefaultSweepConfig(),
		Gateway: gateway.DefaultConfig(),
	}
}

// loadConfig reads path over the defaults. An empty path returns the defaults.
func loadConfig(path string) (*Config, error) {
	config := defaultConfig()
	if path == "" {
		return config, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return config, nil
}

// applyOverrides copies flags and environment variables bound in v over the file values.
func applyOverrides(c *Config, v *viper.Viper) {
	if v.IsSet("port") {
		c.Server.Port = v.GetInt("port")
	}
	if v.IsSet("public-url") {
		c.Server.PublicURL = v.GetString("public-url")
	}
	if v.IsSet("log-level") {
		c.Server.LogLevel = v.GetString("log-level")
	}
	if v.IsSet("store") {
		c.Server.Store = v.GetString("store")
	}
	if v.IsSet("nats-url") {
		c.Gateway.NATS.URL = v.GetString("nats-url")
	}
}

func (c *Config) validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port (must be between 1-65535 inclusive): %d", c.Server.Port)
	}
	switch strings.ToLower(c.Server.Store) {
	case storeMemory, storePostgres:
		c.Server.Store = strings.ToLower(c.Server.Store)
	default:
		return fmt.Errorf("unknown store %q (want %s or %s)", c.Server.Store, storeMemory, storePostgres)
	}
	if c.Room.CardsToWin < 1 {
		return errors.New("room.cards_to_win must be at least 1")
	}
	if c.Room.MaxPlayers < 1 {
		return errors.New("room.max_players must be at least 1")
	}
	if c.Room.TurnTimeLimitSeconds < 1 {
		return errors.New("room.turn_time_limit_seconds must be at least 1")
	}
	if c.Sweep.Interval <= 0 {
		return errors.New("sweep.interval must be positive")
	}
	return nil
}

func setupLogging(level string) error {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(lvl)
	return nil
}
