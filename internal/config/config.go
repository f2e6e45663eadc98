package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config holds the top-level application configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Engine    EngineConfig    `yaml:"engine"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// DatabaseConfig holds database connection settings. When URL is empty the
// server runs with in-memory stores only.
type DatabaseConfig struct {
	URL string `yaml:"url"`
}

// EngineConfig holds settings for the automation engine.
type EngineConfig struct {
	ActionTimeoutSeconds int `yaml:"action_timeout_seconds"` // per-action timeout (default: 10)
}

// SchedulerConfig holds settings for the time trigger scheduler. Disable the
// internal timer when an external cron drives /api/automations/process.
type SchedulerConfig struct {
	Enabled bool `yaml:"enabled"`
}

// defaults returns a Config populated with sensible default values.
func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Database: DatabaseConfig{},
		Engine: EngineConfig{
			ActionTimeoutSeconds: 10,
		},
		Scheduler: SchedulerConfig{
			Enabled: true,
		},
	}
}

// Load reads a YAML configuration file at path and returns a Config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnv(cfg)
	return cfg, nil
}

// LoadDefault tries to load "config.yaml" from the current directory.
// If the file does not exist, it returns sensible defaults.
// Any other error (e.g. permission denied, malformed YAML) is returned.
func LoadDefault() (*Config, error) {
	cfg, err := Load("config.yaml")
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			cfg = defaults()
			applyEnv(cfg)
			return cfg, nil
		}
		return nil, err
	}
	return cfg, nil
}

// applyEnv lets deployment environments override the file, DATABASE_URL
// being the one secret we never want written to config.yaml.
func applyEnv(cfg *Config) {
	if url := os.Getenv("DATABASE_URL"); url != "" {
		cfg.Database.URL = url
	}
}
