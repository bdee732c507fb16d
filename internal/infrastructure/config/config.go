package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig
	Shell    ShellConfig
	Database DatabaseConfig
	Logging  LogConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"8700"`
	Host string `envconfig:"HOST" default:"0.0.0.0"`
}

// ShellConfig holds command execution configuration.
type ShellConfig struct {
	Path             string `envconfig:"SHELL_PATH" default:""`
	WorkingDirectory string `envconfig:"WORKING_DIR" default:""`
}

// DatabaseConfig holds persistence configuration.
type DatabaseConfig struct {
	Path                string `envconfig:"DB_PATH" default:""`
	AutoSaveIntervalSec int    `envconfig:"AUTOSAVE_INTERVAL" default:"30"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	cfg.applyFallbacks()
	return &cfg, nil
}

// LoadOrDefault loads configuration from environment or returns default.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Default returns default configuration.
func Default() *Config {
	cfg := &Config{
		Server: ServerConfig{
			Port: "8700",
			Host: "0.0.0.0",
		},
		Database: DatabaseConfig{
			AutoSaveIntervalSec: 30,
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
	}
	cfg.applyFallbacks()
	return cfg
}

// applyFallbacks fills settings that depend on the host environment.
func (c *Config) applyFallbacks() {
	if c.Shell.Path == "" {
		c.Shell.Path = os.Getenv("SHELL")
		if c.Shell.Path == "" {
			c.Shell.Path = "/bin/bash"
		}
	}
	if c.Shell.WorkingDirectory == "" {
		if wd, err := os.Getwd(); err == nil {
			c.Shell.WorkingDirectory = wd
		} else {
			c.Shell.WorkingDirectory = "/tmp"
		}
	}
	if c.Database.Path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			home = "/tmp"
		}
		c.Database.Path = filepath.Join(home, ".blockterm", "sessions.db")
	}
}
