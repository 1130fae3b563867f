package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/oklahomer/go-sarah-discord-modules/kvstore"
	"github.com/oklahomer/go-sarah-discord-modules/module"
)

var errMissingToken = errors.New("either MODBOT_TOKEN or MODBOT_TOKEN_FILE must be set")

// Config is the process configuration. Values come from the YAML file, then from the environment.
type Config struct {
	Token         string `env:"MODBOT_TOKEN" yaml:"-"`
	TokenFile     string `env:"MODBOT_TOKEN_FILE" yaml:"token_file"`
	ApplicationID string `env:"MODBOT_APPLICATION_ID" yaml:"application_id"`

	HelpCommand  string `env:"MODBOT_HELP_COMMAND" yaml:"help_command"`
	AbortCommand string `env:"MODBOT_ABORT_COMMAND" yaml:"abort_command"`

	// Storage is one of the kvstore backends: file, sqlite or redis.
	Storage    string `env:"MODBOT_STORAGE" yaml:"storage"`
	StorageDSN string `env:"MODBOT_STORAGE_DSN" yaml:"storage_dsn"`

	CommandTimeout time.Duration `env:"MODBOT_COMMAND_TIMEOUT" yaml:"command_timeout"`
	ReadyTimeout   time.Duration `env:"MODBOT_READY_TIMEOUT" yaml:"ready_timeout"`
}

// NewConfig returns a Config with default settings.
func NewConfig() *Config {
	return &Config{
		HelpCommand:    ".help",
		AbortCommand:   ".abort",
		Storage:        kvstore.BackendFile,
		StorageDSN:     "data",
		CommandTimeout: module.DefaultTimeout,
		ReadyTimeout:   5 * time.Second,
	}
}

// LoadConfig reads the YAML file at path, when given, and applies environment overrides on top.
// A nil environment means the process environment.
func LoadConfig(path string, environment map[string]string) (*Config, error) {
	config := NewConfig()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, config); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	}

	if err := env.ParseWithOptions(config, env.Options{Environment: environment}); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if config.Token == "" && config.TokenFile != "" {
		raw, err := os.ReadFile(config.TokenFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read token file: %w", err)
		}
		config.Token = strings.TrimSpace(string(raw))
	}
	if config.Token == "" {
		return nil, errMissingToken
	}

	return config, nil
}
