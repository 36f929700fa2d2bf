// Copyright 2026 The Cowork Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"gopkg.in/yaml.v3"
)

// Config is the master configuration for the Cowork bridge.
type Config struct {
	// Paths configures directory locations.
	Paths PathsConfig `yaml:"paths"`

	// Worker configures worker process discovery.
	Worker WorkerConfig `yaml:"worker"`

	// Logging configures bridge diagnostics.
	Logging LoggingConfig `yaml:"logging"`
}

// PathsConfig configures directory locations.
type PathsConfig struct {
	// Data is the base directory for Cowork data.
	Data string `yaml:"data"`

	// Keychain is where encrypted API keys are stored.
	// Default: ${data}/keychain
	Keychain string `yaml:"keychain"`

	// TaskDB is the path to the task history database.
	// Default: ${data}/tasks.db
	TaskDB string `yaml:"task_db"`
}

// WorkerConfig configures worker process discovery.
type WorkerConfig struct {
	// BinaryDir is the directory holding packaged worker binaries.
	// Empty means discovery falls back to ./binaries and PATH.
	BinaryDir string `yaml:"binary_dir"`

	// Candidates overrides the built-in worker binary names.
	Candidates []string `yaml:"candidates,omitempty"`
}

// LoggingConfig configures bridge diagnostics.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error. Default: info.
	Level string `yaml:"level"`
}

// Default returns the default configuration, rooted under the user's
// local data directory.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	defaultData := filepath.Join(homeDir, ".local", "share", "cowork")

	return &Config{
		Paths: PathsConfig{
			Data:     defaultData,
			Keychain: filepath.Join(defaultData, "keychain"),
			TaskDB:   filepath.Join(defaultData, "tasks.db"),
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load loads configuration from the COWORK_CONFIG environment
// variable. Commands that accept a --config flag call LoadFile
// directly; Load exists for the env-only path.
func Load() (*Config, error) {
	configPath := os.Getenv("COWORK_CONFIG")
	if configPath == "" {
		return nil, fmt.Errorf("COWORK_CONFIG environment variable not set; " +
			"set it to the path of your cowork.yaml config file, or use --config flag")
	}
	return LoadFile(configPath)
}

// LoadFile loads configuration from a specific file path, merged over
// the defaults. Environment variables do not override config values.
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	// Derived paths follow whatever data directory the file picks, so
	// the defaults must not win over re-derivation.
	cfg.Paths.Keychain = ""
	cfg.Paths.TaskDB = ""

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	cfg.expandVariables()
	cfg.fillDerivedPaths()
	return cfg, nil
}

// expandVariables expands ${VAR} and ${VAR:-default} patterns in paths.
func (c *Config) expandVariables() {
	vars := map[string]string{
		"COWORK_DATA": c.Paths.Data,
		"HOME":        os.Getenv("HOME"),
	}

	c.Paths.Data = expandVars(c.Paths.Data, vars)
	vars["COWORK_DATA"] = c.Paths.Data // Update for dependent paths.

	c.Paths.Keychain = expandVars(c.Paths.Keychain, vars)
	c.Paths.TaskDB = expandVars(c.Paths.TaskDB, vars)
	c.Worker.BinaryDir = expandVars(c.Worker.BinaryDir, vars)
}

// fillDerivedPaths resolves paths left empty by the config file
// relative to the data directory.
func (c *Config) fillDerivedPaths() {
	if c.Paths.Keychain == "" {
		c.Paths.Keychain = filepath.Join(c.Paths.Data, "keychain")
	}
	if c.Paths.TaskDB == "" {
		c.Paths.TaskDB = filepath.Join(c.Paths.Data, "tasks.db")
	}
}

// expandVars expands ${VAR} and ${VAR:-default} patterns.
var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		name := parts[1]
		defaultValue := ""
		if len(parts) >= 3 {
			defaultValue = parts[2]
		}

		// Check provided vars first, then environment.
		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.Paths.Data == "" {
		errs = append(errs, fmt.Errorf("paths.data is required"))
	}
	if c.Paths.Keychain == "" {
		errs = append(errs, fmt.Errorf("paths.keychain is required"))
	}
	if c.Paths.TaskDB == "" {
		errs = append(errs, fmt.Errorf("paths.task_db is required"))
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("logging.level must be one of debug, info, warn, error; got %q", c.Logging.Level))
	}

	return errors.Join(errs...)
}

// EnsurePaths creates the directories the bridge needs at runtime.
func (c *Config) EnsurePaths() error {
	dirs := []string{
		c.Paths.Data,
		c.Paths.Keychain,
		filepath.Dir(c.Paths.TaskDB),
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("creating directory %s: %w", dir, err)
		}
	}
	return nil
}
