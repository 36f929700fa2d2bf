// Copyright 2026 The Cowork Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Paths.Data == "" {
		t.Error("expected a non-empty default data directory")
	}
	if cfg.Paths.Keychain != filepath.Join(cfg.Paths.Data, "keychain") {
		t.Errorf("expected keychain under the data dir, got %s", cfg.Paths.Keychain)
	}
	if cfg.Paths.TaskDB != filepath.Join(cfg.Paths.Data, "tasks.db") {
		t.Errorf("expected tasks.db under the data dir, got %s", cfg.Paths.TaskDB)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("expected logging.level=info, got %s", cfg.Logging.Level)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config failed validation: %v", err)
	}
}

func TestLoad_RequiresCoworkConfig(t *testing.T) {
	// Save and restore COWORK_CONFIG.
	origConfig := os.Getenv("COWORK_CONFIG")
	defer os.Setenv("COWORK_CONFIG", origConfig)

	os.Unsetenv("COWORK_CONFIG")

	_, err := Load()
	if err == nil {
		t.Fatal("expected error when COWORK_CONFIG not set, got nil")
	}
	if !strings.Contains(err.Error(), "COWORK_CONFIG environment variable not set") {
		t.Errorf("unexpected error message: %q", err.Error())
	}
}

func TestLoadFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "cowork.yaml")

	configContent := `
paths:
  data: /test/cowork
worker:
  binary_dir: /test/binaries
  candidates:
    - custom-worker
logging:
  level: debug
`
	if err := os.WriteFile(configPath, []byte(configContent), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := LoadFile(configPath)
	if err != nil {
		t.Fatalf("LoadFile() failed: %v", err)
	}

	if cfg.Paths.Data != "/test/cowork" {
		t.Errorf("expected data=/test/cowork, got %s", cfg.Paths.Data)
	}
	if cfg.Worker.BinaryDir != "/test/binaries" {
		t.Errorf("expected binary_dir=/test/binaries, got %s", cfg.Worker.BinaryDir)
	}
	if len(cfg.Worker.Candidates) != 1 || cfg.Worker.Candidates[0] != "custom-worker" {
		t.Errorf("unexpected candidates: %v", cfg.Worker.Candidates)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("expected level=debug, got %s", cfg.Logging.Level)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("loaded config failed validation: %v", err)
	}
}

func TestLoadFile_DerivedPathsFollowData(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "cowork.yaml")

	configContent := `
paths:
  data: /custom/data
`
	if err := os.WriteFile(configPath, []byte(configContent), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := LoadFile(configPath)
	if err != nil {
		t.Fatalf("LoadFile() failed: %v", err)
	}

	// Keychain and TaskDB were not set, so they derive from data.
	// The defaults pointing at the home directory must not leak through.
	if cfg.Paths.Keychain != "/custom/data/keychain" {
		t.Errorf("expected keychain under /custom/data, got %s", cfg.Paths.Keychain)
	}
	if cfg.Paths.TaskDB != "/custom/data/tasks.db" {
		t.Errorf("expected tasks.db under /custom/data, got %s", cfg.Paths.TaskDB)
	}
}

func TestExpandVars(t *testing.T) {
	vars := map[string]string{
		"COWORK_DATA": "/data/cowork",
		"HOME":        "/home/tester",
	}

	tests := []struct {
		input    string
		expected string
	}{
		{"${COWORK_DATA}/keychain", "/data/cowork/keychain"},
		{"${HOME}/.config/cowork", "/home/tester/.config/cowork"},
		{"${UNSET_VAR:-/fallback}", "/fallback"},
		{"/literal/path", "/literal/path"},
	}

	for _, tt := range tests {
		if got := expandVars(tt.input, vars); got != tt.expected {
			t.Errorf("expandVars(%q) = %q, want %q", tt.input, got, tt.expected)
		}
	}
}

func TestValidate_RejectsBadLevel(t *testing.T) {
	cfg := Default()
	cfg.Logging.Level = "loud"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error for logging.level=loud")
	}
}

func TestEnsurePaths(t *testing.T) {
	tmpDir := t.TempDir()
	cfg := Default()
	cfg.Paths.Data = filepath.Join(tmpDir, "data")
	cfg.Paths.Keychain = filepath.Join(tmpDir, "data", "keychain")
	cfg.Paths.TaskDB = filepath.Join(tmpDir, "data", "tasks.db")

	if err := cfg.EnsurePaths(); err != nil {
		t.Fatalf("EnsurePaths() failed: %v", err)
	}
	info, err := os.Stat(cfg.Paths.Keychain)
	if err != nil || !info.IsDir() {
		t.Fatalf("keychain directory not created: %v", err)
	}
}

// fillDerivedPaths runs after expansion, so an unexpanded default is
// never kept when the file overrides data.
func TestLoadFile_ExpandsDataInDerived(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "cowork.yaml")

	configContent := `
paths:
  data: /srv/cowork
  keychain: ${COWORK_DATA}/secrets
`
	if err := os.WriteFile(configPath, []byte(configContent), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := LoadFile(configPath)
	if err != nil {
		t.Fatalf("LoadFile() failed: %v", err)
	}
	if cfg.Paths.Keychain != "/srv/cowork/secrets" {
		t.Errorf("expected expanded keychain path, got %s", cfg.Paths.Keychain)
	}
}
