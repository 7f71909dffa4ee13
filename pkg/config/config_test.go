package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// TestDefaultConfig_HeartbeatEnabled verifies heartbeat is enabled by default
func TestDefaultConfig_HeartbeatEnabled(t *testing.T) {
	cfg := DefaultConfig()

	if !cfg.Heartbeat.Enabled {
		t.Error("Heartbeat should be enabled by default")
	}
	if cfg.Heartbeat.Schedule == "" {
		t.Error("Heartbeat schedule should not be empty")
	}
}

// TestDefaultConfig_Oracle verifies oracle defaults are set
func TestDefaultConfig_Oracle(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Oracle.Model != "openai/gpt-4o-mini" {
		t.Errorf("Model = %q, want %q", cfg.Oracle.Model, "openai/gpt-4o-mini")
	}
	if cfg.Oracle.Endpoint == "" {
		t.Error("Endpoint should not be empty")
	}
	if cfg.Oracle.APIKey != "" {
		t.Error("APIKey should default to empty")
	}
}

// TestLoadConfig_MissingFile verifies defaults are returned for a missing file
func TestLoadConfig_MissingFile(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "nope.json"))
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Data.DBFile != "agentkeep.db" {
		t.Errorf("DBFile = %q", cfg.Data.DBFile)
	}
}

// TestLoadConfig_FileAndEnvOverlay verifies env vars win over the file
func TestLoadConfig_FileAndEnvOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	body := `{"oracle":{"model":"from-file"},"auth":{"owners":["1001",1002]}}`
	if err := os.WriteFile(path, []byte(body), 0600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("AGENTKEEP_ORACLE_MODEL", "from-env")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Oracle.Model != "from-env" {
		t.Errorf("Model = %q, want env override", cfg.Oracle.Model)
	}
	if len(cfg.Auth.Owners) != 2 || cfg.Auth.Owners[1] != "1002" {
		t.Errorf("Owners = %v, expected numeric entry coerced", cfg.Auth.Owners)
	}
}

// TestLoadConfig_BadSchedule verifies an invalid cron expression is rejected
func TestLoadConfig_BadSchedule(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	body := `{"heartbeat":{"enabled":true,"schedule":"not a cron"}}`
	if err := os.WriteFile(path, []byte(body), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadConfig(path); err == nil {
		t.Error("expected schedule validation error")
	}
}

// TestSaveConfig_RedactsCredential verifies the API key never reaches disk
func TestSaveConfig_RedactsCredential(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	cfg := DefaultConfig()
	cfg.Oracle.APIKey = "sk-should-not-persist"

	if err := SaveConfig(path, cfg); err != nil {
		t.Fatalf("SaveConfig: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(data), "sk-should-not-persist") {
		t.Error("credential was written to disk")
	}
}

// TestDataPath verifies path resolution inside the data directory
func TestDataPath(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Data.Dir = "/var/lib/agentkeep"

	if got := cfg.DBPath(); got != "/var/lib/agentkeep/agentkeep.db" {
		t.Errorf("DBPath = %q", got)
	}
	if got := cfg.VaultSeedPath(); got != "/var/lib/agentkeep/vault.seed" {
		t.Errorf("VaultSeedPath = %q", got)
	}
}
