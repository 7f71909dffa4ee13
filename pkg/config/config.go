package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/adhocore/gronx"
	"github.com/caarlos0/env/v11"
)

// FlexibleStringSlice is a []string that also accepts JSON numbers,
// so caller allowlists can contain both "123" and 123.
type FlexibleStringSlice []string

func (f *FlexibleStringSlice) UnmarshalJSON(data []byte) error {
	// Try []string first
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}

	// Try []interface{} to handle mixed types
	var raw []interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	result := make([]string, 0, len(raw))
	for _, v := range raw {
		switch val := v.(type) {
		case string:
			result = append(result, val)
		case float64:
			result = append(result, fmt.Sprintf("%.0f", val))
		default:
			result = append(result, fmt.Sprintf("%v", val))
		}
	}
	*f = result
	return nil
}

type Config struct {
	Data      DataConfig      `json:"data"`
	Oracle    OracleConfig    `json:"oracle"`
	Auth      AuthConfig      `json:"auth"`
	Heartbeat HeartbeatConfig `json:"heartbeat"`
	Log       LogConfig       `json:"log"`
	mu        sync.RWMutex
}

type DataConfig struct {
	Dir       string `json:"dir" env:"AGENTKEEP_DATA_DIR"`
	DBFile    string `json:"db_file" env:"AGENTKEEP_DATA_DB_FILE"`
	VaultSeed string `json:"vault_seed" env:"AGENTKEEP_DATA_VAULT_SEED"`
}

type OracleConfig struct {
	APIKey   string `json:"api_key,omitempty" env:"AGENTKEEP_ORACLE_API_KEY"`
	Endpoint string `json:"endpoint" env:"AGENTKEEP_ORACLE_ENDPOINT"`
	Model    string `json:"model" env:"AGENTKEEP_ORACLE_MODEL"`
}

type AuthConfig struct {
	Owners  FlexibleStringSlice `json:"owners" env:"AGENTKEEP_AUTH_OWNERS"`
	Callers FlexibleStringSlice `json:"callers" env:"AGENTKEEP_AUTH_CALLERS"`
}

type HeartbeatConfig struct {
	Enabled  bool   `json:"enabled" env:"AGENTKEEP_HEARTBEAT_ENABLED"`
	Schedule string `json:"schedule" env:"AGENTKEEP_HEARTBEAT_SCHEDULE"` // cron expression
}

type LogConfig struct {
	Level  string `json:"level" env:"AGENTKEEP_LOG_LEVEL"`
	Format string `json:"format" env:"AGENTKEEP_LOG_FORMAT"`
}

func DefaultConfig() *Config {
	return &Config{
		Data: DataConfig{
			Dir:       "~/.agentkeep",
			DBFile:    "agentkeep.db",
			VaultSeed: "vault.seed",
		},
		Oracle: OracleConfig{
			Endpoint: "https://openrouter.ai/api/v1/chat/completions",
			Model:    "openai/gpt-4o-mini",
		},
		Auth: AuthConfig{
			Owners:  FlexibleStringSlice{},
			Callers: FlexibleStringSlice{},
		},
		Heartbeat: HeartbeatConfig{
			Enabled:  true,
			Schedule: "*/15 * * * *",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			if err := env.Parse(cfg); err != nil {
				return nil, err
			}
			return cfg, cfg.validate()
		}
		return nil, err
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	return cfg, cfg.validate()
}

func (c *Config) validate() error {
	if c.Heartbeat.Enabled && !gronx.New().IsValid(c.Heartbeat.Schedule) {
		return fmt.Errorf("invalid heartbeat schedule %q", c.Heartbeat.Schedule)
	}
	return nil
}

// persistedConfig mirrors Config without the mutex for serialization.
type persistedConfig struct {
	Data      DataConfig      `json:"data"`
	Oracle    OracleConfig    `json:"oracle"`
	Auth      AuthConfig      `json:"auth"`
	Heartbeat HeartbeatConfig `json:"heartbeat"`
	Log       LogConfig       `json:"log"`
}

func SaveConfig(path string, cfg *Config) error {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	// The oracle credential belongs in the vault, not on disk in clear.
	clone := persistedConfig{
		Data:      cfg.Data,
		Oracle:    cfg.Oracle,
		Auth:      cfg.Auth,
		Heartbeat: cfg.Heartbeat,
		Log:       cfg.Log,
	}
	clone.Oracle.APIKey = ""

	data, err := json.MarshalIndent(&clone, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	return os.WriteFile(path, data, 0600)
}

// DataPath resolves a file name inside the data directory.
func (c *Config) DataPath(name string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return filepath.Join(expandHome(c.Data.Dir), name)
}

func (c *Config) DBPath() string {
	return c.DataPath(c.Data.DBFile)
}

func (c *Config) VaultSeedPath() string {
	return c.DataPath(c.Data.VaultSeed)
}

func expandHome(path string) string {
	if path == "" {
		return path
	}
	if path[0] == '~' {
		home, _ := os.UserHomeDir()
		if len(path) > 1 && path[1] == '/' {
			return home + path[1:]
		}
		return home
	}
	return path
}
