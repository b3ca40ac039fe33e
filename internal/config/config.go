package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
)

const (
	DefaultPort           = 8080
	DefaultHost           = "127.0.0.1"
	DefaultConfigFilename = "config.json"

	DefaultUpstreamEndpoint = "https://q.us-east-1.amazonaws.com/"
	DefaultTokenEndpoint    = "https://oidc.us-east-1.amazonaws.com/token"
)

type UpstreamConfig struct {
	Endpoint      string `json:"endpoint,omitempty"`
	TokenEndpoint string `json:"token_endpoint,omitempty"`
}

type PoolConfig struct {
	ErrorWindowMinutes  int `json:"error_window_minutes,omitempty"`
	ErrorThreshold      int `json:"error_threshold,omitempty"`
	RecoverAfterMinutes int `json:"recover_after_minutes,omitempty"`

	RecoverSweepSeconds int `json:"recover_sweep_seconds,omitempty"`
	TokenRefreshSeconds int `json:"token_refresh_seconds,omitempty"`
}

type Config struct {
	Host   string `json:"HOST,omitempty"`
	Port   int    `json:"PORT,omitempty"`
	APIKey string `json:"APIKEY,omitempty"`

	Upstream UpstreamConfig `json:"Upstream"`
	Pool     PoolConfig     `json:"Pool"`

	// DatabaseURL and RedisURL are usually supplied via DATABASE_URL and
	// REDIS_URL instead of the config file; both are optional. Without a
	// database, accounts come from AccountsFile.
	DatabaseURL  string `json:"DATABASE_URL,omitempty"`
	RedisURL     string `json:"REDIS_URL,omitempty"`
	AccountsFile string `json:"ACCOUNTS_FILE,omitempty"`
}

type Manager struct {
	configPath  string
	configValue atomic.Value
}

func NewManager(baseDir string) *Manager {
	return &Manager{
		configPath: filepath.Join(baseDir, DefaultConfigFilename),
	}
}

func (m *Manager) Load() (*Config, error) {
	data, err := os.ReadFile(m.configPath)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.FillDefaults()
	applyEnv(&cfg)

	m.configValue.Store(&cfg)
	return &cfg, nil
}

func (m *Manager) Get() *Config {
	if v := m.configValue.Load(); v != nil {
		return v.(*Config)
	}

	cfg, err := m.Load()
	if err != nil {
		cfg = &Config{}
		cfg.FillDefaults()
		applyEnv(cfg)
	}
	return cfg
}

func (m *Manager) Save(cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(m.configPath), 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(m.configPath, data, 0644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}

	m.configValue.Store(cfg)
	return nil
}

func (m *Manager) GetPath() string { return m.configPath }

func (m *Manager) Exists() bool {
	_, err := os.Stat(m.configPath)
	return err == nil
}

// FillDefaults populates every unset field that has a default value.
func (c *Config) FillDefaults() {
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	if c.Host == "" {
		c.Host = DefaultHost
	}
	if c.Upstream.Endpoint == "" {
		c.Upstream.Endpoint = DefaultUpstreamEndpoint
	}
	if c.Upstream.TokenEndpoint == "" {
		c.Upstream.TokenEndpoint = DefaultTokenEndpoint
	}
}

// applyEnv lets environment variables override file values; secrets usually
// arrive this way.
func applyEnv(cfg *Config) {
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.RedisURL = v
	}
	if v := os.Getenv("QRELAY_API_KEY"); v != "" {
		cfg.APIKey = v
	}
	if v := os.Getenv("UPSTREAM_ENDPOINT"); v != "" {
		cfg.Upstream.Endpoint = v
	}
	if v := os.Getenv("TOKEN_ENDPOINT"); v != "" {
		cfg.Upstream.TokenEndpoint = v
	}
}
