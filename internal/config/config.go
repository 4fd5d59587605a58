// Package config handles configuration loading from TOML files and
// environment variables (spec §1 ambient config layer, following the
// teacher's BurntSushi/toml + env-override pattern).
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config is the root configuration structure: which dialect/model to call by
// default, per-OpenAI-compatible-endpoint settings (Ollama/vLLM/OpenCode
// HTTP need an explicit base URL; the hosted dialects resolve their own),
// and the supervisor's compaction/retry knobs.
type Config struct {
	DefaultDialect string                    `toml:"default_dialect"`
	DefaultModel   string                    `toml:"default_model"`
	Endpoints      map[string]ProviderConfig `toml:"endpoints"`
	Supervisor     SupervisorConfig          `toml:"supervisor"`
}

// ProviderConfig holds settings for an OpenAI-Chat-Completions-compatible
// endpoint (Ollama, vLLM, a self-hosted OpenCode HTTP gateway).
type ProviderConfig struct {
	Endpoint    string  `toml:"endpoint"`
	Model       string  `toml:"model"`
	Temperature float64 `toml:"temperature"`
}

// SupervisorConfig overrides supervisor.DefaultSettings; zero fields fall
// back to the defaults (Load never fills these in, the caller merges).
type SupervisorConfig struct {
	Enabled          *bool `toml:"enabled"`
	ReserveTokens    int   `toml:"reserve_tokens"`
	KeepRecentTokens int   `toml:"keep_recent_tokens"`
	MaxRetries       int   `toml:"max_retries"`
	BaseDelayMs      int64 `toml:"base_delay_ms"`
	MaxDelayMs       int64 `toml:"max_delay_ms"`
}

// Load reads configuration from a TOML file and applies environment
// variable overrides. A missing file is not an error: the zero Config (no
// custom endpoints, supervisor defaults) is a valid starting point since
// every hosted dialect sources its key from the environment or
// credentials.json instead of this file.
func Load(path string) (*Config, error) {
	cfg := &Config{
		Endpoints: make(map[string]ProviderConfig),
	}

	if path == "" {
		applyEnvOverrides(cfg)
		return cfg, nil
	}

	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			applyEnvOverrides(cfg)
			return cfg, nil
		}
		return nil, fmt.Errorf("config file not found: %s", path)
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate returns an error if the configuration is invalid.
func (c *Config) Validate() error {
	var errs []error
	for name, epCfg := range c.Endpoints {
		errs = append(errs, validateEndpointConfig(name, epCfg)...)
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

func validateEndpointConfig(name string, cfg ProviderConfig) []error {
	var errs []error
	if cfg.Endpoint == "" {
		errs = append(errs, fmt.Errorf("endpoints.%s.endpoint is required", name))
	} else if err := validateEndpointURL(cfg.Endpoint); err != nil {
		errs = append(errs, fmt.Errorf("endpoints.%s.endpoint=%q is invalid: %v", name, cfg.Endpoint, err))
	}
	if cfg.Temperature < 0.0 || cfg.Temperature > 2.0 {
		errs = append(errs, fmt.Errorf("endpoints.%s.temperature=%v must be between 0.0 and 2.0", name, cfg.Temperature))
	}
	return errs
}

func validateEndpointURL(value string) error {
	parsed, err := url.Parse(value)
	if err != nil {
		return err
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return errors.New("missing scheme or host")
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides to the
// configuration.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("AGENTCORE_DEFAULT_DIALECT"); v != "" {
		cfg.DefaultDialect = v
	}
	if v := os.Getenv("AGENTCORE_DEFAULT_MODEL"); v != "" {
		cfg.DefaultModel = v
	}
}

// DataDir returns the path to the runtime's data directory (~/.config/agentcore).
func DataDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "agentcore"), nil
}

// EnsureDataDir creates the data directory if it doesn't exist.
func EnsureDataDir() (string, error) {
	dir, err := DataDir()
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0750); err != nil {
		return "", err
	}
	return dir, nil
}
