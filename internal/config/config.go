// Package config loads engine configuration from ~/.converse/config.toml
// with environment overrides layered on top and defaults filling the gaps.
package config

import (
	"errors"
	"os"
	"path/filepath"
	"time"

	"dario.cat/mergo"
	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
)

// Config is the engine configuration. TOML keys come from the config file,
// env tags allow per-process overrides.
type Config struct {
	DataDir             string `toml:"data_dir" env:"CONVERSE_DATA_DIR"`
	Network             string `toml:"network" env:"CONVERSE_NETWORK"`
	ChainRPCURL         string `toml:"chain_rpc_url" env:"CONVERSE_CHAIN_RPC_URL"`
	LogLevel            string `toml:"log_level" env:"CONVERSE_LOG_LEVEL"`
	StreamRetryAttempts int    `toml:"stream_retry_attempts" env:"CONVERSE_STREAM_RETRY_ATTEMPTS"`
	StreamRetryDelayMS  int    `toml:"stream_retry_delay_ms" env:"CONVERSE_STREAM_RETRY_DELAY_MS"`
	PreviewWindow       int    `toml:"preview_window" env:"CONVERSE_PREVIEW_WINDOW"`
	SettleDelayMS       int    `toml:"settle_delay_ms" env:"CONVERSE_SETTLE_DELAY_MS"`
}

// Default returns the built-in configuration.
func Default() Config {
	home, _ := os.UserHomeDir()
	return Config{
		DataDir:             filepath.Join(home, ".converse"),
		Network:             "production",
		LogLevel:            "info",
		StreamRetryAttempts: 10,
		StreamRetryDelayMS:  15000,
		PreviewWindow:       32,
		SettleDelayMS:       500,
	}
}

// Path returns the default config file location.
func Path() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".converse", "config.toml")
}

// Load reads the config file at path (a missing file is not an error),
// applies environment overrides, and fills remaining zero fields from
// Default.
func Load(path string) (*Config, error) {
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	if err := env.Parse(&cfg); err != nil {
		return nil, err
	}
	if err := mergo.Merge(&cfg, Default()); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}

// StreamRetryDelay returns the fixed delay between stream reconnect attempts.
func (c *Config) StreamRetryDelay() time.Duration {
	return time.Duration(c.StreamRetryDelayMS) * time.Millisecond
}

// SettleDelay returns the pause after a session close that lets the storage
// layer release its lock.
func (c *Config) SettleDelay() time.Duration {
	return time.Duration(c.SettleDelayMS) * time.Millisecond
}
