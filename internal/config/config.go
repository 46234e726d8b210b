// Package config loads and persists the bot configuration.
//
// The file is rewritten exactly when the telegram token or the
// authorized chat id is first established; everything else is read-only
// at startup.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Telegram holds the transport credentials and the paired operator.
type Telegram struct {
	Token            string `yaml:"token"`
	AuthorizedChatID int64  `yaml:"authorized_chat_id"`
}

// LND holds the node connection parameters.
type LND struct {
	Host         string `yaml:"host"`
	Port         int    `yaml:"port"`
	TLSCertPath  string `yaml:"tls_cert_path"`
	MacaroonPath string `yaml:"macaroon_path"`
}

// Fiat holds the quote source parameters.
type Fiat struct {
	QuoteURL      string `yaml:"quote_url,omitempty"`
	MaxAgeSeconds int    `yaml:"max_age_seconds"`
}

// Config is the persisted bot configuration.
type Config struct {
	Telegram Telegram `yaml:"telegram"`
	LND      LND      `yaml:"lnd"`
	Fiat     Fiat     `yaml:"fiat"`
}

// DefaultPath returns ~/.unsafepay/config.yaml.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "config.yaml"
	}
	return filepath.Join(home, ".unsafepay", "config.yaml")
}

func defaults() *Config {
	return &Config{
		LND:  LND{Host: "localhost", Port: 10009},
		Fiat: Fiat{MaxAgeSeconds: 300},
	}
}

// Load reads the config file. A missing file yields defaults, not an
// error, so first runs can prompt for what they need.
func Load(path string) (*Config, error) {
	cfg := defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if cfg.LND.Host == "" {
		cfg.LND.Host = "localhost"
	}
	if cfg.LND.Port == 0 {
		cfg.LND.Port = 10009
	}
	if cfg.Fiat.MaxAgeSeconds == 0 {
		cfg.Fiat.MaxAgeSeconds = 300
	}
	return cfg, nil
}

// Save writes the config file with owner-only permissions.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}
