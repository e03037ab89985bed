// Package config loads server configuration from an optional YAML file
// with environment variable overrides. Zero configuration yields a
// working server on in-memory backends.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so YAML values like "30s" parse.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("config: invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config holds all server settings.
type Config struct {
	ListenAddr string `yaml:"listen_addr"`
	RedisAddr  string `yaml:"redis_addr"`
	SQLitePath string `yaml:"sqlite_path"`
	MaxConns   int    `yaml:"max_conns"`

	// Registration rate limiting, per client IP.
	RegisterLimit  int      `yaml:"register_limit"`
	RegisterWindow Duration `yaml:"register_window"`
}

// Default returns the configuration used when nothing is specified.
func Default() *Config {
	return &Config{
		ListenAddr:     ":8080",
		RegisterLimit:  10,
		RegisterWindow: Duration(time.Minute),
	}
}

// Load reads the YAML file at path (skipped when path is empty) and then
// applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		c.ListenAddr = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.RedisAddr = v
	}
	if v := os.Getenv("SQLITE_PATH"); v != "" {
		c.SQLitePath = v
	}
	if v := os.Getenv("MAX_CONNS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.MaxConns = n
		}
	}
	if v := os.Getenv("REGISTER_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.RegisterLimit = n
		}
	}
	if v := os.Getenv("REGISTER_WINDOW"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.RegisterWindow = Duration(d)
		}
	}
}
