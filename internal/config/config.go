package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"github.com/neboloop/browserd/internal/browser"
	"github.com/neboloop/browserd/internal/logging"
)

// EnvPrefix prefixes every environment override, e.g. BROWSERD_SERVER_HTTP_PORT.
const EnvPrefix = "BROWSERD"

type Config struct {
	Server  ServerConfig   `yaml:"server" split_words:"true"`
	Auth    AuthConfig     `yaml:"auth" split_words:"true"`
	Browser browser.Config `yaml:"browser" split_words:"true"`
	Reaper  ReaperConfig   `yaml:"reaper" split_words:"true"`
	Logging logging.Config `yaml:"logging" split_words:"true"`
	Journal JournalConfig  `yaml:"journal" split_words:"true"`
}

type ServerConfig struct {
	Host     string `yaml:"host" split_words:"true"`
	HTTPPort int    `yaml:"httpPort" split_words:"true"`
	GRPCPort int    `yaml:"grpcPort" split_words:"true"`

	// MaxSessions caps concurrently open sessions. Hot-reloadable.
	MaxSessions int `yaml:"maxSessions" split_words:"true"`

	// MaxConns caps simultaneous HTTP connections.
	MaxConns int `yaml:"maxConns" split_words:"true"`

	// RateLimit is requests per second across the HTTP API; 0 disables it.
	RateLimit float64 `yaml:"rateLimit" split_words:"true"`
	RateBurst int     `yaml:"rateBurst" split_words:"true"`

	ShutdownTimeout time.Duration `yaml:"shutdownTimeout" split_words:"true"`
}

type AuthConfig struct {
	// AccessSecret signs bearer tokens. Empty disables authentication.
	AccessSecret string        `yaml:"accessSecret" split_words:"true"`
	AccessExpire time.Duration `yaml:"accessExpire" split_words:"true"`
}

type ReaperConfig struct {
	IdleTimeout time.Duration `yaml:"idleTimeout" split_words:"true"`
	Schedule    string        `yaml:"schedule" split_words:"true"`
}

type JournalConfig struct {
	Enabled bool `yaml:"enabled" split_words:"true"`
	// Path defaults to <data dir>/journal.db.
	Path string `yaml:"path" split_words:"true"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Host:            "127.0.0.1",
			HTTPPort:        17771,
			GRPCPort:        17770,
			MaxSessions:     16,
			MaxConns:        256,
			RateLimit:       50,
			RateBurst:       100,
			ShutdownTimeout: 30 * time.Second,
		},
		Auth: AuthConfig{
			AccessExpire: 24 * time.Hour,
		},
		Browser: browser.DefaultConfig(),
		Reaper: ReaperConfig{
			IdleTimeout: 15 * time.Minute,
			Schedule:    "@every 1m",
		},
		Logging: logging.DefaultConfig(),
		Journal: JournalConfig{Enabled: true},
	}
}

// LoadFromBytes loads configuration from YAML bytes with environment variable
// expansion, then applies BROWSERD_* overrides.
func LoadFromBytes(data []byte) (Config, error) {
	c := Default()
	if err := overlay(&c, data); err != nil {
		return c, err
	}
	return finish(c)
}

// LoadFile layers the YAML file at path over base and reapplies the
// environment overrides.
func LoadFile(base Config, path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return base, fmt.Errorf("read config: %w", err)
	}
	c := base
	if err := overlay(&c, data); err != nil {
		return base, fmt.Errorf("%s: %w", path, err)
	}
	return finish(c)
}

func overlay(c *Config, data []byte) error {
	expanded := os.ExpandEnv(string(data))
	dec := yaml.NewDecoder(bytes.NewBufferString(expanded))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parse config: %w", err)
	}
	return nil
}

func finish(c Config) (Config, error) {
	if err := envconfig.Process(EnvPrefix, &c); err != nil {
		return c, fmt.Errorf("environment overrides: %w", err)
	}
	c.fillDefaults()
	if err := c.Validate(); err != nil {
		return c, err
	}
	return c, nil
}

func (c *Config) fillDefaults() {
	d := Default()
	if c.Server.Host == "" {
		c.Server.Host = d.Server.Host
	}
	if c.Server.HTTPPort == 0 {
		c.Server.HTTPPort = d.Server.HTTPPort
	}
	if c.Server.GRPCPort == 0 {
		c.Server.GRPCPort = d.Server.GRPCPort
	}
	if c.Server.ShutdownTimeout <= 0 {
		c.Server.ShutdownTimeout = d.Server.ShutdownTimeout
	}
	if c.Auth.AccessExpire <= 0 {
		c.Auth.AccessExpire = d.Auth.AccessExpire
	}
	if c.Logging.Level == "" {
		c.Logging.Level = d.Logging.Level
	}
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	if c.Server.HTTPPort < 0 || c.Server.HTTPPort > 65535 {
		return fmt.Errorf("server.httpPort: %d out of range", c.Server.HTTPPort)
	}
	if c.Server.GRPCPort < 0 || c.Server.GRPCPort > 65535 {
		return fmt.Errorf("server.grpcPort: %d out of range", c.Server.GRPCPort)
	}
	if c.Server.MaxSessions < 0 {
		return fmt.Errorf("server.maxSessions: must not be negative")
	}
	if c.Reaper.Schedule != "" {
		if _, err := cron.ParseStandard(c.Reaper.Schedule); err != nil {
			return fmt.Errorf("reaper.schedule: %w", err)
		}
	}
	if _, err := browser.ResolveConfig(c.Browser); err != nil {
		return err
	}
	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}
	return nil
}
