// Package config loads the process configuration from environment
// variables. Keys use the LOKISHIP_ prefix with a double underscore as the
// section separator, e.g. LOKISHIP_LOKI__URL or LOKISHIP_BUFFER__CAPACITY.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

const envPrefix = "LOKISHIP_"

type Config struct {
	Loki    LokiConfig    `koanf:"loki" validate:"required"`
	Grafana GrafanaConfig `koanf:"grafana"`
	Buffer  BufferConfig  `koanf:"buffer"`
	Labels  LabelConfig   `koanf:"labels"`
	Server  ServerConfig  `koanf:"server"`
}

type LokiConfig struct {
	URL           string `koanf:"url" validate:"required,url"`
	TenantID      string `koanf:"tenant_id"`
	Timeout       string `koanf:"timeout"`
	PushTimeout   string `koanf:"push_timeout"`
	HealthTimeout string `koanf:"health_timeout"`
	Gzip          bool   `koanf:"gzip"`
}

type GrafanaConfig struct {
	URL      string `koanf:"url" validate:"omitempty,url"`
	User     string `koanf:"user"`
	Password string `koanf:"password"`
}

type BufferConfig struct {
	Capacity      int    `koanf:"capacity" validate:"omitempty,gt=0"`
	FlushInterval string `koanf:"flush_interval"`
	Workers       int    `koanf:"workers" validate:"omitempty,gt=0"`
	QueueSize     int    `koanf:"queue_size" validate:"omitempty,gt=0"`
}

type LabelConfig struct {
	Service     string `koanf:"service"`
	Environment string `koanf:"environment"`
	Instance    string `koanf:"instance"`
}

type ServerConfig struct {
	Addr string `koanf:"addr"`
}

// Load reads the configuration from the environment, applies defaults and
// validates the result.
func Load() (*Config, error) {
	k := koanf.New(".")
	err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, envPrefix)), "__", ".")
	}), nil)
	if err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.applyDefaults()

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	if _, err := cfg.parseDurations(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Loki.URL == "" {
		c.Loki.URL = "http://localhost:3100"
	}
	if c.Loki.Timeout == "" {
		c.Loki.Timeout = "30s"
	}
	if c.Loki.PushTimeout == "" {
		c.Loki.PushTimeout = "2s"
	}
	if c.Loki.HealthTimeout == "" {
		c.Loki.HealthTimeout = "3s"
	}
	if c.Grafana.URL == "" {
		c.Grafana.URL = "http://localhost:3000"
	}
	if c.Buffer.Capacity == 0 {
		c.Buffer.Capacity = 50
	}
	if c.Buffer.FlushInterval == "" {
		c.Buffer.FlushInterval = "5s"
	}
	if c.Labels.Service == "" {
		c.Labels.Service = "lokiship"
	}
	if c.Labels.Environment == "" {
		c.Labels.Environment = "development"
	}
	if c.Labels.Instance == "" {
		c.Labels.Instance = defaultInstance()
	}
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
}

// Durations is the parsed form of the duration-valued settings.
type Durations struct {
	Timeout       time.Duration
	PushTimeout   time.Duration
	HealthTimeout time.Duration
	FlushInterval time.Duration
}

func (c *Config) parseDurations() (Durations, error) {
	var d Durations
	var err error
	if d.Timeout, err = time.ParseDuration(c.Loki.Timeout); err != nil {
		return d, fmt.Errorf("loki.timeout: %w", err)
	}
	if d.PushTimeout, err = time.ParseDuration(c.Loki.PushTimeout); err != nil {
		return d, fmt.Errorf("loki.push_timeout: %w", err)
	}
	if d.HealthTimeout, err = time.ParseDuration(c.Loki.HealthTimeout); err != nil {
		return d, fmt.Errorf("loki.health_timeout: %w", err)
	}
	if d.FlushInterval, err = time.ParseDuration(c.Buffer.FlushInterval); err != nil {
		return d, fmt.Errorf("buffer.flush_interval: %w", err)
	}
	return d, nil
}

// MustDurations returns the parsed duration settings. Load already
// validated them, so this cannot fail on a loaded config.
func (c *Config) MustDurations() Durations {
	d, err := c.parseDurations()
	if err != nil {
		panic(err)
	}
	return d
}

// defaultInstance identifies this process for the instance label: the
// hostname when available, otherwise a generated id.
func defaultInstance() string {
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return uuid.NewString()
}
