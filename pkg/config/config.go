// Package config loads the pizza MCP server configuration from YAML.
package config

import (
	stderrors "errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"github.com/pratapladhani/pizza-mcp-agents/pkg/errors"
	"github.com/pratapladhani/pizza-mcp-agents/pkg/logging"
)

// EnvPizzaAPIURL overrides pizza_api.base_url when set
const EnvPizzaAPIURL = "PIZZA_API_URL"

// Transport names
const (
	TransportStdio = "stdio"
	TransportHTTP  = "http"
)

// Config is the root configuration of the server
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	PizzaAPI PizzaAPIConfig `yaml:"pizza_api"`
	Cache    CacheConfig    `yaml:"cache"`
	Logging  LoggingConfig  `yaml:"logging"`
	Tracing  TracingConfig  `yaml:"tracing"`
	Health   HealthConfig   `yaml:"health"`
}

// ServerConfig selects how MCP clients connect
type ServerConfig struct {
	Transport   string `yaml:"transport"`    // stdio | http
	HTTPAddress string `yaml:"http_address"` // used with the http transport
}

// PizzaAPIConfig describes the upstream pizza API
type PizzaAPIConfig struct {
	BaseURL       string  `yaml:"base_url"`
	Timeout       string  `yaml:"timeout"`    // "10s"
	RateLimit     float64 `yaml:"rate_limit"` // requests per second
	Burst         int     `yaml:"burst"`
	RetryAttempts int     `yaml:"retry_attempts"`
}

// CacheConfig bounds the menu response cache
type CacheConfig struct {
	TTL        string `yaml:"ttl"`
	MaxEntries int    `yaml:"max_entries"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

// TracingConfig enables OTLP span export
type TracingConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Endpoint    string  `yaml:"endpoint"` // host:port of the OTLP/HTTP collector
	Insecure    bool    `yaml:"insecure"`
	SampleRate  float64 `yaml:"sample_rate"`
	ServiceName string  `yaml:"service_name"`
}

// HealthConfig schedules the upstream health probe
type HealthConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Schedule string `yaml:"schedule"` // cron spec, e.g. "@every 30s"
}

// Default returns the configuration used when no file is given
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Transport:   TransportStdio,
			HTTPAddress: "localhost:8080",
		},
		PizzaAPI: PizzaAPIConfig{
			BaseURL:       "http://localhost:7071",
			Timeout:       "10s",
			RateLimit:     10,
			Burst:         5,
			RetryAttempts: 2,
		},
		Cache: CacheConfig{
			TTL:        "1m",
			MaxEntries: 256,
		},
		Logging: LoggingConfig{
			Level: string(logging.LogLevelInfo),
		},
		Tracing: TracingConfig{
			Endpoint:    "localhost:4318",
			SampleRate:  1.0,
			ServiceName: "pizza-mcp",
		},
		Health: HealthConfig{
			Enabled:  true,
			Schedule: "@every 30s",
		},
	}
}

// Load reads path, expands ${VAR} references, and fills unset fields with
// defaults. An empty path yields the defaults. PIZZA_API_URL wins over the file.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			if stderrors.Is(err, fs.ErrNotExist) {
				return nil, errors.NewConfigError(errors.ErrCodeConfigNotFound,
					fmt.Sprintf("config file not found: %s", path), err).
					WithContext("path", path)
			}
			return nil, errors.NewConfigError(errors.ErrCodeConfigInvalid,
				"failed to read config file", err).
				WithContext("path", path)
		}

		expanded := os.ExpandEnv(string(raw))
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, errors.NewConfigError(errors.ErrCodeConfigInvalid,
				"failed to parse yaml", err).
				WithContext("path", path)
		}
	}

	if v := os.Getenv(EnvPizzaAPIURL); v != "" {
		cfg.PizzaAPI.BaseURL = v
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the fields the server cannot start without
func (c *Config) Validate() error {
	invalid := func(msg string) error {
		return errors.NewConfigError(errors.ErrCodeConfigInvalid, msg, nil)
	}

	switch c.Server.Transport {
	case TransportStdio:
	case TransportHTTP:
		if c.Server.HTTPAddress == "" {
			return invalid("server.http_address is required for the http transport")
		}
	default:
		return invalid(fmt.Sprintf("server.transport must be %q or %q, got %q",
			TransportStdio, TransportHTTP, c.Server.Transport))
	}

	if c.PizzaAPI.BaseURL == "" {
		return invalid("pizza_api.base_url is required")
	}
	u, err := url.Parse(c.PizzaAPI.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return invalid(fmt.Sprintf("pizza_api.base_url is not an absolute URL: %q", c.PizzaAPI.BaseURL))
	}
	if _, err := parsePositiveDuration(c.PizzaAPI.Timeout); err != nil {
		return invalid(fmt.Sprintf("pizza_api.timeout: %v", err))
	}
	if c.PizzaAPI.RateLimit < 0 {
		return invalid("pizza_api.rate_limit must not be negative")
	}
	if c.PizzaAPI.RetryAttempts < 0 {
		return invalid("pizza_api.retry_attempts must not be negative")
	}

	if _, err := parsePositiveDuration(c.Cache.TTL); err != nil {
		return invalid(fmt.Sprintf("cache.ttl: %v", err))
	}
	if c.Cache.MaxEntries < 0 {
		return invalid("cache.max_entries must not be negative")
	}

	if _, ok := logging.ParseLevel(c.Logging.Level); !ok {
		return invalid(fmt.Sprintf("logging.level is unknown: %q", c.Logging.Level))
	}

	if c.Tracing.Enabled {
		if c.Tracing.Endpoint == "" {
			return invalid("tracing.endpoint is required when tracing is enabled")
		}
		if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
			return invalid("tracing.sample_rate must be between 0 and 1")
		}
	}

	if c.Health.Enabled {
		if c.Health.Schedule == "" {
			return invalid("health.schedule is required when the health probe is enabled")
		}
		if _, err := cron.ParseStandard(c.Health.Schedule); err != nil {
			return invalid(fmt.Sprintf("health.schedule: %v", err))
		}
	}
	return nil
}

// TimeoutDuration returns the parsed upstream timeout
func (c PizzaAPIConfig) TimeoutDuration() time.Duration {
	d, _ := parsePositiveDuration(c.Timeout)
	return d
}

// TTLDuration returns the parsed cache TTL
func (c CacheConfig) TTLDuration() time.Duration {
	d, _ := parsePositiveDuration(c.TTL)
	return d
}

func parsePositiveDuration(s string) (time.Duration, error) {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("duration must be positive, got %s", s)
	}
	return d, nil
}
