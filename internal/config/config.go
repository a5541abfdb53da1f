// Package config loads and validates sigforge configuration files.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config is the root application configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Provider ProviderConfig `yaml:"provider"`
	Cache    CacheConfig    `yaml:"cache"`
	Log      LogConfig      `yaml:"log"`
	Engine   EngineConfig   `yaml:"engine"`
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	Host         string `yaml:"host" default:"127.0.0.1" validate:"required"`
	Port         int    `yaml:"port" default:"8080" validate:"gte=1,lte=65535"`
	ReadTimeout  int    `yaml:"read_timeout_secs" default:"10" validate:"gt=0"`
	WriteTimeout int    `yaml:"write_timeout_secs" default:"30" validate:"gt=0"`
	IdleTimeout  int    `yaml:"idle_timeout_secs" default:"60" validate:"gt=0"`
}

// ProviderConfig configures the market data provider client.
type ProviderConfig struct {
	BaseURL     string        `yaml:"base_url" default:"https://api.kraken.com" validate:"required,url"`
	RPS         float64       `yaml:"rps" default:"1" validate:"gt=0"`
	Burst       int           `yaml:"burst" default:"2" validate:"gte=1"`
	TimeoutSecs int           `yaml:"timeout_secs" default:"10" validate:"gt=0"`
	UserAgent   string        `yaml:"user_agent" default:"sigforge/1.0"`
	Circuit     CircuitConfig `yaml:"circuit"`
}

// CircuitConfig configures the provider circuit breaker.
type CircuitConfig struct {
	MaxRequests         uint32  `yaml:"max_requests" default:"3"`
	IntervalSecs        int     `yaml:"interval_secs" default:"60" validate:"gt=0"`
	TimeoutSecs         int     `yaml:"timeout_secs" default:"45" validate:"gt=0"`
	ErrorRateThreshold  float64 `yaml:"error_rate_threshold" default:"25" validate:"gt=0,lte=100"`
	ConsecutiveFailures uint32  `yaml:"consecutive_failures" default:"5" validate:"gt=0"`
}

// CacheConfig configures the Redis price cache.
type CacheConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr" default:"127.0.0.1:6379"`
	DB      int    `yaml:"db" default:"0" validate:"gte=0"`
	TTLSecs int    `yaml:"ttl_secs" default:"300" validate:"gt=0"`
}

// LogConfig configures structured logging output.
type LogConfig struct {
	Level   string `yaml:"level" default:"info" validate:"oneof=trace debug info warn error"`
	Console bool   `yaml:"console" default:"true"`
}

// EngineConfig holds tunables for the analysis engine.
type EngineConfig struct {
	Workers       int     `yaml:"workers" default:"4" validate:"gte=1"`
	Alignment     string  `yaml:"alignment" default:"1m"`
	MinSources    int     `yaml:"min_sources" default:"2" validate:"gte=2"`
	MoveThreshold float64 `yaml:"move_threshold" default:"0.02" validate:"gt=0"`
}

// Default returns the built-in configuration.
func Default() (*Config, error) {
	var cfg Config
	if err := defaults.Set(&cfg); err != nil {
		return nil, fmt.Errorf("failed to apply config defaults: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Load reads configuration from a YAML file, falling back to defaults
// for omitted fields. An empty path returns the defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := defaults.Set(&cfg); err != nil {
		return nil, fmt.Errorf("failed to apply config defaults: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return &cfg, nil
}

// Validate checks field constraints and cross-field consistency.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	if c.Provider.Burst < int(c.Provider.RPS) {
		return fmt.Errorf("provider burst (%d) must be >= rps (%.0f)", c.Provider.Burst, c.Provider.RPS)
	}
	if _, err := c.Engine.GetAlignment(); err != nil {
		return err
	}
	return nil
}

// GetReadTimeout returns the server read timeout as a time.Duration.
func (s *ServerConfig) GetReadTimeout() time.Duration {
	return time.Duration(s.ReadTimeout) * time.Second
}

// GetWriteTimeout returns the server write timeout as a time.Duration.
func (s *ServerConfig) GetWriteTimeout() time.Duration {
	return time.Duration(s.WriteTimeout) * time.Second
}

// GetIdleTimeout returns the server idle timeout as a time.Duration.
func (s *ServerConfig) GetIdleTimeout() time.Duration {
	return time.Duration(s.IdleTimeout) * time.Second
}

// Addr returns the host:port address the server binds to.
func (s *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// GetRequestTimeout returns the provider request timeout as a time.Duration.
func (p *ProviderConfig) GetRequestTimeout() time.Duration {
	return time.Duration(p.TimeoutSecs) * time.Second
}

// GetInterval returns the circuit breaker counting interval.
func (c *CircuitConfig) GetInterval() time.Duration {
	return time.Duration(c.IntervalSecs) * time.Second
}

// GetTimeout returns the circuit breaker open state timeout.
func (c *CircuitConfig) GetTimeout() time.Duration {
	return time.Duration(c.TimeoutSecs) * time.Second
}

// GetTTL returns the cache TTL as a time.Duration.
func (c *CacheConfig) GetTTL() time.Duration {
	return time.Duration(c.TTLSecs) * time.Second
}

// GetAlignment parses the combiner alignment window.
func (e *EngineConfig) GetAlignment() (time.Duration, error) {
	d, err := time.ParseDuration(e.Alignment)
	if err != nil {
		return 0, fmt.Errorf("invalid engine alignment %q: %w", e.Alignment, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("engine alignment must be positive, got %s", e.Alignment)
	}
	return d, nil
}
