// Package config provides configuration loading from YAML files.
package config

import (
	"os"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Playback PlaybackConfig `yaml:"playback"`
	Ambient  AmbientConfig  `yaml:"ambient"`
	Store    StoreConfig    `yaml:"store"`
	Media    MediaConfig    `yaml:"media"`
}

// ServerConfig represents server configuration.
type ServerConfig struct {
	Addr  string      `yaml:"addr" default:":8080"`
	Token string      `yaml:"token"` // guards the RPC surface when set
	Hooks HooksConfig `yaml:"hooks"`
}

// HooksConfig represents lifecycle hooks configuration.
type HooksConfig struct {
	OnStarted []string `yaml:"on_started"`
	OnStopped []string `yaml:"on_stopped"`
}

// PlaybackConfig represents main session configuration.
type PlaybackConfig struct {
	ProgressIntervalMs   int     `yaml:"progress_interval_ms" default:"1000" validate:"gte=0,lte=60000"`
	LoadRetries          int     `yaml:"load_retries" default:"2" validate:"gte=0,lte=10"`
	LoadRetryBaseDelayMs int     `yaml:"load_retry_base_delay_ms" default:"500" validate:"gte=0,lte=30000"`
	LoadTimeoutMs        int     `yaml:"load_timeout_ms" default:"30000" validate:"gte=0"`
	MinSpeed             float64 `yaml:"min_speed" default:"0.25" validate:"gt=0"`
	MaxSpeed             float64 `yaml:"max_speed" default:"4.0" validate:"gtefield=MinSpeed"`
	DefaultVolume        float64 `yaml:"default_volume" default:"1.0" validate:"gte=0,lte=1"`
	DefaultSpeed         float64 `yaml:"default_speed" default:"1.0" validate:"gt=0"`
}

// AmbientConfig represents ambient channel configuration.
type AmbientConfig struct {
	DefaultVolume float64 `yaml:"default_volume" default:"1.0" validate:"gte=0,lte=1"`
}

// StoreConfig represents preference store configuration.
type StoreConfig struct {
	Enabled *bool  `yaml:"enabled" default:"true"`
	Path    string `yaml:"path"` // XDG data directory when empty
}

// MediaConfig represents media loader configuration.
type MediaConfig struct {
	ProbeHTTP     *bool `yaml:"probe_http" default:"true"`
	HTTPTimeoutMs int   `yaml:"http_timeout_ms" default:"10000" validate:"gte=0"`
}

// Load loads configuration from a YAML file.
// Environment variables take precedence over file values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read config file")
	}
	return Parse(data)
}

// Parse parses configuration from YAML data on top of the defaults,
// applies environment overrides and validates the result.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	// Defaults first, so explicit zeros in the file survive
	if err := defaults.Set(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to set defaults")
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Wrap(err, "failed to parse config file")
	}

	// Override with environment variables
	cfg.overrideFromEnv()

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "config validation failed")
	}

	return &cfg, nil
}

// Default returns the configuration used when no file is given.
func Default() (*Config, error) {
	return Parse(nil)
}

// overrideFromEnv overrides config values with environment variables.
func (c *Config) overrideFromEnv() {
	if v := os.Getenv("AUDIOPRO_TOKEN"); v != "" {
		c.Server.Token = v
	}
	if v := os.Getenv("AUDIOPRO_ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv("AUDIOPRO_STORE_PATH"); v != "" {
		c.Store.Path = v
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return errors.Wrap(err, "struct validation failed")
	}
	if c.Playback.DefaultSpeed < c.Playback.MinSpeed || c.Playback.DefaultSpeed > c.Playback.MaxSpeed {
		return errors.Newf("default_speed (%v) must be within [%v, %v]",
			c.Playback.DefaultSpeed, c.Playback.MinSpeed, c.Playback.MaxSpeed)
	}
	return nil
}

// ProgressInterval returns the progress event interval.
func (p PlaybackConfig) ProgressInterval() time.Duration {
	return time.Duration(p.ProgressIntervalMs) * time.Millisecond
}

// LoadRetryBaseDelay returns the first retry delay.
func (p PlaybackConfig) LoadRetryBaseDelay() time.Duration {
	return time.Duration(p.LoadRetryBaseDelayMs) * time.Millisecond
}

// LoadTimeout returns the acquisition timeout, 0 for none.
func (p PlaybackConfig) LoadTimeout() time.Duration {
	return time.Duration(p.LoadTimeoutMs) * time.Millisecond
}

// IsEnabled reports whether preferences are persisted.
func (s StoreConfig) IsEnabled() bool {
	return s.Enabled == nil || *s.Enabled
}

// ShouldProbeHTTP reports whether remote tracks are probed before playback.
func (m MediaConfig) ShouldProbeHTTP() bool {
	return m.ProbeHTTP == nil || *m.ProbeHTTP
}

// HTTPTimeout returns the timeout of probe requests.
func (m MediaConfig) HTTPTimeout() time.Duration {
	return time.Duration(m.HTTPTimeoutMs) * time.Millisecond
}
