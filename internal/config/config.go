// Package config holds process-wide settings for the termsnap commands and
// server, and the terminal size type shared by the capture engine.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/pelletier/go-toml/v2"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "TERMSNAP"

// Config holds all application configuration.
type Config struct {
	SessionDir     string        `split_words:"true"`
	DefaultSize    Size          `split_words:"true"`
	Delay          time.Duration
	Quiet          time.Duration
	Ceiling        time.Duration
	InitialCeiling time.Duration `split_words:"true"`
	PollInterval   time.Duration `split_words:"true"`
	DrainTimeout   time.Duration `split_words:"true"`
	RunTimeout     time.Duration `split_words:"true"`
	HistoryLimit   int           `split_words:"true"`
	Scale          int
	AnswerQueries  bool `split_words:"true"`
	AppCursorKeys  bool `split_words:"true"`

	VLM    VLMConfig
	Server ServerConfig
	Log    LogConfig
}

// VLMConfig holds vision model client configuration.
type VLMConfig struct {
	Endpoint        string
	Model           string
	MaxTokens       int           `split_words:"true"`
	ConnectTimeout  time.Duration `split_words:"true"`
	ActivityTimeout time.Duration `split_words:"true"`
	RetryCount      int           `split_words:"true"`
}

// ServerConfig holds HTTP API configuration.
type ServerConfig struct {
	Addr              string
	AllowedBinaries   []string `split_words:"true"`
	MaxConcurrent     int      `split_words:"true"`
	RequestsPerSecond float64  `split_words:"true"`
	Burst             int
	CORSOrigins       []string `split_words:"true"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string
	Development bool
	Format      string
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		SessionDir:     "/tmp/termsnap",
		DefaultSize:    Size{Cols: 120, Rows: 40},
		Delay:          100 * time.Millisecond,
		Quiet:          180 * time.Millisecond,
		Ceiling:        2 * time.Second,
		InitialCeiling: 3 * time.Second,
		PollInterval:   10 * time.Millisecond,
		DrainTimeout:   3 * time.Second,
		HistoryLimit:   10000,
		Scale:          2,
		AnswerQueries:  true,
		AppCursorKeys:  true,
		VLM: VLMConfig{
			Endpoint:        "http://127.0.0.1:8080/v1/chat/completions",
			Model:           "qwen3",
			MaxTokens:       400,
			ConnectTimeout:  10 * time.Second,
			ActivityTimeout: 60 * time.Second,
			RetryCount:      2,
		},
		Server: ServerConfig{
			Addr:              "127.0.0.1:8086",
			MaxConcurrent:     4,
			RequestsPerSecond: 2,
			Burst:             5,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load builds the configuration from the defaults, the TOML file at path
// (skipped when path is empty or the file does not exist) and TERMSNAP_*
// environment variables, in that order of increasing precedence.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return nil, err
		}
	}
	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefault loads configuration or returns the default on any error.
func LoadOrDefault(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		return Default()
	}
	return cfg
}

// Validate checks the settings the capture engine depends on.
func (c *Config) Validate() error {
	var errs []error
	if !c.DefaultSize.Valid() {
		errs = append(errs, fmt.Errorf("default size %s must be positive", c.DefaultSize))
	}
	if c.Delay < 0 {
		errs = append(errs, errors.New("delay must not be negative"))
	}
	if c.Quiet <= 0 {
		errs = append(errs, errors.New("quiet must be positive"))
	}
	if c.Ceiling < c.Quiet {
		errs = append(errs, fmt.Errorf("ceiling %v must not be shorter than quiet %v", c.Ceiling, c.Quiet))
	}
	if c.InitialCeiling <= 0 {
		errs = append(errs, errors.New("initial ceiling must be positive"))
	}
	if c.PollInterval <= 0 || c.PollInterval > c.Quiet {
		errs = append(errs, fmt.Errorf("poll interval %v must be positive and at most quiet", c.PollInterval))
	}
	if c.DrainTimeout <= 0 {
		errs = append(errs, errors.New("drain timeout must be positive"))
	}
	if c.RunTimeout < 0 {
		errs = append(errs, errors.New("run timeout must not be negative"))
	}
	if c.HistoryLimit < 0 {
		errs = append(errs, errors.New("history limit must not be negative"))
	}
	if c.Scale < 1 || c.Scale > 8 {
		errs = append(errs, fmt.Errorf("scale %d must be between 1 and 8", c.Scale))
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("unknown log level %q", c.Log.Level))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// fileConfig is the TOML file layout. Every field is optional; absent keys
// keep the value already in Config.
type fileConfig struct {
	SessionDir     *string   `toml:"session_dir"`
	DefaultSize    *Size     `toml:"default_size"`
	Delay          *duration `toml:"delay"`
	Quiet          *duration `toml:"quiet"`
	Ceiling        *duration `toml:"ceiling"`
	InitialCeiling *duration `toml:"initial_ceiling"`
	PollInterval   *duration `toml:"poll_interval"`
	DrainTimeout   *duration `toml:"drain_timeout"`
	RunTimeout     *duration `toml:"run_timeout"`
	HistoryLimit   *int      `toml:"history_limit"`
	Scale          *int      `toml:"scale"`
	AnswerQueries  *bool     `toml:"answer_queries"`
	AppCursorKeys  *bool     `toml:"app_cursor_keys"`

	VLM struct {
		Endpoint        *string   `toml:"endpoint"`
		Model           *string   `toml:"model"`
		MaxTokens       *int      `toml:"max_tokens"`
		ConnectTimeout  *duration `toml:"connect_timeout"`
		ActivityTimeout *duration `toml:"activity_timeout"`
		RetryCount      *int      `toml:"retry_count"`
	} `toml:"vlm"`

	Server struct {
		Addr              *string  `toml:"addr"`
		AllowedBinaries   []string `toml:"allowed_binaries"`
		MaxConcurrent     *int     `toml:"max_concurrent"`
		RequestsPerSecond *float64 `toml:"requests_per_second"`
		Burst             *int     `toml:"burst"`
		CORSOrigins       []string `toml:"cors_origins"`
	} `toml:"server"`

	Log struct {
		Level       *string `toml:"level"`
		Development *bool   `toml:"development"`
		Format      *string `toml:"format"`
	} `toml:"log"`
}

type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	var f fileConfig
	if err := toml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	set(&c.SessionDir, f.SessionDir)
	set(&c.DefaultSize, f.DefaultSize)
	setDuration(&c.Delay, f.Delay)
	setDuration(&c.Quiet, f.Quiet)
	setDuration(&c.Ceiling, f.Ceiling)
	setDuration(&c.InitialCeiling, f.InitialCeiling)
	setDuration(&c.PollInterval, f.PollInterval)
	setDuration(&c.DrainTimeout, f.DrainTimeout)
	setDuration(&c.RunTimeout, f.RunTimeout)
	set(&c.HistoryLimit, f.HistoryLimit)
	set(&c.Scale, f.Scale)
	set(&c.AnswerQueries, f.AnswerQueries)
	set(&c.AppCursorKeys, f.AppCursorKeys)

	set(&c.VLM.Endpoint, f.VLM.Endpoint)
	set(&c.VLM.Model, f.VLM.Model)
	set(&c.VLM.MaxTokens, f.VLM.MaxTokens)
	setDuration(&c.VLM.ConnectTimeout, f.VLM.ConnectTimeout)
	setDuration(&c.VLM.ActivityTimeout, f.VLM.ActivityTimeout)
	set(&c.VLM.RetryCount, f.VLM.RetryCount)

	set(&c.Server.Addr, f.Server.Addr)
	if f.Server.AllowedBinaries != nil {
		c.Server.AllowedBinaries = f.Server.AllowedBinaries
	}
	set(&c.Server.MaxConcurrent, f.Server.MaxConcurrent)
	set(&c.Server.RequestsPerSecond, f.Server.RequestsPerSecond)
	set(&c.Server.Burst, f.Server.Burst)
	if f.Server.CORSOrigins != nil {
		c.Server.CORSOrigins = f.Server.CORSOrigins
	}

	set(&c.Log.Level, f.Log.Level)
	set(&c.Log.Development, f.Log.Development)
	set(&c.Log.Format, f.Log.Format)
	return nil
}

func set[T any](dst *T, v *T) {
	if v != nil {
		*dst = *v
	}
}

func setDuration(dst *time.Duration, v *duration) {
	if v != nil {
		*dst = v.Duration
	}
}
