// ABOUTME: Configuration loading and parsing for the wamux gateway
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete wamux configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Record    RecordConfig    `yaml:"record"`
	Sessions  SessionsConfig  `yaml:"sessions"`
	RateLimit RateLimitConfig `yaml:"ratelimit"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig holds listener configuration.
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
}

// RecordConfig holds system-of-record connection configuration.
type RecordConfig struct {
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"-"`

	// Raw string value for YAML unmarshaling
	TimeoutRaw string `yaml:"timeout"`
}

// SessionsConfig holds per-session storage configuration.
type SessionsConfig struct {
	// AuthDir is the root directory for per-session authentication
	// artifacts. Each session gets its own subdirectory, erased on logout.
	AuthDir string `yaml:"auth_dir"`
}

// RateLimitConfig holds QR endpoint throttling configuration.
type RateLimitConfig struct {
	QRLimit  int           `yaml:"qr_limit"`
	QRWindow time.Duration `yaml:"-"`

	// Raw string value for YAML unmarshaling
	QRWindowRaw string `yaml:"qr_window"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Defaults match the original deployment: port 3000, session artifacts
// under ./session, five QR fetches per minute.
const (
	DefaultHTTPAddr      = ":3000"
	DefaultAuthDir       = "./session"
	DefaultQRLimit       = 5
	DefaultQRWindow      = time.Minute
	DefaultRecordTimeout = 5 * time.Second
)

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	return Parse(data)
}

// Parse parses raw YAML configuration bytes, applies defaults, and validates.
func Parse(data []byte) (*Config, error) {
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// Default returns a Config populated entirely with default values.
// Used when no config file is supplied.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

func (c *Config) applyDefaults() {
	if c.Server.HTTPAddr == "" {
		c.Server.HTTPAddr = DefaultHTTPAddr
	}
	if c.Sessions.AuthDir == "" {
		c.Sessions.AuthDir = DefaultAuthDir
	}
	if c.RateLimit.QRLimit == 0 {
		c.RateLimit.QRLimit = DefaultQRLimit
	}
	if c.RateLimit.QRWindow == 0 {
		c.RateLimit.QRWindow = DefaultQRWindow
	}
	if c.Record.Timeout == 0 {
		c.Record.Timeout = DefaultRecordTimeout
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}

	if c.Sessions.AuthDir == "" {
		return fmt.Errorf("sessions.auth_dir is required")
	}

	if c.RateLimit.QRLimit < 0 {
		return fmt.Errorf("ratelimit.qr_limit must not be negative")
	}

	switch c.Logging.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("logging.format must be \"text\" or \"json\", got %q", c.Logging.Format)
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Record.TimeoutRaw != "" {
		cfg.Record.Timeout, err = time.ParseDuration(cfg.Record.TimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing record.timeout %q: %w", cfg.Record.TimeoutRaw, err)
		}
	}

	if cfg.RateLimit.QRWindowRaw != "" {
		cfg.RateLimit.QRWindow, err = time.ParseDuration(cfg.RateLimit.QRWindowRaw)
		if err != nil {
			return fmt.Errorf("parsing ratelimit.qr_window %q: %w", cfg.RateLimit.QRWindowRaw, err)
		}
	}

	return nil
}
