// ABOUTME: Configuration loading and parsing for warden
// ABOUTME: Supports YAML or TOML files with environment variable expansion and duration parsing

package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Config represents the complete warden configuration
type Config struct {
	Server    ServerConfig    `yaml:"server" toml:"server"`
	Database  DatabaseConfig  `yaml:"database" toml:"database"`
	Auth      AuthConfig      `yaml:"auth" toml:"auth"`
	Email     EmailConfig     `yaml:"email" toml:"email"`
	RateLimit RateLimitConfig `yaml:"rate_limit" toml:"rate_limit"`
	Logging   LoggingConfig   `yaml:"logging" toml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics" toml:"metrics"`
}

// ServerConfig holds server address configuration.
// An empty GRPCAddr disables the gRPC listener.
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr" toml:"http_addr"`
	GRPCAddr string `yaml:"grpc_addr" toml:"grpc_addr"`
}

// DatabaseConfig selects the credential store backend
type DatabaseConfig struct {
	Driver string `yaml:"driver" toml:"driver"` // sqlite (default) or postgres
	Path   string `yaml:"path" toml:"path"`
	DSN    string `yaml:"dsn" toml:"dsn"`
}

// Source returns the path or DSN for the configured driver.
func (d DatabaseConfig) Source() string {
	if d.Driver == "postgres" {
		return d.DSN
	}
	return d.Path
}

// AuthConfig holds relying party and token lifetime settings
type AuthConfig struct {
	RelyingPartyID   string   `yaml:"relying_party_id" toml:"relying_party_id"`
	RelyingPartyName string   `yaml:"relying_party_name" toml:"relying_party_name"`
	Origins          []string `yaml:"origins" toml:"origins"`
	VerificationURL  string   `yaml:"verification_url" toml:"verification_url"`
	DefaultScope     []string `yaml:"default_scope" toml:"default_scope"`

	ChallengeValidity time.Duration `yaml:"-" toml:"-"`
	TokenTTL          time.Duration `yaml:"-" toml:"-"`
	RefreshTTL        time.Duration `yaml:"-" toml:"-"`
	WebAuthnTimeout   time.Duration `yaml:"-" toml:"-"`

	// Raw string values for unmarshaling
	ChallengeValidityRaw string `yaml:"challenge_validity" toml:"challenge_validity"`
	TokenTTLRaw          string `yaml:"token_ttl" toml:"token_ttl"`
	RefreshTTLRaw        string `yaml:"refresh_ttl" toml:"refresh_ttl"`
	WebAuthnTimeoutRaw   string `yaml:"webauthn_timeout" toml:"webauthn_timeout"`
}

// EmailConfig selects how verification emails are delivered
type EmailConfig struct {
	Provider string `yaml:"provider" toml:"provider"` // resend or log (default)
	APIKey   string `yaml:"api_key" toml:"api_key"`
	APIURL   string `yaml:"api_url" toml:"api_url"`
	From     string `yaml:"from" toml:"from"`
}

// RateLimitConfig holds per-IP limits for the unauthenticated endpoints
type RateLimitConfig struct {
	Enabled           bool    `yaml:"enabled" toml:"enabled"`
	RequestsPerSecond float64 `yaml:"requests_per_second" toml:"requests_per_second"`
	Burst             int     `yaml:"burst" toml:"burst"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// MetricsConfig holds metrics endpoint configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" toml:"enabled"`
	Path    string `yaml:"path" toml:"path"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .toml are parsed as TOML, everything else as YAML.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(expandedData, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
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

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

func (c *Config) applyDefaults() {
	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}
	if c.Auth.RelyingPartyName == "" {
		c.Auth.RelyingPartyName = c.Auth.RelyingPartyID
	}
	if c.Email.Provider == "" {
		c.Email.Provider = "log"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" {
		return errors.New("server.http_addr is required")
	}

	switch c.Database.Driver {
	case "sqlite":
		if c.Database.Path == "" {
			return errors.New("database.path is required for sqlite")
		}
	case "postgres":
		if c.Database.DSN == "" {
			return errors.New("database.dsn is required for postgres")
		}
	default:
		return fmt.Errorf("database.driver %q is not supported (sqlite or postgres)", c.Database.Driver)
	}

	if c.Auth.RelyingPartyID == "" {
		return errors.New("auth.relying_party_id is required")
	}
	if len(c.Auth.Origins) == 0 {
		return errors.New("auth.origins needs at least one origin")
	}
	for _, origin := range c.Auth.Origins {
		if u, err := url.Parse(origin); err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("auth.origins: %q is not an absolute URL", origin)
		}
	}
	if c.Auth.VerificationURL == "" {
		return errors.New("auth.verification_url is required")
	}
	if c.Auth.TokenTTL != 0 && c.Auth.RefreshTTL != 0 && c.Auth.RefreshTTL <= c.Auth.TokenTTL {
		return fmt.Errorf("auth.refresh_ttl (%s) must exceed auth.token_ttl (%s)", c.Auth.RefreshTTL, c.Auth.TokenTTL)
	}

	switch c.Email.Provider {
	case "log":
	case "resend":
		if c.Email.APIKey == "" {
			return errors.New("email.api_key is required for the resend provider")
		}
		if c.Email.From == "" {
			return errors.New("email.from is required for the resend provider")
		}
	default:
		return fmt.Errorf("email.provider %q is not supported (resend or log)", c.Email.Provider)
	}

	if c.RateLimit.Enabled && c.RateLimit.RequestsPerSecond <= 0 {
		return errors.New("rate_limit.requests_per_second must be positive when rate limiting is enabled")
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"challenge_validity", cfg.Auth.ChallengeValidityRaw, &cfg.Auth.ChallengeValidity},
		{"token_ttl", cfg.Auth.TokenTTLRaw, &cfg.Auth.TokenTTL},
		{"refresh_ttl", cfg.Auth.RefreshTTLRaw, &cfg.Auth.RefreshTTL},
		{"webauthn_timeout", cfg.Auth.WebAuthnTimeoutRaw, &cfg.Auth.WebAuthnTimeout},
	}
	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %q", f.name, f.raw)
		}
		*f.dst = d
	}
	return nil
}
