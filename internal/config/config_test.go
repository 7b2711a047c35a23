// ABOUTME: Tests for configuration loading and parsing
// ABOUTME: Covers YAML and TOML loading, env var expansion, defaults and validation

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const minimalYAML = `
server:
  http_addr: "localhost:8080"
database:
  path: "./test.db"
auth:
  relying_party_id: "example.com"
  origins: ["https://example.com"]
  verification_url: "https://example.com/verify"
`

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
server:
  grpc_addr: "0.0.0.0:50051"
  http_addr: "0.0.0.0:8080"

database:
  driver: "sqlite"
  path: "./test.db"

auth:
  relying_party_id: "example.com"
  relying_party_name: "Example Corp"
  origins:
    - "https://example.com"
    - "https://app.example.com"
  verification_url: "https://example.com/verify"
  challenge_validity: "5m"
  token_ttl: "30m"
  refresh_ttl: "12h"
  webauthn_timeout: "90s"
  default_scope: ["user:read"]

email:
  provider: "resend"
  api_key: "re_test"
  from: "Example <login@example.com>"

rate_limit:
  enabled: true
  requests_per_second: 5
  burst: 10

logging:
  level: "debug"
  format: "json"

metrics:
  enabled: true
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.GRPCAddr != "0.0.0.0:50051" {
		t.Errorf("Server.GRPCAddr = %q, want %q", cfg.Server.GRPCAddr, "0.0.0.0:50051")
	}
	if cfg.Database.Source() != "./test.db" {
		t.Errorf("Database.Source() = %q, want %q", cfg.Database.Source(), "./test.db")
	}
	if cfg.Auth.RelyingPartyName != "Example Corp" {
		t.Errorf("Auth.RelyingPartyName = %q, want %q", cfg.Auth.RelyingPartyName, "Example Corp")
	}
	if len(cfg.Auth.Origins) != 2 {
		t.Errorf("Auth.Origins len = %d, want 2", len(cfg.Auth.Origins))
	}
	if cfg.Auth.ChallengeValidity != 5*time.Minute {
		t.Errorf("Auth.ChallengeValidity = %v, want %v", cfg.Auth.ChallengeValidity, 5*time.Minute)
	}
	if cfg.Auth.TokenTTL != 30*time.Minute {
		t.Errorf("Auth.TokenTTL = %v, want %v", cfg.Auth.TokenTTL, 30*time.Minute)
	}
	if cfg.Auth.RefreshTTL != 12*time.Hour {
		t.Errorf("Auth.RefreshTTL = %v, want %v", cfg.Auth.RefreshTTL, 12*time.Hour)
	}
	if cfg.Auth.WebAuthnTimeout != 90*time.Second {
		t.Errorf("Auth.WebAuthnTimeout = %v, want %v", cfg.Auth.WebAuthnTimeout, 90*time.Second)
	}
	if len(cfg.Auth.DefaultScope) != 1 || cfg.Auth.DefaultScope[0] != "user:read" {
		t.Errorf("Auth.DefaultScope = %v, want [user:read]", cfg.Auth.DefaultScope)
	}
	if cfg.Email.Provider != "resend" || cfg.Email.APIKey != "re_test" {
		t.Errorf("Email = %+v, want resend with api key", cfg.Email)
	}
	if !cfg.RateLimit.Enabled || cfg.RateLimit.RequestsPerSecond != 5 || cfg.RateLimit.Burst != 10 {
		t.Errorf("RateLimit = %+v, want enabled 5/10", cfg.RateLimit)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "json" {
		t.Errorf("Logging = %+v, want debug/json", cfg.Logging)
	}
	if cfg.Metrics.Path != "/metrics" {
		t.Errorf("Metrics.Path = %q, want default /metrics", cfg.Metrics.Path)
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "config.yaml", minimalYAML))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Database.Driver != "sqlite" {
		t.Errorf("Database.Driver = %q, want sqlite", cfg.Database.Driver)
	}
	if cfg.Auth.RelyingPartyName != "example.com" {
		t.Errorf("Auth.RelyingPartyName = %q, want relying party id", cfg.Auth.RelyingPartyName)
	}
	if cfg.Email.Provider != "log" {
		t.Errorf("Email.Provider = %q, want log", cfg.Email.Provider)
	}
	if cfg.Auth.TokenTTL != 0 {
		t.Errorf("Auth.TokenTTL = %v, want 0 (engine default)", cfg.Auth.TokenTTL)
	}
	if cfg.Server.GRPCAddr != "" {
		t.Errorf("Server.GRPCAddr = %q, want empty", cfg.Server.GRPCAddr)
	}
}

func TestLoad_TOML(t *testing.T) {
	path := writeConfig(t, "config.toml", `
[server]
http_addr = "localhost:8080"

[database]
driver = "postgres"
dsn = "postgres://warden@localhost/warden"

[auth]
relying_party_id = "example.com"
origins = ["https://example.com"]
verification_url = "https://example.com/verify"
token_ttl = "15m"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Database.Source() != "postgres://warden@localhost/warden" {
		t.Errorf("Database.Source() = %q", cfg.Database.Source())
	}
	if cfg.Auth.TokenTTL != 15*time.Minute {
		t.Errorf("Auth.TokenTTL = %v, want 15m", cfg.Auth.TokenTTL)
	}
}

func TestLoad_EnvVarExpansion(t *testing.T) {
	t.Setenv("WARDEN_TEST_RESEND_KEY", "re_from_env")
	path := writeConfig(t, "config.yaml", minimalYAML+`
email:
  provider: "resend"
  api_key: "${WARDEN_TEST_RESEND_KEY}"
  from: "login@example.com"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Email.APIKey != "re_from_env" {
		t.Errorf("Email.APIKey = %q, want %q", cfg.Email.APIKey, "re_from_env")
	}
}

func TestExpandEnvVars_Unset(t *testing.T) {
	got := expandEnvVars("key: ${WARDEN_TEST_DEFINITELY_UNSET}")
	if got != "key: " {
		t.Errorf("expandEnvVars() = %q, want %q", got, "key: ")
	}
}

func TestLoad_InvalidDuration(t *testing.T) {
	path := writeConfig(t, "config.yaml", minimalYAML+`  token_ttl: "soon"
`)
	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "token_ttl") {
		t.Fatalf("Load() error = %v, want token_ttl parse error", err)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("Load() error = nil, want error")
	}
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		c := Config{
			Server:   ServerConfig{HTTPAddr: "localhost:8080"},
			Database: DatabaseConfig{Driver: "sqlite", Path: "warden.db"},
			Auth: AuthConfig{
				RelyingPartyID:  "example.com",
				Origins:         []string{"https://example.com"},
				VerificationURL: "https://example.com/verify",
			},
			Email: EmailConfig{Provider: "log"},
		}
		return c
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"missing http addr", func(c *Config) { c.Server.HTTPAddr = "" }, "server.http_addr"},
		{"missing sqlite path", func(c *Config) { c.Database.Path = "" }, "database.path"},
		{"missing postgres dsn", func(c *Config) { c.Database.Driver = "postgres" }, "database.dsn"},
		{"unknown driver", func(c *Config) { c.Database.Driver = "mysql" }, "database.driver"},
		{"missing rp id", func(c *Config) { c.Auth.RelyingPartyID = "" }, "relying_party_id"},
		{"no origins", func(c *Config) { c.Auth.Origins = nil }, "auth.origins"},
		{"relative origin", func(c *Config) { c.Auth.Origins = []string{"example.com"} }, "absolute URL"},
		{"missing verification url", func(c *Config) { c.Auth.VerificationURL = "" }, "verification_url"},
		{"refresh not longer than token", func(c *Config) {
			c.Auth.TokenTTL = time.Hour
			c.Auth.RefreshTTL = time.Hour
		}, "refresh_ttl"},
		{"resend without key", func(c *Config) { c.Email.Provider = "resend" }, "email.api_key"},
		{"unknown provider", func(c *Config) { c.Email.Provider = "smtp" }, "email.provider"},
		{"rate limit without rate", func(c *Config) { c.RateLimit.Enabled = true }, "requests_per_second"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(&c)
			err := c.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Validate() error = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}
