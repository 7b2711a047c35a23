// Package config handles configuration loading for warden.
//
// # Overview
//
// Configuration is loaded from a YAML file, or a TOML file when the path ends
// in .toml, with environment variable expansion, defaults and validation.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from WARDEN_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/warden/config.yaml
//  3. ~/.config/warden/config.yaml
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	email:
//	  api_key: "${RESEND_API_KEY}"
//
// Unset variables expand to the empty string.
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	auth:
//	  challenge_validity: "10m"
//	  token_ttl: "60m"
//	  refresh_ttl: "24h"
//
// Unset durations fall back to the engine defaults. refresh_ttl must exceed
// token_ttl.
//
// # Example
//
//	server:
//	  http_addr: "localhost:8080"
//	  grpc_addr: "localhost:50051"
//
//	database:
//	  driver: "sqlite"
//	  path: "~/.local/share/warden/warden.db"
//
//	auth:
//	  relying_party_id: "example.com"
//	  relying_party_name: "Example"
//	  origins: ["https://example.com"]
//	  verification_url: "https://example.com/verify"
//
//	email:
//	  provider: "resend"
//	  api_key: "${RESEND_API_KEY}"
//	  from: "Example <login@example.com>"
//
//	rate_limit:
//	  enabled: true
//	  requests_per_second: 5
//	  burst: 10
//
//	logging:
//	  level: "info"
//	  format: "text"
//
//	metrics:
//	  enabled: true
//	  path: "/metrics"
package config
