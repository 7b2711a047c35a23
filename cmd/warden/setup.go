// ABOUTME: First-run commands: interactive init and one-shot bootstrap
// ABOUTME: Writes the YAML config, seeds the permission catalog and creates the first admin

package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fatih/color"

	"github.com/2389/warden/internal/apierr"
	"github.com/2389/warden/internal/authn"
	"github.com/2389/warden/internal/store"
)

// adminPrivileges are granted to the bootstrap user.
var adminPrivileges = []string{"user:admin", "user:delete", "user:read", "user:write"}

type configValues struct {
	HTTPAddr        string
	GRPCAddr        string
	DatabasePath    string
	RelyingPartyID  string
	Origin          string
	VerificationURL string
	LogLevel        string
	LogFormat       string
}

func defaultConfigValues() configValues {
	return configValues{
		HTTPAddr:        "localhost:8080",
		GRPCAddr:        "localhost:50051",
		DatabasePath:    filepath.Join(getDataPath(), "warden.db"),
		RelyingPartyID:  "localhost",
		Origin:          "http://localhost:8080",
		VerificationURL: "http://localhost:8080/verify",
		LogLevel:        "info",
		LogFormat:       "text",
	}
}

func renderConfig(v configValues, generatedBy string) string {
	var b strings.Builder
	b.WriteString("# warden configuration\n")
	fmt.Fprintf(&b, "# Generated by warden %s\n\n", generatedBy)

	b.WriteString("server:\n")
	fmt.Fprintf(&b, "  http_addr: %q\n", v.HTTPAddr)
	fmt.Fprintf(&b, "  grpc_addr: %q\n\n", v.GRPCAddr)

	b.WriteString("database:\n")
	b.WriteString("  driver: \"sqlite\"\n")
	fmt.Fprintf(&b, "  path: %q\n\n", v.DatabasePath)

	b.WriteString("auth:\n")
	fmt.Fprintf(&b, "  relying_party_id: %q\n", v.RelyingPartyID)
	b.WriteString("  origins:\n")
	fmt.Fprintf(&b, "    - %q\n", v.Origin)
	fmt.Fprintf(&b, "  verification_url: %q\n", v.VerificationURL)
	b.WriteString("  challenge_validity: \"10m\"\n")
	b.WriteString("  token_ttl: \"1h\"\n")
	b.WriteString("  refresh_ttl: \"24h\"\n\n")

	b.WriteString("email:\n")
	b.WriteString("  provider: \"log\"\n")
	b.WriteString("  # provider: \"resend\"\n")
	b.WriteString("  # api_key: \"${RESEND_API_KEY}\"\n")
	b.WriteString("  # from: \"warden@example.com\"\n\n")

	b.WriteString("rate_limit:\n")
	b.WriteString("  enabled: true\n")
	b.WriteString("  requests_per_second: 10\n")
	b.WriteString("  burst: 20\n\n")

	b.WriteString("logging:\n")
	fmt.Fprintf(&b, "  level: %q\n", v.LogLevel)
	fmt.Fprintf(&b, "  format: %q\n\n", v.LogFormat)

	b.WriteString("metrics:\n")
	b.WriteString("  enabled: true\n")
	b.WriteString("  path: \"/metrics\"\n")
	return b.String()
}

func writeConfig(path, content string, dbPath string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}

func runInit() error {
	reader := bufio.NewReader(os.Stdin)

	fmt.Println("warden configuration setup")
	fmt.Println("==========================")
	fmt.Println()

	v := defaultConfigValues()
	outputFile := prompt(reader, "Config file path", getConfigPath())

	if _, err := os.Stat(outputFile); err == nil {
		overwrite := prompt(reader, "File exists. Overwrite?", "no")
		if !isYes(overwrite) {
			fmt.Println("Aborted.")
			return nil
		}
	}

	fmt.Println("\n--- Server Configuration ---")
	v.HTTPAddr = prompt(reader, "HTTP address", v.HTTPAddr)
	v.GRPCAddr = prompt(reader, "gRPC address (empty to disable)", v.GRPCAddr)

	fmt.Println("\n--- Database Configuration ---")
	v.DatabasePath = prompt(reader, "SQLite database path", v.DatabasePath)

	fmt.Println("\n--- WebAuthn Configuration ---")
	v.RelyingPartyID = prompt(reader, "Relying party id (your domain)", v.RelyingPartyID)
	v.Origin = prompt(reader, "Allowed origin", v.Origin)
	v.VerificationURL = prompt(reader, "Verification link base URL", strings.TrimRight(v.Origin, "/")+"/verify")

	fmt.Println("\n--- Logging Configuration ---")
	v.LogLevel = prompt(reader, "Log level (debug/info/warn/error)", v.LogLevel)
	v.LogFormat = prompt(reader, "Log format (text/json)", v.LogFormat)

	if err := writeConfig(outputFile, renderConfig(v, "init"), v.DatabasePath); err != nil {
		return err
	}

	fmt.Printf("\nConfig written to %s\n", outputFile)
	fmt.Println("\nNext steps:")
	fmt.Println("  warden bootstrap --email you@example.com --org <organisation>")
	fmt.Println("  warden serve")
	return nil
}

// runBootstrap writes a default config when none exists, seeds the
// permission catalog and creates the first admin user.
func runBootstrap(ctx context.Context, args []string) error {
	flags, err := parseArgs(args, []string{"email", "org", "name"}, nil)
	if err != nil {
		return err
	}
	email := strings.TrimSpace(flags["email"])
	org := strings.TrimSpace(flags["org"])
	if email == "" || org == "" {
		return errors.New("usage: warden bootstrap --email <email> --org <organisation> [--name <name>]")
	}
	name := flags["name"]
	if name == "" {
		name, _, _ = strings.Cut(email, "@")
	}

	green := color.New(color.FgGreen)
	cyan := color.New(color.FgCyan)
	yellow := color.New(color.FgYellow)

	configPath := getConfigPath()
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		v := defaultConfigValues()
		if err := writeConfig(configPath, renderConfig(v, "bootstrap"), v.DatabasePath); err != nil {
			return err
		}
		green.Printf("  ✓ Created config: %s\n", configPath)
	} else {
		cyan.Printf("  Using existing config: %s\n", configPath)
	}

	engine, s, err := openEngine()
	if err != nil {
		return err
	}
	defer s.Close()

	if err := engine.SeedPermissions(ctx, append([]store.Permission{}, authn.DefaultPermissions...)); err != nil {
		return fmt.Errorf("seeding permissions: %w", err)
	}
	green.Printf("  ✓ Seeded %d permissions\n", len(authn.DefaultPermissions))

	user, err := engine.CreateUser(ctx, "bootstrap", authn.NewUser{
		Email:          email,
		Name:           name,
		DisplayName:    name,
		OrganisationID: org,
		Privileges:     adminPrivileges,
	})
	if apierr.Is(err, apierr.KindConflict) {
		yellow.Printf("  ! User %s already exists in %s, nothing to do\n", email, org)
		return nil
	}
	if err != nil {
		return fmt.Errorf("creating admin user: %w", err)
	}
	green.Printf("  ✓ Created admin user: %s\n", email)

	fmt.Println()
	green.Println("  Bootstrap complete!")
	fmt.Println()
	cyan.Println("  Admin User")
	cyan.Println("  ----------")
	fmt.Printf("  ID:           %s\n", user.ID)
	fmt.Printf("  Email:        %s\n", user.Email)
	fmt.Printf("  Organisation: %s\n", user.OrganisationID)
	fmt.Printf("  Privileges:   %s\n", strings.Join(user.Privileges, " "))
	fmt.Println()

	yellow.Println("  Ready to go:")
	fmt.Println("    warden serve")
	fmt.Printf("    register a passkey: PUT /api/v1/auth/attestation?email=%s\n", email)
	fmt.Println()
	return nil
}

func isYes(s string) bool {
	s = strings.ToLower(s)
	return s == "yes" || s == "y"
}

func prompt(reader *bufio.Reader, question, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("%s [%s]: ", question, defaultVal)
	} else {
		fmt.Printf("%s: ", question)
	}

	input, err := reader.ReadString('\n')
	if err != nil {
		fmt.Println()
		return defaultVal
	}
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultVal
	}
	return input
}
