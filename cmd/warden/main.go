// ABOUTME: Entry point for the warden authentication server and its admin CLI
// ABOUTME: Dispatches subcommands for serving, setup and provisioning

package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/fatih/color"

	"github.com/2389/warden/internal/authn"
	"github.com/2389/warden/internal/config"
	"github.com/2389/warden/internal/server"
	"github.com/2389/warden/internal/store"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
                        _
__      ____ _ _ __ __| | ___ _ __
\ \ /\ / / _' | '__/ _' |/ _ \ '_ \
 \ V  V / (_| | | | (_| |  __/ | | |
  \_/\_/ \__,_|_|  \__,_|\___|_| |_|
`

// getConfigPath returns the path to the config file.
// Priority: WARDEN_CONFIG env var > XDG_CONFIG_HOME/warden/config.yaml > ~/.config/warden/config.yaml
func getConfigPath() string {
	if envPath := os.Getenv("WARDEN_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "config.yaml"
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "warden", "config.yaml")
}

// getDataPath returns the path to the data directory.
// Priority: XDG_DATA_HOME/warden > ~/.local/share/warden
func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data"
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	return filepath.Join(dataDir, "warden")
}

func printUsage() {
	fmt.Println("Usage: warden <command>")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve                            Start the HTTP and gRPC servers")
	fmt.Println("  init                             Create a new config file interactively")
	fmt.Println("  bootstrap --email E --org O      Seed permissions and create the first admin user")
	fmt.Println("  health                           Check server health")
	fmt.Println("  user create --email E --org O    Create a user [--name N] [--privileges a,b]")
	fmt.Println("  client create --id ID            Create a machine client [--privileges a,b] [--trusted]")
	fmt.Println("  permission list                  List stored permissions")
	fmt.Println("  permission add --scope r:a       Add a permission [--description D]")
	fmt.Println("  catalog [seed]                   Show the loaded scope catalog, or seed defaults")
	fmt.Println("  audit [--limit N]                Show recent audit log entries")
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	args := os.Args[2:]
	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "init":
		err = runInit()
	case "bootstrap":
		err = runBootstrap(ctx, args)
	case "health":
		err = runHealth(ctx)
	case "user":
		err = runUser(ctx, args)
	case "client":
		err = runClient(ctx, args)
	case "permission":
		err = runPermission(ctx, args)
	case "catalog":
		err = runCatalog(ctx, args)
	case "audit":
		err = runAudit(ctx, args)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func openStore(cfg *config.Config) (*store.SQLStore, error) {
	s, err := store.Open(cfg.Database.Driver, cfg.Database.Source())
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	return s, nil
}

// openEngine loads the config and returns an engine for one-shot CLI work.
// The caller must close the returned store.
func openEngine() (*authn.Engine, *store.SQLStore, error) {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return nil, nil, fmt.Errorf("loading config: %w", err)
	}
	s, err := openStore(cfg)
	if err != nil {
		return nil, nil, err
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	engine, err := server.NewEngine(cfg, s, nil, logger)
	if err != nil {
		s.Close()
		return nil, nil, fmt.Errorf("creating engine: %w", err)
	}
	return engine, s, nil
}

func runServe(ctx context.Context) error {
	configPath := getConfigPath()

	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging)
	slog.SetDefault(logger)

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:      %s\n", cfg.Server.HTTPAddr)
	green.Print("    ▶ ")
	if cfg.Server.GRPCAddr != "" {
		fmt.Printf("gRPC:      %s\n", cfg.Server.GRPCAddr)
	} else {
		fmt.Print("gRPC:      ")
		gray.Println("disabled")
	}
	green.Print("    ▶ ")
	fmt.Printf("Database:  %s\n", cfg.Database.Driver)
	green.Print("    ▶ ")
	fmt.Printf("RP:        %s ", cfg.Auth.RelyingPartyID)
	gray.Printf("(%d origins)\n", len(cfg.Auth.Origins))
	if cfg.Email.Provider == "log" {
		green.Print("    ▶ ")
		fmt.Print("Email:     ")
		yellow.Println("log only, verification links are not delivered")
	}
	fmt.Println()

	s, err := openStore(cfg)
	if err != nil {
		return err
	}

	srv, err := server.New(cfg, s, logger)
	if err != nil {
		s.Close()
		return fmt.Errorf("creating server: %w", err)
	}

	return srv.Run(ctx)
}

func runHealth(ctx context.Context) error {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	for _, path := range []string{"/health", "/health/ready"} {
		url := fmt.Sprintf("http://%s%s", cfg.Server.HTTPAddr, path)
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return fmt.Errorf("creating request: %w", err)
		}

		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return fmt.Errorf("health check failed: %w", err)
		}
		resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("unhealthy: %s returned status %d", path, resp.StatusCode)
		}
	}

	fmt.Println("healthy")
	return nil
}
