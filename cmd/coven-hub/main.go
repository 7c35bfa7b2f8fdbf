// ABOUTME: Entry point for the coven-hub coordination server
// ABOUTME: Cobra commands to serve the hub and query a running instance

package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/2389/coven-hub/internal/config"
	"github.com/2389/coven-hub/internal/gateway"
)

// version is set at build time.
var version = "dev"

const banner = `
  ___ _____   _____ _ __        | |__  _   _| |__
 / __/ _ \ \ / / _ \ '_ \ _____ | '_ \| | | | '_ \
| (_| (_) \ V /  __/ | | |_____|| | | | |_| | |_) |
 \___\___/ \_/ \___|_| |_|      |_| |_|\__,_|_.__/
`

var configPath string

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "coven-hub",
		Short:         "Coordination hub for a team of cooperating agents",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "config file (default $COVEN_CONFIG or ~/.config/coven/hub.yaml)")

	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Start the hub server",
			RunE:  func(cmd *cobra.Command, _ []string) error { return runServe(cmd.Context()) },
		},
		&cobra.Command{
			Use:   "health",
			Short: "Check hub health",
			RunE:  func(cmd *cobra.Command, _ []string) error { return runHealth(cmd.Context()) },
		},
		newAgentsCmd(),
	)
	return root
}

// getConfigPath returns the path to the hub config file.
// Priority: --config flag > COVEN_CONFIG env var > XDG_CONFIG_HOME/coven/hub.yaml > ~/.config/coven/hub.yaml
func getConfigPath() string {
	if configPath != "" {
		return configPath
	}
	if envPath := os.Getenv("COVEN_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "hub.yaml"
		}
		configDir = filepath.Join(homeDir, ".config")
	}
	return filepath.Join(configDir, "coven", "hub.yaml")
}

// loadConfig reads the config file, falling back to defaults when the file
// does not exist.
func loadConfig(path string) (*config.Config, bool, error) {
	cfg, err := config.Load(path)
	if err == nil {
		return cfg, true, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, false, fmt.Errorf("loading config: %w", err)
	}
	cfg = config.Default()
	if err := cfg.Finalize(); err != nil {
		return nil, false, fmt.Errorf("loading config: %w", err)
	}
	return cfg, false, nil
}

func runServe(ctx context.Context) error {
	path := getConfigPath()

	cyan := color.New(color.FgCyan)
	cyan.Print(banner)
	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, fromFile, err := loadConfig(path)
	if err != nil {
		return err
	}
	logger := setupLogger(cfg.Logging)

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	green.Print("    ▶ ")
	if fromFile {
		fmt.Printf("Config:    %s\n", path)
	} else {
		fmt.Print("Config:    ")
		yellow.Println("defaults (no config file)")
	}
	green.Print("    ▶ ")
	fmt.Printf("HTTP:      %s\n", cfg.Server.HTTPAddr)
	if cfg.Server.GRPCAddr != "" {
		green.Print("    ▶ ")
		fmt.Printf("gRPC:      %s\n", cfg.Server.GRPCAddr)
	}
	green.Print("    ▶ ")
	fmt.Printf("Database:  %s\n", cfg.Database.Path)
	if cfg.Events.NATSURL != "" {
		green.Print("    ▶ ")
		fmt.Printf("NATS:      %s ", cfg.Events.NATSURL)
		gray.Printf("(%s.*)\n", cfg.Events.SubjectPrefix)
	}
	if cfg.Auth.JWTSecret == config.DefaultJWTSecret {
		yellow.Println("    ! using the built-in JWT secret; set COVEN_JWT_SECRET outside local use")
	}
	fmt.Println()

	logger.Info("starting coven-hub",
		"config", path,
		"http_addr", cfg.Server.HTTPAddr,
		"grpc_addr", cfg.Server.GRPCAddr,
		"db_path", cfg.Database.Path,
	)

	gw, err := gateway.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}
	return gw.Run(ctx)
}
