package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/pratapladhani/pizza-mcp-agents/internal/server"
	"github.com/pratapladhani/pizza-mcp-agents/pkg/config"
	"github.com/pratapladhani/pizza-mcp-agents/pkg/logging"
	"github.com/pratapladhani/pizza-mcp-agents/pkg/pizza"
)

// Set via ldflags at build time.
var version = pizza.ServerVersion

const shutdownTimeout = 10 * time.Second

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "pizza-mcp",
		Short: "MCP server for the pizza ordering API",
		Long:  pizza.Description,
		// SilenceUsage prevents printing usage on every error
		SilenceUsage: true,
		RunE:         runServe,
	}

	rootCmd.PersistentFlags().String("config", "", "Path to pizza-mcp.yaml (watched for log level changes)")
	rootCmd.PersistentFlags().String("log-level", "", "Log level override (DEBUG, INFO, WARN, ERROR)")
	rootCmd.PersistentFlags().String("pizza-api-url", "", "Pizza API base URL override")

	rootCmd.Version = version
	rootCmd.SetVersionTemplate(fmt.Sprintf("pizza-mcp version %s\n", version))

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newToolsCmd())
	return rootCmd
}

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the pizza tools over stdio or streamable HTTP",
		RunE:  runServe,
	}
	cmd.Flags().String("transport", "", "Transport override (stdio or http)")
	cmd.Flags().String("addr", "", "Listen address for the http transport")
	return cmd
}

// loadConfig reads the config file and applies command line overrides
func loadConfig(cmd *cobra.Command) (*config.Config, string, error) {
	path, _ := cmd.Flags().GetString("config")

	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}

	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		cfg.Logging.Level = level
	}
	if apiURL, _ := cmd.Flags().GetString("pizza-api-url"); apiURL != "" {
		cfg.PizzaAPI.BaseURL = apiURL
	}
	if f := cmd.Flags().Lookup("transport"); f != nil && f.Value.String() != "" {
		cfg.Server.Transport = f.Value.String()
	}
	if f := cmd.Flags().Lookup("addr"); f != nil && f.Value.String() != "" {
		cfg.Server.HTTPAddress = f.Value.String()
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, path, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	lm := logging.NewLoggingManager()
	srv, err := server.New(ctx, server.Options{
		Config:         cfg,
		ConfigPath:     path,
		LoggingManager: lm,
	})
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}

	serveErr := srv.Start(ctx)
	if serveErr != nil {
		lm.LogError("main", serveErr, "MCP server error", nil)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		lm.LogError("main", err, "Error during shutdown", nil)
	}
	return serveErr
}
