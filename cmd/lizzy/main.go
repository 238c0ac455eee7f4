// Package main is the entry point for the lizzy binary.
// It serves the stack deployment REST API backed by the senza CLI.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/zalando-incubator/lizzy/internal/version"
	"github.com/zalando-incubator/lizzy/pkg/api"
	"github.com/zalando-incubator/lizzy/pkg/config"
	"github.com/zalando-incubator/lizzy/pkg/logging"
	"github.com/zalando-incubator/lizzy/pkg/senza"
	"github.com/zalando-incubator/lizzy/pkg/telemetry"
)

const (
	serviceName              = "lizzy"
	telemetryShutdownTimeout = 5 * time.Second
)

func main() {
	// Load .env file if present
	_ = godotenv.Load()

	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// newRootCmd creates the root command for lizzy
func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "lizzy",
		Short: "REST API for deploying senza-defined stacks",
		Long: `Lizzy exposes senza, the AWS CloudFormation deployment tool, as a REST
API so that continuous delivery pipelines can create, inspect and retire
stacks with plain HTTP calls.

Example:
  lizzy --region eu-central-1 --listen :8080`,
		Version: version.Version,
		RunE:    runServer,
	}

	rootCmd.Flags().StringP("config", "c", "", "Path to configuration file (YAML)")
	rootCmd.Flags().String("listen", "", "HTTP listen address")
	rootCmd.Flags().String("region", "", "AWS region senza deploys to")
	rootCmd.Flags().StringP("log-level", "l", "", "Log level (debug, info, warn, error)")

	return rootCmd
}

// applyFlagOverrides maps set flags onto the corresponding environment
// variables so config.Load sees them before validation runs.
func applyFlagOverrides(cmd *cobra.Command) error {
	overrides := map[string]string{
		"listen":    "LIZZY_LISTEN_ADDRESS",
		"region":    "LIZZY_REGION",
		"log-level": "LIZZY_LOG_LEVEL",
	}

	for flagName, envName := range overrides {
		val, err := cmd.Flags().GetString(flagName)
		if err != nil {
			return fmt.Errorf("failed to get %s flag: %w", flagName, err)
		}
		if val != "" {
			if err := os.Setenv(envName, val); err != nil {
				return fmt.Errorf("failed to apply %s flag: %w", flagName, err)
			}
		}
	}
	return nil
}

// runServer is the main entry point for the lizzy command
func runServer(cmd *cobra.Command, args []string) error {
	configPath, err := cmd.Flags().GetString("config")
	if err != nil {
		return fmt.Errorf("failed to get config flag: %w", err)
	}

	if err := applyFlagOverrides(cmd); err != nil {
		return err
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger := logging.NewLogger(logging.Config{
		Level:  cfg.Logging.Level,
		Pretty: cfg.Logging.Pretty,
	})
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	telemetryShutdown, err := telemetry.SetupProvider(ctx, telemetry.Config{
		ServiceName: serviceName,
		Endpoint:    cfg.Telemetry.OTLPEndpoint,
		Insecure:    cfg.Telemetry.Insecure,
		Environment: cfg.Telemetry.Environment,
	})
	if err != nil {
		return fmt.Errorf("telemetry initialization failed: %w", err)
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), telemetryShutdownTimeout)
		defer shutdownCancel()
		if err := telemetryShutdown(shutdownCtx); err != nil {
			logger.Error("Telemetry shutdown error", "error", err)
		}
	}()

	metrics := telemetry.NewMetrics()
	deployer := senza.New(cfg.Senza.Region, logger, metrics)
	server := api.NewServer(cfg, deployer, metrics, logger)

	logger.Info("Starting lizzy",
		"version", version.Version,
		"listen_address", cfg.Server.ListenAddress,
		"region", cfg.Senza.Region,
		"restricted", cfg.Security.AllowedUsers != nil,
	)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-sigChan:
			logger.Info("Received shutdown signal", "signal", sig.String())
			cancel()
		case <-ctx.Done():
		}
	}()

	if err := server.Start(ctx); err != nil {
		logger.Error("Server error", "error", err)
		return err
	}

	logger.Info("Lizzy stopped")
	return nil
}
