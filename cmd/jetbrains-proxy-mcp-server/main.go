package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/lumerix7/jetbrains-proxy-mcp-server/internal/config"
	"github.com/lumerix7/jetbrains-proxy-mcp-server/internal/logs"
	"github.com/lumerix7/jetbrains-proxy-mcp-server/internal/server"
)

var version = "v0.1.0" // This will be injected by -ldflags during build

// shutdownGrace is added to stop-timeout so a forced close still gets to finish
const shutdownGrace = 5 * time.Second

type rootOptions struct {
	configFile string
	logLevel   string
	transport  string
}

func main() {
	rootCmd := newRootCommand()
	if err := rootCmd.Execute(); err != nil {
		code := exitCodeFor(err)
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		fmt.Fprintf(os.Stderr, "Exiting with code %d (%s)\n", code, exitCodeDescription(code))
		os.Exit(code)
	}
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:           "jetbrains-proxy-mcp-server",
		Short:         "MCP proxy for the JetBrains IDE MCP server with path translation",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServer(cmd, opts)
		},
	}

	addRootFlags(rootCmd.PersistentFlags(), opts)

	rootCmd.AddCommand(newConfigCommand(opts))
	rootCmd.AddCommand(newToolsCommand())
	return rootCmd
}

func addRootFlags(flags *pflag.FlagSet, opts *rootOptions) {
	flags.StringVarP(&opts.configFile, "config", "c", "", "Configuration file path (default: $JETBRAINS_PROXY_MCP_SERVER_CONFIG or ~/.config/jetbrains-proxy-mcp-server/config.yaml)")
	flags.StringVar(&opts.logLevel, "log-level", "", "Log level (trace, debug, info, warn, error)")
	flags.StringVar(&opts.transport, "transport", "", "Client-facing transport (stdio, sse)")
}

// loadConfig loads the configuration and applies command line overrides
func loadConfig(opts *rootOptions) (*config.Config, error) {
	cfg, err := config.Load(opts.configFile)
	if err != nil {
		return nil, &configError{err: err}
	}

	if opts.transport != "" {
		cfg.Transport = opts.transport
	}
	if opts.logLevel != "" {
		cfg.Logging.Level = opts.logLevel
	}

	if err := cfg.Validate(); err != nil {
		return nil, &configError{err: fmt.Errorf("invalid configuration: %w", err)}
	}
	return cfg, nil
}

func runServer(_ *cobra.Command, opts *rootOptions) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}

	logger, err := logs.SetupLogger(cfg.Logging, headerSecrets(cfg)...)
	if err != nil {
		return fmt.Errorf("failed to setup logger: %w", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	logger.Info("Starting jetbrains-proxy-mcp-server",
		zap.String("version", version),
		zap.String("config_file", cfg.ConfigFile),
		zap.String("transport", cfg.Transport),
		zap.String("log_level", cfg.Logging.Level),
		zap.String("downstream_url", cfg.Downstream.URL))

	srv, err := server.New(cfg, logger, version)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	// Setup signal handling for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			logger.Info("Received signal, shutting down", zap.String("signal", sig.String()))
			cancel()
		case <-ctx.Done():
		}
	}()

	runErr := srv.Run(ctx)
	if runErr != nil {
		logger.Error("Proxy stopped with error", zap.Error(runErr))
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(),
		config.Seconds(cfg.Downstream.StopTimeout)+shutdownGrace)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Shutdown finished with errors", zap.Error(err))
	}

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	return nil
}

// headerSecrets returns the downstream header values that must never be logged
func headerSecrets(cfg *config.Config) []string {
	secrets := make([]string, 0, len(cfg.Downstream.Headers))
	for _, value := range cfg.Downstream.Headers {
		if value != "" {
			secrets = append(secrets, value)
		}
	}
	return secrets
}
