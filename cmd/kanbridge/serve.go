package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/HendryAvila/kanbridge/internal/config"
	"github.com/HendryAvila/kanbridge/internal/logging"
	kbserver "github.com/HendryAvila/kanbridge/internal/server"
)

type loadFunc func(v *viper.Viper) (*config.Config, error)

func newServeCmd(load loadFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the MCP server (stdio, or streamable HTTP with --http)",
		Args:  cobra.NoArgs,
	}
	cmd.Flags().String("http", "", "serve streamable HTTP on this address instead of stdio, e.g. :8080")
	cmd.Flags().String("metrics", "", "in stdio mode, serve /metrics on this address")

	cmd.RunE = func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadServeConfig(cmd, load)
		if err != nil {
			return err
		}
		return serve(cmd.Context(), cfg)
	}
	return cmd
}

// serveFlags maps serve flags to the config keys they set.
var serveFlags = map[string]string{
	"http":    "http.addr",
	"metrics": "metrics.addr",
}

// loadServeConfig resolves the config with the serve flags bound. Explicit
// flags win over KANBRIDGE_* variables, which config applies after viper.
func loadServeConfig(cmd *cobra.Command, load loadFunc) (*config.Config, error) {
	v := viper.New()
	for name, key := range serveFlags {
		if err := v.BindPFlag(key, cmd.Flags().Lookup(name)); err != nil {
			return nil, err
		}
	}
	cfg, err := load(v)
	if err != nil {
		return nil, err
	}
	if cmd.Flags().Changed("http") {
		cfg.HTTP.Addr = v.GetString(serveFlags["http"])
	}
	if cmd.Flags().Changed("metrics") {
		cfg.Metrics.Addr = v.GetString(serveFlags["metrics"])
	}
	return cfg, nil
}

func serve(parent context.Context, cfg *config.Config) error {
	if parent == nil {
		parent = context.Background()
	}
	log, err := logging.New(cfg.Log)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	app, err := kbserver.New(cfg, log)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}
	defer app.Close()

	// Graceful shutdown on interrupt.
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if addr := cfg.HTTP.Addr; addr != "" {
		banner(os.Stderr, cfg, "streamable HTTP on "+addr)
		return app.ServeHTTP(ctx, addr)
	}

	banner(os.Stderr, cfg, "stdio")
	log.Debug("stdio transport ready", zap.String("metrics_addr", cfg.Metrics.Addr))
	return app.ServeStdio(ctx, os.Stdin, os.Stdout)
}
