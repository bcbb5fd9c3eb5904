// Package cliconfig resolves the configuration shared by the genaiti
// subcommands.
package cliconfig

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ntealan/genaiti"
	"github.com/ntealan/genaiti/logger"
)

// EnvConfig names the config file when --config is not given.
const EnvConfig = "GENAITI_CONFIG"

// AddFlags registers the persistent flags every subcommand reads.
func AddFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().StringP("config", "c", "", "Path to config file (YAML, TOML or JSON); defaults to $"+EnvConfig)
	cmd.PersistentFlags().Bool("debug", false, "Enable debug logging")
}

// Load reads the config file, if any, and applies environment overrides.
func Load(cmd *cobra.Command) (genaiti.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		path = os.Getenv(EnvConfig)
	}

	cfg := genaiti.DefaultConfig()
	if path != "" {
		loaded, err := genaiti.LoadConfig(path)
		if err != nil {
			return cfg, err
		}
		cfg = loaded
	}
	cfg.ApplyEnv()

	if debug, _ := cmd.Flags().GetBool("debug"); debug {
		cfg.Debug = true
	}
	return cfg, nil
}

// Logger returns the stderr logger for cfg.
func Logger(cfg genaiti.Config) *zap.Logger {
	return logger.New(cfg.Debug)
}

// Open loads the config, lets mutate adjust it and creates an assistant.
// Options in opts are applied after the default logger.
func Open(ctx context.Context, cmd *cobra.Command, mutate func(*genaiti.Config), opts ...genaiti.Option) (*genaiti.Assistant, error) {
	cfg, err := Load(cmd)
	if err != nil {
		return nil, err
	}
	if mutate != nil {
		mutate(&cfg)
	}

	all := append([]genaiti.Option{genaiti.WithLogger(Logger(cfg))}, opts...)
	a, err := genaiti.New(ctx, cfg, all...)
	if err != nil {
		return nil, fmt.Errorf("could not start assistant: %w", err)
	}
	return a, nil
}
