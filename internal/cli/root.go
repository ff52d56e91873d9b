// Package cli implements the liveedit command line
package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jonny5532/wagtail-liveedit/internal/config"
	"github.com/jonny5532/wagtail-liveedit/internal/logger"
	"github.com/jonny5532/wagtail-liveedit/pkg/storage"
)

// Version is set at build time.
var Version = "dev"

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
	Verbose    bool
}

// NewRootCommand creates the root command.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "liveedit",
		Short: "In-page block editing for stream field content",
		Long: `liveedit serves pages whose stream fields can be reordered, edited
and extended in place by signed-in editors.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "config file (YAML)")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "debug logging")

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewImportCommand(opts))
	cmd.AddCommand(NewBlocksCommand(opts))
	cmd.AddCommand(NewVersionCommand())

	return cmd
}

// loadConfig reads the config file, or the defaults when none is given.
func loadConfig(opts *RootOptions) (*config.Config, error) {
	if opts.ConfigPath == "" {
		cfg := config.Default()
		return cfg, cfg.Validate()
	}
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func newLogger(opts *RootOptions, cfg *config.Config) *logger.Logger {
	level := cfg.Log.Level
	if opts.Verbose {
		level = "debug"
	}
	return logger.NewLogger(logger.Config{Level: level, Pretty: cfg.Log.Pretty})
}

func openDB(cfg *config.Config) (*storage.DB, error) {
	db, err := storage.Open(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", cfg.Database, err)
	}
	return db, nil
}
