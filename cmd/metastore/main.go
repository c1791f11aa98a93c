package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/odvcencio/metastore/pkg/backend"
	"github.com/odvcencio/metastore/pkg/config"
	"github.com/odvcencio/metastore/pkg/logging"
	"github.com/odvcencio/metastore/pkg/metastore"
)

var version = "0.1.0-dev"

// app carries state shared by all subcommands.
type app struct {
	configPath  string
	backendName string
	logLevel    string

	cfg         config.Config
	backendOpts []backend.Option
}

func main() {
	if err := newRootCmd(&app{}).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "metastore",
		Short:         "Store data-package metadata on the filesystem, S3 or GitHub",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "version" {
				return nil
			}
			return a.load()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			_ = logging.Sync()
		},
	}
	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", os.Getenv("METASTORE_CONFIG"), "path to a TOML config file (default: METASTORE_CONFIG)")
	root.PersistentFlags().StringVar(&a.backendName, "backend", "", "backend to use: filesystem, s3, github or git-memory")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "log level: debug, info, warn or error")

	root.AddCommand(newVersionCmd())
	root.AddCommand(newCreateCmd(a))
	root.AddCommand(newFetchCmd(a))
	root.AddCommand(newUpdateCmd(a))
	root.AddCommand(newDeleteCmd(a))
	root.AddCommand(newDiffCmd(a))
	root.AddCommand(newServeCmd(a))
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "metastore %s\n", version)
		},
	}
}

func (a *app) load() error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if a.backendName != "" {
		cfg.Backend = a.backendName
		if err := cfg.Validate(); err != nil {
			return err
		}
	}
	if a.logLevel != "" {
		cfg.Log.Level = a.logLevel
	}
	if err := logging.Init(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format}); err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	a.cfg = cfg
	return nil
}

func (a *app) open(ctx context.Context) (metastore.Backend, error) {
	opts := append([]backend.Option{backend.WithUserAgent("metastore/" + version)}, a.backendOpts...)
	return backend.New(ctx, a.cfg, opts...)
}
