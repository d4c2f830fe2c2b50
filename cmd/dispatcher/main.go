// Command dispatcher hosts the dispatch coordinator together with its
// archive, event publishing and operator endpoints.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/automaxprocs/maxprocs"

	"github.com/ahrav/dispatch/internal/config"
	"github.com/ahrav/dispatch/internal/config/fileloader"
	"github.com/ahrav/dispatch/pkg/common/logger"
	"github.com/ahrav/dispatch/pkg/common/otel"
)

const serviceType = "dispatcher"

var (
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	_, _ = maxprocs.Set()

	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var (
		configPath string
		strictFile bool
	)

	load := func(ctx context.Context) (*config.Config, error) {
		var loader config.Loader = config.NewViperLoader(configPath)
		if strictFile {
			if configPath == "" {
				return nil, fmt.Errorf("--strict-file requires --config")
			}
			loader = fileloader.NewFileLoader(configPath)
		}
		return loader.Load(ctx)
	}

	cmd := &cobra.Command{
		Use:           serviceType,
		Short:         "Resource-aware task dispatch coordinator",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load(cmd.Context())
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}
	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file path (YAML)")
	cmd.PersistentFlags().BoolVar(&strictFile, "strict-file", false, "Read only the config file, ignoring DISPATCH_ environment overrides")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "migrate",
			Short: "Apply pending call report archive migrations",
			RunE: func(cmd *cobra.Command, _ []string) error {
				cfg, err := load(cmd.Context())
				if err != nil {
					return err
				}
				return migrateArchive(cmd.Context(), cfg)
			},
		},
		purgeCmd(load),
		&cobra.Command{
			Use:   "version",
			Short: "Print version information",
			Run: func(cmd *cobra.Command, _ []string) {
				fmt.Fprintf(cmd.OutOrStdout(), "%s version %s (build: %s, %s)\n",
					serviceType, version, buildTime, runtime.Version())
			},
		},
	)
	return cmd
}

func purgeCmd(load func(context.Context) (*config.Config, error)) *cobra.Command {
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:   "purge-archive",
		Short: "Delete archived call reports older than a duration",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load(cmd.Context())
			if err != nil {
				return err
			}
			if olderThan <= 0 {
				olderThan = cfg.Archive.Retention
			}
			return purgeArchive(cmd.Context(), cfg, olderThan, cmd.OutOrStdout())
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 0, "Age cutoff; defaults to archive.retention")
	return cmd
}

// newLogger builds the service logger. Error records are echoed to stderr
// as JSON with the active trace id.
func newLogger(cfg *config.Config) *logger.Logger {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}

	logEvents := logger.Events{
		Error: func(ctx context.Context, r logger.Record) {
			errorAttrs := map[string]any{
				"error_message": r.Message,
				"error_time":    r.Time.UTC().Format(time.RFC3339),
				"trace_id":      otel.GetTraceID(ctx),
			}
			for k, v := range r.Attributes {
				errorAttrs[k] = v
			}

			errorAttrsJSON, err := json.Marshal(errorAttrs)
			if err != nil {
				fmt.Fprintf(os.Stderr, "failed to marshal error attributes: %v\n", err)
				return
			}
			fmt.Fprintf(os.Stderr, "Error event: %s, details: %s\n", r.Message, errorAttrsJSON)
		},
	}

	svcName := fmt.Sprintf("DISPATCHER-%s", hostname)
	metadata := map[string]string{
		"service":  svcName,
		"hostname": hostname,
		"app":      serviceType,
		"version":  version,
	}

	return logger.NewWithMetadata(
		os.Stdout,
		logger.ParseLevel(cfg.Log.Level),
		svcName,
		otel.GetTraceID,
		logEvents,
		metadata,
	)
}
