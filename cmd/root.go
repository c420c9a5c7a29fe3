/*
Copyright © 2025 pacsbatch Contributors

pacsbatch runs batches of query, retrieve and verify requests against a
remote imaging archive and stores what the archive sends back.
*/
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/trobanga/pacsbatch/internal/dimse"
	"github.com/trobanga/pacsbatch/internal/lib"
	"github.com/trobanga/pacsbatch/internal/metrics"
	"github.com/trobanga/pacsbatch/internal/models"
	"github.com/trobanga/pacsbatch/internal/services"
)

var (
	// Global flags
	cfgFile string
	verbose bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "pacsbatch",
	Short: "pacsbatch - batch query/retrieve against a PACS",
	Long: `pacsbatch sends batches of query, retrieve and verify requests to a
remote application entity and journals every outcome in the output directory.

A template request is expanded by an optional variation table (one request per
row). Interrupted or partially failed batches resume from the journal, and
retrieved instances are stored by a local storage listener under a layout
built from their attributes.

Example:
  pacsbatch run --config study.yaml --variation-file patients.csv
  pacsbatch status --output ./output
  pacsbatch serve --local-port 11112
  pacsbatch echo --peer-host pacs.example --peer-ae ARCHIVE`,
	Version:       "0.1.0",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		var batchErr *lib.BatchError
		if errors.As(err, &batchErr) {
			fmt.Fprint(os.Stderr, batchErr.UserMessage())
		} else {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}

func init() {
	// Persistent flags (available to all subcommands)
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default: ./pacsbatch.yaml, ~/.config/pacsbatch/pacsbatch.yaml)")
	flags.BoolVarP(&verbose, "verbose", "v", false, "enable verbose logging")
	flags.StringP("output", "o", "", "output directory")
	flags.String("peer-host", "", "peer host name or address")
	flags.Int("peer-port", 0, "peer port")
	flags.String("peer-ae", "", "peer AE title")
	flags.String("local-ae", "", "our own AE title")
	flags.Int("local-port", 0, "port of the local storage listener")
	flags.String("provider", "", "network service provider")
	flags.String("metrics-listen", "", "serve Prometheus metrics on this address")

	_ = rootCmd.RegisterFlagCompletionFunc("provider", func(*cobra.Command, []string, string) ([]string, cobra.ShellCompDirective) {
		return dimse.Providers(), cobra.ShellCompDirectiveNoFileComp
	})

	rootCmd.SetVersionTemplate("pacsbatch version {{.Version}}\n")
}

// globalBindings maps config keys to the persistent flags
var globalBindings = map[string]string{
	"output.directory": "output",
	"peer.host":        "peer-host",
	"peer.port":        "peer-port",
	"peer.ae_title":    "peer-ae",
	"local.ae_title":   "local-ae",
	"local.port":       "local-port",
	"network.provider": "provider",
	"metrics.listen":   "metrics-listen",
}

// loadConfig loads the configuration with the global flags and extra command bindings applied
func loadConfig(cmd *cobra.Command, extra map[string]string) (*models.Config, error) {
	bindings := make(map[string]string, len(globalBindings)+len(extra))
	for k, v := range globalBindings {
		bindings[k] = v
	}
	for k, v := range extra {
		bindings[k] = v
	}
	return services.LoadConfig(cfgFile, services.WithFlags(cmd.Flags(), bindings))
}

func newLogger(cfg *models.Config) *lib.Logger {
	level := lib.ParseLogLevel(cfg.Log.Level)
	if verbose {
		level = lib.LogLevelDebug
	}
	return lib.NewLogger(lib.LogConfig{Level: level, Format: cfg.Log.Format})
}

func openProvider(cfg *models.Config) (dimse.Provider, error) {
	if err := cfg.RequireProvider(); err != nil {
		return nil, lib.ErrConfig("network.provider", err.Error())
	}
	provider, err := dimse.Open(cfg.Network.Provider, cfg.ProviderConfig())
	if err != nil {
		return nil, lib.ErrConfig("network.provider", err.Error())
	}
	return provider, nil
}

// startMetrics serves metrics when metrics.listen is set. The returned stop function is never nil.
func startMetrics(cfg *models.Config, logger *lib.Logger) (*metrics.Metrics, func()) {
	m := metrics.New()
	if cfg.Metrics.Listen == "" {
		return m, func() {}
	}

	srv, err := metrics.Serve(cfg.Metrics.Listen, m)
	if err != nil {
		logger.Warn("Metrics listener not started", "address", cfg.Metrics.Listen, "error", err)
		return m, func() {}
	}
	logger.Info("Serving metrics", "address", srv.Addr())
	return m, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			logger.Warn("Failed to stop metrics listener", "error", err)
		}
	}
}

// signalContext is cancelled on SIGINT or SIGTERM
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
