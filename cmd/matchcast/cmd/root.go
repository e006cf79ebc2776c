// Package cmd implements the matchcast CLI.
package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/jmylchreest/matchcast/internal/config"
	"github.com/jmylchreest/matchcast/internal/observability"
	"github.com/jmylchreest/matchcast/internal/version"
)

var cfgFile string

// loaded is the decoded but not yet validated configuration. Commands that
// need a usable config call Validate themselves.
var loaded *config.Config

var rootCmd = &cobra.Command{
	Use:     version.ApplicationName,
	Short:   "Stream FRC match videos to an RTMP server, forever",
	Version: version.Short(),
	Long: `matchcast picks match videos from The Blue Alliance, pulls each one with
yt-dlp, transcodes it with ffmpeg and publishes it to an RTMP endpoint.

Failures are classified per run. Unavailable videos are skipped, transient
errors are retried with backoff, and a circuit breaker pauses the loop when
nothing is working.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		return fmt.Errorf("executing root command: %w", err)
	}
	return nil
}

func init() {
	rootCmd.PersistentPreRunE = func(_ *cobra.Command, _ []string) error {
		return initConfigAndLogging()
	}

	// Flags override config and env only when explicitly set.
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default searches ., $HOME/.config/matchcast, /etc/matchcast)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "json", "log format (text, json)")
}

// initConfigAndLogging loads the configuration and installs the default
// logger. Priority: explicit flag > env > config file > default.
func initConfigAndLogging() error {
	cfg, err := config.LoadUnvalidated(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	flags := rootCmd.PersistentFlags()
	overrideString(flags, "log-level", &cfg.Logging.Level)
	overrideString(flags, "log-format", &cfg.Logging.Format)
	if cfg.Logging.Level == "warning" {
		cfg.Logging.Level = "warn"
	}

	logger := observability.NewLoggerWithWriter(cfg.Logging, os.Stderr).
		With(slog.String("instance_id", uuid.NewString()))
	observability.SetDefault(logger)
	loaded = cfg
	return nil
}

// overrideString copies a flag into dst only when the user set it, so flag
// defaults never mask env or file values.
func overrideString(flags *pflag.FlagSet, name string, dst *string) {
	if !flags.Changed(name) {
		return
	}
	if v, err := flags.GetString(name); err == nil {
		*dst = strings.ToLower(v)
	}
}

// validatedConfig returns the loaded config after logging any warnings, or
// the joined validation errors.
func validatedConfig() (*config.Config, error) {
	if err := loaded.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	for _, w := range loaded.Warnings() {
		slog.Warn("configuration warning", slog.String("warning", w))
	}
	return loaded, nil
}
