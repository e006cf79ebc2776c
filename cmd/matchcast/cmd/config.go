package cmd

import (
	"fmt"
	"io"

	"github.com/m-mizutani/masq"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/jmylchreest/matchcast/internal/config"
	"github.com/jmylchreest/matchcast/internal/observability"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management commands",
}

var configDumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Print the effective configuration",
	Long: `Print the effective configuration as YAML, after defaults, the config
file and MATCHCAST_* environment variables have been applied. Secrets are
redacted.

The output is a valid config file:

  matchcast config dump > config.yaml

Environment variables use the MATCHCAST_ prefix and underscores for nesting.
Example: stream.rtmp_url -> MATCHCAST_STREAM_RTMP_URL`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return dumpConfig(cmd.OutOrStdout(), loaded)
	},
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the configuration for errors and warnings",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return validateConfig(cmd.OutOrStdout(), loaded)
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configDumpCmd, configValidateCmd)
}

// redacted returns a copy of cfg safe to print.
func redacted(cfg *config.Config) config.Config {
	out := *cfg
	if out.TBA.APIKey != "" {
		out.TBA.APIKey = masq.DefaultRedactMessage
	}
	if out.Stream.RTMPToken != "" {
		out.Stream.RTMPToken = masq.DefaultRedactMessage
	}
	out.Stream.RTMPURL = observability.RedactURL(out.Stream.RTMPURL)
	return out
}

func dumpConfig(w io.Writer, cfg *config.Config) error {
	data, err := yaml.Marshal(redacted(cfg))
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	fmt.Fprintln(w, "# matchcast configuration")
	fmt.Fprintln(w, "# Durations accept Go syntax (30s, 5m) or plain seconds.")
	fmt.Fprintln(w)
	_, err = w.Write(data)
	return err
}

func validateConfig(w io.Writer, cfg *config.Config) error {
	for _, warning := range cfg.Warnings() {
		fmt.Fprintln(w, "warning:", warning)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(w, err)
		return fmt.Errorf("configuration is invalid")
	}
	fmt.Fprintln(w, "configuration is valid")
	return nil
}
