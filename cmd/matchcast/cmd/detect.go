package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/jmylchreest/matchcast/internal/ffmpeg"
	"github.com/jmylchreest/matchcast/internal/observability"
)

var detectCmd = &cobra.Command{
	Use:   "detect",
	Short: "Detect ffmpeg and the encoder that would be used",
	Long: `Locate ffmpeg, list its encoders and run encoder selection for the
configured stream.hw_accel preference. The result is printed as JSON.

Examples:
  matchcast detect --pretty
  MATCHCAST_STREAM_HW_ACCEL=vaapi matchcast detect`,
	RunE: runDetect,
}

func init() {
	rootCmd.AddCommand(detectCmd)
	detectCmd.Flags().Bool("pretty", false, "pretty-print JSON output")
	detectCmd.Flags().Duration("timeout", 30*time.Second, "detection timeout")
}

// DetectionResult is the JSON printed by detect.
type DetectionResult struct {
	FFmpeg     *ffmpeg.BinaryInfo    `json:"ffmpeg,omitempty"`
	Error      string                `json:"error,omitempty"`
	Preference string                `json:"preference"`
	Profile    ffmpeg.EncoderProfile `json:"profile"`
	Hardware   bool                  `json:"hardware"`
}

func runDetect(cmd *cobra.Command, _ []string) error {
	timeout, _ := cmd.Flags().GetDuration("timeout")
	pretty, _ := cmd.Flags().GetBool("pretty")

	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	pref, err := ffmpeg.ParseHWAccel(loaded.Stream.HWAccel)
	if err != nil {
		return err
	}

	logger := observability.WithComponent(slog.Default(), "detect")
	detector := ffmpeg.NewBinaryDetector(loaded.Binaries.FFmpeg).
		WithProbeTimeout(loaded.Resilience.ProbeTimeout)

	result := DetectionResult{Preference: string(pref)}
	if info, err := detector.Detect(ctx); err != nil {
		result.Error = err.Error()
	} else {
		result.FFmpeg = info
	}

	result.Profile = ffmpeg.NewEncoderSelector(detector, logger).Select(ctx, pref)
	result.Hardware = !result.Profile.IsSoftware()

	var output []byte
	if pretty {
		output, err = json.MarshalIndent(result, "", "  ")
	} else {
		output, err = json.Marshal(result)
	}
	if err != nil {
		return fmt.Errorf("marshaling result: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(output))
	return nil
}
