package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jmylchreest/matchcast/internal/cache"
	"github.com/jmylchreest/matchcast/internal/config"
	"github.com/jmylchreest/matchcast/internal/ffmpeg"
	internalhttp "github.com/jmylchreest/matchcast/internal/http"
	"github.com/jmylchreest/matchcast/internal/http/handlers"
	"github.com/jmylchreest/matchcast/internal/observability"
	"github.com/jmylchreest/matchcast/internal/picker"
	"github.com/jmylchreest/matchcast/internal/pipeline"
	"github.com/jmylchreest/matchcast/internal/resilience"
	"github.com/jmylchreest/matchcast/internal/tba"
	"github.com/jmylchreest/matchcast/internal/util"
	"github.com/jmylchreest/matchcast/internal/version"
	"github.com/jmylchreest/matchcast/pkg/format"
)

// monitorInterval is how often the running ffmpeg is sampled for /status.
const monitorInterval = 5 * time.Second

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Stream match videos until interrupted",
	Long: `Build the video pool from The Blue Alliance and stream one video after
another to the configured RTMP endpoint.

The command exits non-zero only when startup fails: an invalid config,
an unreachable API, or an empty pool. A missing yt-dlp or ffmpeg is logged
and then surfaces as a failed run, which the retry and circuit breaker
logic absorbs. Once streaming it runs until SIGINT or SIGTERM.`,
	RunE: runStream,
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().Bool("health", false, "serve /health and /status (overrides health.enabled)")
}

func runStream(cmd *cobra.Command, _ []string) error {
	cfg, err := validatedConfig()
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("health") {
		cfg.Health.Enabled, _ = cmd.Flags().GetBool("health")
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := slog.Default()
	logger.Info("starting matchcast",
		slog.String("version", version.Version),
		slog.String("sink", observability.RedactURL(cfg.Stream.RTMPURL)),
	)

	ytdlpPath := resolveBinary(logger, "yt-dlp", func() (string, error) {
		return util.FindBinary("yt-dlp", cfg.Binaries.Ytdlp, util.YtdlpBinaryEnv)
	})
	detector := ffmpeg.NewBinaryDetector(cfg.Binaries.FFmpeg).WithProbeTimeout(cfg.Resilience.ProbeTimeout)
	ffmpegPath := resolveBinary(logger, "ffmpeg", detector.Path)

	pref, err := ffmpeg.ParseHWAccel(cfg.Stream.HWAccel)
	if err != nil {
		return err
	}
	profile := ffmpeg.NewEncoderSelector(detector, observability.WithComponent(logger, "encoder")).Select(ctx, pref)

	store, err := cache.Open(ctx, cfg.TBA.CachePath, cfg.TBA.CacheTTL, logger)
	if err != nil {
		return fmt.Errorf("opening etag cache: %w", err)
	}
	defer store.Close()

	client := tba.NewClient(tba.Config{
		APIKey:       cfg.TBA.APIKey,
		BaseURL:      cfg.TBA.BaseURL,
		RequestDelay: cfg.TBA.RequestDelay,
		Timeout:      cfg.TBA.Timeout,
	}, store, logger)

	source := picker.New(client, cfg.Filters, cfg.TBA.CacheTTL, logger)
	if err := buildPool(ctx, logger, source); err != nil {
		return err
	}

	executor := pipeline.NewExecutor(executorConfig(cfg, ytdlpPath, ffmpegPath, profile), logger)
	controller := resilience.NewController(executor, source, controllerConfig(cfg)).WithLogger(logger)

	serverDone := make(chan error, 1)
	if cfg.Health.Enabled {
		srv := internalhttp.NewServer(serverConfig(cfg.Health), logger)
		handlers.NewHealthHandler().Register(srv.API())
		handlers.NewStatusHandler(controller).
			WithEncoder(executor).
			WithUpstream(client).
			Register(srv.API())
		go func() { serverDone <- srv.ListenAndServe(ctx) }()
	} else {
		close(serverDone)
	}

	runErr := controller.Run(ctx)
	stop()
	if srvErr := <-serverDone; srvErr != nil {
		logger.Error("health server failed", slog.String("error", srvErr.Error()))
	}

	final := controller.Status()
	logger.Info("matchcast stopped",
		slog.String("runs", format.Number(final.Runs)),
		slog.Any("totals", final.Totals),
	)
	return runErr
}

// resolveBinary returns the located executable or, when lookup fails, the
// bare name. Each run then reports the missing tool as a start failure.
func resolveBinary(logger *slog.Logger, name string, find func() (string, error)) string {
	path, err := find()
	if err != nil {
		logger.Warn("executable not found, runs will fail until it is installed",
			slog.String("binary", name),
			slog.String("error", err.Error()),
		)
		return name
	}
	return path
}

func buildPool(ctx context.Context, logger *slog.Logger, source *picker.Picker) (err error) {
	done := observability.TimedOperationWithError(ctx, logger, "build_pool", &err)
	defer done()

	n, err := source.BuildPool(ctx)
	if errors.Is(err, resilience.ErrNoVideos) {
		return fmt.Errorf("no match videos found for the configured filters: %w", err)
	}
	if err != nil {
		return fmt.Errorf("building video pool: %w", err)
	}
	logger.Info("video pool ready", slog.Int("videos", n))
	return nil
}

func executorConfig(cfg *config.Config, ytdlpPath, ffmpegPath string, profile ffmpeg.EncoderProfile) pipeline.ExecutorConfig {
	return pipeline.ExecutorConfig{
		YtdlpPath:   ytdlpPath,
		FFmpegPath:  ffmpegPath,
		YtdlpFormat: cfg.Stream.YtdlpFormat,
		Profile:     profile,
		Publish: ffmpeg.PublishOptions{
			VideoBitrate: cfg.Stream.VideoBitrate,
			AudioBitrate: cfg.Stream.AudioBitrate,
			Preset:       cfg.Stream.Preset,
			VAAPIDevice:  cfg.Stream.VAAPIDevice,
			SinkURL:      pipeline.SinkURL(cfg.Stream.RTMPURL, cfg.Stream.RTMPToken),
		},
		StopGrace:       cfg.Resilience.StopGrace,
		KillGrace:       cfg.Resilience.KillGrace,
		DrainTimeout:    cfg.Resilience.DrainTimeout,
		MonitorInterval: monitorInterval,
	}
}

func controllerConfig(cfg *config.Config) resilience.Config {
	return resilience.Config{
		MaxRetriesPerVideo: cfg.Stream.MaxRetriesPerVideo,
		RetryDelay:         cfg.Stream.RetryDelay,
		ErrorCooldown:      cfg.Stream.ErrorCooldown,
		CircuitThreshold:   cfg.Resilience.CircuitThreshold,
		CircuitPause:       cfg.Resilience.CircuitPause,
		ExhaustedPause:     cfg.Resilience.ExhaustedPause,
		MaxBackoff:         cfg.Resilience.MaxBackoff,
	}
}

func serverConfig(h config.HealthConfig) internalhttp.ServerConfig {
	sc := internalhttp.DefaultServerConfig()
	sc.Host = h.Host
	sc.Port = h.Port
	return sc
}
