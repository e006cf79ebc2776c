package pipeline

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/jmylchreest/matchcast/internal/ffmpeg"
	"github.com/jmylchreest/matchcast/internal/observability"
)

// Default teardown bounds.
const (
	DefaultStopGrace    = 5 * time.Second
	DefaultKillGrace    = 2 * time.Second
	DefaultDrainTimeout = 5 * time.Second
)

// ExecutorConfig holds everything needed to run a pipeline except the video.
type ExecutorConfig struct {
	YtdlpPath   string
	FFmpegPath  string
	YtdlpFormat string

	Profile ffmpeg.EncoderProfile
	Publish ffmpeg.PublishOptions // SinkURL must already carry the token

	StopGrace    time.Duration
	KillGrace    time.Duration
	DrainTimeout time.Duration

	// MonitorInterval enables encode process sampling when positive.
	MonitorInterval time.Duration
}

func (c *ExecutorConfig) applyDefaults() {
	if c.StopGrace <= 0 {
		c.StopGrace = DefaultStopGrace
	}
	if c.KillGrace <= 0 {
		c.KillGrace = DefaultKillGrace
	}
	if c.DrainTimeout <= 0 {
		c.DrainTimeout = DefaultDrainTimeout
	}
}

// Executor runs the retrieval and encode processes for one video at a time.
type Executor struct {
	cfg    ExecutorConfig
	logger *slog.Logger

	// runMu makes Run single-flight.
	runMu sync.Mutex

	// mu guards the processes of the in-flight run, which Terminate may
	// read from another goroutine.
	mu      sync.Mutex
	running []*process
	monitor *ffmpeg.ProcessMonitor
	stats   *ffmpeg.ProcessStats
}

// NewExecutor creates a new pipeline executor.
func NewExecutor(cfg ExecutorConfig, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	cfg.applyDefaults()
	return &Executor{
		cfg:    cfg,
		logger: observability.WithComponent(logger, "executor"),
	}
}

// Run streams one video and returns exactly one outcome. Cancelling ctx
// stops both processes and yields Cancelled. Run never returns an error:
// start failures map to RetrievalError or EncodingError.
func (e *Executor) Run(ctx context.Context, video VideoDescriptor) Outcome {
	e.runMu.Lock()
	defer e.runMu.Unlock()

	if ctx.Err() != nil {
		return Cancelled
	}

	logger := observability.WithCorrelationID(e.logger, observability.NewCorrelationID()).
		With(slog.String("video_id", video.ID))

	retrieval := newProcess(StageRetrieval, e.cfg.YtdlpPath,
		RetrievalArgs(e.cfg.YtdlpFormat, video.ID), logger)
	encode := newProcess(StageEncode, e.cfg.FFmpegPath,
		ffmpeg.PublishArgs(e.cfg.Profile, e.cfg.Publish), logger)

	logger.Info("starting pipeline",
		slog.String("video", video.String()),
		slog.String("encoder", e.cfg.Profile.Name),
		slog.String("sink_url", e.cfg.Publish.SinkURL),
	)

	pr, pw, err := os.Pipe()
	if err != nil {
		logger.Error("creating media pipe", slog.String("error", err.Error()))
		return e.startFailure(ctx, RetrievalError)
	}
	retrieval.cmd.Stdout = pw
	encode.cmd.Stdin = pr

	if err := retrieval.start(); err != nil {
		_ = pr.Close()
		_ = pw.Close()
		logger.Error("failed to start retrieval process", slog.String("error", err.Error()))
		return e.startFailure(ctx, RetrievalError)
	}
	e.track(retrieval)

	if err := encode.start(); err != nil {
		_ = pr.Close()
		_ = pw.Close()
		logger.Error("failed to start encode process", slog.String("error", err.Error()))
		e.Terminate()
		<-retrieval.done
		retrieval.joinDrain(e.cfg.DrainTimeout)
		e.untrack()
		return e.startFailure(ctx, EncodingError)
	}
	e.track(encode)

	// Both children now hold the media pipe. Dropping our copies means the
	// encoder exiting surfaces as a broken pipe in the retrieval process.
	_ = pr.Close()
	_ = pw.Close()

	e.startMonitor(encode.pid())
	stop := context.AfterFunc(ctx, e.Terminate)
	defer stop()

	started := time.Now()
	<-encode.done
	<-retrieval.done

	e.stopMonitor()
	e.untrack()

	retrieval.joinDrain(e.cfg.DrainTimeout)
	encode.joinDrain(e.cfg.DrainTimeout)

	attrs := []any{
		slog.Int("retrieval_exit", retrieval.exitCode()),
		slog.Int("encode_exit", encode.exitCode()),
		slog.Duration("duration", time.Since(started)),
	}

	if ctx.Err() != nil {
		// The AfterFunc may still be mid-protocol; run it synchronously on
		// whatever remains so nothing outlives the run.
		e.Terminate()
		logger.Info("pipeline cancelled", attrs...)
		return Cancelled
	}

	if retrieval.waitErr == nil && encode.waitErr == nil {
		logger.Info("pipeline finished", attrs...)
		return Success
	}

	outcome, phrase := classify(retrieval.Lines(), encode.Lines())
	logger.Warn("pipeline failed", append(attrs,
		slog.String("outcome", outcome.String()),
		slog.String("matched", phrase),
	)...)
	return outcome
}

// startFailure maps a process creation failure, preferring Cancelled.
func (e *Executor) startFailure(ctx context.Context, outcome Outcome) Outcome {
	if ctx.Err() != nil {
		return Cancelled
	}
	return outcome
}

// Terminate runs the termination protocol on the processes of the in-flight
// run. Safe to call from any goroutine, and a no-op when idle.
func (e *Executor) Terminate() {
	terminate(e.snapshot(), e.cfg.StopGrace, e.cfg.KillGrace, e.logger)
}

// Stats returns the last resource sample of the encode process, if any run
// has been monitored.
func (e *Executor) Stats() (ffmpeg.ProcessStats, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.monitor != nil {
		return e.monitor.Stats(), true
	}
	if e.stats != nil {
		return *e.stats, true
	}
	return ffmpeg.ProcessStats{}, false
}

func (e *Executor) track(p *process) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.running = append(e.running, p)
}

func (e *Executor) untrack() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.running = nil
}

// snapshot copies the running set so signalling happens outside the lock.
func (e *Executor) snapshot() []*process {
	e.mu.Lock()
	defer e.mu.Unlock()

	procs := make([]*process, len(e.running))
	copy(procs, e.running)
	return procs
}

func (e *Executor) startMonitor(pid int) {
	if e.cfg.MonitorInterval <= 0 || pid == 0 {
		return
	}

	monitor := ffmpeg.NewProcessMonitor(pid)
	monitor.SetInterval(e.cfg.MonitorInterval)
	monitor.Start()

	e.mu.Lock()
	e.monitor = monitor
	e.mu.Unlock()
}

func (e *Executor) stopMonitor() {
	e.mu.Lock()
	monitor := e.monitor
	e.monitor = nil
	e.mu.Unlock()

	if monitor == nil {
		return
	}
	monitor.Stop()
	stats := monitor.Stats()

	e.mu.Lock()
	e.stats = &stats
	e.mu.Unlock()
}
