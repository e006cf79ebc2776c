// Package resilience drives the streaming loop: it pulls videos from a
// source, runs them through the pipeline with per-video retries, and applies
// cooldowns, backoff and a circuit breaker between items.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jmylchreest/matchcast/internal/observability"
	"github.com/jmylchreest/matchcast/internal/pipeline"
)

var (
	// ErrNoVideos is returned by a VideoSource whose pool came out empty.
	ErrNoVideos = errors.New("no videos available")

	// ErrCircuitOpen marks the pause taken after too many consecutive failures.
	ErrCircuitOpen = errors.New("circuit breaker open")
)

// Runner executes one pipeline run per call.
type Runner interface {
	Run(ctx context.Context, video pipeline.VideoDescriptor) pipeline.Outcome
}

// VideoSource supplies videos to stream.
type VideoSource interface {
	// BuildPool (re)loads the pool and returns its size.
	BuildPool(ctx context.Context) (int, error)
	// NextVideo returns the next video, or false when none is available.
	NextVideo(ctx context.Context) (*pipeline.VideoDescriptor, bool)
}

// Config holds the retry and pause policy.
type Config struct {
	// MaxRetriesPerVideo is the number of extra runs after the first failure.
	// Default: 2
	MaxRetriesPerVideo int

	// RetryDelay is the pause between runs of the same video.
	// Default: 5 seconds
	RetryDelay time.Duration

	// ErrorCooldown follows a retrieval or encoding failure.
	// Default: 10 seconds
	ErrorCooldown time.Duration

	// CircuitThreshold is the consecutive failure count that opens the breaker.
	// Default: 10
	CircuitThreshold int

	// CircuitPause is how long the breaker stays open.
	// Default: 60 seconds
	CircuitPause time.Duration

	// ExhaustedPause precedes a pool rebuild when no video is available.
	// Default: 60 seconds
	ExhaustedPause time.Duration

	// MaxBackoff caps the sink failure backoff.
	// Default: 120 seconds
	MaxBackoff time.Duration
}

// DefaultConfig returns the default controller configuration.
func DefaultConfig() Config {
	return Config{
		MaxRetriesPerVideo: 2,
		RetryDelay:         5 * time.Second,
		ErrorCooldown:      10 * time.Second,
		CircuitThreshold:   10,
		CircuitPause:       60 * time.Second,
		ExhaustedPause:     60 * time.Second,
		MaxBackoff:         120 * time.Second,
	}
}

// Controller owns the consecutive failure counter and the loop state.
type Controller struct {
	cfg     Config
	runner  Runner
	source  VideoSource
	sleeper Sleeper
	logger  *slog.Logger

	mu     sync.RWMutex
	status Status
}

// NewController creates a controller with the given policy.
func NewController(runner Runner, source VideoSource, cfg Config) *Controller {
	if cfg.MaxRetriesPerVideo < 0 {
		cfg.MaxRetriesPerVideo = 0
	}
	return &Controller{
		cfg:     cfg,
		runner:  runner,
		source:  source,
		sleeper: TimerSleeper{},
		logger:  observability.WithComponent(slog.Default(), "controller"),
		status: Status{
			State:  StateStopped,
			Totals: make(map[pipeline.Outcome]int64),
		},
	}
}

// WithLogger sets a custom logger.
func (c *Controller) WithLogger(logger *slog.Logger) *Controller {
	c.logger = observability.WithComponent(logger, "controller")
	return c
}

// WithSleeper replaces the timer-based sleeper.
func (c *Controller) WithSleeper(s Sleeper) *Controller {
	c.sleeper = s
	return c
}

// Run drives the loop until ctx is cancelled. Pipeline failures never end
// the loop; it returns nil on shutdown.
func (c *Controller) Run(ctx context.Context) error {
	c.mu.Lock()
	if c.status.State != StateStopped {
		c.mu.Unlock()
		return fmt.Errorf("controller already running")
	}
	c.status.State = StateRunning
	c.status.StartedAt = time.Now()
	c.mu.Unlock()

	defer c.setState(StateStopped)

	c.logger.Info("streaming loop started",
		slog.Int("max_retries_per_video", c.cfg.MaxRetriesPerVideo),
		slog.Int("circuit_threshold", c.cfg.CircuitThreshold),
	)

	for ctx.Err() == nil {
		if err := c.iterate(ctx); err != nil {
			break
		}
	}

	c.logger.Info("streaming loop stopped")
	return nil
}

// iterate performs one pass of the loop. A non-nil error means a sleep was
// interrupted by shutdown.
func (c *Controller) iterate(ctx context.Context) error {
	if failures := c.failures(); failures >= c.cfg.CircuitThreshold {
		c.setState(StateCircuitOpen)
		observability.WithError(c.logger, fmt.Errorf("%w: %d consecutive failures", ErrCircuitOpen, failures)).Warn(
			"pausing stream loop",
			slog.Duration("pause", c.cfg.CircuitPause),
		)
		c.mu.Lock()
		c.status.CircuitTrips++
		c.mu.Unlock()

		if err := c.sleeper.Sleep(ctx, c.cfg.CircuitPause); err != nil {
			return err
		}
		c.mu.Lock()
		c.status.ConsecutiveFailures = 0
		c.mu.Unlock()
		c.setState(StateRunning)
		return nil
	}

	video, ok := c.source.NextVideo(ctx)
	if !ok {
		return c.replenish(ctx)
	}

	outcome := c.runVideo(ctx, *video)
	return c.apply(ctx, *video, outcome)
}

// replenish waits and asks the source to rebuild its pool.
func (c *Controller) replenish(ctx context.Context) error {
	c.setState(StateCoolingDown)
	observability.WithError(c.logger, ErrNoVideos).Warn("video pool exhausted, waiting before rebuild",
		slog.Duration("pause", c.cfg.ExhaustedPause),
	)
	if err := c.sleeper.Sleep(ctx, c.cfg.ExhaustedPause); err != nil {
		return err
	}

	count, err := c.source.BuildPool(ctx)
	if err != nil {
		observability.WithError(c.logger, err).Error("failed to rebuild video pool")
	} else {
		c.logger.Info("video pool rebuilt", slog.Int("videos", count))
	}
	c.setState(StateRunning)
	return nil
}

// runVideo runs one video up to MaxRetriesPerVideo+1 times.
func (c *Controller) runVideo(ctx context.Context, video pipeline.VideoDescriptor) pipeline.Outcome {
	attempts := c.cfg.MaxRetriesPerVideo + 1
	c.mu.Lock()
	c.status.CurrentVideo = &video
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.status.CurrentVideo = nil
		c.status.Attempt = 0
		c.mu.Unlock()
	}()

	var outcome pipeline.Outcome
	for attempt := 1; attempt <= attempts; attempt++ {
		c.mu.Lock()
		c.status.Attempt = attempt
		c.mu.Unlock()

		c.logger.Info("streaming video",
			slog.String("video", video.String()),
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", attempts),
		)

		outcome = c.runner.Run(ctx, video)
		c.record(outcome)

		if !outcome.Retryable() || attempt == attempts {
			break
		}

		c.logger.Warn("run failed, retrying video",
			slog.String("video", video.String()),
			slog.String("outcome", outcome.String()),
			slog.Int("attempt", attempt),
			slog.Duration("retry_delay", c.cfg.RetryDelay),
		)
		c.setState(StateRetryingItem)
		if err := c.sleeper.Sleep(ctx, c.cfg.RetryDelay); err != nil {
			return pipeline.Cancelled
		}
	}
	c.setState(StateRunning)
	return outcome
}

// apply updates the failure counter for the final outcome of a video and
// takes the matching pause.
func (c *Controller) apply(ctx context.Context, video pipeline.VideoDescriptor, outcome pipeline.Outcome) error {
	logger := c.logger.With(
		slog.String("video", video.String()),
		slog.String("outcome", outcome.String()),
	)

	switch outcome {
	case pipeline.Success:
		c.mu.Lock()
		c.status.ConsecutiveFailures = 0
		c.mu.Unlock()
		logger.Info("video finished")
		return nil
	case pipeline.Cancelled:
		return nil
	case pipeline.SourceUnavailable:
		logger.Warn("video unavailable, skipping",
			slog.Int("consecutive_failures", c.failures()),
		)
		return nil
	}

	c.mu.Lock()
	c.status.ConsecutiveFailures++
	failures := c.status.ConsecutiveFailures
	c.mu.Unlock()

	pause := c.cfg.ErrorCooldown
	if outcome == pipeline.SinkError {
		pause = SinkBackoff(failures, c.cfg.MaxBackoff)
	}
	logger.Warn("video failed, cooling down",
		slog.Int("consecutive_failures", failures),
		slog.Duration("pause", pause),
	)

	c.setState(StateCoolingDown)
	if err := c.sleeper.Sleep(ctx, pause); err != nil {
		return err
	}
	c.setState(StateRunning)
	return nil
}

func (c *Controller) failures() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status.ConsecutiveFailures
}

func (c *Controller) record(outcome pipeline.Outcome) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.status.Totals[outcome]++
	c.status.Runs++
	c.status.LastOutcome = outcome.String()
	c.status.LastOutcomeAt = time.Now()
}

func (c *Controller) setState(state State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.status.State = state
}
