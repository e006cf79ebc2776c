package resilience

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/matchcast/internal/pipeline"
)

// fakeRunner returns scripted outcomes in order, repeating the last one.
type fakeRunner struct {
	mu       sync.Mutex
	outcomes []pipeline.Outcome
	calls    []pipeline.VideoDescriptor
}

func (r *fakeRunner) Run(_ context.Context, video pipeline.VideoDescriptor) pipeline.Outcome {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.calls = append(r.calls, video)
	idx := min(len(r.calls)-1, len(r.outcomes)-1)
	return r.outcomes[idx]
}

func (r *fakeRunner) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

// fakeSource hands out a fixed list of videos, then reports exhaustion.
type fakeSource struct {
	mu       sync.Mutex
	videos   []pipeline.VideoDescriptor
	next     int
	rebuilds int
	buildErr error
}

func (s *fakeSource) BuildPool(context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rebuilds++
	return len(s.videos), s.buildErr
}

func (s *fakeSource) NextVideo(context.Context) (*pipeline.VideoDescriptor, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.next >= len(s.videos) {
		return nil, false
	}
	v := s.videos[s.next]
	s.next++
	return &v, true
}

// endless returns a source that always has the same video.
type endless struct{ video pipeline.VideoDescriptor }

func (endless) BuildPool(context.Context) (int, error) { return 1, nil }

func (e endless) NextVideo(context.Context) (*pipeline.VideoDescriptor, bool) {
	v := e.video
	return &v, true
}

// recordingSleeper records requested durations and cancels the loop once
// stopAfter sleeps have been taken.
type recordingSleeper struct {
	mu        sync.Mutex
	durations []time.Duration
	stopAfter int
	cancel    context.CancelFunc
}

func (s *recordingSleeper) Sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.durations = append(s.durations, d)
	n := len(s.durations)
	s.mu.Unlock()

	if s.stopAfter > 0 && n >= s.stopAfter {
		s.cancel()
	}
	return ctx.Err()
}

func (s *recordingSleeper) slept() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]time.Duration, len(s.durations))
	copy(out, s.durations)
	return out
}

func testConfig() Config {
	return Config{
		MaxRetriesPerVideo: 2,
		RetryDelay:         10 * time.Second,
		ErrorCooldown:      30 * time.Second,
		CircuitThreshold:   10,
		CircuitPause:       60 * time.Second,
		ExhaustedPause:     45 * time.Second,
		MaxBackoff:         120 * time.Second,
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var testVideo = pipeline.VideoDescriptor{ID: "abc123", Label: "2024casj qm1"}

func newTestController(runner Runner, source VideoSource, sleeper Sleeper) *Controller {
	return NewController(runner, source, testConfig()).
		WithLogger(discardLogger()).
		WithSleeper(sleeper)
}

func TestRunVideo_RetriesUpToLimit(t *testing.T) {
	runner := &fakeRunner{outcomes: []pipeline.Outcome{pipeline.EncodingError}}
	sleeper := &recordingSleeper{}
	c := newTestController(runner, &fakeSource{}, sleeper)

	outcome := c.runVideo(context.Background(), testVideo)

	assert.Equal(t, pipeline.EncodingError, outcome)
	assert.Equal(t, 3, runner.callCount())
	assert.Equal(t, []time.Duration{10 * time.Second, 10 * time.Second}, sleeper.slept())

	require.NoError(t, c.apply(context.Background(), testVideo, outcome))
	assert.Equal(t, 1, c.Status().ConsecutiveFailures)
	assert.Equal(t, []time.Duration{10 * time.Second, 10 * time.Second, 30 * time.Second}, sleeper.slept())
}

func TestRunVideo_StopsEarly(t *testing.T) {
	tests := []struct {
		name     string
		outcomes []pipeline.Outcome
		calls    int
		expected pipeline.Outcome
	}{
		{"success first", []pipeline.Outcome{pipeline.Success}, 1, pipeline.Success},
		{"success after retry", []pipeline.Outcome{pipeline.SinkError, pipeline.Success}, 2, pipeline.Success},
		{"source unavailable", []pipeline.Outcome{pipeline.SourceUnavailable}, 1, pipeline.SourceUnavailable},
		{"cancelled", []pipeline.Outcome{pipeline.RetrievalError, pipeline.Cancelled}, 2, pipeline.Cancelled},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := &fakeRunner{outcomes: tt.outcomes}
			c := newTestController(runner, &fakeSource{}, &recordingSleeper{})

			assert.Equal(t, tt.expected, c.runVideo(context.Background(), testVideo))
			assert.Equal(t, tt.calls, runner.callCount())
		})
	}
}

func TestRunVideo_NoRetries(t *testing.T) {
	runner := &fakeRunner{outcomes: []pipeline.Outcome{pipeline.RetrievalError}}
	sleeper := &recordingSleeper{}
	cfg := testConfig()
	cfg.MaxRetriesPerVideo = 0
	c := NewController(runner, &fakeSource{}, cfg).WithLogger(discardLogger()).WithSleeper(sleeper)

	assert.Equal(t, pipeline.RetrievalError, c.runVideo(context.Background(), testVideo))
	assert.Equal(t, 1, runner.callCount())
	assert.Empty(t, sleeper.slept())
}

func TestRunVideo_CancelledDuringRetryDelay(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	runner := &fakeRunner{outcomes: []pipeline.Outcome{pipeline.EncodingError}}
	sleeper := &recordingSleeper{stopAfter: 1, cancel: cancel}
	c := newTestController(runner, &fakeSource{}, sleeper)

	assert.Equal(t, pipeline.Cancelled, c.runVideo(ctx, testVideo))
	assert.Equal(t, 1, runner.callCount())
}

func TestApply(t *testing.T) {
	tests := []struct {
		name     string
		prior    int
		outcome  pipeline.Outcome
		failures int
		slept    []time.Duration
	}{
		{"success resets", 7, pipeline.Success, 0, nil},
		{"cancelled unchanged", 4, pipeline.Cancelled, 4, nil},
		{"source unavailable unchanged", 4, pipeline.SourceUnavailable, 4, nil},
		{"retrieval cooldown", 0, pipeline.RetrievalError, 1, []time.Duration{30 * time.Second}},
		{"encoding cooldown", 3, pipeline.EncodingError, 4, []time.Duration{30 * time.Second}},
		{"sink backoff", 5, pipeline.SinkError, 6, []time.Duration{64 * time.Second}},
		{"sink backoff first failure", 0, pipeline.SinkError, 1, []time.Duration{2 * time.Second}},
		{"sink backoff capped", 8, pipeline.SinkError, 9, []time.Duration{120 * time.Second}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sleeper := &recordingSleeper{}
			c := newTestController(&fakeRunner{}, &fakeSource{}, sleeper)
			c.status.ConsecutiveFailures = tt.prior

			require.NoError(t, c.apply(context.Background(), testVideo, tt.outcome))
			assert.Equal(t, tt.failures, c.Status().ConsecutiveFailures)
			if tt.slept == nil {
				assert.Empty(t, sleeper.slept())
			} else {
				assert.Equal(t, tt.slept, sleeper.slept())
			}
		})
	}
}

func TestSinkBackoff(t *testing.T) {
	limit := 120 * time.Second
	assert.Equal(t, time.Second, SinkBackoff(0, limit))
	assert.Equal(t, 64*time.Second, SinkBackoff(6, limit))
	assert.Equal(t, limit, SinkBackoff(7, limit))
	assert.Equal(t, limit, SinkBackoff(63, limit))
	assert.Equal(t, time.Second, SinkBackoff(-1, limit))
}

func TestRun_CircuitBreakerOpensAndResets(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	runner := &fakeRunner{outcomes: []pipeline.Outcome{pipeline.RetrievalError}}

	cfg := testConfig()
	cfg.MaxRetriesPerVideo = 0
	cfg.CircuitThreshold = 3

	// Three failures each followed by a cooldown, then the breaker pause.
	sleeper := &recordingSleeper{stopAfter: 4, cancel: cancel}
	c := NewController(runner, endless{video: testVideo}, cfg).WithLogger(discardLogger()).WithSleeper(sleeper)

	require.NoError(t, c.Run(ctx))

	assert.Equal(t, 3, runner.callCount())
	assert.Equal(t, []time.Duration{
		30 * time.Second, 30 * time.Second, 30 * time.Second,
		60 * time.Second,
	}, sleeper.slept())

	status := c.Status()
	assert.Equal(t, 1, status.CircuitTrips)
	assert.Equal(t, 3, status.ConsecutiveFailures, "pause was interrupted before the reset")
	assert.Equal(t, StateStopped, status.State)
}

func TestRun_CircuitBreakerResetsCounter(t *testing.T) {
	runner := &fakeRunner{outcomes: []pipeline.Outcome{pipeline.Success}}
	c := newTestController(runner, &fakeSource{}, &recordingSleeper{})
	c.status.ConsecutiveFailures = 10

	require.NoError(t, c.iterate(context.Background()))

	status := c.Status()
	assert.Equal(t, 0, status.ConsecutiveFailures)
	assert.Equal(t, 1, status.CircuitTrips)
	assert.Equal(t, 0, runner.callCount())
}

func TestRun_ExhaustedPoolRebuilds(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	source := &fakeSource{buildErr: errors.New("tba unreachable")}
	sleeper := &recordingSleeper{stopAfter: 2, cancel: cancel}
	c := newTestController(&fakeRunner{}, source, sleeper)

	require.NoError(t, c.Run(ctx))

	assert.Equal(t, []time.Duration{45 * time.Second, 45 * time.Second}, sleeper.slept())
	assert.Equal(t, 1, source.rebuilds, "second pause was interrupted")
}

func TestRun_StreamsVideosInOrder(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	other := pipeline.VideoDescriptor{ID: "def456"}
	source := &fakeSource{videos: []pipeline.VideoDescriptor{testVideo, other}}
	runner := &fakeRunner{outcomes: []pipeline.Outcome{pipeline.Success}}
	sleeper := &recordingSleeper{stopAfter: 1, cancel: cancel}
	c := newTestController(runner, source, sleeper)

	require.NoError(t, c.Run(ctx))

	assert.Equal(t, []pipeline.VideoDescriptor{testVideo, other}, runner.calls)
	status := c.Status()
	assert.Equal(t, int64(2), status.Runs)
	assert.Equal(t, int64(2), status.Totals[pipeline.Success])
	assert.Equal(t, "success", status.LastOutcome)
	assert.Nil(t, status.CurrentVideo)
}

func TestRun_StopsOnCancelledOutcome(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	runner := &cancellingRunner{cancel: cancel}
	c := newTestController(runner, endless{video: testVideo}, &recordingSleeper{})

	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("controller did not stop after cancellation")
	}
	assert.Equal(t, 1, runner.calls)
	assert.Equal(t, 0, c.Status().ConsecutiveFailures)
}

func TestRun_RejectsConcurrentRun(t *testing.T) {
	c := newTestController(&fakeRunner{}, &fakeSource{}, &recordingSleeper{})
	c.status.State = StateRunning

	assert.Error(t, c.Run(context.Background()))
}

func TestStatus_IsACopy(t *testing.T) {
	c := newTestController(&fakeRunner{}, &fakeSource{}, &recordingSleeper{})
	c.record(pipeline.SinkError)

	status := c.Status()
	status.Totals[pipeline.SinkError] = 99

	assert.Equal(t, int64(1), c.Status().Totals[pipeline.SinkError])
}

// cancellingRunner simulates shutdown arriving mid-run.
type cancellingRunner struct {
	cancel context.CancelFunc
	calls  int
}

func (r *cancellingRunner) Run(context.Context, pipeline.VideoDescriptor) pipeline.Outcome {
	r.calls++
	r.cancel()
	return pipeline.Cancelled
}

func TestTimerSleeper(t *testing.T) {
	var s TimerSleeper

	require.NoError(t, s.Sleep(context.Background(), 10*time.Millisecond))
	require.NoError(t, s.Sleep(context.Background(), 0))

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	start := time.Now()
	err := s.Sleep(ctx, time.Minute)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), 5*time.Second)

	assert.ErrorIs(t, s.Sleep(ctx, time.Minute), context.Canceled)
}
