package httpclient

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastConfig() Config {
	cfg := DefaultConfig()
	cfg.RetryDelay = 10 * time.Millisecond
	cfg.RetryMaxDelay = 20 * time.Millisecond
	return cfg
}

// get issues a GET through the client's retrying Do.
func get(ctx context.Context, client *Client, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	return client.Do(req)
}

func TestNew(t *testing.T) {
	t.Run("with default config", func(t *testing.T) {
		client := New(DefaultConfig())
		assert.NotNil(t, client.client)
		assert.NotNil(t, client.breaker)
		assert.NotNil(t, client.logger)
	})

	t.Run("with custom base client", func(t *testing.T) {
		baseClient := &http.Client{Timeout: 5 * time.Second}
		cfg := DefaultConfig()
		cfg.BaseClient = baseClient
		client := New(cfg)
		assert.Equal(t, baseClient, client.client)
	})

	t.Run("fills zero values", func(t *testing.T) {
		client := New(Config{})
		assert.Equal(t, DefaultBackoffMultiplier, client.config.BackoffMultiplier)
		assert.Equal(t, DefaultCircuitThreshold, client.breaker.threshold)
	})
}

func TestClient_Do(t *testing.T) {
	t.Run("successful request", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodGet, r.Method)
			_, _ = w.Write([]byte(`{"status":"ok"}`))
		}))
		defer server.Close()

		resp, err := get(context.Background(), New(DefaultConfig()), server.URL)
		require.NoError(t, err)
		defer resp.Body.Close()

		assert.Equal(t, http.StatusOK, resp.StatusCode)
		body, _ := io.ReadAll(resp.Body)
		assert.Equal(t, `{"status":"ok"}`, string(body))
	})

	t.Run("sets default headers", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "matchcast-test/1.0", r.Header.Get(HeaderUserAgent))
			assert.Equal(t, DefaultAcceptEncodingHeader, r.Header.Get(HeaderAcceptEncoding))
		}))
		defer server.Close()

		cfg := DefaultConfig()
		cfg.UserAgent = "matchcast-test/1.0"
		resp, err := get(context.Background(), New(cfg), server.URL)
		require.NoError(t, err)
		resp.Body.Close()
	})

	t.Run("invalid url", func(t *testing.T) {
		_, err := get(context.Background(), New(DefaultConfig()), "://bad")
		assert.Error(t, err)
	})
}

func TestClient_Retries(t *testing.T) {
	t.Run("retries on 503 then succeeds", func(t *testing.T) {
		var attempts int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if atomic.AddInt32(&attempts, 1) < 3 {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			_, _ = w.Write([]byte("success"))
		}))
		defer server.Close()

		cfg := fastConfig()
		cfg.RetryAttempts = 3
		resp, err := get(context.Background(), New(cfg), server.URL)
		require.NoError(t, err)
		defer resp.Body.Close()

		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, int32(3), atomic.LoadInt32(&attempts))
	})

	t.Run("returns error after max retries", func(t *testing.T) {
		var attempts int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&attempts, 1)
			w.WriteHeader(http.StatusTooManyRequests)
		}))
		defer server.Close()

		cfg := fastConfig()
		cfg.RetryAttempts = 2
		_, err := get(context.Background(), New(cfg), server.URL)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrMaxRetries)
		assert.Equal(t, int32(3), atomic.LoadInt32(&attempts)) // initial + 2 retries
	})

	t.Run("does not retry on 404", func(t *testing.T) {
		var attempts int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&attempts, 1)
			w.WriteHeader(http.StatusNotFound)
		}))
		defer server.Close()

		cfg := fastConfig()
		cfg.RetryAttempts = 3
		resp, err := get(context.Background(), New(cfg), server.URL)
		require.NoError(t, err)
		resp.Body.Close()

		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
		assert.Equal(t, int32(1), atomic.LoadInt32(&attempts))
	})

	t.Run("respects context cancellation", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			time.Sleep(200 * time.Millisecond)
		}))
		defer server.Close()

		client := New(fastConfig())
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()

		_, err := get(ctx, client, server.URL)
		require.Error(t, err)
		assert.Equal(t, CircuitClosed, client.CircuitStats().State, "own cancellation is not an upstream failure")
		assert.Equal(t, 0, client.CircuitStats().ConsecutiveFailures)
	})
}

func TestClient_Decompression(t *testing.T) {
	payload := `[{"key":"2024casj"}]`

	tests := []struct {
		name     string
		encoding string
		encode   func(w io.Writer) io.WriteCloser
	}{
		{"gzip", EncodingGzip, func(w io.Writer) io.WriteCloser { return gzip.NewWriter(w) }},
		{"deflate", EncodingDeflate, func(w io.Writer) io.WriteCloser {
			fw, _ := flate.NewWriter(w, flate.DefaultCompression)
			return fw
		}},
		{"brotli", EncodingBrotli, func(w io.Writer) io.WriteCloser { return brotli.NewWriter(w) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set(HeaderContentEncoding, tt.encoding)
				enc := tt.encode(w)
				_, _ = enc.Write([]byte(payload))
				_ = enc.Close()
			}))
			defer server.Close()

			resp, err := get(context.Background(), New(DefaultConfig()), server.URL)
			require.NoError(t, err)
			defer resp.Body.Close()

			body, err := io.ReadAll(resp.Body)
			require.NoError(t, err)
			assert.Equal(t, payload, string(body))
		})
	}

	t.Run("uncompressed", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte("plain text"))
		}))
		defer server.Close()

		resp, err := get(context.Background(), New(DefaultConfig()), server.URL)
		require.NoError(t, err)
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		assert.Equal(t, "plain text", string(body))
	})
}

func TestClient_MaxResponseSize(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(HeaderContentEncoding, EncodingGzip)
		gw := gzip.NewWriter(w)
		_, _ = gw.Write(bytes.Repeat([]byte("a"), 10_000))
		_ = gw.Close()
	}))
	defer server.Close()

	cfg := DefaultConfig()
	cfg.MaxResponseSize = 1000
	resp, err := get(context.Background(), New(cfg), server.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	_, err = io.ReadAll(resp.Body)
	assert.ErrorIs(t, err, ErrResponseTooLarge)
}

func TestLimitedReader(t *testing.T) {
	r := newLimitedReader(io.NopCloser(strings.NewReader("hello")), 5)
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	r = newLimitedReader(io.NopCloser(strings.NewReader("hello world")), 5)
	_, err = io.ReadAll(r)
	assert.ErrorIs(t, err, ErrResponseTooLarge)

	n, err := r.Read(make([]byte, 10))
	assert.Zero(t, n)
	assert.ErrorIs(t, err, ErrResponseTooLarge)
	assert.NoError(t, r.Close())
}

func TestCircuitBreaker(t *testing.T) {
	t.Run("opens after threshold failures", func(t *testing.T) {
		cb := NewCircuitBreaker(3, 100*time.Millisecond, 1)
		assert.Equal(t, CircuitClosed, cb.State())

		cb.RecordFailure()
		cb.RecordFailure()
		assert.Equal(t, CircuitClosed, cb.State())

		cb.RecordFailure()
		assert.Equal(t, CircuitOpen, cb.State())
		assert.False(t, cb.Allow())
	})

	t.Run("success clears consecutive failures", func(t *testing.T) {
		cb := NewCircuitBreaker(3, 100*time.Millisecond, 1)
		cb.RecordFailure()
		cb.RecordFailure()
		cb.RecordSuccess()
		cb.RecordFailure()
		assert.Equal(t, CircuitClosed, cb.State())
		assert.Equal(t, 1, cb.Stats().ConsecutiveFailures)
	})

	t.Run("half-open probe success closes", func(t *testing.T) {
		cb := NewCircuitBreaker(1, 10*time.Millisecond, 1)
		cb.RecordFailure()
		time.Sleep(20 * time.Millisecond)

		assert.True(t, cb.Allow())
		assert.Equal(t, CircuitHalfOpen, cb.State())
		assert.False(t, cb.Allow(), "only one probe in flight")

		cb.RecordSuccess()
		assert.Equal(t, CircuitClosed, cb.State())
	})

	t.Run("half-open probe failure reopens", func(t *testing.T) {
		cb := NewCircuitBreaker(1, 10*time.Millisecond, 1)
		cb.RecordFailure()
		time.Sleep(20 * time.Millisecond)
		cb.Allow()

		cb.RecordFailure()
		assert.Equal(t, CircuitOpen, cb.State())
	})

	t.Run("stats", func(t *testing.T) {
		cb := NewCircuitBreaker(5, time.Minute, 1)
		cb.RecordSuccess()
		cb.RecordFailure()

		stats := cb.Stats()
		assert.Equal(t, CircuitClosed, stats.State)
		assert.Equal(t, int64(2), stats.TotalRequests)
		assert.Equal(t, int64(1), stats.TotalFailures)
		assert.Equal(t, 1, stats.ConsecutiveFailures)
		assert.False(t, stats.LastFailure.IsZero())
	})
}

func TestCircuitState_String(t *testing.T) {
	tests := []struct {
		state    CircuitState
		expected string
	}{
		{CircuitClosed, "closed"},
		{CircuitOpen, "open"},
		{CircuitHalfOpen, "half-open"},
		{CircuitState(99), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.state.String())
		})
	}
}

func TestClient_CircuitBreakerIntegration(t *testing.T) {
	var attempts int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	cfg := fastConfig()
	cfg.RetryAttempts = 0
	cfg.CircuitThreshold = 3
	cfg.CircuitTimeout = time.Minute
	client := New(cfg)

	for range 5 {
		_, _ = get(context.Background(), client, server.URL)
	}

	assert.Equal(t, CircuitOpen, client.CircuitStats().State)
	assert.Equal(t, int32(3), atomic.LoadInt32(&attempts))

	_, err := get(context.Background(), client, server.URL)
	assert.ErrorIs(t, err, ErrMaxRetries)
	assert.ErrorIs(t, err, ErrCircuitOpen)
}

func TestClient_NotModifiedIsHealthy(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotModified)
	}))
	defer server.Close()

	cfg := fastConfig()
	cfg.CircuitThreshold = 1
	client := New(cfg)

	for range 3 {
		resp, err := get(context.Background(), client, server.URL)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusNotModified, resp.StatusCode)
	}
	assert.Equal(t, CircuitClosed, client.CircuitStats().State)
}

func TestStatusPredicates(t *testing.T) {
	for _, code := range []int{429, 502, 503, 504} {
		assert.True(t, isRetryableStatus(code), code)
	}
	for _, code := range []int{200, 304, 400, 404, 500} {
		assert.False(t, isRetryableStatus(code), code)
	}

	assert.True(t, isAcceptableStatus(http.StatusOK))
	assert.True(t, isAcceptableStatus(http.StatusNotModified))
	assert.True(t, isAcceptableStatus(http.StatusNotFound))
	assert.False(t, isAcceptableStatus(http.StatusInternalServerError))
}
