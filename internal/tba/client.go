// Package tba is a read-only client for The Blue Alliance API v3 with rate
// limiting and ETag-based conditional requests.
package tba

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/jmylchreest/matchcast/internal/cache"
	"github.com/jmylchreest/matchcast/pkg/httpclient"
)

// DefaultBaseURL is the public API root.
const DefaultBaseURL = "https://www.thebluealliance.com/api/v3"

const (
	headerAuthKey     = "X-TBA-Auth-Key"
	headerIfNoneMatch = "If-None-Match"
	headerETag        = "ETag"
)

// ErrUnauthorized is returned when the API key is rejected.
var ErrUnauthorized = errors.New("tba: api key rejected")

// StatusError is returned for unexpected HTTP status codes.
type StatusError struct {
	URL    string
	Status int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("tba: unexpected status %d for %s", e.Status, e.URL)
}

// Config configures the client.
type Config struct {
	APIKey  string
	BaseURL string

	// RequestDelay is the minimum gap between requests. 0 disables limiting.
	RequestDelay time.Duration

	Timeout time.Duration
}

// Client fetches events and matches.
type Client struct {
	baseURL string
	apiKey  string
	http    *httpclient.Client
	limiter *rate.Limiter
	etags   cache.Store
	logger  *slog.Logger
}

// NewClient creates a client. A nil store disables conditional requests.
func NewClient(cfg Config, store cache.Store, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "tba"))

	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	httpCfg := httpclient.DefaultConfig()
	httpCfg.Logger = logger
	if cfg.Timeout > 0 {
		httpCfg.Timeout = cfg.Timeout
	}

	// Burst of one so consecutive requests are spaced by RequestDelay.
	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RequestDelay > 0 {
		limiter = rate.NewLimiter(rate.Every(cfg.RequestDelay), 1)
	}

	return &Client{
		baseURL: baseURL,
		apiKey:  cfg.APIKey,
		http:    httpclient.New(httpCfg),
		limiter: limiter,
		etags:   store,
		logger:  logger,
	}
}

// Events returns every event of a season.
func (c *Client) Events(ctx context.Context, year int) ([]Event, error) {
	var events []Event
	if err := c.get(ctx, fmt.Sprintf("/events/%d", year), &events); err != nil {
		return nil, fmt.Errorf("fetching events for %d: %w", year, err)
	}
	c.logger.Info("fetched events", slog.Int("year", year), slog.Int("count", len(events)))
	return events, nil
}

// EventMatches returns the matches of one event.
func (c *Client) EventMatches(ctx context.Context, eventKey string) ([]Match, error) {
	var matches []Match
	if err := c.get(ctx, "/event/"+eventKey+"/matches", &matches); err != nil {
		return nil, fmt.Errorf("fetching matches for event %s: %w", eventKey, err)
	}
	c.logger.Debug("fetched event matches", slog.String("event", eventKey), slog.Int("count", len(matches)))
	return matches, nil
}

// TeamMatchKeys returns the keys of every match a team played in a season.
func (c *Client) TeamMatchKeys(ctx context.Context, team, year int) (map[string]struct{}, error) {
	var keys []string
	if err := c.get(ctx, fmt.Sprintf("/team/frc%d/matches/%d/keys", team, year), &keys); err != nil {
		return nil, fmt.Errorf("fetching match keys for team %d in %d: %w", team, year, err)
	}
	set := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		set[k] = struct{}{}
	}
	c.logger.Debug("fetched team match keys",
		slog.Int("team", team),
		slog.Int("year", year),
		slog.Int("count", len(set)),
	)
	return set, nil
}

// CircuitStats exposes the transport breaker for status reporting.
func (c *Client) CircuitStats() httpclient.CircuitBreakerStats {
	return c.http.CircuitStats()
}

// get performs a rate-limited conditional GET and decodes the JSON body
// into out. A 304 decodes the cached body instead.
func (c *Client) get(ctx context.Context, path string, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	url := c.baseURL + path
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set(headerAuthKey, c.apiKey)
	req.Header.Set("Accept", "application/json")

	cached, haveCached := c.lookup(ctx, url)
	if haveCached {
		req.Header.Set(headerIfNoneMatch, cached.ETag)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotModified && haveCached:
		c.logger.Debug("cache hit (304)", slog.String("path", path))
		return decode(cached.Body, out)
	case resp.StatusCode == http.StatusUnauthorized:
		return ErrUnauthorized
	case resp.StatusCode != http.StatusOK:
		return &StatusError{URL: url, Status: resp.StatusCode}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}
	if err := decode(body, out); err != nil {
		return err
	}

	if etag := resp.Header.Get(headerETag); etag != "" && c.etags != nil {
		if err := c.etags.Put(ctx, url, cache.Entry{ETag: etag, Body: body}); err != nil {
			c.logger.Warn("storing etag", slog.String("path", path), slog.String("error", err.Error()))
		}
	}
	return nil
}

func (c *Client) lookup(ctx context.Context, url string) (cache.Entry, bool) {
	if c.etags == nil {
		return cache.Entry{}, false
	}
	entry, ok, err := c.etags.Get(ctx, url)
	if err != nil {
		c.logger.Warn("reading etag cache", slog.String("url", url), slog.String("error", err.Error()))
		return cache.Entry{}, false
	}
	return entry, ok
}

func decode(body []byte, out any) error {
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}
