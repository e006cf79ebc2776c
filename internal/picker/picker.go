// Package picker builds the shuffled pool of match videos the streaming loop
// draws from.
package picker

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/jmylchreest/matchcast/internal/config"
	"github.com/jmylchreest/matchcast/internal/pipeline"
	"github.com/jmylchreest/matchcast/internal/resilience"
	"github.com/jmylchreest/matchcast/internal/tba"
)

// API is the subset of the TBA client the picker needs.
type API interface {
	Events(ctx context.Context, year int) ([]tba.Event, error)
	EventMatches(ctx context.Context, eventKey string) ([]tba.Match, error)
	TeamMatchKeys(ctx context.Context, team, year int) (map[string]struct{}, error)
}

// Picker holds the current pool and hands out videos in shuffled order.
type Picker struct {
	api     API
	filters config.FiltersConfig
	ttl     time.Duration
	logger  *slog.Logger
	now     func() time.Time
	shuffle func([]tba.MatchVideo)

	mu      sync.Mutex
	pool    []tba.MatchVideo
	index   int
	builtAt time.Time
}

var _ resilience.VideoSource = (*Picker)(nil)

// New creates a picker. ttl controls when an exhausted pool is rebuilt
// rather than reshuffled.
func New(api API, filters config.FiltersConfig, ttl time.Duration, logger *slog.Logger) *Picker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Picker{
		api:     api,
		filters: filters,
		ttl:     ttl,
		logger:  logger.With(slog.String("component", "picker")),
		now:     time.Now,
		shuffle: func(v []tba.MatchVideo) {
			rand.Shuffle(len(v), func(i, j int) { v[i], v[j] = v[j], v[i] })
		},
	}
}

// BuildPool rebuilds the pool from the API and returns its size. An empty
// pool is reported as resilience.ErrNoVideos.
func (p *Picker) BuildPool(ctx context.Context) (int, error) {
	p.logger.Info("building video pool")

	events, err := p.resolveEvents(ctx)
	if err != nil {
		return 0, err
	}
	p.logger.Info("resolved events", slog.Int("count", len(events)))

	videos := p.fetchVideos(ctx, events)
	p.logger.Info("found raw videos", slog.Int("count", len(videos)))

	teamKeys, err := p.teamMatchKeys(ctx)
	if err != nil {
		return 0, err
	}
	if teamKeys != nil {
		videos = slices.DeleteFunc(videos, func(v tba.MatchVideo) bool {
			_, ok := teamKeys[v.MatchKey]
			return !ok
		})
		p.logger.Info("after team filter", slog.Int("count", len(videos)))
	}

	if len(p.filters.CompLevels) > 0 {
		videos = slices.DeleteFunc(videos, func(v tba.MatchVideo) bool {
			return !slices.Contains(p.filters.CompLevels, v.CompLevel)
		})
		p.logger.Info("after comp level filter", slog.Int("count", len(videos)))
	}

	videos = dedupe(videos)
	p.shuffle(videos)

	p.mu.Lock()
	p.pool = videos
	p.index = 0
	p.builtAt = p.now()
	p.mu.Unlock()

	p.logger.Info("video pool built", slog.Int("videos", len(videos)))
	if len(videos) == 0 {
		return 0, resilience.ErrNoVideos
	}
	return len(videos), nil
}

// NextVideo returns the next video. An exhausted pool is rebuilt when older
// than the TTL and reshuffled otherwise.
func (p *Picker) NextVideo(ctx context.Context) (*pipeline.VideoDescriptor, bool) {
	p.mu.Lock()
	exhausted := p.index >= len(p.pool)
	expired := p.now().Sub(p.builtAt) >= p.ttl
	p.mu.Unlock()

	if exhausted {
		if expired {
			p.logger.Info("pool exhausted and ttl expired, rebuilding")
			if _, err := p.BuildPool(ctx); err != nil {
				p.logger.Warn("rebuilding pool", slog.String("error", err.Error()))
			}
		} else {
			p.logger.Info("pool exhausted, reshuffling")
			p.mu.Lock()
			p.shuffle(p.pool)
			p.index = 0
			p.mu.Unlock()
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.index >= len(p.pool) {
		p.logger.Error("video pool is empty")
		return nil, false
	}
	v := p.pool[p.index]
	p.index++
	return &pipeline.VideoDescriptor{ID: v.YouTubeID, Label: v.Label}, true
}

// Size returns the number of videos in the pool.
func (p *Picker) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pool)
}

func (p *Picker) resolveEvents(ctx context.Context) ([]tba.Event, error) {
	if len(p.filters.Events) > 0 {
		p.logger.Info("using configured events", slog.Int("count", len(p.filters.Events)))
		events := make([]tba.Event, 0, len(p.filters.Events))
		for _, key := range p.filters.Events {
			events = append(events, tba.Event{Key: key, Name: key, Year: tba.YearFromKey(key)})
		}
		return events, nil
	}

	var events []tba.Event
	for _, year := range p.filters.Years {
		yearEvents, err := p.api.Events(ctx, year)
		if err != nil {
			return nil, fmt.Errorf("resolving events: %w", err)
		}
		events = append(events, yearEvents...)
	}

	if len(p.filters.States) > 0 {
		events = slices.DeleteFunc(events, func(e tba.Event) bool {
			return !containsFold(p.filters.States, e.StateProv)
		})
		p.logger.Info("after state filter", slog.Int("count", len(events)))
	}
	if len(p.filters.Districts) > 0 {
		events = slices.DeleteFunc(events, func(e tba.Event) bool {
			d := e.DistrictAbbrev()
			return d == "" || !containsFold(p.filters.Districts, d)
		})
		p.logger.Info("after district filter", slog.Int("count", len(events)))
	}
	return events, nil
}

// fetchVideos collects videos event by event; a failing event is skipped.
func (p *Picker) fetchVideos(ctx context.Context, events []tba.Event) []tba.MatchVideo {
	var videos []tba.MatchVideo
	for _, e := range events {
		matches, err := p.api.EventMatches(ctx, e.Key)
		if err != nil {
			if ctx.Err() != nil {
				return videos
			}
			p.logger.Warn("skipping event",
				slog.String("event", e.Key),
				slog.String("error", err.Error()),
			)
			continue
		}
		videos = append(videos, tba.ExtractVideos(matches)...)
	}
	return videos
}

// teamMatchKeys returns nil when no team filter is set. Failing lookups are
// skipped.
func (p *Picker) teamMatchKeys(ctx context.Context) (map[string]struct{}, error) {
	if len(p.filters.Teams) == 0 {
		return nil, nil
	}

	years := p.filters.Years
	if len(p.filters.Events) > 0 {
		var fromEvents []int
		for _, key := range p.filters.Events {
			if y := tba.YearFromKey(key); y != 0 && !slices.Contains(fromEvents, y) {
				fromEvents = append(fromEvents, y)
			}
		}
		if len(fromEvents) > 0 {
			years = fromEvents
		}
	}

	keys := make(map[string]struct{})
	for _, team := range p.filters.Teams {
		for _, year := range years {
			teamKeys, err := p.api.TeamMatchKeys(ctx, team, year)
			if err != nil {
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				p.logger.Warn("skipping team lookup",
					slog.Int("team", team),
					slog.Int("year", year),
					slog.String("error", err.Error()),
				)
				continue
			}
			for k := range teamKeys {
				keys[k] = struct{}{}
			}
		}
	}
	p.logger.Info("team filter resolved match keys", slog.Int("count", len(keys)))
	return keys, nil
}

func dedupe(videos []tba.MatchVideo) []tba.MatchVideo {
	seen := make(map[string]struct{}, len(videos))
	out := videos[:0]
	for _, v := range videos {
		if _, ok := seen[v.YouTubeID]; ok {
			continue
		}
		seen[v.YouTubeID] = struct{}{}
		out = append(out, v)
	}
	return out
}

func containsFold(list []string, s string) bool {
	return slices.ContainsFunc(list, func(item string) bool {
		return strings.EqualFold(item, s)
	})
}
