package handlers

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/jmylchreest/matchcast/internal/ffmpeg"
	"github.com/jmylchreest/matchcast/internal/pipeline"
	"github.com/jmylchreest/matchcast/internal/resilience"
	"github.com/jmylchreest/matchcast/pkg/format"
	"github.com/jmylchreest/matchcast/pkg/httpclient"
)

// ControllerSource reports the streaming loop state.
type ControllerSource interface {
	Status() resilience.Status
}

// EncoderSource reports the live ffmpeg process, if any.
type EncoderSource interface {
	Stats() (ffmpeg.ProcessStats, bool)
}

// UpstreamSource reports the TBA transport breaker.
type UpstreamSource interface {
	CircuitStats() httpclient.CircuitBreakerStats
}

// StatusHandler serves GET /status. Encoder and upstream are optional.
type StatusHandler struct {
	controller ControllerSource
	encoder    EncoderSource
	upstream   UpstreamSource
	now        func() time.Time
}

func NewStatusHandler(controller ControllerSource) *StatusHandler {
	return &StatusHandler{controller: controller, now: time.Now}
}

// WithEncoder attaches the executor's process stats.
func (h *StatusHandler) WithEncoder(encoder EncoderSource) *StatusHandler {
	h.encoder = encoder
	return h
}

// WithUpstream attaches the API client's circuit breaker stats.
func (h *StatusHandler) WithUpstream(upstream UpstreamSource) *StatusHandler {
	h.upstream = upstream
	return h
}

type StatusInput struct{}

type StatusOutput struct {
	Body StatusResponse
}

type StatusResponse struct {
	Summary    string               `json:"summary"`
	Controller ControllerStatus     `json:"controller"`
	Encoder    *ffmpeg.ProcessStats `json:"encoder,omitempty"`
	Upstream   *UpstreamStatus      `json:"upstream,omitempty"`
}

type ControllerStatus struct {
	State               string           `json:"state"`
	ConsecutiveFailures int              `json:"consecutive_failures"`
	CurrentVideo        *VideoStatus     `json:"current_video,omitempty"`
	Attempt             int              `json:"attempt,omitempty"`
	Runs                int64            `json:"runs"`
	Totals              map[string]int64 `json:"totals"`
	CircuitTrips        int              `json:"circuit_trips"`
	LastOutcome         string           `json:"last_outcome,omitempty"`
	LastOutcomeAt       *time.Time       `json:"last_outcome_at,omitempty"`
	StartedAt           *time.Time       `json:"started_at,omitempty"`
}

type VideoStatus struct {
	ID    string `json:"id"`
	Label string `json:"label,omitempty"`
	URL   string `json:"url"`
}

type UpstreamStatus struct {
	State               string     `json:"state"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
	TotalRequests       int64      `json:"total_requests"`
	TotalFailures       int64      `json:"total_failures"`
	LastFailure         *time.Time `json:"last_failure,omitempty"`
}

// Register adds the status operation to api.
func (h *StatusHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "getStatus",
		Method:      http.MethodGet,
		Path:        "/status",
		Summary:     "Stream status",
		Description: "Returns the resilience controller snapshot, the running ffmpeg process and the upstream API breaker",
		Tags:        []string{"Stream"},
	}, h.GetStatus)
}

func (h *StatusHandler) GetStatus(_ context.Context, _ *StatusInput) (*StatusOutput, error) {
	status := h.controller.Status()
	resp := StatusResponse{Controller: controllerStatus(status)}

	if h.encoder != nil {
		if stats, ok := h.encoder.Stats(); ok {
			resp.Encoder = &stats
		}
	}
	if h.upstream != nil {
		resp.Upstream = upstreamStatus(h.upstream.CircuitStats())
	}
	resp.Summary = summarize(status, resp.Encoder, h.now())
	return &StatusOutput{Body: resp}, nil
}

// summarize renders a one-line human description, for example
// "running, 1,204 runs, last success 3 minutes ago, ffmpeg 61.2 MB RSS".
func summarize(s resilience.Status, encoder *ffmpeg.ProcessStats, now time.Time) string {
	parts := []string{string(s.State), format.Number(s.Runs) + " runs"}
	if s.ConsecutiveFailures > 0 {
		parts = append(parts, fmt.Sprintf("%d consecutive failures", s.ConsecutiveFailures))
	}
	if s.LastOutcome != "" && !s.LastOutcomeAt.IsZero() {
		parts = append(parts, "last "+s.LastOutcome+" "+format.Ago(s.LastOutcomeAt, now))
	}
	if encoder != nil {
		parts = append(parts, "ffmpeg "+format.Bytes(encoder.MemoryRSSBytes)+" RSS")
	}
	return strings.Join(parts, ", ")
}

func controllerStatus(s resilience.Status) ControllerStatus {
	out := ControllerStatus{
		State:               string(s.State),
		ConsecutiveFailures: s.ConsecutiveFailures,
		Attempt:             s.Attempt,
		Runs:                s.Runs,
		Totals:              make(map[string]int64, len(s.Totals)),
		CircuitTrips:        s.CircuitTrips,
		LastOutcome:         s.LastOutcome,
		LastOutcomeAt:       timePtr(s.LastOutcomeAt),
		StartedAt:           timePtr(s.StartedAt),
	}
	for outcome, n := range s.Totals {
		out.Totals[outcome.String()] = n
	}
	if v := s.CurrentVideo; v != nil {
		out.CurrentVideo = &VideoStatus{ID: v.ID, Label: v.Label, URL: pipeline.WatchURL(v.ID)}
	}
	return out
}

func upstreamStatus(s httpclient.CircuitBreakerStats) *UpstreamStatus {
	return &UpstreamStatus{
		State:               s.State.String(),
		ConsecutiveFailures: s.ConsecutiveFailures,
		TotalRequests:       s.TotalRequests,
		TotalFailures:       s.TotalFailures,
		LastFailure:         timePtr(s.LastFailure),
	}
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
