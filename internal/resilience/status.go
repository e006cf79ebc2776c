package resilience

import (
	"maps"
	"time"

	"github.com/jmylchreest/matchcast/internal/pipeline"
)

// State is the controller's position in the loop.
type State string

const (
	StateRunning      State = "running"
	StateRetryingItem State = "retrying_item"
	StateCoolingDown  State = "cooling_down"
	StateCircuitOpen  State = "circuit_open"
	StateStopped      State = "stopped"
)

// Status is a point-in-time copy of the controller state.
type Status struct {
	State               State                      `json:"state"`
	ConsecutiveFailures int                        `json:"consecutive_failures"`
	CurrentVideo        *pipeline.VideoDescriptor  `json:"current_video,omitempty"`
	Attempt             int                        `json:"attempt,omitempty"`
	Runs                int64                      `json:"runs"`
	Totals              map[pipeline.Outcome]int64 `json:"totals"`
	CircuitTrips        int                        `json:"circuit_trips"`
	LastOutcome         string                     `json:"last_outcome,omitempty"`
	LastOutcomeAt       time.Time                  `json:"last_outcome_at,omitzero"`
	StartedAt           time.Time                  `json:"started_at,omitzero"`
}

// Status returns a snapshot safe to use after the lock is released.
func (c *Controller) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()

	s := c.status
	s.Totals = maps.Clone(c.status.Totals)
	if c.status.CurrentVideo != nil {
		video := *c.status.CurrentVideo
		s.CurrentVideo = &video
	}
	return s
}
