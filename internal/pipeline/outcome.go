// Package pipeline runs one retrieval process chained to one encode process
// for a single video and reports how the run ended.
package pipeline

import "fmt"

// VideoDescriptor identifies the item to stream. It is never mutated once
// handed to the executor.
type VideoDescriptor struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

func (v VideoDescriptor) String() string {
	if v.Label == "" {
		return v.ID
	}
	return fmt.Sprintf("%s (%s)", v.Label, v.ID)
}

// Outcome is the terminal result of exactly one pipeline run.
type Outcome int

const (
	Success Outcome = iota
	// SourceUnavailable means the video is permanently inaccessible.
	SourceUnavailable
	RetrievalError
	EncodingError
	// SinkError means the push to the streaming endpoint failed.
	SinkError
	// Cancelled means shutdown was requested. It is not a failure.
	Cancelled
)

var outcomeNames = map[Outcome]string{
	Success:           "success",
	SourceUnavailable: "source_unavailable",
	RetrievalError:    "retrieval_error",
	EncodingError:     "encoding_error",
	SinkError:         "sink_error",
	Cancelled:         "cancelled",
}

// Outcomes lists every outcome in declaration order.
func Outcomes() []Outcome {
	return []Outcome{Success, SourceUnavailable, RetrievalError, EncodingError, SinkError, Cancelled}
}

func (o Outcome) String() string {
	if name, ok := outcomeNames[o]; ok {
		return name
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

// MarshalText implements encoding.TextMarshaler.
func (o Outcome) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

// IsFailure reports whether the outcome counts towards consecutive failures.
func (o Outcome) IsFailure() bool {
	switch o {
	case RetrievalError, EncodingError, SinkError:
		return true
	default:
		return false
	}
}

// Retryable reports whether another attempt at the same video may help.
func (o Outcome) Retryable() bool {
	return o.IsFailure()
}
