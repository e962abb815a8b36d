package eventstream

import (
	"time"

	"github.com/google/uuid"
)

const (
	// SchemaVersionV1 is the first version of the event payload schema.
	SchemaVersionV1 = 1

	// EventTypeRelayCompleted is emitted once a relayed stream reaches Closed.
	EventTypeRelayCompleted = "relay.stream.completed"
)

// RelayCompletedEvent is a transport-neutral event payload for a finished relay.
type RelayCompletedEvent struct {
	SchemaVersion int              `json:"schema_version"`
	EventType     string           `json:"event_type"`
	EventID       string           `json:"event_id"`
	EmittedAt     time.Time        `json:"emitted_at"`
	Source        EventSource      `json:"source"`
	RequestMeta   RelayRequestMeta `json:"request_meta"`
}

// EventSource identifies the upstream that served the relay.
type EventSource struct {
	Provider string `json:"provider"`
	Model    string `json:"model,omitempty"`
}

// RelayRequestMeta captures request lifecycle metadata for the event.
type RelayRequestMeta struct {
	RequestID    string    `json:"request_id"`
	StartedAt    time.Time `json:"started_at"`
	CompletedAt  time.Time `json:"completed_at"`
	DurationMs   int64     `json:"duration_ms"`
	Outcome      string    `json:"outcome"`
	Deltas       int       `json:"deltas"`
	ContentBytes int       `json:"content_bytes"`
	Error        string    `json:"error,omitempty"`
}

// NewRelayCompletedEvent stamps a fresh event ID and emission time onto the
// given source and request metadata.
func NewRelayCompletedEvent(source EventSource, meta RelayRequestMeta) *RelayCompletedEvent {
	return &RelayCompletedEvent{
		SchemaVersion: SchemaVersionV1,
		EventType:     EventTypeRelayCompleted,
		EventID:       uuid.NewString(),
		EmittedAt:     time.Now().UTC(),
		Source:        source,
		RequestMeta:   meta,
	}
}
