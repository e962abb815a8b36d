package relay

import (
	"errors"
)

// State is a phase of one relay invocation.
type State int

const (
	StateIdle State = iota
	StateRequesting
	StateStreaming
	StateDraining
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRequesting:
		return "requesting"
	case StateStreaming:
		return "streaming"
	case StateDraining:
		return "draining"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Outcome summarizes how an invocation ended.
type Outcome string

const (
	// OutcomeCompleted means the upstream finished and the consumer received
	// every delta followed by the termination record.
	OutcomeCompleted Outcome = "completed"

	// OutcomeFailed means an upstream failure was reported to the consumer
	// (or, before the stream opened, to the HTTP caller).
	OutcomeFailed Outcome = "failed"

	// OutcomeCancelled means the consumer went away or the invocation was
	// cancelled.
	OutcomeCancelled Outcome = "cancelled"
)

var (
	// ErrClientCancelled marks an invocation stopped by its consumer, a
	// deadline or server shutdown. It is never written to the consumer.
	ErrClientCancelled = errors.New("client cancelled")

	// ErrUpstreamStream marks a failure after the upstream started
	// streaming: a broken read or an error object sent in-band.
	ErrUpstreamStream = errors.New("upstream stream error")

	// errInternal replaces a recovered panic. Its message is what the
	// consumer sees.
	errInternal = errors.New("internal error")
)
