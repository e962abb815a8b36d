package llm

import "errors"

// ErrDecodeNoise marks a record that looked like data but could not be
// decoded into an event: malformed JSON, heartbeats, metadata-only chunks.
// Noise is skipped and never aborts a stream.
var ErrDecodeNoise = errors.New("undecodable stream record")

// Kind classifies the result of decoding one upstream record.
type Kind int

const (
	// KindNone means the record carries nothing to forward.
	KindNone Kind = iota

	// KindDelta carries one incremental fragment of generated text.
	KindDelta

	// KindDone is the upstream termination sentinel.
	KindDone

	// KindError is an error reported in-band by the upstream after the
	// stream was opened.
	KindError
)

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindDelta:
		return "delta"
	case KindDone:
		return "done"
	case KindError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is the decoded form of one upstream record.
type Event struct {
	Kind Kind

	// Text is the delta text for KindDelta, or the error message for KindError.
	Text string
}

// Delta returns a KindDelta event.
func Delta(text string) Event {
	return Event{Kind: KindDelta, Text: text}
}

// Done returns a KindDone event.
func Done() Event {
	return Event{Kind: KindDone}
}

// None returns a KindNone event.
func None() Event {
	return Event{}
}
