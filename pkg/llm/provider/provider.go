package provider

import (
	"net/http"

	"github.com/papercomputeco/relay/pkg/llm"
	"github.com/papercomputeco/relay/pkg/sse"
)

// Provider defines the wire contract of one upstream generation API: how a
// request is built and addressed, and how its responses are decoded into the
// internal representation.
type Provider interface {
	// Name returns the canonical provider name (e.g., "openai", "anthropic")
	Name() string

	// Path is the endpoint path appended to the configured upstream base URL.
	Path() string

	// SetHeaders sets authentication and API-version headers on an outgoing
	// upstream request.
	SetHeaders(h http.Header, apiKey string)

	// NewRequest encodes req in the provider's request format.
	NewRequest(req *llm.ChatRequest) ([]byte, error)

	// ParseResponse converts a provider-specific, non-streaming response into
	// the internal format.
	ParseResponse(payload []byte) (*llm.ChatResponse, error)

	// DecodeRecord interprets one complete stream record. It is a pure
	// function of the record: records that carry nothing to forward yield
	// llm.KindNone, and records that look like data but cannot be decoded
	// additionally return an error wrapping llm.ErrDecodeNoise.
	DecodeRecord(rec sse.Record) (llm.Event, error)
}
