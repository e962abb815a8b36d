// Package sse provides a minimal, purpose-built line framer and encoder for
// the "data:" record streams spoken by LLM providers and by the relay itself.
//
// The Framer turns arbitrarily chunked upstream bytes back into complete
// records; the Encoder writes relay records to a downstream sink.
//
// See the SSE specification:
// https://html.spec.whatwg.org/multipage/server-sent-events.html
package sse

import "strings"

const (
	// DataField is the field name of a data-bearing record.
	DataField = "data"

	// DoneSentinel is the literal payload marking end of stream in-band.
	DoneSentinel = "[DONE]"
)

// Record is one complete line of a line-delimited event stream, without its
// line terminator.
type Record string

// Data returns the payload of a "data:" record and true, or "" and false for
// any other record (blank lines, comments, other fields).
//
// Per the SSE spec, a single space after the colon is optional and stripped
// if present.
func (r Record) Data() (string, bool) {
	field, value, ok := strings.Cut(string(r), ":")
	if !ok || field != DataField {
		return "", false
	}
	return strings.TrimPrefix(value, " "), true
}

// IsBlank reports whether the record holds only whitespace. Blank records
// separate events and carry no data.
func (r Record) IsBlank() bool {
	return strings.TrimSpace(string(r)) == ""
}

// IsComment reports whether the record is an SSE comment line (":" prefix),
// typically used by upstreams as a keep-alive.
func (r Record) IsComment() bool {
	return strings.HasPrefix(string(r), ":")
}
