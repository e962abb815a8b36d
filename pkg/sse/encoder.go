package sse

import (
	"io"

	"github.com/tidwall/sjson"
)

// Encoder writes relay records to a downstream sink. Every record is written
// with a single Write call so a pipe-backed sink hands it to the client as
// one unit.
//
// Output framing:
//
//	data: {"content":"<text>"}\n\n
//	data: {"error":"<message>"}\n\n
//	data: [DONE]\n\n
//	: keep-alive\n\n
type Encoder struct {
	w io.Writer
}

// NewEncoder returns an Encoder writing to w.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: w}
}

// WriteDelta writes one content record carrying text.
func (e *Encoder) WriteDelta(text string) error {
	payload, err := sjson.SetBytes([]byte(`{}`), "content", text)
	if err != nil {
		return err
	}
	return e.writeData(payload)
}

// WriteDone writes the termination record.
func (e *Encoder) WriteDone() error {
	return e.writeData([]byte(DoneSentinel))
}

// WriteError writes an error record followed by the termination record.
func (e *Encoder) WriteError(message string) error {
	payload, err := sjson.SetBytes([]byte(`{}`), "error", message)
	if err != nil {
		return err
	}
	if err := e.writeData(payload); err != nil {
		return err
	}
	return e.WriteDone()
}

// WriteKeepAlive writes a comment record, which consumers ignore.
func (e *Encoder) WriteKeepAlive() error {
	_, err := e.w.Write([]byte(": keep-alive\n\n"))
	return err
}

func (e *Encoder) writeData(payload []byte) error {
	rec := make([]byte, 0, len(DataField)+2+len(payload)+2)
	rec = append(rec, DataField...)
	rec = append(rec, ':', ' ')
	rec = append(rec, payload...)
	rec = append(rec, '\n', '\n')

	_, err := e.w.Write(rec)
	return err
}
