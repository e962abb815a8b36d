package sse

import (
	"bytes"
	"strings"
)

// Framer reassembles newline-delimited records from a byte stream whose chunk
// boundaries are unrelated to record boundaries.
//
// ┌──────────────────┐
// │  upstream chunk  │
// └──────────────────┘
// │
// ▼
// ┌──────────────────┐   ┌───────────────────────┐
// │  Framer.Feed()   │──▶│ tail (partial record) │
// └──────────────────┘   └───────────────────────┘
// │
// ▼
// ┌──────────────────┐
// │ complete Records │
// └──────────────────┘
//
// Framing happens on raw bytes and a record is only converted to a string
// once its terminator has arrived. A multi-byte UTF-8 character split across
// two chunks is therefore reassembled intact: no UTF-8 continuation byte can
// equal '\n'.
//
// A Framer is owned by a single relay invocation and is not safe for
// concurrent use.
type Framer struct {
	tail []byte
}

// NewFramer returns an empty Framer.
func NewFramer() *Framer {
	return &Framer{}
}

// Feed appends chunk to the carried-over tail and returns every record that is
// now fully terminated. The final unterminated fragment is retained for the
// next call. Feed never returns the same record twice.
func (f *Framer) Feed(chunk []byte) []Record {
	if len(chunk) == 0 {
		return nil
	}
	f.tail = append(f.tail, chunk...)

	var records []Record
	for {
		i := bytes.IndexByte(f.tail, '\n')
		if i < 0 {
			break
		}
		records = append(records, toRecord(f.tail[:i]))
		f.tail = f.tail[i+1:]
	}

	// Compact so the backing array does not grow with every terminated record.
	if len(f.tail) == 0 {
		f.tail = f.tail[:0:0]
	} else if cap(f.tail) > 2*len(f.tail) {
		f.tail = append([]byte(nil), f.tail...)
	}

	return records
}

// Flush treats end of input as an implicit terminator. It returns the retained
// fragment as a final record when it is not blank, and resets the Framer.
func (f *Framer) Flush() (Record, bool) {
	rest := f.tail
	f.tail = nil

	if len(bytes.TrimSpace(rest)) == 0 {
		return "", false
	}
	return toRecord(rest), true
}

// Buffered returns the number of bytes held in the unterminated tail.
func (f *Framer) Buffered() int {
	return len(f.tail)
}

// toRecord copies line into a Record, dropping a CR of a CRLF terminator and
// replacing invalid UTF-8 with U+FFFD.
func toRecord(line []byte) Record {
	line = bytes.TrimSuffix(line, []byte("\r"))
	return Record(strings.ToValidUTF8(string(line), "\uFFFD"))
}
