package sse

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

// countingWriter records each Write call separately.
type countingWriter struct {
	writes []string
	err    error
}

func (w *countingWriter) Write(p []byte) (int, error) {
	if w.err != nil {
		return 0, w.err
	}
	w.writes = append(w.writes, string(p))
	return len(p), nil
}

var _ = Describe("Encoder", func() {
	var (
		buf *bytes.Buffer
		enc *Encoder
	)

	BeforeEach(func() {
		buf = &bytes.Buffer{}
		enc = NewEncoder(buf)
	})

	It("writes a content record", func() {
		Expect(enc.WriteDelta("Hello")).To(Succeed())
		Expect(buf.String()).To(Equal("data: {\"content\":\"Hello\"}\n\n"))
	})

	It("escapes content so the record stays on one line", func() {
		text := "line one\nline \"two\" <b>\\</b> 世界"
		Expect(enc.WriteDelta(text)).To(Succeed())

		out := buf.String()
		Expect(strings.Count(out, "\n")).To(Equal(2))
		Expect(out).To(HavePrefix("data: "))
		Expect(out).To(HaveSuffix("\n\n"))

		var payload map[string]string
		Expect(json.Unmarshal([]byte(strings.TrimSuffix(strings.TrimPrefix(out, "data: "), "\n\n")), &payload)).To(Succeed())
		Expect(payload).To(Equal(map[string]string{"content": text}))
	})

	It("writes the termination record", func() {
		Expect(enc.WriteDone()).To(Succeed())
		Expect(buf.String()).To(Equal("data: [DONE]\n\n"))
	})

	It("writes an error record followed by the termination record", func() {
		Expect(enc.WriteError("upstream went away")).To(Succeed())
		Expect(buf.String()).To(Equal(
			"data: {\"error\":\"upstream went away\"}\n\n" +
				"data: [DONE]\n\n"))
	})

	It("writes a keep-alive comment the Framer yields no data for", func() {
		Expect(enc.WriteKeepAlive()).To(Succeed())
		Expect(buf.String()).To(Equal(": keep-alive\n\n"))

		for _, rec := range NewFramer().Feed(buf.Bytes()) {
			_, ok := rec.Data()
			Expect(ok).To(BeFalse())
		}
	})

	It("uses one Write per record", func() {
		w := &countingWriter{}
		e := NewEncoder(w)

		Expect(e.WriteDelta("a")).To(Succeed())
		Expect(e.WriteError("boom")).To(Succeed())
		Expect(w.writes).To(HaveLen(3))
	})

	It("returns the sink error", func() {
		sinkErr := errors.New("closed pipe")
		e := NewEncoder(&countingWriter{err: sinkErr})

		Expect(e.WriteDelta("a")).To(MatchError(sinkErr))
		Expect(e.WriteDone()).To(MatchError(sinkErr))
		Expect(e.WriteError("x")).To(MatchError(sinkErr))
		Expect(e.WriteKeepAlive()).To(MatchError(sinkErr))
	})

	It("produces records the Framer reads back", func() {
		Expect(enc.WriteDelta("one")).To(Succeed())
		Expect(enc.WriteDone()).To(Succeed())

		recs := NewFramer().Feed(buf.Bytes())
		Expect(recs).To(Equal([]Record{`data: {"content":"one"}`, "", "data: [DONE]", ""}))
	})
})
