package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/papercomputeco/relay/pkg/llm"
	"github.com/papercomputeco/relay/pkg/metrics"
	"github.com/papercomputeco/relay/pkg/sse"
	"github.com/papercomputeco/relay/pkg/utils"
)

// readBufferSize is the largest chunk pulled from the upstream at once.
const readBufferSize = 32 * 1024

// Opener issues the upstream request for one invocation. The returned body
// must stay readable until closed and must unblock when ctx is cancelled.
type Opener func(ctx context.Context) (io.ReadCloser, error)

// Decoder classifies one framed upstream record.
type Decoder interface {
	DecodeRecord(rec sse.Record) (llm.Event, error)
}

// Result describes a finished invocation.
type Result struct {
	Outcome Outcome

	// Deltas is the number of content records written to the consumer and
	// ContentBytes their total text length.
	Deltas       int
	ContentBytes int

	// Noise counts upstream records skipped as undecodable.
	Noise int

	// Err is the pending upstream error for OutcomeFailed, or an error
	// matching ErrClientCancelled for OutcomeCancelled.
	Err error

	StartedAt   time.Time
	CompletedAt time.Time
}

// Duration is the wall time between the upstream request and close.
func (r Result) Duration() time.Duration {
	return r.CompletedAt.Sub(r.StartedAt)
}

// Controller drives a single relay invocation through
// Idle -> Requesting -> Streaming -> Draining -> Closed. It pulls chunks from
// the upstream, frames and decodes them, and writes deltas to the sink until
// the upstream terminates, fails, or the invocation is cancelled.
//
// A Controller is used by one goroutine and is not reusable.
type Controller struct {
	open    Opener
	decoder Decoder
	logger  *slog.Logger

	state  State
	framer *sse.Framer
	body   io.ReadCloser

	sink      *sinkWriter
	enc       *sse.Encoder
	closeSink sync.Once

	pending   error
	cancelled error
	result    Result
}

// NewController creates a Controller in the Idle state.
func NewController(open Opener, decoder Decoder, logger *slog.Logger) *Controller {
	return &Controller{
		open:    open,
		decoder: decoder,
		logger:  logger,
		state:   StateIdle,
		framer:  sse.NewFramer(),
	}
}

// State returns the current state. It is meant for callers that own the
// controller, not for concurrent observation.
func (c *Controller) State() State {
	return c.state
}

// Request issues the upstream request. On success the controller is
// Streaming. On failure it is Draining with the error pending, and the error
// is returned so an HTTP caller can reject the request before any event
// stream is opened; such a caller finishes with Abort.
//
// A ctx that is done before or while the request is issued is a
// cancellation, not an upstream failure: the returned error matches
// ErrClientCancelled and nothing is left pending.
func (c *Controller) Request(ctx context.Context) error {
	if c.state != StateIdle {
		return fmt.Errorf("cannot request upstream in state %s", c.state)
	}

	c.result.StartedAt = time.Now()
	c.transition(StateRequesting)

	if err := ctx.Err(); err != nil {
		c.cancel(err)
		c.transition(StateDraining)
		return c.cancelled
	}

	body, err := c.open(ctx)
	if err != nil {
		c.transition(StateDraining)
		if ctxErr := ctx.Err(); ctxErr != nil {
			c.cancel(ctxErr)
			return c.cancelled
		}
		c.pending = err
		return err
	}

	c.body = body
	c.transition(StateStreaming)
	return nil
}

// Run relays the upstream stream into sink and returns once the invocation is
// Closed. It issues the upstream request first if Request was not called.
// Exactly one terminal record is written unless the sink itself failed, and
// sink is closed exactly once on every path.
func (c *Controller) Run(ctx context.Context, sink io.WriteCloser) (res Result) {
	c.sink = &sinkWriter{w: sink}
	c.enc = sse.NewEncoder(c.sink)
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("recovered panic while draining", "panic", r)
			c.pending = errInternal
		}
		c.finish()
		res = c.result
	}()

	if c.state == StateIdle {
		// A failure leaves the controller Draining with the error pending.
		_ = c.Request(ctx)
	}

	if c.state == StateStreaming {
		c.pump(ctx)
	}

	c.drain()
	return res
}

// Abort closes an invocation whose event stream was never opened, typically
// after Request failed. Nothing is written.
func (c *Controller) Abort() Result {
	c.finish()
	return c.result
}

// pump pulls and relays chunks until a terminal condition. It leaves either
// a pending error, a cancellation, or neither when the upstream terminated.
func (c *Controller) pump(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("recovered panic while relaying", "panic", r)
			c.pending = errInternal
		}
	}()

	buf := make([]byte, readBufferSize)
	for {
		if err := ctx.Err(); err != nil {
			c.cancel(err)
			return
		}

		n, err := c.body.Read(buf)
		if n > 0 {
			for _, rec := range c.framer.Feed(buf[:n]) {
				if c.handle(ctx, rec) {
					return
				}
			}
		}

		switch {
		case err == nil:
		case errors.Is(err, io.EOF):
			if rec, ok := c.framer.Flush(); ok && c.handle(ctx, rec) {
				return
			}
			c.logger.Debug("upstream closed without a termination signal")
			return
		case ctx.Err() != nil:
			c.cancel(ctx.Err())
			return
		default:
			c.pending = fmt.Errorf("%w: %w", ErrUpstreamStream, err)
			return
		}
	}
}

// handle decodes one record and reports whether relaying must stop.
func (c *Controller) handle(ctx context.Context, rec sse.Record) bool {
	ev, err := c.decoder.DecodeRecord(rec)
	if err != nil {
		c.result.Noise++
		metrics.DecodeNoiseTotal.Inc()
		c.logger.Debug("skipping undecodable record",
			"error", err,
			"record", utils.Truncate(string(rec), 200),
		)
		return false
	}

	switch ev.Kind {
	case llm.KindDelta:
		return !c.writeDelta(ctx, ev.Text)
	case llm.KindDone:
		return true
	case llm.KindError:
		c.pending = fmt.Errorf("%w: %s", ErrUpstreamStream, ev.Text)
		return true
	default:
		return false
	}
}

func (c *Controller) writeDelta(ctx context.Context, text string) bool {
	if err := ctx.Err(); err != nil {
		c.cancel(err)
		return false
	}
	if err := c.enc.WriteDelta(text); err != nil {
		c.cancel(err)
		return false
	}

	c.result.Deltas++
	c.result.ContentBytes += len(text)
	metrics.DeltasTotal.Inc()
	return true
}

func (c *Controller) cancel(cause error) {
	if c.cancelled == nil {
		c.cancelled = fmt.Errorf("%w: %w", ErrClientCancelled, cause)
	}
}

// drain writes the single terminal record. A cancelled invocation never gets
// an error record, and a failed sink gets nothing at all.
func (c *Controller) drain() {
	c.transition(StateDraining)

	if c.sink.failed() {
		return
	}

	var err error
	if c.pending != nil && c.cancelled == nil {
		c.logger.Warn("relaying upstream failure to client", "error", c.pending)
		err = c.enc.WriteError(c.pending.Error())
	} else {
		err = c.enc.WriteDone()
	}
	if err != nil {
		c.cancel(err)
	}
}

// finish releases the upstream body and the sink and fills in the result.
func (c *Controller) finish() {
	if c.state == StateClosed {
		return
	}
	c.transition(StateClosed)

	if c.body != nil {
		if err := c.body.Close(); err != nil {
			c.logger.Debug("closing upstream body", "error", err)
		}
	}
	if c.sink != nil {
		c.closeSink.Do(func() {
			if err := c.sink.w.Close(); err != nil {
				c.logger.Debug("closing sink", "error", err)
			}
		})
	}

	c.result.CompletedAt = time.Now()
	if c.result.StartedAt.IsZero() {
		c.result.StartedAt = c.result.CompletedAt
	}

	switch {
	case c.cancelled != nil:
		c.result.Outcome = OutcomeCancelled
		c.result.Err = c.cancelled
	case c.pending != nil:
		c.result.Outcome = OutcomeFailed
		c.result.Err = c.pending
	default:
		c.result.Outcome = OutcomeCompleted
	}
}

func (c *Controller) transition(next State) {
	if c.state == next {
		return
	}
	c.logger.Debug("relay state", "from", c.state.String(), "to", next.String())
	c.state = next
}

// sinkWriter remembers the first write failure so nothing more is attempted
// on a dead consumer.
type sinkWriter struct {
	w   io.WriteCloser
	err error
}

func (s *sinkWriter) Write(p []byte) (int, error) {
	if s.err != nil {
		return 0, s.err
	}
	n, err := s.w.Write(p)
	if err != nil {
		s.err = err
	}
	return n, err
}

func (s *sinkWriter) failed() bool {
	return s.err != nil
}
