// Package header sets the response headers of the relay's event stream.
//
// The relay sits between a consumer and an upstream generation service:
//
//	Consumer <--> Relay <--> Upstream
//
// and each leg negotiates its own headers. The upstream leg is owned by the
// provider; this package owns the consumer leg.
package header

import (
	"github.com/gofiber/fiber/v2"
)

// RequestIDHeader carries the ID the relay assigned to an invocation. It
// matches the request_id in logs and published events.
const RequestIDHeader = "X-Relay-Request-Id"

// eventStream is the fixed header set of an outbound event stream.
var eventStream = map[string]string{
	fiber.HeaderContentType:  "text/event-stream",
	fiber.HeaderCacheControl: "no-cache",
	fiber.HeaderConnection:   "keep-alive",

	// Ask buffering reverse proxies (nginx and friends) to pass records
	// through as they are written.
	"X-Accel-Buffering": "no",
}

// Handler manages headers on the consumer leg.
type Handler struct{}

// NewHandler creates a new header Handler.
func NewHandler() *Handler {
	return &Handler{}
}

// SetEventStreamHeaders prepares c for an event-stream body tagged with
// requestID.
func (h *Handler) SetEventStreamHeaders(c *fiber.Ctx, requestID string) {
	for k, v := range eventStream {
		c.Set(k, v)
	}
	h.SetRequestID(c, requestID)
}

// SetRequestID tags any response with requestID.
func (h *Handler) SetRequestID(c *fiber.Ctx, requestID string) {
	if requestID != "" {
		c.Set(RequestIDHeader, requestID)
	}
}
