// Package relay serves a streaming generation relay: it forwards prompts to an
// upstream generation service and re-emits its incremental output to the
// consumer as a normalized event stream.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/gofiber/adaptor/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/papercomputeco/relay/pkg/eventstream"
	"github.com/papercomputeco/relay/pkg/llm"
	"github.com/papercomputeco/relay/pkg/metrics"
	"github.com/papercomputeco/relay/pkg/upstream"
	"github.com/papercomputeco/relay/relay/header"
	"github.com/papercomputeco/relay/relay/worker"
)

const (
	streamPath = "/stream"

	errInvalidBody    = "invalid request body"
	errPromptRequired = "Prompt is required"
)

// promptRequest is the body of both /stream and /generate.
type promptRequest struct {
	Prompt string `json:"prompt"`
}

// generateResponse is the body of a successful /generate.
type generateResponse struct {
	Text  string     `json:"text"`
	Model string     `json:"model"`
	Usage *llm.Usage `json:"usage,omitempty"`
}

// healthResponse is the body of /health.
type healthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// Server is the relay HTTP server. Each POST /stream runs one Controller on
// its own goroutine, writing into a pipe that fiber streams to the consumer.
type Server struct {
	config        Config
	client        *upstream.Client
	workerPool    *worker.Pool
	logger        *slog.Logger
	server        *fiber.App
	headerHandler *header.Handler

	// baseCtx parents every relayed stream; Close cancels it.
	baseCtx    context.Context
	cancelBase context.CancelFunc
	inflight   sync.WaitGroup
}

// New creates a new relay Server.
// The publisher receives a completion event for every finished relay.
func New(config Config, client *upstream.Client, publisher eventstream.Publisher, logger *slog.Logger) (*Server, error) {
	if client == nil {
		return nil, errors.New("upstream client is required")
	}
	if config.AllowedOrigins == "" {
		config.AllowedOrigins = "*"
	}

	wp, err := worker.NewPool(&worker.Config{
		Publisher:  publisher,
		NumWorkers: config.EventWorkers,
		QueueSize:  config.EventQueueSize,
		Logger:     logger,
	})
	if err != nil {
		return nil, fmt.Errorf("could not create worker pool: %w", err)
	}

	app := fiber.New(fiber.Config{
		// Disable startup message for cleaner logs
		DisableStartupMessage: true,
	})

	app.Use(cors.New(cors.Config{
		AllowOrigins: config.AllowedOrigins,
		AllowMethods: "GET,POST,OPTIONS",
		AllowHeaders: "Content-Type",
	}))

	// Compression would buffer the event stream, so it is skipped there.
	app.Use(compress.New(compress.Config{
		Next: func(c *fiber.Ctx) bool {
			return c.Path() == streamPath
		},
	}))

	baseCtx, cancel := context.WithCancel(context.Background())

	s := &Server{
		config:        config,
		client:        client,
		workerPool:    wp,
		logger:        logger,
		server:        app,
		headerHandler: header.NewHandler(),
		baseCtx:       baseCtx,
		cancelBase:    cancel,
	}

	app.Post(streamPath, s.handleStream)
	app.Post("/generate", s.handleGenerate)
	app.Get("/health", s.handleHealth)
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))
	app.Use(s.handleNotFound)

	return s, nil
}

// Run starts the relay server on the configured listening address
func (s *Server) Run() error {
	s.logger.Info("starting relay server",
		"listen", s.config.ListenAddr,
		"provider", s.client.Provider().Name(),
		"model", s.client.Model(),
	)

	return s.server.Listen(s.config.ListenAddr)
}

// RunWithListener starts the relay server using the provided listener.
func (s *Server) RunWithListener(listener net.Listener) error {
	s.logger.Info("starting relay server",
		"listen", listener.Addr().String(),
		"provider", s.client.Provider().Name(),
		"model", s.client.Model(),
	)

	return s.server.Listener(listener)
}

// Close cancels in-flight streams, shuts the server down and waits for the
// worker pool to drain.
func (s *Server) Close() error {
	s.cancelBase()
	err := s.server.Shutdown()
	s.inflight.Wait()
	s.workerPool.Close()
	return err
}

// handleStream relays one prompt as an event stream.
func (s *Server) handleStream(c *fiber.Ctx) error {
	prompt, ok, err := s.parsePrompt(c)
	if !ok {
		return err
	}

	requestID := uuid.NewString()
	log := s.logger.With(
		"request_id", requestID,
		"provider", s.client.Provider().Name(),
	)

	// The stream outlives this handler: fasthttp recycles its RequestCtx once
	// the handler returns, so the invocation hangs off the server context.
	ctx, cancel := s.streamContext()

	ctrl := NewController(func(ctx context.Context) (io.ReadCloser, error) {
		stream, err := s.client.Open(ctx, prompt)
		if err != nil {
			return nil, err
		}
		return stream, nil
	}, s.client.Provider(), log)

	if err := ctrl.Request(ctx); err != nil {
		cancel()
		s.record(requestID, ctrl.Abort(), log)
		s.headerHandler.SetRequestID(c, requestID)
		return c.Status(upstreamStatus(err)).JSON(llm.ErrorResponse{Error: err.Error()})
	}

	s.headerHandler.SetEventStreamHeaders(c, requestID)

	// io.Pipe gives per-record backpressure: pw.Write blocks until fasthttp
	// has taken the bytes for the socket. A consumer disconnect closes the
	// read end and the next write fails.
	pr, pw := io.Pipe()
	out := newKeepAliveWriter(pw, cancel)

	metrics.ActiveStreams.Inc()
	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		defer metrics.ActiveStreams.Dec()
		defer cancel()

		stop := make(chan struct{})
		defer close(stop)
		if s.config.KeepAliveInterval > 0 {
			go out.run(s.config.KeepAliveInterval, stop)
		}

		s.record(requestID, ctrl.Run(ctx, out), log)
	}()

	c.Context().Response.SetBodyStream(pr, -1)
	return nil
}

// handleGenerate is the non-streaming facade over the same upstream.
func (s *Server) handleGenerate(c *fiber.Ctx) error {
	prompt, ok, err := s.parsePrompt(c)
	if !ok {
		return err
	}

	ctx, cancel := s.streamContext()
	defer cancel()

	resp, err := s.client.Complete(ctx, prompt)
	if err != nil {
		s.logger.Error("generate failed", "error", err)
		return c.Status(upstreamStatus(err)).JSON(llm.ErrorResponse{Error: err.Error()})
	}

	return c.JSON(generateResponse{
		Text:  resp.Message.GetText(),
		Model: resp.Model,
		Usage: resp.Usage,
	})
}

func (s *Server) handleHealth(c *fiber.Ctx) error {
	return c.JSON(healthResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleNotFound(c *fiber.Ctx) error {
	return c.Status(fiber.StatusNotFound).SendString("Not Found")
}

// parsePrompt decodes the request body. When ok is false the error response
// has already been written and err is what the handler should return.
func (s *Server) parsePrompt(c *fiber.Ctx) (string, bool, error) {
	var req promptRequest
	if err := json.Unmarshal(c.Body(), &req); err != nil {
		s.logger.Debug("rejecting malformed request body", "error", err)
		return "", false, c.Status(fiber.StatusBadRequest).JSON(llm.ErrorResponse{Error: errInvalidBody})
	}
	if strings.TrimSpace(req.Prompt) == "" {
		return "", false, c.Status(fiber.StatusBadRequest).JSON(llm.ErrorResponse{Error: errPromptRequired})
	}
	return req.Prompt, true, nil
}

func (s *Server) streamContext() (context.Context, context.CancelFunc) {
	if s.config.StreamTimeout > 0 {
		return context.WithTimeout(s.baseCtx, s.config.StreamTimeout)
	}
	return context.WithCancel(s.baseCtx)
}

// record logs, meters and publishes a finished invocation.
func (s *Server) record(requestID string, res Result, log *slog.Logger) {
	outcome := string(res.Outcome)
	metrics.RelaysTotal.WithLabelValues(outcome).Inc()
	metrics.RelayDuration.WithLabelValues(outcome).Observe(res.Duration().Seconds())

	attrs := []any{
		"outcome", outcome,
		"deltas", res.Deltas,
		"content_bytes", res.ContentBytes,
		"noise", res.Noise,
		"duration", res.Duration(),
	}
	if res.Err != nil {
		attrs = append(attrs, "error", res.Err)
	}
	log.Info("relay finished", attrs...)

	meta := eventstream.RelayRequestMeta{
		RequestID:    requestID,
		StartedAt:    res.StartedAt,
		CompletedAt:  res.CompletedAt,
		DurationMs:   res.Duration().Milliseconds(),
		Outcome:      outcome,
		Deltas:       res.Deltas,
		ContentBytes: res.ContentBytes,
	}
	if res.Err != nil {
		meta.Error = res.Err.Error()
	}

	s.workerPool.Enqueue(worker.Job{
		Event: eventstream.NewRelayCompletedEvent(eventstream.EventSource{
			Provider: s.client.Provider().Name(),
			Model:    s.client.Model(),
		}, meta),
	})
}

// upstreamStatus maps a failed upstream request to the status the consumer
// sees. A request cancelled by the stream timeout or by shutdown is not an
// upstream failure.
func upstreamStatus(err error) int {
	switch {
	case errors.Is(err, ErrClientCancelled) && errors.Is(err, context.DeadlineExceeded):
		return fiber.StatusGatewayTimeout
	case errors.Is(err, ErrClientCancelled):
		return fiber.StatusServiceUnavailable
	case errors.Is(err, upstream.ErrUpstreamUnavailable):
		return fiber.StatusBadGateway
	default:
		return fiber.StatusInternalServerError
	}
}
