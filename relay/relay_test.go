package relay

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/relay/pkg/eventstream"
	"github.com/papercomputeco/relay/pkg/llm"
	"github.com/papercomputeco/relay/pkg/llm/provider/openai"
	"github.com/papercomputeco/relay/pkg/logger"
	"github.com/papercomputeco/relay/pkg/upstream"
	"github.com/papercomputeco/relay/relay/header"
)

// recordingPublisher keeps published events in memory.
type recordingPublisher struct {
	mu     sync.Mutex
	events []*eventstream.RelayCompletedEvent
}

func (r *recordingPublisher) PublishRelay(_ context.Context, event *eventstream.RelayCompletedEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *recordingPublisher) Close() error { return nil }

func (r *recordingPublisher) published() []*eventstream.RelayCompletedEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*eventstream.RelayCompletedEvent(nil), r.events...)
}

// newTestServer creates a relay Server pointed at upstreamURL.
func newTestServer(upstreamURL string, config Config) (*Server, *recordingPublisher) {
	client, err := upstream.NewClient(upstream.Config{
		BaseURL:      upstreamURL,
		APIKey:       "sk-test",
		Model:        "deepseek-chat",
		SystemPrompt: "You are a helpful AI assistant.",
		Temperature:  0.7,
		MaxTokens:    2000,
	}, openai.New(), logger.Nop())
	Expect(err).NotTo(HaveOccurred())

	pub := &recordingPublisher{}
	s, err := New(config, client, pub, logger.Nop())
	Expect(err).NotTo(HaveOccurred())
	return s, pub
}

func promptBody(prompt string) io.Reader {
	b, err := json.Marshal(map[string]string{"prompt": prompt})
	Expect(err).NotTo(HaveOccurred())
	return strings.NewReader(string(b))
}

func post(s *Server, path string, body io.Reader) *http.Response {
	req := httptest.NewRequest(http.MethodPost, path, body)
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.server.Test(req, -1)
	Expect(err).NotTo(HaveOccurred())
	return resp
}

func readBody(resp *http.Response) string {
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	Expect(err).NotTo(HaveOccurred())
	return string(b)
}

var _ = Describe("Relay Server", func() {
	var (
		s         *Server
		pub       *recordingPublisher
		upstreamS *httptest.Server
		calls     atomic.Int32
	)

	// serveSSE starts an upstream that writes each event and flushes.
	serveSSE := func(events ...string) {
		upstreamS = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			w.Header().Set("Content-Type", "text/event-stream")
			flusher := w.(http.Flusher)
			for _, ev := range events {
				fmt.Fprint(w, ev)
				flusher.Flush()
			}
		}))
		s, pub = newTestServer(upstreamS.URL, Config{})
	}

	BeforeEach(func() {
		calls.Store(0)
	})

	AfterEach(func() {
		if s != nil {
			s.Close()
			s = nil
		}
		if upstreamS != nil {
			upstreamS.Close()
			upstreamS = nil
		}
	})

	Describe("POST /stream", func() {
		It("relays the upstream as a normalized event stream", func() {
			serveSSE(
				"data: {\"id\":\"c1\",\"choices\":[{\"index\":0,\"delta\":{\"role\":\"assistant\",\"content\":\"Hello\"}}]}\n\n",
				": keep-alive\n\n",
				"data: {}\n\n",
				"data: {\"id\":\"c1\",\"choices\":[{\"index\":0,\"delta\":{\"content\":\" world\"}}]}\n\n",
				"data: [DONE]\n\n",
			)

			resp := post(s, "/stream", promptBody("Say hello"))
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(resp.Header.Get("Content-Type")).To(Equal("text/event-stream"))
			Expect(resp.Header.Get("Cache-Control")).To(Equal("no-cache"))
			Expect(resp.Header.Get("Content-Encoding")).To(BeEmpty())
			Expect(resp.Header.Get(header.RequestIDHeader)).NotTo(BeEmpty())

			Expect(readBody(resp)).To(Equal(
				"data: {\"content\":\"Hello\"}\n\n" +
					"data: {\"content\":\" world\"}\n\n" +
					"data: [DONE]\n\n"))
		})

		It("relays the payload split across upstream writes as one delta", func() {
			serveSSE(
				`data: {"choices":[{"delta":{"cont`,
				`ent":"Hi"}}]}`+"\n\n",
			)

			resp := post(s, "/stream", promptBody("hi"))
			Expect(readBody(resp)).To(Equal("data: {\"content\":\"Hi\"}\n\ndata: [DONE]\n\n"))
		})

		It("reports a mid-stream upstream error in-band", func() {
			serveSSE(
				"data: {\"choices\":[{\"delta\":{\"content\":\"a\"}}]}\n\n",
				"data: {\"error\":{\"message\":\"overloaded\"}}\n\n",
			)

			resp := post(s, "/stream", promptBody("hi"))
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(readBody(resp)).To(Equal(
				"data: {\"content\":\"a\"}\n\n" +
					"data: {\"error\":\"upstream stream error: overloaded\"}\n\n" +
					"data: [DONE]\n\n"))
		})

		It("rejects a blank prompt without calling the upstream", func() {
			serveSSE("data: [DONE]\n\n")

			resp := post(s, "/stream", promptBody("   "))
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))

			var body llm.ErrorResponse
			Expect(json.Unmarshal([]byte(readBody(resp)), &body)).To(Succeed())
			Expect(body.Error).To(Equal("Prompt is required"))
			Expect(calls.Load()).To(BeZero())
		})

		It("rejects a malformed body", func() {
			serveSSE("data: [DONE]\n\n")

			resp := post(s, "/stream", strings.NewReader(`{"prompt":`))
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			Expect(readBody(resp)).To(Equal(`{"error":"invalid request body"}`))
			Expect(calls.Load()).To(BeZero())
		})

		It("answers 502 without an event stream when the upstream fails", func() {
			upstreamS = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusInternalServerError)
				fmt.Fprint(w, `{"error":"boom"}`)
			}))
			s, pub = newTestServer(upstreamS.URL, Config{})

			resp := post(s, "/stream", promptBody("hi"))
			Expect(resp.StatusCode).To(Equal(http.StatusBadGateway))
			Expect(resp.Header.Get("Content-Type")).To(HavePrefix("application/json"))

			body := readBody(resp)
			Expect(body).NotTo(ContainSubstring("data:"))

			var errResp llm.ErrorResponse
			Expect(json.Unmarshal([]byte(body), &errResp)).To(Succeed())
			Expect(errResp.Error).To(Equal("upstream unavailable: status 500"))
		})

		It("publishes a completion event per relay", func() {
			serveSSE("data: {\"choices\":[{\"delta\":{\"content\":\"Hi\"}}]}\n\n", "data: [DONE]\n\n")

			resp := post(s, "/stream", promptBody("hi"))
			requestID := resp.Header.Get(header.RequestIDHeader)
			readBody(resp)

			Expect(s.Close()).To(Succeed())
			s = nil

			events := pub.published()
			Expect(events).To(HaveLen(1))
			Expect(events[0].EventType).To(Equal(eventstream.EventTypeRelayCompleted))
			Expect(events[0].Source).To(Equal(eventstream.EventSource{Provider: "openai", Model: "deepseek-chat"}))
			Expect(events[0].RequestMeta.RequestID).To(Equal(requestID))
			Expect(events[0].RequestMeta.Outcome).To(Equal(string(OutcomeCompleted)))
			Expect(events[0].RequestMeta.Deltas).To(Equal(1))
		})

		It("cancels a stream that exceeds the stream timeout", func() {
			release := make(chan struct{})
			upstreamS = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "text/event-stream")
				fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"slow\"}}]}\n\n")
				w.(http.Flusher).Flush()
				select {
				case <-release:
				case <-r.Context().Done():
				}
			}))
			defer close(release)

			s, pub = newTestServer(upstreamS.URL, Config{StreamTimeout: 200 * time.Millisecond})

			resp := post(s, "/stream", promptBody("hi"))
			body := readBody(resp)
			Expect(body).To(Equal("data: {\"content\":\"slow\"}\n\ndata: [DONE]\n\n"))

			Expect(s.Close()).To(Succeed())
			s = nil
			Expect(pub.published()).To(HaveLen(1))
			Expect(pub.published()[0].RequestMeta.Outcome).To(Equal(string(OutcomeCancelled)))
		})

		It("answers 504, not 502, when the timeout fires before the upstream responds", func() {
			upstreamS = httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
				<-r.Context().Done()
			}))
			s, pub = newTestServer(upstreamS.URL, Config{StreamTimeout: 100 * time.Millisecond})

			resp := post(s, "/stream", promptBody("hi"))
			Expect(resp.StatusCode).To(Equal(http.StatusGatewayTimeout))
			Expect(readBody(resp)).NotTo(ContainSubstring("data:"))

			Expect(s.Close()).To(Succeed())
			s = nil
			Expect(pub.published()).To(HaveLen(1))
			Expect(pub.published()[0].RequestMeta.Outcome).To(Equal(string(OutcomeCancelled)))
		})

		It("releases a silent upstream once the consumer disconnects", func() {
			released := make(chan struct{})
			upstreamS = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "text/event-stream")
				fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"Hi\"}}]}\n\n")
				w.(http.Flusher).Flush()
				<-r.Context().Done()
				close(released)
			}))
			s, pub = newTestServer(upstreamS.URL, Config{KeepAliveInterval: 20 * time.Millisecond})

			ln, err := net.Listen("tcp", "127.0.0.1:0")
			Expect(err).NotTo(HaveOccurred())
			go func() { _ = s.RunWithListener(ln) }()

			reqCtx, disconnect := context.WithCancel(context.Background())
			defer disconnect()
			req, err := http.NewRequestWithContext(reqCtx, http.MethodPost,
				"http://"+ln.Addr().String()+"/stream", promptBody("hi"))
			Expect(err).NotTo(HaveOccurred())
			req.Header.Set("Content-Type", "application/json")

			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			r := bufio.NewReader(resp.Body)
			nextLine := func() string {
				line, _ := r.ReadString('\n')
				return line
			}
			Eventually(nextLine).Should(Equal("data: {\"content\":\"Hi\"}\n"))

			// Keep-alive comments flow while the upstream is silent.
			Eventually(nextLine).Should(Equal(": keep-alive\n"))

			disconnect()
			resp.Body.Close()

			Eventually(released, 5*time.Second).Should(BeClosed())

			Expect(s.Close()).To(Succeed())
			s = nil
			Expect(pub.published()).To(HaveLen(1))
			Expect(pub.published()[0].RequestMeta.Outcome).To(Equal(string(OutcomeCancelled)))
			Expect(pub.published()[0].RequestMeta.Deltas).To(Equal(1))
		})
	})

	Describe("POST /generate", func() {
		It("returns the complete text", func() {
			upstreamS = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				fmt.Fprint(w, `{"id":"c1","model":"deepseek-chat","created":1,
					"choices":[{"index":0,"message":{"role":"assistant","content":"Hello!"},"finish_reason":"stop"}],
					"usage":{"prompt_tokens":4,"completion_tokens":2,"total_tokens":6}}`)
			}))
			s, _ = newTestServer(upstreamS.URL, Config{})

			resp := post(s, "/generate", promptBody("hi"))
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			var got generateResponse
			Expect(json.Unmarshal([]byte(readBody(resp)), &got)).To(Succeed())
			Expect(got.Text).To(Equal("Hello!"))
			Expect(got.Model).To(Equal("deepseek-chat"))
			Expect(got.Usage).To(Equal(&llm.Usage{PromptTokens: 4, CompletionTokens: 2, TotalTokens: 6}))
		})

		It("answers 502 when the upstream fails", func() {
			upstreamS = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusServiceUnavailable)
			}))
			s, _ = newTestServer(upstreamS.URL, Config{})

			resp := post(s, "/generate", promptBody("hi"))
			Expect(resp.StatusCode).To(Equal(http.StatusBadGateway))
			readBody(resp)
		})

		It("requires a prompt", func() {
			serveSSE()
			resp := post(s, "/generate", promptBody(""))
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			readBody(resp)
		})
	})

	Describe("auxiliary routes", func() {
		BeforeEach(func() {
			serveSSE("data: [DONE]\n\n")
		})

		It("reports health", func() {
			resp, err := s.server.Test(httptest.NewRequest(http.MethodGet, "/health", nil))
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			var got healthResponse
			Expect(json.Unmarshal([]byte(readBody(resp)), &got)).To(Succeed())
			Expect(got.Status).To(Equal("ok"))
			_, err = time.Parse(time.RFC3339, got.Timestamp)
			Expect(err).NotTo(HaveOccurred())
		})

		It("serves prometheus metrics", func() {
			post(s, "/stream", promptBody("hi")).Body.Close()

			resp, err := s.server.Test(httptest.NewRequest(http.MethodGet, "/metrics", nil))
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(readBody(resp)).To(ContainSubstring("relay_upstream_requests_total"))
		})

		It("answers unknown routes with 404", func() {
			resp, err := s.server.Test(httptest.NewRequest(http.MethodGet, "/nope", nil))
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
			Expect(readBody(resp)).To(Equal("Not Found"))
		})

		It("answers CORS preflight", func() {
			req := httptest.NewRequest(http.MethodOptions, "/stream", nil)
			req.Header.Set("Origin", "https://example.com")
			req.Header.Set("Access-Control-Request-Method", http.MethodPost)

			resp, err := s.server.Test(req)
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()

			Expect(resp.StatusCode).To(Equal(http.StatusNoContent))
			Expect(resp.Header.Get("Access-Control-Allow-Origin")).To(Equal("*"))
			Expect(resp.Header.Get("Access-Control-Allow-Methods")).To(ContainSubstring("POST"))
		})

		It("adds CORS headers to regular responses", func() {
			req := httptest.NewRequest(http.MethodGet, "/health", nil)
			req.Header.Set("Origin", "https://example.com")

			resp, err := s.server.Test(req)
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.Header.Get("Access-Control-Allow-Origin")).To(Equal("*"))
		})
	})

	DescribeTable("upstreamStatus",
		func(err error, status int) {
			Expect(upstreamStatus(err)).To(Equal(status))
		},
		Entry("unavailable upstream", fmt.Errorf("%w: status 500", upstream.ErrUpstreamUnavailable), http.StatusBadGateway),
		Entry("stream timeout", fmt.Errorf("%w: %w", ErrClientCancelled, context.DeadlineExceeded), http.StatusGatewayTimeout),
		Entry("shutdown", fmt.Errorf("%w: %w", ErrClientCancelled, context.Canceled), http.StatusServiceUnavailable),
		Entry("anything else", errors.New("boom"), http.StatusInternalServerError),
	)

	It("requires an upstream client", func() {
		_, err := New(Config{}, nil, &recordingPublisher{}, logger.Nop())
		Expect(err).To(HaveOccurred())
	})
})
