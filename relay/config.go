package relay

import "time"

// Config is the relay server configuration.
type Config struct {
	// ListenAddr is the address to listen on (e.g., ":8787")
	ListenAddr string

	// AllowedOrigins is the CORS Access-Control-Allow-Origin value, a
	// comma-separated list of origins or "*".
	AllowedOrigins string

	// StreamTimeout bounds a single relayed stream. When it fires the stream
	// is cancelled like a consumer disconnect. Zero disables it.
	StreamTimeout time.Duration

	// KeepAliveInterval is how often an open event stream gets a comment
	// record. A write failure cancels the stream, so a consumer that left
	// while the upstream was silent is noticed. Zero disables it.
	KeepAliveInterval time.Duration

	// Events tunes the worker pool that publishes completion events.
	// Zero values use the pool defaults.
	EventWorkers   uint
	EventQueueSize uint
}
