package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Config represents the persistent relay configuration stored as config.toml
// in the .relay/ directory. The TOML layout uses sections for logical grouping.
type Config struct {
	Version  int            `toml:"version"`
	Server   ServerConfig   `toml:"server"`
	Upstream UpstreamConfig `toml:"upstream"`
	Events   EventsConfig   `toml:"events"`
}

// ServerConfig holds the consumer-facing HTTP server settings.
type ServerConfig struct {
	Listen         string `toml:"listen,omitempty"`
	AllowedOrigins string `toml:"allowed_origins,omitempty"`

	// StreamTimeout is a Go duration string ("90s", "5m"). "0s" disables it.
	StreamTimeout string `toml:"stream_timeout,omitempty"`

	// KeepAlive is the Go duration between keep-alive comments on an open
	// event stream. "0s" disables them.
	KeepAlive string `toml:"keep_alive,omitempty"`
}

// UpstreamConfig describes the generation service the relay forwards to.
type UpstreamConfig struct {
	Provider     string  `toml:"provider,omitempty"`
	URL          string  `toml:"url,omitempty"`
	Model        string  `toml:"model,omitempty"`
	APIKey       string  `toml:"api_key,omitempty"`
	SystemPrompt string  `toml:"system_prompt,omitempty"`
	Temperature  float64 `toml:"temperature"`
	MaxTokens    uint    `toml:"max_tokens,omitempty"`
}

// EventsConfig selects where relay completion events are published.
type EventsConfig struct {
	// Provider is "nop" or "kafka".
	Provider string `toml:"provider,omitempty"`

	// Brokers is a comma-separated list of host:port pairs.
	Brokers string `toml:"brokers,omitempty"`
	Topic   string `toml:"topic,omitempty"`

	// Workers and QueueSize size the publishing worker pool.
	Workers   uint `toml:"workers,omitempty"`
	QueueSize uint `toml:"queue_size,omitempty"`
}

// BrokerList splits Brokers into trimmed, non-empty addresses.
func (e EventsConfig) BrokerList() []string {
	var out []string
	for b := range strings.SplitSeq(e.Brokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}

// configKeyInfo maps a user-facing dotted key name to a getter and setter on *Config.
type configKeyInfo struct {
	get func(c *Config) string
	set func(c *Config, v string) error

	// secret values are masked when listed.
	secret bool
}

// configKeys is the authoritative map of all supported config keys.
// Keys use dotted notation matching the TOML section structure.
var configKeys = map[string]configKeyInfo{
	"server.listen": {
		get: func(c *Config) string { return c.Server.Listen },
		set: func(c *Config, v string) error { c.Server.Listen = v; return nil },
	},
	"server.allowed_origins": {
		get: func(c *Config) string { return c.Server.AllowedOrigins },
		set: func(c *Config, v string) error { c.Server.AllowedOrigins = v; return nil },
	},
	"server.stream_timeout": {
		get: func(c *Config) string { return c.Server.StreamTimeout },
		set: func(c *Config, v string) error {
			if err := checkDuration("server.stream_timeout", v); err != nil {
				return err
			}
			c.Server.StreamTimeout = v
			return nil
		},
	},
	"server.keep_alive": {
		get: func(c *Config) string { return c.Server.KeepAlive },
		set: func(c *Config, v string) error {
			if err := checkDuration("server.keep_alive", v); err != nil {
				return err
			}
			c.Server.KeepAlive = v
			return nil
		},
	},
	"upstream.provider": {
		get: func(c *Config) string { return c.Upstream.Provider },
		set: func(c *Config, v string) error { c.Upstream.Provider = v; return nil },
	},
	"upstream.url": {
		get: func(c *Config) string { return c.Upstream.URL },
		set: func(c *Config, v string) error { c.Upstream.URL = v; return nil },
	},
	"upstream.model": {
		get: func(c *Config) string { return c.Upstream.Model },
		set: func(c *Config, v string) error { c.Upstream.Model = v; return nil },
	},
	"upstream.api_key": {
		get:    func(c *Config) string { return c.Upstream.APIKey },
		set:    func(c *Config, v string) error { c.Upstream.APIKey = v; return nil },
		secret: true,
	},
	"upstream.system_prompt": {
		get: func(c *Config) string { return c.Upstream.SystemPrompt },
		set: func(c *Config, v string) error { c.Upstream.SystemPrompt = v; return nil },
	},
	"upstream.temperature": {
		get: func(c *Config) string { return strconv.FormatFloat(c.Upstream.Temperature, 'g', -1, 64) },
		set: func(c *Config, v string) error {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return fmt.Errorf("invalid value for upstream.temperature: %w", err)
			}
			if f < 0 || f > 2 {
				return fmt.Errorf("invalid value for upstream.temperature: %v is outside [0, 2]", f)
			}
			c.Upstream.Temperature = f
			return nil
		},
	},
	"upstream.max_tokens": {
		get: func(c *Config) string {
			if c.Upstream.MaxTokens == 0 {
				return ""
			}
			return strconv.FormatUint(uint64(c.Upstream.MaxTokens), 10)
		},
		set: func(c *Config, v string) error {
			n, err := strconv.ParseUint(v, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid value for upstream.max_tokens: %w", err)
			}
			c.Upstream.MaxTokens = uint(n)
			return nil
		},
	},
	"events.provider": {
		get: func(c *Config) string { return c.Events.Provider },
		set: func(c *Config, v string) error {
			switch v {
			case EventsProviderNop, EventsProviderKafka:
				c.Events.Provider = v
				return nil
			default:
				return fmt.Errorf("invalid value for events.provider: %q (available: %s, %s)",
					v, EventsProviderNop, EventsProviderKafka)
			}
		},
	},
	"events.brokers": {
		get: func(c *Config) string { return c.Events.Brokers },
		set: func(c *Config, v string) error { c.Events.Brokers = v; return nil },
	},
	"events.topic": {
		get: func(c *Config) string { return c.Events.Topic },
		set: func(c *Config, v string) error { c.Events.Topic = v; return nil },
	},
	"events.workers": {
		get: func(c *Config) string { return formatUint(c.Events.Workers) },
		set: func(c *Config, v string) error {
			n, err := parsePositiveUint("events.workers", v)
			if err != nil {
				return err
			}
			c.Events.Workers = n
			return nil
		},
	},
	"events.queue_size": {
		get: func(c *Config) string { return formatUint(c.Events.QueueSize) },
		set: func(c *Config, v string) error {
			n, err := parsePositiveUint("events.queue_size", v)
			if err != nil {
				return err
			}
			c.Events.QueueSize = n
			return nil
		},
	},
}

// checkDuration validates a non-negative Go duration string.
func checkDuration(key, v string) error {
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	if d < 0 {
		return fmt.Errorf("invalid value for %s: %q is negative", key, v)
	}
	return nil
}

func parsePositiveUint(key, v string) (uint, error) {
	n, err := strconv.ParseUint(v, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid value for %s: %w", key, err)
	}
	if n == 0 {
		return 0, fmt.Errorf("invalid value for %s: must be at least 1", key)
	}
	return uint(n), nil
}

func formatUint(n uint) string {
	if n == 0 {
		return ""
	}
	return strconv.FormatUint(uint64(n), 10)
}
