package config

const (
	// EventsProviderNop disables event publishing.
	EventsProviderNop = "nop"

	// EventsProviderKafka publishes relay events to Kafka.
	EventsProviderKafka = "kafka"
)

const (
	defaultListen         = ":8787"
	defaultAllowedOrigins = "*"
	defaultStreamTimeout  = "0s"
	defaultKeepAlive      = "15s"

	defaultProvider     = "openai"
	defaultUpstreamURL  = "https://api.deepseek.com/v1"
	defaultModel        = "deepseek-chat"
	defaultSystemPrompt = "You are a helpful AI assistant. Please provide detailed and well-formatted responses using Markdown syntax when appropriate."
	defaultTemperature  = 0.7
	defaultMaxTokens    = 2000

	defaultEventsBrokers = "localhost:9092"
	defaultEventsTopic   = "relay.events"
	defaultEventsWorkers = 3
	defaultEventsQueue   = 256
)

// NewDefaultConfig returns a Config with sane defaults for all fields.
// This is the single source of truth for default values.
func NewDefaultConfig() *Config {
	return &Config{
		Version: CurrentV,
		Server: ServerConfig{
			Listen:         defaultListen,
			AllowedOrigins: defaultAllowedOrigins,
			StreamTimeout:  defaultStreamTimeout,
			KeepAlive:      defaultKeepAlive,
		},
		Upstream: UpstreamConfig{
			Provider:     defaultProvider,
			URL:          defaultUpstreamURL,
			Model:        defaultModel,
			SystemPrompt: defaultSystemPrompt,
			Temperature:  defaultTemperature,
			MaxTokens:    defaultMaxTokens,
		},
		Events: EventsConfig{
			Provider:  EventsProviderNop,
			Brokers:   defaultEventsBrokers,
			Topic:     defaultEventsTopic,
			Workers:   defaultEventsWorkers,
			QueueSize: defaultEventsQueue,
		},
	}
}
