// Package servecmder provides the serve command that runs the relay server.
package servecmder

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/term"

	"github.com/papercomputeco/relay/pkg/config"
	"github.com/papercomputeco/relay/pkg/eventstream"
	"github.com/papercomputeco/relay/pkg/eventstream/kafka"
	"github.com/papercomputeco/relay/pkg/eventstream/nop"
	"github.com/papercomputeco/relay/pkg/llm/provider"
	"github.com/papercomputeco/relay/pkg/logger"
	"github.com/papercomputeco/relay/pkg/upstream"
	"github.com/papercomputeco/relay/relay"
)

type serveCommander struct {
	flags serveFlags

	debug   bool
	logJSON bool
	logFile string

	listen         string
	allowedOrigins string
	streamTimeout  time.Duration
	keepAlive      time.Duration

	providerType string
	upstreamURL  string
	model        string
	apiKey       string
	systemPrompt string
	temperature  float64
	maxTokens    uint

	eventsProvider string
	eventsBrokers  []string
	eventsTopic    string
	eventWorkers   uint
	eventQueueSize uint

	logger *slog.Logger
}

// serveFlags are the flag targets. Values are read back through viper so
// env vars and the config file apply when a flag is not set.
type serveFlags struct {
	listen         string
	allowedOrigins string
	streamTimeout  string
	keepAlive      string
	upstream       string
	provider       string
	model          string
	maxTokens      uint
	eventsProvider string
	eventsBrokers  string
	eventsTopic    string
	eventsWorkers  uint
	eventsQueue    uint
}

var serveFlagKeys = []string{
	config.FlagListen,
	config.FlagAllowedOrigins,
	config.FlagStreamTimeout,
	config.FlagKeepAlive,
	config.FlagUpstream,
	config.FlagProvider,
	config.FlagModel,
	config.FlagMaxTokens,
	config.FlagEventsProvider,
	config.FlagEventsBrokers,
	config.FlagEventsTopic,
	config.FlagEventsWorkers,
	config.FlagEventsQueue,
}

const serveLongDesc string = `Run the relay server.

The relay accepts prompts from browsers and streams the upstream model's
output back as a uniform event stream:

  POST /stream     {"prompt": "..."}  ->  text/event-stream
  POST /generate   {"prompt": "..."}  ->  application/json
  GET  /health
  GET  /metrics

Settings are resolved from flags, then RELAY_* environment variables
(for example RELAY_UPSTREAM_API_KEY), then config.toml, then defaults.

Supported provider types: anthropic, openai (any OpenAI-compatible
upstream such as DeepSeek).`

const serveShortDesc string = "Run the relay server"

func NewServeCmd() *cobra.Command {
	cmder := &serveCommander{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: serveShortDesc,
		Long:  serveLongDesc,
		Args:  cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			configDir, _ := cmd.Flags().GetString("config-dir")
			v, err := config.InitViper(configDir)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}

			config.BindRegisteredFlags(v, cmd, config.ServeFlags, serveFlagKeys)

			return cmder.load(v)
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			var err error
			cmder.debug, err = cmd.Flags().GetBool("debug")
			if err != nil {
				return fmt.Errorf("could not get debug flag: %w", err)
			}

			return cmder.run(cmd.OutOrStdout())
		},
	}

	f := &cmder.flags
	config.AddStringFlag(cmd, config.ServeFlags, config.FlagListen, &f.listen)
	config.AddStringFlag(cmd, config.ServeFlags, config.FlagAllowedOrigins, &f.allowedOrigins)
	config.AddStringFlag(cmd, config.ServeFlags, config.FlagStreamTimeout, &f.streamTimeout)
	config.AddStringFlag(cmd, config.ServeFlags, config.FlagKeepAlive, &f.keepAlive)
	config.AddStringFlag(cmd, config.ServeFlags, config.FlagUpstream, &f.upstream)
	config.AddStringFlag(cmd, config.ServeFlags, config.FlagProvider, &f.provider)
	config.AddStringFlag(cmd, config.ServeFlags, config.FlagModel, &f.model)
	config.AddUintFlag(cmd, config.ServeFlags, config.FlagMaxTokens, &f.maxTokens)
	config.AddStringFlag(cmd, config.ServeFlags, config.FlagEventsProvider, &f.eventsProvider)
	config.AddStringFlag(cmd, config.ServeFlags, config.FlagEventsBrokers, &f.eventsBrokers)
	config.AddStringFlag(cmd, config.ServeFlags, config.FlagEventsTopic, &f.eventsTopic)
	config.AddUintFlag(cmd, config.ServeFlags, config.FlagEventsWorkers, &f.eventsWorkers)
	config.AddUintFlag(cmd, config.ServeFlags, config.FlagEventsQueue, &f.eventsQueue)

	cmd.Flags().BoolVar(&cmder.logJSON, "log-json", false, "Write JSON logs instead of pretty terminal output")
	cmd.Flags().StringVar(&cmder.logFile, "log-file", "", "Also append JSON logs to this file")

	return cmd
}

// load resolves every setting from v.
func (c *serveCommander) load(v *viper.Viper) error {
	c.listen = v.GetString("server.listen")
	c.allowedOrigins = v.GetString("server.allowed_origins")

	var err error
	if c.streamTimeout, err = duration(v, "server.stream_timeout"); err != nil {
		return err
	}
	if c.keepAlive, err = duration(v, "server.keep_alive"); err != nil {
		return err
	}

	c.providerType = v.GetString("upstream.provider")
	c.upstreamURL = v.GetString("upstream.url")
	c.model = v.GetString("upstream.model")
	c.apiKey = v.GetString("upstream.api_key")
	c.systemPrompt = v.GetString("upstream.system_prompt")
	c.temperature = v.GetFloat64("upstream.temperature")
	c.maxTokens = v.GetUint("upstream.max_tokens")

	events := config.EventsConfig{
		Provider: v.GetString("events.provider"),
		Brokers:  v.GetString("events.brokers"),
		Topic:    v.GetString("events.topic"),
	}
	c.eventsProvider = events.Provider
	c.eventsBrokers = events.BrokerList()
	c.eventsTopic = events.Topic
	c.eventWorkers = v.GetUint("events.workers")
	c.eventQueueSize = v.GetUint("events.queue_size")

	return nil
}

// duration reads a non-negative Go duration string from v.
func duration(v *viper.Viper, key string) (time.Duration, error) {
	d, err := time.ParseDuration(v.GetString(key))
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("invalid %s: must not be negative", key)
	}
	return d, nil
}

func (c *serveCommander) run(console io.Writer) error {
	log, closeLog, err := c.newLogger(console)
	if err != nil {
		return err
	}
	defer closeLog()
	c.logger = log

	prov, err := provider.New(c.providerType)
	if err != nil {
		return err
	}

	if c.apiKey == "" {
		c.logger.Warn("no upstream api key configured, set upstream.api_key or RELAY_UPSTREAM_API_KEY")
	}

	client, err := upstream.NewClient(upstream.Config{
		BaseURL:      c.upstreamURL,
		APIKey:       c.apiKey,
		Model:        c.model,
		SystemPrompt: c.systemPrompt,
		Temperature:  c.temperature,
		MaxTokens:    int(c.maxTokens),
	}, prov, c.logger)
	if err != nil {
		return fmt.Errorf("creating upstream client: %w", err)
	}

	publisher, err := c.newPublisher()
	if err != nil {
		return err
	}
	defer publisher.Close()

	srv, err := relay.New(relay.Config{
		ListenAddr:        c.listen,
		AllowedOrigins:    c.allowedOrigins,
		StreamTimeout:     c.streamTimeout,
		KeepAliveInterval: c.keepAlive,
		EventWorkers:      c.eventWorkers,
		EventQueueSize:    c.eventQueueSize,
	}, client, publisher, c.logger)
	if err != nil {
		return fmt.Errorf("creating relay: %w", err)
	}
	defer srv.Close()

	// Channel to capture errors from the server goroutine
	errChan := make(chan error, 1)
	go func() {
		if err := srv.Run(); err != nil {
			errChan <- fmt.Errorf("relay server error: %w", err)
		}
	}()

	// Wait for interrupt signal or error
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case err := <-errChan:
		return err
	case sig := <-sigChan:
		c.logger.Info("received signal, shutting down", "signal", sig.String())
		return nil
	}
}

// newLogger builds the console logger and, with --log-file, fans out to a
// JSON file logger as well. The returned func closes the log file.
func (c *serveCommander) newLogger(console io.Writer) (*slog.Logger, func(), error) {
	pretty := !c.logJSON && isTerminal(console)
	consoleLogger := logger.New(
		logger.WithDebug(c.debug),
		logger.WithSource(c.debug),
		logger.WithJSON(c.logJSON),
		logger.WithPretty(pretty),
		logger.WithWriter(console),
	)

	if c.logFile == "" {
		return consoleLogger, func() {}, nil
	}

	f, err := os.OpenFile(c.logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("opening log file: %w", err)
	}

	fileLogger := logger.New(
		logger.WithDebug(c.debug),
		logger.WithSource(c.debug),
		logger.WithJSON(true),
		logger.WithWriter(f),
	)

	return logger.Multi(consoleLogger, fileLogger), func() { _ = f.Close() }, nil
}

func (c *serveCommander) newPublisher() (eventstream.Publisher, error) {
	switch c.eventsProvider {
	case "", config.EventsProviderNop:
		return nop.NewPublisher(), nil

	case config.EventsProviderKafka:
		p, err := kafka.NewPublisher(kafka.Config{
			Brokers: c.eventsBrokers,
			Topic:   c.eventsTopic,
		})
		if err != nil {
			return nil, fmt.Errorf("creating kafka publisher: %w", err)
		}

		c.logger.Info("publishing relay events to kafka",
			"brokers", c.eventsBrokers,
			"topic", c.eventsTopic,
		)
		return p, nil

	default:
		return nil, fmt.Errorf("unknown events provider: %q", c.eventsProvider)
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
