package driftbus

import (
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
)

// DefaultDrainTimeout is used by Drain when the caller passes a
// non-positive timeout.
const DefaultDrainTimeout = 2 * time.Second

// Callback handles one delivered message. A returned error is routed to the
// bus error handler; it is never surfaced to the publisher.
type Callback func(msg Message) error

// ErrorHandler receives callback failures together with the topic the
// failing message was published to. Handlers run on the dispatch goroutine
// and must not block for long.
type ErrorHandler func(err error, topic string)

// Config holds the construction-time configuration for a PubSub.
type Config struct {
	// CorrelationID is the instance correlation id. Empty means a
	// pattern-compliant id is generated at construction.
	CorrelationID string

	// ErrorHandler receives callback errors. Defaults to a handler that
	// logs through Logger.
	ErrorHandler ErrorHandler

	// Logger is used by the default error handler and for lifecycle
	// diagnostics. Defaults to the process-global zap logger.
	Logger *zap.Logger

	// Clock supplies message timestamps and drain deadlines. Injectable
	// for tests; defaults to the real clock.
	Clock clock.Clock

	// Metrics is an optional Prometheus collector. Nil disables metrics.
	Metrics *Metrics
}

// DefaultConfig returns the default PubSub configuration.
func DefaultConfig() Config {
	return Config{
		Logger: zap.L(),
		Clock:  clock.New(),
	}
}

// Option is a functional option for configuring a PubSub.
type Option func(*Config)

// WithCorrelation sets the instance correlation id. The id must satisfy the
// correlation-id pattern; construction fails otherwise.
func WithCorrelation(id string) Option {
	return func(c *Config) { c.CorrelationID = id }
}

// OnError sets the handler for subscriber callback failures.
func OnError(handler ErrorHandler) Option {
	return func(c *Config) { c.ErrorHandler = handler }
}

// WithLogger sets the logger used by the default error handler and for
// lifecycle diagnostics.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Config) {
		if logger != nil {
			c.Logger = logger
		}
	}
}

// WithClock injects the clock used for message timestamps and drain
// deadlines.
func WithClock(clk clock.Clock) Option {
	return func(c *Config) {
		if clk != nil {
			c.Clock = clk
		}
	}
}

// WithMetrics attaches a Prometheus metrics collector.
func WithMetrics(m *Metrics) Option {
	return func(c *Config) { c.Metrics = m }
}

// subscribeConfig carries per-subscription settings.
type subscribeConfig struct {
	correlation    string
	hasCorrelation bool
}

// SubscribeOption is a functional option for Subscribe.
type SubscribeOption func(*subscribeConfig)

// FilterCorrelation sets the subscription's correlation-id filter. The
// Wildcard marker matches every message; an empty id resolves to the
// instance correlation id, which is also the default when the option is
// omitted.
func FilterCorrelation(id string) SubscribeOption {
	return func(sc *subscribeConfig) {
		sc.correlation = id
		sc.hasCorrelation = true
	}
}

// publishConfig carries per-publish settings.
type publishConfig struct {
	correlationID string
	metadata      map[string]any
}

// PublishOption is a functional option for Publish.
type PublishOption func(*publishConfig)

// WithCorrelationID tags the published message with a correlation id. An
// empty id resolves to the instance correlation id; the Wildcard marker is
// always rejected on the publish side.
func WithCorrelationID(id string) PublishOption {
	return func(pc *publishConfig) { pc.correlationID = id }
}

// WithMetadata attaches metadata to the published message.
func WithMetadata(metadata map[string]any) PublishOption {
	return func(pc *publishConfig) { pc.metadata = metadata }
}
