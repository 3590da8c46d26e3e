package graphsync

import (
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/zero-day-ai/graphsync/entity"
	"github.com/zero-day-ai/graphsync/mutation"
	"github.com/zero-day-ai/graphsync/registry"
)

// Option configures a Session.
type Option func(*sessionConfig)

type sessionConfig struct {
	logger      *slog.Logger
	tracer      trace.Tracer
	meter       metric.Meter
	registerer  prometheus.Registerer
	httpClient  *http.Client
	discoverer  registry.Discoverer
	dispatchers map[entity.Kind]mutation.Dispatcher
}

// WithLogger sets a custom logger for the session.
// If not provided, one is built from the log section of the configuration.
func WithLogger(logger *slog.Logger) Option {
	return func(c *sessionConfig) {
		c.logger = logger
	}
}

// WithTracer sets an OpenTelemetry tracer for commit spans.
// If not provided, the global tracer provider is used.
func WithTracer(tracer trace.Tracer) Option {
	return func(c *sessionConfig) {
		c.tracer = tracer
	}
}

// WithMeter sets an OpenTelemetry meter for commit metrics.
// If not provided, the global meter provider is used.
func WithMeter(meter metric.Meter) Option {
	return func(c *sessionConfig) {
		c.meter = meter
	}
}

// WithRegisterer registers the fragment cache collector with a Prometheus
// registerer. The collector is unregistered on Close.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(c *sessionConfig) {
		c.registerer = reg
	}
}

// WithHTTPClient sets the HTTP client used by the GraphQL dispatchers.
func WithHTTPClient(client *http.Client) Option {
	return func(c *sessionConfig) {
		c.httpClient = client
	}
}

// WithDiscoverer resolves the GraphQL endpoint through d instead of an etcd
// client built from the registry section.
func WithDiscoverer(d registry.Discoverer) Option {
	return func(c *sessionConfig) {
		c.discoverer = d
	}
}

// WithDispatcher serves containers of kind with d instead of the GraphQL
// dispatcher. d is still instrumented.
func WithDispatcher(kind entity.Kind, d mutation.Dispatcher) Option {
	return func(c *sessionConfig) {
		if c.dispatchers == nil {
			c.dispatchers = make(map[entity.Kind]mutation.Dispatcher)
		}
		c.dispatchers[kind] = d
	}
}
