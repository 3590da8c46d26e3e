// Package config provides loading and parsing of graphsync.yaml session
// configuration files.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"gopkg.in/yaml.v3"

	"github.com/zero-day-ai/graphsync/registry"
)

// Environment variables applied by ApplyEnv.
const (
	EnvEndpoint          = "GRAPHSYNC_ENDPOINT"
	EnvRegistryEndpoints = registry.EnvEndpoints
	EnvFeedURL           = "GRAPHSYNC_FEED_URL"
)

// Config represents a graphsync.yaml configuration file.
type Config struct {
	// GraphQL configures the mutation transport.
	GraphQL *GraphQLConfig `yaml:"graphql,omitempty"`

	// Registry enables endpoint discovery through etcd. Optional.
	Registry *RegistryConfig `yaml:"registry,omitempty"`

	// Feed enables the Redis edge feed. Optional.
	Feed *FeedConfig `yaml:"feed,omitempty"`

	// Binding holds defaults for view bindings.
	Binding *BindingConfig `yaml:"binding,omitempty"`

	// Log configures the session logger.
	Log *LogConfig `yaml:"log,omitempty"`
}

// GraphQLConfig configures the GraphQL-over-HTTP dispatcher.
type GraphQLConfig struct {
	// Endpoint is the static GraphQL URL. Ignored when a registry is configured.
	Endpoint string `yaml:"endpoint,omitempty"`

	// Timeout is the per-request timeout.
	// Format: Go duration string (e.g., "30s")
	// Default: 30s
	Timeout string `yaml:"timeout,omitempty"`

	// Headers are added to every request (e.g., Authorization).
	Headers map[string]string `yaml:"headers,omitempty"`

	// Breaker configures the transport circuit breaker.
	Breaker *BreakerConfig `yaml:"breaker,omitempty"`
}

// GetTimeout parses the timeout string and returns a duration.
// Returns the default value if not set or invalid.
func (g *GraphQLConfig) GetTimeout() time.Duration {
	if g == nil {
		return 30 * time.Second
	}
	return parseDuration(g.Timeout, 30*time.Second)
}

// BreakerConfig configures the circuit breaker around the GraphQL transport.
type BreakerConfig struct {
	// MaxRequests is the number of probe requests allowed while half-open.
	// Default: 5
	MaxRequests uint32 `yaml:"max_requests,omitempty"`

	// Interval is the closed-state window after which counts reset.
	// Default: 30s
	Interval string `yaml:"interval,omitempty"`

	// Timeout is how long the breaker stays open before probing.
	// Default: 60s
	Timeout string `yaml:"timeout,omitempty"`

	// MinRequests is the number of requests in the window before the breaker
	// may trip. Default: 5
	MinRequests uint32 `yaml:"min_requests,omitempty"`

	// FailureRatio trips the breaker once reached. Default: 0.8
	FailureRatio float64 `yaml:"failure_ratio,omitempty"`
}

// Settings returns breaker settings named name, with defaults filled in.
func (b *BreakerConfig) Settings(name string) gobreaker.Settings {
	var c BreakerConfig
	if b != nil {
		c = *b
	}
	if c.MaxRequests == 0 {
		c.MaxRequests = 5
	}
	if c.MinRequests == 0 {
		c.MinRequests = 5
	}
	if c.FailureRatio <= 0 || c.FailureRatio > 1 {
		c.FailureRatio = 0.8
	}

	return gobreaker.Settings{
		Name:        name,
		MaxRequests: c.MaxRequests,
		Interval:    parseDuration(c.Interval, 30*time.Second),
		Timeout:     parseDuration(c.Timeout, 60*time.Second),
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < c.MinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= c.FailureRatio
		},
	}
}

// RegistryConfig configures etcd endpoint discovery.
type RegistryConfig struct {
	// Endpoints is the list of etcd endpoints.
	Endpoints []string `yaml:"endpoints,omitempty"`

	// Namespace is the etcd key prefix. Default: "graphsync"
	Namespace string `yaml:"namespace,omitempty"`

	// Service is the registered GraphQL service name. Default: "opencti"
	Service string `yaml:"service,omitempty"`

	// DialTimeout bounds connection establishment.
	// Format: Go duration string. Default: 5s
	DialTimeout string `yaml:"dial_timeout,omitempty"`

	// TLS configures mutual TLS with etcd.
	TLS *registry.TLSConfig `yaml:"tls,omitempty"`
}

// Enabled reports whether any etcd endpoint is configured.
func (r *RegistryConfig) Enabled() bool {
	return r != nil && len(r.Endpoints) > 0
}

// GetService returns the service name or the default value.
func (r *RegistryConfig) GetService() string {
	if r == nil || r.Service == "" {
		return "opencti"
	}
	return r.Service
}

// ClientConfig converts to a registry client configuration.
func (r *RegistryConfig) ClientConfig() registry.Config {
	if r == nil {
		return registry.Config{}
	}
	return registry.Config{
		Endpoints:   r.Endpoints,
		Namespace:   r.Namespace,
		DialTimeout: parseDuration(r.DialTimeout, 5*time.Second),
		TLS:         r.TLS,
	}
}

// FeedConfig configures the Redis edge feed.
type FeedConfig struct {
	// URL is the Redis connection string (e.g., "redis://localhost:6379").
	URL string `yaml:"url,omitempty"`

	// Channel is the pub/sub channel. Default: "graphsync:edges"
	Channel string `yaml:"channel,omitempty"`

	// HeartbeatInterval is the interval between subscriber heartbeats.
	// Format: Go duration string. Default: 10s
	HeartbeatInterval string `yaml:"heartbeat_interval,omitempty"`

	// HeartbeatTTL is the lifetime of a heartbeat key.
	// Format: Go duration string. Default: 30s
	HeartbeatTTL string `yaml:"heartbeat_ttl,omitempty"`
}

// Enabled reports whether a Redis URL is configured.
func (f *FeedConfig) Enabled() bool {
	return f != nil && f.URL != ""
}

// GetHeartbeatInterval parses the heartbeat interval string and returns a duration.
// Returns the default value if not set or invalid.
func (f *FeedConfig) GetHeartbeatInterval() time.Duration {
	if f == nil {
		return 10 * time.Second
	}
	return parseDuration(f.HeartbeatInterval, 10*time.Second)
}

// GetHeartbeatTTL parses the heartbeat TTL string and returns a duration.
// Returns the default value if not set or invalid.
func (f *FeedConfig) GetHeartbeatTTL() time.Duration {
	if f == nil {
		return 30 * time.Second
	}
	return parseDuration(f.HeartbeatTTL, 30*time.Second)
}

// BindingConfig holds view binding defaults.
type BindingConfig struct {
	// SequenceGuard drops responses superseded by a later toggle of the same
	// counterpart. Default: false (writes follow response order)
	SequenceGuard bool `yaml:"sequence_guard,omitempty"`
}

// LogConfig configures the session logger.
type LogConfig struct {
	// Level is one of debug, info, warn, error. Default: info
	Level string `yaml:"level,omitempty"`

	// Format is "json" or "text". Default: json
	Format string `yaml:"format,omitempty"`
}

// NewLogger builds a slog logger writing to w.
func (l *LogConfig) NewLogger(w io.Writer) *slog.Logger {
	level := slog.LevelInfo
	format := "json"
	if l != nil {
		switch strings.ToLower(l.Level) {
		case "debug":
			level = slog.LevelDebug
		case "warn", "warning":
			level = slog.LevelWarn
		case "error":
			level = slog.LevelError
		}
		if strings.EqualFold(l.Format, "text") {
			format = "text"
		}
	}

	opts := &slog.HandlerOptions{Level: level}
	if format == "text" {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

// ApplyEnv overrides file values with GRAPHSYNC_* environment variables.
func (c *Config) ApplyEnv() {
	if ep := os.Getenv(EnvEndpoint); ep != "" {
		if c.GraphQL == nil {
			c.GraphQL = &GraphQLConfig{}
		}
		c.GraphQL.Endpoint = ep
	}
	if eps := registry.ParseEndpoints(os.Getenv(EnvRegistryEndpoints)); len(eps) > 0 {
		if c.Registry == nil {
			c.Registry = &RegistryConfig{}
		}
		c.Registry.Endpoints = eps
	}
	if url := os.Getenv(EnvFeedURL); url != "" {
		if c.Feed == nil {
			c.Feed = &FeedConfig{}
		}
		c.Feed.URL = url
	}
}

// Validate checks that the mutation transport can find its endpoint.
func (c *Config) Validate() error {
	hasStatic := c.GraphQL != nil && c.GraphQL.Endpoint != ""
	if !hasStatic && !c.Registry.Enabled() {
		return errors.New("either graphql.endpoint or registry.endpoints must be set")
	}
	if c.GraphQL != nil && c.GraphQL.Timeout != "" {
		if _, err := time.ParseDuration(c.GraphQL.Timeout); err != nil {
			return fmt.Errorf("invalid graphql.timeout %q: %w", c.GraphQL.Timeout, err)
		}
	}
	if b := c.breaker(); b != nil && b.FailureRatio > 1 {
		return fmt.Errorf("breaker.failure_ratio must be within (0, 1], got %v", b.FailureRatio)
	}
	return nil
}

func (c *Config) breaker() *BreakerConfig {
	if c.GraphQL == nil {
		return nil
	}
	return c.GraphQL.Breaker
}

// Parse decodes YAML configuration data.
func Parse(data []byte) (*Config, error) {
	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &config, nil
}

// Load reads and parses a graphsync.yaml file from the given path.
// If the path is a directory, it looks for graphsync.yaml or graphsync.yml in that directory.
func Load(path string) (*Config, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat path: %w", err)
	}

	configPath := path
	if info.IsDir() {
		configPath = ""
		for _, name := range []string{"graphsync.yaml", "graphsync.yml"} {
			candidate := filepath.Join(path, name)
			if _, err := os.Stat(candidate); err == nil {
				configPath = candidate
				break
			}
		}
		if configPath == "" {
			return nil, fmt.Errorf("no graphsync.yaml or graphsync.yml found in %s", path)
		}
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// LoadFromDir searches for graphsync.yaml starting from the given directory
// and walking up to parent directories until found or root is reached.
func LoadFromDir(dir string) (*Config, error) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to get absolute path: %w", err)
	}

	for {
		config, err := Load(absDir)
		if err == nil {
			return config, nil
		}

		parent := filepath.Dir(absDir)
		if parent == absDir {
			return nil, fmt.Errorf("no graphsync.yaml found in %s or parent directories", dir)
		}
		absDir = parent
	}
}

func parseDuration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
