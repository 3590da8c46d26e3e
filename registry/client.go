package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
)

// EnvEndpoints names the environment variable read by NewClientFromEnv.
const EnvEndpoints = "GRAPHSYNC_REGISTRY_ENDPOINTS"

// ErrClosed is returned by every method after Close.
var ErrClosed = errors.New("registry client is closed")

// Client reads GraphQL service registrations from etcd.
//
// Example usage:
//
//	client, err := registry.NewClient(registry.Config{
//	    Endpoints: []string{"localhost:2379"},
//	})
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
// Thread-safety: All methods are safe for concurrent use.
type Client struct {
	client    *clientv3.Client
	namespace string
	logger    *slog.Logger

	mu         sync.RWMutex
	wg         sync.WaitGroup // tracks watch goroutines
	closed     bool
	closedChan chan struct{}
}

// NewClient connects to etcd and verifies connectivity. The client must be
// closed with Close.
func NewClient(cfg Config, logger *slog.Logger) (*Client, error) {
	if len(cfg.Endpoints) == 0 {
		return nil, fmt.Errorf("registry endpoints cannot be empty")
	}
	if logger == nil {
		logger = slog.Default()
	}

	clientCfg := clientv3.Config{
		Endpoints:   cfg.Endpoints,
		DialTimeout: cfg.DialTimeout,
	}
	if clientCfg.DialTimeout <= 0 {
		clientCfg.DialTimeout = 5 * time.Second
	}

	tlsConfig, err := clientTLS(cfg.TLS)
	if err != nil {
		return nil, fmt.Errorf("failed to configure TLS: %w", err)
	}
	clientCfg.TLS = tlsConfig

	cli, err := clientv3.New(clientCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create etcd client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	if _, err := cli.Get(ctx, "health-check"); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		_ = cli.Close()
		return nil, fmt.Errorf("etcd health check failed: %w", err)
	}

	return &Client{
		client:     cli,
		namespace:  namespaceOrDefault(cfg.Namespace),
		logger:     logger,
		closedChan: make(chan struct{}),
	}, nil
}

// NewClientFromEnv creates a client from GRAPHSYNC_REGISTRY_ENDPOINTS, a
// comma-separated list of etcd endpoints. It returns (nil, nil) when the
// variable is unset: the session then uses its static endpoint.
func NewClientFromEnv(logger *slog.Logger) (*Client, error) {
	endpoints := ParseEndpoints(os.Getenv(EnvEndpoints))
	if len(endpoints) == 0 {
		return nil, nil
	}
	return NewClient(Config{Endpoints: endpoints}, logger)
}

// ParseEndpoints splits a comma-separated endpoint list, dropping blanks.
func ParseEndpoints(s string) []string {
	var out []string
	for _, ep := range strings.Split(s, ",") {
		if ep = strings.TrimSpace(ep); ep != "" {
			out = append(out, ep)
		}
	}
	return out
}

// Discover returns every registered instance of the named service in
// arbitrary order. Entries that are not valid JSON are skipped.
func (c *Client) Discover(ctx context.Context, name string) ([]ServiceInfo, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return nil, ErrClosed
	}
	return c.discover(ctx, name)
}

func (c *Client) discover(ctx context.Context, name string) ([]ServiceInfo, error) {
	prefix := ServicePrefix(c.namespace, name)
	resp, err := c.client.Get(ctx, prefix, clientv3.WithPrefix())
	if err != nil {
		return nil, fmt.Errorf("failed to discover services: %w", err)
	}

	instances := make([]ServiceInfo, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var info ServiceInfo
		if err := json.Unmarshal(kv.Value, &info); err != nil {
			c.logger.Warn("skipping invalid registry entry", "key", string(kv.Key), "error", err)
			continue
		}
		instances = append(instances, info)
	}
	return instances, nil
}

// Watch sends the current instance list immediately and again whenever a
// service registers, deregisters or its lease expires. The channel is closed
// when ctx is canceled, Close is called or the etcd watch fails.
func (c *Client) Watch(ctx context.Context, name string) (<-chan []ServiceInfo, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return nil, ErrClosed
	}

	instances, err := c.discover(ctx, name)
	if err != nil {
		return nil, err
	}
	ch := make(chan []ServiceInfo, 1)
	ch <- instances

	watchChan := c.client.Watch(ctx, ServicePrefix(c.namespace, name), clientv3.WithPrefix())

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer close(ch)

		for {
			select {
			case <-ctx.Done():
				return
			case <-c.closedChan:
				return
			case watchResp, ok := <-watchChan:
				if !ok {
					return
				}
				if err := watchResp.Err(); err != nil {
					c.logger.Warn("registry watch failed", "service", name, "error", err)
					return
				}

				instances, err := c.discover(ctx, name)
				if err != nil {
					c.logger.Warn("registry refresh failed", "service", name, "error", err)
					continue
				}

				select {
				case ch <- instances:
				case <-ctx.Done():
					return
				case <-c.closedChan:
					return
				}
			}
		}
	}()

	return ch, nil
}

// Close stops all watches and closes the etcd connection.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.closedChan)
	c.mu.Unlock()

	c.wg.Wait()
	return c.client.Close()
}

// ServicePrefix returns the key prefix holding the instances of a service.
//
// Format: /namespace/graphql/name/
func ServicePrefix(namespace, name string) string {
	return fmt.Sprintf("/%s/%s/%s/", namespaceOrDefault(namespace), ServiceKind, name)
}

func namespaceOrDefault(ns string) string {
	if ns == "" {
		return "graphsync"
	}
	return ns
}
