package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// ErrNoInstances means no healthy instance of the service is registered.
var ErrNoInstances = errors.New("no healthy graphql instance registered")

// Resolver tracks the endpoint of one GraphQL service. It satisfies
// mutation.EndpointSource.
type Resolver struct {
	source Discoverer
	name   string
	logger *slog.Logger

	mu       sync.RWMutex
	endpoint string
}

// NewResolver creates a resolver for the named service.
func NewResolver(source Discoverer, name string, logger *slog.Logger) (*Resolver, error) {
	if source == nil {
		return nil, errors.New("discoverer cannot be nil")
	}
	if name == "" {
		return nil, errors.New("service name cannot be empty")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		source: source,
		name:   name,
		logger: logger.With("service", name),
	}, nil
}

// Endpoint returns the cached endpoint, discovering it on first use or after
// the watched instance set lost its selection.
func (r *Resolver) Endpoint(ctx context.Context) (string, error) {
	r.mu.RLock()
	ep := r.endpoint
	r.mu.RUnlock()
	if ep != "" {
		return ep, nil
	}

	instances, err := r.source.Discover(ctx, r.name)
	if err != nil {
		return "", fmt.Errorf("discover %s: %w", r.name, err)
	}
	ep = SelectEndpoint(instances)
	if ep == "" {
		return "", fmt.Errorf("%w: %s", ErrNoInstances, r.name)
	}

	r.mu.Lock()
	r.endpoint = ep
	r.mu.Unlock()
	return ep, nil
}

// Run watches the service and re-selects the endpoint after every change,
// until ctx is canceled or the watch ends.
func (r *Resolver) Run(ctx context.Context) error {
	updates, err := r.source.Watch(ctx, r.name)
	if err != nil {
		return fmt.Errorf("watch %s: %w", r.name, err)
	}

	for instances := range updates {
		ep := SelectEndpoint(instances)

		r.mu.Lock()
		prev := r.endpoint
		r.endpoint = ep
		r.mu.Unlock()

		switch {
		case ep == "":
			r.logger.Warn("no healthy graphql instance", "instances", len(instances))
		case ep != prev:
			r.logger.Info("graphql endpoint selected", "endpoint", ep, "previous", prev)
		}
	}
	return nil
}

// SelectEndpoint returns the endpoint of the first healthy instance ordered
// by instance ID, or "" if there is none.
func SelectEndpoint(instances []ServiceInfo) string {
	healthy := make([]ServiceInfo, 0, len(instances))
	for _, inst := range instances {
		if inst.Healthy() {
			healthy = append(healthy, inst)
		}
	}
	if len(healthy) == 0 {
		return ""
	}
	sort.Slice(healthy, func(i, j int) bool { return healthy[i].InstanceID < healthy[j].InstanceID })
	return healthy[0].Endpoint
}
