// Package registry resolves the GraphQL endpoint from an etcd service
// registry.
//
// Backend instances announce themselves under
// /{namespace}/graphql/{name}/{instance-id} with a JSON ServiceInfo value
// bound to a lease. A Resolver picks the first healthy instance (ordered by
// instance ID), caches its endpoint and re-selects whenever the watched
// prefix changes. A Resolver satisfies mutation.EndpointSource, so a
// dispatcher follows failovers without being rebuilt.
package registry

import (
	"context"
	"time"
)

// ServiceKind is the kind segment of every key this package reads.
const ServiceKind = "graphql"

// ServiceInfo describes a registered backend instance.
type ServiceInfo struct {
	// Name is the service name (e.g., "opencti")
	Name string `json:"name"`

	// Version is the semantic version of the backend (e.g., "5.12.0")
	Version string `json:"version"`

	// InstanceID is a unique identifier for this specific instance (typically UUID)
	InstanceID string `json:"instance_id"`

	// Endpoint is the GraphQL URL of this instance
	// Example: "https://cti.internal:4000/graphql"
	Endpoint string `json:"endpoint"`

	// Metadata contains instance attributes such as:
	//   - status: "ready" or "draining"
	//   - region: deployment region
	Metadata map[string]string `json:"metadata"`

	// StartedAt is the timestamp when this instance started
	StartedAt time.Time `json:"started_at"`
}

// Healthy reports whether the instance can serve requests: it has an
// endpoint and is not draining.
func (s ServiceInfo) Healthy() bool {
	return s.Endpoint != "" && s.Metadata["status"] != "draining"
}

// Discoverer lists and watches the instances of a named GraphQL service.
type Discoverer interface {
	// Discover returns the currently registered instances.
	Discover(ctx context.Context, name string) ([]ServiceInfo, error)

	// Watch sends the instance list immediately and again after every change.
	// The channel is closed when ctx is canceled or the discoverer is closed.
	Watch(ctx context.Context, name string) (<-chan []ServiceInfo, error)
}

// Config holds registry connection configuration.
type Config struct {
	// Endpoints is the list of etcd endpoints
	// Format: ["host1:2379", "host2:2379", "host3:2379"]
	Endpoints []string `json:"endpoints" yaml:"endpoints"`

	// Namespace is the etcd key prefix
	// Services are stored under /{namespace}/graphql/{name}/{instance-id}
	// Default: "graphsync"
	Namespace string `json:"namespace" yaml:"namespace"`

	// DialTimeout bounds connection establishment
	// Default: 5s
	DialTimeout time.Duration `json:"dial_timeout" yaml:"dial_timeout"`

	// TLS holds TLS configuration for secure etcd communication
	// If nil, TLS is disabled
	TLS *TLSConfig `json:"tls" yaml:"tls"`
}

// TLSConfig holds TLS certificate configuration for mutual TLS with etcd.
type TLSConfig struct {
	// Enabled determines whether TLS is active
	// If false, all other fields are ignored
	Enabled bool `json:"enabled" yaml:"enabled"`

	// CertFile is the path to the client certificate file (PEM format)
	CertFile string `json:"cert_file" yaml:"cert_file"`

	// KeyFile is the path to the client private key file (PEM format)
	KeyFile string `json:"key_file" yaml:"key_file"`

	// CAFile is the path to the certificate authority file (PEM format)
	CAFile string `json:"ca_file" yaml:"ca_file"`
}
