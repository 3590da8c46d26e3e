// Package health checks the dependencies a session writes through: the
// GraphQL endpoint, the transport circuit breakers and the edge feed.
//
// Checks return a Status and never an error, so callers can Combine them
// into one report:
//
//	status := health.Combine(
//		health.EndpointCheck(ctx, resolver),
//		health.BreakerCheck("graphql-groupEdit", gobreaker.StateClosed),
//		health.PingCheck(ctx, "edge feed", feedClient.Ping),
//	)
//	if status.IsUnhealthy() {
//		log.Println(status.Message)
//	}
package health

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"time"

	"github.com/sony/gobreaker"
)

// EndpointSource resolves the GraphQL endpoint URL.
type EndpointSource interface {
	Endpoint(ctx context.Context) (string, error)
}

// EndpointCheck resolves the current GraphQL endpoint and verifies TCP
// connectivity to it.
func EndpointCheck(ctx context.Context, source EndpointSource) Status {
	if source == nil {
		return Unhealthy("no endpoint source", nil)
	}

	endpoint, err := source.Endpoint(ctx)
	if err != nil {
		return Unhealthy("failed to resolve GraphQL endpoint", map[string]any{
			"error": err.Error(),
		})
	}

	host, port, err := hostPort(endpoint)
	if err != nil {
		return Unhealthy(fmt.Sprintf("invalid GraphQL endpoint %q", endpoint), map[string]any{
			"endpoint": endpoint,
			"error":    err.Error(),
		})
	}

	status := NetworkCheck(ctx, host, port)
	if status.Details == nil {
		status.Details = map[string]any{}
	}
	status.Details["endpoint"] = endpoint
	return status
}

// NetworkCheck verifies TCP connectivity to a host and port. A nil ctx gets a
// 5s timeout.
func NetworkCheck(ctx context.Context, host string, port int) Status {
	if host == "" {
		return Unhealthy("host cannot be empty", nil)
	}
	if port <= 0 || port > 65535 {
		return Unhealthy(fmt.Sprintf("invalid port number: %d", port), map[string]any{"port": port})
	}

	if ctx == nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
	}

	address := net.JoinHostPort(host, strconv.Itoa(port))
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return Unhealthy(fmt.Sprintf("failed to connect to %s", address), map[string]any{
			"host":  host,
			"port":  port,
			"error": err.Error(),
		})
	}
	_ = conn.Close()

	return Healthy(fmt.Sprintf("connected to %s", address))
}

// BreakerCheck maps a circuit breaker state to a status: closed is healthy,
// half-open is degraded and open is unhealthy.
func BreakerCheck(name string, state gobreaker.State) Status {
	details := map[string]any{"breaker": name, "state": state.String()}
	switch state {
	case gobreaker.StateClosed:
		return Healthy(fmt.Sprintf("breaker %s closed", name))
	case gobreaker.StateHalfOpen:
		return Degraded(fmt.Sprintf("breaker %s half-open", name), details)
	default:
		return Unhealthy(fmt.Sprintf("breaker %s open", name), details)
	}
}

// PingCheck runs ping and reports the named dependency unhealthy if it fails.
func PingCheck(ctx context.Context, name string, ping func(context.Context) error) Status {
	if ping == nil {
		return Unhealthy(fmt.Sprintf("%s: no ping function", name), nil)
	}
	start := time.Now()
	if err := ping(ctx); err != nil {
		return Unhealthy(fmt.Sprintf("%s unreachable", name), map[string]any{
			"error": err.Error(),
		})
	}
	return Status{
		Status:  StatusHealthy,
		Message: fmt.Sprintf("%s reachable", name),
		Details: map[string]any{"latency_ms": time.Since(start).Milliseconds()},
	}
}

// Combine aggregates checks. Any unhealthy check makes the result unhealthy;
// otherwise any degraded check makes it degraded.
func Combine(checks ...Status) Status {
	if len(checks) == 0 {
		return Healthy("no checks provided")
	}

	var unhealthy, degraded []string
	var healthyCount int
	for _, check := range checks {
		msg := check.Message
		if msg == "" {
			msg = "unnamed check"
		}
		switch check.Status {
		case StatusUnhealthy:
			unhealthy = append(unhealthy, msg)
		case StatusDegraded:
			degraded = append(degraded, msg)
		case StatusHealthy:
			healthyCount++
		}
	}

	if len(unhealthy) > 0 {
		return Unhealthy(fmt.Sprintf("%d check(s) failed", len(unhealthy)), map[string]any{
			"total":         len(checks),
			"unhealthy":     len(unhealthy),
			"degraded":      len(degraded),
			"healthy":       healthyCount,
			"failed_checks": unhealthy,
		})
	}
	if len(degraded) > 0 {
		return Degraded(fmt.Sprintf("%d check(s) degraded", len(degraded)), map[string]any{
			"total":           len(checks),
			"degraded":        len(degraded),
			"healthy":         healthyCount,
			"degraded_checks": degraded,
		})
	}
	return Healthy(fmt.Sprintf("all %d check(s) passed", len(checks)))
}

// hostPort extracts the dial address of an http(s) URL, defaulting the port
// from the scheme.
func hostPort(endpoint string) (string, int, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", 0, err
	}
	if u.Hostname() == "" {
		return "", 0, fmt.Errorf("missing host")
	}

	if p := u.Port(); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil {
			return "", 0, fmt.Errorf("invalid port %q", p)
		}
		return u.Hostname(), port, nil
	}
	switch u.Scheme {
	case "https":
		return u.Hostname(), 443, nil
	case "http":
		return u.Hostname(), 80, nil
	default:
		return "", 0, fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
}
