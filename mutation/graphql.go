package mutation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"

	"github.com/zero-day-ai/graphsync/entity"
)

// EndpointSource resolves the GraphQL endpoint URL for each request.
type EndpointSource interface {
	Endpoint(ctx context.Context) (string, error)
}

// StaticEndpoint is a fixed endpoint URL.
type StaticEndpoint string

// Endpoint implements EndpointSource.
func (e StaticEndpoint) Endpoint(context.Context) (string, error) {
	if e == "" {
		return "", errors.New("graphql endpoint is not configured")
	}
	return string(e), nil
}

// Backend error codes mapped to reasons.
var (
	validationCodes = map[string]bool{
		"VALIDATION_ERROR":          true,
		"BAD_USER_INPUT":            true,
		"FUNCTIONAL_ERROR":          true,
		"GRAPHQL_VALIDATION_FAILED": true,
	}
	conflictCodes = map[string]bool{
		"ALREADY_EXISTS":        true,
		"ALREADY_EXISTS_ERROR":  true,
		"CONFLICT":              true,
		"NOT_FOUND":             true,
		"ALREADY_DELETED":       true,
		"ALREADY_DELETED_ERROR": true,
	}
)

// ClassifyCode maps a backend error code to a Reason.
func ClassifyCode(code string) Reason {
	switch {
	case validationCodes[code]:
		return ReasonValidation
	case conflictCodes[code]:
		return ReasonConflict
	default:
		return ReasonUnknown
	}
}

// GraphQLDispatcher commits relationship mutations for one container kind
// over GraphQL-over-HTTP. Requests go through a circuit breaker; while it is
// open, commits fail fast with ReasonNetwork.
//
// Thread-safety: safe for concurrent use.
type GraphQLDispatcher struct {
	spec     ContainerSpec
	endpoint EndpointSource
	client   *http.Client
	breaker  *gobreaker.CircuitBreaker
	headers  map[string]string
	logger   *slog.Logger
}

// GraphQLOption configures a GraphQLDispatcher.
type GraphQLOption func(*graphQLConfig)

type graphQLConfig struct {
	client  *http.Client
	timeout time.Duration
	breaker *gobreaker.Settings
	headers map[string]string
	logger  *slog.Logger
}

// WithHTTPClient sets the HTTP client. WithTimeout is ignored when set.
func WithHTTPClient(c *http.Client) GraphQLOption {
	return func(cfg *graphQLConfig) {
		cfg.client = c
	}
}

// WithTimeout sets the per-request timeout. Default: 30s.
func WithTimeout(d time.Duration) GraphQLOption {
	return func(cfg *graphQLConfig) {
		cfg.timeout = d
	}
}

// WithBreakerSettings overrides the circuit breaker settings.
func WithBreakerSettings(s gobreaker.Settings) GraphQLOption {
	return func(cfg *graphQLConfig) {
		cfg.breaker = &s
	}
}

// WithHeader adds a header to every request.
func WithHeader(key, value string) GraphQLOption {
	return func(cfg *graphQLConfig) {
		if cfg.headers == nil {
			cfg.headers = make(map[string]string)
		}
		cfg.headers[key] = value
	}
}

// WithDispatcherLogger sets the logger. If not provided, slog.Default() is used.
func WithDispatcherLogger(logger *slog.Logger) GraphQLOption {
	return func(cfg *graphQLConfig) {
		cfg.logger = logger
	}
}

// DefaultBreakerSettings returns the breaker configuration used when none is
// given: trip at 80% failures over at least 5 requests, probe after 60s.
func DefaultBreakerSettings(name string) gobreaker.Settings {
	return gobreaker.Settings{
		Name:        name,
		MaxRequests: 5,
		Interval:    30 * time.Second,
		Timeout:     60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 5 {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= 0.8
		},
	}
}

// NewGraphQLDispatcher creates a dispatcher for containers described by spec.
func NewGraphQLDispatcher(spec ContainerSpec, endpoint EndpointSource, opts ...GraphQLOption) (*GraphQLDispatcher, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	if endpoint == nil {
		return nil, errors.New("graphql endpoint source cannot be nil")
	}

	cfg := &graphQLConfig{timeout: 30 * time.Second}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.logger == nil {
		cfg.logger = slog.Default()
	}
	if cfg.client == nil {
		cfg.client = &http.Client{Timeout: cfg.timeout}
	}

	settings := DefaultBreakerSettings("graphql-" + spec.EditField)
	if cfg.breaker != nil {
		settings = *cfg.breaker
	}
	logger := cfg.logger
	// A caller cancelling its own request says nothing about the backend.
	isSuccessful := settings.IsSuccessful
	settings.IsSuccessful = func(err error) bool {
		if errors.Is(err, context.Canceled) {
			return true
		}
		if isSuccessful != nil {
			return isSuccessful(err)
		}
		return err == nil
	}
	settings.OnStateChange = func(name string, from, to gobreaker.State) {
		logger.Warn("circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
	}

	return &GraphQLDispatcher{
		spec:     spec,
		endpoint: endpoint,
		client:   cfg.client,
		breaker:  gobreaker.NewCircuitBreaker(settings),
		headers:  cfg.headers,
		logger:   logger,
	}, nil
}

// Spec returns the container spec this dispatcher serves.
func (d *GraphQLDispatcher) Spec() ContainerSpec {
	return d.spec
}

// Breaker returns the breaker name and its current state.
func (d *GraphQLDispatcher) Breaker() (string, gobreaker.State) {
	return d.breaker.Name(), d.breaker.State()
}

type graphQLRequest struct {
	Query         string         `json:"query"`
	OperationName string         `json:"operationName"`
	Variables     map[string]any `json:"variables"`
}

type graphQLError struct {
	Message    string `json:"message"`
	Name       string `json:"name"`
	Extensions struct {
		Code string `json:"code"`
	} `json:"extensions"`
}

func (e graphQLError) code() string {
	if e.Extensions.Code != "" {
		return e.Extensions.Code
	}
	return e.Name
}

type graphQLResponse struct {
	Data   map[string]json.RawMessage `json:"data"`
	Errors []graphQLError             `json:"errors"`
}

var errBadResponse = errors.New("malformed graphql response")

// httpFailure is an HTTP-level failure that did not produce a GraphQL body.
type httpFailure struct {
	status int
	body   string
}

func (e *httpFailure) Error() string {
	return fmt.Sprintf("unexpected HTTP status %d: %s", e.status, e.body)
}

// Commit implements Dispatcher.
func (d *GraphQLDispatcher) Commit(ctx context.Context, op Operation, vars Variables) (*Payload, error) {
	if err := Check(op, vars); err != nil {
		return nil, err
	}
	if _, side := vars.Counterpart(); side != d.spec.CounterpartSide {
		return nil, NewError(ReasonValidation, op, vars,
			fmt.Errorf("%s counterparts occupy the %q side, got %q", d.spec.Kind, d.spec.CounterpartSide, side))
	}

	req := d.buildRequest(op, vars)
	requestID := uuid.NewString()

	resp, err := d.do(ctx, requestID, req)
	if err != nil {
		d.logger.Warn("mutation transport failed",
			"request_id", requestID,
			"operation", string(op),
			"container_id", vars.Container(),
			"error", err)
		return nil, d.transportError(op, vars, err)
	}

	if len(resp.Errors) > 0 {
		first := resp.Errors[0]
		code := first.code()
		reason := ClassifyCode(code)
		d.logger.Info("mutation rejected",
			"request_id", requestID,
			"operation", string(op),
			"container_id", vars.Container(),
			"code", code,
			"reason", string(reason))
		me := NewError(reason, op, vars, errors.New(first.Message))
		me.Code = code
		return nil, me
	}

	payload, err := d.decode(op, resp)
	if err != nil {
		return nil, NewError(ReasonUnknown, op, vars, err)
	}
	payload.RequestID = requestID

	d.logger.Debug("mutation committed",
		"request_id", requestID,
		"operation", string(op),
		"container_id", vars.Container())
	return payload, nil
}

func (d *GraphQLDispatcher) buildRequest(op Operation, vars Variables) graphQLRequest {
	counterpartID, side := vars.Counterpart()
	switch v := vars.(type) {
	case AddEdgeVariables:
		return graphQLRequest{
			Query:         d.spec.AddDocument(),
			OperationName: "RelationAdd",
			Variables: map[string]any{
				"id":    v.ContainerID,
				"input": v.Input,
			},
		}
	default:
		return graphQLRequest{
			Query:         d.spec.DeleteDocument(),
			OperationName: "RelationDelete",
			Variables: map[string]any{
				"id":                vars.Container(),
				side.Arg():          counterpartID,
				"relationship_type": relationshipType(vars),
			},
		}
	}
}

func relationshipType(vars Variables) entity.RelationshipType {
	switch v := vars.(type) {
	case AddEdgeVariables:
		return v.Input.RelationshipType
	case DeleteEdgeVariables:
		return v.RelationshipType
	}
	return ""
}

// do performs one HTTP round trip inside the breaker. Only transport errors
// and 5xx responses count as breaker failures; cancellation by the caller
// does not.
func (d *GraphQLDispatcher) do(ctx context.Context, requestID string, req graphQLRequest) (*graphQLResponse, error) {
	url, err := d.endpoint.Endpoint(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolve endpoint: %w", err)
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	var clientFailure error
	out, err := d.breaker.Execute(func() (interface{}, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("Accept", "application/json")
		httpReq.Header.Set("X-Request-ID", requestID)
		for k, v := range d.headers {
			httpReq.Header.Set(k, v)
		}

		httpResp, err := d.client.Do(httpReq)
		if err != nil {
			return nil, err
		}
		defer httpResp.Body.Close()

		data, err := io.ReadAll(io.LimitReader(httpResp.Body, 8<<20))
		if err != nil {
			return nil, fmt.Errorf("read response: %w", err)
		}
		if httpResp.StatusCode >= 500 {
			return nil, &httpFailure{status: httpResp.StatusCode, body: string(truncateBody(data))}
		}

		var gql graphQLResponse
		if jsonErr := json.Unmarshal(data, &gql); jsonErr != nil || (gql.Data == nil && len(gql.Errors) == 0) {
			if httpResp.StatusCode >= 400 {
				clientFailure = &httpFailure{status: httpResp.StatusCode, body: string(truncateBody(data))}
				return nil, nil
			}
			if jsonErr != nil {
				clientFailure = fmt.Errorf("%w: %v", errBadResponse, jsonErr)
			} else {
				clientFailure = ErrNoData
			}
			return nil, nil
		}
		return &gql, nil
	})
	if err != nil {
		return nil, err
	}
	if clientFailure != nil {
		return nil, clientFailure
	}
	return out.(*graphQLResponse), nil
}

// transportError classifies a failure from do.
func (d *GraphQLDispatcher) transportError(op Operation, vars Variables, err error) *MutationError {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return NewError(ReasonNetwork, op, vars, fmt.Errorf("%w: %v", ErrBreakerOpen, err))
	}

	var hf *httpFailure
	if errors.As(err, &hf) {
		switch {
		case hf.status >= 500:
			return NewError(ReasonNetwork, op, vars, err)
		case hf.status == http.StatusBadRequest || hf.status == http.StatusUnprocessableEntity:
			return NewError(ReasonValidation, op, vars, err)
		case hf.status == http.StatusConflict:
			return NewError(ReasonConflict, op, vars, err)
		default:
			return NewError(ReasonUnknown, op, vars, err)
		}
	}
	if errors.Is(err, ErrNoData) || errors.Is(err, errBadResponse) {
		return NewError(ReasonUnknown, op, vars, err)
	}
	return NewError(ReasonNetwork, op, vars, err)
}

// decode extracts the payload from data.<editField>.
func (d *GraphQLDispatcher) decode(op Operation, resp *graphQLResponse) (*Payload, error) {
	raw, ok := resp.Data[d.spec.EditField]
	if !ok || string(raw) == "null" {
		return nil, fmt.Errorf("%w: missing %s", ErrNoData, d.spec.EditField)
	}

	var edit map[string]json.RawMessage
	if err := json.Unmarshal(raw, &edit); err != nil {
		return nil, fmt.Errorf("decode %s: %w", d.spec.EditField, err)
	}

	if op == OpAddEdge {
		var added struct {
			ID   string         `json:"id"`
			From map[string]any `json:"from"`
			To   map[string]any `json:"to"`
		}
		if err := json.Unmarshal(edit["relationAdd"], &added); err != nil {
			return nil, fmt.Errorf("decode relationAdd: %w", err)
		}
		counterpart, container := added.From, added.To
		if d.spec.CounterpartSide == DirectionTo {
			counterpart, container = container, counterpart
		}
		p := &Payload{ID: added.ID}
		p.Container = optionalFragment(container)
		p.Counterpart = optionalFragment(counterpart)
		if p.Container != nil {
			p.ID = p.Container.ID
		}
		return p, nil
	}

	var deleted map[string]any
	if err := json.Unmarshal(edit["relationDelete"], &deleted); err != nil {
		return nil, fmt.Errorf("decode relationDelete: %w", err)
	}
	p := &Payload{Container: optionalFragment(deleted)}
	if p.Container != nil {
		p.ID = p.Container.ID
	}
	return p, nil
}

func optionalFragment(m map[string]any) *entity.Fragment {
	if m == nil {
		return nil
	}
	f, err := entity.FragmentFromMap(m)
	if err != nil {
		return nil
	}
	return &f
}

func truncateBody(b []byte) []byte {
	if len(b) > 512 {
		return b[:512]
	}
	return b
}
