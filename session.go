package graphsync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"sync"

	"go.opentelemetry.io/otel"

	"github.com/zero-day-ai/graphsync/binding"
	"github.com/zero-day-ai/graphsync/config"
	"github.com/zero-day-ai/graphsync/entity"
	"github.com/zero-day-ai/graphsync/feed"
	"github.com/zero-day-ai/graphsync/health"
	"github.com/zero-day-ai/graphsync/mutation"
	"github.com/zero-day-ai/graphsync/registry"
	"github.com/zero-day-ai/graphsync/store"
)

const instrumentationName = "github.com/zero-day-ai/graphsync"

// containerSpecs are the container kinds a session can edit.
var containerSpecs = []mutation.ContainerSpec{mutation.GroupSpec, mutation.ReportSpec}

// Session is the explicitly owned root of one signed-in client: the fragment
// cache plus everything that writes into it.
//
// Thread-safety: All methods are safe for concurrent use.
type Session struct {
	cfg         *config.Config
	logger      *slog.Logger
	store       *store.Store
	dispatchers map[entity.Kind]mutation.Dispatcher
	collector   *store.Collector
	sc          *sessionConfig

	endpoint mutation.EndpointSource
	graphql  []*mutation.GraphQLDispatcher

	registryClient *registry.Client
	resolver       *registry.Resolver
	feedClient     *feed.RedisClient
	subscriber     *feed.Subscriber

	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	closed   bool
	bindings []*binding.Toggle
}

// NewSession validates cfg and builds a session. Background work (registry
// watch, edge feed) runs until Close; ctx only bounds construction.
func NewSession(ctx context.Context, cfg *config.Config, opts ...Option) (*Session, error) {
	const op = "NewSession"

	if cfg == nil {
		return nil, newError(op, KindConfiguration, ErrInvalidConfig)
	}
	if err := cfg.Validate(); err != nil {
		return nil, newError(op, KindConfiguration, fmt.Errorf("%w: %v", ErrInvalidConfig, err))
	}

	sc := &sessionConfig{}
	for _, opt := range opts {
		opt(sc)
	}
	if sc.logger == nil {
		sc.logger = cfg.Log.NewLogger(os.Stdout)
	}
	if sc.tracer == nil {
		sc.tracer = otel.GetTracerProvider().Tracer(instrumentationName)
	}
	if sc.meter == nil {
		sc.meter = otel.GetMeterProvider().Meter(instrumentationName)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	s := &Session{
		cfg:         cfg,
		logger:      sc.logger,
		store:       store.New(store.WithLogger(sc.logger)),
		dispatchers: make(map[entity.Kind]mutation.Dispatcher),
		sc:          sc,
		cancel:      cancel,
	}

	if err := s.init(ctx, runCtx); err != nil {
		s.shutdown()
		return nil, err
	}

	s.logger.Info("graphsync session started",
		"registry", s.resolver != nil,
		"feed", s.subscriber != nil)
	return s, nil
}

func (s *Session) init(ctx, runCtx context.Context) error {
	const op = "NewSession"

	endpoint, err := s.endpointSource(runCtx)
	if err != nil {
		return newError(op, KindNetwork, err)
	}
	s.endpoint = endpoint

	for _, spec := range containerSpecs {
		d, ok := s.sc.dispatchers[spec.Kind]
		if !ok {
			gd, err := s.graphQLDispatcher(spec, endpoint)
			if err != nil {
				return newError(op, KindInternal, err)
			}
			s.graphql = append(s.graphql, gd)
			d = gd
		}
		instrumented, err := mutation.Instrument(d, s.sc.tracer, s.sc.meter)
		if err != nil {
			return newError(op, KindInternal, err)
		}
		s.dispatchers[spec.Kind] = instrumented
	}

	if s.sc.registerer != nil {
		s.collector = store.NewCollector(s.store)
		if err := s.sc.registerer.Register(s.collector); err != nil {
			s.collector = nil
			return newError(op, KindInternal, fmt.Errorf("register cache collector: %w", err))
		}
	}

	if s.cfg.Feed.Enabled() {
		if err := s.startFeed(ctx, runCtx); err != nil {
			return newError(op, KindNetwork, err)
		}
	}
	return nil
}

// endpointSource returns the registry resolver when discovery is configured
// and the static endpoint otherwise.
func (s *Session) endpointSource(runCtx context.Context) (mutation.EndpointSource, error) {
	discoverer := s.sc.discoverer
	if discoverer == nil && s.cfg.Registry.Enabled() {
		client, err := registry.NewClient(s.cfg.Registry.ClientConfig(), s.logger)
		if err != nil {
			return nil, fmt.Errorf("connect to registry: %w", err)
		}
		s.registryClient = client
		discoverer = client
	}

	if discoverer == nil {
		var ep string
		if s.cfg.GraphQL != nil {
			ep = s.cfg.GraphQL.Endpoint
		}
		return mutation.StaticEndpoint(ep), nil
	}

	resolver, err := registry.NewResolver(discoverer, s.cfg.Registry.GetService(), s.logger)
	if err != nil {
		return nil, err
	}
	s.resolver = resolver

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := resolver.Run(runCtx); err != nil && runCtx.Err() == nil {
			s.logger.Warn("registry watch stopped", "error", err)
		}
	}()
	return resolver, nil
}

func (s *Session) graphQLDispatcher(spec mutation.ContainerSpec, endpoint mutation.EndpointSource) (*mutation.GraphQLDispatcher, error) {
	gql := s.cfg.GraphQL
	opts := []mutation.GraphQLOption{
		mutation.WithTimeout(gql.GetTimeout()),
		mutation.WithDispatcherLogger(s.logger),
	}
	var breaker *config.BreakerConfig
	if gql != nil {
		breaker = gql.Breaker
		for k, v := range gql.Headers {
			opts = append(opts, mutation.WithHeader(k, v))
		}
	}
	opts = append(opts, mutation.WithBreakerSettings(breaker.Settings("graphql-"+spec.EditField)))
	if s.sc.httpClient != nil {
		opts = append(opts, mutation.WithHTTPClient(s.sc.httpClient))
	}
	return mutation.NewGraphQLDispatcher(spec, endpoint, opts...)
}

func (s *Session) startFeed(ctx, runCtx context.Context) error {
	fc := s.cfg.Feed
	client, err := feed.NewRedisClient(feed.RedisOptions{
		URL:     fc.URL,
		Channel: fc.Channel,
		Logger:  s.logger,
	})
	if err != nil {
		return fmt.Errorf("connect to edge feed: %w", err)
	}
	s.feedClient = client
	s.subscriber = feed.NewSubscriber(client, s.store,
		feed.WithLogger(s.logger),
		feed.WithHeartbeat(fc.GetHeartbeatInterval(), fc.GetHeartbeatTTL()))

	runErr := make(chan error, 1)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		err := s.subscriber.Run(runCtx)
		if err != nil {
			s.logger.Warn("edge feed stopped", "error", err)
		}
		runErr <- err
	}()

	// Events published right after NewSession returns must not be missed.
	select {
	case <-s.subscriber.Ready():
		return nil
	case err := <-runErr:
		if err == nil {
			err = errors.New("edge feed stopped before subscribing")
		}
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Store returns the session's fragment cache.
func (s *Session) Store() *store.Store {
	return s.store
}

// Logger returns the session logger.
func (s *Session) Logger() *slog.Logger {
	return s.logger
}

// Dispatcher returns the instrumented dispatcher for a container kind.
func (s *Session) Dispatcher(kind entity.Kind) (mutation.Dispatcher, error) {
	const op = "Session.Dispatcher"

	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return nil, newError(op, KindInternal, ErrSessionClosed)
	}

	d, ok := s.dispatchers[kind]
	if !ok {
		return nil, newError(op, KindValidation, fmt.Errorf("%w: %s", ErrUnknownContainer, kind))
	}
	return d, nil
}

// Membership opens a group membership binding. variables are the member list
// query's variables.
func (s *Session) Membership(groupID string, variables map[string]any) (*binding.Toggle, error) {
	return s.bind("Session.Membership", entity.KindGroup, func(d mutation.Dispatcher, opts []binding.Option) (*binding.Toggle, error) {
		return binding.NewMembership(s.store, d, groupID, variables, opts...)
	})
}

// ReportObjects opens a report knowledge binding. variables are the object
// list query's variables.
func (s *Session) ReportObjects(reportID string, variables map[string]any) (*binding.Toggle, error) {
	return s.bind("Session.ReportObjects", entity.KindReport, func(d mutation.Dispatcher, opts []binding.Option) (*binding.Toggle, error) {
		return binding.NewReportObjects(s.store, d, reportID, variables, opts...)
	})
}

func (s *Session) bind(op string, kind entity.Kind, build func(mutation.Dispatcher, []binding.Option) (*binding.Toggle, error)) (*binding.Toggle, error) {
	d, err := s.Dispatcher(kind)
	if err != nil {
		return nil, err
	}

	opts := []binding.Option{binding.WithLogger(s.logger), binding.WithOnClose(s.release)}
	if s.cfg.Binding != nil && s.cfg.Binding.SequenceGuard {
		opts = append(opts, binding.WithSequenceGuard())
	}
	t, err := build(d, opts)
	if err != nil {
		return nil, newError(op, KindValidation, err)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = t.Close()
		return nil, newError(op, KindInternal, ErrSessionClosed)
	}
	s.bindings = append(s.bindings, t)
	s.mu.Unlock()
	return t, nil
}

// release forgets a binding closed by its view.
func (s *Session) release(t *binding.Toggle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i := slices.Index(s.bindings, t); i >= 0 {
		s.bindings = slices.Delete(s.bindings, i, i+1)
	}
}

// openBindings returns the number of bindings Clear and Close would close.
func (s *Session) openBindings() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.bindings)
}

// Publish announces an edge change to other sessions on the edge feed.
func (s *Session) Publish(ctx context.Context, ev feed.EdgeEvent) error {
	const op = "Session.Publish"
	if s.feedClient == nil {
		return newError(op, KindConfiguration, ErrFeedDisabled)
	}
	if err := ev.IsValid(); err != nil {
		return newError(op, KindValidation, err)
	}
	if err := s.feedClient.Publish(ctx, ev); err != nil {
		return newError(op, KindNetwork, err)
	}
	return nil
}

// Health reports the GraphQL endpoint, the transport breakers and, when
// configured, the edge feed.
func (s *Session) Health(ctx context.Context) health.Status {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return health.Unhealthy("session closed", nil)
	}

	checks := []health.Status{health.EndpointCheck(ctx, s.endpoint)}
	for _, d := range s.graphql {
		checks = append(checks, health.BreakerCheck(d.Breaker()))
	}
	if s.feedClient != nil {
		checks = append(checks, health.PingCheck(ctx, "edge feed", s.feedClient.Ping))
	}

	status := health.Combine(checks...)
	if !status.IsHealthy() {
		s.logger.Warn("graphsync session unhealthy", "status", status.Status, "message", status.Message)
	}
	return status
}

// Clear ends the signed-in state: every open binding is closed so in-flight
// responses are dropped, then the cache is emptied. The session stays usable.
func (s *Session) Clear() {
	s.mu.Lock()
	bindings := s.bindings
	s.bindings = nil
	s.mu.Unlock()

	for _, t := range bindings {
		_ = t.Close()
	}
	s.store.Clear()
	s.logger.Info("graphsync session cleared", "bindings_closed", len(bindings))
}

// Close stops background work, closes open bindings and releases the feed
// and registry connections. It is safe to call more than once.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	bindings := s.bindings
	s.bindings = nil
	s.mu.Unlock()

	for _, t := range bindings {
		_ = t.Close()
	}
	err := s.shutdown()
	s.logger.Info("graphsync session closed")
	return err
}

func (s *Session) shutdown() error {
	s.cancel()
	s.wg.Wait()

	var errs []error
	if s.feedClient != nil {
		if err := s.feedClient.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close edge feed: %w", err))
		}
	}
	if s.registryClient != nil {
		if err := s.registryClient.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close registry: %w", err))
		}
	}
	if s.collector != nil {
		s.sc.registerer.Unregister(s.collector)
	}
	if len(errs) > 0 {
		return newError("Session.Close", KindNetwork, errors.Join(errs...))
	}
	return nil
}
