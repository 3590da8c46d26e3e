package feed

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/zero-day-ai/graphsync/store"
	"github.com/zero-day-ai/graphsync/updater"
)

const (
	defaultHeartbeatInterval = 10 * time.Second
	defaultHeartbeatTTL      = 30 * time.Second
)

// SubscriberOption configures a Subscriber.
type SubscriberOption func(*Subscriber)

// WithLogger sets the logger. If not provided, slog.Default() is used.
func WithLogger(logger *slog.Logger) SubscriberOption {
	return func(s *Subscriber) {
		s.logger = logger
	}
}

// WithHeartbeat sets how often the subscriber refreshes its heartbeat key and
// how long the key lives. Default: every 10s with a 30s TTL. Values <= 0 keep
// the default.
func WithHeartbeat(interval, ttl time.Duration) SubscriberOption {
	return func(s *Subscriber) {
		s.heartbeatInterval = interval
		s.heartbeatTTL = ttl
	}
}

// WithSubscriberID sets the ID used for the heartbeat key. Default: a UUID.
func WithSubscriberID(id string) SubscriberOption {
	return func(s *Subscriber) {
		s.id = id
	}
}

// Subscriber applies edge events from a Client to a store.
type Subscriber struct {
	client            Client
	store             *store.Store
	logger            *slog.Logger
	id                string
	heartbeatInterval time.Duration
	heartbeatTTL      time.Duration

	applied atomic.Int64
	ignored atomic.Int64

	ready     chan struct{}
	readyOnce sync.Once
}

// NewSubscriber creates a subscriber that writes into s.
func NewSubscriber(client Client, s *store.Store, opts ...SubscriberOption) *Subscriber {
	sub := &Subscriber{
		client:            client,
		store:             s,
		heartbeatInterval: defaultHeartbeatInterval,
		heartbeatTTL:      defaultHeartbeatTTL,
		ready:             make(chan struct{}),
	}
	for _, opt := range opts {
		opt(sub)
	}
	if sub.logger == nil {
		sub.logger = slog.Default()
	}
	if sub.id == "" {
		sub.id = uuid.NewString()
	}
	if sub.heartbeatInterval <= 0 {
		sub.heartbeatInterval = defaultHeartbeatInterval
	}
	if sub.heartbeatTTL <= 0 {
		sub.heartbeatTTL = defaultHeartbeatTTL
	}
	return sub
}

// ID returns the subscriber ID.
func (s *Subscriber) ID() string {
	return s.id
}

// Ready is closed once Run has established its subscription.
func (s *Subscriber) Ready() <-chan struct{} {
	return s.ready
}

// Run subscribes and applies events until ctx is cancelled. It returns nil on
// cancellation and an error if the subscription cannot be established.
func (s *Subscriber) Run(ctx context.Context) error {
	events, err := s.client.Subscribe(ctx)
	if err != nil {
		return fmt.Errorf("subscribe to edge feed: %w", err)
	}

	if err := s.client.IncrementSubscribers(ctx); err != nil {
		s.logger.Warn("failed to register subscriber", "subscriber_id", s.id, "error", err)
	}
	defer func() {
		cleanup, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.client.DecrementSubscribers(cleanup); err != nil {
			s.logger.Warn("failed to unregister subscriber", "subscriber_id", s.id, "error", err)
		}
	}()

	s.readyOnce.Do(func() { close(s.ready) })

	s.heartbeat(ctx)
	ticker := time.NewTicker(s.heartbeatInterval)
	defer ticker.Stop()

	s.logger.Info("edge feed subscriber started", "subscriber_id", s.id)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("edge feed subscriber stopped", "subscriber_id", s.id,
				"applied", s.applied.Load(), "ignored", s.ignored.Load())
			return nil
		case <-ticker.C:
			s.heartbeat(ctx)
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			s.Apply(ev)
		}
	}
}

// Apply writes one event to every cached connection of its container and
// connection name, whatever the filters. It returns the number of
// connections that changed.
func (s *Subscriber) Apply(ev EdgeEvent) int {
	keys := s.store.PaginationKeys(ev.ContainerID, ev.Connection)
	if len(keys) == 0 {
		s.ignored.Add(1)
		s.logger.Debug("edge event for uncached connection",
			"event_id", ev.ID,
			"container_id", ev.ContainerID,
			"connection", ev.Connection)
		return 0
	}

	changed := 0
	for _, key := range keys {
		var ok bool
		switch ev.Action {
		case ActionAdd:
			ok = updater.InsertNode(s.store, key, ev.ContainerID, ev.Entity)
		case ActionDelete:
			ok = updater.DeleteNodeFromID(s.store, ev.ContainerID, key, ev.Entity.ID)
		}
		if ok {
			changed++
		}
	}
	s.applied.Add(1)
	s.logger.Debug("edge event applied",
		"event_id", ev.ID,
		"action", string(ev.Action),
		"container_id", ev.ContainerID,
		"entity_id", ev.Entity.ID,
		"changed", changed)
	return changed
}

// Stats returns the number of events applied and ignored so far.
func (s *Subscriber) Stats() (applied, ignored int64) {
	return s.applied.Load(), s.ignored.Load()
}

func (s *Subscriber) heartbeat(ctx context.Context) {
	if err := s.client.Heartbeat(ctx, s.id, s.heartbeatTTL); err != nil && ctx.Err() == nil {
		s.logger.Warn("subscriber heartbeat failed", "subscriber_id", s.id, "error", err)
	}
}
