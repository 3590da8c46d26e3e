// Package binding connects a list view's checkboxes to relationship
// mutations.
//
// A Toggle edits the edges between one container entity (a group, a report)
// and its counterparts. Checking a counterpart commits an add-edge and, once
// the backend confirms, inserts the counterpart into the cached connection the
// view reads. Unchecking commits a delete-edge and removes it. The cache is
// never written before the response arrives and never written on failure, so
// the view stays in its pre-toggle state when a commit fails.
//
//	t, err := binding.NewMembership(s, groups, groupID, queryVars)
//	if err != nil {
//	    return err
//	}
//	defer t.Close()
//
//	if err := t.Set(ctx, entity.Ref{ID: userID, Kind: entity.KindUser}, true); err != nil {
//	    showError(err)
//	}
package binding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/zero-day-ai/graphsync/entity"
	"github.com/zero-day-ai/graphsync/mutation"
	"github.com/zero-day-ai/graphsync/store"
	"github.com/zero-day-ai/graphsync/updater"
)

// Connection names of the preset bindings.
const (
	MembersConnection       = "Pagination_group_members"
	ReportObjectsConnection = "Pagination_report_objects"
)

// ErrClosed is returned by Set on a closed Toggle, and for commits whose
// response arrived after Close.
var ErrClosed = errors.New("binding is closed")

// Config describes the edges a Toggle edits.
type Config struct {
	// ContainerID is the entity whose connection the view lists.
	ContainerID string

	// Key selects the cached connection on the container.
	Key store.PaginationKey

	// RelationshipType is the type of every edge the toggle creates.
	RelationshipType entity.RelationshipType

	// Side is the edge endpoint the counterpart occupies.
	Side mutation.Direction
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.ContainerID == "" {
		return errors.New("container ID cannot be empty")
	}
	if c.Key.Connection == "" {
		return errors.New("pagination key has no connection name")
	}
	if !c.RelationshipType.Valid() {
		return fmt.Errorf("unknown relationship type %q", c.RelationshipType)
	}
	if c.Side != mutation.DirectionFrom && c.Side != mutation.DirectionTo {
		return fmt.Errorf("invalid counterpart side %q", c.Side)
	}
	return nil
}

// Option configures a Toggle.
type Option func(*Toggle)

// WithLogger sets the logger. If not provided, slog.Default() is used.
func WithLogger(logger *slog.Logger) Option {
	return func(t *Toggle) {
		t.logger = logger
	}
}

// WithSequenceGuard drops a response when a later Set for the same
// counterpart was issued before it arrived. Without the guard, cache writes
// follow response order.
func WithSequenceGuard() Option {
	return func(t *Toggle) {
		t.seq = make(map[string]uint64)
	}
}

// WithOnClose registers fn to run once, after the first Close.
func WithOnClose(fn func(*Toggle)) Option {
	return func(t *Toggle) {
		t.onClose = fn
	}
}

// Toggle binds checkbox state to edges between one container and its
// counterparts.
//
// Thread-safety: Set may be called concurrently; each call blocks until its
// own commit resolves.
type Toggle struct {
	store      *store.Store
	dispatcher mutation.Dispatcher
	cfg        Config
	logger     *slog.Logger
	onClose    func(*Toggle)

	// mu is held for reading while a response is written to the cache and
	// for writing by Close, so no write lands after Close returns.
	mu     sync.RWMutex
	active atomic.Bool

	seqMu sync.Mutex
	seq   map[string]uint64
}

// New creates a Toggle.
func New(s *store.Store, d mutation.Dispatcher, cfg Config, opts ...Option) (*Toggle, error) {
	if s == nil {
		return nil, errors.New("store cannot be nil")
	}
	if d == nil {
		return nil, errors.New("dispatcher cannot be nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid binding config: %w", err)
	}

	t := &Toggle{
		store:      s,
		dispatcher: d,
		cfg:        cfg,
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.logger == nil {
		t.logger = slog.Default()
	}
	t.logger = t.logger.With("container_id", cfg.ContainerID, "connection", cfg.Key.Connection)
	t.active.Store(true)
	return t, nil
}

// NewMembership creates the group membership toggle: users join the group
// through member-of edges and are listed in Pagination_group_members.
// variables are the list query's variables.
func NewMembership(s *store.Store, d mutation.Dispatcher, groupID string, variables map[string]any, opts ...Option) (*Toggle, error) {
	return New(s, d, Config{
		ContainerID:      groupID,
		Key:              store.NewPaginationKey(MembersConnection, variables),
		RelationshipType: entity.RelMemberOf,
		Side:             mutation.DirectionFrom,
	}, opts...)
}

// NewReportObjects creates the report knowledge toggle: entities are attached
// to the report through object edges and listed in Pagination_report_objects.
func NewReportObjects(s *store.Store, d mutation.Dispatcher, reportID string, variables map[string]any, opts ...Option) (*Toggle, error) {
	return New(s, d, Config{
		ContainerID:      reportID,
		Key:              store.NewPaginationKey(ReportObjectsConnection, variables),
		RelationshipType: entity.RelObject,
		Side:             mutation.DirectionTo,
	}, opts...)
}

// Config returns the toggle configuration.
func (t *Toggle) Config() Config {
	return t.cfg
}

// Checked reports whether counterpartID is in the cached connection.
func (t *Toggle) Checked(counterpartID string) bool {
	return t.store.Contains(t.cfg.ContainerID, t.cfg.Key, counterpartID)
}

// Refs returns the cached connection. The boolean is false until the list
// query has seeded it.
func (t *Toggle) Refs() ([]entity.Ref, bool) {
	return t.store.Connection(t.cfg.ContainerID, t.cfg.Key)
}

// Watch calls fn after every change to the toggle's connection.
func (t *Toggle) Watch(fn func(store.Change)) (cancel func()) {
	return t.store.Watch(store.ConnectionID(t.cfg.ContainerID, t.cfg.Key), fn)
}

// Set commits the edge between the container and counterpart: checked adds
// it, unchecked deletes it. The cache is updated only after the backend
// confirms.
//
// A conflict (edge already present or already absent) is not an error: the
// cache is reconciled to the requested state and Set returns nil. Any other
// failure is returned as a *mutation.MutationError and the cache is left
// untouched.
func (t *Toggle) Set(ctx context.Context, counterpart entity.Ref, checked bool) error {
	if !t.active.Load() {
		return ErrClosed
	}

	op := mutation.OpDeleteEdge
	var vars mutation.Variables = mutation.NewDeleteEdge(t.cfg.ContainerID, counterpart.ID, t.cfg.Side, t.cfg.RelationshipType)
	if checked {
		op = mutation.OpAddEdge
		vars = mutation.NewAddEdge(t.cfg.ContainerID, counterpart.ID, t.cfg.Side, t.cfg.RelationshipType)
	}

	ticket := t.issue(counterpart.ID)
	payload, err := t.dispatcher.Commit(ctx, op, vars)

	t.mu.RLock()
	defer t.mu.RUnlock()
	if !t.active.Load() {
		t.logger.Debug("dropping response for closed binding", "operation", string(op), "counterpart_id", counterpart.ID)
		return ErrClosed
	}
	if !t.current(counterpart.ID, ticket) {
		t.logger.Debug("dropping superseded response", "operation", string(op), "counterpart_id", counterpart.ID)
		return nil
	}

	if err != nil {
		if mutation.IsConflict(err) {
			t.logger.Info("relationship already in requested state",
				"operation", string(op),
				"counterpart_id", counterpart.ID)
			t.apply(checked, counterpart)
			return nil
		}
		t.logger.Warn("relationship commit failed",
			"operation", string(op),
			"counterpart_id", counterpart.ID,
			"reason", string(mutation.ReasonOf(err)),
			"error", err)
		return err
	}

	updater.MergePayload(t.store, payload)
	ref := payload.CounterpartRef(vars)
	if ref.Kind == "" {
		ref.Kind = counterpart.Kind
	}
	t.apply(checked, ref)
	return nil
}

// Close marks the toggle inactive. Commits still in flight complete on the
// backend but their responses no longer touch the cache. Close waits for a
// response already being written, so it must not be called from a Watch
// callback of the same toggle.
func (t *Toggle) Close() error {
	t.mu.Lock()
	closing := t.active.Swap(false)
	t.mu.Unlock()

	if closing && t.onClose != nil {
		t.onClose(t)
	}
	return nil
}

// Active reports whether Close has not been called.
func (t *Toggle) Active() bool {
	return t.active.Load()
}

func (t *Toggle) apply(checked bool, ref entity.Ref) {
	if checked {
		updater.InsertNode(t.store, t.cfg.Key, t.cfg.ContainerID, ref)
		return
	}
	updater.DeleteNodeFromID(t.store, t.cfg.ContainerID, t.cfg.Key, ref.ID)
}

// issue returns the sequence number of a new Set for id, or 0 when the
// sequence guard is off.
func (t *Toggle) issue(id string) uint64 {
	if t.seq == nil {
		return 0
	}
	t.seqMu.Lock()
	defer t.seqMu.Unlock()
	t.seq[id]++
	return t.seq[id]
}

func (t *Toggle) current(id string, ticket uint64) bool {
	if t.seq == nil {
		return true
	}
	t.seqMu.Lock()
	defer t.seqMu.Unlock()
	return t.seq[id] == ticket
}
