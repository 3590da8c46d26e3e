// Package store implements the fragment cache: an in-memory keyed store of
// entity fragments plus the ordered connections that list views read.
//
// Every write publishes a Change to the watchers of the affected IDs so that
// views re-evaluate without re-querying. A connection change is published to
// both the container ID and the connection's own ID.
//
// The store is an explicitly owned object. Create one per session, hand it to
// the components that need it and Clear it when the session ends:
//
//	s := store.New(store.WithLogger(logger))
//	s.SetConnection(groupID, key, refs)
//
//	cancel := s.Watch(groupID, func(c store.Change) { rerender() })
//	defer cancel()
//
// All methods are safe for concurrent use. Watch callbacks run outside the
// store lock, one at a time and in write order; they may read from the store
// but must not write to it.
package store

import (
	"log/slog"
	"maps"
	"slices"
	"sort"
	"sync"

	"github.com/tidwall/btree"

	"github.com/zero-day-ai/graphsync/entity"
)

// ChangeType describes what happened to a watched ID.
type ChangeType int

const (
	// ChangePut means a fragment was written.
	ChangePut ChangeType = iota + 1

	// ChangeRemove means a fragment was removed.
	ChangeRemove

	// ChangeConnection means a connection on the container was modified.
	ChangeConnection

	// ChangeClear means the whole store was cleared.
	ChangeClear
)

// String implements fmt.Stringer.
func (t ChangeType) String() string {
	switch t {
	case ChangePut:
		return "put"
	case ChangeRemove:
		return "remove"
	case ChangeConnection:
		return "connection"
	case ChangeClear:
		return "clear"
	default:
		return "unknown"
	}
}

// Change is delivered to watchers after a write.
type Change struct {
	// ID is the watched ID the change applies to.
	ID string

	// Type is the kind of write.
	Type ChangeType

	// ConnectionID is set for ChangeConnection.
	ConnectionID string
}

// Store is the fragment cache.
type Store struct {
	mu          sync.RWMutex
	entries     *btree.Map[string, entity.Fragment]
	connections map[string]*connection
	byContainer map[string]map[string]struct{}
	watchers    map[string]map[uint64]func(Change)
	nextWatch   uint64

	// Delivery tickets: issued under mu, delivered under notifyMu.
	issued     uint64
	delivered  uint64
	notifyMu   sync.Mutex
	notifyCond *sync.Cond
	logger     *slog.Logger
}

type connection struct {
	containerID string
	key         PaginationKey
	refs        []entity.Ref
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger. If not provided, slog.Default() is used.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// New creates an empty store.
func New(opts ...Option) *Store {
	s := &Store{
		entries:     btree.NewMap[string, entity.Fragment](0),
		connections: make(map[string]*connection),
		byContainer: make(map[string]map[string]struct{}),
		watchers:    make(map[string]map[uint64]func(Change)),
	}
	s.notifyCond = sync.NewCond(&s.notifyMu)
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// Get returns the last-known fragment for id. The boolean is false when the
// ID is absent; no default entity is ever synthesized.
func (s *Store) Get(id string) (entity.Fragment, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	f, ok := s.entries.Get(id)
	if !ok {
		return entity.Fragment{}, false
	}
	return f.Clone(), true
}

// Put writes a fragment under its ID, replacing any previous version.
// Fragments without an ID are ignored.
func (s *Store) Put(f entity.Fragment) {
	if f.ID == "" {
		s.logger.Debug("ignoring fragment without id", "entity_type", f.Kind)
		return
	}

	s.mu.Lock()
	s.entries.Set(f.ID, f.Clone())
	s.publishLocked(Change{ID: f.ID, Type: ChangePut})
}

// Remove deletes the fragment stored under id. Removing an absent ID still
// notifies watchers so a view can drop stale state.
func (s *Store) Remove(id string) {
	s.mu.Lock()
	s.entries.Delete(id)
	s.publishLocked(Change{ID: id, Type: ChangeRemove})
}

// Len returns the number of cached fragments.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.entries.Len()
}

// IDs returns every cached fragment ID in lexical order.
func (s *Store) IDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.entries.Keys()
}

// Connection returns a copy of the ordered references held by the connection
// key selects on containerID. The boolean is false if the view never fetched
// that connection.
func (s *Store) Connection(containerID string, key PaginationKey) ([]entity.Ref, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.connections[ConnectionID(containerID, key)]
	if !ok {
		return nil, false
	}
	return slices.Clone(c.refs), true
}

// Contains reports whether the connection holds a reference to id.
func (s *Store) Contains(containerID string, key PaginationKey, id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.connections[ConnectionID(containerID, key)]
	if !ok {
		return false
	}
	return entity.IndexOf(c.refs, id) >= 0
}

// SetConnection replaces the connection with the result of a (re-)fetch.
// This is how the query layer seeds the cache and how a full re-fetch
// reconciles the order of optimistic inserts.
func (s *Store) SetConnection(containerID string, key PaginationKey, refs []entity.Ref) {
	connID := ConnectionID(containerID, key)
	key.Filters = maps.Clone(key.Filters)

	s.mu.Lock()
	s.connections[connID] = &connection{
		containerID: containerID,
		key:         key,
		refs:        slices.Clone(refs),
	}
	set, ok := s.byContainer[containerID]
	if !ok {
		set = make(map[string]struct{})
		s.byContainer[containerID] = set
	}
	set[connID] = struct{}{}
	s.publishLocked(
		Change{ID: containerID, Type: ChangeConnection, ConnectionID: connID},
		Change{ID: connID, Type: ChangeConnection, ConnectionID: connID},
	)
}

// UpdateConnection applies fn to the references of an existing connection.
// fn returns the new slice and whether anything changed; watchers are only
// notified on change. If the connection was never fetched fn is not called
// and UpdateConnection returns false.
func (s *Store) UpdateConnection(containerID string, key PaginationKey, fn func(refs []entity.Ref) ([]entity.Ref, bool)) bool {
	connID := ConnectionID(containerID, key)

	s.mu.Lock()
	c, ok := s.connections[connID]
	if !ok {
		s.mu.Unlock()
		return false
	}
	refs, changed := fn(slices.Clone(c.refs))
	if !changed {
		s.mu.Unlock()
		return false
	}
	c.refs = refs
	s.publishLocked(
		Change{ID: containerID, Type: ChangeConnection, ConnectionID: connID},
		Change{ID: connID, Type: ChangeConnection, ConnectionID: connID},
	)
	return true
}

// PaginationKeys returns the keys of every cached connection named
// connectionName on containerID, ordered by their canonical string.
func (s *Store) PaginationKeys(containerID, connectionName string) []PaginationKey {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var keys []PaginationKey
	for connID := range s.byContainer[containerID] {
		c := s.connections[connID]
		if c.key.Connection == connectionName {
			keys = append(keys, c.key)
		}
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
	return keys
}

// ConnectionCount returns the number of cached connections.
func (s *Store) ConnectionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.connections)
}

// Clear drops every fragment and connection. Every watcher is notified with
// ChangeClear; watchers stay registered.
func (s *Store) Clear() {
	s.mu.Lock()
	s.entries = btree.NewMap[string, entity.Fragment](0)
	s.connections = make(map[string]*connection)
	s.byContainer = make(map[string]map[string]struct{})

	ids := make([]string, 0, len(s.watchers))
	for id := range s.watchers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	changes := make([]Change, 0, len(ids))
	for _, id := range ids {
		changes = append(changes, Change{ID: id, Type: ChangeClear})
	}
	s.publishLocked(changes...)
	s.logger.Debug("fragment cache cleared")
}
