package updater

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zero-day-ai/graphsync/entity"
	"github.com/zero-day-ai/graphsync/mutation"
	"github.com/zero-day-ai/graphsync/store"
)

const groupID = "group-1"

func membersKey() store.PaginationKey {
	return store.NewPaginationKey("Pagination_group_members", map[string]any{
		"id":      groupID,
		"orderBy": "name",
		"first":   25,
	})
}

func user(id string) entity.Ref {
	return entity.Ref{ID: id, Kind: entity.KindUser}
}

// seeded returns a store whose members connection holds the given users.
func seeded(t *testing.T, ids ...string) *store.Store {
	t.Helper()
	s := store.New()
	refs := make([]entity.Ref, 0, len(ids))
	for _, id := range ids {
		refs = append(refs, user(id))
	}
	s.SetConnection(groupID, membersKey(), refs)
	return s
}

func ids(t *testing.T, s *store.Store, key store.PaginationKey) []string {
	t.Helper()
	refs, ok := s.Connection(groupID, key)
	require.True(t, ok, "connection should be cached")
	out := make([]string, 0, len(refs))
	for _, r := range refs {
		out = append(out, r.ID)
	}
	return out
}

func TestInsertNode(t *testing.T) {
	t.Run("appends at the end", func(t *testing.T) {
		s := seeded(t, "A", "B")
		assert.True(t, InsertNode(s, membersKey(), groupID, user("C")))
		assert.Equal(t, []string{"A", "B", "C"}, ids(t, s, membersKey()))
	})

	t.Run("existing element is not duplicated", func(t *testing.T) {
		s := seeded(t, "A", "B", "C")
		assert.False(t, InsertNode(s, membersKey(), groupID, user("C")))
		assert.Equal(t, []string{"A", "B", "C"}, ids(t, s, membersKey()))
	})

	t.Run("idempotent", func(t *testing.T) {
		s := seeded(t, "A")
		InsertNode(s, membersKey(), groupID, user("B"))
		InsertNode(s, membersKey(), groupID, user("B"))
		assert.Equal(t, []string{"A", "B"}, ids(t, s, membersKey()))
	})

	t.Run("never-fetched connection is a no-op", func(t *testing.T) {
		s := store.New()
		assert.False(t, InsertNode(s, membersKey(), groupID, user("C")))
		_, ok := s.Connection(groupID, membersKey())
		assert.False(t, ok, "insert must not create the connection")
	})

	t.Run("empty id is ignored", func(t *testing.T) {
		s := seeded(t, "A")
		assert.False(t, InsertNode(s, membersKey(), groupID, entity.Ref{}))
		assert.Equal(t, []string{"A"}, ids(t, s, membersKey()))
	})

	t.Run("paging arguments do not split the key", func(t *testing.T) {
		s := seeded(t, "A")
		nextPage := store.NewPaginationKey("Pagination_group_members", map[string]any{
			"id":      groupID,
			"orderBy": "name",
			"first":   50,
			"after":   "cursor-1",
		})
		assert.True(t, InsertNode(s, nextPage, groupID, user("B")))
		assert.Equal(t, []string{"A", "B"}, ids(t, s, membersKey()))
	})

	t.Run("other filters are untouched", func(t *testing.T) {
		s := seeded(t, "A")
		searchKey := store.NewPaginationKey("Pagination_group_members", map[string]any{
			"id":     groupID,
			"search": "car",
		})
		s.SetConnection(groupID, searchKey, nil)

		InsertNode(s, membersKey(), groupID, user("C"))
		assert.Equal(t, []string{"A", "C"}, ids(t, s, membersKey()))
		assert.Empty(t, ids(t, s, searchKey))
	})
}

func TestDeleteNodeFromID(t *testing.T) {
	t.Run("removes the element", func(t *testing.T) {
		s := seeded(t, "A", "B", "C")
		assert.True(t, DeleteNodeFromID(s, groupID, membersKey(), "A"))
		assert.Equal(t, []string{"B", "C"}, ids(t, s, membersKey()))
	})

	t.Run("middle element keeps order", func(t *testing.T) {
		s := seeded(t, "A", "B", "C")
		DeleteNodeFromID(s, groupID, membersKey(), "B")
		assert.Equal(t, []string{"A", "C"}, ids(t, s, membersKey()))
	})

	t.Run("absent element is a no-op", func(t *testing.T) {
		s := seeded(t, "A", "B")
		assert.False(t, DeleteNodeFromID(s, groupID, membersKey(), "Z"))
		assert.Equal(t, []string{"A", "B"}, ids(t, s, membersKey()))
	})

	t.Run("never-fetched connection is a no-op", func(t *testing.T) {
		s := store.New()
		assert.False(t, DeleteNodeFromID(s, groupID, membersKey(), "A"))
	})

	t.Run("idempotent", func(t *testing.T) {
		s := seeded(t, "A", "B")
		DeleteNodeFromID(s, groupID, membersKey(), "A")
		DeleteNodeFromID(s, groupID, membersKey(), "A")
		assert.Equal(t, []string{"B"}, ids(t, s, membersKey()))
	})

	t.Run("entry table is untouched", func(t *testing.T) {
		s := seeded(t, "A", "B")
		s.Put(*entity.NewFragment("A", entity.KindUser).WithName("Alice"))
		DeleteNodeFromID(s, groupID, membersKey(), "A")
		f, ok := s.Get("A")
		require.True(t, ok)
		assert.Equal(t, "Alice", f.Name)
	})
}

func TestWatchersSeeUpdates(t *testing.T) {
	s := seeded(t, "A", "B")

	var mu sync.Mutex
	var changes []store.ChangeType
	cancel := s.Watch(groupID, func(c store.Change) {
		mu.Lock()
		defer mu.Unlock()
		changes = append(changes, c.Type)
	})
	defer cancel()

	InsertNode(s, membersKey(), groupID, user("C"))
	InsertNode(s, membersKey(), groupID, user("C"))
	DeleteNodeFromID(s, groupID, membersKey(), "Z")
	DeleteNodeFromID(s, groupID, membersKey(), "A")

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []store.ChangeType{store.ChangeConnection, store.ChangeConnection}, changes,
		"no-op updates must not notify")
}

func TestMergePayload(t *testing.T) {
	s := store.New()

	MergePayload(s, nil)
	MergePayload(s, &mutation.Payload{ID: groupID})
	assert.Zero(t, s.Len())

	group := entity.NewFragment(groupID, entity.KindGroup).WithName("Analysts")
	carol := entity.NewFragment("C", entity.KindUser).WithName("Carol").WithField("user_email", "carol@example.com")
	MergePayload(s, &mutation.Payload{ID: groupID, Container: group, Counterpart: carol})

	assert.Equal(t, 2, s.Len())
	got, ok := s.Get("C")
	require.True(t, ok)
	assert.Equal(t, "Carol", got.Name)
	email, _ := got.Field("user_email")
	assert.Equal(t, "carol@example.com", email)

	renamed := entity.NewFragment(groupID, entity.KindGroup).WithName("Responders")
	MergePayload(s, &mutation.Payload{ID: groupID, Container: renamed})
	got, _ = s.Get(groupID)
	assert.Equal(t, "Responders", got.Name)
}
