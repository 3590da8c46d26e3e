// Package updater reconciles the fragment cache with the outcome of
// relationship mutations.
//
// The functions here are the only writers of paginated connections besides a
// full re-fetch. They are synchronous and idempotent, and they never fail: a
// connection the view never fetched has nothing to update, so the call is a
// silent no-op.
//
//	payload, err := dispatcher.Commit(ctx, mutation.OpAddEdge, vars)
//	if err != nil {
//	    return err // no cache write without a successful response
//	}
//	updater.MergePayload(s, payload)
//	updater.InsertNode(s, key, groupID, userRef)
package updater

import (
	"github.com/zero-day-ai/graphsync/entity"
	"github.com/zero-day-ai/graphsync/mutation"
	"github.com/zero-day-ai/graphsync/store"
)

// InsertNode appends ref to the connection that key selects on containerID
// unless an element with the same ID is already present. The backend's order
// is not reproduced: the element goes last until the next full re-fetch.
// It reports whether the connection changed.
func InsertNode(s *store.Store, key store.PaginationKey, containerID string, ref entity.Ref) bool {
	if ref.ID == "" {
		return false
	}
	return s.UpdateConnection(containerID, key, func(refs []entity.Ref) ([]entity.Ref, bool) {
		if entity.IndexOf(refs, ref.ID) >= 0 {
			return refs, false
		}
		return append(refs, ref), true
	})
}

// DeleteNodeFromID removes the element whose ID equals entityID from the
// connection that key selects on containerID. It reports whether the
// connection changed.
func DeleteNodeFromID(s *store.Store, containerID string, key store.PaginationKey, entityID string) bool {
	return s.UpdateConnection(containerID, key, func(refs []entity.Ref) ([]entity.Ref, bool) {
		i := entity.IndexOf(refs, entityID)
		if i < 0 {
			return refs, false
		}
		return append(refs[:i], refs[i+1:]...), true
	})
}

// MergePayload writes the fragments returned by a successful mutation into
// the entry table. Nil payloads and fragments are skipped.
func MergePayload(s *store.Store, p *mutation.Payload) {
	if p == nil {
		return
	}
	if p.Container != nil {
		s.Put(*p.Container)
	}
	if p.Counterpart != nil {
		s.Put(*p.Counterpart)
	}
}
