package store

import (
	"encoding/json"
	"fmt"
	"maps"
)

// pagingArgs are query variables that select a page rather than a list.
// They never take part in a pagination key so every page of one list view
// resolves to the same cached connection.
var pagingArgs = []string{"first", "after", "last", "before", "count", "cursor"}

// PaginationKey identifies one list view: a named connection plus the filter
// variables of the query that fetched it.
type PaginationKey struct {
	// Connection is the connection name, e.g. "Pagination_group_members".
	Connection string

	// Filters holds the non-paging query variables.
	Filters map[string]any
}

// NewPaginationKey builds a key from a list query's variables, dropping the
// paging arguments. Nil-valued variables are dropped as well since the
// backend treats them as absent.
func NewPaginationKey(connection string, variables map[string]any) PaginationKey {
	filters := maps.Clone(variables)
	for _, arg := range pagingArgs {
		delete(filters, arg)
	}
	for k, v := range filters {
		if v == nil {
			delete(filters, k)
		}
	}
	if len(filters) == 0 {
		filters = nil
	}
	return PaginationKey{Connection: connection, Filters: filters}
}

// String returns the canonical form "Connection(filters)". Filter maps are
// rendered as JSON, whose encoder sorts keys, so equal filters always produce
// equal strings.
func (k PaginationKey) String() string {
	if len(k.Filters) == 0 {
		return k.Connection
	}
	data, err := json.Marshal(k.Filters)
	if err != nil {
		// fmt also prints maps in key order
		return k.Connection + "(" + fmt.Sprint(k.Filters) + ")"
	}
	return k.Connection + "(" + string(data) + ")"
}

// ConnectionID returns the cache identifier of the connection that key
// selects on the container record.
func ConnectionID(containerID string, key PaginationKey) string {
	return "client:" + containerID + ":__" + key.String()
}
