package feed

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/zero-day-ai/graphsync/entity"
)

// Action is the kind of edge change.
type Action string

const (
	// ActionAdd means the edge was created.
	ActionAdd Action = "add"

	// ActionDelete means the edge was removed.
	ActionDelete Action = "delete"
)

// EdgeEvent describes one relationship change between a container and a
// counterpart entity.
type EdgeEvent struct {
	// ID is a UUID that identifies the event
	ID string `json:"id"`

	// Action is add or delete
	Action Action `json:"action"`

	// ContainerID is the entity whose connection changed
	ContainerID string `json:"container_id"`

	// Connection is the connection name, e.g. "Pagination_group_members"
	Connection string `json:"connection"`

	// Entity is the counterpart added to or removed from the connection
	Entity entity.Ref `json:"entity"`

	// RelationshipType is the type of the edge
	RelationshipType entity.RelationshipType `json:"relationship_type"`

	// PublishedAt is the Unix timestamp in milliseconds when the event was published
	PublishedAt int64 `json:"published_at"`
}

// NewEdgeEvent creates an event with a fresh ID.
func NewEdgeEvent(action Action, containerID, connection string, ref entity.Ref, relType entity.RelationshipType) EdgeEvent {
	return EdgeEvent{
		ID:               uuid.NewString(),
		Action:           action,
		ContainerID:      containerID,
		Connection:       connection,
		Entity:           ref,
		RelationshipType: relType,
	}
}

// IsValid checks if the event has all required fields populated correctly.
func (e *EdgeEvent) IsValid() error {
	if e.Action != ActionAdd && e.Action != ActionDelete {
		return fmt.Errorf("action must be %q or %q, got %q", ActionAdd, ActionDelete, e.Action)
	}
	if e.ContainerID == "" {
		return fmt.Errorf("container_id is required")
	}
	if e.Connection == "" {
		return fmt.Errorf("connection is required")
	}
	if e.Entity.ID == "" {
		return fmt.Errorf("entity.id is required")
	}
	if e.RelationshipType != "" && !e.RelationshipType.Valid() {
		return fmt.Errorf("unknown relationship_type %q", e.RelationshipType)
	}
	return nil
}

// Age returns how long ago the event was published. Zero if PublishedAt is unset.
func (e *EdgeEvent) Age() time.Duration {
	if e.PublishedAt == 0 {
		return 0
	}
	return time.Since(time.UnixMilli(e.PublishedAt))
}
