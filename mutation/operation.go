package mutation

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/zero-day-ai/graphsync/entity"
)

// Operation names a remote relationship mutation.
type Operation string

const (
	// OpAddEdge connects the container to a counterpart entity.
	OpAddEdge Operation = "add-edge"

	// OpDeleteEdge disconnects the container from a counterpart entity.
	OpDeleteEdge Operation = "delete-edge"
)

// Valid reports whether op is a known operation.
func (op Operation) Valid() bool {
	return op == OpAddEdge || op == OpDeleteEdge
}

// Direction tells which endpoint of the edge the counterpart occupies.
type Direction string

const (
	// DirectionFrom means counterpart -> container (a user member-of a group).
	DirectionFrom Direction = "from"

	// DirectionTo means container -> counterpart (a report referencing an object).
	DirectionTo Direction = "to"
)

// Arg returns the GraphQL argument name for the counterpart ("fromId" or "toId").
func (d Direction) Arg() string {
	return string(d) + "Id"
}

// Opposite returns the other endpoint.
func (d Direction) Opposite() Direction {
	if d == DirectionFrom {
		return DirectionTo
	}
	return DirectionFrom
}

// Variables is the typed input of one Commit.
type Variables interface {
	// Operation returns the operation these variables belong to.
	Operation() Operation

	// Container returns the ID of the entity being edited.
	Container() string

	// Counterpart returns the other endpoint and the side it occupies.
	Counterpart() (string, Direction)

	// Validate checks required keys before any request is issued.
	Validate() error
}

// EdgeInput is the add-edge input record. Exactly one of FromID and ToID is
// set: the counterpart, on the side it occupies.
type EdgeInput struct {
	FromID           string                  `json:"fromId,omitempty" validate:"required_without=ToID,excluded_with=ToID"`
	ToID             string                  `json:"toId,omitempty" validate:"required_without=FromID"`
	RelationshipType entity.RelationshipType `json:"relationship_type" validate:"required,relationship_type"`
}

// AddEdgeVariables are the variables of OpAddEdge.
type AddEdgeVariables struct {
	ContainerID string    `json:"id" validate:"required"`
	Input       EdgeInput `json:"input"`
}

// NewAddEdge builds add-edge variables with the counterpart on side dir.
func NewAddEdge(containerID, counterpartID string, dir Direction, relType entity.RelationshipType) AddEdgeVariables {
	in := EdgeInput{RelationshipType: relType}
	if dir == DirectionFrom {
		in.FromID = counterpartID
	} else {
		in.ToID = counterpartID
	}
	return AddEdgeVariables{ContainerID: containerID, Input: in}
}

// Operation implements Variables.
func (v AddEdgeVariables) Operation() Operation { return OpAddEdge }

// Container implements Variables.
func (v AddEdgeVariables) Container() string { return v.ContainerID }

// Counterpart implements Variables.
func (v AddEdgeVariables) Counterpart() (string, Direction) {
	if v.Input.FromID != "" {
		return v.Input.FromID, DirectionFrom
	}
	return v.Input.ToID, DirectionTo
}

// Edge returns the edge this mutation creates.
func (v AddEdgeVariables) Edge() entity.Edge {
	id, dir := v.Counterpart()
	if dir == DirectionFrom {
		return entity.NewEdge(id, v.ContainerID, v.Input.RelationshipType)
	}
	return entity.NewEdge(v.ContainerID, id, v.Input.RelationshipType)
}

// Validate implements Variables.
func (v AddEdgeVariables) Validate() error {
	return validateStruct(v)
}

// DeleteEdgeVariables are the variables of OpDeleteEdge.
type DeleteEdgeVariables struct {
	ContainerID      string                  `json:"id" validate:"required"`
	CounterpartID    string                  `json:"-" validate:"required"`
	RelationshipType entity.RelationshipType `json:"relationship_type" validate:"required,relationship_type"`
	Direction        Direction               `json:"-" validate:"required,oneof=from to"`
}

// NewDeleteEdge builds delete-edge variables with the counterpart on side dir.
func NewDeleteEdge(containerID, counterpartID string, dir Direction, relType entity.RelationshipType) DeleteEdgeVariables {
	return DeleteEdgeVariables{
		ContainerID:      containerID,
		CounterpartID:    counterpartID,
		RelationshipType: relType,
		Direction:        dir,
	}
}

// Operation implements Variables.
func (v DeleteEdgeVariables) Operation() Operation { return OpDeleteEdge }

// Container implements Variables.
func (v DeleteEdgeVariables) Container() string { return v.ContainerID }

// Counterpart implements Variables.
func (v DeleteEdgeVariables) Counterpart() (string, Direction) {
	return v.CounterpartID, v.Direction
}

// Validate implements Variables.
func (v DeleteEdgeVariables) Validate() error {
	return validateStruct(v)
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		_ = validate.RegisterValidation("relationship_type", func(fl validator.FieldLevel) bool {
			return entity.RelationshipType(fl.Field().String()).Valid()
		})
	})
	return validate
}

// validateStruct runs struct-tag validation and flattens the result into one
// readable error.
func validateStruct(v any) error {
	err := getValidator().Struct(v)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
	}
	return errors.New(strings.Join(msgs, "; "))
}
