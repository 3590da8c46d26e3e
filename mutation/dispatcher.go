// Package mutation issues relationship mutations against the knowledge-graph
// backend and reports typed results.
//
// A Dispatcher takes an operation name and its variables, performs at most one
// physical request, and returns either the updated fragments or a
// *MutationError carrying a Reason:
//
//	vars := mutation.NewAddEdge(groupID, userID, mutation.DirectionFrom, entity.RelMemberOf)
//	payload, err := d.Commit(ctx, mutation.OpAddEdge, vars)
//	if err != nil {
//	    switch mutation.ReasonOf(err) {
//	    case mutation.ReasonNetwork:
//	        // retryable
//	    case mutation.ReasonConflict:
//	        // already connected
//	    }
//	}
//
// Concurrent identical commits are not deduplicated.
package mutation

import (
	"context"

	"github.com/zero-day-ai/graphsync/entity"
)

// Payload is the successful result of a commit.
type Payload struct {
	// ID is the container ID echoed by the backend.
	ID string

	// Container is the container's updated fragment, if returned.
	Container *entity.Fragment

	// Counterpart is the counterpart's fragment, if returned.
	Counterpart *entity.Fragment

	// RequestID correlates the payload with transport logs.
	RequestID string
}

// CounterpartRef returns the counterpart reference, falling back to the ID in
// vars when the response did not include the counterpart fragment.
func (p *Payload) CounterpartRef(vars Variables) entity.Ref {
	if p != nil && p.Counterpart != nil {
		return p.Counterpart.Ref()
	}
	id, _ := vars.Counterpart()
	return entity.Ref{ID: id}
}

// Dispatcher commits relationship mutations.
type Dispatcher interface {
	// Commit issues op with vars and blocks until the response arrives or ctx
	// is done. Failures are always *MutationError.
	Commit(ctx context.Context, op Operation, vars Variables) (*Payload, error)
}

// Func adapts a function to the Dispatcher interface.
type Func func(ctx context.Context, op Operation, vars Variables) (*Payload, error)

// Commit implements Dispatcher.
func (f Func) Commit(ctx context.Context, op Operation, vars Variables) (*Payload, error) {
	return f(ctx, op, vars)
}

// Check validates op against vars and returns a validation *MutationError on
// mismatch or invalid variables. Dispatchers call it before any request.
func Check(op Operation, vars Variables) error {
	if vars == nil {
		return NewError(ReasonValidation, op, nil, ErrOperationMismatch)
	}
	if !op.Valid() || vars.Operation() != op {
		return NewError(ReasonValidation, op, vars, ErrOperationMismatch)
	}
	if err := vars.Validate(); err != nil {
		return NewError(ReasonValidation, op, vars, err)
	}
	return nil
}
