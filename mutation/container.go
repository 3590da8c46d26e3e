package mutation

import (
	"fmt"
	"strings"

	"github.com/zero-day-ai/graphsync/entity"
)

// ContainerSpec describes how relationship edits are expressed for one kind
// of container entity.
type ContainerSpec struct {
	// Kind is the container's entity kind.
	Kind entity.Kind

	// EditField is the mutation root field, e.g. "groupEdit".
	EditField string

	// AddInputType is the GraphQL type of relationAdd's input argument.
	AddInputType string

	// CounterpartSide is the edge endpoint counterparts occupy.
	CounterpartSide Direction

	// CounterpartType is the GraphQL type of relationDelete's fromId/toId argument.
	CounterpartType string

	// ContainerSelection is the selection set requested for the container.
	ContainerSelection string

	// CounterpartSelection is the selection set requested for the counterpart.
	CounterpartSelection string
}

// GroupSpec edits group membership: users are connected as the "from" side of
// member-of relationships.
var GroupSpec = ContainerSpec{
	Kind:                 entity.KindGroup,
	EditField:            "groupEdit",
	AddInputType:         "InternalRelationshipAddInput!",
	CounterpartSide:      DirectionFrom,
	CounterpartType:      "StixRef!",
	ContainerSelection:   "id entity_type name description",
	CounterpartSelection: "id entity_type name user_email",
}

// ReportSpec edits the objects a report references; objects are the "to" side
// of object relationships.
var ReportSpec = ContainerSpec{
	Kind:                 entity.KindReport,
	EditField:            "reportEdit",
	AddInputType:         "StixMetaRelationshipAddInput",
	CounterpartSide:      DirectionTo,
	CounterpartType:      "String!",
	ContainerSelection:   "id entity_type name description",
	CounterpartSelection: "id entity_type " + knowledgeSelection(),
}

// knowledgeSelection selects name and description on every knowledge kind.
func knowledgeSelection() string {
	var b strings.Builder
	for _, k := range entity.Kinds() {
		if !k.IsStixDomainObject() {
			continue
		}
		fmt.Fprintf(&b, "... on %s { name description } ", k.TypeName())
	}
	return strings.TrimSpace(b.String())
}

// Validate checks that the spec can produce documents.
func (s ContainerSpec) Validate() error {
	if !s.Kind.Valid() {
		return fmt.Errorf("container kind %q is not a known entity kind", s.Kind)
	}
	if s.EditField == "" {
		return fmt.Errorf("container spec for %s has no edit field", s.Kind)
	}
	if s.CounterpartSide != DirectionFrom && s.CounterpartSide != DirectionTo {
		return fmt.Errorf("container spec for %s has invalid counterpart side %q", s.Kind, s.CounterpartSide)
	}
	if s.AddInputType == "" || s.CounterpartType == "" {
		return fmt.Errorf("container spec for %s is missing argument types", s.Kind)
	}
	return nil
}

// AddDocument returns the relationAdd mutation document.
func (s ContainerSpec) AddDocument() string {
	from, to := s.CounterpartSelection, s.ContainerSelection
	if s.CounterpartSide == DirectionTo {
		from, to = to, from
	}
	return fmt.Sprintf(`mutation RelationAdd($id: ID!, $input: %s) {
  %s(id: $id) {
    relationAdd(input: $input) {
      id
      from { %s }
      to { %s }
    }
  }
}`, s.AddInputType, s.EditField, from, to)
}

// DeleteDocument returns the relationDelete mutation document.
func (s ContainerSpec) DeleteDocument() string {
	arg := s.CounterpartSide.Arg()
	return fmt.Sprintf(`mutation RelationDelete($id: ID!, $%s: %s, $relationship_type: String!) {
  %s(id: $id) {
    relationDelete(%s: $%s, relationship_type: $relationship_type) {
      %s
    }
  }
}`, arg, s.CounterpartType, s.EditField, arg, arg, s.ContainerSelection)
}
