package entity

import "fmt"

// RelationshipType is drawn from a fixed vocabulary.
type RelationshipType string

// Internal relationships between platform objects.
const (
	RelMemberOf       RelationshipType = "member-of"
	RelParticipateIn  RelationshipType = "participate-to"
	RelAccessesTo     RelationshipType = "accesses-to"
	RelHasRole        RelationshipType = "has-role"
	RelHasCapability  RelationshipType = "has-capability"
	RelAllowedMarking RelationshipType = "allowed-marking"
)

// Meta relationships (containers referencing their content).
const (
	RelObject      RelationshipType = "object"
	RelCreatedBy   RelationshipType = "created-by"
	RelObjectLabel RelationshipType = "object-label"
	RelExternalRef RelationshipType = "external-reference"
)

// Core relationships between knowledge objects.
const (
	RelUses         RelationshipType = "uses"
	RelTargets      RelationshipType = "targets"
	RelIndicates    RelationshipType = "indicates"
	RelAttributedTo RelationshipType = "attributed-to"
	RelLocatedAt    RelationshipType = "located-at"
	RelMitigates    RelationshipType = "mitigates"
	RelRelatedTo    RelationshipType = "related-to"
	RelPartOf       RelationshipType = "part-of"
)

var relationshipTypes = map[RelationshipType]struct{}{
	RelMemberOf: {}, RelParticipateIn: {}, RelAccessesTo: {}, RelHasRole: {},
	RelHasCapability: {}, RelAllowedMarking: {},
	RelObject: {}, RelCreatedBy: {}, RelObjectLabel: {}, RelExternalRef: {},
	RelUses: {}, RelTargets: {}, RelIndicates: {}, RelAttributedTo: {},
	RelLocatedAt: {}, RelMitigates: {}, RelRelatedTo: {}, RelPartOf: {},
}

// Valid reports whether t belongs to the vocabulary.
func (t RelationshipType) Valid() bool {
	_, ok := relationshipTypes[t]
	return ok
}

// String implements fmt.Stringer.
func (t RelationshipType) String() string {
	return string(t)
}

// Edge is a directed, typed connection between two entities.
// Uniqueness per (from, to, type) is a backend invariant.
type Edge struct {
	FromID string           `json:"from_id"`
	ToID   string           `json:"to_id"`
	Type   RelationshipType `json:"relationship_type"`
}

// NewEdge creates an edge from fromID to toID.
func NewEdge(fromID, toID string, relType RelationshipType) Edge {
	return Edge{FromID: fromID, ToID: toID, Type: relType}
}

// Validate checks that the edge has all required fields and a known type.
func (e Edge) Validate() error {
	if e.FromID == "" {
		return fmt.Errorf("edge FromID cannot be empty")
	}
	if e.ToID == "" {
		return fmt.Errorf("edge ToID cannot be empty")
	}
	if !e.Type.Valid() {
		return fmt.Errorf("edge relationship type %q is not in the vocabulary", e.Type)
	}
	return nil
}

// Counterpart returns the endpoint of e that is not containerID, and false if
// containerID is not an endpoint.
func (e Edge) Counterpart(containerID string) (string, bool) {
	switch containerID {
	case e.FromID:
		return e.ToID, true
	case e.ToID:
		return e.FromID, true
	default:
		return "", false
	}
}
