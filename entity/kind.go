// Package entity defines the domain objects the synchronization core moves
// between the backend and the local fragment cache: entity kinds, fragments,
// references and typed relationships.
//
// Entity fragments are polymorphic. One list query can return a dozen entity
// variants, each with its own field set. Instead of type-checking at every use
// site, a Fragment carries a Kind tag drawn from a fixed set and callers
// dispatch on the tag:
//
//	switch frag.Kind.Category() {
//	case entity.CategoryThreat:
//	    // intrusion sets, threat actors, campaigns, malware ...
//	case entity.CategoryLocation:
//	    // cities, countries, regions, positions
//	}
package entity

import (
	"fmt"
	"sort"
	"strings"
)

// Kind is the entity type tag, using the platform's entity_type spelling.
type Kind string

// STIX domain object kinds.
const (
	KindAttackPattern  Kind = "Attack-Pattern"
	KindCampaign       Kind = "Campaign"
	KindCourseOfAction Kind = "Course-Of-Action"
	KindIndividual     Kind = "Individual"
	KindOrganization   Kind = "Organization"
	KindSector         Kind = "Sector"
	KindIndicator      Kind = "Indicator"
	KindInfrastructure Kind = "Infrastructure"
	KindIntrusionSet   Kind = "Intrusion-Set"
	KindPosition       Kind = "Position"
	KindCity           Kind = "City"
	KindCountry        Kind = "Country"
	KindRegion         Kind = "Region"
	KindMalware        Kind = "Malware"
	KindThreatActor    Kind = "Threat-Actor"
	KindTool           Kind = "Tool"
	KindVulnerability  Kind = "Vulnerability"
	KindIncident       Kind = "Incident"
	KindReport         Kind = "Report"
)

// Platform (internal) kinds.
const (
	KindUser  Kind = "User"
	KindGroup Kind = "Group"
)

// Category groups kinds for dispatch.
type Category string

const (
	CategoryThreat    Category = "threat"
	CategoryArsenal   Category = "arsenal"
	CategoryTechnique Category = "technique"
	CategoryIdentity  Category = "identity"
	CategoryLocation  Category = "location"
	CategoryObserved  Category = "observed"
	CategoryAnalysis  Category = "analysis"
	CategoryPlatform  Category = "platform"
)

var kindCategories = map[Kind]Category{
	KindAttackPattern:  CategoryTechnique,
	KindCourseOfAction: CategoryTechnique,
	KindCampaign:       CategoryThreat,
	KindIntrusionSet:   CategoryThreat,
	KindThreatActor:    CategoryThreat,
	KindIncident:       CategoryThreat,
	KindMalware:        CategoryArsenal,
	KindTool:           CategoryArsenal,
	KindVulnerability:  CategoryArsenal,
	KindIndividual:     CategoryIdentity,
	KindOrganization:   CategoryIdentity,
	KindSector:         CategoryIdentity,
	KindPosition:       CategoryLocation,
	KindCity:           CategoryLocation,
	KindCountry:        CategoryLocation,
	KindRegion:         CategoryLocation,
	KindIndicator:      CategoryObserved,
	KindInfrastructure: CategoryObserved,
	KindReport:         CategoryAnalysis,
	KindUser:           CategoryPlatform,
	KindGroup:          CategoryPlatform,
}

// ParseKind resolves an entity_type string to a known Kind.
// Matching is case-insensitive and accepts underscores for dashes.
func ParseKind(s string) (Kind, error) {
	norm := strings.ReplaceAll(strings.TrimSpace(s), "_", "-")
	for k := range kindCategories {
		if strings.EqualFold(string(k), norm) {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown entity kind %q", s)
}

// Kinds returns every known kind in lexical order.
func Kinds() []Kind {
	out := make([]Kind, 0, len(kindCategories))
	for k := range kindCategories {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Valid reports whether k is one of the known kinds.
func (k Kind) Valid() bool {
	_, ok := kindCategories[k]
	return ok
}

// Category returns the dispatch category, or "" for unknown kinds.
func (k Kind) Category() Category {
	return kindCategories[k]
}

// IsStixDomainObject reports whether k is a knowledge object rather than a
// platform object such as a user or group.
func (k Kind) IsStixDomainObject() bool {
	c := k.Category()
	return c != "" && c != CategoryPlatform
}

// String implements fmt.Stringer.
func (k Kind) String() string {
	return string(k)
}

// TypeName returns the GraphQL object type name, e.g. "IntrusionSet".
func (k Kind) TypeName() string {
	return strings.ReplaceAll(string(k), "-", "")
}
