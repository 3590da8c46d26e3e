package entity

import (
	"errors"
	"maps"
)

// Fragment is a partial, schema-shaped view of an entity as returned by a
// query or mutation. Only ID is meaningful to the cache; the remaining fields
// are carried opaquely.
type Fragment struct {
	// ID is the globally unique opaque identifier.
	ID string `json:"id"`

	// Kind is the entity_type tag.
	Kind Kind `json:"entity_type,omitempty"`

	// Name is the display name, empty for kinds without one.
	Name string `json:"name,omitempty"`

	// Description is the optional long description.
	Description string `json:"description,omitempty"`

	// Fields holds the kind-specific field set (e.g. user_email for users).
	Fields map[string]any `json:"fields,omitempty"`
}

// NewFragment creates a fragment with an initialized field map.
func NewFragment(id string, kind Kind) *Fragment {
	return &Fragment{
		ID:     id,
		Kind:   kind,
		Fields: make(map[string]any),
	}
}

// WithName sets the name and returns the fragment for chaining.
func (f *Fragment) WithName(name string) *Fragment {
	f.Name = name
	return f
}

// WithDescription sets the description and returns the fragment for chaining.
func (f *Fragment) WithDescription(desc string) *Fragment {
	f.Description = desc
	return f
}

// WithField sets a kind-specific field and returns the fragment for chaining.
func (f *Fragment) WithField(key string, value any) *Fragment {
	if f.Fields == nil {
		f.Fields = make(map[string]any)
	}
	f.Fields[key] = value
	return f
}

// Field returns a kind-specific field value.
func (f Fragment) Field(key string) (any, bool) {
	if f.Fields == nil {
		return nil, false
	}
	v, ok := f.Fields[key]
	return v, ok
}

// Ref returns the connection reference for this fragment.
func (f Fragment) Ref() Ref {
	return Ref{ID: f.ID, Kind: f.Kind}
}

// Clone returns a copy whose field map can be modified independently.
func (f Fragment) Clone() Fragment {
	f.Fields = maps.Clone(f.Fields)
	return f
}

// Validate checks the fragment is addressable.
func (f Fragment) Validate() error {
	if f.ID == "" {
		return errors.New("fragment ID cannot be empty")
	}
	if f.Kind != "" && !f.Kind.Valid() {
		return errors.New("fragment kind " + string(f.Kind) + " is not a known entity kind")
	}
	return nil
}

// Ref is a reference to an entity held in an ordered connection.
// Two refs are the same element when their IDs are equal.
type Ref struct {
	ID   string `json:"id"`
	Kind Kind   `json:"entity_type,omitempty"`
}

// IndexOf returns the position of the ref with the given ID, or -1.
func IndexOf(refs []Ref, id string) int {
	for i, r := range refs {
		if r.ID == id {
			return i
		}
	}
	return -1
}

// FragmentFromMap decodes a fragment from a GraphQL response object. id,
// entity_type, name and description map to the typed fields; everything else
// lands in Fields. An entity_type outside the known kinds is kept in Fields
// under "entity_type" and Kind is left empty.
func FragmentFromMap(m map[string]any) (Fragment, error) {
	id, _ := m["id"].(string)
	if id == "" {
		return Fragment{}, errors.New("fragment object has no id")
	}

	f := Fragment{ID: id, Fields: make(map[string]any)}
	for k, v := range m {
		switch k {
		case "id":
		case "entity_type":
			raw, _ := v.(string)
			kind, err := ParseKind(raw)
			if err != nil {
				f.Fields[k] = v
				continue
			}
			f.Kind = kind
		case "name":
			f.Name, _ = v.(string)
		case "description":
			f.Description, _ = v.(string)
		default:
			f.Fields[k] = v
		}
	}
	return f, nil
}
