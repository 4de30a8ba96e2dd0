package query

import (
	"fmt"
	"slices"
)

// FieldType is the value type a field accepts in filter requests.
type FieldType string

const (
	TypeString FieldType = "string"
	TypeInt    FieldType = "int"
	TypeTime   FieldType = "time"
	TypeBool   FieldType = "bool"
)

// Op is a filter operator a field explicitly allows. Substring matching is
// opt-in per field, distinct from equality, so indexed equality columns do
// not grow accidental full scans.
type Op string

const (
	OpEq       Op = "eq"
	OpRange    Op = "range"
	OpContains Op = "contains"
)

// Field declares the type, allowed operators, and sortability of one
// whitelisted field.
type Field struct {
	Type     FieldType
	Ops      []Op
	Sortable bool
}

func (f Field) allows(op Op) bool {
	return slices.Contains(f.Ops, op)
}

// Sort is a resolved ordering over a sortable field.
type Sort struct {
	Field      string
	Descending bool
}

// Schema is the closed, per-resource whitelist the filter builder and
// pagination engine validate against. Field names double as column names;
// nothing outside this map ever reaches the store.
type Schema struct {
	Resource string
	Table    string

	Fields map[string]Field

	// SearchFields is the explicitly declared set of text columns a
	// free-text search fans out across (OR semantics).
	SearchFields []string

	DefaultSort  Sort
	DefaultLimit int
}

// Validate checks internal consistency. Called once at resource
// registration, not per request.
func (s Schema) Validate() error {
	if s.Resource == "" || s.Table == "" {
		return fmt.Errorf("schema %q: resource and table are required", s.Resource)
	}
	if len(s.Fields) == 0 {
		return fmt.Errorf("schema %q: no fields declared", s.Resource)
	}
	for name, f := range s.Fields {
		if len(f.Ops) == 0 {
			return fmt.Errorf("schema %q: field %q allows no operators", s.Resource, name)
		}
		if f.allows(OpContains) && f.Type != TypeString {
			return fmt.Errorf("schema %q: field %q: contains requires a string field", s.Resource, name)
		}
		if f.allows(OpRange) && f.Type != TypeTime && f.Type != TypeInt {
			return fmt.Errorf("schema %q: field %q: range requires a time or int field", s.Resource, name)
		}
	}
	for _, name := range s.SearchFields {
		f, ok := s.Fields[name]
		if !ok {
			return fmt.Errorf("schema %q: search field %q is not declared", s.Resource, name)
		}
		if f.Type != TypeString {
			return fmt.Errorf("schema %q: search field %q must be a string field", s.Resource, name)
		}
	}
	def, ok := s.Fields[s.DefaultSort.Field]
	if !ok || !def.Sortable {
		return fmt.Errorf("schema %q: default sort field %q must be a sortable field", s.Resource, s.DefaultSort.Field)
	}
	if s.DefaultLimit < 1 || s.DefaultLimit > MaxLimit {
		return fmt.Errorf("schema %q: default limit %d out of range", s.Resource, s.DefaultLimit)
	}
	return nil
}
