package query

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

// FilterRequest is the caller-facing declarative filter body. Page and Limit
// are pointers so an absent value (take the default) is distinguishable from
// an explicit zero (rejected).
type FilterRequest struct {
	Filters map[string]json.RawMessage `json:"filters,omitempty"`
	Search  string                     `json:"search,omitempty"`
	Page    *int                       `json:"page,omitempty"`
	Limit   *int                       `json:"limit,omitempty"`
	Sort    *SortRequest               `json:"sort,omitempty"`
}

// SortRequest is the caller's requested ordering.
type SortRequest struct {
	Field     string `json:"field"`
	Direction string `json:"direction"`
}

// Predicate is one validated condition. Predicates in a set combine with
// AND semantics.
type Predicate struct {
	Field string
	Op    Op
	Value any // OpEq / OpContains
	From  any // OpRange; nil means the side is open
	To    any
}

// SearchPredicate fans a free-text term out as an OR across the schema's
// declared search fields, ANDed with the rest of the set.
type SearchPredicate struct {
	Fields []string
	Term   string
}

// PredicateSet is the validated, injection-safe representation of a filter
// request, ready for an Executor.
type PredicateSet struct {
	Predicates []Predicate
	Search     *SearchPredicate
}

// rangeOrContains is the object form of a filter value. Exactly one of
// contains or from/to may be used; mixing them is rejected.
type rangeOrContains struct {
	From     *json.RawMessage `json:"from"`
	To       *json.RawMessage `json:"to"`
	Contains *string          `json:"contains"`
}

// Build validates a filter request against the schema and produces a
// predicate set. The first unknown field or malformed value aborts the whole
// build; no partial query ever reaches the store.
func Build(schema Schema, req FilterRequest) (PredicateSet, error) {
	var set PredicateSet

	names := make([]string, 0, len(req.Filters))
	for name := range req.Filters {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		field, ok := schema.Fields[name]
		if !ok {
			return PredicateSet{}, fmt.Errorf("%w: %q", ErrUnknownField, name)
		}
		pred, err := buildPredicate(name, field, req.Filters[name])
		if err != nil {
			return PredicateSet{}, err
		}
		set.Predicates = append(set.Predicates, pred)
	}

	if term := strings.TrimSpace(req.Search); term != "" {
		if len(schema.SearchFields) == 0 {
			return PredicateSet{}, fmt.Errorf("%w: resource %q does not support search", ErrInvalidValue, schema.Resource)
		}
		set.Search = &SearchPredicate{Fields: schema.SearchFields, Term: term}
	}

	return set, nil
}

func buildPredicate(name string, field Field, raw json.RawMessage) (Predicate, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return Predicate{}, fmt.Errorf("%w: field %q has no value", ErrInvalidValue, name)
	}

	if strings.HasPrefix(trimmed, "{") {
		return buildObjectPredicate(name, field, raw)
	}

	// Scalar form: plain equality.
	if !field.allows(OpEq) {
		return Predicate{}, fmt.Errorf("%w: field %q does not allow equality", ErrInvalidValue, name)
	}
	value, err := coerce(name, field.Type, raw)
	if err != nil {
		return Predicate{}, err
	}
	return Predicate{Field: name, Op: OpEq, Value: value}, nil
}

func buildObjectPredicate(name string, field Field, raw json.RawMessage) (Predicate, error) {
	var keys map[string]json.RawMessage
	if err := json.Unmarshal(raw, &keys); err != nil {
		return Predicate{}, fmt.Errorf("%w: field %q: %v", ErrInvalidValue, name, err)
	}
	for key := range keys {
		if key != "from" && key != "to" && key != "contains" {
			return Predicate{}, fmt.Errorf("%w: field %q: unsupported operator %q", ErrInvalidValue, name, key)
		}
	}

	var spec rangeOrContains
	if err := json.Unmarshal(raw, &spec); err != nil {
		return Predicate{}, fmt.Errorf("%w: field %q: %v", ErrInvalidValue, name, err)
	}

	if spec.Contains != nil {
		if spec.From != nil || spec.To != nil {
			return Predicate{}, fmt.Errorf("%w: field %q mixes contains with a range", ErrInvalidValue, name)
		}
		if !field.allows(OpContains) {
			return Predicate{}, fmt.Errorf("%w: field %q does not allow contains", ErrInvalidValue, name)
		}
		if strings.TrimSpace(*spec.Contains) == "" {
			return Predicate{}, fmt.Errorf("%w: field %q: contains term is empty", ErrInvalidValue, name)
		}
		return Predicate{Field: name, Op: OpContains, Value: *spec.Contains}, nil
	}

	if spec.From == nil && spec.To == nil {
		return Predicate{}, fmt.Errorf("%w: field %q: range needs from and/or to", ErrInvalidValue, name)
	}
	if !field.allows(OpRange) {
		return Predicate{}, fmt.Errorf("%w: field %q does not allow ranges", ErrInvalidValue, name)
	}

	// Both sides are independently optional; one side yields a one-sided
	// predicate, both yield a closed interval.
	pred := Predicate{Field: name, Op: OpRange}
	if spec.From != nil {
		v, err := coerce(name, field.Type, *spec.From)
		if err != nil {
			return Predicate{}, err
		}
		pred.From = v
	}
	if spec.To != nil {
		v, err := coerce(name, field.Type, *spec.To)
		if err != nil {
			return Predicate{}, err
		}
		pred.To = v
	}
	return pred, nil
}

func coerce(name string, ft FieldType, raw json.RawMessage) (any, error) {
	switch ft {
	case TypeString:
		var v string
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("%w: field %q expects a string", ErrInvalidValue, name)
		}
		return v, nil
	case TypeInt:
		var v int64
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("%w: field %q expects an integer", ErrInvalidValue, name)
		}
		return v, nil
	case TypeTime:
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, fmt.Errorf("%w: field %q expects an RFC 3339 timestamp", ErrInvalidValue, name)
		}
		ts, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return nil, fmt.Errorf("%w: field %q expects an RFC 3339 timestamp", ErrInvalidValue, name)
		}
		return ts.UTC(), nil
	case TypeBool:
		var v bool
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("%w: field %q expects a boolean", ErrInvalidValue, name)
		}
		return v, nil
	default:
		return nil, fmt.Errorf("%w: field %q has unsupported type %q", ErrInvalidValue, name, ft)
	}
}
