package httpapi

import (
	"fmt"

	"gatehouse.org/internal/auth"
	"gatehouse.org/internal/query"
)

// Resource pairs a searchable schema with the minimum role its search
// endpoint demands.
type Resource struct {
	Schema       query.Schema
	RequiredRole auth.Role
}

// Registry is the closed set of searchable resources, assembled at startup.
type Registry struct {
	resources map[string]Resource
}

func NewRegistry() *Registry {
	return &Registry{resources: make(map[string]Resource)}
}

// Register validates and adds a resource. Duplicate names and invalid
// schemas are startup errors, not request-time surprises.
func (reg *Registry) Register(res Resource) error {
	if err := res.Schema.Validate(); err != nil {
		return err
	}
	name := res.Schema.Resource
	if _, exists := reg.resources[name]; exists {
		return fmt.Errorf("resource %q already registered", name)
	}
	if _, err := auth.ParseRole(string(res.RequiredRole)); err != nil {
		return fmt.Errorf("resource %q: %w", name, err)
	}
	reg.resources[name] = res
	return nil
}

func (reg *Registry) Lookup(name string) (Resource, bool) {
	res, ok := reg.resources[name]
	return res, ok
}

// DefaultRegistry wires the built-in resources.
func DefaultRegistry() (*Registry, error) {
	reg := NewRegistry()

	principals := Resource{
		RequiredRole: auth.RoleModerator,
		Schema: query.Schema{
			Resource: "principals",
			Table:    "principals",
			Fields: map[string]query.Field{
				"id":              {Type: query.TypeString, Ops: []query.Op{query.OpEq}},
				"email":           {Type: query.TypeString, Ops: []query.Op{query.OpEq, query.OpContains}, Sortable: true},
				"role":            {Type: query.TypeString, Ops: []query.Op{query.OpEq}, Sortable: true},
				"organization_id": {Type: query.TypeString, Ops: []query.Op{query.OpEq}},
				"created_at":      {Type: query.TypeTime, Ops: []query.Op{query.OpEq, query.OpRange}, Sortable: true},
			},
			SearchFields: []string{"email"},
			DefaultSort:  query.Sort{Field: "created_at", Descending: true},
			DefaultLimit: 20,
		},
	}

	auditEvents := Resource{
		RequiredRole: auth.RoleOrgAdmin,
		Schema: query.Schema{
			Resource: "audit-events",
			Table:    "audit_events",
			Fields: map[string]query.Field{
				"id":              {Type: query.TypeString, Ops: []query.Op{query.OpEq}},
				"actor_id":        {Type: query.TypeString, Ops: []query.Op{query.OpEq}},
				"organization_id": {Type: query.TypeString, Ops: []query.Op{query.OpEq}},
				"action":          {Type: query.TypeString, Ops: []query.Op{query.OpEq, query.OpContains}, Sortable: true},
				"resource_type":   {Type: query.TypeString, Ops: []query.Op{query.OpEq}},
				"resource_id":     {Type: query.TypeString, Ops: []query.Op{query.OpEq}},
				"request_id":      {Type: query.TypeString, Ops: []query.Op{query.OpEq}},
				"occurred_at":     {Type: query.TypeTime, Ops: []query.Op{query.OpEq, query.OpRange}, Sortable: true},
			},
			SearchFields: []string{"action"},
			DefaultSort:  query.Sort{Field: "occurred_at", Descending: true},
			DefaultLimit: 50,
		},
	}

	for _, res := range []Resource{principals, auditEvents} {
		if err := reg.Register(res); err != nil {
			return nil, err
		}
	}
	return reg, nil
}
