package content

import (
	"fmt"
	"sort"
)

// TypeInfo describes how a content component type is displayed.
type TypeInfo struct {
	Template        string
	CssDependencies []string
	JsDependencies  []string
}

// Registry maps component type names to their display information. It is
// built once at startup and only read afterwards.
type Registry struct {
	types map[string]TypeInfo
}

// NewRegistry builds a registry from the given types.
func NewRegistry(types map[string]TypeInfo) (*Registry, error) {
	r := &Registry{types: make(map[string]TypeInfo, len(types))}
	for name, info := range types {
		if name == "" {
			return nil, fmt.Errorf("content type name cannot be empty")
		}
		if info.Template == "" {
			return nil, fmt.Errorf("content type %q: template is required", name)
		}
		r.types[name] = info
	}
	return r, nil
}

// DefaultRegistry returns the built-in component types.
func DefaultRegistry() *Registry {
	r, _ := NewRegistry(map[string]TypeInfo{
		"basic-html": {
			Template:       "basic-html.html",
			JsDependencies: []string{"/static/content-components/basic-html.js"},
		},
		"map": {
			Template:       "map.html",
			JsDependencies: []string{"/static/content-components/map.js"},
		},
		"dialog": {
			Template:       "dialog.html",
			JsDependencies: []string{"/static/content-components/dialog.js"},
		},
	})
	return r
}

// Known reports whether componentType is registered.
func (r *Registry) Known(componentType string) bool {
	_, ok := r.types[componentType]
	return ok
}

// Lookup returns the display information for componentType.
func (r *Registry) Lookup(componentType string) (TypeInfo, bool) {
	info, ok := r.types[componentType]
	return info, ok
}

// Types lists the registered type names in sorted order.
func (r *Registry) Types() []string {
	names := make([]string, 0, len(r.types))
	for n := range r.types {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
