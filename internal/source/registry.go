package source

import (
	"fmt"
	"sort"

	"github.com/roach88/enrolsync/internal/config"
	"github.com/roach88/enrolsync/internal/ir"
)

// Factory builds a Source from its configuration.
//
// Factories must not fail on missing settings; a Source reports those from
// Fetch so that one misconfigured adapter does not stop the others.
type Factory func(cfg config.Source, deps Deps) (Source, error)

// Registry maps source types to factories.
type Registry struct {
	factories map[string]Factory
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// DefaultRegistry returns a registry with every built-in source type.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register("students", NewStudents)
	r.Register("approvers", NewApprovers)
	r.Register("instructors", NewInstructors)
	r.Register("feed", NewFeed)
	return r
}

// Register adds or replaces the factory for typ.
func (r *Registry) Register(typ string, f Factory) {
	r.factories[typ] = f
}

// Types returns the registered types in sorted order.
func (r *Registry) Types() []string {
	types := make([]string, 0, len(r.factories))
	for t := range r.factories {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// New builds one source.
func (r *Registry) New(cfg config.Source, deps Deps) (Source, error) {
	f, ok := r.factories[cfg.Type]
	if !ok {
		return nil, fmt.Errorf("unknown source type %q (source %s)", cfg.Type, cfg.Name)
	}
	src, err := f(cfg, deps.withDefaults())
	if err != nil {
		return nil, fmt.Errorf("build source %s: %w", cfg.Name, err)
	}
	return src, nil
}

// Build builds every configured source, preserving configuration order.
func (r *Registry) Build(cfgs []config.Source, deps Deps) ([]Source, error) {
	sources := make([]Source, 0, len(cfgs))
	for _, c := range cfgs {
		src, err := r.New(c, deps)
		if err != nil {
			return nil, err
		}
		sources = append(sources, src)
	}
	return sources, nil
}

// Describe returns the settings of every registered type.
func (r *Registry) Describe() map[string][]ir.Setting {
	out := make(map[string][]ir.Setting, len(r.factories))
	for _, t := range r.Types() {
		src, err := r.New(config.Source{Name: t, Type: t}, Deps{})
		if err != nil {
			continue
		}
		out[t] = src.DescribeSettings()
	}
	return out
}
