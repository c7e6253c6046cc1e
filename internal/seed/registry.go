package seed

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/emrgen/catalog/internal/model"
)

const (
	ModuleCSV    = "csv"
	ModuleStatic = "static"
)

// Registry dispatches fetches to the Source registered for the module of a harvest source.
type Registry struct {
	mu      sync.RWMutex
	sources map[string]Source
}

var _ Source = (*Registry)(nil)

func NewRegistry() *Registry {
	return &Registry{
		sources: make(map[string]Source),
	}
}

func (r *Registry) Register(module string, source Source) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sources[module] = source
}

func (r *Registry) Lookup(module string) (Source, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	source, ok := r.sources[module]
	return source, ok
}

func (r *Registry) Modules() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	modules := make([]string, 0, len(r.sources))
	for module := range r.sources {
		modules = append(modules, module)
	}
	return modules
}

func (r *Registry) Fetch(ctx context.Context, source *model.Source, since time.Time) ([]*Seed, error) {
	s, ok := r.Lookup(source.Module)
	if !ok {
		return nil, fmt.Errorf("%w: no seed source for module %q", ErrUnavailable, source.Module)
	}
	return s.Fetch(ctx, source, since)
}
