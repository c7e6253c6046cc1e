package seed

import (
	"context"
	"sync"
	"time"

	"github.com/emrgen/catalog/internal/model"
)

// StaticSource serves seeds pushed into memory, keyed by source name.
// It backs manual loads from the admin API and tests.
type StaticSource struct {
	mu    sync.Mutex
	seeds map[string][]*Seed
	// failures holds sources that fail the next fetch with ErrUnavailable.
	failures map[string]bool
}

func NewStaticSource() *StaticSource {
	return &StaticSource{
		seeds:    make(map[string][]*Seed),
		failures: make(map[string]bool),
	}
}

// Put replaces the seeds served for a source.
func (s *StaticSource) Put(source string, seeds ...*Seed) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seeds[source] = seeds
}

// Fail makes the next fetch of the source return ErrUnavailable.
func (s *StaticSource) Fail(source string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[source] = true
}

func (s *StaticSource) Fetch(_ context.Context, source *model.Source, since time.Time) ([]*Seed, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failures[source.Name] {
		delete(s.failures, source.Name)
		return nil, ErrUnavailable
	}

	var out []*Seed
	for _, seed := range s.seeds[source.Name] {
		if modifiedSince(seed, since) {
			out = append(out, seed)
		}
	}

	return out, nil
}
