package seed

import (
	"context"
	"errors"
	"time"

	"github.com/emrgen/catalog/internal/model"
)

// ErrUnavailable signals a transport failure or a source that produced no data.
// It is distinct from an empty result, which means the source is caught up.
var ErrUnavailable = errors.New("seed source unavailable")

// Seed is one upsert or delete record produced by a Source.
type Seed struct {
	Reference  string
	State      model.DocumentState
	Properties map[string]any
	// ModifiedAt is the modification time reported by the source, if any.
	ModifiedAt *time.Time
}

// IsUpsert reports whether the seed creates or replaces a document.
// Every state other than active deletes the document.
func (s *Seed) IsUpsert() bool {
	return s.State == model.DocumentStateActive || s.State == ""
}

// Source fetches the seeds of a harvest source modified since a high-water mark.
// Implementations return seeds in the order they must be applied.
type Source interface {
	Fetch(ctx context.Context, source *model.Source, since time.Time) ([]*Seed, error)
}

// SourceFunc adapts a function to the Source interface.
type SourceFunc func(ctx context.Context, source *model.Source, since time.Time) ([]*Seed, error)

func (f SourceFunc) Fetch(ctx context.Context, source *model.Source, since time.Time) ([]*Seed, error) {
	return f(ctx, source, since)
}

// modifiedSince reports whether the seed should be part of a fetch since the given time.
// Seeds without a modification time are always included.
func modifiedSince(s *Seed, since time.Time) bool {
	if s.ModifiedAt == nil {
		return true
	}
	return !s.ModifiedAt.Before(since)
}
