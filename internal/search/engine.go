package search

import (
	"context"
	"encoding/json"
	"errors"
)

var (
	ErrUnknownLanguage = errors.New("unknown index language")
	// ErrAliasSwap is returned when an index was built but its alias could not be moved.
	// The index is valid, the alias is stale or unset until the swap is retried.
	ErrAliasSwap = errors.New("alias swap failed")
)

type Operation string

const (
	OperationIndex  Operation = "index"
	OperationDelete Operation = "delete"
)

// Action is one bulk write.
type Action struct {
	Operation Operation
	ID        string
	Body      map[string]any
}

// ItemError is a failed item of a bulk request.
type ItemError struct {
	ID     string `json:"id"`
	Status int    `json:"status"`
	Reason string `json:"reason"`
}

func (e ItemError) String() string {
	return e.ID + ": " + e.Reason
}

// Engine is the remote full-text search engine the catalog is projected into.
type Engine interface {
	IndexExists(ctx context.Context, name string) (bool, error)
	CreateIndex(ctx context.Context, name string, configuration json.RawMessage) error
	DeleteIndex(ctx context.Context, name string) error
	// Bulk writes the actions and returns the items that failed. An error means
	// the request as a whole failed and nothing can be assumed written.
	Bulk(ctx context.Context, index string, actions []Action) ([]ItemError, error)
	// PutAlias attaches the alias to the index.
	PutAlias(ctx context.Context, index, alias string) error
	// DeleteAlias removes the alias from every index holding it.
	DeleteAlias(ctx context.Context, alias string) error
	// AliasTargets returns the indices holding the alias.
	AliasTargets(ctx context.Context, alias string) ([]string, error)
}
