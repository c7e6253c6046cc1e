package search

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	mapset "github.com/deckarep/golang-set/v2"
)

type memoryIndex struct {
	configuration json.RawMessage
	documents     map[string]map[string]any
}

// MemoryEngine is an in-process Engine used for local runs and tests.
type MemoryEngine struct {
	mu      sync.RWMutex
	indices map[string]*memoryIndex
	aliases map[string]mapset.Set[string]

	// FailIDs makes bulk writes of the listed document ids fail.
	FailIDs mapset.Set[string]
	// FailAliases makes putting the listed aliases fail.
	FailAliases mapset.Set[string]
}

var _ Engine = (*MemoryEngine)(nil)

func NewMemoryEngine() *MemoryEngine {
	return &MemoryEngine{
		indices:     make(map[string]*memoryIndex),
		aliases:     make(map[string]mapset.Set[string]),
		FailIDs:     mapset.NewSet[string](),
		FailAliases: mapset.NewSet[string](),
	}
}

func (m *MemoryEngine) IndexExists(_ context.Context, name string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.indices[name]
	return ok, nil
}

func (m *MemoryEngine) CreateIndex(_ context.Context, name string, configuration json.RawMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.indices[name]; ok {
		return fmt.Errorf("index %s already exists", name)
	}
	m.indices[name] = &memoryIndex{
		configuration: configuration,
		documents:     make(map[string]map[string]any),
	}

	return nil
}

func (m *MemoryEngine) DeleteIndex(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.indices, name)
	for _, holders := range m.aliases {
		holders.Remove(name)
	}

	return nil
}

func (m *MemoryEngine) Bulk(_ context.Context, index string, actions []Action) ([]ItemError, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	idx, ok := m.indices[index]
	if !ok {
		return nil, fmt.Errorf("index %s does not exist", index)
	}

	var failed []ItemError
	for _, action := range actions {
		if m.FailIDs.Contains(action.ID) {
			failed = append(failed, ItemError{ID: action.ID, Status: 400, Reason: "mapper_parsing_exception: rejected"})
			continue
		}

		switch action.Operation {
		case OperationIndex:
			idx.documents[action.ID] = action.Body
		case OperationDelete:
			delete(idx.documents, action.ID)
		}
	}

	return failed, nil
}

func (m *MemoryEngine) PutAlias(_ context.Context, index, alias string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailAliases.Contains(alias) {
		return fmt.Errorf("alias %s rejected", alias)
	}
	if _, ok := m.indices[index]; !ok {
		return fmt.Errorf("index %s does not exist", index)
	}

	holders, ok := m.aliases[alias]
	if !ok {
		holders = mapset.NewSet[string]()
		m.aliases[alias] = holders
	}
	holders.Add(index)

	return nil
}

func (m *MemoryEngine) DeleteAlias(_ context.Context, alias string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.aliases, alias)

	return nil
}

func (m *MemoryEngine) AliasTargets(_ context.Context, alias string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	holders, ok := m.aliases[alias]
	if !ok {
		return nil, nil
	}
	targets := holders.ToSlice()
	sort.Strings(targets)

	return targets, nil
}

// Document returns an indexed document.
func (m *MemoryEngine) Document(index, id string) (map[string]any, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	idx, ok := m.indices[index]
	if !ok {
		return nil, false
	}
	doc, ok := idx.documents[id]
	return doc, ok
}

// Count returns the number of documents in an index.
func (m *MemoryEngine) Count(index string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	idx, ok := m.indices[index]
	if !ok {
		return 0
	}
	return len(idx.documents)
}

// Configuration returns the configuration an index was created with.
func (m *MemoryEngine) Configuration(index string) json.RawMessage {
	m.mu.RLock()
	defer m.mu.RUnlock()

	idx, ok := m.indices[index]
	if !ok {
		return nil
	}
	return idx.configuration
}
