package cache

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
)

var ErrReportNotFound = errors.New("report not found")

type ReportKind string

const (
	ReportPromotion ReportKind = "promotion"
	ReportHarvest   ReportKind = "harvest"
	ReportPush      ReportKind = "push"
	ReportCleanup   ReportKind = "cleanup"
)

// ReportCache keeps the latest run report of each kind per dataset.
type ReportCache interface {
	// SetReport stores report as the latest report of kind for the dataset.
	SetReport(ctx context.Context, dataset string, kind ReportKind, report any) error
	// GetReport returns the JSON encoded latest report of kind for the dataset.
	GetReport(ctx context.Context, dataset string, kind ReportKind) (json.RawMessage, error)
	// Reports returns every latest report of the dataset by kind.
	Reports(ctx context.Context, dataset string) (map[ReportKind]json.RawMessage, error)
}

var _ ReportCache = (*MemoryReportCache)(nil)

// MemoryReportCache keeps reports in process. Used when redis is disabled.
type MemoryReportCache struct {
	mu      sync.RWMutex
	reports map[string]map[ReportKind]json.RawMessage
}

func NewMemoryReportCache() *MemoryReportCache {
	return &MemoryReportCache{reports: make(map[string]map[ReportKind]json.RawMessage)}
}

func (m *MemoryReportCache) SetReport(_ context.Context, dataset string, kind ReportKind, report any) error {
	data, err := json.Marshal(report)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.reports[dataset] == nil {
		m.reports[dataset] = make(map[ReportKind]json.RawMessage)
	}
	m.reports[dataset][kind] = data

	return nil
}

func (m *MemoryReportCache) GetReport(_ context.Context, dataset string, kind ReportKind) (json.RawMessage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, ok := m.reports[dataset][kind]
	if !ok {
		return nil, ErrReportNotFound
	}
	return data, nil
}

func (m *MemoryReportCache) Reports(_ context.Context, dataset string) (map[ReportKind]json.RawMessage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[ReportKind]json.RawMessage, len(m.reports[dataset]))
	for kind, data := range m.reports[dataset] {
		out[kind] = data
	}
	return out, nil
}
