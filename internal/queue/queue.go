package queue

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
)

type EventType string

const (
	EventVersionCreated  EventType = "version.created"
	EventVersionPromoted EventType = "version.promoted"
	EventVersionDeleted  EventType = "version.deleted"
	EventIndexPushed     EventType = "index.pushed"
	EventAliasSwapped    EventType = "alias.swapped"
)

// Event is a notification about a catalog change.
type Event struct {
	ID        string          `json:"id"`
	Type      EventType       `json:"type"`
	Dataset   string          `json:"dataset"`
	Version   string          `json:"version,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// NewEvent creates an event with a fresh id. The payload is encoded as JSON.
func NewEvent(eventType EventType, dataset, version string, payload any) (*Event, error) {
	event := &Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Dataset:   dataset,
		Version:   version,
		CreatedAt: time.Now().UTC(),
	}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		event.Payload = data
	}
	return event, nil
}

// EventQueue publishes catalog events.
type EventQueue interface {
	// Publish appends an event to the queue.
	Publish(ctx context.Context, event *Event) error
	Close() error
}

var _ EventQueue = (*MemoryQueue)(nil)

// MemoryQueue records published events in process.
type MemoryQueue struct {
	mu     sync.Mutex
	events []*Event
}

func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{}
}

func (m *MemoryQueue) Publish(_ context.Context, event *Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.events = append(m.events, event)
	return nil
}

// Events returns the published events of the given type, or all events when eventType is empty.
func (m *MemoryQueue) Events(eventType EventType) []*Event {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*Event
	for _, event := range m.events {
		if eventType == "" || event.Type == eventType {
			out = append(out, event)
		}
	}
	return out
}

func (m *MemoryQueue) Close() error {
	return nil
}
