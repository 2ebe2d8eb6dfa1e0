// Package bus broadcasts cell change events to interested subscribers.
package bus

import (
	"context"
	"log/slog"
	"sync"
)

// Event describes a committed change to a document.
type Event struct {
	DocumentID string
	SheetID    string
	Ref        string
	NewValue   any
}

// Bus is the change notification boundary.
type Bus interface {
	Publish(ctx context.Context, event Event) error
}

// MemoryBus fans events out to in-process subscriber channels. a slow
// subscriber never blocks Publish, its events are dropped with a
// warning instead.
type MemoryBus struct {
	mu          sync.Mutex
	subscribers map[int]chan Event
	nextID      int
	logger      *slog.Logger
}

// NewMemoryBus creates a bus. logger may be nil.
func NewMemoryBus(logger *slog.Logger) *MemoryBus {
	if logger == nil {
		logger = slog.Default()
	}
	return &MemoryBus{
		subscribers: make(map[int]chan Event),
		logger:      logger,
	}
}

// Subscribe registers a new subscriber. the returned cancel function
// removes the subscription and closes the channel.
func (b *MemoryBus) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	ch := make(chan Event, 64)
	b.subscribers[id] = ch
	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if existing, ok := b.subscribers[id]; ok {
			delete(b.subscribers, id)
			close(existing)
		}
	}
	return ch, cancel
}

func (b *MemoryBus) Publish(ctx context.Context, event Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, ch := range b.subscribers {
		select {
		case ch <- event:
		default:
			b.logger.Warn("dropping event for slow subscriber",
				"subscriber", id,
				"document", event.DocumentID,
				"ref", event.Ref)
		}
	}
	return nil
}
