package bus

import (
	"sync"

	apperrors "github.com/memsearch/mem-search/internal/pkg/errors"
)

// MemoryStatusBus records status events in memory. Used in tests and
// when no broker is configured.
type MemoryStatusBus struct {
	mu       sync.Mutex
	statuses []Status
	closed   bool
}

// NewMemoryStatusBus creates an empty in-memory status publisher.
func NewMemoryStatusBus() *MemoryStatusBus {
	return &MemoryStatusBus{}
}

// PublishStatus appends the record.
func (b *MemoryStatusBus) PublishStatus(status Status) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return apperrors.New(apperrors.CodeUnavailable, "status bus is closed")
	}
	b.statuses = append(b.statuses, status)
	return nil
}

// Statuses returns a copy of everything published so far.
func (b *MemoryStatusBus) Statuses() []Status {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]Status, len(b.statuses))
	copy(out, b.statuses)
	return out
}

// Close marks the bus closed; further publishes fail.
func (b *MemoryStatusBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}
