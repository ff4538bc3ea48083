package uplink

import "sync"

// MemoryQueue implements EventQueue without storage. It backs tests and
// hosted simulator runs; nothing survives a restart.
type MemoryQueue struct {
	capacity int

	mu     sync.Mutex
	events []ScanEvent
	closed bool
}

func NewMemoryQueue(capacity int) *MemoryQueue {
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	return &MemoryQueue{capacity: capacity}
}

func (q *MemoryQueue) Initialize() (InitResult, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return InitResult{Records: len(q.events)}, nil
}

func (q *MemoryQueue) Enqueue(event ScanEvent) error {
	if !event.Valid() {
		return ErrInvalidInput
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrQueueClosed
	}
	if len(q.events) >= q.capacity {
		q.events = q.events[1:]
	}
	q.events = append(q.events, event)
	return nil
}

func (q *MemoryQueue) DequeueBatch(maxCount int) ([]ScanEvent, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil, ErrQueueClosed
	}
	if maxCount <= 0 || len(q.events) == 0 {
		return nil, nil
	}
	if maxCount > len(q.events) {
		maxCount = len(q.events)
	}
	batch := make([]ScanEvent, maxCount)
	copy(batch, q.events[:maxCount])
	return batch, nil
}

func (q *MemoryQueue) Compact(removeCount int) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrQueueClosed
	}
	if removeCount <= 0 {
		return nil
	}
	if removeCount > len(q.events) {
		removeCount = len(q.events)
	}
	q.events = append([]ScanEvent(nil), q.events[removeCount:]...)
	return nil
}

func (q *MemoryQueue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}

func (q *MemoryQueue) Clear() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrQueueClosed
	}
	q.events = nil
	return nil
}

func (q *MemoryQueue) Diagnostics() (QueueDiagnostics, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return QueueDiagnostics{
		CachedSize:    len(q.events),
		FileLineCount: len(q.events),
	}, nil
}

func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	return nil
}
