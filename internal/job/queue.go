package job

import (
	"context"
	"sync"
)

// Queue is a FIFO of job specs.
type Queue interface {
	Push(ctx context.Context, spec Spec) error
	// Pop removes the oldest spec. ok is false when the queue is empty.
	Pop(ctx context.Context) (spec Spec, ok bool, err error)
	Len(ctx context.Context) (int, error)
}

// MemoryQueue is an in-process Queue.
type MemoryQueue struct {
	mu    sync.Mutex
	specs []Spec
}

func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{}
}

func (q *MemoryQueue) Push(_ context.Context, spec Spec) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.specs = append(q.specs, spec.WithID())
	return nil
}

func (q *MemoryQueue) Pop(_ context.Context) (Spec, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.specs) == 0 {
		return Spec{}, false, nil
	}
	s := q.specs[0]
	q.specs[0] = Spec{}
	q.specs = q.specs[1:]
	return s, true, nil
}

func (q *MemoryQueue) Len(_ context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.specs), nil
}
