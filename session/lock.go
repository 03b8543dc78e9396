package session

import (
	"context"
	"sync"
)

// queueLock is a fair FIFO mutex built from a chain of gates: each operation
// waits on the previous one's gate before proceeding. This preserves "at most
// one operation in flight per session" and completion order.
type queueLock struct {
	mux  sync.Mutex
	tail chan struct{}
}

// Run executes fn once every previously queued operation has completed. A
// cancelled ctx aborts the wait without running fn; the chain still releases
// for successors.
func (q *queueLock) Run(ctx context.Context, fn func() error) error {
	q.mux.Lock()
	prev := q.tail
	gate := make(chan struct{})
	q.tail = gate
	q.mux.Unlock()

	if prev != nil {
		select {
		case <-prev:
		case <-ctx.Done():
			go func() {
				<-prev
				close(gate)
			}()
			return ctx.Err()
		}
	}
	defer close(gate)
	return fn()
}

// Run serializes fn against all other operations on this session.
func (s *Session) Run(ctx context.Context, fn func() error) error {
	return s.lock.Run(ctx, fn)
}
