package engine

import (
	"sync"

	"github.com/roach88/rxvault/internal/remote"
)

// inboundQueue is the FIFO between the listener goroutines and the
// applier.
//
// Unbounded so a listener catching up on a long backlog never blocks on a
// slow applier. Enqueue is safe from any goroutine; only the applier
// dequeues. Wait exposes a signal channel for context-aware waiting.
type inboundQueue struct {
	mu     sync.Mutex
	docs   []remote.Document
	closed bool
	signal chan struct{} // buffered, size 1
}

func newInboundQueue() *inboundQueue {
	return &inboundQueue{
		docs:   make([]remote.Document, 0, 64),
		signal: make(chan struct{}, 1),
	}
}

// Enqueue appends docs in order. Returns false if the queue is closed.
func (q *inboundQueue) Enqueue(docs ...remote.Document) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	q.docs = append(q.docs, docs...)

	// Buffer of 1 coalesces signals.
	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true
}

// TryDequeue removes the front document without blocking.
func (q *inboundQueue) TryDequeue() (remote.Document, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.docs) == 0 {
		return remote.Document{}, false
	}
	doc := q.docs[0]

	// Release the payload held by the backing array.
	q.docs[0] = remote.Document{}
	if len(q.docs) == 1 {
		q.docs = q.docs[:0]
	} else {
		q.docs = q.docs[1:]
	}
	return doc, true
}

// Wait returns a channel that signals when documents may be available.
func (q *inboundQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the number of queued documents.
func (q *inboundQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.docs)
}

// Close stops further enqueues and wakes any waiter.
func (q *inboundQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.signal)
}
