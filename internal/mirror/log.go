package mirror

import (
	"context"
	"fmt"
	"sync"

	"github.com/roach88/rxvault/internal/model"
	"github.com/roach88/rxvault/internal/remote"
)

// DefaultPageSize bounds one Since read when no limit is given.
const DefaultPageSize = 100

// Log is the versioned document store behind the mirror.
//
// Each collection is append-only. Append assigns the next version in the
// document's collection, except that a document whose digest equals the
// latest version of the same id is not appended again: Append returns the
// stored version instead.
type Log interface {
	Append(ctx context.Context, doc remote.Document) (remote.Document, error)

	// Since returns up to limit documents of c with a version above since,
	// in version order. Returns empty slice (not nil) if nothing is newer.
	Since(ctx context.Context, c model.Collection, since int64, limit int) ([]remote.Document, error)

	// Head returns the highest version in c, or 0 for an empty collection.
	Head(ctx context.Context, c model.Collection) (int64, error)

	// Wait blocks until c has a version above since or ctx is done.
	Wait(ctx context.Context, c model.Collection, since int64) error

	Close() error
}

// Broadcast wakes every waiter at once. Each Notify closes the current
// channel and installs a fresh one.
type Broadcast struct {
	mu sync.Mutex
	ch chan struct{}
}

// NewBroadcast creates a Broadcast with no pending notification.
func NewBroadcast() *Broadcast {
	return &Broadcast{ch: make(chan struct{})}
}

// C returns a channel closed by the next Notify.
func (b *Broadcast) C() <-chan struct{} {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ch
}

// Notify wakes all current waiters.
func (b *Broadcast) Notify() {
	b.mu.Lock()
	defer b.mu.Unlock()
	close(b.ch)
	b.ch = make(chan struct{})
}

// WaitFor blocks until head reports a version above since. head is
// re-checked after every notification.
func WaitFor(ctx context.Context, b *Broadcast, since int64, head func(context.Context) (int64, error)) error {
	for {
		// Take the channel before reading head so an append between the
		// two cannot be missed.
		ch := b.C()
		h, err := head(ctx)
		if err != nil {
			return err
		}
		if h > since {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ch:
		}
	}
}

// MemoryLog is a Log held in process memory. It is safe for concurrent use.
type MemoryLog struct {
	mu     sync.RWMutex
	docs   map[model.Collection][]remote.Document
	latest map[model.Collection]map[string]int // id -> index into docs
	wake   *Broadcast
}

// NewMemoryLog creates an empty MemoryLog.
func NewMemoryLog() *MemoryLog {
	return &MemoryLog{
		docs:   make(map[model.Collection][]remote.Document),
		latest: make(map[model.Collection]map[string]int),
		wake:   NewBroadcast(),
	}
}

func (l *MemoryLog) Append(_ context.Context, doc remote.Document) (remote.Document, error) {
	if doc.Collection == "" || doc.ID == "" {
		return remote.Document{}, fmt.Errorf("append: collection and id are required")
	}

	l.mu.Lock()
	ids := l.latest[doc.Collection]
	if ids == nil {
		ids = make(map[string]int)
		l.latest[doc.Collection] = ids
	}
	if i, ok := ids[doc.ID]; ok && l.docs[doc.Collection][i].Digest == doc.Digest {
		prev := l.docs[doc.Collection][i]
		l.mu.Unlock()
		return prev, nil
	}

	doc.Version = int64(len(l.docs[doc.Collection])) + 1
	l.docs[doc.Collection] = append(l.docs[doc.Collection], doc)
	ids[doc.ID] = len(l.docs[doc.Collection]) - 1
	l.mu.Unlock()

	l.wake.Notify()
	return doc, nil
}

func (l *MemoryLog) Since(_ context.Context, c model.Collection, since int64, limit int) ([]remote.Document, error) {
	if limit <= 0 {
		limit = DefaultPageSize
	}
	if since < 0 {
		since = 0
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	docs := l.docs[c]
	out := []remote.Document{}
	// Versions are dense from 1, so version v sits at index v-1.
	for i := int(since); i < len(docs) && len(out) < limit; i++ {
		out = append(out, docs[i])
	}
	return out, nil
}

func (l *MemoryLog) Head(_ context.Context, c model.Collection) (int64, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return int64(len(l.docs[c])), nil
}

func (l *MemoryLog) Wait(ctx context.Context, c model.Collection, since int64) error {
	return WaitFor(ctx, l.wake, since, func(ctx context.Context) (int64, error) {
		return l.Head(ctx, c)
	})
}

func (l *MemoryLog) Close() error {
	return nil
}
