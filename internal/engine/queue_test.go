package engine

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/rxvault/internal/remote"
)

func doc(id string) remote.Document {
	return remote.Document{ID: id}
}

func TestInboundQueue_FIFO(t *testing.T) {
	q := newInboundQueue()
	require.True(t, q.Enqueue(doc("A"), doc("B")))
	require.True(t, q.Enqueue(doc("C")))
	assert.Equal(t, 3, q.Len())

	for _, want := range []string{"A", "B", "C"} {
		got, ok := q.TryDequeue()
		require.True(t, ok)
		assert.Equal(t, want, got.ID)
	}
	_, ok := q.TryDequeue()
	assert.False(t, ok)
	assert.Equal(t, 0, q.Len())
}

func TestInboundQueue_WaitSignals(t *testing.T) {
	q := newInboundQueue()
	go func() {
		time.Sleep(10 * time.Millisecond)
		q.Enqueue(doc("late"))
	}()

	select {
	case <-q.Wait():
	case <-time.After(time.Second):
		t.Fatal("no signal after enqueue")
	}
	got, ok := q.TryDequeue()
	require.True(t, ok)
	assert.Equal(t, "late", got.ID)
}

func TestInboundQueue_Close(t *testing.T) {
	q := newInboundQueue()
	q.Close()
	q.Close()

	assert.False(t, q.Enqueue(doc("after")))
	select {
	case _, open := <-q.Wait():
		assert.False(t, open, "closed queue wakes waiters")
	case <-time.After(time.Second):
		t.Fatal("close did not wake waiters")
	}
}

func TestInboundQueue_ManyProducers(t *testing.T) {
	q := newInboundQueue()
	const producers, perProducer = 8, 100

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				q.Enqueue(doc(fmt.Sprintf("%d-%d", p, i)))
			}
		}(p)
	}
	wg.Wait()

	// Per-producer order survives interleaving.
	last := make(map[string]int)
	n := 0
	for {
		d, ok := q.TryDequeue()
		if !ok {
			break
		}
		p, seq, _ := strings.Cut(d.ID, "-")
		i, err := strconv.Atoi(seq)
		require.NoError(t, err)
		if prev, seen := last[p]; seen {
			assert.Greater(t, i, prev)
		}
		last[p] = i
		n++
	}
	assert.Equal(t, producers*perProducer, n)
}
