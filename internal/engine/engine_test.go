package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/rxvault/internal/mirror"
	"github.com/roach88/rxvault/internal/model"
	"github.com/roach88/rxvault/internal/remote"
	"github.com/roach88/rxvault/internal/remote/memory"
	"github.com/roach88/rxvault/internal/store"
	"github.com/roach88/rxvault/internal/testutil"
)

// wallClock is a settable time source for backoff scheduling.
type wallClock struct {
	mu  sync.Mutex
	now time.Time
}

func newWallClock() *wallClock {
	return &wallClock{now: testutil.DefaultStart.Add(time.Hour)}
}

func (c *wallClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *wallClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

var testConfig = Config{
	RequestTimeout: time.Second,
	BaseBackoff:    time.Second,
	MaxBackoff:     time.Minute,
	PollInterval:   50 * time.Millisecond,
}

type fixture struct {
	store  *store.Store
	client *memory.Client
	clock  *wallClock
	engine *Engine
}

func newFixture(t *testing.T, log mirror.Log, opts ...memory.Option) *fixture {
	t.Helper()
	opts = append([]memory.Option{memory.WithWaitWindow(10 * time.Millisecond)}, opts...)
	f := &fixture{
		store:  testutil.OpenStore(t),
		client: memory.New(log, opts...),
		clock:  newWallClock(),
	}
	f.engine = New(f.store, f.client, testConfig, WithWallClock(f.clock.Now))
	return f
}

// run starts the engine in the background and stops it when the test ends.
func (f *fixture) run(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.engine.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Error("engine did not stop")
		}
	})
}

func putDoc(t *testing.T, e model.Entity, version int64) remote.Document {
	t.Helper()
	d, err := model.NewPutDelta(e, time.Time{})
	require.NoError(t, err)
	doc, err := remote.Encode(d)
	require.NoError(t, err)
	doc.Version = version
	return doc
}

func deleteDoc(t *testing.T, c model.Collection, id string, version int64) remote.Document {
	t.Helper()
	doc, err := remote.Encode(model.NewDeleteDelta(c, id, time.Time{}))
	require.NoError(t, err)
	doc.Version = version
	return doc
}

func medicine(id string, stock int64) model.Medicine {
	return model.Medicine{
		ID: id, Name: "Metformin", Dosage: "500mg", Stock: stock, Unit: "tablet",
		ExpiryDate: model.MustParseDate("2026-12-31"),
	}
}

func states(h []Transition) []State {
	out := []State{StateUninitialized}
	for _, tr := range h {
		out = append(out, tr.To)
	}
	return out
}

func TestStart_InitFailureDisables(t *testing.T) {
	f := newFixture(t, mirror.NewMemoryLog())
	f.client.SetDown(true)

	assert.Equal(t, StateDisabled, f.engine.Start(context.Background()))
	assert.Equal(t, []State{StateUninitialized, StateDisabled}, states(f.engine.History()))

	// Run on a disabled engine returns at once and the store stays usable.
	require.NoError(t, f.engine.Run(context.Background()))
	testutil.SeedMedicine(t, f.store, "Metformin", 5)
}

func TestStart_SignInFailureDegradesToAnonymousReads(t *testing.T) {
	f := newFixture(t, mirror.NewMemoryLog(), memory.WithAnonymousReads(true))
	f.client.FailSignIn(true)

	assert.Equal(t, StateSyncing, f.engine.Start(context.Background()))
	assert.Equal(t, []State{StateUninitialized, StateAuthenticating, StateSyncing}, states(f.engine.History()))
}

func TestStart_NoListenerDisables(t *testing.T) {
	f := newFixture(t, mirror.NewMemoryLog())
	f.client.FailSignIn(true)

	assert.Equal(t, StateDisabled, f.engine.Start(context.Background()))
	assert.Equal(t, []State{StateUninitialized, StateAuthenticating, StateDisabled}, states(f.engine.History()))
}

func TestStart_RunsOnce(t *testing.T) {
	f := newFixture(t, mirror.NewMemoryLog())
	ctx := context.Background()
	require.Equal(t, StateSyncing, f.engine.Start(ctx))
	require.Equal(t, StateSyncing, f.engine.Start(ctx))
	assert.Len(t, f.engine.History(), 2)
}

func TestStart_ReusesStoredIdentity(t *testing.T) {
	f := newFixture(t, mirror.NewMemoryLog())
	ctx := context.Background()
	require.Equal(t, StateSyncing, f.engine.Start(ctx))

	first, ok, err := f.store.LoadIdentity(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, f.client.Identity().UID, first.UID)

	// A restarted engine over the same store keeps its uid.
	again := New(f.store, f.client, testConfig, WithWallClock(f.clock.Now))
	require.Equal(t, StateSyncing, again.Start(ctx))
	second, _, err := f.store.LoadIdentity(ctx)
	require.NoError(t, err)
	assert.Equal(t, first.UID, second.UID)
}

func TestPushPending_PushesInOrderAndAcks(t *testing.T) {
	log := mirror.NewMemoryLog()
	f := newFixture(t, log)
	ctx := context.Background()
	require.Equal(t, StateSyncing, f.engine.Start(ctx))

	testutil.SeedMedicine(t, f.store, "Metformin", 5)
	testutil.SeedMedicine(t, f.store, "Insulin", 2)

	stats, err := f.engine.PushPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, PushStats{Pushed: 2}, stats)

	n, err := f.store.OutboxLen(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	docs, err := log.Since(ctx, model.CollectionMedicines, 0, 0)
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "med-metformin", docs[0].ID)
	assert.Equal(t, "med-insulin", docs[1].ID)

	m, err := f.store.GetMedicine(ctx, "med-insulin")
	require.NoError(t, err)
	assert.Equal(t, int64(2), m.RemoteVersion, "ack records the mirror version")
}

func TestPushPending_DefersWithBackoffAndKeepsOrder(t *testing.T) {
	f := newFixture(t, mirror.NewMemoryLog())
	ctx := context.Background()
	require.Equal(t, StateSyncing, f.engine.Start(ctx))

	testutil.SeedMedicine(t, f.store, "Metformin", 5)
	testutil.SeedMedicine(t, f.store, "Insulin", 2)
	f.client.FailNextPushes(1)

	stats, err := f.engine.PushPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, PushStats{Deferred: 1}, stats, "a failed push stops the batch")

	pending, err := f.store.PendingDeltas(ctx, 0)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, 1, pending[0].Attempts)
	assert.True(t, pending[0].NextAttemptAt.Equal(f.clock.Now().Add(time.Second)))

	stats, err = f.engine.PushPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, PushStats{}, stats, "nothing is due yet")

	f.clock.Advance(2 * time.Second)
	stats, err = f.engine.PushPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, PushStats{Pushed: 2}, stats)
}

func TestPushPending_MirrorRefusalDropsDelta(t *testing.T) {
	f := newFixture(t, mirror.NewMemoryLog())
	ctx := context.Background()
	require.Equal(t, StateSyncing, f.engine.Start(ctx))

	testutil.SeedMedicine(t, f.store, "Metformin", 5)
	testutil.SeedMedicine(t, f.store, "Insulin", 2)
	f.client.Reject(model.CollectionMedicines, "med-metformin")

	stats, err := f.engine.PushPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, PushStats{Pushed: 1, Dropped: 1}, stats)

	var kinds []EventKind
	for len(f.engine.Events()) > 0 {
		kinds = append(kinds, (<-f.engine.Events()).Kind)
	}
	assert.Equal(t, []EventKind{EventPushRejected, EventPushed}, kinds)
}

func TestApply_RemoteChangeIsWritten(t *testing.T) {
	f := newFixture(t, mirror.NewMemoryLog())
	ctx := context.Background()

	require.NoError(t, f.engine.apply(ctx, putDoc(t, medicine("med-1", 7), 3)))

	m, err := f.store.GetMedicine(ctx, "med-1")
	require.NoError(t, err)
	assert.Equal(t, int64(7), m.Stock)
	assert.Equal(t, int64(3), m.RemoteVersion)

	cursor, err := f.store.Cursor(ctx, model.CollectionMedicines)
	require.NoError(t, err)
	assert.Equal(t, int64(3), cursor)

	n, err := f.store.OutboxLen(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "remote writes are not echoed")

	ev := <-f.engine.Events()
	assert.Equal(t, EventApplied, ev.Kind)
	assert.Equal(t, int64(3), ev.Version)
}

func TestApply_StaleVersionSkipped(t *testing.T) {
	f := newFixture(t, mirror.NewMemoryLog())
	ctx := context.Background()

	require.NoError(t, f.engine.apply(ctx, putDoc(t, medicine("med-1", 7), 2)))
	require.NoError(t, f.engine.apply(ctx, putDoc(t, medicine("med-1", 1), 1)))

	m, err := f.store.GetMedicine(ctx, "med-1")
	require.NoError(t, err)
	assert.Equal(t, int64(7), m.Stock)

	<-f.engine.Events()
	assert.Equal(t, EventSkipped, (<-f.engine.Events()).Kind)
}

func TestApply_PendingLocalChangeWins(t *testing.T) {
	f := newFixture(t, mirror.NewMemoryLog())
	ctx := context.Background()
	local := testutil.SeedMedicine(t, f.store, "Metformin", 5)

	remoteCopy := local
	remoteCopy.Stock = 99
	require.NoError(t, f.engine.apply(ctx, putDoc(t, remoteCopy, 1)))

	m, err := f.store.GetMedicine(ctx, local.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(5), m.Stock)
	assert.Equal(t, EventSkipped, (<-f.engine.Events()).Kind)
}

func TestApply_InvariantViolationIsRecorded(t *testing.T) {
	f := newFixture(t, mirror.NewMemoryLog())
	ctx := context.Background()

	require.NoError(t, f.engine.apply(ctx, putDoc(t, medicine("med-1", -4), 1)))

	_, err := f.store.GetMedicine(ctx, "med-1")
	assert.True(t, store.IsNotFound(err), "negative stock is never coerced")

	rejected, err := f.store.ListRejected(ctx, 0)
	require.NoError(t, err)
	require.Len(t, rejected, 1)
	assert.Equal(t, "med-1", rejected[0].EntityID)
	assert.Contains(t, rejected[0].Reason, "negative")

	cursor, err := f.store.Cursor(ctx, model.CollectionMedicines)
	require.NoError(t, err)
	assert.Equal(t, int64(1), cursor, "a rejected document is not fetched again")

	ev := <-f.engine.Events()
	assert.Equal(t, EventRejected, ev.Kind)
}

func TestApply_MalformedDocumentIsRecorded(t *testing.T) {
	f := newFixture(t, mirror.NewMemoryLog())
	ctx := context.Background()

	doc := putDoc(t, medicine("med-1", 4), 1)
	doc.Digest = "tampered"
	require.NoError(t, f.engine.apply(ctx, doc))

	rejected, err := f.store.ListRejected(ctx, 0)
	require.NoError(t, err)
	require.Len(t, rejected, 1)
	assert.Contains(t, rejected[0].Reason, "digest")
}

func TestApply_RemoteDelete(t *testing.T) {
	f := newFixture(t, mirror.NewMemoryLog())
	ctx := context.Background()

	require.NoError(t, f.engine.apply(ctx, putDoc(t, medicine("med-1", 4), 1)))
	require.NoError(t, f.engine.apply(ctx, deleteDoc(t, model.CollectionMedicines, "med-1", 2)))

	_, err := f.store.GetMedicine(ctx, "med-1")
	assert.True(t, store.IsNotFound(err))

	// Prescriptions are never deleted.
	require.NoError(t, f.engine.apply(ctx, deleteDoc(t, model.CollectionPrescriptions, "rx-1", 1)))
	rejected, err := f.store.ListRejected(ctx, 0)
	require.NoError(t, err)
	require.Len(t, rejected, 1)
	assert.Equal(t, model.CollectionPrescriptions, rejected[0].Collection)
}

func TestEvents_DroppedWhenFull(t *testing.T) {
	st := testutil.OpenStore(t)
	e := New(st, memory.New(mirror.NewMemoryLog()), testConfig, WithEventBuffer(1))
	ctx := context.Background()

	require.NoError(t, e.apply(ctx, putDoc(t, medicine("med-1", 1), 1)))
	require.NoError(t, e.apply(ctx, putDoc(t, medicine("med-1", 2), 2)))

	assert.Len(t, e.Events(), 1)
	assert.Equal(t, int64(1), (<-e.Events()).Version)
}

func TestRun_TwoDevicesConverge(t *testing.T) {
	log := mirror.NewMemoryLog()
	a := newFixture(t, log)
	b := newFixture(t, log)
	a.run(t)
	b.run(t)
	ctx := context.Background()

	require.Eventually(t, func() bool {
		return a.engine.State() == StateSyncing && b.engine.State() == StateSyncing
	}, 2*time.Second, 10*time.Millisecond)

	m := testutil.SeedMedicine(t, a.store, "Metformin", 12)

	require.Eventually(t, func() bool {
		got, err := b.store.GetMedicine(ctx, m.ID)
		return err == nil && got.Stock == 12
	}, 5*time.Second, 20*time.Millisecond)

	require.Eventually(t, func() bool {
		na, errA := a.store.OutboxLen(ctx)
		nb, errB := b.store.OutboxLen(ctx)
		return errA == nil && errB == nil && na == 0 && nb == 0
	}, 5*time.Second, 20*time.Millisecond)

	// B's edit flows back to A.
	edited := m
	edited.Stock = 3
	_, err := b.store.PutMedicine(ctx, edited)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		got, err := a.store.GetMedicine(ctx, m.ID)
		return err == nil && got.Stock == 3
	}, 5*time.Second, 20*time.Millisecond)
}

func TestBackoff(t *testing.T) {
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{7, 60 * time.Second},
		{40, 60 * time.Second},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, backoff(time.Second, time.Minute, tt.attempt), "attempt %d", tt.attempt)
	}
}
