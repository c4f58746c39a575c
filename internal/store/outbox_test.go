package store

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/rxvault/internal/model"
)

func TestLocalWritesStageDeltasInOrder(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	putMedicine(t, s, "m1", "Metformin", 20)
	putPrescription(t, s, "p1", "Metformin")
	require.NoError(t, s.DeleteMedicine(ctx, "m1"))

	deltas, err := s.PendingDeltas(ctx, 10)
	require.NoError(t, err)
	require.Len(t, deltas, 3)

	assert.Equal(t, model.CollectionMedicines, deltas[0].Collection)
	assert.Equal(t, model.OpPut, deltas[0].Op)
	assert.Contains(t, deltas[0].Payload, `"name":"Metformin"`)
	assert.Contains(t, deltas[0].Payload, `"stock":20`)

	assert.Equal(t, model.CollectionPrescriptions, deltas[1].Collection)
	assert.Contains(t, deltas[1].Payload, `"status":"Active"`)

	assert.Equal(t, model.OpDelete, deltas[2].Op)
	assert.Equal(t, "m1", deltas[2].EntityID)
	assert.Empty(t, deltas[2].Payload)

	assert.Less(t, deltas[0].Seq, deltas[1].Seq)
	assert.Less(t, deltas[1].Seq, deltas[2].Seq)
}

func TestNotifierFiresAfterCommit(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	var calls atomic.Int32
	s.SetNotifier(func() { calls.Add(1) })

	putMedicine(t, s, "m1", "Metformin", 20)
	assert.Equal(t, int32(1), calls.Load())

	_, err := s.PutMedicine(ctx, model.Medicine{ID: "m2", Name: "Bad", Stock: -5})
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load(), "failed writes do not wake the pusher")

	require.NoError(t, s.SetThreshold(ctx, SettingMinimumStock, 5))
	assert.Equal(t, int32(1), calls.Load(), "settings are not synced")
}

func TestOutboxFailureDoesNotFailWrite(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.DB().Exec("DROP TABLE outbox")
	require.NoError(t, err)

	m, err := s.PutMedicine(ctx, model.Medicine{ID: "m1", Name: "Metformin", Stock: 3})
	require.NoError(t, err)
	assert.Equal(t, int64(3), m.Stock)

	got, err := s.GetMedicine(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, "Metformin", got.Name)
}

func TestUpdateRollsBackEverything(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	boom := errors.New("boom")
	err := s.Update(ctx, func(tx *Tx) error {
		if _, err := tx.PutMedicine(ctx, model.Medicine{ID: "m1", Name: "Metformin", Stock: 3}); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	_, err = s.GetMedicine(ctx, "m1")
	assert.True(t, IsNotFound(err))
	assert.Equal(t, 0, outboxLen(t, s))
}

func TestAckDeltaRecordsRemoteVersion(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	putMedicine(t, s, "m1", "Metformin", 20)
	deltas, err := s.PendingDeltas(ctx, 10)
	require.NoError(t, err)
	require.Len(t, deltas, 1)

	require.NoError(t, s.AckDelta(ctx, deltas[0], 7))
	assert.Equal(t, 0, outboxLen(t, s))

	got, err := s.GetMedicine(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, int64(7), got.RemoteVersion)

	// A later local edit keeps the acknowledged version.
	got.Stock = 19
	edited, err := s.PutMedicine(ctx, got)
	require.NoError(t, err)
	assert.Equal(t, int64(7), edited.RemoteVersion)
}

func TestDeferDelta(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	putMedicine(t, s, "m1", "Metformin", 20)
	deltas, err := s.PendingDeltas(ctx, 10)
	require.NoError(t, err)

	next := time.Date(2025, 7, 25, 10, 0, 0, 0, time.UTC)
	require.NoError(t, s.DeferDelta(ctx, deltas[0].Seq, 3, next, "unavailable"))

	deltas, err = s.PendingDeltas(ctx, 10)
	require.NoError(t, err)
	require.Len(t, deltas, 1)
	assert.Equal(t, 3, deltas[0].Attempts)
	assert.True(t, next.Equal(deltas[0].NextAttemptAt))

	require.NoError(t, s.DropDelta(ctx, deltas[0].Seq))
	assert.Equal(t, 0, outboxLen(t, s))
}
