package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/rxvault/internal/model"
)

func applyRemote(t *testing.T, s *Store, e model.Entity, version int64) (bool, error) {
	t.Helper()

	var applied bool
	err := s.Update(context.Background(), func(tx *Tx) error {
		var err error
		applied, err = tx.ApplyRemote(context.Background(), e, version)
		return err
	})
	return applied, err
}

func TestApplyRemote_WritesWithoutEcho(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	applied, err := applyRemote(t, s, model.Medicine{ID: "m1", Name: "Metformin", Stock: 4}, 3)
	require.NoError(t, err)
	assert.True(t, applied)

	got, err := s.GetMedicine(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, int64(4), got.Stock)
	assert.Equal(t, int64(3), got.RemoteVersion)
	assert.Equal(t, 0, outboxLen(t, s), "remote writes are not pushed back")
}

func TestApplyRemote_LastAppliedWinsByVersion(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := applyRemote(t, s, model.Medicine{ID: "m1", Name: "Metformin", Stock: 4}, 5)
	require.NoError(t, err)

	applied, err := applyRemote(t, s, model.Medicine{ID: "m1", Name: "Metformin", Stock: 99}, 4)
	require.NoError(t, err)
	assert.False(t, applied, "older version is skipped")

	applied, err = applyRemote(t, s, model.Medicine{ID: "m1", Name: "Metformin", Stock: 99}, 5)
	require.NoError(t, err)
	assert.False(t, applied, "same version is skipped")

	applied, err = applyRemote(t, s, model.Medicine{ID: "m1", Name: "Metformin", Stock: 6}, 6)
	require.NoError(t, err)
	assert.True(t, applied)

	got, err := s.GetMedicine(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, int64(6), got.Stock)
}

func TestApplyRemote_InvariantViolationLeavesNothing(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	putMedicine(t, s, "m1", "Metformin", 20)
	deltas, err := s.PendingDeltas(ctx, 10)
	require.NoError(t, err)
	require.NoError(t, s.AckDelta(ctx, deltas[0], 1))

	err = s.Update(ctx, func(tx *Tx) error {
		_, err := tx.ApplyRemote(ctx, model.Medicine{ID: "m1", Name: "Metformin", Stock: -3}, 2)
		require.True(t, IsInvalidState(err))
		require.True(t, IsInvariantViolation(err))

		// The transaction stays usable after the rejected apply.
		if err := tx.RecordRejected(ctx, RejectedDelta{
			Collection: model.CollectionMedicines, EntityID: "m1", Version: 2, Reason: err.Error(),
		}); err != nil {
			return err
		}
		return tx.AdvanceCursor(ctx, model.CollectionMedicines, 2)
	})
	require.NoError(t, err)

	got, err := s.GetMedicine(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, int64(20), got.Stock, "never silently coerced")

	rejected, err := s.ListRejected(ctx, 10)
	require.NoError(t, err)
	require.Len(t, rejected, 1)
	assert.Equal(t, "m1", rejected[0].EntityID)

	cursor, err := s.Cursor(ctx, model.CollectionMedicines)
	require.NoError(t, err)
	assert.Equal(t, int64(2), cursor)
}

func TestApplyRemote_PendingLocalChangeWins(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	putMedicine(t, s, "m1", "Metformin", 20)

	applied, err := applyRemote(t, s, model.Medicine{ID: "m1", Name: "Metformin", Stock: 1}, 9)
	require.NoError(t, err)
	assert.False(t, applied)

	got, err := s.GetMedicine(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, int64(20), got.Stock)
}

func TestApplyRemote_StatusMonotonic(t *testing.T) {
	s := openTestStore(t)

	p := model.Prescription{ID: "p1", Medication: "Metformin", Status: model.StatusDispensed}
	_, err := applyRemote(t, s, p, 1)
	require.NoError(t, err)

	p.Status = model.StatusActive
	_, err = applyRemote(t, s, p, 2)
	assert.True(t, IsInvalidTransition(err))
}

func TestApplyRemote_DispensedBindingStaysDispensed(t *testing.T) {
	s := openTestStore(t)

	b := model.TagBinding{ID: "b1", TagID: "T1", PrescriptionID: "p1", Medication: "Metformin", IsDispensed: true, DispensedBy: "pharm1"}
	_, err := applyRemote(t, s, b, 1)
	require.NoError(t, err)

	b.IsDispensed = false
	b.DispensedBy = ""
	_, err = applyRemote(t, s, b, 2)
	assert.True(t, IsInvalidTransition(err))
}

func TestApplyRemoteDelete(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := applyRemote(t, s, model.Medicine{ID: "m1", Name: "Metformin", Stock: 4}, 3)
	require.NoError(t, err)

	var applied bool
	err = s.Update(ctx, func(tx *Tx) error {
		var err error
		applied, err = tx.ApplyRemoteDelete(ctx, model.CollectionMedicines, "m1", 2)
		return err
	})
	require.NoError(t, err)
	assert.False(t, applied, "stale delete is skipped")

	err = s.Update(ctx, func(tx *Tx) error {
		var err error
		applied, err = tx.ApplyRemoteDelete(ctx, model.CollectionMedicines, "m1", 4)
		return err
	})
	require.NoError(t, err)
	assert.True(t, applied)

	_, err = s.GetMedicine(ctx, "m1")
	assert.True(t, IsNotFound(err))

	err = s.Update(ctx, func(tx *Tx) error {
		_, err := tx.ApplyRemoteDelete(ctx, model.CollectionTagBindings, "b1", 5)
		return err
	})
	assert.True(t, IsInvalidState(err), "bindings are never deleted")
}

func TestCursorOnlyAdvances(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	v, err := s.Cursor(ctx, model.CollectionMedicines)
	require.NoError(t, err)
	assert.Equal(t, int64(0), v)

	require.NoError(t, s.AdvanceCursor(ctx, model.CollectionMedicines, 10))
	require.NoError(t, s.AdvanceCursor(ctx, model.CollectionMedicines, 4))

	v, err = s.Cursor(ctx, model.CollectionMedicines)
	require.NoError(t, err)
	assert.Equal(t, int64(10), v)

	all, err := s.Cursors(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[model.Collection]int64{model.CollectionMedicines: 10}, all)
}

func TestIdentityRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, ok, err := s.LoadIdentity(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.SaveIdentity(ctx, SyncIdentity{UID: "u1", Token: "tok"}))
	id, ok, err := s.LoadIdentity(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, SyncIdentity{UID: "u1", Token: "tok"}, id)

	require.NoError(t, s.ClearIdentity(ctx))
	_, ok, err = s.LoadIdentity(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}
