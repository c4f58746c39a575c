package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/rxvault/internal/model"
)

func bindingFor(id, tagID string, p model.Prescription) model.TagBinding {
	return model.SnapshotPrescription(id, tagID, p, p.CreatedAt)
}

func TestPutBinding_SupersedesPreviousLiveBinding(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	p1 := putPrescription(t, s, "p1", "Metformin")
	p2 := putPrescription(t, s, "p2", "Amoxicillin")

	_, err := s.PutBinding(ctx, bindingFor("b1", "RFID001", p1))
	require.NoError(t, err)
	_, err = s.PutBinding(ctx, bindingFor("b2", "RFID001", p2))
	require.NoError(t, err)

	live, err := s.ActiveBinding(ctx, "RFID001")
	require.NoError(t, err)
	assert.Equal(t, "b2", live.ID)
	assert.Equal(t, "Amoxicillin", live.Medication)

	old, err := s.GetBinding(ctx, "b1")
	require.NoError(t, err, "superseded bindings are kept")
	require.NotNil(t, old.SupersededAt)
	assert.False(t, old.Active())

	history, err := s.ListBindings(ctx, BindingFilter{TagID: "RFID001"})
	require.NoError(t, err)
	assert.Len(t, history, 2)
}

func TestPutBinding_SupersededCannotBecomeLive(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	p := putPrescription(t, s, "p1", "Metformin")
	b1, err := s.PutBinding(ctx, bindingFor("b1", "RFID001", p))
	require.NoError(t, err)
	_, err = s.PutBinding(ctx, bindingFor("b2", "RFID001", p))
	require.NoError(t, err)

	b1.SupersededAt = nil
	_, err = s.PutBinding(ctx, b1)
	assert.True(t, IsInvalidTransition(err))
}

func TestMarkDispensed_OnlyOnce(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	p := putPrescription(t, s, "p1", "Metformin")
	_, err := s.PutBinding(ctx, bindingFor("b1", "RFID001", p))
	require.NoError(t, err)

	var marked model.TagBinding
	err = s.Update(ctx, func(tx *Tx) error {
		var err error
		marked, err = tx.MarkDispensed(ctx, "b1", "pharm1")
		return err
	})
	require.NoError(t, err)
	assert.True(t, marked.IsDispensed)
	assert.Equal(t, "pharm1", marked.DispensedBy)
	require.NotNil(t, marked.DispensedAt)

	err = s.Update(ctx, func(tx *Tx) error {
		_, err := tx.MarkDispensed(ctx, "b1", "pharm2")
		return err
	})
	assert.True(t, IsInvalidTransition(err))

	_, err = s.ActiveBinding(ctx, "RFID001")
	assert.True(t, IsNotFound(err), "a dispensed binding is not live")

	got, err := s.GetBinding(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, "pharm1", got.DispensedBy)
}

func TestPutBinding_DispensedCannotBeUndone(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	p := putPrescription(t, s, "p1", "Metformin")
	_, err := s.PutBinding(ctx, bindingFor("b1", "RFID001", p))
	require.NoError(t, err)
	require.NoError(t, s.Update(ctx, func(tx *Tx) error {
		_, err := tx.MarkDispensed(ctx, "b1", "pharm1")
		return err
	}))

	b := bindingFor("b1", "RFID001", p)
	_, err = s.PutBinding(ctx, b)
	assert.True(t, IsInvalidTransition(err))
}

func TestPutBinding_Validation(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.PutBinding(ctx, model.TagBinding{ID: "b1", PrescriptionID: "p1", Medication: "X"})
	assert.True(t, IsInvalidState(err), "tag id required")

	_, err = s.PutBinding(ctx, model.TagBinding{ID: "b1", TagID: "T", Medication: "X"})
	assert.True(t, IsInvalidState(err), "prescription id required")

	_, err = s.PutBinding(ctx, model.TagBinding{
		ID: "b1", TagID: "T", PrescriptionID: "p1", Medication: "X", DispensedBy: "pharm1",
	})
	assert.True(t, IsInvalidState(err), "dispense details without the flag")
}

func TestListBindings_DispensedOnly(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	p := putPrescription(t, s, "p1", "Metformin")
	_, err := s.PutBinding(ctx, bindingFor("b1", "T1", p))
	require.NoError(t, err)
	_, err = s.PutBinding(ctx, bindingFor("b2", "T2", p))
	require.NoError(t, err)
	require.NoError(t, s.Update(ctx, func(tx *Tx) error {
		_, err := tx.MarkDispensed(ctx, "b2", "pharm1")
		return err
	}))

	done, err := s.ListBindings(ctx, BindingFilter{DispensedOnly: true})
	require.NoError(t, err)
	require.Len(t, done, 1)
	assert.Equal(t, "b2", done[0].ID)

	byPharm, err := s.ListBindings(ctx, BindingFilter{DispensedBy: "pharm1"})
	require.NoError(t, err)
	assert.Len(t, byPharm, 1)
}
