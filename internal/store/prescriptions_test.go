package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/rxvault/internal/model"
)

func TestPutPrescription_DefaultsToActive(t *testing.T) {
	s := openTestStore(t)

	p := putPrescription(t, s, "PRE100", "Metformin")
	assert.Equal(t, model.StatusActive, p.Status)

	got, err := s.GetPrescription(context.Background(), "PRE100")
	require.NoError(t, err)
	assert.Equal(t, model.StatusActive, got.Status)
	assert.Equal(t, "Dr. Grey", got.DoctorName)
}

func TestPutPrescription_EditKeepsStatus(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	p := putPrescription(t, s, "PRE100", "Metformin")
	_, err := s.SetPrescriptionStatus(ctx, "PRE100", model.StatusApproved)
	require.NoError(t, err)

	// An edit that leaves Status empty keeps the stored status.
	p.Status = ""
	p.Instructions = "with food"
	edited, err := s.PutPrescription(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, model.StatusApproved, edited.Status)
}

func TestSetPrescriptionStatus_ForwardOnly(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	putPrescription(t, s, "PRE100", "Metformin")

	p, err := s.SetPrescriptionStatus(ctx, "PRE100", model.StatusRejected)
	require.NoError(t, err)
	assert.Equal(t, model.StatusRejected, p.Status)

	// Re-asserting is a no-op.
	_, err = s.SetPrescriptionStatus(ctx, "PRE100", model.StatusRejected)
	require.NoError(t, err)

	for _, next := range []model.PrescriptionStatus{model.StatusActive, model.StatusApproved, model.StatusDispensed} {
		_, err := s.SetPrescriptionStatus(ctx, "PRE100", next)
		assert.True(t, IsInvalidTransition(err), "Rejected -> %s", next)
	}

	got, err := s.GetPrescription(ctx, "PRE100")
	require.NoError(t, err)
	assert.Equal(t, model.StatusRejected, got.Status)
}

func TestSetPrescriptionStatus_UnknownStatus(t *testing.T) {
	s := openTestStore(t)
	putPrescription(t, s, "PRE100", "Metformin")

	_, err := s.SetPrescriptionStatus(context.Background(), "PRE100", "Pending")
	assert.True(t, IsInvalidState(err))
}

func TestSetPrescriptionStatus_NotFound(t *testing.T) {
	s := openTestStore(t)

	_, err := s.SetPrescriptionStatus(context.Background(), "nope", model.StatusApproved)
	assert.True(t, IsNotFound(err))
}

func TestListPrescriptions_Filters(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	putPrescription(t, s, "p1", "Metformin")
	putPrescription(t, s, "p2", "Amoxicillin")
	putPrescription(t, s, "p3", "metformin")
	_, err := s.SetPrescriptionStatus(ctx, "p3", model.StatusApproved)
	require.NoError(t, err)

	all, err := s.ListPrescriptions(ctx, PrescriptionFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 3)
	assert.Equal(t, "p1", all[0].ID, "oldest first")

	active, err := s.ListPrescriptions(ctx, PrescriptionFilter{Status: model.StatusActive})
	require.NoError(t, err)
	assert.Len(t, active, 2)

	met, err := s.ListPrescriptions(ctx, PrescriptionFilter{Medication: "METFORMIN"})
	require.NoError(t, err)
	assert.Len(t, met, 2)

	none, err := s.ListPrescriptions(ctx, PrescriptionFilter{PatientID: "nobody"})
	require.NoError(t, err)
	assert.NotNil(t, none)
	assert.Empty(t, none)
}

func TestListPrescriptions_MedicationMatchesNameKey(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	// Decomposed accent and doubled inner space, as a label scanner may send.
	putPrescription(t, s, "p1", "Ce\u0301fixime  Oral")
	putPrescription(t, s, "p2", "Cefixime Oral")

	_, err := s.PutMedicine(ctx, model.Medicine{ID: "m1", Name: "C\u00e9fixime Oral", Stock: 5})
	require.NoError(t, err)

	for _, query := range []string{"C\u00c9FIXIME ORAL", "  c\u00e9fixime oral ", "Ce\u0301fixime Oral"} {
		got, err := s.ListPrescriptions(ctx, PrescriptionFilter{Medication: query})
		require.NoError(t, err)
		require.Len(t, got, 1, "query %q", query)
		assert.Equal(t, "p1", got[0].ID)

		// The filter and the medicine lookup agree on what the name means.
		med, err := s.MedicineByName(ctx, query)
		require.NoError(t, err)
		assert.Equal(t, "m1", med.ID)
	}
}
