package testutil

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/rxvault/internal/model"
	"github.com/roach88/rxvault/internal/store"
)

// OpenStore opens a store in a fresh temp directory, stamped by a
// DeterministicClock unless opts set another clock. The store is closed
// when the test ends.
func OpenStore(t testing.TB, opts ...store.Option) *store.Store {
	t.Helper()

	clock := NewDeterministicClock(DefaultStart, 0)
	opts = append([]store.Option{store.WithClock(clock.Now)}, opts...)

	s, err := store.Open(filepath.Join(t.TempDir(), "rxvault.db"), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// SeedMedicine stores a medicine with the given stock, id derived from the
// name ("med-metformin").
func SeedMedicine(t testing.TB, s *store.Store, name string, stock int64) model.Medicine {
	t.Helper()

	m, err := s.PutMedicine(context.Background(), model.Medicine{
		ID:         "med-" + model.NameKey(name),
		Name:       name,
		Dosage:     "500mg",
		Stock:      stock,
		Unit:       "tablet",
		ExpiryDate: model.MustParseDate("2026-12-31"),
		PriceCents: 250,
	})
	require.NoError(t, err)
	return m
}

// SeedPrescription stores an Active prescription for medication.
func SeedPrescription(t testing.TB, s *store.Store, id, medication string) model.Prescription {
	t.Helper()

	p, err := s.PutPrescription(context.Background(), model.Prescription{
		ID:           id,
		PatientID:    "pat-1",
		PatientName:  "Ada Lovelace",
		Medication:   medication,
		Dosage:       "500mg",
		Frequency:    "twice daily",
		Duration:     "7 days",
		Instructions: "take with food",
		DoctorID:     "doc-1",
		DoctorName:   "Dr. Grey",
	})
	require.NoError(t, err)
	return p
}
