package store

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/rxvault/internal/model"
)

// tickClock advances one second per reading so successive writes get
// distinct, predictable timestamps.
type tickClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTickClock() *tickClock {
	return &tickClock{t: time.Date(2025, 7, 25, 9, 0, 0, 0, time.UTC)}
}

func (c *tickClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Second)
	return c.t
}

func openTestStore(t *testing.T, opts ...Option) *Store {
	t.Helper()

	opts = append([]Option{WithClock(newTickClock().Now)}, opts...)
	s, err := Open(filepath.Join(t.TempDir(), "test.db"), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func putMedicine(t *testing.T, s *Store, id, name string, stock int64) model.Medicine {
	t.Helper()

	m, err := s.PutMedicine(context.Background(), model.Medicine{
		ID:         id,
		Name:       name,
		Dosage:     "500mg",
		Stock:      stock,
		Unit:       "tablet",
		ExpiryDate: model.MustParseDate("2026-01-01"),
	})
	require.NoError(t, err)
	return m
}

func putPrescription(t *testing.T, s *Store, id, medication string) model.Prescription {
	t.Helper()

	p, err := s.PutPrescription(context.Background(), model.Prescription{
		ID:          id,
		PatientID:   "pat-1",
		PatientName: "Ada Lovelace",
		Medication:  medication,
		Dosage:      "500mg",
		Frequency:   "twice daily",
		Duration:    "7 days",
		DoctorID:    "doc-1",
		DoctorName:  "Dr. Grey",
	})
	require.NoError(t, err)
	return p
}

func outboxLen(t *testing.T, s *Store) int {
	t.Helper()

	n, err := s.OutboxLen(context.Background())
	require.NoError(t, err)
	return n
}
