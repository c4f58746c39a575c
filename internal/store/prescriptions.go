package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/roach88/rxvault/internal/model"
)

const prescriptionColumns = `id, patient_id, patient_name, medication, dosage, frequency, duration,
	instructions, doctor_id, doctor_name, status, created_at, updated_at, remote_version`

// PrescriptionFilter narrows ListPrescriptions. Empty fields match everything.
type PrescriptionFilter struct {
	Status     model.PrescriptionStatus
	PatientID  string
	DoctorID   string
	Medication string
}

func getPrescription(ctx context.Context, q sqlx.QueryerContext, id string) (model.Prescription, error) {
	var p model.Prescription
	err := sqlx.GetContext(ctx, q, &p, `SELECT `+prescriptionColumns+` FROM prescriptions WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Prescription{}, notFound(model.CollectionPrescriptions, id)
	}
	if err != nil {
		return model.Prescription{}, fmt.Errorf("get prescription: %w", err)
	}
	return p, nil
}

// GetPrescription returns the prescription with the given id.
func (s *Store) GetPrescription(ctx context.Context, id string) (model.Prescription, error) {
	return getPrescription(ctx, s.db, id)
}

// ListPrescriptions returns prescriptions oldest first.
// Returns empty slice (not nil) if nothing matches.
func (s *Store) ListPrescriptions(ctx context.Context, f PrescriptionFilter) ([]model.Prescription, error) {
	var (
		where []string
		args  []any
	)
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, f.Status)
	}
	if f.PatientID != "" {
		where = append(where, "patient_id = ?")
		args = append(args, f.PatientID)
	}
	if f.DoctorID != "" {
		where = append(where, "doctor_id = ?")
		args = append(args, f.DoctorID)
	}

	query := `SELECT ` + prescriptionColumns + ` FROM prescriptions`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY created_at ASC, id ASC`

	out := []model.Prescription{}
	if err := s.db.SelectContext(ctx, &out, query, args...); err != nil {
		return nil, fmt.Errorf("list prescriptions: %w", err)
	}
	if f.Medication == "" {
		return out, nil
	}

	// Medication matches on the same key medicines are looked up by.
	key := model.NameKey(f.Medication)
	matched := out[:0]
	for _, p := range out {
		if model.NameKey(p.Medication) == key {
			matched = append(matched, p)
		}
	}
	return matched, nil
}

// PutPrescription creates or replaces a prescription.
func (s *Store) PutPrescription(ctx context.Context, p model.Prescription) (model.Prescription, error) {
	return update(ctx, s, func(tx *Tx) (model.Prescription, error) {
		return tx.PutPrescription(ctx, p)
	})
}

// SetPrescriptionStatus moves a prescription to status.
func (s *Store) SetPrescriptionStatus(ctx context.Context, id string, status model.PrescriptionStatus) (model.Prescription, error) {
	return update(ctx, s, func(tx *Tx) (model.Prescription, error) {
		return tx.SetPrescriptionStatus(ctx, id, status)
	})
}

// GetPrescription returns the prescription with the given id.
func (t *Tx) GetPrescription(ctx context.Context, id string) (model.Prescription, error) {
	return getPrescription(ctx, t.tx, id)
}

// PutPrescription creates or replaces a prescription and stages its delta.
//
// A new prescription without a status starts Active. A status change must
// be forward-only (Active to a terminal status), otherwise the write fails
// with KindInvalidTransition.
func (t *Tx) PutPrescription(ctx context.Context, p model.Prescription) (model.Prescription, error) {
	out, _, err := t.putPrescription(ctx, p, localWrite)
	return out, err
}

// SetPrescriptionStatus moves a prescription to status, enforcing the
// forward-only lifecycle.
func (t *Tx) SetPrescriptionStatus(ctx context.Context, id string, status model.PrescriptionStatus) (model.Prescription, error) {
	p, err := getPrescription(ctx, t.tx, id)
	if err != nil {
		return model.Prescription{}, err
	}
	p.Status = status
	return t.PutPrescription(ctx, p)
}

func (t *Tx) putPrescription(ctx context.Context, p model.Prescription, w write) (model.Prescription, bool, error) {
	c := model.CollectionPrescriptions
	p.Medication = strings.TrimSpace(p.Medication)
	if p.ID == "" {
		return model.Prescription{}, false, invalidState(c, "", "id is required")
	}
	if p.Medication == "" {
		return model.Prescription{}, false, invalidState(c, p.ID, "medication is required")
	}

	existing, err := getPrescription(ctx, t.tx, p.ID)
	existed := err == nil
	if err != nil && !IsNotFound(err) {
		return model.Prescription{}, false, err
	}
	if w.stale(existed, existing.RemoteVersion) {
		return existing, false, nil
	}

	if p.Status == "" {
		if existed {
			p.Status = existing.Status
		} else {
			p.Status = model.StatusActive
		}
	}
	status, err := model.ParseStatus(string(p.Status))
	if err != nil {
		return model.Prescription{}, false, invalidState(c, p.ID, "%v", err)
	}
	p.Status = status

	if existed && !existing.Status.CanTransitionTo(p.Status) {
		return model.Prescription{}, false, invalidTransition(c, p.ID,
			"status cannot move from %s to %s", existing.Status, p.Status)
	}

	p.CreatedAt, p.UpdatedAt = w.times(t.Now(), existed, existing.CreatedAt, p.CreatedAt, p.UpdatedAt)
	p.RemoteVersion = w.remoteVersion(existing.RemoteVersion)

	_, err = t.tx.ExecContext(ctx, `
		INSERT INTO prescriptions (id, patient_id, patient_name, medication, dosage, frequency, duration,
			instructions, doctor_id, doctor_name, status, created_at, updated_at, remote_version)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			patient_id = excluded.patient_id,
			patient_name = excluded.patient_name,
			medication = excluded.medication,
			dosage = excluded.dosage,
			frequency = excluded.frequency,
			duration = excluded.duration,
			instructions = excluded.instructions,
			doctor_id = excluded.doctor_id,
			doctor_name = excluded.doctor_name,
			status = excluded.status,
			created_at = excluded.created_at,
			updated_at = excluded.updated_at,
			remote_version = excluded.remote_version
	`, p.ID, p.PatientID, p.PatientName, p.Medication, p.Dosage, p.Frequency, p.Duration,
		p.Instructions, p.DoctorID, p.DoctorName, p.Status, p.CreatedAt, p.UpdatedAt, p.RemoteVersion)
	if err != nil {
		return model.Prescription{}, false, fmt.Errorf("put prescription: %w", err)
	}

	if !w.remote() {
		t.stagePut(ctx, p)
	}
	return p, true, nil
}
