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

const (
	employeeColumns = `id, name, role, created_at, updated_at, remote_version`
	patientColumns  = `id, name, date_of_birth, contact, created_at, updated_at, remote_version`
)

func getEmployee(ctx context.Context, q sqlx.QueryerContext, id string) (model.Employee, error) {
	var e model.Employee
	err := sqlx.GetContext(ctx, q, &e, `SELECT `+employeeColumns+` FROM employees WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Employee{}, notFound(model.CollectionEmployees, id)
	}
	if err != nil {
		return model.Employee{}, fmt.Errorf("get employee: %w", err)
	}
	return e, nil
}

func getPatient(ctx context.Context, q sqlx.QueryerContext, id string) (model.Patient, error) {
	var p model.Patient
	err := sqlx.GetContext(ctx, q, &p, `SELECT `+patientColumns+` FROM patients WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Patient{}, notFound(model.CollectionPatients, id)
	}
	if err != nil {
		return model.Patient{}, fmt.Errorf("get patient: %w", err)
	}
	return p, nil
}

// GetEmployee returns the employee with the given id.
func (s *Store) GetEmployee(ctx context.Context, id string) (model.Employee, error) {
	return getEmployee(ctx, s.db, id)
}

// ListEmployees returns all employees ordered by name.
func (s *Store) ListEmployees(ctx context.Context) ([]model.Employee, error) {
	out := []model.Employee{}
	if err := s.db.SelectContext(ctx, &out,
		`SELECT `+employeeColumns+` FROM employees ORDER BY name ASC, id ASC`); err != nil {
		return nil, fmt.Errorf("list employees: %w", err)
	}
	return out, nil
}

// PutEmployee creates or replaces an employee.
func (s *Store) PutEmployee(ctx context.Context, e model.Employee) (model.Employee, error) {
	return update(ctx, s, func(tx *Tx) (model.Employee, error) {
		return tx.PutEmployee(ctx, e)
	})
}

// DeleteEmployee removes an employee.
func (s *Store) DeleteEmployee(ctx context.Context, id string) error {
	return s.Update(ctx, func(tx *Tx) error {
		_, err := tx.deleteRow(ctx, model.CollectionEmployees, id, localWrite)
		return err
	})
}

// GetPatient returns the patient with the given id.
func (s *Store) GetPatient(ctx context.Context, id string) (model.Patient, error) {
	return getPatient(ctx, s.db, id)
}

// ListPatients returns all patients ordered by name.
func (s *Store) ListPatients(ctx context.Context) ([]model.Patient, error) {
	out := []model.Patient{}
	if err := s.db.SelectContext(ctx, &out,
		`SELECT `+patientColumns+` FROM patients ORDER BY name ASC, id ASC`); err != nil {
		return nil, fmt.Errorf("list patients: %w", err)
	}
	return out, nil
}

// PutPatient creates or replaces a patient.
func (s *Store) PutPatient(ctx context.Context, p model.Patient) (model.Patient, error) {
	return update(ctx, s, func(tx *Tx) (model.Patient, error) {
		return tx.PutPatient(ctx, p)
	})
}

// DeletePatient removes a patient. Prescriptions written for the patient
// keep their copied name.
func (s *Store) DeletePatient(ctx context.Context, id string) error {
	return s.Update(ctx, func(tx *Tx) error {
		_, err := tx.deleteRow(ctx, model.CollectionPatients, id, localWrite)
		return err
	})
}

// GetEmployee returns the employee with the given id.
func (t *Tx) GetEmployee(ctx context.Context, id string) (model.Employee, error) {
	return getEmployee(ctx, t.tx, id)
}

// PutEmployee creates or replaces an employee and stages its delta.
func (t *Tx) PutEmployee(ctx context.Context, e model.Employee) (model.Employee, error) {
	out, _, err := t.putEmployee(ctx, e, localWrite)
	return out, err
}

// GetPatient returns the patient with the given id.
func (t *Tx) GetPatient(ctx context.Context, id string) (model.Patient, error) {
	return getPatient(ctx, t.tx, id)
}

// PutPatient creates or replaces a patient and stages its delta.
func (t *Tx) PutPatient(ctx context.Context, p model.Patient) (model.Patient, error) {
	out, _, err := t.putPatient(ctx, p, localWrite)
	return out, err
}

func (t *Tx) putEmployee(ctx context.Context, e model.Employee, w write) (model.Employee, bool, error) {
	c := model.CollectionEmployees
	e.Name = strings.TrimSpace(e.Name)
	if e.ID == "" {
		return model.Employee{}, false, invalidState(c, "", "id is required")
	}
	if e.Name == "" {
		return model.Employee{}, false, invalidState(c, e.ID, "name is required")
	}

	existing, err := getEmployee(ctx, t.tx, e.ID)
	existed := err == nil
	if err != nil && !IsNotFound(err) {
		return model.Employee{}, false, err
	}
	if w.stale(existed, existing.RemoteVersion) {
		return existing, false, nil
	}

	e.CreatedAt, e.UpdatedAt = w.times(t.Now(), existed, existing.CreatedAt, e.CreatedAt, e.UpdatedAt)
	e.RemoteVersion = w.remoteVersion(existing.RemoteVersion)

	_, err = t.tx.ExecContext(ctx, `
		INSERT INTO employees (id, name, role, created_at, updated_at, remote_version)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			role = excluded.role,
			created_at = excluded.created_at,
			updated_at = excluded.updated_at,
			remote_version = excluded.remote_version
	`, e.ID, e.Name, e.Role, e.CreatedAt, e.UpdatedAt, e.RemoteVersion)
	if err != nil {
		return model.Employee{}, false, fmt.Errorf("put employee: %w", err)
	}

	if !w.remote() {
		t.stagePut(ctx, e)
	}
	return e, true, nil
}

func (t *Tx) putPatient(ctx context.Context, p model.Patient, w write) (model.Patient, bool, error) {
	c := model.CollectionPatients
	p.Name = strings.TrimSpace(p.Name)
	if p.ID == "" {
		return model.Patient{}, false, invalidState(c, "", "id is required")
	}
	if p.Name == "" {
		return model.Patient{}, false, invalidState(c, p.ID, "name is required")
	}

	existing, err := getPatient(ctx, t.tx, p.ID)
	existed := err == nil
	if err != nil && !IsNotFound(err) {
		return model.Patient{}, false, err
	}
	if w.stale(existed, existing.RemoteVersion) {
		return existing, false, nil
	}

	p.CreatedAt, p.UpdatedAt = w.times(t.Now(), existed, existing.CreatedAt, p.CreatedAt, p.UpdatedAt)
	p.RemoteVersion = w.remoteVersion(existing.RemoteVersion)

	_, err = t.tx.ExecContext(ctx, `
		INSERT INTO patients (id, name, date_of_birth, contact, created_at, updated_at, remote_version)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			date_of_birth = excluded.date_of_birth,
			contact = excluded.contact,
			created_at = excluded.created_at,
			updated_at = excluded.updated_at,
			remote_version = excluded.remote_version
	`, p.ID, p.Name, p.DateOfBirth, p.Contact, p.CreatedAt, p.UpdatedAt, p.RemoteVersion)
	if err != nil {
		return model.Patient{}, false, fmt.Errorf("put patient: %w", err)
	}

	if !w.remote() {
		t.stagePut(ctx, p)
	}
	return p, true, nil
}
