package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/roach88/rxvault/internal/model"
)

const bindingColumns = `id, tag_id, prescription_id, patient_id, patient_name, medication, dosage,
	frequency, duration, instructions, prescriber_id, prescriber_name, bound_at, superseded_at,
	is_dispensed, dispensed_by, dispensed_at, updated_at, remote_version`

// BindingFilter narrows ListBindings. Empty fields match everything.
type BindingFilter struct {
	TagID          string
	PrescriptionID string
	DispensedBy    string

	// DispensedOnly restricts the result to terminal, dispensed bindings.
	DispensedOnly bool
}

func getBinding(ctx context.Context, q sqlx.QueryerContext, id string) (model.TagBinding, error) {
	var b model.TagBinding
	err := sqlx.GetContext(ctx, q, &b, `SELECT `+bindingColumns+` FROM tag_bindings WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return model.TagBinding{}, notFound(model.CollectionTagBindings, id)
	}
	if err != nil {
		return model.TagBinding{}, fmt.Errorf("get binding: %w", err)
	}
	return b, nil
}

func activeBinding(ctx context.Context, q sqlx.QueryerContext, tagID string) (model.TagBinding, error) {
	var b model.TagBinding
	err := sqlx.GetContext(ctx, q, &b, `
		SELECT `+bindingColumns+` FROM tag_bindings
		WHERE tag_id = ? AND is_dispensed = 0 AND superseded_at IS NULL
	`, tagID)
	if errors.Is(err, sql.ErrNoRows) {
		return model.TagBinding{}, &Error{
			Kind:       KindNotFound,
			Collection: model.CollectionTagBindings,
			Message:    fmt.Sprintf("no active binding for tag %q", tagID),
		}
	}
	if err != nil {
		return model.TagBinding{}, fmt.Errorf("get active binding: %w", err)
	}
	return b, nil
}

// GetBinding returns the binding with the given id, whatever its state.
func (s *Store) GetBinding(ctx context.Context, id string) (model.TagBinding, error) {
	return getBinding(ctx, s.db, id)
}

// ActiveBinding returns the live (not dispensed, not superseded) binding
// for tagID, or a KindNotFound error.
func (s *Store) ActiveBinding(ctx context.Context, tagID string) (model.TagBinding, error) {
	return activeBinding(ctx, s.db, tagID)
}

// ListBindings returns bindings in bind order.
// Returns empty slice (not nil) if nothing matches.
func (s *Store) ListBindings(ctx context.Context, f BindingFilter) ([]model.TagBinding, error) {
	var (
		where []string
		args  []any
	)
	if f.TagID != "" {
		where = append(where, "tag_id = ?")
		args = append(args, f.TagID)
	}
	if f.PrescriptionID != "" {
		where = append(where, "prescription_id = ?")
		args = append(args, f.PrescriptionID)
	}
	if f.DispensedBy != "" {
		where = append(where, "dispensed_by = ?")
		args = append(args, f.DispensedBy)
	}
	if f.DispensedOnly {
		where = append(where, "is_dispensed = 1")
	}

	query := `SELECT ` + bindingColumns + ` FROM tag_bindings`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY bound_at ASC, id ASC`

	out := []model.TagBinding{}
	if err := s.db.SelectContext(ctx, &out, query, args...); err != nil {
		return nil, fmt.Errorf("list bindings: %w", err)
	}
	return out, nil
}

// PutBinding creates or replaces a binding.
func (s *Store) PutBinding(ctx context.Context, b model.TagBinding) (model.TagBinding, error) {
	return update(ctx, s, func(tx *Tx) (model.TagBinding, error) {
		return tx.PutBinding(ctx, b)
	})
}

// ActiveBinding returns the live binding for tagID.
func (t *Tx) ActiveBinding(ctx context.Context, tagID string) (model.TagBinding, error) {
	return activeBinding(ctx, t.tx, tagID)
}

// PutBinding creates or replaces a binding and stages its delta.
//
// Writing a live binding supersedes whatever live binding the tag had
// before. A dispensed binding can never become undispensed and a superseded
// binding can never become live again; both fail with KindInvalidTransition.
func (t *Tx) PutBinding(ctx context.Context, b model.TagBinding) (model.TagBinding, error) {
	out, _, err := t.putBinding(ctx, b, localWrite)
	return out, err
}

// MarkDispensed makes a live binding terminal.
//
// The update is conditional on the binding still being live, so of two
// transactions racing on one binding only the first succeeds; the second
// gets KindInvalidTransition.
func (t *Tx) MarkDispensed(ctx context.Context, id, pharmacistID string) (model.TagBinding, error) {
	now := t.Now()
	res, err := t.tx.ExecContext(ctx, `
		UPDATE tag_bindings SET is_dispensed = 1, dispensed_by = ?, dispensed_at = ?, updated_at = ?
		WHERE id = ? AND is_dispensed = 0 AND superseded_at IS NULL
	`, pharmacistID, now, now, id)
	if err != nil {
		return model.TagBinding{}, fmt.Errorf("mark dispensed: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return model.TagBinding{}, fmt.Errorf("mark dispensed: %w", err)
	}

	b, err := getBinding(ctx, t.tx, id)
	if err != nil {
		return model.TagBinding{}, err
	}
	if n == 0 {
		return b, invalidTransition(model.CollectionTagBindings, id, "binding is no longer live")
	}

	t.stagePut(ctx, b)
	return b, nil
}

func (t *Tx) putBinding(ctx context.Context, b model.TagBinding, w write) (model.TagBinding, bool, error) {
	c := model.CollectionTagBindings
	b.TagID = strings.TrimSpace(b.TagID)
	switch {
	case b.ID == "":
		return model.TagBinding{}, false, invalidState(c, "", "id is required")
	case b.TagID == "":
		return model.TagBinding{}, false, invalidState(c, b.ID, "tag id is required")
	case b.PrescriptionID == "":
		return model.TagBinding{}, false, invalidState(c, b.ID, "prescription id is required")
	case b.Medication == "":
		return model.TagBinding{}, false, invalidState(c, b.ID, "medication is required")
	case !b.IsDispensed && (b.DispensedBy != "" || b.DispensedAt != nil):
		return model.TagBinding{}, false, invalidState(c, b.ID, "undispensed binding carries dispense details")
	}

	existing, err := getBinding(ctx, t.tx, b.ID)
	existed := err == nil
	if err != nil && !IsNotFound(err) {
		return model.TagBinding{}, false, err
	}
	if w.stale(existed, existing.RemoteVersion) {
		return existing, false, nil
	}

	if existed {
		if existing.IsDispensed && !b.IsDispensed {
			return model.TagBinding{}, false, invalidTransition(c, b.ID, "dispensed binding cannot be undone")
		}
		if existing.SupersededAt != nil && b.SupersededAt == nil {
			return model.TagBinding{}, false, invalidTransition(c, b.ID, "superseded binding cannot become live")
		}
		if existing.TagID != b.TagID {
			return model.TagBinding{}, false, invalidState(c, b.ID, "binding cannot move from tag %q to %q", existing.TagID, b.TagID)
		}
	}

	now := t.Now()
	if b.BoundAt.IsZero() {
		if existed {
			b.BoundAt = existing.BoundAt
		} else {
			b.BoundAt = now
		}
	}
	b.BoundAt = b.BoundAt.UTC()
	if b.IsDispensed && b.DispensedAt == nil {
		b.DispensedAt = &now
	}
	if w.remote() {
		if b.UpdatedAt.IsZero() {
			b.UpdatedAt = now
		}
		b.UpdatedAt = b.UpdatedAt.UTC()
	} else {
		b.UpdatedAt = now
	}
	b.RemoteVersion = w.remoteVersion(existing.RemoteVersion)

	if b.Active() {
		if err := t.supersedeLive(ctx, b.TagID, b.ID, now); err != nil {
			return model.TagBinding{}, false, err
		}
	}

	_, err = t.tx.ExecContext(ctx, `
		INSERT INTO tag_bindings (id, tag_id, prescription_id, patient_id, patient_name, medication, dosage,
			frequency, duration, instructions, prescriber_id, prescriber_name, bound_at, superseded_at,
			is_dispensed, dispensed_by, dispensed_at, updated_at, remote_version)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			prescription_id = excluded.prescription_id,
			patient_id = excluded.patient_id,
			patient_name = excluded.patient_name,
			medication = excluded.medication,
			dosage = excluded.dosage,
			frequency = excluded.frequency,
			duration = excluded.duration,
			instructions = excluded.instructions,
			prescriber_id = excluded.prescriber_id,
			prescriber_name = excluded.prescriber_name,
			bound_at = excluded.bound_at,
			superseded_at = excluded.superseded_at,
			is_dispensed = excluded.is_dispensed,
			dispensed_by = excluded.dispensed_by,
			dispensed_at = excluded.dispensed_at,
			updated_at = excluded.updated_at,
			remote_version = excluded.remote_version
	`, b.ID, b.TagID, b.PrescriptionID, b.PatientID, b.PatientName, b.Medication, b.Dosage,
		b.Frequency, b.Duration, b.Instructions, b.PrescriberID, b.PrescriberName, b.BoundAt, b.SupersededAt,
		b.IsDispensed, b.DispensedBy, b.DispensedAt, b.UpdatedAt, b.RemoteVersion)
	if err != nil {
		return model.TagBinding{}, false, fmt.Errorf("put binding: %w", err)
	}

	if !w.remote() {
		t.stagePut(ctx, b)
	}
	return b, true, nil
}

// supersedeLive retires every live binding of tagID other than keepID.
//
// The retired rows are staged for sync whatever the origin of the write
// that displaced them: superseding is a local decision the mirror has not
// seen yet.
func (t *Tx) supersedeLive(ctx context.Context, tagID, keepID string, at time.Time) error {
	live := []model.TagBinding{}
	err := sqlx.SelectContext(ctx, t.tx, &live, `
		SELECT `+bindingColumns+` FROM tag_bindings
		WHERE tag_id = ? AND id <> ? AND is_dispensed = 0 AND superseded_at IS NULL
	`, tagID, keepID)
	if err != nil {
		return fmt.Errorf("find live bindings: %w", err)
	}

	for _, old := range live {
		_, err := t.tx.ExecContext(ctx, `
			UPDATE tag_bindings SET superseded_at = ?, updated_at = ? WHERE id = ?
		`, at, at, old.ID)
		if err != nil {
			return fmt.Errorf("supersede binding %s: %w", old.ID, err)
		}
		old.SupersededAt = &at
		old.UpdatedAt = at
		t.stagePut(ctx, old)
	}
	return nil
}
