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

const medicineColumns = `id, name, dosage, stock, unit, expiry_date, price_cents, created_at, updated_at, remote_version`

// MedicineFilter narrows ListMedicines. The zero value matches everything.
type MedicineFilter struct {
	// NameContains matches medicines whose normalised name contains the
	// normalised substring.
	NameContains string
}

func getMedicine(ctx context.Context, q sqlx.QueryerContext, id string) (model.Medicine, error) {
	var m model.Medicine
	err := sqlx.GetContext(ctx, q, &m, `SELECT `+medicineColumns+` FROM medicines WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Medicine{}, notFound(model.CollectionMedicines, id)
	}
	if err != nil {
		return model.Medicine{}, fmt.Errorf("get medicine: %w", err)
	}
	return m, nil
}

func medicineByName(ctx context.Context, q sqlx.QueryerContext, name string) (model.Medicine, error) {
	var m model.Medicine
	err := sqlx.GetContext(ctx, q, &m,
		`SELECT `+medicineColumns+` FROM medicines WHERE name_key = ?`, model.NameKey(name))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Medicine{}, &Error{
			Kind:       KindNotFound,
			Collection: model.CollectionMedicines,
			Message:    fmt.Sprintf("no medicine named %q", name),
		}
	}
	if err != nil {
		return model.Medicine{}, fmt.Errorf("get medicine by name: %w", err)
	}
	return m, nil
}

func listMedicines(ctx context.Context, q sqlx.QueryerContext, f MedicineFilter) ([]model.Medicine, error) {
	query := `SELECT ` + medicineColumns + ` FROM medicines`
	var args []any
	if f.NameContains != "" {
		query += ` WHERE instr(name_key, ?) > 0`
		args = append(args, model.NameKey(f.NameContains))
	}
	query += ` ORDER BY name_key ASC, id ASC`

	meds := []model.Medicine{}
	if err := sqlx.SelectContext(ctx, q, &meds, query, args...); err != nil {
		return nil, fmt.Errorf("list medicines: %w", err)
	}
	return meds, nil
}

// GetMedicine returns the medicine with the given id.
func (s *Store) GetMedicine(ctx context.Context, id string) (model.Medicine, error) {
	return getMedicine(ctx, s.db, id)
}

// MedicineByName looks a medicine up by name, ignoring case, surrounding
// whitespace and Unicode normalisation form.
func (s *Store) MedicineByName(ctx context.Context, name string) (model.Medicine, error) {
	return medicineByName(ctx, s.db, name)
}

// ListMedicines returns medicines ordered by name.
// Returns empty slice (not nil) if nothing matches.
func (s *Store) ListMedicines(ctx context.Context, f MedicineFilter) ([]model.Medicine, error) {
	return listMedicines(ctx, s.db, f)
}

// ScanStockLevels calls fn with the stock projection of every medicine,
// without materialising the full collection.
//
// fn runs while the query holds the store's connection and must not call
// back into the Store.
func (s *Store) ScanStockLevels(ctx context.Context, fn func(model.StockLevel) error) error {
	rows, err := s.db.QueryxContext(ctx, `
		SELECT id, name, stock, expiry_date FROM medicines ORDER BY name_key ASC, id ASC
	`)
	if err != nil {
		return fmt.Errorf("scan stock levels: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var lvl model.StockLevel
		if err := rows.StructScan(&lvl); err != nil {
			return fmt.Errorf("scan stock level: %w", err)
		}
		if err := fn(lvl); err != nil {
			return err
		}
	}
	return rows.Err()
}

// PutMedicine creates or replaces a medicine.
func (s *Store) PutMedicine(ctx context.Context, m model.Medicine) (model.Medicine, error) {
	return update(ctx, s, func(tx *Tx) (model.Medicine, error) {
		return tx.PutMedicine(ctx, m)
	})
}

// DeleteMedicine removes a medicine.
func (s *Store) DeleteMedicine(ctx context.Context, id string) error {
	return s.Update(ctx, func(tx *Tx) error {
		return tx.DeleteMedicine(ctx, id)
	})
}

// GetMedicine returns the medicine with the given id.
func (t *Tx) GetMedicine(ctx context.Context, id string) (model.Medicine, error) {
	return getMedicine(ctx, t.tx, id)
}

// MedicineByName looks a medicine up by normalised name.
func (t *Tx) MedicineByName(ctx context.Context, name string) (model.Medicine, error) {
	return medicineByName(ctx, t.tx, name)
}

// PutMedicine creates or replaces a medicine and stages its delta.
//
// Rejects an empty id or name and negative stock with KindInvalidState, and
// a name already used by another medicine with KindConflict.
func (t *Tx) PutMedicine(ctx context.Context, m model.Medicine) (model.Medicine, error) {
	out, _, err := t.putMedicine(ctx, m, localWrite)
	return out, err
}

// DeleteMedicine removes a medicine and stages a delete delta.
func (t *Tx) DeleteMedicine(ctx context.Context, id string) error {
	_, err := t.deleteRow(ctx, model.CollectionMedicines, id, localWrite)
	return err
}

// DecrementStock removes qty units from a medicine's stock.
//
// The check and the decrement are a single conditional UPDATE, so stock
// can never go negative even if the caller's earlier read is stale.
// Returns KindInvalidState when fewer than qty units remain.
func (t *Tx) DecrementStock(ctx context.Context, id string, qty int64) (model.Medicine, error) {
	c := model.CollectionMedicines
	if qty <= 0 {
		return model.Medicine{}, invalidState(c, id, "quantity %d must be positive", qty)
	}

	res, err := t.tx.ExecContext(ctx, `
		UPDATE medicines SET stock = stock - ?, updated_at = ?
		WHERE id = ? AND stock >= ?
	`, qty, t.Now(), id, qty)
	if err != nil {
		return model.Medicine{}, fmt.Errorf("decrement stock: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return model.Medicine{}, fmt.Errorf("decrement stock: %w", err)
	}

	m, err := getMedicine(ctx, t.tx, id)
	if err != nil {
		return model.Medicine{}, err
	}
	if n == 0 {
		return m, invalidState(c, id, "insufficient stock: have %d, need %d", m.Stock, qty)
	}

	t.stagePut(ctx, m)
	return m, nil
}

func (t *Tx) putMedicine(ctx context.Context, m model.Medicine, w write) (model.Medicine, bool, error) {
	c := model.CollectionMedicines
	m.Name = strings.TrimSpace(m.Name)
	if m.ID == "" {
		return model.Medicine{}, false, invalidState(c, "", "id is required")
	}
	if m.Name == "" {
		return model.Medicine{}, false, invalidState(c, m.ID, "name is required")
	}
	if m.Stock < 0 {
		return model.Medicine{}, false, invalidState(c, m.ID, "stock %d is negative", m.Stock)
	}

	existing, err := getMedicine(ctx, t.tx, m.ID)
	existed := err == nil
	if err != nil && !IsNotFound(err) {
		return model.Medicine{}, false, err
	}
	if w.stale(existed, existing.RemoteVersion) {
		return existing, false, nil
	}

	key := model.NameKey(m.Name)
	var otherID string
	err = sqlx.GetContext(ctx, t.tx, &otherID,
		`SELECT id FROM medicines WHERE name_key = ? AND id <> ?`, key, m.ID)
	switch {
	case err == nil:
		return model.Medicine{}, false, conflict(c, m.ID, "name %q is already used by medicine %s", m.Name, otherID)
	case !errors.Is(err, sql.ErrNoRows):
		return model.Medicine{}, false, fmt.Errorf("check medicine name: %w", err)
	}

	m.CreatedAt, m.UpdatedAt = w.times(t.Now(), existed, existing.CreatedAt, m.CreatedAt, m.UpdatedAt)
	m.RemoteVersion = w.remoteVersion(existing.RemoteVersion)

	_, err = t.tx.ExecContext(ctx, `
		INSERT INTO medicines (id, name, name_key, dosage, stock, unit, expiry_date, price_cents,
			created_at, updated_at, remote_version)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			name_key = excluded.name_key,
			dosage = excluded.dosage,
			stock = excluded.stock,
			unit = excluded.unit,
			expiry_date = excluded.expiry_date,
			price_cents = excluded.price_cents,
			created_at = excluded.created_at,
			updated_at = excluded.updated_at,
			remote_version = excluded.remote_version
	`, m.ID, m.Name, key, m.Dosage, m.Stock, m.Unit, m.ExpiryDate, m.PriceCents,
		m.CreatedAt, m.UpdatedAt, m.RemoteVersion)
	if err != nil {
		return model.Medicine{}, false, fmt.Errorf("put medicine: %w", err)
	}

	if !w.remote() {
		t.stagePut(ctx, m)
	}
	return m, true, nil
}

// deleteRow removes an entity from a deletable collection.
//
// A local delete of a missing row is KindNotFound. A remote delete of a
// missing or newer row is skipped.
func (t *Tx) deleteRow(ctx context.Context, c model.Collection, id string, w write) (bool, error) {
	switch c {
	case model.CollectionMedicines, model.CollectionEmployees, model.CollectionPatients:
	default:
		return false, invalidState(c, id, "%s are never deleted", c)
	}
	table, err := tableFor(c)
	if err != nil {
		return false, err
	}

	var prev int64
	err = sqlx.GetContext(ctx, t.tx, &prev, `SELECT remote_version FROM `+table+` WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		if w.remote() {
			return false, nil
		}
		return false, notFound(c, id)
	}
	if err != nil {
		return false, fmt.Errorf("delete %s: %w", c, err)
	}
	if w.stale(true, prev) {
		return false, nil
	}

	if _, err := t.tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE id = ?`, id); err != nil {
		return false, fmt.Errorf("delete %s: %w", c, err)
	}

	if !w.remote() {
		t.stageDelete(ctx, c, id)
	}
	return true, nil
}
