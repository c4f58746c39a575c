package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/rxvault/internal/model"
)

const (
	metaIdentityUID   = "identity.uid"
	metaIdentityToken = "identity.token"
)

// SyncIdentity is the anonymous identity the mirror issued to this device.
type SyncIdentity struct {
	UID   string
	Token string
}

// RejectedDelta is an inbound change that would have broken a store
// invariant. It is kept for an operator to review; nothing resolves it
// automatically.
type RejectedDelta struct {
	ID         int64            `db:"id" json:"id"`
	Collection model.Collection `db:"collection" json:"collection"`
	EntityID   string           `db:"entity_id" json:"entity_id"`
	Version    int64            `db:"version" json:"version"`
	Reason     string           `db:"reason" json:"reason"`
	Fields     string           `db:"fields" json:"fields"`
	ReceivedAt time.Time        `db:"received_at" json:"received_at"`
}

// Cursor returns the last remote version applied for c, or 0.
func (s *Store) Cursor(ctx context.Context, c model.Collection) (int64, error) {
	var v int64
	err := s.db.GetContext(ctx, &v, `SELECT version FROM sync_cursors WHERE collection = ?`, c)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get cursor: %w", err)
	}
	return v, nil
}

// Cursors returns every stored cursor.
func (s *Store) Cursors(ctx context.Context) (map[model.Collection]int64, error) {
	var rows []struct {
		Collection model.Collection `db:"collection"`
		Version    int64            `db:"version"`
	}
	if err := s.db.SelectContext(ctx, &rows, `SELECT collection, version FROM sync_cursors`); err != nil {
		return nil, fmt.Errorf("list cursors: %w", err)
	}
	out := make(map[model.Collection]int64, len(rows))
	for _, r := range rows {
		out[r.Collection] = r.Version
	}
	return out, nil
}

// AdvanceCursor moves the cursor for c to v. A cursor never moves back:
// advancing to an older version is a no-op.
func (s *Store) AdvanceCursor(ctx context.Context, c model.Collection, v int64) error {
	return s.Update(ctx, func(tx *Tx) error {
		return tx.AdvanceCursor(ctx, c, v)
	})
}

// AdvanceCursor moves the cursor for c to v inside the transaction, so an
// applied change and its cursor commit together.
func (t *Tx) AdvanceCursor(ctx context.Context, c model.Collection, v int64) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO sync_cursors (collection, version) VALUES (?, ?)
		ON CONFLICT(collection) DO UPDATE SET version = MAX(version, excluded.version)
	`, c, v)
	if err != nil {
		return fmt.Errorf("advance cursor: %w", err)
	}
	return nil
}

// LoadIdentity returns the stored mirror identity, if any.
func (s *Store) LoadIdentity(ctx context.Context) (SyncIdentity, bool, error) {
	var rows []struct {
		Key   string `db:"key"`
		Value string `db:"value"`
	}
	err := s.db.SelectContext(ctx, &rows,
		`SELECT key, value FROM sync_meta WHERE key IN (?, ?)`, metaIdentityUID, metaIdentityToken)
	if err != nil {
		return SyncIdentity{}, false, fmt.Errorf("load identity: %w", err)
	}

	var id SyncIdentity
	for _, r := range rows {
		switch r.Key {
		case metaIdentityUID:
			id.UID = r.Value
		case metaIdentityToken:
			id.Token = r.Value
		}
	}
	if id.UID == "" || id.Token == "" {
		return SyncIdentity{}, false, nil
	}
	return id, true, nil
}

// SaveIdentity stores the mirror identity, replacing any earlier one.
func (s *Store) SaveIdentity(ctx context.Context, id SyncIdentity) error {
	return s.Update(ctx, func(tx *Tx) error {
		for key, value := range map[string]string{metaIdentityUID: id.UID, metaIdentityToken: id.Token} {
			_, err := tx.tx.ExecContext(ctx, `
				INSERT INTO sync_meta (key, value) VALUES (?, ?)
				ON CONFLICT(key) DO UPDATE SET value = excluded.value
			`, key, value)
			if err != nil {
				return fmt.Errorf("save identity: %w", err)
			}
		}
		return nil
	})
}

// ClearIdentity forgets the stored mirror identity. The next sign-in asks
// the mirror for a fresh one.
func (s *Store) ClearIdentity(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM sync_meta WHERE key IN (?, ?)`, metaIdentityUID, metaIdentityToken)
	if err != nil {
		return fmt.Errorf("clear identity: %w", err)
	}
	return nil
}

// RecordRejected logs an inbound delta that failed an invariant.
func (t *Tx) RecordRejected(ctx context.Context, r RejectedDelta) error {
	if r.ReceivedAt.IsZero() {
		r.ReceivedAt = t.Now()
	}
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO rejected_deltas (collection, entity_id, version, reason, fields, received_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, r.Collection, r.EntityID, r.Version, r.Reason, r.Fields, r.ReceivedAt.UTC())
	if err != nil {
		return fmt.Errorf("record rejected delta: %w", err)
	}
	return nil
}

// ListRejected returns the most recent rejected deltas, newest first.
// Returns empty slice (not nil) if none were recorded.
func (s *Store) ListRejected(ctx context.Context, limit int) ([]RejectedDelta, error) {
	if limit <= 0 {
		limit = 100
	}
	out := []RejectedDelta{}
	err := s.db.SelectContext(ctx, &out, `
		SELECT id, collection, entity_id, version, reason, fields, received_at
		FROM rejected_deltas ORDER BY id DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list rejected deltas: %w", err)
	}
	return out, nil
}
