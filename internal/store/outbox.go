package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/roach88/rxvault/internal/model"
)

const deltaColumns = `seq, collection, entity_id, op, payload, attempts, next_attempt_at, created_at`

// PendingDeltas returns up to limit staged deltas in seq order, whether or
// not they are due. The pusher stops at the first delta that is not due so
// that deltas for one entity are never reordered.
// Returns empty slice (not nil) if the outbox is empty.
func (s *Store) PendingDeltas(ctx context.Context, limit int) ([]model.Delta, error) {
	if limit <= 0 {
		limit = 100
	}
	out := []model.Delta{}
	err := s.db.SelectContext(ctx, &out,
		`SELECT `+deltaColumns+` FROM outbox ORDER BY seq ASC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("pending deltas: %w", err)
	}
	return out, nil
}

// OutboxLen returns the number of staged deltas.
func (s *Store) OutboxLen(ctx context.Context) (int, error) {
	var n int
	if err := s.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM outbox`); err != nil {
		return 0, fmt.Errorf("outbox length: %w", err)
	}
	return n, nil
}

// AckDelta removes a delta the mirror accepted at version and records that
// version on the entity row, so the listener's copy of the same write is
// recognised as already applied.
func (s *Store) AckDelta(ctx context.Context, d model.Delta, version int64) error {
	return s.Update(ctx, func(tx *Tx) error {
		if _, err := tx.tx.ExecContext(ctx, `DELETE FROM outbox WHERE seq = ?`, d.Seq); err != nil {
			return fmt.Errorf("ack delta %d: %w", d.Seq, err)
		}
		if d.Op != model.OpPut || version <= 0 {
			return nil
		}
		table, err := tableFor(d.Collection)
		if err != nil {
			return err
		}
		_, err = tx.tx.ExecContext(ctx,
			`UPDATE `+table+` SET remote_version = MAX(remote_version, ?) WHERE id = ?`,
			version, d.EntityID)
		if err != nil {
			return fmt.Errorf("ack delta %d: %w", d.Seq, err)
		}
		return nil
	})
}

// DeferDelta records a failed push attempt and schedules the next one.
func (s *Store) DeferDelta(ctx context.Context, seq int64, attempts int, nextAt time.Time, lastErr string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE outbox SET attempts = ?, next_attempt_at = ?, last_error = ? WHERE seq = ?
	`, attempts, nextAt.UTC(), lastErr, seq)
	if err != nil {
		return fmt.Errorf("defer delta %d: %w", seq, err)
	}
	return nil
}

// DropDelta removes a delta the mirror refused outright. Retrying it would
// only block every delta behind it.
func (s *Store) DropDelta(ctx context.Context, seq int64) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM outbox WHERE seq = ?`, seq); err != nil {
		return fmt.Errorf("drop delta %d: %w", seq, err)
	}
	return nil
}

// hasPending reports whether a local change to the entity is still waiting
// to be pushed.
func hasPending(ctx context.Context, q sqlx.QueryerContext, c model.Collection, id string) (bool, error) {
	var n int
	err := sqlx.GetContext(ctx, q, &n,
		`SELECT COUNT(*) FROM outbox WHERE collection = ? AND entity_id = ?`, c, id)
	if err != nil {
		return false, fmt.Errorf("check pending deltas: %w", err)
	}
	return n > 0, nil
}
