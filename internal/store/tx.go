package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/roach88/rxvault/internal/model"
)

// Tx is one open store transaction. It is only valid inside the function
// passed to Store.Update.
type Tx struct {
	tx     *sqlx.Tx
	s      *Store
	staged int
}

// Now returns the store clock, normalised to UTC. Callers that stamp
// entities inside a transaction use it so every timestamp in one commit
// comes from the same source.
func (t *Tx) Now() time.Time {
	return t.s.timestamp()
}

// write carries the origin of a mutation through the per-entity put paths.
type write struct {
	origin  model.Origin
	version int64
}

var localWrite = write{origin: model.OriginLocal}

func remoteWrite(version int64) write {
	return write{origin: model.OriginRemote, version: version}
}

func (w write) remote() bool {
	return w.origin == model.OriginRemote
}

// stale reports whether a remote write at w.version is already reflected
// by a row last applied at prev.
func (w write) stale(existed bool, prev int64) bool {
	return w.remote() && existed && w.version <= prev
}

func (w write) remoteVersion(prev int64) int64 {
	if w.remote() {
		return w.version
	}
	return prev
}

// times returns created and updated timestamps for a write. Local writes
// own the clock. Remote writes keep the author's timestamps when present.
func (w write) times(now time.Time, existed bool, prevCreated, created, updated time.Time) (time.Time, time.Time) {
	if w.remote() {
		if updated.IsZero() {
			updated = now
		}
		if created.IsZero() {
			created = updated
		}
		return created.UTC(), updated.UTC()
	}
	if existed {
		return prevCreated, now
	}
	return now, now
}

// savepoint runs fn under a named SQLite savepoint. When fn fails its
// writes are rolled back and the surrounding transaction stays usable.
func (t *Tx) savepoint(ctx context.Context, name string, fn func() error) error {
	if _, err := t.tx.ExecContext(ctx, "SAVEPOINT "+name); err != nil {
		return fmt.Errorf("savepoint %s: %w", name, err)
	}

	if err := fn(); err != nil {
		if _, rbErr := t.tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT "+name); rbErr != nil {
			return errors.Join(err, fmt.Errorf("rollback to savepoint %s: %w", name, rbErr))
		}
		if _, relErr := t.tx.ExecContext(ctx, "RELEASE SAVEPOINT "+name); relErr != nil {
			return errors.Join(err, fmt.Errorf("release savepoint %s: %w", name, relErr))
		}
		return err
	}

	if _, err := t.tx.ExecContext(ctx, "RELEASE SAVEPOINT "+name); err != nil {
		return fmt.Errorf("release savepoint %s: %w", name, err)
	}
	return nil
}

// stagePut enqueues a put of e for the sync engine.
//
// Enqueue failures are logged and swallowed: the entity write has already
// happened and must commit regardless.
func (t *Tx) stagePut(ctx context.Context, e model.Entity) {
	d, err := model.NewPutDelta(e, t.Now())
	if err != nil {
		t.s.logger.Warn("outbox enqueue failed",
			"collection", e.Collection(),
			"id", e.EntityID(),
			"error", err,
		)
		return
	}
	t.enqueue(ctx, d)
}

func (t *Tx) stageDelete(ctx context.Context, c model.Collection, id string) {
	t.enqueue(ctx, model.NewDeleteDelta(c, id, t.Now()))
}

func (t *Tx) enqueue(ctx context.Context, d model.Delta) {
	err := t.savepoint(ctx, "outbox", func() error {
		_, err := t.tx.ExecContext(ctx, `
			INSERT INTO outbox (collection, entity_id, op, payload, attempts, next_attempt_at, created_at)
			VALUES (?, ?, ?, ?, 0, ?, ?)
		`, d.Collection, d.EntityID, d.Op, d.Payload, d.NextAttemptAt, d.CreatedAt)
		return err
	})
	if err != nil {
		t.s.logger.Warn("outbox enqueue failed",
			"collection", d.Collection,
			"id", d.EntityID,
			"op", d.Op,
			"error", err,
		)
		return
	}
	t.staged++
}

// update runs fn in its own transaction and returns its result.
func update[T any](ctx context.Context, s *Store, fn func(tx *Tx) (T, error)) (T, error) {
	var out T
	err := s.Update(ctx, func(tx *Tx) error {
		var err error
		out, err = fn(tx)
		return err
	})
	return out, err
}

// tableFor maps a collection to its table. Collections are a closed set so
// the result is safe to splice into SQL.
func tableFor(c model.Collection) (string, error) {
	switch c {
	case model.CollectionEmployees, model.CollectionPatients, model.CollectionMedicines,
		model.CollectionPrescriptions, model.CollectionTagBindings:
		return string(c), nil
	}
	return "", fmt.Errorf("unknown collection %q", c)
}
