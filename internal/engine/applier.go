package engine

import (
	"context"
	"errors"

	"github.com/roach88/rxvault/internal/remote"
	"github.com/roach88/rxvault/internal/store"
)

// apply writes one inbound document through the store's remote-origin
// path and advances the collection cursor in the same transaction.
//
// A document that fails decoding or a store invariant is recorded as
// rejected; its cursor still advances so it is not fetched again.
func (e *Engine) apply(ctx context.Context, doc remote.Document) error {
	var (
		applied bool
		reason  error
	)
	err := e.store.Update(ctx, func(tx *store.Tx) error {
		var err error
		applied, err = applyDocument(ctx, tx, doc)
		if err != nil {
			if !isRejection(err) {
				return err
			}
			reason = err
			rerr := tx.RecordRejected(ctx, store.RejectedDelta{
				Collection: doc.Collection,
				EntityID:   doc.ID,
				Version:    doc.Version,
				Reason:     err.Error(),
				Fields:     string(doc.Fields),
			})
			if rerr != nil {
				return rerr
			}
		}
		return tx.AdvanceCursor(ctx, doc.Collection, doc.Version)
	})
	if err != nil {
		return err
	}

	ev := Event{Collection: doc.Collection, ID: doc.ID, Version: doc.Version}
	switch {
	case reason != nil:
		serr := rejected("apply", doc.Collection, doc.ID, reason)
		e.logger.Warn("inbound document rejected", "code", serr.Code, "version", doc.Version, "error", serr)
		ev.Kind, ev.Reason = EventRejected, reason.Error()
	case applied:
		ev.Kind = EventApplied
	default:
		ev.Kind = EventSkipped
	}
	e.publish(ev)
	return nil
}

func applyDocument(ctx context.Context, tx *store.Tx, doc remote.Document) (bool, error) {
	if doc.Deleted {
		if err := remote.Verify(doc); err != nil {
			return false, err
		}
		return tx.ApplyRemoteDelete(ctx, doc.Collection, doc.ID, doc.Version)
	}
	entity, err := remote.Decode(doc)
	if err != nil {
		return false, err
	}
	return tx.ApplyRemote(ctx, entity, doc.Version)
}

// isRejection separates documents that can never apply from transient
// store failures.
func isRejection(err error) bool {
	return errors.Is(err, remote.ErrMalformed) || store.IsInvariantViolation(err)
}
