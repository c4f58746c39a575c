package store

import (
	"context"
	"fmt"

	"github.com/roach88/rxvault/internal/model"
)

// ApplyRemote writes an entity received from the mirror at version through
// the same validation as a local write.
//
// It reports false when the change was skipped: the row already reflects
// version or a newer one, or a local change to the same entity is still
// waiting in the outbox (it will overwrite the mirror once pushed). Remote
// writes never stage outbound deltas.
//
// An invariant violation is returned as a store *Error and leaves nothing
// behind, so the caller can record the rejection in the same transaction.
func (t *Tx) ApplyRemote(ctx context.Context, e model.Entity, version int64) (bool, error) {
	var applied bool
	err := t.savepoint(ctx, "apply", func() error {
		pending, err := hasPending(ctx, t.tx, e.Collection(), e.EntityID())
		if err != nil || pending {
			return err
		}

		w := remoteWrite(version)
		switch v := e.(type) {
		case model.Medicine:
			_, applied, err = t.putMedicine(ctx, v, w)
		case model.Prescription:
			_, applied, err = t.putPrescription(ctx, v, w)
		case model.TagBinding:
			_, applied, err = t.putBinding(ctx, v, w)
		case model.Employee:
			_, applied, err = t.putEmployee(ctx, v, w)
		case model.Patient:
			_, applied, err = t.putPatient(ctx, v, w)
		default:
			err = fmt.Errorf("apply remote: unsupported entity %T", e)
		}
		return err
	})
	if err != nil {
		return false, err
	}
	return applied, nil
}

// ApplyRemoteDelete removes an entity the mirror deleted at version.
// Prescriptions and bindings are never deleted; such a delete fails with
// KindInvalidState.
func (t *Tx) ApplyRemoteDelete(ctx context.Context, c model.Collection, id string, version int64) (bool, error) {
	var applied bool
	err := t.savepoint(ctx, "apply", func() error {
		pending, err := hasPending(ctx, t.tx, c, id)
		if err != nil || pending {
			return err
		}
		applied, err = t.deleteRow(ctx, c, id, remoteWrite(version))
		return err
	})
	if err != nil {
		return false, err
	}
	return applied, nil
}
