// Package tags maps physical tag identifiers to snapshots of the
// prescription they were bound to.
//
// A binding is a copy, not a reference: editing the prescription after the
// bind does not change what the tag reports. Rebinding a tag supersedes the
// previous live binding (last-bind-wins). Once a binding is dispensed the
// tag reads as empty, which is what stops the same tag dispensing twice.
package tags

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/roach88/rxvault/internal/model"
	"github.com/roach88/rxvault/internal/store"
)

// Registry binds and reads tags through the canonical store.
type Registry struct {
	store  *store.Store
	ids    model.IDGenerator
	logger *slog.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithIDGenerator sets the generator for new binding ids.
func WithIDGenerator(g model.IDGenerator) Option {
	return func(r *Registry) {
		r.ids = g
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) {
		r.logger = l
	}
}

// New creates a Registry over s.
func New(s *store.Store, opts ...Option) *Registry {
	r := &Registry{
		store:  s,
		ids:    model.UUIDv7Generator{},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Bind copies the dispensing data of an Active prescription onto tagID.
// Any live binding the tag already had is superseded, not deleted.
func (r *Registry) Bind(ctx context.Context, tagID, prescriptionID string) (model.TagBinding, error) {
	tagID = strings.TrimSpace(tagID)
	if tagID == "" {
		return model.TagBinding{}, &Error{
			Code:           ErrCodeInvalidTag,
			PrescriptionID: prescriptionID,
			Message:        "tag id is empty",
		}
	}

	var bound model.TagBinding
	err := r.store.Update(ctx, func(tx *store.Tx) error {
		p, err := tx.GetPrescription(ctx, prescriptionID)
		if store.IsNotFound(err) {
			return &Error{
				Code:           ErrCodePrescriptionNotFound,
				TagID:          tagID,
				PrescriptionID: prescriptionID,
				Message:        "no such prescription",
			}
		}
		if err != nil {
			return err
		}
		if p.Status != model.StatusActive {
			return &Error{
				Code:           ErrCodePrescriptionNotActive,
				TagID:          tagID,
				PrescriptionID: prescriptionID,
				Message:        fmt.Sprintf("prescription is %s", p.Status),
			}
		}

		bound, err = tx.PutBinding(ctx, model.SnapshotPrescription(r.ids.Generate(), tagID, p, tx.Now()))
		return err
	})
	if err != nil {
		return model.TagBinding{}, err
	}

	r.logger.Info("tag bound",
		"tag", tagID,
		"prescription", prescriptionID,
		"binding", bound.ID,
	)
	return bound, nil
}

// Read returns the snapshot on tagID. It reports false when the tag has no
// live binding: never bound, superseded, or already dispensed.
func (r *Registry) Read(ctx context.Context, tagID string) (model.BindingSnapshot, bool, error) {
	b, err := r.store.ActiveBinding(ctx, strings.TrimSpace(tagID))
	if store.IsNotFound(err) {
		return model.BindingSnapshot{}, false, nil
	}
	if err != nil {
		return model.BindingSnapshot{}, false, fmt.Errorf("read tag %s: %w", tagID, err)
	}
	return b.Snapshot(), true, nil
}

// History returns every binding tagID ever had, oldest first.
func (r *Registry) History(ctx context.Context, tagID string) ([]model.TagBinding, error) {
	return r.store.ListBindings(ctx, store.BindingFilter{TagID: strings.TrimSpace(tagID)})
}
