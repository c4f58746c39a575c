package pharmacy

import (
	"context"

	"github.com/roach88/rxvault/internal/model"
	"github.com/roach88/rxvault/internal/store"
)

// AddPrescription stores a new Active prescription. An id is generated
// when p.ID is empty.
func (s *Service) AddPrescription(ctx context.Context, p model.Prescription) (model.Prescription, error) {
	if p.ID == "" {
		p.ID = s.ids.Generate()
	}
	if p.Status == "" {
		p.Status = model.StatusActive
	}
	var out model.Prescription
	err := s.store.Update(ctx, func(tx *store.Tx) error {
		_, err := tx.GetPrescription(ctx, p.ID)
		if err == nil {
			return &store.Error{
				Kind:       store.KindConflict,
				Collection: model.CollectionPrescriptions,
				ID:         p.ID,
				Message:    "prescription already exists",
			}
		}
		if !store.IsNotFound(err) {
			return err
		}
		out, err = tx.PutPrescription(ctx, p)
		return err
	})
	if err != nil {
		return model.Prescription{}, err
	}
	return out, nil
}

// UpdatePrescription replaces the details of an existing prescription.
// An empty status keeps the current one.
func (s *Service) UpdatePrescription(ctx context.Context, p model.Prescription) (model.Prescription, error) {
	var out model.Prescription
	err := s.store.Update(ctx, func(tx *store.Tx) error {
		if _, err := tx.GetPrescription(ctx, p.ID); err != nil {
			return err
		}
		var err error
		out, err = tx.PutPrescription(ctx, p)
		return err
	})
	if err != nil {
		return model.Prescription{}, err
	}
	return out, nil
}

// UpdatePrescriptionStatus moves a prescription forward. Backward moves
// fail with store.KindInvalidTransition.
func (s *Service) UpdatePrescriptionStatus(ctx context.Context, id string, status model.PrescriptionStatus) (model.Prescription, error) {
	return s.store.SetPrescriptionStatus(ctx, id, status)
}

// ListPrescriptions returns prescriptions oldest first.
func (s *Service) ListPrescriptions(ctx context.Context, f store.PrescriptionFilter) ([]model.Prescription, error) {
	return s.store.ListPrescriptions(ctx, f)
}
