// Package dispense fulfils tag-bound prescriptions.
//
// A dispense reads the tag's live binding, finds the bound medicine by
// name, decrements its stock and marks the binding dispensed, all in one
// store transaction: either every write commits or none does.
//
// Dispenses of the same tag are serialized by a per-tag lock, and the
// binding update itself is conditional on the binding still being live, so
// of any number of concurrent dispenses of one tag at most one succeeds.
// Unrelated tags dispense concurrently.
package dispense

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/roach88/rxvault/internal/model"
	"github.com/roach88/rxvault/internal/store"
)

// Receipt describes a completed dispense.
type Receipt struct {
	BindingID      string    `json:"binding_id"`
	TagID          string    `json:"tag_id"`
	PrescriptionID string    `json:"prescription_id"`
	MedicineID     string    `json:"medicine_id"`
	MedicineName   string    `json:"medicine_name"`
	Quantity       int64     `json:"quantity"`
	RemainingStock int64     `json:"remaining_stock"`
	PatientID      string    `json:"patient_id"`
	PatientName    string    `json:"patient_name"`
	PharmacistID   string    `json:"pharmacist_id"`
	DispensedAt    time.Time `json:"dispensed_at"`
}

// Workflow performs dispenses against the canonical store.
type Workflow struct {
	store  *store.Store
	locks  *tagLocks
	rule   QuantityRule
	logger *slog.Logger
}

// Option configures a Workflow.
type Option func(*Workflow)

// WithQuantityRule sets how many units a dispense removes.
func WithQuantityRule(r QuantityRule) Option {
	return func(w *Workflow) {
		w.rule = r
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(w *Workflow) {
		w.logger = l
	}
}

// New creates a Workflow over s. The default quantity rule is QuantityUnit.
func New(s *store.Store, opts ...Option) *Workflow {
	w := &Workflow{
		store:  s,
		locks:  newTagLocks(),
		rule:   QuantityUnit,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Rule returns the quantity rule in effect.
func (w *Workflow) Rule() QuantityRule {
	return w.rule
}

// Dispense fulfils the prescription bound to tagID on behalf of
// pharmacistID.
//
// Failures are *Error values naming the reason:
// ErrCodeAlreadyDispensedOrUnknownTag, ErrCodeMedicineNotFound or
// ErrCodeOutOfStock. On any failure nothing is written, so an out-of-stock
// binding stays live for a retry.
func (w *Workflow) Dispense(ctx context.Context, tagID, pharmacistID string) (Receipt, error) {
	tagID = strings.TrimSpace(tagID)
	pharmacistID = strings.TrimSpace(pharmacistID)
	if pharmacistID == "" {
		return Receipt{}, fmt.Errorf("dispense %s: pharmacist id is required", tagID)
	}

	unlock := w.locks.Lock(tagID)
	defer unlock()

	var rc Receipt
	err := w.store.Update(ctx, func(tx *store.Tx) error {
		b, err := tx.ActiveBinding(ctx, tagID)
		if store.IsNotFound(err) {
			return &Error{
				Code:    ErrCodeAlreadyDispensedOrUnknownTag,
				TagID:   tagID,
				Message: "tag has no live binding",
			}
		}
		if err != nil {
			return err
		}

		med, err := tx.MedicineByName(ctx, b.Medication)
		if store.IsNotFound(err) {
			return &Error{
				Code:       ErrCodeMedicineNotFound,
				TagID:      tagID,
				Medication: b.Medication,
				Message:    "medicine is not stocked",
			}
		}
		if err != nil {
			return err
		}

		qty := w.rule.Quantity(b)
		if med.Stock == 0 || med.Stock < qty {
			return outOfStock(tagID, b.Medication, med.Stock, qty)
		}

		marked, err := tx.MarkDispensed(ctx, b.ID, pharmacistID)
		if store.IsInvalidTransition(err) {
			return &Error{
				Code:    ErrCodeAlreadyDispensedOrUnknownTag,
				TagID:   tagID,
				Message: "binding was dispensed concurrently",
			}
		}
		if err != nil {
			return err
		}

		after, err := tx.DecrementStock(ctx, med.ID, qty)
		if store.IsInvalidState(err) {
			return outOfStock(tagID, b.Medication, after.Stock, qty)
		}
		if err != nil {
			return err
		}

		if err := completePrescription(ctx, tx, b.PrescriptionID); err != nil {
			return err
		}

		rc = Receipt{
			BindingID:      marked.ID,
			TagID:          tagID,
			PrescriptionID: marked.PrescriptionID,
			MedicineID:     after.ID,
			MedicineName:   after.Name,
			Quantity:       qty,
			RemainingStock: after.Stock,
			PatientID:      marked.PatientID,
			PatientName:    marked.PatientName,
			PharmacistID:   pharmacistID,
			DispensedAt:    *marked.DispensedAt,
		}
		return nil
	})
	if err != nil {
		var de *Error
		if errors.As(err, &de) {
			w.logger.Info("dispense refused", "tag", tagID, "code", de.Code, "reason", de.Message)
		}
		return Receipt{}, err
	}

	w.logger.Info("dispensed",
		"tag", tagID,
		"medicine", rc.MedicineName,
		"quantity", rc.Quantity,
		"remaining", rc.RemainingStock,
		"pharmacist", pharmacistID,
	)
	return rc, nil
}

// completePrescription moves the bound prescription to Dispensed when it
// is still Active. The binding is a snapshot: the prescription may have
// been approved, rejected or never synced to this device, and none of
// those block the dispense.
func completePrescription(ctx context.Context, tx *store.Tx, id string) error {
	p, err := tx.GetPrescription(ctx, id)
	if store.IsNotFound(err) {
		return nil
	}
	if err != nil {
		return err
	}
	if p.Status != model.StatusActive {
		return nil
	}
	_, err = tx.SetPrescriptionStatus(ctx, id, model.StatusDispensed)
	return err
}

func outOfStock(tagID, medication string, have, need int64) *Error {
	return &Error{
		Code:       ErrCodeOutOfStock,
		TagID:      tagID,
		Medication: medication,
		Message:    fmt.Sprintf("have %d, need %d", have, need),
	}
}

// HistoryFilter narrows History. Empty fields match everything.
type HistoryFilter struct {
	TagID        string
	PharmacistID string
}

// HistoryEntry is one completed dispense, with the quantity the current
// rule assigns to it.
type HistoryEntry struct {
	model.TagBinding
	Quantity int64 `json:"quantity"`
}

// History lists dispensed bindings in bind order. Dispensed bindings are
// terminal and never deleted, so this is the full dispense audit trail.
func (w *Workflow) History(ctx context.Context, f HistoryFilter) ([]HistoryEntry, error) {
	bindings, err := w.store.ListBindings(ctx, store.BindingFilter{
		TagID:         f.TagID,
		DispensedBy:   f.PharmacistID,
		DispensedOnly: true,
	})
	if err != nil {
		return nil, fmt.Errorf("dispense history: %w", err)
	}

	out := make([]HistoryEntry, 0, len(bindings))
	for _, b := range bindings {
		out = append(out, HistoryEntry{TagBinding: b, Quantity: w.rule.Quantity(b)})
	}
	return out, nil
}
