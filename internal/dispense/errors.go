package dispense

import (
	"errors"
	"fmt"
)

// ErrorCode names why a dispense failed. Each code tells the operator what
// to do next: find the right tag, add the medicine, or restock.
type ErrorCode string

const (
	// ErrCodeAlreadyDispensedOrUnknownTag indicates the tag has no live
	// binding: never bound, rebound, or already dispensed.
	ErrCodeAlreadyDispensedOrUnknownTag ErrorCode = "ALREADY_DISPENSED_OR_UNKNOWN_TAG"

	// ErrCodeMedicineNotFound indicates no stocked medicine matches the
	// bound medication name.
	ErrCodeMedicineNotFound ErrorCode = "MEDICINE_NOT_FOUND"

	// ErrCodeOutOfStock indicates the medicine has fewer units than the
	// dispense needs. The binding stays live so the dispense can be
	// retried after restocking.
	ErrCodeOutOfStock ErrorCode = "OUT_OF_STOCK"
)

// Error is returned by Workflow.Dispense.
type Error struct {
	Code       ErrorCode
	TagID      string
	Medication string
	Message    string
}

func (e *Error) Error() string {
	if e.Medication != "" {
		return fmt.Sprintf("%s: %s (tag=%s, medication=%s)", e.Code, e.Message, e.TagID, e.Medication)
	}
	return fmt.Sprintf("%s: %s (tag=%s)", e.Code, e.Message, e.TagID)
}

func hasCode(err error, code ErrorCode) bool {
	var de *Error
	if errors.As(err, &de) {
		return de.Code == code
	}
	return false
}

// IsAlreadyDispensedOrUnknownTag returns true if the tag had no live binding.
func IsAlreadyDispensedOrUnknownTag(err error) bool {
	return hasCode(err, ErrCodeAlreadyDispensedOrUnknownTag)
}

// IsMedicineNotFound returns true if the bound medication is not stocked.
func IsMedicineNotFound(err error) bool {
	return hasCode(err, ErrCodeMedicineNotFound)
}

// IsOutOfStock returns true if stock could not cover the dispense.
func IsOutOfStock(err error) bool {
	return hasCode(err, ErrCodeOutOfStock)
}
