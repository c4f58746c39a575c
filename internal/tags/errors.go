package tags

import (
	"errors"
	"fmt"
)

// Sentinel errors matched by errors.Is against any *Error with the same code.
var (
	ErrInvalidTag            = errors.New("invalid tag")
	ErrPrescriptionNotFound  = errors.New("prescription not found")
	ErrPrescriptionNotActive = errors.New("prescription not active")
)

// ErrorCode categorizes bind failures.
type ErrorCode string

const (
	// ErrCodeInvalidTag indicates an empty or malformed tag identifier.
	ErrCodeInvalidTag ErrorCode = "INVALID_TAG"

	// ErrCodePrescriptionNotFound indicates the prescription does not exist.
	ErrCodePrescriptionNotFound ErrorCode = "PRESCRIPTION_NOT_FOUND"

	// ErrCodePrescriptionNotActive indicates the prescription already left
	// Active (dispensed, approved or rejected) and cannot be bound.
	ErrCodePrescriptionNotActive ErrorCode = "PRESCRIPTION_NOT_ACTIVE"
)

// Error is returned by Registry.Bind.
type Error struct {
	Code           ErrorCode
	TagID          string
	PrescriptionID string
	Message        string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s (tag=%s, prescription=%s)", e.Code, e.Message, e.TagID, e.PrescriptionID)
}

// Is maps codes onto the package sentinels.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrInvalidTag:
		return e.Code == ErrCodeInvalidTag
	case ErrPrescriptionNotFound:
		return e.Code == ErrCodePrescriptionNotFound
	case ErrPrescriptionNotActive:
		return e.Code == ErrCodePrescriptionNotActive
	}
	return false
}

// IsInvalidTag returns true if the error is an invalid tag error.
func IsInvalidTag(err error) bool {
	return errors.Is(err, ErrInvalidTag)
}

// IsPrescriptionNotFound returns true if the bind target does not exist.
func IsPrescriptionNotFound(err error) bool {
	return errors.Is(err, ErrPrescriptionNotFound)
}

// IsPrescriptionNotActive returns true if the bind target is no longer Active.
func IsPrescriptionNotActive(err error) bool {
	return errors.Is(err, ErrPrescriptionNotActive)
}
