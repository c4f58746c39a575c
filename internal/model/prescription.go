package model

import (
	"fmt"
	"strings"
	"time"
)

// PrescriptionStatus is the lifecycle state of a prescription.
type PrescriptionStatus string

const (
	StatusActive    PrescriptionStatus = "Active"
	StatusDispensed PrescriptionStatus = "Dispensed"
	StatusApproved  PrescriptionStatus = "Approved"
	StatusRejected  PrescriptionStatus = "Rejected"
)

// ParseStatus accepts a status name case-insensitively.
func ParseStatus(s string) (PrescriptionStatus, error) {
	for _, st := range []PrescriptionStatus{StatusActive, StatusDispensed, StatusApproved, StatusRejected} {
		if strings.EqualFold(string(st), strings.TrimSpace(s)) {
			return st, nil
		}
	}
	return "", fmt.Errorf("unknown prescription status %q", s)
}

// Terminal reports whether no further transition is possible.
func (s PrescriptionStatus) Terminal() bool {
	return s != StatusActive
}

// CanTransitionTo reports whether moving from s to next is allowed.
//
// Active may move to Dispensed, Approved or Rejected. Re-asserting the
// current status is allowed (a no-op write). Nothing returns to Active and
// terminal states never change.
func (s PrescriptionStatus) CanTransitionTo(next PrescriptionStatus) bool {
	if s == next {
		return true
	}
	return s == StatusActive && next.Terminal()
}

// Prescription is a prescribing decision for one patient and medication.
type Prescription struct {
	ID           string             `db:"id" json:"id"`
	PatientID    string             `db:"patient_id" json:"patient_id"`
	PatientName  string             `db:"patient_name" json:"patient_name"`
	Medication   string             `db:"medication" json:"medication"`
	Dosage       string             `db:"dosage" json:"dosage"`
	Frequency    string             `db:"frequency" json:"frequency"`
	Duration     string             `db:"duration" json:"duration"`
	Instructions string             `db:"instructions" json:"instructions"`
	DoctorID     string             `db:"doctor_id" json:"doctor_id"`
	DoctorName   string             `db:"doctor_name" json:"doctor_name"`
	Status       PrescriptionStatus `db:"status" json:"status"`
	CreatedAt    time.Time          `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time          `db:"updated_at" json:"updated_at"`

	RemoteVersion int64 `db:"remote_version" json:"-"`
}

func (Prescription) Collection() Collection { return CollectionPrescriptions }
func (p Prescription) EntityID() string     { return p.ID }
func (Prescription) isEntity()              {}

func (p Prescription) Fields() map[string]any {
	f := map[string]any{
		"id":           p.ID,
		"patient_id":   p.PatientID,
		"patient_name": p.PatientName,
		"medication":   p.Medication,
		"dosage":       p.Dosage,
		"frequency":    p.Frequency,
		"duration":     p.Duration,
		"instructions": p.Instructions,
		"doctor_id":    p.DoctorID,
		"doctor_name":  p.DoctorName,
		"status":       string(p.Status),
	}
	setTime(f, "created_at", p.CreatedAt)
	setTime(f, "updated_at", p.UpdatedAt)
	return f
}
