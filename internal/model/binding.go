package model

import "time"

// TagBinding associates a physical tag with a copy of one prescription's
// dispensing data.
//
// A binding is created active, and ends either dispensed (terminal, kept
// as audit trail) or superseded by a later bind of the same tag. Rows are
// never deleted.
type TagBinding struct {
	ID             string `db:"id" json:"id"`
	TagID          string `db:"tag_id" json:"tag_id"`
	PrescriptionID string `db:"prescription_id" json:"prescription_id"`

	PatientID      string `db:"patient_id" json:"patient_id"`
	PatientName    string `db:"patient_name" json:"patient_name"`
	Medication     string `db:"medication" json:"medication"`
	Dosage         string `db:"dosage" json:"dosage"`
	Frequency      string `db:"frequency" json:"frequency"`
	Duration       string `db:"duration" json:"duration"`
	Instructions   string `db:"instructions" json:"instructions"`
	PrescriberID   string `db:"prescriber_id" json:"prescriber_id"`
	PrescriberName string `db:"prescriber_name" json:"prescriber_name"`

	BoundAt      time.Time  `db:"bound_at" json:"bound_at"`
	SupersededAt *time.Time `db:"superseded_at" json:"superseded_at,omitempty"`
	IsDispensed  bool       `db:"is_dispensed" json:"is_dispensed"`
	DispensedBy  string     `db:"dispensed_by" json:"dispensed_by"`
	DispensedAt  *time.Time `db:"dispensed_at" json:"dispensed_at,omitempty"`
	UpdatedAt    time.Time  `db:"updated_at" json:"updated_at"`

	RemoteVersion int64 `db:"remote_version" json:"-"`
}

func (TagBinding) Collection() Collection { return CollectionTagBindings }
func (b TagBinding) EntityID() string     { return b.ID }
func (TagBinding) isEntity()              {}

func (b TagBinding) Fields() map[string]any {
	f := map[string]any{
		"id":              b.ID,
		"tag_id":          b.TagID,
		"prescription_id": b.PrescriptionID,
		"patient_id":      b.PatientID,
		"patient_name":    b.PatientName,
		"medication":      b.Medication,
		"dosage":          b.Dosage,
		"frequency":       b.Frequency,
		"duration":        b.Duration,
		"instructions":    b.Instructions,
		"prescriber_id":   b.PrescriberID,
		"prescriber_name": b.PrescriberName,
		"is_dispensed":    b.IsDispensed,
		"dispensed_by":    b.DispensedBy,
	}
	setTime(f, "bound_at", b.BoundAt)
	setTimePtr(f, "superseded_at", b.SupersededAt)
	setTimePtr(f, "dispensed_at", b.DispensedAt)
	setTime(f, "updated_at", b.UpdatedAt)
	return f
}

// Active reports whether the binding can still be read and dispensed.
func (b TagBinding) Active() bool {
	return !b.IsDispensed && b.SupersededAt == nil
}

// Snapshot returns the dispensing data the tag reports.
func (b TagBinding) Snapshot() BindingSnapshot {
	return BindingSnapshot{
		TagID:          b.TagID,
		PrescriptionID: b.PrescriptionID,
		PatientID:      b.PatientID,
		PatientName:    b.PatientName,
		Medication:     b.Medication,
		Dosage:         b.Dosage,
		Frequency:      b.Frequency,
		Duration:       b.Duration,
		Instructions:   b.Instructions,
		PrescriberID:   b.PrescriberID,
		PrescriberName: b.PrescriberName,
		BoundAt:        b.BoundAt,
	}
}

// BindingSnapshot is what reading a tag yields.
type BindingSnapshot struct {
	TagID          string    `json:"tag_id"`
	PrescriptionID string    `json:"prescription_id"`
	PatientID      string    `json:"patient_id"`
	PatientName    string    `json:"patient_name"`
	Medication     string    `json:"medication"`
	Dosage         string    `json:"dosage"`
	Frequency      string    `json:"frequency"`
	Duration       string    `json:"duration"`
	Instructions   string    `json:"instructions"`
	PrescriberID   string    `json:"prescriber_id"`
	PrescriberName string    `json:"prescriber_name"`
	BoundAt        time.Time `json:"bound_at"`
}

// SnapshotPrescription copies the dispensing-relevant fields of p into a
// new active binding for tagID.
func SnapshotPrescription(id, tagID string, p Prescription, at time.Time) TagBinding {
	return TagBinding{
		ID:             id,
		TagID:          tagID,
		PrescriptionID: p.ID,
		PatientID:      p.PatientID,
		PatientName:    p.PatientName,
		Medication:     p.Medication,
		Dosage:         p.Dosage,
		Frequency:      p.Frequency,
		Duration:       p.Duration,
		Instructions:   p.Instructions,
		PrescriberID:   p.DoctorID,
		PrescriberName: p.DoctorName,
		BoundAt:        at,
		UpdatedAt:      at,
	}
}
