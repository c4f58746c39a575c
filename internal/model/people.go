package model

import "time"

// Employee is a member of staff (pharmacist, doctor, administrator).
type Employee struct {
	ID        string    `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	Role      string    `db:"role" json:"role"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`

	RemoteVersion int64 `db:"remote_version" json:"-"`
}

func (Employee) Collection() Collection { return CollectionEmployees }
func (e Employee) EntityID() string     { return e.ID }
func (Employee) isEntity()              {}

func (e Employee) Fields() map[string]any {
	f := map[string]any{
		"id":   e.ID,
		"name": e.Name,
		"role": e.Role,
	}
	setTime(f, "created_at", e.CreatedAt)
	setTime(f, "updated_at", e.UpdatedAt)
	return f
}

// Patient is a person prescriptions are written for.
type Patient struct {
	ID          string    `db:"id" json:"id"`
	Name        string    `db:"name" json:"name"`
	DateOfBirth Date      `db:"date_of_birth" json:"date_of_birth"`
	Contact     string    `db:"contact" json:"contact"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`

	RemoteVersion int64 `db:"remote_version" json:"-"`
}

func (Patient) Collection() Collection { return CollectionPatients }
func (p Patient) EntityID() string     { return p.ID }
func (Patient) isEntity()              {}

func (p Patient) Fields() map[string]any {
	f := map[string]any{
		"id":            p.ID,
		"name":          p.Name,
		"date_of_birth": p.DateOfBirth.String(),
		"contact":       p.Contact,
	}
	setTime(f, "created_at", p.CreatedAt)
	setTime(f, "updated_at", p.UpdatedAt)
	return f
}
