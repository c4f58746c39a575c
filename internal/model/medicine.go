package model

import "time"

// Medicine is one stocked product.
//
// Stock is a count of units and is never negative. ExpiryDate is replaced
// wholesale on edit; it is never adjusted incrementally.
type Medicine struct {
	ID         string    `db:"id" json:"id"`
	Name       string    `db:"name" json:"name"`
	Dosage     string    `db:"dosage" json:"dosage"`
	Stock      int64     `db:"stock" json:"stock"`
	Unit       string    `db:"unit" json:"unit"`
	ExpiryDate Date      `db:"expiry_date" json:"expiry_date"`
	PriceCents int64     `db:"price_cents" json:"price_cents"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time `db:"updated_at" json:"updated_at"`

	// RemoteVersion is the last mirror version applied to or acknowledged
	// for this row. It is local bookkeeping and never leaves the device.
	RemoteVersion int64 `db:"remote_version" json:"-"`
}

func (Medicine) Collection() Collection { return CollectionMedicines }
func (m Medicine) EntityID() string     { return m.ID }
func (Medicine) isEntity()              {}

func (m Medicine) Fields() map[string]any {
	f := map[string]any{
		"id":          m.ID,
		"name":        m.Name,
		"dosage":      m.Dosage,
		"stock":       m.Stock,
		"unit":        m.Unit,
		"expiry_date": m.ExpiryDate.String(),
		"price_cents": m.PriceCents,
	}
	setTime(f, "created_at", m.CreatedAt)
	setTime(f, "updated_at", m.UpdatedAt)
	return f
}

// StockLevel is the projection of a Medicine the inventory policy needs.
type StockLevel struct {
	ID         string `db:"id"`
	Name       string `db:"name"`
	Stock      int64  `db:"stock"`
	ExpiryDate Date   `db:"expiry_date"`
}

// StockLevel projects the medicine.
func (m Medicine) StockLevel() StockLevel {
	return StockLevel{ID: m.ID, Name: m.Name, Stock: m.Stock, ExpiryDate: m.ExpiryDate}
}
