// Package policy classifies stock levels against configurable thresholds.
//
// Every function here is pure: the result depends only on the arguments,
// nothing is cached and nothing is persisted. Classification is recomputed
// on each query so it cannot go stale relative to the thresholds in effect.
package policy

import (
	"fmt"

	"github.com/roach88/rxvault/internal/model"
)

const (
	DefaultMinimumStock = 10
	DefaultExpiryMonths = 1

	MinMinimumStock = 0
	MaxMinimumStock = 1000
	MinExpiryMonths = 1
	MaxExpiryMonths = 12
)

// Thresholds are the inventory settings in effect for one query.
type Thresholds struct {
	MinimumStock int `json:"minimum_stock_threshold" yaml:"minimum_stock_threshold"`
	ExpiryMonths int `json:"expiry_months_threshold" yaml:"expiry_months_threshold"`
}

// DefaultThresholds returns the factory settings.
func DefaultThresholds() Thresholds {
	return Thresholds{MinimumStock: DefaultMinimumStock, ExpiryMonths: DefaultExpiryMonths}
}

// Validate checks both thresholds are within their allowed ranges.
func (t Thresholds) Validate() error {
	if err := ValidateMinimumStock(t.MinimumStock); err != nil {
		return err
	}
	return ValidateExpiryMonths(t.ExpiryMonths)
}

// ValidateMinimumStock checks the range [0,1000].
func ValidateMinimumStock(v int) error {
	if v < MinMinimumStock || v > MaxMinimumStock {
		return fmt.Errorf("minimum stock threshold %d out of range [%d,%d]", v, MinMinimumStock, MaxMinimumStock)
	}
	return nil
}

// ValidateExpiryMonths checks the range [1,12].
func ValidateExpiryMonths(v int) error {
	if v < MinExpiryMonths || v > MaxExpiryMonths {
		return fmt.Errorf("expiry months threshold %d out of range [%d,%d]", v, MinExpiryMonths, MaxExpiryMonths)
	}
	return nil
}

// IsLowStock reports stock strictly below the minimum.
func IsLowStock(m model.StockLevel, minimumStock int) bool {
	return m.Stock < int64(minimumStock)
}

// IsExpired reports an expiry date strictly before the reference date.
// A medicine without an expiry date never expires.
func IsExpired(m model.StockLevel, ref model.Date) bool {
	if m.ExpiryDate.IsZero() {
		return false
	}
	return m.ExpiryDate.Before(ref)
}

// MonthsUntilExpiry returns the whole months from ref to the expiry date.
//
// The calendar month difference is reduced by one when the expiry
// day-of-month is earlier than the reference day-of-month, so a partial
// month always rounds down.
func MonthsUntilExpiry(m model.StockLevel, ref model.Date) int {
	e := m.ExpiryDate
	months := (e.Year-ref.Year)*12 + int(e.Month) - int(ref.Month)
	if e.Day < ref.Day {
		months--
	}
	return months
}

// IsExpiringSoon reports a medicine that is not yet expired and expires
// within expiryMonths whole months of ref (inclusive).
func IsExpiringSoon(m model.StockLevel, ref model.Date, expiryMonths int) bool {
	if m.ExpiryDate.IsZero() || IsExpired(m, ref) {
		return false
	}
	months := MonthsUntilExpiry(m, ref)
	return months >= 0 && months <= expiryMonths
}

// Status is the full classification of one medicine.
type Status struct {
	LowStock     bool `json:"low_stock"`
	Expired      bool `json:"expired"`
	ExpiringSoon bool `json:"expiring_soon"`
}

// Classify evaluates every predicate for m.
func Classify(m model.StockLevel, ref model.Date, t Thresholds) Status {
	return Status{
		LowStock:     IsLowStock(m, t.MinimumStock),
		Expired:      IsExpired(m, ref),
		ExpiringSoon: IsExpiringSoon(m, ref, t.ExpiryMonths),
	}
}
