package pharmacy

import (
	"context"
	"fmt"

	"github.com/roach88/rxvault/internal/model"
	"github.com/roach88/rxvault/internal/policy"
	"github.com/roach88/rxvault/internal/store"
)

// MedicineFilter narrows ListMedicines. Status flags combine with AND and
// are evaluated against the thresholds in effect at call time.
type MedicineFilter struct {
	NameContains     string
	LowStockOnly     bool
	ExpiringSoonOnly bool
	ExpiredOnly      bool
}

// MedicineView is a medicine with its current inventory status.
type MedicineView struct {
	model.Medicine
	Status policy.Status `json:"status"`
}

// AddMedicine stores a new medicine. An id is generated when m.ID is
// empty; an id that already exists is a conflict.
func (s *Service) AddMedicine(ctx context.Context, m model.Medicine) (model.Medicine, error) {
	if m.ID == "" {
		m.ID = s.ids.Generate()
	}
	var out model.Medicine
	err := s.store.Update(ctx, func(tx *store.Tx) error {
		_, err := tx.GetMedicine(ctx, m.ID)
		if err == nil {
			return &store.Error{
				Kind:       store.KindConflict,
				Collection: model.CollectionMedicines,
				ID:         m.ID,
				Message:    "medicine already exists",
			}
		}
		if !store.IsNotFound(err) {
			return err
		}
		out, err = tx.PutMedicine(ctx, m)
		return err
	})
	if err != nil {
		return model.Medicine{}, err
	}
	return out, nil
}

// UpdateMedicine replaces an existing medicine. The expiry date is taken
// from m as given.
func (s *Service) UpdateMedicine(ctx context.Context, m model.Medicine) (model.Medicine, error) {
	var out model.Medicine
	err := s.store.Update(ctx, func(tx *store.Tx) error {
		if _, err := tx.GetMedicine(ctx, m.ID); err != nil {
			return err
		}
		var err error
		out, err = tx.PutMedicine(ctx, m)
		return err
	})
	if err != nil {
		return model.Medicine{}, err
	}
	return out, nil
}

// DeleteMedicine disposes of a medicine.
func (s *Service) DeleteMedicine(ctx context.Context, id string) error {
	return s.store.DeleteMedicine(ctx, id)
}

// UpdateStock sets the stock of the medicine named name to quantity.
// A negative quantity is rejected by the store with KindInvalidState.
func (s *Service) UpdateStock(ctx context.Context, name string, quantity int64) (model.Medicine, error) {
	var out model.Medicine
	err := s.store.Update(ctx, func(tx *store.Tx) error {
		m, err := tx.MedicineByName(ctx, name)
		if err != nil {
			return err
		}
		m.Stock = quantity
		out, err = tx.PutMedicine(ctx, m)
		return err
	})
	if err != nil {
		return model.Medicine{}, err
	}
	s.logger.Debug("stock updated", "medicine", out.Name, "stock", out.Stock)
	return out, nil
}

// ListMedicines returns medicines ordered by name with their status.
func (s *Service) ListMedicines(ctx context.Context, f MedicineFilter) ([]MedicineView, error) {
	th, err := s.Thresholds(ctx)
	if err != nil {
		return nil, err
	}
	meds, err := s.store.ListMedicines(ctx, store.MedicineFilter{NameContains: f.NameContains})
	if err != nil {
		return nil, err
	}

	today := s.Today()
	out := make([]MedicineView, 0, len(meds))
	for _, m := range meds {
		st := policy.Classify(m.StockLevel(), today, th)
		if f.LowStockOnly && !st.LowStock {
			continue
		}
		if f.ExpiringSoonOnly && !st.ExpiringSoon {
			continue
		}
		if f.ExpiredOnly && !st.Expired {
			continue
		}
		out = append(out, MedicineView{Medicine: m, Status: st})
	}
	return out, nil
}

// LowStockCount counts medicines below threshold. A nil threshold uses
// the configured minimum.
func (s *Service) LowStockCount(ctx context.Context, threshold *int) (int, error) {
	minimum, err := s.minimumStock(ctx, threshold)
	if err != nil {
		return 0, err
	}
	n := 0
	err = s.store.ScanStockLevels(ctx, func(lvl model.StockLevel) error {
		if policy.IsLowStock(lvl, minimum) {
			n++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

// ExpiringSoonCount counts medicines expiring within months whole months.
// A nil months uses the configured threshold.
func (s *Service) ExpiringSoonCount(ctx context.Context, months *int) (int, error) {
	window, err := s.expiryMonths(ctx, months)
	if err != nil {
		return 0, err
	}
	today := s.Today()
	n := 0
	err = s.store.ScanStockLevels(ctx, func(lvl model.StockLevel) error {
		if policy.IsExpiringSoon(lvl, today, window) {
			n++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

// Stats is the dashboard summary.
type Stats struct {
	Medicines    int               `json:"medicines"`
	LowStock     int               `json:"low_stock"`
	ExpiringSoon int               `json:"expiring_soon"`
	Expired      int               `json:"expired"`
	Thresholds   policy.Thresholds `json:"thresholds"`
	Today        model.Date        `json:"today"`
}

// Stats classifies every medicine in a single pass.
func (s *Service) Stats(ctx context.Context) (Stats, error) {
	th, err := s.Thresholds(ctx)
	if err != nil {
		return Stats{}, err
	}
	st := Stats{Thresholds: th, Today: s.Today()}
	err = s.store.ScanStockLevels(ctx, func(lvl model.StockLevel) error {
		c := policy.Classify(lvl, st.Today, th)
		st.Medicines++
		if c.LowStock {
			st.LowStock++
		}
		if c.ExpiringSoon {
			st.ExpiringSoon++
		}
		if c.Expired {
			st.Expired++
		}
		return nil
	})
	if err != nil {
		return Stats{}, err
	}
	return st, nil
}

func (s *Service) minimumStock(ctx context.Context, override *int) (int, error) {
	if override != nil {
		if err := policy.ValidateMinimumStock(*override); err != nil {
			return 0, fmt.Errorf("low stock count: %w", err)
		}
		return *override, nil
	}
	th, err := s.Thresholds(ctx)
	if err != nil {
		return 0, err
	}
	return th.MinimumStock, nil
}

func (s *Service) expiryMonths(ctx context.Context, override *int) (int, error) {
	if override != nil {
		if err := policy.ValidateExpiryMonths(*override); err != nil {
			return 0, fmt.Errorf("expiring soon count: %w", err)
		}
		return *override, nil
	}
	th, err := s.Thresholds(ctx)
	if err != nil {
		return 0, err
	}
	return th.ExpiryMonths, nil
}
