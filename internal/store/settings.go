package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"

	"github.com/roach88/rxvault/internal/policy"
)

// Setting keys for the inventory thresholds.
const (
	SettingMinimumStock = "minimum_stock_threshold"
	SettingExpiryMonths = "expiry_months_threshold"
)

// Settings are not entity state: they are never staged for sync.
const settingsScope = "settings"

// Setting returns the raw value stored under key.
func (s *Store) Setting(ctx context.Context, key string) (string, bool, error) {
	var v string
	err := s.db.GetContext(ctx, &v, `SELECT value FROM settings WHERE key = ?`, key)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get setting %s: %w", key, err)
	}
	return v, true, nil
}

// Thresholds returns the stored inventory thresholds, falling back to
// defaults for any key that was never set.
func (s *Store) Thresholds(ctx context.Context, defaults policy.Thresholds) (policy.Thresholds, error) {
	th := defaults
	for key, dst := range map[string]*int{
		SettingMinimumStock: &th.MinimumStock,
		SettingExpiryMonths: &th.ExpiryMonths,
	} {
		raw, ok, err := s.Setting(ctx, key)
		if err != nil {
			return policy.Thresholds{}, err
		}
		if !ok {
			continue
		}
		v, err := strconv.Atoi(raw)
		if err != nil {
			return policy.Thresholds{}, fmt.Errorf("setting %s: %w", key, err)
		}
		*dst = v
	}
	return th, nil
}

// SetThreshold stores one inventory threshold after checking its range.
// Unknown keys and out-of-range values fail with KindInvalidState.
func (s *Store) SetThreshold(ctx context.Context, key string, value int) error {
	var err error
	switch key {
	case SettingMinimumStock:
		err = policy.ValidateMinimumStock(value)
	case SettingExpiryMonths:
		err = policy.ValidateExpiryMonths(value)
	default:
		err = fmt.Errorf("unknown setting")
	}
	if err != nil {
		return invalidState(settingsScope, key, "%v", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO settings (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, strconv.Itoa(value))
	if err != nil {
		return fmt.Errorf("set setting %s: %w", key, err)
	}
	return nil
}
