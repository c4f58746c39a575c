package dispense

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/roach88/rxvault/internal/model"
)

// QuantityRule decides how many units one dispense removes from stock.
type QuantityRule string

const (
	// QuantityUnit dispenses a single unit. This is the default.
	QuantityUnit QuantityRule = "unit"

	// QuantityDurationDays reads the leading integer of the prescription
	// duration ("7 days" dispenses 7), falling back to one unit when the
	// duration does not start with a positive number.
	QuantityDurationDays QuantityRule = "duration_days"
)

// ParseQuantityRule validates a rule name. Empty means QuantityUnit.
func ParseQuantityRule(s string) (QuantityRule, error) {
	switch QuantityRule(strings.TrimSpace(s)) {
	case "", QuantityUnit:
		return QuantityUnit, nil
	case QuantityDurationDays:
		return QuantityDurationDays, nil
	}
	return "", fmt.Errorf("unknown quantity rule %q (want %q or %q)", s, QuantityUnit, QuantityDurationDays)
}

// Quantity returns the units to dispense for b. Always at least 1.
func (r QuantityRule) Quantity(b model.TagBinding) int64 {
	if r != QuantityDurationDays {
		return 1
	}
	if n := leadingInt(b.Duration); n > 0 {
		return n
	}
	return 1
}

func leadingInt(s string) int64 {
	s = strings.TrimSpace(s)
	end := strings.IndexFunc(s, func(r rune) bool { return !unicode.IsDigit(r) })
	if end == -1 {
		end = len(s)
	}
	n, err := strconv.ParseInt(s[:end], 10, 64)
	if err != nil {
		return 0
	}
	return n
}
