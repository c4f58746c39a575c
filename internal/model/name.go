package model

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// NameKey returns the lookup key for a medicine name.
//
// Names typed on a keyboard, scanned from a label and received from another
// device must resolve to the same medicine, so the key is NFC-normalised,
// case-folded and has inner whitespace collapsed.
func NameKey(name string) string {
	n := norm.NFC.String(strings.TrimSpace(name))
	n = strings.Join(strings.Fields(n), " ")
	// A Caser carries state, so each call gets its own.
	return cases.Fold().String(n)
}
