// Package symbols canonicalizes ticker lists into the sets used as
// subscription targets and cache keys.
package symbols

import (
	"fmt"
	"slices"
	"strings"
)

// Set is a canonical symbol set: trimmed, uppercased, de-duplicated and sorted.
// The zero value is an empty set.
type Set struct {
	items []string
}

// New canonicalizes the given identifiers. Blank items are dropped.
func New(items ...string) Set {
	out := make([]string, 0, len(items))
	for _, s := range items {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s != "" {
			out = append(out, s)
		}
	}
	slices.Sort(out)
	return Set{items: slices.Compact(out)}
}

// FromCSV splits a comma-separated list and canonicalizes it.
func FromCSV(csv string) Set {
	return New(strings.Split(csv, ",")...)
}

// Key is the canonical string form, identical for any two inputs naming the
// same symbols.
func (s Set) Key() string { return strings.Join(s.items, ",") }

func (s Set) Len() int { return len(s.items) }

// Symbols returns a copy of the sorted identifiers.
func (s Set) Symbols() []string { return slices.Clone(s.items) }

func (s Set) String() string { return s.Key() }

// ValidationError is a client-caused rejection of a subscription request.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return e.Reason }

// Parse canonicalizes a comma-separated list and enforces 1..max symbols.
// A max <= 0 disables the upper bound.
func Parse(csv string, max int) (Set, error) {
	return Validate(FromCSV(csv), max)
}

// Validate enforces the size bounds on an already canonical set.
func Validate(set Set, max int) (Set, error) {
	if set.Len() == 0 {
		return Set{}, &ValidationError{Reason: `missing "symbols": provide a comma-separated list, e.g. symbols=ACB,FPT`}
	}
	if max > 0 && set.Len() > max {
		return Set{}, &ValidationError{Reason: fmt.Sprintf("too many symbols: %d requested, max %d", set.Len(), max)}
	}
	return set, nil
}
