// Package ingredient holds the user-editable set of confirmed ingredients.
package ingredient

import (
	"errors"
	"strings"
)

var (
	ErrEmptyName       = errors.New("ingredient name is empty")
	ErrDuplicateName   = errors.New("ingredient already in list")
	ErrIndexOutOfRange = errors.New("ingredient index out of range")
)

// Ingredient is one detected or manually added ingredient. Confidence is nil
// when the source did not report one.
type Ingredient struct {
	Name       string   `json:"name"`
	Confidence *float64 `json:"confidence,omitempty"`
}

// Confidence returns a pointer to c clamped into [0, 1].
func Confidence(c float64) *float64 {
	switch {
	case c < 0:
		c = 0
	case c > 1:
		c = 1
	}
	return &c
}

// Set is an ordered ingredient list whose names are unique under
// case-insensitive comparison. The zero value is ready to use. Set is not
// safe for concurrent use; the pipeline owns it and serialises access.
type Set struct {
	items []Ingredient
}

func key(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func (s *Set) indexOf(name string) int {
	k := key(name)
	for i, it := range s.items {
		if key(it.Name) == k {
			return i
		}
	}
	return -1
}

// Add appends name without a confidence. It is a no-op, returning false,
// when name trims to empty or an equal entry already exists.
func (s *Set) Add(name string) bool {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" || s.indexOf(trimmed) >= 0 {
		return false
	}
	s.items = append(s.items, Ingredient{Name: trimmed})
	return true
}

// Rename replaces the name at index i and keeps its confidence. A rename
// that would collide with another entry is rejected so the set never holds
// two equal names.
func (s *Set) Rename(i int, name string) error {
	if i < 0 || i >= len(s.items) {
		return ErrIndexOutOfRange
	}
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return ErrEmptyName
	}
	if j := s.indexOf(trimmed); j >= 0 && j != i {
		return ErrDuplicateName
	}
	s.items[i].Name = trimmed
	return nil
}

// Remove deletes the entry at index i. Out of range is a no-op.
func (s *Set) Remove(i int) bool {
	if i < 0 || i >= len(s.items) {
		return false
	}
	s.items = append(s.items[:i:i], s.items[i+1:]...)
	return true
}

// ReplaceAll swaps the contents for list. Empty names and later duplicates
// are dropped.
func (s *Set) ReplaceAll(list []Ingredient) {
	next := &Set{items: make([]Ingredient, 0, len(list))}
	for _, it := range list {
		trimmed := strings.TrimSpace(it.Name)
		if trimmed == "" || next.indexOf(trimmed) >= 0 {
			continue
		}
		it.Name = trimmed
		if it.Confidence != nil {
			it.Confidence = Confidence(*it.Confidence)
		}
		next.items = append(next.items, it)
	}
	s.items = next.items
}

// Reset empties the set.
func (s *Set) Reset() {
	s.items = nil
}

// Items returns a copy of the entries in order.
func (s *Set) Items() []Ingredient {
	out := make([]Ingredient, len(s.items))
	copy(out, s.items)
	return out
}

// Names returns the trimmed, non-empty names in order.
func (s *Set) Names() []string {
	out := make([]string, 0, len(s.items))
	for _, it := range s.items {
		if n := strings.TrimSpace(it.Name); n != "" {
			out = append(out, n)
		}
	}
	return out
}

func (s *Set) Len() int { return len(s.items) }
