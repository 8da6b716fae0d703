// Package shopping holds the flat shopping list built from recipes'
// missing items.
package shopping

import "strings"

// List is an ordered set of free-text items. Uniqueness is checked
// case-insensitively on insertion only. The zero value is ready to use.
type List struct {
	items []string
}

// MergeMissing appends every candidate that is non-empty after trimming and
// not already present, keeping the casing of the first insertion. It returns
// the number of items added.
func (l *List) MergeMissing(items []string) int {
	seen := make(map[string]struct{}, len(l.items)+len(items))
	for _, it := range l.items {
		seen[strings.ToLower(strings.TrimSpace(it))] = struct{}{}
	}

	added := 0
	for _, it := range items {
		t := strings.TrimSpace(it)
		if t == "" {
			continue
		}
		k := strings.ToLower(t)
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		l.items = append(l.items, t)
		added++
	}
	return added
}

// Remove deletes the item at index i. Out of range is a no-op.
func (l *List) Remove(i int) bool {
	if i < 0 || i >= len(l.items) {
		return false
	}
	l.items = append(l.items[:i:i], l.items[i+1:]...)
	return true
}

func (l *List) Clear() {
	l.items = nil
}

// ExportText joins the items with newlines for the clipboard.
func (l *List) ExportText() string {
	return strings.Join(l.items, "\n")
}

// Items returns a copy of the items in insertion order.
func (l *List) Items() []string {
	out := make([]string, len(l.items))
	copy(out, l.items)
	return out
}

func (l *List) Len() int { return len(l.items) }
