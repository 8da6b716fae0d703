package shopping

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMergeMissingKeepsFirstCasing(t *testing.T) {
	var l List

	assert.Equal(t, 1, l.MergeMissing([]string{"cheese"}))
	assert.Equal(t, 0, l.MergeMissing([]string{"Cheese"}))
	assert.Equal(t, 0, l.MergeMissing([]string{"  CHEESE  "}))

	assert.Equal(t, []string{"cheese"}, l.Items())
}

func TestMergeMissingTrimsAndSkipsEmpty(t *testing.T) {
	var l List

	added := l.MergeMissing([]string{"  milk ", "", "   ", "Bread", "milk", "bread"})

	assert.Equal(t, 2, added)
	assert.Equal(t, []string{"milk", "Bread"}, l.Items())
}

func TestMergeMissingNeverProducesDuplicates(t *testing.T) {
	var l List
	batches := [][]string{
		{"Basil", "garlic", "GARLIC"},
		{" basil", "Parmesan", "olive oil"},
		{"Olive Oil ", "parmesan", "pine nuts"},
	}
	for _, b := range batches {
		l.MergeMissing(b)
	}

	seen := map[string]bool{}
	for _, it := range l.Items() {
		k := strings.ToLower(strings.TrimSpace(it))
		assert.False(t, seen[k], "duplicate %q", it)
		seen[k] = true
	}
	assert.Equal(t, []string{"Basil", "garlic", "Parmesan", "olive oil", "pine nuts"}, l.Items())
}

func TestRemoveIsPositional(t *testing.T) {
	var l List
	l.MergeMissing([]string{"a", "b", "c"})

	assert.True(t, l.Remove(0))
	assert.True(t, l.Remove(0))
	assert.Equal(t, []string{"c"}, l.Items())

	assert.False(t, l.Remove(1))
	assert.False(t, l.Remove(-2))
	assert.Equal(t, 1, l.Len())
}

func TestClearAndExport(t *testing.T) {
	var l List
	assert.Equal(t, "", l.ExportText())

	l.MergeMissing([]string{"eggs", "flour", "sugar"})
	assert.Equal(t, "eggs\nflour\nsugar", l.ExportText())

	l.Clear()
	assert.Equal(t, 0, l.Len())
	assert.Equal(t, "", l.ExportText())

	// cleared items can be merged again
	assert.Equal(t, 1, l.MergeMissing([]string{"Eggs"}))
}
