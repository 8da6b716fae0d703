package recipe

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Recipe represents one suggestion returned by the recommendation service.
// Recipes are never edited after decoding.
type Recipe struct {
	Title            string             `json:"title"`
	TimeMins         *int               `json:"time_mins,omitempty"`
	Difficulty       string             `json:"difficulty,omitempty"`
	Ingredients      []RecipeIngredient `json:"ingredients,omitempty"`
	Steps            []string           `json:"steps,omitempty"`
	MissingItems     []string           `json:"missing_items,omitempty"`
	SourceConfidence *float64           `json:"source_confidence,omitempty"`
}

// RecipeIngredient is one line of a recipe's ingredient list.
type RecipeIngredient struct {
	Name   string `json:"name"`
	Amount string `json:"amount,omitempty"`
}

// UnmarshalJSON implements the json.Unmarshaler interface for Recipe.
// Services disagree on a few fields: time_mins may be a number or a numeric
// string, ingredients may be plain strings, and steps may arrive as
// "instructions".
func (r *Recipe) UnmarshalJSON(data []byte) error {
	type Alias Recipe // Create an alias to avoid infinite recursion
	aux := &struct {
		TimeMins         json.RawMessage `json:"time_mins"`
		Ingredients      json.RawMessage `json:"ingredients"`
		Instructions     []string        `json:"instructions"`
		SourceConfidence json.RawMessage `json:"source_confidence"`
		*Alias
	}{
		Alias: (*Alias)(r),
	}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	r.Title = strings.TrimSpace(r.Title)
	if len(r.Steps) == 0 && len(aux.Instructions) > 0 {
		r.Steps = aux.Instructions
	}

	if n, ok := decodeNumber(aux.TimeMins); ok {
		mins := int(n)
		r.TimeMins = &mins
	}
	if c, ok := decodeNumber(aux.SourceConfidence); ok {
		switch {
		case c < 0:
			c = 0
		case c > 1:
			c = 1
		}
		r.SourceConfidence = &c
	}

	ings, err := decodeIngredients(aux.Ingredients)
	if err != nil {
		return fmt.Errorf("ingredients: %w", err)
	}
	r.Ingredients = ings

	return nil
}

func decodeNumber(raw json.RawMessage) (float64, bool) {
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return 0, false
	}
	var n float64
	if err := json.Unmarshal(raw, &n); err == nil {
		return n, true
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, false
	}
	n, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

func decodeIngredients(raw json.RawMessage) ([]RecipeIngredient, error) {
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}
	var elems []json.RawMessage
	if err := json.Unmarshal(raw, &elems); err != nil {
		return nil, err
	}

	out := make([]RecipeIngredient, 0, len(elems))
	for _, e := range elems {
		var name string
		if err := json.Unmarshal(e, &name); err == nil {
			if name = strings.TrimSpace(name); name != "" {
				out = append(out, RecipeIngredient{Name: name})
			}
			continue
		}
		var ing RecipeIngredient
		if err := json.Unmarshal(e, &ing); err != nil {
			continue
		}
		if ing.Name = strings.TrimSpace(ing.Name); ing.Name != "" {
			out = append(out, ing)
		}
	}
	return out, nil
}

// ShoppingList is the shopping list a recommendation service may return,
// either as a flat list or grouped by category. Exactly one of Items and
// Categories is set.
type ShoppingList struct {
	Items      []string            `json:"-"`
	Categories map[string][]string `json:"-"`
}

// Categorized reports whether the service grouped the list by category.
func (s *ShoppingList) Categorized() bool {
	return s != nil && s.Categories != nil
}

// CategoryNames returns the category names in lexical order.
func (s *ShoppingList) CategoryNames() []string {
	if s == nil {
		return nil
	}
	names := make([]string, 0, len(s.Categories))
	for k := range s.Categories {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// UnmarshalJSON accepts a JSON array of strings or an object mapping
// category to array of strings.
func (s *ShoppingList) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return fmt.Errorf("empty shopping list")
	}
	switch trimmed[0] {
	case '[':
		var items []string
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return fmt.Errorf("flat shopping list: %w", err)
		}
		s.Items = items
		s.Categories = nil
	case '{':
		var cats map[string][]string
		if err := json.Unmarshal(trimmed, &cats); err != nil {
			return fmt.Errorf("categorized shopping list: %w", err)
		}
		s.Items = nil
		s.Categories = cats
	default:
		return fmt.Errorf("unexpected shopping list shape: %.20s", trimmed)
	}
	return nil
}

// MarshalJSON writes the list back in the shape it was received in.
func (s ShoppingList) MarshalJSON() ([]byte, error) {
	if s.Categories != nil {
		return json.Marshal(s.Categories)
	}
	if s.Items == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(s.Items)
}

// Result is what one recommendation call produces. Recipes and ShoppingList
// always travel together.
type Result struct {
	Recipes      []Recipe      `json:"recipes"`
	ShoppingList *ShoppingList `json:"shopping_list,omitempty"`
}
