// Package recommend is the client for the recipe recommendation service.
package recommend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"snap2serve/internal/failure"
	"snap2serve/internal/recipe"
)

// DefaultPath is the recommendation route on the backend.
const DefaultPath = "/agent/recommend"

// Shape selects which request body the service expects.
type Shape int

const (
	// ShapeConfirmed sends {"ingredients_confirmed": [...], "preference_text": "..."}.
	ShapeConfirmed Shape = iota
	// ShapeLegacy sends {"ingredients": [...]}.
	ShapeLegacy
)

// ParseShape maps a config value to a Shape.
func ParseShape(s string) (Shape, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "confirmed":
		return ShapeConfirmed, nil
	case "legacy":
		return ShapeLegacy, nil
	default:
		return ShapeConfirmed, fmt.Errorf("unknown request shape %q", s)
	}
}

func (s Shape) String() string {
	if s == ShapeLegacy {
		return "legacy"
	}
	return "confirmed"
}

// Request represents the request body for the recommendation service. Only
// the fields of Shape are sent, and the ingredient array is always present.
type Request struct {
	Shape                Shape    `json:"-"`
	Ingredients          []string `json:"ingredients,omitempty"`
	IngredientsConfirmed []string `json:"ingredients_confirmed,omitempty"`
	PreferenceText       *string  `json:"preference_text,omitempty"`
}

func (r Request) MarshalJSON() ([]byte, error) {
	if r.Shape == ShapeLegacy {
		return json.Marshal(struct {
			Ingredients []string `json:"ingredients"`
		}{nonNil(r.Ingredients)})
	}

	var pref string
	if r.PreferenceText != nil {
		pref = *r.PreferenceText
	}
	return json.Marshal(struct {
		IngredientsConfirmed []string `json:"ingredients_confirmed"`
		PreferenceText       string   `json:"preference_text"`
	}{nonNil(r.IngredientsConfirmed), pref})
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// Client represents a client for the recommendation service.
type Client struct {
	httpClient *http.Client
	apiURL     string
	shape      Shape
	log        *slog.Logger
}

// NewClient creates a recommendation client posting to baseURL+path.
func NewClient(baseURL, path string, shape Shape, log *slog.Logger) *Client {
	if path == "" {
		path = DefaultPath
	}
	if log == nil {
		log = slog.Default()
	}
	return &Client{
		httpClient: &http.Client{},
		apiURL:     strings.TrimRight(baseURL, "/") + "/" + strings.TrimLeft(path, "/"),
		shape:      shape,
		log:        log,
	}
}

// BuildRequest trims the names, drops empty ones and lays them out in the
// given shape.
func BuildRequest(shape Shape, names []string, preference string) Request {
	clean := make([]string, 0, len(names))
	for _, n := range names {
		if t := strings.TrimSpace(n); t != "" {
			clean = append(clean, t)
		}
	}

	if shape == ShapeLegacy {
		return Request{Shape: shape, Ingredients: clean}
	}
	return Request{Shape: shape, IngredientsConfirmed: clean, PreferenceText: &preference}
}

// Recommend asks the service for recipes that use the given ingredients.
func (c *Client) Recommend(ctx context.Context, names []string, preference string) (*recipe.Result, error) {
	reqBytes, err := json.Marshal(BuildRequest(c.shape, names, preference))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL, bytes.NewBuffer(reqBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	c.log.Debug("requesting recipes", "url", c.apiURL, "shape", c.shape.String(), "ingredients", len(names))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &failure.NetworkError{Op: "recommend recipes", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &failure.NetworkError{Op: "read recommendation response", Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.log.Warn("recommendation service returned an error", "status", resp.StatusCode)
		return nil, &failure.RecommendationError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	res, err := Normalize(body)
	if err != nil {
		return nil, &failure.RecommendationError{StatusCode: resp.StatusCode, Body: string(body), Err: err}
	}
	c.log.Debug("recipes received", "count", len(res.Recipes), "categorized", res.ShoppingList.Categorized())
	return res, nil
}

// Normalize decodes a recommendation response. A missing or malformed
// "recipes" value yields no recipes and malformed entries are skipped; the
// shopping list keeps whichever shape the service used.
func Normalize(body []byte) (*recipe.Result, error) {
	var resp struct {
		Recipes      json.RawMessage `json:"recipes"`
		ShoppingList json.RawMessage `json:"shopping_list"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode recommendation response: %w", err)
	}

	res := &recipe.Result{Recipes: []recipe.Recipe{}}

	var elems []json.RawMessage
	if err := json.Unmarshal(resp.Recipes, &elems); err == nil {
		for _, e := range elems {
			if t := bytes.TrimSpace(e); len(t) == 0 || t[0] != '{' {
				continue
			}
			var r recipe.Recipe
			if err := json.Unmarshal(e, &r); err != nil {
				continue
			}
			res.Recipes = append(res.Recipes, r)
		}
	}

	if len(resp.ShoppingList) > 0 && !bytes.Equal(bytes.TrimSpace(resp.ShoppingList), []byte("null")) {
		var sl recipe.ShoppingList
		if err := json.Unmarshal(resp.ShoppingList, &sl); err == nil {
			res.ShoppingList = &sl
		}
	}

	return res, nil
}
