package gemini

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"snap2serve/internal/failure"
	"snap2serve/internal/imagesource"
	"snap2serve/internal/ingredient"
	"snap2serve/internal/platform/detection"
	"snap2serve/internal/platform/recommend"
	"snap2serve/internal/recipe"
)

const detectPrompt = "List the food ingredients visible in this image. Return a single, clean JSON object with one key, 'ingredients', holding an array of objects with 'name' (string, singular, lowercase) and 'confidence' (number between 0 and 1). Return {\"ingredients\": []} if there is no food. The JSON response should be clean and not contain any markdown formatting (e.g., ```json)."

const recommendPrompt = "You are a cooking assistant. Given the ingredients I have and what I want, return a single, clean JSON object with two keys: 'recipes', an array of 3 recipe ideas each with 'title' (string), 'time_mins' (number), 'difficulty' (string), 'ingredients' (array of objects with 'name' and 'amount'), 'steps' (array of short strings) and 'missing_items' (array of strings); and 'shopping_list', the merged missing items grouped by category (map of category name to array of strings). The JSON response should be clean and not contain any markdown formatting (e.g., ```json)."

// Client detects ingredients and recommends recipes directly through the
// Gemini API, for running without the detection and recommendation
// services.
type Client struct {
	client *genai.Client
	model  *genai.GenerativeModel
	log    *slog.Logger
}

// NewClient creates a new Gemini client.
func NewClient(ctx context.Context, apiKey, model string, log *slog.Logger) (*Client, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = slog.Default()
	}
	return &Client{client: client, model: client.GenerativeModel(model), log: log}, nil
}

func (c *Client) Close() error {
	return c.client.Close()
}

// Detect asks the model for the ingredients in the image.
func (c *Client) Detect(ctx context.Context, p *imagesource.Payload) ([]ingredient.Ingredient, error) {
	if p == nil || len(p.Data) == 0 {
		return nil, &failure.InvalidImageError{}
	}

	format := strings.TrimPrefix(p.ContentType, "image/")
	text, err := c.generate(ctx, genai.ImageData(format, p.Data), genai.Text(detectPrompt))
	if err != nil {
		return nil, &failure.DetectionError{Body: err.Error(), Err: err}
	}

	clean, err := extractJSON(text)
	if err != nil {
		return nil, &failure.DetectionError{Body: text, Err: err}
	}
	ings, err := detection.Normalize([]byte(clean))
	if err != nil {
		return nil, &failure.DetectionError{Body: clean, Err: err}
	}
	c.log.Debug("gemini detected ingredients", "count", len(ings))
	return ings, nil
}

// Recommend asks the model for recipes using the given ingredients.
func (c *Client) Recommend(ctx context.Context, names []string, preference string) (*recipe.Result, error) {
	req := recommend.BuildRequest(recommend.ShapeConfirmed, names, preference)
	promptText := recommendPrompt + fmt.Sprintf(" Ingredients I have: %s.", strings.Join(req.IngredientsConfirmed, ", "))
	if preference != "" {
		promptText += fmt.Sprintf(" What I want: %s.", preference)
	}

	text, err := c.generate(ctx, genai.Text(promptText))
	if err != nil {
		return nil, &failure.RecommendationError{Body: err.Error(), Err: err}
	}

	clean, err := extractJSON(text)
	if err != nil {
		return nil, &failure.RecommendationError{Body: text, Err: err}
	}
	res, err := recommend.Normalize([]byte(clean))
	if err != nil {
		return nil, &failure.RecommendationError{Body: clean, Err: err}
	}
	c.log.Debug("gemini recommended recipes", "count", len(res.Recipes))
	return res, nil
}

func (c *Client) generate(ctx context.Context, parts ...genai.Part) (string, error) {
	resp, err := c.model.GenerateContent(ctx, parts...)
	if err != nil {
		return "", fmt.Errorf("gemini: %w", err)
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("empty response from Gemini")
	}

	text, ok := resp.Candidates[0].Content.Parts[0].(genai.Text)
	if !ok {
		return "", fmt.Errorf("unexpected response format from Gemini")
	}
	return string(text), nil
}

// extractJSON cuts the outermost JSON object out of a model reply, which
// might be wrapped in markdown.
func extractJSON(s string) (string, error) {
	startIndex := strings.Index(s, "{")
	endIndex := strings.LastIndex(s, "}")

	if startIndex == -1 || endIndex == -1 || startIndex > endIndex {
		return "", fmt.Errorf("could not find JSON object in response: %s", s)
	}
	return s[startIndex : endIndex+1], nil
}
