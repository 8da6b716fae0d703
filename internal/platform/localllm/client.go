package localllm

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
	"snap2serve/internal/imagesource"
	"snap2serve/internal/ingredient"
	"snap2serve/internal/platform/detection"
	"snap2serve/internal/platform/recommend"
	"snap2serve/internal/recipe"
)

const detectPrompt = "List the food ingredients visible in this image. Please return a single, clean JSON object with one key, 'ingredients', holding an array of objects with 'name' (string) and 'confidence' (number between 0 and 1). The JSON response should be clean and not contain any markdown formatting."

const recommendPrompt = "You are a cooking assistant. Please return a single, clean JSON object with the following keys: 'recipes' (array of 3 objects with 'title', 'time_mins', 'difficulty', 'ingredients' as objects with 'name' and 'amount', 'steps' as strings and 'missing_items' as strings) and 'shopping_list' (map of category name to array of missing items). The JSON response should be clean and not contain any markdown formatting."

// Client represents a client for a local model served behind an
// OpenAI-compatible chat completions endpoint.
type Client struct {
	httpClient *http.Client
	apiURL     string
	model      string
	log        *slog.Logger
}

// NewClient creates a new client for the local LLM.
func NewClient(apiURL, model string, log *slog.Logger) *Client {
	if log == nil {
		log = slog.Default()
	}
	return &Client{
		httpClient: &http.Client{},
		apiURL:     apiURL,
		model:      model,
		log:        log,
	}
}

// Request represents the request body for the local LLM.
type Request struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens"`
}

// Message represents a message in the request.
type Message struct {
	Role    string    `json:"role"`
	Content []Content `json:"content"`
}

// Content represents the content of a message.
type Content struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

// ImageURL represents the image URL in the content.
type ImageURL struct {
	URL string `json:"url"`
}

// Response represents the response from the local LLM.
type Response struct {
	Choices []Choice `json:"choices"`
}

// Choice represents a choice in the response.
type Choice struct {
	Message ResponseMessage `json:"message"`
}

// ResponseMessage represents a message in the response.
type ResponseMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("received non-OK status code: %d", e.code)
}

// GenerateContent sends a prompt, with an optional image data URL, and
// returns the model's reply.
func (c *Client) GenerateContent(ctx context.Context, text string, imageDataURL string) (string, error) {
	content := []Content{{Type: "text", Text: text}}
	if imageDataURL != "" {
		content = append(content, Content{Type: "image_url", ImageURL: &ImageURL{URL: imageDataURL}})
	}

	reqBody := Request{
		Model:       c.model,
		Messages:    []Message{{Role: "user", Content: content}},
		Temperature: 1,
		MaxTokens:   1024,
	}

	reqBytes, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL, bytes.NewBuffer(reqBytes))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", &failure.NetworkError{Op: "call local model", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", &statusError{code: resp.StatusCode, body: string(body)}
	}

	var llmResp Response
	if err := json.NewDecoder(resp.Body).Decode(&llmResp); err != nil {
		return "", fmt.Errorf("failed to decode response body: %w", err)
	}

	if len(llmResp.Choices) > 0 {
		c.log.Debug("local model replied", "chars", len(llmResp.Choices[0].Message.Content))
		return llmResp.Choices[0].Message.Content, nil
	}

	return "", fmt.Errorf("no content found in response")
}

// cleanReply strips the markdown fence models like to add.
func cleanReply(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

func (c *Client) Detect(ctx context.Context, p *imagesource.Payload) ([]ingredient.Ingredient, error) {
	if p == nil || len(p.Data) == 0 {
		return nil, &failure.InvalidImageError{}
	}

	reply, err := c.GenerateContent(ctx, detectPrompt, p.DataURL())
	if err != nil {
		if se, ok := err.(*statusError); ok {
			return nil, &failure.DetectionError{StatusCode: se.code, Body: se.body, Err: err}
		}
		if _, ok := err.(*failure.NetworkError); ok {
			return nil, err
		}
		return nil, &failure.DetectionError{Body: err.Error(), Err: err}
	}

	ings, err := detection.Normalize([]byte(cleanReply(reply)))
	if err != nil {
		return nil, &failure.DetectionError{StatusCode: http.StatusOK, Body: reply, Err: err}
	}
	return ings, nil
}

func (c *Client) Recommend(ctx context.Context, names []string, preference string) (*recipe.Result, error) {
	req := recommend.BuildRequest(recommend.ShapeConfirmed, names, preference)
	prompt := recommendPrompt + fmt.Sprintf(" Ingredients I have: %s.", strings.Join(req.IngredientsConfirmed, ", "))
	if preference != "" {
		prompt += fmt.Sprintf(" What I want: %s.", preference)
	}

	reply, err := c.GenerateContent(ctx, prompt, "")
	if err != nil {
		if se, ok := err.(*statusError); ok {
			return nil, &failure.RecommendationError{StatusCode: se.code, Body: se.body, Err: err}
		}
		if _, ok := err.(*failure.NetworkError); ok {
			return nil, err
		}
		return nil, &failure.RecommendationError{Body: err.Error(), Err: err}
	}

	res, err := recommend.Normalize([]byte(cleanReply(reply)))
	if err != nil {
		return nil, &failure.RecommendationError{StatusCode: http.StatusOK, Body: reply, Err: err}
	}
	return res, nil
}
