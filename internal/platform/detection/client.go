// Package detection is the client for the ingredient detection service.
package detection

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"

	"snap2serve/internal/failure"
	"snap2serve/internal/imagesource"
	"snap2serve/internal/ingredient"
)

// FieldName is the multipart field the detection service reads the image
// from.
const FieldName = "image"

// DefaultPath is the detection route on the backend.
const DefaultPath = "/upload/image"

// Client represents a client for the detection service.
type Client struct {
	httpClient *http.Client
	apiURL     string
	log        *slog.Logger
}

// NewClient creates a detection client posting to baseURL+path. The http
// client carries no timeout; callers bound calls through the context.
func NewClient(baseURL, path string, log *slog.Logger) *Client {
	if path == "" {
		path = DefaultPath
	}
	if log == nil {
		log = slog.Default()
	}
	return &Client{
		httpClient: &http.Client{},
		apiURL:     strings.TrimRight(baseURL, "/") + "/" + strings.TrimLeft(path, "/"),
		log:        log,
	}
}

// Detect uploads the image and returns the detected ingredients. An empty
// list is a successful result.
func (c *Client) Detect(ctx context.Context, p *imagesource.Payload) ([]ingredient.Ingredient, error) {
	if p == nil || len(p.Data) == 0 {
		return nil, &failure.InvalidImageError{}
	}

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`, FieldName, escapeQuotes(p.Filename)))
	header.Set("Content-Type", p.ContentType)
	part, err := writer.CreatePart(header)
	if err != nil {
		return nil, fmt.Errorf("failed to create form part: %w", err)
	}
	if _, err := part.Write(p.Data); err != nil {
		return nil, fmt.Errorf("failed to write image: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	c.log.Debug("uploading image for detection", "url", c.apiURL, "filename", p.Filename, "bytes", len(p.Data))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &failure.NetworkError{Op: "detect ingredients", Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &failure.NetworkError{Op: "read detection response", Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.log.Warn("detection service returned an error", "status", resp.StatusCode)
		return nil, &failure.DetectionError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	ings, err := Normalize(respBody)
	if err != nil {
		return nil, &failure.DetectionError{StatusCode: resp.StatusCode, Body: string(respBody), Err: err}
	}
	c.log.Debug("ingredients detected", "count", len(ings))
	return ings, nil
}

// Normalize converts any of the accepted detection response shapes into the
// canonical ingredient list:
//
//	{"ingredients": ["egg", "rice"]}
//	{"ingredients": [{"name": "egg", "confidence": 0.9}]}
//	{"ingredients_detected": [...]}
//	{}
func Normalize(body []byte) ([]ingredient.Ingredient, error) {
	var resp struct {
		Ingredients json.RawMessage `json:"ingredients"`
		Detected    json.RawMessage `json:"ingredients_detected"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode detection response: %w", err)
	}

	// anything that is not an array counts as no ingredients
	var raw []json.RawMessage
	if err := json.Unmarshal(resp.Ingredients, &raw); err != nil || raw == nil {
		raw = nil
		_ = json.Unmarshal(resp.Detected, &raw)
	}

	out := make([]ingredient.Ingredient, 0, len(raw))
	for _, elem := range raw {
		ing, ok := normalizeOne(elem)
		if !ok {
			continue
		}
		out = append(out, ing)
	}
	return out, nil
}

func normalizeOne(elem json.RawMessage) (ingredient.Ingredient, bool) {
	var name string
	if err := json.Unmarshal(elem, &name); err == nil {
		name = strings.TrimSpace(name)
		return ingredient.Ingredient{Name: name}, name != ""
	}

	var obj struct {
		Name       string          `json:"name"`
		Confidence json.RawMessage `json:"confidence"`
	}
	if err := json.Unmarshal(elem, &obj); err != nil {
		return ingredient.Ingredient{}, false
	}
	name = strings.TrimSpace(obj.Name)
	if name == "" {
		return ingredient.Ingredient{}, false
	}

	ing := ingredient.Ingredient{Name: name}
	var conf *float64
	if err := json.Unmarshal(obj.Confidence, &conf); err == nil && conf != nil {
		ing.Confidence = ingredient.Confidence(*conf)
	}
	return ing, true
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func escapeQuotes(s string) string {
	return quoteEscaper.Replace(s)
}
