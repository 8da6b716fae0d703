// Package failure holds the error taxonomy shared by the image adapter,
// the two HTTP collaborators and the pipeline.
package failure

import (
	"errors"
	"fmt"
)

// InvalidImageError is returned when a pipeline run needs an image and none
// is available, or the bytes offered are not an image.
type InvalidImageError struct {
	Reason string
}

func (e *InvalidImageError) Error() string {
	if e.Reason == "" {
		return "no uploaded image found"
	}
	return e.Reason
}

// DetectionError is a non-success answer from the ingredient detection
// service. Body is the raw response text.
type DetectionError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *DetectionError) Error() string {
	if e.Body != "" {
		return e.Body
	}
	return fmt.Sprintf("Scan failed: %d", e.StatusCode)
}

func (e *DetectionError) Unwrap() error { return e.Err }

// RecommendationError is a non-success answer from the recipe
// recommendation service. Body is the raw response text.
type RecommendationError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *RecommendationError) Error() string {
	if e.Body != "" {
		return e.Body
	}
	return fmt.Sprintf("Recipes failed: %d", e.StatusCode)
}

func (e *RecommendationError) Unwrap() error { return e.Err }

// NetworkError is a transport-level failure (unreachable host, reset
// connection, cancelled request).
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// Message returns the single user-visible string for err.
func Message(err error) string {
	if err == nil {
		return ""
	}

	var detErr *DetectionError
	if errors.As(err, &detErr) {
		return detErr.Error()
	}
	var recErr *RecommendationError
	if errors.As(err, &recErr) {
		return recErr.Error()
	}
	var imgErr *InvalidImageError
	if errors.As(err, &imgErr) {
		return imgErr.Error()
	}
	return err.Error()
}
