package failure

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMessage(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"detection body", &DetectionError{StatusCode: 500, Body: "model offline"}, "model offline"},
		{"detection empty body", &DetectionError{StatusCode: 502}, "Scan failed: 502"},
		{"recommendation body", &RecommendationError{StatusCode: 429, Body: "slow down"}, "slow down"},
		{"recommendation empty body", &RecommendationError{StatusCode: 500}, "Recipes failed: 500"},
		{"wrapped detection", fmt.Errorf("run 3: %w", &DetectionError{StatusCode: 400, Body: "not an image"}), "not an image"},
		{"invalid image", &InvalidImageError{}, "no uploaded image found"},
		{"network", &NetworkError{Op: "detect ingredients", Err: errors.New("connection refused")}, "detect ingredients: connection refused"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Message(tt.err))
		})
	}
}

func TestNetworkErrorUnwrap(t *testing.T) {
	cause := errors.New("dial tcp: refused")
	err := fmt.Errorf("recommend: %w", &NetworkError{Op: "recommend recipes", Err: cause})

	var netErr *NetworkError
	assert.True(t, errors.As(err, &netErr))
	assert.ErrorIs(t, err, cause)
}
