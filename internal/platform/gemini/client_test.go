package gemini

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"snap2serve/internal/platform/detection"
)

func TestExtractJSON(t *testing.T) {
	got, err := extractJSON("```json\n{\"ingredients\": [{\"name\": \"egg\"}]}\n```")
	require.NoError(t, err)
	assert.Equal(t, `{"ingredients": [{"name": "egg"}]}`, got)

	ings, err := detection.Normalize([]byte(got))
	require.NoError(t, err)
	require.Len(t, ings, 1)
	assert.Equal(t, "egg", ings[0].Name)

	_, err = extractJSON("I can't see any food here.")
	assert.Error(t, err)

	_, err = extractJSON("} backwards {")
	assert.Error(t, err)
}
