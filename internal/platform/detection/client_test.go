package detection

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"snap2serve/internal/failure"
	"snap2serve/internal/imagesource"
	"snap2serve/internal/ingredient"
)

var jpegBytes = []byte("\xff\xd8\xff\xe0\x00\x10JFIF\x00fake jpeg body")

func payload() *imagesource.Payload {
	return &imagesource.Payload{Filename: "ingredients.jpg", ContentType: "image/jpeg", Data: jpegBytes}
}

func TestNormalizeShapes(t *testing.T) {
	tests := []struct {
		name string
		body string
		want []ingredient.Ingredient
	}{
		{
			name: "strings",
			body: `{"ingredients":["egg","rice"]}`,
			want: []ingredient.Ingredient{{Name: "egg"}, {Name: "rice"}},
		},
		{
			name: "objects",
			body: `{"ingredients":[{"name":"egg","confidence":0.9}]}`,
			want: []ingredient.Ingredient{{Name: "egg", Confidence: ingredient.Confidence(0.9)}},
		},
		{
			name: "objects without confidence",
			body: `{"ingredients":[{"name":"egg"},{"name":"leek","confidence":null},{"name":"kale","confidence":"high"}]}`,
			want: []ingredient.Ingredient{{Name: "egg"}, {Name: "leek"}, {Name: "kale"}},
		},
		{
			name: "legacy field",
			body: `{"ingredients_detected":[{"name":"tomato","confidence":0.92}]}`,
			want: []ingredient.Ingredient{{Name: "tomato", Confidence: ingredient.Confidence(0.92)}},
		},
		{
			name: "absent",
			body: `{"image_id":"abc"}`,
			want: []ingredient.Ingredient{},
		},
		{
			name: "not an array",
			body: `{"ingredients":"egg"}`,
			want: []ingredient.Ingredient{},
		},
		{
			name: "junk entries dropped",
			body: `{"ingredients":["  ", 42, {"confidence":0.3}, " basil "]}`,
			want: []ingredient.Ingredient{{Name: "basil"}},
		},
		{
			name: "confidence clamped",
			body: `{"ingredients":[{"name":"salt","confidence":1.4}]}`,
			want: []ingredient.Ingredient{{Name: "salt", Confidence: ingredient.Confidence(1)}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Normalize([]byte(tt.body))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNormalizeRejectsNonJSON(t *testing.T) {
	_, err := Normalize([]byte("<html>oops</html>"))
	assert.Error(t, err)
}

func TestDetectSendsMultipartImage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/upload/image", r.URL.Path)

		file, header, err := r.FormFile(FieldName)
		require.NoError(t, err)
		defer file.Close()

		data, err := io.ReadAll(file)
		require.NoError(t, err)
		assert.Equal(t, jpegBytes, data)
		assert.Equal(t, "ingredients.jpg", header.Filename)
		assert.Equal(t, "image/jpeg", header.Header.Get("Content-Type"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ingredients":["tomato","egg"]}`))
	}))
	defer server.Close()

	client := NewClient(server.URL+"/", "", nil)
	got, err := client.Detect(context.Background(), payload())
	require.NoError(t, err)
	assert.Equal(t, []ingredient.Ingredient{{Name: "tomato"}, {Name: "egg"}}, got)
}

func TestDetectEmptyResultIsSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"ingredients":[]}`))
	}))
	defer server.Close()

	got, err := NewClient(server.URL, "/vision/ingredients", nil).Detect(context.Background(), payload())
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestDetectNonSuccessCarriesBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "Please upload an image file.", http.StatusBadRequest)
	}))
	defer server.Close()

	_, err := NewClient(server.URL, "", nil).Detect(context.Background(), payload())
	require.Error(t, err)

	var detErr *failure.DetectionError
	require.True(t, errors.As(err, &detErr))
	assert.Equal(t, http.StatusBadRequest, detErr.StatusCode)
	assert.Equal(t, "Please upload an image file.\n", detErr.Body)
}

func TestDetectUnreachableHost(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	_, err := NewClient(url, "", nil).Detect(context.Background(), payload())

	var netErr *failure.NetworkError
	require.True(t, errors.As(err, &netErr))
	assert.Equal(t, "detect ingredients", netErr.Op)
}

func TestDetectWithoutImage(t *testing.T) {
	_, err := NewClient("http://127.0.0.1:1", "", nil).Detect(context.Background(), nil)

	var imgErr *failure.InvalidImageError
	assert.True(t, errors.As(err, &imgErr))
}
