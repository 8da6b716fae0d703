package imagesource

import (
	"bytes"
	"encoding/base64"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"snap2serve/internal/failure"
)

func testPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 120, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func isInvalidImage(err error) bool {
	var target *failure.InvalidImageError
	return errors.As(err, &target)
}

func TestFromDataURLBase64(t *testing.T) {
	data := testPNG(t, 4, 4)
	url := "data:image/png;base64," + base64.StdEncoding.EncodeToString(data)

	p, err := FromDataURL(url)
	require.NoError(t, err)

	assert.Equal(t, DefaultFilename, p.Filename)
	assert.Equal(t, "image/png", p.ContentType)
	assert.Equal(t, data, p.Data)
	assert.Equal(t, url, p.DataURL())
}

func TestFromDataURLSniffsMissingType(t *testing.T) {
	data := testPNG(t, 2, 2)

	p, err := FromDataURL("data:;base64," + base64.StdEncoding.EncodeToString(data))
	require.NoError(t, err)
	assert.Equal(t, "image/png", p.ContentType)
}

func TestFromDataURLRejects(t *testing.T) {
	cases := map[string]string{
		"empty":       "",
		"not data":    "https://example.com/a.jpg",
		"no comma":    "data:image/png;base64",
		"bad base64":  "data:image/png;base64,@@@",
		"not image":   "data:text/plain,hello%20world",
		"empty image": "data:image/png;base64,",
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := FromDataURL(in)
			require.Error(t, err)
			assert.True(t, isInvalidImage(err), "got %T", err)
		})
	}
}

func TestFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "fridge.png")
	require.NoError(t, os.WriteFile(path, testPNG(t, 8, 8), 0o644))

	p, err := FromFile(path)
	require.NoError(t, err)
	assert.Equal(t, "fridge.png", p.Filename)
	assert.Equal(t, "image/png", p.ContentType)
	assert.Len(t, p.Hash(), 64)

	_, err = FromFile(filepath.Join(dir, "missing.png"))
	assert.True(t, isInvalidImage(err))
}

func TestFromReaderRejectsText(t *testing.T) {
	_, err := FromReader("notes.txt", bytes.NewBufferString("just some text"))
	assert.True(t, isInvalidImage(err))
}

func TestSelectorReleasesPreviousPreview(t *testing.T) {
	var s Selector

	_, err := s.Payload()
	assert.True(t, isInvalidImage(err))

	first, err := s.Select(&Payload{Filename: "a.png", ContentType: "image/png", Data: testPNG(t, 640, 480)})
	require.NoError(t, err)
	assert.Equal(t, "image/jpeg", first.ContentType)

	thumb, _, err := image.Decode(bytes.NewReader(first.Data))
	require.NoError(t, err)
	assert.LessOrEqual(t, thumb.Bounds().Dx(), PreviewSize)
	assert.LessOrEqual(t, thumb.Bounds().Dy(), PreviewSize)

	for i := 0; i < 5; i++ {
		_, err := s.Select(&Payload{Filename: "b.png", ContentType: "image/png", Data: testPNG(t, 10, 10)})
		require.NoError(t, err)
	}

	assert.True(t, first.Released())
	assert.Nil(t, first.Data)
	assert.Equal(t, 1, s.Live())

	p, err := s.Payload()
	require.NoError(t, err)
	assert.Equal(t, "b.png", p.Filename)

	s.Clear()
	assert.Equal(t, 0, s.Live())
	assert.Nil(t, s.Preview())
	_, err = s.Payload()
	assert.True(t, isInvalidImage(err))
}

// Previews handed out by Preview are copies, so reading them while another
// image is selected is safe.
func TestSelectorPreviewWhileSelecting(t *testing.T) {
	var s Selector
	_, err := s.Select(&Payload{Filename: "a.png", ContentType: "image/png", Data: testPNG(t, 40, 40)})
	require.NoError(t, err)

	next := testPNG(t, 20, 20)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			_, _ = s.Select(&Payload{Filename: "b.png", ContentType: "image/png", Data: next})
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			pv := s.Preview()
			if assert.NotNil(t, pv) {
				assert.NotEmpty(t, pv.Data)
				assert.False(t, pv.Released())
			}
		}
	}()
	wg.Wait()

	pv := s.Preview()
	s.Clear()
	assert.NotEmpty(t, pv.Data, "a copy outlives the selection")
	assert.Equal(t, 0, s.Live())
}

func TestSelectorUndecodablePreviewKeepsBytes(t *testing.T) {
	var s Selector
	raw := []byte("RIFF\x00\x00\x00\x00WEBPVP8 not really")

	pv, err := s.Select(&Payload{Filename: "x.webp", ContentType: "image/webp", Data: raw})
	require.NoError(t, err)
	assert.Equal(t, "image/webp", pv.ContentType)
	assert.Equal(t, raw, pv.Data)

	_, err = s.Select(nil)
	assert.True(t, isInvalidImage(err))
}
