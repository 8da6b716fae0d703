package imagesource

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"sync"

	"github.com/nfnt/resize"

	"snap2serve/internal/failure"
)

// PreviewSize is the bounding box of a generated thumbnail.
const PreviewSize = 320

// Preview is the display resource for the current selection. It must be
// released before the next one is created. Data belongs to the Selector
// until the preview is released; readers outside it use Selector.Preview.
type Preview struct {
	ContentType string
	Data        []byte

	mu       sync.Mutex
	released bool
}

// Released reports whether the selector has dropped this preview.
func (p *Preview) Released() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.released
}

// Selector holds the currently selected image and its preview.
type Selector struct {
	mu      sync.Mutex
	current *Payload
	preview *Preview
	live    int
}

// Select makes p the current image. The previous preview is released before
// the new one is built.
func (s *Selector) Select(p *Payload) (*Preview, error) {
	if p == nil || len(p.Data) == 0 {
		return nil, &failure.InvalidImageError{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.releaseLocked()

	pv, err := buildPreview(p)
	if err != nil {
		return nil, err
	}
	s.current = p
	s.preview = pv
	s.live++
	return pv, nil
}

// Payload returns the current image, or an InvalidImageError if none is
// selected.
func (s *Selector) Payload() (*Payload, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return nil, &failure.InvalidImageError{}
	}
	return s.current, nil
}

// Preview returns a copy of the current preview, nil when nothing is
// selected. The copy stays valid after the selection changes.
func (s *Selector) Preview() *Preview {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.preview == nil {
		return nil
	}
	data := make([]byte, len(s.preview.Data))
	copy(data, s.preview.Data)
	return &Preview{ContentType: s.preview.ContentType, Data: data}
}

// Clear drops the selection and releases its preview.
func (s *Selector) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.releaseLocked()
	s.current = nil
}

// Live reports how many previews are allocated and not yet released.
func (s *Selector) Live() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.live
}

func (s *Selector) releaseLocked() {
	if s.preview == nil {
		return
	}
	s.preview.mu.Lock()
	s.preview.released = true
	s.preview.Data = nil
	s.preview.mu.Unlock()
	s.preview = nil
	s.live--
}

// buildPreview downsizes decodable images to a JPEG thumbnail. Formats the
// standard decoders cannot read (WebP) are previewed as-is.
func buildPreview(p *Payload) (*Preview, error) {
	img, _, err := image.Decode(bytes.NewReader(p.Data))
	if err != nil {
		data := make([]byte, len(p.Data))
		copy(data, p.Data)
		return &Preview{ContentType: p.ContentType, Data: data}, nil
	}

	thumb := resize.Thumbnail(PreviewSize, PreviewSize, img, resize.Lanczos3)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, thumb, &jpeg.Options{Quality: 80}); err != nil {
		return nil, fmt.Errorf("failed to encode preview: %w", err)
	}
	return &Preview{ContentType: "image/jpeg", Data: buf.Bytes()}, nil
}
