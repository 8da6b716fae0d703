// Package imagesource turns a selected file or a stored data URL into an
// upload payload and manages the preview of the current selection.
package imagesource

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"snap2serve/internal/failure"
)

// DefaultFilename is used for payloads decoded from a data URL.
const DefaultFilename = "ingredients.jpg"

// MaxImageBytes bounds what FromReader will accept.
const MaxImageBytes = 20 << 20

// Payload is an image ready for multipart upload.
type Payload struct {
	Filename    string
	ContentType string
	Data        []byte
}

// Hash calculates the SHA256 hash of the image data.
func (p *Payload) Hash() string {
	hash := sha256.Sum256(p.Data)
	return hex.EncodeToString(hash[:])
}

// DataURL encodes the payload as a base64 data URL for session carryover.
func (p *Payload) DataURL() string {
	return "data:" + p.ContentType + ";base64," + base64.StdEncoding.EncodeToString(p.Data)
}

// FromFile reads an image from disk.
func FromFile(path string) (*Payload, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &failure.InvalidImageError{Reason: fmt.Sprintf("open image: %v", err)}
	}
	defer f.Close()

	return FromReader(filepath.Base(path), f)
}

// FromReader reads an image from r. The content type is sniffed from the
// bytes; anything that is not an image is rejected.
func FromReader(name string, r io.Reader) (*Payload, error) {
	data, err := io.ReadAll(io.LimitReader(r, MaxImageBytes+1))
	if err != nil {
		return nil, &failure.InvalidImageError{Reason: fmt.Sprintf("read image: %v", err)}
	}
	if len(data) > MaxImageBytes {
		return nil, &failure.InvalidImageError{Reason: "image is too large"}
	}
	return newPayload(name, "", data)
}

// FromDataURL decodes a data URL (base64 or percent-encoded) into a payload.
// No network access is involved.
func FromDataURL(s string) (*Payload, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, &failure.InvalidImageError{}
	}
	rest, ok := strings.CutPrefix(s, "data:")
	if !ok {
		return nil, &failure.InvalidImageError{Reason: "not a data URL"}
	}
	meta, body, ok := strings.Cut(rest, ",")
	if !ok {
		return nil, &failure.InvalidImageError{Reason: "malformed data URL"}
	}

	isBase64 := false
	contentType := ""
	for i, part := range strings.Split(meta, ";") {
		switch {
		case i == 0:
			contentType = strings.ToLower(strings.TrimSpace(part))
		case strings.EqualFold(part, "base64"):
			isBase64 = true
		}
	}

	var data []byte
	if isBase64 {
		var err error
		data, err = base64.StdEncoding.DecodeString(body)
		if err != nil {
			data, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(body, "="))
		}
		if err != nil {
			return nil, &failure.InvalidImageError{Reason: fmt.Sprintf("decode data URL: %v", err)}
		}
	} else {
		decoded, err := url.PathUnescape(body)
		if err != nil {
			return nil, &failure.InvalidImageError{Reason: fmt.Sprintf("decode data URL: %v", err)}
		}
		data = []byte(decoded)
	}

	return newPayload(DefaultFilename, contentType, data)
}

func newPayload(name, contentType string, data []byte) (*Payload, error) {
	if len(data) == 0 {
		return nil, &failure.InvalidImageError{Reason: "image is empty"}
	}
	sniffed := http.DetectContentType(data)
	if !strings.HasPrefix(contentType, "image/") {
		contentType = sniffed
	}
	if !strings.HasPrefix(contentType, "image/") {
		return nil, &failure.InvalidImageError{Reason: "Please upload an image file."}
	}
	if name == "" {
		name = DefaultFilename
	}
	return &Payload{Filename: name, ContentType: contentType, Data: data}, nil
}
