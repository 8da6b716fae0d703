// Package session provides the session-scoped key-value store that carries
// the selected image and preference text across screens.
package session

import (
	"context"
	"errors"
)

// Keys written by the pipeline.
const (
	KeyImage      = "snap2serve:image"
	KeyPreference = "snap2serve:prompt"
)

var ErrNotFound = errors.New("session value not found")

// Store is the carryover store of one browsing session. Clear drops every
// value it holds.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Put(ctx context.Context, key, value string) error
	Clear(ctx context.Context) error
}
