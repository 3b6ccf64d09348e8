package webmap

import (
	"errors"
	"fmt"
)

// ErrInput is returned when operational layer JSON is absent or malformed.
var ErrInput = errors.New("webmap: operational layer JSON not provided")

// UnsupportedTypeError is returned for layer types other than dynamic and
// tiled map service layers.
type UnsupportedTypeError struct {
	LayerType string
	Index     int
}

func (e *UnsupportedTypeError) Error() string {
	return fmt.Sprintf("webmap: unsupported layer type %q (entry %d)", e.LayerType, e.Index)
}

func inputErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrInput}, args...)...)
}
