package texture

import (
	"errors"
	"fmt"
)

var (
	// ErrTransport marks a failure to reach or talk to the decode backend.
	ErrTransport = errors.New("transport error")
	// ErrDecode marks an asset that could not be decoded into pixels.
	ErrDecode = errors.New("decode error")
	// ErrOversize marks a decoded image above the texture size limit. It is
	// always reported together with ErrDecode.
	ErrOversize = errors.New("image too large")
	// ErrUnsupported marks a decode kind the backend does not serve.
	ErrUnsupported = errors.New("unsupported")
)

// Wrap tags err with marker so callers can classify it with errors.Is.
func Wrap(marker error, operation string, err error) error {
	if marker == nil {
		marker = ErrDecode
	}
	if err == nil {
		return fmt.Errorf("%w: %s", marker, operation)
	}
	return fmt.Errorf("%w: %s: %w", marker, operation, err)
}

func oversize(width, height, limit int) error {
	return fmt.Errorf("%w: %w: %dx%d exceeds %dx%d", ErrDecode, ErrOversize, width, height, limit, limit)
}
