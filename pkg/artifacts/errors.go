package artifacts

import "errors"

var (
	// ErrDuplicateKey is returned when a key is registered twice in one pass.
	ErrDuplicateKey = errors.New("artifact key already registered")

	// ErrInvalidKey is returned when a key is unusable.
	ErrInvalidKey = errors.New("invalid artifact key")

	// ErrWriteFailed is returned when materializing an artifact fails.
	ErrWriteFailed = errors.New("artifact write failed")
)
