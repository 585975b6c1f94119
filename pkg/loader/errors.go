package loader

import "errors"

var (
	// ErrLoadFailed is returned when the image cannot be loaded into a
	// fresh execution context.
	ErrLoadFailed = errors.New("module load failed")

	// ErrModuleReleased is returned when a module is used after Close.
	ErrModuleReleased = errors.New("module has been released")
)
