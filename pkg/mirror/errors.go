package mirror

import "errors"

var (
	// ErrTypeNotFound is returned when an identity has no mirror in the
	// loaded module.
	ErrTypeNotFound = errors.New("no mirror type in loaded module")

	// ErrEntryMissing is returned when a mirrored type has no entry method
	// of the exact required shape.
	ErrEntryMissing = errors.New("entry method missing")

	// ErrExecutionFault is returned when the entry method panics.
	ErrExecutionFault = errors.New("entry method fault")
)
