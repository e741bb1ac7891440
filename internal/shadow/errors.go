package shadow

import "errors"

// Domain errors for the shadow package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, shadow.ErrNotFound) {
//	    // handle not found case
//	}
var (
	// ErrNotFound is returned when a device id has no shadow.
	ErrNotFound = errors.New("shadow: not found")

	// ErrExists is returned when creating a shadow for a device id that
	// already has one.
	ErrExists = errors.New("shadow: already exists")

	// ErrInvalidState is returned when a state document is not a JSON object.
	ErrInvalidState = errors.New("shadow: invalid state document")

	// ErrStore is returned when the durable backend fails at the I/O level.
	ErrStore = errors.New("shadow: store failure")

	// ErrConflict is returned when a versioned write loses the
	// compare-and-swap race more times than the retry budget allows.
	ErrConflict = errors.New("shadow: concurrent update conflict")
)
