package shadow

import "context"

// Repository defines the interface for shadow persistence operations.
// This abstraction allows for different implementations (in-memory, SQLite)
// selected at composition time, and enables unit testing without database
// dependencies.
//
// Copy semantics: every Shadow returned to a caller is an independent copy.
// Mutating a returned shadow never affects repository-internal state; the
// repository is the exclusive owner of the stored instances.
type Repository interface {
	// Get retrieves the shadow for a device id.
	// Returns ErrNotFound if no shadow exists.
	Get(ctx context.Context, deviceID string) (*Shadow, error)

	// List retrieves all shadows, ordered by device id.
	List(ctx context.Context) ([]Shadow, error)

	// Create inserts a new shadow.
	// Returns ErrExists if the device id already has one.
	Create(ctx context.Context, sh *Shadow) error

	// Update replaces a stored shadow wholesale.
	// Returns ErrNotFound if the device id has no shadow.
	Update(ctx context.Context, sh *Shadow) error

	// Delete removes the shadow for a device id.
	// Returns ErrNotFound if no shadow exists.
	Delete(ctx context.Context, deviceID string) error

	// UpdateReported overlays partial on the stored reported state,
	// increments the version, persists, and returns a copy of the result.
	// Returns ErrNotFound if no shadow exists.
	UpdateReported(ctx context.Context, deviceID string, partial State) (*Shadow, error)

	// UpdateDesired is the desired-side counterpart of UpdateReported.
	UpdateDesired(ctx context.Context, deviceID string, partial State) (*Shadow, error)

	// ClearDesired resets the stored desired state to empty, increments the
	// version, persists, and returns a copy of the result.
	ClearDesired(ctx context.Context, deviceID string) (*Shadow, error)

	// Delta returns the outstanding desired-vs-reported difference.
	// Returns ErrNotFound if no shadow exists.
	Delta(ctx context.Context, deviceID string) (map[string]any, error)
}
