package shadow

import (
	"context"
	"sort"
	"sync"
)

// MemoryRepository implements Repository with a process-local map.
//
// State is lost on restart and visible only within this process; it suits
// development, tests, and single-node deployments where durability is not
// required. All operations complete without suspending.
type MemoryRepository struct {
	mu      sync.RWMutex
	shadows map[string]*Shadow
}

// NewMemoryRepository creates an empty in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		shadows: make(map[string]*Shadow),
	}
}

// Get retrieves the shadow for a device id.
func (r *MemoryRepository) Get(_ context.Context, deviceID string) (*Shadow, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sh, ok := r.shadows[deviceID]
	if !ok {
		return nil, ErrNotFound
	}
	return sh.Clone(), nil
}

// List retrieves all shadows, ordered by device id.
func (r *MemoryRepository) List(_ context.Context) ([]Shadow, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	shadows := make([]Shadow, 0, len(r.shadows))
	for _, sh := range r.shadows {
		shadows = append(shadows, *sh.Clone())
	}
	sort.Slice(shadows, func(i, j int) bool {
		return shadows[i].DeviceID < shadows[j].DeviceID
	})
	return shadows, nil
}

// Create inserts a new shadow.
func (r *MemoryRepository) Create(_ context.Context, sh *Shadow) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.shadows[sh.DeviceID]; exists {
		return ErrExists
	}
	r.shadows[sh.DeviceID] = sh.Clone()
	return nil
}

// Update replaces a stored shadow wholesale.
func (r *MemoryRepository) Update(_ context.Context, sh *Shadow) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.shadows[sh.DeviceID]; !exists {
		return ErrNotFound
	}
	r.shadows[sh.DeviceID] = sh.Clone()
	return nil
}

// Delete removes the shadow for a device id.
func (r *MemoryRepository) Delete(_ context.Context, deviceID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.shadows[deviceID]; !exists {
		return ErrNotFound
	}
	delete(r.shadows, deviceID)
	return nil
}

// UpdateReported overlays partial on the stored reported state.
// The mutation happens under the write lock, so concurrent writers serialise
// and each observes the previous writer's version.
func (r *MemoryRepository) UpdateReported(_ context.Context, deviceID string, partial State) (*Shadow, error) {
	return r.mutate(deviceID, func(sh *Shadow) {
		sh.UpdateReported(partial)
	})
}

// UpdateDesired overlays partial on the stored desired state.
func (r *MemoryRepository) UpdateDesired(_ context.Context, deviceID string, partial State) (*Shadow, error) {
	return r.mutate(deviceID, func(sh *Shadow) {
		sh.UpdateDesired(partial)
	})
}

// ClearDesired resets the stored desired state to empty.
func (r *MemoryRepository) ClearDesired(_ context.Context, deviceID string) (*Shadow, error) {
	return r.mutate(deviceID, func(sh *Shadow) {
		sh.ClearDesired()
	})
}

// Delta returns the outstanding desired-vs-reported difference.
func (r *MemoryRepository) Delta(_ context.Context, deviceID string) (map[string]any, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sh, ok := r.shadows[deviceID]
	if !ok {
		return nil, ErrNotFound
	}
	return sh.Delta(), nil
}

// mutate applies fn to the stored shadow under the write lock and returns a
// copy of the result.
func (r *MemoryRepository) mutate(deviceID string, fn func(*Shadow)) (*Shadow, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sh, ok := r.shadows[deviceID]
	if !ok {
		return nil, ErrNotFound
	}
	fn(sh)
	return sh.Clone(), nil
}
