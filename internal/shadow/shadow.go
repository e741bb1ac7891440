package shadow

import (
	"reflect"
	"time"
)

// Shadow is the reconciled cloud view of a single device.
//
// Reported holds the last state snapshot observed from the physical device;
// Desired holds the target state an operator or automation wants it to reach.
// The two substates are independently mutable and never cross-validated here.
//
// Version starts at 1 and increases by exactly 1 per successful mutation; it
// acts as a cheap causality marker for observers and as the compare-and-swap
// key for the durable repository.
type Shadow struct {
	DeviceID  string    `json:"device_id"`
	Reported  State     `json:"reported"`
	Desired   State     `json:"desired"`
	Version   int64     `json:"version"`
	Timestamp time.Time `json:"timestamp"`
}

// NewShadow creates a version-1 shadow with the given reported state and an
// empty desired state.
func NewShadow(deviceID string, reported State) *Shadow {
	return &Shadow{
		DeviceID:  deviceID,
		Reported:  reported,
		Desired:   State{},
		Version:   1,
		Timestamp: time.Now().UTC(),
	}
}

// UpdateReported overlays partial on the reported state.
func (s *Shadow) UpdateReported(partial State) {
	s.Reported = s.Reported.Update(partial)
	s.touch()
}

// UpdateDesired overlays partial on the desired state.
func (s *Shadow) UpdateDesired(partial State) {
	s.Desired = s.Desired.Update(partial)
	s.touch()
}

// ClearDesired resets the desired state to empty.
// Used after a device has converged on its target state.
func (s *Shadow) ClearDesired() {
	s.Desired = State{}
	s.touch()
}

// touch records a mutation: version bump plus timestamp refresh.
func (s *Shadow) touch() {
	s.Version++
	s.Timestamp = time.Now().UTC()
}

// Delta returns the desired properties not yet matched by reported ones.
//
// A key appears in the delta when it is present in desired and either absent
// from reported or carrying a different value. Keys present only in reported
// never appear: downstream reconciliation depends on this desired-only view.
func (s *Shadow) Delta() map[string]any {
	delta := make(map[string]any)
	for k, want := range s.Desired.values {
		have, ok := s.Reported.values[k]
		if !ok || !reflect.DeepEqual(have, want) {
			delta[k] = deepCopyValue(want)
		}
	}
	return delta
}

// Clone creates a complete independent copy of the Shadow.
// Both substates are deep-copied so modifications to the copy do not affect
// the original. This is essential for repository isolation.
func (s *Shadow) Clone() *Shadow {
	if s == nil {
		return nil
	}
	return &Shadow{
		DeviceID:  s.DeviceID,
		Reported:  NewState(s.Reported.values),
		Desired:   NewState(s.Desired.values),
		Version:   s.Version,
		Timestamp: s.Timestamp,
	}
}
