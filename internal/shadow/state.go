package shadow

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// State is an immutable, flat snapshot of device properties.
//
// Properties are device-defined and schema-free: each value is a JSON-like
// value (string, number, bool, nested object or array). The zero value is an
// empty state and is ready to use.
//
// State never mutates in place. Update returns a new State; accessors return
// deep copies, so a value handed to a caller can never reach back into the
// snapshot.
type State struct {
	values map[string]any
}

// NewState creates a State from the given property map.
// The input is deep-copied; a nil map yields an empty state.
func NewState(values map[string]any) State {
	return State{values: deepCopyMap(values)}
}

// ParseState decodes a JSON document into a State.
//
// The document must be a JSON object. Anything else (array, scalar, null,
// malformed input) is rejected with ErrInvalidState — this is the validation
// boundary for all externally supplied state documents.
func ParseState(raw []byte) (State, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return State{}, fmt.Errorf("%w: payload must be a JSON object", ErrInvalidState)
	}

	var values map[string]any
	if err := json.Unmarshal(trimmed, &values); err != nil {
		return State{}, fmt.Errorf("%w: %w", ErrInvalidState, err)
	}

	return State{values: values}, nil
}

// Get returns the value for key and whether it is present.
// Nested objects and arrays are returned as deep copies.
func (s State) Get(key string) (any, bool) {
	v, ok := s.values[key]
	if !ok {
		return nil, false
	}
	return deepCopyValue(v), true
}

// GetDefault returns the value for key, or def if the key is absent.
func (s State) GetDefault(key string, def any) any {
	if v, ok := s.Get(key); ok {
		return v
	}
	return def
}

// Contains reports whether key is present.
func (s State) Contains(key string) bool {
	_, ok := s.values[key]
	return ok
}

// Len returns the number of properties.
func (s State) Len() int {
	return len(s.values)
}

// Map returns the properties as a deep-copied map.
func (s State) Map() map[string]any {
	if s.values == nil {
		return map[string]any{}
	}
	return deepCopyMap(s.values)
}

// Update returns a new State formed by overlaying partial on s.
//
// The merge is shallow: a key present in partial replaces the whole value,
// including nested objects; keys absent from partial survive unchanged.
// There is no key deletion at this layer.
func (s State) Update(partial State) State {
	merged := make(map[string]any, len(s.values)+len(partial.values))
	for k, v := range s.values {
		merged[k] = v
	}
	for k, v := range partial.values {
		merged[k] = deepCopyValue(v)
	}
	return State{values: merged}
}

// MarshalJSON encodes the state as a JSON object ("{}" when empty).
func (s State) MarshalJSON() ([]byte, error) {
	if s.values == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(s.values)
}

// UnmarshalJSON decodes a JSON object, rejecting non-object documents
// with ErrInvalidState.
func (s *State) UnmarshalJSON(data []byte) error {
	parsed, err := ParseState(data)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// deepCopyMap creates a deep copy of a map[string]any.
// Nested maps and slices are recursively copied.
func deepCopyMap(m map[string]any) map[string]any {
	cpy := make(map[string]any, len(m))
	for k, v := range m {
		cpy[k] = deepCopyValue(v)
	}
	return cpy
}

// deepCopyValue recursively copies a value, handling nested maps and slices.
func deepCopyValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return deepCopyMap(val)
	case []any:
		cpy := make([]any, len(val))
		for i, elem := range val {
			cpy[i] = deepCopyValue(elem)
		}
		return cpy
	default:
		// Primitives (string, bool, float64, etc.) are safe to copy by value
		return v
	}
}
