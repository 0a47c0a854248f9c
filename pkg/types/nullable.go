package types

import (
	"bytes"
	"encoding/json"

	"github.com/google/uuid"
)

// Nullable tracks whether a JSON field was present and whether it was null,
// so PATCH payloads can distinguish "leave unchanged" from "clear".
type Nullable[T any] struct {
	Set   bool
	Value *T
}

// UnmarshalJSON implements json.Unmarshaler.
func (n *Nullable[T]) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil
	}

	n.Set = true
	if bytes.Equal(trimmed, []byte("null")) {
		n.Value = nil
		return nil
	}

	var parsed T
	if err := json.Unmarshal(trimmed, &parsed); err != nil {
		return err
	}
	n.Value = &parsed
	return nil
}

// Clone returns a copy that does not share the pointed-to value.
func (n Nullable[T]) Clone() Nullable[T] {
	if n.Value == nil {
		return Nullable[T]{Set: n.Set}
	}
	copied := *n.Value
	return Nullable[T]{Set: n.Set, Value: &copied}
}

// NullableUUID is the common case for optional foreign keys.
type NullableUUID = Nullable[uuid.UUID]
