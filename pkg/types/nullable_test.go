package types

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
)

func TestNullableUnmarshal(t *testing.T) {
	type payload struct {
		ID NullableUUID `json:"id"`
	}

	var got payload
	if err := json.Unmarshal([]byte(`{"id": "00000000-0000-0000-0000-000000000001"}`), &got); err != nil {
		t.Fatalf("unmarshal value: %v", err)
	}
	if !got.ID.Set || got.ID.Value == nil {
		t.Fatalf("expected set uuid, got %v", got.ID)
	}
	if got.ID.Value.String() != "00000000-0000-0000-0000-000000000001" {
		t.Fatalf("unexpected uuid %s", got.ID.Value)
	}

	got = payload{}
	if err := json.Unmarshal([]byte(`{"id": null}`), &got); err != nil {
		t.Fatalf("unmarshal null: %v", err)
	}
	if !got.ID.Set || got.ID.Value != nil {
		t.Fatalf("expected null to be set but nil, got %v", got.ID)
	}

	got = payload{}
	if err := json.Unmarshal([]byte(`{}`), &got); err != nil {
		t.Fatalf("unmarshal empty: %v", err)
	}
	if got.ID.Set {
		t.Fatalf("expected absent field to be unset")
	}
}

func TestNullableClone(t *testing.T) {
	id := uuid.New()
	original := NullableUUID{Set: true, Value: &id}
	clone := original.Clone()
	*clone.Value = uuid.Nil
	if *original.Value != id {
		t.Fatalf("clone shares pointer with original")
	}
}
