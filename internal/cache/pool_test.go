package cache

import (
	"testing"

	"github.com/sightama/canifuckingdownwindtoday/internal/models"
)

// TestMemoryPoolStore_DeepCopies verifies callers cannot mutate stored pool
// data through returned references.
func TestMemoryPoolStore_DeepCopies(t *testing.T) {
	m := NewMemoryPoolStore()
	pool := models.PersonaPool{"zen_coach": {"original"}}
	if err := m.Set(pool); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	pool["zen_coach"][0] = "mutated after set"
	got, ok, err := m.Get()
	if err != nil || !ok {
		t.Fatalf("Get() = %v, %v", ok, err)
	}
	if got["zen_coach"][0] != "original" {
		t.Errorf("stored line = %q, want original (caller mutation leaked in)", got["zen_coach"][0])
	}

	got["zen_coach"][0] = "mutated after get"
	again, _, _ := m.Get()
	if again["zen_coach"][0] != "original" {
		t.Errorf("stored line = %q, want original (reader mutation leaked in)", again["zen_coach"][0])
	}
}

// TestMemoryPoolStore_Clear verifies Clear empties the store.
func TestMemoryPoolStore_Clear(t *testing.T) {
	m := NewMemoryPoolStore()
	if err := m.Set(models.PersonaPool{"x": {"y"}}); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if err := m.Clear(); err != nil {
		t.Fatalf("Clear() error = %v", err)
	}
	if _, ok, _ := m.Get(); ok {
		t.Error("Get() ok = true after Clear, want false")
	}
}
