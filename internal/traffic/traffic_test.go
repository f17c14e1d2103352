package traffic

import (
	"testing"
	"time"
)

// TestErrorRate_Empty verifies zero counts with nothing recorded.
func TestErrorRate_Empty(t *testing.T) {
	Reset()
	errors, total := ErrorRate(time.Minute)
	if errors != 0 || total != 0 {
		t.Errorf("ErrorRate() = %d, %d, want 0, 0", errors, total)
	}
}

// TestErrorRate_MixedOutcomes verifies errors and total count both outcome
// kinds.
func TestErrorRate_MixedOutcomes(t *testing.T) {
	Reset()
	RecordSuccess()
	RecordSuccess()
	RecordSuccess()
	RecordError()
	errors, total := ErrorRate(time.Minute)
	if errors != 1 {
		t.Errorf("errors = %d, want 1", errors)
	}
	if total != 4 {
		t.Errorf("total = %d, want 4", total)
	}
}

// TestErrorRate_WindowExcludesOld verifies outcomes outside the window are
// not counted.
func TestErrorRate_WindowExcludesOld(t *testing.T) {
	var tr Tracker
	tr.RecordError()
	time.Sleep(20 * time.Millisecond)
	tr.RecordSuccess()

	errors, total := tr.ErrorRate(10 * time.Millisecond)
	if errors != 0 {
		t.Errorf("errors = %d, want 0 (outside window)", errors)
	}
	if total != 1 {
		t.Errorf("total = %d, want 1", total)
	}
}

// TestReset clears all recorded outcomes.
func TestReset(t *testing.T) {
	RecordError()
	RecordSuccess()
	Reset()
	errors, total := ErrorRate(time.Minute)
	if errors != 0 || total != 0 {
		t.Errorf("ErrorRate() after Reset = %d, %d, want 0, 0", errors, total)
	}
}
