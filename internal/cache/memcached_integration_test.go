//go:build integration
// +build integration

package cache

import (
	"testing"
	"time"

	"github.com/sightama/canifuckingdownwindtoday/internal/models"
)

// TestMemcachedPoolStore_SetGet_Integration verifies the offline pool round
// trips through a running memcached server.
func TestMemcachedPoolStore_SetGet_Integration(t *testing.T) {
	c, err := NewMemcachedPoolStore("localhost:11211", 500*time.Millisecond, 2)
	if err != nil {
		t.Fatalf("NewMemcachedPoolStore() error = %v", err)
	}
	defer c.Close()

	pool := models.PersonaPool{
		"zen_coach":      {"the sensor sleeps", "stillness is also data"},
		"drill_sergeant": {"no data is no excuse"},
	}
	if err := c.Set(pool); err != nil {
		t.Skipf("Set failed (memcached may not be running): %v", err)
	}

	got, ok, err := c.Get()
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !ok {
		t.Fatal("Get() ok = false, want true")
	}
	if len(got["zen_coach"]) != 2 || got["drill_sergeant"][0] != "no data is no excuse" {
		t.Errorf("Get() = %+v, want stored pool", got)
	}
}

// TestMemcachedPoolStore_Clear_Integration verifies Clear removes the pool
// and a repeat Clear is not an error.
func TestMemcachedPoolStore_Clear_Integration(t *testing.T) {
	c, err := NewMemcachedPoolStore("localhost:11211", 500*time.Millisecond, 2)
	if err != nil {
		t.Fatalf("NewMemcachedPoolStore() error = %v", err)
	}
	defer c.Close()

	if err := c.Set(models.PersonaPool{"x": {"y"}}); err != nil {
		t.Skipf("Set failed (memcached may not be running): %v", err)
	}
	if err := c.Clear(); err != nil {
		t.Fatalf("Clear() error = %v", err)
	}
	if _, ok, _ := c.Get(); ok {
		t.Error("Get() ok = true after Clear, want false")
	}
	if err := c.Clear(); err != nil {
		t.Errorf("repeat Clear() error = %v, want nil", err)
	}
}
