package tagcache

import (
	"errors"
	"testing"
)

func TestUpdateAndGet(t *testing.T) {
	c := New("line1")

	c.Update("DB1.DBD0", "temperature", 42.5, "REAL", nil)

	snap, ok := c.Get("temperature")
	if !ok {
		t.Fatal("expected cached snapshot for alias")
	}
	if snap.Value != 42.5 {
		t.Errorf("Value = %v, want 42.5", snap.Value)
	}
	if snap.Name != "DB1.DBD0" {
		t.Errorf("Name = %q, want DB1.DBD0", snap.Name)
	}
}

func TestUpdateNoAliasKeysByName(t *testing.T) {
	c := New("line1")
	c.Update("MW20", "", int64(7), "INT", nil)

	if _, ok := c.Get("MW20"); !ok {
		t.Fatal("expected snapshot keyed by name when alias is empty")
	}
}

func TestUpdateRecordsError(t *testing.T) {
	c := New("line1")
	c.Update("DB1.DBX0.0", "", nil, "BOOL", errors.New("read timeout"))

	snap, ok := c.Get("DB1.DBX0.0")
	if !ok {
		t.Fatal("expected snapshot even on error")
	}
	if snap.Error != "read timeout" {
		t.Errorf("Error = %q, want %q", snap.Error, "read timeout")
	}
}

func TestSnapshotReturnsCopy(t *testing.T) {
	c := New("line1")
	c.Update("MW20", "counter", int64(1), "INT", nil)

	snap1 := c.Snapshot()
	snap1["counter"] = Snapshot{Name: "tampered"}

	snap2 := c.Snapshot()
	if snap2["counter"].Name == "tampered" {
		t.Fatal("Snapshot should return an independent copy of the cache")
	}
}

func TestValuesEqual(t *testing.T) {
	tests := []struct {
		name string
		a, b interface{}
		want bool
	}{
		{"equal floats", float32(1.5), float32(1.5), true},
		{"different floats", float32(1.5), float32(2.5), false},
		{"equal bools", true, true, true},
		{"equal strings", "hello", "hello", true},
		{"different strings", "hello", "world", false},
		{"equal slices", []int64{1, 2, 3}, []int64{1, 2, 3}, true},
		{"different slices", []int64{1, 2, 3}, []int64{1, 2, 4}, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := valuesEqual(tc.a, tc.b); got != tc.want {
				t.Errorf("valuesEqual(%v, %v) = %v, want %v", tc.a, tc.b, got, tc.want)
			}
		})
	}
}

func TestUpdateWithoutSinksKeepsLatestValue(t *testing.T) {
	// No redis/kafka configured: Update must not panic and must still
	// record the value, exercising the "no sinks configured" path.
	c := New("line1")
	c.Update("MW20", "counter", int64(1), "INT", nil)
	c.Update("MW20", "counter", int64(1), "INT", nil) // unchanged, no-op path
	c.Update("MW20", "counter", int64(2), "INT", nil) // changed

	snap, ok := c.Get("counter")
	if !ok || snap.Value != int64(2) {
		t.Fatalf("expected counter = 2, got %+v, ok=%v", snap, ok)
	}
}
