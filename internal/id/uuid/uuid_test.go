// Package uuid includes tests for the run ID generator.
package uuid

import (
	"testing"
	"time"

	goUUID "github.com/google/uuid"
)

// TestGeneratorNewID ensures generated IDs are unique v7 UUIDs.
func TestGeneratorNewID(t *testing.T) {
	t.Parallel()

	gen := New()
	id1, err := gen.NewID()
	if err != nil {
		t.Fatalf("NewID() error = %v", err)
	}
	id2, err := gen.NewID()
	if err != nil {
		t.Fatalf("NewID() error = %v", err)
	}
	if id1 == id2 {
		t.Fatalf("expected unique IDs, got %s and %s", id1, id2)
	}
	parsed, err := goUUID.Parse(id1)
	if err != nil {
		t.Fatalf("id1 not valid UUID: %v", err)
	}
	if parsed.Version() != 7 {
		t.Fatalf("expected v7, got v%d", parsed.Version())
	}
}

// TestTimeRecoversCreation checks the embedded timestamp.
func TestTimeRecoversCreation(t *testing.T) {
	t.Parallel()

	before := time.Now().Add(-time.Second)
	id, err := New().NewID()
	if err != nil {
		t.Fatalf("NewID() error = %v", err)
	}
	got, err := Time(id)
	if err != nil {
		t.Fatalf("Time() error = %v", err)
	}
	if got.Before(before) || got.After(time.Now().Add(time.Second)) {
		t.Fatalf("embedded time %v out of range", got)
	}

	if _, err := Time(goUUID.NewString()); err == nil {
		t.Fatal("expected error for v4 uuid")
	}
	if _, err := Time("nope"); err == nil {
		t.Fatal("expected parse error")
	}
}
