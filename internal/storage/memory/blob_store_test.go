package memory

import (
	"bytes"
	"context"
	"testing"
)

func TestBlobStorePutObjectCopiesData(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	payload := []byte("[]")
	uri, err := store.PutObject(context.Background(), "runs/a/curated.json", "application/json", bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("PutObject() error = %v", err)
	}
	if uri != "memory://runs/a/curated.json" {
		t.Fatalf("unexpected uri %s", uri)
	}
	payload[0] = '{'

	obj, ok := store.Get("runs/a/curated.json")
	if !ok {
		t.Fatal("expected object to be stored")
	}
	if string(obj.Data) != "[]" || obj.ContentType != "application/json" {
		t.Fatalf("unexpected object %+v", obj)
	}
	obj.Data[0] = 'X'
	again, _ := store.Get("runs/a/curated.json")
	if string(again.Data) != "[]" {
		t.Fatalf("expected Get to return a copy, got %q", again.Data)
	}
}

func TestBlobStorePaths(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	for _, p := range []string{"b/raw.json", "a/raw.json", "b/raw.json"} {
		if _, err := store.PutObject(context.Background(), p, "", bytes.NewReader(nil)); err != nil {
			t.Fatalf("PutObject(%s) error = %v", p, err)
		}
	}
	got := store.Paths()
	if len(got) != 2 || got[0] != "a/raw.json" || got[1] != "b/raw.json" {
		t.Fatalf("unexpected paths %v", got)
	}
	if _, err := store.PutObject(context.Background(), "", "", bytes.NewReader(nil)); err == nil {
		t.Fatal("expected error for empty path")
	}
}
