package db

import (
	"testing"
)

func TestStore_SetAndGet(t *testing.T) {
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer store.Close()

	if err := store.Set("jobs/a", []byte("one")); err != nil {
		t.Fatalf("set: %v", err)
	}

	got, err := store.Get("jobs/a")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(got) != "one" {
		t.Errorf("expected one, got %s", got)
	}
}

func TestStore_GetMissing(t *testing.T) {
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer store.Close()

	if _, err := store.Get("jobs/none"); err == nil {
		t.Error("expected error for missing key")
	}
}

func TestStore_Delete(t *testing.T) {
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer store.Close()

	store.Set("jobs/a", []byte("one"))
	if err := store.Delete("jobs/a"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := store.Get("jobs/a"); err == nil {
		t.Error("expected key to be gone")
	}
}

func TestStore_ListPrefix(t *testing.T) {
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer store.Close()

	store.Set("jobs/a", []byte("1"))
	store.Set("jobs/b", []byte("2"))
	store.Set("other/c", []byte("3"))

	keys, err := store.List("jobs/")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(keys) != 2 {
		t.Errorf("expected 2 keys, got %d: %v", len(keys), keys)
	}
}
