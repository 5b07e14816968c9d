package analytics

import (
	"encoding/json"
	"path/filepath"
	"testing"
)

func TestMemoryStoreSetGetDelete(t *testing.T) {
	m := NewMemoryStore()
	m.Set("k1", json.RawMessage(`{"a":1}`), "s1", []string{"tag"})

	e, ok := m.Get("k1")
	if !ok {
		t.Fatal("expected entry to exist")
	}
	if e.SessionID != "s1" {
		t.Fatalf("expected session id s1, got %q", e.SessionID)
	}

	m.Delete("k1")
	if _, ok := m.Get("k1"); ok {
		t.Fatal("expected entry to be deleted")
	}
}

func TestMemoryStorePersistAndLoadRoundTrip(t *testing.T) {
	m := NewMemoryStore()
	m.Set("k1", json.RawMessage(`"v1"`), "", nil)

	path := filepath.Join(t.TempDir(), "memory.json")
	if err := m.Persist(path); err != nil {
		t.Fatalf("Persist failed: %v", err)
	}

	loaded := NewMemoryStore()
	if err := loaded.Load(path); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	e, ok := loaded.Get("k1")
	if !ok {
		t.Fatal("expected loaded entry to exist")
	}
	if string(e.Value) != `"v1"` {
		t.Fatalf("expected value v1, got %s", e.Value)
	}
}
