package registry

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/MythologIQ/hearthlink-core/pkg/backend"
	"github.com/MythologIQ/hearthlink-core/pkg/backend/mock"
)

func newTestRegistry(t *testing.T) (*Registry, string) {
	t.Helper()
	dir := t.TempDir()
	modelsDir := filepath.Join(dir, "models")
	if err := os.Mkdir(modelsDir, 0o755); err != nil {
		t.Fatalf("Mkdir: %v", err)
	}
	reg := New(Config{
		AllowedRoots: []string{modelsDir},
		Keys:         KeyDeriver{Secret: "test-secret"},
		NewBackend: func(path string, data []byte) (backend.Backend, error) {
			return &mock.Backend{}, nil
		},
	})
	return reg, modelsDir
}

func writeModel(t *testing.T, dir, name string, contents []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, contents, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestLoad_PlaintextModel(t *testing.T) {
	reg, modelsDir := newTestRegistry(t)
	path := writeModel(t, modelsDir, "tiny.bin", []byte("plain weights"))

	entry, err := reg.Load("tiny", path, backend.Generative, nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if entry.ModelID != "tiny" {
		t.Fatalf("ModelID = %q, want %q", entry.ModelID, "tiny")
	}

	got, err := reg.Lookup("tiny")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if got.Handle != entry.Handle {
		t.Fatalf("Lookup returned a different handle")
	}
}

func TestLoad_RejectsPathOutsideAllowList(t *testing.T) {
	reg, _ := newTestRegistry(t)
	_, err := reg.Load("evil", "/etc/passwd", backend.Generative, nil)
	if err != ErrPathTraversal {
		t.Fatalf("err = %v, want ErrPathTraversal", err)
	}
}

func TestLoad_IntegrityMismatch(t *testing.T) {
	reg, modelsDir := newTestRegistry(t)
	path := writeModel(t, modelsDir, "tiny.bin", []byte("plain weights"))

	var wrongSum [32]byte
	wrongSum[0] = 0xFF
	_, err := reg.Load("tiny", path, backend.Generative, &wrongSum)
	if err != ErrIntegrityMismatch {
		t.Fatalf("err = %v, want ErrIntegrityMismatch", err)
	}

	if _, err := reg.Lookup("tiny"); err != ErrModelNotFound {
		t.Fatalf("registry should be unchanged after a failed load, Lookup err = %v", err)
	}
}

func TestLookup_NotFound(t *testing.T) {
	reg, _ := newTestRegistry(t)
	if _, err := reg.Lookup("nope"); err != ErrModelNotFound {
		t.Fatalf("err = %v, want ErrModelNotFound", err)
	}
}

func TestHotSwap_RebindsID(t *testing.T) {
	reg, modelsDir := newTestRegistry(t)
	pathA := writeModel(t, modelsDir, "a.bin", []byte("a"))
	pathB := writeModel(t, modelsDir, "b.bin", []byte("b"))

	entryA, err := reg.Load("m", pathA, backend.Generative, nil)
	if err != nil {
		t.Fatalf("Load a: %v", err)
	}
	entryB, err := reg.Load("m-v2", pathB, backend.Generative, nil)
	if err != nil {
		t.Fatalf("Load b: %v", err)
	}

	if err := reg.HotSwap("m", entryB.Handle); err != nil {
		t.Fatalf("HotSwap: %v", err)
	}

	got, err := reg.Lookup("m")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if got.Handle != entryB.Handle {
		t.Fatalf("Lookup(m).Handle = %v, want %v (new handle)", got.Handle, entryB.Handle)
	}

	// The old handle's entry is still directly addressable by any in-flight
	// holder that captured it before the swap.
	old, err := reg.LookupHandle(entryA.Handle)
	if err != nil {
		t.Fatalf("LookupHandle(old): %v", err)
	}
	if old.ModelID != "m" {
		t.Fatalf("old entry ModelID = %q, want %q", old.ModelID, "m")
	}
}

func TestUnload_RemovesBindingImmediately(t *testing.T) {
	reg, modelsDir := newTestRegistry(t)
	path := writeModel(t, modelsDir, "tiny.bin", []byte("data"))
	entry, err := reg.Load("tiny", path, backend.Generative, nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := reg.Unload(ctx, entry.Handle); err != nil {
		t.Fatalf("Unload: %v", err)
	}

	if _, err := reg.Lookup("tiny"); err != ErrModelNotFound {
		t.Fatalf("Lookup after Unload err = %v, want ErrModelNotFound", err)
	}
}

func TestUnload_WaitsForInFlightReferences(t *testing.T) {
	reg, modelsDir := newTestRegistry(t)
	path := writeModel(t, modelsDir, "tiny.bin", []byte("data"))
	entry, err := reg.Load("tiny", path, backend.Generative, nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	entry.Backend() // acquire a reference and never release it in time

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	reg.drainTimeout = 10 * time.Millisecond
	reg.drainPoll = time.Millisecond

	err = reg.Unload(ctx, entry.Handle)
	if err != ErrDrainTimeout {
		t.Fatalf("err = %v, want ErrDrainTimeout", err)
	}
}

func TestUnload_NotFound(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()
	if err := reg.Unload(ctx, Handle(999)); err != ErrModelNotFound {
		t.Fatalf("err = %v, want ErrModelNotFound", err)
	}
}

func TestList_ReturnsAllLoaded(t *testing.T) {
	reg, modelsDir := newTestRegistry(t)
	writeModel(t, modelsDir, "a.bin", []byte("a"))
	writeModel(t, modelsDir, "b.bin", []byte("b"))
	if _, err := reg.Load("a", filepath.Join(modelsDir, "a.bin"), backend.Generative, nil); err != nil {
		t.Fatalf("Load a: %v", err)
	}
	if _, err := reg.Load("b", filepath.Join(modelsDir, "b.bin"), backend.ClassificationEmbedding, nil); err != nil {
		t.Fatalf("Load b: %v", err)
	}
	if len(reg.List()) != 2 {
		t.Fatalf("List() len = %d, want 2", len(reg.List()))
	}
}
