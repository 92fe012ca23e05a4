package handler

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/MythologIQ/hearthlink-core/internal/protocol"
	"github.com/MythologIQ/hearthlink-core/pkg/backend"
)

func TestDeriveModelIdentity(t *testing.T) {
	cases := []struct {
		path     string
		wantID   string
		wantKind backend.Kind
	}{
		{"/models/llama-7b.bin", "llama-7b", backend.Generative},
		{"/models/toxicity-cls.bin", "toxicity-cls", backend.ClassificationEmbedding},
		{"/models/sentence-embed.bin", "sentence-embed", backend.ClassificationEmbedding},
	}
	for _, tc := range cases {
		id, kind := deriveModelIdentity(tc.path)
		if id != tc.wantID || kind != tc.wantKind {
			t.Fatalf("deriveModelIdentity(%q) = (%q, %v), want (%q, %v)", tc.path, id, kind, tc.wantID, tc.wantKind)
		}
	}
}

func TestHandleModelLoad_RequiresSession(t *testing.T) {
	th := newTestHandler(t)
	conn := NewConnState("peer")

	var resp protocol.Envelope
	th.h.handleModelLoad(context.Background(), conn, &protocol.ModelLoad{Path: "whatever"}, func(env protocol.Envelope) { resp = env })

	if resp.Type != protocol.TypeError || resp.Error.Code != ErrCodeAuth {
		t.Fatalf("got %+v, want auth error", resp)
	}
}

func TestHandleModelLoad_Success(t *testing.T) {
	th := newTestHandler(t)
	conn := th.handshake(t)

	path := filepath.Join(th.dir, "fresh-model.bin")
	if err := os.WriteFile(path, []byte("weights"), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	var resp protocol.Envelope
	th.h.handleModelLoad(context.Background(), conn, &protocol.ModelLoad{Path: path}, func(env protocol.Envelope) { resp = env })

	if resp.Type != protocol.TypeModelLoadResult || resp.ModelLoadResult.Error != "" {
		t.Fatalf("got %+v, want a successful ModelLoadResult", resp)
	}
	if resp.ModelLoadResult.Handle == 0 {
		t.Fatalf("Handle should be non-zero")
	}

	entry, err := th.registry.Lookup("fresh-model")
	if err != nil {
		t.Fatalf("model was not registered under its derived id: %v", err)
	}
	if entry.Kind != backend.Generative {
		t.Fatalf("Kind = %v, want Generative", entry.Kind)
	}
}

func TestHandleModelLoad_PathOutsideAllowedRoots(t *testing.T) {
	th := newTestHandler(t)
	conn := th.handshake(t)

	outside := t.TempDir()
	path := filepath.Join(outside, "evil-model.bin")
	if err := os.WriteFile(path, []byte("weights"), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	var resp protocol.Envelope
	th.h.handleModelLoad(context.Background(), conn, &protocol.ModelLoad{Path: path}, func(env protocol.Envelope) { resp = env })

	if resp.Type != protocol.TypeModelLoadResult || resp.ModelLoadResult.Error == "" {
		t.Fatalf("got %+v, want a ModelLoadResult carrying an error", resp)
	}
}

func TestHandleModelUnload_Success(t *testing.T) {
	th := newTestHandler(t)
	conn := th.handshake(t)
	_, _ = th.loadModel(t, "unload-model", backend.Generative)

	entry, err := th.registry.Lookup("unload-model")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}

	var resp protocol.Envelope
	th.h.handleModelUnload(context.Background(), conn, &protocol.ModelUnload{Handle: uint64(entry.Handle)}, func(env protocol.Envelope) { resp = env })

	if resp.Type != protocol.TypeModelUnloadResult || resp.ModelUnloadResult.Error != "" {
		t.Fatalf("got %+v, want a successful ModelUnloadResult", resp)
	}
	if _, err := th.registry.Lookup("unload-model"); err == nil {
		t.Fatalf("model should no longer resolve after unload")
	}
}

func TestHandleModelUnload_UnknownHandle(t *testing.T) {
	th := newTestHandler(t)
	conn := th.handshake(t)

	var resp protocol.Envelope
	th.h.handleModelUnload(context.Background(), conn, &protocol.ModelUnload{Handle: 999999}, func(env protocol.Envelope) { resp = env })

	if resp.Type != protocol.TypeModelUnloadResult || resp.ModelUnloadResult.Error == "" {
		t.Fatalf("got %+v, want a ModelUnloadResult carrying an error", resp)
	}
}

func TestHandleModelList(t *testing.T) {
	th := newTestHandler(t)
	conn := th.handshake(t)
	th.loadModel(t, "list-model-a", backend.Generative)
	th.loadModel(t, "list-model-b-cls", backend.ClassificationEmbedding)

	var resp protocol.Envelope
	th.h.handleModelList(conn, func(env protocol.Envelope) { resp = env })

	if resp.Type != protocol.TypeModelListResult {
		t.Fatalf("got %+v, want a ModelListResult", resp)
	}
	if len(resp.ModelListResult.Models) != 2 {
		t.Fatalf("Models has %d entries, want 2", len(resp.ModelListResult.Models))
	}
}
