package handler

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/MythologIQ/hearthlink-core/internal/auth"
	"github.com/MythologIQ/hearthlink-core/internal/engine"
	"github.com/MythologIQ/hearthlink-core/internal/memfabric"
	"github.com/MythologIQ/hearthlink-core/internal/protocol"
	"github.com/MythologIQ/hearthlink-core/internal/queue"
	"github.com/MythologIQ/hearthlink-core/internal/registry"
	"github.com/MythologIQ/hearthlink-core/internal/shutdown"
	"github.com/MythologIQ/hearthlink-core/pkg/backend"
	"github.com/MythologIQ/hearthlink-core/pkg/backend/mock"
)

const testToken = "shared-secret"

// testHarness bundles a Handler with direct access to its wired subsystems
// and a temp directory models can be loaded from.
type testHarness struct {
	h           *Handler
	auth        *auth.Authenticator
	queue       *queue.Queue
	registry    *registry.Registry
	cache       *memfabric.OutputCache
	limiter     *memfabric.Limiter
	coordinator *shutdown.Coordinator
	dir         string
	backends    map[string]*mock.Backend
}

// newTestHandler wires a Handler against real auth/queue/registry/engine
// instances and a registry backend factory that hands back a pre-registered
// mock.Backend keyed by the decrypted file's contents (the test model file's
// body is used directly as the lookup key, avoiding any extra bookkeeping).
func newTestHandler(t *testing.T) *testHarness {
	t.Helper()
	dir := t.TempDir()

	a := auth.New(auth.Config{ExpectedToken: testToken})
	q := queue.New(16)
	backends := make(map[string]*mock.Backend)

	r := registry.New(registry.Config{
		AllowedRoots: []string{dir},
		Keys:         registry.KeyDeriver{Secret: "unused"},
		NewBackend: func(_ string, data []byte) (backend.Backend, error) {
			be, ok := backends[string(data)]
			if !ok {
				be = &mock.Backend{}
				backends[string(data)] = be
			}
			return be, nil
		},
	})

	cache := memfabric.NewOutputCache(64, 0)
	limiter := memfabric.NewLimiter(0, 0)
	coordinator := shutdown.New()
	eng := engine.New()

	h := New(Config{
		Auth:        a,
		Queue:       q,
		Registry:    r,
		Engine:      eng,
		OutputCache: cache,
		Limiter:     limiter,
		Coordinator: coordinator,
	})

	return &testHarness{h: h, auth: a, queue: q, registry: r, cache: cache, limiter: limiter, coordinator: coordinator, dir: dir, backends: backends}
}

// loadModel writes a synthetic model file under the harness's allow-listed
// directory, loads it into the registry, and returns its derived model id
// along with the mock backend now bound to it.
func (th *testHarness) loadModel(t *testing.T, name string, kind backend.Kind) (string, *mock.Backend) {
	t.Helper()
	body := []byte("weights:" + name)
	path := filepath.Join(th.dir, name+".bin")
	if err := os.WriteFile(path, body, 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	modelID, derivedKind := deriveModelIdentity(path)
	if kind != derivedKind {
		t.Fatalf("test model name %q derives kind %v, want %v (adjust suffix)", name, derivedKind, kind)
	}

	if _, err := th.registry.Load(modelID, path, kind, nil); err != nil {
		t.Fatalf("registry.Load: %v", err)
	}
	return modelID, th.backends[string(body)]
}

// handshake runs a successful handshake against th's authenticator and
// returns the resulting ConnState, ready for use in session-gated calls.
func (th *testHarness) handshake(t *testing.T) *ConnState {
	t.Helper()
	conn := NewConnState("test-source-" + t.Name())
	var resp *protocol.HandshakeResponse
	th.h.handleHandshake(conn, &protocol.HandshakeRequest{
		Token:          testToken,
		ClientVersions: ServerVersions,
	}, func(env protocol.Envelope) {
		resp = env.HandshakeResponse
	})
	if resp == nil {
		t.Fatalf("handshake: no HandshakeResponse emitted")
	}
	return conn
}
