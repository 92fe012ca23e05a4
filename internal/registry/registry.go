// Package registry implements the model registry: it owns loaded model
// handles, enforces the filesystem allow-list and AEAD/integrity checks on
// load, and exposes a lock-free router for id→handle lookups.
//
// The routing table is a copy-on-write snapshot behind an atomic.Pointer,
// the same shape the teacher's MCP tool host uses for its tool table, so a
// hot_swap is a single atomic store and readers never block behind a
// writer.
package registry

import (
	"context"
	"crypto/sha256"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MythologIQ/hearthlink-core/internal/audit"
	"github.com/MythologIQ/hearthlink-core/internal/resilience"
	"github.com/MythologIQ/hearthlink-core/pkg/backend"
)

// Handle identifies one loaded model instance. Handles are never reused
// within a process lifetime.
type Handle uint64

// BackendFactory constructs a [backend.Backend] from a model's decrypted
// bytes. path is the canonicalized on-disk path, provided for backends that
// need it for logging or auxiliary file lookups (e.g. a paired tokenizer).
type BackendFactory func(path string, data []byte) (backend.Backend, error)

// Entry is the per-handle metadata the spec's registry keeps alongside each
// loaded model.
type Entry struct {
	Handle    Handle
	ModelID   string
	Path      string
	SizeBytes int64
	Kind      backend.Kind
	SHA256    [32]byte
	LoadedAt  time.Time

	backend backend.Backend
	refs    atomic.Int64
}

// Backend returns the live backend for this entry and increments its
// in-flight reference count. Callers must call [Entry.Release] exactly once
// when done, so [Registry.Unload]'s drain can observe refs reaching zero.
func (e *Entry) Backend() backend.Backend {
	e.refs.Add(1)
	return e.backend
}

// Release decrements the in-flight reference count acquired by
// [Entry.Backend].
func (e *Entry) Release() {
	e.refs.Add(-1)
}

// snapshot is the immutable routing table swapped atomically on every
// mutating operation.
type snapshot struct {
	byID     map[string]Handle
	byHandle map[Handle]*Entry
}

func emptySnapshot() *snapshot {
	return &snapshot{byID: make(map[string]Handle), byHandle: make(map[Handle]*Entry)}
}

// clone returns a shallow copy of s suitable for a copy-on-write mutation:
// the caller modifies the copy and then atomically installs it.
func (s *snapshot) clone() *snapshot {
	out := &snapshot{
		byID:     make(map[string]Handle, len(s.byID)),
		byHandle: make(map[Handle]*Entry, len(s.byHandle)),
	}
	for k, v := range s.byID {
		out.byID[k] = v
	}
	for k, v := range s.byHandle {
		out.byHandle[k] = v
	}
	return out
}

// Config configures a [Registry].
type Config struct {
	// AllowedRoots lists the absolute, canonicalized directories model and
	// tokenizer paths must resolve under (the spec's "models/",
	// "tokenizers/" allow-list).
	AllowedRoots []string

	// Keys derives the AES-256 key used to decrypt "HLGCM"-magic model
	// files. Required even if no encrypted model is ever loaded.
	Keys KeyDeriver

	// NewBackend constructs a backend from a model's decrypted contents.
	// Required.
	NewBackend BackendFactory

	// DrainTimeout bounds how long Unload waits for in-flight references to
	// a handle to drop before giving up. Default: 30s.
	DrainTimeout time.Duration

	// DrainPollInterval controls how often Unload re-checks the reference
	// count while waiting. Default: 10ms.
	DrainPollInterval time.Duration

	// AuditLog records Critical security events (path traversal, integrity
	// mismatch) encountered during Load. If nil, New installs a private
	// ring buffer so callers that don't care about export still get one.
	AuditLog *audit.Log

	// Fallback configures the circuit breaker wrapped around every backend
	// constructed by NewBackend, so repeated backend failures trip open
	// instead of being retried against an already-unhealthy backend on
	// every request.
	Fallback resilience.FallbackConfig
}

// Registry is the model registry and router described by the spec's §4.5.
// Reads (Lookup) never block behind a writer; writes (Load, Unload,
// HotSwap) are serialized against each other by mu.
type Registry struct {
	allowedRoots []string
	keys         KeyDeriver
	newBackend   BackendFactory
	drainTimeout time.Duration
	drainPoll    time.Duration
	auditLog     *audit.Log
	fallbackCfg  resilience.FallbackConfig

	mu         sync.Mutex
	current    atomic.Pointer[snapshot]
	nextHandle atomic.Uint64
	readFile   func(string) ([]byte, error)
}

// New constructs a [Registry]. Zero-value Config fields are defaulted the
// same way [resilience.CircuitBreakerConfig] defaults its knobs.
func New(cfg Config) *Registry {
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = 30 * time.Second
	}
	if cfg.DrainPollInterval <= 0 {
		cfg.DrainPollInterval = 10 * time.Millisecond
	}
	if cfg.AuditLog == nil {
		cfg.AuditLog = audit.New(0, nil)
	}
	r := &Registry{
		allowedRoots: cfg.AllowedRoots,
		keys:         cfg.Keys,
		newBackend:   cfg.NewBackend,
		drainTimeout: cfg.DrainTimeout,
		drainPoll:    cfg.DrainPollInterval,
		auditLog:     cfg.AuditLog,
		fallbackCfg:  cfg.Fallback,
		readFile:     os.ReadFile,
	}
	r.current.Store(emptySnapshot())
	return r
}

// Lookup resolves modelID to its current [Entry] via a lock-free snapshot
// read. Returns [ErrModelNotFound] if no binding exists.
func (r *Registry) Lookup(modelID string) (*Entry, error) {
	snap := r.current.Load()
	handle, ok := snap.byID[modelID]
	if !ok {
		return nil, ErrModelNotFound
	}
	entry, ok := snap.byHandle[handle]
	if !ok {
		return nil, ErrModelNotFound
	}
	return entry, nil
}

// LookupHandle resolves handle directly, bypassing the id index. Used by
// ModelUnload, which addresses entries by handle.
func (r *Registry) LookupHandle(handle Handle) (*Entry, error) {
	snap := r.current.Load()
	entry, ok := snap.byHandle[handle]
	if !ok {
		return nil, ErrModelNotFound
	}
	return entry, nil
}

// List returns every currently-bound entry, in no particular order.
func (r *Registry) List() []*Entry {
	snap := r.current.Load()
	out := make([]*Entry, 0, len(snap.byHandle))
	for _, e := range snap.byHandle {
		out = append(out, e)
	}
	return out
}

// Load validates path against the allow-list, decrypts it if AEAD-wrapped,
// verifies its integrity, constructs a backend, and installs a fresh handle
// bound to modelID. modelID must be unique; loading over an existing id
// replaces its binding (equivalent to an implicit [Registry.HotSwap]) once
// the new handle is ready — the old handle is left registered under its own
// numeric identity until explicitly unloaded, so in-flight requests that
// captured it directly are unaffected.
func (r *Registry) Load(modelID, path string, kind backend.Kind, expectedSHA256 *[32]byte) (*Entry, error) {
	resolved, err := resolvePath(path, r.allowedRoots)
	if err != nil {
		r.auditLog.Record(audit.KindPathTraversal, audit.SeverityCritical, modelID, err.Error())
		return nil, err
	}

	raw, err := r.readFile(resolved)
	if err != nil {
		return nil, fmt.Errorf("registry: read %s: %w", resolved, err)
	}

	plaintext, err := decryptModel(raw, r.keys)
	if err != nil {
		r.auditLog.Record(audit.KindIntegrityMismatch, audit.SeverityCritical, modelID, err.Error())
		return nil, err
	}

	sum := sha256.Sum256(plaintext)
	if expectedSHA256 != nil && sum != *expectedSHA256 {
		r.auditLog.Record(audit.KindIntegrityMismatch, audit.SeverityCritical, modelID, "sha256 digest mismatch")
		return nil, ErrIntegrityMismatch
	}

	be, err := r.newBackend(resolved, plaintext)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackendInit, err)
	}
	guarded := resilience.NewBackendFallback(be, modelID, r.fallbackCfg)

	r.mu.Lock()
	defer r.mu.Unlock()

	handle := Handle(r.nextHandle.Add(1))
	entry := &Entry{
		Handle:    handle,
		ModelID:   modelID,
		Path:      resolved,
		SizeBytes: int64(len(plaintext)),
		Kind:      kind,
		SHA256:    sum,
		LoadedAt:  time.Now(),
		backend:   guarded,
	}

	next := r.current.Load().clone()
	next.byID[modelID] = handle
	next.byHandle[handle] = entry
	r.current.Store(next)

	return entry, nil
}

// Unload retires the binding for handle atomically, waits (bounded by ctx
// and the configured drain timeout) for all in-flight references to drop,
// then leaves the backend for the garbage collector; it is not explicitly
// released. The binding is removed from the routing
// snapshot immediately; in-flight holders of the [Entry] pointer keep
// working with it until they call [Entry.Release].
func (r *Registry) Unload(ctx context.Context, handle Handle) error {
	r.mu.Lock()
	snap := r.current.Load()
	entry, ok := snap.byHandle[handle]
	if !ok {
		r.mu.Unlock()
		return ErrModelNotFound
	}

	next := snap.clone()
	delete(next.byHandle, handle)
	for id, h := range next.byID {
		if h == handle {
			delete(next.byID, id)
		}
	}
	r.current.Store(next)
	r.mu.Unlock()

	deadline := time.Now().Add(r.drainTimeout)
	ticker := time.NewTicker(r.drainPoll)
	defer ticker.Stop()
	for entry.refs.Load() > 0 {
		if time.Now().After(deadline) {
			return ErrDrainTimeout
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}

	// The Backend trait has no explicit teardown method beyond per-sequence
	// Release; once the entry is unreachable from the routing snapshot and
	// every in-flight reference has dropped, it is simply left for the
	// garbage collector.
	return nil
}

// HotSwap atomically rebinds modelID to point at newHandle. Existing
// in-flight requests that already resolved the old handle continue using
// it (they hold the [Entry] pointer directly, not the id); new lookups by
// id see newHandle immediately. Returns [ErrModelNotFound] if newHandle is
// not a currently registered handle.
func (r *Registry) HotSwap(modelID string, newHandle Handle) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	snap := r.current.Load()
	if _, ok := snap.byHandle[newHandle]; !ok {
		return ErrModelNotFound
	}

	next := snap.clone()
	next.byID[modelID] = newHandle
	r.current.Store(next)
	return nil
}
