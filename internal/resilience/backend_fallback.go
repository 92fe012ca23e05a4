package resilience

import (
	"context"
	"fmt"
	"sync"

	"github.com/MythologIQ/hearthlink-core/pkg/backend"
)

// BackendFallback implements [backend.Backend] with automatic failover across
// multiple backend instances loaded from the same model, or from
// interchangeable models of the same [backend.Kind] (for example a
// quantised backup loaded on a different device after the primary repeatedly
// errors). Each entry has its own circuit breaker.
//
// Failover only happens at Prefill: once a sequence has been prefilled by a
// given entry, every subsequent DecodeStep for that sequence is pinned to
// the same entry, since the KV cache populated by Prefill lives inside that
// one backend and cannot be replayed elsewhere. Classify and Embed are
// stateless and failover on every call.
type BackendFallback struct {
	group *FallbackGroup[backend.Backend]
	kind  backend.Kind

	mu    sync.Mutex
	owner map[uint64]backend.Backend
}

// Compile-time interface assertion.
var _ backend.Backend = (*BackendFallback)(nil)

// NewBackendFallback creates a [BackendFallback] with primary as the
// preferred entry. All entries must report the same [backend.Kind].
func NewBackendFallback(primary backend.Backend, primaryName string, cfg FallbackConfig) *BackendFallback {
	return &BackendFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
		kind:  primary.Kind(),
		owner: make(map[uint64]backend.Backend),
	}
}

// AddFallback registers an additional backend entry, tried after the primary
// and any previously added fallbacks.
func (f *BackendFallback) AddFallback(name string, be backend.Backend) {
	f.group.AddFallback(name, be)
}

// Kind reports the backend kind shared by every entry in the group.
func (f *BackendFallback) Kind() backend.Kind {
	return f.kind
}

// Prefill tries each entry in order until one succeeds, then pins
// req.SequenceID to the entry that served it.
func (f *BackendFallback) Prefill(ctx context.Context, req backend.PrefillRequest) (backend.PrefillResult, error) {
	var winner backend.Backend
	result, err := ExecuteWithResult(f.group, func(be backend.Backend) (backend.PrefillResult, error) {
		winner = be
		return be.Prefill(ctx, req)
	})
	if err != nil {
		return backend.PrefillResult{}, err
	}

	f.mu.Lock()
	f.owner[req.SequenceID] = winner
	f.mu.Unlock()
	return result, nil
}

// DecodeStep routes to the entry that prefilled sequenceID. Returns an error
// if no Prefill call has been recorded for that sequence; there is no
// failover here because the KV cache is not portable between entries.
func (f *BackendFallback) DecodeStep(ctx context.Context, sequenceID uint64, params backend.SampleParams) (backend.DecodeResult, error) {
	f.mu.Lock()
	owner, ok := f.owner[sequenceID]
	f.mu.Unlock()
	if !ok {
		return backend.DecodeResult{}, fmt.Errorf("backend fallback: no prefill recorded for sequence %d", sequenceID)
	}
	return owner.DecodeStep(ctx, sequenceID, params)
}

// Classify tries each entry in order until one succeeds.
func (f *BackendFallback) Classify(ctx context.Context, prompt string) (backend.ClassifyResult, error) {
	return ExecuteWithResult(f.group, func(be backend.Backend) (backend.ClassifyResult, error) {
		return be.Classify(ctx, prompt)
	})
}

// Embed tries each entry in order until one succeeds.
func (f *BackendFallback) Embed(ctx context.Context, prompt string) (backend.EmbedResult, error) {
	return ExecuteWithResult(f.group, func(be backend.Backend) (backend.EmbedResult, error) {
		return be.Embed(ctx, prompt)
	})
}

// Release forwards to the entry that owns sequenceID, then forgets the
// association. A no-op if sequenceID was never prefilled through this
// fallback.
func (f *BackendFallback) Release(sequenceID uint64) {
	f.mu.Lock()
	owner, ok := f.owner[sequenceID]
	delete(f.owner, sequenceID)
	f.mu.Unlock()
	if ok {
		owner.Release(sequenceID)
	}
}

// EOSToken returns the primary entry's end-of-sequence token. All entries in
// a fallback group are expected to share the same tokenizer/vocabulary, so
// this is not routed per-sequence.
func (f *BackendFallback) EOSToken() backend.Token {
	return f.group.entries[0].value.EOSToken()
}

// State reports the primary entry's circuit breaker state, for exporting as
// a gauge. Fallback entries added after construction do not affect it; the
// primary is the one a caller cares about seeing trip open.
func (f *BackendFallback) State() State {
	return f.group.entries[0].breaker.State()
}
