// Package mock provides a test double for the backend.Backend interface.
//
// Use Backend in unit tests to control exactly what each pipeline stage
// returns without depending on the reference implementation's synthetic
// vocabulary. All fields are safe to set before calling any method;
// mutating them during a concurrent call is the caller's responsibility.
package mock

import (
	"context"
	"sync"

	"github.com/MythologIQ/hearthlink-core/pkg/backend"
)

// PrefillCall records a single invocation of Prefill.
type PrefillCall struct {
	Req backend.PrefillRequest
}

// DecodeStepCall records a single invocation of DecodeStep.
type DecodeStepCall struct {
	SequenceID uint64
	Params     backend.SampleParams
}

// Backend is a mock implementation of backend.Backend. Zero values for
// response fields cause methods to return zero values and nil errors. Set
// the Err fields to inject errors.
type Backend struct {
	mu sync.Mutex

	// BackendKind is returned by Kind.
	BackendKind backend.Kind

	// PrefillResult is returned by Prefill.
	PrefillResult backend.PrefillResult
	// PrefillErr, if non-nil, is returned as the error from Prefill.
	PrefillErr error

	// DecodeResults is consumed in order by successive DecodeStep calls;
	// once exhausted, DecodeStep returns an EOS result.
	DecodeResults []backend.DecodeResult
	// DecodeErr, if non-nil, is returned as the error from DecodeStep.
	DecodeErr error

	// ClassifyResult is returned by Classify.
	ClassifyResult backend.ClassifyResult
	// ClassifyErr, if non-nil, is returned as the error from Classify.
	ClassifyErr error

	// EmbedResult is returned by Embed.
	EmbedResult backend.EmbedResult
	// EmbedErr, if non-nil, is returned as the error from Embed.
	EmbedErr error

	// EOS is returned by EOSToken.
	EOS backend.Token

	// --- Call records (read after test) ---

	PrefillCalls    []PrefillCall
	DecodeStepCalls []DecodeStepCall
	Released        []uint64

	decodeIdx int
}

// Kind implements backend.Backend.
func (b *Backend) Kind() backend.Kind { return b.BackendKind }

// Prefill implements backend.Backend.
func (b *Backend) Prefill(_ context.Context, req backend.PrefillRequest) (backend.PrefillResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.PrefillCalls = append(b.PrefillCalls, PrefillCall{Req: req})
	return b.PrefillResult, b.PrefillErr
}

// DecodeStep implements backend.Backend.
func (b *Backend) DecodeStep(_ context.Context, sequenceID uint64, params backend.SampleParams) (backend.DecodeResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.DecodeStepCalls = append(b.DecodeStepCalls, DecodeStepCall{SequenceID: sequenceID, Params: params})
	if b.DecodeErr != nil {
		return backend.DecodeResult{}, b.DecodeErr
	}
	if b.decodeIdx >= len(b.DecodeResults) {
		return backend.DecodeResult{Token: b.EOS, EOS: true}, nil
	}
	r := b.DecodeResults[b.decodeIdx]
	b.decodeIdx++
	return r, nil
}

// Classify implements backend.Backend.
func (b *Backend) Classify(_ context.Context, _ string) (backend.ClassifyResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ClassifyResult, b.ClassifyErr
}

// Embed implements backend.Backend.
func (b *Backend) Embed(_ context.Context, _ string) (backend.EmbedResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.EmbedResult, b.EmbedErr
}

// Release implements backend.Backend.
func (b *Backend) Release(sequenceID uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.Released = append(b.Released, sequenceID)
}

// EOSToken implements backend.Backend.
func (b *Backend) EOSToken() backend.Token { return b.EOS }

// Reset clears all recorded calls and the decode cursor. Thread-safe.
func (b *Backend) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.PrefillCalls = nil
	b.DecodeStepCalls = nil
	b.Released = nil
	b.decodeIdx = 0
}

var _ backend.Backend = (*Backend)(nil)
