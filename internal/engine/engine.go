// Package engine implements the inference façade: the generative
// tokenize→prefill→decode loop, the classification/embedding single-forward
// path, sampling-parameter composition, and the bounded per-request
// streaming channel that the handler drains.
//
// A single Engine instance is shared by every worker in the pool; all state
// it owns is either immutable after construction or safe for concurrent use.
// Per-request state (the KV sequence, the stream channel) lives on the call
// stack of the goroutine running that request, mirroring how the teacher's
// cascade engine scoped per-Process state to a background goroutine rather
// than to engine-wide fields.
package engine

import (
	"errors"

	"github.com/MythologIQ/hearthlink-core/internal/memfabric"
	"github.com/MythologIQ/hearthlink-core/internal/security"
)

// ErrSequenceIDRequired is returned when a generative request is submitted
// without a sequence id to address KV state.
var ErrSequenceIDRequired = errors.New("engine: sequence id is required for generative requests")

// GenState names one phase of the per-generation state machine described in
// the component design: Init → Prefill → Decode → one terminal state.
// Prefill is never re-entered after Decode has started.
type GenState int

const (
	StateInit GenState = iota
	StatePrefill
	StateDecode
	StateStop
	StateLength
	StateCancelled
	StateError
)

// String returns the human-readable name of the state.
func (s GenState) String() string {
	switch s {
	case StateInit:
		return "init"
	case StatePrefill:
		return "prefill"
	case StateDecode:
		return "decode"
	case StateStop:
		return "stop"
	case StateLength:
		return "length"
	case StateCancelled:
		return "cancelled"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Option configures an Engine during construction.
type Option func(*Engine)

// WithStreamBufferSize sets the channel depth of the per-request stream
// returned by [Engine.Stream]. Default is 32 chunks.
func WithStreamBufferSize(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.streamBuf = n
		}
	}
}

// WithOutputSanitizer installs the filter applied to accumulated output of
// [Engine.Generate] before it is returned to the caller, and chunk by chunk
// to [Engine.Stream] output. If unset, output passes through unfiltered.
func WithOutputSanitizer(s *security.OutputSanitizer) Option {
	return func(e *Engine) { e.sanitizer = s }
}

// WithPIIDetector installs a PII redaction pass applied to the accumulated
// output of [Engine.Generate], after the output sanitizer runs. It has no
// effect on [Engine.Stream]: detecting a PII span reliably requires the
// full completed text, which a per-chunk stream never has all at once, the
// same boundary problem [WithStreamSanitizerBoundary] solves for the
// blocklist but that has no per-chunk analogue for PII spans.
func WithPIIDetector(d *security.PIIDetector) Option {
	return func(e *Engine) { e.piiDetector = d }
}

// WithStreamSanitizerBoundary sets the trailing rune window held back by the
// per-chunk streaming sanitizer so that a blocked phrase split across two
// chunks is still caught. Default is 32 runes. Ignored if no
// [WithOutputSanitizer] was configured.
func WithStreamSanitizerBoundary(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.streamSanitizeBoundary = n
		}
	}
}

// WithPageTable installs the page-table accounting a generative request's
// KV growth is charged against: one Append call for the prefilled prompt,
// one per decoded token, and a Release once the sequence's backend handle
// is released. If unset, no page accounting happens and [memfabric.ErrBudgetExceeded]
// can never be returned from the generative path.
func WithPageTable(t *memfabric.PageTable) Option {
	return func(e *Engine) { e.pageTable = t }
}

// WithSpeculativeK sets the default number of draft tokens proposed per
// speculative round when a request supplies a draft backend. Default is 4.
func WithSpeculativeK(k int) Option {
	return func(e *Engine) {
		if k > 0 {
			e.speculativeK = k
		}
	}
}

const (
	defaultStreamBuf      = 32
	defaultStreamBoundary = 32
	defaultSpeculativeK   = 4
)

// Engine is the inference façade described in the component design. It owns
// no model state itself: every call takes the already-loaded
// [backend.Backend] (resolved by the caller via the model registry) and
// drives it through the prefill/decode or single-forward contract.
type Engine struct {
	streamBuf              int
	sanitizer              *security.OutputSanitizer
	piiDetector            *security.PIIDetector
	pageTable              *memfabric.PageTable
	streamSanitizeBoundary int
	speculativeK           int
}

// New constructs an Engine. Options are applied after defaults.
func New(opts ...Option) *Engine {
	e := &Engine{
		streamBuf:              defaultStreamBuf,
		streamSanitizeBoundary: defaultStreamBoundary,
		speculativeK:           defaultSpeculativeK,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}
