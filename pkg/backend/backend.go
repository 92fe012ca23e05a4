// Package backend defines the narrow trait that loaded model backends must
// implement, and the value types carried across it.
//
// A [Backend] wraps whatever actually performs inference — a tokenizer, a
// matrix-multiply kernel, a sampler — none of which this repository
// implements. Backends are black-box collaborators: the runtime only calls
// [Backend.Prefill], [Backend.DecodeStep], [Backend.Embed], and
// [Backend.Classify], and only ever in-process (no network leg is part of
// this contract). Concrete kernels are supplied by whatever loads the model
// file named in the registry; this package ships one deterministic
// reference implementation (see the reference subpackage) used for tests
// and for demonstrating the contract, never for production inference.
//
// Implementations must be safe for concurrent use only insofar as a single
// [Backend] instance is never called concurrently for two different
// sequences sharing the same KV cache; the registry and engine guarantee
// single-owner access per in-flight request.
package backend

import "context"

// Kind discriminates the two concrete backend variants named in the spec.
type Kind int

const (
	// Generative backends support autoregressive decoding: Prefill followed
	// by repeated DecodeStep calls until a stop condition.
	Generative Kind = iota

	// ClassificationEmbedding backends perform a single forward pass and
	// return a label distribution or an embedding vector; Embed/Classify are
	// their only entry points.
	ClassificationEmbedding
)

// String returns the human-readable name of the backend kind.
func (k Kind) String() string {
	switch k {
	case Generative:
		return "generative"
	case ClassificationEmbedding:
		return "classification_embedding"
	default:
		return "unknown"
	}
}

// Token is the backend's native vocabulary unit. The runtime never inspects
// token values beyond equality (EOS comparison) and count.
type Token uint32

// PrefillRequest carries the prompt text into the backend.
type PrefillRequest struct {
	// SequenceID identifies which KV cache sequence this prefill populates.
	// The backend must address subsequent DecodeStep calls for the same
	// generation using this id.
	SequenceID uint64

	// Prompt is the raw prompt text. Implementations tokenize it with their
	// own tokenizer (tokenization itself is out of scope for this
	// repository) and return the resulting token count via PrefillResult.
	Prompt string
}

// PrefillResult is returned after the prompt has been consumed and the KV
// cache warmed for SequenceID.
type PrefillResult struct {
	// PromptTokens is the number of tokens the prompt was split into.
	PromptTokens int
}

// SampleParams carries the composed sampling configuration for one decode
// step. Temperature ≤ 0 signals greedy (argmax) decoding; TopP and TopK of
// zero mean "no filter" for that stage.
type SampleParams struct {
	Temperature float64
	TopP        float64
	TopK        int
	// Seed pins the sampler's PRNG so that speculative and non-speculative
	// decode paths over the same backend produce identical output — required
	// by the speculative-decoding invariance contract.
	Seed uint64
}

// DecodeResult is the outcome of one autoregressive step.
type DecodeResult struct {
	// Token is the sampled token.
	Token Token
	// Text is the incremental text the token decodes to (empty for
	// partial/continuation byte-pieces the backend has not yet flushed).
	Text string
	// EOS reports whether Token is the backend's end-of-sequence marker.
	EOS bool
}

// ClassifyResult is returned by Classify: a label distribution over the
// backend's fixed label set.
type ClassifyResult struct {
	Labels []string
	Scores []float64
}

// EmbedResult is returned by Embed: a dense vector representation.
type EmbedResult struct {
	Vector []float32
}

// Backend is the trait every loaded model must satisfy. The runtime never
// performs tool calls, reads user data stores, or opens network connections
// on a Backend's behalf — those are out of scope per the spec's Non-goals.
type Backend interface {
	// Kind reports which of the two concrete variants this backend is. The
	// engine uses it to choose between the generative and
	// classification/embedding execution paths.
	Kind() Kind

	// Prefill runs the forward pass over req.Prompt and populates the KV
	// cache for req.SequenceID. Must only be called once per sequence,
	// before any DecodeStep for that sequence.
	Prefill(ctx context.Context, req PrefillRequest) (PrefillResult, error)

	// DecodeStep samples and appends one token to the sequence identified by
	// sequenceID, using the KV cache populated by Prefill. Returns an error
	// if sequenceID has no prior Prefill call.
	DecodeStep(ctx context.Context, sequenceID uint64, params SampleParams) (DecodeResult, error)

	// Classify runs a single forward pass over prompt and returns a label
	// distribution. Only valid when Kind() == ClassificationEmbedding.
	Classify(ctx context.Context, prompt string) (ClassifyResult, error)

	// Embed runs a single forward pass over prompt and returns a dense
	// vector. Only valid when Kind() == ClassificationEmbedding.
	Embed(ctx context.Context, prompt string) (EmbedResult, error)

	// Release frees any sequence-scoped state held for sequenceID (KV pages,
	// draft-model scratch). Safe to call more than once; subsequent calls
	// are no-ops.
	Release(sequenceID uint64)

	// EOSToken returns the backend's end-of-sequence token value, used by
	// the engine to detect natural completion independent of the EOS flag
	// on DecodeResult (some backends only set EOS on DecodeResult; others
	// expect the caller to compare against EOSToken).
	EOSToken() Token
}
