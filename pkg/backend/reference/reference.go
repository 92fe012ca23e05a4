// Package reference provides a deterministic, pure-Go [backend.Backend]
// implementation used for tests and as a concrete demonstration of the
// trait. It never performs real tokenization, matrix multiplication, or
// sampling math — those are explicitly out of scope for this repository
// (see the spec's Non-goals). Instead it maps bytes of the prompt to a tiny
// synthetic vocabulary and walks it deterministically, which is sufficient
// to exercise prefill/decode/cancel/deadline/EOS behavior end to end.
package reference

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/MythologIQ/hearthlink-core/pkg/backend"
)

// eosToken is the synthetic end-of-sequence marker emitted after
// maxSyntheticTokens steps or when the prompt is exhausted, whichever comes
// first for a given sequence.
const eosToken backend.Token = 0

// maxSyntheticTokens bounds how many tokens a single sequence can generate
// before the backend forces EOS, so tests never hang waiting on max_tokens
// alone.
const maxSyntheticTokens = 4096

// sequenceState tracks per-sequence decode progress.
type sequenceState struct {
	tokens   []backend.Token
	words    []string
	cursor   int
	produced int
}

// Backend is a deterministic, in-process reference implementation of
// [backend.Backend]. Safe for concurrent use across distinct sequence ids.
type Backend struct {
	kind backend.Kind

	mu        sync.Mutex
	sequences map[uint64]*sequenceState

	// labels is the fixed label set Classify chooses from.
	labels []string
}

// New creates a reference Backend of the given kind. For
// [backend.ClassificationEmbedding], labels names the fixed label set;
// for [backend.Generative] labels is ignored.
func New(kind backend.Kind, labels ...string) *Backend {
	if len(labels) == 0 {
		labels = []string{"positive", "negative", "neutral"}
	}
	return &Backend{
		kind:      kind,
		sequences: make(map[uint64]*sequenceState),
		labels:    labels,
	}
}

// Kind implements [backend.Backend].
func (b *Backend) Kind() backend.Kind { return b.kind }

// Prefill implements [backend.Backend]. It tokenizes req.Prompt by
// whitespace-splitting (the synthetic vocabulary), records the sequence
// state, and returns the resulting token count.
func (b *Backend) Prefill(_ context.Context, req backend.PrefillRequest) (backend.PrefillResult, error) {
	words := strings.Fields(req.Prompt)
	tokens := make([]backend.Token, len(words))
	for i := range words {
		tokens[i] = backend.Token(i + 1) // 0 is reserved for EOS
	}

	b.mu.Lock()
	b.sequences[req.SequenceID] = &sequenceState{tokens: tokens, words: words}
	b.mu.Unlock()

	return backend.PrefillResult{PromptTokens: len(words)}, nil
}

// DecodeStep implements [backend.Backend]. Greedy (Temperature ≤ 0) walks
// the prompt's own words round-robin; any other Temperature perturbs the
// choice deterministically using params.Seed so repeated calls with the
// same seed produce the same output (required for the speculative-decoding
// invariance contract).
func (b *Backend) DecodeStep(_ context.Context, sequenceID uint64, params backend.SampleParams) (backend.DecodeResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	seq, ok := b.sequences[sequenceID]
	if !ok {
		return backend.DecodeResult{}, fmt.Errorf("reference backend: no prefill for sequence %d", sequenceID)
	}

	if len(seq.tokens) == 0 || seq.produced >= maxSyntheticTokens {
		return backend.DecodeResult{Token: eosToken, EOS: true}, nil
	}

	idx := b.nextIndex(seq, params)
	word := seq.words[idx]
	tok := seq.tokens[idx]
	seq.cursor++
	seq.produced++

	if seq.produced >= len(seq.words)*2 {
		// Deterministic stop: every reference sequence terminates after two
		// full passes over its own prompt words.
		return backend.DecodeResult{Token: tok, Text: word, EOS: true}, nil
	}

	return backend.DecodeResult{Token: tok, Text: word + " "}, nil
}

// nextIndex picks the next vocabulary index deterministically. Must be
// called with b.mu held.
func (b *Backend) nextIndex(seq *sequenceState, params backend.SampleParams) int {
	n := len(seq.tokens)
	if params.Temperature <= 0 {
		return seq.cursor % n
	}
	// Deterministic pseudo-perturbation keyed on the seed, still a pure
	// function of (seed, cursor) so identical seeds reproduce identical
	// sequences — this is the entire point of exposing Seed on
	// [backend.SampleParams].
	shift := int((params.Seed + uint64(seq.cursor)) % uint64(n))
	return shift
}

// Classify implements [backend.Backend]. It scores each label by how many
// times the label occurs (case-insensitively) as a substring of prompt,
// plus one, normalized so the scores sum to 1 — a deterministic,
// content-sensitive stand-in for a real classifier head.
func (b *Backend) Classify(_ context.Context, prompt string) (backend.ClassifyResult, error) {
	lower := strings.ToLower(prompt)
	scores := make([]float64, len(b.labels))
	var total float64
	for i, label := range b.labels {
		count := strings.Count(lower, strings.ToLower(label))
		score := float64(count) + 1 // +1 so every label gets nonzero mass
		scores[i] = score
		total += score
	}
	for i := range scores {
		scores[i] /= total
	}

	labels := make([]string, len(b.labels))
	copy(labels, b.labels)
	return backend.ClassifyResult{Labels: labels, Scores: scores}, nil
}

// Embed implements [backend.Backend]. It produces a small deterministic
// vector derived from word-length statistics of prompt — enough to satisfy
// the trait's shape without doing real embedding math.
func (b *Backend) Embed(_ context.Context, prompt string) (backend.EmbedResult, error) {
	words := strings.Fields(prompt)
	const dims = 8
	vec := make([]float32, dims)
	for i, w := range words {
		vec[i%dims] += float32(len(w))
	}
	var norm float32
	for _, v := range vec {
		norm += v * v
	}
	if norm > 0 {
		scale := float32(1)
		for scale*scale*norm > 1 {
			scale /= 2
		}
		for i := range vec {
			vec[i] *= scale
		}
	}
	return backend.EmbedResult{Vector: vec}, nil
}

// Release implements [backend.Backend].
func (b *Backend) Release(sequenceID uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.sequences, sequenceID)
}

// EOSToken implements [backend.Backend].
func (b *Backend) EOSToken() backend.Token { return eosToken }

// ActiveSequences returns the currently tracked sequence ids, sorted. Used
// by tests to assert that Release actually frees state.
func (b *Backend) ActiveSequences() []uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	ids := make([]uint64, 0, len(b.sequences))
	for id := range b.sequences {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
