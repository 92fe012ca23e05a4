package protocol

import (
	"crypto/sha256"
	"encoding/binary"
	"math"
)

// fingerprintVersion is prefixed into every fingerprint so that a future
// change to the canonical encoding below can't silently collide with
// fingerprints computed by an older binary (see the spec's design note on
// versioning the canonical serialization explicitly).
const fingerprintVersion = byte(1)

// CanonicalParams produces a deterministic, field-ordered byte encoding of
// an (model id, prompt, params) triple, used solely as dedup-cache
// fingerprint input. It is not a wire format and is never decoded — it only
// needs to be stable and injective enough in practice for SHA-256 to do the
// rest. Field order is fixed by this function, not by struct layout, so
// adding a field to [InferenceParams] cannot silently change existing
// fingerprints' meaning for the fields that already existed.
func CanonicalParams(modelID, prompt string, p InferenceParams) []byte {
	buf := make([]byte, 0, 64+len(modelID)+len(prompt))
	buf = append(buf, fingerprintVersion)
	buf = appendLenPrefixed(buf, []byte(modelID))
	buf = appendLenPrefixed(buf, []byte(prompt))
	buf = appendUint64(buf, uint64(int64(p.MaxTokens)))
	buf = appendFloat64(buf, p.Temperature)
	buf = appendFloat64(buf, p.TopP)
	buf = appendUint64(buf, uint64(int64(p.TopK)))
	buf = appendUint64(buf, uint64(int64(p.Priority)))
	buf = appendUint64(buf, p.Seed)
	// Stream and TimeoutMs intentionally excluded: per the spec, dedup
	// applies only to non-streaming completions, and a request's deadline
	// has no bearing on whether two prompts are "the same" inference.
	return buf
}

// FingerprintKey hashes [CanonicalParams]' output with SHA-256, producing
// the dedup cache key named in the spec's data model
// (SHA-256(prompt_tokens ++ params_canonical)).
func FingerprintKey(modelID, prompt string, p InferenceParams) [32]byte {
	return sha256.Sum256(CanonicalParams(modelID, prompt, p))
}

func appendLenPrefixed(buf, v []byte) []byte {
	buf = appendUint64(buf, uint64(len(v)))
	return append(buf, v...)
}

func appendUint64(buf []byte, v uint64) []byte {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	return append(buf, b[:]...)
}

func appendFloat64(buf []byte, v float64) []byte {
	return appendUint64(buf, math.Float64bits(v))
}
