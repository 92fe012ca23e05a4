package engine

import (
	"github.com/MythologIQ/hearthlink-core/internal/protocol"
	"github.com/MythologIQ/hearthlink-core/pkg/backend"
)

// composeSampleParams translates the wire-level parameters into the
// backend's sampling contract. temperature ≤ 0 is passed through unchanged:
// [backend.SampleParams] documents that value as the backend's own signal
// for greedy decoding, so the engine does not special-case it further.
// top_p outside (0, 1] and top_k < 1 mean "no filter" and are zeroed so the
// backend does not apply a degenerate filter.
func composeSampleParams(p protocol.InferenceParams) backend.SampleParams {
	sp := backend.SampleParams{
		Temperature: p.Temperature,
		Seed:        p.Seed,
	}
	if p.TopP > 0 && p.TopP <= 1 {
		sp.TopP = p.TopP
	}
	if p.TopK >= 1 {
		sp.TopK = p.TopK
	}
	return sp
}
