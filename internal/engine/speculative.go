package engine

import (
	"context"

	"github.com/MythologIQ/hearthlink-core/internal/protocol"
	"github.com/MythologIQ/hearthlink-core/pkg/backend"
)

// speculativeDecodeLoop implements the optional speculative-decoding path: a
// draft backend proposes up to speculativeK candidate tokens, and the
// target backend verifies them one at a time against the same sampling
// parameters (including seed). [pkg/backend.Backend] exposes no batched
// verify primitive — Prefill/DecodeStep are single-sequence, single-step
// only — so "verifies them in one batch" is emulated here as a sequential
// accept loop rather than a true batched forward pass; the externally
// observable contract is unaffected, since every emitted token is always
// the target backend's own DecodeStep result, draft or no draft.
//
// On the first round where a draft token disagrees with the target's
// independently sampled token, the target's token is emitted as the
// correction and the remaining draft proposals for that round are
// discarded, matching the spec's "first divergent position" rule.
func (e *Engine) speculativeDecodeLoop(ctx context.Context, req GenerateRequest, params backend.SampleParams, max int, emit func(text string, tokenID uint32, reason protocol.FinishReason, tokensGenerated uint32)) error {
	k := e.speculativeK
	var n uint32

	for {
		if ctx.Err() != nil && n == 0 {
			// Cancelled before a single token was produced: there is no
			// real chunk to attach the reason to.
			emit("", 0, protocol.FinishCancelled, n)
			return nil
		}

		draftTokens := make([]backend.DecodeResult, 0, k)
		for i := 0; i < k; i++ {
			dr, err := req.Draft.DecodeStep(ctx, req.DraftSequenceID, params)
			if err != nil {
				return err
			}
			draftTokens = append(draftTokens, dr)
			if dr.EOS || dr.Token == req.Draft.EOSToken() {
				break
			}
		}

		for _, dr := range draftTokens {
			tr, err := req.Backend.DecodeStep(ctx, req.SequenceID, params)
			if err != nil {
				return err
			}
			n++
			if e.pageTable != nil {
				if err := e.pageTable.Append(req.SequenceID, 1); err != nil {
					return err
				}
			}

			switch {
			case ctx.Err() != nil:
				emit(tr.Text, uint32(tr.Token), protocol.FinishCancelled, n)
				return nil
			case tr.EOS || tr.Token == req.Backend.EOSToken():
				emit(tr.Text, uint32(tr.Token), protocol.FinishStop, n)
				return nil
			case int(n) >= max:
				emit(tr.Text, uint32(tr.Token), protocol.FinishLength, n)
				return nil
			default:
				emit(tr.Text, uint32(tr.Token), protocol.FinishNone, n)
			}

			if tr.Token != dr.Token {
				// Divergence: the rest of this round's draft proposals are
				// stale, since they were built on a KV state the target
				// never actually reached. Start a fresh round.
				break
			}
		}
	}
}
