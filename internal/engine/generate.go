package engine

import (
	"context"
	"errors"
	"strings"

	"github.com/MythologIQ/hearthlink-core/internal/protocol"
	"github.com/MythologIQ/hearthlink-core/internal/security"
	"github.com/MythologIQ/hearthlink-core/pkg/backend"
)

// ErrBackendKindMismatch is returned when a request is routed to a path that
// does not match the backend's declared Kind.
var ErrBackendKindMismatch = errors.New("engine: request kind does not match backend kind")

// GenerateRequest carries everything the generative path needs for one
// generation. Backend is the already-resolved, reference-counted handle
// obtained from the model registry; the caller is responsible for releasing
// it once the request completes.
type GenerateRequest struct {
	RequestID  uint64
	SequenceID uint64
	Prompt     string
	Params     protocol.InferenceParams
	Backend    backend.Backend

	// Draft, if non-nil, is a smaller backend used for speculative decoding.
	// DraftSequenceID must be set alongside it. See [Engine.Stream] and
	// [Engine.Generate] for the speculative contract.
	Draft           backend.Backend
	DraftSequenceID uint64
}

func (r GenerateRequest) maxTokens() int {
	if r.Params.MaxTokens > 0 {
		return r.Params.MaxTokens
	}
	return 1
}

// Generate runs the full generative path to completion and returns the
// accumulated result: tokenize (inside Prefill) → prefill → decode loop →
// accumulate, stopping on EOS, max_tokens, or ctx cancellation/deadline.
func (e *Engine) Generate(ctx context.Context, req GenerateRequest) (protocol.InferenceResponse, error) {
	if req.SequenceID == 0 {
		return protocol.InferenceResponse{}, ErrSequenceIDRequired
	}
	if req.Backend.Kind() != backend.Generative {
		return protocol.InferenceResponse{}, ErrBackendKindMismatch
	}
	defer req.Backend.Release(req.SequenceID)
	if req.Draft != nil {
		defer req.Draft.Release(req.DraftSequenceID)
	}
	if e.pageTable != nil {
		defer e.pageTable.Release(req.SequenceID)
	}

	prefill, err := req.Backend.Prefill(ctx, backend.PrefillRequest{SequenceID: req.SequenceID, Prompt: req.Prompt})
	if err != nil {
		return protocol.InferenceResponse{}, err
	}
	if e.pageTable != nil {
		if err := e.pageTable.Append(req.SequenceID, prefill.PromptTokens); err != nil {
			return protocol.InferenceResponse{}, err
		}
	}
	if req.Draft != nil {
		if _, err := req.Draft.Prefill(ctx, backend.PrefillRequest{SequenceID: req.DraftSequenceID, Prompt: req.Prompt}); err != nil {
			return protocol.InferenceResponse{}, err
		}
	}

	var out strings.Builder
	var tokensGenerated uint32
	finish := protocol.FinishStop

	emit := func(text string, _ uint32, reason protocol.FinishReason, n uint32) {
		out.WriteString(text)
		tokensGenerated = n
		finish = reason
	}

	if err := e.decodeLoop(ctx, req, emit); err != nil {
		return protocol.InferenceResponse{}, err
	}

	text := out.String()
	if e.sanitizer != nil {
		text = e.sanitizer.Sanitize(text)
	}
	if e.piiDetector != nil {
		text = e.piiDetector.Redact(text)
	}

	return protocol.InferenceResponse{
		RequestID:       req.RequestID,
		OutputText:      text,
		FinishReason:    finish,
		TokensGenerated: tokensGenerated,
	}, nil
}

// Stream runs the generative path, pushing one [protocol.StreamChunk] per
// decode step to the returned [Stream] (the terminal step's chunk carries
// the finish reason and is_final=true), closing it when generation ends. The decode loop runs on a
// background goroutine; callers must drain the returned stream's channel.
func (e *Engine) Stream(ctx context.Context, req GenerateRequest) (*Stream, error) {
	if req.SequenceID == 0 {
		return nil, ErrSequenceIDRequired
	}
	if req.Backend.Kind() != backend.Generative {
		return nil, ErrBackendKindMismatch
	}

	prefill, err := req.Backend.Prefill(ctx, backend.PrefillRequest{SequenceID: req.SequenceID, Prompt: req.Prompt})
	if err != nil {
		return nil, err
	}
	if e.pageTable != nil {
		if err := e.pageTable.Append(req.SequenceID, prefill.PromptTokens); err != nil {
			return nil, err
		}
	}
	if req.Draft != nil {
		if _, err := req.Draft.Prefill(ctx, backend.PrefillRequest{SequenceID: req.DraftSequenceID, Prompt: req.Prompt}); err != nil {
			return nil, err
		}
	}

	s := newStream(e.streamBuf)
	var sanitizer *security.StreamSanitizer
	if e.sanitizer != nil {
		sanitizer = security.NewStreamSanitizer(e.sanitizer, e.streamSanitizeBoundary)
	}

	go func() {
		defer close(s.chunks)
		defer req.Backend.Release(req.SequenceID)
		if req.Draft != nil {
			defer req.Draft.Release(req.DraftSequenceID)
		}
		if e.pageTable != nil {
			defer e.pageTable.Release(req.SequenceID)
		}

		emit := func(text string, tokenID uint32, reason protocol.FinishReason, n uint32) {
			if sanitizer != nil {
				text = sanitizer.Feed(text)
			}
			final := reason != protocol.FinishNone
			var reasonPtr *protocol.FinishReason
			if final {
				if sanitizer != nil {
					text += sanitizer.Flush()
				}
				reasonPtr = &reason
			}
			chunk := protocol.StreamChunk{
				RequestID: req.RequestID,
				IsFinal:   final,
			}
			if text != "" || !final {
				t := text
				chunk.Text = &t
			}
			if !final {
				id := tokenID
				chunk.TokenID = &id
			}
			chunk.FinishReason = reasonPtr
			select {
			case s.chunks <- chunk:
			case <-ctx.Done():
			}
		}

		if err := e.decodeLoop(ctx, req, emit); err != nil {
			s.setErr(err)
		}
	}()

	return s, nil
}

// decodeLoop drives the shared prefill-complete decode loop for both the
// accumulating and streaming paths, invoking emit once per step; the
// terminal step's emit carries the non-empty finish reason. It never
// re-enters prefill: both callers have already run it before decodeLoop is
// invoked, matching the state machine's Init → Prefill → Decode → terminal
// contract.
func (e *Engine) decodeLoop(ctx context.Context, req GenerateRequest, emit func(text string, tokenID uint32, reason protocol.FinishReason, tokensGenerated uint32)) error {
	params := composeSampleParams(req.Params)
	max := req.maxTokens()

	if req.Draft != nil {
		return e.speculativeDecodeLoop(ctx, req, params, max, emit)
	}

	var n uint32
	for {
		select {
		case <-ctx.Done():
			if n == 0 {
				// Cancelled before a single token was produced: there is no
				// real chunk to attach the reason to.
				emit("", 0, protocol.FinishCancelled, n)
				return nil
			}
		default:
		}

		result, err := req.Backend.DecodeStep(ctx, req.SequenceID, params)
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
			emit(result.Text, uint32(result.Token), protocol.FinishCancelled, n)
			return nil
		case result.EOS || result.Token == req.Backend.EOSToken():
			emit(result.Text, uint32(result.Token), protocol.FinishStop, n)
			return nil
		case int(n) >= max:
			emit(result.Text, uint32(result.Token), protocol.FinishLength, n)
			return nil
		default:
			emit(result.Text, uint32(result.Token), protocol.FinishNone, n)
		}
	}
}
