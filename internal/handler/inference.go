package handler

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/MythologIQ/hearthlink-core/internal/memfabric"
	"github.com/MythologIQ/hearthlink-core/internal/protocol"
	"github.com/MythologIQ/hearthlink-core/internal/queue"
)

func (h *Handler) handleInference(ctx context.Context, conn *ConnState, req *protocol.InferenceRequest, emit Emit) {
	session, ok := h.requireSession(conn, emit)
	if !ok {
		return
	}
	if h.coordinator != nil {
		if err := h.coordinator.AdmitWork(); err != nil {
			emit(errorEnvelope(ErrCodeShuttingDown, "handler: runtime is shutting down"))
			return
		}
	}
	if err := validateParams(req.Parameters); err != nil {
		emit(errorEnvelope(ErrCodeInputValidation, err.Error()))
		return
	}
	if h.injectionFilter != nil {
		if verdict := h.injectionFilter.Scan(req.Prompt); verdict.Blocked {
			emit(errorEnvelope(ErrCodeInputValidation, "handler: prompt flagged as a likely injection attempt"))
			return
		}
	}

	key := fingerprintKey(req.ModelID, req.Prompt, req.Parameters)
	if !req.Parameters.Stream && h.outputCache != nil {
		if cached, ok := h.outputCache.Get(key); ok {
			emit(protocol.Envelope{
				Type: protocol.TypeInferenceResponse,
				InferenceResponse: &protocol.InferenceResponse{
					RequestID:       req.RequestID,
					OutputText:      cached.OutputText,
					FinishReason:    protocol.FinishReason(cached.FinishReason),
					TokensGenerated: uint32(cached.TokensGenerated),
				},
			})
			return
		}
	}

	if _, err := h.registry.Lookup(req.ModelID); err != nil {
		emit(errorEnvelope(ErrCodeModelNotFound, "handler: model not loaded"))
		return
	}

	internalID := h.nextID.Add(1)
	queueID := strconv.FormatUint(internalID, 10)

	reqCtx := ctx
	var cancel context.CancelFunc
	if req.Parameters.TimeoutMs != nil && *req.Parameters.TimeoutMs > 0 {
		reqCtx, cancel = context.WithTimeout(ctx, time.Duration(*req.Parameters.TimeoutMs)*time.Millisecond)
	} else {
		reqCtx, cancel = context.WithCancel(ctx)
	}

	entry := &inflightEntry{
		ctx:             reqCtx,
		cancel:          cancel,
		emit:            emit,
		session:         session,
		clientRequestID: req.RequestID,
		sequenceID:      internalID,
	}
	h.registerInflight(queueID, entry)

	qreq := &queue.Request{
		ID:       queueID,
		ModelID:  req.ModelID,
		Prompt:   req.Prompt,
		Params:   req.Parameters,
		Priority: req.Parameters.Priority,
	}
	if req.Parameters.TimeoutMs != nil && *req.Parameters.TimeoutMs > 0 {
		qreq.Deadline = time.Now().Add(time.Duration(*req.Parameters.TimeoutMs) * time.Millisecond)
	}

	if err := h.queue.Enqueue(qreq); err != nil {
		h.unregisterInflight(queueID)
		cancel()
		if errors.Is(err, queue.ErrQueueFull) {
			emit(errorEnvelope(ErrCodeQueueFull, "handler: queue at capacity"))
		} else {
			emit(errorEnvelope(ErrCodeInternal, err.Error()))
		}
		return
	}

}

// DiscardHandler returns the callback the worker pool should invoke for
// every request [queue.Queue.DequeueReady] pops off the heap already
// cancelled or past its deadline before a worker ever ran it. Without this,
// such a request's inflight entry is never unregistered and its caller
// waits forever for a response that will never come; this resolves it to a
// terminal Cancelled response instead, matching the outcome an explicit
// client cancel produces in handleCancel.
func (h *Handler) DiscardHandler() func(*queue.Request) {
	return func(req *queue.Request) {
		entry, ok := h.lookupInflight(req.ID)
		if !ok {
			return
		}
		h.unregisterInflight(req.ID)
		entry.cancel()
		entry.emit(protocol.Envelope{
			Type: protocol.TypeInferenceResponse,
			InferenceResponse: &protocol.InferenceResponse{
				RequestID:    entry.clientRequestID,
				FinishReason: protocol.FinishCancelled,
			},
		})
	}
}

// validateParams rejects malformed sampling parameters before the request
// ever reaches the queue.
func validateParams(p protocol.InferenceParams) error {
	if p.MaxTokens < 0 {
		return fmt.Errorf("handler: max_tokens must be non-negative")
	}
	if p.TopP < 0 || p.TopP > 1 {
		return fmt.Errorf("handler: top_p must be within [0, 1]")
	}
	if p.TopK < 0 {
		return fmt.Errorf("handler: top_k must be non-negative")
	}
	return nil
}

// fingerprintKey computes the dedup cache key: SHA-256 over the model id,
// the raw prompt, and a canonical encoding of the sampling parameters that
// affect output determinism.
func fingerprintKey(modelID, prompt string, params protocol.InferenceParams) memfabric.FingerprintKey {
	sum := sha256.New()
	sum.Write([]byte(modelID))
	sum.Write([]byte{0})
	sum.Write([]byte(prompt))
	sum.Write([]byte{0})
	fmt.Fprintf(sum, "%d|%g|%g|%d|%d", params.MaxTokens, params.Temperature, params.TopP, params.TopK, params.Seed)

	var key memfabric.FingerprintKey
	copy(key[:], sum.Sum(nil))
	return key
}
