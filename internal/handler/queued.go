package handler

import (
	"context"
	"strconv"
	"strings"

	"github.com/MythologIQ/hearthlink-core/internal/engine"
	"github.com/MythologIQ/hearthlink-core/internal/memfabric"
	"github.com/MythologIQ/hearthlink-core/internal/protocol"
	"github.com/MythologIQ/hearthlink-core/internal/queue"
	"github.com/MythologIQ/hearthlink-core/internal/resilience"
	"github.com/MythologIQ/hearthlink-core/pkg/backend"
)

// QueueHandler returns the [queue.Handler] the worker pool should run. It
// closes over h, so one Handler backs the whole pool regardless of worker
// count.
func (h *Handler) QueueHandler() queue.Handler {
	return h.runQueued
}

// runQueued services one dequeued request: it resolves the model, runs the
// generative or classification/embedding path, and delivers the result (or
// stream chunks) to the originating connection via the inflight entry's
// emit callback. The worker-pool ctx passed in is intentionally unused for
// the backend calls themselves — each request carries its own
// deadline/cancel-derived context from the moment it was admitted, so an
// in-flight request keeps running across a pool-wide shutdown signal until
// its own deadline or an explicit cancel, matching the worker pool's
// "finish current request, then stop" shutdown contract.
func (h *Handler) runQueued(_ context.Context, qr *queue.Request) error {
	entry, ok := h.lookupInflight(qr.ID)
	if !ok {
		return nil
	}
	defer h.unregisterInflight(qr.ID)
	defer entry.cancel()

	modelEntry, err := h.registry.Lookup(qr.ModelID)
	if err != nil {
		entry.emit(errorEnvelope(ErrCodeModelNotFound, "handler: model not loaded"))
		return err
	}
	be := modelEntry.Backend()
	defer modelEntry.Release()
	defer h.reportCircuitState(qr.ModelID, be)

	if h.limiter != nil {
		guard, err := h.limiter.Acquire(0)
		if err != nil {
			entry.emit(errorEnvelope(ErrCodeResourceLimitExceeded, "handler: concurrent generation limit reached"))
			return err
		}
		defer guard.Release()
	}

	switch be.Kind() {
	case backend.Generative:
		return h.runGenerative(entry, qr, be)
	case backend.ClassificationEmbedding:
		return h.runClassify(entry, qr, be)
	default:
		entry.emit(errorEnvelope(ErrCodeInternal, "handler: unknown backend kind"))
		return nil
	}
}

func (h *Handler) runGenerative(entry *inflightEntry, qr *queue.Request, be backend.Backend) error {
	genReq := engine.GenerateRequest{
		RequestID:  entry.clientRequestID,
		SequenceID: entry.sequenceID,
		Prompt:     qr.Prompt,
		Params:     qr.Params,
		Backend:    be,
	}

	if qr.Params.Stream {
		stream, err := h.engine.Stream(entry.ctx, genReq)
		if err != nil {
			entry.emit(errorEnvelope(ErrCodeInferenceFailed, err.Error()))
			return err
		}
		for chunk := range stream.Chunks() {
			entry.emit(protocol.Envelope{Type: protocol.TypeStreamChunk, StreamChunk: &chunk})
		}
		if err := stream.Err(); err != nil {
			entry.emit(errorEnvelope(ErrCodeInferenceFailed, err.Error()))
			return err
		}
		return nil
	}

	resp, err := h.engine.Generate(entry.ctx, genReq)
	if err != nil {
		entry.emit(errorEnvelope(ErrCodeInferenceFailed, err.Error()))
		return err
	}

	if h.outputCache != nil && (resp.FinishReason == protocol.FinishStop || resp.FinishReason == protocol.FinishLength) {
		key := fingerprintKey(qr.ModelID, qr.Prompt, qr.Params)
		h.outputCache.Put(key, memfabric.CachedOutput{
			OutputText:      resp.OutputText,
			FinishReason:    string(resp.FinishReason),
			TokensGenerated: int(resp.TokensGenerated),
		})
	}

	entry.emit(protocol.Envelope{Type: protocol.TypeInferenceResponse, InferenceResponse: &resp})
	return nil
}

// runClassify services a classification/embedding backend. The wire
// protocol carries only a text output_text field for inference results, so
// the label/score distribution is serialized as "label=score" pairs; raw
// embedding vectors have no wire representation and are out of scope for
// the IPC surface as specified (see DESIGN.md's open-question decisions).
func (h *Handler) runClassify(entry *inflightEntry, qr *queue.Request, be backend.Backend) error {
	result, err := h.engine.Classify(entry.ctx, engine.ClassifyRequest{Prompt: qr.Prompt, Backend: be})
	if err != nil {
		entry.emit(errorEnvelope(ErrCodeInferenceFailed, err.Error()))
		return err
	}

	var sb strings.Builder
	for i, label := range result.Labels {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(label)
		if i < len(result.Scores) {
			sb.WriteByte('=')
			sb.WriteString(formatScore(result.Scores[i]))
		}
	}

	entry.emit(protocol.Envelope{Type: protocol.TypeInferenceResponse, InferenceResponse: &protocol.InferenceResponse{
		RequestID:    entry.clientRequestID,
		OutputText:   sb.String(),
		FinishReason: protocol.FinishStop,
	}})
	return nil
}

func formatScore(f float64) string {
	return strconv.FormatFloat(f, 'g', 4, 64)
}

// circuitStater is satisfied by [resilience.BackendFallback]. Declared here
// rather than imported directly so this package does not need to depend on
// internal/resilience just to read a gauge value.
type circuitStater interface {
	State() resilience.State
}

// reportCircuitState reports be's circuit breaker state to h.metrics, if
// both are available. A backend that isn't wrapped in a fallback (e.g. a
// test double) is silently skipped.
func (h *Handler) reportCircuitState(modelID string, be backend.Backend) {
	if h.metrics == nil {
		return
	}
	stater, ok := be.(circuitStater)
	if !ok {
		return
	}
	h.metrics.RecordCircuitBreakerState(context.Background(), modelID, int64(stater.State()))
}
