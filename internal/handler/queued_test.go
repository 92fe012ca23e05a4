package handler

import (
	"context"
	"testing"
	"time"

	"github.com/MythologIQ/hearthlink-core/internal/memfabric"
	"github.com/MythologIQ/hearthlink-core/internal/protocol"
	"github.com/MythologIQ/hearthlink-core/internal/queue"
	"github.com/MythologIQ/hearthlink-core/pkg/backend"
)

func enqueueAndRun(t *testing.T, th *testHarness, modelID string, params protocol.InferenceParams) protocol.Envelope {
	t.Helper()
	conn := th.handshake(t)

	var resp protocol.Envelope
	emit := func(env protocol.Envelope) { resp = env }

	th.h.handleInference(context.Background(), conn, &protocol.InferenceRequest{
		RequestID:  1,
		ModelID:    modelID,
		Prompt:     "hello",
		Parameters: params,
	}, emit)

	qr, _, ok := th.queue.DequeueReady(time.Now())
	if !ok {
		t.Fatalf("nothing was enqueued")
	}
	if err := th.h.runQueued(context.Background(), qr); err != nil {
		t.Fatalf("runQueued: %v", err)
	}
	return resp
}

func TestRunQueued_GenerativeNonStreaming(t *testing.T) {
	th := newTestHandler(t)
	modelID, be := th.loadModel(t, "gen-model", backend.Generative)
	be.DecodeResults = []backend.DecodeResult{{Text: "o", Token: 1}, {Text: "k", Token: 2, EOS: true}}

	resp := enqueueAndRun(t, th, modelID, protocol.InferenceParams{MaxTokens: 10})

	if resp.Type != protocol.TypeInferenceResponse {
		t.Fatalf("got %+v, want InferenceResponse", resp)
	}
	if resp.InferenceResponse.OutputText != "ok" {
		t.Fatalf("OutputText = %q, want %q", resp.InferenceResponse.OutputText, "ok")
	}

	key := fingerprintKey(modelID, "hello", protocol.InferenceParams{MaxTokens: 10})
	if _, ok := th.cache.Get(key); !ok {
		t.Fatalf("completed non-streaming result was not written to the dedup cache")
	}
}

func TestRunQueued_GenerativeStreaming(t *testing.T) {
	th := newTestHandler(t)
	modelID, be := th.loadModel(t, "stream-model", backend.Generative)
	be.DecodeResults = []backend.DecodeResult{{Text: "a", Token: 1}, {Text: "b", Token: 2, EOS: true}}

	conn := th.handshake(t)
	var chunks []protocol.StreamChunk
	emit := func(env protocol.Envelope) {
		if env.StreamChunk != nil {
			chunks = append(chunks, *env.StreamChunk)
		}
	}

	th.h.handleInference(context.Background(), conn, &protocol.InferenceRequest{
		RequestID:  2,
		ModelID:    modelID,
		Prompt:     "hello",
		Parameters: protocol.InferenceParams{MaxTokens: 10, Stream: true},
	}, emit)

	qr, _, ok := th.queue.DequeueReady(time.Now())
	if !ok {
		t.Fatalf("nothing was enqueued")
	}
	if err := th.h.runQueued(context.Background(), qr); err != nil {
		t.Fatalf("runQueued: %v", err)
	}

	if len(chunks) == 0 {
		t.Fatalf("no stream chunks delivered")
	}
	if !chunks[len(chunks)-1].IsFinal {
		t.Fatalf("last chunk should be final")
	}
}

func TestRunQueued_ClassificationPath(t *testing.T) {
	th := newTestHandler(t)
	modelID, be := th.loadModel(t, "sentiment-cls", backend.ClassificationEmbedding)
	be.ClassifyResult = backend.ClassifyResult{Labels: []string{"positive", "negative"}, Scores: []float64{0.9, 0.1}}

	resp := enqueueAndRun(t, th, modelID, protocol.InferenceParams{})

	if resp.Type != protocol.TypeInferenceResponse {
		t.Fatalf("got %+v, want InferenceResponse", resp)
	}
	want := "positive=0.9, negative=0.1"
	if resp.InferenceResponse.OutputText != want {
		t.Fatalf("OutputText = %q, want %q", resp.InferenceResponse.OutputText, want)
	}
}

func TestRunQueued_ModelDisappearedBeforeDispatch(t *testing.T) {
	th := newTestHandler(t)
	modelID, _ := th.loadModel(t, "fleeting-model", backend.Generative)

	conn := th.handshake(t)
	var resp protocol.Envelope
	th.h.handleInference(context.Background(), conn, &protocol.InferenceRequest{
		RequestID: 3,
		ModelID:   modelID,
	}, func(env protocol.Envelope) { resp = env })

	qr, _, ok := th.queue.DequeueReady(time.Now())
	if !ok {
		t.Fatalf("nothing was enqueued")
	}

	// Simulate the model being unloaded between enqueue and dispatch.
	handle, err := th.registry.Lookup(modelID)
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if err := th.registry.Unload(context.Background(), handle.Handle); err != nil {
		t.Fatalf("Unload: %v", err)
	}

	if err := th.h.runQueued(context.Background(), qr); err == nil {
		t.Fatalf("runQueued should surface the model-not-found error")
	}
	if resp.Type != protocol.TypeError || resp.Error.Code != ErrCodeModelNotFound {
		t.Fatalf("got %+v, want model-not-found error", resp)
	}
}

func TestRunQueued_LimiterRejectsOverConcurrencyBound(t *testing.T) {
	th := newTestHandler(t)
	modelID, be := th.loadModel(t, "gen-model", backend.Generative)
	be.DecodeResults = []backend.DecodeResult{{Text: "o", Token: 1, EOS: true}}

	// Saturate the concurrency bound before runQueued ever tries to acquire.
	th.limiter = memfabric.NewLimiter(0, 1)
	guard, err := th.limiter.Acquire(0)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer guard.Release()
	th.h.limiter = th.limiter

	conn := th.handshake(t)
	var resp protocol.Envelope
	th.h.handleInference(context.Background(), conn, &protocol.InferenceRequest{
		RequestID:  1,
		ModelID:    modelID,
		Prompt:     "hello",
		Parameters: protocol.InferenceParams{MaxTokens: 10},
	}, func(env protocol.Envelope) { resp = env })

	qr, _, ok := th.queue.DequeueReady(time.Now())
	if !ok {
		t.Fatalf("nothing was enqueued")
	}
	if err := th.h.runQueued(context.Background(), qr); err == nil {
		t.Fatalf("runQueued should surface the resource-limit error")
	}
	if resp.Type != protocol.TypeError || resp.Error.Code != ErrCodeResourceLimitExceeded {
		t.Fatalf("got %+v, want resource-limit-exceeded error", resp)
	}
}

func TestRunQueued_MissingInflightEntryIsANoOp(t *testing.T) {
	th := newTestHandler(t)
	if err := th.h.runQueued(context.Background(), &queue.Request{ID: "never-registered"}); err != nil {
		t.Fatalf("runQueued on an unknown queue id should be a no-op, got err = %v", err)
	}
}
