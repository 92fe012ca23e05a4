package resilience

import (
	"context"
	"errors"
	"testing"

	"github.com/MythologIQ/hearthlink-core/pkg/backend"
	"github.com/MythologIQ/hearthlink-core/pkg/backend/mock"
)

func TestBackendFallback_Prefill_PrimarySuccess(t *testing.T) {
	primary := &mock.Backend{PrefillResult: backend.PrefillResult{PromptTokens: 3}}
	secondary := &mock.Backend{PrefillResult: backend.PrefillResult{PromptTokens: 9}}

	fb := NewBackendFallback(primary, "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fb.AddFallback("secondary", secondary)

	res, err := fb.Prefill(context.Background(), backend.PrefillRequest{SequenceID: 1, Prompt: "hi"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.PromptTokens != 3 {
		t.Fatalf("PromptTokens = %d, want 3", res.PromptTokens)
	}
	if len(primary.PrefillCalls) != 1 || len(secondary.PrefillCalls) != 0 {
		t.Fatalf("primary calls = %d, secondary calls = %d, want 1/0", len(primary.PrefillCalls), len(secondary.PrefillCalls))
	}
}

func TestBackendFallback_Prefill_Failover(t *testing.T) {
	primary := &mock.Backend{PrefillErr: errors.New("primary down")}
	secondary := &mock.Backend{PrefillResult: backend.PrefillResult{PromptTokens: 9}}

	fb := NewBackendFallback(primary, "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fb.AddFallback("secondary", secondary)

	res, err := fb.Prefill(context.Background(), backend.PrefillRequest{SequenceID: 1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.PromptTokens != 9 {
		t.Fatalf("PromptTokens = %d, want 9", res.PromptTokens)
	}
}

func TestBackendFallback_DecodeStep_PinnedToPrefillOwner(t *testing.T) {
	primary := &mock.Backend{PrefillErr: errors.New("primary down")}
	secondary := &mock.Backend{
		DecodeResults: []backend.DecodeResult{{Token: 42}},
	}

	fb := NewBackendFallback(primary, "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fb.AddFallback("secondary", secondary)

	if _, err := fb.Prefill(context.Background(), backend.PrefillRequest{SequenceID: 7}); err != nil {
		t.Fatalf("Prefill: %v", err)
	}

	res, err := fb.DecodeStep(context.Background(), 7, backend.SampleParams{})
	if err != nil {
		t.Fatalf("DecodeStep: %v", err)
	}
	if res.Token != 42 {
		t.Fatalf("Token = %v, want 42", res.Token)
	}
	if len(secondary.DecodeStepCalls) != 1 {
		t.Fatalf("secondary.DecodeStepCalls = %d, want 1 (decode must route to the prefill owner)", len(secondary.DecodeStepCalls))
	}
	if len(primary.DecodeStepCalls) != 0 {
		t.Fatalf("primary.DecodeStepCalls = %d, want 0", len(primary.DecodeStepCalls))
	}
}

func TestBackendFallback_DecodeStep_UnknownSequence(t *testing.T) {
	primary := &mock.Backend{}
	fb := NewBackendFallback(primary, "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})

	if _, err := fb.DecodeStep(context.Background(), 999, backend.SampleParams{}); err == nil {
		t.Fatal("expected an error for an unprefilled sequence")
	}
}

func TestBackendFallback_Classify_Failover(t *testing.T) {
	primary := &mock.Backend{
		BackendKind: backend.ClassificationEmbedding,
		ClassifyErr: errors.New("primary down"),
	}
	secondary := &mock.Backend{
		BackendKind:    backend.ClassificationEmbedding,
		ClassifyResult: backend.ClassifyResult{Labels: []string{"spam"}, Scores: []float64{0.9}},
	}

	fb := NewBackendFallback(primary, "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fb.AddFallback("secondary", secondary)

	res, err := fb.Classify(context.Background(), "some text")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Labels) != 1 || res.Labels[0] != "spam" {
		t.Fatalf("got %+v, want label spam", res)
	}
}

func TestBackendFallback_AllFail(t *testing.T) {
	primary := &mock.Backend{PrefillErr: errors.New("primary down")}
	secondary := &mock.Backend{PrefillErr: errors.New("secondary down")}

	fb := NewBackendFallback(primary, "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fb.AddFallback("secondary", secondary)

	if _, err := fb.Prefill(context.Background(), backend.PrefillRequest{SequenceID: 1}); !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
}

func TestBackendFallback_Release_RoutesAndForgets(t *testing.T) {
	primary := &mock.Backend{}
	fb := NewBackendFallback(primary, "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})

	if _, err := fb.Prefill(context.Background(), backend.PrefillRequest{SequenceID: 4}); err != nil {
		t.Fatalf("Prefill: %v", err)
	}
	fb.Release(4)
	if len(primary.Released) != 1 || primary.Released[0] != 4 {
		t.Fatalf("Released = %v, want [4]", primary.Released)
	}

	if _, err := fb.DecodeStep(context.Background(), 4, backend.SampleParams{}); err == nil {
		t.Fatal("expected an error after Release forgot the sequence owner")
	}
}

func TestBackendFallback_EOSToken(t *testing.T) {
	primary := &mock.Backend{EOS: 2}
	fb := NewBackendFallback(primary, "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})

	if got := fb.EOSToken(); got != 2 {
		t.Fatalf("EOSToken = %v, want 2", got)
	}
}

func TestBackendFallback_Kind(t *testing.T) {
	primary := &mock.Backend{BackendKind: backend.ClassificationEmbedding}
	fb := NewBackendFallback(primary, "primary", FallbackConfig{})

	if got := fb.Kind(); got != backend.ClassificationEmbedding {
		t.Fatalf("Kind = %v, want ClassificationEmbedding", got)
	}
}
