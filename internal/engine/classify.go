package engine

import (
	"context"

	"github.com/MythologIQ/hearthlink-core/pkg/backend"
)

// ClassifyRequest carries the input for the classification/embedding path:
// tokenize → single forward → emit, with no KV state and no decode loop.
type ClassifyRequest struct {
	Prompt  string
	Backend backend.Backend
}

// Classify runs a single forward pass and returns the backend's label
// distribution.
func (e *Engine) Classify(ctx context.Context, req ClassifyRequest) (backend.ClassifyResult, error) {
	if req.Backend.Kind() != backend.ClassificationEmbedding {
		return backend.ClassifyResult{}, ErrBackendKindMismatch
	}
	return req.Backend.Classify(ctx, req.Prompt)
}

// Embed runs a single forward pass and returns the backend's dense vector
// representation.
func (e *Engine) Embed(ctx context.Context, req ClassifyRequest) (backend.EmbedResult, error) {
	if req.Backend.Kind() != backend.ClassificationEmbedding {
		return backend.EmbedResult{}, ErrBackendKindMismatch
	}
	return req.Backend.Embed(ctx, req.Prompt)
}
