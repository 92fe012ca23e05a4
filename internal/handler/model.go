package handler

import (
	"context"
	"errors"
	"path/filepath"
	"strings"

	"github.com/MythologIQ/hearthlink-core/internal/protocol"
	"github.com/MythologIQ/hearthlink-core/internal/registry"
	"github.com/MythologIQ/hearthlink-core/pkg/backend"
)

// handleModelLoad loads the model file named by req.Path. The wire message
// carries only a path, so the model id is derived from its base filename
// (extension stripped) and the backend kind defaults to Generative; a
// classification/embedding model must currently be distinguished by a
// "-cls" or "-embed" filename suffix, since the protocol has no separate
// kind field (see DESIGN.md's open-question decisions).
func (h *Handler) handleModelLoad(ctx context.Context, conn *ConnState, req *protocol.ModelLoad, emit Emit) {
	_, ok := h.requireSession(conn, emit)
	if !ok {
		return
	}

	modelID, kind := deriveModelIdentity(req.Path)

	entry, err := h.registry.Load(modelID, req.Path, kind, nil)
	if err != nil {
		emit(protocol.Envelope{Type: protocol.TypeModelLoadResult, ModelLoadResult: &protocol.ModelLoadResult{
			Error: loadErrorMessage(err),
		}})
		return
	}

	emit(protocol.Envelope{Type: protocol.TypeModelLoadResult, ModelLoadResult: &protocol.ModelLoadResult{
		Handle: uint64(entry.Handle),
	}})
}

func (h *Handler) handleModelUnload(ctx context.Context, conn *ConnState, req *protocol.ModelUnload, emit Emit) {
	_, ok := h.requireSession(conn, emit)
	if !ok {
		return
	}

	if err := h.registry.Unload(ctx, registry.Handle(req.Handle)); err != nil {
		emit(protocol.Envelope{Type: protocol.TypeModelUnloadResult, ModelUnloadResult: &protocol.ModelUnloadResult{
			Error: unloadErrorMessage(err),
		}})
		return
	}

	emit(protocol.Envelope{Type: protocol.TypeModelUnloadResult, ModelUnloadResult: &protocol.ModelUnloadResult{}})
}

func (h *Handler) handleModelList(conn *ConnState, emit Emit) {
	_, ok := h.requireSession(conn, emit)
	if !ok {
		return
	}

	entries := h.registry.List()
	models := make([]protocol.ModelInfo, 0, len(entries))
	for _, e := range entries {
		models = append(models, protocol.ModelInfo{
			Handle:  uint64(e.Handle),
			ModelID: e.ModelID,
			Kind:    e.Kind.String(),
		})
	}

	emit(protocol.Envelope{Type: protocol.TypeModelListResult, ModelListResult: &protocol.ModelListResult{Models: models}})
}

// deriveModelIdentity derives a model id and backend kind from a load path
// in the absence of dedicated wire fields for either.
func deriveModelIdentity(path string) (modelID string, kind backend.Kind) {
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	switch {
	case strings.HasSuffix(base, "-cls"), strings.HasSuffix(base, "-embed"):
		return base, backend.ClassificationEmbedding
	default:
		return base, backend.Generative
	}
}

func loadErrorMessage(err error) string {
	switch {
	case errors.Is(err, registry.ErrPathTraversal):
		return "path outside allow-listed roots"
	case errors.Is(err, registry.ErrIntegrityMismatch):
		return "integrity check failed"
	case errors.Is(err, registry.ErrLegacyFormat):
		return "legacy model format is not supported"
	case errors.Is(err, registry.ErrBackendInit):
		return "backend construction failed"
	default:
		return "model load failed"
	}
}

func unloadErrorMessage(err error) string {
	switch {
	case errors.Is(err, registry.ErrModelNotFound):
		return "model handle not found"
	case errors.Is(err, registry.ErrDrainTimeout):
		return "unload drain timeout exceeded"
	default:
		return "model unload failed: " + err.Error()
	}
}
