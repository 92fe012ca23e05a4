package handler

import (
	"context"
	"time"

	"github.com/MythologIQ/hearthlink-core/internal/protocol"
	"github.com/MythologIQ/hearthlink-core/internal/shutdown"
	"github.com/MythologIQ/hearthlink-core/pkg/backend"
)

func (h *Handler) handleHandshake(conn *ConnState, req *protocol.HandshakeRequest, emit Emit) {
	version, ok := negotiateVersion(h.serverVersions, req.ClientVersions)
	if !ok {
		emit(errorEnvelope(ErrCodeProtocol, "handler: no overlapping protocol version"))
		return
	}

	tok, err := h.auth.Handshake(conn.Source, req.Token)
	if err != nil {
		emit(errorEnvelope(ErrCodeAuth, err.Error()))
		return
	}
	conn.setSession(tok)

	emit(protocol.Envelope{
		Type: protocol.TypeHandshakeResponse,
		HandshakeResponse: &protocol.HandshakeResponse{
			SessionID: string(tok),
			Version:   version,
		},
	})
}

// negotiateVersion picks the highest version present in both server and
// client lists, per §4.1's "server selects the highest overlap" rule.
func negotiateVersion(serverVersions, clientVersions []uint16) (uint16, bool) {
	supported := make(map[uint16]bool, len(serverVersions))
	for _, v := range serverVersions {
		supported[v] = true
	}
	var best uint16
	found := false
	for _, v := range clientVersions {
		if supported[v] && (!found || v > best) {
			best = v
			found = true
		}
	}
	return best, found
}

func (h *Handler) handleHealthCheck(req *protocol.HealthCheck, emit Emit) {
	if h.health != nil {
		emit(protocol.Envelope{Type: protocol.TypeHealthResponse, HealthResponse: ptr(h.health.Report(req.Kind))})
		return
	}

	// Minimal fallback: liveness is always true while the process runs;
	// readiness tracks the shutdown coordinator directly.
	resp := protocol.HealthResponse{Kind: req.Kind, OK: true}
	if h.coordinator != nil && h.coordinator.State() != shutdown.Running {
		resp.OK = req.Kind == protocol.HealthLiveness
	}
	emit(protocol.Envelope{Type: protocol.TypeHealthResponse, HealthResponse: &resp})
}

func (h *Handler) handleWarmup(ctx context.Context, req *protocol.WarmupRequest, emit Emit) {
	start := time.Now()
	entry, err := h.registry.Lookup(req.ModelID)
	if err != nil {
		emit(protocol.Envelope{Type: protocol.TypeWarmupResponse, WarmupResponse: &protocol.WarmupResponse{
			ModelID: req.ModelID,
			Success: false,
			Error:   "model not found",
		}})
		return
	}
	be := entry.Backend()
	defer entry.Release()

	seqID := h.nextID.Add(1)
	defer be.Release(seqID)

	tokens := req.Tokens
	if tokens == 0 {
		tokens = 1
	}

	resp := protocol.WarmupResponse{ModelID: req.ModelID}
	if _, err := be.Prefill(ctx, backend.PrefillRequest{SequenceID: seqID}); err != nil {
		resp.Error = err.Error()
	} else {
		resp.Success = true
		for i := uint32(0); i < tokens; i++ {
			if _, err := be.DecodeStep(ctx, seqID, backend.SampleParams{}); err != nil {
				resp.Success = false
				resp.Error = err.Error()
				break
			}
		}
	}
	resp.ElapsedMs = time.Since(start).Milliseconds()
	emit(protocol.Envelope{Type: protocol.TypeWarmupResponse, WarmupResponse: &resp})
}

func ptr[T any](v T) *T { return &v }
