package handler

import (
	"context"
	"testing"

	"github.com/MythologIQ/hearthlink-core/internal/protocol"
	"github.com/MythologIQ/hearthlink-core/internal/shutdown"
	"github.com/MythologIQ/hearthlink-core/pkg/backend"
)

func TestNegotiateVersion(t *testing.T) {
	cases := []struct {
		name   string
		server []uint16
		client []uint16
		want   uint16
		wantOK bool
	}{
		{"exact overlap picks highest", []uint16{1, 2}, []uint16{1, 2}, 2, true},
		{"client-only version ignored", []uint16{1}, []uint16{1, 2}, 1, true},
		{"no overlap", []uint16{2}, []uint16{1}, 0, false},
		{"empty client list", []uint16{1}, nil, 0, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := negotiateVersion(tc.server, tc.client)
			if ok != tc.wantOK || (ok && got != tc.want) {
				t.Fatalf("negotiateVersion(%v, %v) = (%v, %v), want (%v, %v)", tc.server, tc.client, got, ok, tc.want, tc.wantOK)
			}
		})
	}
}

func TestHandleHandshake_Success(t *testing.T) {
	th := newTestHandler(t)
	conn := NewConnState("peer-1")

	var resp protocol.Envelope
	th.h.handleHandshake(conn, &protocol.HandshakeRequest{
		Token:          testToken,
		ClientVersions: []uint16{1},
	}, func(env protocol.Envelope) { resp = env })

	if resp.Type != protocol.TypeHandshakeResponse || resp.HandshakeResponse == nil {
		t.Fatalf("got envelope %+v, want a HandshakeResponse", resp)
	}
	if _, ok := conn.Session(); !ok {
		t.Fatalf("conn has no session after successful handshake")
	}
}

func TestHandleHandshake_WrongToken(t *testing.T) {
	th := newTestHandler(t)
	conn := NewConnState("peer-2")

	var resp protocol.Envelope
	th.h.handleHandshake(conn, &protocol.HandshakeRequest{
		Token:          "wrong",
		ClientVersions: []uint16{1},
	}, func(env protocol.Envelope) { resp = env })

	if resp.Type != protocol.TypeError || resp.Error.Code != ErrCodeAuth {
		t.Fatalf("got envelope %+v, want an auth Error", resp)
	}
	if _, ok := conn.Session(); ok {
		t.Fatalf("conn has a session after a rejected handshake")
	}
}

func TestHandleHandshake_NoOverlappingVersion(t *testing.T) {
	th := newTestHandler(t)
	conn := NewConnState("peer-3")

	var resp protocol.Envelope
	th.h.handleHandshake(conn, &protocol.HandshakeRequest{
		Token:          testToken,
		ClientVersions: []uint16{99},
	}, func(env protocol.Envelope) { resp = env })

	if resp.Type != protocol.TypeError || resp.Error.Code != ErrCodeProtocol {
		t.Fatalf("got envelope %+v, want a protocol Error", resp)
	}
}

func TestHandleHealthCheck_NoReporterTracksCoordinator(t *testing.T) {
	th := newTestHandler(t)
	coord := shutdown.New()
	th.h.coordinator = coord

	var resp protocol.Envelope
	th.h.handleHealthCheck(&protocol.HealthCheck{Kind: protocol.HealthReadiness}, func(env protocol.Envelope) { resp = env })
	if !resp.HealthResponse.OK {
		t.Fatalf("readiness should be OK while running")
	}

	coord.BeginDrain()
	resp = protocol.Envelope{}
	th.h.handleHealthCheck(&protocol.HealthCheck{Kind: protocol.HealthReadiness}, func(env protocol.Envelope) { resp = env })
	if resp.HealthResponse.OK {
		t.Fatalf("readiness should flip false once draining")
	}

	resp = protocol.Envelope{}
	th.h.handleHealthCheck(&protocol.HealthCheck{Kind: protocol.HealthLiveness}, func(env protocol.Envelope) { resp = env })
	if !resp.HealthResponse.OK {
		t.Fatalf("liveness should stay true while draining")
	}
}

func TestHandleWarmup_RunsDecodeSteps(t *testing.T) {
	th := newTestHandler(t)
	modelID, be := th.loadModel(t, "warm-model", backend.Generative)
	be.DecodeResults = []backend.DecodeResult{{Text: "a"}, {Text: "b"}, {Text: "c"}}

	var resp protocol.Envelope
	th.h.handleWarmup(context.Background(), &protocol.WarmupRequest{ModelID: modelID, Tokens: 3}, func(env protocol.Envelope) { resp = env })

	if !resp.WarmupResponse.Success {
		t.Fatalf("warmup failed: %+v", resp.WarmupResponse)
	}
	if len(be.DecodeStepCalls) != 3 {
		t.Fatalf("DecodeStepCalls = %d, want 3", len(be.DecodeStepCalls))
	}
	if len(be.Released) != 1 {
		t.Fatalf("backend not released exactly once: %v", be.Released)
	}
}

func TestHandleWarmup_UnknownModel(t *testing.T) {
	th := newTestHandler(t)

	var resp protocol.Envelope
	th.h.handleWarmup(context.Background(), &protocol.WarmupRequest{ModelID: "ghost"}, func(env protocol.Envelope) { resp = env })

	if resp.WarmupResponse.Success {
		t.Fatalf("warmup on unknown model should fail")
	}
}
