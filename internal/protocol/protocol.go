// Package protocol defines the wire format for the local IPC channel: frame
// sizing/guarding, the tagged message union, and the two supported
// encodings (text/JSON for diagnostics, compact binary for production).
//
// Decode is a total function — see [Codec.Decode] — it never panics on
// adversarial input and never allocates beyond the frame's declared length.
// A decode failure on a connection is fatal to that connection; it never
// mutates any shared state.
package protocol

import "fmt"

// MaxFrameSize is the hard upper bound on a single frame's payload, enforced
// before any parsing begins. Frames over this size are rejected with
// [ErrSizeExceeded] without the payload ever being read into memory.
const MaxFrameSize = 16 * 1024 * 1024 // 16 MiB

// MessageType discriminates the tagged union carried by [Envelope].
type MessageType string

// Message type constants, one per variant named in the spec's wire
// contract.
const (
	TypeHandshakeRequest  MessageType = "handshake_request"
	TypeHandshakeResponse MessageType = "handshake_response"
	TypeInferenceRequest  MessageType = "inference_request"
	TypeInferenceResponse MessageType = "inference_response"
	TypeStreamChunk       MessageType = "stream_chunk"
	TypeCancelRequest     MessageType = "cancel_request"
	TypeCancelResponse    MessageType = "cancel_response"
	TypeWarmupRequest     MessageType = "warmup_request"
	TypeWarmupResponse    MessageType = "warmup_response"
	TypeHealthCheck       MessageType = "health_check"
	TypeHealthResponse    MessageType = "health_response"
	TypeModelLoad         MessageType = "model_load"
	TypeModelLoadResult   MessageType = "model_load_result"
	TypeModelUnload       MessageType = "model_unload"
	TypeModelUnloadResult MessageType = "model_unload_result"
	TypeModelList         MessageType = "model_list"
	TypeModelListResult   MessageType = "model_list_result"
	TypeError             MessageType = "error"
)

// FinishReason explains why a generation stopped.
type FinishReason string

const (
	FinishNone      FinishReason = ""
	FinishStop      FinishReason = "stop"
	FinishLength    FinishReason = "length"
	FinishCancelled FinishReason = "cancelled"
	FinishError     FinishReason = "error"
)

// HealthCheckKind selects which health report granularity the caller wants.
type HealthCheckKind string

const (
	HealthLiveness  HealthCheckKind = "liveness"
	HealthReadiness HealthCheckKind = "readiness"
	HealthFull      HealthCheckKind = "full"
)

// InferenceParams mirrors the spec's data-model value type. It is carried by
// value through the handler, queue, and engine.
type InferenceParams struct {
	MaxTokens   int      `json:"max_tokens" codec:"max_tokens"`
	Temperature float64  `json:"temperature" codec:"temperature"`
	TopP        float64  `json:"top_p" codec:"top_p"`
	TopK        int      `json:"top_k" codec:"top_k"`
	Stream      bool     `json:"stream" codec:"stream"`
	TimeoutMs   *int64   `json:"timeout_ms,omitempty" codec:"timeout_ms,omitempty"`
	Priority    int      `json:"priority,omitempty" codec:"priority,omitempty"`
	Seed        uint64   `json:"seed,omitempty" codec:"seed,omitempty"`
}

// HandshakeRequest begins a session. Token is the shared handshake secret;
// ClientVersions lists protocol versions the caller can speak, highest
// preference first or last — the server picks the highest overlap.
type HandshakeRequest struct {
	Token          string   `json:"token" codec:"token"`
	ClientVersions []uint16 `json:"client_versions" codec:"client_versions"`
}

// HandshakeResponse carries the freshly minted session id and the pinned
// protocol version for the connection.
type HandshakeResponse struct {
	SessionID string `json:"session_id" codec:"session_id"`
	Version   uint16 `json:"version" codec:"version"`
}

// InferenceRequest asks the runtime to run one model call.
type InferenceRequest struct {
	RequestID  uint64          `json:"request_id" codec:"request_id"`
	ModelID    string          `json:"model_id" codec:"model_id"`
	Prompt     string          `json:"prompt" codec:"prompt"`
	Parameters InferenceParams `json:"parameters" codec:"parameters"`
}

// InferenceResponse is the single, complete result for a non-streaming
// request (or the dedup-cache hit for a repeated one).
type InferenceResponse struct {
	RequestID       uint64       `json:"request_id" codec:"request_id"`
	OutputText      string       `json:"output_text" codec:"output_text"`
	FinishReason    FinishReason `json:"finish_reason" codec:"finish_reason"`
	TokensGenerated uint32       `json:"tokens_generated" codec:"tokens_generated"`
}

// StreamChunk is one increment of a streaming generation.
type StreamChunk struct {
	RequestID    uint64        `json:"request_id" codec:"request_id"`
	TokenID      *uint32       `json:"token_id,omitempty" codec:"token_id,omitempty"`
	Text         *string       `json:"text,omitempty" codec:"text,omitempty"`
	IsFinal      bool          `json:"is_final" codec:"is_final"`
	FinishReason *FinishReason `json:"finish_reason,omitempty" codec:"finish_reason,omitempty"`
}

// CancelRequest asks the runtime to cancel an in-flight or queued request.
type CancelRequest struct {
	RequestID uint64 `json:"request_id" codec:"request_id"`
}

// CancelResponse reports whether RequestID was found and cancelled.
type CancelResponse struct {
	RequestID uint64 `json:"request_id" codec:"request_id"`
	Cancelled bool   `json:"cancelled" codec:"cancelled"`
}

// WarmupRequest asks the runtime to run Tokens decode steps against ModelID
// without returning output, to pay cold-start cost ahead of real traffic.
type WarmupRequest struct {
	ModelID string `json:"model_id" codec:"model_id"`
	Tokens  uint32 `json:"tokens" codec:"tokens"`
}

// WarmupResponse reports the outcome of a WarmupRequest.
type WarmupResponse struct {
	ModelID   string `json:"model_id" codec:"model_id"`
	Success   bool   `json:"success" codec:"success"`
	Error     string `json:"error,omitempty" codec:"error,omitempty"`
	ElapsedMs int64  `json:"elapsed_ms" codec:"elapsed_ms"`
}

// HealthCheck requests a liveness, readiness, or full health report.
type HealthCheck struct {
	Kind HealthCheckKind `json:"kind" codec:"kind"`
}

// HealthReport is the detailed payload for [HealthFull] checks.
type HealthReport struct {
	Status string            `json:"status" codec:"status"`
	Checks map[string]string `json:"checks,omitempty" codec:"checks,omitempty"`
}

// HealthResponse answers a HealthCheck.
type HealthResponse struct {
	Kind   HealthCheckKind `json:"kind" codec:"kind"`
	OK     bool            `json:"ok" codec:"ok"`
	Report *HealthReport   `json:"report,omitempty" codec:"report,omitempty"`
}

// ModelLoad asks the registry to load a model file from Path.
type ModelLoad struct {
	Path string `json:"path" codec:"path"`
}

// ModelLoadResult reports the outcome of a ModelLoad.
type ModelLoadResult struct {
	Handle uint64 `json:"handle,omitempty" codec:"handle,omitempty"`
	Error  string `json:"error,omitempty" codec:"error,omitempty"`
}

// ModelUnload asks the registry to retire and destroy a loaded model.
type ModelUnload struct {
	Handle uint64 `json:"handle" codec:"handle"`
}

// ModelUnloadResult reports the outcome of a ModelUnload.
type ModelUnloadResult struct {
	Error string `json:"error,omitempty" codec:"error,omitempty"`
}

// ModelList asks the registry to enumerate currently loaded models.
type ModelList struct{}

// ModelInfo is one entry in a ModelListResult.
type ModelInfo struct {
	Handle uint64 `json:"handle" codec:"handle"`
	ModelID string `json:"model_id" codec:"model_id"`
	Kind    string `json:"kind" codec:"kind"`
}

// ModelListResult answers a ModelList.
type ModelListResult struct {
	Models []ModelInfo `json:"models" codec:"models"`
}

// Error carries a stable error code plus a short, non-sensitive description.
// Never includes stack traces or internal paths.
type Error struct {
	Code    int32  `json:"code" codec:"code"`
	Message string `json:"message" codec:"message"`
}

// Envelope is the tagged union transported in every frame. Exactly one of
// the pointer fields is non-nil, selected by Type. Using one struct with
// optional fields (rather than an interface{} payload) keeps both the
// self-describing JSON codec and the compact binary codec encoding the
// exact same shape, which is what the round-trip law in the spec's
// testable properties requires.
type Envelope struct {
	Type MessageType `json:"type" codec:"type"`

	HandshakeRequest  *HandshakeRequest  `json:"handshake_request,omitempty" codec:"handshake_request,omitempty"`
	HandshakeResponse *HandshakeResponse `json:"handshake_response,omitempty" codec:"handshake_response,omitempty"`
	InferenceRequest  *InferenceRequest  `json:"inference_request,omitempty" codec:"inference_request,omitempty"`
	InferenceResponse *InferenceResponse `json:"inference_response,omitempty" codec:"inference_response,omitempty"`
	StreamChunk       *StreamChunk       `json:"stream_chunk,omitempty" codec:"stream_chunk,omitempty"`
	CancelRequest     *CancelRequest     `json:"cancel_request,omitempty" codec:"cancel_request,omitempty"`
	CancelResponse    *CancelResponse    `json:"cancel_response,omitempty" codec:"cancel_response,omitempty"`
	WarmupRequest     *WarmupRequest     `json:"warmup_request,omitempty" codec:"warmup_request,omitempty"`
	WarmupResponse    *WarmupResponse    `json:"warmup_response,omitempty" codec:"warmup_response,omitempty"`
	HealthCheck       *HealthCheck       `json:"health_check,omitempty" codec:"health_check,omitempty"`
	HealthResponse    *HealthResponse    `json:"health_response,omitempty" codec:"health_response,omitempty"`
	ModelLoad         *ModelLoad         `json:"model_load,omitempty" codec:"model_load,omitempty"`
	ModelLoadResult   *ModelLoadResult   `json:"model_load_result,omitempty" codec:"model_load_result,omitempty"`
	ModelUnload       *ModelUnload       `json:"model_unload,omitempty" codec:"model_unload,omitempty"`
	ModelUnloadResult *ModelUnloadResult `json:"model_unload_result,omitempty" codec:"model_unload_result,omitempty"`
	ModelList         *ModelList         `json:"model_list,omitempty" codec:"model_list,omitempty"`
	ModelListResult   *ModelListResult   `json:"model_list_result,omitempty" codec:"model_list_result,omitempty"`
	Error             *Error             `json:"error,omitempty" codec:"error,omitempty"`
}

// Validate checks that exactly the payload field matching Type is set. It
// is called by every codec after decoding so that a malformed or
// adversarially-crafted envelope (e.g. Type says InferenceRequest but the
// payload field is nil, or two payload fields are set) is rejected instead
// of silently misinterpreted downstream.
func (e Envelope) Validate() error {
	count := 0
	has := func(set bool) {
		if set {
			count++
		}
	}
	has(e.HandshakeRequest != nil)
	has(e.HandshakeResponse != nil)
	has(e.InferenceRequest != nil)
	has(e.InferenceResponse != nil)
	has(e.StreamChunk != nil)
	has(e.CancelRequest != nil)
	has(e.CancelResponse != nil)
	has(e.WarmupRequest != nil)
	has(e.WarmupResponse != nil)
	has(e.HealthCheck != nil)
	has(e.HealthResponse != nil)
	has(e.ModelLoad != nil)
	has(e.ModelLoadResult != nil)
	has(e.ModelUnload != nil)
	has(e.ModelUnloadResult != nil)
	has(e.ModelList != nil)
	has(e.ModelListResult != nil)
	has(e.Error != nil)

	if count != 1 {
		return fmt.Errorf("protocol: envelope must carry exactly one payload, got %d", count)
	}

	wantNonNil := map[MessageType]bool{
		TypeHandshakeRequest:  e.HandshakeRequest != nil,
		TypeHandshakeResponse: e.HandshakeResponse != nil,
		TypeInferenceRequest:  e.InferenceRequest != nil,
		TypeInferenceResponse: e.InferenceResponse != nil,
		TypeStreamChunk:       e.StreamChunk != nil,
		TypeCancelRequest:     e.CancelRequest != nil,
		TypeCancelResponse:    e.CancelResponse != nil,
		TypeWarmupRequest:     e.WarmupRequest != nil,
		TypeWarmupResponse:    e.WarmupResponse != nil,
		TypeHealthCheck:       e.HealthCheck != nil,
		TypeHealthResponse:    e.HealthResponse != nil,
		TypeModelLoad:         e.ModelLoad != nil,
		TypeModelLoadResult:   e.ModelLoadResult != nil,
		TypeModelUnload:       e.ModelUnload != nil,
		TypeModelUnloadResult: e.ModelUnloadResult != nil,
		TypeModelList:         e.ModelList != nil,
		TypeModelListResult:   e.ModelListResult != nil,
		TypeError:             e.Error != nil,
	}
	ok, known := wantNonNil[e.Type]
	if !known {
		return fmt.Errorf("protocol: unknown message type %q", e.Type)
	}
	if !ok {
		return fmt.Errorf("protocol: type %q does not match its payload field", e.Type)
	}
	return nil
}
