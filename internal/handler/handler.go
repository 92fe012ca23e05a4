// Package handler orchestrates one connection's worth of IPC traffic: the
// auth gate, request validation, the dedup cache short-circuit, dispatch to
// the queue/registry/engine, and delivery of responses and stream chunks
// back to the connection.
//
// Handler itself holds no per-connection state; callers construct one
// [ConnState] per accepted connection and pass it to every [Handler.Dispatch]
// call for that connection. This mirrors the teacher's constructor-time,
// shared-singleton host pattern (one [Handler] wired at startup, many
// concurrent callers) rather than a connection-scoped object graph.
package handler

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/MythologIQ/hearthlink-core/internal/auth"
	"github.com/MythologIQ/hearthlink-core/internal/engine"
	"github.com/MythologIQ/hearthlink-core/internal/memfabric"
	"github.com/MythologIQ/hearthlink-core/internal/observe"
	"github.com/MythologIQ/hearthlink-core/internal/protocol"
	"github.com/MythologIQ/hearthlink-core/internal/queue"
	"github.com/MythologIQ/hearthlink-core/internal/registry"
	"github.com/MythologIQ/hearthlink-core/internal/security"
	"github.com/MythologIQ/hearthlink-core/internal/shutdown"
)

// HealthReporter answers a [protocol.HealthCheck]. Satisfied by
// internal/health's Reporter; defined here as a narrow interface so this
// package does not import health directly.
type HealthReporter interface {
	Report(kind protocol.HealthCheckKind) protocol.HealthResponse
}

// ServerVersions lists the protocol versions this build can speak, highest
// preference last. Handshake negotiation picks the highest value present in
// both this list and the client's advertised versions.
var ServerVersions = []uint16{1}

// Option configures a Handler during construction.
type Option func(*Handler)

// WithHealthReporter installs the health subsystem. If unset, HealthCheck
// requests are answered with a minimal report derived only from the
// shutdown coordinator's state.
func WithHealthReporter(r HealthReporter) Option {
	return func(h *Handler) { h.health = r }
}

// WithServerVersions overrides the advertised protocol version list.
func WithServerVersions(versions []uint16) Option {
	return func(h *Handler) { h.serverVersions = versions }
}

// WithInjectionFilter installs a prompt-injection scan run against every
// inference request's prompt before it is admitted to the queue. If unset,
// no injection scoring happens and every prompt is admitted unscreened.
func WithInjectionFilter(f *security.InjectionFilter) Option {
	return func(h *Handler) { h.injectionFilter = f }
}

// Handler wires the session authenticator, request queue, model registry,
// inference engine, security filters, and dedup cache into the single entry
// point a connection's read loop calls for every inbound frame.
type Handler struct {
	auth        *auth.Authenticator
	queue       *queue.Queue
	registry    *registry.Registry
	engine      *engine.Engine
	outputCache *memfabric.OutputCache
	limiter     *memfabric.Limiter
	coordinator *shutdown.Coordinator
	health      HealthReporter
	metrics     *observe.Metrics

	// injectionFilter screens inbound prompts. Nil disables screening.
	injectionFilter *security.InjectionFilter

	serverVersions []uint16

	mu       sync.Mutex
	inflight map[string]*inflightEntry

	nextID atomic.Uint64
}

// Config bundles the subsystems a Handler wires together. All fields are
// required except OutputCache, Limiter, Coordinator and Metrics, which are
// skipped when nil.
type Config struct {
	Auth        *auth.Authenticator
	Queue       *queue.Queue
	Registry    *registry.Registry
	Engine      *engine.Engine
	OutputCache *memfabric.OutputCache

	// Limiter bounds concurrent generations admitted from the queue. A
	// request that cannot acquire a guard is rejected with
	// [ErrCodeResourceLimitExceeded] rather than left to queue indefinitely.
	Limiter     *memfabric.Limiter
	Coordinator *shutdown.Coordinator

	// Metrics records the circuit breaker state observed on each backend
	// call. A nil Metrics disables this reporting.
	Metrics *observe.Metrics
}

// New constructs a Handler from cfg.
func New(cfg Config, opts ...Option) *Handler {
	h := &Handler{
		auth:           cfg.Auth,
		queue:          cfg.Queue,
		registry:       cfg.Registry,
		engine:         cfg.Engine,
		outputCache:    cfg.OutputCache,
		limiter:        cfg.Limiter,
		coordinator:    cfg.Coordinator,
		metrics:        cfg.Metrics,
		serverVersions: ServerVersions,
		inflight:       make(map[string]*inflightEntry),
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// ConnState is the per-connection state Dispatch needs across calls: the
// originating source identity (for rate limiting) and the session id
// established by a prior handshake, if any.
type ConnState struct {
	// Source identifies the connection for rate-limiting purposes (e.g. a
	// per-accept counter or socket peer credential). Set once at
	// construction; never mutated.
	Source string

	mu      sync.Mutex
	session auth.Token
	hasSess bool
}

// NewConnState creates connection state for a freshly accepted connection.
func NewConnState(source string) *ConnState {
	return &ConnState{Source: source}
}

// Session returns the connection's session token and whether one has been
// established yet.
func (c *ConnState) Session() (auth.Token, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session, c.hasSess
}

func (c *ConnState) setSession(t auth.Token) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.session = t
	c.hasSess = true
}

// Emit is how Dispatch (and the asynchronous queue worker it schedules)
// delivers outbound frames for one connection. Implementations must be safe
// to call from multiple goroutines: the connection's own Dispatch call and,
// later, a worker-pool goroutine completing a streamed or queued inference
// request both call it for the same connection.
type Emit func(protocol.Envelope)

// Dispatch handles exactly one inbound envelope and returns once any
// synchronous work (auth, validation, cache lookup, enqueue) completes.
// Asynchronous results — stream chunks and queued inference responses —
// arrive later via emit, called from a worker-pool goroutine.
func (h *Handler) Dispatch(ctx context.Context, conn *ConnState, env protocol.Envelope, emit Emit) {
	switch env.Type {
	case protocol.TypeHandshakeRequest:
		h.handleHandshake(conn, env.HandshakeRequest, emit)
	case protocol.TypeHealthCheck:
		h.handleHealthCheck(env.HealthCheck, emit)
	case protocol.TypeWarmupRequest:
		h.handleWarmup(ctx, env.WarmupRequest, emit)
	case protocol.TypeInferenceRequest:
		h.handleInference(ctx, conn, env.InferenceRequest, emit)
	case protocol.TypeCancelRequest:
		h.handleCancel(conn, env.CancelRequest, emit)
	case protocol.TypeModelLoad:
		h.handleModelLoad(ctx, conn, env.ModelLoad, emit)
	case protocol.TypeModelUnload:
		h.handleModelUnload(ctx, conn, env.ModelUnload, emit)
	case protocol.TypeModelList:
		h.handleModelList(conn, emit)
	default:
		emit(errorEnvelope(ErrCodeProtocol, "handler: unsupported message type"))
	}
}

// requireSession validates that conn carries a session token accepted by
// the authenticator, refreshing its last-activity timestamp. On failure it
// emits the appropriate Error envelope and returns false.
func (h *Handler) requireSession(conn *ConnState, emit Emit) (auth.Token, bool) {
	tok, ok := conn.Session()
	if !ok {
		emit(errorEnvelope(ErrCodeAuth, "handler: no session established"))
		return "", false
	}
	if err := h.auth.Validate(tok); err != nil {
		emit(errorEnvelope(ErrCodeAuth, err.Error()))
		return "", false
	}
	return tok, true
}
