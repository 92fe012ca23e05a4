// Package app wires all Hearthlink subsystems into a running runtime.
//
// The App struct owns the full lifecycle: New creates and connects every
// subsystem, Run accepts connections on the runtime's Unix domain socket
// until the context is cancelled, and Shutdown drains and tears everything
// down through the shutdown coordinator.
//
// For testing, inject real-but-isolated subsystem instances via functional
// options (WithAuthenticator, WithRegistry, etc.). When an option is not
// provided, New builds the subsystem from cfg.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/MythologIQ/hearthlink-core/internal/audit"
	"github.com/MythologIQ/hearthlink-core/internal/auth"
	"github.com/MythologIQ/hearthlink-core/internal/config"
	"github.com/MythologIQ/hearthlink-core/internal/engine"
	"github.com/MythologIQ/hearthlink-core/internal/handler"
	"github.com/MythologIQ/hearthlink-core/internal/health"
	"github.com/MythologIQ/hearthlink-core/internal/memfabric"
	"github.com/MythologIQ/hearthlink-core/internal/observe"
	"github.com/MythologIQ/hearthlink-core/internal/protocol"
	"github.com/MythologIQ/hearthlink-core/internal/queue"
	"github.com/MythologIQ/hearthlink-core/internal/registry"
	"github.com/MythologIQ/hearthlink-core/internal/security"
	"github.com/MythologIQ/hearthlink-core/internal/shutdown"
	"github.com/MythologIQ/hearthlink-core/pkg/backend"
	"github.com/MythologIQ/hearthlink-core/pkg/backend/reference"
)

// App owns every subsystem's lifetime and runs the IPC accept loop.
type App struct {
	cfg *config.Config

	coordinator *shutdown.Coordinator
	authn       *auth.Authenticator
	modelReg    *registry.Registry
	reqQueue    *queue.Queue
	pool        *queue.WorkerPool
	eng         *engine.Engine
	h           *handler.Handler
	healthRep   *health.Reporter
	metrics     *observe.Metrics
	auditLog    *audit.Log
	limiter     *memfabric.Limiter
	outputCache *memfabric.OutputCache
	pageTable   *memfabric.PageTable

	listener net.Listener
	connWG   sync.WaitGroup
	nextConn atomic.Uint64
	conns    sync.Map // conn id (uint64) -> net.Conn, open connections awaiting a forced close on shutdown

	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject pre-built
// subsystems in tests rather than constructing them from cfg.
type Option func(*App)

// WithAuthenticator injects a session authenticator instead of building one
// from cfg.Auth.
func WithAuthenticator(a *auth.Authenticator) Option {
	return func(app *App) { app.authn = a }
}

// WithRegistry injects a model registry instead of building one from
// cfg.Models.
func WithRegistry(r *registry.Registry) Option {
	return func(app *App) { app.modelReg = r }
}

// WithQueue injects the request queue instead of building one from
// cfg.Queue.
func WithQueue(q *queue.Queue) Option {
	return func(app *App) { app.reqQueue = q }
}

// WithEngine injects the inference engine instead of building one from
// cfg.Memory and cfg.Security.
func WithEngine(e *engine.Engine) Option {
	return func(app *App) { app.eng = e }
}

// WithMetrics injects a metrics instance instead of calling
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(app *App) { app.metrics = m }
}

// New wires every subsystem together and returns a runtime ready to [App.Run].
// Initialisation is synchronous and ordered: a failure partway through never
// leaves a goroutine running, since nothing started in this function spawns
// one until Run is called.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{cfg: cfg, coordinator: shutdown.New()}
	for _, o := range opts {
		o(a)
	}

	if a.auditLog == nil {
		a.auditLog = audit.New(0, nil)
	}

	if a.authn == nil {
		a.authn = auth.New(auth.Config{
			ExpectedToken: os.Getenv(cfg.Auth.TokenEnv),
			IdleTimeout:   cfg.Auth.IdleTimeout,
			SweepInterval: cfg.Auth.SweepInterval,
			RateLimiter: auth.RateLimiterConfig{
				MaxFailures: cfg.Auth.RateLimit.MaxFailures,
				Window:      cfg.Auth.RateLimit.Window,
				Cooldown:    cfg.Auth.RateLimit.Cooldown,
			},
			AuditLog: a.auditLog,
		})
	}
	a.coordinator.RegisterCloser(func(context.Context) error {
		a.authn.Stop()
		return nil
	})

	sanitizer, injectionFilter, piiDetector, err := a.buildSecurity()
	if err != nil {
		return nil, fmt.Errorf("app: build security: %w", err)
	}

	if a.modelReg == nil {
		a.modelReg = registry.New(registry.Config{
			AllowedRoots: cfg.Models.AllowedRoots,
			Keys:         registry.KeyDeriver{Secret: os.Getenv(cfg.Models.SecretEnv)},
			NewBackend:   a.buildFactoryRegistry().Resolve(),
			DrainTimeout: cfg.Models.DrainTimeout,
			AuditLog:     a.auditLog,
		})
	}

	if a.reqQueue == nil {
		a.reqQueue = queue.New(cfg.Queue.MaxDepth)
	}

	a.outputCache = memfabric.NewOutputCache(cfg.Memory.OutputCacheSize, cfg.Memory.OutputCacheTTL)
	a.limiter = memfabric.NewLimiter(cfg.Memory.MaxKVBytes, cfg.Memory.MaxConcurrentGenerations)
	a.pageTable = memfabric.NewPageTable(cfg.Memory.MaxKVBytes, memfabric.TokensPerPage)

	if a.eng == nil {
		engOpts := []engine.Option{engine.WithPageTable(a.pageTable)}
		if sanitizer != nil {
			engOpts = append(engOpts, engine.WithOutputSanitizer(sanitizer))
			engOpts = append(engOpts, engine.WithStreamSanitizerBoundary(cfg.Security.StreamBoundaryChars))
		}
		if piiDetector != nil {
			engOpts = append(engOpts, engine.WithPIIDetector(piiDetector))
		}
		a.eng = engine.New(engOpts...)
	}

	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	a.healthRep = health.New(a.coordinator, health.Checker{
		Name: "registry",
		Check: func(context.Context) error {
			// The registry has no dedicated liveness probe; its presence
			// is enough to confirm the model store initialised.
			if a.modelReg == nil {
				return errors.New("model registry not initialised")
			}
			return nil
		},
	})

	a.h = handler.New(handler.Config{
		Auth:        a.authn,
		Queue:       a.reqQueue,
		Registry:    a.modelReg,
		Engine:      a.eng,
		OutputCache: a.outputCache,
		Limiter:     a.limiter,
		Coordinator: a.coordinator,
		Metrics:     a.metrics,
	}, handler.WithHealthReporter(a.healthRep), handler.WithInjectionFilter(injectionFilter))

	workers := cfg.Queue.Workers
	a.pool = queue.NewWorkerPool(a.reqQueue, workers, a.h.QueueHandler(), queue.WithDiscardHandler(a.h.DiscardHandler()))

	return a, nil
}

// buildSecurity constructs the output sanitizer, injection filter, and PII
// detector named by cfg.Security. Any of the three may come back nil: an
// empty SanitizerConfig yields no sanitizer, an empty pattern list yields no
// injection filter, and the PII detector is always built since it carries
// no configuration of its own. The caller passes the sanitizer and PII
// detector to the engine only when they are non-nil, and always passes the
// injection filter to handler.WithInjectionFilter, where nil disables
// screening.
func (a *App) buildSecurity() (*security.OutputSanitizer, *security.InjectionFilter, *security.PIIDetector, error) {
	sec := a.cfg.Security

	var sanitizer *security.OutputSanitizer
	if len(sec.SanitizerBlocklist) > 0 || len(sec.SanitizerPatterns) > 0 || sec.MaxOutputChars > 0 {
		s, err := security.NewOutputSanitizer(security.SanitizerConfig{
			Blocklist:      sec.SanitizerBlocklist,
			Patterns:       sec.SanitizerPatterns,
			MaxOutputChars: sec.MaxOutputChars,
		})
		if err != nil {
			return nil, nil, nil, fmt.Errorf("output sanitizer: %w", err)
		}
		sanitizer = s
	}

	var injectionFilter *security.InjectionFilter
	if len(sec.InjectionPatterns) > 0 {
		patterns := make([]security.Pattern, len(sec.InjectionPatterns))
		for i, p := range sec.InjectionPatterns {
			patterns[i] = security.Pattern{Text: p.Text, Weight: p.Weight, Category: p.Category}
		}
		f, err := security.NewInjectionFilter(patterns, sec.InjectionThreshold)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("injection filter: %w", err)
		}
		injectionFilter = f
	}

	return sanitizer, injectionFilter, security.NewPIIDetector(), nil
}

// buildFactoryRegistry registers the "reference" backend format, the only
// concrete backend implementation shipped in this repository, against every
// format named in cfg.Models.Backends, and sets the first configured format
// as the default used when a model path's extension matches none of them.
// The factory signature [config.FactoryRegistry.Register] expects carries
// no Kind argument, so the wrapper derives it from the model path itself
// using the same filename-suffix convention handler.deriveModelIdentity
// applies when a ModelLoad request arrives with only a path.
func (a *App) buildFactoryRegistry() *config.FactoryRegistry {
	fr := config.NewFactoryRegistry()
	for i, entry := range a.cfg.Models.Backends {
		format := entry.Format
		fr.Register(format, func(path string, data []byte) (backend.Backend, error) {
			kind := backendKindFromPath(path)
			return reference.New(kind, referenceLabels(entry.Options)...), nil
		})
		if i == 0 {
			fr.SetDefault(format)
		}
	}
	if len(a.cfg.Models.Backends) == 0 {
		fr.Register("reference", func(path string, data []byte) (backend.Backend, error) {
			kind := backendKindFromPath(path)
			return reference.New(kind), nil
		})
		fr.SetDefault("reference")
	}
	return fr
}

// Run listens on cfg.Server.SocketPath and serves connections until ctx is
// cancelled. It also starts the authenticator's idle-sweep loop and the
// worker pool, both of which run for the lifetime of ctx.
func (a *App) Run(ctx context.Context) error {
	if err := os.RemoveAll(a.cfg.Server.SocketPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("app: remove stale socket: %w", err)
	}
	ln, err := net.Listen("unix", a.cfg.Server.SocketPath)
	if err != nil {
		return fmt.Errorf("app: listen on %s: %w", a.cfg.Server.SocketPath, err)
	}
	a.listener = ln
	a.coordinator.RegisterCloser(func(context.Context) error {
		return a.listener.Close()
	})

	var wg sync.WaitGroup
	wg.Go(func() { a.authn.Run(ctx) })
	wg.Go(func() {
		if err := a.pool.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("worker pool stopped with error", "err", err)
		}
	})

	acceptErrCh := make(chan error, 1)
	wg.Go(func() { acceptErrCh <- a.acceptLoop(ctx, ln) })

	slog.Info("hearthlink runtime ready", "socket", a.cfg.Server.SocketPath)

	<-ctx.Done()
	ln.Close()
	a.conns.Range(func(_, v any) bool {
		v.(net.Conn).Close()
		return true
	})
	wg.Wait()

	if err := <-acceptErrCh; err != nil && !isClosedErr(err) {
		return err
	}
	return ctx.Err()
}

// acceptLoop accepts connections on ln until it is closed, spawning one
// goroutine per connection that runs until the peer disconnects or ctx is
// cancelled.
func (a *App) acceptLoop(ctx context.Context, ln net.Listener) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if isClosedErr(err) {
				a.connWG.Wait()
				return nil
			}
			return err
		}
		id := a.nextConn.Add(1)
		a.conns.Store(id, conn)
		a.connWG.Add(1)
		go func() {
			defer a.connWG.Done()
			defer a.conns.Delete(id)
			defer conn.Close()
			peer := uuid.New().String()
			if err := observe.ServeConn(ctx, a.metrics, peer, func(ctx context.Context) error {
				return a.serveConn(ctx, peer, conn)
			}); err != nil {
				slog.Debug("connection ended", "peer", peer, "err", err)
			}
		}()
	}
}

// serveConn runs one connection's read/dispatch loop. Every connection
// speaks a single, fixed codec: the handshake request carries no Encoding
// field to negotiate against (see DESIGN.md's open-question decisions), so
// every accepted connection is served with the binary msgpack codec.
func (a *App) serveConn(ctx context.Context, peer string, conn net.Conn) error {
	codec, _ := protocol.CodecFor(protocol.EncodingBinary)
	state := handler.NewConnState(peer)

	var writeMu sync.Mutex
	emit := func(env protocol.Envelope) {
		payload, err := codec.Encode(env)
		if err != nil {
			slog.Warn("encode response", "peer", peer, "err", err)
			return
		}
		writeMu.Lock()
		defer writeMu.Unlock()
		if err := protocol.WriteFrame(conn, payload); err != nil {
			slog.Debug("write frame", "peer", peer, "err", err)
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		payload, err := protocol.ReadFrame(conn)
		if err != nil {
			return err
		}
		env, err := codec.Decode(payload)
		if err != nil {
			slog.Debug("decode frame", "peer", peer, "err", err)
			return err
		}
		a.h.Dispatch(ctx, state, env, emit)
	}
}

// isClosedErr reports whether err is the error net.Listener.Accept and
// net.Conn.Read return once the listener or connection has been closed by
// another goroutine, which both Run and acceptLoop treat as a normal
// shutdown signal rather than a failure.
func isClosedErr(err error) bool {
	return errors.Is(err, net.ErrClosed)
}

// referenceLabels extracts a "labels" option as a string slice. YAML
// decodes a sequence of scalars into []any, not []string, so each element
// is converted individually; non-string entries are skipped.
func referenceLabels(options map[string]any) []string {
	raw, ok := options["labels"].([]any)
	if !ok {
		return nil
	}
	labels := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			labels = append(labels, s)
		}
	}
	return labels
}

// backendKindFromPath derives a model's backend kind from its load path
// using the same "-cls"/"-embed" filename-suffix convention
// handler.deriveModelIdentity applies to a ModelLoad request, since neither
// the wire protocol nor the [registry.BackendFactory] signature carries a
// Kind field a factory can read directly.
func backendKindFromPath(path string) backend.Kind {
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	if strings.HasSuffix(base, "-cls") || strings.HasSuffix(base, "-embed") {
		return backend.ClassificationEmbedding
	}
	return backend.Generative
}

// Shutdown drains and tears down every subsystem through the coordinator,
// bounded by ctx. Safe to call more than once; only the first call runs the
// teardown sequence.
func (a *App) Shutdown(ctx context.Context) error {
	var err error
	a.stopOnce.Do(func() {
		err = a.coordinator.Shutdown(ctx)
	})
	return err
}
