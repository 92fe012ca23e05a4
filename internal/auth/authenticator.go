package auth

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/MythologIQ/hearthlink-core/internal/audit"
)

// Error is the sentinel error type returned by [Authenticator.Handshake] and
// [Authenticator.Validate]. Callers compare against the package-level
// Err* values with errors.Is.
type Error struct {
	msg string
}

func (e *Error) Error() string { return e.msg }

var (
	// ErrInvalidToken is returned when the presented handshake token does
	// not match the configured expected token.
	ErrInvalidToken = &Error{"auth: invalid token"}

	// ErrRateLimited is returned when the originating source has exceeded
	// the configured failed-handshake budget and is within its cooldown.
	ErrRateLimited = &Error{"auth: source rate limited"}

	// ErrUnknownSession is returned by Validate when the presented session
	// token does not correspond to a live session (never issued or already
	// closed).
	ErrUnknownSession = &Error{"auth: unknown or expired session"}

	// ErrSessionExpired is returned by Validate when the presented session
	// was still in the table but had already gone idle past its timeout,
	// caught inline rather than waiting for the next sweep.
	ErrSessionExpired = &Error{"auth: session expired"}
)

// Config configures an [Authenticator]. Zero-value fields are replaced with
// defaults by [New], in the same style as [resilience.CircuitBreakerConfig].
type Config struct {
	// ExpectedToken is the shared secret a client must present during
	// handshake. It is hashed once at construction and never retained in
	// plaintext past that point.
	ExpectedToken string

	// IdleTimeout is how long a session may go without a Validate call
	// before the sweep goroutine removes it. Default: 15m.
	IdleTimeout time.Duration

	// SweepInterval is how often the idle sweep runs. Default: 1m.
	SweepInterval time.Duration

	RateLimiter RateLimiterConfig

	// AuditLog records repeated-failure rate-limit trips as Critical
	// security events. If nil, New installs a private ring buffer.
	AuditLog *audit.Log
}

// Authenticator implements the session authenticator described in the
// runtime's request-handling pipeline: it turns a presented handshake token
// into a [Token] session id, validates that id on every subsequent request,
// and enforces a per-source failed-handshake rate limit.
type Authenticator struct {
	expected      [32]byte
	idleTimeout   time.Duration
	sweepInterval time.Duration

	table    *sessionTable
	limiter  *RateLimiter
	auditLog *audit.Log

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// New constructs an [Authenticator]. The returned value's sweep loop is not
// started until [Authenticator.Run] is called.
func New(cfg Config) *Authenticator {
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 15 * time.Minute
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = time.Minute
	}
	if cfg.AuditLog == nil {
		cfg.AuditLog = audit.New(0, nil)
	}
	return &Authenticator{
		expected:      hashToken(cfg.ExpectedToken),
		idleTimeout:   cfg.IdleTimeout,
		sweepInterval: cfg.SweepInterval,
		table:         newSessionTable(),
		limiter:       NewRateLimiter(cfg.RateLimiter),
		auditLog:      cfg.AuditLog,
		stopCh:        make(chan struct{}),
		doneCh:        make(chan struct{}),
	}
}

// Handshake validates a presented token from source and, on success, issues
// a fresh [Token] session id. source identifies the connection for rate
// limiting purposes (e.g. a peer credential or listener-assigned id) and is
// never itself treated as a secret.
func (a *Authenticator) Handshake(source, presentedToken string) (Token, error) {
	now := time.Now()

	if !a.limiter.Allowed(source, now) {
		return "", ErrRateLimited
	}

	presentedHash := hashToken(presentedToken)
	if subtle.ConstantTimeCompare(presentedHash[:], a.expected[:]) == 1 {
		a.limiter.RecordSuccess(source)
		id, err := newSessionID()
		if err != nil {
			return "", err
		}
		a.table.put(&Session{ID: id, CreatedAt: now, LastActive: now})
		return id, nil
	}

	if a.limiter.RecordFailure(source, now) {
		a.auditLog.Record(audit.KindRateLimitTripped, audit.SeverityCritical, source, "repeated handshake failures tripped rate limit")
	}
	return "", ErrInvalidToken
}

// Validate confirms token names a live session and refreshes its last-
// activity timestamp. It must be called on every request carried over an
// authenticated connection, not just at handshake time. A session that has
// already gone idle past its timeout is evicted and rejected immediately,
// rather than validating successfully until the next sweep catches it.
func (a *Authenticator) Validate(token Token) error {
	ok, expired := a.table.touch(token, time.Now(), a.idleTimeout)
	if expired {
		return ErrSessionExpired
	}
	if !ok {
		return ErrUnknownSession
	}
	return nil
}

// Close removes token's session immediately, e.g. on clean client
// disconnect.
func (a *Authenticator) Close(token Token) {
	a.table.delete(token)
}

// SessionCount returns the number of currently live sessions.
func (a *Authenticator) SessionCount() int {
	return a.table.count()
}

// Run starts the idle-session sweep loop and blocks until ctx is cancelled
// or [Authenticator.Stop] is called. It is intended to be run in its own
// goroutine from app wiring.
func (a *Authenticator) Run(ctx context.Context) {
	defer close(a.doneCh)
	ticker := time.NewTicker(a.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-a.stopCh:
			return
		case now := <-ticker.C:
			removed := a.table.sweepExpired(now, a.idleTimeout)
			a.limiter.sweep(now)
			if removed > 0 {
				slog.Info("auth: swept idle sessions", "count", removed)
			}
		}
	}
}

// Stop halts the sweep loop started by Run and waits for it to exit.
func (a *Authenticator) Stop() {
	a.stopOnce.Do(func() { close(a.stopCh) })
	<-a.doneCh
}

// newSessionID generates a 256-bit CSPRNG session id, hex-encoded to 64
// characters.
func newSessionID() (Token, error) {
	var b [32]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", errors.New("auth: failed to generate session id: " + err.Error())
	}
	return Token(hex.EncodeToString(b[:])), nil
}
