// Package audit implements the security event ring buffer: a small,
// explicitly owned in-memory structure in the same spirit as the teacher's
// rolling latency window, except it retains whole records instead of
// aggregating them, since a SecurityEvent must remain individually
// inspectable for export.
package audit

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Severity classifies how urgently a SecurityEvent demands attention.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Kind names the category of security-relevant occurrence a SecurityEvent
// records.
type Kind string

const (
	// KindPathTraversal is recorded when a model load request resolves
	// outside the configured allow-listed roots.
	KindPathTraversal Kind = "path_traversal"

	// KindIntegrityMismatch is recorded when a model file fails its
	// SHA-256 or AEAD authentication check.
	KindIntegrityMismatch Kind = "integrity_mismatch"

	// KindRateLimitTripped is recorded when a source exceeds its failed
	// handshake budget and is placed into cooldown.
	KindRateLimitTripped Kind = "rate_limit_tripped"
)

// SecurityEvent is the structured audit record described by spec §3: a
// severity, an event kind, and enough context to investigate it later
// without re-deriving it from logs.
type SecurityEvent struct {
	ID         uuid.UUID
	Kind       Kind
	Severity   Severity
	Source     string
	Detail     string
	RecordedAt time.Time
}

// Log is an in-process ring buffer of SecurityEvent records with an
// optional export sink. Oldest records are evicted once the buffer fills.
// The sink runs synchronously inside Record, so a slow exporter delays the
// caller recording the event.
type Log struct {
	mu     sync.Mutex
	events []SecurityEvent
	pos    int
	count  int
	size   int
	sink   func(SecurityEvent)
}

// New creates a Log with the given ring capacity. A size of 0 or negative
// defaults to 256. sink, if non-nil, is called synchronously with every
// recorded event in addition to it being retained in the ring; pass nil to
// rely on the ring buffer alone.
func New(size int, sink func(SecurityEvent)) *Log {
	if size <= 0 {
		size = 256
	}
	return &Log{
		events: make([]SecurityEvent, size),
		size:   size,
		sink:   sink,
	}
}

// Record appends a new SecurityEvent, overwriting the oldest entry once the
// ring is full, and returns the event that was recorded (with its
// generated ID and timestamp filled in). Safe for concurrent use. Callers
// on a Critical-severity path must call Record before sending the
// corresponding error response downstream.
func (l *Log) Record(kind Kind, severity Severity, source, detail string) SecurityEvent {
	ev := SecurityEvent{
		ID:         uuid.New(),
		Kind:       kind,
		Severity:   severity,
		Source:     source,
		Detail:     detail,
		RecordedAt: time.Now(),
	}

	l.mu.Lock()
	l.events[l.pos] = ev
	l.pos = (l.pos + 1) % l.size
	l.count++
	l.mu.Unlock()

	switch severity {
	case SeverityCritical:
		slog.Warn("security event recorded", "id", ev.ID, "kind", ev.Kind, "severity", ev.Severity, "source", ev.Source, "detail", ev.Detail)
	default:
		slog.Debug("security event recorded", "id", ev.ID, "kind", ev.Kind, "severity", ev.Severity, "source", ev.Source, "detail", ev.Detail)
	}

	if l.sink != nil {
		l.sink(ev)
	}
	return ev
}

// Len returns the number of events currently retained (at most the
// configured ring capacity).
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.count >= l.size {
		return l.size
	}
	return l.count
}

// Snapshot returns a copy of the currently retained events, oldest first.
func (l *Log) Snapshot() []SecurityEvent {
	l.mu.Lock()
	defer l.mu.Unlock()

	n := l.size
	if l.count < l.size {
		n = l.count
	}
	out := make([]SecurityEvent, n)
	if l.count >= l.size {
		for i := 0; i < l.size; i++ {
			out[i] = l.events[(l.pos+i)%l.size]
		}
	} else {
		copy(out, l.events[:n])
	}
	return out
}
