// Package health answers the IPC protocol's HealthCheck message: liveness,
// readiness, and a full diagnostic report combining registered checkers
// with the process's shutdown state.
//
// Liveness is always true while the process can answer at all. Readiness
// tracks the shutdown coordinator: true only while it is Running. A full
// report additionally runs every registered [Checker] and folds their
// results into readiness.
package health

import (
	"context"
	"time"

	"github.com/MythologIQ/hearthlink-core/internal/protocol"
	"github.com/MythologIQ/hearthlink-core/internal/shutdown"
)

// checkTimeout bounds how long a single [Checker] may run before its
// context is cancelled.
const checkTimeout = 5 * time.Second

// Checker is a named health check. Check should return nil when the
// dependency is healthy and a non-nil error describing the failure
// otherwise.
type Checker struct {
	// Name is a short, human-readable label for this check (e.g.
	// "registry", "queue_depth"). It appears as a key in the full report.
	Name string

	// Check probes the dependency. It must respect context cancellation.
	Check func(ctx context.Context) error
}

// Reporter answers [protocol.HealthCheck] requests. It implements
// handler.HealthReporter.
type Reporter struct {
	coordinator *shutdown.Coordinator
	checkers    []Checker
}

// New constructs a [Reporter]. coordinator may be nil, in which case
// readiness is always reported true. The checkers are evaluated
// sequentially, in the order given, only for [protocol.HealthFull] requests.
func New(coordinator *shutdown.Coordinator, checkers ...Checker) *Reporter {
	c := make([]Checker, len(checkers))
	copy(c, checkers)
	return &Reporter{coordinator: coordinator, checkers: c}
}

// Report answers one HealthCheck request.
func (r *Reporter) Report(kind protocol.HealthCheckKind) protocol.HealthResponse {
	switch kind {
	case protocol.HealthLiveness:
		return protocol.HealthResponse{Kind: kind, OK: true}
	case protocol.HealthFull:
		return r.fullReport()
	default: // protocol.HealthReadiness and any unrecognized kind
		return protocol.HealthResponse{Kind: kind, OK: r.ready()}
	}
}

// ready reports whether the shutdown coordinator is in its Running state. A
// nil coordinator is always considered ready.
func (r *Reporter) ready() bool {
	return r.coordinator == nil || r.coordinator.State() == shutdown.Running
}

// fullReport runs every registered checker with a bounded timeout and folds
// the results, along with coordinator readiness, into a HealthReport.
func (r *Reporter) fullReport() protocol.HealthResponse {
	checks := make(map[string]string, len(r.checkers))
	allOK := r.ready()
	if !allOK {
		checks["shutdown"] = "fail: coordinator is not Running"
	}

	for _, c := range r.checkers {
		ctx, cancel := context.WithTimeout(context.Background(), checkTimeout)
		err := c.Check(ctx)
		cancel()

		if err != nil {
			checks[c.Name] = "fail: " + err.Error()
			allOK = false
		} else {
			checks[c.Name] = "ok"
		}
	}

	status := "ok"
	if !allOK {
		status = "fail"
	}

	return protocol.HealthResponse{
		Kind: protocol.HealthFull,
		OK:   allOK,
		Report: &protocol.HealthReport{
			Status: status,
			Checks: checks,
		},
	}
}
