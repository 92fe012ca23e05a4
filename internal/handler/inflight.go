package handler

import (
	"context"

	"github.com/MythologIQ/hearthlink-core/internal/auth"
)

// inflightEntry tracks one admitted-but-not-yet-completed inference request:
// enough to cancel it and to deliver its eventual output back to the
// originating connection, regardless of whether that happens while it is
// still queued or after a worker has picked it up.
type inflightEntry struct {
	ctx             context.Context
	cancel          context.CancelFunc
	emit            Emit
	session         auth.Token
	clientRequestID uint64
	sequenceID      uint64
}

func (h *Handler) registerInflight(queueID string, e *inflightEntry) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.inflight[queueID] = e
}

func (h *Handler) lookupInflight(queueID string) (*inflightEntry, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	e, ok := h.inflight[queueID]
	return e, ok
}

func (h *Handler) unregisterInflight(queueID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.inflight, queueID)
}

// findInflightByClientID scans for the entry matching a client-supplied
// request id within the given session. Cancellation is the only operation
// that needs this reverse lookup, and cancellation is rare enough that a
// linear scan under the lock is the right trade-off against the complexity
// of a second index.
func (h *Handler) findInflightByClientID(session auth.Token, clientRequestID uint64) (string, *inflightEntry, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for qid, e := range h.inflight {
		if e.session == session && e.clientRequestID == clientRequestID {
			return qid, e, true
		}
	}
	return "", nil, false
}
