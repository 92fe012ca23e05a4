package handler

import "github.com/MythologIQ/hearthlink-core/internal/protocol"

// handleCancel cancels req.RequestID if it belongs to conn's session. It
// removes the request from the queue if it is still waiting there, and in
// every case calls the in-flight entry's own cancel func, which is what
// stops a request a worker has already picked up, since
// [queue.Queue.Cancel] only reaches requests still queued.
func (h *Handler) handleCancel(conn *ConnState, req *protocol.CancelRequest, emit Emit) {
	session, ok := h.requireSession(conn, emit)
	if !ok {
		return
	}

	queueID, entry, found := h.findInflightByClientID(session, req.RequestID)
	if !found {
		emit(protocol.Envelope{Type: protocol.TypeCancelResponse, CancelResponse: &protocol.CancelResponse{
			RequestID: req.RequestID,
			Cancelled: false,
		}})
		return
	}

	stillQueued := h.queue.Cancel(queueID) == nil
	entry.cancel()
	if stillQueued {
		h.unregisterInflight(queueID)
	}
	// Else already dequeued by a worker: entry.cancel unblocks its context,
	// and runQueued's own deferred unregisterInflight cleans up the entry.

	emit(protocol.Envelope{Type: protocol.TypeCancelResponse, CancelResponse: &protocol.CancelResponse{
		RequestID: req.RequestID,
		Cancelled: true,
	}})
}
