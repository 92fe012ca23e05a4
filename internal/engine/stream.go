package engine

import (
	"sync/atomic"

	"github.com/MythologIQ/hearthlink-core/internal/protocol"
)

// Stream is the bounded per-request streaming channel described in the
// component design: a single producer goroutine (the engine's decode loop)
// feeds [protocol.StreamChunk] values to a single consumer (the handler,
// forwarding them as protocol frames). The channel is closed after the
// final chunk, or immediately if the request context is cancelled before
// generation starts.
//
// Back-pressure is ordinary buffered-channel blocking: if the consumer
// falls behind and the buffer fills, the producer's send blocks. Connection
// loss is not observed as a channel event — the handler cancels the
// request's context when its connection disappears, and the producer
// selects on ctx.Done() around every send, treating cancellation as the
// implicit-cancellation case named in the spec.
type Stream struct {
	chunks chan protocol.StreamChunk
	errp   atomic.Pointer[error]
}

// Chunks returns the receive-only channel of stream chunks.
func (s *Stream) Chunks() <-chan protocol.StreamChunk { return s.chunks }

// Err returns the error that caused generation to stop early, or nil if the
// stream ran to a normal terminal state (Stop, Length, or Cancelled are not
// errors by themselves; this reports backend/runtime failures only).
func (s *Stream) Err() error {
	if p := s.errp.Load(); p != nil {
		return *p
	}
	return nil
}

func (s *Stream) setErr(err error) {
	s.errp.Store(&err)
}

func newStream(buf int) *Stream {
	return &Stream{chunks: make(chan protocol.StreamChunk, buf)}
}
