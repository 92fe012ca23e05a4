package protocol

import "errors"

// ErrSizeExceeded is returned when a frame's declared length exceeds
// [MaxFrameSize]. It is checked before any payload bytes are read, so it is
// the only backstop against allocation-bomb inputs the spec calls for.
var ErrSizeExceeded = errors.New("protocol: frame size exceeds maximum")

// ErrConnectionClosed is returned by [ReadFrame] when the underlying
// connection reaches a clean EOF before a frame's length prefix.
var ErrConnectionClosed = errors.New("protocol: connection closed")

// DecodeError wraps a codec-level decode failure. It never carries the raw
// payload (to avoid leaking adversarial input into logs) — only a short,
// stable description.
type DecodeError struct {
	Codec string
	Err   error
}

func (e *DecodeError) Error() string {
	return "protocol: " + e.Codec + " decode failed: " + e.Err.Error()
}

func (e *DecodeError) Unwrap() error { return e.Err }
