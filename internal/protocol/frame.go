package protocol

import (
	"encoding/binary"
	"fmt"
	"io"
)

// lengthPrefixSize is the size in bytes of the little-endian u32 frame
// length prefix (spec §6).
const lengthPrefixSize = 4

// ReadFrame reads one length-prefixed frame from r: a 4-byte little-endian
// length followed by that many payload bytes. The size guard is checked
// against the declared length before any payload bytes are read, so an
// adversarial length never causes an unbounded allocation or read.
//
// Returns [ErrSizeExceeded] if the declared length is over [MaxFrameSize],
// and [ErrConnectionClosed] (in place of io.EOF, which it does not wrap) if
// the connection closes cleanly between frames.
func ReadFrame(r io.Reader) ([]byte, error) {
	var lenBuf [lengthPrefixSize]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		if err == io.EOF {
			return nil, ErrConnectionClosed
		}
		return nil, fmt.Errorf("protocol: read frame length: %w", err)
	}

	n := binary.LittleEndian.Uint32(lenBuf[:])
	if n > MaxFrameSize {
		return nil, ErrSizeExceeded
	}

	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("protocol: read frame payload: %w", err)
	}
	return payload, nil
}

// WriteFrame writes payload as one length-prefixed frame to w. Returns
// [ErrSizeExceeded] without writing anything if payload is over
// [MaxFrameSize].
func WriteFrame(w io.Writer, payload []byte) error {
	if len(payload) > MaxFrameSize {
		return ErrSizeExceeded
	}

	var lenBuf [lengthPrefixSize]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(payload)))

	if _, err := w.Write(lenBuf[:]); err != nil {
		return fmt.Errorf("protocol: write frame length: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("protocol: write frame payload: %w", err)
	}
	return nil
}
