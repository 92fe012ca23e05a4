package protocol

import (
	"bytes"

	"github.com/hashicorp/go-msgpack/codec"
)

// msgpackHandle is shared across encode/decode calls; it holds no
// per-message state and is safe for concurrent use (the underlying library
// only mutates its own per-call Encoder/Decoder instances).
var msgpackHandle = &codec.MsgpackHandle{RawToString: true, WriteExt: true}

// MsgpackCodec is the compact binary production encoding.
type MsgpackCodec struct{}

// Encode implements [Codec].
func (MsgpackCodec) Encode(e Envelope) ([]byte, error) {
	var buf bytes.Buffer
	enc := codec.NewEncoder(&buf, msgpackHandle)
	if err := enc.Encode(e); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decode implements [Codec]. Malformed msgpack never panics the decoder —
// codec.Decoder returns an error for any structurally invalid input — and
// [Envelope.Validate] catches structurally valid but semantically
// inconsistent envelopes.
func (MsgpackCodec) Decode(data []byte) (Envelope, error) {
	var e Envelope
	dec := codec.NewDecoder(bytes.NewReader(data), msgpackHandle)
	if err := dec.Decode(&e); err != nil {
		return Envelope{}, &DecodeError{Codec: "msgpack", Err: err}
	}
	if err := e.Validate(); err != nil {
		return Envelope{}, &DecodeError{Codec: "msgpack", Err: err}
	}
	return e, nil
}

var _ Codec = MsgpackCodec{}
