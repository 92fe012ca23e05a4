package protocol

import "encoding/json"

// JSONCodec is the self-describing text encoding used for diagnostics. It
// is a thin wrapper over [encoding/json] that additionally enforces
// [Envelope.Validate] on decode, so a syntactically valid but
// semantically malformed envelope (wrong payload for its Type) is rejected
// the same way the binary codec rejects it.
type JSONCodec struct{}

// Encode implements [Codec].
func (JSONCodec) Encode(e Envelope) ([]byte, error) {
	return json.Marshal(e)
}

// Decode implements [Codec]. It never panics: json.Unmarshal is total over
// any byte slice, and decode errors are wrapped in [DecodeError].
func (JSONCodec) Decode(data []byte) (Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return Envelope{}, &DecodeError{Codec: "json", Err: err}
	}
	if err := e.Validate(); err != nil {
		return Envelope{}, &DecodeError{Codec: "json", Err: err}
	}
	return e, nil
}

var _ Codec = JSONCodec{}
