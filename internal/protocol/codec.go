package protocol

// Encoding names one of the two supported wire encodings, used during
// handshake version/encoding negotiation.
type Encoding string

const (
	// EncodingText is the self-describing, field-tagged JSON form used for
	// diagnostics.
	EncodingText Encoding = "text"

	// EncodingBinary is the compact production encoding.
	EncodingBinary Encoding = "binary"
)

// Codec encodes and decodes [Envelope] values to and from the bytes carried
// inside one frame. Decode must be total: it returns an error rather than
// panicking on any malformed input, never retries, and never allocates more
// than the input size warrants.
type Codec interface {
	Encode(Envelope) ([]byte, error)
	Decode([]byte) (Envelope, error)
}

// CodecFor returns the [Codec] implementation for enc, or false if enc is
// not a recognized encoding.
func CodecFor(enc Encoding) (Codec, bool) {
	switch enc {
	case EncodingText:
		return JSONCodec{}, true
	case EncodingBinary:
		return MsgpackCodec{}, true
	default:
		return nil, false
	}
}
