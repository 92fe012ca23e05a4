package handler

import "github.com/MythologIQ/hearthlink-core/internal/protocol"

// Stable error codes surfaced to clients in [protocol.Error] frames. Values
// are part of the wire contract once assigned: never renumber an existing
// code, only append.
const (
	ErrCodeProtocol              int32 = 1
	ErrCodeAuth                  int32 = 2
	ErrCodeInputValidation       int32 = 3
	ErrCodePathTraversal         int32 = 4
	ErrCodeModelNotFound         int32 = 5
	ErrCodeModelLoadFailed       int32 = 6
	ErrCodeIntegrityMismatch     int32 = 7
	ErrCodeQueueFull             int32 = 8
	ErrCodeResourceLimitExceeded int32 = 9
	ErrCodeShuttingDown          int32 = 10
	ErrCodeInferenceFailed       int32 = 11
	ErrCodeInternal              int32 = 99
)

// errorEnvelope builds an Error frame. message must never include stack
// traces or filesystem paths, per the spec's no-leakage requirement.
func errorEnvelope(code int32, message string) protocol.Envelope {
	return protocol.Envelope{
		Type:  protocol.TypeError,
		Error: &protocol.Error{Code: code, Message: message},
	}
}
