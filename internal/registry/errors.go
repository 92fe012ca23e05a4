package registry

import "errors"

// Sentinel errors returned by [Registry] operations. Callers map these to
// the protocol-level error taxonomy (ModelLoadFailed, PathTraversal, etc.)
// at the handler boundary.
var (
	// ErrPathTraversal is returned when a requested model path resolves
	// outside the configured allow-listed roots, or contains "..", a NUL
	// byte, or a UNC prefix.
	ErrPathTraversal = errors.New("registry: path outside allow-listed roots")

	// ErrIntegrityMismatch is returned when a model file's computed SHA-256
	// does not match its advertised digest, or AEAD decryption fails
	// authentication.
	ErrIntegrityMismatch = errors.New("registry: integrity check failed")

	// ErrBackendInit is returned when the backend factory fails to
	// construct a backend from an otherwise valid, decrypted model file.
	ErrBackendInit = errors.New("registry: backend construction failed")

	// ErrModelNotFound is returned by Lookup/Unload/HotSwap when no binding
	// exists for the given id or handle.
	ErrModelNotFound = errors.New("registry: model not found")

	// ErrLegacyFormat is returned when a model file carries the rejected
	// legacy "HLINK" magic.
	ErrLegacyFormat = errors.New("registry: legacy HLINK format is not supported")

	// ErrDrainTimeout is returned by Unload when in-flight references to a
	// handle do not drop to zero before the configured drain timeout.
	ErrDrainTimeout = errors.New("registry: unload drain timeout exceeded")
)
