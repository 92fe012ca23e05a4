package security

import "errors"

// ErrInvalidPattern is returned by the New* constructors when a pattern
// set contains an empty pattern, a non-positive weight, or fails to compile
// as a regular expression. Per the spec, this is the only way any of the
// three filters in this package fails — everything else degrades to
// pass-through or redaction at runtime, never a panic or an error return.
var ErrInvalidPattern = errors.New("security: invalid filter pattern")
