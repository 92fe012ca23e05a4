// Package security implements the runtime's three input/output guards: the
// prompt injection filter, the PII detector, and the output sanitizer. All
// three compile their pattern sets once at construction time, mirroring the
// teacher's constructor-time setup in its MCP tool host, and never panic at
// runtime — a construction-time regex error is the only failure mode.
package security

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// normalizeForMatch applies Unicode NFC normalization and lowercases s, the
// canonical form every pattern set in this package is itself stored in and
// matched against. Doing this once per input, rather than per pattern,
// keeps filters with large pattern sets linear in input size.
func normalizeForMatch(s string) string {
	return strings.ToLower(norm.NFC.String(s))
}
