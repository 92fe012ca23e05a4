package security

import (
	"fmt"
	"regexp"
	"strings"
)

// SanitizerConfig configures an [OutputSanitizer].
type SanitizerConfig struct {
	// Blocklist is a set of literal phrases to strip from output, matched
	// case-insensitively after NFC normalization.
	Blocklist []string

	// Patterns is a set of regular expressions whose matches are replaced
	// with a redaction marker.
	Patterns []string

	// MaxOutputChars truncates output past this length. Zero means no
	// truncation.
	MaxOutputChars int
}

// OutputSanitizer applies a blocklist and a compiled regex set to candidate
// model output, then truncates to a maximum length. All operations are
// idempotent: running already-sanitized text back through the sanitizer
// changes nothing further.
type OutputSanitizer struct {
	blocklist      []string
	patterns       []*regexp.Regexp
	maxOutputChars int
}

// NewOutputSanitizer compiles cfg into a ready-to-use sanitizer. Returns
// [ErrInvalidPattern] if any entry in cfg.Patterns fails to compile.
func NewOutputSanitizer(cfg SanitizerConfig) (*OutputSanitizer, error) {
	blocklist := make([]string, 0, len(cfg.Blocklist))
	for _, phrase := range cfg.Blocklist {
		if phrase == "" {
			return nil, fmt.Errorf("%w: empty blocklist entry", ErrInvalidPattern)
		}
		blocklist = append(blocklist, normalizeForMatch(phrase))
	}

	patterns := make([]*regexp.Regexp, 0, len(cfg.Patterns))
	for _, p := range cfg.Patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPattern, err)
		}
		patterns = append(patterns, re)
	}

	return &OutputSanitizer{
		blocklist:      blocklist,
		patterns:       patterns,
		maxOutputChars: cfg.MaxOutputChars,
	}, nil
}

// Sanitize applies the blocklist, then the regex set, then length
// truncation, to text.
func (s *OutputSanitizer) Sanitize(text string) string {
	out := normalizeForMatch(text)
	for _, phrase := range s.blocklist {
		out = strings.ReplaceAll(out, phrase, "[redacted]")
	}
	for _, re := range s.patterns {
		out = re.ReplaceAllString(out, "[redacted]")
	}
	return s.truncate(out)
}

func (s *OutputSanitizer) truncate(text string) string {
	if s.maxOutputChars <= 0 {
		return text
	}
	runes := []rune(text)
	if len(runes) <= s.maxOutputChars {
		return text
	}
	return string(runes[:s.maxOutputChars])
}
