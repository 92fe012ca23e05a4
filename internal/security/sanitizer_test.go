package security

import (
	"errors"
	"testing"
)

func TestOutputSanitizer_Blocklist(t *testing.T) {
	s, err := NewOutputSanitizer(SanitizerConfig{Blocklist: []string{"forbidden phrase"}})
	if err != nil {
		t.Fatalf("NewOutputSanitizer: %v", err)
	}
	got := s.Sanitize("this contains a Forbidden Phrase in it")
	if got == "this contains a forbidden phrase in it" {
		t.Fatalf("Sanitize did not redact the blocklisted phrase: %q", got)
	}
}

func TestOutputSanitizer_Patterns(t *testing.T) {
	s, err := NewOutputSanitizer(SanitizerConfig{Patterns: []string{`\d{4}-\d{4}`}})
	if err != nil {
		t.Fatalf("NewOutputSanitizer: %v", err)
	}
	got := s.Sanitize("code is 1234-5678 today")
	if got == "code is 1234-5678 today" {
		t.Fatalf("Sanitize did not redact the pattern match: %q", got)
	}
}

func TestOutputSanitizer_Truncation(t *testing.T) {
	s, err := NewOutputSanitizer(SanitizerConfig{MaxOutputChars: 5})
	if err != nil {
		t.Fatalf("NewOutputSanitizer: %v", err)
	}
	got := s.Sanitize("abcdefghij")
	if got != "abcde" {
		t.Fatalf("Sanitize = %q, want %q", got, "abcde")
	}
}

func TestOutputSanitizer_Idempotent(t *testing.T) {
	s, err := NewOutputSanitizer(SanitizerConfig{Blocklist: []string{"secret"}})
	if err != nil {
		t.Fatalf("NewOutputSanitizer: %v", err)
	}
	once := s.Sanitize("the secret is out")
	twice := s.Sanitize(once)
	if once != twice {
		t.Fatalf("Sanitize not idempotent: %q != %q", once, twice)
	}
}

func TestNewOutputSanitizer_RejectsBadPattern(t *testing.T) {
	_, err := NewOutputSanitizer(SanitizerConfig{Patterns: []string{"("}})
	if !errors.Is(err, ErrInvalidPattern) {
		t.Fatalf("err = %v, want ErrInvalidPattern", err)
	}
}

func TestNewOutputSanitizer_RejectsEmptyBlocklistEntry(t *testing.T) {
	_, err := NewOutputSanitizer(SanitizerConfig{Blocklist: []string{""}})
	if !errors.Is(err, ErrInvalidPattern) {
		t.Fatalf("err = %v, want ErrInvalidPattern", err)
	}
}
