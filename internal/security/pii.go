package security

import (
	"regexp"
	"sort"
)

// Category labels the kind of sensitive data a [Span] covers.
type Category string

const (
	CategoryCreditCard Category = "credit_card"
	CategorySSN        Category = "ssn"
	CategoryEmail      Category = "email"
	CategoryPhone      Category = "phone"
	CategoryIP         Category = "ip"
)

// Span is one detected region of sensitive data within a normalized input
// string. Start/End are byte offsets into the normalized string passed to
// [PIIDetector.Detect], not the original caller-supplied string.
type Span struct {
	Category Category
	Start    int
	End      int
	Text     string
}

var piiPatterns = []struct {
	category Category
	re       *regexp.Regexp
}{
	{CategoryCreditCard, regexp.MustCompile(`\b(?:\d[ -]?){13,19}\b`)},
	{CategorySSN, regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`)},
	{CategoryEmail, regexp.MustCompile(`\b[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}\b`)},
	{CategoryPhone, regexp.MustCompile(`\b(?:\+?1[ \-.]?)?\(?\d{3}\)?[ \-.]?\d{3}[ \-.]?\d{4}\b`)},
	{CategoryIP, regexp.MustCompile(`\b(?:(?:25[0-5]|2[0-4]\d|1?\d?\d)\.){3}(?:25[0-5]|2[0-4]\d|1?\d?\d)\b`)},
}

// PIIDetector finds and redacts personally identifiable information in
// normalized input text. Its pattern set is fixed at compile time (not
// configurable, unlike [InjectionFilter]) since the categories it covers
// are a closed set named directly by the spec.
type PIIDetector struct{}

// NewPIIDetector returns a ready-to-use detector. It cannot fail: every
// pattern is a package-level constant compiled once at init.
func NewPIIDetector() *PIIDetector {
	return &PIIDetector{}
}

// Detect normalizes input and returns every matched span, credit-card
// candidates filtered through Luhn validation to avoid flagging arbitrary
// 13-19 digit runs that aren't valid card numbers.
func (d *PIIDetector) Detect(input string) []Span {
	normalized := normalizeForMatch(input)

	var spans []Span
	for _, p := range piiPatterns {
		for _, loc := range p.re.FindAllStringIndex(normalized, -1) {
			text := normalized[loc[0]:loc[1]]
			if p.category == CategoryCreditCard && !luhnValid(text) {
				continue
			}
			spans = append(spans, Span{Category: p.category, Start: loc[0], End: loc[1], Text: text})
		}
	}
	return spans
}

// Redact replaces every detected span in input with a "[<CATEGORY>]"
// marker. Idempotent: redacting already-redacted text finds no further
// spans (the markers themselves match none of the PII patterns).
func (d *PIIDetector) Redact(input string) string {
	normalized := normalizeForMatch(input)
	spans := d.Detect(input)
	if len(spans) == 0 {
		return normalized
	}
	sort.Slice(spans, func(i, j int) bool { return spans[i].Start < spans[j].Start })

	var out []byte
	cursor := 0
	for _, s := range spans {
		if s.Start < cursor {
			continue // overlapping match from a different pattern; keep the first
		}
		out = append(out, normalized[cursor:s.Start]...)
		out = append(out, '[')
		out = append(out, []byte(s.Category)...)
		out = append(out, ']')
		cursor = s.End
	}
	out = append(out, normalized[cursor:]...)
	return string(out)
}

// luhnValid reports whether digits (optionally separated by spaces or
// hyphens) form a Luhn-valid number.
func luhnValid(s string) bool {
	var digits []int
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
			digits = append(digits, int(r-'0'))
		case r == ' ' || r == '-':
			continue
		default:
			return false
		}
	}
	if len(digits) < 13 || len(digits) > 19 {
		return false
	}

	sum := 0
	parity := len(digits) % 2
	for i, d := range digits {
		if i%2 == parity {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
	}
	return sum%10 == 0
}
