// Package redact scrubs PII and secret material from free-text audit fields
// before they reach durable storage. Redaction is deterministic and
// idempotent: replacement markers never match any pattern, so scrubbing
// already-scrubbed text is a no-op.
package redact

import (
	"regexp"

	"github.com/Mindburn-Labs/gatehouse/pkg/kernelerr"
)

// Classification grades the sensitivity of matched content.
type Classification string

const (
	ClassNone      Classification = "NONE"
	ClassSensitive Classification = "SENSITIVE" // emails, names, IPs
	ClassCritical  Classification = "CRITICAL"  // credentials, SSNs, card numbers
)

// Pattern is one redaction rule. Patterns are applied in order.
type Pattern struct {
	Name        string
	Replacement string
	Class       Classification
	re          *regexp.Regexp
}

// Compile builds a custom pattern. An expression that does not compile is a
// redaction error.
func Compile(name, expr, replacement string, class Classification) (Pattern, error) {
	re, err := regexp.Compile(expr)
	if err != nil {
		return Pattern{}, kernelerr.Wrapf(kernelerr.CodeRedaction, err, "pattern %q does not compile", name)
	}
	return Pattern{Name: name, Replacement: replacement, Class: class, re: re}, nil
}

// Redactor applies an ordered pattern list to text.
type Redactor struct {
	patterns []Pattern
}

// New returns a redactor with the default rules: bearer tokens, secret keys,
// SSNs, card numbers, then emails.
func New() *Redactor {
	return &Redactor{patterns: []Pattern{
		{
			Name:        "bearer_token",
			Replacement: "[REDACTED_TOKEN]",
			Class:       ClassCritical,
			re:          regexp.MustCompile(`(?i)bearer\s+[A-Za-z0-9\-._~+/]+=*`),
		},
		{
			Name:        "secret_key",
			Replacement: "[REDACTED_API_KEY]",
			Class:       ClassCritical,
			re:          regexp.MustCompile(`\bsk-[A-Za-z0-9]{16,}\b`),
		},
		{
			Name:        "ssn",
			Replacement: "[REDACTED_SSN]",
			Class:       ClassCritical,
			re:          regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`),
		},
		{
			Name:        "card_number",
			Replacement: "[REDACTED_CARD]",
			Class:       ClassCritical,
			re:          regexp.MustCompile(`\b\d{4}[ -]?\d{4}[ -]?\d{4}[ -]?\d{4}\b`),
		},
		{
			Name:        "email",
			Replacement: "[REDACTED_EMAIL]",
			Class:       ClassSensitive,
			re:          regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`),
		},
	}}
}

// NewWithPatterns returns a redactor over a custom ordered rule set.
func NewWithPatterns(patterns []Pattern) *Redactor {
	return &Redactor{patterns: patterns}
}

// Scrub replaces every match and reports the strongest classification seen
// in the original text. The classification reflects pre-redaction content.
func (r *Redactor) Scrub(text string) (string, Classification) {
	detected := ClassNone
	for _, p := range r.patterns {
		if p.re.MatchString(text) {
			detected = stronger(detected, p.Class)
			text = p.re.ReplaceAllString(text, p.Replacement)
		}
	}
	return text, detected
}

// Detect reports the strongest classification in text without rewriting it.
func (r *Redactor) Detect(text string) Classification {
	detected := ClassNone
	for _, p := range r.patterns {
		if p.re.MatchString(text) {
			detected = stronger(detected, p.Class)
		}
	}
	return detected
}

func rank(c Classification) int {
	switch c {
	case ClassCritical:
		return 2
	case ClassSensitive:
		return 1
	default:
		return 0
	}
}

func stronger(a, b Classification) Classification {
	if rank(b) > rank(a) {
		return b
	}
	return a
}
