// Package security screens inbound user text before it reaches a language
// model.
//
// Provides protection against:
//   - Prompt injection attacks
//   - Oversized or empty inputs
//   - Control-character smuggling
//
// Evaluation is a pure function of configuration and input: identical input
// always yields an identical verdict, and no state is mutated, so a single
// Middleware is safe for concurrent use across sessions.
package security

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
)

// Rejection reason codes.
const (
	ReasonEmptyInput   = "empty_input"
	ReasonInputTooLong = "input_too_long"
	ReasonInjection    = "injection_detected"
)

// DefaultInjectionPatterns are the built-in prompt-injection heuristics.
// Each entry is a case-insensitive regular expression matched against the
// (possibly truncated) input.
func DefaultInjectionPatterns() []string {
	return []string{
		`ignore\s+(previous|all|above|prior)\s+instructions?`,
		`disregard\s+(previous|all|above|prior)`,
		`forget\s+(everything|all|previous)`,
		`new\s+instructions?:`,
		`reveal\s+(your|the)\s+system\s+prompt`,
		`system\s*(prompt|message)\s*:`,
		`you\s+are\s+now`,
		`act\s+as\s+(if|though)`,
		`pretend\s+(you|to)\s+(are|be)`,
		`roleplay\s+as`,
		`admin\s+mode`,
		`developer\s+mode`,
		`jailbreak`,
		`</?\s*system\s*>`,
		`<\|.*?\|>`,
		`\[INST\]`,
	}
}

// Config configures the security middleware. The pattern set and limits are
// externally supplied; the defaults exist for convenience, not as policy.
type Config struct {
	// MaxInputLength is the maximum accepted input length in runes.
	// Default: 4000.
	MaxInputLength int

	// TruncateOverlong truncates input to MaxInputLength instead of
	// rejecting it. Truncation is a policy action, not an error.
	TruncateOverlong bool

	// Patterns is the prompt-injection pattern set. Nil selects
	// DefaultInjectionPatterns.
	Patterns []string
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxInputLength:   4000,
		TruncateOverlong: false,
		Patterns:         nil,
	}
}

// Verdict is the admit/reject decision for one inbound message.
// SanitizedText is only meaningful when Admitted is true.
type Verdict struct {
	Admitted        bool
	Reason          string
	MatchedPatterns []string
	SanitizedText   string
	Truncated       bool
}

// Middleware inspects raw user input and produces a Verdict. Checks are
// layered and short-circuit on first match: size limits, injection patterns,
// then sanitization of admitted input.
type Middleware struct {
	cfg      Config
	patterns []string
	compiled []*regexp.Regexp
}

// New creates a security middleware from the given config. Pattern
// compilation errors are reported up front rather than skipped, so a broken
// pattern set cannot silently weaken the gate.
func New(cfg Config) (*Middleware, error) {
	if cfg.MaxInputLength <= 0 {
		cfg.MaxInputLength = 4000
	}

	patterns := cfg.Patterns
	if patterns == nil {
		patterns = DefaultInjectionPatterns()
	}

	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, pattern := range patterns {
		re, err := regexp.Compile("(?i)" + pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid injection pattern %q: %w", pattern, err)
		}
		compiled = append(compiled, re)
	}

	return &Middleware{
		cfg:      cfg,
		patterns: patterns,
		compiled: compiled,
	}, nil
}

// Evaluate screens raw input text and returns a verdict. It has no side
// effects and is safe to call concurrently.
func (m *Middleware) Evaluate(raw string) Verdict {
	if strings.TrimSpace(raw) == "" {
		return Verdict{Reason: ReasonEmptyInput}
	}

	text := raw
	truncated := false
	if runes := []rune(text); len(runes) > m.cfg.MaxInputLength {
		if !m.cfg.TruncateOverlong {
			return Verdict{Reason: ReasonInputTooLong}
		}
		text = string(runes[:m.cfg.MaxInputLength])
		truncated = true
	}

	matched := make([]string, 0)
	for i, re := range m.compiled {
		if re.MatchString(text) {
			matched = append(matched, m.patterns[i])
		}
	}
	if len(matched) > 0 {
		return Verdict{Reason: ReasonInjection, MatchedPatterns: matched}
	}

	return Verdict{
		Admitted:      true,
		SanitizedText: sanitize(text),
		Truncated:     truncated,
	}
}

// sanitize strips control characters (newlines excepted), collapses runs of
// spaces and tabs, and trims the result. Line structure is preserved.
func sanitize(text string) string {
	var sb strings.Builder
	sb.Grow(len(text))
	for _, r := range text {
		if unicode.IsControl(r) && r != '\n' {
			if r == '\t' {
				sb.WriteRune(' ')
			}
			continue
		}
		sb.WriteRune(r)
	}

	lines := strings.Split(sb.String(), "\n")
	for i, line := range lines {
		lines[i] = strings.Join(strings.Fields(line), " ")
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
