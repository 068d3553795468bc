// Package redact strips personal data from request context and history
// before anything is sent to the model backend.
package redact

import (
	"regexp"
	"strings"
)

const (
	Redacted      = "[REDACTED]"
	RedactedEmail = "[REDACTED_EMAIL]"
	RedactedPhone = "[REDACTED_PHONE]"
	RedactedID    = "[REDACTED_ID]"
)

// Keys whose values are always replaced, matched case-insensitively.
var sensitiveKeys = map[string]struct{}{
	"name":        {},
	"email":       {},
	"phone":       {},
	"address":     {},
	"child_name":  {},
	"family_name": {},
	"notes":       {},
	"description": {},
	"comments":    {},
	"details":     {},
}

type valueRule struct {
	pattern     *regexp.Regexp
	replacement string
}

// Card and SSN run before phone so their digits are not half-matched.
var valueRules = []valueRule{
	{regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`), RedactedEmail},
	{regexp.MustCompile(`\b\d{4}[-\s]?\d{4}[-\s]?\d{4}[-\s]?\d{4}\b`), RedactedID},
	{regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`), RedactedID},
	{regexp.MustCompile(`(?:\+\d{1,2}[\s.-]?)?\(?\b\d{3}\)?[\s.-]?\d{3}[\s.-]?\d{4}\b`), RedactedPhone},
}

// IsSensitiveKey reports whether values under k are always redacted.
func IsSensitiveKey(k string) bool {
	_, ok := sensitiveKeys[strings.ToLower(k)]
	return ok
}

// String scrubs email addresses, phone numbers and card/SSN-like ids from s.
func String(s string) string {
	for _, r := range valueRules {
		s = r.pattern.ReplaceAllString(s, r.replacement)
	}
	return s
}

// Map returns a redacted deep copy of m. m itself is never modified.
func Map(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		if IsSensitiveKey(k) {
			out[k] = Redacted
			continue
		}
		out[k] = Value(v)
	}
	return out
}

// Value redacts any JSON-shaped value.
func Value(v any) any {
	switch val := v.(type) {
	case string:
		return String(val)
	case map[string]any:
		return Map(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = Value(item)
		}
		return out
	case []string:
		out := make([]string, len(val))
		for i, item := range val {
			out[i] = String(item)
		}
		return out
	default:
		return v
	}
}

// Slice redacts every map in items. It accepts named map types such as
// history items.
func Slice[M ~map[string]any](items []M) []map[string]any {
	if items == nil {
		return nil
	}
	out := make([]map[string]any, len(items))
	for i, m := range items {
		out[i] = Map(m)
	}
	return out
}
