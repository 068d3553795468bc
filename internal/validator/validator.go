// Package validator disciplines raw model output into a bounded, safe
// response: at most two short tips, a short rationale and clamped metric
// overrides. Nothing in this package returns an error to the caller.
package validator

import (
	"fmt"
	"strings"
)

const (
	MaxTips           = 2
	MaxTipWords       = 25
	MaxRationaleRunes = 140

	// FallbackRationale replaces a rationale that is empty or profane.
	FallbackRationale = "Analysis completed"
	// MissingRationale replaces a rationale that is absent or not a string.
	MissingRationale = "No rationale provided"

	parseFallbackPrefix = FallbackRationale + ". (Parse error:"
)

// Raw is the loosely typed model output before sanitizing.
type Raw struct {
	Tips            any
	Rationale       any
	MetricOverrides any
}

// Result is the sanitized output.
type Result struct {
	Tips            []string
	Rationale       string
	MetricOverrides map[string]float64
	// Valid is informational: at least one tip, or a rationale that is not
	// one of the generic fallbacks.
	Valid    bool
	Warnings []string
	// ParseErr is set when the model text could not be parsed and the
	// result is the parse fallback.
	ParseErr *ParseError
}

// Validate sanitizes tips, rationale and metric overrides.
func Validate(raw Raw) Result {
	var res Result

	res.Tips, res.Warnings = validateTips(raw.Tips)

	rationale, warn := validateRationale(raw.Rationale)
	res.Rationale = rationale
	if warn != "" {
		res.Warnings = append(res.Warnings, warn)
	}

	overrides, dropped := ClampOverrides(raw.MetricOverrides)
	res.MetricOverrides = overrides
	for _, k := range dropped {
		res.Warnings = append(res.Warnings, fmt.Sprintf("metric override %q dropped", k))
	}

	res.Valid = Informative(res.Tips, res.Rationale)
	return res
}

// Informative reports whether a sanitized answer says anything: at least one
// tip, or a rationale that is not one of the generic fallbacks.
func Informative(tips []string, rationale string) bool {
	if len(tips) > 0 {
		return true
	}
	return rationale != "" &&
		rationale != FallbackRationale &&
		rationale != MissingRationale &&
		!strings.HasPrefix(rationale, parseFallbackPrefix)
}

func validateTips(v any) ([]string, []string) {
	var items []any
	switch t := v.(type) {
	case nil:
		return []string{}, nil
	case string:
		items = []any{t}
	case []string:
		for _, s := range t {
			items = append(items, s)
		}
	case []any:
		items = t
	default:
		return []string{}, []string{fmt.Sprintf("tips: unexpected type %T, ignored", v)}
	}

	tips := make([]string, 0, MaxTips)
	var warnings []string
	for i, item := range items {
		s, ok := item.(string)
		if !ok {
			warnings = append(warnings, fmt.Sprintf("tip %d: not a string, skipped", i+1))
			continue
		}

		f := sanitize(s, MaxTipWords, 0)
		switch {
		case f.profane:
			warnings = append(warnings, fmt.Sprintf("tip %d: profanity, skipped", i+1))
			continue
		case f.text == "":
			warnings = append(warnings, fmt.Sprintf("tip %d: empty after cleaning, skipped", i+1))
			continue
		case f.truncated:
			warnings = append(warnings, fmt.Sprintf("tip %d: truncated to %d words", i+1, MaxTipWords))
		}

		tips = append(tips, f.text)
		if len(tips) >= MaxTips {
			break
		}
	}
	return tips, warnings
}

func validateRationale(v any) (string, string) {
	s, ok := v.(string)
	if !ok {
		return MissingRationale, "rationale: missing or not a string"
	}

	f := sanitize(s, 0, MaxRationaleRunes)
	switch {
	case f.profane:
		return FallbackRationale, "rationale: profanity, replaced"
	case f.text == "":
		return FallbackRationale, "rationale: empty after cleaning"
	case f.truncated:
		return f.text, fmt.Sprintf("rationale: truncated to %d characters", MaxRationaleRunes)
	}
	return f.text, ""
}
