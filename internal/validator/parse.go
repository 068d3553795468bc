package validator

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ParseError reports model text that is not a JSON object.
type ParseError struct {
	Reason string
	Err    error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return e.Reason + ": " + e.Err.Error()
	}
	return e.Reason
}

func (e *ParseError) Unwrap() error { return e.Err }

// Parse extracts the JSON object from model text, tolerating a surrounding
// ``` or ```json fence. The returned error is always a *ParseError.
func Parse(text string) (Raw, error) {
	body := stripFence(text)
	if body == "" {
		return Raw{}, &ParseError{Reason: "empty response"}
	}
	if !strings.HasPrefix(body, "{") {
		return Raw{}, &ParseError{Reason: "response is not a JSON object"}
	}

	var obj map[string]any
	if err := json.Unmarshal([]byte(body), &obj); err != nil {
		return Raw{}, &ParseError{Reason: "invalid JSON", Err: err}
	}

	return Raw{
		Tips:            obj["tips"],
		Rationale:       obj["rationale"],
		MetricOverrides: obj["metric_overrides"],
	}, nil
}

func stripFence(text string) string {
	s := strings.TrimSpace(text)
	switch {
	case strings.HasPrefix(s, "```json"):
		s = s[len("```json"):]
	case strings.HasPrefix(s, "```JSON"):
		s = s[len("```JSON"):]
	case strings.HasPrefix(s, "```"):
		s = s[len("```"):]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// Fallback is the result for unparseable model output: no tips and a short
// rationale naming the parse failure. It never fails.
func Fallback(err error) Result {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	if r := []rune(msg); len(r) > 100 {
		msg = string(r[:100])
	}
	msg = strings.Join(strings.Fields(msg), " ")

	res := Result{
		Tips:      []string{},
		Rationale: truncateRunes(fmt.Sprintf("%s %s)", parseFallbackPrefix, msg), MaxRationaleRunes),
		Warnings:  []string{"parse error: " + msg},
	}
	var pe *ParseError
	if errors.As(err, &pe) {
		res.ParseErr = pe
	} else {
		res.ParseErr = &ParseError{Reason: msg, Err: err}
	}
	return res
}

// FromModelText parses and sanitizes model text. Parse failures yield the
// Fallback result with ParseErr set.
func FromModelText(text string) Result {
	raw, err := Parse(text)
	if err != nil {
		return Fallback(err)
	}
	return Validate(raw)
}
