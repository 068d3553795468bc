package validator

import (
	"errors"
	"strings"
	"testing"
)

func TestFromModelText_PlainJSON(t *testing.T) {
	res := FromModelText(`{"tips":["Lower your voice.","Offer water."],"rationale":"Short and calm.","metric_overrides":{"escalation_index":0.4}}`)
	if res.ParseErr != nil {
		t.Fatalf("unexpected parse error: %v", res.ParseErr)
	}
	if len(res.Tips) != 2 || res.Rationale != "Short and calm." {
		t.Fatalf("unexpected result %+v", res)
	}
	if res.MetricOverrides["escalation_index"] != 0.4 {
		t.Fatalf("override lost: %v", res.MetricOverrides)
	}
}

func TestFromModelText_Fenced(t *testing.T) {
	for _, text := range []string{
		"```json\n{\"tips\":[\"Dim lights.\"],\"rationale\":\"Night routine.\"}\n```",
		"```\n{\"tips\":[\"Dim lights.\"],\"rationale\":\"Night routine.\"}\n```",
		"  {\"tips\":[\"Dim lights.\"],\"rationale\":\"Night routine.\"}  ",
	} {
		res := FromModelText(text)
		if res.ParseErr != nil {
			t.Fatalf("parse %q: %v", text, res.ParseErr)
		}
		if len(res.Tips) != 1 || res.Tips[0] != "Dim lights." || res.Rationale != "Night routine." {
			t.Fatalf("unexpected result for %q: %+v", text, res)
		}
	}
}

func TestFromModelText_Prose(t *testing.T) {
	res := FromModelText("Sure! Here are some tips for your child.")
	if res.ParseErr == nil {
		t.Fatalf("expected parse error")
	}
	if len(res.Tips) != 0 {
		t.Fatalf("fallback must have no tips: %#v", res.Tips)
	}
	if !strings.HasPrefix(res.Rationale, "Analysis completed. (Parse error:") {
		t.Fatalf("unexpected fallback rationale %q", res.Rationale)
	}
	if len([]rune(res.Rationale)) > MaxRationaleRunes {
		t.Fatalf("fallback rationale too long: %d", len([]rune(res.Rationale)))
	}
	if res.Valid {
		t.Fatalf("fallback must not be valid")
	}
}

func TestFromModelText_BrokenJSON(t *testing.T) {
	res := FromModelText(`{"tips": ["a",`)
	if res.ParseErr == nil || res.ParseErr.Err == nil {
		t.Fatalf("expected wrapped json error, got %+v", res.ParseErr)
	}
}

func TestParseReturnsParseError(t *testing.T) {
	_, err := Parse("[1,2,3]")
	var pe *ParseError
	if !errors.As(err, &pe) {
		t.Fatalf("expected *ParseError, got %T", err)
	}
	if _, err := Parse(""); err == nil {
		t.Fatalf("empty text should fail")
	}
}

func TestFallbackAnyError(t *testing.T) {
	res := Fallback(errors.New(strings.Repeat("x", 300)))
	if len([]rune(res.Rationale)) > MaxRationaleRunes {
		t.Fatalf("fallback rationale exceeds bound")
	}
	if res.ParseErr == nil {
		t.Fatalf("fallback should carry a ParseError")
	}
	if res := Fallback(nil); res.Rationale == "" {
		t.Fatalf("nil error still yields a rationale")
	}
}

func FuzzFromModelText(f *testing.F) {
	f.Add(`{"tips":["a"],"rationale":"b"}`)
	f.Add("```json\n{}\n```")
	f.Add("not json")
	f.Add(`{"tips":"x","rationale":5,"metric_overrides":{"meal_mood":"1e999"}}`)

	f.Fuzz(func(t *testing.T, text string) {
		assertBounded(t, FromModelText(text))
	})
}
