package types

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"testing"
)

func TestParseDyad(t *testing.T) {
	for _, in := range []string{"night", " Tantrum ", "MEAL"} {
		if _, err := ParseDyad(in); err != nil {
			t.Fatalf("ParseDyad(%q): %v", in, err)
		}
	}
	if _, err := ParseDyad("bath"); err == nil {
		t.Fatalf("expected error for unknown dyad")
	}
}

func TestReasoningRequestValidate(t *testing.T) {
	body := `{"dyad":"Tantrum","features":{"vad_fraction":0.45},
		"context":{"trigger":"transition","co_regulation":["mirror","label"]},
		"metrics":{"escalation_index":0.65},"history":[{},{},{},{},{},{},{}]}`

	var req ReasoningRequest
	if err := json.Unmarshal([]byte(body), &req); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if err := req.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if req.Dyad != DyadTantrum {
		t.Fatalf("dyad not normalized: %q", req.Dyad)
	}
	if len(req.History) != MaxHistory {
		t.Fatalf("history not truncated: %d", len(req.History))
	}
}

func TestReasoningRequestValidateRejects(t *testing.T) {
	tooMany := Features{}
	for i := 0; i <= MaxMapKeys; i++ {
		tooMany[fmt.Sprintf("k%d", i)] = 1
	}

	cases := map[string]ReasoningRequest{
		"bad dyad":      {Dyad: "bath"},
		"nan feature":   {Dyad: DyadNight, Features: Features{"x": math.NaN()}},
		"inf metric":    {Dyad: DyadNight, Metrics: Metrics{"x": math.Inf(1)}},
		"empty key":     {Dyad: DyadNight, Context: Context{"": "v"}},
		"long string":   {Dyad: DyadNight, Context: Context{"k": strings.Repeat("a", MaxStringValueLen+1)}},
		"too many keys": {Dyad: DyadNight, Features: tooMany},
		"deep nesting": {Dyad: DyadNight, Context: Context{"a": map[string]any{"b": map[string]any{
			"c": map[string]any{"d": map[string]any{"e": map[string]any{"f": map[string]any{}}}}}}}},
	}
	for name, req := range cases {
		req := req
		if err := req.Validate(); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func TestNonNumericFeatureFailsDecode(t *testing.T) {
	var req ReasoningRequest
	err := json.Unmarshal([]byte(`{"dyad":"night","features":{"x":"loud"}}`), &req)
	if err == nil {
		t.Fatalf("expected decode error for non-numeric feature")
	}
}

func TestHitRateOf(t *testing.T) {
	if got := HitRateOf(0, 0); got != 0 {
		t.Fatalf("empty hit rate = %v", got)
	}
	if got := HitRateOf(1, 2); got != 0.333 {
		t.Fatalf("hit rate = %v, want 0.333", got)
	}
}
