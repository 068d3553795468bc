// Package prompts turns a reasoning request into the system and user messages
// sent to the model backend.
package prompts

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"dyad-reasoner/internal/redact"
	"dyad-reasoner/pkg/types"
)

//go:embed prompts.yaml
var defaultTemplates []byte

// MaxRecent is how many history items reach the prompt.
const MaxRecent = 3

type Constraints struct {
	TipWordsMax       int      `yaml:"tip_words_max" json:"tip_words_max"`
	TipsMax           int      `yaml:"tips_max" json:"tips_max"`
	RationaleCharsMax int      `yaml:"rationale_chars_max" json:"rationale_chars_max"`
	Tone              string   `yaml:"tone" json:"tone"`
	Forbidden         []string `yaml:"forbidden" json:"forbidden"`
}

type Example struct {
	Features map[string]any `yaml:"features" json:"features"`
	Context  map[string]any `yaml:"context" json:"context"`
	Out      Output         `yaml:"out" json:"out"`
}

// Templates is the full prompt set for every dyad.
type Templates struct {
	Version     string                   `yaml:"version"`
	System      string                   `yaml:"system"`
	Constraints Constraints              `yaml:"constraints"`
	FewShot     map[types.Dyad][]Example `yaml:"few_shot"`
}

// Default returns the embedded templates.
func Default() (*Templates, error) {
	return parse(defaultTemplates)
}

// Load reads templates from path, or returns Default when path is empty.
func Load(path string) (*Templates, error) {
	if path == "" {
		return Default()
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("prompts: read %s: %w", path, err)
	}
	return parse(b)
}

func parse(b []byte) (*Templates, error) {
	var t Templates
	if err := yaml.Unmarshal(b, &t); err != nil {
		return nil, fmt.Errorf("prompts: parse: %w", err)
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return &t, nil
}

func (t *Templates) Validate() error {
	if strings.TrimSpace(t.Version) == "" {
		return fmt.Errorf("prompts: version is required")
	}
	if strings.Contains(t.Version, ":") {
		return fmt.Errorf("prompts: version %q must not contain ':'", t.Version)
	}
	if strings.TrimSpace(t.System) == "" {
		return fmt.Errorf("prompts: system text is required")
	}
	for _, d := range types.Dyads {
		if len(t.FewShot[d]) == 0 {
			return fmt.Errorf("prompts: no few-shot examples for dyad %q", d)
		}
	}
	return nil
}

// userMessage is the JSON document sent as the user turn.
type userMessage struct {
	Dyad        types.Dyad         `json:"dyad"`
	Constraints Constraints        `json:"constraints"`
	FewShot     []Example          `json:"few_shot"`
	Features    map[string]float64 `json:"features"`
	Context     map[string]any     `json:"context"`
	Metrics     map[string]float64 `json:"metrics"`
	Recent      []map[string]any   `json:"recent"`
}

// SystemMessage is the system turn: base guidance, the strict JSON contract
// and the output schema.
func (t *Templates) SystemMessage() string {
	c := t.Constraints
	var b strings.Builder
	b.WriteString(strings.TrimSpace(t.System))
	b.WriteString("\n\n")
	fmt.Fprintf(&b,
		"Return ONLY JSON with keys: tips (array of <=%d strings, each <=%d words), "+
			"rationale (string <=%d chars), metric_overrides (object, optional). No prose, no markdown.",
		c.TipsMax, c.TipWordsMax, c.RationaleCharsMax)
	if c.Tone != "" {
		fmt.Fprintf(&b, "\nTone: %s.", c.Tone)
	}
	if len(c.Forbidden) > 0 {
		fmt.Fprintf(&b, "\nNever include: %s.", strings.Join(c.Forbidden, ", "))
	}
	b.WriteString("\nSchema:\n")
	b.WriteString(OutputSchema())
	return b.String()
}

// UserMessage renders req as the user turn. Context and history are redacted,
// raw media features (raw_* and *_data) are dropped and only the first
// MaxRecent history items are kept.
func (t *Templates) UserMessage(req *types.ReasoningRequest) (string, error) {
	features := make(map[string]float64, len(req.Features))
	for k, v := range req.Features {
		if strings.HasPrefix(k, "raw_") || strings.HasSuffix(k, "_data") {
			continue
		}
		features[k] = v
	}

	metrics := map[string]float64(req.Metrics)
	if metrics == nil {
		metrics = map[string]float64{}
	}

	ctx := redact.Map(req.Context)
	if ctx == nil {
		ctx = map[string]any{}
	}

	history := req.History
	if len(history) > MaxRecent {
		history = history[:MaxRecent]
	}
	recent := redact.Slice(history)
	if recent == nil {
		recent = []map[string]any{}
	}

	msg := userMessage{
		Dyad:        req.Dyad,
		Constraints: t.Constraints,
		FewShot:     t.FewShot[req.Dyad],
		Features:    features,
		Context:     ctx,
		Metrics:     metrics,
		Recent:      recent,
	}

	b, err := json.MarshalIndent(msg, "", "  ")
	if err != nil {
		return "", fmt.Errorf("prompts: marshal user message: %w", err)
	}
	return string(b), nil
}
