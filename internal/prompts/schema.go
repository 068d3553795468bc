package prompts

import (
	"encoding/json"
	"strings"
	"sync"

	"github.com/zoobzio/sentinel"
)

// Output is the shape the model is asked to return.
type Output struct {
	Tips            []string           `json:"tips" yaml:"tips"`
	Rationale       string             `json:"rationale" yaml:"rationale"`
	MetricOverrides map[string]float64 `json:"metric_overrides,omitempty" yaml:"metric_overrides,omitempty"`
}

var (
	schemaOnce sync.Once
	schemaText string
)

// OutputSchema is a JSON Schema for Output derived from its struct tags.
func OutputSchema() string {
	schemaOnce.Do(func() {
		schemaText = jsonSchema(sentinel.Inspect[Output]().Fields)
	})
	return schemaText
}

func jsonSchema(fields []sentinel.FieldMetadata) string {
	props := make(map[string]any, len(fields))
	var required []string

	for _, f := range fields {
		name, omit := jsonName(f)
		if name == "-" {
			continue
		}
		props[name] = map[string]any{"type": jsonType(f.Type)}
		if !omit {
			required = append(required, name)
		}
	}

	b, err := json.Marshal(map[string]any{
		"type":                 "object",
		"properties":           props,
		"required":             required,
		"additionalProperties": false,
	})
	if err != nil {
		return "{}"
	}
	return string(b)
}

func jsonName(f sentinel.FieldMetadata) (string, bool) {
	tag, ok := f.Tags["json"]
	if !ok || tag == "" {
		return strings.ToLower(f.Name[:1]) + f.Name[1:], false
	}
	parts := strings.Split(tag, ",")
	name := parts[0]
	if name == "" {
		name = strings.ToLower(f.Name[:1]) + f.Name[1:]
	}
	omit := false
	for _, p := range parts[1:] {
		if p == "omitempty" {
			omit = true
		}
	}
	return name, omit
}

func jsonType(goType string) string {
	switch {
	case strings.HasPrefix(goType, "string"):
		return "string"
	case strings.HasPrefix(goType, "int"), strings.HasPrefix(goType, "uint"):
		return "integer"
	case strings.HasPrefix(goType, "float"):
		return "number"
	case strings.HasPrefix(goType, "bool"):
		return "boolean"
	case strings.HasPrefix(goType, "[]"):
		return "array"
	default:
		return "object"
	}
}
