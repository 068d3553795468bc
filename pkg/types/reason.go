// Package types holds the wire types shared by the reasoner service and its clients.
package types

import (
	"fmt"
	"math"
	"strings"
)

// Dyad selects the prompt template and tip vocabulary for a request.
type Dyad string

const (
	DyadNight   Dyad = "night"
	DyadTantrum Dyad = "tantrum"
	DyadMeal    Dyad = "meal"
)

// Dyads lists every supported dyad.
var Dyads = []Dyad{DyadNight, DyadTantrum, DyadMeal}

func (d Dyad) Valid() bool {
	switch d {
	case DyadNight, DyadTantrum, DyadMeal:
		return true
	}
	return false
}

// ParseDyad normalizes s and rejects unknown dyads.
func ParseDyad(s string) (Dyad, error) {
	d := Dyad(strings.ToLower(strings.TrimSpace(s)))
	if !d.Valid() {
		return "", fmt.Errorf("unknown dyad %q (want night, tantrum or meal)", s)
	}
	return d, nil
}

// Boundary limits for request maps.
const (
	MaxMapKeys        = 64
	MaxKeyLength      = 64
	MaxStringValueLen = 2048
	MaxNestingDepth   = 4
	MaxHistory        = 5
)

// Features are pre-sanitized numeric session signals. No raw media.
type Features map[string]float64

// Metrics are computed session metrics.
type Metrics map[string]float64

// Context is caller supplied metadata. It may contain PII and is redacted
// before it reaches the backend.
type Context map[string]any

// HistoryItem is a compact summary of a prior event.
type HistoryItem map[string]any

func (f Features) Validate() error { return validateNumbers("features", f) }

func (m Metrics) Validate() error { return validateNumbers("metrics", m) }

func (c Context) Validate() error { return validateAny("context", c, 0) }

func (h HistoryItem) Validate() error { return validateAny("history item", h, 0) }

func validateNumbers(field string, m map[string]float64) error {
	if len(m) > MaxMapKeys {
		return fmt.Errorf("%s: too many keys (%d, max %d)", field, len(m), MaxMapKeys)
	}
	for k, v := range m {
		if err := validateKey(field, k); err != nil {
			return err
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%s.%s: value must be finite", field, k)
		}
	}
	return nil
}

func validateAny(field string, m map[string]any, depth int) error {
	if depth > MaxNestingDepth {
		return fmt.Errorf("%s: nested too deeply (max %d)", field, MaxNestingDepth)
	}
	if len(m) > MaxMapKeys {
		return fmt.Errorf("%s: too many keys (%d, max %d)", field, len(m), MaxMapKeys)
	}
	for k, v := range m {
		if err := validateKey(field, k); err != nil {
			return err
		}
		if err := validateValue(field+"."+k, v, depth); err != nil {
			return err
		}
	}
	return nil
}

func validateValue(field string, v any, depth int) error {
	switch val := v.(type) {
	case nil, bool:
		return nil
	case string:
		if len(val) > MaxStringValueLen {
			return fmt.Errorf("%s: string too long (%d bytes, max %d)", field, len(val), MaxStringValueLen)
		}
	case float64:
		if math.IsNaN(val) || math.IsInf(val, 0) {
			return fmt.Errorf("%s: value must be finite", field)
		}
	case int, int64, float32:
		return nil
	case map[string]any:
		return validateAny(field, val, depth+1)
	case []any:
		if len(val) > MaxMapKeys {
			return fmt.Errorf("%s: too many items (%d, max %d)", field, len(val), MaxMapKeys)
		}
		for i, item := range val {
			if err := validateValue(fmt.Sprintf("%s[%d]", field, i), item, depth+1); err != nil {
				return err
			}
		}
	case []string:
		if len(val) > MaxMapKeys {
			return fmt.Errorf("%s: too many items (%d, max %d)", field, len(val), MaxMapKeys)
		}
	default:
		return fmt.Errorf("%s: unsupported value type %T", field, v)
	}
	return nil
}

func validateKey(field, k string) error {
	if k == "" {
		return fmt.Errorf("%s: empty key", field)
	}
	if len(k) > MaxKeyLength {
		return fmt.Errorf("%s: key %q too long (max %d)", field, k[:16]+"...", MaxKeyLength)
	}
	return nil
}

// ReasoningRequest is the body of POST /v1/reason.
type ReasoningRequest struct {
	Dyad     Dyad          `json:"dyad"`
	Features Features      `json:"features"`
	Context  Context       `json:"context"`
	Metrics  Metrics       `json:"metrics"`
	History  []HistoryItem `json:"history"`
	Model    string        `json:"model,omitempty"`
}

// Validate checks the request at the boundary. History beyond MaxHistory
// entries is dropped rather than rejected.
func (r *ReasoningRequest) Validate() error {
	if r == nil {
		return fmt.Errorf("request is nil")
	}
	d, err := ParseDyad(string(r.Dyad))
	if err != nil {
		return err
	}
	r.Dyad = d
	if err := r.Features.Validate(); err != nil {
		return err
	}
	if err := r.Context.Validate(); err != nil {
		return err
	}
	if err := r.Metrics.Validate(); err != nil {
		return err
	}
	if len(r.History) > MaxHistory {
		r.History = r.History[:MaxHistory]
	}
	for i, h := range r.History {
		if err := h.Validate(); err != nil {
			return fmt.Errorf("history[%d]: %w", i, err)
		}
	}
	r.Model = strings.TrimSpace(r.Model)
	if len(r.Model) > 128 {
		return fmt.Errorf("model name too long")
	}
	return nil
}

// Cache status values reported to callers.
const (
	CacheHit  = "HIT"
	CacheMiss = "MISS"
)

// CacheHeader carries the cache status on /v1/reason responses.
const CacheHeader = "X-Reasoner-Cache"

// TokenHeader carries the shared service token.
const TokenHeader = "X-Reasoner-Token"

// ReasoningResponse is returned by POST /v1/reason.
type ReasoningResponse struct {
	Tips            []string           `json:"tips"`
	Rationale       string             `json:"rationale"`
	MetricOverrides map[string]float64 `json:"metric_overrides,omitempty"`
	ModelUsed       string             `json:"model_used"`
	ResponseTime    float64            `json:"response_time"`
	ResponseTimeMS  int64              `json:"response_time_ms"`
	Dyad            Dyad               `json:"dyad"`
	CacheStatus     string             `json:"cache_status"`
}

// CachedResponse is the validated payload stored in the cache.
type CachedResponse struct {
	Tips            []string           `json:"tips"`
	Rationale       string             `json:"rationale"`
	MetricOverrides map[string]float64 `json:"metric_overrides,omitempty"`
	ModelUsed       string             `json:"model_used"`
}
