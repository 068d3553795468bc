package validator

import (
	"encoding/json"
	"math"
	"sort"
	"strconv"
	"strings"
)

// Range is the inclusive bound of a known metric.
type Range struct {
	Min, Max float64
}

// KnownMetrics are the only metric overrides a response may carry.
var KnownMetrics = map[string]Range{
	"escalation_index": {Min: 0, Max: 1},
	"meal_mood":        {Min: 0, Max: 100},
}

// ClampOverrides keeps known metric keys with numeric (or numeric string)
// values, clamped to their range. It returns nil when nothing survives, plus
// the keys it dropped in sorted order.
func ClampOverrides(v any) (map[string]float64, []string) {
	m, ok := v.(map[string]any)
	if !ok {
		if typed, ok := v.(map[string]float64); ok {
			m = make(map[string]any, len(typed))
			for k, f := range typed {
				m[k] = f
			}
		} else {
			return nil, nil
		}
	}

	var out map[string]float64
	var dropped []string
	for k, raw := range m {
		r, known := KnownMetrics[k]
		if !known {
			dropped = append(dropped, k)
			continue
		}
		f, ok := toFloat(raw)
		if !ok {
			dropped = append(dropped, k)
			continue
		}
		if out == nil {
			out = make(map[string]float64)
		}
		out[k] = math.Max(r.Min, math.Min(r.Max, f))
	}
	sort.Strings(dropped)
	return out, dropped
}

func toFloat(v any) (float64, bool) {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int64:
		f = float64(n)
	case json.Number:
		parsed, err := n.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}
