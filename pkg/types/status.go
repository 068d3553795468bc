package types

import "time"

// CacheStats describes the response cache.
type CacheStats struct {
	Backend    string  `json:"backend"`
	Enabled    bool    `json:"enabled"`
	Size       int     `json:"size"`
	MaxSize    int     `json:"max_size"`
	TTLSeconds int     `json:"ttl_seconds"`
	Hits       int64   `json:"hits"`
	Misses     int64   `json:"misses"`
	Evictions  int64   `json:"evictions"`
	HitRate    float64 `json:"hit_rate"`
}

// HitRateOf returns hits/(hits+misses), rounded to three decimals.
func HitRateOf(hits, misses int64) float64 {
	total := hits + misses
	if total == 0 {
		return 0
	}
	r := float64(hits) / float64(total)
	return float64(int64(r*1000+0.5)) / 1000
}

const (
	StatusHealthy  = "healthy"
	StatusDegraded = "degraded"
)

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status           string    `json:"status"`
	BackendConnected bool      `json:"backend_connected"`
	Timestamp        time.Time `json:"timestamp"`
}

// StatusResponse is returned by GET /status.
type StatusResponse struct {
	ModelHint        string     `json:"model_hint"`
	ModelUsed        string     `json:"model_used,omitempty"`
	AllowFallback    bool       `json:"allow_fallback"`
	FallbackOccurred bool       `json:"fallback_occurred"`
	FallbackReason   string     `json:"fallback_reason,omitempty"`
	EndpointHost     string     `json:"endpoint_host"`
	Cache            CacheStats `json:"cache"`
}

// ModelsResponse is returned by GET /models.
type ModelsResponse struct {
	Models    []string `json:"models"`
	Available bool     `json:"available"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// Error codes.
const (
	CodeInvalidRequest     = "invalid_request"
	CodeUnauthorized       = "unauthorized"
	CodeRateLimited        = "rate_limited"
	CodeBackendUnavailable = "backend_unavailable"
	CodeModelUnavailable   = "model_unavailable"
	CodeBackendError       = "backend_error"
	CodeTimeout            = "timeout"
	CodeInternal           = "internal_server_error"
)

// MessageResponse acknowledges an action, e.g. POST /cache/clear.
type MessageResponse struct {
	Message string `json:"message"`
}
