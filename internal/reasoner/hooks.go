package reasoner

import (
	"context"

	"github.com/zoobzio/capitan"

	"dyad-reasoner/internal/metrics"
)

// Signals emitted while serving a request.
var (
	RequestCompleted    = capitan.NewSignal("reasoner.request.completed", "")
	ModelFallback       = capitan.NewSignal("reasoner.model.fallback", "")
	BackendFailed       = capitan.NewSignal("reasoner.backend.failed", "")
	ResponseParseFailed = capitan.NewSignal("reasoner.response.parse_failed", "")
)

// Keys for signal fields.
var (
	RequestIDKey   = capitan.NewStringKey("reasoner.request.id")
	DyadKey        = capitan.NewStringKey("reasoner.dyad")
	ModelKey       = capitan.NewStringKey("reasoner.model")
	CacheStatusKey = capitan.NewStringKey("reasoner.cache_status")
	FingerprintKey = capitan.NewStringKey("reasoner.fingerprint")
	DurationMsKey  = capitan.NewIntKey("reasoner.duration.ms")
	TipCountKey    = capitan.NewIntKey("reasoner.tips")

	HintKey           = capitan.NewStringKey("reasoner.model.hint")
	FallbackReasonKey = capitan.NewStringKey("reasoner.model.fallback_reason")

	StageKey    = capitan.NewStringKey("reasoner.stage")
	ErrorKey    = capitan.NewStringKey("reasoner.error")
	ResponseKey = capitan.NewStringKey("reasoner.response")
)

// Backend failure stages.
const (
	StageProbe   = "probe"
	StageResolve = "resolve"
	StageChat    = "chat"
)

// ObserveMetrics feeds the signals into the Prometheus counters. Call the
// returned func to detach.
func ObserveMetrics() func() {
	completed := capitan.Hook(RequestCompleted, func(_ context.Context, e *capitan.Event) {
		dyad, _ := DyadKey.From(e)
		status, _ := CacheStatusKey.From(e)
		metrics.RequestsTotal.WithLabelValues(dyad, status).Inc()
	})
	fallback := capitan.Hook(ModelFallback, func(_ context.Context, _ *capitan.Event) {
		metrics.ModelFallbacksTotal.Inc()
	})
	failed := capitan.Hook(BackendFailed, func(_ context.Context, e *capitan.Event) {
		stage, _ := StageKey.From(e)
		metrics.BackendFailuresTotal.WithLabelValues(stage).Inc()
	})
	parse := capitan.Hook(ResponseParseFailed, func(_ context.Context, _ *capitan.Event) {
		metrics.ParseFailuresTotal.Inc()
	})

	return func() {
		completed.Close()
		fallback.Close()
		failed.Close()
		parse.Close()
	}
}
