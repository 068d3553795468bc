// Package reasoner turns a dyad session summary into short, safe coaching
// tips. A request is fingerprinted and looked up in the response cache; on a
// miss the backend is probed, a model is resolved, the prompt is built from
// redacted input, and the model output is sanitized and cached.
package reasoner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/zoobzio/capitan"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"dyad-reasoner/internal/cache"
	"dyad-reasoner/internal/llm"
	"dyad-reasoner/internal/metrics"
	"dyad-reasoner/internal/prompts"
	"dyad-reasoner/internal/resolver"
	"dyad-reasoner/internal/validator"
	"dyad-reasoner/pkg/logging"
	"dyad-reasoner/pkg/types"
)

// Backend is the LLM runtime as the service uses it.
type Backend interface {
	resolver.Catalog
	Health(ctx context.Context) error
	Chat(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error)
}

type Options struct {
	Backend   Backend
	Resolver  *resolver.Resolver
	Store     cache.Store
	Templates *prompts.Templates

	Temperature  float64
	EndpointHost string

	Logger *zap.Logger
	Now    func() time.Time
}

type Service struct {
	backend   Backend
	resolver  *resolver.Resolver
	store     cache.Store
	templates *prompts.Templates

	temperature  float64
	endpointHost string

	logger *zap.Logger
	now    func() time.Time

	group     singleflight.Group
	lastModel atomic.Value // string
}

func New(opts Options) (*Service, error) {
	switch {
	case opts.Backend == nil:
		return nil, errors.New("reasoner: backend is required")
	case opts.Resolver == nil:
		return nil, errors.New("reasoner: resolver is required")
	case opts.Store == nil:
		return nil, errors.New("reasoner: cache store is required")
	case opts.Templates == nil:
		return nil, errors.New("reasoner: prompt templates are required")
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Service{
		backend:      opts.Backend,
		resolver:     opts.Resolver,
		store:        opts.Store,
		templates:    opts.Templates,
		temperature:  opts.Temperature,
		endpointHost: opts.EndpointHost,
		logger:       logging.OrNop(opts.Logger).Named("reasoner"),
		now:          opts.Now,
	}, nil
}

// generation is the outcome of one backend round trip, shared by every
// caller coalesced onto it.
type generation struct {
	cached     types.CachedResponse
	result     validator.Result
	resolution resolver.Resolution
}

// Reason serves one request. Errors are always *Error.
func (s *Service) Reason(ctx context.Context, req *types.ReasoningRequest) (*types.ReasoningResponse, error) {
	start := s.now()
	requestID := uuid.NewString()

	if err := req.Validate(); err != nil {
		return nil, invalidRequest(err)
	}

	logger := logging.L(ctx).With(
		zap.String("reason_id", requestID),
		zap.String("dyad", string(req.Dyad)),
	)

	key, err := cache.Fingerprint(req, s.templates.Version)
	cacheKey := key.String()
	if err != nil {
		// Without a fingerprint the request is served uncached.
		logger.Warn("fingerprint_error", zap.Error(err))
		cacheKey = ""
	}

	if cacheKey != "" {
		if cached, ok := s.lookup(ctx, logger, cacheKey); ok {
			resp := s.respond(req.Dyad, cached, types.CacheHit, start)
			s.decision(ctx, logger, requestID, key, resp, resolver.Resolution{Model: cached.ModelUsed}, validator.Informative(cached.Tips, cached.Rationale), false)
			return resp, nil
		}
	}

	var (
		gen    *generation
		shared bool
	)
	if cacheKey == "" {
		gen, err = s.generate(ctx, logger, requestID, req, cacheKey)
	} else {
		// The shared call outlives any single waiter; backend timeouts bound it.
		workCtx := context.WithoutCancel(ctx)
		ch := s.group.DoChan(cacheKey, func() (any, error) {
			return s.generate(workCtx, logger, requestID, req, cacheKey)
		})
		select {
		case <-ctx.Done():
			logger.Warn("reason_abandoned", zap.Error(ctx.Err()))
			return nil, contextError(ctx)
		case r := <-ch:
			shared = r.Shared
			if r.Err == nil {
				gen = r.Val.(*generation)
			}
			err = r.Err
		}
	}
	if err != nil {
		return nil, AsError(err)
	}

	resp := s.respond(req.Dyad, gen.cached, types.CacheMiss, start)
	s.decision(ctx, logger, requestID, key, resp, gen.resolution, gen.result.Valid, shared)
	return resp, nil
}

func (s *Service) lookup(ctx context.Context, logger *zap.Logger, cacheKey string) (types.CachedResponse, bool) {
	var cached types.CachedResponse

	b, hit, err := s.store.Get(ctx, cacheKey)
	if err != nil {
		logger.Warn("cache_get_error", zap.Error(err))
		return cached, false
	}
	if !hit {
		return cached, false
	}
	if err := json.Unmarshal(b, &cached); err != nil {
		logger.Warn("cache_unmarshal_error", zap.Error(err))
		return cached, false
	}
	return cached, true
}

func (s *Service) generate(
	ctx context.Context,
	logger *zap.Logger,
	requestID string,
	req *types.ReasoningRequest,
	cacheKey string,
) (*generation, error) {
	dyad := string(req.Dyad)

	if err := s.backend.Health(ctx); err != nil {
		s.backendFailed(ctx, requestID, dyad, "", StageProbe, err)
		return nil, backendUnavailable(err)
	}

	res, err := s.resolver.Resolve(ctx, req.Model)
	if err != nil {
		s.backendFailed(ctx, requestID, dyad, "", StageResolve, err)
		return nil, modelUnavailable(err)
	}
	if res.FallbackOccurred {
		capitan.Info(ctx, ModelFallback,
			RequestIDKey.Field(requestID),
			HintKey.Field(s.resolver.Hint()),
			ModelKey.Field(res.Model),
			FallbackReasonKey.Field(res.FallbackReason),
		)
	}

	user, err := s.templates.UserMessage(req)
	if err != nil {
		return nil, internalError("build prompt", err)
	}

	chatStart := s.now()
	out, err := s.backend.Chat(ctx, &llm.ChatRequest{
		Model: res.Model,
		Messages: []llm.ChatMessage{
			{Role: llm.RoleSystem, Content: s.templates.SystemMessage()},
			{Role: llm.RoleUser, Content: user},
		},
		Temperature: s.temperature,
	})
	metrics.BackendLatencySeconds.WithLabelValues(res.Model).Observe(s.now().Sub(chatStart).Seconds())
	if err != nil {
		s.backendFailed(ctx, requestID, dyad, res.Model, StageChat, err)
		if llm.KindOf(err) == llm.KindTimeout || errors.Is(err, context.DeadlineExceeded) {
			return nil, timeoutError(err)
		}
		return nil, backendError(err)
	}

	result := validator.FromModelText(out.Content)
	if result.ParseErr != nil {
		logger.Warn("model_output_unparseable",
			zap.String("model", res.Model),
			zap.Error(result.ParseErr),
		)
		capitan.Error(ctx, ResponseParseFailed,
			RequestIDKey.Field(requestID),
			DyadKey.Field(dyad),
			ModelKey.Field(res.Model),
			ResponseKey.Field(clip(out.Content, 500)),
			ErrorKey.Field(result.ParseErr.Error()),
		)
	} else if len(result.Warnings) > 0 {
		logger.Info("model_output_sanitized",
			zap.String("model", res.Model),
			zap.Strings("warnings", result.Warnings),
		)
	}

	gen := &generation{
		cached: types.CachedResponse{
			Tips:            result.Tips,
			Rationale:       result.Rationale,
			MetricOverrides: result.MetricOverrides,
			ModelUsed:       res.Model,
		},
		result:     result,
		resolution: res,
	}
	s.lastModel.Store(res.Model)

	if cacheKey != "" {
		if b, err := json.Marshal(gen.cached); err != nil {
			logger.Warn("cache_marshal_error", zap.Error(err))
		} else if err := s.store.Set(ctx, cacheKey, b); err != nil {
			logger.Warn("cache_set_error", zap.Error(err))
		}
	}
	return gen, nil
}

func (s *Service) respond(dyad types.Dyad, cached types.CachedResponse, status string, start time.Time) *types.ReasoningResponse {
	elapsed := s.now().Sub(start)
	tips := cached.Tips
	if tips == nil {
		tips = []string{}
	}
	return &types.ReasoningResponse{
		Tips:            tips,
		Rationale:       cached.Rationale,
		MetricOverrides: cached.MetricOverrides,
		ModelUsed:       cached.ModelUsed,
		ResponseTime:    math.Round(elapsed.Seconds()*100) / 100,
		ResponseTimeMS:  elapsed.Milliseconds(),
		Dyad:            dyad,
		CacheStatus:     status,
	}
}

// decision logs the reason_decision line and emits RequestCompleted.
func (s *Service) decision(
	ctx context.Context,
	logger *zap.Logger,
	requestID string,
	key cache.Key,
	resp *types.ReasoningResponse,
	res resolver.Resolution,
	valid bool,
	shared bool,
) {
	logger.Info("reason_decision",
		zap.String("model", resp.ModelUsed),
		zap.String("cache_status", resp.CacheStatus),
		zap.Int64("latency_ms", resp.ResponseTimeMS),
		zap.Bool("fallback", res.FallbackOccurred),
		zap.Bool("explicit_model", res.Requested),
		zap.String("fingerprint", key.Hash),
		zap.String("prompt_version", key.PromptVersion),
		zap.Bool("valid", valid),
		zap.Bool("coalesced", shared),
		zap.Int("tips", len(resp.Tips)),
	)

	capitan.Info(ctx, RequestCompleted,
		RequestIDKey.Field(requestID),
		DyadKey.Field(string(resp.Dyad)),
		ModelKey.Field(resp.ModelUsed),
		CacheStatusKey.Field(resp.CacheStatus),
		FingerprintKey.Field(key.Hash),
		DurationMsKey.Field(int(resp.ResponseTimeMS)),
		TipCountKey.Field(len(resp.Tips)),
	)
}

func (s *Service) backendFailed(ctx context.Context, requestID, dyad, model, stage string, err error) {
	s.logger.Warn("backend_failed",
		zap.String("reason_id", requestID),
		zap.String("stage", stage),
		zap.String("model", model),
		zap.Error(err),
	)
	capitan.Error(ctx, BackendFailed,
		RequestIDKey.Field(requestID),
		DyadKey.Field(dyad),
		ModelKey.Field(model),
		StageKey.Field(stage),
		ErrorKey.Field(err.Error()),
	)
}

// LastModel is the model used by the most recent backend call, or "".
func (s *Service) LastModel() string {
	m, _ := s.lastModel.Load().(string)
	return m
}

// Health probes the backend. The service itself is always up; a failed
// probe reports degraded.
func (s *Service) Health(ctx context.Context) types.HealthResponse {
	err := s.backend.Health(ctx)
	status := types.StatusHealthy
	if err != nil {
		status = types.StatusDegraded
	}
	return types.HealthResponse{
		Status:           status,
		BackendConnected: err == nil,
		Timestamp:        s.now().UTC(),
	}
}

// Status reports the model policy, the last resolution and cache stats.
func (s *Service) Status(ctx context.Context) types.StatusResponse {
	st := types.StatusResponse{
		ModelHint:     s.resolver.Hint(),
		ModelUsed:     s.LastModel(),
		AllowFallback: s.resolver.AllowFallback(),
		EndpointHost:  s.endpointHost,
	}
	if last, ok := s.resolver.Last(); ok {
		st.FallbackOccurred = last.FallbackOccurred
		st.FallbackReason = last.FallbackReason
	}
	stats, err := s.store.Stats(ctx)
	if err != nil {
		s.logger.Warn("cache_stats_error", zap.Error(err))
	}
	st.Cache = stats
	return st
}

// Models lists the backend catalog. Failure is reported as
// backend_unavailable.
func (s *Service) Models(ctx context.Context) (types.ModelsResponse, error) {
	names, err := s.backend.ModelNames(ctx)
	if err != nil {
		return types.ModelsResponse{Models: []string{}}, backendUnavailable(err)
	}
	if names == nil {
		names = []string{}
	}
	return types.ModelsResponse{Models: names, Available: true}, nil
}

func (s *Service) CacheStats(ctx context.Context) (types.CacheStats, error) {
	stats, err := s.store.Stats(ctx)
	if err != nil {
		return stats, internalError("read cache stats", err)
	}
	return stats, nil
}

func (s *Service) ClearCache(ctx context.Context) error {
	if err := s.store.Clear(ctx); err != nil {
		return internalError("clear cache", err)
	}
	s.logger.Info("cache cleared")
	return nil
}

// clip keeps at most n bytes of s, cut on a rune boundary.
func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return fmt.Sprintf("%s... (%d bytes)", s[:cut], len(s))
}
