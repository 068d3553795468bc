package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"dyad-reasoner/internal/reasoner"
	"dyad-reasoner/pkg/logging"
	"dyad-reasoner/pkg/types"
)

// Reasoner is the service behind the HTTP surface.
type Reasoner interface {
	Reason(ctx context.Context, req *types.ReasoningRequest) (*types.ReasoningResponse, error)
	Health(ctx context.Context) types.HealthResponse
	Status(ctx context.Context) types.StatusResponse
	Models(ctx context.Context) (types.ModelsResponse, error)
	CacheStats(ctx context.Context) (types.CacheStats, error)
	ClearCache(ctx context.Context) error
}

// ReasonHandler serves every reasoner endpoint.
type ReasonHandler struct {
	Service Reasoner
}

func NewReasonHandler(svc Reasoner) *ReasonHandler {
	return &ReasonHandler{Service: svc}
}

// Reason handles POST /v1/reason.
func (h *ReasonHandler) Reason(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := logging.L(ctx)

	var req types.ReasoningRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.Warn("invalid request", zap.Error(err))
		writeError(w, http.StatusBadRequest, types.CodeInvalidRequest, decodeMessage(err))
		return
	}

	resp, err := h.Service.Reason(ctx, &req)
	if err != nil {
		rerr := reasoner.AsError(err)
		if rerr.Status >= http.StatusInternalServerError {
			logger.Error("reason failed", zap.String("code", rerr.Code), zap.Error(err))
		} else {
			logger.Info("reason rejected", zap.String("code", rerr.Code), zap.Error(err))
		}
		writeError(w, rerr.Status, rerr.Code, rerr.Message)
		return
	}

	w.Header().Set(types.CacheHeader, resp.CacheStatus)
	writeJSON(w, http.StatusOK, resp)
}

// Health handles GET /health. It answers 200 even when the backend is down;
// the body says degraded.
func (h *ReasonHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Service.Health(r.Context()))
}

// Status handles GET /status.
func (h *ReasonHandler) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Service.Status(r.Context()))
}

// Models handles GET /models.
func (h *ReasonHandler) Models(w http.ResponseWriter, r *http.Request) {
	models, err := h.Service.Models(r.Context())
	if err != nil {
		rerr := reasoner.AsError(err)
		logging.L(r.Context()).Warn("list models failed", zap.Error(err))
		writeError(w, rerr.Status, rerr.Code, rerr.Message)
		return
	}
	writeJSON(w, http.StatusOK, models)
}

// CacheStats handles GET /cache/stats.
func (h *ReasonHandler) CacheStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.Service.CacheStats(r.Context())
	if err != nil {
		rerr := reasoner.AsError(err)
		logging.L(r.Context()).Error("cache stats failed", zap.Error(err))
		writeError(w, rerr.Status, rerr.Code, rerr.Message)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// CacheClear handles POST /cache/clear.
func (h *ReasonHandler) CacheClear(w http.ResponseWriter, r *http.Request) {
	if err := h.Service.ClearCache(r.Context()); err != nil {
		rerr := reasoner.AsError(err)
		logging.L(r.Context()).Error("cache clear failed", zap.Error(err))
		writeError(w, rerr.Status, rerr.Code, rerr.Message)
		return
	}
	writeJSON(w, http.StatusOK, types.MessageResponse{Message: "Cache cleared successfully"})
}

func decodeMessage(err error) string {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit)
	}
	return "invalid JSON: " + err.Error()
}

// writeJSON sends v with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, types.ErrorResponse{Error: code, Message: message})
}
