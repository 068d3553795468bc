package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	maxRequestSize  = 2 * 1024 * 1024 // 2MB total JSON payload
	maxMessageSize  = 512 * 1024      // 512KB per message content
	maxResponseSize = 4 * 1024 * 1024
)

// Chat sends a non-streaming chat request to /api/chat and returns the
// assistant message content.
func (c *Client) Chat(parentCtx context.Context, req *ChatRequest) (*ChatResponse, error) {
	start := time.Now()

	if req == nil {
		return nil, &ClientError{Kind: KindInvalidRequest, Op: "chat", Message: "request is nil"}
	}
	if err := req.Validate(); err != nil {
		return nil, &ClientError{Kind: KindInvalidRequest, Op: "chat", Message: "invalid request", Err: err}
	}
	for i, m := range req.Messages {
		if len(m.Content) > maxMessageSize {
			return nil, &ClientError{
				Kind:    KindInvalidRequest,
				Op:      "chat",
				Message: fmt.Sprintf("message[%d] content too large (%d bytes, max %d)", i, len(m.Content), maxMessageSize),
			}
		}
	}

	ctx, cancel := context.WithTimeout(parentCtx, c.cfg.ChatTimeout)
	defer cancel()

	bodyBytes, err := json.Marshal(providerChatRequest{
		Model:       req.Model,
		Messages:    req.Messages,
		Temperature: req.Temperature,
		Stream:      false,
		Options:     providerOptions{Temperature: req.Temperature},
	})
	if err != nil {
		return nil, &ClientError{Kind: KindInvalidRequest, Op: "chat", Message: "marshal request", Err: err}
	}
	if len(bodyBytes) > maxRequestSize {
		return nil, &ClientError{
			Kind:    KindInvalidRequest,
			Op:      "chat",
			Message: fmt.Sprintf("request too large (%d bytes, max %d)", len(bodyBytes), maxRequestSize),
		}
	}

	c.logger.Debug("llm request starting",
		zap.String("model", req.Model),
		zap.Int("message_count", len(req.Messages)),
		zap.Int("bytes", len(bodyBytes)),
	)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/api/chat", bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, &ClientError{Kind: KindInvalidRequest, Op: "chat", Message: "build HTTP request", Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		cerr := transportError("chat", err)
		c.logger.Error("llm request failed",
			zap.String("model", req.Model),
			zap.String("kind", cerr.Kind.String()),
			zap.Duration("duration", time.Since(start)),
			zap.Error(err),
		)
		return nil, cerr
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		cerr := statusError("chat", resp)
		c.logger.Error("llm upstream error",
			zap.String("model", req.Model),
			zap.Int("status", resp.StatusCode),
			zap.String("message", cerr.Message),
		)
		return nil, cerr
	}

	var pResp providerChatResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseSize)).Decode(&pResp); err != nil {
		if ctx.Err() != nil {
			return nil, transportError("chat", ctx.Err())
		}
		return nil, &ClientError{Kind: KindInvalidResponse, Op: "chat", Message: "decode upstream response", Err: err}
	}
	out := &ChatResponse{
		Model:         pResp.Model,
		Content:       pResp.Message.Content,
		TotalDuration: time.Duration(pResp.TotalDuration),
		EvalCount:     pResp.EvalCount,
	}
	if out.Model == "" {
		out.Model = req.Model
	}

	c.logger.Info("llm request completed",
		zap.String("model", out.Model),
		zap.Int("eval_count", out.EvalCount),
		zap.Duration("duration", time.Since(start)),
	)
	return out, nil
}

// statusError reads an error body, preferring Ollama's {"error": "..."} shape.
func statusError(op string, resp *http.Response) *ClientError {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))

	msg := truncate(strings.TrimSpace(string(body)), 200)
	var perr providerErrorResponse
	if err := json.Unmarshal(body, &perr); err == nil && perr.Error != "" {
		msg = perr.Error
	}
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	return &ClientError{Kind: KindStatus, Op: op, StatusCode: resp.StatusCode, Message: msg}
}

// truncate limits string length for logging
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
