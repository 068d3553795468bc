package llm

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// ListModels fetches the backend catalog from /api/tags. The result is never
// cached; each call costs one round trip.
func (c *Client) ListModels(parentCtx context.Context) ([]Model, error) {
	ctx, cancel := context.WithTimeout(parentCtx, c.cfg.ProbeTimeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"/api/tags", nil)
	if err != nil {
		return nil, &ClientError{Kind: KindInvalidRequest, Op: "tags", Message: "build HTTP request", Err: err}
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, transportError("tags", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, statusError("tags", resp)
	}

	var tags providerTagsResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseSize)).Decode(&tags); err != nil {
		return nil, &ClientError{Kind: KindInvalidResponse, Op: "tags", Message: "decode model list", Err: err}
	}

	models := make([]Model, 0, len(tags.Models))
	for _, m := range tags.Models {
		name := m.Name
		if name == "" {
			name = m.Model
		}
		if name == "" {
			continue
		}
		models = append(models, Model{Name: name, Size: m.Size, ModifiedAt: m.ModifiedAt})
	}
	return models, nil
}

// ModelNames returns the catalog as names, in backend order.
func (c *Client) ModelNames(ctx context.Context) ([]string, error) {
	models, err := c.ListModels(ctx)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(models))
	for i, m := range models {
		names[i] = m.Name
	}
	return names, nil
}

// Health reports whether the backend answers its catalog endpoint.
func (c *Client) Health(ctx context.Context) error {
	start := time.Now()
	_, err := c.ListModels(ctx)
	if err != nil {
		c.logger.Warn("llm health probe failed",
			zap.Duration("duration", time.Since(start)),
			zap.Error(err),
		)
	}
	return err
}
