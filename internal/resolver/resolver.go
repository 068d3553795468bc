// Package resolver picks the backend model for a request.
//
// Precedence, in order: an explicit model on the request is used as is; the
// configured hint is used when the live catalog lists it; otherwise the first
// catalog entry is used when fallback is allowed. A catalog that cannot be
// fetched does not block the request: the hint is used best-effort.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// ErrModelUnavailable means no usable model could be selected.
var ErrModelUnavailable = errors.New("model unavailable")

// Catalog lists the models the backend currently serves.
type Catalog interface {
	ModelNames(ctx context.Context) ([]string, error)
}

type Config struct {
	Hint          string
	AllowFallback bool
}

// Resolution describes how a model was chosen.
type Resolution struct {
	Model            string
	Requested        bool // explicit model on the request
	FallbackOccurred bool
	FallbackReason   string
	// CatalogKnown is false when the catalog could not be fetched and the
	// hint was used without checking it.
	CatalogKnown bool
}

type Resolver struct {
	cfg     Config
	catalog Catalog
	logger  *zap.Logger

	mu   sync.Mutex
	last *Resolution
}

func New(cfg Config, catalog Catalog, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{
		cfg:     cfg,
		catalog: catalog,
		logger:  logger.Named("resolver"),
	}
}

func (r *Resolver) Hint() string        { return r.cfg.Hint }
func (r *Resolver) AllowFallback() bool { return r.cfg.AllowFallback }

// Resolve picks a model. It returns an error wrapping ErrModelUnavailable when
// the hint is absent from the catalog and no fallback applies.
func (r *Resolver) Resolve(ctx context.Context, explicit string) (Resolution, error) {
	if explicit = strings.TrimSpace(explicit); explicit != "" {
		return r.remember(Resolution{Model: explicit, Requested: true}), nil
	}

	hint := r.cfg.Hint
	models, err := r.catalog.ModelNames(ctx)
	if err != nil {
		if hint == "" {
			return Resolution{}, fmt.Errorf("%w: no model hint and catalog failed: %v", ErrModelUnavailable, err)
		}
		r.logger.Warn("model catalog unavailable, using hint unchecked",
			zap.String("hint", hint),
			zap.Error(err),
		)
		return r.remember(Resolution{Model: hint}), nil
	}

	if hint != "" {
		if name, ok := match(models, hint); ok {
			return r.remember(Resolution{Model: name, CatalogKnown: true}), nil
		}
	}

	if !r.cfg.AllowFallback {
		return Resolution{}, fmt.Errorf("%w: %q is not installed and fallback is disabled", ErrModelUnavailable, hint)
	}
	if len(models) == 0 {
		return Resolution{}, fmt.Errorf("%w: backend reports no models", ErrModelUnavailable)
	}

	res := Resolution{
		Model:            models[0],
		FallbackOccurred: true,
		FallbackReason:   fmt.Sprintf("model %q not found; using %q", hint, models[0]),
		CatalogKnown:     true,
	}
	if hint == "" {
		res.FallbackReason = fmt.Sprintf("no model hint configured; using %q", models[0])
	}
	r.logger.Info("model fallback",
		zap.String("hint", hint),
		zap.String("model", res.Model),
	)
	return r.remember(res), nil
}

// Last returns the most recent successful resolution, if any.
func (r *Resolver) Last() (Resolution, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.last == nil {
		return Resolution{}, false
	}
	return *r.last, true
}

func (r *Resolver) remember(res Resolution) Resolution {
	r.mu.Lock()
	r.last = &res
	r.mu.Unlock()
	return res
}

// match finds hint in models. A hint without a tag also matches the same
// model under the :latest tag, which is how the backend lists untagged pulls.
func match(models []string, hint string) (string, bool) {
	for _, m := range models {
		if m == hint {
			return m, true
		}
	}
	if !strings.Contains(hint, ":") {
		latest := hint + ":latest"
		for _, m := range models {
			if m == latest {
				return m, true
			}
		}
	}
	return "", false
}
