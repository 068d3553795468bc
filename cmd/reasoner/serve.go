package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"dyad-reasoner/internal/cache"
	"dyad-reasoner/internal/config"
	"dyad-reasoner/internal/handlers"
	"dyad-reasoner/internal/httpserver"
	"dyad-reasoner/internal/llm"
	"dyad-reasoner/internal/metrics"
	"dyad-reasoner/internal/prompts"
	"dyad-reasoner/internal/reasoner"
	"dyad-reasoner/internal/resolver"
	"dyad-reasoner/pkg/logging"
)

func newServeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP reasoning service",
		RunE: func(cmd *cobra.Command, args []string) error {
			if configPath == "" {
				configPath = os.Getenv("REASONER_CONFIG")
			}
			return runServe(configPath)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "path to a YAML config file (env REASONER_CONFIG)")
	return cmd
}

func runServe(configPath string) error {
	// ----- Config -----
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	// ----- Logger -----
	logger, err := logging.Build(cfg.Env, cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	// ----- Metrics -----
	metrics.Register()
	stopObserving := reasoner.ObserveMetrics()
	defer stopObserving()

	logger.Info("loaded config",
		zap.Int("port", cfg.Port),
		zap.String("ollama_host", cfg.Ollama.Host),
		zap.String("model_hint", cfg.Ollama.ModelHint),
		zap.Bool("allow_fallback", cfg.Ollama.AllowFallback),
		zap.Duration("backend_timeout", cfg.Ollama.Timeout),
		zap.String("cache_backend", cfg.Cache.Backend),
		zap.Duration("cache_ttl", cfg.Cache.TTL),
		zap.Int("cache_max", cfg.Cache.MaxSize),
		zap.Bool("auth_enabled", cfg.Server.Token != ""),
	)

	// ----- Redis client (only if needed) -----
	var redisClient *redis.Client
	if cfg.Cache.Backend == "redis" {
		redisClient = redis.NewClient(&redis.Options{
			Addr: cfg.Cache.RedisAddr,
		})
		defer func() { _ = redisClient.Close() }()

		pingCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		err := redisClient.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			logger.Error("redis connection failed", zap.Error(err))
			return err
		}
		logger.Info("redis connection established", zap.String("addr", cfg.Cache.RedisAddr))
	}

	// ----- Response cache -----
	store, err := cache.NewStore(cache.Config{
		Backend: cfg.Cache.Backend,
		TTL:     cfg.Cache.TTL,
		MaxSize: cfg.Cache.MaxSize,
		Prefix:  cfg.Cache.RedisPrefix,
	}, redisClient)
	if err != nil {
		return err
	}
	store = cache.NewLoggingStore(store)

	// ----- LLM backend -----
	backend, err := llm.NewClient(llm.Config{
		BaseURL:     cfg.Ollama.Host,
		ChatTimeout: cfg.Ollama.Timeout,
	}, logger)
	if err != nil {
		return err
	}
	defer func() { _ = backend.Close() }()

	// ----- Prompts -----
	templates, err := prompts.Load(cfg.PromptsPath)
	if err != nil {
		return err
	}

	// ----- Orchestrator -----
	svc, err := reasoner.New(reasoner.Options{
		Backend: backend,
		Resolver: resolver.New(resolver.Config{
			Hint:          cfg.Ollama.ModelHint,
			AllowFallback: cfg.Ollama.AllowFallback,
		}, backend, logger),
		Store:        store,
		Templates:    templates,
		Temperature:  cfg.Ollama.Temperature,
		EndpointHost: backend.Host(),
		Logger:       logger,
	})
	if err != nil {
		return err
	}

	// ----- Router + middleware -----
	r := chi.NewRouter()
	httpserver.SetupRouter(r, logger, handlers.NewReasonHandler(svc), httpserver.Options{
		Token:          cfg.Server.Token,
		RateLimitRPS:   cfg.Server.RateLimitRPS,
		RateLimitBurst: cfg.Server.RateLimitBurst,
		RequestTimeout: cfg.Server.RequestTimeout,
		MaxBodyBytes:   cfg.Server.MaxBodyBytes,
	})

	// ----- HTTP server -----
	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      cfg.Server.RequestTimeout + 5*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	logger.Info("starting reasoner",
		zap.String("addr", srv.Addr),
		zap.String("prompt_version", templates.Version),
		zap.String("version", version),
	)

	serveErr := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	// ----- Graceful shutdown -----
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serveErr:
		logger.Error("server error", zap.Error(err))
		return err
	case <-stop:
		logger.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
		return err
	}

	logger.Info("server shutdown complete")
	return nil
}
