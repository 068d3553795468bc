// Package config loads the reasoner configuration: defaults, then an
// optional YAML file, then environment variables.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all reasoner service configuration.
type Config struct {
	Port        int          `yaml:"port"`
	Env         string       `yaml:"env"`
	LogLevel    string       `yaml:"log_level"`
	PromptsPath string       `yaml:"prompts_path"`
	Ollama      OllamaConfig `yaml:"ollama"`
	Cache       CacheConfig  `yaml:"cache"`
	Server      ServerConfig `yaml:"server"`
}

// OllamaConfig describes the LLM backend and model policy.
type OllamaConfig struct {
	Host          string        `yaml:"host"`
	ModelHint     string        `yaml:"model_hint"`
	AllowFallback bool          `yaml:"allow_fallback"`
	Temperature   float64       `yaml:"temperature"`
	Timeout       time.Duration `yaml:"timeout"`
}

// CacheConfig controls the response cache.
type CacheConfig struct {
	Backend     string        `yaml:"backend"`
	TTL         time.Duration `yaml:"ttl"`
	MaxSize     int           `yaml:"max_size"`
	RedisAddr   string        `yaml:"redis_addr"`
	RedisPrefix string        `yaml:"redis_prefix"`
}

// ServerConfig holds HTTP surface settings.
type ServerConfig struct {
	Token          string        `yaml:"token"`
	RateLimitRPS   float64       `yaml:"rate_limit_rps"`
	RateLimitBurst int           `yaml:"rate_limit_burst"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	MaxBodyBytes   int64         `yaml:"max_body_bytes"`
}

// Default returns a Config with the documented defaults. RequestTimeout is
// left zero and derived from the backend timeout by Load.
func Default() *Config {
	return &Config{
		Port: 5001,
		Ollama: OllamaConfig{
			Host:          "http://localhost:11434",
			ModelHint:     "llama3.2:3b",
			AllowFallback: true,
			Temperature:   0.2,
			Timeout:       60 * time.Second,
		},
		Cache: CacheConfig{
			Backend:     "memory",
			TTL:         300 * time.Second,
			MaxSize:     256,
			RedisAddr:   "127.0.0.1:6379",
			RedisPrefix: "reasoner",
		},
		Server: ServerConfig{
			RateLimitBurst: 10,
			MaxBodyBytes:   256 * 1024,
		},
	}
}

// Load builds the configuration. path may be empty, in which case only
// defaults and the environment apply.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	cfg.applyEnv()
	if cfg.Server.RequestTimeout <= 0 {
		cfg.Server.RequestTimeout = cfg.Ollama.Timeout + 5*time.Second
	}
	cfg.Ollama.Host = strings.TrimRight(cfg.Ollama.Host, "/")
	cfg.Cache.Backend = strings.ToLower(strings.TrimSpace(cfg.Cache.Backend))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Port = getEnvInt("PORT", c.Port)
	c.Env = getEnv("ENV", c.Env)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.PromptsPath = getEnv("REASONER_PROMPTS", c.PromptsPath)

	c.Ollama.Host = getEnv("OLLAMA_HOST", c.Ollama.Host)
	c.Ollama.ModelHint = getEnv("REASONER_MODEL_HINT", c.Ollama.ModelHint)
	c.Ollama.AllowFallback = getEnvBool("REASONER_ALLOW_FALLBACK", c.Ollama.AllowFallback)
	c.Ollama.Temperature = getEnvFloat("REASONER_TEMP", c.Ollama.Temperature)
	c.Ollama.Timeout = getEnvDuration("REASONER_TIMEOUT", c.Ollama.Timeout)

	c.Cache.Backend = getEnv("CACHE_BACKEND", c.Cache.Backend)
	c.Cache.TTL = getEnvDuration("REASONER_CACHE_TTL_S", c.Cache.TTL)
	c.Cache.MaxSize = getEnvInt("REASONER_CACHE_MAX", c.Cache.MaxSize)
	c.Cache.RedisAddr = getEnv("REDIS_ADDR", c.Cache.RedisAddr)
	c.Cache.RedisPrefix = getEnv("REDIS_PREFIX", c.Cache.RedisPrefix)

	c.Server.Token = getEnv("REASONER_TOKEN", c.Server.Token)
	c.Server.RateLimitRPS = getEnvFloat("RATE_LIMIT_RPS", c.Server.RateLimitRPS)
	c.Server.RateLimitBurst = getEnvInt("RATE_LIMIT_BURST", c.Server.RateLimitBurst)
	c.Server.RequestTimeout = getEnvDuration("REQUEST_TIMEOUT", c.Server.RequestTimeout)
}

// Validate rejects values the service cannot run with. A zero cache TTL or
// size is allowed and disables the cache.
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("config: port %d out of range", c.Port)
	}

	u, err := url.Parse(c.Ollama.Host)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("config: ollama host must be an http(s) URL, got %q", c.Ollama.Host)
	}
	if c.Ollama.Temperature < 0 || c.Ollama.Temperature > 2 {
		return fmt.Errorf("config: temperature %.2f out of range [0, 2]", c.Ollama.Temperature)
	}
	if c.Ollama.Timeout <= 0 {
		return fmt.Errorf("config: backend timeout must be positive")
	}

	switch c.Cache.Backend {
	case "", "memory":
	case "redis":
		if c.Cache.RedisAddr == "" {
			return fmt.Errorf("config: redis cache backend needs a redis address")
		}
	default:
		return fmt.Errorf("config: unknown cache backend %q", c.Cache.Backend)
	}
	if c.Cache.MaxSize < 0 {
		return fmt.Errorf("config: cache max size must not be negative")
	}

	if c.Server.RateLimitRPS < 0 {
		return fmt.Errorf("config: rate limit must not be negative")
	}
	if c.Server.RateLimitRPS > 0 && c.Server.RateLimitBurst < 1 {
		return fmt.Errorf("config: rate limit burst must be at least 1")
	}
	if c.Server.MaxBodyBytes <= 0 {
		return fmt.Errorf("config: max body size must be positive")
	}
	return nil
}

// Addr is the listen address for the HTTP server.
func (c *Config) Addr() string {
	return ":" + strconv.Itoa(c.Port)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

// getEnvDuration reads seconds, fractional allowed.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return time.Duration(floatVal * float64(time.Second))
		}
	}
	return defaultValue
}
