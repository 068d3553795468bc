package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "reasoner.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != 5001 || cfg.Addr() != ":5001" {
		t.Errorf("port = %d", cfg.Port)
	}
	if cfg.Ollama.Host != "http://localhost:11434" || cfg.Ollama.ModelHint != "llama3.2:3b" {
		t.Errorf("unexpected ollama defaults %+v", cfg.Ollama)
	}
	if !cfg.Ollama.AllowFallback || cfg.Ollama.Temperature != 0.2 || cfg.Ollama.Timeout != 60*time.Second {
		t.Errorf("unexpected ollama defaults %+v", cfg.Ollama)
	}
	if cfg.Cache.Backend != "memory" || cfg.Cache.TTL != 300*time.Second || cfg.Cache.MaxSize != 256 {
		t.Errorf("unexpected cache defaults %+v", cfg.Cache)
	}
	if cfg.Server.RequestTimeout != 65*time.Second {
		t.Errorf("request timeout = %v, want backend timeout + 5s", cfg.Server.RequestTimeout)
	}
	if cfg.Server.Token != "" || cfg.Server.RateLimitRPS != 0 {
		t.Errorf("auth and rate limiting must be off by default: %+v", cfg.Server)
	}
}

func TestLoadFileExpandsEnv(t *testing.T) {
	t.Setenv("TEST_REASONER_TOKEN", "file-token")

	path := writeConfig(t, `
port: 6001
ollama:
  host: http://gpu-box:11434/
  model_hint: mistral:7b
  timeout: 20s
cache:
  backend: Redis
  ttl: 10m
  redis_prefix: dyad
server:
  token: ${TEST_REASONER_TOKEN}
  rate_limit_rps: 5
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != 6001 {
		t.Errorf("port = %d", cfg.Port)
	}
	if cfg.Ollama.Host != "http://gpu-box:11434" || cfg.Ollama.ModelHint != "mistral:7b" {
		t.Errorf("unexpected ollama config %+v", cfg.Ollama)
	}
	if !cfg.Ollama.AllowFallback {
		t.Errorf("fields absent from the file must keep their defaults")
	}
	if cfg.Cache.Backend != "redis" || cfg.Cache.TTL != 10*time.Minute || cfg.Cache.RedisPrefix != "dyad" {
		t.Errorf("unexpected cache config %+v", cfg.Cache)
	}
	if cfg.Server.Token != "file-token" {
		t.Errorf("env var not expanded: %q", cfg.Server.Token)
	}
	if cfg.Server.RequestTimeout != 25*time.Second {
		t.Errorf("request timeout = %v, want 25s", cfg.Server.RequestTimeout)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, `
port: 6001
ollama:
  model_hint: mistral:7b
  allow_fallback: true
cache:
  max_size: 10
`)
	t.Setenv("PORT", "7001")
	t.Setenv("REASONER_MODEL_HINT", "phi3:mini")
	t.Setenv("REASONER_ALLOW_FALLBACK", "false")
	t.Setenv("REASONER_TEMP", "0.7")
	t.Setenv("REASONER_TIMEOUT", "1.5")
	t.Setenv("REASONER_CACHE_TTL_S", "30")
	t.Setenv("REASONER_CACHE_MAX", "0")
	t.Setenv("RATE_LIMIT_RPS", "2.5")
	t.Setenv("RATE_LIMIT_BURST", "4")
	t.Setenv("REQUEST_TIMEOUT", "9")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != 7001 {
		t.Errorf("port = %d", cfg.Port)
	}
	if cfg.Ollama.ModelHint != "phi3:mini" || cfg.Ollama.AllowFallback || cfg.Ollama.Temperature != 0.7 {
		t.Errorf("unexpected ollama config %+v", cfg.Ollama)
	}
	if cfg.Ollama.Timeout != 1500*time.Millisecond {
		t.Errorf("backend timeout = %v", cfg.Ollama.Timeout)
	}
	if cfg.Cache.TTL != 30*time.Second || cfg.Cache.MaxSize != 0 {
		t.Errorf("unexpected cache config %+v", cfg.Cache)
	}
	if cfg.Server.RateLimitRPS != 2.5 || cfg.Server.RateLimitBurst != 4 || cfg.Server.RequestTimeout != 9*time.Second {
		t.Errorf("unexpected server config %+v", cfg.Server)
	}
}

func TestUnparseableEnvKeepsValue(t *testing.T) {
	t.Setenv("PORT", "not-a-port")
	t.Setenv("REASONER_ALLOW_FALLBACK", "maybe")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != 5001 || !cfg.Ollama.AllowFallback {
		t.Errorf("bad env values must be ignored: %+v", cfg)
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"port", func(c *Config) { c.Port = 70000 }, "port"},
		{"host scheme", func(c *Config) { c.Ollama.Host = "localhost:11434" }, "ollama host"},
		{"temperature", func(c *Config) { c.Ollama.Temperature = 3 }, "temperature"},
		{"timeout", func(c *Config) { c.Ollama.Timeout = 0 }, "timeout"},
		{"backend", func(c *Config) { c.Cache.Backend = "sqlite" }, "cache backend"},
		{"redis addr", func(c *Config) { c.Cache.Backend = "redis"; c.Cache.RedisAddr = "" }, "redis address"},
		{"burst", func(c *Config) { c.Server.RateLimitRPS = 1; c.Server.RateLimitBurst = 0 }, "burst"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("Validate() = %v, want error mentioning %q", err, tc.want)
			}
		})
	}

	if err := Default().Validate(); err != nil {
		t.Fatalf("defaults must validate: %v", err)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/reasoner.yaml"); err == nil {
		t.Fatal("expected error for missing file")
	}
}
