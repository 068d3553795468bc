package reasoner

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/zoobzio/capitan"
	"go.uber.org/zap/zaptest"

	"dyad-reasoner/internal/cache"
	"dyad-reasoner/internal/llm"
	"dyad-reasoner/internal/prompts"
	"dyad-reasoner/internal/resolver"
	"dyad-reasoner/internal/validator"
	"dyad-reasoner/pkg/logging"
	"dyad-reasoner/pkg/types"
)

const goodOutput = "```json\n" + `{"tips":["Dim the lights 30 minutes before bed.","Keep the wake-up routine boring."],"rationale":"Frequent night wakes after late screens.","metric_overrides":{"escalation_index":1.7}}` + "\n```"

type fakeBackend struct {
	mu sync.Mutex

	models     []string
	catalogErr error
	healthErr  error
	chatErr    error
	content    string

	healthCalls int
	chatCalls   int
	lastChat    *llm.ChatRequest

	entered chan struct{}
	block   chan struct{}
}

func (f *fakeBackend) ModelNames(context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.models, f.catalogErr
}

func (f *fakeBackend) Health(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.healthCalls++
	return f.healthErr
}

func (f *fakeBackend) Chat(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	f.mu.Lock()
	f.chatCalls++
	f.lastChat = req
	entered, block := f.entered, f.block
	err, content := f.chatErr, f.content
	f.mu.Unlock()

	if entered != nil {
		select {
		case entered <- struct{}{}:
		default:
		}
	}
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	return &llm.ChatResponse{Model: req.Model, Content: content}, nil
}

func (f *fakeBackend) calls() (health, chat int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.healthCalls, f.chatCalls
}

type serviceOpts struct {
	hint          string
	allowFallback bool
	cacheSize     int
	cacheTTL      time.Duration
}

func newTestService(t *testing.T, fb *fakeBackend, o serviceOpts) *Service {
	t.Helper()
	if o.hint == "" {
		o.hint = "llama3.2:3b"
	}
	if o.cacheSize == 0 {
		o.cacheSize = 16
	}
	if o.cacheTTL == 0 {
		o.cacheTTL = time.Minute
	}
	logger := zaptest.NewLogger(t)

	tmpl, err := prompts.Default()
	if err != nil {
		t.Fatalf("prompts.Default: %v", err)
	}
	svc, err := New(Options{
		Backend:      fb,
		Resolver:     resolver.New(resolver.Config{Hint: o.hint, AllowFallback: o.allowFallback}, fb, logger),
		Store:        cache.NewMemoryStore(o.cacheSize, o.cacheTTL),
		Templates:    tmpl,
		Temperature:  0.2,
		EndpointHost: "ollama.test:11434",
		Logger:       logger,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return svc
}

func testCtx(t *testing.T) context.Context {
	return logging.WithLogger(context.Background(), zaptest.NewLogger(t))
}

func nightRequest() *types.ReasoningRequest {
	return &types.ReasoningRequest{
		Dyad:     "Night",
		Features: types.Features{"wake_count": 3, "raw_audio_data": 1},
		Context:  types.Context{"bedtime": "21:30"},
		Metrics:  types.Metrics{"sleep_minutes": 410},
	}
}

func requireCode(t *testing.T, err error, code string, status int) {
	t.Helper()
	var rerr *Error
	if !errors.As(err, &rerr) {
		t.Fatalf("expected *Error, got %v", err)
	}
	if rerr.Code != code || rerr.Status != status {
		t.Fatalf("error = %s/%d, want %s/%d (%v)", rerr.Code, rerr.Status, code, status, err)
	}
}

func TestNew(t *testing.T) {
	if _, err := New(Options{}); err == nil {
		t.Fatalf("expected error for missing dependencies")
	}
}

func TestReasonMissThenHit(t *testing.T) {
	fb := &fakeBackend{models: []string{"llama3.2:3b"}, content: goodOutput}
	svc := newTestService(t, fb, serviceOpts{})
	ctx := testCtx(t)

	first, err := svc.Reason(ctx, nightRequest())
	if err != nil {
		t.Fatalf("first Reason: %v", err)
	}
	if first.CacheStatus != types.CacheMiss {
		t.Fatalf("first cache status = %s", first.CacheStatus)
	}
	if first.Dyad != types.DyadNight || first.ModelUsed != "llama3.2:3b" {
		t.Fatalf("unexpected response %+v", first)
	}
	if len(first.Tips) != 2 || first.Rationale != "Frequent night wakes after late screens." {
		t.Fatalf("unexpected tips/rationale %+v", first)
	}
	if got := first.MetricOverrides["escalation_index"]; got != 1 {
		t.Fatalf("escalation_index = %v, want clamped 1", got)
	}

	// History and explicit model do not change the fingerprint.
	again := nightRequest()
	again.History = []types.HistoryItem{{"summary": "rough night"}}
	second, err := svc.Reason(ctx, again)
	if err != nil {
		t.Fatalf("second Reason: %v", err)
	}
	if second.CacheStatus != types.CacheHit {
		t.Fatalf("second cache status = %s", second.CacheStatus)
	}
	if strings.Join(second.Tips, "|") != strings.Join(first.Tips, "|") || second.ModelUsed != first.ModelUsed {
		t.Fatalf("hit differs from miss: %+v vs %+v", second, first)
	}
	if health, chat := fb.calls(); health != 1 || chat != 1 {
		t.Fatalf("backend calls health=%d chat=%d, want 1/1", health, chat)
	}
	if svc.LastModel() != "llama3.2:3b" {
		t.Fatalf("LastModel = %q", svc.LastModel())
	}
}

func TestReasonBuildsRedactedPrompt(t *testing.T) {
	fb := &fakeBackend{models: []string{"llama3.2:3b"}, content: goodOutput}
	svc := newTestService(t, fb, serviceOpts{})

	req := nightRequest()
	req.Context = types.Context{
		"child_name": "Maya",
		"note":       "call me at 555-123-4567 or mom@example.com",
	}
	req.History = []types.HistoryItem{
		{"summary": "1"}, {"summary": "2"}, {"summary": "3"}, {"summary": "fourth-item"},
	}
	if _, err := svc.Reason(testCtx(t), req); err != nil {
		t.Fatalf("Reason: %v", err)
	}

	fb.mu.Lock()
	chat := fb.lastChat
	fb.mu.Unlock()
	if chat == nil || len(chat.Messages) != 2 {
		t.Fatalf("unexpected chat request %+v", chat)
	}
	if chat.Messages[0].Role != llm.RoleSystem || chat.Messages[1].Role != llm.RoleUser {
		t.Fatalf("unexpected roles %+v", chat.Messages)
	}
	if chat.Temperature != 0.2 {
		t.Fatalf("temperature = %v", chat.Temperature)
	}
	user := chat.Messages[1].Content
	for _, leaked := range []string{"Maya", "555-123-4567", "mom@example.com", "raw_audio_data", "fourth-item"} {
		if strings.Contains(user, leaked) {
			t.Fatalf("user message leaks %q:\n%s", leaked, user)
		}
	}
}

func TestReasonInvalidRequest(t *testing.T) {
	fb := &fakeBackend{models: []string{"llama3.2:3b"}, content: goodOutput}
	svc := newTestService(t, fb, serviceOpts{})

	_, err := svc.Reason(testCtx(t), &types.ReasoningRequest{Dyad: "bath"})
	requireCode(t, err, types.CodeInvalidRequest, http.StatusBadRequest)
	if health, chat := fb.calls(); health != 0 || chat != 0 {
		t.Fatalf("invalid request reached the backend (%d/%d)", health, chat)
	}
}

func TestReasonBackendUnavailable(t *testing.T) {
	fb := &fakeBackend{healthErr: errors.New("connection refused")}
	svc := newTestService(t, fb, serviceOpts{})

	_, err := svc.Reason(testCtx(t), nightRequest())
	requireCode(t, err, types.CodeBackendUnavailable, http.StatusServiceUnavailable)
	if _, chat := fb.calls(); chat != 0 {
		t.Fatalf("chat called after failed probe")
	}
}

func TestReasonModelUnavailable(t *testing.T) {
	fb := &fakeBackend{models: []string{"mistral:7b"}, content: goodOutput}
	svc := newTestService(t, fb, serviceOpts{allowFallback: false})

	_, err := svc.Reason(testCtx(t), nightRequest())
	requireCode(t, err, types.CodeModelUnavailable, http.StatusServiceUnavailable)
	if _, chat := fb.calls(); chat != 0 {
		t.Fatalf("chat called without a model")
	}
}

func TestReasonFallbackModel(t *testing.T) {
	fb := &fakeBackend{models: []string{"fallback-test:1b", "phi3:mini"}, content: goodOutput}
	svc := newTestService(t, fb, serviceOpts{allowFallback: true})

	got := make(chan string, 1)
	listener := capitan.Hook(ModelFallback, func(_ context.Context, e *capitan.Event) {
		if m, _ := ModelKey.From(e); m == "fallback-test:1b" {
			hint, _ := HintKey.From(e)
			select {
			case got <- hint:
			default:
			}
		}
	})
	defer listener.Close()

	resp, err := svc.Reason(testCtx(t), nightRequest())
	if err != nil {
		t.Fatalf("Reason: %v", err)
	}
	if resp.ModelUsed != "fallback-test:1b" {
		t.Fatalf("model used = %q", resp.ModelUsed)
	}

	st := svc.Status(context.Background())
	if !st.FallbackOccurred || st.FallbackReason == "" || st.ModelUsed != "fallback-test:1b" {
		t.Fatalf("status does not report fallback: %+v", st)
	}
	if st.ModelHint != "llama3.2:3b" || !st.AllowFallback || st.EndpointHost != "ollama.test:11434" {
		t.Fatalf("unexpected status %+v", st)
	}

	select {
	case hint := <-got:
		if hint != "llama3.2:3b" {
			t.Fatalf("fallback signal hint = %q", hint)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("fallback signal not received")
	}
}

func TestReasonBackendErrors(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		code   string
		status int
	}{
		{"upstream status", &llm.ClientError{Kind: llm.KindStatus, Op: "chat", StatusCode: 500}, types.CodeBackendError, http.StatusBadGateway},
		{"upstream timeout", &llm.ClientError{Kind: llm.KindTimeout, Op: "chat"}, types.CodeTimeout, http.StatusGatewayTimeout},
		{"bare deadline", context.DeadlineExceeded, types.CodeTimeout, http.StatusGatewayTimeout},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			fb := &fakeBackend{models: []string{"llama3.2:3b"}, chatErr: tc.err}
			svc := newTestService(t, fb, serviceOpts{})

			_, err := svc.Reason(testCtx(t), nightRequest())
			requireCode(t, err, tc.code, tc.status)

			// Failures are not cached.
			fb.mu.Lock()
			fb.chatErr = nil
			fb.content = goodOutput
			fb.mu.Unlock()
			resp, err := svc.Reason(testCtx(t), nightRequest())
			if err != nil || resp.CacheStatus != types.CacheMiss {
				t.Fatalf("retry after failure = %+v, %v", resp, err)
			}
		})
	}
}

func TestReasonParseFailureFallsBack(t *testing.T) {
	fb := &fakeBackend{models: []string{"parse-test:1b"}, content: "Sure! Here are some tips: relax."}
	svc := newTestService(t, fb, serviceOpts{hint: "parse-test:1b"})

	got := make(chan string, 1)
	listener := capitan.Hook(ResponseParseFailed, func(_ context.Context, e *capitan.Event) {
		if m, _ := ModelKey.From(e); m == "parse-test:1b" {
			raw, _ := ResponseKey.From(e)
			select {
			case got <- raw:
			default:
			}
		}
	})
	defer listener.Close()

	resp, err := svc.Reason(testCtx(t), nightRequest())
	if err != nil {
		t.Fatalf("Reason: %v", err)
	}
	if len(resp.Tips) != 0 || resp.Tips == nil {
		t.Fatalf("tips = %#v, want empty non-nil", resp.Tips)
	}
	if !strings.HasPrefix(resp.Rationale, validator.FallbackRationale+". (Parse error:") {
		t.Fatalf("rationale = %q", resp.Rationale)
	}
	if n := len([]rune(resp.Rationale)); n > validator.MaxRationaleRunes {
		t.Fatalf("rationale has %d runes", n)
	}

	select {
	case raw := <-got:
		if !strings.Contains(raw, "Sure!") {
			t.Fatalf("parse signal response = %q", raw)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("parse failure signal not received")
	}
}

func TestReasonEmptyCompletionFallsBack(t *testing.T) {
	for _, content := range []string{"", "  \n\t"} {
		fb := &fakeBackend{models: []string{"llama3.2:3b"}, content: content}
		svc := newTestService(t, fb, serviceOpts{})

		resp, err := svc.Reason(testCtx(t), nightRequest())
		if err != nil {
			t.Fatalf("content %q: Reason: %v", content, err)
		}
		if resp.Tips == nil || len(resp.Tips) != 0 {
			t.Fatalf("content %q: tips = %#v, want empty non-nil", content, resp.Tips)
		}
		if !strings.HasPrefix(resp.Rationale, validator.FallbackRationale+". (Parse error:") {
			t.Fatalf("content %q: rationale = %q", content, resp.Rationale)
		}
		if resp.CacheStatus != types.CacheMiss || resp.ModelUsed != "llama3.2:3b" {
			t.Fatalf("content %q: unexpected response %+v", content, resp)
		}
	}
}

func TestReasonCoalescesConcurrentMisses(t *testing.T) {
	fb := &fakeBackend{
		models:  []string{"llama3.2:3b"},
		content: goodOutput,
		entered: make(chan struct{}, 1),
		block:   make(chan struct{}),
	}
	svc := newTestService(t, fb, serviceOpts{})
	ctx := testCtx(t)

	const callers = 8
	var wg sync.WaitGroup
	errs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.Reason(ctx, nightRequest()); err != nil {
				errs <- err
			}
		}()
	}

	<-fb.entered
	time.Sleep(50 * time.Millisecond)
	close(fb.block)
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Fatalf("Reason: %v", err)
	}
	if _, chat := fb.calls(); chat != 1 {
		t.Fatalf("chat calls = %d, want 1", chat)
	}
}

func TestReasonWaiterAbandonsOnOwnContext(t *testing.T) {
	fb := &fakeBackend{
		models:  []string{"llama3.2:3b"},
		content: goodOutput,
		entered: make(chan struct{}, 1),
		block:   make(chan struct{}),
	}
	svc := newTestService(t, fb, serviceOpts{})
	base := testCtx(t)

	ctx, cancel := context.WithTimeout(base, 30*time.Millisecond)
	defer cancel()
	_, err := svc.Reason(ctx, nightRequest())
	requireCode(t, err, types.CodeTimeout, http.StatusGatewayTimeout)

	// The shared call keeps going and fills the cache.
	close(fb.block)
	deadline := time.Now().Add(2 * time.Second)
	for {
		resp, err := svc.Reason(base, nightRequest())
		if err != nil {
			t.Fatalf("Reason: %v", err)
		}
		if resp.CacheStatus == types.CacheHit {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("abandoned work never reached the cache")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestReasonCacheDisabled(t *testing.T) {
	fb := &fakeBackend{models: []string{"llama3.2:3b"}, content: goodOutput}
	svc := newTestService(t, fb, serviceOpts{cacheTTL: -1})

	for i := 0; i < 2; i++ {
		resp, err := svc.Reason(testCtx(t), nightRequest())
		if err != nil {
			t.Fatalf("Reason: %v", err)
		}
		if resp.CacheStatus != types.CacheMiss {
			t.Fatalf("call %d: cache status = %s", i+1, resp.CacheStatus)
		}
	}
	if _, chat := fb.calls(); chat != 2 {
		t.Fatalf("chat calls = %d, want 2", chat)
	}
}

func TestHealthModelsAndCache(t *testing.T) {
	fb := &fakeBackend{models: []string{"llama3.2:3b", "mistral:7b"}, content: goodOutput}
	svc := newTestService(t, fb, serviceOpts{})
	ctx := testCtx(t)

	if h := svc.Health(ctx); h.Status != types.StatusHealthy || !h.BackendConnected {
		t.Fatalf("Health = %+v", h)
	}
	models, err := svc.Models(ctx)
	if err != nil || !models.Available || len(models.Models) != 2 {
		t.Fatalf("Models = %+v, %v", models, err)
	}

	if _, err := svc.Reason(ctx, nightRequest()); err != nil {
		t.Fatalf("Reason: %v", err)
	}
	stats, err := svc.CacheStats(ctx)
	if err != nil || stats.Size != 1 || stats.Misses != 1 {
		t.Fatalf("CacheStats = %+v, %v", stats, err)
	}
	if err := svc.ClearCache(ctx); err != nil {
		t.Fatalf("ClearCache: %v", err)
	}
	if stats, _ := svc.CacheStats(ctx); stats.Size != 0 || stats.Misses != 0 {
		t.Fatalf("stats after clear = %+v", stats)
	}

	fb.mu.Lock()
	fb.healthErr = errors.New("down")
	fb.catalogErr = errors.New("down")
	fb.mu.Unlock()
	if h := svc.Health(ctx); h.Status != types.StatusDegraded || h.BackendConnected {
		t.Fatalf("Health while down = %+v", h)
	}
	_, err = svc.Models(ctx)
	requireCode(t, err, types.CodeBackendUnavailable, http.StatusServiceUnavailable)
}

func TestClipKeepsRunesWhole(t *testing.T) {
	cases := []struct {
		in   string
		n    int
		want string
	}{
		{"short", 10, "short"},
		{"héllo", 2, "h... (6 bytes)"},
		{"héllo", 3, "hé... (6 bytes)"},
		{"😀😀", 5, "😀... (8 bytes)"},
	}
	for _, tc := range cases {
		got := clip(tc.in, tc.n)
		if got != tc.want {
			t.Errorf("clip(%q, %d) = %q, want %q", tc.in, tc.n, got, tc.want)
		}
		if !utf8.ValidString(got) {
			t.Errorf("clip(%q, %d) produced invalid UTF-8", tc.in, tc.n)
		}
	}
}
