package gateway

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/af-corp/relay-router/internal/auth"
	"github.com/af-corp/relay-router/internal/catalog"
	"github.com/af-corp/relay-router/internal/clock"
	"github.com/af-corp/relay-router/internal/config"
	"github.com/af-corp/relay-router/internal/router"
	"github.com/af-corp/relay-router/internal/router/adapters"
	"github.com/af-corp/relay-router/internal/types"
)

func testHandler(t *testing.T) (*Handler, map[string]*adapters.MockAdapter) {
	t.Helper()

	reg, err := catalog.FromConfig(&config.BackendsConfig{Backends: []config.BackendConfig{
		{
			Provider: "groq", Model: "fast-a", Category: "fast",
			Ranking: 1, Priority: 1,
			Benchmarks:          map[string]float64{"mmlu": 70},
			InputCostPerMillion: 0.05, OutputCostPerMillion: 0.05,
			Budget: config.BudgetConfig{Requests: 30, Window: time.Minute},
		},
		{
			Provider: "openai", Model: "heavy-c", Category: "powerful",
			Ranking: 1, Priority: 1,
			Benchmarks:          map[string]float64{"mmlu": 88},
			InputCostPerMillion: 2.5, OutputCostPerMillion: 10,
			Budget: config.BudgetConfig{Requests: 50, Window: time.Minute},
		},
	}})
	if err != nil {
		t.Fatalf("building registry: %v", err)
	}
	regFn := func() *catalog.Registry { return reg }

	adapterReg := adapters.NewRegistry()
	mocks := make(map[string]*adapters.MockAdapter)
	for _, provider := range []string{"groq", "openai"} {
		m := adapters.NewMockAdapter(provider)
		adapterReg.Register(provider, m)
		mocks[provider] = m
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	engine := router.NewEngine(config.DefaultRoutingConfig(), regFn, adapterReg, clock.New(), logger)

	return NewHandler(engine, regFn, nil, nil, nil), mocks
}

// tokenSink captures TokenRecorder calls.
type tokenSink struct {
	mu    sync.Mutex
	byKey map[string]int
}

func (s *tokenSink) AddTokens(_ context.Context, keyID string, tokens int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.byKey == nil {
		s.byKey = make(map[string]int)
	}
	s.byKey[keyID] += tokens
	return nil
}

func authedRequest(method, path, body string) *http.Request {
	var rdr io.Reader
	if body != "" {
		rdr = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rdr)
	info := &auth.AuthInfo{KeyID: "key-1", Name: "test"}
	return req.WithContext(auth.ContextWithAuth(req.Context(), info))
}

func TestChat_Success(t *testing.T) {
	h, _ := testHandler(t)

	req := authedRequest(http.MethodPost, "/v1/chat",
		`{"messages":[{"role":"user","content":"hello"}]}`)
	rec := httptest.NewRecorder()
	rec.Header().Set("X-Request-ID", "req-1")

	h.Chat(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp types.RelayResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	if resp.Provider != "groq" {
		t.Errorf("expected groq, got %s", resp.Provider)
	}
	if resp.RequestID != "req-1" {
		t.Errorf("expected request id req-1, got %s", resp.RequestID)
	}
	if got := rec.Header().Get("X-Relay-Backend"); got != "groq/fast-a" {
		t.Errorf("expected X-Relay-Backend groq/fast-a, got %q", got)
	}
	if got := rec.Header().Get("X-Relay-Category"); got != "fast" {
		t.Errorf("expected X-Relay-Category fast, got %q", got)
	}
	if got := rec.Header().Get("X-Relay-Attempts"); got != "1" {
		t.Errorf("expected X-Relay-Attempts 1, got %q", got)
	}
}

func TestChat_RecordsTokenConsumption(t *testing.T) {
	h, _ := testHandler(t)
	sink := &tokenSink{}
	h.tokens = sink

	req := authedRequest(http.MethodPost, "/v1/chat",
		`{"messages":[{"role":"user","content":"hello"}]}`)
	rec := httptest.NewRecorder()
	rec.Header().Set("X-Request-ID", "req-10")

	h.Chat(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	// The mock adapter reports 2 total tokens per completion.
	sink.mu.Lock()
	got := sink.byKey["key-1"]
	sink.mu.Unlock()
	if got != 2 {
		t.Errorf("expected 2 tokens recorded for key-1, got %d", got)
	}
}

func TestChat_MissingMessages(t *testing.T) {
	h, _ := testHandler(t)

	req := authedRequest(http.MethodPost, "/v1/chat", `{}`)
	rec := httptest.NewRecorder()
	rec.Header().Set("X-Request-ID", "req-2")

	h.Chat(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

func TestChat_InvalidJSON(t *testing.T) {
	h, _ := testHandler(t)

	req := authedRequest(http.MethodPost, "/v1/chat", `{not json`)
	rec := httptest.NewRecorder()
	rec.Header().Set("X-Request-ID", "req-3")

	h.Chat(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

func TestChat_NotAuthenticated(t *testing.T) {
	h, _ := testHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/chat",
		strings.NewReader(`{"messages":[{"role":"user","content":"hi"}]}`))
	rec := httptest.NewRecorder()

	h.Chat(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rec.Code)
	}
}

func TestChat_ModelNotAllowed(t *testing.T) {
	h, _ := testHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/chat",
		strings.NewReader(`{"model":"heavy-c","messages":[{"role":"user","content":"hi"}]}`))
	info := &auth.AuthInfo{KeyID: "key-1", AllowedModels: []string{"fast-a"}}
	req = req.WithContext(auth.ContextWithAuth(req.Context(), info))
	rec := httptest.NewRecorder()
	rec.Header().Set("X-Request-ID", "req-4")

	h.Chat(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rec.Code)
	}
}

func TestChat_AllBackendsDown(t *testing.T) {
	h, mocks := testHandler(t)
	down := &adapters.Error{Provider: "test", Status: 503, Message: "down"}
	mocks["groq"].Fail("fast-a", down)
	mocks["openai"].Fail("heavy-c", down)

	req := authedRequest(http.MethodPost, "/v1/chat",
		`{"messages":[{"role":"user","content":"hello"}]}`)
	rec := httptest.NewRecorder()
	rec.Header().Set("X-Request-ID", "req-5")

	h.Chat(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503 when every backend fails, got %d", rec.Code)
	}
}

func TestChat_FatalProviderErrorIsBadRequest(t *testing.T) {
	h, mocks := testHandler(t)
	mocks["groq"].Fail("fast-a", &adapters.Error{Provider: "groq", Status: 400, Message: "bad request"})

	req := authedRequest(http.MethodPost, "/v1/chat",
		`{"model":"fast-a","messages":[{"role":"user","content":"hello"}]}`)
	rec := httptest.NewRecorder()
	rec.Header().Set("X-Request-ID", "req-6")

	h.Chat(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for fatal provider error, got %d", rec.Code)
	}
}

func TestBackendsStatus(t *testing.T) {
	h, _ := testHandler(t)

	// Drive one request through so the snapshots have entries.
	req := authedRequest(http.MethodPost, "/v1/chat",
		`{"messages":[{"role":"user","content":"hello"}]}`)
	rec := httptest.NewRecorder()
	rec.Header().Set("X-Request-ID", "req-7")
	h.Chat(rec, req)

	statusReq := httptest.NewRequest(http.MethodGet, "/v1/backends/status", nil)
	statusRec := httptest.NewRecorder()
	h.BackendsStatus(statusRec, statusReq)

	if statusRec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", statusRec.Code)
	}

	var resp struct {
		Backends []backendStatus `json:"backends"`
	}
	if err := json.Unmarshal(statusRec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	if len(resp.Backends) != 2 {
		t.Fatalf("expected 2 backends, got %d", len(resp.Backends))
	}
	for _, b := range resp.Backends {
		if b.Health.State == "" {
			t.Errorf("%s: expected health state populated", b.ID)
		}
	}
}

func TestListModels_FiltersByAllowList(t *testing.T) {
	h, _ := testHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/models", nil)
	info := &auth.AuthInfo{KeyID: "key-1", AllowedModels: []string{"fast-a"}}
	req = req.WithContext(auth.ContextWithAuth(req.Context(), info))
	rec := httptest.NewRecorder()
	rec.Header().Set("X-Request-ID", "req-8")

	h.ListModels(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var resp modelListResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	if len(resp.Data) != 1 || resp.Data[0].ID != "fast-a" {
		t.Errorf("expected only fast-a, got %+v", resp.Data)
	}
}

func TestUsage_InMemoryOnly(t *testing.T) {
	h, _ := testHandler(t)

	req := authedRequest(http.MethodPost, "/v1/chat",
		`{"messages":[{"role":"user","content":"hello"}]}`)
	rec := httptest.NewRecorder()
	rec.Header().Set("X-Request-ID", "req-9")
	h.Chat(rec, req)

	usageReq := httptest.NewRequest(http.MethodGet, "/v1/usage", nil)
	usageRec := httptest.NewRecorder()
	h.Usage(usageRec, usageReq)

	if usageRec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", usageRec.Code)
	}

	var resp struct {
		Window map[string]router.UsageStats `json:"window"`
	}
	if err := json.Unmarshal(usageRec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	if resp.Window["groq/fast-a"].Count != 1 {
		t.Errorf("expected 1 recorded attempt, got %+v", resp.Window)
	}
}
