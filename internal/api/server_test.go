package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/MikeSquared-Agency/tally/internal/config"
	"github.com/MikeSquared-Agency/tally/internal/processor"
	"github.com/MikeSquared-Agency/tally/internal/provider"
	"github.com/MikeSquared-Agency/tally/internal/roster"
	"github.com/MikeSquared-Agency/tally/internal/settings"
	"github.com/MikeSquared-Agency/tally/internal/store"
)

const testToken = "tally-test-token"

type harness struct {
	srv   *Server
	store store.Store
	proc  *processor.Processor
}

func newHarness(t *testing.T, apiCfg config.APIConfig) *harness {
	t.Helper()
	ctx := context.Background()

	st, err := store.Open(ctx, "sqlite", filepath.Join(t.TempDir(), "tally.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	reg := provider.NewRegistry()
	proc := processor.New(reg, st.Participants(), st.Activity(), nil, zap.NewNop())

	srv := NewServer(0, apiCfg, Deps{
		Processor:    proc,
		Registry:     reg,
		Participants: st.Participants(),
		Activity:     st.Activity(),
		Settings:     st.Settings(),
		Logger:       zap.NewNop(),
	})
	return &harness{srv: srv, store: st, proc: proc}
}

func (h *harness) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rdr *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rdr = bytes.NewReader(b)
	} else {
		rdr = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, rdr)
	req.Header.Set("Authorization", "Bearer "+testToken)
	w := httptest.NewRecorder()
	h.srv.router.ServeHTTP(w, req)
	return w
}

// chatServer answers chat completions with content, or fails with status.
// It insists on the given bearer key when wantKey is set.
func chatServer(t *testing.T, status int, content, wantKey string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if wantKey != "" && r.Header.Get("Authorization") != "Bearer "+wantKey {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":{"message":"bad key"}}`))
			return
		}
		if status != http.StatusOK {
			w.WriteHeader(status)
			_, _ = w.Write([]byte(`{"error":{"message":"upstream says no"}}`))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":      "chatcmpl-1",
			"choices": []map[string]any{{"index": 0, "message": map[string]any{"role": "assistant", "content": content}}},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func decodeBody[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(w.Body).Decode(&v))
	return v
}

func openAISettings(endpoint, key string) settings.Settings {
	cfg := provider.Config{Provider: "openai", APIKey: key, Model: "gpt-4o", Endpoint: endpoint}
	return settings.Settings{
		AIProvider:      cfg,
		ProviderConfigs: map[string]provider.Config{"openai": cfg},
		Language:        "en",
	}
}

func TestHealthEndpoint(t *testing.T) {
	h := newHarness(t, config.APIConfig{Token: testToken})

	req := httptest.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()
	h.srv.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", decodeBody[map[string]string](t, w)["status"])
}

func TestMetricsEndpoint(t *testing.T) {
	h := newHarness(t, config.APIConfig{})

	req := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()
	h.srv.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "tally_participants_minted_total")
}

func TestNotFoundEndpoint(t *testing.T) {
	h := newHarness(t, config.APIConfig{})
	w := h.do(t, "GET", "/nonexistent", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestBearerAuth(t *testing.T) {
	h := newHarness(t, config.APIConfig{Token: testToken})

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"wrong_token", "Bearer nope", http.StatusUnauthorized},
		{"wrong_scheme", "Basic " + testToken, http.StatusUnauthorized},
		{"valid", "Bearer " + testToken, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/api/v1/providers", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			h.srv.router.ServeHTTP(w, req)
			assert.Equal(t, tt.want, w.Code)
		})
	}
}

func TestBearerAuth_DisabledWithoutToken(t *testing.T) {
	h := newHarness(t, config.APIConfig{})

	req := httptest.NewRequest("GET", "/api/v1/providers", nil)
	w := httptest.NewRecorder()
	h.srv.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestListProviders(t *testing.T) {
	h := newHarness(t, config.APIConfig{Token: testToken})

	w := h.do(t, "GET", "/api/v1/providers", nil)
	require.Equal(t, http.StatusOK, w.Code)

	infos := decodeBody[[]provider.BackendInfo](t, w)
	ids := make([]string, len(infos))
	for i, info := range infos {
		ids[i] = info.ID
	}
	assert.Equal(t, []string{"openai", "anthropic", "github"}, ids)
}

func TestGetSettings_Defaults(t *testing.T) {
	h := newHarness(t, config.APIConfig{Token: testToken})

	w := h.do(t, "GET", "/api/v1/settings", nil)
	require.Equal(t, http.StatusOK, w.Code)

	resp := decodeBody[settingsResponse](t, w)
	assert.Equal(t, "openai", resp.Settings.AIProvider.Provider)
	assert.False(t, resp.Configured)
}

func TestPutSettings_ConfiguresAndRedacts(t *testing.T) {
	h := newHarness(t, config.APIConfig{Token: testToken})
	llm := chatServer(t, http.StatusOK, "hi", "")

	w := h.do(t, "PUT", "/api/v1/settings", openAISettings(llm.URL, "sk-abcdef1234"))
	require.Equal(t, http.StatusOK, w.Code)
	resp := decodeBody[settingsResponse](t, w)
	assert.True(t, resp.Configured)
	assert.Empty(t, resp.Error)
	assert.Equal(t, "*********1234", resp.Settings.AIProvider.APIKey)

	active, ok := h.proc.Active()
	require.True(t, ok)
	assert.Equal(t, "sk-abcdef1234", active.APIKey)

	// Sending the masked form back keeps the stored key.
	masked := openAISettings(llm.URL, "*********1234")
	masked.AIProvider.Model = "gpt-4o-mini"
	w = h.do(t, "PUT", "/api/v1/settings", masked)
	require.Equal(t, http.StatusOK, w.Code)

	stored, err := settings.Load(context.Background(), h.store.Settings(), settings.DefaultKey, provider.NewRegistry())
	require.NoError(t, err)
	assert.Equal(t, "sk-abcdef1234", stored.AIProvider.APIKey)
	assert.Equal(t, "gpt-4o-mini", stored.AIProvider.Model)
	assert.Equal(t, "gpt-4o-mini", stored.ProviderConfigs["openai"].Model)
}

func TestPutSettings_UnknownProvider(t *testing.T) {
	h := newHarness(t, config.APIConfig{Token: testToken})

	s := openAISettings("", "k")
	s.AIProvider.Provider = "mistral"
	w := h.do(t, "PUT", "/api/v1/settings", s)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	body := decodeBody[errorBody](t, w)
	assert.Equal(t, "configuration", body.Kind)
	assert.Equal(t, "unknown AI provider: mistral", body.Error)
}

func TestPutSettings_RejectedConfigStillSaved(t *testing.T) {
	h := newHarness(t, config.APIConfig{Token: testToken})

	s := openAISettings("", "sk-key")
	s.AIProvider.Model = ""
	w := h.do(t, "PUT", "/api/v1/settings", s)
	require.Equal(t, http.StatusOK, w.Code)

	resp := decodeBody[settingsResponse](t, w)
	assert.False(t, resp.Configured)
	assert.Equal(t, "Invalid OpenAI configuration", resp.Error)
}

func TestSwitchProvider(t *testing.T) {
	h := newHarness(t, config.APIConfig{Token: testToken})
	llm := chatServer(t, http.StatusOK, "hi", "")
	require.Equal(t, http.StatusOK, h.do(t, "PUT", "/api/v1/settings", openAISettings(llm.URL, "sk-openai")).Code)

	w := h.do(t, "POST", "/api/v1/settings/provider", switchRequest{Provider: "github"})
	require.Equal(t, http.StatusOK, w.Code)
	resp := decodeBody[settingsResponse](t, w)
	assert.Equal(t, "github", resp.Settings.AIProvider.Provider)
	assert.Equal(t, "https://models.inference.ai.azure.com", resp.Settings.AIProvider.Endpoint)
	assert.False(t, resp.Configured)

	w = h.do(t, "POST", "/api/v1/settings/provider", switchRequest{Provider: "openai"})
	require.Equal(t, http.StatusOK, w.Code)
	resp = decodeBody[settingsResponse](t, w)
	assert.Equal(t, "openai", resp.Settings.AIProvider.Provider)
	assert.True(t, resp.Configured)

	w = h.do(t, "POST", "/api/v1/settings/provider", switchRequest{Provider: "mistral"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestTestConnection_RestoresMaskedKey(t *testing.T) {
	h := newHarness(t, config.APIConfig{Token: testToken})
	llm := chatServer(t, http.StatusOK, "hi", "sk-abcdef1234")
	require.Equal(t, http.StatusOK, h.do(t, "PUT", "/api/v1/settings", openAISettings(llm.URL, "sk-abcdef1234")).Code)

	cfg := provider.Config{Provider: "openai", APIKey: "*********1234", Model: "gpt-4o", Endpoint: llm.URL}
	w := h.do(t, "POST", "/api/v1/providers/test", cfg)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, provider.ConnectionResult{Success: true}, decodeBody[provider.ConnectionResult](t, w))

	cfg.APIKey = "sk-wrong"
	w = h.do(t, "POST", "/api/v1/providers/test", cfg)
	require.Equal(t, http.StatusOK, w.Code)
	res := decodeBody[provider.ConnectionResult](t, w)
	assert.False(t, res.Success)
	assert.Equal(t, "Invalid API key. Please check your API key.", res.Error)
}

func TestMaskedKey_NotSentToOtherEndpoint(t *testing.T) {
	h := newHarness(t, config.APIConfig{Token: testToken})
	llm := chatServer(t, http.StatusOK, "hi", "sk-abcdef1234")
	require.Equal(t, http.StatusOK, h.do(t, "PUT", "/api/v1/settings", openAISettings(llm.URL, "sk-abcdef1234")).Code)

	var seen []string
	other := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = append(seen, r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusUnauthorized)
	}))
	t.Cleanup(other.Close)

	cfg := provider.Config{Provider: "openai", APIKey: "*********1234", Model: "gpt-4o", Endpoint: other.URL}
	w := h.do(t, "POST", "/api/v1/providers/test", cfg)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "configuration", decodeBody[errorBody](t, w).Kind)

	cfg.Endpoint = llm.URL
	cfg.Headers = map[string]string{"X-Forward-To": other.URL}
	w = h.do(t, "POST", "/api/v1/providers/test", cfg)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = h.do(t, "PUT", "/api/v1/settings", openAISettings(other.URL, "*********1234"))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "configuration", decodeBody[errorBody](t, w).Kind)

	assert.Empty(t, seen)

	w = h.do(t, "GET", "/api/v1/settings", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, llm.URL, decodeBody[settingsResponse](t, w).Settings.AIProvider.Endpoint)
}

func TestExtract_NotConfigured(t *testing.T) {
	h := newHarness(t, config.APIConfig{Token: testToken})

	w := h.do(t, "POST", "/api/v1/extractions", extractRequest{Text: "Kalle 10h"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	body := decodeBody[errorBody](t, w)
	assert.Equal(t, "configuration", body.Kind)
	assert.Equal(t, "AI provider not configured", body.Error)
}

func TestExtract_EmptyText(t *testing.T) {
	h := newHarness(t, config.APIConfig{Token: testToken})
	w := h.do(t, "POST", "/api/v1/extractions", extractRequest{Text: "  "})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestExtract_StoresAndExports(t *testing.T) {
	h := newHarness(t, config.APIConfig{Token: testToken})
	llm := chatServer(t, http.StatusOK, `{"reports":[
		{"name":"Kalle Johansson","isActive":true,"hours":25,"studies":3,"isNew":true,"matchConfidence":"high","reportedBy":"self","reasoning":"new","originalText":"Kalle 25h 3 studies"}
	],"reasoning":"one"}`, "")
	require.Equal(t, http.StatusOK, h.do(t, "PUT", "/api/v1/settings", openAISettings(llm.URL, "sk-key")).Code)

	w := h.do(t, "POST", "/api/v1/extractions", extractRequest{Text: "Kalle 25h 3 studies"})
	require.Equal(t, http.StatusOK, w.Code)
	var res struct {
		NewPublishers []roster.Participant    `json:"newPublishers"`
		Reports       []roster.ActivityRecord `json:"reports"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&res))
	require.Len(t, res.NewPublishers, 1)
	require.Len(t, res.Reports, 1)

	w = h.do(t, "GET", "/api/v1/participants", nil)
	require.Equal(t, http.StatusOK, w.Code)
	ps := decodeBody[[]roster.Participant](t, w)
	require.Len(t, ps, 1)
	assert.Equal(t, "Kalle Johansson", ps[0].Name)

	w = h.do(t, "GET", "/api/v1/export?format=csv&lang=sv", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/csv; charset=utf-8", w.Header().Get("Content-Type"))
	lines := strings.Split(strings.TrimSpace(w.Body.String()), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "Namn,Aktiv,Timmar,Studier,Kommentar", lines[0])
	assert.True(t, strings.HasPrefix(lines[1], "Kalle Johansson,Ja,25,3"))

	w = h.do(t, "GET", "/api/v1/export?format=xlsx", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Disposition"), "publishers.xlsx")
	assert.NotZero(t, w.Body.Len())
}

func TestExtract_ProviderErrorStatus(t *testing.T) {
	tests := []struct {
		name     string
		upstream int
		want     int
		kind     string
	}{
		{"auth", http.StatusUnauthorized, http.StatusUnauthorized, "auth"},
		{"permission", http.StatusForbidden, http.StatusForbidden, "permission"},
		{"rate_limit", http.StatusTooManyRequests, http.StatusTooManyRequests, "rate_limit"},
		{"overloaded", http.StatusServiceUnavailable, http.StatusServiceUnavailable, "transient_service"},
		{"teapot", http.StatusTeapot, http.StatusInternalServerError, "unknown"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, config.APIConfig{Token: testToken})
			llm := chatServer(t, tt.upstream, "", "")
			require.Equal(t, http.StatusOK, h.do(t, "PUT", "/api/v1/settings", openAISettings(llm.URL, "sk-key")).Code)

			w := h.do(t, "POST", "/api/v1/extractions", extractRequest{Text: "Kalle 25h"})
			assert.Equal(t, tt.want, w.Code)
			assert.Equal(t, tt.kind, decodeBody[errorBody](t, w).Kind)
		})
	}
}

func TestExtract_RateLimited(t *testing.T) {
	h := newHarness(t, config.APIConfig{Token: testToken, RateLimit: 0.001, Burst: 1})

	w := h.do(t, "POST", "/api/v1/extractions", extractRequest{Text: ""})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = h.do(t, "POST", "/api/v1/extractions", extractRequest{Text: "Kalle 25h"})
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "rate_limit", decodeBody[errorBody](t, w).Kind)
}

func TestExport_BadFormat(t *testing.T) {
	h := newHarness(t, config.APIConfig{Token: testToken})
	w := h.do(t, "GET", "/api/v1/export?format=pdf", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRemoveParticipant(t *testing.T) {
	h := newHarness(t, config.APIConfig{Token: testToken})
	p := roster.Participant{ID: uuid.New(), Name: "Maija Ozola"}
	require.NoError(t, h.store.Participants().Upsert(context.Background(), []roster.Participant{p}))

	assert.Equal(t, http.StatusBadRequest, h.do(t, "DELETE", "/api/v1/participants/not-a-uuid", nil).Code)
	assert.Equal(t, http.StatusNoContent, h.do(t, "DELETE", "/api/v1/participants/"+p.ID.String(), nil).Code)

	ps, err := h.store.Participants().LoadAll(context.Background())
	require.NoError(t, err)
	assert.Empty(t, ps)
}
