package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Sternrassler/learnforge/internal/testutil"
	"github.com/Sternrassler/learnforge/pkg/admission"
	"github.com/Sternrassler/learnforge/pkg/cache"
	"github.com/Sternrassler/learnforge/pkg/fanout"
	"github.com/Sternrassler/learnforge/pkg/gateway"
	"github.com/Sternrassler/learnforge/pkg/provider"
	"github.com/Sternrassler/learnforge/pkg/quality"
	"github.com/Sternrassler/learnforge/pkg/telemetry"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const adminToken = "admin-secret"

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestServer(t *testing.T, durable cache.DurableStore) (*Server, *testutil.ScriptedProvider) {
	t.Helper()
	return newTestServerWith(t, durable, Options{AdminToken: adminToken})
}

func newTestServerWith(t *testing.T, durable cache.DurableStore, opts Options) (*Server, *testutil.ScriptedProvider) {
	t.Helper()
	logger := zerolog.Nop()

	acfg := admission.DefaultConfig()
	acfg.Tiers[admission.TierLimited] = admission.Tier{RequestsPerMinute: 2}
	adm, err := admission.New(acfg, logger)
	require.NoError(t, err)

	cm, err := cache.NewManager(cache.DefaultConfig(), durable, logger)
	require.NoError(t, err)

	fcfg := fanout.DefaultConfig()
	fcfg.InitialBackoff = time.Millisecond
	fcfg.MaxBackoff = 5 * time.Millisecond
	exec, err := fanout.New(fcfg, logger)
	require.NoError(t, err)

	gate, err := quality.New(quality.DefaultConfig())
	require.NoError(t, err)

	resolver, err := gateway.NewStaticResolver([]gateway.Credential{
		{Key: "key-alice", Identity: "alice", Tier: admission.TierPremium},
	})
	require.NoError(t, err)

	sp := testutil.NewScriptedProvider(nil)
	svc, err := gateway.New(gateway.Deps{
		Admission: adm,
		Cache:     cm,
		Executor:  exec,
		Gate:      gate,
		Telemetry: telemetry.NewRecorder(telemetry.DefaultConfig()),
		Provider:  sp,
		Resolver:  resolver,
		Logger:    logger,
	})
	require.NoError(t, err)

	return New(opts, svc, logger), sp
}

func do(t *testing.T, s *Server, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

const explainBody = `{"operation":"explain","payload":{"topic":"Quantum Computing","subtopics":["Qubits","Gates"]}}`

func TestHealth(t *testing.T) {
	s, _ := newTestServer(t, nil)

	rec := do(t, s, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
}

func TestGenerate_OK(t *testing.T) {
	s, sp := newTestServer(t, nil)

	rec := do(t, s, http.MethodPost, "/v1/generate", explainBody, map[string]string{"Authorization": "Bearer key-alice"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		Status string `json:"status"`
		Data   struct {
			Explanations []gateway.Explanation `json:"explanations"`
		} `json:"data"`
		QuotaRemaining admission.Remaining `json:"quota_remaining"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Len(t, resp.Data.Explanations, 2)
	assert.Equal(t, int64(59), resp.QuotaRemaining.RequestsPerMinute, "premium tier via bearer credential")
	assert.Equal(t, 2, sp.Calls())
}

func TestGenerate_APIKeyHeader(t *testing.T) {
	s, _ := newTestServer(t, nil)

	rec := do(t, s, http.MethodPost, "/v1/generate", explainBody, map[string]string{"X-API-Key": "key-alice"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"requests_per_minute":59`)
}

func TestGenerate_DeniedSetsRetryAfter(t *testing.T) {
	s, sp := newTestServer(t, nil)

	for i := 0; i < 2; i++ {
		rec := do(t, s, http.MethodPost, "/v1/generate", explainBody, nil)
		require.Equal(t, http.StatusOK, rec.Code)
	}
	calls := sp.Calls()

	rec := do(t, s, http.MethodPost, "/v1/generate", explainBody, nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	assert.Contains(t, rec.Body.String(), `"status":"denied"`)
	assert.Equal(t, calls, sp.Calls())
}

// Anonymous callers cannot mint fresh identities by rotating forwarding
// headers when no proxy is trusted.
func TestGenerate_ForwardedForIgnoredByDefault(t *testing.T) {
	s, sp := newTestServer(t, nil)

	admitted := 0
	for i := 0; i < 10; i++ {
		rec := do(t, s, http.MethodPost, "/v1/generate", explainBody, map[string]string{
			"X-Forwarded-For": fmt.Sprintf("203.0.113.%d", i+1),
			"X-Real-IP":       fmt.Sprintf("198.51.100.%d", i+1),
		})
		if rec.Code == http.StatusOK {
			admitted++
		}
	}
	assert.Equal(t, 2, admitted, "limited tier allows 2 requests per minute per caller")
	assert.Equal(t, 2, sp.Calls(), "only the first request generates, the second is cached")
}

func TestGenerate_TrustedProxyForwardsClientIP(t *testing.T) {
	// httptest requests come from 192.0.2.1.
	s, _ := newTestServerWith(t, nil, Options{TrustedProxies: []string{"192.0.2.0/24"}})

	for i := 0; i < 3; i++ {
		rec := do(t, s, http.MethodPost, "/v1/generate", explainBody, map[string]string{
			"X-Forwarded-For": fmt.Sprintf("203.0.113.%d", i+1),
		})
		assert.Equal(t, http.StatusOK, rec.Code, "client %d has its own quota", i+1)
	}

	rec := do(t, s, http.MethodPost, "/v1/generate", explainBody, map[string]string{"X-Forwarded-For": "203.0.113.1"})
	require.Equal(t, http.StatusOK, rec.Code)
	rec = do(t, s, http.MethodPost, "/v1/generate", explainBody, map[string]string{"X-Forwarded-For": "203.0.113.1"})
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestValidateTrustedProxies(t *testing.T) {
	tests := []struct {
		name    string
		proxies []string
		wantErr bool
	}{
		{"none", nil, false},
		{"loopback", []string{"127.0.0.1", "::1"}, false},
		{"cidr", []string{"10.0.0.0/8"}, false},
		{"hostname", []string{"proxy.internal"}, true},
		{"bad cidr", []string{"10.0.0.0/33"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateTrustedProxies(tt.proxies)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateTrustedProxies(%v) error = %v, wantErr %v", tt.proxies, err, tt.wantErr)
			}
		})
	}
}

func TestGenerate_BadRequests(t *testing.T) {
	s, _ := newTestServer(t, nil)

	tests := []struct {
		name string
		body string
	}{
		{"malformed json", `{"operation":`},
		{"missing topic", `{"operation":"breakdown","payload":{}}`},
		{"unknown operation", `{"operation":"quiz","payload":{"topic":"Go"}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, s, http.MethodPost, "/v1/generate", tt.body, nil)
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
		})
	}
}

func TestGenerate_ProviderFailure(t *testing.T) {
	s, sp := newTestServer(t, nil)
	sp.Respond = func(_ provider.Prompt, _ int) (string, error) {
		return "", &provider.Error{Class: provider.ClassUnauthorized, StatusCode: 401}
	}

	rec := do(t, s, http.MethodPost, "/v1/generate", explainBody, nil)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"error"`)
}

func TestTelemetry(t *testing.T) {
	s, _ := newTestServer(t, nil)

	do(t, s, http.MethodPost, "/v1/generate", explainBody, nil)
	do(t, s, http.MethodPost, "/v1/generate", explainBody, nil)

	rec := do(t, s, http.MethodGet, "/v1/telemetry", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var stats struct {
		HitRate          float64                        `json:"hitRate"`
		QuotaByTier      map[string]telemetry.TierUsage `json:"quotaByTier"`
		LatencyHistogram telemetry.HistogramSnapshot    `json:"latencyHistogram"`
		ErrorCounts      map[string]uint64              `json:"errorCounts"`
		Cache            cache.Stats                    `json:"cache"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, 0.5, stats.HitRate)
	assert.Equal(t, uint64(2), stats.QuotaByTier[admission.TierLimited].Allowed)
	assert.Equal(t, uint64(2), stats.LatencyHistogram.Count)
	assert.NotNil(t, stats.ErrorCounts)
	assert.Equal(t, uint64(2), stats.Cache.LocalHits)
}

func TestInvalidate(t *testing.T) {
	s, sp := newTestServer(t, nil)

	do(t, s, http.MethodPost, "/v1/generate", explainBody, map[string]string{"X-API-Key": "key-alice"})
	require.Equal(t, 2, sp.Calls())

	tests := []struct {
		name    string
		token   string
		body    string
		want    int
		wantErr string
	}{
		{"no token", "", `{"namespace":"explanations:QuantumComputing"}`, http.StatusUnauthorized, "unauthorized"},
		{"wrong token", "nope", `{"namespace":"explanations:QuantumComputing"}`, http.StatusUnauthorized, "unauthorized"},
		{"missing target", adminToken, `{}`, http.StatusBadRequest, "unknown operation"},
		{"by topic", adminToken, `{"operation":"explain","topic":"quantum computing"}`, http.StatusAccepted, "explanations:QuantumComputing"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			headers := map[string]string{}
			if tt.token != "" {
				headers["Authorization"] = "Bearer " + tt.token
			}
			rec := do(t, s, http.MethodPost, "/v1/cache/invalidate", tt.body, headers)
			assert.Equal(t, tt.want, rec.Code)
			assert.Contains(t, rec.Body.String(), tt.wantErr)
		})
	}

	do(t, s, http.MethodPost, "/v1/generate", explainBody, map[string]string{"X-API-Key": "key-alice"})
	assert.Equal(t, 4, sp.Calls(), "invalidated explanations must be regenerated")
}

func TestInvalidate_DurableDown(t *testing.T) {
	mr := testutil.StartMiniRedis(t)
	store := cache.NewRedisStore(testutil.NewRedisClient(t, mr))
	s, _ := newTestServer(t, store)
	mr.Close()

	rec := do(t, s, http.MethodPost, "/v1/cache/invalidate", `{"namespace":"subtopics:Go"}`,
		map[string]string{"Authorization": "Bearer " + adminToken})
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalidated_locally")
}

func TestInvalidate_Disabled(t *testing.T) {
	s, _ := newTestServer(t, nil)
	s2 := New(Options{}, s.svc, zerolog.Nop())

	rec := do(t, s2, http.MethodPost, "/v1/cache/invalidate", `{"namespace":"x"}`, map[string]string{"Authorization": "Bearer "})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	s, _ := newTestServer(t, nil)
	do(t, s, http.MethodPost, "/v1/generate", explainBody, nil)

	rec := do(t, s, http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "learnforge_requests_total")
}

func TestServe_GracefulShutdown(t *testing.T) {
	s, _ := newTestServer(t, nil)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, ln) }()

	resp, err := http.Post("http://"+ln.Addr().String()+"/v1/generate", "application/json", bytes.NewBufferString(explainBody))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
