package commands

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/Sternrassler/learnforge/internal/testutil"
	"github.com/Sternrassler/learnforge/pkg/config"
	"github.com/fatih/color"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
	color.NoColor = true
}

const explainBody = `{"operation":"explain","payload":{"topic":"Quantum Computing","subtopics":["Qubits","Gates"]}}`

// writeConfig writes a config pointing at providerURL with the given
// durable section and returns its path.
func writeConfig(t *testing.T, providerURL, durable string) string {
	t.Helper()
	body := fmt.Sprintf(`
listen: "127.0.0.1:0"
admin_token: secret
log:
  level: error
provider:
  url: %s
  rate_per_second: 0
fanout:
  initial_backoff: 1ms
  max_backoff: 5ms
upstream_limit:
  enabled: false
durable:
%s
`, providerURL, durable)

	path := filepath.Join(t.TempDir(), "learnforge.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func sqliteDurable(path string) string {
	return fmt.Sprintf("  backend: sqlite\n  sqlite:\n    path: %s\n    sweep_interval: 0s", path)
}

func loadTestConfig(t *testing.T, path string) *config.Config {
	t.Helper()
	cfg, err := config.Load(path)
	require.NoError(t, err)
	return cfg
}

// resetFlags restores every flag of cmd and its children to its default,
// since cobra keeps flag state between executions.
func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
}

// runCLI executes the root command with args and returns stdout and stderr.
func runCLI(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	resetFlags(rootCmd)

	var out, errOut bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&errOut)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetArgs(nil)
	})

	err := Execute()
	return out.String(), errOut.String(), err
}

func postGenerate(t *testing.T, a *app, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/v1/generate", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	a.server.Handler().ServeHTTP(rec, req)
	return rec
}

func TestRootCommand_ShowsHelpWhenNoSubcommand(t *testing.T) {
	out, _, err := runCLI(t)
	assert.NoError(t, err)
	assert.Contains(t, out, "Usage:")
	assert.Contains(t, out, "serve")
	assert.Contains(t, out, "cache")
}

func TestRootCommand_RejectsUnknownFlags(t *testing.T) {
	_, _, err := runCLI(t, "--unknown-flag", "value")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unknown flag")
}

func TestVersionCommand(t *testing.T) {
	SetVersionInfo("1.2.3", "abc123", "2026-01-01")

	out, _, err := runCLI(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "learnforge 1.2.3")
	assert.Contains(t, out, "abc123")
	assert.Equal(t, "1.2.3 (commit: abc123, built: 2026-01-01)", rootCmd.Version)
}

func TestConfigValidate(t *testing.T) {
	path := writeConfig(t, "http://provider.invalid/generate", "  backend: none")

	out, _, err := runCLI(t, "config", "validate", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "is valid")
	assert.Contains(t, out, "limited (anonymous)")
	assert.Contains(t, out, "premium")
	assert.Contains(t, out, "60 req/min")
	assert.Contains(t, out, "durable backend:")
}

func TestConfigValidate_Invalid(t *testing.T) {
	path := writeConfig(t, "", "  backend: none")

	_, errOut, err := runCLI(t, "config", "validate", "--config", path)
	require.Error(t, err)
	assert.Contains(t, errOut, "Invalid configuration")
	assert.Contains(t, errOut, "provider.url")
	assert.Contains(t, errOut, path)
}

func TestTargetNamespace(t *testing.T) {
	tests := []struct {
		name      string
		namespace string
		operation string
		topic     string
		want      string
		wantErr   bool
	}{
		{"explicit namespace", " subtopics:Go ", "", "", "subtopics:Go", false},
		{"explain topic", "", "explain", "quantum  computing", "explanations:QuantumComputing", false},
		{"breakdown topic", "", "Breakdown", "Go", "subtopics:Go", false},
		{"unknown operation", "", "quiz", "Go", "", true},
		{"empty topic", "", "explain", "  !! ", "", true},
		{"nothing", "", "", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := targetNamespace(tt.namespace, tt.operation, tt.topic)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCacheInvalidate_Redis(t *testing.T) {
	mr := testutil.StartMiniRedis(t)
	path := writeConfig(t, "http://provider.invalid/generate",
		fmt.Sprintf("  backend: redis\n  redis:\n    addr: %s", mr.Addr()))

	out, _, err := runCLI(t, "cache", "invalidate", "--config", path, "--operation", "explain", "--topic", "Quantum Computing")
	require.NoError(t, err)
	assert.Contains(t, out, "Invalidated explanations:QuantumComputing")

	version, err := mr.Get("lf:nsver:explanations:QuantumComputing")
	require.NoError(t, err)
	assert.Equal(t, "1", version)

	_, _, err = runCLI(t, "cache", "invalidate", "--config", path, "--namespace", "explanations:QuantumComputing")
	require.NoError(t, err)
	version, _ = mr.Get("lf:nsver:explanations:QuantumComputing")
	assert.Equal(t, "2", version)
}

func TestCacheInvalidate_Errors(t *testing.T) {
	mr := testutil.StartMiniRedis(t)
	redisPath := writeConfig(t, "http://provider.invalid/generate",
		fmt.Sprintf("  backend: redis\n  redis:\n    addr: %s", mr.Addr()))
	nonePath := writeConfig(t, "http://provider.invalid/generate", "  backend: none")

	t.Run("no target", func(t *testing.T) {
		_, errOut, err := runCLI(t, "cache", "invalidate", "--config", redisPath)
		require.Error(t, err)
		assert.Contains(t, errOut, "Nothing to invalidate")
	})

	t.Run("namespace and operation", func(t *testing.T) {
		_, _, err := runCLI(t, "cache", "invalidate", "--config", redisPath, "--namespace", "x", "--operation", "explain", "--topic", "Go")
		require.Error(t, err)
	})

	t.Run("no durable tier", func(t *testing.T) {
		_, errOut, err := runCLI(t, "cache", "invalidate", "--config", nonePath, "--namespace", "subtopics:Go")
		require.Error(t, err)
		assert.Contains(t, errOut, "No durable tier configured")
	})

	t.Run("redis down", func(t *testing.T) {
		mr.Close()
		_, errOut, err := runCLI(t, "cache", "invalidate", "--config", redisPath, "--namespace", "subtopics:Go")
		require.Error(t, err)
		assert.Contains(t, errOut, "Invalidation failed")
	})
}

func TestApp_ServesAndPersistsAcrossRestarts(t *testing.T) {
	mock := testutil.NewMockProvider()
	defer mock.Close()

	dbPath := filepath.Join(t.TempDir(), "cache.db")
	cfg := loadTestConfig(t, writeConfig(t, mock.URL(), sqliteDurable(dbPath)))
	ctx := context.Background()

	first, err := newApp(ctx, cfg, zerolog.Nop())
	require.NoError(t, err)

	rec := postGenerate(t, first, explainBody)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 2, mock.GetRequestCount())

	rec = postGenerate(t, first, explainBody)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2, mock.GetRequestCount(), "second request is served from the local tier")
	require.NoError(t, first.Close())

	second, err := newApp(ctx, cfg, zerolog.Nop())
	require.NoError(t, err)
	defer second.Close()

	rec = postGenerate(t, second, explainBody)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2, mock.GetRequestCount(), "restarted process reads the SQLite tier")
	assert.Equal(t, uint64(2), second.cache.Stats().DurableHits)
}

func TestApp_RedisUnreachableStillServes(t *testing.T) {
	mock := testutil.NewMockProvider()
	defer mock.Close()

	mr := testutil.StartMiniRedis(t)
	addr := mr.Addr()
	mr.Close()

	cfg := loadTestConfig(t, writeConfig(t, mock.URL(), fmt.Sprintf("  backend: redis\n  redis:\n    addr: %s", addr)))
	a, err := newApp(context.Background(), cfg, zerolog.Nop())
	require.NoError(t, err)
	defer a.Close()

	rec := postGenerate(t, a, explainBody)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.False(t, a.cache.Stats().DurableAvailable)
}

func TestApp_UpstreamBudgetBlocksProviderCalls(t *testing.T) {
	mock := testutil.NewMockProvider()
	defer mock.Close()

	resp := testutil.NewContentResponse("Generated content about the requested topic, long enough to pass quality checks.")
	resp.Headers["X-RateLimit-Remaining-Requests"] = "0"
	resp.Headers["X-RateLimit-Reset-Requests"] = "30s"
	mock.SetDefault(resp)

	cfg := loadTestConfig(t, writeConfig(t, mock.URL(), "  backend: none"))
	cfg.Upstream.Enabled = true

	a, err := newApp(context.Background(), cfg, zerolog.Nop())
	require.NoError(t, err)
	defer a.Close()

	rec := postGenerate(t, a, explainBody)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	calls := mock.GetRequestCount()

	rec = postGenerate(t, a, `{"operation":"explain","payload":{"topic":"Graph Theory","subtopics":["Trees"]}}`)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Contains(t, rec.Body.String(), "rate_limited")
	assert.Equal(t, calls, mock.GetRequestCount(), "exhausted budget must not reach the provider")
}

func TestApp_SweepStopsWithContext(t *testing.T) {
	mock := testutil.NewMockProvider()
	defer mock.Close()

	dbPath := filepath.Join(t.TempDir(), "cache.db")
	cfg := loadTestConfig(t, writeConfig(t, mock.URL(), sqliteDurable(dbPath)))
	cfg.Durable.SQLite.SweepInterval = 5 * time.Millisecond

	a, err := newApp(context.Background(), cfg, zerolog.Nop())
	require.NoError(t, err)
	defer a.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		a.sweep(ctx)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("sweep did not stop")
	}
}
