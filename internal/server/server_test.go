package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cboone/termsnap/internal/capture"
)

var testBinary string

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)

	dir, err := os.MkdirTemp("", "server-testbin-*")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create temp dir: %v\n", err)
		os.Exit(1)
	}

	testBinary = filepath.Join(dir, "testbin")
	cmd := exec.Command("go", "build", "-o", testBinary, "github.com/cboone/termsnap/internal/testbin")
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to build testbin: %v\n", err)
		os.RemoveAll(dir)
		os.Exit(1)
	}

	code := m.Run()
	os.RemoveAll(dir)
	os.Exit(code)
}

func testServer(t *testing.T, mutate func(*Config)) *Server {
	t.Helper()
	cfg := DefaultConfig()
	cfg.SessionBase = t.TempDir()
	cfg.Scale = 1
	cfg.RateLimit = RateLimitConfig{}
	cfg.Capture.Delay = 50 * time.Millisecond
	cfg.Capture.Quiet = 80 * time.Millisecond
	cfg.Capture.DrainTimeout = 2 * time.Second
	if mutate != nil {
		mutate(&cfg)
	}
	return New(cfg, nil, nil)
}

func do(s *Server, method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func TestHealthAndSizes(t *testing.T) {
	s := testServer(t, nil)

	w := do(s, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	health := decode[map[string]any](t, w)
	assert.Equal(t, "ok", health["status"])
	assert.Equal(t, 4.0, health["max_runs"])

	w = do(s, http.MethodGet, "/v1/sizes", nil)
	require.Equal(t, http.StatusOK, w.Code)
	sizes := decode[struct {
		Sizes []sizeEntry `json:"sizes"`
	}](t, w)
	require.Len(t, sizes.Sizes, 4)
	assert.Equal(t, sizeEntry{Name: "compact", Aliases: []string{"small", "minimal"}, Cols: 80, Rows: 24}, sizes.Sizes[0])
}

func TestCreateRun(t *testing.T) {
	s := testServer(t, nil)

	w := do(s, http.MethodPost, "/v1/runs", RunRequest{
		Binary: testBinary,
		Args:   []string{"keys"},
		Size:   "80x24",
		Inputs: []string{"q"},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	res := decode[RunResponse](t, w)
	require.NotNil(t, res.Result)
	assert.Equal(t, capture.Completed, res.Status)
	require.Len(t, res.Steps, 2)
	assert.Equal(t, "q", res.Steps[1].Input)
	assert.FileExists(t, res.Steps[0].Artifact)
	assert.False(t, res.Kept)

	w = do(s, http.MethodGet, "/v1/runs/"+res.RunID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, res.RunID, decode[RunResponse](t, w).RunID)

	w = do(s, http.MethodGet, "/v1/runs/"+res.RunID+"/steps/1/image", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/png", w.Header().Get("Content-Type"))
	assert.True(t, bytes.HasPrefix(w.Body.Bytes(), []byte("\x89PNG")))

	w = do(s, http.MethodGet, "/v1/runs/"+res.RunID+"/steps/7/image", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = do(s, http.MethodGet, "/v1/runs/"+res.RunID+"/steps/x/image", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	require.NoError(t, s.Close())
	assert.NoDirExists(t, res.SessionDir)
	assert.Equal(t, http.StatusNotFound, do(s, http.MethodGet, "/v1/runs/"+res.RunID, nil).Code)
}

func TestCreateRunKeep(t *testing.T) {
	s := testServer(t, nil)

	delay := 10
	w := do(s, http.MethodPost, "/v1/runs", RunRequest{
		Binary: testBinary,
		Args:   []string{"keys"},
		Delay:  &delay,
		Inputs: []string{"q"},
		Keep:   true,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	res := decode[RunResponse](t, w)
	assert.True(t, res.Kept)
	assert.Equal(t, capture.DefaultSize, res.Size)

	require.NoError(t, s.Close())
	assert.DirExists(t, res.SessionDir)
}

func TestCreateRunAborted(t *testing.T) {
	s := testServer(t, nil)
	w := do(s, http.MethodPost, "/v1/runs", RunRequest{Binary: "/nonexistent/termsnap-binary"})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	res := decode[RunResponse](t, w)
	assert.Equal(t, capture.Aborted, res.Status)
	assert.Contains(t, res.Reason, "spawn")
}

func TestCreateRunRejectsBadRequests(t *testing.T) {
	s := testServer(t, func(cfg *Config) {
		cfg.AllowedBinaries = []string{testBinary}
	})

	neg, huge := -5, math.MaxInt
	tests := []struct {
		name string
		body any
		want int
	}{
		{"missing binary", map[string]any{"inputs": []string{"q"}}, http.StatusBadRequest},
		{"bad size", RunRequest{Binary: testBinary, Size: "huge"}, http.StatusBadRequest},
		{"bad resize", RunRequest{Binary: testBinary, Inputs: []string{"resize:0x0"}}, http.StatusBadRequest},
		{"negative delay", RunRequest{Binary: testBinary, Delay: &neg}, http.StatusBadRequest},
		{"delay over maximum", RunRequest{Binary: testBinary, Delay: &huge}, http.StatusBadRequest},
		{"not allowed", RunRequest{Binary: "/bin/sh"}, http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(s, http.MethodPost, "/v1/runs", tt.body)
			assert.Equal(t, tt.want, w.Code, w.Body.String())
			assert.Contains(t, decode[map[string]any](t, w), "error")
		})
	}
}

func TestCreateRunConcurrencyLimit(t *testing.T) {
	s := testServer(t, func(cfg *Config) { cfg.MaxConcurrent = 1 })
	s.slots <- struct{}{}
	defer func() { <-s.slots }()

	w := do(s, http.MethodPost, "/v1/runs", RunRequest{Binary: testBinary})
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestRateLimit(t *testing.T) {
	s := testServer(t, func(cfg *Config) {
		cfg.RateLimit = RateLimitConfig{RequestsPerSecond: 0.001, Burst: 1}
	})

	w := do(s, http.MethodPost, "/v1/runs", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = do(s, http.MethodPost, "/v1/runs", map[string]any{})
	assert.Equal(t, http.StatusTooManyRequests, w.Code)

	// Lookups are not limited.
	assert.Equal(t, http.StatusOK, do(s, http.MethodGet, "/v1/sizes", nil).Code)
}

func TestUnknownRun(t *testing.T) {
	s := testServer(t, nil)
	assert.Equal(t, http.StatusNotFound, do(s, http.MethodGet, "/v1/runs/nope", nil).Code)
	assert.Equal(t, http.StatusNotFound, do(s, http.MethodGet, "/v1/runs/nope/steps/0/image", nil).Code)
}

func TestCORS(t *testing.T) {
	s := testServer(t, nil)

	req := httptest.NewRequest(http.MethodOptions, "/v1/runs", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", "POST")
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.NotEmpty(t, w.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w = httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

func TestRecovery(t *testing.T) {
	s := testServer(t, nil)
	s.router.GET("/boom", func(*gin.Context) { panic("boom") })

	w := do(s, http.MethodGet, "/boom", nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "internal server error", decode[map[string]any](t, w)["error"])
}

func TestMetricsEndpoint(t *testing.T) {
	s := testServer(t, nil)
	do(s, http.MethodGet, "/healthz", nil)

	w := do(s, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `termsnap_http_requests_total{method="GET",path="/healthz",status="200"} 1`)
}
