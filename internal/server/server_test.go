package server_test

import (
	"bytes"
	"compress/gzip"
	"context"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaharia-lab/pendulum/internal/assets"
	"github.com/shaharia-lab/pendulum/internal/metrics"
	"github.com/shaharia-lab/pendulum/internal/server"
	"github.com/shaharia-lab/pendulum/internal/telemetry"
)

const (
	indexHTML = "<!DOCTYPE html><html><body>pendulum</body></html>"
	appJS     = "const canvas = document.getElementById('pendulum-canvas');"
)

var largeCSS = strings.Repeat("canvas { background: #1b1b1b; }\n", 200)

func testFS() fstest.MapFS {
	return fstest.MapFS{
		"index.html": {Data: []byte(indexHTML)},
		"app.js":     {Data: []byte(appJS)},
		"style.css":  {Data: []byte(largeCSS)},
	}
}

func newServer(t *testing.T, fsys fstest.MapFS, mutate func(*server.Options)) *server.Server {
	t.Helper()
	opts := server.Options{
		Addr:         "127.0.0.1:0",
		Assets:       assets.New(fsys, "index.html", slog.Default(), nil),
		StaticPrefix: "/static",
		Logger:       slog.Default(),
	}
	if mutate != nil {
		mutate(&opts)
	}
	return server.New(opts)
}

func do(s *server.Server, r *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, r)
	return w
}

func get(s *server.Server, target string) *httptest.ResponseRecorder {
	return do(s, httptest.NewRequest(http.MethodGet, target, nil))
}

func TestRoutes(t *testing.T) {
	s := newServer(t, testFS(), nil)

	tests := []struct {
		name       string
		method     string
		path       string
		wantStatus int
		wantBody   string
	}{
		{"index", http.MethodGet, "/", http.StatusOK, indexHTML},
		{"static file", http.MethodGet, "/static/app.js", http.StatusOK, appJS},
		{"static index by name", http.MethodGet, "/static/index.html", http.StatusOK, indexHTML},
		{"missing static file", http.MethodGet, "/static/missing.js", http.StatusNotFound, "404 page not found\n"},
		{"mount root", http.MethodGet, "/static/", http.StatusNotFound, "404 page not found\n"},
		{"unknown route", http.MethodGet, "/app.js", http.StatusNotFound, "404 page not found\n"},
		{"health", http.MethodGet, "/health", http.StatusOK, `{"status":"ok"}`},
		{"ready", http.MethodGet, "/ready", http.StatusOK, `{"status":"ok"}`},
		{"post index", http.MethodPost, "/", http.StatusMethodNotAllowed, ""},
		{"head static", http.MethodHead, "/static/app.js", http.StatusOK, ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			w := do(s, httptest.NewRequest(tc.method, tc.path, nil))
			assert.Equal(t, tc.wantStatus, w.Code)
			if tc.wantBody != "" {
				assert.Equal(t, tc.wantBody, w.Body.String())
			}
		})
	}
}

func TestSecurityHeaders(t *testing.T) {
	s := newServer(t, testFS(), nil)
	w := get(s, "/")

	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
	assert.Equal(t, "strict-origin-when-cross-origin", w.Header().Get("Referrer-Policy"))
}

func TestReady_MissingIndex(t *testing.T) {
	fsys := testFS()
	delete(fsys, "index.html")
	s := newServer(t, fsys, nil)

	w := get(s, "/ready")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.JSONEq(t, `{"status":"unavailable"}`, w.Body.String())

	assert.Equal(t, http.StatusNotFound, get(s, "/").Code)
}

func TestStatic_TraversalThroughRouter(t *testing.T) {
	base := t.TempDir()
	frontend := filepath.Join(base, "frontend")
	require.NoError(t, os.Mkdir(frontend, 0750))
	require.NoError(t, os.WriteFile(filepath.Join(frontend, "index.html"), []byte(indexHTML), 0600))
	require.NoError(t, os.WriteFile(filepath.Join(base, "secret"), []byte("top secret"), 0600))

	fsys, closer, err := assets.OpenDir(frontend)
	require.NoError(t, err)
	defer closer.Close()

	s := server.New(server.Options{
		Assets:       assets.New(fsys, "index.html", nil, nil),
		StaticPrefix: "/static",
	})

	for _, target := range []string{
		"/static/../secret",
		"/static/%2e%2e/secret",
		"/static/%2e%2e%2fsecret",
		"/static/./../../secret",
	} {
		t.Run(target, func(t *testing.T) {
			w := get(s, target)
			assert.Equal(t, http.StatusNotFound, w.Code)
			assert.NotContains(t, w.Body.String(), "top secret")
		})
	}
}

func TestCompression(t *testing.T) {
	s := newServer(t, testFS(), nil)

	r := httptest.NewRequest(http.MethodGet, "/static/style.css", nil)
	r.Header.Set("Accept-Encoding", "gzip")
	w := do(s, r)

	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "gzip", w.Header().Get("Content-Encoding"))

	zr, err := gzip.NewReader(bytes.NewReader(w.Body.Bytes()))
	require.NoError(t, err)
	body, err := io.ReadAll(zr)
	require.NoError(t, err)
	assert.Equal(t, largeCSS, string(body))
}

func TestCompression_SkipsRangeRequests(t *testing.T) {
	s := newServer(t, testFS(), nil)

	r := httptest.NewRequest(http.MethodGet, "/static/style.css", nil)
	r.Header.Set("Accept-Encoding", "gzip")
	r.Header.Set("Range", "bytes=100-199")
	w := do(s, r)

	require.Equal(t, http.StatusPartialContent, w.Code)
	assert.Empty(t, w.Header().Get("Content-Encoding"))
	assert.Equal(t, "bytes 100-199/"+strconv.Itoa(len(largeCSS)), w.Header().Get("Content-Range"))
	assert.Equal(t, "100", w.Header().Get("Content-Length"))
	assert.Equal(t, largeCSS[100:200], w.Body.String())
}

func TestCORS(t *testing.T) {
	t.Run("disabled by default", func(t *testing.T) {
		s := newServer(t, testFS(), nil)
		r := httptest.NewRequest(http.MethodGet, "/static/app.js", nil)
		r.Header.Set("Origin", "https://example.com")
		w := do(s, r)
		assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("allowed origin", func(t *testing.T) {
		s := newServer(t, testFS(), func(o *server.Options) {
			o.CORSOrigins = []string{"https://example.com"}
		})

		r := httptest.NewRequest(http.MethodOptions, "/static/app.js", nil)
		r.Header.Set("Origin", "https://example.com")
		r.Header.Set("Access-Control-Request-Method", http.MethodGet)
		w := do(s, r)
		assert.Equal(t, "https://example.com", w.Header().Get("Access-Control-Allow-Origin"))

		r = httptest.NewRequest(http.MethodGet, "/static/app.js", nil)
		r.Header.Set("Origin", "https://other.example")
		w = do(s, r)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
	})
}

func TestRateLimit(t *testing.T) {
	s := newServer(t, testFS(), func(o *server.Options) {
		o.RateLimit = server.RateLimitConfig{RequestsPerSecond: 1, Burst: 2}
	})

	assert.Equal(t, http.StatusOK, get(s, "/").Code)
	assert.Equal(t, http.StatusOK, get(s, "/").Code)

	w := get(s, "/")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "1", w.Header().Get("Retry-After"))

	// A different client has its own budget.
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "198.51.100.7:4000"
	assert.Equal(t, http.StatusOK, do(s, r).Code)
}

func TestRateLimit_IgnoresForwardedHeadersFromUntrustedPeer(t *testing.T) {
	s := newServer(t, testFS(), func(o *server.Options) {
		o.RateLimit = server.RateLimitConfig{RequestsPerSecond: 1, Burst: 1}
	})

	var limited int
	for i := range 20 {
		r := httptest.NewRequest(http.MethodGet, "/static/app.js", nil)
		r.Header.Set("X-Forwarded-For", "10.0.0."+strconv.Itoa(i))
		r.Header.Set("X-Real-IP", "10.0.1."+strconv.Itoa(i))
		if do(s, r).Code == http.StatusTooManyRequests {
			limited++
		}
	}
	assert.Equal(t, 19, limited)
}

func TestRateLimit_TrustedProxy(t *testing.T) {
	s := newServer(t, testFS(), func(o *server.Options) {
		o.TrustedProxies = []string{"192.0.2.0/24"}
		o.RateLimit = server.RateLimitConfig{RequestsPerSecond: 1, Burst: 1}
	})

	// httptest requests come from 192.0.2.1, so each forwarded client gets
	// its own budget.
	for _, client := range []string{"203.0.113.1", "203.0.113.2"} {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.Header.Set("X-Forwarded-For", client+", 192.0.2.1")
		assert.Equal(t, http.StatusOK, do(s, r).Code, client)
	}

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("X-Forwarded-For", "203.0.113.1")
	assert.Equal(t, http.StatusTooManyRequests, do(s, r).Code)
}

func TestAccessLog(t *testing.T) {
	var buf bytes.Buffer
	s := newServer(t, testFS(), func(o *server.Options) {
		o.AccessLog = &buf
	})

	r := httptest.NewRequest(http.MethodGet, "/static/app.js?v=1", nil)
	r.Header.Set("User-Agent", `curl "test"`)
	get(s, "/static/missing.js")
	do(s, r)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], `"GET /static/missing.js" 404`)
	assert.Contains(t, lines[1], `"GET /static/app.js?v=1" 200`)
	assert.Contains(t, lines[1], `"curl \"test\""`)
	assert.Contains(t, lines[1], "192.0.2.1")
}

func TestMetrics(t *testing.T) {
	m := metrics.New()
	s := newServer(t, testFS(), func(o *server.Options) {
		o.Assets = assets.New(testFS(), "index.html", nil, m)
		o.Metrics = m
	})

	get(s, "/")
	get(s, "/static/app.js")
	get(s, "/static/nope.js")

	w := get(s, "/metrics")
	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, `pendulum_asset_requests_total{result="ok",route="index"} 1`)
	assert.Contains(t, body, `pendulum_asset_requests_total{result="ok",route="static"} 1`)
	assert.Contains(t, body, `pendulum_asset_requests_total{result="not_found",route="static"} 1`)
}

func TestMetrics_Disabled(t *testing.T) {
	s := newServer(t, testFS(), nil)
	assert.Equal(t, http.StatusNotFound, get(s, "/metrics").Code)
}

func TestTelemetry_HTTPMetrics(t *testing.T) {
	m := metrics.New()
	tel, err := telemetry.Setup(context.Background(), telemetry.Config{
		ServiceName: "pendulum",
		Registerer:  m.Registerer(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = tel.Shutdown(context.Background()) })

	s := newServer(t, testFS(), func(o *server.Options) {
		o.Metrics = m
		o.Telemetry = tel
	})

	require.Equal(t, http.StatusOK, get(s, "/").Code)
	assert.Contains(t, get(s, "/metrics").Body.String(), "http_server_request")
}

func TestServe_GracefulShutdown(t *testing.T) {
	s := newServer(t, testFS(), func(o *server.Options) {
		o.RateLimit = server.RateLimitConfig{RequestsPerSecond: 100, Burst: 100}
	})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- s.Serve(ctx, ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/static/app.js")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, appJS, string(body))

	cancel()
	assert.NoError(t, <-errCh)
}

func TestRun_ListenError(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	s := newServer(t, testFS(), func(o *server.Options) {
		o.Addr = ln.Addr().String()
	})
	err = s.Run(context.Background())
	assert.ErrorContains(t, err, "listening on")
}
