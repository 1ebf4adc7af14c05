package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/shaharia-lab/pendulum/internal/assets"
	"github.com/shaharia-lab/pendulum/internal/metrics"
	"github.com/shaharia-lab/pendulum/internal/telemetry"
)

// Options configures a Server. Zero values disable the optional parts.
type Options struct {
	Addr         string
	Assets       *assets.Handler
	StaticPrefix string
	Logger       *slog.Logger

	// AccessLog receives one line per request. Nil disables access logging.
	AccessLog io.Writer
	// CORSOrigins enables CORS for the listed origins.
	CORSOrigins []string
	// TrustedProxies lists the peers (IPs or CIDRs) whose X-Forwarded-For and
	// X-Real-IP headers are honored. Empty means forwarded headers are ignored.
	TrustedProxies []string
	RateLimit      RateLimitConfig

	Metrics   *metrics.Metrics
	Telemetry *telemetry.Telemetry
}

// Server is the HTTP server for the frontend.
type Server struct {
	assets     *assets.Handler
	logger     *slog.Logger
	limiter    *RateLimiter
	handler    http.Handler
	httpServer *http.Server
}

// New creates a new Server and builds its router.
func New(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		assets: opts.Assets,
		logger: logger,
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(NewTrustedProxies(opts.TrustedProxies).Middleware)
	r.Use(s.requestLogger)
	if opts.AccessLog != nil {
		r.Use(newAccessLogger(opts.AccessLog).Middleware)
	}
	if opts.RateLimit.RequestsPerSecond > 0 {
		s.limiter = NewRateLimiter(opts.RateLimit)
		r.Use(s.limiter.Middleware)
	}
	if len(opts.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: opts.CORSOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodHead, http.MethodOptions},
			MaxAge:         300,
		}))
	}
	r.Use(middleware.SetHeader("X-Content-Type-Options", "nosniff"))
	r.Use(middleware.SetHeader("X-Frame-Options", "DENY"))
	r.Use(middleware.SetHeader("Referrer-Policy", "strict-origin-when-cross-origin"))
	r.Use(compressUnlessRange)

	// Health check
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeStatus(w, http.StatusOK, "ok")
	})
	r.Get("/ready", s.handleReady)

	if opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", opts.Metrics.Handler())
	}

	// Index route and static asset mount
	index := opts.Assets.Index()
	r.Get("/", index)
	r.Head("/", index)

	static := http.StripPrefix(opts.StaticPrefix, opts.Assets.Static())
	r.Method(http.MethodGet, opts.StaticPrefix+"/*", static)
	r.Method(http.MethodHead, opts.StaticPrefix+"/*", static)

	s.handler = opts.Telemetry.Middleware(r)
	s.httpServer = &http.Server{
		Addr:              opts.Addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the fully wrapped router.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Run starts the HTTP server and blocks until ctx is canceled.
func (s *Server) Run(ctx context.Context) error {
	lc := &net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.httpServer.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is canceled, then shuts down
// gracefully.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	defer s.limiter.Close()

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.logger.Info("shutting down server")
		return s.httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	if err := s.assets.Ready(); err != nil {
		s.logger.Warn("not ready", "error", err)
		writeStatus(w, http.StatusServiceUnavailable, "unavailable")
		return
	}
	writeStatus(w, http.StatusOK, "ok")
}

func writeStatus(w http.ResponseWriter, code int, status string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = fmt.Fprintf(w, `{"status":%q}`, status)
}

// compressUnlessRange gzips responses except for range requests, whose
// Content-Range must describe the unencoded file.
func compressUnlessRange(next http.Handler) http.Handler {
	compressed := middleware.Compress(5)(next)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Range") != "" {
			next.ServeHTTP(w, r)
			return
		}
		compressed.ServeHTTP(w, r)
	})
}

// requestLogger is a chi middleware that logs each incoming request.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("http request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", ww.Status()),
			slog.Int("bytes", ww.BytesWritten()),
			slog.Duration("duration", time.Since(start)),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}
