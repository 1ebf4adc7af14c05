package server

import (
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5/middleware"
)

// accessLogger writes one combined-log-like line per request:
//
//	timestamp client_ip "method path" status bytes duration_ms "user-agent" request_id
type accessLogger struct {
	mu sync.Mutex
	w  io.Writer
}

func newAccessLogger(w io.Writer) *accessLogger {
	return &accessLogger{w: w}
}

func (a *accessLogger) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		line := fmt.Sprintf("%s %s \"%s %s\" %d %d %dms \"%s\" %s\n",
			start.UTC().Format(time.RFC3339),
			clientIP(r),
			r.Method,
			escapeQuotes(r.URL.RequestURI()),
			status,
			ww.BytesWritten(),
			time.Since(start).Milliseconds(),
			escapeQuotes(r.UserAgent()),
			middleware.GetReqID(r.Context()),
		)

		a.mu.Lock()
		_, _ = io.WriteString(a.w, line)
		a.mu.Unlock()
	})
}

var quoteEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\n`)

func escapeQuotes(s string) string {
	return quoteEscaper.Replace(s)
}
