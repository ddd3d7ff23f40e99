// SPDX-License-Identifier: MIT

package api

import (
	"net/http"
	"runtime"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/streamjuke/streamjuke/internal/auth"
	"github.com/streamjuke/streamjuke/internal/log"
)

// Adapter-facing headers.
const (
	HeaderRequestID = "X-Request-ID"
	HeaderRole      = "X-Juke-Role"
)

// requestID adds a unique ID to every request and echoes it back.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get(HeaderRequestID)
		if reqID == "" {
			reqID = uuid.New().String()
		}
		w.Header().Set(HeaderRequestID, reqID)
		ctx := log.ContextWithRequestID(r.Context(), reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// recoverer ensures that panics inside any downstream handler do not crash
// the process. It logs the panic with context and returns a 500 JSON body.
func recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				buf := make([]byte, 8192)
				n := runtime.Stack(buf, false)

				logger := log.WithComponentFromContext(r.Context(), "panic-recovery")
				logger.Error().
					Str("event", "panic.recovered").
					Str("method", r.Method).
					Str("path", r.URL.Path).
					Str("remote_addr", r.RemoteAddr).
					Interface("panic_value", rec).
					Str("stack_trace", string(buf[:n])).
					Msg("panic recovered in HTTP handler")

				respondError(w, r, http.StatusInternalServerError, codeInternal, "an unexpected error occurred")
			}
		}()

		next.ServeHTTP(w, r)
	})
}

// securityHeaders adds common hardening headers. The surface is JSON-only,
// so the CSP forbids everything.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "no-referrer")
		next.ServeHTTP(w, r)
	})
}

// accessLog emits one structured line per request. Probe endpoints log at
// debug to keep the info stream readable.
func accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		logger := log.WithComponentFromContext(r.Context(), "api")
		evt := logger.Info()
		if isProbePath(r.URL.Path) {
			evt = logger.Debug()
		}
		evt.
			Str("event", "http.request").
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration", time.Since(start)).
			Str("remote_addr", r.RemoteAddr).
			Msg("request completed")
	})
}

func isProbePath(path string) bool {
	switch path {
	case "/healthz", "/readyz", "/metrics":
		return true
	}
	return false
}

// requireToken enforces bearer-token authentication for the adapter
// surface. An empty configured token leaves the surface open, which pairs
// with the loopback bind default.
func (s *Server) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.Token == "" {
			next.ServeHTTP(w, r)
			return
		}

		if !auth.AuthorizeRequest(r, s.cfg.Token) {
			log.WithComponentFromContext(r.Context(), "auth").Warn().
				Str("event", "auth.invalid_token").
				Str("remote_addr", r.RemoteAddr).
				Msg("missing or invalid api token")
			respondError(w, r, http.StatusUnauthorized, codeUnauthorized, "missing or invalid bearer token")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// roleFromRequest reads the adapter-asserted role header. Unknown or absent
// values downgrade to viewer.
func roleFromRequest(r *http.Request) auth.Role {
	return auth.ParseRole(r.Header.Get(HeaderRole))
}
