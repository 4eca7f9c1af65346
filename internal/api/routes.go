package api

import (
	"fmt"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"notifyreplay/internal/types"
)

// mountRoutes registers middleware and endpoints.
//
// Ordering:
//  1. Recoverer     - outermost, catches panics from everything below.
//  2. RequestID     - correlation id for logs and error bodies.
//  3. RequestLogger - one line per request.
//  4. APIKeyAuth    - /v1 only; /health stays public.
func (s *Server) mountRoutes() {
	s.router.Use(s.Recoverer)
	s.router.Use(RequestIDMiddleware)
	s.router.Use(s.RequestLogger)

	s.router.Get("/health", s.HandleHealth)

	s.router.Route("/v1", func(r chi.Router) {
		r.Use(s.APIKeyAuth)
		r.Post("/replays", s.HandleCreateReplay)
		r.Get("/replays/{runID}/attempts", s.HandleListAttempts)
	})
}

// RequestIDMiddleware propagates X-Request-Id or generates one.
func RequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-Id")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		ctx := types.WithRequestID(r.Context(), requestID)
		w.Header().Set("X-Request-Id", requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// responseCapture wraps an http.ResponseWriter to capture the status code
// written by downstream handlers.
type responseCapture struct {
	http.ResponseWriter
	statusCode int
	written    bool
}

func (rc *responseCapture) WriteHeader(code int) {
	if !rc.written {
		rc.statusCode = code
		rc.written = true
	}
	rc.ResponseWriter.WriteHeader(code)
}

func (rc *responseCapture) Write(b []byte) (int, error) {
	if !rc.written {
		rc.statusCode = http.StatusOK
		rc.written = true
	}
	return rc.ResponseWriter.Write(b)
}

func (rc *responseCapture) Unwrap() http.ResponseWriter {
	return rc.ResponseWriter
}

// RequestLogger stores a request-scoped logger in the context and logs
// method, path, status and duration of every request. Header values are
// never logged.
func (s *Server) RequestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rc := &responseCapture{ResponseWriter: w, statusCode: http.StatusOK}

		logger := s.logger.With("request_id", types.GetRequestID(r.Context()))
		next.ServeHTTP(rc, r.WithContext(types.WithLogger(r.Context(), logger)))

		args := []any{
			"method", r.Method,
			"path", r.URL.Path,
			"status", rc.statusCode,
			"duration", time.Since(start).String(),
		}
		switch {
		case rc.statusCode >= 500:
			logger.Error("request completed", args...)
		case rc.statusCode >= 400:
			logger.Warn("request completed", args...)
		default:
			logger.Info("request completed", args...)
		}
	})
}

// loggerFor returns the request-scoped logger, falling back to the server's.
func (s *Server) loggerFor(r *http.Request) types.Logger {
	if l := types.LoggerFromContext(r.Context()); l != nil {
		return l
	}
	return s.logger
}

// Recoverer converts panics into a 500 error response.
func (s *Server) Recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rvr := recover(); rvr != nil {
				s.logger.Error("panic recovered",
					"method", r.Method,
					"path", r.URL.Path,
					"panic", fmt.Sprintf("%v", rvr),
					"stack", string(debug.Stack()),
				)
				Error(w, r, fmt.Errorf("panic: %v", rvr))
			}
		}()
		next.ServeHTTP(w, r)
	})
}
