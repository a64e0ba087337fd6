package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/notion-mirror/internal/auth"
	"github.com/JakeFAU/notion-mirror/internal/content"
	"github.com/JakeFAU/notion-mirror/internal/metrics"
	"github.com/JakeFAU/notion-mirror/internal/ratelimit"
)

// DefaultServiceName is reported by the health endpoint.
const DefaultServiceName = "notion-mirror"

// ContentService serves composed payloads.
type ContentService interface {
	Get(ctx context.Context, preview, force bool) (*content.Payload, error)
}

// SnapshotService keeps the draft and published snapshots.
type SnapshotService interface {
	SetDraft(ctx context.Context, payload *content.Payload) (*content.Snapshot, error)
	PublishDraft(ctx context.Context) (*content.Snapshot, error)
	GetDraft(ctx context.Context) (*content.Snapshot, error)
	GetPublished(ctx context.Context) (*content.Snapshot, error)
}

// Options wires the server to its collaborators.
type Options struct {
	Content   ContentService
	Snapshots SnapshotService
	Gate      *auth.Gate
	Limiter   *ratelimit.Limiter
	// Missing reports absent remote settings; requests needing them fail with 400.
	Missing        func() []string
	PublicOrigin   string
	RequestTimeout time.Duration
	Service        string
	Logger         *zap.Logger
}

// Server wires HTTP handlers to the cache and snapshot store.
type Server struct {
	router    chi.Router
	content   ContentService
	snapshots SnapshotService
	gate      *auth.Gate
	limiter   *ratelimit.Limiter
	missing   func() []string
	origin    string
	service   string
	logger    *zap.Logger
	now       func() time.Time
}

var knownRoutes = []string{
	"GET /api/health",
	"GET /api/inblog/content",
	"GET /api/inblog/published",
	"POST /api/inblog/refresh",
	"POST /api/admin/login",
	"POST /api/admin/logout",
	"GET /api/admin/session",
	"GET /api/admin/content",
	"POST /api/admin/sync",
	"POST /api/admin/publish",
	"GET /metrics",
}

// NewServer constructs a Server with middleware and routes.
func NewServer(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		content:   opts.Content,
		snapshots: opts.Snapshots,
		gate:      opts.Gate,
		limiter:   opts.Limiter,
		missing:   opts.Missing,
		origin:    opts.PublicOrigin,
		service:   opts.Service,
		logger:    logger,
		now:       time.Now,
	}
	if s.gate == nil {
		s.gate = auth.New(auth.Config{})
	}
	if s.limiter == nil {
		s.limiter = ratelimit.New(ratelimit.Config{})
	}
	if s.missing == nil {
		s.missing = func() []string { return nil }
	}
	if s.origin == "" {
		s.origin = "*"
	}
	if s.service == "" {
		s.service = DefaultServiceName
	}
	timeout := opts.RequestTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metrics.Middleware)
	r.Use(corsMiddleware(s.origin))
	r.Use(timeoutMiddleware(timeout))

	r.NotFound(s.notFound)
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
	})

	r.Get("/api/health", s.health)
	r.Get("/metrics", metrics.Handler().ServeHTTP)

	r.Route("/api/inblog", func(r chi.Router) {
		r.Get("/content", s.getContent)
		r.Get("/published", s.getPublished)
		r.With(s.gate.Require).Post("/refresh", s.refresh)
	})

	r.Route("/api/admin", func(r chi.Router) {
		r.Use(noStore)
		r.Post("/login", s.login)
		r.Post("/logout", s.logout)
		r.Get("/session", s.session)
		r.Group(func(r chi.Router) {
			r.Use(s.gate.Require)
			r.Get("/content", s.adminContent)
			r.Post("/sync", s.sync)
			r.Post("/publish", s.publish)
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) notFound(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusNotFound, map[string]any{
		"ok":     false,
		"error":  "Not found",
		"routes": knownRoutes,
	})
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequestID returns the id assigned to the request carrying ctx.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			logger.Info("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Int64("duration_ms", time.Since(start).Milliseconds()),
				zap.String("request_id", RequestID(r.Context())),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered", zap.Any("error", rec), zap.String("path", r.URL.Path))
					writeError(w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// corsMiddleware sets the cross-origin and hardening headers and answers preflights.
func corsMiddleware(origin string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
			h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			if origin != "*" {
				h.Set("Access-Control-Allow-Credentials", "true")
				h.Add("Vary", "Origin")
			}
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("Referrer-Policy", "no-referrer")
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, `{"ok":false,"error":"request timed out"}`)
	}
}

func noStore(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-store")
		next.ServeHTTP(w, r)
	})
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}

type requestIDKey struct{}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"ok": false, "error": msg})
}

// writeBuildError maps a refresh failure to its HTTP status.
func writeBuildError(w http.ResponseWriter, err error) {
	var cfgErr *content.ConfigurationError
	if errors.As(err, &cfgErr) {
		writeMissing(w, cfgErr.Missing)
		return
	}
	writeError(w, http.StatusInternalServerError, err.Error())
}

func writeMissing(w http.ResponseWriter, missing []string) {
	writeJSON(w, http.StatusBadRequest, map[string]any{
		"ok":      false,
		"error":   "Missing required environment variables",
		"missing": missing,
	})
}
