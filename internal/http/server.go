// Package http exposes the JSON API: authentication, expense CRUD,
// export/import and summaries.
package http

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"spendtrack/internal/auth"
	"spendtrack/internal/cache"
	"spendtrack/internal/core"
	"spendtrack/internal/repository"
)

type ctxKey int

const (
	ctxKeyRequestID ctxKey = iota
	ctxKeySession
)

type Server struct {
	http.Server

	repo        repository.ExpenseRepository
	authSvc     *auth.Service
	rateLimiter *rateLimiter

	// Per-user summary responses, invalidated on mutation.
	categoryCache *cache.LRUCache[[]core.CategoryTotal]
	monthCache    *cache.LRUCache[[]core.MonthTotal]
	janitor       *cache.Janitor

	shutdownOnce sync.Once
}

// NewServer configures routes and middleware, returning a ready-to-run
// http.Server.
func NewServer(addr string, repo repository.ExpenseRepository, authSvc *auth.Service) *Server {
	mux := http.NewServeMux()

	s := &Server{
		Server: http.Server{
			Addr:    addr,
			Handler: mux,
		},
		repo:          repo,
		authSvc:       authSvc,
		rateLimiter:   newRateLimiter(),
		categoryCache: cache.NewLRU[[]core.CategoryTotal](200, 5*time.Minute),
		monthCache:    cache.NewLRU[[]core.MonthTotal](200, 5*time.Minute),
		janitor:       cache.NewJanitor(),
	}

	s.janitor.Register(s.categoryCache)
	s.janitor.Register(s.monthCache)
	s.janitor.Start(10 * time.Minute)

	mux.HandleFunc("/healthz", handleHealth)
	mux.HandleFunc("/readyz", handleReady)

	mux.HandleFunc("POST /auth/signup", s.trace(s.handleSignup))
	mux.HandleFunc("POST /auth/login", s.trace(s.handleLogin))
	mux.HandleFunc("POST /auth/google", s.trace(s.handleGoogleLogin))
	mux.HandleFunc("POST /auth/logout", s.trace(s.requireSession(s.handleLogout)))
	mux.HandleFunc("GET /auth/me", s.trace(s.requireSession(s.handleMe)))
	mux.HandleFunc("GET /auth/users", s.trace(s.requireSession(s.handleListUsers)))

	mux.HandleFunc("GET /api/expenses", s.trace(s.requireSession(s.handleListExpenses)))
	mux.HandleFunc("POST /api/expenses", s.trace(s.requireSession(s.handleCreateExpense)))
	mux.HandleFunc("PUT /api/expenses/{id}", s.trace(s.requireSession(s.handleUpdateExpense)))
	mux.HandleFunc("DELETE /api/expenses/{id}", s.trace(s.requireSession(s.handleDeleteExpense)))
	mux.HandleFunc("DELETE /api/expenses", s.trace(s.requireSession(s.handleDeleteAllExpenses)))

	mux.HandleFunc("GET /api/expenses/export", s.trace(s.requireSession(s.handleExport)))
	mux.HandleFunc("POST /api/expenses/import", s.trace(s.requireSession(s.handleImport)))

	mux.HandleFunc("GET /api/summary/categories", s.trace(s.requireSession(s.handleCategorySummary)))
	mux.HandleFunc("GET /api/summary/months", s.trace(s.requireSession(s.handleMonthSummary)))

	return s
}

// Shutdown gracefully shuts down the server and its background
// routines.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		s.janitor.Stop()
		s.rateLimiter.stop()
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}

// trace adds security headers, rate limiting and request logging.
func (s *Server) trace(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		clientIP := extractClientIP(r)
		requestID := generateRequestID()

		ctx := context.WithValue(r.Context(), ctxKeyRequestID, requestID)
		r = r.WithContext(ctx)

		slog.InfoContext(ctx, "Request started",
			"request_id", requestID,
			"method", r.Method,
			"url", r.URL.Path,
			"client_ip", clientIP)

		if isMutation(r.Method) && !s.rateLimiter.allow(clientIP) {
			slog.WarnContext(ctx, "Rate limit exceeded", "client_ip", clientIP, "url", r.URL.Path)
			w.Header().Set("Retry-After", "60")
			http.Error(w, "Rate limit exceeded. Please try again later.", http.StatusTooManyRequests)
			return
		}

		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")

		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next(rw, r)

		slog.InfoContext(ctx, "Request completed",
			"request_id", requestID,
			"method", r.Method,
			"url", r.URL.Path,
			"status", rw.statusCode,
			"duration_ms", time.Since(start).Milliseconds())
	}
}

func isMutation(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodDelete:
		return true
	}
	return false
}

// requireSession validates the bearer token and attaches an
// authenticated session to the request context.
func (s *Server) requireSession(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			writeError(w, r, core.ErrUnauthenticated)
			return
		}
		user, err := s.authSvc.CurrentUser(r.Context(), token)
		if err != nil {
			writeError(w, r, err)
			return
		}
		session := auth.NewAuthenticated(user, token)
		ctx := context.WithValue(r.Context(), ctxKeySession, session)
		next(w, r.WithContext(ctx))
	}
}

func sessionFrom(r *http.Request) *auth.Session {
	if session, ok := r.Context().Value(ctxKeySession).(*auth.Session); ok {
		return session
	}
	return auth.NewSession()
}

// responseWriter wraps http.ResponseWriter to capture the status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// generateRequestID creates a unique request ID for tracing
func generateRequestID() string {
	bytes := make([]byte, 8)
	if _, err := rand.Read(bytes); err != nil {
		return fmt.Sprintf("req_%d", time.Now().UnixNano())
	}
	return "req_" + hex.EncodeToString(bytes)
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func handleReady(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

// invalidateSummaries drops the user's cached summary responses after a
// mutation.
func (s *Server) invalidateSummaries(userID string) {
	s.categoryCache.DeletePrefix(userID + ":")
	s.monthCache.DeletePrefix(userID + ":")
}
