// Package server exposes a backend.Client over HTTP so several devices can share
// one store and follow its change feed.
package server

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/julianstephens/habitsync/internal/backend"
	"github.com/julianstephens/habitsync/internal/constants"
	"github.com/julianstephens/habitsync/internal/logger"
)

type Server struct {
	client    backend.Client
	token     string
	metrics   MetricsProviderInterface
	heartbeat time.Duration
	router    *mux.Router
}

type Option func(*Server)

// WithToken requires "Authorization: Bearer <token>" on every /v1 request.
func WithToken(token string) Option {
	return func(s *Server) { s.token = token }
}

// WithMetrics replaces the metrics provider. Pass nil to disable metrics.
func WithMetrics(m MetricsProviderInterface) Option {
	return func(s *Server) {
		if m == nil {
			m = &noopMetrics{}
		}
		s.metrics = m
	}
}

// WithHeartbeat sets the interval of keep-alive comments on realtime streams.
func WithHeartbeat(d time.Duration) Option {
	return func(s *Server) { s.heartbeat = d }
}

func New(client backend.Client, opts ...Option) *Server {
	s := &Server{
		client:    client,
		heartbeat: 15 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = NewMetricsProvider()
	}
	s.router = s.newRouter()
	return s
}

func (s *Server) newRouter() *mux.Router {
	r := mux.NewRouter()
	r.Use(MetricsMiddleware(s.metrics))

	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if _, err := fmt.Fprintln(w, "OK"); err != nil {
			logger.Debug("health write failed", "error", err)
		}
	}).Methods(http.MethodGet)
	r.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)

	v1 := r.PathPrefix("/v1").Subrouter()
	v1.Use(s.authMiddleware)
	v1.HandleFunc("/collections/{collection}/documents", s.listDocuments).Methods(http.MethodGet)
	v1.HandleFunc("/collections/{collection}/documents", s.createDocument).Methods(http.MethodPost)
	v1.HandleFunc("/collections/{collection}/documents/{id}", s.updateDocument).Methods(http.MethodPatch)
	v1.HandleFunc("/collections/{collection}/documents/{id}", s.deleteDocument).Methods(http.MethodDelete)
	r.Handle(constants.ServerRealtimeEndpoint, s.authMiddleware(http.HandlerFunc(s.realtime))).Methods(http.MethodGet)

	return r
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("document server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("failed to shut down server: %w", err)
		}
		return nil
	}
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.token == "" {
			next.ServeHTTP(w, r)
			return
		}
		got, ok := strings.CutPrefix(r.Header.Get(constants.ServerTokenHeader), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(got), []byte(s.token)) != 1 {
			writeJSON(w, http.StatusUnauthorized, errorBody("unauthorized", "missing or invalid token"))
			return
		}
		next.ServeHTTP(w, r)
	})
}
