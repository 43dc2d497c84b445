// Package opsserver provides the ambient operational HTTP surface:
// liveness/readiness probes and a JSON status snapshot, for deployments
// that run the Classification Worker as a long-lived service.
package opsserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"visualtweets/internal/config"
)

// Server is the ops HTTP surface, built on a chi router with request
// middleware and a CORS handler.
type Server struct {
	server *http.Server
	ready  *atomic.Bool
}

// New builds an ops Server bound to cfg.Host:cfg.Port.
func New(cfg config.ServerConfig) *Server {
	ready := &atomic.Bool{}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(60 * time.Second))
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CorsOrigins,
		AllowedMethods:   []string{"GET"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("OK"))
	})

	router.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if !ready.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("not ready"))
			return
		}
		w.Write([]byte("OK"))
	})

	router.Get("/status", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"ready": ready.Load(),
			"time":  time.Now().UTC(),
		})
	})

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return &Server{server: httpServer, ready: ready}
}

// MarkReady flips the readiness probe to healthy, once startup (e.g. the
// first successful queue connection) has completed.
func (s *Server) MarkReady() {
	s.ready.Store(true)
}

// ListenAndServe starts the HTTP server; it returns http.ErrServerClosed
// on a clean Shutdown.
func (s *Server) ListenAndServe() error {
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
