// Package server exposes the generation service over HTTP.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"git.home.luguber.info/inful/bookbinder/internal/catalog"
	"git.home.luguber.info/inful/bookbinder/internal/eventstore"
	"git.home.luguber.info/inful/bookbinder/internal/generate"
	"git.home.luguber.info/inful/bookbinder/internal/storage"
)

// Server is the HTTP front of the generation service.
type Server struct {
	addr    string
	service *generate.Service
	events  eventstore.Store
	store   storage.ObjectStore
	catalog catalog.Store
	httpSrv *http.Server
	metrics *prometheus.Registry
}

// New wires the HTTP server. The metrics registry may be nil to disable the
// /metrics endpoint.
func New(addr string, service *generate.Service, events eventstore.Store, store storage.ObjectStore, cat catalog.Store, metrics *prometheus.Registry) *Server {
	return &Server{
		addr:    addr,
		service: service,
		events:  events,
		store:   store,
		catalog: cat,
		metrics: metrics,
	}
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/jobs", s.handleSubmitJob)
	mux.HandleFunc("GET /api/jobs/{id}", s.handleGetJob)
	mux.HandleFunc("GET /api/jobs/{id}/events", s.handleJobEvents)
	mux.HandleFunc("GET /api/jobs/{id}/output", s.handleGetOutput)
	mux.HandleFunc("POST /api/assets", s.handleUploadAsset)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	if s.metrics != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(s.metrics, promhttp.HandlerOpts{}))
	}
	return chain(slog.Default())(mux)
}

// Start binds the listen address and serves in the background. Binding
// happens up front so startup fails fast on an occupied port.
func (s *Server) Start(ctx context.Context) error {
	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", s.addr)
	if err != nil {
		return fmt.Errorf("bind %s: %w", s.addr, err)
	}

	s.httpSrv = &http.Server{
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := s.httpSrv.Serve(ln); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
		}
	}()
	slog.Info("HTTP server started", "addr", s.addr)
	return nil
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	if err := s.httpSrv.Shutdown(ctx); err != nil {
		return fmt.Errorf("http server shutdown: %w", err)
	}
	slog.Info("HTTP server stopped")
	return nil
}
