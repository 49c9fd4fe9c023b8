// Package server exposes the payment surfaces over HTTP.
package server

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gaspardpetit/detpay/internal/clientcfg"
	"github.com/gaspardpetit/detpay/internal/clientstore"
	"github.com/gaspardpetit/detpay/internal/config"
	"github.com/gaspardpetit/detpay/internal/logx"
	"github.com/gaspardpetit/detpay/internal/metrics"
	"github.com/gaspardpetit/detpay/internal/surface"
)

// Options are the collaborators of a Server. Zero values pick defaults.
type Options struct {
	// Store serves /clients/{id}. Nil disables the route.
	Store clientstore.Store
	// Fetcher resolves client configurations for surfaces. Nil builds a
	// resolver for cfg.ConfigEndpoint.
	Fetcher clientcfg.Fetcher
	// Elements maps element names to surface factories. Nil uses the
	// built-in frame and redirect surfaces.
	Elements *surface.Registry
	// Gatherer serves /metrics. Nil uses a fresh registry with the gateway
	// collectors installed.
	Gatherer prometheus.Gatherer
}

// Server is the gateway HTTP handler.
type Server struct {
	cfg      config.GatewayConfig
	fetcher  clientcfg.Fetcher
	elements *surface.Registry
	store    clientstore.Store
	sessions *Sessions
	router   chi.Router
	draining atomic.Bool

	parentOrigins []string
}

// New constructs the HTTP handler for the gateway.
func New(cfg config.GatewayConfig, opts Options) (*Server, error) {
	s := &Server{
		cfg:      cfg,
		fetcher:  opts.Fetcher,
		elements: opts.Elements,
		store:    opts.Store,
		sessions: NewSessions(cfg.SurfaceTTL),

		parentOrigins: parentOrigins(cfg.AllowedOrigins),
	}
	if s.fetcher == nil {
		s.fetcher = clientcfg.NewResolver(cfg.ConfigEndpoint, nil, cfg.FetchTimeout)
	}
	if s.elements == nil {
		s.elements = surface.NewRegistry()
		if err := surface.DefineBuiltins(s.elements); err != nil {
			return nil, err
		}
	}
	gatherer := opts.Gatherer
	if gatherer == nil {
		preg := prometheus.NewRegistry()
		metrics.Register(preg)
		gatherer = preg
	}

	r := chi.NewRouter()
	for _, m := range middlewareChain() {
		r.Use(m)
	}
	r.Get("/healthz", s.healthz)
	if cfg.MetricsAddr == "" || cfg.MetricsAddr == fmt.Sprintf(":%d", cfg.Port) {
		r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}
	if s.store != nil {
		origins := cfg.AllowedOrigins
		if len(origins) == 0 {
			origins = []string{"*"}
		}
		r.With(cors.Handler(cors.Options{
			AllowedOrigins: origins,
			AllowedMethods: []string{"GET", "OPTIONS"},
			AllowedHeaders: []string{"*"},
		})).Get("/clients/{id}", s.getClient)
	}
	r.Route("/embed", func(er chi.Router) {
		er.Use(s.refuseWhileDraining)
		er.Get("/frame", s.embed(surface.ElementFrame, cfg.FrameBaseURL))
		er.Get("/redirect", s.embed(surface.ElementRedirect, cfg.RedirectBaseURL))
	})
	r.Get("/bridge/{key}", s.serveBridge)
	r.Get("/events/{key}", s.serveEvents)
	r.With(APIKeyMiddleware(cfg.APIKey)).Get("/surfaces/{id}", s.getSurface)
	r.With(APIKeyMiddleware(cfg.APIKey)).Delete("/surfaces/{id}", s.deleteSurface)
	s.router = r
	return s, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Sessions returns the live surface registry.
func (s *Server) Sessions() *Sessions { return s.sessions }

// Run expires idle surfaces every interval until ctx ends, then detaches
// every remaining surface.
func (s *Server) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.sessions.CloseAll()
			return
		case now := <-ticker.C:
			if n := s.sessions.Sweep(now); n > 0 {
				logx.Log.Debug().Int("expired", n).Msg("idle surfaces detached")
			}
		}
	}
}

// Drain stops accepting new surfaces and fails the health check. Existing
// surfaces keep their bridges until Close.
func (s *Server) Drain() { s.draining.Store(true) }

// IsDraining reports whether Drain was called.
func (s *Server) IsDraining() bool { return s.draining.Load() }

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	if s.IsDraining() {
		http.Error(w, "draining", http.StatusServiceUnavailable)
		return
	}
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) refuseWhileDraining(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.IsDraining() {
			w.Header().Set("Retry-After", "5")
			http.Error(w, "gateway draining", http.StatusServiceUnavailable)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Close detaches every surface.
func (s *Server) Close() { s.sessions.CloseAll() }

// parentOrigins are the explicit origins embed pages relay notifications to.
// A wildcard is never a relay target.
func parentOrigins(origins []string) []string {
	var out []string
	for _, o := range origins {
		if o != "" && o != "*" {
			out = append(out, o)
		}
	}
	return out
}

// originPatterns turns allowed origins into websocket host patterns.
func originPatterns(origins []string) []string {
	var out []string
	for _, o := range origins {
		if o == "*" {
			out = append(out, "*")
			continue
		}
		if u, err := url.Parse(o); err == nil && u.Host != "" {
			out = append(out, u.Host)
		}
	}
	return out
}
