// Copyright 2021 The VPN House Authors. All rights reserved.
// Use of this source code is governed by a AGPL-style
// license that can be found in the LICENSE file.

package xhttp

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	metrics "github.com/slok/go-http-metrics/metrics/prometheus"
	httpmetrics "github.com/slok/go-http-metrics/middleware"
	middlewarestd "github.com/slok/go-http-metrics/middleware/std"
	"github.com/vpnhouse/ratio/pkg/xerror"
	"go.uber.org/zap"
)

const (
	readHeaderTimeout = 10 * time.Second
	shutdownTimeout   = 5 * time.Second
)

// the recorder registers its collectors, so it must be created once per process
var (
	measureOnce sync.Once
	measureMW   httpmetrics.Middleware
)

func measurement() httpmetrics.Middleware {
	measureOnce.Do(func() {
		measureMW = httpmetrics.New(httpmetrics.Config{
			Recorder:      metrics.NewRecorder(metrics.Config{}),
			GroupedStatus: true,
		})
	})
	return measureMW
}

type Option func(s *Server)

// WithMetrics measures every request and serves prometheus metrics
// on "/metrics". It must be the last option given to New.
func WithMetrics() Option {
	return func(s *Server) {
		mw := measurement()
		s.router.Use(func(next http.Handler) http.Handler {
			return middlewarestd.Handler("", mw, next)
		})
		s.router.Handle("/metrics", promhttp.Handler())
	}
}

// WithCORS allows any origin, it is meant for the web UI development.
func WithCORS() Option {
	return func(s *Server) {
		s.router.Use(cors.Handler(cors.Options{
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{
				http.MethodHead,
				http.MethodGet,
				http.MethodPost,
				http.MethodPut,
				http.MethodPatch,
			},
			AllowedHeaders:   []string{"Authorization", "Content-Type"},
			AllowCredentials: true,
		}))
	}
}

func WithLogger() Option {
	return func(s *Server) {
		s.router.Use(middleware.RequestID, requestLogger)
	}
}

type Server struct {
	router chi.Router

	mu  sync.Mutex
	srv *http.Server
	lis net.Listener
}

func New(opts ...Option) *Server {
	r := chi.NewRouter()
	// unknown routes are not worth an error report, reply in the API format directly
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeRouteError(w, http.StatusNotFound, xerror.ErrorResultNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeRouteError(w, http.StatusMethodNotAllowed, xerror.ErrorResultInvalidArgument, "method not allowed")
	})

	s := &Server{router: r}
	for _, o := range opts {
		o(s)
	}
	return s
}

func writeRouteError(w http.ResponseWriter, code int, result xerror.ErrorResult, text string) {
	WriteJSON(w, code, xerror.Response{Result: result, Error: &text})
}

// Router exposes chi.Router for the external registration of handlers.
func (s *Server) Router() chi.Router {
	return s.router
}

// Run binds addr and serves requests in the background.
func (s *Server) Run(addr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.srv != nil {
		return xerror.EInternalError("http server is already running", nil, zap.String("addr", addr))
	}

	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return xerror.EInternalError("failed to start http listener", err, zap.String("addr", addr))
	}

	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: readHeaderTimeout,
	}
	s.srv, s.lis = srv, lis

	zap.L().Info("starting HTTP server", zap.Stringer("addr", lis.Addr()))
	go func() {
		if err := srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zap.L().Error("http listener failed", zap.Stringer("addr", lis.Addr()), zap.Error(err))
		}
	}()
	return nil
}

// Addr returns the bound address, empty unless running.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lis == nil {
		return ""
	}
	return s.lis.Addr().String()
}

func (s *Server) Shutdown() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.srv == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	err := s.srv.Shutdown(ctx)
	s.srv, s.lis = nil, nil
	return err
}

func (s *Server) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.srv != nil
}
