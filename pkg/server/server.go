// Package server exposes the query pipeline over HTTP and MCP.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/klauspost/compress/gzhttp"
)

type Server struct {
	log *slog.Logger
	cfg Config

	handler *Handler
	router  chi.Router

	httpSrv      *http.Server
	shutdownOnce sync.Once
}

func New(log *slog.Logger, cfg Config) (*Server, error) {
	if log == nil {
		return nil, errors.New("logger is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	h, err := NewHandler(log, cfg)
	if err != nil {
		return nil, err
	}
	mcpHandler, err := h.newMCPHandler()
	if err != nil {
		return nil, err
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(metricsMiddleware)
	r.Group(func(r chi.Router) {
		r.Use(gzipMiddleware)
		h.Register(r)
	})
	r.Handle(MCPPath, mcpHandler)

	return &Server{
		log:     log,
		cfg:     cfg,
		handler: h,
		router:  r,
	}, nil
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) Start(ctx context.Context, cancel context.CancelFunc, listener net.Listener) <-chan error {
	errCh := make(chan error, 1)
	var wg sync.WaitGroup
	wg.Add(1)

	go func() {
		defer wg.Done()
		defer cancel()
		if err := s.Serve(ctx, listener); err != nil {
			s.log.Error("server: exited with error", "error", err)
			errCh <- err
		} else {
			s.log.Info("server: stopped")
		}
	}()

	go func() {
		wg.Wait()
		close(errCh)
	}()

	return errCh
}

func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	s.httpSrv = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: s.cfg.ReadHeaderTimeout,
		MaxHeaderBytes:    1 << 20,
	}

	go func() {
		<-ctx.Done()
		s.shutdown()
	}()

	s.log.Info("server: listening", "address", listener.Addr().String())
	err := s.httpSrv.Serve(listener)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) shutdown() {
	s.shutdownOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		if s.httpSrv != nil {
			_ = s.httpSrv.Shutdown(ctx)
		}
	})
}

func gzipMiddleware(next http.Handler) http.Handler {
	return gzhttp.GzipHandler(next)
}
