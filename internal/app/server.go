package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/farstore/registry-sync/pkg/logger"
)

// httpService runs the read path as a lifecycle-managed service.
type httpService struct {
	addr    string
	handler http.Handler
	log     *logger.Logger

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
	errCh    chan error
}

func newHTTPService(addr string, handler http.Handler, log *logger.Logger) *httpService {
	return &httpService{addr: addr, handler: handler, log: log}
}

func (s *httpService) Name() string { return "http" }

func (s *httpService) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.server != nil {
		return nil
	}

	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.addr, err)
	}
	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.WithError(err).Error("http server stopped")
			errCh <- err
		}
		close(errCh)
	}()

	s.server = srv
	s.listener = ln
	s.errCh = errCh
	s.log.WithField("addr", ln.Addr().String()).Info("HTTP server listening")
	return nil
}

func (s *httpService) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv := s.server
	s.server = nil
	s.listener = nil
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

// Addr is the bound address, empty before Start.
func (s *httpService) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Errors reports a failure of the serve loop; it closes when the server stops.
func (s *httpService) Errors() <-chan error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errCh
}
