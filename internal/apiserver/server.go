package apiserver

import (
	"context"
	"errors"
	"net"
	"net/http"

	"github.com/autopeer-io/adminupgrade/pkg/log"
	"github.com/autopeer-io/adminupgrade/pkg/options"
)

// Server serves the upgrade API until its context is done.
type Server struct {
	server  *http.Server
	options *options.HttpOptions
	logger  log.Logger
}

// NewServer creates a Server for handler.
func NewServer(opts *options.HttpOptions, handler http.Handler, logger log.Logger) *Server {
	return &Server{
		server: &http.Server{
			Addr:         opts.Addr,
			Handler:      http.TimeoutHandler(handler, opts.Timeout, `{"error":"request timed out","code":"timeout"}`),
			ReadTimeout:  opts.Timeout,
			WriteTimeout: opts.Timeout + opts.ShutdownTimeout,
		},
		options: opts,
		logger:  log.OrStd(logger).WithName("apiserver"),
	}
}

// Start listens on the configured address and blocks until ctx is done.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen(s.options.Network, s.options.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is done.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.logger.Info("Starting HTTP Server", "addr", ln.Addr().String())

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.options.ShutdownTimeout)
		defer cancel()
		s.logger.Info("Shutting down HTTP Server")
		return s.server.Shutdown(shutdownCtx)
	}
}
