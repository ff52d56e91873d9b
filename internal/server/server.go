package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/reflection"

	"github.com/jonny5532/wagtail-liveedit/internal/logger"
	"github.com/jonny5532/wagtail-liveedit/internal/metrics"
	"github.com/jonny5532/wagtail-liveedit/pkg/liveedit"
)

// Options configures a Server.
type Options struct {
	HTTPAddr    string
	GrpcAddr    string // Empty disables gRPC
	MetricsPort int    // 0 disables the observability server
	Service     *liveedit.Service
	Auth        Authenticator
	Metrics     *metrics.Metrics
	Gatherer    prometheus.Gatherer
	Ready       ReadyFunc
	Logger      *logger.Logger
}

// Server runs the HTTP, gRPC and observability listeners together.
type Server struct {
	opts Options
	http *http.Server
	grpc *grpc.Server
	obs  *ObservabilityServer
	log  *logger.Logger
}

// New creates a server.
func New(opts Options) *Server {
	log := opts.Logger
	if log == nil {
		log = logger.Nop()
	}
	s := &Server{opts: opts, log: log}

	s.http = &http.Server{
		Addr:              opts.HTTPAddr,
		Handler:           NewHTTPHandler(opts.Service, opts.Auth, opts.Metrics, log),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	if opts.GrpcAddr != "" {
		var grpcOpts []grpc.ServerOption
		if opts.Metrics != nil {
			grpcOpts = append(grpcOpts, grpc.UnaryInterceptor(GrpcMetricsInterceptor(opts.Metrics, log)))
		}
		s.grpc = grpc.NewServer(grpcOpts...)
		RegisterLiveEditServer(s.grpc, NewGrpcServer(opts.Service, opts.Auth))
		reflection.Register(s.grpc)
	}

	if opts.MetricsPort != 0 {
		gatherer := opts.Gatherer
		if gatherer == nil {
			gatherer = prometheus.DefaultGatherer
		}
		s.obs = NewObservabilityServer(opts.MetricsPort, gatherer, opts.Ready, log)
	}
	return s
}

// Run serves until ctx is cancelled or a listener fails, then shuts every
// listener down.
func (s *Server) Run(ctx context.Context) error {
	errc := make(chan error, 3)

	httpLis, err := net.Listen("tcp", s.opts.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.opts.HTTPAddr, err)
	}
	go func() {
		if err := s.http.Serve(httpLis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- fmt.Errorf("http server failed: %w", err)
		}
	}()

	if s.grpc != nil {
		grpcLis, err := net.Listen("tcp", s.opts.GrpcAddr)
		if err != nil {
			s.http.Close()
			return fmt.Errorf("listen %s: %w", s.opts.GrpcAddr, err)
		}
		go func() {
			if err := s.grpc.Serve(grpcLis); err != nil {
				errc <- fmt.Errorf("grpc server failed: %w", err)
			}
		}()
	}

	if s.obs != nil {
		go func() {
			if err := s.obs.Start(); err != nil {
				errc <- err
			}
		}()
	}

	s.log.LogServerReady(httpLis.Addr().String())

	select {
	case <-ctx.Done():
	case err = <-errc:
		s.log.Error("listener failed").Err(err).Send()
	}

	s.log.LogServerShutdown()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if s.grpc != nil {
		s.grpc.GracefulStop()
	}
	if s.obs != nil {
		_ = s.obs.Shutdown(shutdownCtx)
	}
	if serr := s.http.Shutdown(shutdownCtx); serr != nil && err == nil {
		err = serr
	}
	return err
}
