// ABOUTME: Server wires the authentication engine to its HTTP and gRPC listeners
// ABOUTME: Owns listener setup, health endpoints and graceful shutdown of both servers

package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"

	"github.com/2389/warden/internal/auth"
	"github.com/2389/warden/internal/authn"
	"github.com/2389/warden/internal/config"
	"github.com/2389/warden/internal/metrics"
	"github.com/2389/warden/internal/notify"
	"github.com/2389/warden/internal/ratelimit"
	"github.com/2389/warden/internal/store"
)

// Server serves the authentication API over HTTP and gRPC.
type Server struct {
	config  *config.Config
	store   store.CredentialStore
	engine  *authn.Engine
	metrics *metrics.Metrics
	limiter *ratelimit.Registry
	health  *health.Server

	httpServer *http.Server
	grpcServer *grpc.Server
	logger     *slog.Logger
}

// Option configures a Server.
type Option func(*options)

type options struct {
	engineOpts []authn.Option
}

// WithEngineOptions passes extra options to the authentication engine,
// e.g. a notifier or clock in tests.
func WithEngineOptions(opts ...authn.Option) Option {
	return func(o *options) { o.engineOpts = append(o.engineOpts, opts...) }
}

// EngineConfig maps the auth section of the configuration onto the engine.
func EngineConfig(a config.AuthConfig) authn.Config {
	return authn.Config{
		RelyingPartyID:    a.RelyingPartyID,
		RelyingPartyName:  a.RelyingPartyName,
		Origins:           a.Origins,
		VerificationURL:   a.VerificationURL,
		ChallengeValidity: a.ChallengeValidity,
		TokenTTL:          a.TokenTTL,
		RefreshTTL:        a.RefreshTTL,
		WebAuthnTimeout:   a.WebAuthnTimeout,
		DefaultScope:      a.DefaultScope,
	}
}

// NewNotifier picks the verification mail transport from the email section.
func NewNotifier(e config.EmailConfig, logger *slog.Logger) notify.Notifier {
	if e.Provider == "resend" {
		return notify.NewResendNotifier(e.APIURL, e.APIKey, e.From)
	}
	return notify.NewLogNotifier(logger)
}

// NewEngine builds the authentication engine described by cfg.
// The CLI uses it directly for provisioning commands.
func NewEngine(cfg *config.Config, st store.CredentialStore, m *metrics.Metrics, logger *slog.Logger, opts ...authn.Option) (*authn.Engine, error) {
	base := []authn.Option{
		authn.WithLogger(logger),
		authn.WithMetrics(m),
		authn.WithNotifier(NewNotifier(cfg.Email, logger)),
	}
	return authn.New(EngineConfig(cfg.Auth), st, append(base, opts...)...)
}

// New creates a server over st. The server takes ownership of st and
// closes it on Shutdown.
func New(cfg *config.Config, st store.CredentialStore, logger *slog.Logger, opts ...Option) (*Server, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
	}

	engine, err := NewEngine(cfg, st, m, logger, o.engineOpts...)
	if err != nil {
		return nil, fmt.Errorf("creating engine: %w", err)
	}

	s := &Server{
		config:  cfg,
		store:   st,
		engine:  engine,
		metrics: m,
		health:  health.NewServer(),
		logger:  logger.With("component", "server"),
	}
	if cfg.RateLimit.Enabled {
		s.limiter = ratelimit.New(ratelimit.Config{
			RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
			Burst:             cfg.RateLimit.Burst,
		})
	}

	mux := http.NewServeMux()
	s.registerRoutes(mux)
	s.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           s.middleware(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.grpcServer = s.newGRPCServer()
	grpc_health_v1.RegisterHealthServer(s.grpcServer, s.health)
	RegisterIdentityServer(s.grpcServer, &identityService{})

	return s, nil
}

// Engine exposes the authentication engine.
func (s *Server) Engine() *authn.Engine {
	return s.engine
}

// Handler returns the HTTP handler with every middleware applied.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// GRPCServer returns the gRPC server so it can be served on a custom listener.
func (s *Server) GRPCServer() *grpc.Server {
	return s.grpcServer
}

func (s *Server) newGRPCServer() *grpc.Server {
	unary := []grpc.UnaryServerInterceptor{}
	if s.limiter != nil {
		unary = append(unary, ratelimit.UnaryInterceptor(s.limiter))
	}
	unary = append(unary, auth.UnaryInterceptor(s.engine, s.logger))

	return grpc.NewServer(
		grpc.KeepaliveParams(keepalive.ServerParameters{
			Time:    15 * time.Second,
			Timeout: 5 * time.Second,
		}),
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             5 * time.Second,
			PermitWithoutStream: true,
		}),
		grpc.ChainUnaryInterceptor(unary...),
		grpc.ChainStreamInterceptor(auth.StreamInterceptor(s.engine, s.logger)),
	)
}

// setupListeners opens the HTTP listener and, when configured, the gRPC one.
func (s *Server) setupListeners() (grpcLn, httpLn net.Listener, err error) {
	s.logger.Info("starting warden",
		"grpc_addr", s.config.Server.GRPCAddr,
		"http_addr", s.config.Server.HTTPAddr,
	)

	httpLn, err = net.Listen("tcp", s.config.Server.HTTPAddr)
	if err != nil {
		return nil, nil, fmt.Errorf("listening on HTTP address: %w", err)
	}
	if s.config.Server.GRPCAddr == "" {
		return nil, httpLn, nil
	}

	grpcLn, err = net.Listen("tcp", s.config.Server.GRPCAddr)
	if err != nil {
		_ = httpLn.Close()
		return nil, nil, fmt.Errorf("listening on gRPC address: %w", err)
	}
	return grpcLn, httpLn, nil
}

// startServers starts the servers in goroutines, returning their error channel.
func (s *Server) startServers(grpcLn, httpLn net.Listener) chan error {
	errCh := make(chan error, 2)

	if grpcLn != nil {
		go func() {
			s.logger.Info("gRPC server listening", "addr", grpcLn.Addr().String())
			if err := s.grpcServer.Serve(grpcLn); err != nil {
				errCh <- fmt.Errorf("gRPC server: %w", err)
			}
		}()
	}

	go func() {
		s.logger.Info("HTTP server listening", "addr", httpLn.Addr().String())
		if err := s.httpServer.Serve(httpLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	s.health.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	return errCh
}

// waitForShutdownSignal waits for context cancellation or server error.
func (s *Server) waitForShutdownSignal(ctx context.Context, errCh chan error) error {
	select {
	case <-ctx.Done():
		s.logger.Info("context canceled, initiating shutdown")
		return nil
	case err := <-errCh:
		s.logger.Error("server error", "error", err)
		s.drainErrors(errCh)
		return err
	}
}

func (s *Server) drainErrors(errCh chan error) {
	select {
	case additionalErr := <-errCh:
		s.logger.Error("additional server error", "error", additionalErr)
	default:
	}
}

// Run starts the servers and blocks until ctx is canceled or a server fails.
// Returns nil on graceful shutdown.
func (s *Server) Run(ctx context.Context) error {
	grpcLn, httpLn, err := s.setupListeners()
	if err != nil {
		return err
	}

	errCh := s.startServers(grpcLn, httpLn)
	serverErr := s.waitForShutdownSignal(ctx, errCh)

	shutdownErr := s.gracefulShutdown()

	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// gracefulShutdown uses a fresh context since the caller's is already canceled.
func (s *Server) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.Shutdown(ctx)
}

// shutdownGRPCServer stops gracefully, or forcefully once ctx is done.
func (s *Server) shutdownGRPCServer(ctx context.Context) {
	stopped := make(chan struct{})
	go func() {
		s.grpcServer.GracefulStop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-ctx.Done():
		s.grpcServer.Stop()
	}
}

func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// Shutdown stops both servers and releases the store.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down warden")
	s.health.Shutdown()

	var errs []error
	errs = appendCloseError(errs, "HTTP shutdown", s.httpServer.Shutdown(ctx))

	s.shutdownGRPCServer(ctx)

	if s.limiter != nil {
		s.limiter.Close()
	}
	errs = appendCloseError(errs, "store close", s.store.Close())

	return errors.Join(errs...)
}

// handleHealth returns 200 OK while the process is alive.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 OK once the store answers a ping.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.store.Ping(ctx); err != nil {
		s.logger.Warn("readiness check failed", "error", err)
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("store unavailable"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}
