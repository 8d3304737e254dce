// Package server runs the gateway process: persistence, the WebSocket
// listener, gRPC health, Prometheus metrics and hot reload.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/ppiankov/cmdgate/internal/alert"
	"github.com/ppiankov/cmdgate/internal/approval"
	"github.com/ppiankov/cmdgate/internal/audit"
	"github.com/ppiankov/cmdgate/internal/authz"
	"github.com/ppiankov/cmdgate/internal/breakglass"
	"github.com/ppiankov/cmdgate/internal/config"
	"github.com/ppiankov/cmdgate/internal/gateway"
	"github.com/ppiankov/cmdgate/internal/identity"
	"github.com/ppiankov/cmdgate/internal/logging"
	"github.com/ppiankov/cmdgate/internal/metrics"
	"github.com/ppiankov/cmdgate/internal/policy"
	"github.com/ppiankov/cmdgate/internal/stepup"
	"github.com/ppiankov/cmdgate/internal/store/sqlite"
	"github.com/ppiankov/cmdgate/internal/transport/wstransport"
)

// HealthService is the gRPC health service name reported by the gateway.
const HealthService = "cmdgate.v1.Gateway"

// approvalRetention is how long resolved elevation requests are kept.
const approvalRetention = 7 * 24 * time.Hour

const shutdownTimeout = 10 * time.Second

// Server owns every long-lived component of a running gateway.
type Server struct {
	cfg     config.Config
	version string
	log     *slog.Logger

	store      *sqlite.Store
	auditLog   *audit.Log
	keys       *identity.Keyring
	approvals  *approval.Store
	breakglass *breakglass.Store
	alerts     *alert.Dispatcher
	metrics    *metrics.Metrics
	engine     *authz.Engine
	gateway    *gateway.Gateway

	mu        sync.RWMutex
	rulesHash string

	grpcServer *grpc.Server
	health     *health.Server
}

// New opens the store and builds the gateway from cfg.
func New(cfg config.Config, version string) (*Server, error) {
	s := &Server{
		cfg:     cfg,
		version: version,
		log:     logging.Logger("server"),
		metrics: metrics.New(),
		alerts:  alert.NewDispatcher(cfg.Alerts),
	}
	if err := s.init(); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

func (s *Server) init() error {
	cfg := s.cfg

	rules, hash, err := policy.LoadRulesWithHash(cfg.Levels)
	if err != nil {
		return fmt.Errorf("failed to load levels: %w", err)
	}
	s.rulesHash = hash

	s.store, err = sqlite.Open(cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	if cfg.AuditLog != "" {
		s.auditLog, err = audit.Open(cfg.AuditLog)
		if err != nil {
			return fmt.Errorf("failed to open audit log: %w", err)
		}
		s.auditLog.SetRulesHash(hash)
	}

	s.keys, err = identity.LoadKeyring(cfg.Keyring)
	if err != nil {
		return fmt.Errorf("failed to load keyring: %w", err)
	}

	s.approvals, err = approval.NewStore(cfg.ApprovalsDir)
	if err != nil {
		return fmt.Errorf("failed to create approval store: %w", err)
	}
	if err := s.approvals.Cleanup(approvalRetention); err != nil {
		s.log.Warn("approval cleanup failed", "err", err)
	}

	s.breakglass, err = breakglass.NewStore(cfg.BreakglassDir)
	if err != nil {
		return fmt.Errorf("failed to create break-glass store: %w", err)
	}
	if err := s.breakglass.Cleanup(); err != nil {
		s.log.Warn("break-glass cleanup failed", "err", err)
	}

	opts := []authz.Option{
		authz.WithRules(rules),
		authz.WithStepUp(s.stepUpVerifier()),
		authz.WithObserver(gateway.DecisionObserver(gateway.ObserverDeps{
			Approvals: s.approvals,
			Alerts:    s.alerts,
			Metrics:   s.metrics,
		})),
	}
	if s.auditLog != nil {
		opts = append(opts, authz.WithAuditMirror(s.auditLog))
	}
	resolver := identity.Chain{s.keys, identity.DIDKeyResolver{}}
	s.engine, err = authz.New(cfg.Auth, s.store, resolver, opts...)
	if err != nil {
		return err
	}

	gwOpts := []gateway.Option{gateway.WithMetrics(s.metrics)}
	if cfg.Identity != "" {
		signer, err := identity.LoadSigner(cfg.Identity)
		if err != nil {
			return fmt.Errorf("failed to load identity: %w", err)
		}
		gwOpts = append(gwOpts, gateway.WithSigner(signer))
	}
	s.gateway, err = gateway.New(cfg.Gateway(s.version), s.engine, gwOpts...)
	if err != nil {
		return err
	}

	s.health = health.NewServer()
	s.grpcServer = grpc.NewServer()
	healthpb.RegisterHealthServer(s.grpcServer, s.health)
	return nil
}

func (s *Server) stepUpVerifier() stepup.Verifier {
	var verifiers stepup.Any
	if len(s.cfg.StepUp.TOTPSecrets) > 0 {
		verifiers = append(verifiers, stepup.NewTOTPVerifier(s.cfg.StepUp.TOTPSecrets))
	}
	verifiers = append(verifiers, stepup.BreakglassVerifier{
		Store: s.breakglass,
		Used:  gateway.BreakglassAlert(s.alerts),
	})
	return verifiers
}

// Gateway returns the running gateway, e.g. to register handlers before
// serving.
func (s *Server) Gateway() *gateway.Gateway {
	return s.gateway
}

// Engine returns the authorization engine.
func (s *Server) Engine() *authz.Engine {
	return s.engine
}

// Approvals returns the elevation request store.
func (s *Server) Approvals() *approval.Store {
	return s.approvals
}

// Breakglass returns the step-up token store.
func (s *Server) Breakglass() *breakglass.Store {
	return s.breakglass
}

// RulesHash returns the hash of the levels file in force.
func (s *Server) RulesHash() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rulesHash
}

// ReloadLevels recompiles the levels file and swaps the rules atomically.
// Called by the hot-reloader on file change.
func (s *Server) ReloadLevels() error {
	rules, hash, err := policy.LoadRulesWithHash(s.cfg.Levels)
	s.metrics.ObserveReload(err == nil)
	if err != nil {
		return fmt.Errorf("failed to reload levels: %w", err)
	}
	s.engine.ReloadRules(rules)
	if s.auditLog != nil {
		s.auditLog.SetRulesHash(hash)
	}
	s.mu.Lock()
	s.rulesHash = hash
	s.mu.Unlock()
	return nil
}

// ReloadKeyring re-reads the keyring file.
func (s *Server) ReloadKeyring() error {
	if err := s.keys.Reload(s.cfg.Keyring); err != nil {
		return fmt.Errorf("failed to reload keyring: %w", err)
	}
	return nil
}

// Listeners are the sockets a server accepts on. A nil Admin or Metrics
// listener disables that endpoint.
type Listeners struct {
	Gateway net.Listener
	Admin   net.Listener
	Metrics net.Listener
}

// Listen opens the configured addresses.
func (s *Server) Listen() (Listeners, error) {
	var ls Listeners
	var err error
	if ls.Gateway, err = net.Listen("tcp", s.cfg.Listen); err != nil {
		return ls, fmt.Errorf("failed to listen on %s: %w", s.cfg.Listen, err)
	}
	if s.cfg.AdminListen != "" {
		if ls.Admin, err = net.Listen("tcp", s.cfg.AdminListen); err != nil {
			ls.Gateway.Close()
			return ls, fmt.Errorf("failed to listen on %s: %w", s.cfg.AdminListen, err)
		}
	}
	if s.cfg.MetricsListen != "" {
		if ls.Metrics, err = net.Listen("tcp", s.cfg.MetricsListen); err != nil {
			ls.Gateway.Close()
			if ls.Admin != nil {
				ls.Admin.Close()
			}
			return ls, fmt.Errorf("failed to listen on %s: %w", s.cfg.MetricsListen, err)
		}
	}
	return ls, nil
}

// Serve listens on the configured addresses. Blocks until ctx is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	ls, err := s.Listen()
	if err != nil {
		return err
	}
	return s.ServeOn(ctx, ls)
}

// ServeOn serves on the given listeners until ctx is cancelled, then shuts
// down gracefully.
func (s *Server) ServeOn(ctx context.Context, ls Listeners) error {
	g, ctx := errgroup.WithContext(ctx)

	mux := http.NewServeMux()
	mux.Handle("/ws", wstransport.NewServer(s.gateway.Adapter()))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok\n"))
	})
	gwHTTP := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	servers := []*http.Server{gwHTTP}
	g.Go(func() error { return serveHTTP(gwHTTP, ls.Gateway) })

	if ls.Metrics != nil {
		mmux := http.NewServeMux()
		mmux.Handle("/metrics", s.metrics.Handler())
		mHTTP := &http.Server{Handler: mmux, ReadHeaderTimeout: 10 * time.Second}
		servers = append(servers, mHTTP)
		g.Go(func() error { return serveHTTP(mHTTP, ls.Metrics) })
	}

	if ls.Admin != nil {
		s.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
		s.health.SetServingStatus(HealthService, healthpb.HealthCheckResponse_SERVING)
		g.Go(func() error { return s.grpcServer.Serve(ls.Admin) })
	}

	g.Go(func() error {
		s.engine.Run(ctx)
		return nil
	})
	g.Go(func() error {
		s.gateway.Run(ctx)
		return nil
	})

	reloader, err := NewReloader(map[string]func() error{
		s.cfg.Levels:  s.ReloadLevels,
		s.cfg.Keyring: s.ReloadKeyring,
	}, s.log)
	if err != nil {
		s.log.Warn("hot-reload disabled", "err", err)
	} else {
		g.Go(func() error { return reloader.Run(ctx) })
	}

	s.log.Info("gateway serving",
		"listen", ls.Gateway.Addr().String(),
		"version", s.version,
		"rules_hash", s.RulesHash())

	g.Go(func() error {
		<-ctx.Done()
		s.shutdown(servers)
		return nil
	})
	return g.Wait()
}

func serveHTTP(srv *http.Server, lis net.Listener) error {
	if err := srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) shutdown(servers []*http.Server) {
	s.log.Info("shutting down")
	s.health.Shutdown()

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	s.gateway.Close()
	for _, srv := range servers {
		if err := srv.Shutdown(ctx); err != nil {
			srv.Close()
		}
	}
	s.grpcServer.GracefulStop()
	s.alerts.Wait()
}

// Close releases the store and audit log.
func (s *Server) Close() error {
	var errs []error
	if s.store != nil {
		errs = append(errs, s.store.Close())
	}
	if s.auditLog != nil {
		errs = append(errs, s.auditLog.Close())
	}
	return errors.Join(errs...)
}
