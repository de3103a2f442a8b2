package dashboard

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"sync"
	"time"

	"github.com/bpradana/edgeboard/internal/config"
	"github.com/bpradana/edgeboard/internal/directory"
	"github.com/bpradana/edgeboard/internal/health"
	"github.com/bpradana/edgeboard/internal/metrics"
	"github.com/bpradana/edgeboard/internal/middleware"
	"github.com/bpradana/edgeboard/internal/status"
	"github.com/bpradana/edgeboard/internal/tls"
	"go.uber.org/zap"
)

// maxSeedScopes bounds how many seed-scoped directories are kept running.
const maxSeedScopes = 64

const cleanupInterval = time.Minute

// Server serves the status snapshots as a JSON API
type Server interface {
	// Start starts the pollers and the dashboard listeners
	Start() error
	// Shutdown stops the listeners and every poller
	Shutdown(ctx context.Context) error
	// UpdateConfig applies a reloaded configuration
	UpdateConfig(config *config.Config) error
	// Handler returns the routed handler wrapped in the middleware chain
	Handler() http.Handler
}

// Backend is the edge API client used for discovery, probes and reboots
type Backend interface {
	directory.Client
	health.HealthFetcher
	SendReboot(ctx context.Context, baseURL string) (*health.RebootResponse, error)
}

type server struct {
	cfg        *config.Config
	backend    Backend
	tlsManager *tls.Manager
	recorder   *metrics.Recorder
	logger     *zap.Logger

	aggregator *status.Aggregator
	handler    http.Handler
	chain      *middleware.Chain

	httpServer  *http.Server
	httpsServer *http.Server

	mu          sync.RWMutex
	running     bool
	ctx         context.Context
	cancel      context.CancelFunc
	overview    *status.Overview
	directories map[string]*directory.Directory
	// epoch changes whenever the directories are torn down.
	epoch uint64
}

// NewServer creates a dashboard server. recorder may be nil.
func NewServer(cfg *config.Config, backend Backend, tlsManager *tls.Manager, recorder *metrics.Recorder, logger *zap.Logger) (Server, error) {
	s := &server{
		cfg:         cfg,
		backend:     backend,
		tlsManager:  tlsManager,
		recorder:    recorder,
		logger:      logger,
		directories: make(map[string]*directory.Directory),
	}

	s.aggregator = status.NewAggregator(status.AggregatorConfig{
		Polling:     cfg.Polling,
		Environment: cfg.Targets.Environment,
		OnResult:    s.observePoll,
	}, backend, logger.Named("aggregator"))
	s.aggregator.SetTargets(parseTargets(cfg))

	chain, err := middleware.NewFactory(logger).CreateChain(&cfg.Middleware)
	if err != nil {
		return nil, fmt.Errorf("failed to create middleware chain: %w", err)
	}
	s.chain = chain

	handler := chain.Then(s.routes())
	if recorder != nil {
		handler = recorder.Middleware(handler)
	}
	s.handler = handler

	return s, nil
}

func parseTargets(cfg *config.Config) []health.Target {
	return health.ParseTargets(cfg.Targets.TargetList(), cfg.Targets.BaseURL(), cfg.Targets.FallbackLabel)
}

func (s *server) Handler() http.Handler {
	return s.handler
}

func (s *server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("server is already running")
	}

	s.logger.Info("Starting dashboard server")

	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.aggregator.Start(s.ctx)
	s.startDirectoryLocked()
	go s.cleanupLoop(s.ctx)

	server := &s.cfg.Global.Server
	if server.HTTPPort > 0 {
		s.httpServer = s.newHTTPServer(server.HTTPPort, s.tlsManager.HTTPHandler(s.handler))

		go func() {
			s.logger.Info("Starting HTTP server", zap.Int("port", server.HTTPPort))
			if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.logger.Error("HTTP server error", zap.Error(err))
			}
		}()
	}

	if server.HTTPSPort > 0 && s.cfg.TLS.Enabled {
		tlsConfig, err := s.tlsManager.GetTLSConfig()
		if err != nil {
			return fmt.Errorf("failed to get TLS config: %w", err)
		}

		s.httpsServer = s.newHTTPServer(server.HTTPSPort, s.handler)
		s.httpsServer.TLSConfig = tlsConfig

		go func() {
			s.logger.Info("Starting HTTPS server", zap.Int("port", server.HTTPSPort))
			if err := s.httpsServer.ListenAndServeTLS("", ""); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.logger.Error("HTTPS server error", zap.Error(err))
			}
		}()
	}

	s.running = true
	s.logger.Info("Dashboard server started successfully")

	return nil
}

func (s *server) newHTTPServer(port int, handler http.Handler) *http.Server {
	server := &s.cfg.Global.Server
	return &http.Server{
		Addr:           fmt.Sprintf(":%d", port),
		Handler:        handler,
		ReadTimeout:    server.ReadTimeout,
		WriteTimeout:   server.WriteTimeout,
		IdleTimeout:    server.IdleTimeout,
		MaxHeaderBytes: server.MaxHeaderSize,
	}
}

func (s *server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}

	s.logger.Info("Shutting down dashboard server")
	s.running = false
	servers := []*http.Server{s.httpServer, s.httpsServer}
	s.mu.Unlock()

	var (
		wg    sync.WaitGroup
		errMu sync.Mutex
		errs  []error
	)
	for _, srv := range servers {
		if srv == nil {
			continue
		}
		wg.Add(1)
		go func(srv *http.Server) {
			defer wg.Done()
			if err := srv.Shutdown(ctx); err != nil {
				errMu.Lock()
				errs = append(errs, fmt.Errorf("%s shutdown error: %w", srv.Addr, err))
				errMu.Unlock()
			}
		}(srv)
	}
	wg.Wait()

	s.aggregator.Stop()

	s.mu.Lock()
	s.stopDirectoryLocked()
	s.cancel()
	s.mu.Unlock()

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %w", errors.Join(errs...))
	}

	s.logger.Info("Dashboard server shutdown complete")
	return nil
}

// UpdateConfig swaps in the reloaded targets, polling settings and
// environment label. Seed discovery is rebuilt only when its section
// changed. Listener, middleware and request timeout settings need a restart.
func (s *server) UpdateConfig(cfg *config.Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.logger.Info("Updating dashboard configuration")

	directoryChanged := !reflect.DeepEqual(s.cfg.Directory, cfg.Directory) ||
		s.cfg.Polling.Interval != cfg.Polling.Interval ||
		s.cfg.Polling.MaxUnits != cfg.Polling.MaxUnits
	s.cfg = cfg

	s.aggregator.Reconfigure(cfg.Polling, cfg.Targets.Environment)
	s.aggregator.SetTargets(parseTargets(cfg))

	if directoryChanged && s.running {
		s.stopDirectoryLocked()
		s.startDirectoryLocked()
	}

	s.logger.Info("Configuration updated successfully", zap.Bool("directory_rebuilt", directoryChanged))
	return nil
}

// startDirectoryLocked starts the unscoped directory and the seed overview
func (s *server) startDirectoryLocked() {
	if !s.cfg.Directory.Enabled {
		return
	}

	unscoped := s.newDirectoryLocked("", false)
	s.directories[""] = unscoped
	unscoped.Start(s.ctx)

	s.overview = status.NewOverview(status.OverviewConfig{
		APIBase:      s.cfg.Directory.APIBase,
		Interval:     s.cfg.Directory.OverviewInterval,
		PollInterval: s.cfg.Polling.Interval,
		MaxUnits:     s.cfg.Polling.MaxUnits,
		OnResult:     s.observePoll,
		OnRemove:     s.forgetTarget,
	}, s.backend, s.logger.Named("overview"))
	s.overview.Start(s.ctx)
}

func (s *server) stopDirectoryLocked() {
	s.epoch++
	for id, d := range s.directories {
		d.Stop()
		delete(s.directories, id)
		s.forgetScope(id)
	}
	if s.overview != nil {
		s.overview.Stop()
		s.overview = nil
	}
}

func (s *server) newDirectoryLocked(seedID string, skipImmediate bool) *directory.Directory {
	cfg := directory.NewConfig(s.cfg.Directory, seedID)
	cfg.OnCycle = s.observeDirectory
	cfg.SkipImmediate = skipImmediate
	return directory.New(cfg, s.backend, s.logger.Named("directory"))
}

// scopedDirectory returns the live directory of seedID with its current
// snapshot. An unknown scope is loaded once on the server context; it is
// kept and started only when the seed exists and the directories were not
// rebuilt meanwhile. Otherwise the one-shot snapshot is returned with a nil
// directory.
func (s *server) scopedDirectory(seedID string) (*directory.Directory, directory.Snapshot, error) {
	s.mu.RLock()
	d, exists := s.directories[seedID]
	running, enabled := s.running, s.cfg.Directory.Enabled
	runCtx, epoch := s.ctx, s.epoch
	if !exists && running && enabled {
		d = s.newDirectoryLocked(seedID, true)
	}
	s.mu.RUnlock()

	if exists {
		return d, d.Snapshot(), nil
	}
	if !enabled || !running {
		return nil, directory.Snapshot{}, errDirectoryDisabled
	}

	snapshot, _ := d.Load(runCtx)
	if runCtx.Err() != nil {
		return nil, snapshot, errDirectoryDisabled
	}
	if snapshot.Missing {
		s.forgetScope(seedID)
		return nil, snapshot, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running || s.epoch != epoch {
		s.forgetScope(seedID)
		return nil, snapshot, nil
	}
	if current, ok := s.directories[seedID]; ok {
		return current, current.Snapshot(), nil
	}
	if len(s.directories) >= maxSeedScopes {
		s.pruneMissingLocked()
	}
	if len(s.directories) >= maxSeedScopes {
		s.logger.Warn("Seed scope limit reached, serving one-shot snapshot",
			zap.String("seed", seedID),
			zap.Int("limit", maxSeedScopes))
		s.forgetScope(seedID)
		return nil, snapshot, nil
	}

	s.directories[seedID] = d
	d.Start(runCtx)
	return d, snapshot, nil
}

// pruneMissingLocked drops seed scopes whose seed left the directory
func (s *server) pruneMissingLocked() {
	for id, d := range s.directories {
		if id == "" || !d.Snapshot().Missing {
			continue
		}
		d.Stop()
		delete(s.directories, id)
		s.forgetScope(id)
		s.logger.Info("Dropped seed scope", zap.String("seed", id))
	}
}

// cleanupLoop periodically drops idle rate limiter state and seed scopes
// whose seed is gone
func (s *server) cleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.chain.Cleanup()

			s.mu.Lock()
			s.pruneMissingLocked()
			s.mu.Unlock()
		}
	}
}

func (s *server) observePoll(result health.Result) {
	if s.recorder != nil {
		s.recorder.ObservePoll(result)
	}
}

func (s *server) observeDirectory(snapshot directory.Snapshot) {
	if s.recorder != nil {
		s.recorder.ObserveDirectory(snapshot)
	}
}

func (s *server) forgetTarget(target health.Target) {
	if s.recorder != nil {
		s.recorder.ForgetTarget(target)
	}
}

func (s *server) forgetScope(seedID string) {
	if s.recorder != nil {
		s.recorder.ForgetScope(seedID)
	}
}
