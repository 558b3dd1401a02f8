package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"path/filepath"
	"sync"
	"time"

	"github.com/jackzampolin/bindery/internal/analysis"
	"github.com/jackzampolin/bindery/internal/api"
	"github.com/jackzampolin/bindery/internal/cache"
	"github.com/jackzampolin/bindery/internal/config"
	"github.com/jackzampolin/bindery/internal/home"
	"github.com/jackzampolin/bindery/internal/ingest"
	"github.com/jackzampolin/bindery/internal/jobs"
	"github.com/jackzampolin/bindery/internal/metrics"
	"github.com/jackzampolin/bindery/internal/pipeline"
	"github.com/jackzampolin/bindery/internal/providers"
	"github.com/jackzampolin/bindery/internal/server/endpoints"
	"github.com/jackzampolin/bindery/internal/svcctx"
)

// Server is the main Bindery HTTP server.
// It opens the job store and progress cache on start, runs the conversion
// workers, and closes everything on shutdown.
type Server struct {
	httpServer *http.Server
	home       *home.Dir
	registry   *providers.Registry
	recorder   *metrics.Recorder
	configMgr  *config.Manager
	cfg        *config.Config
	logger     *slog.Logger

	store  jobs.Store
	kv     cache.KV
	runner *pipeline.Runner

	// services holds all core services for context enrichment
	services *svcctx.Services

	// endpoints registry for HTTP routes
	endpointRegistry *api.Registry

	mu      sync.RWMutex
	running bool
}

// Config holds server configuration.
type Config struct {
	// Host overrides server.host from the config file
	Host string
	// Port overrides server.port from the config file
	Port string
	// Home is the bindery home directory (uploads, outputs, sqlite db)
	Home *home.Dir
	// ConfigManager provides configuration with hot-reload support.
	// nil uses config.DefaultConfig without reloads.
	ConfigManager *config.Manager
	// Logger is the structured logger to use
	Logger *slog.Logger
}

// New creates a new Server with the given configuration.
func New(cfg Config) (*Server, error) {
	if cfg.Home == nil {
		return nil, errors.New("home directory is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	appCfg := config.DefaultConfig()
	if cfg.ConfigManager != nil {
		appCfg = cfg.ConfigManager.Get()
	}
	if cfg.Host == "" {
		cfg.Host = appCfg.Server.Host
	}
	if cfg.Port == "" {
		cfg.Port = appCfg.Server.Port
	}

	registry := providers.NewRegistryFromConfig(appCfg.ToProviderRegistryConfig(cfg.Logger))

	s := &Server{
		home:      cfg.Home,
		registry:  registry,
		recorder:  metrics.NewRecorder(0, cfg.Logger),
		configMgr: cfg.ConfigManager,
		cfg:       appCfg,
		logger:    cfg.Logger,
	}

	// Watch for config changes
	if cfg.ConfigManager != nil {
		cfg.ConfigManager.OnChange(func(c *config.Config) {
			registry.Reload(c.ToProviderRegistryConfig(cfg.Logger))
			s.mu.Lock()
			s.cfg = c
			s.mu.Unlock()
			cfg.Logger.Info("provider registry reloaded from config", "providers", registry.List())
		})
	}

	// Create endpoint registry and register all endpoints
	s.endpointRegistry = api.NewRegistry()
	for _, ep := range endpoints.All() {
		s.endpointRegistry.Register(ep)
	}

	// Set up HTTP server
	mux := http.NewServeMux()
	s.endpointRegistry.RegisterRoutes(mux, s.requireInit)

	s.httpServer = &http.Server{
		Addr:         net.JoinHostPort(cfg.Host, cfg.Port),
		Handler:      s.withServices(mux),
		ReadTimeout:  5 * time.Minute, // uploads
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	return s, nil
}

// Start opens the store, starts the job runner and serves HTTP.
// It blocks until the context is cancelled or an error occurs.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.New("server already running")
	}
	s.running = true
	s.mu.Unlock()

	if err := s.home.EnsureExists(); err != nil {
		s.setNotRunning()
		return err
	}

	cfg := s.config()

	s.logger.Info("opening job store", "driver", cfg.Store.Driver)
	store, err := openStore(ctx, cfg.Store, s.home)
	if err != nil {
		s.setNotRunning()
		return fmt.Errorf("failed to open job store: %w", err)
	}
	s.store = store

	kv, err := openCache(ctx, cfg.Cache)
	if err != nil {
		_ = s.shutdown()
		return fmt.Errorf("failed to open progress cache: %w", err)
	}
	s.kv = kv

	svc := pipeline.NewService(pipeline.ServiceConfig{
		Store:     store,
		KV:        kv,
		CacheTTL:  cfg.Cache.CacheTTL(),
		InputRoot: s.home.UploadsPath(),
		Logger:    s.logger,
	})

	orch, err := pipeline.NewOrchestrator(pipeline.OrchestratorConfig{
		Store: store,
		Source: pipeline.PDFSource{Options: ingest.Options{
			Renderer:    s.renderer(cfg.Ingest),
			Concurrency: cfg.Ingest.Concurrency,
			Logger:      s.logger,
		}},
		NewAnalyzer: s.newAnalyzer,
		Assembler: pipeline.EPUBAssembler{
			OutputDir: s.home.OutputsPath(),
			Author:    cfg.Output.Author,
			Language:  cfg.Output.Language,
		},
		Quality: cfg.Quality,
		Cache:   svc.Cache(),
		Logger:  s.logger,
	})
	if err != nil {
		_ = s.shutdown()
		return err
	}

	runCtx, stopRunner := context.WithCancel(ctx)
	defer stopRunner()

	s.runner = pipeline.NewRunner(pipeline.RunnerConfig{
		Orchestrator: orch,
		Store:        store,
		Workers:      cfg.Server.Workers,
		QueueSize:    cfg.Server.QueueSize,
		Logger:       s.logger,
	})
	svc.SetRunner(s.runner)

	if err := s.runner.Start(runCtx); err != nil {
		stopRunner()
		_ = s.shutdown()
		return err
	}

	// Create services struct for context enrichment
	s.mu.Lock()
	s.services = &svcctx.Services{
		Conversions:    svc,
		Runner:         s.runner,
		Registry:       s.registry,
		Metrics:        s.recorder,
		Home:           s.home,
		Logger:         s.logger,
		MaxUploadBytes: int64(cfg.Server.MaxUploadMB) << 20,
	}
	s.mu.Unlock()

	// Start HTTP server in goroutine
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting HTTP server", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for context cancellation or error
	var serveErr error
	select {
	case <-ctx.Done():
		s.logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			serveErr = fmt.Errorf("HTTP server error: %w", err)
		}
	}

	// Running jobs are left mid-stage; the next start recovers them.
	stopRunner()
	if err := s.shutdown(); err != nil {
		return err
	}
	return serveErr
}

// shutdown stops HTTP, waits for workers and closes the store and cache.
func (s *Server) shutdown() error {
	s.logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("HTTP server shutdown error", "error", err)
	}

	if s.runner != nil {
		s.logger.Info("waiting for job workers")
		s.runner.Wait()
	}

	if closer, ok := s.kv.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			s.logger.Error("progress cache close error", "error", err)
		}
	}

	if s.store != nil {
		if err := s.store.Close(); err != nil {
			s.logger.Error("job store close error", "error", err)
		}
	}

	s.mu.Lock()
	s.services = nil
	s.running = false
	s.mu.Unlock()
	s.logger.Info("server stopped")
	return nil
}

func (s *Server) setNotRunning() {
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
}

// IsRunning returns whether the server is currently running.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// Addr returns the server's listen address.
func (s *Server) Addr() string {
	return s.httpServer.Addr
}

// Registry returns the provider registry.
func (s *Server) Registry() *providers.Registry {
	return s.registry
}

// Metrics returns the usage recorder.
func (s *Server) Metrics() *metrics.Recorder {
	return s.recorder
}

// Handler returns the HTTP handler, for tests that drive the server with httptest.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

func (s *Server) config() *config.Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// newAnalyzer builds a batch from the current analysis settings, so a
// reloaded primary, fallback or retry policy applies to the next job.
func (s *Server) newAnalyzer() (pipeline.BatchAnalyzer, error) {
	a := s.config().Analysis
	f := analysis.NewFactory(s.registry, analysis.FactoryConfig{
		Primary:        a.Primary,
		Fallback:       a.Fallback,
		Policy:         a.Policy(),
		Concurrency:    a.Concurrency,
		AbortThreshold: a.AbortThreshold,
		Recorder:       s.recorder,
		Logger:         s.logger,
	})
	return pipeline.FactoryFrom(f)()
}

func (s *Server) renderer(cfg config.IngestCfg) ingest.Renderer {
	r := ingest.PdftoppmRenderer{DPI: cfg.DPI, Binary: cfg.Pdftoppm}
	if !r.Available() {
		s.logger.Warn("pdftoppm not found, pages are analyzed from extracted text only", "binary", cfg.Pdftoppm)
		return nil
	}
	return r
}

// withServices wraps a handler to enrich the request context with services.
func (s *Server) withServices(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		s.mu.RLock()
		services := s.services
		s.mu.RUnlock()
		if services != nil {
			ctx = svcctx.WithServices(ctx, services)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireInit is middleware that ensures the server is fully initialized.
// Returns 503 Service Unavailable until the store and runner are up.
func (s *Server) requireInit(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svcctx.ConversionsFrom(r.Context()) == nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"error":"server not fully initialized"}`))
			return
		}
		next(w, r)
	}
}

// openStore opens the job store selected by cfg.Driver.
func openStore(ctx context.Context, cfg config.StoreCfg, h *home.Dir) (jobs.Store, error) {
	switch cfg.Driver {
	case "memory":
		return jobs.NewMemoryStore(), nil
	case "postgres":
		return jobs.ConnectPostgres(ctx, config.ResolveEnvVars(cfg.URL))
	case "sqlite", "":
		path := cfg.Path
		if path == "" {
			path = h.DBPath()
		} else if !filepath.IsAbs(path) {
			path = filepath.Join(h.Path(), path)
		}
		return jobs.OpenSQLite(path)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

// openCache opens the progress cache selected by cfg.Driver. "none" returns
// a nil KV, which disables caching.
func openCache(ctx context.Context, cfg config.CacheCfg) (cache.KV, error) {
	switch cfg.Driver {
	case "memory", "":
		return cache.NewMemoryKV(), nil
	case "redis":
		return cache.DialRedis(ctx, config.ResolveEnvVars(cfg.URL))
	case "none":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown cache driver %q", cfg.Driver)
	}
}
