package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/itstheanurag/coderunner/internal/api"
	"github.com/itstheanurag/coderunner/internal/config"
	"github.com/itstheanurag/coderunner/internal/executor"
	"github.com/itstheanurag/coderunner/internal/languages"
	"github.com/itstheanurag/coderunner/internal/limiter"
	"github.com/itstheanurag/coderunner/internal/queue"
	"github.com/itstheanurag/coderunner/internal/runlog"
	"github.com/itstheanurag/coderunner/internal/sandbox"
	"github.com/itstheanurag/coderunner/internal/worker"
	"github.com/itstheanurag/coderunner/internal/workspace"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

type Server struct {
	conf        *config.Config
	logger      *zerolog.Logger
	httpServer  *http.Server
	registry    *languages.Registry
	workspaces  *workspace.Manager
	runner      sandbox.Runner
	docker      *sandbox.DockerRunner
	executor    *executor.Executor
	queue       *queue.Manager
	workers     []*worker.Worker
	rateLimiter *limiter.RateLimiter
	maxWait     time.Duration
	cancelFunc  context.CancelFunc
	wg          sync.WaitGroup
}

func New(
	conf *config.Config,
	logger *zerolog.Logger,
) (*Server, error) {

	var extra []languages.Language
	if conf.Engine.LanguagesFile != "" {
		loaded, err := languages.LoadFile(conf.Engine.LanguagesFile)
		if err != nil {
			return nil, err
		}
		extra = loaded
	}
	registry, err := languages.NewRegistry(extra...)
	if err != nil {
		return nil, fmt.Errorf("failed to build language registry: %w", err)
	}

	workspaces, err := workspace.NewManager(conf.Engine.WorkspaceRoot, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create workspace manager: %w", err)
	}

	s := &Server{
		conf:       conf,
		logger:     logger,
		registry:   registry,
		workspaces: workspaces,
	}

	switch conf.Engine.Backend {
	case config.BackendDocker:
		d, err := sandbox.NewDockerRunner(conf.Engine.KillGrace, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create docker runner: %w", err)
		}
		s.runner, s.docker = d, d
	default:
		s.runner = sandbox.NewProcessRunner(sandbox.ProcessOptions{
			KillGrace:          conf.Engine.KillGrace,
			MemoryPollInterval: conf.Engine.MemoryPollInterval,
			FileSizeLimit:      conf.Engine.FileSizeLimit,
			PassEnv:            conf.Engine.PassEnv,
		}, logger)
	}

	s.executor = executor.NewExecutor(registry, workspaces, s.runner, executor.Limits{
		TimeLimit:        conf.Engine.TimeLimit,
		MemoryLimitKb:    conf.Engine.MemoryLimitKb,
		CompileTimeLimit: conf.Engine.CompileTimeLimit,
		CompileMemoryKb:  conf.Engine.CompileMemoryKb,
		MaxTimeLimit:     conf.Engine.MaxTimeLimit,
		MaxMemoryLimitKb: conf.Engine.MaxMemoryLimitKb,
		OutputLimit:      conf.Engine.OutputLimit,
	}, logger)

	s.queue = queue.NewManager(conf.Engine.QueueSize)
	history := runlog.New(conf.Engine.RunLogSize)

	s.rateLimiter = limiter.NewRateLimiter(conf.Limiter.GlobalRPS, conf.Limiter.IPRPS, conf.Limiter.IPBurst, conf.Limiter.TrustProxy)

	s.maxWait = longestSubmission(conf, registry) + 5*time.Second
	handler := api.NewHandler(s.queue, registry, history, s.maxWait, logger)

	router := mux.NewRouter()

	// health check
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}).Methods(http.MethodGet)

	// Prometheus metrics endpoint
	router.Handle("/metrics", promhttp.Handler())

	handler.Register(router, s.rateLimiter.Middleware)

	s.httpServer = &http.Server{
		Addr:         ":" + conf.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(conf.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(conf.Server.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(conf.Server.IdleTimeout) * time.Second,
	}
	if s.httpServer.WriteTimeout < s.maxWait {
		s.httpServer.WriteTimeout = s.maxWait + time.Second
	}

	// one worker per allowed concurrent execution
	s.workers = make([]*worker.Worker, conf.Engine.MaxConcurrent)
	for i := range s.workers {
		s.workers[i] = worker.NewWorker(i, s.executor, s.queue, history, logger)
	}

	return s, nil
}

// longestSubmission is the slowest compile any language profile allows plus
// the longest run a submission may ask for.
func longestSubmission(conf *config.Config, registry *languages.Registry) time.Duration {
	compile := conf.Engine.CompileTimeLimit
	for _, l := range registry.List() {
		compile = max(compile, l.CompileTimeLimit)
	}
	return compile + conf.Engine.MaxTimeLimit
}

// MaxWait is how long an execute request may wait for its result.
func (s *Server) MaxWait() time.Duration {
	return s.maxWait
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

func (s *Server) Start() error {
	s.logger.Info().
		Str("port", s.conf.Server.Port).
		Str("backend", s.runner.Name()).
		Int("workers", len(s.workers)).
		Msg("starting HTTP server")

	if _, err := s.workspaces.Sweep(); err != nil {
		s.logger.Warn().Err(err).Msg("failed to clean stale workspaces")
	}

	if s.docker != nil {
		if err := s.docker.Ping(context.Background()); err != nil {
			return err
		}
		if err := s.ensureImages(context.Background()); err != nil {
			return fmt.Errorf("failed to ensure docker images: %w", err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancelFunc = cancel

	for _, w := range s.workers {
		s.wg.Add(1)
		go func(w *worker.Worker) {
			defer s.wg.Done()
			w.Start(ctx)
		}(w)
	}
	s.rateLimiter.StartCleanup(5 * time.Minute)

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server failed: %w", err)
	}

	return nil
}

func (s *Server) ensureImages(ctx context.Context) error {
	uniqueImages := make(map[string]bool)
	for _, l := range s.registry.List() {
		if l.Image != "" {
			uniqueImages[l.Image] = true
		}
	}

	for img := range uniqueImages {
		if err := s.docker.EnsureImage(ctx, img); err != nil {
			return err
		}
	}

	return nil
}

// Stop drains HTTP first so no new work arrives, then lets workers finish
// the submission they hold.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info().Msg("shutting down HTTP server")

	err := s.httpServer.Shutdown(ctx)

	if s.cancelFunc != nil {
		s.cancelFunc()
	}
	s.rateLimiter.Stop()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.logger.Warn().Msg("workers still busy at shutdown deadline")
	}

	if s.docker != nil {
		if cerr := s.docker.Close(); cerr != nil {
			s.logger.Warn().Err(cerr).Msg("failed to close docker client")
		}
	}

	if err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}
	return nil
}
