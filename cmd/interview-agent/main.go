package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/husainf4l/rolevatev7/pkg/agent/config"
	"github.com/husainf4l/rolevatev7/pkg/agent/lifecycle"
	"github.com/husainf4l/rolevatev7/pkg/agent/live/sessions"
	"github.com/husainf4l/rolevatev7/pkg/agent/metrics"
	"github.com/husainf4l/rolevatev7/pkg/agent/server"
	"github.com/husainf4l/rolevatev7/pkg/backend"
	"github.com/husainf4l/rolevatev7/pkg/capture"
	"github.com/husainf4l/rolevatev7/pkg/generation"
	"github.com/husainf4l/rolevatev7/pkg/state"
)

type agentDeps struct {
	loadConfig   func() (config.Config, error)
	openStore    func(ctx context.Context, cfg config.Config, logger *slog.Logger) (state.Store, error)
	newProvider  func(ctx context.Context, cfg config.Config, logger *slog.Logger) (generation.Provider, error)
	signalNotify func(chan<- os.Signal, ...os.Signal)
	signalStop   func(chan<- os.Signal)
}

func defaultAgentDeps() agentDeps {
	return agentDeps{
		loadConfig: config.LoadFromEnv,
		openStore: func(ctx context.Context, cfg config.Config, logger *slog.Logger) (state.Store, error) {
			return state.NewSelector(state.SelectorConfig{
				Backend:        cfg.StoreBackend,
				DatabaseURL:    cfg.DatabaseURL,
				ConnectTimeout: cfg.StoreConnectTimeout,
				Logger:         logger,
			}).Store(ctx)
		},
		newProvider: func(ctx context.Context, cfg config.Config, logger *slog.Logger) (generation.Provider, error) {
			factory := generation.Factory{Logger: logger}
			return factory.New(ctx, cfg.GenerationProvider, cfg.GenerationAPIKey, cfg.GenerationModel)
		},
		signalNotify: func(c chan<- os.Signal, sig ...os.Signal) {
			signal.Notify(c, sig...)
		},
		signalStop: signal.Stop,
	}
}

func newLogger(cfg config.Config, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.Level()}
	if cfg.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func buildHTTPServer(cfg config.Config, handler http.Handler) *http.Server {
	// No ReadTimeout: interview sockets stay open for the whole session.
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
}

func runAgent(ctx context.Context, logOut io.Writer, deps agentDeps) error {
	if deps.loadConfig == nil || deps.openStore == nil || deps.newProvider == nil {
		return errors.New("missing build dependency")
	}
	if deps.signalNotify == nil || deps.signalStop == nil {
		return errors.New("missing signal dependency")
	}

	cfg, err := deps.loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := newLogger(cfg, logOut)

	store, err := deps.openStore(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("open conversation store: %w", err)
	}
	defer store.Close()

	provider, err := deps.newProvider(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("build generation provider: %w", err)
	}

	gateway := backend.New(cfg.GraphQLEndpoint, cfg.BackendAPIKey, backend.WithLogger(logger))

	var captureClient capture.Client = capture.Disabled{}
	if cfg.CaptureEnabled() {
		captureClient = capture.NewHTTPClient(cfg.CaptureBaseURL, cfg.CaptureToken, capture.WithLogger(logger))
	}

	agentMetrics := metrics.New("")
	life := &lifecycle.Lifecycle{}
	tracker := sessions.NewTracker(cfg.MaxSessions)

	srv := server.New(cfg, logger, server.Dependencies{
		Store:     store,
		Gateway:   gateway,
		Capture:   captureClient,
		Provider:  provider,
		Metrics:   agentMetrics,
		Lifecycle: life,
		Sessions:  tracker,
	})
	httpSrv := buildHTTPServer(cfg, srv.Handler())

	logger.Info("starting interview agent",
		"addr", cfg.Addr,
		"store_backend", store.Backend(),
		"provider", cfg.GenerationProvider,
		"capture_enabled", cfg.CaptureEnabled(),
		"auth_enabled", cfg.AuthEnabled())

	listenErrCh := make(chan error, 1)
	go func() {
		err := httpSrv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			listenErrCh <- err
			return
		}
		listenErrCh <- nil
	}()

	sigCh := make(chan os.Signal, 1)
	deps.signalNotify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer deps.signalStop(sigCh)

	select {
	case err := <-listenErrCh:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
		logger.Info("context canceled, shutting down")
	case sig := <-sigCh:
		logger.Info("shutdown signal received", "signal", sig.String())
	}

	life.SetDraining(true)
	if warned := tracker.WarnAll("draining", "agent is shutting down"); warned > 0 {
		logger.Info("live sessions warned", "count", warned)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}

	waitCtx, waitCancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
	defer waitCancel()
	if !tracker.Wait(waitCtx) {
		canceled := tracker.CancelAll()
		logger.Warn("grace period elapsed, remaining sessions canceled", "count", canceled)
	}

	if err := <-listenErrCh; err != nil {
		return fmt.Errorf("serve: %w", err)
	}

	logger.Info("interview agent stopped")
	return nil
}

func runMain(ctx context.Context, stderr io.Writer, deps agentDeps) int {
	if stderr == nil {
		stderr = os.Stderr
	}

	_ = godotenv.Load()

	if err := runAgent(ctx, stderr, deps); err != nil {
		fmt.Fprintf(stderr, "interview-agent: %v\n", err)
		return 1
	}
	return 0
}

func main() {
	os.Exit(runMain(context.Background(), os.Stderr, defaultAgentDeps()))
}
