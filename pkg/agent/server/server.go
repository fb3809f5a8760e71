package server

import (
	"log/slog"
	"net/http"

	"github.com/husainf4l/rolevatev7/pkg/agent/config"
	"github.com/husainf4l/rolevatev7/pkg/agent/handlers"
	"github.com/husainf4l/rolevatev7/pkg/agent/lifecycle"
	"github.com/husainf4l/rolevatev7/pkg/agent/live/sessions"
	"github.com/husainf4l/rolevatev7/pkg/agent/metrics"
	"github.com/husainf4l/rolevatev7/pkg/agent/mw"
	"github.com/husainf4l/rolevatev7/pkg/backend"
	"github.com/husainf4l/rolevatev7/pkg/capture"
	"github.com/husainf4l/rolevatev7/pkg/generation"
	"github.com/husainf4l/rolevatev7/pkg/state"
)

// Dependencies are the process-wide collaborators the routes share. Metrics
// may be nil; the /metrics route is then not registered.
type Dependencies struct {
	Store    state.Store
	Gateway  backend.Gateway
	Capture  capture.Client
	Provider generation.Provider

	Metrics   *metrics.Metrics
	Lifecycle *lifecycle.Lifecycle
	Sessions  *sessions.Tracker
}

type Server struct {
	cfg    config.Config
	logger *slog.Logger
	deps   Dependencies
	mux    *http.ServeMux
}

func New(cfg config.Config, logger *slog.Logger, deps Dependencies) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		cfg:    cfg,
		logger: logger,
		deps:   deps,
		mux:    http.NewServeMux(),
	}

	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.Handle("/healthz", handlers.HealthHandler{})
	s.mux.Handle("/readyz", handlers.ReadyHandler{
		Lifecycle:      s.deps.Lifecycle,
		Store:          s.deps.Store,
		CaptureEnabled: s.cfg.CaptureEnabled(),
	})
	if s.deps.Metrics != nil {
		s.mux.Handle("/metrics", s.deps.Metrics.Handler())
	}

	s.mux.Handle("/v1/interview", handlers.LiveHandler{
		Config:    s.cfg,
		Logger:    s.logger,
		Store:     s.deps.Store,
		Gateway:   s.deps.Gateway,
		Capture:   s.deps.Capture,
		Provider:  s.deps.Provider,
		Metrics:   s.deps.Metrics,
		Lifecycle: s.deps.Lifecycle,
		Sessions:  s.deps.Sessions,
	})

	s.mux.Handle("/", handlers.NotFoundHandler{})
}

func (s *Server) Handler() http.Handler {
	var h http.Handler = s.mux
	h = mw.Auth(s.cfg, h)
	h = mw.CORS(s.cfg, h)
	h = mw.Recover(s.logger, h)
	h = mw.AccessLog(s.logger, h)
	h = mw.RequestID(h)
	return h
}
