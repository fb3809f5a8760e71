package state

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Store is the durable, thread-keyed checkpoint store. Two backends
// implement it: Postgres (persistent, preferred) and an in-memory fallback.
type Store interface {
	// Init writes the initial snapshot unless one already exists for the
	// thread. Existing state is never overwritten.
	Init(ctx context.Context, threadID string, initial *ConversationState) error

	// Get returns a copy of the snapshot, or nil when the thread is unknown.
	Get(ctx context.Context, threadID string) (*ConversationState, error)

	// Commit atomically merges delta into the stored snapshot and returns
	// the result. Committing to an unknown thread is a not_found error.
	// A turn is not complete until Commit has returned.
	Commit(ctx context.Context, threadID string, delta Delta) (*ConversationState, error)

	// Backend names the implementation for logs and metrics.
	Backend() string

	// Close releases backend resources.
	Close()
}

// Backend selection modes.
const (
	BackendAuto     = "auto"
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

// SelectorConfig configures the one-time backend choice.
type SelectorConfig struct {
	// Backend is auto, postgres, or memory. auto probes Postgres once and
	// permanently falls back to memory on failure; postgres fails hard.
	Backend string

	// DatabaseURL is the Postgres connection string.
	DatabaseURL string

	// ConnectTimeout bounds the connection probe.
	ConnectTimeout time.Duration

	Logger *slog.Logger
}

// Selector performs the once-per-process backend choice. Every session
// shares the store it selects; there is no per-call retry-then-fallback.
type Selector struct {
	cfg    SelectorConfig
	once   sync.Once
	store  Store
	err    error
	logger *slog.Logger
}

// NewSelector builds a Selector. The store is not created until the first
// Store call.
func NewSelector(cfg SelectorConfig) *Selector {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Backend == "" {
		cfg.Backend = BackendAuto
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 5 * time.Second
	}
	return &Selector{cfg: cfg, logger: logger}
}

// Store returns the process-wide store, selecting the backend on first use.
// Later callers reuse the first caller's choice, including a degraded one.
func (s *Selector) Store(ctx context.Context) (Store, error) {
	s.once.Do(func() {
		s.store, s.err = s.selectBackend(ctx)
	})
	return s.store, s.err
}

func (s *Selector) selectBackend(ctx context.Context) (Store, error) {
	switch s.cfg.Backend {
	case BackendMemory:
		s.logger.Info("conversation store backend selected", "backend", BackendMemory)
		return NewMemoryStore(), nil
	case BackendPostgres:
		store, err := s.openPostgres(ctx)
		if err != nil {
			return nil, fmt.Errorf("postgres backend required but unavailable: %w", err)
		}
		s.logger.Info("conversation store backend selected", "backend", BackendPostgres)
		return store, nil
	case BackendAuto:
		store, err := s.openPostgres(ctx)
		if err != nil {
			s.logger.Warn("postgres unavailable, falling back to volatile in-memory store for the life of this process",
				"error", err)
			return NewMemoryStore(), nil
		}
		s.logger.Info("conversation store backend selected", "backend", BackendPostgres)
		return store, nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", s.cfg.Backend)
	}
}

func (s *Selector) openPostgres(ctx context.Context) (Store, error) {
	probeCtx, cancel := context.WithTimeout(ctx, s.cfg.ConnectTimeout)
	defer cancel()
	return NewPostgresStore(probeCtx, s.cfg.DatabaseURL, s.logger)
}
