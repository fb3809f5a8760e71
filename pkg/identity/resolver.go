package identity

import (
	"context"
	"log/slog"

	"github.com/husainf4l/rolevatev7/pkg/core"
)

// ContextFetcher is the slice of the record gateway the resolver needs.
type ContextFetcher interface {
	FetchApplicationContext(ctx context.Context, applicationID string) (*ApplicationContext, error)
}

// Resolver derives session identity from room names and loads application
// context. Resolution is idempotent and never creates records.
type Resolver struct {
	fetcher ContextFetcher
	logger  *slog.Logger
}

// Dependencies configures a Resolver. Fetcher may be nil, in which case no
// application context is ever loaded.
type Dependencies struct {
	Fetcher ContextFetcher
	Logger  *slog.Logger
}

// NewResolver builds a Resolver.
func NewResolver(deps Dependencies) *Resolver {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{fetcher: deps.Fetcher, logger: logger}
}

// Resolve parses the room name into a SessionIdentity and, when an
// application id is present, fetches its context from the gateway. Gateway
// failures are non-fatal: the session proceeds with nil context and generic
// defaults.
func (r *Resolver) Resolve(ctx context.Context, roomName string) (*SessionIdentity, *ApplicationContext) {
	applicationID, ok := ExtractApplicationID(roomName)
	id := NewSessionIdentity(roomName, applicationID)
	if !ok {
		r.logger.Warn("room name does not carry an application id, using fallback identity",
			"room", roomName, "session_id", id.SessionID)
		return id, nil
	}

	if r.fetcher == nil {
		return id, nil
	}
	appCtx, err := r.fetcher.FetchApplicationContext(ctx, applicationID)
	if err != nil {
		if core.IsType(err, core.ErrNotFound) {
			r.logger.Info("no application found, proceeding with generic defaults",
				"application_id", applicationID, "room", roomName)
		} else {
			r.logger.Warn("application context fetch failed, proceeding with generic defaults",
				"application_id", applicationID, "room", roomName, "error", err)
		}
		return id, nil
	}
	return id, appCtx
}
