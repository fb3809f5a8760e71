package state

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	// Registers the pgx driver with database/sql for the migration run.
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/husainf4l/rolevatev7/pkg/core"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// PostgresStore is the persistent backend: one JSONB snapshot per thread in
// conversation_checkpoints, commits serialized per row with FOR UPDATE.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewPostgresStore connects, pings, and runs the embedded migrations. The
// caller's ctx bounds the whole probe.
func NewPostgresStore(ctx context.Context, databaseURL string, logger *slog.Logger) (*PostgresStore, error) {
	if databaseURL == "" {
		return nil, errors.New("database url is empty")
	}
	if logger == nil {
		logger = slog.Default()
	}

	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	if err := runMigrations(ctx, databaseURL); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &PostgresStore{pool: pool, logger: logger}, nil
}

func runMigrations(ctx context.Context, databaseURL string) error {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	goose.SetBaseFS(migrationsFS)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	return goose.UpContext(ctx, db, "migrations")
}

// Init implements Store. ON CONFLICT DO NOTHING keeps existing snapshots
// intact.
func (p *PostgresStore) Init(ctx context.Context, threadID string, initial *ConversationState) error {
	snapshot := initial.Clone()
	snapshot.ThreadID = threadID
	payload, err := json.Marshal(snapshot)
	if err != nil {
		return core.NewInternalError("encode snapshot", err)
	}
	_, err = p.pool.Exec(ctx,
		`INSERT INTO conversation_checkpoints (thread_id, state, updated_at)
		 VALUES ($1, $2, now())
		 ON CONFLICT (thread_id) DO NOTHING`,
		threadID, payload)
	if err != nil {
		return core.NewConnectivityError("init checkpoint", err)
	}
	return nil
}

// Get implements Store.
func (p *PostgresStore) Get(ctx context.Context, threadID string) (*ConversationState, error) {
	var payload []byte
	err := p.pool.QueryRow(ctx,
		`SELECT state FROM conversation_checkpoints WHERE thread_id = $1`,
		threadID).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, core.NewConnectivityError("read checkpoint", err)
	}
	var snapshot ConversationState
	if err := json.Unmarshal(payload, &snapshot); err != nil {
		return nil, core.NewInternalError("decode checkpoint", err)
	}
	return &snapshot, nil
}

// Commit implements Store. The row lock serializes concurrent commits for
// one thread; the merge itself happens in Go.
func (p *PostgresStore) Commit(ctx context.Context, threadID string, delta Delta) (*ConversationState, error) {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return nil, core.NewConnectivityError("begin commit", err)
	}
	defer tx.Rollback(ctx)

	var payload []byte
	err = tx.QueryRow(ctx,
		`SELECT state FROM conversation_checkpoints WHERE thread_id = $1 FOR UPDATE`,
		threadID).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, notFound(threadID)
	}
	if err != nil {
		return nil, core.NewConnectivityError("lock checkpoint", err)
	}

	var prev ConversationState
	if err := json.Unmarshal(payload, &prev); err != nil {
		return nil, core.NewInternalError("decode checkpoint", err)
	}
	next := merge(&prev, delta, time.Now().UTC())
	encoded, err := json.Marshal(next)
	if err != nil {
		return nil, core.NewInternalError("encode snapshot", err)
	}

	if _, err := tx.Exec(ctx,
		`UPDATE conversation_checkpoints SET state = $2, updated_at = now() WHERE thread_id = $1`,
		threadID, encoded); err != nil {
		return nil, core.NewConnectivityError("write checkpoint", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, core.NewConnectivityError("commit checkpoint", err)
	}
	return next, nil
}

// Backend implements Store.
func (p *PostgresStore) Backend() string { return BackendPostgres }

// Close implements Store.
func (p *PostgresStore) Close() {
	p.pool.Close()
}
