package cli

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/lib/pq"

	"github.com/youssefsiam38/agentctx/compaction"
	"github.com/youssefsiam38/agentctx/storage"
)

// migrator is implemented by the SQL stores.
type migrator interface {
	Migrate(ctx context.Context) error
}

// openStore connects the configured store. It returns a nil store when no
// database is configured for a SQL driver.
func openStore(ctx context.Context, cfg StorageConfig) (storage.Store, func(), error) {
	noop := func() {}

	var (
		store storage.Store
		closeFn func()
	)
	switch cfg.Driver {
	case DriverMemory:
		return storage.NewMemoryStore(), noop, nil

	case DriverPgx:
		if cfg.DatabaseURL == "" {
			return nil, noop, nil
		}
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, noop, fmt.Errorf("failed to connect to database: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, noop, fmt.Errorf("failed to ping database: %w", err)
		}
		store, closeFn = storage.NewPostgresStore(pool), pool.Close

	case DriverPQ:
		if cfg.DatabaseURL == "" {
			return nil, noop, nil
		}
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, noop, fmt.Errorf("failed to open database: %w", err)
		}
		if err := db.PingContext(ctx); err != nil {
			_ = db.Close()
			return nil, noop, fmt.Errorf("failed to ping database: %w", err)
		}
		store, closeFn = storage.NewSQLStore(db), func() { _ = db.Close() }

	default:
		return nil, noop, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}

	if m, ok := store.(migrator); ok {
		if err := m.Migrate(ctx); err != nil {
			closeFn()
			return nil, noop, err
		}
	}
	return store, closeFn, nil
}

// session binds a store to one session id. A zero session does nothing.
type session struct {
	store storage.Store
	id    string
}

func (s session) enabled() bool {
	return s.store != nil && s.id != ""
}

// load returns the stored state, or nil when there is none.
func (s session) load(ctx context.Context) (*storage.ConversationState, error) {
	if !s.enabled() {
		return nil, nil
	}
	state, err := s.store.LoadState(ctx, s.id)
	if errors.Is(err, storage.ErrStateNotFound) {
		return nil, nil
	}
	return state, err
}

// save stores the transcript and the outcome of a manager call atomically.
func (s session) save(ctx context.Context, state *storage.ConversationState, result *compaction.Result) error {
	if !s.enabled() {
		return nil
	}
	state.SessionID = s.id
	state.Apply(result)

	return s.store.InTx(ctx, func(ctx context.Context) error {
		if err := s.store.SaveState(ctx, state); err != nil {
			return err
		}
		if !result.Compacted && !result.Optimized {
			return nil
		}
		return s.store.SaveCompactionEvent(ctx, storage.NewCompactionEvent(s.id, result))
	})
}
