package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// sqlTxContextKey is the context key for storing *sql.Tx.
type sqlTxContextKey struct{}

// WithSQLTx returns a new context with the given database/sql transaction.
// SQLStore operations using the context run inside it.
func WithSQLTx(ctx context.Context, tx *sql.Tx) context.Context {
	return context.WithValue(ctx, sqlTxContextKey{}, tx)
}

// SQLTxFromContext retrieves the transaction from context, or nil if not present.
func SQLTxFromContext(ctx context.Context) *sql.Tx {
	if tx, ok := ctx.Value(sqlTxContextKey{}).(*sql.Tx); ok {
		return tx
	}
	return nil
}

// executor is the subset of *sql.DB and *sql.Tx the store needs.
type executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// SQLStore implements Store on database/sql. It expects a PostgreSQL
// connection, usually opened with the lib/pq "postgres" driver.
type SQLStore struct {
	db *sql.DB
}

// NewSQLStore creates a new database/sql store.
func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

// getExecutor returns the transaction from context if present, otherwise the pool.
func (s *SQLStore) getExecutor(ctx context.Context) executor {
	if tx := SQLTxFromContext(ctx); tx != nil {
		return tx
	}
	return s.db
}

// Migrate creates the tables if they do not exist.
func (s *SQLStore) Migrate(ctx context.Context) error {
	if _, err := s.getExecutor(ctx).ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("%w: failed to apply schema: %v", ErrStorageError, err)
	}
	return nil
}

// InTx runs fn inside a transaction. A transaction already carried by ctx is
// reused.
func (s *SQLStore) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if SQLTxFromContext(ctx) != nil {
		return fn(ctx)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(WithSQLTx(ctx, tx)); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// SaveState inserts or replaces the state of a session.
func (s *SQLStore) SaveState(ctx context.Context, state *ConversationState) error {
	args, err := stateArgs(state)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO agentctx_states (session_id, turns, records, compaction, compaction_count, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW(), NOW())
		ON CONFLICT (session_id) DO UPDATE SET
			turns = EXCLUDED.turns,
			records = EXCLUDED.records,
			compaction = EXCLUDED.compaction,
			compaction_count = EXCLUDED.compaction_count,
			updated_at = NOW()
	`

	if _, err := s.getExecutor(ctx).ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to save state: %w", err)
	}

	return nil
}

// LoadState retrieves the state of a session.
func (s *SQLStore) LoadState(ctx context.Context, sessionID string) (*ConversationState, error) {
	query := `
		SELECT session_id, turns, records, compaction, compaction_count, created_at, updated_at
		FROM agentctx_states
		WHERE session_id = $1
	`

	var state ConversationState
	var turnsJSON, recordsJSON, compactionJSON []byte

	err := s.getExecutor(ctx).QueryRowContext(ctx, query, sessionID).Scan(
		&state.SessionID,
		&turnsJSON,
		&recordsJSON,
		&compactionJSON,
		&state.CompactionCount,
		&state.CreatedAt,
		&state.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrStateNotFound, sessionID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load state: %w", err)
	}

	if err := decodeState(&state, turnsJSON, recordsJSON, compactionJSON); err != nil {
		return nil, err
	}

	return &state, nil
}

// DeleteState removes the state and compaction history of a session.
func (s *SQLStore) DeleteState(ctx context.Context, sessionID string) error {
	return s.InTx(ctx, func(ctx context.Context) error {
		exec := s.getExecutor(ctx)
		if _, err := exec.ExecContext(ctx, `DELETE FROM agentctx_compaction_events WHERE session_id = $1`, sessionID); err != nil {
			return fmt.Errorf("failed to delete compaction events: %w", err)
		}
		if _, err := exec.ExecContext(ctx, `DELETE FROM agentctx_states WHERE session_id = $1`, sessionID); err != nil {
			return fmt.Errorf("failed to delete state: %w", err)
		}
		return nil
	})
}

// SaveCompactionEvent records a compaction event.
func (s *SQLStore) SaveCompactionEvent(ctx context.Context, event *CompactionEvent) error {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	optimized := event.OptimizedTurns
	if optimized == nil {
		optimized = []int64{}
	}

	query := `
		INSERT INTO agentctx_compaction_events (
			id, session_id, range_start, range_end, compacted, optimized,
			turns_removed, optimized_turns, original_tokens, estimated_tokens,
			duration_ms, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, clock_timestamp())
		RETURNING created_at
	`

	var createdAt time.Time
	err := s.getExecutor(ctx).QueryRowContext(ctx, query,
		event.ID,
		event.SessionID,
		event.RangeStart,
		event.RangeEnd,
		event.Compacted,
		event.Optimized,
		event.TurnsRemoved,
		pq.Array(optimized),
		event.OriginalTokens,
		event.EstimatedTokens,
		event.DurationMs,
	).Scan(&createdAt)
	if err != nil {
		return fmt.Errorf("failed to save compaction event: %w", err)
	}
	event.CreatedAt = createdAt

	return nil
}

// GetCompactionHistory retrieves the compaction events of a session, oldest first.
func (s *SQLStore) GetCompactionHistory(ctx context.Context, sessionID string) ([]*CompactionEvent, error) {
	query := `
		SELECT id, session_id, range_start, range_end, compacted, optimized,
		       turns_removed, optimized_turns, original_tokens, estimated_tokens,
		       duration_ms, created_at
		FROM agentctx_compaction_events
		WHERE session_id = $1
		ORDER BY created_at ASC, id ASC
	`

	rows, err := s.getExecutor(ctx).QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to get compaction history: %w", err)
	}
	defer rows.Close()

	var events []*CompactionEvent
	for rows.Next() {
		var event CompactionEvent
		var optimized pq.Int64Array
		if err := rows.Scan(
			&event.ID,
			&event.SessionID,
			&event.RangeStart,
			&event.RangeEnd,
			&event.Compacted,
			&event.Optimized,
			&event.TurnsRemoved,
			&optimized,
			&event.OriginalTokens,
			&event.EstimatedTokens,
			&event.DurationMs,
			&event.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan compaction event: %w", err)
		}
		event.OptimizedTurns = []int64(optimized)
		events = append(events, &event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating compaction events: %w", err)
	}

	return events, nil
}
