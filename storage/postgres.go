package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// txContextKey is the context key for storing pgx.Tx
type txContextKey struct{}

// WithTx returns a new context with the given transaction
func WithTx(ctx context.Context, tx pgx.Tx) context.Context {
	return context.WithValue(ctx, txContextKey{}, tx)
}

// TxFromContext retrieves the transaction from context, or nil if not present
func TxFromContext(ctx context.Context) pgx.Tx {
	if tx, ok := ctx.Value(txContextKey{}).(pgx.Tx); ok {
		return tx
	}
	return nil
}

// txStrippedContext hides the transaction from nested contexts
type txStrippedContext struct {
	context.Context
}

func (c *txStrippedContext) Value(key any) any {
	if _, ok := key.(txContextKey); ok {
		return nil
	}
	return c.Context.Value(key)
}

// StripTx creates a new context without the transaction value
// but preserving deadline, cancellation, and other values.
func StripTx(ctx context.Context) context.Context {
	return &txStrippedContext{ctx}
}

// querier is a common interface for pgxpool.Pool and pgx.Tx
type querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore implements Store using PostgreSQL with pgx
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL store
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// getQuerier returns the transaction from context if present, otherwise the pool
func (s *PostgresStore) getQuerier(ctx context.Context) querier {
	if tx := TxFromContext(ctx); tx != nil {
		return tx
	}
	return s.pool
}

// Migrate creates the tables if they do not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.getQuerier(ctx).Exec(ctx, Schema); err != nil {
		return fmt.Errorf("%w: failed to apply schema: %v", ErrStorageError, err)
	}
	return nil
}

// InTx runs fn inside a transaction. A transaction already carried by ctx is
// reused.
func (s *PostgresStore) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if TxFromContext(ctx) != nil {
		return fn(ctx)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(WithTx(ctx, tx)); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// SaveState inserts or replaces the state of a session
func (s *PostgresStore) SaveState(ctx context.Context, state *ConversationState) error {
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

	_, err = s.getQuerier(ctx).Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to save state: %w", err)
	}

	return nil
}

// LoadState retrieves the state of a session
func (s *PostgresStore) LoadState(ctx context.Context, sessionID string) (*ConversationState, error) {
	query := `
		SELECT session_id, turns, records, compaction, compaction_count, created_at, updated_at
		FROM agentctx_states
		WHERE session_id = $1
	`

	var state ConversationState
	var turnsJSON, recordsJSON, compactionJSON []byte

	err := s.getQuerier(ctx).QueryRow(ctx, query, sessionID).Scan(
		&state.SessionID,
		&turnsJSON,
		&recordsJSON,
		&compactionJSON,
		&state.CompactionCount,
		&state.CreatedAt,
		&state.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
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

// DeleteState removes the state and compaction history of a session
func (s *PostgresStore) DeleteState(ctx context.Context, sessionID string) error {
	return s.InTx(ctx, func(ctx context.Context) error {
		q := s.getQuerier(ctx)
		if _, err := q.Exec(ctx, `DELETE FROM agentctx_compaction_events WHERE session_id = $1`, sessionID); err != nil {
			return fmt.Errorf("failed to delete compaction events: %w", err)
		}
		if _, err := q.Exec(ctx, `DELETE FROM agentctx_states WHERE session_id = $1`, sessionID); err != nil {
			return fmt.Errorf("failed to delete state: %w", err)
		}
		return nil
	})
}

// SaveCompactionEvent records a compaction event
func (s *PostgresStore) SaveCompactionEvent(ctx context.Context, event *CompactionEvent) error {
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

	err := s.getQuerier(ctx).QueryRow(ctx, query,
		event.ID,
		event.SessionID,
		event.RangeStart,
		event.RangeEnd,
		event.Compacted,
		event.Optimized,
		event.TurnsRemoved,
		optimized,
		event.OriginalTokens,
		event.EstimatedTokens,
		event.DurationMs,
	).Scan(&event.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to save compaction event: %w", err)
	}

	return nil
}

// GetCompactionHistory retrieves the compaction events of a session, oldest first
func (s *PostgresStore) GetCompactionHistory(ctx context.Context, sessionID string) ([]*CompactionEvent, error) {
	query := `
		SELECT id, session_id, range_start, range_end, compacted, optimized,
		       turns_removed, optimized_turns, original_tokens, estimated_tokens,
		       duration_ms, created_at
		FROM agentctx_compaction_events
		WHERE session_id = $1
		ORDER BY created_at ASC, id ASC
	`

	rows, err := s.getQuerier(ctx).Query(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to get compaction history: %w", err)
	}
	defer rows.Close()

	var events []*CompactionEvent
	for rows.Next() {
		var event CompactionEvent
		if err := rows.Scan(
			&event.ID,
			&event.SessionID,
			&event.RangeStart,
			&event.RangeEnd,
			&event.Compacted,
			&event.Optimized,
			&event.TurnsRemoved,
			&event.OptimizedTurns,
			&event.OriginalTokens,
			&event.EstimatedTokens,
			&event.DurationMs,
			&event.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan compaction event: %w", err)
		}
		events = append(events, &event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating compaction events: %w", err)
	}

	return events, nil
}

// stateArgs returns the SaveState query arguments shared by the SQL stores.
func stateArgs(state *ConversationState) ([]any, error) {
	if state == nil || state.SessionID == "" {
		return nil, fmt.Errorf("session_id is required")
	}

	turnsJSON, err := json.Marshal(state.Turns)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal turns: %w", err)
	}
	recordsJSON, err := json.Marshal(state.Records)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal records: %w", err)
	}
	compactionJSON, err := json.Marshal(state.Compaction)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal compaction state: %w", err)
	}

	return []any{state.SessionID, turnsJSON, recordsJSON, compactionJSON, state.CompactionCount}, nil
}

func decodeState(state *ConversationState, turnsJSON, recordsJSON, compactionJSON []byte) error {
	if err := json.Unmarshal(turnsJSON, &state.Turns); err != nil {
		return fmt.Errorf("failed to unmarshal turns: %w", err)
	}
	if err := json.Unmarshal(recordsJSON, &state.Records); err != nil {
		return fmt.Errorf("failed to unmarshal records: %w", err)
	}
	if err := json.Unmarshal(compactionJSON, &state.Compaction); err != nil {
		return fmt.Errorf("failed to unmarshal compaction state: %w", err)
	}
	return nil
}
