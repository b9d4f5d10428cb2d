// Package storage persists conversation state for hosts that want the raw
// transcript, its usage records and the compaction state kept between runs.
// The compaction package itself never persists anything.
package storage

import (
	"context"
	_ "embed"
	"errors"
	"time"

	"github.com/youssefsiam38/agentctx/compaction"
	"github.com/youssefsiam38/agentctx/types"
)

// Schema creates the tables used by PostgresStore and SQLStore.
//
//go:embed schema.sql
var Schema string

// Sentinel errors for storage operations.
var (
	// ErrStateNotFound indicates no state is stored for the session.
	ErrStateNotFound = errors.New("conversation state not found")

	// ErrStorageError indicates a failure of the underlying database.
	ErrStorageError = errors.New("storage error")
)

// Store defines the storage interface for conversation state
type Store interface {
	// State operations
	SaveState(ctx context.Context, state *ConversationState) error
	LoadState(ctx context.Context, sessionID string) (*ConversationState, error)
	DeleteState(ctx context.Context, sessionID string) error

	// Compaction operations
	SaveCompactionEvent(ctx context.Context, event *CompactionEvent) error
	GetCompactionHistory(ctx context.Context, sessionID string) ([]*CompactionEvent, error)

	// InTx runs fn so that every store call made with the context it receives
	// commits or rolls back together.
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// ConversationState is everything a host needs to rebuild the next request:
// the raw transcript, the accounting per host message and the compaction state.
type ConversationState struct {
	SessionID string `json:"session_id"`

	// Turns is the raw transcript. Compaction never shortens it.
	Turns []*types.Turn `json:"turns"`

	// Records holds one usage record per host message.
	Records []types.TokenUsage `json:"records"`

	// Compaction is the manager state carried between requests.
	Compaction compaction.State `json:"compaction"`

	CompactionCount int       `json:"compaction_count"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Apply records the outcome of a manager call.
func (s *ConversationState) Apply(result *compaction.Result) {
	s.Compaction = result.State
	if result.Compacted {
		s.CompactionCount++
	}
}

// CompactionEvent represents a context compaction event
type CompactionEvent struct {
	ID              string    `json:"id"`
	SessionID       string    `json:"session_id"`
	RangeStart      int       `json:"range_start"`
	RangeEnd        int       `json:"range_end"`
	Compacted       bool      `json:"compacted"`
	Optimized       bool      `json:"optimized"`
	TurnsRemoved    int       `json:"turns_removed"`
	OptimizedTurns  []int64   `json:"optimized_turns"`
	OriginalTokens  int       `json:"original_tokens"`
	EstimatedTokens int       `json:"estimated_tokens"`
	DurationMs      int64     `json:"duration_ms"`
	CreatedAt       time.Time `json:"created_at"`
}

// NewCompactionEvent builds the event for a manager result. The ID is assigned
// when the event is saved.
func NewCompactionEvent(sessionID string, result *compaction.Result) *CompactionEvent {
	event := &CompactionEvent{
		SessionID:       sessionID,
		RangeStart:      compaction.RangeStart,
		RangeEnd:        compaction.RangeStart - 1,
		Compacted:       result.Compacted,
		Optimized:       result.Optimized,
		TurnsRemoved:    result.TurnsRemoved,
		OriginalTokens:  result.OriginalTokens,
		EstimatedTokens: result.EstimatedTokens,
		DurationMs:      result.Duration.Milliseconds(),
	}
	if r := result.State.DeletedRange; r != nil {
		event.RangeStart, event.RangeEnd = r.Start, r.End
	}
	for _, i := range result.OptimizedIndices.Sorted() {
		event.OptimizedTurns = append(event.OptimizedTurns, int64(i))
	}
	return event
}

// Range returns the deleted range recorded by the event.
func (e *CompactionEvent) Range() compaction.Range {
	return compaction.Range{Start: e.RangeStart, End: e.RangeEnd}
}
