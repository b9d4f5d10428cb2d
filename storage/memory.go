package storage

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/youssefsiam38/agentctx/compaction"
	"github.com/youssefsiam38/agentctx/types"
)

// MemoryStore implements Store in process memory. Values are copied on the way
// in and out, so callers never share turns with the store.
type MemoryStore struct {
	mu     sync.RWMutex
	states map[string]*ConversationState
	events map[string][]*CompactionEvent
	now    func() time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		states: make(map[string]*ConversationState),
		events: make(map[string][]*CompactionEvent),
		now:    time.Now,
	}
}

// InTx runs fn and restores the previous contents if it fails. Writes made
// concurrently by other goroutines while fn runs are lost on rollback.
func (s *MemoryStore) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	s.mu.RLock()
	states := maps.Clone(s.states)
	events := maps.Clone(s.events)
	s.mu.RUnlock()

	if err := fn(ctx); err != nil {
		s.mu.Lock()
		s.states, s.events = states, events
		s.mu.Unlock()
		return err
	}
	return nil
}

// SaveState inserts or replaces the state of a session.
func (s *MemoryStore) SaveState(ctx context.Context, state *ConversationState) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if state == nil || state.SessionID == "" {
		return fmt.Errorf("session_id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stored := copyState(state)
	now := s.now()
	stored.CreatedAt = now
	if prev, ok := s.states[state.SessionID]; ok {
		stored.CreatedAt = prev.CreatedAt
	}
	stored.UpdatedAt = now
	s.states[state.SessionID] = stored

	return nil
}

// LoadState retrieves the state of a session.
func (s *MemoryStore) LoadState(ctx context.Context, sessionID string) (*ConversationState, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	state, ok := s.states[sessionID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrStateNotFound, sessionID)
	}
	return copyState(state), nil
}

// DeleteState removes the state and compaction history of a session.
func (s *MemoryStore) DeleteState(ctx context.Context, sessionID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.states, sessionID)
	delete(s.events, sessionID)
	return nil
}

// SaveCompactionEvent records a compaction event.
func (s *MemoryStore) SaveCompactionEvent(ctx context.Context, event *CompactionEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if event.SessionID == "" {
		return fmt.Errorf("session_id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	event.CreatedAt = s.now()

	stored := *event
	stored.OptimizedTurns = slices.Clone(event.OptimizedTurns)
	// Appending to a fresh slice keeps snapshots taken by InTx intact.
	s.events[event.SessionID] = append(slices.Clone(s.events[event.SessionID]), &stored)

	return nil
}

// GetCompactionHistory retrieves the compaction events of a session, oldest first.
func (s *MemoryStore) GetCompactionHistory(ctx context.Context, sessionID string) ([]*CompactionEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	stored := s.events[sessionID]
	events := make([]*CompactionEvent, 0, len(stored))
	for _, e := range stored {
		event := *e
		event.OptimizedTurns = slices.Clone(e.OptimizedTurns)
		events = append(events, &event)
	}
	return events, nil
}

func copyState(state *ConversationState) *ConversationState {
	out := *state
	out.Turns = make([]*types.Turn, len(state.Turns))
	for i, t := range state.Turns {
		if t != nil {
			out.Turns[i] = t.Clone()
		}
	}
	out.Records = slices.Clone(state.Records)
	out.Compaction = compaction.State{Edits: slices.Clone(state.Compaction.Edits)}
	if r := state.Compaction.DeletedRange; r != nil {
		deleted := *r
		out.Compaction.DeletedRange = &deleted
	}
	return &out
}
