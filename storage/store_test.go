package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/youssefsiam38/agentctx/compaction"
	"github.com/youssefsiam38/agentctx/types"
)

func testState(sessionID string) *ConversationState {
	return &ConversationState{
		SessionID: sessionID,
		Turns: []*types.Turn{
			types.UserText("Initial task message"),
			types.NewTurn(types.RoleAssistant,
				types.NewTextBlock("Reading the file"),
				types.NewToolUseBlock("toolu_1", "read_file", []byte(`{"path":"main.go"}`)),
			),
			types.NewTurn(types.RoleUser,
				types.NewToolResultBlock("toolu_1", "[read_file for 'main.go'] Result:\npackage main", false),
			),
			types.AssistantText("Done"),
		},
		Records: []types.TokenUsage{
			{TokensIn: 100, TokensOut: 20},
			{TokensIn: 180, TokensOut: 40, CacheReads: 90},
		},
		Compaction: compaction.State{
			DeletedRange: &compaction.Range{Start: 2, End: 3},
			Edits: []compaction.Edit{{
				Turn:       2,
				Block:      0,
				Inner:      0,
				Key:        compaction.ResourceKey{Kind: compaction.ResourceFile, Path: "main.go"},
				Kind:       compaction.MarkerReadFile,
				CharsSaved: 12,
				Timestamp:  time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC),
			}},
		},
		CompactionCount: 1,
	}
}

// runStoreContract exercises the behavior every Store implementation shares.
func runStoreContract(t *testing.T, store Store, sessionID string) {
	ctx := context.Background()

	t.Run("load missing", func(t *testing.T) {
		_, err := store.LoadState(ctx, sessionID+"-missing")
		if !errors.Is(err, ErrStateNotFound) {
			t.Errorf("LoadState() error = %v, want ErrStateNotFound", err)
		}
	})

	t.Run("save and load", func(t *testing.T) {
		want := testState(sessionID)
		if err := store.SaveState(ctx, want); err != nil {
			t.Fatalf("SaveState() error = %v", err)
		}

		got, err := store.LoadState(ctx, sessionID)
		if err != nil {
			t.Fatalf("LoadState() error = %v", err)
		}
		if got.SessionID != sessionID {
			t.Errorf("SessionID = %q, want %q", got.SessionID, sessionID)
		}
		if len(got.Turns) != len(want.Turns) {
			t.Fatalf("len(Turns) = %d, want %d", len(got.Turns), len(want.Turns))
		}
		if got.Turns[2].Content[0].ToolResultForUseID != "toolu_1" {
			t.Errorf("tool result id = %q, want toolu_1", got.Turns[2].Content[0].ToolResultForUseID)
		}
		if got.Turns[1].Content[1].ToolName != "read_file" {
			t.Errorf("tool use name = %q, want read_file", got.Turns[1].Content[1].ToolName)
		}
		if len(got.Records) != 2 || got.Records[1].Total() != 310 {
			t.Errorf("Records = %+v, want 2 records with total 310", got.Records)
		}
		if r := got.Compaction.DeletedRange; r == nil || *r != (compaction.Range{Start: 2, End: 3}) {
			t.Errorf("DeletedRange = %v, want [2,3]", r)
		}
		if len(got.Compaction.Edits) != 1 {
			t.Fatalf("len(Edits) = %d, want 1", len(got.Compaction.Edits))
		}
		edit := got.Compaction.Edits[0]
		if edit.Key.Path != "main.go" || !edit.Timestamp.Equal(want.Compaction.Edits[0].Timestamp) {
			t.Errorf("Edit = %+v", edit)
		}
		if got.CompactionCount != 1 {
			t.Errorf("CompactionCount = %d, want 1", got.CompactionCount)
		}
		if got.UpdatedAt.IsZero() {
			t.Error("UpdatedAt should be set")
		}
	})

	t.Run("save replaces", func(t *testing.T) {
		state := testState(sessionID)
		state.Turns = append(state.Turns, types.UserText("Follow up"))
		state.Compaction = compaction.State{}
		state.CompactionCount = 2
		if err := store.SaveState(ctx, state); err != nil {
			t.Fatalf("SaveState() error = %v", err)
		}

		got, err := store.LoadState(ctx, sessionID)
		if err != nil {
			t.Fatalf("LoadState() error = %v", err)
		}
		if len(got.Turns) != 5 {
			t.Errorf("len(Turns) = %d, want 5", len(got.Turns))
		}
		if got.Compaction.DeletedRange != nil {
			t.Errorf("DeletedRange = %v, want nil", got.Compaction.DeletedRange)
		}
		if got.CompactionCount != 2 {
			t.Errorf("CompactionCount = %d, want 2", got.CompactionCount)
		}
	})

	t.Run("save requires session", func(t *testing.T) {
		if err := store.SaveState(ctx, &ConversationState{}); err == nil {
			t.Error("SaveState() should fail without a session id")
		}
	})

	t.Run("compaction history", func(t *testing.T) {
		first := &CompactionEvent{SessionID: sessionID, RangeStart: 2, RangeEnd: 9, Compacted: true, TurnsRemoved: 8}
		second := &CompactionEvent{SessionID: sessionID, RangeStart: 2, RangeEnd: 13, Compacted: true, Optimized: true, OptimizedTurns: []int64{14, 16}}
		for _, e := range []*CompactionEvent{first, second} {
			if err := store.SaveCompactionEvent(ctx, e); err != nil {
				t.Fatalf("SaveCompactionEvent() error = %v", err)
			}
			if e.ID == "" {
				t.Error("event ID should be assigned")
			}
		}

		events, err := store.GetCompactionHistory(ctx, sessionID)
		if err != nil {
			t.Fatalf("GetCompactionHistory() error = %v", err)
		}
		if len(events) != 2 {
			t.Fatalf("len(events) = %d, want 2", len(events))
		}
		if events[0].Range() != (compaction.Range{Start: 2, End: 9}) {
			t.Errorf("events[0].Range() = %v, want [2,9]", events[0].Range())
		}
		if got := events[1].OptimizedTurns; len(got) != 2 || got[0] != 14 || got[1] != 16 {
			t.Errorf("events[1].OptimizedTurns = %v, want [14 16]", got)
		}
	})

	t.Run("transaction rollback", func(t *testing.T) {
		boom := errors.New("boom")
		err := store.InTx(ctx, func(ctx context.Context) error {
			state := testState(sessionID)
			state.CompactionCount = 99
			if err := store.SaveState(ctx, state); err != nil {
				return err
			}
			return boom
		})
		if !errors.Is(err, boom) {
			t.Fatalf("InTx() error = %v, want boom", err)
		}

		got, err := store.LoadState(ctx, sessionID)
		if err != nil {
			t.Fatalf("LoadState() error = %v", err)
		}
		if got.CompactionCount == 99 {
			t.Error("rolled back write should not be visible")
		}
	})

	t.Run("delete", func(t *testing.T) {
		if err := store.DeleteState(ctx, sessionID); err != nil {
			t.Fatalf("DeleteState() error = %v", err)
		}
		if _, err := store.LoadState(ctx, sessionID); !errors.Is(err, ErrStateNotFound) {
			t.Errorf("LoadState() after delete error = %v, want ErrStateNotFound", err)
		}
		events, err := store.GetCompactionHistory(ctx, sessionID)
		if err != nil {
			t.Fatalf("GetCompactionHistory() error = %v", err)
		}
		if len(events) != 0 {
			t.Errorf("len(events) = %d, want 0", len(events))
		}
	})
}

func TestMemoryStore(t *testing.T) {
	runStoreContract(t, NewMemoryStore(), "memory-session")
}

func TestMemoryStore_CopiesState(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	state := testState("s1")
	if err := store.SaveState(ctx, state); err != nil {
		t.Fatalf("SaveState() error = %v", err)
	}
	state.Turns[0].Content[0].Text = "mutated"
	state.Compaction.DeletedRange.End = 40

	got, err := store.LoadState(ctx, "s1")
	if err != nil {
		t.Fatalf("LoadState() error = %v", err)
	}
	if got.Turns[0].Content[0].Text != "Initial task message" {
		t.Errorf("stored turn changed with caller: %q", got.Turns[0].Content[0].Text)
	}
	if got.Compaction.DeletedRange.End != 3 {
		t.Errorf("stored range changed with caller: %v", got.Compaction.DeletedRange)
	}
}

func TestMemoryStore_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	store := NewMemoryStore()
	if err := store.SaveState(ctx, testState("s1")); !errors.Is(err, context.Canceled) {
		t.Errorf("SaveState() error = %v, want context.Canceled", err)
	}
	if _, err := store.LoadState(ctx, "s1"); !errors.Is(err, context.Canceled) {
		t.Errorf("LoadState() error = %v, want context.Canceled", err)
	}
}

func TestConversationState_Apply(t *testing.T) {
	state := &ConversationState{SessionID: "s1"}
	deleted := &compaction.Range{Start: 2, End: 9}

	state.Apply(&compaction.Result{State: compaction.State{DeletedRange: deleted}, Compacted: true})
	state.Apply(&compaction.Result{State: compaction.State{DeletedRange: deleted}})

	if state.CompactionCount != 1 {
		t.Errorf("CompactionCount = %d, want 1", state.CompactionCount)
	}
	if state.Compaction.DeletedRange != deleted {
		t.Errorf("DeletedRange = %v, want %v", state.Compaction.DeletedRange, deleted)
	}
}

func TestNewCompactionEvent(t *testing.T) {
	result := &compaction.Result{
		State:            compaction.State{DeletedRange: &compaction.Range{Start: 2, End: 9}},
		Compacted:        true,
		Optimized:        true,
		OptimizedIndices: compaction.IndexSet{12: {}, 10: {}},
		OriginalTokens:   155000,
		EstimatedTokens:  60000,
		TurnsRemoved:     8,
		Duration:         1500 * time.Millisecond,
	}

	event := NewCompactionEvent("s1", result)
	if event.SessionID != "s1" || event.Range() != (compaction.Range{Start: 2, End: 9}) {
		t.Errorf("event = %+v", event)
	}
	if event.DurationMs != 1500 {
		t.Errorf("DurationMs = %d, want 1500", event.DurationMs)
	}
	if len(event.OptimizedTurns) != 2 || event.OptimizedTurns[0] != 10 || event.OptimizedTurns[1] != 12 {
		t.Errorf("OptimizedTurns = %v, want [10 12]", event.OptimizedTurns)
	}

	empty := NewCompactionEvent("s1", &compaction.Result{})
	if !empty.Range().IsEmpty() {
		t.Errorf("Range() = %v, want empty", empty.Range())
	}
}
