package hooks

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/youssefsiam38/agentctx/compaction"
	"github.com/youssefsiam38/agentctx/types"
)

func TestNewRegistry(t *testing.T) {
	r := NewRegistry()
	if r == nil {
		t.Fatal("NewRegistry returned nil")
	}
}

func TestOnBeforeRequest(t *testing.T) {
	r := NewRegistry()
	var captured int

	r.OnBeforeRequest(func(ctx context.Context, turns []*types.Turn) error {
		captured = len(turns)
		return nil
	})

	turns := []*types.Turn{types.UserText("task"), types.AssistantText("ok")}
	err := r.TriggerBeforeRequest(context.Background(), turns)
	if err != nil {
		t.Errorf("TriggerBeforeRequest returned error: %v", err)
	}
	if captured != 2 {
		t.Errorf("expected 2 turns, got %d", captured)
	}
}

func TestOnBeforeCompaction(t *testing.T) {
	r := NewRegistry()
	var captured *compaction.Decision

	r.OnBeforeCompaction(func(ctx context.Context, decision *compaction.Decision) error {
		captured = decision
		return nil
	})

	decision := &compaction.Decision{Tokens: 155000, MaxAllowed: 150000, Keep: compaction.KeepHalf}
	err := r.TriggerBeforeCompaction(context.Background(), decision)
	if err != nil {
		t.Errorf("TriggerBeforeCompaction returned error: %v", err)
	}
	if captured != decision {
		t.Error("decision was not passed to hook")
	}
}

func TestOnAfterOptimization(t *testing.T) {
	r := NewRegistry()
	var captured []compaction.Edit

	r.OnAfterOptimization(func(ctx context.Context, edits []compaction.Edit) error {
		captured = edits
		return nil
	})

	edits := []compaction.Edit{{Turn: 2, CharsSaved: 100}}
	err := r.TriggerAfterOptimization(context.Background(), edits)
	if err != nil {
		t.Errorf("TriggerAfterOptimization returned error: %v", err)
	}
	if len(captured) != 1 || captured[0].Turn != 2 {
		t.Errorf("expected edits to be passed to hook, got %+v", captured)
	}
}

func TestOnAfterCompaction(t *testing.T) {
	r := NewRegistry()
	var capturedResult *compaction.Result

	r.OnAfterCompaction(func(ctx context.Context, result *compaction.Result) error {
		capturedResult = result
		return nil
	})

	testResult := &compaction.Result{
		OriginalTokens:  1000,
		EstimatedTokens: 500,
	}

	err := r.TriggerAfterCompaction(context.Background(), testResult)
	if err != nil {
		t.Errorf("TriggerAfterCompaction returned error: %v", err)
	}
	if capturedResult != testResult {
		t.Error("result was not passed to hook")
	}
}

func TestRegister(t *testing.T) {
	r := NewRegistry()
	var metrics []string
	r.Register(NewMetricsHooks(func(name string, value float64, tags map[string]string) {
		metrics = append(metrics, name)
	}))

	// MetricsHooks has no before-compaction method.
	if err := r.TriggerBeforeCompaction(context.Background(), &compaction.Decision{}); err != nil {
		t.Errorf("TriggerBeforeCompaction returned error: %v", err)
	}
	if len(metrics) != 0 {
		t.Errorf("expected no metrics, got %v", metrics)
	}

	if err := r.TriggerAfterOptimization(context.Background(), []compaction.Edit{{CharsSaved: 10}}); err != nil {
		t.Errorf("TriggerAfterOptimization returned error: %v", err)
	}
	if err := r.TriggerAfterCompaction(context.Background(), &compaction.Result{OriginalTokens: 100, EstimatedTokens: 40, Compacted: true}); err != nil {
		t.Errorf("TriggerAfterCompaction returned error: %v", err)
	}

	want := []string{
		"context.optimization.edits",
		"context.optimization.chars_saved",
		"context.compaction.original_tokens",
		"context.compaction.estimated_tokens",
		"context.compaction.turns_removed",
		"context.compaction.reduction_pct",
	}
	if strings.Join(metrics, ",") != strings.Join(want, ",") {
		t.Errorf("metrics = %v, want %v", metrics, want)
	}
}

func TestLoggingHooks(t *testing.T) {
	var buf bytes.Buffer
	r := NewRegistry()
	r.Register(NewLoggingHooks(slog.New(slog.NewTextHandler(&buf, nil))))

	ctx := context.Background()
	if err := r.TriggerBeforeRequest(ctx, []*types.Turn{types.UserText("task")}); err != nil {
		t.Fatalf("TriggerBeforeRequest returned error: %v", err)
	}
	if err := r.TriggerBeforeCompaction(ctx, &compaction.Decision{Tokens: 10, Keep: compaction.KeepQuarter}); err != nil {
		t.Fatalf("TriggerBeforeCompaction returned error: %v", err)
	}
	if err := r.TriggerAfterCompaction(ctx, &compaction.Result{
		State:          compaction.State{DeletedRange: &compaction.Range{Start: 2, End: 9}},
		OriginalTokens: 200,
		TurnsRemoved:   8,
	}); err != nil {
		t.Fatalf("TriggerAfterCompaction returned error: %v", err)
	}

	out := buf.String()
	for _, want := range []string{
		"sending transcript",
		"keep=quarter",
		"compaction complete",
		"turns_removed=8",
		"range=[2,9]",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("log output missing %q:\n%s", want, out)
		}
	}
}

func TestHookError(t *testing.T) {
	r := NewRegistry()
	expectedErr := errors.New("hook error")

	r.OnBeforeRequest(func(ctx context.Context, turns []*types.Turn) error {
		return expectedErr
	})

	err := r.TriggerBeforeRequest(context.Background(), nil)
	if !errors.Is(err, expectedErr) {
		t.Errorf("expected error %v, got %v", expectedErr, err)
	}
}

func TestMultipleHooks(t *testing.T) {
	r := NewRegistry()
	callOrder := []int{}

	r.OnBeforeRequest(func(ctx context.Context, turns []*types.Turn) error {
		callOrder = append(callOrder, 1)
		return nil
	})

	r.OnBeforeRequest(func(ctx context.Context, turns []*types.Turn) error {
		callOrder = append(callOrder, 2)
		return nil
	})

	r.OnBeforeRequest(func(ctx context.Context, turns []*types.Turn) error {
		callOrder = append(callOrder, 3)
		return nil
	})

	err := r.TriggerBeforeRequest(context.Background(), nil)
	if err != nil {
		t.Errorf("TriggerBeforeRequest returned error: %v", err)
	}

	if len(callOrder) != 3 {
		t.Errorf("expected 3 hooks to be called, got %d", len(callOrder))
	}

	// Verify hooks are called in order
	for i, v := range callOrder {
		if v != i+1 {
			t.Errorf("expected call order %d at index %d, got %d", i+1, i, v)
		}
	}
}

func TestHookStopsOnError(t *testing.T) {
	r := NewRegistry()
	called := []int{}
	expectedErr := errors.New("stop here")

	r.OnBeforeRequest(func(ctx context.Context, turns []*types.Turn) error {
		called = append(called, 1)
		return nil
	})

	r.OnBeforeRequest(func(ctx context.Context, turns []*types.Turn) error {
		called = append(called, 2)
		return expectedErr // This should stop execution
	})

	r.OnBeforeRequest(func(ctx context.Context, turns []*types.Turn) error {
		called = append(called, 3) // This should NOT be called
		return nil
	})

	err := r.TriggerBeforeRequest(context.Background(), nil)
	if !errors.Is(err, expectedErr) {
		t.Errorf("expected error %v, got %v", expectedErr, err)
	}

	if len(called) != 2 {
		t.Errorf("expected 2 hooks to be called before error, got %d", len(called))
	}
}

func TestConcurrentHookRegistration(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup
	numGoroutines := 100

	// Concurrently register hooks
	wg.Add(numGoroutines)
	for i := 0; i < numGoroutines; i++ {
		go func() {
			defer wg.Done()
			r.OnBeforeRequest(func(ctx context.Context, turns []*types.Turn) error {
				return nil
			})
		}()
	}
	wg.Wait()

	// Trigger should work without panic
	err := r.TriggerBeforeRequest(context.Background(), nil)
	if err != nil {
		t.Errorf("TriggerBeforeRequest returned error: %v", err)
	}
}

func TestConcurrentHookTrigger(t *testing.T) {
	r := NewRegistry()
	var callCount int
	var mu sync.Mutex

	r.OnBeforeRequest(func(ctx context.Context, turns []*types.Turn) error {
		mu.Lock()
		callCount++
		mu.Unlock()
		return nil
	})

	var wg sync.WaitGroup
	numGoroutines := 100

	// Concurrently trigger hooks
	wg.Add(numGoroutines)
	for i := 0; i < numGoroutines; i++ {
		go func() {
			defer wg.Done()
			_ = r.TriggerBeforeRequest(context.Background(), nil)
		}()
	}
	wg.Wait()

	if callCount != numGoroutines {
		t.Errorf("expected %d calls, got %d", numGoroutines, callCount)
	}
}

func TestConcurrentRegistrationAndTrigger(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup

	// Pre-register some hooks
	for i := 0; i < 10; i++ {
		r.OnBeforeRequest(func(ctx context.Context, turns []*types.Turn) error {
			return nil
		})
	}

	// Concurrently register and trigger
	wg.Add(200)
	for i := 0; i < 100; i++ {
		go func() {
			defer wg.Done()
			r.OnBeforeRequest(func(ctx context.Context, turns []*types.Turn) error {
				return nil
			})
		}()
		go func() {
			defer wg.Done()
			_ = r.TriggerBeforeRequest(context.Background(), nil)
		}()
	}
	wg.Wait()

	// No panic means success - the mutex is working
}
