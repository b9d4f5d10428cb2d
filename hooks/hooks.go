// Package hooks lets callers observe context window management. A Registry
// satisfies compaction.Observer and can be passed to compaction.WithObserver.
package hooks

import (
	"context"
	"sync"

	"github.com/youssefsiam38/agentctx/compaction"
	"github.com/youssefsiam38/agentctx/types"
)

// BeforeRequestHook is called with the transcript a host is about to send
type BeforeRequestHook func(ctx context.Context, turns []*types.Turn) error

// BeforeCompactionHook is called before the deleted range is extended.
// Returning an error aborts the compaction.
type BeforeCompactionHook func(ctx context.Context, decision *compaction.Decision) error

// AfterOptimizationHook is called after the duplicate-content pass changed anything
type AfterOptimizationHook func(ctx context.Context, edits []compaction.Edit) error

// AfterCompactionHook is called after context compaction
type AfterCompactionHook func(ctx context.Context, result *compaction.Result) error

// Registry holds all registered hooks
type Registry struct {
	mu                sync.RWMutex
	beforeRequest     []BeforeRequestHook
	beforeCompaction  []BeforeCompactionHook
	afterOptimization []AfterOptimizationHook
	afterCompaction   []AfterCompactionHook
}

var _ compaction.Observer = (*Registry)(nil)

// NewRegistry creates a new hook registry
func NewRegistry() *Registry {
	return &Registry{
		beforeRequest:     []BeforeRequestHook{},
		beforeCompaction:  []BeforeCompactionHook{},
		afterOptimization: []AfterOptimizationHook{},
		afterCompaction:   []AfterCompactionHook{},
	}
}

// OnBeforeRequest registers a hook to be called before a request is sent
func (r *Registry) OnBeforeRequest(hook BeforeRequestHook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.beforeRequest = append(r.beforeRequest, hook)
}

// OnBeforeCompaction registers a hook to be called before compaction
func (r *Registry) OnBeforeCompaction(hook BeforeCompactionHook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.beforeCompaction = append(r.beforeCompaction, hook)
}

// OnAfterOptimization registers a hook to be called after duplicate content was elided
func (r *Registry) OnAfterOptimization(hook AfterOptimizationHook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.afterOptimization = append(r.afterOptimization, hook)
}

// OnAfterCompaction registers a hook to be called after compaction
func (r *Registry) OnAfterCompaction(hook AfterCompactionHook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.afterCompaction = append(r.afterCompaction, hook)
}

// TriggerBeforeRequest calls all registered before-request hooks
func (r *Registry) TriggerBeforeRequest(ctx context.Context, turns []*types.Turn) error {
	r.mu.RLock()
	hooks := make([]BeforeRequestHook, len(r.beforeRequest))
	copy(hooks, r.beforeRequest)
	r.mu.RUnlock()

	for _, hook := range hooks {
		if err := hook(ctx, turns); err != nil {
			return err
		}
	}
	return nil
}

// TriggerBeforeCompaction calls all registered before-compaction hooks
func (r *Registry) TriggerBeforeCompaction(ctx context.Context, decision *compaction.Decision) error {
	r.mu.RLock()
	hooks := make([]BeforeCompactionHook, len(r.beforeCompaction))
	copy(hooks, r.beforeCompaction)
	r.mu.RUnlock()

	for _, hook := range hooks {
		if err := hook(ctx, decision); err != nil {
			return err
		}
	}
	return nil
}

// TriggerAfterOptimization calls all registered after-optimization hooks
func (r *Registry) TriggerAfterOptimization(ctx context.Context, edits []compaction.Edit) error {
	r.mu.RLock()
	hooks := make([]AfterOptimizationHook, len(r.afterOptimization))
	copy(hooks, r.afterOptimization)
	r.mu.RUnlock()

	for _, hook := range hooks {
		if err := hook(ctx, edits); err != nil {
			return err
		}
	}
	return nil
}

// TriggerAfterCompaction calls all registered after-compaction hooks
func (r *Registry) TriggerAfterCompaction(ctx context.Context, result *compaction.Result) error {
	r.mu.RLock()
	hooks := make([]AfterCompactionHook, len(r.afterCompaction))
	copy(hooks, r.afterCompaction)
	r.mu.RUnlock()

	for _, hook := range hooks {
		if err := hook(ctx, result); err != nil {
			return err
		}
	}
	return nil
}

// Register adds every hook h implements to the registry. h may be a
// *LoggingHooks, a *MetricsHooks or any value with matching methods.
func (r *Registry) Register(h any) {
	if v, ok := h.(interface {
		BeforeRequest(context.Context, []*types.Turn) error
	}); ok {
		r.OnBeforeRequest(v.BeforeRequest)
	}
	if v, ok := h.(interface {
		BeforeCompaction(context.Context, *compaction.Decision) error
	}); ok {
		r.OnBeforeCompaction(v.BeforeCompaction)
	}
	if v, ok := h.(interface {
		AfterOptimization(context.Context, []compaction.Edit) error
	}); ok {
		r.OnAfterOptimization(v.AfterOptimization)
	}
	if v, ok := h.(interface {
		AfterCompaction(context.Context, *compaction.Result) error
	}); ok {
		r.OnAfterCompaction(v.AfterCompaction)
	}
}
