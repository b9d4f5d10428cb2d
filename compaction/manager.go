package compaction

import (
	"context"
	"slices"
	"time"

	"github.com/youssefsiam38/agentctx/types"
)

// Logger interface for compaction logging.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a no-op implementation of Logger.
type noopLogger struct{}

func (noopLogger) Debug(msg string, args ...any) {}
func (noopLogger) Info(msg string, args ...any)  {}
func (noopLogger) Warn(msg string, args ...any)  {}
func (noopLogger) Error(msg string, args ...any) {}

// Observer receives compaction lifecycle events. An error from
// TriggerBeforeCompaction aborts the call; errors from the other events are
// logged and ignored.
type Observer interface {
	TriggerBeforeCompaction(ctx context.Context, decision *Decision) error
	TriggerAfterOptimization(ctx context.Context, edits []Edit) error
	TriggerAfterCompaction(ctx context.Context, result *Result) error
}

// Decision describes a compaction the manager is about to perform.
type Decision struct {
	// PreviousRequestIndex is the usage record the decision was based on, or -1
	// for a manual compaction.
	PreviousRequestIndex int

	// Tokens is the recorded total of that request.
	Tokens int

	ContextWindow  int
	MaxAllowedSize int

	// MaxAllowed is the threshold-adjusted trigger point.
	MaxAllowed int

	// Keep is the policy range selection will use.
	Keep Keep

	// Turns is the length of the raw transcript.
	Turns int

	// Forced is set for CompactNow.
	Forced bool
}

// State is everything the manager carries between calls. Hosts persist it next
// to the raw transcript.
type State struct {
	// DeletedRange is the cumulative span dropped so far, nil before the first
	// truncation.
	DeletedRange *Range `json:"deletedRange,omitempty"`

	// Edits is the edit log of the latest duplicate-content pass.
	Edits []Edit `json:"edits,omitempty"`
}

// Result contains the outcome of a Prepare or CompactNow call.
type Result struct {
	// Turns is the transcript to send with the next request.
	Turns []*types.Turn

	// State is the state to carry into the next call.
	State State

	// Compacted is set when this call extended the deleted range.
	Compacted bool

	// Optimized is set when this call ran the duplicate-content pass and it
	// changed anything. Replaying recorded edits does not set it.
	Optimized bool

	// Range is the range selected by this call, nil when none was.
	Range *Range

	// OptimizedIndices are the raw transcript indices edited by the duplicate
	// pass or by replaying recorded edits.
	OptimizedIndices IndexSet

	// SavingsFraction is the share of live characters the duplicate pass saved.
	SavingsFraction float64

	// OriginalTokens is the recorded token total the decision was based on.
	OriginalTokens int

	// EstimatedTokens is the character-based estimate of Turns.
	EstimatedTokens int

	// TurnsRemoved is the number of raw turns Turns leaves out.
	TurnsRemoved int

	// Duration is how long the call took.
	Duration time.Duration
}

// Stats contains statistics about a transcript's context usage.
type Stats struct {
	// TotalTurns is the number of turns in the raw transcript.
	TotalTurns int

	// LiveTurns is the number of turns still sent with requests.
	LiveTurns int

	// TotalTokens is the recorded total of the latest request.
	TotalTokens int

	// EstimatedTokens is the character-based estimate of the live turns.
	EstimatedTokens int

	ContextWindow  int
	MaxAllowedSize int
	MaxAllowed     int

	// UsagePercent is the percentage of the context window used.
	UsagePercent float64

	// NeedsCompaction indicates if compaction should be triggered.
	NeedsCompaction bool

	DeletedRange *Range
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithObserver attaches an observer for lifecycle events.
func WithObserver(o Observer) ManagerOption {
	return func(m *Manager) {
		m.observer = o
	}
}

// WithModel sets the source of the active model. The default is an unknown
// model with DefaultContextWindow.
func WithModel(p ModelProvider) ManagerOption {
	return func(m *Manager) {
		m.model = p
	}
}

// WithClock replaces time.Now for edit timestamps and durations.
func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) {
		m.now = now
	}
}

// Manager runs the compaction decision, the duplicate-content pass and
// truncation the way a host agent loop needs them before each request. It is
// stateless between calls: the raw transcript and a State go in, the effective
// transcript and the next State come out. The raw transcript is never modified.
type Manager struct {
	config   *Config
	logger   Logger
	observer Observer
	model    ModelProvider
	now      func() time.Time
}

// NewManager creates a new Manager with the given configuration.
// If config is nil, default configuration is used.
func NewManager(config *Config, logger Logger, opts ...ManagerOption) (*Manager, error) {
	if config == nil {
		config = DefaultConfig()
	} else {
		config.ApplyDefaults()
	}
	if err := config.Validate(); err != nil {
		return nil, NewCompactionError("NewManager", err)
	}

	if logger == nil {
		logger = noopLogger{}
	}

	m := &Manager{
		config: config,
		logger: logger,
		model:  StaticModel(GetModelInfo("")),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Config returns the manager's configuration.
func (m *Manager) Config() *Config {
	return m.config
}

// Prepare returns the transcript to send with the next request.
//
// When the request at previousRequestIndex crossed the compaction threshold,
// stale file restatements are elided first. If that saved at least
// Config.OptimizationSufficient of the live characters, no turns are dropped;
// otherwise the deleted range is extended with Config.Keep, escalated to
// KeepQuarter when even half the recorded total would not fit. Below the
// threshold the previous state is reapplied unchanged: the deleted range and
// exactly the recorded edits. Restatements added since then are left alone
// until the next compaction.
func (m *Manager) Prepare(
	ctx context.Context,
	turns []*types.Turn,
	records []types.TokenUsage,
	previousRequestIndex int,
	state State,
) (*Result, error) {
	if err := WrapError("Prepare", ctx.Err()); err != nil {
		return nil, err
	}
	if err := m.validateInput("Prepare", turns, state); err != nil {
		return nil, err
	}

	model := m.model.GetModel()
	if !shouldCompact(records, model, previousRequestIndex, m.config.Threshold, m.config.ReservedBuffers) {
		m.logger.Debug("compaction not needed",
			"previous_request_index", previousRequestIndex,
			"turns", len(turns),
		)
		return m.reapply(turns, state)
	}

	contextWindow, maxAllowedSize := WindowInfo(model, m.config.ReservedBuffers)
	tokens := records[previousRequestIndex].Total()

	keep := m.config.Keep
	if keep == KeepHalf && tokens/2 > maxAllowedSize {
		keep = KeepQuarter
	}

	decision := &Decision{
		PreviousRequestIndex: previousRequestIndex,
		Tokens:               tokens,
		ContextWindow:        contextWindow,
		MaxAllowedSize:       maxAllowedSize,
		MaxAllowed:           MaxAllowedTokens(model, m.config.Threshold, m.config.ReservedBuffers),
		Keep:                 keep,
		Turns:                len(turns),
	}
	return m.compact(ctx, turns, state, decision)
}

// CompactNow extends the deleted range unconditionally, after running the
// duplicate-content pass. Hosts use it to recover from a context-length error.
// An empty keep uses Config.Keep.
func (m *Manager) CompactNow(ctx context.Context, turns []*types.Turn, state State, keep Keep) (*Result, error) {
	if err := WrapError("CompactNow", ctx.Err()); err != nil {
		return nil, err
	}
	if err := m.validateInput("CompactNow", turns, state); err != nil {
		return nil, err
	}
	if keep == "" {
		keep = m.config.Keep
	}
	if _, err := ParseKeep(string(keep)); err != nil {
		return nil, NewCompactionError("CompactNow", err)
	}

	model := m.model.GetModel()
	contextWindow, maxAllowedSize := WindowInfo(model, m.config.ReservedBuffers)

	decision := &Decision{
		PreviousRequestIndex: -1,
		ContextWindow:        contextWindow,
		MaxAllowedSize:       maxAllowedSize,
		MaxAllowed:           MaxAllowedTokens(model, m.config.Threshold, m.config.ReservedBuffers),
		Keep:                 keep,
		Turns:                len(turns),
		Forced:               true,
	}
	return m.compact(ctx, turns, state, decision)
}

// Stats reports context usage for the request at previousRequestIndex.
func (m *Manager) Stats(turns []*types.Turn, records []types.TokenUsage, previousRequestIndex int, state State) (*Stats, error) {
	if err := m.validateInput("Stats", turns, state); err != nil {
		return nil, err
	}

	model := m.model.GetModel()
	contextWindow, maxAllowedSize := WindowInfo(model, m.config.ReservedBuffers)

	live, err := ApplyTruncation(turns, state.DeletedRange)
	if err != nil {
		return nil, err
	}

	stats := &Stats{
		TotalTurns:      len(turns),
		LiveTurns:       len(live),
		EstimatedTokens: SumTokens(live),
		ContextWindow:   contextWindow,
		MaxAllowedSize:  maxAllowedSize,
		MaxAllowed:      MaxAllowedTokens(model, m.config.Threshold, m.config.ReservedBuffers),
		NeedsCompaction: shouldCompact(records, model, previousRequestIndex, m.config.Threshold, m.config.ReservedBuffers),
		DeletedRange:    state.DeletedRange,
	}
	if previousRequestIndex >= 0 && previousRequestIndex < len(records) {
		stats.TotalTokens = records[previousRequestIndex].Total()
	}
	stats.UsagePercent = float64(stats.TotalTokens) / float64(contextWindow) * 100
	return stats, nil
}

func (m *Manager) validateInput(op string, turns []*types.Turn, state State) error {
	if len(turns) == 0 {
		return NewCompactionError(op, ErrEmptyTranscript)
	}
	if state.DeletedRange != nil {
		if err := state.DeletedRange.validate(len(turns)); err != nil {
			return NewCompactionError(op, err).
				WithContext("deleted_range", state.DeletedRange.String()).
				WithContext("turns", len(turns))
		}
	}
	return nil
}

// reapply builds the effective transcript from an unchanged state. The
// recorded edits are replayed as they are, so turns sent verbatim by an
// earlier call stay verbatim until the next compaction.
func (m *Manager) reapply(turns []*types.Turn, state State) (*Result, error) {
	start := m.now()

	result := &Result{
		State: State{
			DeletedRange: state.DeletedRange,
			Edits:        slices.Clone(state.Edits),
		},
		OptimizedIndices: IndexSet{},
	}

	work := turns
	if len(state.Edits) > 0 && !m.config.DisableOptimization {
		work = cloneTurns(turns)
		before := LiveChars(work, state.DeletedRange)
		result.OptimizedIndices = ReplayEdits(work, state.Edits)
		result.SavingsFraction = SavingsFraction(before, LiveChars(work, state.DeletedRange))
	}

	if err := m.finish(work, result); err != nil {
		return nil, err
	}
	result.Duration = m.now().Sub(start)
	return result, nil
}

func (m *Manager) compact(ctx context.Context, turns []*types.Turn, state State, decision *Decision) (*Result, error) {
	start := m.now()

	m.logger.Info("starting compaction",
		"tokens", decision.Tokens,
		"max_allowed", decision.MaxAllowed,
		"context_window", decision.ContextWindow,
		"keep", decision.Keep,
		"turns", decision.Turns,
		"forced", decision.Forced,
	)

	if m.observer != nil {
		if err := m.observer.TriggerBeforeCompaction(ctx, decision); err != nil {
			return nil, NewCompactionError("BeforeCompaction", err)
		}
	}

	result := &Result{
		State:            State{DeletedRange: state.DeletedRange},
		OptimizedIndices: IndexSet{},
		OriginalTokens:   decision.Tokens,
	}

	work := turns
	if !m.config.DisableOptimization {
		work = cloneTurns(turns)
		m.optimize(work, state, result)
		if result.Optimized && m.observer != nil {
			if err := m.observer.TriggerAfterOptimization(ctx, result.State.Edits); err != nil {
				m.logger.Warn("after-optimization hook failed", "error", err)
			}
		}
	}

	truncate := decision.Forced || !result.Optimized ||
		result.SavingsFraction < m.config.OptimizationSufficient
	if truncate {
		next, err := NextTruncationRange(work, state.DeletedRange, decision.Keep)
		if err != nil {
			return nil, err
		}
		if progressed(state.DeletedRange, next) {
			result.Range = &next
			result.State.DeletedRange = &next
			result.Compacted = true
		} else {
			m.logger.Warn("no turns left to truncate",
				"turns", len(work),
				"deleted_range", rangeString(state.DeletedRange),
			)
		}
	} else {
		m.logger.Debug("duplicate-content pass saved enough, skipping truncation",
			"savings_fraction", result.SavingsFraction,
		)
	}

	if err := m.finish(work, result); err != nil {
		return nil, err
	}
	result.Duration = m.now().Sub(start)

	m.logger.Info("compaction complete",
		"compacted", result.Compacted,
		"optimized", result.Optimized,
		"range", rangeString(result.State.DeletedRange),
		"turns_removed", result.TurnsRemoved,
		"original_tokens", result.OriginalTokens,
		"estimated_tokens", result.EstimatedTokens,
		"duration_ms", result.Duration.Milliseconds(),
	)

	if m.observer != nil {
		if err := m.observer.TriggerAfterCompaction(ctx, result); err != nil {
			m.logger.Warn("after-compaction hook failed", "error", err)
		}
	}

	return result, nil
}

// optimize runs the duplicate pass over the live part of work, in place, and
// records the outcome in result. Timestamps of edits already in state are kept.
func (m *Manager) optimize(work []*types.Turn, state State, result *Result) {
	startFrom := RangeStart
	if r := state.DeletedRange; r != nil && !r.IsEmpty() {
		startFrom = r.End + 1
	}

	before := LiveChars(work, state.DeletedRange)
	opt := NewOptimizer()
	changed, indices, err := opt.Optimize(work, startFrom, m.now())
	if err != nil {
		// startFrom is never negative here.
		m.logger.Error("duplicate-content pass failed", "error", err)
		return
	}
	after := LiveChars(work, state.DeletedRange)

	edits := opt.Edits()
	previous := make(map[editKey]time.Time, len(state.Edits))
	for _, e := range state.Edits {
		previous[keyOf(e)] = e.Timestamp
	}
	for i := range edits {
		if ts, ok := previous[keyOf(edits[i])]; ok {
			edits[i].Timestamp = ts
		}
	}

	result.Optimized = changed
	result.OptimizedIndices = indices
	result.SavingsFraction = SavingsFraction(before, after)
	result.State.Edits = edits

	if changed {
		m.logger.Debug("duplicate-content pass",
			"start_from", startFrom,
			"turns_edited", len(indices),
			"edits", len(edits),
			"chars_before", before,
			"chars_after", after,
		)
	}
}

// finish applies the deleted range and the truncation notice.
func (m *Manager) finish(work []*types.Turn, result *Result) error {
	out, err := ApplyTruncation(work, result.State.DeletedRange)
	if err != nil {
		return err
	}
	if r := result.State.DeletedRange; r != nil && !r.IsEmpty() && m.config.truncationNotice() {
		out = withTruncationNotice(out)
	}

	result.Turns = out
	result.TurnsRemoved = len(work) - len(out)
	result.EstimatedTokens = SumTokens(out)
	return nil
}

type editKey struct {
	turn, block, inner int
	key                ResourceKey
	kind               MarkerKind
}

func keyOf(e Edit) editKey {
	return editKey{turn: e.Turn, block: e.Block, inner: e.Inner, key: e.Key, kind: e.Kind}
}

// progressed reports whether next drops more turns than previous.
func progressed(previous *Range, next Range) bool {
	if next.IsEmpty() {
		return false
	}
	return previous == nil || previous.IsEmpty() || next.End > previous.End
}

func rangeString(r *Range) string {
	if r == nil {
		return "none"
	}
	return r.String()
}

func cloneTurns(turns []*types.Turn) []*types.Turn {
	out := make([]*types.Turn, len(turns))
	for i, t := range turns {
		if t != nil {
			out[i] = t.Clone()
		}
	}
	return out
}
