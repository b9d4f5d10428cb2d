package hooks

import (
	"context"
	"log/slog"

	"github.com/youssefsiam38/agentctx/compaction"
	"github.com/youssefsiam38/agentctx/types"
)

// LoggingHooks provides built-in logging hooks for observability
type LoggingHooks struct {
	logger *slog.Logger
}

// NewLoggingHooks creates logging hooks with the provided logger
func NewLoggingHooks(logger *slog.Logger) *LoggingHooks {
	return &LoggingHooks{logger: logger}
}

// DefaultLoggingHooks creates logging hooks with default logger
func DefaultLoggingHooks() *LoggingHooks {
	return &LoggingHooks{logger: slog.Default()}
}

// BeforeRequest logs the size of the outgoing transcript
func (h *LoggingHooks) BeforeRequest(ctx context.Context, turns []*types.Turn) error {
	h.logger.InfoContext(ctx, "sending transcript",
		"turns", len(turns),
		"estimated_tokens", compaction.SumTokens(turns))
	return nil
}

// BeforeCompaction logs before context compaction
func (h *LoggingHooks) BeforeCompaction(ctx context.Context, decision *compaction.Decision) error {
	h.logger.InfoContext(ctx, "starting context compaction",
		"tokens", decision.Tokens,
		"max_allowed", decision.MaxAllowed,
		"context_window", decision.ContextWindow,
		"keep", decision.Keep,
		"forced", decision.Forced)
	return nil
}

// AfterOptimization logs the elided restatements
func (h *LoggingHooks) AfterOptimization(ctx context.Context, edits []compaction.Edit) error {
	saved := 0
	for _, e := range edits {
		saved += e.CharsSaved
	}
	h.logger.InfoContext(ctx, "duplicate file content removed",
		"edits", len(edits),
		"chars_saved", saved)
	return nil
}

// AfterCompaction logs after context compaction
func (h *LoggingHooks) AfterCompaction(ctx context.Context, result *compaction.Result) error {
	reduction := float64(0)
	if result.OriginalTokens > 0 {
		reduction = float64(result.OriginalTokens-result.EstimatedTokens) / float64(result.OriginalTokens) * 100
	}

	h.logger.InfoContext(ctx, "compaction complete",
		"range", result.State.DeletedRange,
		"original_tokens", result.OriginalTokens,
		"estimated_tokens", result.EstimatedTokens,
		"reduction_pct", reduction,
		"turns_removed", result.TurnsRemoved,
		"optimized", result.Optimized,
		"duration", result.Duration)
	return nil
}

// MetricsHooks collects metrics for monitoring
type MetricsHooks struct {
	OnMetric func(name string, value float64, tags map[string]string)
}

// NewMetricsHooks creates metrics collection hooks
func NewMetricsHooks(onMetric func(string, float64, map[string]string)) *MetricsHooks {
	return &MetricsHooks{OnMetric: onMetric}
}

// AfterOptimization records duplicate-content metrics
func (h *MetricsHooks) AfterOptimization(ctx context.Context, edits []compaction.Edit) error {
	saved := 0
	for _, e := range edits {
		saved += e.CharsSaved
	}
	h.OnMetric("context.optimization.edits", float64(len(edits)), nil)
	h.OnMetric("context.optimization.chars_saved", float64(saved), nil)
	return nil
}

// AfterCompaction records compaction metrics
func (h *MetricsHooks) AfterCompaction(ctx context.Context, result *compaction.Result) error {
	tags := map[string]string{"compacted": "false"}
	if result.Compacted {
		tags["compacted"] = "true"
	}

	h.OnMetric("context.compaction.original_tokens", float64(result.OriginalTokens), tags)
	h.OnMetric("context.compaction.estimated_tokens", float64(result.EstimatedTokens), tags)
	h.OnMetric("context.compaction.turns_removed", float64(result.TurnsRemoved), tags)

	if result.OriginalTokens > 0 {
		h.OnMetric("context.compaction.reduction_pct",
			float64(result.OriginalTokens-result.EstimatedTokens)/float64(result.OriginalTokens)*100, tags)
	}

	return nil
}
