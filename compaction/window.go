package compaction

import (
	"math"

	"github.com/youssefsiam38/agentctx/types"
)

// ModelInfo describes the model the next request is sent to.
type ModelInfo struct {
	ID            string `yaml:"id" json:"id"`
	ContextWindow int    `yaml:"context_window" json:"contextWindow"`
}

// ModelProvider supplies the active model. Request-execution clients implement it.
type ModelProvider interface {
	GetModel() ModelInfo
}

// StaticModel is a ModelProvider that always returns the same model.
type StaticModel ModelInfo

// GetModel returns the model.
func (m StaticModel) GetModel() ModelInfo {
	return ModelInfo(m)
}

// KnownModels maps model IDs to their context windows.
var KnownModels = map[string]ModelInfo{
	// Claude 4 models
	"claude-sonnet-4-5-20250929": {ID: "claude-sonnet-4-5-20250929", ContextWindow: 200000},
	"claude-opus-4-5-20251101":   {ID: "claude-opus-4-5-20251101", ContextWindow: 200000},
	// Claude 3.5 models
	"claude-3-5-sonnet-20241022": {ID: "claude-3-5-sonnet-20241022", ContextWindow: 200000},
	"claude-3-5-haiku-20241022":  {ID: "claude-3-5-haiku-20241022", ContextWindow: 200000},
	// Others
	"deepseek-chat": {ID: "deepseek-chat", ContextWindow: 64000},
	"gpt-4o":        {ID: "gpt-4o", ContextWindow: 128000},
}

// GetModelInfo returns model info, using the default window for unknown models.
func GetModelInfo(model string) ModelInfo {
	if info, ok := KnownModels[model]; ok {
		return info
	}
	return ModelInfo{ID: model, ContextWindow: DefaultContextWindow}
}

// WindowInfo returns the effective context window of the model and the largest
// request size that still leaves room for the reply.
func WindowInfo(model ModelInfo, reserved map[int]int) (contextWindow, maxAllowedSize int) {
	contextWindow = model.ContextWindow
	if contextWindow <= 0 {
		contextWindow = DefaultContextWindow
	}

	if buffer, ok := reserved[contextWindow]; ok {
		return contextWindow, contextWindow - buffer
	}
	maxAllowedSize = int(math.Max(
		float64(contextWindow-DefaultReservedBuffer),
		float64(contextWindow)*DefaultMinWindowFraction,
	))
	return contextWindow, maxAllowedSize
}

// MaxAllowedTokens returns the token count at which compaction triggers.
// A positive threshold is applied to the context window and capped at
// maxAllowedSize; zero or negative falls back to maxAllowedSize. There is no
// lower clamp.
func MaxAllowedTokens(model ModelInfo, threshold float64, reserved map[int]int) int {
	contextWindow, maxAllowedSize := WindowInfo(model, reserved)
	if threshold > 0 {
		return min(int(math.Floor(float64(contextWindow)*threshold)), maxAllowedSize)
	}
	return maxAllowedSize
}

// ShouldCompact reports whether the request recorded at previousRequestIndex
// used enough of the model's context window to require compaction before the
// next request. Only that record is consulted; a negative or out-of-range
// index means there is nothing to measure yet.
func ShouldCompact(records []types.TokenUsage, model ModelInfo, previousRequestIndex int, threshold float64) bool {
	return shouldCompact(records, model, previousRequestIndex, threshold, DefaultReservedBuffers)
}

func shouldCompact(records []types.TokenUsage, model ModelInfo, previousRequestIndex int, threshold float64, reserved map[int]int) bool {
	if previousRequestIndex < 0 || previousRequestIndex >= len(records) {
		return false
	}
	totalTokens := records[previousRequestIndex].Total()
	return totalTokens >= MaxAllowedTokens(model, threshold, reserved)
}
