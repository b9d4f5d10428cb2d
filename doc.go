// Package agentctx manages the context window of long-running AI agent
// conversations.
//
// An agent transcript grows with every request until it no longer fits the
// model's context window. agentctx keeps it under the limit without a
// tokenizer or a summarization call:
//
//   - It decides from the usage reported for the previous request whether the
//     next one must be compacted.
//   - It drops a contiguous span of older turns, always keeping the task turn
//     and the first reply, and repairs tool_use/tool_result pairs split by the
//     cut.
//   - It replaces stale copies of files the transcript restates with a short
//     notice, keeping only the latest copy.
//
// # Packages
//
//   - compaction: the decision, range selection, truncation, duplicate-content
//     elision and the Manager that combines them
//   - types: the transcript model (turns and content blocks)
//   - usage: request accounting from host message logs and the Anthropic SDK
//   - storage: optional persistence of transcripts and compaction state
//     (PostgreSQL via pgx or database/sql, or in memory)
//   - hooks: observers for logging and metrics
//
// # Quick Start
//
//	m, err := compaction.NewManager(compaction.DefaultConfig(), slog.Default(),
//	    compaction.WithModel(compaction.StaticModel(compaction.GetModelInfo("claude-sonnet-4-5-20250929"))),
//	)
//	res, err := m.Prepare(ctx, turns, records, len(records)-1, state)
//	// send res.Turns, then keep res.State for the next call
//	state = res.State
//
// The agentctx command (cmd/agentctx) exposes the same operations on JSON
// transcript files.
package agentctx
