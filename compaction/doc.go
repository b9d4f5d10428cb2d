// Package compaction provides context window management for AI agent conversations.
//
// Long agent transcripts eventually exceed the model's context window. This
// package decides when that is about to happen, drops a contiguous span of
// older turns while keeping tool calls and their results paired, and elides
// stale copies of files the transcript restates more than once. Nothing here
// counts tokens with a tokenizer or summarizes content; every operation is a
// synchronous in-memory transform.
//
// # Decision
//
// ShouldCompact looks at the token usage recorded for the previous request:
//
//	if compaction.ShouldCompact(records, model, prevIdx, 0.75) {
//	    // compact before sending the next request
//	}
//
// The trigger point is min(window*threshold, maxAllowedSize), where
// maxAllowedSize is the window minus a buffer reserved for the reply
// (27K for 64K windows, 30K for 128K, 40K for 200K).
//
// # Truncation
//
// The task turn (index 0) and the first assistant reply (index 1) are never
// dropped. NextTruncationRange picks the next span, extending the previous
// one so ranges only grow:
//
//	r, err := compaction.NextTruncationRange(turns, state.DeletedRange, compaction.KeepHalf)
//	live, err := compaction.ApplyTruncation(turns, &r)
//
// ApplyTruncation removes tool_result blocks that lost their tool_use (and
// tool_use blocks that lost their result) at the seam, on copies.
//
// # Duplicate Content
//
// ApplyContextOptimizations recognizes file restatements by marker
// (final_file_content, file_content, read_file results) and keeps only the
// latest turn's copy of each file. Older bodies become DuplicateFileReadNotice.
//
// # Manager
//
// Manager combines the steps the way a host loop needs them:
//
//	m, err := compaction.NewManager(cfg, slog.Default(), compaction.WithModel(provider))
//	res, err := m.Prepare(ctx, turns, records, prevIdx, state)
//	// send res.Turns, persist res.State
//
// Manager never modifies the raw transcript. Its State is the deleted range plus
// the duplicate-edit log and is JSON serializable.
package compaction
