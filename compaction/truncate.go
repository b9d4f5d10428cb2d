package compaction

import (
	"strings"

	"github.com/youssefsiam38/agentctx/types"
)

// TruncationNoticeText is appended to the first assistant turn once history has been dropped.
const TruncationNoticeText = "[NOTE] Some previous conversation history with the user has been removed to maintain optimal context window length. The initial user task has been retained for continuity, while intermediate conversation history has been removed. Keep this in mind as you continue assisting the user."

// ApplyTruncation returns the transcript with the closed range r removed. A nil
// range returns turns unchanged. The task turn is never removable.
//
// Removing a span can split tool pairs across its edges. The first turn after
// the span loses tool_result blocks whose tool_use is not in the turn before
// the span, and the turn before the span loses tool_use blocks whose result is
// not in the turn after it. Sibling blocks are kept; a turn left with no blocks
// stays in place with empty content so roles keep alternating. Repaired turns
// are copies, the caller's turns are never modified.
func ApplyTruncation(turns []*types.Turn, r *Range) ([]*types.Turn, error) {
	if r == nil {
		return turns, nil
	}
	if len(turns) == 0 {
		return nil, NewCompactionError("ApplyTruncation", ErrEmptyTranscript)
	}
	if err := r.validate(len(turns)); err != nil {
		return nil, NewCompactionError("ApplyTruncation", err).
			WithContext("range", r.String()).
			WithContext("turns", len(turns))
	}

	if r.IsEmpty() {
		out := make([]*types.Turn, len(turns))
		copy(out, turns)
		return out, nil
	}

	out := make([]*types.Turn, 0, len(turns)-r.Len())
	out = append(out, turns[:r.Start]...)
	out = append(out, turns[r.End+1:]...)

	repairToolPairs(out, r.Start)

	return out, nil
}

// repairToolPairs fixes the tool pairs around the seam between out[seam-1]
// and out[seam].
func repairToolPairs(out []*types.Turn, seam int) {
	if seam <= 0 || seam >= len(out) {
		return
	}
	before, after := out[seam-1], out[seam]

	uses := before.ToolUseIDs()
	if filtered, changed := filterBlocks(after, func(b types.Block) bool {
		if b.Type != types.BlockToolResult {
			return true
		}
		_, ok := uses[b.ToolResultForUseID]
		return ok
	}); changed {
		after = filtered
		out[seam] = after
	}

	results := after.ToolResultIDs()
	if filtered, changed := filterBlocks(before, func(b types.Block) bool {
		if b.Type != types.BlockToolUse {
			return true
		}
		_, ok := results[b.ToolUseID]
		return ok
	}); changed {
		out[seam-1] = filtered
	}
}

// filterBlocks returns a copy of t holding only the blocks keep accepts. It
// returns t itself and false when every block is kept.
func filterBlocks(t *types.Turn, keep func(types.Block) bool) (*types.Turn, bool) {
	kept := make([]types.Block, 0, len(t.Content))
	for _, b := range t.Content {
		if keep(b) {
			kept = append(kept, b)
		}
	}
	if len(kept) == len(t.Content) {
		return t, false
	}
	repaired := t.Clone()
	repaired.Content = kept
	return repaired, true
}

// withTruncationNotice returns turns whose first assistant reply carries
// TruncationNoticeText. The notice is added once.
func withTruncationNotice(turns []*types.Turn) []*types.Turn {
	if len(turns) < 2 || turns[1].Role != types.RoleAssistant {
		return turns
	}
	for _, b := range turns[1].Content {
		if b.Type == types.BlockText && strings.Contains(b.Text, TruncationNoticeText) {
			return turns
		}
	}
	annotated := turns[1].Clone()
	annotated.Content = append(annotated.Content, types.NewTextBlock(TruncationNoticeText))

	out := make([]*types.Turn, len(turns))
	copy(out, turns)
	out[1] = annotated
	return out
}
