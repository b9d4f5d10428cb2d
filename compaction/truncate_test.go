package compaction

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/youssefsiam38/agentctx/types"
)

func TestApplyTruncationNilRange(t *testing.T) {
	turns := createTurns(3)

	got, err := ApplyTruncation(turns, nil)
	if err != nil {
		t.Fatalf("ApplyTruncation() error = %v", err)
	}
	if len(got) != len(turns) {
		t.Fatalf("len = %d, want %d", len(got), len(turns))
	}
	for i := range turns {
		if got[i] != turns[i] {
			t.Errorf("turn %d was replaced", i)
		}
	}
}

func TestApplyTruncationEmptyRange(t *testing.T) {
	turns := createTurns(3)

	got, err := ApplyTruncation(turns, &Range{Start: 2, End: 1})
	if err != nil {
		t.Fatalf("ApplyTruncation() error = %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	got[0] = nil
	if turns[0] == nil {
		t.Error("empty range returned the caller's slice")
	}
}

func TestApplyTruncation(t *testing.T) {
	tests := []struct {
		name  string
		turns int
		r     Range
		keep  []int
	}{
		{name: "removes the range", turns: 5, r: Range{1, 3}, keep: []int{0, 4}},
		{name: "preserves alternation", turns: 5, r: Range{2, 3}, keep: []int{0, 1, 4}},
		{name: "range to the end", turns: 6, r: Range{2, 5}, keep: []int{0, 1}},
		{name: "single turn", turns: 4, r: Range{2, 2}, keep: []int{0, 1, 3}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			turns := createTurns(tt.turns)

			got, err := ApplyTruncation(turns, &tt.r)
			if err != nil {
				t.Fatalf("ApplyTruncation() error = %v", err)
			}
			if len(got) != tt.turns-tt.r.Len() {
				t.Fatalf("len = %d, want %d", len(got), tt.turns-tt.r.Len())
			}
			for i, idx := range tt.keep {
				if got[i] != turns[idx] {
					t.Errorf("got[%d] is not turn %d", i, idx)
				}
			}
		})
	}
}

func TestApplyTruncationLengthAndSeamRole(t *testing.T) {
	for n := 3; n <= 30; n++ {
		turns := createTurns(n)
		var previous *Range
		for step := 0; step < 3; step++ {
			r, err := NextTruncationRange(turns, previous, KeepHalf)
			if err != nil {
				t.Fatalf("%d turns: NextTruncationRange() error = %v", n, err)
			}
			got, err := ApplyTruncation(turns, &r)
			if err != nil {
				t.Fatalf("%d turns: ApplyTruncation(%s) error = %v", n, r, err)
			}
			if len(got) != n-r.Len() {
				t.Errorf("%d turns, range %s: len = %d, want %d", n, r, len(got), n-r.Len())
			}
			if !r.IsEmpty() && r.Start < len(got) && got[r.Start].Role != types.RoleUser {
				t.Errorf("%d turns, range %s: turn after span is %s", n, r, got[r.Start].Role)
			}
			previous = &r
		}
	}
}

func TestApplyTruncationInvalidRange(t *testing.T) {
	tests := []struct {
		name  string
		turns []*types.Turn
		r     Range
		want  error
	}{
		{name: "starts at task", turns: createTurns(5), r: Range{0, 2}, want: ErrInvalidRange},
		{name: "start after end", turns: createTurns(5), r: Range{3, 1}, want: ErrInvalidRange},
		{name: "end beyond transcript", turns: createTurns(5), r: Range{2, 5}, want: ErrInvalidRange},
		{name: "empty transcript", turns: nil, r: Range{2, 3}, want: ErrEmptyTranscript},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ApplyTruncation(tt.turns, &tt.r)
			if !errors.Is(err, tt.want) {
				t.Errorf("ApplyTruncation() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestApplyTruncationRemovesOrphanedToolResults(t *testing.T) {
	toolTurn := types.NewTurn(types.RoleAssistant,
		types.NewTextBlock("Using a tool"),
		types.NewToolUseBlock("tool_123", "read_file", json.RawMessage(`{"path":"test.ts"}`)),
	)
	resultTurn := types.NewTurn(types.RoleUser,
		types.NewToolResultBlock("tool_123", "file content here", false),
		types.NewTextBlock("Additional user text"),
	)
	turns := []*types.Turn{
		types.UserText("Initial task"),
		types.AssistantText("Response 1"),
		toolTurn,
		resultTurn,
		types.AssistantText("Response 2"),
	}

	got, err := ApplyTruncation(turns, &Range{Start: 2, End: 2})
	if err != nil {
		t.Fatalf("ApplyTruncation() error = %v", err)
	}
	if len(got) != 4 {
		t.Fatalf("len = %d, want 4", len(got))
	}

	repaired := got[2]
	if repaired.Role != types.RoleUser {
		t.Errorf("Role = %s, want user", repaired.Role)
	}
	if len(repaired.Content) != 1 {
		t.Fatalf("len(Content) = %d, want 1", len(repaired.Content))
	}
	if repaired.Content[0].Type != types.BlockText || repaired.Content[0].Text != "Additional user text" {
		t.Errorf("Content[0] = %+v, want the sibling text block", repaired.Content[0])
	}

	if len(resultTurn.Content) != 2 {
		t.Error("caller's turn was modified")
	}
	if repaired == resultTurn {
		t.Error("repaired turn is the caller's turn")
	}
}

func TestApplyTruncationKeepsEmptyTurn(t *testing.T) {
	turns := []*types.Turn{
		types.UserText("Initial task"),
		types.AssistantText("Response 1"),
		types.UserText("next"),
		types.NewTurn(types.RoleAssistant, types.NewToolUseBlock("toolu_1", "list_files", nil)),
		types.NewTurn(types.RoleUser, types.NewToolResultBlock("toolu_1", "a.go\nb.go", false)),
		types.AssistantText("done"),
	}

	got, err := ApplyTruncation(turns, &Range{Start: 2, End: 3})
	if err != nil {
		t.Fatalf("ApplyTruncation() error = %v", err)
	}
	if len(got) != 4 {
		t.Fatalf("len = %d, want 4", len(got))
	}
	if got[2].Role != types.RoleUser {
		t.Errorf("Role = %s, want user", got[2].Role)
	}
	if len(got[2].Content) != 0 {
		t.Errorf("len(Content) = %d, want 0", len(got[2].Content))
	}
}

func TestApplyTruncationRemovesOrphanedToolUse(t *testing.T) {
	turns := []*types.Turn{
		types.UserText("Initial task"),
		types.NewTurn(types.RoleAssistant,
			types.NewTextBlock("Reading"),
			types.NewToolUseBlock("toolu_1", "read_file", json.RawMessage(`{"path":"a.go"}`)),
		),
		types.NewTurn(types.RoleUser, types.NewToolResultBlock("toolu_1", "package a", false)),
		types.AssistantText("Response"),
		types.UserText("continue"),
		types.AssistantText("ok"),
	}

	got, err := ApplyTruncation(turns, &Range{Start: 2, End: 3})
	if err != nil {
		t.Fatalf("ApplyTruncation() error = %v", err)
	}

	if ids := got[1].ToolUseIDs(); len(ids) != 0 {
		t.Errorf("ToolUseIDs() = %v, want none", ids)
	}
	if len(got[1].Content) != 1 || got[1].Content[0].Text != "Reading" {
		t.Errorf("Content = %+v, want the text block only", got[1].Content)
	}
	if len(turns[1].Content) != 2 {
		t.Error("caller's turn was modified")
	}
}

func TestApplyTruncationKeepsMatchedPairs(t *testing.T) {
	turns := []*types.Turn{
		types.UserText("Initial task"),
		types.NewTurn(types.RoleAssistant, types.NewToolUseBlock("toolu_1", "read_file", nil)),
		types.UserText("dropped"),
		types.AssistantText("dropped"),
		types.NewTurn(types.RoleUser, types.NewToolResultBlock("toolu_1", "content", false)),
	}

	got, err := ApplyTruncation(turns, &Range{Start: 2, End: 3})
	if err != nil {
		t.Fatalf("ApplyTruncation() error = %v", err)
	}
	if got[1] != turns[1] || got[2] != turns[4] {
		t.Error("turns with a matched pair were repaired")
	}
}

func TestWithTruncationNotice(t *testing.T) {
	turns := createTurns(4)

	got := withTruncationNotice(turns)
	last := got[1].Content[len(got[1].Content)-1]
	if last.Text != TruncationNoticeText {
		t.Errorf("last block = %q, want the notice", last.Text)
	}
	if len(turns[1].Content) != 1 {
		t.Error("caller's turn was modified")
	}

	again := withTruncationNotice(got)
	count := 0
	for _, b := range again[1].Content {
		if strings.Contains(b.Text, TruncationNoticeText) {
			count++
		}
	}
	if count != 1 {
		t.Errorf("notice count = %d, want 1", count)
	}
}
