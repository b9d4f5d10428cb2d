// Package report renders a transcript and its compaction state as Markdown,
// and optionally as sanitized HTML.
package report

import (
	"bytes"
	"fmt"
	"strings"
	"sync"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/youssefsiam38/agentctx/compaction"
	"github.com/youssefsiam38/agentctx/storage"
	"github.com/youssefsiam38/agentctx/types"
)

// previewLength is the number of characters of each turn shown in the table.
const previewLength = 80

// Input is what a report describes.
type Input struct {
	Title string

	// Turns is the raw transcript.
	Turns []*types.Turn

	Stats compaction.Stats
	State compaction.State

	// History is the stored compaction history, oldest first. Optional.
	History []*storage.CompactionEvent
}

// Markdown builds the report.
func Markdown(in Input) string {
	var b strings.Builder

	title := in.Title
	if title == "" {
		title = "Context report"
	}
	fmt.Fprintf(&b, "# %s\n\n", escape(title))

	b.WriteString("## Summary\n\n")
	fmt.Fprintf(&b, "- Turns: %d (%d sent)\n", in.Stats.TotalTurns, in.Stats.LiveTurns)
	fmt.Fprintf(&b, "- Context window: %d tokens, %d usable\n", in.Stats.ContextWindow, in.Stats.MaxAllowedSize)
	fmt.Fprintf(&b, "- Last request: %d tokens (%.1f%%)\n", in.Stats.TotalTokens, in.Stats.UsagePercent)
	fmt.Fprintf(&b, "- Estimated next request: %d tokens\n", in.Stats.EstimatedTokens)
	if r := in.State.DeletedRange; r != nil && !r.IsEmpty() {
		fmt.Fprintf(&b, "- Deleted range: %s (%d turns)\n", r, r.Len())
	} else {
		b.WriteString("- Deleted range: none\n")
	}
	if in.Stats.NeedsCompaction {
		b.WriteString("- **Compaction needed before the next request**\n")
	}
	b.WriteString("\n")

	elided := elidedTurns(in.State.Edits)

	b.WriteString("## Turns\n\n")
	b.WriteString("| # | Role | Status | Chars | Tools | Preview |\n")
	b.WriteString("|---|------|--------|-------|-------|---------|\n")
	for i, t := range in.Turns {
		if t == nil {
			continue
		}
		fmt.Fprintf(&b, "| %d | %s | %s | %d | %s | %s |\n",
			i, t.Role, status(i, in.State.DeletedRange, elided), t.CharCount(), escape(tools(t)), escape(preview(t)))
	}
	b.WriteString("\n")

	if len(in.State.Edits) > 0 {
		b.WriteString("## Elided file content\n\n")
		b.WriteString("| Turn | Resource | Marker | Chars saved |\n")
		b.WriteString("|------|----------|--------|-------------|\n")
		for _, e := range in.State.Edits {
			fmt.Fprintf(&b, "| %d | `%s` | %s | %d |\n", e.Turn, escapeCode(e.Key.Path), e.Kind, e.CharsSaved)
		}
		b.WriteString("\n")
	}

	if len(in.History) > 0 {
		b.WriteString("## Compaction history\n\n")
		b.WriteString("| Time | Range | Removed | Optimized | Tokens |\n")
		b.WriteString("|------|-------|---------|-----------|--------|\n")
		for _, e := range in.History {
			fmt.Fprintf(&b, "| %s | %s | %d | %v | %d → %d |\n",
				e.CreatedAt.UTC().Format("2006-01-02 15:04:05"), e.Range(), e.TurnsRemoved,
				e.Optimized, e.OriginalTokens, e.EstimatedTokens)
		}
		b.WriteString("\n")
	}

	return b.String()
}

var (
	markdownOnce sync.Once
	markdown     goldmark.Markdown
	policy       *bluemonday.Policy
)

func renderer() (goldmark.Markdown, *bluemonday.Policy) {
	markdownOnce.Do(func() {
		markdown = goldmark.New(goldmark.WithExtensions(extension.GFM))
		policy = bluemonday.UGCPolicy()
	})
	return markdown, policy
}

// HTML renders Markdown output as HTML. Transcript text is untrusted, so the
// result is sanitized.
func HTML(md string) (string, error) {
	gm, p := renderer()

	var buf bytes.Buffer
	if err := gm.Convert([]byte(md), &buf); err != nil {
		return "", fmt.Errorf("failed to render markdown: %w", err)
	}
	return p.Sanitize(buf.String()), nil
}

func elidedTurns(edits []compaction.Edit) compaction.IndexSet {
	set := compaction.IndexSet{}
	for _, e := range edits {
		set.Add(e.Turn)
	}
	return set
}

func status(i int, deleted *compaction.Range, elided compaction.IndexSet) string {
	switch {
	case deleted != nil && !deleted.IsEmpty() && i >= deleted.Start && i <= deleted.End:
		return "deleted"
	case elided.Has(i):
		return "elided"
	default:
		return "kept"
	}
}

func tools(t *types.Turn) string {
	var names []string
	for _, b := range t.Content {
		switch b.Type {
		case types.BlockToolUse:
			names = append(names, "use:"+b.ToolName)
		case types.BlockToolResult:
			names = append(names, "result")
		}
	}
	return strings.Join(names, " ")
}

func preview(t *types.Turn) string {
	for _, b := range t.Content {
		switch b.Type {
		case types.BlockText:
			return clip(b.Text)
		case types.BlockToolResult:
			return clip(b.ResultText())
		}
	}
	return ""
}

// clip collapses whitespace and shortens text to previewLength runes.
func clip(text string) string {
	text = strings.Join(strings.Fields(text), " ")
	if r := []rune(text); len(r) > previewLength {
		text = string(r[:previewLength]) + "…"
	}
	return text
}

var markdownEscaper = strings.NewReplacer(
	`\`, `\\`, "|", `\|`, "*", `\*`, "_", `\_`, "`", "\\`",
	"[", `\[`, "]", `\]`, "<", "&lt;", ">", "&gt;", "#", `\#`,
)

// escape makes untrusted text safe to place in a table cell.
func escape(s string) string {
	return markdownEscaper.Replace(s)
}

func escapeCode(s string) string {
	return strings.NewReplacer("`", "'", "|", `\|`).Replace(s)
}
