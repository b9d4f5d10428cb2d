package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/youssefsiam38/agentctx/compaction"
	"github.com/youssefsiam38/agentctx/internal/anthropic"
	"github.com/youssefsiam38/agentctx/internal/report"
	"github.com/youssefsiam38/agentctx/storage"
	"github.com/youssefsiam38/agentctx/types"
)

func newCheckCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Report whether the next request needs compaction",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			in, _, err := a.load(cmd)
			if err != nil {
				return err
			}
			records, idx, err := in.accounting()
			if err != nil {
				return err
			}
			m, err := a.manager()
			if err != nil {
				return err
			}
			stats, err := m.Stats(in.Turns, records, idx, in.State)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), stats)
		},
	}
}

func newRangeCommand(a *app) *cobra.Command {
	var keep string
	cmd := &cobra.Command{
		Use:   "range",
		Short: "Print the next truncation range",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			in, _, err := a.load(cmd)
			if err != nil {
				return err
			}
			k := a.cfg.Compaction.Keep
			if keep != "" {
				if k, err = compaction.ParseKeep(keep); err != nil {
					return err
				}
			}
			r, err := compaction.NextTruncationRange(in.Turns, in.State.DeletedRange, k)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), r)
		},
	}
	cmd.Flags().StringVarP(&keep, "keep", "k", "", "keep policy: none, lastTwo, half or quarter")
	return cmd
}

func newTruncateCommand(a *app) *cobra.Command {
	var (
		start, end int
		wire       bool
	)
	cmd := &cobra.Command{
		Use:   "truncate",
		Short: "Remove a range of turns and repair the tool pairs around it",
		Long: "truncate removes --start..--end from the transcript. Without both flags the\n" +
			"deleted range of the compaction state is applied.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			in, _, err := a.load(cmd)
			if err != nil {
				return err
			}
			r := in.State.DeletedRange
			if cmd.Flags().Changed("start") || cmd.Flags().Changed("end") {
				if !cmd.Flags().Changed("start") || !cmd.Flags().Changed("end") {
					return fmt.Errorf("--start and --end must be given together")
				}
				r = &compaction.Range{Start: start, End: end}
			}
			turns, err := compaction.ApplyTruncation(in.Turns, r)
			if err != nil {
				return err
			}
			return writeTurns(cmd, turns, wire)
		},
	}
	cmd.Flags().IntVar(&start, "start", 0, "first index to remove")
	cmd.Flags().IntVar(&end, "end", 0, "last index to remove")
	cmd.Flags().BoolVar(&wire, "anthropic", false, "print Anthropic message params instead of turns")
	return cmd
}

type optimizeOutput struct {
	Changed bool          `json:"changed"`
	Indices []int         `json:"indices"`
	Turns   []*types.Turn `json:"turns"`
}

func newOptimizeCommand(a *app) *cobra.Command {
	var from int
	cmd := &cobra.Command{
		Use:   "optimize",
		Short: "Replace stale file restatements with a notice",
		Long: "optimize elides every restatement of a file except those in the latest turn\n" +
			"restating it. Without --from it starts after the deleted range.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			in, _, err := a.load(cmd)
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("from") {
				from = compaction.RangeStart
				if r := in.State.DeletedRange; r != nil && !r.IsEmpty() {
					from = r.End + 1
				}
			}
			changed, indices := compaction.ApplyContextOptimizations(in.Turns, from, a.clock()())
			return writeJSON(cmd.OutOrStdout(), optimizeOutput{
				Changed: changed,
				Indices: indices.Sorted(),
				Turns:   in.Turns,
			})
		},
	}
	cmd.Flags().IntVar(&from, "from", 0, "first turn index to scan")
	return cmd
}

type prepareOutput struct {
	Compacted       bool              `json:"compacted"`
	Optimized       bool              `json:"optimized"`
	Range           *compaction.Range `json:"range,omitempty"`
	TurnsRemoved    int               `json:"turnsRemoved"`
	OriginalTokens  int               `json:"originalTokens"`
	EstimatedTokens int               `json:"estimatedTokens"`
	SavingsFraction float64           `json:"savingsFraction"`
	State           compaction.State  `json:"state"`
	Turns           any               `json:"turns"`
}

func newPrepareCommand(a *app) *cobra.Command {
	var wire bool
	cmd := &cobra.Command{
		Use:   "prepare",
		Short: "Build the next request, compacting when the previous one was too large",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			in, stored, err := a.load(cmd)
			if err != nil {
				return err
			}
			records, idx, err := in.accounting()
			if err != nil {
				return err
			}
			m, err := a.manager()
			if err != nil {
				return err
			}
			result, err := m.Prepare(cmd.Context(), in.Turns, records, idx, in.State)
			if err != nil {
				return err
			}
			stored.Records = records
			return a.finish(cmd, stored, result, wire)
		},
	}
	cmd.Flags().BoolVar(&wire, "anthropic", false, "print Anthropic message params instead of turns")
	return cmd
}

func newCompactCommand(a *app) *cobra.Command {
	var (
		keep string
		wire bool
	)
	cmd := &cobra.Command{
		Use:   "compact",
		Short: "Extend the deleted range now, regardless of usage",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			in, stored, err := a.load(cmd)
			if err != nil {
				return err
			}
			var k compaction.Keep
			if keep != "" {
				if k, err = compaction.ParseKeep(keep); err != nil {
					return err
				}
			}
			m, err := a.manager()
			if err != nil {
				return err
			}
			result, err := m.CompactNow(cmd.Context(), in.Turns, in.State, k)
			if err != nil {
				return err
			}
			if records, _, err := in.accounting(); err == nil {
				stored.Records = records
			}
			return a.finish(cmd, stored, result, wire)
		},
	}
	cmd.Flags().StringVarP(&keep, "keep", "k", "", "keep policy: none, lastTwo, half or quarter")
	cmd.Flags().BoolVar(&wire, "anthropic", false, "print Anthropic message params instead of turns")
	return cmd
}

// finish notifies the before-request hooks, persists the session and prints
// the result.
func (a *app) finish(cmd *cobra.Command, stored *storage.ConversationState, result *compaction.Result, wire bool) error {
	ctx := cmd.Context()
	if err := a.hooks.TriggerBeforeRequest(ctx, result.Turns); err != nil {
		return err
	}
	if err := a.session().save(ctx, stored, result); err != nil {
		return err
	}

	out := prepareOutput{
		Compacted:       result.Compacted,
		Optimized:       result.Optimized,
		Range:           result.Range,
		TurnsRemoved:    result.TurnsRemoved,
		OriginalTokens:  result.OriginalTokens,
		EstimatedTokens: result.EstimatedTokens,
		SavingsFraction: result.SavingsFraction,
		State:           result.State,
		Turns:           result.Turns,
	}
	if wire {
		out.Turns = anthropic.ToMessageParams(result.Turns)
	}
	return writeJSON(cmd.OutOrStdout(), out)
}

func newReportCommand(a *app) *cobra.Command {
	var html bool
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Print a Markdown report of the transcript and its compaction state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			in, _, err := a.load(cmd)
			if err != nil {
				return err
			}
			records, idx, err := in.accounting()
			if err != nil {
				return err
			}
			m, err := a.manager()
			if err != nil {
				return err
			}
			stats, err := m.Stats(in.Turns, records, idx, in.State)
			if err != nil {
				return err
			}

			var history []*storage.CompactionEvent
			if s := a.session(); s.enabled() {
				if history, err = s.store.GetCompactionHistory(cmd.Context(), s.id); err != nil {
					return err
				}
			}

			md := report.Markdown(report.Input{
				Title:   a.sessionID,
				Turns:   in.Turns,
				Stats:   *stats,
				State:   in.State,
				History: history,
			})
			if !html {
				_, err = fmt.Fprint(cmd.OutOrStdout(), md)
				return err
			}
			rendered, err := report.HTML(md)
			if err != nil {
				return err
			}
			_, err = fmt.Fprint(cmd.OutOrStdout(), rendered)
			return err
		},
	}
	cmd.Flags().BoolVar(&html, "html", false, "render the report as sanitized HTML")
	return cmd
}

func writeTurns(cmd *cobra.Command, turns []*types.Turn, wire bool) error {
	if wire {
		return writeJSON(cmd.OutOrStdout(), anthropic.ToMessageParams(turns))
	}
	return writeJSON(cmd.OutOrStdout(), turns)
}
