// Package cli implements the agentctx command line.
package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/youssefsiam38/agentctx/compaction"
	"github.com/youssefsiam38/agentctx/hooks"
	"github.com/youssefsiam38/agentctx/storage"
)

// app carries the state shared by the subcommands.
type app struct {
	cfgFile       string
	input         string
	sessionID     string
	model         string
	contextWindow int
	databaseURL   string
	driver        string
	logLevel      string

	cfg     *Config
	logger  *slog.Logger
	store   storage.Store
	closeFn func()
	hooks   *hooks.Registry
	now     func() time.Time
}

// Execute runs the command line with the given arguments.
func Execute(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	cmd := newRootCommand(&app{})
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	return cmd.ExecuteContext(ctx)
}

func newRootCommand(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "agentctx",
		Short: "Context window management for agent transcripts",
		Long: "agentctx decides when an agent transcript must be compacted, drops spans of\n" +
			"older turns while keeping tool calls paired, and elides stale file content.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.closeFn != nil {
				a.closeFn()
			}
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&a.cfgFile, "config", "c", "", "config file path (YAML)")
	flags.StringVarP(&a.input, "input", "i", "", `transcript JSON file, "-" for stdin`)
	flags.StringVarP(&a.sessionID, "session", "s", "", "session id to load and save state for")
	flags.StringVarP(&a.model, "model", "m", "", "model id used to look up the context window")
	flags.IntVar(&a.contextWindow, "context-window", 0, "override the model context window")
	flags.StringVar(&a.databaseURL, "database-url", "", "PostgreSQL connection string for session state")
	flags.StringVar(&a.driver, "driver", "", "storage driver: pgx, pq or memory")
	flags.StringVar(&a.logLevel, "log-level", "", "log level: debug, info, warn or error")

	root.AddCommand(
		newCheckCommand(a),
		newRangeCommand(a),
		newTruncateCommand(a),
		newOptimizeCommand(a),
		newPrepareCommand(a),
		newCompactCommand(a),
		newReportCommand(a),
	)
	return root
}

// setup loads the configuration, applies flag overrides and connects storage.
func (a *app) setup(cmd *cobra.Command) error {
	cfg, err := LoadConfig(a.cfgFile)
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	if flags.Changed("model") {
		cfg.Model = a.model
	}
	if flags.Changed("context-window") {
		cfg.ContextWindow = a.contextWindow
	}
	if flags.Changed("database-url") {
		cfg.Storage.DatabaseURL = a.databaseURL
	}
	if flags.Changed("driver") {
		cfg.Storage.Driver = a.driver
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = a.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	a.cfg = cfg

	if a.logger == nil {
		a.logger = cfg.Logger()
	}
	if a.hooks == nil {
		a.hooks = hooks.NewRegistry()
		a.hooks.Register(hooks.NewLoggingHooks(a.logger))
	}

	if a.store == nil && a.sessionID != "" {
		store, closeFn, err := openStore(cmd.Context(), cfg.Storage)
		if err != nil {
			return err
		}
		if store == nil {
			return errors.New("--session requires a database url or the memory driver")
		}
		a.store, a.closeFn = store, closeFn
	}
	return nil
}

func (a *app) clock() func() time.Time {
	if a.now == nil {
		return time.Now
	}
	return a.now
}

func (a *app) session() session {
	return session{store: a.store, id: a.sessionID}
}

func (a *app) manager() (*compaction.Manager, error) {
	return compaction.NewManager(&a.cfg.Compaction, a.logger,
		compaction.WithModel(compaction.StaticModel(a.cfg.ModelInfo())),
		compaction.WithObserver(a.hooks),
		compaction.WithClock(a.clock()),
	)
}

// load returns the transcript to work on and the stored state it updates. The
// input file wins over stored turns; stored compaction state is used when the
// input carries none.
func (a *app) load(cmd *cobra.Command) (*Input, *storage.ConversationState, error) {
	ctx := cmd.Context()

	stored, err := a.session().load(ctx)
	if err != nil {
		return nil, nil, err
	}

	var in *Input
	switch {
	case a.input != "":
		in, err = readInput(a.input, cmd.InOrStdin())
		if err != nil {
			return nil, nil, err
		}
		if stored != nil && in.State.DeletedRange == nil && len(in.State.Edits) == 0 {
			in.State = stored.Compaction
		}
	case stored != nil:
		in = &Input{Turns: stored.Turns, Records: stored.Records, State: stored.Compaction}
	default:
		return nil, nil, errors.New("no transcript: pass --input or a --session with stored state")
	}

	if stored == nil {
		stored = &storage.ConversationState{}
	}
	stored.Turns = in.Turns
	return in, stored, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}
