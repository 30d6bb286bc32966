package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/objidx/internal/filter"
	"github.com/roach88/objidx/internal/querysql"
	"github.com/roach88/objidx/internal/types"
)

// Query modes accepted by --mode.
const (
	ModeHistory  = "history"
	ModeLatest   = "latest"
	ModeSnapshot = "snapshot"
)

// SQLOptions holds flags for the sql command.
type SQLOptions struct {
	*RootOptions
	Mode       string
	Dialect    string
	Checkpoint uint64
	Cursor     string
	Limit      int
	Columns    []string
}

// SQLResult is the compiled statement.
type SQLResult struct {
	Dialect  string   `json:"dialect"`
	Mode     string   `json:"mode"`
	SQL      string   `json:"sql"`
	Args     []any    `json:"args"`
	Warnings []string `json:"warnings,omitempty"`
}

func (r SQLResult) String() string {
	var b strings.Builder
	b.WriteString(r.SQL)
	for i, a := range r.Args {
		fmt.Fprintf(&b, "\n-- arg %d: %v", i+1, a)
	}
	for _, w := range r.Warnings {
		fmt.Fprintf(&b, "\n-- warning: %s", w)
	}
	return b.String()
}

// NewSQLCommand creates the sql command.
func NewSQLCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SQLOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "sql [filter-file]",
		Short: "Print the SQL generated for a filter",
		Long: `Compile an object filter into the SQL statement a query would run.

The filter is read from a YAML or JSON file ("-" reads stdin). Without a
filter every live object matches. No database is opened.

Examples:
  objidx sql --mode history --checkpoint 42 owner.yaml
  objidx sql --mode latest --dialect sqlite --cursor 0x5 owner.yaml
  echo '{"AddressOwner": "0x2"}' | objidx sql --format json -`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := ""
			if len(args) == 1 {
				path = args[0]
			}
			return runSQL(opts, path, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Mode, "mode", ModeHistory, "query mode (history|latest|snapshot)")
	cmd.Flags().StringVar(&opts.Dialect, "dialect", "postgres", "SQL dialect (postgres|sqlite)")
	cmd.Flags().Uint64Var(&opts.Checkpoint, "checkpoint", 0, "checkpoint bound for history mode")
	cmd.Flags().StringVar(&opts.Cursor, "cursor", "", "exclusive object id cursor")
	cmd.Flags().IntVar(&opts.Limit, "limit", 50, "maximum rows")
	cmd.Flags().StringSliceVar(&opts.Columns, "columns", []string{"*"}, "projected columns")

	return cmd
}

func runSQL(opts *SQLOptions, path string, cmd *cobra.Command) error {
	f, err := loadFilter(path, cmd.InOrStdin())
	if err != nil {
		return err
	}
	cursor, err := parseCursor(opts.Cursor)
	if err != nil {
		return err
	}
	dialect, err := querysql.ParseDialect(opts.Dialect)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid dialect", err)
	}

	stmt, warnings, err := planStatement(querysql.NewPlanner(dialect), opts.Mode, f, opts.Checkpoint, cursor, opts.Limit, opts.Columns)
	if err != nil {
		return err
	}

	return opts.formatter(cmd).Success(SQLResult{
		Dialect:  dialect.String(),
		Mode:     opts.Mode,
		SQL:      stmt.SQL,
		Args:     stmt.Args,
		Warnings: warnings,
	})
}

func planStatement(p *querysql.Planner, mode string, f filter.ObjectFilter, checkpoint uint64, cursor *types.ObjectID, limit int, columns []string) (querysql.Statement, []string, error) {
	var (
		stmt     querysql.Statement
		warnings []string
		err      error
	)
	switch mode {
	case ModeHistory:
		stmt, err = p.History(f, checkpoint, cursor, limit, columns)
	case ModeLatest:
		stmt, err = p.Latest(f, cursor, limit, columns)
		warnings = filter.Analyze(f).Warnings
	case ModeSnapshot:
		stmt, err = p.WithLatestTable(querysql.SnapshotTable).Latest(f, cursor, limit, columns)
		warnings = filter.Analyze(f).Warnings
	default:
		return stmt, nil, NewExitError(ExitCommandError, fmt.Sprintf("invalid mode %q: must be history, latest or snapshot", mode))
	}
	if err != nil {
		return stmt, nil, WrapExitError(ExitCommandError, "failed to plan query", err)
	}
	return stmt, warnings, nil
}
