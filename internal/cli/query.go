package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/objidx/internal/filter"
	"github.com/roach88/objidx/internal/store"
)

// QueryOptions holds flags for the query command.
type QueryOptions struct {
	*RootOptions
	Mode       string
	Checkpoint uint64
	Cursor     string
	Limit      int
}

// NewQueryCommand creates the query command.
func NewQueryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &QueryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "query [filter-file]",
		Short: "Query objects",
		Long: `Run an object query against the database.

history reads the objects as of --checkpoint (default: the latest committed
checkpoint). latest reads the current live objects and snapshot reads the
lagging snapshot; both apply only a top-level AddressOwner filter.

Pass the returned next cursor as --cursor to fetch the following page.

Examples:
  objidx query --db ./idx.db --checkpoint 42 owner.yaml
  objidx query --db ./idx.db --mode latest --limit 10 owner.yaml
  objidx query --db ./idx.db --cursor 0x...5 --format json owner.yaml`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := ""
			if len(args) == 1 {
				path = args[0]
			}
			return runQuery(opts, path, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Mode, "mode", ModeHistory, "query mode (history|latest|snapshot)")
	cmd.Flags().Uint64Var(&opts.Checkpoint, "checkpoint", 0, "checkpoint bound for history mode (default latest)")
	cmd.Flags().StringVar(&opts.Cursor, "cursor", "", "exclusive object id cursor")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "maximum objects (default from config)")

	return cmd
}

func runQuery(opts *QueryOptions, path string, cmd *cobra.Command) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	f, err := loadFilter(path, cmd.InOrStdin())
	if err != nil {
		return err
	}
	cursor, err := parseCursor(opts.Cursor)
	if err != nil {
		return err
	}

	st, cfg, err := opts.openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	limit := opts.Limit
	if limit == 0 {
		limit = cfg.Query.DefaultLimit
	}
	if limit < 0 || limit > cfg.Query.MaxLimit {
		return NewExitError(ExitCommandError, fmt.Sprintf("limit must be between 1 and %d, got %d", cfg.Query.MaxLimit, limit))
	}

	page := ObjectPage{Mode: opts.Mode, Objects: []ObjectView{}}
	var records []store.ObjectRecord
	switch opts.Mode {
	case ModeHistory:
		bound := opts.Checkpoint
		if !cmd.Flags().Changed("checkpoint") {
			latest, ok, err := st.GetLatestCheckpointSequenceNumber(ctx)
			if err != nil {
				return storeFailure("failed to read latest checkpoint", err)
			}
			if !ok {
				return storeFailure("nothing indexed yet", store.ErrOutOfRange)
			}
			bound = latest
		}
		page.Checkpoint = &bound
		records, err = st.QueryObjectsHistory(ctx, f, bound, cursor, limit)
	case ModeLatest:
		page.Warnings = filter.Analyze(f).Warnings
		records, err = st.QueryLatestObjects(ctx, f, cursor, limit)
	case ModeSnapshot:
		page.Warnings = filter.Analyze(f).Warnings
		records, err = st.QuerySnapshotObjects(ctx, f, cursor, limit)
	default:
		return NewExitError(ExitCommandError, fmt.Sprintf("invalid mode %q: must be history, latest or snapshot", opts.Mode))
	}
	if err != nil {
		return storeFailure("query failed", err)
	}

	for _, r := range records {
		page.Objects = append(page.Objects, viewObject(r))
	}
	if len(records) == limit {
		page.NextCursor = records[len(records)-1].ObjectID.String()
	}
	return opts.formatter(cmd).Success(page)
}
