package cli

import (
	"context"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/objidx/internal/store"
)

// StatusResult summarizes what the database holds.
type StatusResult struct {
	ChainID          string  `json:"chain_id,omitempty"`
	LatestCheckpoint *uint64 `json:"latest_checkpoint,omitempty"`
	CheckpointRange  *Range  `json:"checkpoint_range,omitempty"`
	EpochRange       *Range  `json:"epoch_range,omitempty"`
	SnapshotFrontier *uint64 `json:"snapshot_frontier,omitempty"`
	SnapshotMode     string  `json:"snapshot_mode,omitempty"`
}

// Range is an inclusive range.
type Range struct {
	Min uint64 `json:"min"`
	Max uint64 `json:"max"`
}

func (r *Range) String() string {
	if r == nil {
		return "none"
	}
	return fmt.Sprintf("[%d, %d]", r.Min, r.Max)
}

func optional(v *uint64) string {
	if v == nil {
		return "none"
	}
	return fmt.Sprint(*v)
}

func (s StatusResult) String() string {
	var b strings.Builder
	chain := s.ChainID
	if chain == "" {
		chain = "unset"
	}
	fmt.Fprintf(&b, "chain:             %s\n", chain)
	fmt.Fprintf(&b, "latest checkpoint: %s\n", optional(s.LatestCheckpoint))
	fmt.Fprintf(&b, "checkpoints:       %s\n", s.CheckpointRange)
	fmt.Fprintf(&b, "epochs:            %s\n", s.EpochRange)
	mode := s.SnapshotMode
	if mode == "" {
		mode = "none"
	}
	fmt.Fprintf(&b, "snapshot:          %s (%s)", optional(s.SnapshotFrontier), mode)
	return b.String()
}

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show indexed ranges and snapshot frontier",
		Long: `Show the chain identifier, the retained checkpoint and epoch ranges and
the object snapshot frontier.

Examples:
  objidx status --db ./idx.db
  objidx status --db ./idx.db --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(rootOpts, cmd)
		},
	}
}

func runStatus(opts *RootOptions, cmd *cobra.Command) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	st, _, err := opts.openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	res, err := readStatus(ctx, st)
	if err != nil {
		return storeFailure("failed to read status", err)
	}
	return opts.formatter(cmd).Success(res)
}

func readStatus(ctx context.Context, st *store.Store) (StatusResult, error) {
	var res StatusResult

	id, ok, err := st.GetChainIdentifier(ctx)
	if err != nil {
		return res, err
	}
	if ok {
		res.ChainID = hex.EncodeToString(id)
	}

	if latest, ok, err := st.GetLatestCheckpointSequenceNumber(ctx); err != nil {
		return res, err
	} else if ok {
		res.LatestCheckpoint = &latest
	}

	if res.CheckpointRange, err = optionalRange(st.GetAvailableCheckpointRange(ctx)); err != nil {
		return res, err
	}
	if res.EpochRange, err = optionalRange(st.GetAvailableEpochRange(ctx)); err != nil {
		return res, err
	}

	if frontier, ok, err := st.GetLatestObjectSnapshotCheckpointSequenceNumber(ctx); err != nil {
		return res, err
	} else if ok {
		res.SnapshotFrontier = &frontier
	}
	if mode, ok, err := st.SnapshotMode(ctx); err != nil {
		return res, err
	} else if ok {
		res.SnapshotMode = string(mode)
	}
	return res, nil
}

// optionalRange turns an out-of-range result into a nil range.
func optionalRange(lo, hi uint64, err error) (*Range, error) {
	if store.KindOf(err) == store.KindOutOfRange {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &Range{Min: lo, Max: hi}, nil
}
