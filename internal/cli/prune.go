package cli

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

// PruneResult reports the retained ranges after pruning.
type PruneResult struct {
	Epoch           uint64 `json:"pruned_epoch"`
	CheckpointRange *Range `json:"checkpoint_range,omitempty"`
	EpochRange      *Range `json:"epoch_range,omitempty"`
}

func (r PruneResult) String() string {
	return fmt.Sprintf("pruned epoch %d; checkpoints %s, epochs %s", r.Epoch, r.CheckpointRange, r.EpochRange)
}

// NewPruneCommand creates the prune command.
func NewPruneCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "prune <epoch>",
		Short: "Remove history of an ended epoch",
		Long: `Remove the checkpoints, transactions, events and superseded object
versions of every epoch up to and including <epoch>.

The epoch must have ended and the object snapshot must already cover its
last checkpoint. The newest version of each object is kept so history
queries inside the retained range are unaffected.

Examples:
  objidx prune --db ./idx.db 3`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPrune(rootOpts, args[0], cmd)
		},
	}
}

func runPrune(opts *RootOptions, arg string, cmd *cobra.Command) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	epoch, err := strconv.ParseUint(arg, 10, 64)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid epoch", err)
	}

	st, _, err := opts.openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	if err := st.PruneEpoch(ctx, epoch); err != nil {
		return storeFailure(fmt.Sprintf("failed to prune epoch %d", epoch), err)
	}

	res := PruneResult{Epoch: epoch}
	if res.CheckpointRange, err = optionalRange(st.GetAvailableCheckpointRange(ctx)); err != nil {
		return storeFailure("failed to read checkpoint range", err)
	}
	if res.EpochRange, err = optionalRange(st.GetAvailableEpochRange(ctx)); err != nil {
		return storeFailure("failed to read epoch range", err)
	}
	return opts.formatter(cmd).Success(res)
}
