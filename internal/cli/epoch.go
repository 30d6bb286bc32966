package cli

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

// EpochResult reports the retained epochs or the totals of one epoch.
type EpochResult struct {
	Range                    *Range  `json:"range,omitempty"`
	Epoch                    *uint64 `json:"epoch,omitempty"`
	NetworkTotalTransactions *uint64 `json:"network_total_transactions,omitempty"`
}

func (r EpochResult) String() string {
	if r.Epoch != nil {
		return fmt.Sprintf("epoch %d: %d network transactions at end", *r.Epoch, *r.NetworkTotalTransactions)
	}
	return fmt.Sprintf("epochs %s", r.Range)
}

// NewEpochCommand creates the epoch command.
func NewEpochCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "epoch [epoch]",
		Short: "Show retained epochs or an epoch's transaction total",
		Long: `Without an argument, show the retained epoch range. With an epoch, show
the cumulative network transaction count at the end of that epoch.

Examples:
  objidx epoch --db ./idx.db
  objidx epoch --db ./idx.db 4 --format json`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEpoch(rootOpts, args, cmd)
		},
	}
}

func runEpoch(opts *RootOptions, args []string, cmd *cobra.Command) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	var epoch *uint64
	if len(args) == 1 {
		e, err := strconv.ParseUint(args[0], 10, 64)
		if err != nil {
			return WrapExitError(ExitCommandError, "invalid epoch", err)
		}
		epoch = &e
	}

	st, _, err := opts.openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	var res EpochResult
	if epoch == nil {
		lo, hi, err := st.GetAvailableEpochRange(ctx)
		if err != nil {
			return storeFailure("failed to read epoch range", err)
		}
		res.Range = &Range{Min: lo, Max: hi}
	} else {
		total, err := st.GetNetworkTotalTransactionsByEndOfEpoch(ctx, *epoch)
		if err != nil {
			return storeFailure(fmt.Sprintf("epoch %d has no end total", *epoch), err)
		}
		res.Epoch = epoch
		res.NetworkTotalTransactions = &total
	}
	return opts.formatter(cmd).Success(res)
}
