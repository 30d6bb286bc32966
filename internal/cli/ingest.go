package cli

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/objidx/internal/committer"
	"github.com/roach88/objidx/internal/config"
	"github.com/roach88/objidx/internal/metrics"
	"github.com/roach88/objidx/internal/snapshot"
	"github.com/roach88/objidx/internal/store"
)

// IngestOptions holds flags for the ingest command.
type IngestOptions struct {
	*RootOptions
	Snapshot bool
	ChainID  string
}

// IngestResult summarizes an ingest run.
type IngestResult struct {
	RunID            string  `json:"run_id"`
	Batches          int     `json:"batches"`
	LastCheckpoint   *uint64 `json:"last_checkpoint,omitempty"`
	SnapshotFrontier *uint64 `json:"snapshot_frontier,omitempty"`
	Interrupted      bool    `json:"interrupted,omitempty"`
}

func (r IngestResult) String() string {
	s := fmt.Sprintf("committed %d batches, last checkpoint %s", r.Batches, optional(r.LastCheckpoint))
	if r.SnapshotFrontier != nil {
		s += fmt.Sprintf(", snapshot at %d", *r.SnapshotFrontier)
	}
	if r.Interrupted {
		s += " (interrupted)"
	}
	return s
}

// NewIngestCommand creates the ingest command.
func NewIngestCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &IngestOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "ingest <batch-file>...",
		Short: "Commit checkpoint batches from YAML files",
		Long: `Commit checkpoint batches read from YAML files, in file order.

Each YAML document in a file is one batch (checkpoints, transactions,
events, packages, displays, object_changes and an optional epoch boundary)
and is committed atomically. Ingestion stops at the first batch that breaks
checkpoint ordering or carries a malformed record; lock contention is
retried.

With --snapshot the object snapshot is advanced concurrently, trailing the
committed frontier by snapshot.lag checkpoints.

Examples:
  objidx ingest --db ./idx.db batches/*.yaml
  objidx ingest --db ./idx.db --snapshot --snapshot-lag 0 batch.yaml
  objidx ingest --db ./idx.db --chain-id 4c78adac batch.yaml`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		PreRun: func(cmd *cobra.Command, args []string) {
			_ = rootOpts.viper.BindPFlag(config.KeySnapshotLag, cmd.Flags().Lookup("snapshot-lag"))
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIngest(opts, args, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Snapshot, "snapshot", false, "advance the object snapshot while ingesting")
	cmd.Flags().StringVar(&opts.ChainID, "chain-id", "", "hex chain identifier to record before ingesting")
	cmd.Flags().Uint64("snapshot-lag", 0, "checkpoints the snapshot trails the committed frontier")

	return cmd
}

func runIngest(opts *IngestOptions, files []string, cmd *cobra.Command) error {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}

	var chainID []byte
	if opts.ChainID != "" {
		id, err := hex.DecodeString(opts.ChainID)
		if err != nil || len(id) == 0 {
			return WrapExitError(ExitCommandError, "invalid chain id", err)
		}
		chainID = id
	}

	// Decode everything up front so a malformed file commits nothing.
	var batches []store.CheckpointBatch
	for _, name := range files {
		data, err := readInput(name, cmd.InOrStdin())
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to read batch file", err)
		}
		decoded, err := decodeBatchFile(name, data)
		if err != nil {
			return WrapExitError(ExitCommandError, "invalid batch file", err)
		}
		batches = append(batches, decoded...)
	}

	st, cfg, err := opts.openStore()
	if err != nil {
		return err
	}
	defer st.Close()
	log := opts.logger(cmd, cfg)
	defer func() { _ = log.Sync() }()

	if chainID != nil {
		if err := st.PersistProtocolConfigsAndFeatureFlags(parent, chainID); err != nil {
			return storeFailure("failed to record chain id", err)
		}
	}

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	c := committer.New(st, committer.Config{
		MaxRetries:   cfg.Committer.MaxRetries,
		RetryBackoff: cfg.Committer.RetryBackoff,
	}, log.Named("commit"), m)
	proc := snapshot.New(st, snapshot.Config{
		Lag:           cfg.Snapshot.Lag,
		SleepDuration: cfg.Snapshot.SleepDuration,
	}, log.Named("snapshot"), m)

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	// auxCtx stops the snapshot processor and metrics server once the
	// committer is done.
	auxCtx, stopAux := context.WithCancel(gctx)
	defer stopAux()

	in := make(chan store.CheckpointBatch)
	g.Go(func() error {
		defer close(in)
		for _, b := range batches {
			select {
			case <-gctx.Done():
				return nil
			case in <- b:
			}
		}
		return nil
	})

	interrupted := false
	g.Go(func() error {
		defer stopAux()
		err := c.Run(gctx, in)
		if committer.IsShutdown(err) {
			interrupted = true
			return nil
		}
		return err
	})

	if opts.Snapshot {
		g.Go(func() error {
			err := proc.Run(auxCtx)
			if auxCtx.Err() != nil && errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}
	if cfg.MetricsAddr != "" {
		g.Go(func() error {
			return metrics.Serve(auxCtx, cfg.MetricsAddr, reg, log.Named("metrics"))
		})
	}

	runErr := g.Wait()

	res := IngestResult{RunID: c.RunID().String(), Batches: c.Batches(), Interrupted: interrupted}
	if last, ok := c.LastCommitted(); ok {
		res.LastCheckpoint = &last
	}
	if runErr != nil {
		return storeFailure(fmt.Sprintf("ingest stopped after %d batches", res.Batches), runErr)
	}

	if opts.Snapshot && !interrupted {
		// Catch up on whatever the processor had not applied yet.
		for {
			advanced, err := proc.Step(parent)
			if err != nil {
				return storeFailure("failed to advance snapshot", err)
			}
			if !advanced {
				break
			}
		}
	}
	if frontier, ok := proc.Frontier(); ok {
		res.SnapshotFrontier = &frontier
	}

	return opts.formatter(cmd).SuccessWithTrace(res, res.RunID)
}
