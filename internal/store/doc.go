// Package store provides SQLite-backed durable storage for indexed ledger
// data and implements the IndexerStore consistency contract.
//
// Relations:
//   - objects: current version of every live object
//   - objects_history: every version of every object, removals included
//   - objects_snapshot: live objects as of the snapshot frontier
//   - checkpoints, transactions, tx_* indexes, events, event_indices
//   - displays, packages, epochs
//   - chain_identifier, protocol_configs, feature_flags
//
// # Consistency
//
// Checkpoint commit: CommitCheckpointBatch writes objects, history, the
// remaining indexes and the checkpoint rows in one transaction. Readers see
// a checkpoint fully or not at all.
//
// Ordering: checkpoints and epochs are gapless and strictly increasing.
// Violations are ErrSequenceGap and must stop ingestion.
//
// Snapshot modes: the snapshot_state row records whether the snapshot is
// being backfilled or advanced incrementally, and its frontier. The two
// modes never interleave.
//
// Idempotence: every insert is keyed, so replaying a committed batch
// changes nothing.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - case_sensitive_like=ON: Move type names are case sensitive
//
// Object queries are planned by package querysql in the SQLite dialect.
package store
