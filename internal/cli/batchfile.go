package cli

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/roach88/objidx/internal/store"
	"github.com/roach88/objidx/internal/types"
)

// batchDoc is one checkpoint batch in an ingest file. A file holds one or
// more batches as separate YAML documents.
type batchDoc struct {
	Checkpoints   []checkpointDoc  `yaml:"checkpoints"`
	Transactions  []transactionDoc `yaml:"transactions"`
	Events        []eventDoc       `yaml:"events"`
	Packages      []packageDoc     `yaml:"packages"`
	Displays      []displayDoc     `yaml:"displays"`
	ObjectChanges []changesDoc     `yaml:"object_changes"`
	Epoch         *epochDoc        `yaml:"epoch"`
}

type checkpointDoc struct {
	SequenceNumber           uint64 `yaml:"sequence_number"`
	Digest                   string `yaml:"digest"`
	Epoch                    uint64 `yaml:"epoch"`
	TimestampMs              uint64 `yaml:"timestamp_ms"`
	NetworkTotalTransactions uint64 `yaml:"network_total_transactions"`
	EndOfEpoch               bool   `yaml:"end_of_epoch"`
}

type transactionDoc struct {
	SequenceNumber uint64           `yaml:"sequence_number"`
	Digest         string           `yaml:"digest"`
	Checkpoint     uint64           `yaml:"checkpoint"`
	TimestampMs    uint64           `yaml:"timestamp_ms"`
	Sender         types.Address    `yaml:"sender"`
	Recipients     []types.Address  `yaml:"recipients"`
	InputObjects   []types.ObjectID `yaml:"input_objects"`
	ChangedObjects []types.ObjectID `yaml:"changed_objects"`
	RawTransaction hexBytes         `yaml:"raw_transaction"`
	RawEffects     hexBytes         `yaml:"raw_effects"`
}

type eventDoc struct {
	TxSequenceNumber    uint64        `yaml:"tx_sequence_number"`
	EventSequenceNumber uint64        `yaml:"event_sequence_number"`
	Checkpoint          uint64        `yaml:"checkpoint"`
	TransactionDigest   string        `yaml:"transaction_digest"`
	Sender              types.Address `yaml:"sender"`
	Package             types.Address `yaml:"package"`
	Module              string        `yaml:"module"`
	EventType           string        `yaml:"event_type"`
	TimestampMs         uint64        `yaml:"timestamp_ms"`
	BCS                 hexBytes      `yaml:"bcs"`
}

type packageDoc struct {
	PackageID  types.Address `yaml:"package_id"`
	Checkpoint uint64        `yaml:"checkpoint"`
	BCS        hexBytes      `yaml:"bcs"`
}

type displayDoc struct {
	ObjectType string         `yaml:"object_type"`
	ID         types.ObjectID `yaml:"id"`
	Version    uint64         `yaml:"version"`
	BCS        hexBytes       `yaml:"bcs"`
}

type changesDoc struct {
	Changed []objectDoc `yaml:"changed"`
	Deleted []objectDoc `yaml:"deleted"`
}

type objectDoc struct {
	ObjectID     types.ObjectID     `yaml:"object_id"`
	Version      uint64             `yaml:"version"`
	Digest       string             `yaml:"digest"`
	Checkpoint   uint64             `yaml:"checkpoint"`
	OwnerType    types.OwnerType    `yaml:"owner_type"`
	Owner        *types.Address     `yaml:"owner"`
	OldOwnerType types.OwnerType    `yaml:"old_owner_type"`
	OldOwner     *types.Address     `yaml:"old_owner"`
	ObjectType   string             `yaml:"object_type"`
	Status       types.ObjectStatus `yaml:"status"`
	CoinType     string             `yaml:"coin_type"`
	CoinBalance  *uint64            `yaml:"coin_balance"`
	BCS          hexBytes           `yaml:"bcs"`
}

type epochDoc struct {
	LastEpoch *epochEndDoc  `yaml:"last_epoch"`
	NewEpoch  epochStartDoc `yaml:"new_epoch"`
}

type epochStartDoc struct {
	Epoch             uint64 `yaml:"epoch"`
	FirstCheckpoint   uint64 `yaml:"first_checkpoint"`
	StartTimestampMs  uint64 `yaml:"start_timestamp_ms"`
	ReferenceGasPrice uint64 `yaml:"reference_gas_price"`
	ProtocolVersion   uint64 `yaml:"protocol_version"`
	TotalStake        uint64 `yaml:"total_stake"`
}

type epochEndDoc struct {
	Epoch                    uint64 `yaml:"epoch"`
	LastCheckpoint           uint64 `yaml:"last_checkpoint"`
	EndTimestampMs           uint64 `yaml:"end_timestamp_ms"`
	EpochTotalTransactions   uint64 `yaml:"epoch_total_transactions"`
	NetworkTotalTransactions uint64 `yaml:"network_total_transactions"`
}

// hexBytes decodes "0x"-prefixed or bare hex.
type hexBytes []byte

func (h *hexBytes) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	b, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil {
		return fmt.Errorf("line %d: invalid hex: %w", node.Line, err)
	}
	*h = b
	return nil
}

// decodeBatches reads every batch document from r.
func decodeBatches(r io.Reader) ([]store.CheckpointBatch, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var out []store.CheckpointBatch
	for {
		var doc batchDoc
		err := dec.Decode(&doc)
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, fmt.Errorf("batch %d: %w", len(out), err)
		}
		out = append(out, doc.batch())
	}
}

// decodeBatchFile decodes data read from name.
func decodeBatchFile(name string, data []byte) ([]store.CheckpointBatch, error) {
	batches, err := decodeBatches(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return batches, nil
}

func (d batchDoc) batch() store.CheckpointBatch {
	var b store.CheckpointBatch
	for _, c := range d.Checkpoints {
		b.Checkpoints = append(b.Checkpoints, store.Checkpoint(c))
	}
	for _, t := range d.Transactions {
		b.Transactions = append(b.Transactions, store.Transaction{
			SequenceNumber: t.SequenceNumber,
			Digest:         t.Digest,
			Checkpoint:     t.Checkpoint,
			TimestampMs:    t.TimestampMs,
			Sender:         t.Sender,
			RawTransaction: t.RawTransaction,
			RawEffects:     t.RawEffects,
		})
		b.TxIndices = append(b.TxIndices, store.TxIndex{
			TxSequenceNumber: t.SequenceNumber,
			Checkpoint:       t.Checkpoint,
			Sender:           t.Sender,
			Recipients:       t.Recipients,
			InputObjects:     t.InputObjects,
			ChangedObjects:   t.ChangedObjects,
		})
	}
	for _, e := range d.Events {
		b.Events = append(b.Events, store.Event{
			TxSequenceNumber:    e.TxSequenceNumber,
			EventSequenceNumber: e.EventSequenceNumber,
			Checkpoint:          e.Checkpoint,
			TransactionDigest:   e.TransactionDigest,
			Sender:              e.Sender,
			Package:             e.Package,
			Module:              e.Module,
			EventType:           e.EventType,
			TimestampMs:         e.TimestampMs,
			BCS:                 e.BCS,
		})
		b.EventIndices = append(b.EventIndices, store.EventIndex{
			TxSequenceNumber:    e.TxSequenceNumber,
			EventSequenceNumber: e.EventSequenceNumber,
			Checkpoint:          e.Checkpoint,
			Sender:              e.Sender,
			EmitPackage:         e.Package,
			EmitModule:          e.Module,
			EventType:           e.EventType,
		})
	}
	for _, p := range d.Packages {
		b.Packages = append(b.Packages, store.Package{PackageID: p.PackageID, Checkpoint: p.Checkpoint, BCS: p.BCS})
	}
	if len(d.Displays) > 0 {
		b.Displays = make(map[string]store.Display, len(d.Displays))
		for _, disp := range d.Displays {
			b.Displays[disp.ObjectType] = store.Display{ObjectType: disp.ObjectType, ID: disp.ID, Version: disp.Version, BCS: disp.BCS}
		}
	}
	for _, ch := range d.ObjectChanges {
		b.ObjectChanges = append(b.ObjectChanges, store.TransactionObjectChanges{
			Changed: objectRecords(ch.Changed),
			Deleted: objectRecords(ch.Deleted),
		})
	}
	if d.Epoch != nil {
		e := &store.EpochToCommit{NewEpoch: store.EpochStart(d.Epoch.NewEpoch)}
		if d.Epoch.LastEpoch != nil {
			last := store.EpochEnd(*d.Epoch.LastEpoch)
			e.LastEpoch = &last
		}
		b.Epoch = e
	}
	return b
}

func objectRecords(docs []objectDoc) []store.ObjectRecord {
	if len(docs) == 0 {
		return nil
	}
	out := make([]store.ObjectRecord, len(docs))
	for i, o := range docs {
		out[i] = store.ObjectRecord{
			ObjectID:        o.ObjectID,
			Version:         o.Version,
			Digest:          o.Digest,
			Checkpoint:      o.Checkpoint,
			OwnerType:       o.OwnerType,
			OwnerAddress:    o.Owner,
			OldOwnerType:    o.OldOwnerType,
			OldOwnerAddress: o.OldOwner,
			ObjectType:      o.ObjectType,
			Status:          o.Status,
			CoinType:        o.CoinType,
			CoinBalance:     o.CoinBalance,
			BCS:             o.BCS,
		}
	}
	return out
}
