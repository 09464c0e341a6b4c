package main

import (
	"context"
	"fmt"

	"github.com/evmweave/indexer/internal/checkpoint"
	"github.com/evmweave/indexer/pkg/models"
)

// rawEventsTable is the logical table the reference handler below writes
// to. A real deployment supplies its own models.Handler decoding events
// into domain tables; this one exists so cmd/indexer runs end to end out
// of the box.
const rawEventsTable = "raw_events"

// recordRawEvent is the engine's built-in reference handler: it persists
// every dispatched event as one JSON-document row keyed by its checkpoint
// string, which is unique and replay-stable. Rows are written with Create,
// so an event whose row already exists fails with an AlreadyExistsError
// instead of being stored twice.
func recordRawEvent(ctx context.Context, event models.Event, hc models.HandlerContext) error {
	id := checkpoint.Encode(event.Checkpoint)
	row := map[string]any{
		"id":        id,
		"chain_id":  uint64(event.ChainID),
		"filter_id": string(event.FilterID),
		"kind":      event.Type.String(),
	}

	switch event.Type {
	case models.EventKindLog:
		if event.Log != nil {
			row["block_number"] = event.Log.BlockNumber
			row["transaction_hash"] = string(event.Log.TransactionHash)
			row["log_index"] = event.Log.LogIndex
			row["address"] = string(event.Log.Address)
		}
	case models.EventKindBlock:
		row["block_number"] = event.Checkpoint.BlockNumber
	case models.EventKindTransaction:
		if event.Transaction != nil {
			row["block_number"] = event.Transaction.BlockNumber
			row["transaction_hash"] = string(event.Transaction.Hash)
		}
	case models.EventKindTrace, models.EventKindTransfer:
		if event.Trace != nil {
			row["block_number"] = event.Trace.BlockNumber
			row["transaction_hash"] = string(event.Trace.TransactionHash)
		}
	}

	table := hc.DB.Table(rawEventsTable)
	if err := table.Create(ctx, row); err != nil {
		return fmt.Errorf("record raw event %s: %w", id, err)
	}
	return nil
}
