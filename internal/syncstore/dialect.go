// Package syncstore persists raw chain data (blocks, transactions,
// receipts, logs, traces) and per-fragment cached-interval bookkeeping,
// behind a small Dialect interface with two implementations: a
// networked Postgres dialect for production and an embedded bbolt
// dialect for tests and single-node deployments, per the Design Note on
// database portability.
package syncstore

import (
	"context"

	"github.com/evmweave/indexer/internal/intervalset"
	"github.com/evmweave/indexer/pkg/models"
)

// Dialect is the storage engine a Store runs against. Both
// implementations guarantee that MergeCachedInterval participates in the
// same transaction as the row inserts that precede it, so a crash between
// "rows written" and "interval marked cached" never happens.
type Dialect interface {
	// Begin opens a transaction. Every write in this package goes through
	// the returned Tx; callers must Commit or Rollback.
	Begin(ctx context.Context) (Tx, error)

	// CachedIntervals returns the union-normal-form set of block ranges
	// already fetched for fragmentID.
	CachedIntervals(ctx context.Context, chainID models.ChainID, fragmentID models.FragmentID) (intervalset.Set, error)

	// Events returns a page of sync events (currently: logs) for filterID
	// with block numbers in [FromBlock, ToBlock] inclusive, ordered by checkpoint
	// ascending, cursor-paginated.
	Events(ctx context.Context, q EventQuery) (EventPage, error)

	// ChildAddresses returns every address a factory has discovered so
	// far, for building an address-filtered eth_getLogs request or a
	// client-side post-filter.
	ChildAddresses(ctx context.Context, factoryID models.FactoryID) ([]models.Address, error)

	Close() error
}

// Tx is one atomic unit of work: inserting raw rows and merging the
// fragment's cached interval.
type Tx interface {
	InsertBlocks(ctx context.Context, chainID models.ChainID, blocks []models.SyncBlock) error
	InsertTransactions(ctx context.Context, chainID models.ChainID, txs []models.SyncTransaction) error
	InsertReceipts(ctx context.Context, chainID models.ChainID, receipts []models.SyncReceipt) error
	InsertLogs(ctx context.Context, chainID models.ChainID, filterID models.FilterID, logs []models.SyncLog) error
	InsertTraces(ctx context.Context, chainID models.ChainID, traces []models.SyncTrace) error
	InsertChildAddresses(ctx context.Context, addrs []models.ChildAddress) error

	// MergeCachedInterval unions iv into fragmentID's cached set. Called
	// once per fetch, in the same transaction as the rows that fetch
	// produced.
	MergeCachedInterval(ctx context.Context, chainID models.ChainID, fragmentID models.FragmentID, iv intervalset.Interval) error

	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// EventQuery selects a page of sync-store log rows for the omnichain
// zipper to merge with other chains.
type EventQuery struct {
	ChainID        models.ChainID
	FilterID       models.FilterID
	FromBlock      uint64
	ToBlock        uint64
	After          string // opaque cursor from the previous page's EventPage.EndCursor
	Limit          int
}

// EventPage is one page of raw logs plus pagination state.
type EventPage struct {
	Logs        []models.SyncLog
	EndCursor   string
	HasNextPage bool
}

// maxInsertParams bounds how many rows a single chunked INSERT carries,
// keeping the statement under Postgres's 65535 bind-parameter ceiling
// (and giving bbolt batches a comparable, predictable size).
const maxInsertParams = 4000
