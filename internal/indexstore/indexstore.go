// Package indexstore implements the mapping API user handlers see as
// HandlerContext.DB: per-logical-table find/create/update/upsert/delete
// with cursor pagination, backed by either Postgres or an embedded bbolt
// file, plus the reorg-undo operation log that lets the omnichain driver
// invert writes back to a safe checkpoint after a chain reorg.
//
// This package is the user-data counterpart to internal/syncstore's
// raw-chain-data store, sharing its Dialect-behind-a-facade shape and its
// two backends, plus its "writes and their bookkeeping commit atomically"
// discipline. Unlike syncstore, tables here are declared by the build
// layer at runtime rather than fixed by this package, so rows are stored
// as JSON documents (JSONB in Postgres, JSON bytes in bbolt) keyed by a
// single primary key column, rather than as fixed SQL columns.
package indexstore

import (
	"context"
	"fmt"

	"github.com/evmweave/indexer/internal/errclass"
	"github.com/evmweave/indexer/pkg/models"
)

// MaxLimit is the hard ceiling on FindMany's limit; DefaultLimit is used
// when the caller doesn't specify one.
const (
	MaxLimit     = 1000
	DefaultLimit = 50
)

// maxQueryParams bounds a single Postgres statement's bind parameters;
// createMany chunks by floor(maxQueryParams/columnCount)-equivalent (here,
// rows per statement, since every row is one (id, data) pair).
const maxQueryParams = 4000

// databaseMaxRowLimit bounds how many rows a single updateMany page
// touches.
const databaseMaxRowLimit = 500

// NotFoundError is returned by Update/Delete when id
// doesn't exist. UserCode-classed: a handler bug, not worth retrying.
type NotFoundError struct {
	Table string
	ID    string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("indexstore: table %q: row %q not found", e.Table, e.ID)
}
func (e *NotFoundError) Class() errclass.Class { return errclass.UserCode }

// AlreadyExistsError is returned by Create when id already exists.
type AlreadyExistsError struct {
	Table string
	ID    string
}

func (e *AlreadyExistsError) Error() string {
	return fmt.Sprintf("indexstore: table %q: row %q already exists", e.Table, e.ID)
}
func (e *AlreadyExistsError) Class() errclass.Class { return errclass.UserCode }

// InvalidEventAccessError is raised by the build layer's field-access
// guard when a handler reads a field of models.Event that wasn't
// fetched for the current dispatch. The core never constructs this
// itself; it's declared here because the omnichain driver's retry logic
// classifies on it via errclass, and the store package is the natural
// home for the store-adjacent error types the driver inspects.
type InvalidEventAccessError struct {
	Field string
}

func (e *InvalidEventAccessError) Error() string {
	return fmt.Sprintf("indexstore: event field %q was not fetched for this dispatch", e.Field)
}
func (e *InvalidEventAccessError) Class() errclass.Class { return errclass.Retryable }

// Dialect is the storage engine an Engine runs against.
type Dialect interface {
	// Begin opens a write transaction exposing the table mapping API and
	// reorg/finalize operations.
	Begin(ctx context.Context) (Tx, error)
	Close() error
}

// Tx is one atomic unit of dispatch: every table write inside it, plus
// the op-log rows those writes produce, commit or roll back together.
// Tx also satisfies models.TableStore, so it can be handed to a handler
// directly as HandlerContext.DB.
type Tx interface {
	// Table returns the mapping API for a logical table, creating its
	// backing storage (and op-log sibling) on first use.
	Table(name string) models.Table

	// SetCheckpoint tags every write made through this Tx from this
	// point on with c, so the op-log can be replayed or pruned relative
	// to it. The omnichain driver calls this once per event before
	// invoking the handler.
	SetCheckpoint(c models.Checkpoint)

	// Reorg drops every write tagged with a checkpoint strictly after
	// newSafeCheckpoint, replaying the op log in reverse: insert undoes
	// to a delete, update restores the prior row, delete reinserts the
	// prior row. Op-log writes made during the undo itself are not
	// re-logged.
	Reorg(ctx context.Context, newSafeCheckpoint models.Checkpoint) error

	// ReorgChain is Reorg scoped to a single chain's writes: since
	// Checkpoint sorts by timestamp before chain id (for global event
	// ordering), a plain Reorg boundary would also catch another chain's
	// later-timestamped rows in a multi-chain deployment. The realtime
	// phase, which reorgs one chain at a time, uses this instead.
	ReorgChain(ctx context.Context, chainID models.ChainID, newSafeCheckpoint models.Checkpoint) error

	// Finalize prunes op-log rows tagged with a checkpoint at or before
	// c; they can never be undone once finalized.
	Finalize(ctx context.Context, c models.Checkpoint) error

	// FinalizeChain is Finalize scoped to a single chain, for the reason
	// ReorgChain documents.
	FinalizeChain(ctx context.Context, chainID models.ChainID, c models.Checkpoint) error

	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Store is the facade the build layer opens once at startup; omnichain
// begins one Tx per dispatch transaction.
type Store struct {
	dialect Dialect
}

func New(d Dialect) *Store { return &Store{dialect: d} }

// Open picks a dialect from config the same way syncstore.Open does:
// postgresDSN wins when non-empty, otherwise the embedded bbolt file at
// boltPath is used.
func Open(ctx context.Context, postgresDSN, boltPath string) (*Store, error) {
	if postgresDSN != "" {
		pg, err := NewPostgres(ctx, postgresDSN)
		if err != nil {
			return nil, err
		}
		return New(pg), nil
	}
	bo, err := NewBolt(boltPath)
	if err != nil {
		return nil, err
	}
	return New(bo), nil
}

func (s *Store) Close() error { return s.dialect.Close() }

func (s *Store) BeginTx(ctx context.Context) (Tx, error) { return s.dialect.Begin(ctx) }

// op tags an operation-log entry's kind, used to pick the inverse
// operation during Reorg.
type op string

const (
	opInsert op = "insert"
	opUpdate op = "update"
	opDelete op = "delete"
)

// opLogEntry is one recorded write, enough to invert it.
type opLogEntry struct {
	Seq        uint64
	Checkpoint string
	Op         op
	RowID      string
	PriorData  map[string]any // nil for opInsert
}
