package syncstore

import (
	"context"
	"fmt"

	"github.com/evmweave/indexer/internal/intervalset"
	"github.com/evmweave/indexer/pkg/models"
)

// Store is the facade historical and realtime sync use: it hides the
// Dialect choice and guarantees that a fetch's rows and its cached
// interval commit atomically.
type Store struct {
	dialect Dialect
}

// New wraps an already-opened Dialect.
func New(d Dialect) *Store {
	return &Store{dialect: d}
}

// Open picks a dialect from config: a non-empty postgresDSN wins over
// boltPath, matching appconfig.DatabaseConfig.UsesPostgres.
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

// Batch is one fetch's worth of raw rows plus the interval it covers.
// WriteBatch commits all of it as a single transaction so a crash never
// leaves rows written without their interval marked cached, or vice
// versa.
type Batch struct {
	ChainID    models.ChainID
	FilterID   models.FilterID
	FragmentID models.FragmentID
	Interval   intervalset.Interval

	Blocks       []models.SyncBlock
	Transactions []models.SyncTransaction
	Receipts     []models.SyncReceipt
	Logs         []models.SyncLog
	Traces       []models.SyncTrace
	Children     []models.ChildAddress
}

func (s *Store) WriteBatch(ctx context.Context, b Batch) error {
	tx, err := s.dialect.Begin(ctx)
	if err != nil {
		return err
	}
	if err := s.writeBatch(ctx, tx, b); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}

func (s *Store) writeBatch(ctx context.Context, tx Tx, b Batch) error {
	if len(b.Blocks) > 0 {
		if err := tx.InsertBlocks(ctx, b.ChainID, b.Blocks); err != nil {
			return fmt.Errorf("syncstore: insert blocks: %w", err)
		}
	}
	if len(b.Transactions) > 0 {
		if err := tx.InsertTransactions(ctx, b.ChainID, b.Transactions); err != nil {
			return fmt.Errorf("syncstore: insert transactions: %w", err)
		}
	}
	if len(b.Receipts) > 0 {
		if err := tx.InsertReceipts(ctx, b.ChainID, b.Receipts); err != nil {
			return fmt.Errorf("syncstore: insert receipts: %w", err)
		}
	}
	if len(b.Logs) > 0 {
		if err := tx.InsertLogs(ctx, b.ChainID, b.FilterID, b.Logs); err != nil {
			return fmt.Errorf("syncstore: insert logs: %w", err)
		}
	}
	if len(b.Traces) > 0 {
		if err := tx.InsertTraces(ctx, b.ChainID, b.Traces); err != nil {
			return fmt.Errorf("syncstore: insert traces: %w", err)
		}
	}
	if len(b.Children) > 0 {
		if err := tx.InsertChildAddresses(ctx, b.Children); err != nil {
			return fmt.Errorf("syncstore: insert child addresses: %w", err)
		}
	}
	if b.FragmentID != "" {
		if err := tx.MergeCachedInterval(ctx, b.ChainID, b.FragmentID, b.Interval); err != nil {
			return fmt.Errorf("syncstore: merge cached interval: %w", err)
		}
	}
	return nil
}

// RequiredIntervals returns the sub-ranges of want not yet covered by
// fragmentID's cached set, i.e. what a fetcher still needs to request.
func (s *Store) RequiredIntervals(ctx context.Context, chainID models.ChainID, fragmentID models.FragmentID, want intervalset.Interval) (intervalset.Set, error) {
	cached, err := s.dialect.CachedIntervals(ctx, chainID, fragmentID)
	if err != nil {
		return nil, err
	}
	return intervalset.Difference(intervalset.NewSet(want), cached), nil
}

func (s *Store) Events(ctx context.Context, q EventQuery) (EventPage, error) {
	return s.dialect.Events(ctx, q)
}

func (s *Store) CachedIntervals(ctx context.Context, chainID models.ChainID, fragmentID models.FragmentID) (intervalset.Set, error) {
	return s.dialect.CachedIntervals(ctx, chainID, fragmentID)
}

func (s *Store) ChildAddresses(ctx context.Context, factoryID models.FactoryID) ([]models.Address, error) {
	return s.dialect.ChildAddresses(ctx, factoryID)
}
