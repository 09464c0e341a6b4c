package syncstore

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/evmweave/indexer/internal/intervalset"
	"github.com/evmweave/indexer/pkg/models"
)

// Postgres is the networked Dialect: parameterized ON CONFLICT DO
// NOTHING upserts, chunked to respect the bind-parameter ceiling.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres connects to dsn and verifies it.
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("syncstore: connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("syncstore: ping postgres: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}

func (p *Postgres) Begin(ctx context.Context) (Tx, error) {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("syncstore: begin: %w", err)
	}
	return &pgTx{tx: tx}, nil
}

func (p *Postgres) CachedIntervals(ctx context.Context, chainID models.ChainID, fragmentID models.FragmentID) (intervalset.Set, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT from_block, to_block FROM sync_cached_intervals WHERE chain_id = $1 AND fragment_id = $2 ORDER BY from_block`,
		uint64(chainID), string(fragmentID))
	if err != nil {
		return nil, fmt.Errorf("syncstore: cached intervals: %w", err)
	}
	defer rows.Close()

	var ivs []intervalset.Interval
	for rows.Next() {
		var lo, hi uint64
		if err := rows.Scan(&lo, &hi); err != nil {
			return nil, fmt.Errorf("syncstore: scan cached interval: %w", err)
		}
		ivs = append(ivs, intervalset.Interval{Lo: lo, Hi: hi})
	}
	return intervalset.NewSet(ivs...), rows.Err()
}

func (p *Postgres) ChildAddresses(ctx context.Context, factoryID models.FactoryID) ([]models.Address, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT address FROM factory_child_addresses WHERE factory_id = $1`, string(factoryID))
	if err != nil {
		return nil, fmt.Errorf("syncstore: child addresses: %w", err)
	}
	defer rows.Close()

	var out []models.Address
	for rows.Next() {
		var a string
		if err := rows.Scan(&a); err != nil {
			return nil, fmt.Errorf("syncstore: scan child address: %w", err)
		}
		out = append(out, models.Address(a))
	}
	return out, rows.Err()
}

func (p *Postgres) Events(ctx context.Context, q EventQuery) (EventPage, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = 500
	}

	afterTx, afterLog := decodeLogCursor(q.After)

	rows, err := p.pool.Query(ctx, `
		SELECT block_number, block_hash, transaction_hash, transaction_index,
		       log_index, address, topics, data, removed
		FROM sync_logs
		WHERE chain_id = $1 AND filter_id = $2 AND block_number BETWEEN $3 AND $4
		  AND (transaction_index, log_index) > ($5, $6)
		ORDER BY transaction_index, log_index
		LIMIT $7`,
		uint64(q.ChainID), string(q.FilterID), q.FromBlock, q.ToBlock, afterTx, afterLog, limit+1,
	)
	if err != nil {
		return EventPage{}, fmt.Errorf("syncstore: events query: %w", err)
	}
	defer rows.Close()

	var logs []models.SyncLog
	for rows.Next() {
		var l models.SyncLog
		var topicsJSON string
		var txIdx, logIdx int64
		if err := rows.Scan(&l.BlockNumber, &l.BlockHash, &l.TransactionHash,
			&txIdx, &logIdx, &l.Address, &topicsJSON, &l.Data, &l.Removed); err != nil {
			return EventPage{}, fmt.Errorf("syncstore: scan log: %w", err)
		}
		l.ChainID = q.ChainID
		l.TransactionIndex = uint(txIdx)
		l.LogIndex = uint(logIdx)
		_ = json.Unmarshal([]byte(topicsJSON), &l.Topics)
		logs = append(logs, l)
	}
	if err := rows.Err(); err != nil {
		return EventPage{}, err
	}

	hasNext := len(logs) > limit
	if hasNext {
		logs = logs[:limit]
	}
	page := EventPage{Logs: logs, HasNextPage: hasNext}
	if len(logs) > 0 {
		last := logs[len(logs)-1]
		page.EndCursor = encodeLogCursor(last.TransactionIndex, last.LogIndex)
	}
	return page, nil
}

func encodeLogCursor(txIndex, logIndex uint) string {
	return base64.RawURLEncoding.EncodeToString([]byte(fmt.Sprintf("%d:%d", txIndex, logIndex)))
}

func decodeLogCursor(cursor string) (txIndex, logIndex int64) {
	if cursor == "" {
		return -1, -1
	}
	raw, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return -1, -1
	}
	fmt.Sscanf(string(raw), "%d:%d", &txIndex, &logIndex)
	return txIndex, logIndex
}

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) Commit(ctx context.Context) error   { return t.tx.Commit(ctx) }
func (t *pgTx) Rollback(ctx context.Context) error { return t.tx.Rollback(ctx) }

func (t *pgTx) InsertBlocks(ctx context.Context, chainID models.ChainID, blocks []models.SyncBlock) error {
	return chunked(blocks, maxInsertParams/5, func(batch []models.SyncBlock) error {
		b := &pgx.Batch{}
		for _, blk := range batch {
			b.Queue(`
				INSERT INTO sync_blocks (chain_id, number, hash, parent_hash, timestamp)
				VALUES ($1, $2, $3, $4, $5)
				ON CONFLICT (chain_id, number) DO UPDATE SET hash = EXCLUDED.hash, parent_hash = EXCLUDED.parent_hash`,
				uint64(chainID), blk.Number, string(blk.Hash), string(blk.ParentHash), blk.Timestamp)
		}
		return execBatch(ctx, t.tx, "sync_blocks", b, len(batch))
	})
}

func (t *pgTx) InsertTransactions(ctx context.Context, chainID models.ChainID, txs []models.SyncTransaction) error {
	return chunked(txs, maxInsertParams/7, func(batch []models.SyncTransaction) error {
		b := &pgx.Batch{}
		for _, tx := range batch {
			var to *string
			if tx.To != nil {
				s := string(*tx.To)
				to = &s
			}
			b.Queue(`
				INSERT INTO sync_transactions (chain_id, block_number, hash, transaction_index, from_address, to_address, value)
				VALUES ($1, $2, $3, $4, $5, $6, $7)
				ON CONFLICT (chain_id, hash) DO NOTHING`,
				uint64(chainID), tx.BlockNumber, string(tx.Hash), tx.Index, string(tx.From), to, models.BigIntString(tx.Value))
		}
		return execBatch(ctx, t.tx, "sync_transactions", b, len(batch))
	})
}

func (t *pgTx) InsertReceipts(ctx context.Context, chainID models.ChainID, receipts []models.SyncReceipt) error {
	return chunked(receipts, maxInsertParams/7, func(batch []models.SyncReceipt) error {
		b := &pgx.Batch{}
		for _, r := range batch {
			var contractAddr *string
			if r.ContractAddress != nil {
				s := string(*r.ContractAddress)
				contractAddr = &s
			}
			b.Queue(`
				INSERT INTO sync_receipts (chain_id, transaction_hash, block_hash, status, gas_used, cumulative_gas_used, contract_address, logs_bloom)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
				ON CONFLICT (chain_id, transaction_hash) DO NOTHING`,
				uint64(chainID), string(r.TransactionHash), string(r.BlockHash), r.Status, r.GasUsed,
				r.CumulativeGasUsed, contractAddr, r.LogsBloom)
		}
		return execBatch(ctx, t.tx, "sync_receipts", b, len(batch))
	})
}

func (t *pgTx) InsertLogs(ctx context.Context, chainID models.ChainID, filterID models.FilterID, logs []models.SyncLog) error {
	return chunked(logs, maxInsertParams/10, func(batch []models.SyncLog) error {
		b := &pgx.Batch{}
		for _, l := range batch {
			topicsJSON, _ := json.Marshal(l.Topics)
			b.Queue(`
				INSERT INTO sync_logs (chain_id, filter_id, block_number, block_hash, transaction_hash,
					transaction_index, log_index, address, topics, data, removed)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
				ON CONFLICT (chain_id, block_hash, log_index) DO NOTHING`,
				uint64(chainID), string(filterID), l.BlockNumber, string(l.BlockHash), string(l.TransactionHash),
				l.TransactionIndex, l.LogIndex, string(l.Address), string(topicsJSON), l.Data, l.Removed)
		}
		return execBatch(ctx, t.tx, "sync_logs", b, len(batch))
	})
}

func (t *pgTx) InsertTraces(ctx context.Context, chainID models.ChainID, traces []models.SyncTrace) error {
	return chunked(traces, maxInsertParams/9, func(batch []models.SyncTrace) error {
		b := &pgx.Batch{}
		for _, tr := range batch {
			addrJSON, _ := json.Marshal([]int(tr.TraceAddress))
			var to *string
			if tr.To != nil {
				s := string(*tr.To)
				to = &s
			}
			b.Queue(`
				INSERT INTO sync_traces (chain_id, transaction_hash, trace_address, type, from_address, to_address, value, error)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
				ON CONFLICT (chain_id, transaction_hash, trace_address) DO NOTHING`,
				uint64(chainID), string(tr.TransactionHash), string(addrJSON), string(tr.Type), string(tr.From), to,
				models.BigIntString(tr.Value), tr.Error)
		}
		return execBatch(ctx, t.tx, "sync_traces", b, len(batch))
	})
}

func (t *pgTx) InsertChildAddresses(ctx context.Context, addrs []models.ChildAddress) error {
	return chunked(addrs, maxInsertParams/3, func(batch []models.ChildAddress) error {
		b := &pgx.Batch{}
		for _, a := range batch {
			b.Queue(`
				INSERT INTO factory_child_addresses (factory_id, address, first_seen_block)
				VALUES ($1, $2, $3)
				ON CONFLICT (factory_id, address) DO NOTHING`,
				string(a.FactoryID), string(a.Address), a.FirstSeenBlock)
		}
		return execBatch(ctx, t.tx, "factory_child_addresses", b, len(batch))
	})
}

func (t *pgTx) MergeCachedInterval(ctx context.Context, chainID models.ChainID, fragmentID models.FragmentID, iv intervalset.Interval) error {
	existing, err := t.readCachedIntervals(ctx, chainID, fragmentID)
	if err != nil {
		return err
	}
	merged := intervalset.Union(existing, intervalset.NewSet(iv))

	if _, err := t.tx.Exec(ctx, `DELETE FROM sync_cached_intervals WHERE chain_id = $1 AND fragment_id = $2`,
		uint64(chainID), string(fragmentID)); err != nil {
		return classifyPgError("sync_cached_intervals", err)
	}
	for _, m := range merged {
		if _, err := t.tx.Exec(ctx,
			`INSERT INTO sync_cached_intervals (chain_id, fragment_id, from_block, to_block) VALUES ($1, $2, $3, $4)`,
			uint64(chainID), string(fragmentID), m.Lo, m.Hi); err != nil {
			return classifyPgError("sync_cached_intervals", err)
		}
	}
	return nil
}

func (t *pgTx) readCachedIntervals(ctx context.Context, chainID models.ChainID, fragmentID models.FragmentID) (intervalset.Set, error) {
	rows, err := t.tx.Query(ctx,
		`SELECT from_block, to_block FROM sync_cached_intervals WHERE chain_id = $1 AND fragment_id = $2`,
		uint64(chainID), string(fragmentID))
	if err != nil {
		return nil, fmt.Errorf("syncstore: read cached intervals in tx: %w", err)
	}
	defer rows.Close()
	var ivs []intervalset.Interval
	for rows.Next() {
		var lo, hi uint64
		if err := rows.Scan(&lo, &hi); err != nil {
			return nil, err
		}
		ivs = append(ivs, intervalset.Interval{Lo: lo, Hi: hi})
	}
	return intervalset.NewSet(ivs...), rows.Err()
}

func execBatch(ctx context.Context, tx pgx.Tx, table string, batch *pgx.Batch, n int) error {
	br := tx.SendBatch(ctx, batch)
	defer br.Close()
	for i := 0; i < n; i++ {
		if _, err := br.Exec(); err != nil {
			return classifyPgError(table, err)
		}
	}
	return nil
}

func chunked[T any](items []T, size int, fn func([]T) error) error {
	if size <= 0 {
		size = len(items)
	}
	if size == 0 {
		return nil
	}
	for i := 0; i < len(items); i += size {
		end := i + size
		if end > len(items) {
			end = len(items)
		}
		if err := fn(items[i:end]); err != nil {
			return err
		}
	}
	return nil
}

func pgErrorDetail(err error) (code, constraint, column string) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code, pgErr.ConstraintName, pgErr.ColumnName
	}
	return "", "", ""
}
