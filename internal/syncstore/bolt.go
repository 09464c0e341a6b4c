package syncstore

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"

	"github.com/evmweave/indexer/internal/intervalset"
	"github.com/evmweave/indexer/pkg/models"
)

// Embedded bbolt dialect: one bucket per table, JSON-encoded values,
// zero-padded decimal keys so bbolt's native key ordering doubles as the
// row ordering Events() and CachedIntervals() need.
const (
	bucketBlocks     = "sync_blocks"
	bucketTxs        = "sync_transactions"
	bucketReceipts   = "sync_receipts"
	bucketLogs       = "sync_logs"
	bucketTraces     = "sync_traces"
	bucketChildren   = "factory_child_addresses"
	bucketIntervals  = "sync_cached_intervals"
)

var allBuckets = []string{
	bucketBlocks, bucketTxs, bucketReceipts, bucketLogs, bucketTraces,
	bucketChildren, bucketIntervals,
}

// Bolt is the embedded Dialect used for tests and single-node
// deployments.
type Bolt struct {
	db *bbolt.DB
}

// NewBolt opens (creating if absent) the bbolt file at path and ensures
// every table bucket exists.
func NewBolt(path string) (*Bolt, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("syncstore: open bolt: %w", err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range allBuckets {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("syncstore: init bolt buckets: %w", err)
	}
	return &Bolt{db: db}, nil
}

func (bo *Bolt) Close() error { return bo.db.Close() }

func (bo *Bolt) Begin(ctx context.Context) (Tx, error) {
	tx, err := bo.db.Begin(true)
	if err != nil {
		return nil, fmt.Errorf("syncstore: begin bolt tx: %w", err)
	}
	return &boltTx{tx: tx}, nil
}

func (bo *Bolt) CachedIntervals(ctx context.Context, chainID models.ChainID, fragmentID models.FragmentID) (intervalset.Set, error) {
	var set intervalset.Set
	err := bo.db.View(func(tx *bbolt.Tx) error {
		var err error
		set, err = readIntervalsBucket(tx.Bucket([]byte(bucketIntervals)), chainID, fragmentID)
		return err
	})
	return set, err
}

func (bo *Bolt) ChildAddresses(ctx context.Context, factoryID models.FactoryID) ([]models.Address, error) {
	var out []models.Address
	prefix := string(factoryID) + ":"
	err := bo.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket([]byte(bucketChildren)).Cursor()
		for k, v := c.Seek([]byte(prefix)); k != nil && hasPrefix(k, prefix); k, v = c.Next() {
			var a models.ChildAddress
			if err := json.Unmarshal(v, &a); err != nil {
				return fmt.Errorf("syncstore: decode child address: %w", err)
			}
			out = append(out, a.Address)
		}
		return nil
	})
	return out, err
}

func (bo *Bolt) Events(ctx context.Context, q EventQuery) (EventPage, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = 500
	}
	var page EventPage
	err := bo.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketLogs))
		prefix := logPrefix(q.ChainID, q.FilterID)

		var matched []models.SyncLog
		c := b.Cursor()
		afterKey := ""
		if q.After != "" {
			raw, err := base64.RawURLEncoding.DecodeString(q.After)
			if err == nil {
				afterKey = string(raw)
			}
		}

		for k, v := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, v = c.Next() {
			if afterKey != "" && string(k) <= afterKey {
				continue
			}
			var l models.SyncLog
			if err := json.Unmarshal(v, &l); err != nil {
				return fmt.Errorf("syncstore: decode log: %w", err)
			}
			if l.BlockNumber < q.FromBlock || l.BlockNumber > q.ToBlock {
				continue
			}
			matched = append(matched, l)
			if len(matched) > limit {
				break
			}
		}

		hasNext := len(matched) > limit
		if hasNext {
			matched = matched[:limit]
		}
		page.Logs = matched
		page.HasNextPage = hasNext
		if len(matched) > 0 {
			last := matched[len(matched)-1]
			page.EndCursor = base64.RawURLEncoding.EncodeToString([]byte(string(logKey(q.ChainID, q.FilterID, last.BlockNumber, last.TransactionIndex, last.LogIndex))))
		}
		return nil
	})
	return page, err
}

type boltTx struct {
	tx *bbolt.Tx
}

func (t *boltTx) Commit(ctx context.Context) error   { return t.tx.Commit() }
func (t *boltTx) Rollback(ctx context.Context) error { return t.tx.Rollback() }

func (t *boltTx) InsertBlocks(ctx context.Context, chainID models.ChainID, blocks []models.SyncBlock) error {
	b := t.tx.Bucket([]byte(bucketBlocks))
	for _, blk := range blocks {
		data, err := json.Marshal(blk)
		if err != nil {
			return err
		}
		key := fmt.Sprintf("%020d:%020d", uint64(chainID), blk.Number)
		if err := b.Put([]byte(key), data); err != nil {
			return err
		}
	}
	return nil
}

func (t *boltTx) InsertTransactions(ctx context.Context, chainID models.ChainID, txs []models.SyncTransaction) error {
	b := t.tx.Bucket([]byte(bucketTxs))
	for _, tx := range txs {
		data, err := json.Marshal(tx)
		if err != nil {
			return err
		}
		key := fmt.Sprintf("%020d:%s", uint64(chainID), string(tx.Hash))
		if err := b.Put([]byte(key), data); err != nil {
			return err
		}
	}
	return nil
}

func (t *boltTx) InsertReceipts(ctx context.Context, chainID models.ChainID, receipts []models.SyncReceipt) error {
	b := t.tx.Bucket([]byte(bucketReceipts))
	for _, r := range receipts {
		data, err := json.Marshal(r)
		if err != nil {
			return err
		}
		key := fmt.Sprintf("%020d:%s", uint64(chainID), string(r.TransactionHash))
		if err := b.Put([]byte(key), data); err != nil {
			return err
		}
	}
	return nil
}

func (t *boltTx) InsertLogs(ctx context.Context, chainID models.ChainID, filterID models.FilterID, logs []models.SyncLog) error {
	b := t.tx.Bucket([]byte(bucketLogs))
	for _, l := range logs {
		data, err := json.Marshal(l)
		if err != nil {
			return err
		}
		key := logKey(chainID, filterID, l.BlockNumber, l.TransactionIndex, l.LogIndex)
		if err := b.Put(key, data); err != nil {
			return err
		}
	}
	return nil
}

func (t *boltTx) InsertTraces(ctx context.Context, chainID models.ChainID, traces []models.SyncTrace) error {
	b := t.tx.Bucket([]byte(bucketTraces))
	for _, tr := range traces {
		data, err := json.Marshal(tr)
		if err != nil {
			return err
		}
		addr, _ := json.Marshal([]int(tr.TraceAddress))
		key := fmt.Sprintf("%020d:%s:%s", uint64(chainID), string(tr.TransactionHash), string(addr))
		if err := b.Put([]byte(key), data); err != nil {
			return err
		}
	}
	return nil
}

func (t *boltTx) InsertChildAddresses(ctx context.Context, addrs []models.ChildAddress) error {
	b := t.tx.Bucket([]byte(bucketChildren))
	for _, a := range addrs {
		data, err := json.Marshal(a)
		if err != nil {
			return err
		}
		key := fmt.Sprintf("%s:%s", string(a.FactoryID), string(a.Address))
		existing := b.Get([]byte(key))
		if existing != nil {
			var prev models.ChildAddress
			if err := json.Unmarshal(existing, &prev); err == nil && prev.FirstSeenBlock <= a.FirstSeenBlock {
				continue // keep the earlier sighting
			}
		}
		if err := b.Put([]byte(key), data); err != nil {
			return err
		}
	}
	return nil
}

func (t *boltTx) MergeCachedInterval(ctx context.Context, chainID models.ChainID, fragmentID models.FragmentID, iv intervalset.Interval) error {
	b := t.tx.Bucket([]byte(bucketIntervals))
	existing, err := readIntervalsBucket(b, chainID, fragmentID)
	if err != nil {
		return err
	}
	merged := intervalset.Union(existing, intervalset.NewSet(iv))
	data, err := json.Marshal(merged)
	if err != nil {
		return err
	}
	key := intervalsKey(chainID, fragmentID)
	return b.Put(key, data)
}

func intervalsKey(chainID models.ChainID, fragmentID models.FragmentID) []byte {
	return []byte(fmt.Sprintf("%020d:%s", uint64(chainID), string(fragmentID)))
}

func readIntervalsBucket(b *bbolt.Bucket, chainID models.ChainID, fragmentID models.FragmentID) (intervalset.Set, error) {
	data := b.Get(intervalsKey(chainID, fragmentID))
	if data == nil {
		return intervalset.NewSet(), nil
	}
	var ivs []intervalset.Interval
	if err := json.Unmarshal(data, &ivs); err != nil {
		return nil, fmt.Errorf("syncstore: decode cached intervals: %w", err)
	}
	return intervalset.NewSet(ivs...), nil
}

// logKey orders primarily by chain+filter+block, then tx/log index, so a
// bucket cursor scan yields ascending order without a secondary sort.
func logKey(chainID models.ChainID, filterID models.FilterID, blockNumber uint64, txIndex, logIndex uint) []byte {
	key := fmt.Sprintf("%s%020d:%020d:%020d", logPrefix(chainID, filterID), blockNumber, txIndex, logIndex)
	return []byte(key)
}

func logPrefix(chainID models.ChainID, filterID models.FilterID) string {
	return fmt.Sprintf("%020d:%s:", uint64(chainID), string(filterID))
}

func hasPrefix(key []byte, prefix string) bool {
	return len(key) >= len(prefix) && string(key[:len(prefix)]) == prefix
}
