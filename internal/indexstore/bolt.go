package indexstore

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"go.etcd.io/bbolt"

	"github.com/evmweave/indexer/internal/checkpoint"
	"github.com/evmweave/indexer/pkg/models"
)

const registryBucket = "_indexstore_tables"

// Bolt is the embedded Dialect used for tests and single-node
// deployments, grounded on syncstore's bbolt dialect: one bucket per
// logical table (JSON-encoded rows keyed by id), a sibling op-log
// bucket keyed by a big-endian sequence number, and a registry bucket
// recording every table name ever created so Reorg/Finalize can
// enumerate them without a prior schema declaration.
type Bolt struct {
	db *bbolt.DB
}

func NewBolt(path string) (*Bolt, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("indexstore: open bolt: %w", err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(registryBucket))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("indexstore: init bolt registry: %w", err)
	}
	return &Bolt{db: db}, nil
}

func (bo *Bolt) Close() error { return bo.db.Close() }

func (bo *Bolt) Begin(ctx context.Context) (Tx, error) {
	tx, err := bo.db.Begin(true)
	if err != nil {
		return nil, fmt.Errorf("indexstore: begin bolt tx: %w", err)
	}
	return &boltTx{tx: tx}, nil
}

type boltTx struct {
	tx         *bbolt.Tx
	checkpoint models.Checkpoint
	suppressOp bool
}

func (t *boltTx) SetCheckpoint(c models.Checkpoint)  { t.checkpoint = c }
func (t *boltTx) Commit(ctx context.Context) error   { return t.tx.Commit() }
func (t *boltTx) Rollback(ctx context.Context) error { return t.tx.Rollback() }

func (t *boltTx) Table(name string) models.Table {
	return &boltTable{tx: t, name: name}
}

func reorgBucket(name string) string { return "_reorg_" + name }

func (t *boltTx) ensureTable(name string) (*bbolt.Bucket, *bbolt.Bucket, error) {
	rows, err := t.tx.CreateBucketIfNotExists([]byte(name))
	if err != nil {
		return nil, nil, err
	}
	oplog, err := t.tx.CreateBucketIfNotExists([]byte(reorgBucket(name)))
	if err != nil {
		return nil, nil, err
	}
	reg := t.tx.Bucket([]byte(registryBucket))
	if reg.Get([]byte(name)) == nil {
		if err := reg.Put([]byte(name), []byte{1}); err != nil {
			return nil, nil, err
		}
	}
	return rows, oplog, nil
}

func (t *boltTx) appendOpLog(oplog *bbolt.Bucket, table string, e opLogEntry) error {
	if t.suppressOp {
		return nil
	}
	seq, _ := oplog.NextSequence()
	e.Seq = seq
	e.Checkpoint = checkpointKey(t.checkpoint)
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return oplog.Put(seqKey(seq), data)
}

func seqKey(seq uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, seq)
	return b
}

func (t *boltTx) Reorg(ctx context.Context, newSafeCheckpoint models.Checkpoint) error {
	return t.reorg(nil, newSafeCheckpoint)
}

// ReorgChain is Reorg scoped to chainID. See the Postgres dialect's
// ReorgChain doc for why a plain checkpoint boundary isn't enough in a
// multi-chain deployment.
func (t *boltTx) ReorgChain(ctx context.Context, chainID models.ChainID, newSafeCheckpoint models.Checkpoint) error {
	return t.reorg(&chainID, newSafeCheckpoint)
}

func (t *boltTx) reorg(chainFilter *models.ChainID, newSafeCheckpoint models.Checkpoint) error {
	tables, err := t.registeredTables()
	if err != nil {
		return err
	}
	boundary := checkpointKey(newSafeCheckpoint)

	t.suppressOp = true
	defer func() { t.suppressOp = false }()

	for _, name := range tables {
		rows, oplog, err := t.ensureTable(name)
		if err != nil {
			return err
		}
		var entries []opLogEntry
		c := oplog.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var e opLogEntry
			if err := json.Unmarshal(v, &e); err != nil {
				return err
			}
			if e.Checkpoint <= boundary {
				continue
			}
			if chainFilter != nil {
				decoded, err := checkpoint.Decode(e.Checkpoint)
				if err != nil || decoded.ChainID != *chainFilter {
					continue
				}
			}
			entries = append(entries, e)
		}
		// Replay newest-first.
		sort.Slice(entries, func(i, j int) bool { return entries[i].Seq > entries[j].Seq })
		for _, e := range entries {
			if err := invertBolt(rows, e); err != nil {
				return fmt.Errorf("indexstore: reorg undo %q row %q: %w", name, e.RowID, err)
			}
			if err := oplog.Delete(seqKey(e.Seq)); err != nil {
				return err
			}
		}
	}
	return nil
}

func invertBolt(rows *bbolt.Bucket, e opLogEntry) error {
	switch e.Op {
	case opInsert:
		return rows.Delete([]byte(e.RowID))
	case opUpdate, opDelete:
		data, err := json.Marshal(e.PriorData)
		if err != nil {
			return err
		}
		return rows.Put([]byte(e.RowID), data)
	default:
		return fmt.Errorf("unknown op %q", e.Op)
	}
}

func (t *boltTx) Finalize(ctx context.Context, c models.Checkpoint) error {
	return t.finalize(nil, c)
}

func (t *boltTx) FinalizeChain(ctx context.Context, chainID models.ChainID, c models.Checkpoint) error {
	return t.finalize(&chainID, c)
}

func (t *boltTx) finalize(chainFilter *models.ChainID, c models.Checkpoint) error {
	tables, err := t.registeredTables()
	if err != nil {
		return err
	}
	boundary := checkpointKey(c)
	for _, name := range tables {
		_, oplog, err := t.ensureTable(name)
		if err != nil {
			return err
		}
		var stale [][]byte
		cur := oplog.Cursor()
		for k, v := cur.First(); k != nil; k, v = cur.Next() {
			var e opLogEntry
			if err := json.Unmarshal(v, &e); err != nil {
				return err
			}
			if e.Checkpoint > boundary {
				continue
			}
			if chainFilter != nil {
				decoded, err := checkpoint.Decode(e.Checkpoint)
				if err != nil || decoded.ChainID != *chainFilter {
					continue
				}
			}
			stale = append(stale, append([]byte(nil), k...))
		}
		for _, k := range stale {
			if err := oplog.Delete(k); err != nil {
				return err
			}
		}
	}
	return nil
}

func (t *boltTx) registeredTables() ([]string, error) {
	reg := t.tx.Bucket([]byte(registryBucket))
	var out []string
	c := reg.Cursor()
	for k, _ := c.First(); k != nil; k, _ = c.Next() {
		out = append(out, string(k))
	}
	return out, nil
}

// boltTable is the per-call models.Table adapter.
type boltTable struct {
	tx   *boltTx
	name string
}

func (tb *boltTable) FindUnique(ctx context.Context, id any, out any) (bool, error) {
	rows, _, err := tb.tx.ensureTable(tb.name)
	if err != nil {
		return false, err
	}
	data := rows.Get([]byte(idString(id)))
	if data == nil {
		return false, nil
	}
	var row map[string]any
	if err := json.Unmarshal(data, &row); err != nil {
		return false, err
	}
	return true, decodeRow(row, out)
}

func (tb *boltTable) Create(ctx context.Context, row any) error {
	rows, oplog, err := tb.tx.ensureTable(tb.name)
	if err != nil {
		return err
	}
	m, err := toRow(row)
	if err != nil {
		return err
	}
	idVal, ok := m["id"]
	if !ok {
		return fmt.Errorf("indexstore: row for table %q has no id field", tb.name)
	}
	idStr := idString(idVal)
	if rows.Get([]byte(idStr)) != nil {
		return &AlreadyExistsError{Table: tb.name, ID: idStr}
	}
	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	if err := rows.Put([]byte(idStr), data); err != nil {
		return err
	}
	return tb.tx.appendOpLog(oplog, tb.name, opLogEntry{Op: opInsert, RowID: idStr})
}

func (tb *boltTable) CreateMany(ctx context.Context, rows []any) error {
	for _, r := range rows {
		if err := tb.Create(ctx, r); err != nil {
			return err
		}
	}
	return nil
}

func (tb *boltTable) Update(ctx context.Context, id any, fn func(current any) any) error {
	rows, oplog, err := tb.tx.ensureTable(tb.name)
	if err != nil {
		return err
	}
	idStr := idString(id)
	current, ok, err := tb.fetch(rows, idStr)
	if err != nil {
		return err
	}
	if !ok {
		return &NotFoundError{Table: tb.name, ID: idStr}
	}
	merged := applyPartial(current, fn(copyMap(current)))
	return tb.persist(rows, oplog, idStr, merged, opUpdate, current)
}

func (tb *boltTable) UpdateMany(ctx context.Context, where map[string]any, fn func(current any) any) (int, error) {
	rows, oplog, err := tb.tx.ensureTable(tb.name)
	if err != nil {
		return 0, err
	}
	total := 0
	c := rows.Cursor()
	for k, v := c.First(); k != nil; k, v = c.Next() {
		var row map[string]any
		if err := json.Unmarshal(v, &row); err != nil {
			return total, err
		}
		if !matchesWhere(row, where) {
			continue
		}
		merged := applyPartial(row, fn(copyMap(row)))
		if err := tb.persist(rows, oplog, string(k), merged, opUpdate, row); err != nil {
			return total, err
		}
		total++
	}
	return total, nil
}

func (tb *boltTable) Upsert(ctx context.Context, id any, row any, fn func(current any) any) error {
	rows, oplog, err := tb.tx.ensureTable(tb.name)
	if err != nil {
		return err
	}
	idStr := idString(id)
	current, ok, err := tb.fetch(rows, idStr)
	if err != nil {
		return err
	}
	if ok {
		merged := applyPartial(current, fn(copyMap(current)))
		return tb.persist(rows, oplog, idStr, merged, opUpdate, current)
	}
	m, err := toRow(row)
	if err != nil {
		return err
	}
	m["id"] = idStr
	return tb.persist(rows, oplog, idStr, m, opInsert, nil)
}

func (tb *boltTable) Delete(ctx context.Context, id any) error {
	rows, oplog, err := tb.tx.ensureTable(tb.name)
	if err != nil {
		return err
	}
	idStr := idString(id)
	current, ok, err := tb.fetch(rows, idStr)
	if err != nil {
		return err
	}
	if !ok {
		return &NotFoundError{Table: tb.name, ID: idStr}
	}
	if err := rows.Delete([]byte(idStr)); err != nil {
		return err
	}
	return tb.tx.appendOpLog(oplog, tb.name, opLogEntry{Op: opDelete, RowID: idStr, PriorData: current})
}

func (tb *boltTable) fetch(rows *bbolt.Bucket, idStr string) (map[string]any, bool, error) {
	data := rows.Get([]byte(idStr))
	if data == nil {
		return nil, false, nil
	}
	var row map[string]any
	if err := json.Unmarshal(data, &row); err != nil {
		return nil, false, err
	}
	return row, true, nil
}

func (tb *boltTable) persist(rows, oplog *bbolt.Bucket, idStr string, row map[string]any, kind op, prior map[string]any) error {
	data, err := json.Marshal(row)
	if err != nil {
		return err
	}
	if err := rows.Put([]byte(idStr), data); err != nil {
		return err
	}
	return tb.tx.appendOpLog(oplog, tb.name, opLogEntry{Op: kind, RowID: idStr, PriorData: prior})
}

func matchesWhere(row map[string]any, where map[string]any) bool {
	for k, v := range where {
		if fmt.Sprint(row[k]) != fmt.Sprint(v) {
			return false
		}
	}
	return true
}

func (tb *boltTable) FindMany(ctx context.Context, q models.FindManyQuery, out any) (models.PageInfo, error) {
	rows, _, err := tb.tx.ensureTable(tb.name)
	if err != nil {
		return models.PageInfo{}, err
	}

	order := q.OrderBy
	if len(order) == 0 {
		order = []models.OrderTerm{{Column: "id"}}
	}
	desc := order[0].Desc

	type entry = struct {
		id  string
		row map[string]any
	}
	var all []entry
	c := rows.Cursor()
	for k, v := c.First(); k != nil; k, v = c.Next() {
		var row map[string]any
		if err := json.Unmarshal(v, &row); err != nil {
			return models.PageInfo{}, err
		}
		if !matchesWhere(row, q.Where) {
			continue
		}
		all = append(all, entry{id: string(k), row: row})
	}

	sort.Slice(all, func(i, j int) bool {
		less := compareRows(order, all[i].row, all[i].id, all[j].row, all[j].id)
		if desc {
			return less > 0
		}
		return less < 0
	})

	limit := q.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}

	start := 0
	if q.After != "" {
		c, err := decodeCursor(q.After)
		if err != nil {
			return models.PageInfo{}, err
		}
		start = findCursorIndex(all, order, c, desc) + 1
	}
	end := len(all)
	if q.Before != "" {
		c, err := decodeCursor(q.Before)
		if err != nil {
			return models.PageInfo{}, err
		}
		end = findCursorIndex(all, order, c, desc)
	}
	if start > end {
		start = end
	}
	window := all[start:end]

	hasNext := len(window) > limit && q.Before == ""
	hasPrev := start > 0

	var page []entry
	if q.Before != "" {
		from := len(window) - limit
		if from < 0 {
			from = 0
		}
		hasPrev = from > 0 || start > 0
		page = window[from:]
	} else {
		to := limit
		if to > len(window) {
			to = len(window)
		}
		page = window[:to]
	}

	rowsOut := make([]map[string]any, len(page))
	for i, e := range page {
		rowsOut[i] = e.row
	}
	if err := writeRowsOut(rowsOut, out); err != nil {
		return models.PageInfo{}, err
	}

	info := models.PageInfo{HasNextPage: hasNext, HasPreviousPage: hasPrev}
	if len(page) > 0 {
		info.StartCursor = encodeCursor(cursorOf(order, page[0].row, page[0].id))
		info.EndCursor = encodeCursor(cursorOf(order, page[len(page)-1].row, page[len(page)-1].id))
	}
	return info, nil
}

func findCursorIndex(all []struct {
	id  string
	row map[string]any
}, order []models.OrderTerm, c cursor, desc bool) int {
	for i, e := range all {
		if e.id == c.ID {
			return i
		}
	}
	return -1
}

func compareRows(order []models.OrderTerm, a map[string]any, aID string, b map[string]any, bID string) int {
	for _, o := range order {
		if cmp := compareValues(a[o.Column], b[o.Column]); cmp != 0 {
			return cmp
		}
	}
	if aID < bID {
		return -1
	}
	if aID > bID {
		return 1
	}
	return 0
}

func compareValues(a, b any) int {
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if aok && bok {
		switch {
		case af < bf:
			return -1
		case af > bf:
			return 1
		default:
			return 0
		}
	}
	as, bs := fmt.Sprint(a), fmt.Sprint(b)
	switch {
	case as < bs:
		return -1
	case as > bs:
		return 1
	default:
		return 0
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}
