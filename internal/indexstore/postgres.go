package indexstore

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/evmweave/indexer/internal/checkpoint"
	"github.com/evmweave/indexer/pkg/models"
)

// identifierPattern validates a build-layer-declared table name before
// it's interpolated into DDL/DML as an identifier. Table names are
// runtime-declared, unlike syncstore's fixed schema, so this is the
// engine's only defense against a malicious or malformed name reaching
// raw SQL.
var identifierPattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

func validIdentifier(name string) error {
	if !identifierPattern.MatchString(name) {
		return fmt.Errorf("indexstore: invalid table name %q", name)
	}
	return nil
}

// Postgres is the networked Dialect: one (id TEXT, data JSONB) table per
// logical table the build layer declares, plus a sibling _reorg_<table>
// operation log. Grounded on syncstore's Postgres dialect for
// pool/transaction handling; the row shape differs because table
// columns here aren't known until the build layer writes its first row.
type Postgres struct {
	pool *pgxpool.Pool
}

func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("indexstore: connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("indexstore: ping postgres: %w", err)
	}
	if err := ensureRegistry(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &Postgres{pool: pool}, nil
}

func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}

func ensureRegistry(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS _indexstore_tables (name TEXT PRIMARY KEY)`)
	return err
}

func (p *Postgres) Begin(ctx context.Context) (Tx, error) {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("indexstore: begin: %w", err)
	}
	return &pgTx{pool: p.pool, tx: tx, ensured: map[string]bool{}}, nil
}

type pgTx struct {
	pool       *pgxpool.Pool
	tx         pgx.Tx
	checkpoint models.Checkpoint
	suppressOp bool
	ensured    map[string]bool
}

func (t *pgTx) SetCheckpoint(c models.Checkpoint) { t.checkpoint = c }

func (t *pgTx) Commit(ctx context.Context) error   { return t.tx.Commit(ctx) }
func (t *pgTx) Rollback(ctx context.Context) error { return t.tx.Rollback(ctx) }

func (t *pgTx) Table(name string) models.Table {
	return &pgTable{tx: t, name: name}
}

func (t *pgTx) ensureTable(ctx context.Context, name string) error {
	if t.ensured[name] {
		return nil
	}
	if err := validIdentifier(name); err != nil {
		return err
	}
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %q (id TEXT PRIMARY KEY, data JSONB NOT NULL)`, name),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %q (seq BIGSERIAL PRIMARY KEY, checkpoint TEXT NOT NULL, op TEXT NOT NULL, row_id TEXT NOT NULL, prior_data JSONB)`, reorgTableName(name)),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %q (checkpoint)`, reorgTableName(name)+"_checkpoint_idx", reorgTableName(name)),
		`INSERT INTO _indexstore_tables (name) VALUES ($1) ON CONFLICT DO NOTHING`,
	}
	for i, stmt := range stmts {
		var err error
		if i == len(stmts)-1 {
			_, err = t.tx.Exec(ctx, stmt, name)
		} else {
			_, err = t.tx.Exec(ctx, stmt)
		}
		if err != nil {
			return fmt.Errorf("indexstore: ensure table %q: %w", name, err)
		}
	}
	t.ensured[name] = true
	return nil
}

func reorgTableName(name string) string { return "_reorg_" + name }

func (t *pgTx) appendOpLog(ctx context.Context, table string, e opLogEntry) error {
	if t.suppressOp {
		return nil
	}
	var priorJSON []byte
	if e.PriorData != nil {
		var err error
		priorJSON, err = json.Marshal(e.PriorData)
		if err != nil {
			return err
		}
	}
	_, err := t.tx.Exec(ctx,
		fmt.Sprintf(`INSERT INTO %q (checkpoint, op, row_id, prior_data) VALUES ($1, $2, $3, $4)`, reorgTableName(table)),
		string(checkpointKey(t.checkpoint)), string(e.Op), e.RowID, priorJSON)
	return err
}

// checkpointKey renders c via internal/checkpoint's canonical fixed-width
// encoding, so a lexicographic string comparison on the checkpoint
// column agrees with Checkpoint.Less.
func checkpointKey(c models.Checkpoint) string {
	return checkpoint.Encode(c)
}

// Reorg truncates every table's op log back to newSafeCheckpoint,
// inverting each entry newest-first within each table so a chain of
// update-then-delete on the same row undoes in the right order.
func (t *pgTx) Reorg(ctx context.Context, newSafeCheckpoint models.Checkpoint) error {
	return t.reorg(ctx, nil, newSafeCheckpoint)
}

// ReorgChain is Reorg scoped to chainID: entries whose embedded chain id
// (decoded from their checkpoint string) doesn't match are left alone,
// even though their checkpoint sorts after newSafeCheckpoint. This is
// necessary because Checkpoint orders by timestamp before chain id, so a
// plain boundary compare can't tell one chain's rows from another's.
func (t *pgTx) ReorgChain(ctx context.Context, chainID models.ChainID, newSafeCheckpoint models.Checkpoint) error {
	return t.reorg(ctx, &chainID, newSafeCheckpoint)
}

func (t *pgTx) reorg(ctx context.Context, chainFilter *models.ChainID, newSafeCheckpoint models.Checkpoint) error {
	tables, err := t.registeredTables(ctx)
	if err != nil {
		return err
	}
	boundary := checkpointKey(newSafeCheckpoint)

	t.suppressOp = true
	defer func() { t.suppressOp = false }()

	for _, table := range tables {
		if err := t.ensureTable(ctx, table); err != nil {
			return err
		}
		rows, err := t.tx.Query(ctx,
			fmt.Sprintf(`SELECT seq, checkpoint, op, row_id, prior_data FROM %q WHERE checkpoint > $1 ORDER BY seq DESC`, reorgTableName(table)),
			boundary)
		if err != nil {
			return fmt.Errorf("indexstore: reorg read op log for %q: %w", table, err)
		}
		var entries []opLogEntry
		var toDelete []uint64
		for rows.Next() {
			var e opLogEntry
			var priorJSON []byte
			if err := rows.Scan(&e.Seq, &e.Checkpoint, &e.Op, &e.RowID, &priorJSON); err != nil {
				rows.Close()
				return err
			}
			if len(priorJSON) > 0 {
				_ = json.Unmarshal(priorJSON, &e.PriorData)
			}
			if chainFilter != nil {
				decoded, err := checkpoint.Decode(e.Checkpoint)
				if err != nil || decoded.ChainID != *chainFilter {
					continue
				}
			}
			entries = append(entries, e)
			toDelete = append(toDelete, e.Seq)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		for _, e := range entries {
			if err := t.invert(ctx, table, e); err != nil {
				return fmt.Errorf("indexstore: reorg undo %q row %q: %w", table, e.RowID, err)
			}
		}
		if len(toDelete) == 0 {
			continue
		}
		if _, err := t.tx.Exec(ctx, fmt.Sprintf(`DELETE FROM %q WHERE seq = ANY($1)`, reorgTableName(table)), toDelete); err != nil {
			return err
		}
	}
	return nil
}

func (t *pgTx) invert(ctx context.Context, table string, e opLogEntry) error {
	switch e.Op {
	case opInsert:
		_, err := t.tx.Exec(ctx, fmt.Sprintf(`DELETE FROM %q WHERE id = $1`, table), e.RowID)
		return err
	case opUpdate, opDelete:
		data, err := json.Marshal(e.PriorData)
		if err != nil {
			return err
		}
		_, err = t.tx.Exec(ctx,
			fmt.Sprintf(`INSERT INTO %q (id, data) VALUES ($1, $2) ON CONFLICT (id) DO UPDATE SET data = EXCLUDED.data`, table),
			e.RowID, data)
		return err
	default:
		return fmt.Errorf("unknown op %q", e.Op)
	}
}

// Finalize prunes op-log rows that can never be undone.
func (t *pgTx) Finalize(ctx context.Context, c models.Checkpoint) error {
	return t.finalize(ctx, nil, c)
}

// FinalizeChain is Finalize scoped to chainID, for the same reason
// ReorgChain exists: pruning by a raw checkpoint boundary in a
// multi-chain deployment could discard another chain's op-log rows
// before that chain has actually finalized past them.
func (t *pgTx) FinalizeChain(ctx context.Context, chainID models.ChainID, c models.Checkpoint) error {
	return t.finalize(ctx, &chainID, c)
}

func (t *pgTx) finalize(ctx context.Context, chainFilter *models.ChainID, c models.Checkpoint) error {
	tables, err := t.registeredTables(ctx)
	if err != nil {
		return err
	}
	boundary := checkpointKey(c)
	for _, table := range tables {
		if chainFilter == nil {
			if _, err := t.tx.Exec(ctx, fmt.Sprintf(`DELETE FROM %q WHERE checkpoint <= $1`, reorgTableName(table)), boundary); err != nil {
				return fmt.Errorf("indexstore: finalize prune %q: %w", table, err)
			}
			continue
		}
		rows, err := t.tx.Query(ctx, fmt.Sprintf(`SELECT seq, checkpoint FROM %q WHERE checkpoint <= $1`, reorgTableName(table)), boundary)
		if err != nil {
			return fmt.Errorf("indexstore: finalize scan %q: %w", table, err)
		}
		var seqs []uint64
		for rows.Next() {
			var seq uint64
			var cp string
			if err := rows.Scan(&seq, &cp); err != nil {
				rows.Close()
				return err
			}
			decoded, err := checkpoint.Decode(cp)
			if err == nil && decoded.ChainID == *chainFilter {
				seqs = append(seqs, seq)
			}
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}
		if len(seqs) == 0 {
			continue
		}
		if _, err := t.tx.Exec(ctx, fmt.Sprintf(`DELETE FROM %q WHERE seq = ANY($1)`, reorgTableName(table)), seqs); err != nil {
			return fmt.Errorf("indexstore: finalize prune %q: %w", table, err)
		}
	}
	return nil
}

func (t *pgTx) registeredTables(ctx context.Context) ([]string, error) {
	rows, err := t.tx.Query(ctx, `SELECT name FROM _indexstore_tables`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// pgTable is the per-call models.Table adapter bound to one transaction
// and logical table name.
type pgTable struct {
	tx   *pgTx
	name string
}

func (tb *pgTable) FindUnique(ctx context.Context, id any, out any) (bool, error) {
	if err := tb.tx.ensureTable(ctx, tb.name); err != nil {
		return false, err
	}
	idStr := idString(id)
	var raw []byte
	err := tb.tx.tx.QueryRow(ctx, fmt.Sprintf(`SELECT data FROM %q WHERE id = $1`, tb.name), idStr).Scan(&raw)
	if err == pgx.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("indexstore: find unique %q/%s: %w", tb.name, idStr, err)
	}
	var row map[string]any
	if err := json.Unmarshal(raw, &row); err != nil {
		return false, err
	}
	return true, decodeRow(row, out)
}

func (tb *pgTable) Create(ctx context.Context, row any) error {
	if err := tb.tx.ensureTable(ctx, tb.name); err != nil {
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
	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	tag, err := tb.tx.tx.Exec(ctx,
		fmt.Sprintf(`INSERT INTO %q (id, data) VALUES ($1, $2) ON CONFLICT (id) DO NOTHING`, tb.name),
		idStr, data)
	if err != nil {
		return fmt.Errorf("indexstore: create %q/%s: %w", tb.name, idStr, err)
	}
	if tag.RowsAffected() == 0 {
		return &AlreadyExistsError{Table: tb.name, ID: idStr}
	}
	return tb.tx.appendOpLog(ctx, tb.name, opLogEntry{Op: opInsert, RowID: idStr})
}

func (tb *pgTable) CreateMany(ctx context.Context, rows []any) error {
	const rowsPerStatement = maxQueryParams / 2
	for i := 0; i < len(rows); i += rowsPerStatement {
		end := i + rowsPerStatement
		if end > len(rows) {
			end = len(rows)
		}
		for _, r := range rows[i:end] {
			if err := tb.Create(ctx, r); err != nil {
				return err
			}
		}
	}
	return nil
}

func (tb *pgTable) Update(ctx context.Context, id any, fn func(current any) any) error {
	if err := tb.tx.ensureTable(ctx, tb.name); err != nil {
		return err
	}
	idStr := idString(id)
	current, ok, err := tb.fetch(ctx, idStr)
	if err != nil {
		return err
	}
	if !ok {
		return &NotFoundError{Table: tb.name, ID: idStr}
	}
	merged := applyPartial(current, fn(copyMap(current)))
	return tb.persist(ctx, idStr, merged, opUpdate, current)
}

func (tb *pgTable) UpdateMany(ctx context.Context, where map[string]any, fn func(current any) any) (int, error) {
	if err := tb.tx.ensureTable(ctx, tb.name); err != nil {
		return 0, err
	}
	total := 0
	lastID := ""
	for {
		ids, rows, err := tb.matchPage(ctx, where, lastID, databaseMaxRowLimit)
		if err != nil {
			return total, err
		}
		if len(ids) == 0 {
			return total, nil
		}
		for i, id := range ids {
			merged := applyPartial(rows[i], fn(copyMap(rows[i])))
			if err := tb.persist(ctx, id, merged, opUpdate, rows[i]); err != nil {
				return total, err
			}
			total++
		}
		lastID = ids[len(ids)-1]
		if len(ids) < databaseMaxRowLimit {
			return total, nil
		}
	}
}

func (tb *pgTable) Upsert(ctx context.Context, id any, row any, fn func(current any) any) error {
	if err := tb.tx.ensureTable(ctx, tb.name); err != nil {
		return err
	}
	idStr := idString(id)
	current, ok, err := tb.fetch(ctx, idStr)
	if err != nil {
		return err
	}
	if ok {
		merged := applyPartial(current, fn(copyMap(current)))
		return tb.persist(ctx, idStr, merged, opUpdate, current)
	}
	m, err := toRow(row)
	if err != nil {
		return err
	}
	m["id"] = idStr
	return tb.persist(ctx, idStr, m, opInsert, nil)
}

func (tb *pgTable) Delete(ctx context.Context, id any) error {
	if err := tb.tx.ensureTable(ctx, tb.name); err != nil {
		return err
	}
	idStr := idString(id)
	current, ok, err := tb.fetch(ctx, idStr)
	if err != nil {
		return err
	}
	if !ok {
		return &NotFoundError{Table: tb.name, ID: idStr}
	}
	if _, err := tb.tx.tx.Exec(ctx, fmt.Sprintf(`DELETE FROM %q WHERE id = $1`, tb.name), idStr); err != nil {
		return fmt.Errorf("indexstore: delete %q/%s: %w", tb.name, idStr, err)
	}
	return tb.tx.appendOpLog(ctx, tb.name, opLogEntry{Op: opDelete, RowID: idStr, PriorData: current})
}

func (tb *pgTable) fetch(ctx context.Context, idStr string) (map[string]any, bool, error) {
	var raw []byte
	err := tb.tx.tx.QueryRow(ctx, fmt.Sprintf(`SELECT data FROM %q WHERE id = $1`, tb.name), idStr).Scan(&raw)
	if err == pgx.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var row map[string]any
	if err := json.Unmarshal(raw, &row); err != nil {
		return nil, false, err
	}
	return row, true, nil
}

func (tb *pgTable) persist(ctx context.Context, idStr string, row map[string]any, kind op, prior map[string]any) error {
	data, err := json.Marshal(row)
	if err != nil {
		return err
	}
	_, err = tb.tx.tx.Exec(ctx,
		fmt.Sprintf(`INSERT INTO %q (id, data) VALUES ($1, $2) ON CONFLICT (id) DO UPDATE SET data = EXCLUDED.data`, tb.name),
		idStr, data)
	if err != nil {
		return fmt.Errorf("indexstore: persist %q/%s: %w", tb.name, idStr, err)
	}
	return tb.tx.appendOpLog(ctx, tb.name, opLogEntry{Op: kind, RowID: idStr, PriorData: prior})
}

// matchPage returns up to limit rows satisfying where (equality only),
// ordered by id ascending, starting strictly after afterID.
func (tb *pgTable) matchPage(ctx context.Context, where map[string]any, afterID string, limit int) ([]string, []map[string]any, error) {
	clauses, args := whereClauses(where, 2)
	args = append([]any{afterID, limit}, args...)
	query := fmt.Sprintf(`SELECT id, data FROM %q WHERE id > $1 %s ORDER BY id LIMIT $2`, tb.name, clauses)

	rows, err := tb.tx.tx.Query(ctx, query, args...)
	if err != nil {
		return nil, nil, fmt.Errorf("indexstore: match page %q: %w", tb.name, err)
	}
	defer rows.Close()

	var ids []string
	var out []map[string]any
	for rows.Next() {
		var id string
		var raw []byte
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, nil, err
		}
		var row map[string]any
		if err := json.Unmarshal(raw, &row); err != nil {
			return nil, nil, err
		}
		ids = append(ids, id)
		out = append(out, row)
	}
	return ids, out, rows.Err()
}

func whereClauses(where map[string]any, startParam int) (string, []any) {
	if len(where) == 0 {
		return "", nil
	}
	keys := sortedKeys(where)
	var parts []string
	var args []any
	for i, k := range keys {
		parts = append(parts, fmt.Sprintf(`data->'%s' = $%d::jsonb`, k, startParam+i))
		encoded, _ := json.Marshal(where[k])
		args = append(args, string(encoded))
	}
	return "AND " + strings.Join(parts, " AND "), args
}

func (tb *pgTable) FindMany(ctx context.Context, q models.FindManyQuery, out any) (models.PageInfo, error) {
	if err := tb.tx.ensureTable(ctx, tb.name); err != nil {
		return models.PageInfo{}, err
	}
	limit := q.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}

	order := q.OrderBy
	if len(order) == 0 {
		order = []models.OrderTerm{{Column: "id"}}
	}
	desc := order[0].Desc
	for _, o := range order {
		if o.Desc != desc {
			return models.PageInfo{}, fmt.Errorf("indexstore: findMany order terms must share one direction")
		}
	}

	whereSQL, whereArgs := whereClauses(q.Where, 1)
	args := whereArgs

	// backward reverses the scan direction for a Before cursor (walk
	// toward lower sort order to find the page preceding it), then the
	// result set is re-reversed below so the caller always sees rows in
	// the query's declared order.
	backward := q.Before != "" && q.After == ""
	scanDesc := desc != backward

	cmp := ">"
	if scanDesc {
		cmp = "<"
	}
	cursorSQL := ""
	switch {
	case q.After != "":
		c, err := decodeCursor(q.After)
		if err != nil {
			return models.PageInfo{}, err
		}
		exprs, boundArgs := cursorTuple(order, c, len(args)+1)
		cursorSQL = fmt.Sprintf("AND (%s) %s (%s)", strings.Join(exprs.cols, ", "), cmp, strings.Join(exprs.placeholders, ", "))
		args = append(args, boundArgs...)
	case q.Before != "":
		c, err := decodeCursor(q.Before)
		if err != nil {
			return models.PageInfo{}, err
		}
		exprs, boundArgs := cursorTuple(order, c, len(args)+1)
		cursorSQL = fmt.Sprintf("AND (%s) %s (%s)", strings.Join(exprs.cols, ", "), cmp, strings.Join(exprs.placeholders, ", "))
		args = append(args, boundArgs...)
	}

	orderSQL := orderByExprs(order)
	if backward {
		orderSQL = orderByExprsDir(order, !desc)
	}
	limitArg := len(args) + 1
	args = append(args, limit+1)

	query := fmt.Sprintf(`SELECT id, data FROM %q WHERE true %s %s ORDER BY %s LIMIT $%d`,
		tb.name, whereSQL, cursorSQL, orderSQL, limitArg)

	rows, err := tb.tx.tx.Query(ctx, query, args...)
	if err != nil {
		return models.PageInfo{}, fmt.Errorf("indexstore: findMany %q: %w", tb.name, err)
	}
	defer rows.Close()

	var ids []string
	var decoded []map[string]any
	for rows.Next() {
		var id string
		var raw []byte
		if err := rows.Scan(&id, &raw); err != nil {
			return models.PageInfo{}, err
		}
		var row map[string]any
		if err := json.Unmarshal(raw, &row); err != nil {
			return models.PageInfo{}, err
		}
		ids = append(ids, id)
		decoded = append(decoded, row)
	}
	if err := rows.Err(); err != nil {
		return models.PageInfo{}, err
	}

	hasMore := len(decoded) > limit
	if hasMore {
		decoded = decoded[:limit]
		ids = ids[:limit]
	}
	if backward {
		reverseRows(decoded, ids)
	}
	if err := writeRowsOut(decoded, out); err != nil {
		return models.PageInfo{}, err
	}

	page := models.PageInfo{
		HasNextPage:     (backward && q.Before != "") || (!backward && hasMore),
		HasPreviousPage: (backward && hasMore) || (!backward && q.After != ""),
	}
	if len(decoded) > 0 {
		page.StartCursor = encodeCursor(cursorOf(order, decoded[0], ids[0]))
		page.EndCursor = encodeCursor(cursorOf(order, decoded[len(decoded)-1], ids[len(ids)-1]))
	}
	return page, nil
}

type cursorExprs struct {
	cols         []string
	placeholders []string
}

func cursorTuple(order []models.OrderTerm, c cursor, startParam int) (cursorExprs, []any) {
	var e cursorExprs
	var args []any
	for i, o := range order {
		col := fmt.Sprintf(`data->>'%s'`, o.Column)
		e.cols = append(e.cols, col)
		e.placeholders = append(e.placeholders, fmt.Sprintf("$%d", startParam+len(args)))
		if i < len(c.Values) {
			args = append(args, fmt.Sprintf("%v", c.Values[i]))
		} else {
			args = append(args, "")
		}
	}
	e.cols = append(e.cols, "id")
	e.placeholders = append(e.placeholders, fmt.Sprintf("$%d", startParam+len(args)))
	args = append(args, c.ID)
	return e, args
}

func cursorOf(order []models.OrderTerm, row map[string]any, id string) cursor {
	c := cursor{ID: id}
	for _, o := range order {
		c.Values = append(c.Values, row[o.Column])
	}
	return c
}

func orderByExprs(order []models.OrderTerm) string {
	desc := len(order) > 0 && order[0].Desc
	return orderByExprsDir(order, desc)
}

func orderByExprsDir(order []models.OrderTerm, desc bool) string {
	dir := ""
	if desc {
		dir = " DESC"
	}
	var parts []string
	for _, o := range order {
		parts = append(parts, fmt.Sprintf(`data->>'%s'%s`, o.Column, dir))
	}
	parts = append(parts, "id"+dir)
	return strings.Join(parts, ", ")
}

func reverseRows(rows []map[string]any, ids []string) {
	for i, j := 0, len(rows)-1; i < j; i, j = i+1, j-1 {
		rows[i], rows[j] = rows[j], rows[i]
		ids[i], ids[j] = ids[j], ids[i]
	}
}

func writeRowsOut(rows []map[string]any, out any) error {
	switch p := out.(type) {
	case *[]map[string]any:
		*p = rows
		return nil
	default:
		return fmt.Errorf("indexstore: findMany out must be *[]map[string]any, got %T", out)
	}
}

func applyPartial(current map[string]any, partial any) map[string]any {
	merged := copyMap(current)
	switch p := partial.(type) {
	case map[string]any:
		for k, v := range p {
			merged[k] = encodeValue(v)
		}
	}
	return merged
}

func copyMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func idString(id any) string {
	if s, ok := id.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", id)
}
