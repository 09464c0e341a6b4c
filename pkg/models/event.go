package models

import "context"

// Event is the tagged record handed to a user handler. Exactly the
// fields relevant to Type are populated; reading an unfetched field is
// a build-layer concern. The omnichain driver catches
// InvalidEventAccessError from the build layer's field-access guard and
// refetches with the needed fields before retrying the dispatch.
type Event struct {
	Type       EventKind
	ChainID    ChainID
	FilterID   FilterID
	Checkpoint Checkpoint

	Block       *SyncBlock
	Transaction *SyncTransaction
	Log         *SyncLog
	Trace       *SyncTrace

	// Args holds the ABI-decoded event arguments when a build-layer
	// decoder is attached; the core neither populates nor inspects it.
	Args any
}

// HandlerContext is the per-dispatch context passed to a handler,
// bundling the indexing store mapping API and a read-through RPC caller.
type HandlerContext struct {
	Context context.Context
	Client  RPCCaller
	DB      TableStore
}

// RPCCaller is the narrow surface handlers may use to make additional
// on-chain calls (eth_call etc.) inside a dispatch transaction. The core
// only depends on this interface; the concrete implementation lives in
// rpcclient and is injected by the build layer.
type RPCCaller interface {
	Call(ctx context.Context, method string, params []any, result any) error
}

// TableStore is the mapping API surface exposed to handlers. The
// concrete implementation lives in internal/indexstore; handler code
// only needs this interface, keeping the indexing store an
// implementation detail of the engine.
type TableStore interface {
	Table(name string) Table
}

// Table is the per-logical-table CRUD+pagination surface.
type Table interface {
	FindUnique(ctx context.Context, id any, out any) (bool, error)
	FindMany(ctx context.Context, q FindManyQuery, out any) (PageInfo, error)
	Create(ctx context.Context, row any) error
	CreateMany(ctx context.Context, rows []any) error
	Update(ctx context.Context, id any, fn func(current any) any) error
	UpdateMany(ctx context.Context, where map[string]any, fn func(current any) any) (int, error)
	Upsert(ctx context.Context, id any, row any, fn func(current any) any) error
	Delete(ctx context.Context, id any) error
}

// FindManyQuery is the pagination/filter input for Table.FindMany.
type FindManyQuery struct {
	Where   map[string]any
	OrderBy []OrderTerm
	Before  string // opaque cursor
	After   string // opaque cursor
	Limit   int
}

// OrderTerm is one column of a FindMany ORDER BY clause.
type OrderTerm struct {
	Column string
	Desc   bool
}

// PageInfo describes a FindMany result page.
type PageInfo struct {
	HasNextPage     bool
	HasPreviousPage bool
	StartCursor     string
	EndCursor       string
}

// Handler is the narrow contract the build layer implements. The core
// never constructs one; it only calls through this type. Handlers must
// be idempotent under replay from the last Safe checkpoint.
type Handler func(ctx context.Context, event Event, hc HandlerContext) error
