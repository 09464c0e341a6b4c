package models

// FilterType tags which variant of Filter is populated.
type FilterType uint8

const (
	FilterTypeLog FilterType = iota
	FilterTypeTransaction
	FilterTypeTrace
	FilterTypeTransfer
	FilterTypeBlock
)

// AddressOrFactory holds either a concrete Address or a reference to a
// Factory whose discovered child addresses stand in for it. Exactly one
// of the two is set.
type AddressOrFactory struct {
	Address Address
	Factory *Factory
}

// IsFactory reports whether the address is dynamically discovered.
func (a AddressOrFactory) IsFactory() bool { return a.Factory != nil }

// TopicSet is the four topic slots of a log filter. A nil slot is a
// wildcard; a populated slot is an OR-set of concrete topic hashes at
// that position.
type TopicSet [4][]Hash

// CallType constrains which EVM call types a trace/transfer filter
// matches.
type CallType string

const (
	CallTypeCall         CallType = "call"
	CallTypeDelegateCall CallType = "delegatecall"
	CallTypeStaticCall   CallType = "staticcall"
	CallTypeCreate       CallType = "create"
)

// Filter is the tagged variant over {log, transaction, trace, transfer,
// block}. Immutable once constructed; an ID is derived deterministically
// from its normalized field values so two structurally identical filters
// from separate config loads collapse to one cache key.
type Filter struct {
	ID FilterID
	ChainID ChainID
	Type    FilterType

	FromBlock uint64
	ToBlock   *uint64 // nil means "open ended, track to tip"

	// RequireReceipts means the handler needs the transaction receipt for
	// every matched row (gas used, status, logs bloom), forcing sync2 to
	// fetch it even when no log/trace filter already demanded it.
	RequireReceipts bool

	// Log-variant fields.
	LogAddress *AddressOrFactory
	Topics     TopicSet

	// Transaction/Trace/Transfer-variant fields.
	FromAddress *AddressOrFactory
	ToAddress   *AddressOrFactory
	CallTypes   []CallType
	MinValue    *BigValue
	MaxValue    *BigValue

	// Block-variant fields.
	BlockInterval uint64
	BlockOffset   uint64
}

// BigValue is a decimal-string wrapped big integer, used in config so
// Filter stays comparable/hashable-friendly without importing math/big
// into equality checks.
type BigValue struct {
	Decimal string
}

// EffectiveToBlock returns the filter's upper bound, or ok=false when
// unbounded (the filter tracks the tip).
func (f Filter) EffectiveToBlock() (block uint64, ok bool) {
	if f.ToBlock == nil {
		return 0, false
	}
	return *f.ToBlock, true
}
