package filter

import (
	"math/big"

	"github.com/evmweave/indexer/pkg/models"
)

// ChildAddressSet answers "is addr a known child of this factory",
// populated from internal/syncstore's factory_child_addresses table.
type ChildAddressSet interface {
	Contains(factoryID models.FactoryID, addr models.Address) bool
}

// MatchLog reports whether log satisfies f's address and topic
// constraints. f must be a log-variant filter.
func MatchLog(f models.Filter, children ChildAddressSet, address models.Address, topics []models.Hash) bool {
	if f.Type != models.FilterTypeLog {
		return false
	}
	if !matchAddress(f.LogAddress, children, address) {
		return false
	}
	return matchTopics(f.Topics, topics)
}

func matchTopics(want models.TopicSet, got []models.Hash) bool {
	for i, slot := range want {
		if len(slot) == 0 {
			continue // wildcard
		}
		if i >= len(got) {
			return false
		}
		if !containsHash(slot, got[i]) {
			return false
		}
	}
	return true
}

func containsHash(set []models.Hash, h models.Hash) bool {
	for _, s := range set {
		if s == h {
			return true
		}
	}
	return false
}

// MatchAddress reports whether addr satisfies a concrete-or-factory
// address constraint. A nil constraint matches anything.
func matchAddress(constraint *models.AddressOrFactory, children ChildAddressSet, addr models.Address) bool {
	if constraint == nil {
		return true
	}
	if constraint.IsFactory() {
		return children != nil && children.Contains(constraint.Factory.ID, addr)
	}
	return constraint.Address == addr
}

// TraceCandidate is the minimal shape of a call frame MatchTraceOrTransfer
// needs, decoupled from models.SyncTrace so it can be evaluated before a
// trace row is persisted.
type TraceCandidate struct {
	Type  models.CallType
	From  models.Address
	To    *models.Address
	Value *big.Int
}

// MatchTraceOrTransfer reports whether a call frame satisfies f's
// from/to/call-type/value constraints. f must be a trace- or
// transfer-variant filter. Factory matching is evaluated against both
// ends independently, since a factory-deployed contract can appear as
// either caller or callee.
func MatchTraceOrTransfer(f models.Filter, children ChildAddressSet, c TraceCandidate) bool {
	if f.Type != models.FilterTypeTrace && f.Type != models.FilterTypeTransfer {
		return false
	}
	if !matchCallType(f.CallTypes, c.Type) {
		return false
	}
	if f.FromAddress != nil && !matchAddress(f.FromAddress, children, c.From) {
		return false
	}
	if f.ToAddress != nil {
		if c.To == nil || !matchAddress(f.ToAddress, children, *c.To) {
			return false
		}
	}
	if !matchValue(f.MinValue, f.MaxValue, c.Value) {
		return false
	}
	return true
}

func matchCallType(want []models.CallType, got models.CallType) bool {
	if len(want) == 0 {
		return true
	}
	for _, w := range want {
		if w == got {
			return true
		}
	}
	return false
}

func matchValue(min, max *models.BigValue, v *big.Int) bool {
	if min == nil && max == nil {
		return true
	}
	if v == nil {
		v = big.NewInt(0)
	}
	if min != nil {
		lo, ok := new(big.Int).SetString(min.Decimal, 10)
		if ok && v.Cmp(lo) < 0 {
			return false
		}
	}
	if max != nil {
		hi, ok := new(big.Int).SetString(max.Decimal, 10)
		if ok && v.Cmp(hi) > 0 {
			return false
		}
	}
	return true
}

// MatchBlock reports whether blockNumber satisfies a block-variant
// filter's cadence: (number - offset) mod interval == 0.
func MatchBlock(f models.Filter, blockNumber uint64) bool {
	if f.Type != models.FilterTypeBlock {
		return false
	}
	if f.BlockInterval == 0 {
		return blockNumber == f.BlockOffset
	}
	if blockNumber < f.BlockOffset {
		return false
	}
	return (blockNumber-f.BlockOffset)%f.BlockInterval == 0
}

// MatchTransaction reports whether a transaction satisfies f's
// from/to/value constraints. f must be a transaction-variant filter.
func MatchTransaction(f models.Filter, children ChildAddressSet, from models.Address, to *models.Address, value *big.Int) bool {
	if f.Type != models.FilterTypeTransaction {
		return false
	}
	if f.FromAddress != nil && !matchAddress(f.FromAddress, children, from) {
		return false
	}
	if f.ToAddress != nil {
		if to == nil || !matchAddress(f.ToAddress, children, *to) {
			return false
		}
	}
	return matchValue(f.MinValue, f.MaxValue, value)
}
