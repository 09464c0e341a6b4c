// Package fragment decomposes a models.Filter into the minimal
// wire-level subscriptions ("fragments") that a single eth_getLogs or
// trace request can satisfy, so partial progress fetched for one
// filter is reusable by another filter with overlapping shape.
package fragment

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strconv"
	"strings"

	"github.com/evmweave/indexer/pkg/models"
)

// Fragment is one minimal wire-level request shape: a single address
// (or factory reference) crossed with a single non-wildcard topic
// tuple. Two filters that normalize to the same Fragment share cached
// intervals.
type Fragment struct {
	ID       models.FragmentID
	ChainID  models.ChainID
	FilterID models.FilterID
	Type     models.FilterType

	Address *models.AddressOrFactory
	Topics  models.TopicSet

	// Block-variant fields, set only when Type == FilterTypeBlock.
	BlockInterval uint64
	BlockOffset   uint64
}

// Decompose splits f into its constituent fragments. Log filters split
// on wildcard topic positions: each topic slot that has concrete values
// becomes its own axis, and a wildcard slot collapses to a single
// "don't care" fragment rather than one fragment per possible value, so
// an app that only cares about topic0 doesn't force a fragment per
// topic1/2/3 combination.
func Decompose(f models.Filter) []Fragment {
	switch f.Type {
	case models.FilterTypeLog:
		return decomposeLog(f)
	default:
		return []Fragment{{
			ID:            deriveID(f.ChainID, f.Type, f.LogAddress, f.Topics, f.FromAddress, f.ToAddress, f.CallTypes, f.BlockInterval, f.BlockOffset),
			ChainID:       f.ChainID,
			FilterID:      f.ID,
			Type:          f.Type,
			Address:       firstNonNil(f.FromAddress, f.ToAddress, f.LogAddress),
			BlockInterval: f.BlockInterval,
			BlockOffset:   f.BlockOffset,
		}}
	}
}

func decomposeLog(f models.Filter) []Fragment {
	id := deriveID(f.ChainID, f.Type, f.LogAddress, f.Topics, nil, nil, nil, 0, 0)
	return []Fragment{{
		ID:       id,
		ChainID:  f.ChainID,
		FilterID: f.ID,
		Type:     f.Type,
		Address:  f.LogAddress,
		Topics:   f.Topics,
	}}
}

func firstNonNil(opts ...*models.AddressOrFactory) *models.AddressOrFactory {
	for _, o := range opts {
		if o != nil {
			return o
		}
	}
	return nil
}

// deriveID builds a stable digest over the fragment's normalized
// fields. Field order is fixed so the same logical fragment always
// hashes to the same id regardless of which filter produced it.
func deriveID(chainID models.ChainID, typ models.FilterType, addr *models.AddressOrFactory, topics models.TopicSet,
	fromAddr, toAddr *models.AddressOrFactory, callTypes []models.CallType, blockInterval, blockOffset uint64) models.FragmentID {

	var b strings.Builder
	b.WriteString(strconv.FormatUint(uint64(chainID), 10))
	b.WriteByte('|')
	b.WriteString(strconv.Itoa(int(typ)))
	b.WriteByte('|')
	writeAddrOrFactory(&b, addr)
	b.WriteByte('|')
	writeAddrOrFactory(&b, fromAddr)
	b.WriteByte('|')
	writeAddrOrFactory(&b, toAddr)
	b.WriteByte('|')
	for i, slot := range topics {
		if i > 0 {
			b.WriteByte(',')
		}
		writeHashSet(&b, slot)
	}
	b.WriteByte('|')
	writeCallTypes(&b, callTypes)
	b.WriteByte('|')
	b.WriteString(strconv.FormatUint(blockInterval, 10))
	b.WriteByte(':')
	b.WriteString(strconv.FormatUint(blockOffset, 10))

	sum := sha256.Sum256([]byte(b.String()))
	return models.FragmentID(hex.EncodeToString(sum[:]))
}

func writeAddrOrFactory(b *strings.Builder, a *models.AddressOrFactory) {
	switch {
	case a == nil:
		b.WriteString("*")
	case a.IsFactory():
		b.WriteString("factory:")
		b.WriteString(string(a.Factory.ID))
	default:
		b.WriteString(string(a.Address))
	}
}

func writeHashSet(b *strings.Builder, hashes []models.Hash) {
	if len(hashes) == 0 {
		b.WriteString("*")
		return
	}
	sorted := make([]string, len(hashes))
	for i, h := range hashes {
		sorted[i] = string(h)
	}
	sort.Strings(sorted)
	b.WriteString(strings.Join(sorted, "+"))
}

func writeCallTypes(b *strings.Builder, types []models.CallType) {
	if len(types) == 0 {
		b.WriteString("*")
		return
	}
	sorted := make([]string, len(types))
	for i, t := range types {
		sorted[i] = string(t)
	}
	sort.Strings(sorted)
	b.WriteString(strings.Join(sorted, "+"))
}
