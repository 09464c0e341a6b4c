package historical

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/evmweave/indexer/internal/filter"
	"github.com/evmweave/indexer/internal/fragment"
	"github.com/evmweave/indexer/internal/intervalset"
	"github.com/evmweave/indexer/internal/rpcclient"
	"github.com/evmweave/indexer/internal/syncstore"
	"github.com/evmweave/indexer/pkg/models"
)

// factoryFragmentID namespaces a factory's own cached interval away from
// any dependent filter's fragment id: a factory is scanned via its own
// synthetic parent-event fragment, independent of whoever references it.
func factoryFragmentID(factoryID models.FactoryID) models.FragmentID {
	return models.FragmentID("factory:" + string(factoryID))
}

// childSet caches one factory's discovered addresses in memory for the
// lifetime of a Sync1 call, so repeated filter.MatchLog/Contains checks
// don't round-trip to the store per log.
type childSet struct {
	store *syncstore.Store
	cache map[models.FactoryID]map[models.Address]bool
}

func newChildSet(store *syncstore.Store) *childSet {
	return &childSet{store: store, cache: make(map[models.FactoryID]map[models.Address]bool)}
}

func (c *childSet) Contains(factoryID models.FactoryID, addr models.Address) bool {
	set, ok := c.cache[factoryID]
	if !ok {
		return false
	}
	return set[addr]
}

func (c *childSet) load(ctx context.Context, factoryID models.FactoryID) error {
	addrs, err := c.store.ChildAddresses(ctx, factoryID)
	if err != nil {
		return err
	}
	set := make(map[models.Address]bool, len(addrs))
	for _, a := range addrs {
		set[a] = true
	}
	c.cache[factoryID] = set
	return nil
}

func (c *childSet) addresses(factoryID models.FactoryID) []models.Address {
	set := c.cache[factoryID]
	out := make([]models.Address, 0, len(set))
	for a := range set {
		out = append(out, a)
	}
	return out
}

// ResolveFactory scans factory's own parent-event log range over want,
// extracting and persisting one models.ChildAddress per matching log.
// Per the factory-before-dependents ordering GetRequiredIntervals
// assumes, this must run to completion over [want.Lo, want.Hi] before any
// filter referencing the factory can trust its own range over the same
// interval.
func (e *Engine) ResolveFactory(ctx context.Context, factory models.Factory, want intervalset.Interval) error {
	fragID := factoryFragmentID(factory.ID)
	cached, err := e.Store.CachedIntervals(ctx, factory.ChainID, fragID)
	if err != nil {
		return fmt.Errorf("historical: factory %s cached intervals: %w", factory.ID, err)
	}
	for _, iv := range intervalset.Difference(intervalset.NewSet(want), cached) {
		if err := e.scanFactoryRange(ctx, factory, fragID, iv); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) scanFactoryRange(ctx context.Context, factory models.Factory, fragID models.FragmentID, want intervalset.Interval) error {
	est := e.estimatorFor(fragID)
	lo := want.Lo
	for lo <= want.Hi {
		hi := lo + est.current() - 1
		if hi > want.Hi {
			hi = want.Hi
		}

		logs, err := e.RPC.FilterLogs(ctx, ethereum.FilterQuery{
			FromBlock: new(big.Int).SetUint64(lo),
			ToBlock:   new(big.Int).SetUint64(hi),
			Addresses: []common.Address{common.HexToAddress(string(factory.ParentAddress))},
			Topics:    [][]common.Hash{{common.HexToHash(string(factory.EventSelector))}},
		})
		if err != nil {
			var rangeErr *rpcclient.EthGetLogsRangeError
			if errors.As(err, &rangeErr) && len(rangeErr.Suggested) > 0 {
				confirmed := rangeErr.Suggested[0].To - rangeErr.Suggested[0].From + 1
				est.shrinkTo(confirmed)
				continue
			}
			return fmt.Errorf("historical: factory %s scan [%d,%d]: %w", factory.ID, lo, hi, err)
		}

		children := extractChildren(factory, logs)
		if err := e.Store.WriteBatch(ctx, syncstore.Batch{
			ChainID:    factory.ChainID,
			FragmentID: fragID,
			Interval:   intervalset.Interval{Lo: lo, Hi: hi},
			Children:   children,
		}); err != nil {
			return fmt.Errorf("historical: factory %s persist [%d,%d]: %w", factory.ID, lo, hi, err)
		}

		est.grow()
		lo = hi + 1
	}
	return nil
}

func extractChildren(factory models.Factory, logs []types.Log) []models.ChildAddress {
	firstSeen := make(map[models.Address]uint64)
	for _, l := range logs {
		addr, ok := extractChildAddress(factory, l)
		if !ok {
			continue
		}
		if prev, exists := firstSeen[addr]; !exists || l.BlockNumber < prev {
			firstSeen[addr] = l.BlockNumber
		}
	}
	out := make([]models.ChildAddress, 0, len(firstSeen))
	for addr, block := range firstSeen {
		out = append(out, models.ChildAddress{FactoryID: factory.ID, Address: addr, FirstSeenBlock: block})
	}
	return out
}

func extractChildAddress(factory models.Factory, l types.Log) (models.Address, bool) {
	switch factory.Extraction {
	case models.ChildFromTopic:
		if factory.TopicIndex < 1 || factory.TopicIndex >= len(l.Topics) {
			return "", false
		}
		return models.NewAddress(common.BytesToAddress(l.Topics[factory.TopicIndex].Bytes()[12:]).Hex()), true
	case models.ChildFromData:
		start := factory.DataOffset * 32
		if start+32 > len(l.Data) {
			return "", false
		}
		word := l.Data[start : start+32]
		return models.NewAddress(common.BytesToAddress(word[12:]).Hex()), true
	default:
		return "", false
	}
}

// SyncLogs fetches every log fragment in work, persisting results and
// advancing each fragment's cached interval. Factory-backed filters are
// resolved first: the child-address set has to be complete up to the
// work's upper bound before the dependent fragment's own logs can be
// requested meaningfully. The returned logs have Data stripped, since
// sync2 only needs their block/transaction coordinates to decide which
// blocks to fetch.
func (e *Engine) SyncLogs(ctx context.Context, work []filter.RequiredWork) ([]models.SyncLog, error) {
	children := newChildSet(e.Store)

	for _, w := range work {
		factory := factoryOf(w.Filter)
		if factory == nil {
			continue
		}
		lo, hi, ok := w.Missing.Bounds()
		if !ok {
			continue
		}
		if err := e.ResolveFactory(ctx, *factory, intervalset.Interval{Lo: lo, Hi: hi}); err != nil {
			return nil, err
		}
		if err := children.load(ctx, factory.ID); err != nil {
			return nil, fmt.Errorf("historical: load factory %s children: %w", factory.ID, err)
		}
	}

	var all []models.SyncLog
	for _, w := range work {
		if w.Fragment.Type != models.FilterTypeLog {
			continue
		}
		logs, err := e.syncLogFragment(ctx, w, children)
		if err != nil {
			return nil, err
		}
		all = append(all, logs...)
	}
	for i := range all {
		all[i].Data = nil
	}
	return all, nil
}

func factoryOf(f models.Filter) *models.Factory {
	if f.LogAddress != nil && f.LogAddress.IsFactory() {
		return f.LogAddress.Factory
	}
	return nil
}

func (e *Engine) syncLogFragment(ctx context.Context, w filter.RequiredWork, children *childSet) ([]models.SyncLog, error) {
	est := e.estimatorFor(w.Fragment.ID)
	var fetched []models.SyncLog
	for _, want := range w.Missing {
		lo := want.Lo
		for lo <= want.Hi {
			hi := lo + est.current() - 1
			if hi > want.Hi {
				hi = want.Hi
			}

			logs, err := e.fetchLogRange(ctx, w.Filter, w.Fragment, children, lo, hi)
			if err != nil {
				var rangeErr *rpcclient.EthGetLogsRangeError
				if errors.As(err, &rangeErr) && len(rangeErr.Suggested) > 0 {
					confirmed := rangeErr.Suggested[0].To - rangeErr.Suggested[0].From + 1
					est.shrinkTo(confirmed)
					continue
				}
				return nil, fmt.Errorf("historical: fragment %s fetch [%d,%d]: %w", w.Fragment.ID, lo, hi, err)
			}

			syncLogs := toSyncLogs(w.Filter.ChainID, logs)
			if err := e.Store.WriteBatch(ctx, syncstore.Batch{
				ChainID:    w.Filter.ChainID,
				FilterID:   w.Filter.ID,
				FragmentID: w.Fragment.ID,
				Interval:   intervalset.Interval{Lo: lo, Hi: hi},
				Logs:       syncLogs,
			}); err != nil {
				return nil, fmt.Errorf("historical: fragment %s persist [%d,%d]: %w", w.Fragment.ID, lo, hi, err)
			}

			fetched = append(fetched, syncLogs...)
			est.grow()
			lo = hi + 1
		}
	}
	return fetched, nil
}

// fetchLogRange issues eth_getLogs for fragment over [lo,hi].
// A factory-backed fragment with few known children filters by address
// list directly, one call per addressBatchSize addresses; once the
// address count passes addressCardinalityThreshold
// it's cheaper to drop the address filter and post-filter client-side
// against the child set, since providers reject overly long address lists
// long before they'd reject an unfiltered range of the same width.
func (e *Engine) fetchLogRange(ctx context.Context, f models.Filter, frag fragment.Fragment, children *childSet, lo, hi uint64) ([]types.Log, error) {
	q := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(lo),
		ToBlock:   new(big.Int).SetUint64(hi),
		Topics:    topicQuery(frag.Topics),
	}

	var factory *models.Factory
	postFiltered := false
	if frag.Address != nil && frag.Address.IsFactory() {
		factory = frag.Address.Factory
		addrs := children.addresses(factory.ID)
		if len(addrs) == 0 {
			return nil, nil
		}
		if len(addrs) <= addressCardinalityThreshold {
			var logs []types.Log
			for i := 0; i < len(addrs); i += addressBatchSize {
				end := min(i+addressBatchSize, len(addrs))
				bq := q
				bq.Addresses = toCommonAddresses(addrs[i:end])
				batch, err := e.RPC.FilterLogs(ctx, bq)
				if err != nil {
					return nil, err
				}
				logs = append(logs, batch...)
			}
			return logs, nil
		} else {
			postFiltered = true
		}
	} else if frag.Address != nil {
		q.Addresses = []common.Address{common.HexToAddress(string(frag.Address.Address))}
	}

	logs, err := e.RPC.FilterLogs(ctx, q)
	if err != nil {
		return nil, err
	}
	if postFiltered {
		logs = filterByChildren(logs, factory.ID, children)
	}
	return logs, nil
}

func filterByChildren(logs []types.Log, factoryID models.FactoryID, children *childSet) []types.Log {
	out := logs[:0]
	for _, l := range logs {
		if children.Contains(factoryID, models.NewAddress(l.Address.Hex())) {
			out = append(out, l)
		}
	}
	return out
}

// topicQuery converts a TopicSet into go-ethereum's [][]common.Hash
// shape, trimming trailing wildcard slots: eth_getLogs treats a missing
// trailing slot the same as an explicit nil one, but some providers
// reject a topics array padded with nulls past the last non-wildcard
// position.
func topicQuery(topics models.TopicSet) [][]common.Hash {
	last := -1
	for i, slot := range topics {
		if len(slot) > 0 {
			last = i
		}
	}
	if last < 0 {
		return nil
	}
	out := make([][]common.Hash, last+1)
	for i := 0; i <= last; i++ {
		for _, h := range topics[i] {
			out[i] = append(out[i], common.HexToHash(string(h)))
		}
	}
	return out
}

func toCommonAddresses(addrs []models.Address) []common.Address {
	out := make([]common.Address, len(addrs))
	for i, a := range addrs {
		out[i] = common.HexToAddress(string(a))
	}
	return out
}

func toSyncLogs(chainID models.ChainID, logs []types.Log) []models.SyncLog {
	out := make([]models.SyncLog, len(logs))
	for i, l := range logs {
		topics := make([]models.Hash, len(l.Topics))
		for j, t := range l.Topics {
			topics[j] = models.NewHash(t.Hex())
		}
		out[i] = models.SyncLog{
			ChainID:          chainID,
			BlockHash:        models.NewHash(l.BlockHash.Hex()),
			BlockNumber:      l.BlockNumber,
			LogIndex:         uint(l.Index),
			TransactionHash:  models.NewHash(l.TxHash.Hex()),
			TransactionIndex: uint(l.TxIndex),
			Address:          models.NewAddress(l.Address.Hex()),
			Topics:           topics,
			Data:             l.Data,
			Removed:          l.Removed,
		}
	}
	return out
}
