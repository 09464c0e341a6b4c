package omnichain

import (
	"container/heap"
	"context"
	"fmt"

	"github.com/evmweave/indexer/internal/syncstore"
	"github.com/evmweave/indexer/pkg/models"
)

// eventPageSize bounds how many sync-store rows a source fetches per
// page, the in-memory lookahead the zipper keeps per (chain, filter)
// pair while merging.
const eventPageSize = 200

// eventSource pages models.Event rows out of the sync store for one
// (chain, filter) pair, in checkpoint order, refilling its buffer from
// syncstore.Events on demand.
type eventSource struct {
	driver *Driver
	chain  models.Chain
	filter models.Filter
	toBlk  uint64

	buf       []models.Event
	cursor    string
	exhausted bool
}

func newEventSource(d *Driver, chain models.Chain, filter models.Filter, toBlock uint64) *eventSource {
	return &eventSource{driver: d, chain: chain, filter: filter, toBlk: toBlock}
}

func (s *eventSource) fill(ctx context.Context) error {
	if len(s.buf) > 0 || s.exhausted {
		return nil
	}
	page, err := s.driver.SyncStore.Events(ctx, syncstore.EventQuery{
		ChainID:   s.chain.ID,
		FilterID:  s.filter.ID,
		FromBlock: s.filter.FromBlock,
		ToBlock:   s.toBlk,
		After:     s.cursor,
		Limit:     eventPageSize,
	})
	if err != nil {
		return fmt.Errorf("omnichain: page events for chain %d filter %s: %w", s.chain.ID, s.filter.ID, err)
	}
	for _, log := range page.Logs {
		ev, err := s.driver.toLogEvent(ctx, s.chain, s.filter, log)
		if err != nil {
			return err
		}
		s.buf = append(s.buf, ev)
	}
	s.cursor = page.EndCursor
	if !page.HasNextPage {
		s.exhausted = true
	}
	return nil
}

func (s *eventSource) peek(ctx context.Context) (models.Event, bool, error) {
	if err := s.fill(ctx); err != nil {
		return models.Event{}, false, err
	}
	if len(s.buf) == 0 {
		return models.Event{}, false, nil
	}
	return s.buf[0], true, nil
}

func (s *eventSource) pop() {
	s.buf = s.buf[1:]
}

// toLogEvent converts a persisted log row into the tagged event a
// handler receives, resolving the block timestamp the checkpoint's
// global order needs but models.SyncLog doesn't itself carry.
func (d *Driver) toLogEvent(ctx context.Context, chain models.Chain, filter models.Filter, log models.SyncLog) (models.Event, error) {
	ts, err := d.blockTimestamp(ctx, chain.ID, log.BlockNumber)
	if err != nil {
		return models.Event{}, err
	}
	l := log
	return models.Event{
		Type:     models.EventKindLog,
		ChainID:  chain.ID,
		FilterID: filter.ID,
		Checkpoint: models.Checkpoint{
			BlockTimestamp:   ts,
			ChainID:          chain.ID,
			BlockNumber:      log.BlockNumber,
			TransactionIndex: uint32(log.TransactionIndex),
			EventType:        models.EventKindLog,
			LogIndex:         uint32(log.LogIndex),
		},
		Log: &l,
	}, nil
}

// zipperItem is one source's current head event, ordered into the merge
// heap by Checkpoint.Less with chain id as the built-in tiebreak (it's
// already a Checkpoint field, so no separate stable-sort bookkeeping is
// needed).
type zipperItem struct {
	event  models.Event
	source *eventSource
}

type zipperHeap []zipperItem

func (h zipperHeap) Len() int { return len(h) }
func (h zipperHeap) Less(i, j int) bool {
	return h[i].event.Checkpoint.Less(h[j].event.Checkpoint)
}
func (h zipperHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *zipperHeap) Push(x any)   { *h = append(*h, x.(zipperItem)) }
func (h *zipperHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// zipper merges a fixed set of eventSources into one ascending-checkpoint
// stream, zippered by checkpoint with chain id as the stable tiebreaker.
type zipper struct {
	sources []*eventSource
	h       zipperHeap
	primed  bool
}

func newZipper(sources []*eventSource) *zipper {
	return &zipper{sources: sources}
}

func (z *zipper) prime(ctx context.Context) error {
	if z.primed {
		return nil
	}
	z.primed = true
	z.h = make(zipperHeap, 0, len(z.sources))
	for _, s := range z.sources {
		ev, ok, err := s.peek(ctx)
		if err != nil {
			return err
		}
		if ok {
			z.h = append(z.h, zipperItem{event: ev, source: s})
		}
	}
	heap.Init(&z.h)
	return nil
}

// next pops the globally-next event, or ok=false once every source is
// exhausted.
func (z *zipper) next(ctx context.Context) (models.Event, bool, error) {
	if err := z.prime(ctx); err != nil {
		return models.Event{}, false, err
	}
	if z.h.Len() == 0 {
		return models.Event{}, false, nil
	}
	item := heap.Pop(&z.h).(zipperItem)
	item.source.pop()

	nextEv, ok, err := item.source.peek(ctx)
	if err != nil {
		return models.Event{}, false, err
	}
	if ok {
		heap.Push(&z.h, zipperItem{event: nextEv, source: item.source})
	}
	return item.event, true, nil
}
