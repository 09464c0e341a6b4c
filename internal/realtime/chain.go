// Package realtime maintains, per chain, a bounded hash-linked buffer of
// unfinalized blocks and reconciles it against newly observed heads:
// happy-path extension, gap fill, shallow-reorg repair by walking to the
// common ancestor, and finalization-checkpoint advance.
//
// Unlike a confirmation-depth-only syncer that waits N blocks and never
// looks back, this package keeps the explicit hash-linked buffer and
// reorg walk needed to detect, repair, and report reorgs as they happen,
// in the shape of the priority-queue-by-block-number head processing
// pattern common to EVM chain-watcher code.
package realtime

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/evmweave/indexer/internal/errclass"
	"github.com/evmweave/indexer/internal/filter"
	"github.com/evmweave/indexer/internal/metrics"
	"github.com/evmweave/indexer/internal/rpcclient"
	"github.com/evmweave/indexer/pkg/models"
)

// gapFillConcurrency bounds concurrent eth_getBlockByNumber calls when
// catching up a gap between the local head and a newly observed block.
const gapFillConcurrency = 10

// Kind tags which variant of Event is populated.
type Kind uint8

const (
	KindBlock Kind = iota
	KindReorg
	KindFinalize
)

// Event is one item of the realtime stream the omnichain driver
// consumes, in the order this package produced it.
type Event struct {
	Kind    Kind
	ChainID models.ChainID

	Block    *BlockEvent
	Reorg    *ReorgEvent
	Finalize *FinalizeEvent
}

// BlockEvent is one block accepted onto the canonical unfinalized chain,
// plus the logs matched against the chain's registered log filters.
type BlockEvent struct {
	Block models.LightBlock
	Logs  []models.SyncLog
}

// ReorgEvent reports a detected, repaired shallow reorg: the local chain
// has already been truncated back to CommonAncestor by the time this is
// emitted, and Replayed is the canonical chain from just after the
// ancestor up through the new head, in the order it was (or is about to
// be) re-applied as BlockEvents.
type ReorgEvent struct {
	CommonAncestor models.LightBlock
	Depth          uint64
	Replayed       []models.LightBlock
}

// FinalizeEvent reports that the finalized watermark advanced.
type FinalizeEvent struct {
	FinalizedNumber uint64
}

// DeepReorgError is raised when the ancestor walk reaches the finalized
// block without finding a common ancestor with the local chain. A reorg
// past the finalized watermark is treated as fatal and requires manual
// intervention rather than automatic repair.
type DeepReorgError struct {
	ChainID        models.ChainID
	MinimumDepth   uint64
	FinalizedBlock uint64
}

func (e *DeepReorgError) Error() string {
	return fmt.Sprintf("realtime: chain %d: reorg deeper than finalized block %d (minimum depth %d), manual intervention required",
		e.ChainID, e.FinalizedBlock, e.MinimumDepth)
}
func (e *DeepReorgError) Class() errclass.Class { return errclass.Fatal }

// unfinalizedChain is the hash-linked buffer starting at the last
// finalized block. blocks[0] is always the finalized block itself;
// blocks[i].ParentHash == blocks[i-1].Hash for every i>0.
type unfinalizedChain struct {
	mu     sync.Mutex
	blocks []models.LightBlock
}

func newUnfinalizedChain(finalized models.LightBlock) *unfinalizedChain {
	return &unfinalizedChain{blocks: []models.LightBlock{finalized}}
}

func (c *unfinalizedChain) head() models.LightBlock {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.blocks[len(c.blocks)-1]
}

func (c *unfinalizedChain) finalized() models.LightBlock {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.blocks[0]
}

func (c *unfinalizedChain) contains(hash models.Hash) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, b := range c.blocks {
		if b.Hash == hash {
			return true
		}
	}
	return false
}

func (c *unfinalizedChain) indexOf(hash models.Hash) (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, b := range c.blocks {
		if b.Hash == hash {
			return i, true
		}
	}
	return 0, false
}

func (c *unfinalizedChain) append(b models.LightBlock) {
	c.mu.Lock()
	c.blocks = append(c.blocks, b)
	c.mu.Unlock()
}

// advanceFinalization moves the finalized watermark to newFinalized,
// pruning every block strictly older than it. Reports ok=false if
// newFinalized isn't present in the buffer (shouldn't happen given the
// spec's 2F/3F bounds, but defends against a caller error rather than
// corrupting the buffer).
func (c *unfinalizedChain) advanceFinalization(newFinalizedNumber uint64) (models.LightBlock, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, b := range c.blocks {
		if b.Number == newFinalizedNumber {
			c.blocks = c.blocks[i:]
			return b, true
		}
	}
	return models.LightBlock{}, false
}

func (c *unfinalizedChain) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.blocks)
}

// Engine drives realtime sync and reorg reconciliation for one chain.
type Engine struct {
	Chain   models.Chain
	RPC     *rpcclient.Client
	Filters []models.Filter
	Logger  zerolog.Logger
	Metrics *metrics.Registry

	queue *candidateQueue
	chain *unfinalizedChain
	out   chan Event
}

// New builds an Engine for chain. Run must be called once to bootstrap
// the unfinalized buffer and start consuming head blocks.
func New(chain models.Chain, rpc *rpcclient.Client, filters []models.Filter, logger zerolog.Logger, reg *metrics.Registry) *Engine {
	return &Engine{
		Chain:   chain,
		RPC:     rpc,
		Filters: filters,
		Logger:  logger.With().Str("component", "realtime").Str("chain", chain.Name).Logger(),
		Metrics: reg,
		queue:   newCandidateQueue(),
		out:     make(chan Event, 64),
	}
}

// Events returns the channel realtime events are published on. The
// omnichain driver is the sole consumer.
func (e *Engine) Events() <-chan Event { return e.out }

// Run bootstraps the unfinalized chain from the current head and
// finality depth, then subscribes to new heads and drives the
// concurrency-1 reconciliation worker until ctx is canceled or a
// DeepReorgError occurs.
func (e *Engine) Run(ctx context.Context) error {
	if err := e.bootstrap(ctx); err != nil {
		return fmt.Errorf("realtime: bootstrap: %w", err)
	}

	sub := e.RPC.Subscribe(ctx, e.Chain.WSEndpoint, e.Chain.PollInterval,
		func(b *types.Block) { e.queue.push(lightBlockOf(b)) },
		func(err error) { e.Logger.Warn().Err(err).Msg("head subscription error") },
		&e.Logger,
	)
	defer sub.Unsubscribe()

	go func() {
		<-ctx.Done()
		e.queue.close()
	}()

	for {
		cand, ok := e.queue.pop()
		if !ok {
			return nil
		}
		if err := e.process(ctx, cand); err != nil {
			var deep *DeepReorgError
			if errors.As(err, &deep) {
				e.Logger.Error().Err(err).Msg("deep reorg detected, stopping chain")
			}
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

// bootstrap computes the initial finalized block (head - F, floored at
// 0) and seeds the unfinalized chain with it, per scenario 1: latest
// block 50, F=10 -> finalized=40; latest 50, F=75 -> finalized=0.
func (e *Engine) bootstrap(ctx context.Context) error {
	latest, err := e.RPC.BlockNumber(ctx)
	if err != nil {
		return err
	}
	var finalizedNumber uint64
	if latest > e.Chain.FinalityDepth {
		finalizedNumber = latest - e.Chain.FinalityDepth
	}
	block, err := e.RPC.BlockByNumber(ctx, finalizedNumber)
	if err != nil {
		return err
	}
	e.chain = newUnfinalizedChain(lightBlockOf(block))
	return nil
}

// process applies one candidate head to the local chain via a four-way
// branch: already-seen no-op, gap fill, happy-path extension, or fork
// walk. Gap-fill and fork-replay recurse into process for each
// intermediate block in strictly ascending order, rather than routing
// them back through the priority queue. Queue priority is "highest
// number first", so a catch-up run re-entering the queue could be
// reordered and break the parent-hash chaining the happy path depends
// on. Recursing keeps replayed blocks in ascending order instead.
func (e *Engine) process(ctx context.Context, cand models.LightBlock) error {
	if e.chain.contains(cand.Hash) {
		return nil
	}

	head := e.chain.head()

	if cand.Number > head.Number+1 {
		return e.fillGap(ctx, head, cand)
	}

	if cand.Number == head.Number+1 && cand.ParentHash == head.Hash {
		return e.extend(ctx, cand)
	}

	return e.reconcileFork(ctx, cand)
}

// fillGap fetches the missing range (head.Number+1 .. cand.Number-1)
// concurrently, then replays every block including cand through process
// in ascending order.
func (e *Engine) fillGap(ctx context.Context, head, cand models.LightBlock) error {
	lo, hi := head.Number+1, cand.Number-1
	fetched := make([]models.LightBlock, hi-lo+1)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(gapFillConcurrency)
	for n := lo; n <= hi; n++ {
		n := n
		g.Go(func() error {
			b, err := e.RPC.BlockByNumber(gctx, n)
			if err != nil {
				return fmt.Errorf("realtime: gap fill block %d: %w", n, err)
			}
			fetched[n-lo] = lightBlockOf(b)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	e.Logger.Info().Uint64("from", lo).Uint64("to", hi).Msg("filled gap in unfinalized chain")
	for _, b := range fetched {
		if err := e.process(ctx, b); err != nil {
			return err
		}
	}
	return e.process(ctx, cand)
}

// extend is the happy path: cand directly extends head. Matching logs
// are fetched before the block is appended so a reader never observes
// BlockEvent without its logs.
func (e *Engine) extend(ctx context.Context, cand models.LightBlock) error {
	logs, err := e.matchedLogs(ctx, cand)
	if err != nil {
		return fmt.Errorf("realtime: fetch logs for block %d: %w", cand.Number, err)
	}

	e.chain.append(cand)
	e.emit(Event{Kind: KindBlock, ChainID: e.Chain.ID, Block: &BlockEvent{Block: cand, Logs: logs}})
	e.recordBlockIndexed()

	return e.maybeAdvanceFinalization(cand.Number)
}

// maybeAdvanceFinalization moves the finalized watermark forward by F
// once the chain has extended 2F past it.
func (e *Engine) maybeAdvanceFinalization(headNumber uint64) error {
	finalized := e.chain.finalized()
	f := e.Chain.FinalityDepth
	if headNumber <= finalized.Number+2*f {
		return nil
	}
	newFinalizedNumber := finalized.Number + f
	if _, ok := e.chain.advanceFinalization(newFinalizedNumber); !ok {
		return fmt.Errorf("realtime: finalized block %d not found in local chain", newFinalizedNumber)
	}
	e.emit(Event{Kind: KindFinalize, ChainID: e.Chain.ID, Finalize: &FinalizeEvent{FinalizedNumber: newFinalizedNumber}})
	return nil
}

// reconcileFork walks backward from cand via eth_getBlockByHash until a
// parent hash is found inside the local chain (common ancestor) or the
// walk reaches the finalized block without finding one (deep reorg).
func (e *Engine) reconcileFork(ctx context.Context, cand models.LightBlock) error {
	finalized := e.chain.finalized()

	var collected []models.LightBlock // newest-first
	cur := cand
	var depth uint64
	for {
		collected = append(collected, cur)

		if idx, ok := e.chain.indexOf(cur.ParentHash); ok {
			return e.repairFork(idx, uint64(len(collected)), collected)
		}

		if cur.Number <= finalized.Number {
			e.recordReorg("deep")
			return &DeepReorgError{ChainID: e.Chain.ID, MinimumDepth: depth, FinalizedBlock: finalized.Number}
		}

		parentBlock, err := e.RPC.BlockByHash(ctx, common.HexToHash(string(cur.ParentHash)))
		if err != nil {
			return fmt.Errorf("realtime: fork walk fetch %s: %w", cur.ParentHash, err)
		}
		cur = lightBlockOf(parentBlock)
		depth++
	}
}

// repairFork truncates the local chain to the common ancestor at index
// idx, clears any queued candidates (they may belong to the losing
// fork), emits the reorg, and replays the canonical chain ascending.
func (e *Engine) repairFork(idx int, depth uint64, collectedNewestFirst []models.LightBlock) error {
	ancestor := e.truncateTo(idx)
	e.queue.clear()

	replayed := make([]models.LightBlock, len(collectedNewestFirst))
	for i, b := range collectedNewestFirst {
		replayed[len(replayed)-1-i] = b
	}

	e.recordReorg("shallow")
	if e.Metrics != nil {
		e.Metrics.ReorgDepth.WithLabelValues(e.Chain.Name).Observe(float64(depth))
	}
	e.emit(Event{
		Kind:    KindReorg,
		ChainID: e.Chain.ID,
		Reorg:   &ReorgEvent{CommonAncestor: ancestor, Depth: depth, Replayed: replayed},
	})

	ctx := context.Background()
	for _, b := range replayed {
		if err := e.process(ctx, b); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) truncateTo(idx int) models.LightBlock {
	e.chain.mu.Lock()
	defer e.chain.mu.Unlock()
	ancestor := e.chain.blocks[idx]
	e.chain.blocks = e.chain.blocks[:idx+1]
	return ancestor
}

// matchedLogs fetches every log in cand's block and returns the ones
// that satisfy at least one registered log filter. The RPC call is
// skipped only when no log filter is registered; bloomMightMatch never
// rules a block out.
func (e *Engine) matchedLogs(ctx context.Context, cand models.LightBlock) ([]models.SyncLog, error) {
	logFilters := logFiltersOf(e.Filters)
	if len(logFilters) == 0 {
		return nil, nil
	}
	if !e.bloomMightMatch(cand, logFilters) {
		return nil, nil
	}

	hash := common.HexToHash(string(cand.Hash))
	rawLogs, err := e.RPC.FilterLogs(ctx, ethereum.FilterQuery{BlockHash: &hash})
	if err != nil {
		return nil, err
	}

	var out []models.SyncLog
	for _, l := range rawLogs {
		topics := make([]models.Hash, len(l.Topics))
		for i, t := range l.Topics {
			topics[i] = models.NewHash(t.Hex())
		}
		addr := models.NewAddress(l.Address.Hex())
		for _, f := range logFilters {
			if filter.MatchLog(f, nil, addr, topics) {
				out = append(out, toSyncLog(e.Chain.ID, l, topics))
				break
			}
		}
	}
	return out, nil
}

func logFiltersOf(filters []models.Filter) []models.Filter {
	var out []models.Filter
	for _, f := range filters {
		if f.Type == models.FilterTypeLog {
			out = append(out, f)
		}
	}
	return out
}

// bloomMightMatch always reports true: LightBlock carries no logs bloom,
// so no block is ruled out before its logs are fetched.
func (e *Engine) bloomMightMatch(cand models.LightBlock, filters []models.Filter) bool {
	return true
}

func toSyncLog(chainID models.ChainID, l types.Log, topics []models.Hash) models.SyncLog {
	return models.SyncLog{
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

func lightBlockOf(b *types.Block) models.LightBlock {
	return models.LightBlock{
		Number:     b.NumberU64(),
		Hash:       models.NewHash(b.Hash().Hex()),
		ParentHash: models.NewHash(b.ParentHash().Hex()),
		Timestamp:  b.Time(),
	}
}

func (e *Engine) emit(ev Event) {
	if len(e.out) > 1 {
		e.Logger.Warn().Int("occupancy", len(e.out)).Msg("realtime event channel backpressure")
	}
	e.out <- ev
}

func (e *Engine) recordBlockIndexed() {
	if e.Metrics == nil {
		return
	}
	e.Metrics.BlocksIndexed.WithLabelValues(e.Chain.Name, "realtime").Inc()
}

func (e *Engine) recordReorg(kind string) {
	if e.Metrics == nil {
		return
	}
	e.Metrics.ReorgsDetected.WithLabelValues(e.Chain.Name, kind).Inc()
}

// Len reports the current unfinalized buffer length, for tests and the
// "bounded ~3F" invariant check.
func (e *Engine) Len() int { return e.chain.len() }
