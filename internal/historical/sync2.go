package historical

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"golang.org/x/sync/errgroup"

	"github.com/evmweave/indexer/internal/filter"
	"github.com/evmweave/indexer/internal/intervalset"
	"github.com/evmweave/indexer/internal/syncstore"
	"github.com/evmweave/indexer/pkg/models"
)

// needsTraces reports whether any trace/transfer filter's range could
// cover number, meaning this block's call frames must be fetched and
// evaluated even absent a matching log.
func needsTraces(filters []models.Filter, number uint64) bool {
	for _, f := range filters {
		if f.Type != models.FilterTypeTrace && f.Type != models.FilterTypeTransfer {
			continue
		}
		if number < f.FromBlock {
			continue
		}
		if to, ok := f.EffectiveToBlock(); ok && number > to {
			continue
		}
		return true
	}
	return false
}

// needsEveryTransaction reports whether any transaction filter's range
// could cover number, forcing every transaction in the block to be
// matched rather than only those a log or trace already implicated.
func needsEveryTransaction(filters []models.Filter, number uint64) bool {
	for _, f := range filters {
		if f.Type != models.FilterTypeTransaction {
			continue
		}
		if number < f.FromBlock {
			continue
		}
		if to, ok := f.EffectiveToBlock(); ok && number > to {
			continue
		}
		return true
	}
	return false
}

// neededBlocks determines, for want, which block numbers sync2 must
// visit: any block a sync1 log landed in, any block a BlockFilter's
// cadence matches, and any block a transaction/trace/transfer filter's
// range covers (since matching those requires the block's own data,
// not just its logs).
func neededBlocks(want intervalset.Interval, filters []models.Filter, logs []models.SyncLog) map[uint64]bool {
	out := make(map[uint64]bool)
	for _, l := range logs {
		if l.BlockNumber >= want.Lo && l.BlockNumber <= want.Hi {
			out[l.BlockNumber] = true
		}
	}
	for _, f := range filters {
		switch f.Type {
		case models.FilterTypeBlock:
			addBlockCadence(out, f, want)
		case models.FilterTypeTransaction, models.FilterTypeTrace, models.FilterTypeTransfer:
			lo := want.Lo
			if f.FromBlock > lo {
				lo = f.FromBlock
			}
			hi := want.Hi
			if to, ok := f.EffectiveToBlock(); ok && to < hi {
				hi = to
			}
			for n := lo; n <= hi; n++ {
				out[n] = true
			}
		}
	}
	return out
}

func addBlockCadence(out map[uint64]bool, f models.Filter, want intervalset.Interval) {
	lo := want.Lo
	if f.FromBlock > lo {
		lo = f.FromBlock
	}
	hi := want.Hi
	if to, ok := f.EffectiveToBlock(); ok && to < hi {
		hi = to
	}
	if f.BlockInterval == 0 {
		for n := lo; n <= hi; n++ {
			out[n] = true
		}
		return
	}
	// Fast-forward lo to the first block >= lo satisfying the cadence.
	first := f.BlockOffset
	if lo > first {
		remainder := (lo - first) % f.BlockInterval
		if remainder != 0 {
			lo += f.BlockInterval - remainder
		}
	} else {
		lo = first
	}
	for n := lo; n <= hi; n += f.BlockInterval {
		out[n] = true
	}
}

// SyncBlocks fetches every block neededBlocks identifies, validates
// cross-consistency between its logs/receipts/traces, and persists
// block+transactions+receipts+traces as one logical unit per block. A
// queue of concurrency blockWorkerConcurrency drives the per-block work;
// any failure is fatal and bubbles out, the same all-or-nothing backfill
// contract sync1 and sync2 share.
func (e *Engine) SyncBlocks(ctx context.Context, want intervalset.Interval, filters []models.Filter, logs []models.SyncLog) error {
	if len(filters) == 0 {
		return nil
	}
	numbers := neededBlocks(want, filters, logs)
	if len(numbers) == 0 {
		return nil
	}

	logsByBlock := make(map[uint64][]models.SyncLog)
	for _, l := range logs {
		logsByBlock[l.BlockNumber] = append(logsByBlock[l.BlockNumber], l)
	}

	children := newChildSet(e.Store)
	for factoryID := range factoryIDs(filters) {
		if err := children.load(ctx, factoryID); err != nil {
			return fmt.Errorf("historical: load factory %s children for sync2: %w", factoryID, err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(blockWorkerConcurrency)
	for number := range numbers {
		number := number
		g.Go(func() error {
			return e.syncBlock(gctx, number, filters, logsByBlock[number], children)
		})
	}
	return g.Wait()
}

func factoryIDs(filters []models.Filter) map[models.FactoryID]bool {
	out := make(map[models.FactoryID]bool)
	for _, f := range filters {
		for _, a := range []*models.AddressOrFactory{f.LogAddress, f.FromAddress, f.ToAddress} {
			if a != nil && a.IsFactory() {
				out[a.Factory.ID] = true
			}
		}
	}
	return out
}

func (e *Engine) syncBlock(ctx context.Context, number uint64, filters []models.Filter, blockLogs []models.SyncLog, children *childSet) error {
	block, err := e.RPC.BlockByNumber(ctx, number)
	if err != nil {
		return fmt.Errorf("historical: block %d: %w", number, err)
	}
	blockHash := models.NewHash(block.Hash().Hex())

	for _, l := range blockLogs {
		if l.TransactionHash == "" || l.TransactionHash == models.NewHash(common.Hash{}.Hex()) {
			e.Logger.Debug().Uint64("block", number).Msg("zero-hash transaction hash in log, skipping")
			continue
		}
		if l.BlockHash != blockHash {
			return fmt.Errorf("historical: log in block %d references wrong block hash %s != %s", number, l.BlockHash, blockHash)
		}
	}

	matchedTxHashes := make(map[models.Hash]bool)
	for _, l := range blockLogs {
		if l.TransactionHash != "" {
			matchedTxHashes[l.TransactionHash] = true
		}
	}

	var traces []models.SyncTrace
	if needsTraces(filters, number) {
		traces, err = e.traceBlock(ctx, number, blockHash, block, children, filters)
		if err != nil {
			return fmt.Errorf("historical: trace block %d: %w", number, err)
		}
		for _, tr := range traces {
			matchedTxHashes[tr.TransactionHash] = true
		}
	}

	everyTx := needsEveryTransaction(filters, number)
	var matchedTxs []models.SyncTransaction
	for _, tx := range block.Transactions() {
		hash := models.NewHash(tx.Hash().Hex())
		var to *models.Address
		if tx.To() != nil {
			a := models.NewAddress(tx.To().Hex())
			to = &a
		}
		from, ferr := types.Sender(types.LatestSignerForChainID(tx.ChainId()), tx)
		var fromAddr models.Address
		if ferr == nil {
			fromAddr = models.NewAddress(from.Hex())
		}

		matches := matchedTxHashes[hash]
		if !matches && everyTx {
			matches = matchesAnyTransactionFilter(filters, children, fromAddr, to, tx.Value())
		}
		if !matches {
			continue
		}

		matchedTxHashes[hash] = true
		matchedTxs = append(matchedTxs, models.SyncTransaction{
			ChainID:     filters[0].ChainID,
			Hash:        hash,
			BlockHash:   blockHash,
			BlockNumber: number,
			Index:       uint(transactionIndex(block, tx)),
			From:        fromAddr,
			To:          to,
			Value:       tx.Value(),
			Input:       tx.Data(),
		})
	}

	receipts, err := e.fetchReceipts(ctx, number, block, matchedTxHashes)
	if err != nil {
		return fmt.Errorf("historical: receipts for block %d: %w", number, err)
	}
	for _, r := range receipts {
		if r.BlockHash != blockHash {
			return fmt.Errorf("historical: receipt %s references wrong block hash %s != %s", r.TransactionHash, r.BlockHash, blockHash)
		}
	}

	syncBlock := models.SyncBlock{
		ChainID:    filters[0].ChainID,
		Number:     number,
		Hash:       blockHash,
		ParentHash: models.NewHash(block.ParentHash().Hex()),
		Timestamp:  block.Time(),
		LogsBloom:  block.Bloom().Bytes(),
	}

	if err := e.Store.WriteBatch(ctx, syncstore.Batch{
		ChainID:      filters[0].ChainID,
		Blocks:       []models.SyncBlock{syncBlock},
		Transactions: matchedTxs,
		Receipts:     receipts,
		Traces:       traces,
	}); err != nil {
		return err
	}
	e.recordBlockIndexed()
	return nil
}

func transactionIndex(block *types.Block, target *types.Transaction) int {
	for i, tx := range block.Transactions() {
		if tx.Hash() == target.Hash() {
			return i
		}
	}
	return -1
}

func matchesAnyTransactionFilter(filters []models.Filter, children filter.ChildAddressSet, from models.Address, to *models.Address, value *big.Int) bool {
	for _, f := range filters {
		if f.Type != models.FilterTypeTransaction {
			continue
		}
		if filter.MatchTransaction(f, children, from, to, value) {
			return true
		}
	}
	return false
}

// fetchReceipts prefers eth_getBlockReceipts; once that method has
// failed once this run, it's permanently skipped in favor of per-hash
// eth_getTransactionReceipt calls, since a provider that lacks the
// batch method won't suddenly gain it mid-run.
func (e *Engine) fetchReceipts(ctx context.Context, number uint64, block *types.Block, matched map[models.Hash]bool) ([]models.SyncReceipt, error) {
	blockHash := models.NewHash(block.Hash().Hex())

	if !e.receiptsFallback() {
		receipts, err := e.RPC.BlockReceipts(ctx, number)
		if err == nil {
			return toSyncReceipts(blockHash, receipts, matched), nil
		}
		e.setReceiptsFallback()
	}

	var out []models.SyncReceipt
	for _, tx := range block.Transactions() {
		hash := models.NewHash(tx.Hash().Hex())
		if !matched[hash] {
			continue
		}
		r, err := e.RPC.TransactionReceipt(ctx, tx.Hash())
		if err != nil {
			return nil, err
		}
		out = append(out, toSyncReceipt(blockHash, r))
	}
	return out, nil
}

func toSyncReceipts(blockHash models.Hash, receipts []*types.Receipt, matched map[models.Hash]bool) []models.SyncReceipt {
	out := make([]models.SyncReceipt, 0, len(receipts))
	for _, r := range receipts {
		hash := models.NewHash(r.TxHash.Hex())
		if !matched[hash] {
			continue
		}
		out = append(out, toSyncReceipt(blockHash, r))
	}
	return out
}

func toSyncReceipt(blockHash models.Hash, r *types.Receipt) models.SyncReceipt {
	var contractAddr *models.Address
	if r.ContractAddress != (common.Address{}) {
		a := models.NewAddress(r.ContractAddress.Hex())
		contractAddr = &a
	}
	return models.SyncReceipt{
		TransactionHash:   models.NewHash(r.TxHash.Hex()),
		BlockHash:         blockHash,
		Status:            r.Status,
		GasUsed:           r.GasUsed,
		CumulativeGasUsed: r.CumulativeGasUsed,
		ContractAddress:   contractAddr,
		LogsBloom:         r.Bloom.Bytes(),
	}
}

type callFrame struct {
	Type   string      `json:"type"`
	From   string      `json:"from"`
	To     string      `json:"to"`
	Value  string      `json:"value"`
	Input  string      `json:"input"`
	Output string      `json:"output"`
	Error  string      `json:"error"`
	Calls  []callFrame `json:"calls"`
	TxHash string      `json:"txHash"`
	Result *callFrame  `json:"result"`
}

func (e *Engine) traceBlock(ctx context.Context, number uint64, blockHash models.Hash, block *types.Block, children *childSet, filters []models.Filter) ([]models.SyncTrace, error) {
	raw, err := e.RPC.TraceBlockByNumber(ctx, number, "callTracer")
	if err != nil {
		return nil, err
	}

	encoded, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("historical: re-encode trace result: %w", err)
	}
	var frames []callFrame
	if err := json.Unmarshal(encoded, &frames); err != nil {
		return nil, fmt.Errorf("historical: decode trace result: %w", err)
	}

	txHashes := make(map[string]bool, len(block.Transactions()))
	for _, tx := range block.Transactions() {
		txHashes[tx.Hash().Hex()] = true
	}

	var out []models.SyncTrace
	for _, f := range frames {
		if f.TxHash == "" || f.Result == nil {
			continue
		}
		if !txHashes[f.TxHash] {
			return nil, fmt.Errorf("historical: trace transactionHash %s not in block %d", f.TxHash, number)
		}
		out = append(out, flattenTrace(filters, children, blockHash, number, models.NewHash(f.TxHash), *f.Result, nil)...)
	}
	return out, nil
}

// flattenTrace walks a callTracer frame tree preorder, assigning each
// frame its tree-path TraceAddress, and keeps only frames a registered
// trace/transfer filter actually matches.
func flattenTrace(filters []models.Filter, children filter.ChildAddressSet, blockHash models.Hash, number uint64, txHash models.Hash, f callFrame, path []int) []models.SyncTrace {
	var out []models.SyncTrace

	value := new(big.Int)
	if f.Value != "" {
		value.SetString(trimHexPrefix(f.Value), 16)
	}
	var to *models.Address
	if f.To != "" {
		a := models.NewAddress(f.To)
		to = &a
	}
	candidate := filter.TraceCandidate{
		Type:  models.CallType(lowerCallType(f.Type)),
		From:  models.NewAddress(f.From),
		To:    to,
		Value: value,
	}

	for _, fl := range filters {
		if fl.Type != models.FilterTypeTrace && fl.Type != models.FilterTypeTransfer {
			continue
		}
		if filter.MatchTraceOrTransfer(fl, children, candidate) {
			traceAddr := append([]int(nil), path...)
			out = append(out, models.SyncTrace{
				TransactionHash: txHash,
				BlockHash:       blockHash,
				BlockNumber:     number,
				TraceAddress:    traceAddr,
				Type:            candidate.Type,
				From:            candidate.From,
				To:              to,
				Value:           value,
				Error:           f.Error,
			})
			break
		}
	}

	for i, child := range f.Calls {
		childPath := append(append([]int(nil), path...), i)
		out = append(out, flattenTrace(filters, children, blockHash, number, txHash, child, childPath)...)
	}
	return out
}

func lowerCallType(t string) string {
	switch t {
	case "CALL", "call":
		return "call"
	case "DELEGATECALL", "delegatecall":
		return "delegatecall"
	case "STATICCALL", "staticcall":
		return "staticcall"
	case "CREATE", "CREATE2", "create", "create2":
		return "create"
	default:
		return t
	}
}

func trimHexPrefix(s string) string {
	if len(s) > 1 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		return s[2:]
	}
	return s
}

func (e *Engine) receiptsFallback() bool {
	e.receiptsMu.Lock()
	defer e.receiptsMu.Unlock()
	return e.receiptsPerHash
}

func (e *Engine) setReceiptsFallback() {
	e.receiptsMu.Lock()
	defer e.receiptsMu.Unlock()
	e.receiptsPerHash = true
}
