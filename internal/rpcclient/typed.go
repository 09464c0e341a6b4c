package rpcclient

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/evmweave/indexer/internal/errclass"
	"github.com/evmweave/indexer/pkg/evmclient"
)

// withRetry runs fn against a chosen bucket's underlying typed client,
// applying the same bucket-selection, retry, and classification policy
// as Request. Only the transport call itself differs (a typed
// ethclient method instead of a raw JSON-RPC Call), since historical
// and realtime sync need decoded go-ethereum types, not json.RawMessage.
func withRetry[T any](ctx context.Context, c *Client, method string, fn func(context.Context, *evmclient.Client) (T, error)) (T, error) {
	var zero T
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return zero, err
	}
	defer c.sem.Release(1)

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		b, err := c.choose(ctx)
		if err != nil {
			return zero, err
		}

		b.beginRequest()
		start := time.Now()
		callCtx, cancel := context.WithTimeout(ctx, perCallTimeout)
		result, err := fn(callCtx, b.client)
		cancel()
		latency := time.Since(start)

		if err == nil {
			b.recordSuccess(latency)
			return result, nil
		}

		if callCtx.Err() != nil {
			b.recordFailure(latency)
			lastErr = &TimeoutError{Method: method, Bucket: b.name, Err: err}
		} else {
			code, status := extractCodeStatus(err)
			class := classifyCode(code)
			if status != 0 {
				class = classifyHTTPStatus(status)
			}
			if class == errclass.Retryable {
				b.recordFailure(latency)
			} else {
				b.mu.Lock()
				b.activeConnections--
				b.mu.Unlock()
			}
			lastErr = &RPCRequestError{Chain: c.chainName, Method: method, Bucket: b.name, Code: code, class: class, Err: err}
		}

		if errclass.ClassOf(lastErr) != errclass.Retryable {
			return zero, lastErr
		}
		if attempt == maxRetries {
			break
		}
		wait := time.Duration(float64(retryBaseWait) * pow2(attempt))
		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(wait):
		}
	}
	return zero, lastErr
}

// BlockByNumber fetches a full block, retrying per the standard policy.
func (c *Client) BlockByNumber(ctx context.Context, number uint64) (*types.Block, error) {
	return withRetry(ctx, c, "eth_getBlockByNumber", func(cctx context.Context, cl *evmclient.Client) (*types.Block, error) {
		return cl.BlockByNumber(cctx, new(big.Int).SetUint64(number))
	})
}

// BlockByHash fetches a full block by hash.
func (c *Client) BlockByHash(ctx context.Context, hash common.Hash) (*types.Block, error) {
	return withRetry(ctx, c, "eth_getBlockByHash", func(cctx context.Context, cl *evmclient.Client) (*types.Block, error) {
		return cl.BlockByHash(cctx, hash)
	})
}

// BlockReceipts fetches every receipt in a block.
func (c *Client) BlockReceipts(ctx context.Context, number uint64) ([]*types.Receipt, error) {
	return withRetry(ctx, c, "eth_getBlockReceipts", func(cctx context.Context, cl *evmclient.Client) ([]*types.Receipt, error) {
		return cl.BlockReceipts(cctx, number)
	})
}

// TransactionReceipt fetches one transaction's receipt.
func (c *Client) TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	return withRetry(ctx, c, "eth_getTransactionReceipt", func(cctx context.Context, cl *evmclient.Client) (*types.Receipt, error) {
		return cl.TransactionReceipt(cctx, hash)
	})
}

// FilterLogs runs eth_getLogs. On a range-rejection the returned error
// unwraps (via errors.As) to an *EthGetLogsRangeError the caller's
// range adapter can inspect for suggested sub-ranges.
func (c *Client) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	logs, err := withRetry(ctx, c, "eth_getLogs", func(cctx context.Context, cl *evmclient.Client) ([]types.Log, error) {
		return cl.FilterLogs(cctx, q)
	})
	if err != nil {
		if rangeErr := asRangeError(filterQueryParams(q), err); rangeErr != nil {
			return nil, rangeErr
		}
	}
	return logs, err
}

func filterQueryParams(q ethereum.FilterQuery) []any {
	m := map[string]any{}
	if q.FromBlock != nil {
		m["fromBlock"] = "0x" + q.FromBlock.Text(16)
	}
	if q.ToBlock != nil {
		m["toBlock"] = "0x" + q.ToBlock.Text(16)
	}
	return []any{m}
}

// TraceBlockByNumber runs debug_traceBlockByNumber with the call tracer.
func (c *Client) TraceBlockByNumber(ctx context.Context, number uint64, tracer string) (any, error) {
	return withRetry(ctx, c, "debug_traceBlockByNumber", func(cctx context.Context, cl *evmclient.Client) (any, error) {
		return cl.TraceBlockByNumber(cctx, number, tracer)
	})
}

// BlockNumber returns the chain's current head block number.
func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	return withRetry(ctx, c, "eth_blockNumber", func(cctx context.Context, cl *evmclient.Client) (uint64, error) {
		return cl.BlockNumber(cctx)
	})
}
