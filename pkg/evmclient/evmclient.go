// Package evmclient is the single-endpoint JSON-RPC transport each
// internal/rpcclient bucket owns: an HTTP client for request/response
// calls and, optionally, a raw WebSocket connection for newHeads
// subscriptions. It does no retrying, routing, or rate limiting; that is
// internal/rpcclient's job, one layer up. It only talks to one endpoint
// and reports failures honestly.
package evmclient

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
)

// Client wraps one JSON-RPC endpoint. It does not bundle an HTTP and a
// WS endpoint together. The bucket layer owns one Client per HTTP
// endpoint and a separate WSClient per WS endpoint, since each fails
// independently and the bucket needs to see that.
type Client struct {
	raw *rpc.Client
	eth *ethclient.Client
	url string
}

// Dial connects to a single HTTP(S) or WS(S) JSON-RPC endpoint.
func Dial(ctx context.Context, url string) (*Client, error) {
	raw, err := rpc.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("evmclient: dial %s: %w", url, err)
	}
	return &Client{raw: raw, eth: ethclient.NewClient(raw), url: url}, nil
}

// URL returns the endpoint this client is bound to, for bucket-level
// identification in logs and metrics.
func (c *Client) URL() string { return c.url }

// ChainID fetches the endpoint's chain id, used once at startup to verify
// every configured endpoint for a chain actually serves that chain.
func (c *Client) ChainID(ctx context.Context) (uint64, error) {
	id, err := c.eth.ChainID(ctx)
	if err != nil {
		return 0, fmt.Errorf("evmclient: chain id: %w", err)
	}
	return id.Uint64(), nil
}

// BlockNumber returns the endpoint's current head block number.
func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	n, err := c.eth.BlockNumber(ctx)
	if err != nil {
		return 0, fmt.Errorf("evmclient: block number: %w", err)
	}
	return n, nil
}

// HeaderByNumber fetches a header. number == nil means "latest".
func (c *Client) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	h, err := c.eth.HeaderByNumber(ctx, number)
	if err != nil {
		return nil, fmt.Errorf("evmclient: header by number: %w", err)
	}
	return h, nil
}

// BlockByNumber fetches a full block, including transaction bodies.
func (c *Client) BlockByNumber(ctx context.Context, number *big.Int) (*types.Block, error) {
	b, err := c.eth.BlockByNumber(ctx, number)
	if err != nil {
		return nil, fmt.Errorf("evmclient: block by number: %w", err)
	}
	return b, nil
}

// BlockByHash fetches a full block by hash, including transaction bodies.
// Used by the realtime subscription path to re-resolve a newHeads
// notification into a fully consistent block object.
func (c *Client) BlockByHash(ctx context.Context, hash common.Hash) (*types.Block, error) {
	b, err := c.eth.BlockByHash(ctx, hash)
	if err != nil {
		return nil, fmt.Errorf("evmclient: block by hash: %w", err)
	}
	return b, nil
}

// TransactionReceipt fetches one transaction's receipt.
func (c *Client) TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	r, err := c.eth.TransactionReceipt(ctx, hash)
	if err != nil {
		return nil, fmt.Errorf("evmclient: transaction receipt: %w", err)
	}
	return r, nil
}

// BlockReceipts fetches every receipt in a block with a single
// eth_getBlockReceipts call where the endpoint supports it, falling back
// to per-transaction TransactionReceipt calls otherwise.
func (c *Client) BlockReceipts(ctx context.Context, number uint64) ([]*types.Receipt, error) {
	var receipts []*types.Receipt
	err := c.raw.CallContext(ctx, &receipts, "eth_getBlockReceipts", rpc.BlockNumber(number))
	if err == nil && receipts != nil {
		return receipts, nil
	}

	block, blockErr := c.BlockByNumber(ctx, new(big.Int).SetUint64(number))
	if blockErr != nil {
		return nil, fmt.Errorf("evmclient: block receipts fallback: %w", blockErr)
	}
	out := make([]*types.Receipt, 0, len(block.Transactions()))
	for _, tx := range block.Transactions() {
		r, err := c.TransactionReceipt(ctx, tx.Hash())
		if err != nil {
			return nil, fmt.Errorf("evmclient: receipt for tx %s: %w", tx.Hash(), err)
		}
		out = append(out, r)
	}
	return out, nil
}

// FilterLogs runs eth_getLogs for q.
func (c *Client) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	logs, err := c.eth.FilterLogs(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("evmclient: filter logs: %w", err)
	}
	return logs, nil
}

// TraceBlockByNumber runs debug_traceBlockByNumber with the call tracer,
// the trace format the trace/transfer filter kinds decode. result is
// provider-shaped JSON; callers unmarshal into the structures they need.
func (c *Client) TraceBlockByNumber(ctx context.Context, number uint64, tracer string) (any, error) {
	var result any
	params := map[string]any{"tracer": tracer}
	err := c.raw.CallContext(ctx, &result, "debug_traceBlockByNumber", rpc.BlockNumber(number), params)
	if err != nil {
		return nil, fmt.Errorf("evmclient: trace block %d: %w", number, err)
	}
	return result, nil
}

// Call issues an arbitrary JSON-RPC method, the escape hatch
// internal/rpcclient uses for provider-specific calls that don't have a
// typed wrapper here.
func (c *Client) Call(ctx context.Context, method string, params []any, result any) error {
	if err := c.raw.CallContext(ctx, result, method, params...); err != nil {
		return fmt.Errorf("evmclient: call %s: %w", method, err)
	}
	return nil
}

// Close releases the underlying connection.
func (c *Client) Close() {
	c.raw.Close()
}
