package rpcclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/evmweave/indexer/pkg/evmclient"
	"github.com/evmweave/indexer/pkg/models"
)

func newTestRouter(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cl, err := evmclient.Dial(context.Background(), srv.URL)
	require.NoError(t, err)
	t.Cleanup(cl.Close)

	return New("testchain", models.ChainID(1), []*evmclient.Client{cl})
}

func jsonRPCHandler(t *testing.T, result func(method string, params json.RawMessage) (any, *rpcErrorBody)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID     json.RawMessage `json:"id"`
			Method string          `json:"method"`
			Params json.RawMessage `json:"params"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		res, rpcErr := result(req.Method, req.Params)
		resp := map[string]any{"jsonrpc": "2.0", "id": json.RawMessage(req.ID)}
		if rpcErr != nil {
			resp["error"] = rpcErr
		} else {
			resp["result"] = res
		}
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}
}

type rpcErrorBody struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func TestRequestSucceedsOnHealthyBucket(t *testing.T) {
	c := newTestRouter(t, jsonRPCHandler(t, func(method string, params json.RawMessage) (any, *rpcErrorBody) {
		return "0x89", nil
	}))

	var result string
	err := c.Request(context.Background(), "eth_chainId", nil, &result)
	require.NoError(t, err)
	require.Equal(t, "0x89", result)
}

func TestRequestRetriesRetryableErrorsThenFails(t *testing.T) {
	var calls int32
	c := newTestRouter(t, jsonRPCHandler(t, func(method string, params json.RawMessage) (any, *rpcErrorBody) {
		atomic.AddInt32(&calls, 1)
		return nil, &rpcErrorBody{Code: -32000, Message: "rate limited"}
	}))

	var result string
	ctx, cancel := context.WithTimeout(context.Background(), 2_000_000_000) // 2s, enough for a couple retries
	defer cancel()
	err := c.Request(ctx, "eth_blockNumber", nil, &result)
	require.Error(t, err)
	require.Greater(t, int(atomic.LoadInt32(&calls)), 1)
}

func TestRequestShortCircuitsOnNonRetryableCode(t *testing.T) {
	var calls int32
	c := newTestRouter(t, jsonRPCHandler(t, func(method string, params json.RawMessage) (any, *rpcErrorBody) {
		atomic.AddInt32(&calls, 1)
		return nil, &rpcErrorBody{Code: -32601, Message: "method not found"}
	}))

	var result string
	err := c.Request(context.Background(), "eth_foo", nil, &result)
	require.Error(t, err)
	require.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestEthGetLogsRangeErrorDetected(t *testing.T) {
	c := newTestRouter(t, jsonRPCHandler(t, func(method string, params json.RawMessage) (any, *rpcErrorBody) {
		return nil, &rpcErrorBody{Code: -32000, Message: "query returned more than 10000 results"}
	}))

	var result string
	params := []any{map[string]any{"fromBlock": "0x1", "toBlock": "0x64"}}
	err := c.Request(context.Background(), "eth_getLogs", params, &result)
	require.Error(t, err)

	var rangeErr *EthGetLogsRangeError
	require.ErrorAs(t, err, &rangeErr)
	require.Len(t, rangeErr.Suggested, 2)
}
