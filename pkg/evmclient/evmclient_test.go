package evmclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func rpcServer(t *testing.T, handlers map[string]func(params json.RawMessage) any) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID     json.RawMessage `json:"id"`
			Method string          `json:"method"`
			Params json.RawMessage `json:"params"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		h, ok := handlers[req.Method]
		if !ok {
			t.Fatalf("unexpected method %s", req.Method)
		}
		resp := map[string]any{
			"jsonrpc": "2.0",
			"id":      json.RawMessage(req.ID),
			"result":  h(req.Params),
		}
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
}

func TestChainIDRoundTrips(t *testing.T) {
	srv := rpcServer(t, map[string]func(json.RawMessage) any{
		"eth_chainId": func(json.RawMessage) any { return "0x89" },
	})
	defer srv.Close()

	c, err := Dial(context.Background(), srv.URL)
	require.NoError(t, err)
	defer c.Close()

	id, err := c.ChainID(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 137, id)
}

func TestBlockNumber(t *testing.T) {
	srv := rpcServer(t, map[string]func(json.RawMessage) any{
		"eth_blockNumber": func(json.RawMessage) any { return "0x64" },
	})
	defer srv.Close()

	c, err := Dial(context.Background(), srv.URL)
	require.NoError(t, err)
	defer c.Close()

	n, err := c.BlockNumber(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 100, n)
}
