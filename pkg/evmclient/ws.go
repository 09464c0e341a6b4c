package evmclient

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/gorilla/websocket"
)

const (
	wsWriteWait      = 10 * time.Second
	wsPongWait       = 60 * time.Second
	wsPingPeriod     = (wsPongWait * 9) / 10
	wsMaxMessageSize = 1 << 20
)

// WSClient is a raw newHeads subscriber over a gorilla/websocket
// connection, used instead of go-ethereum's ethclient.SubscribeNewHead so
// the bucket layer above it can observe connection failures directly (a
// wrapped ethclient subscription swallows the distinction between "read
// loop died" and "server closed the subscription").
type WSClient struct {
	url string

	mu             sync.Mutex
	conn           *websocket.Conn
	subscriptionID string
	requestID      atomic.Int64

	headers chan *types.Header
	done    chan struct{}
	closed  atomic.Bool
}

// NewWSClient constructs an unconnected WSClient for url.
func NewWSClient(url string) *WSClient {
	return &WSClient{
		url:     url,
		headers: make(chan *types.Header, 256),
		done:    make(chan struct{}),
	}
}

// Connect dials url and completes the WebSocket handshake.
func (c *WSClient) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return fmt.Errorf("evmclient: dial ws %s: %w", c.url, err)
	}
	conn.SetReadLimit(wsMaxMessageSize)
	conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})
	c.conn = conn
	return nil
}

// SubscribeNewHeads sends the eth_subscribe request for new block headers.
// The confirmation is consumed by ReadLoop, not returned here, since the
// subscription id only arrives asynchronously over the same socket.
func (c *WSClient) SubscribeNewHeads(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return fmt.Errorf("evmclient: subscribe: not connected")
	}

	id := c.requestID.Add(1)
	req := map[string]any{
		"jsonrpc": "2.0",
		"id":      id,
		"method":  "eth_subscribe",
		"params":  []any{"newHeads"},
	}
	c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	if err := c.conn.WriteJSON(req); err != nil {
		return fmt.Errorf("evmclient: write subscribe: %w", err)
	}
	return nil
}

// Headers returns the channel new block headers are delivered on.
func (c *WSClient) Headers() <-chan *types.Header {
	return c.headers
}

// ReadLoop reads frames until the connection closes, ctx is canceled, or
// Close is called, dispatching subscription notifications onto Headers().
// It returns the error that ended the loop so the caller (the bucket)
// can decide whether to reconnect or fall back to polling.
func (c *WSClient) ReadLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.done:
			return nil
		default:
		}

		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()
		if conn == nil {
			return fmt.Errorf("evmclient: read loop: not connected")
		}

		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("evmclient: read message: %w", err)
		}

		var msg struct {
			ID     *int64          `json:"id"`
			Result json.RawMessage `json:"result"`
			Method string          `json:"method"`
			Params struct {
				Subscription string          `json:"subscription"`
				Result       json.RawMessage `json:"result"`
			} `json:"params"`
			Error *struct {
				Code    int    `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if err := json.Unmarshal(raw, &msg); err != nil {
			continue
		}

		if msg.ID != nil && msg.Result != nil {
			var subID string
			if json.Unmarshal(msg.Result, &subID) == nil && subID != "" {
				c.mu.Lock()
				c.subscriptionID = subID
				c.mu.Unlock()
			}
			continue
		}
		if msg.Error != nil {
			return fmt.Errorf("evmclient: subscription error %d: %s", msg.Error.Code, msg.Error.Message)
		}
		if msg.Method == "eth_subscription" && msg.Params.Result != nil {
			var header types.Header
			if err := json.Unmarshal(msg.Params.Result, &header); err != nil {
				continue
			}
			select {
			case c.headers <- &header:
			default:
			}
		}
	}
}

// PingLoop sends periodic pings until ctx is canceled or Close is called.
func (c *WSClient) PingLoop(ctx context.Context) {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case <-ticker.C:
			c.mu.Lock()
			conn := c.conn
			c.mu.Unlock()
			if conn == nil {
				continue
			}
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			_ = conn.WriteMessage(websocket.PingMessage, nil)
		}
	}
}

// Close tears down the connection. Safe to call once.
func (c *WSClient) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(c.done)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}
