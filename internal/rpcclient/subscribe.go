package rpcclient

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/rs/zerolog"

	"github.com/evmweave/indexer/pkg/evmclient"
)

// maxWSFailures is the number of consecutive WebSocket read-loop failures
// before Subscribe gives up on the socket and falls back to polling for
// the rest of the subscription's lifetime.
const maxWSFailures = 3

// Subscription delivers head blocks until Unsubscribe or ctx is canceled.
type Subscription struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Unsubscribe stops delivery. It blocks until the subscription's internal
// goroutine has exited. A WebSocket connection is closed without sending
// eth_unsubscribe.
func (s *Subscription) Unsubscribe() {
	s.cancel()
	<-s.done
}

// Subscribe delivers new head blocks to onBlock, refetching each block by
// hash on a WS notification so the consumer always receives a fully
// consistent block object rather than a bare header. wsURL == ""
// skips straight to polling.
func (c *Client) Subscribe(
	ctx context.Context,
	wsURL string,
	pollInterval time.Duration,
	onBlock func(*types.Block),
	onError func(error),
	logger *zerolog.Logger,
) *Subscription {
	subCtx, cancel := context.WithCancel(ctx)
	sub := &Subscription{cancel: cancel, done: make(chan struct{})}

	go func() {
		defer close(sub.done)
		if wsURL != "" {
			if c.runWS(subCtx, wsURL, onBlock, onError, logger) {
				return
			}
			logger.Warn().Str("ws_url", wsURL).Msg("websocket subscription failed repeatedly, falling back to polling")
		}
		c.runPolling(subCtx, pollInterval, onBlock, onError)
	}()

	return sub
}

// runWS drives the WebSocket newHeads subscription until subCtx is
// canceled (returns true) or it fails maxWSFailures times in a row
// (returns false, signaling the caller to fall back to polling).
func (c *Client) runWS(
	subCtx context.Context,
	wsURL string,
	onBlock func(*types.Block),
	onError func(error),
	logger *zerolog.Logger,
) bool {
	failures := 0
	for {
		ws := evmclient.NewWSClient(wsURL)
		if err := ws.Connect(subCtx); err != nil {
			onError(err)
			failures++
			if failures >= maxWSFailures || subCtx.Err() != nil {
				return subCtx.Err() != nil
			}
			continue
		}
		if err := ws.SubscribeNewHeads(subCtx); err != nil {
			ws.Close()
			onError(err)
			failures++
			if failures >= maxWSFailures {
				return false
			}
			continue
		}

		go ws.PingLoop(subCtx)
		readErrCh := make(chan error, 1)
		go func() { readErrCh <- ws.ReadLoop(subCtx) }()

		for {
			select {
			case <-subCtx.Done():
				ws.Close()
				return true
			case header := <-ws.Headers():
				failures = 0
				block, err := c.fetchBlockByHash(subCtx, header.Hash())
				if err != nil {
					onError(err)
					continue
				}
				onBlock(block)
			case err := <-readErrCh:
				ws.Close()
				if subCtx.Err() != nil {
					return true
				}
				if err != nil {
					onError(err)
				}
				failures++
				goto reconnect
			}
		}
	reconnect:
		if failures >= maxWSFailures {
			return false
		}
		select {
		case <-subCtx.Done():
			return true
		case <-time.After(backoffBase):
		}
	}
}

// fetchBlockByHash resolves a newHeads hash into a full block using
// whichever bucket is currently available, bypassing Request's generic
// any-param path so the typed ethclient decoding in pkg/evmclient applies.
func (c *Client) fetchBlockByHash(ctx context.Context, hash common.Hash) (*types.Block, error) {
	b, err := c.choose(ctx)
	if err != nil {
		return nil, err
	}
	block, err := b.client.BlockByHash(ctx, hash)
	if err != nil {
		return nil, &RPCRequestError{Chain: c.chainName, Method: "eth_getBlockByHash", Bucket: b.name, Err: err}
	}
	return block, nil
}

func (c *Client) runPolling(
	ctx context.Context,
	pollInterval time.Duration,
	onBlock func(*types.Block),
	onError func(error),
) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	var lastSeen uint64
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b, err := c.choose(ctx)
			if err != nil {
				onError(err)
				continue
			}
			head, err := b.client.BlockNumber(ctx)
			if err != nil {
				onError(err)
				continue
			}
			if lastSeen == 0 && head > 0 {
				lastSeen = head - 1
			}
			if head <= lastSeen {
				continue
			}
			for n := lastSeen + 1; n <= head; n++ {
				block, err := b.client.BlockByNumber(ctx, big.NewInt(0).SetUint64(n))
				if err != nil {
					onError(err)
					break
				}
				onBlock(block)
			}
			lastSeen = head
		}
	}
}
