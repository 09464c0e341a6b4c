// Package rpcclient implements the adaptive, multi-endpoint JSON-RPC
// client: per-endpoint bucket scheduling with latency-aware routing,
// token-bucket RPS learning, retry/backoff, and a WebSocket-or-polling
// subscription for new heads. It is the one package that talks to
// multiple pkg/evmclient transports for the same chain and decides which
// one serves each request.
package rpcclient

import (
	"context"
	"math/rand"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/evmweave/indexer/internal/errclass"
	"github.com/evmweave/indexer/pkg/evmclient"
	"github.com/evmweave/indexer/pkg/models"
)

const (
	maxRetries      = 9
	retryBaseWait   = 125 * time.Millisecond
	schedulePoll    = 10 * time.Millisecond
	defaultInitRPS  = 10.0
	chainConcurrency = 25
)

// Client is a chain-scoped RPC router over one or more buckets.
type Client struct {
	chainName string
	chainID   models.ChainID

	buckets []*bucket
	sem     *semaphore.Weighted
	rng     *rand.Rand
}

// New builds a router over clients, one bucket per endpoint. clients must
// be non-empty and already dialed.
func New(chainName string, chainID models.ChainID, clients []*evmclient.Client) *Client {
	c := &Client{
		chainName: chainName,
		chainID:   chainID,
		sem:       semaphore.NewWeighted(chainConcurrency),
		rng:       rand.New(rand.NewSource(int64(chainID))),
	}
	for _, cl := range clients {
		c.buckets = append(c.buckets, newBucket(cl.URL(), cl, defaultInitRPS))
	}
	return c
}

// Request issues method with params, retrying per the scheduling contract,
// and decodes the result into result (a pointer, or nil to discard it).
func (c *Client) Request(ctx context.Context, method string, params []any, result any) error {
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer c.sem.Release(1)

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		b, err := c.choose(ctx)
		if err != nil {
			return err
		}

		lastErr = c.dispatch(ctx, b, method, params, result)
		if lastErr == nil {
			return nil
		}
		if errclass.ClassOf(lastErr) != errclass.Retryable {
			return lastErr
		}
		if attempt == maxRetries {
			break
		}
		wait := time.Duration(float64(retryBaseWait) * pow2(attempt))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
	return lastErr
}

// choose blocks (polling every 10ms) until an available bucket exists,
// then applies the ε-greedy latency comparison to pick one.
func (c *Client) choose(ctx context.Context) (*bucket, error) {
	for {
		var available []*bucket
		for _, b := range c.buckets {
			if b.available() {
				available = append(available, b)
			}
		}
		if len(available) > 0 {
			return c.pick(available), nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(schedulePoll):
		}
	}
}

func (c *Client) pick(available []*bucket) *bucket {
	if c.rng.Float64() < epsilon {
		return available[c.rng.Intn(len(available))]
	}

	best := available[0]
	bestLatency := best.averageLatency()
	for _, b := range available[1:] {
		lat := b.averageLatency()
		if float64(bestLatency-lat) > latencyHurdle*float64(bestLatency) {
			best, bestLatency = b, lat
			continue
		}
		if lat == bestLatency && b.inFlight() < best.inFlight() {
			best, bestLatency = b, lat
		}
	}
	return best
}

func (c *Client) dispatch(ctx context.Context, b *bucket, method string, params []any, result any) error {
	b.beginRequest()
	start := time.Now()

	callCtx, cancel := context.WithTimeout(ctx, perCallTimeout)
	defer cancel()

	err := b.client.Call(callCtx, method, params, result)
	latency := time.Since(start)

	if err == nil {
		b.recordSuccess(latency)
		return nil
	}

	if callCtx.Err() != nil {
		b.recordFailure(latency)
		return &TimeoutError{Method: method, Bucket: b.name, Err: err}
	}

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

	if method == "eth_getLogs" {
		if rangeErr := asRangeError(params, err); rangeErr != nil {
			return rangeErr
		}
	}

	return &RPCRequestError{
		Chain:  c.chainName,
		Method: method,
		Bucket: b.name,
		Code:   code,
		class:  class,
		Err:    err,
	}
}

func pow2(n int) float64 {
	r := 1.0
	for i := 0; i < n; i++ {
		r *= 2
	}
	return r
}
