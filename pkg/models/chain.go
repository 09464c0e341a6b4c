package models

import "time"

// Chain is the identity and connection policy for one indexed EVM chain.
// Immutable after construction.
type Chain struct {
	ID         ChainID
	Name       string
	Endpoints  []string
	WSEndpoint string

	// PollInterval is used both by realtime sync (when no WebSocket is
	// configured) and as the fallback cadence after repeated WebSocket
	// failures.
	PollInterval time.Duration

	// FinalityDepth is F: the number of blocks back from the head beyond
	// which the chain is treated as immutable.
	FinalityDepth uint64

	// CacheReads/CacheWrites gate whether the sync store's cached-interval
	// bookkeeping is consulted/updated for this chain. Disabling both is
	// used in tests that want every call to hit the RPC layer.
	CacheReads  bool
	CacheWrites bool
}

// Validate reports a configuration error without mutating the Chain.
func (c Chain) Validate() error {
	if c.ID == 0 {
		return errInvalidChain("chain id must be non-zero")
	}
	if len(c.Endpoints) == 0 {
		return errInvalidChain("chain " + c.Name + " has no RPC endpoints")
	}
	if c.FinalityDepth == 0 {
		return errInvalidChain("chain " + c.Name + " has zero finality depth")
	}
	if c.PollInterval <= 0 {
		return errInvalidChain("chain " + c.Name + " has non-positive poll interval")
	}
	return nil
}

type chainConfigError string

func (e chainConfigError) Error() string { return string(e) }

func errInvalidChain(msg string) error { return chainConfigError(msg) }
