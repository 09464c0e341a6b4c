package rpcclient

import (
	"fmt"

	"github.com/evmweave/indexer/internal/errclass"
)

// RPCRequestError wraps a failed JSON-RPC call with the bucket that
// served it, classified per the provider error code/HTTP status it came
// back with.
type RPCRequestError struct {
	Chain  string
	Method string
	Bucket string
	Code   int
	class  errclass.Class
	Err    error
}

func (e *RPCRequestError) Error() string {
	return fmt.Sprintf("rpc request failed: chain=%s method=%s bucket=%s code=%d: %v",
		e.Chain, e.Method, e.Bucket, e.Code, e.Err)
}

func (e *RPCRequestError) Unwrap() error          { return e.Err }
func (e *RPCRequestError) Class() errclass.Class  { return e.class }

// TimeoutError marks a request abandoned after the bucket's per-call
// deadline (5s) elapsed without a response.
type TimeoutError struct {
	Method string
	Bucket string
	Err    error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("rpc timeout: method=%s bucket=%s: %v", e.Method, e.Bucket, e.Err)
}
func (e *TimeoutError) Unwrap() error         { return e.Err }
func (e *TimeoutError) Class() errclass.Class { return errclass.Retryable }

// EthGetLogsRangeError reports that eth_getLogs rejected the requested
// range as too wide, with the halves the caller's log-range adapter
// should retry with instead of the original range.
type EthGetLogsRangeError struct {
	FromBlock, ToBlock uint64
	Suggested          []BlockRange
	Err                error
}

// BlockRange is a plain [From,To] pair, distinct from intervalset.Interval
// since this package has no dependency on the interval-algebra package.
// The caller (internal/historical) converts.
type BlockRange struct {
	From, To uint64
}

func (e *EthGetLogsRangeError) Error() string {
	return fmt.Sprintf("eth_getLogs range [%d,%d] rejected: %v", e.FromBlock, e.ToBlock, e.Err)
}
func (e *EthGetLogsRangeError) Unwrap() error         { return e.Err }
func (e *EthGetLogsRangeError) Class() errclass.Class { return errclass.ProviderPolicy }

// nonRetryableCodes are the JSON-RPC error codes that short-circuit
// retry: parse error, method not found, method not supported, invalid
// JSON-RPC version, and revert.
var nonRetryableCodes = map[int]bool{
	-32700: true, // parse error
	-32601: true, // method not found
	-32004: true, // method not supported
	-32600: true, // invalid request / JSON-RPC version
	3:      true, // execution reverted
}

var nonRetryableHTTPStatus = map[int]bool{
	404: true,
	405: true,
	501: true,
	505: true,
}

func classifyCode(code int) errclass.Class {
	if nonRetryableCodes[code] {
		return errclass.Fatal
	}
	return errclass.Retryable
}

func classifyHTTPStatus(status int) errclass.Class {
	if nonRetryableHTTPStatus[status] {
		return errclass.Fatal
	}
	return errclass.Retryable
}
