package rpcclient

import (
	"errors"
	"strconv"
	"strings"

	gethrpc "github.com/ethereum/go-ethereum/rpc"
)

// httpError is go-ethereum's rpc.HTTPError, returned when the transport
// itself failed rather than the JSON-RPC call.
type httpError = gethrpc.HTTPError

// extractCodeStatus pulls the JSON-RPC error code and/or HTTP status out
// of err, returning zero values when err doesn't carry either (e.g. a
// plain network error).
func extractCodeStatus(err error) (code, status int) {
	var rpcErr gethrpc.Error
	if errors.As(err, &rpcErr) {
		return rpcErr.ErrorCode(), 0
	}
	var httpErr httpError
	if errors.As(err, &httpErr) {
		return 0, httpErr.StatusCode
	}
	return 0, 0
}

// rangeRejectionMarkers are substrings providers use across the ecosystem
// to report an eth_getLogs range as too wide. There is no standardized
// error code for this, so the check is on the message text.
var rangeRejectionMarkers = []string{
	"query returned more than",
	"block range",
	"exceeds the range",
	"range limit",
	"query timeout exceeded",
}

// asRangeError inspects err's message for a range-rejection marker and, if
// found, proposes bisecting the original [from,to] range in half.
func asRangeError(params []any, err error) *EthGetLogsRangeError {
	msg := strings.ToLower(err.Error())
	matched := false
	for _, m := range rangeRejectionMarkers {
		if strings.Contains(msg, m) {
			matched = true
			break
		}
	}
	if !matched {
		return nil
	}

	from, to, ok := extractLogsRange(params)
	if !ok {
		return &EthGetLogsRangeError{Err: err}
	}
	mid := from + (to-from)/2
	return &EthGetLogsRangeError{
		FromBlock: from,
		ToBlock:   to,
		Suggested: []BlockRange{{From: from, To: mid}, {From: mid + 1, To: to}},
		Err:       err,
	}
}

// extractLogsRange reads fromBlock/toBlock out of the first eth_getLogs
// filter param, tolerating both hex-quantity and plain-string shapes.
func extractLogsRange(params []any) (from, to uint64, ok bool) {
	if len(params) == 0 {
		return 0, 0, false
	}
	filter, isMap := params[0].(map[string]any)
	if !isMap {
		return 0, 0, false
	}
	from, fromOK := parseBlockTag(filter["fromBlock"])
	to, toOK := parseBlockTag(filter["toBlock"])
	return from, to, fromOK && toOK
}

func parseBlockTag(v any) (uint64, bool) {
	s, ok := v.(string)
	if !ok {
		return 0, false
	}
	s = strings.TrimPrefix(s, "0x")
	n, err := strconv.ParseUint(s, 16, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}
