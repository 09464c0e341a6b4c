// Package checkpoint implements the canonical, fixed-width,
// lexicographically comparable encoding of a models.Checkpoint position
// in the global event order, plus its inverse.
//
// The encoding is a straight concatenation of zero-padded fixed-width hex
// fields in the same order models.Checkpoint.Less compares them in, so
// string comparison of two encoded checkpoints always agrees with Less.
package checkpoint

import (
	"fmt"
	"strconv"

	"github.com/evmweave/indexer/pkg/models"
)

const (
	width64 = 16 // hex digits for a uint64 field
	width32 = 8  // hex digits for a uint32 field
	width8  = 2  // hex digits for the EventType byte
)

// EncodedLen is the fixed length of every encoded checkpoint string.
const EncodedLen = width64*3 + width32*6 + width8

// Encode renders c as its canonical comparable string.
func Encode(c models.Checkpoint) string {
	return fmt.Sprintf(
		"%0*x%0*x%0*x%0*x%0*x%0*x%0*x%0*x%0*x%0*x",
		width64, c.BlockTimestamp,
		width64, uint64(c.ChainID),
		width64, c.BlockNumber,
		width32, c.TransactionIndex,
		width8, uint8(c.EventType),
		width32, c.EventIndex,
		width32, c.TraceIndex,
		width32, c.LogIndex,
		width32, c.CheckIndex,
		width32, c.Reserved,
	)
}

// Decode is the inverse of Encode. It returns an error if s is not
// exactly EncodedLen hex characters produced by Encode.
func Decode(s string) (models.Checkpoint, error) {
	if len(s) != EncodedLen {
		return models.Checkpoint{}, fmt.Errorf("checkpoint: encoded length %d, want %d", len(s), EncodedLen)
	}
	var c models.Checkpoint
	off := 0

	readN := func(n int) (uint64, error) {
		v, err := strconv.ParseUint(s[off:off+n], 16, 64)
		off += n
		return v, err
	}

	ts, err := readN(width64)
	if err != nil {
		return models.Checkpoint{}, fmt.Errorf("checkpoint: decode timestamp: %w", err)
	}
	c.BlockTimestamp = ts

	chainID, err := readN(width64)
	if err != nil {
		return models.Checkpoint{}, fmt.Errorf("checkpoint: decode chain id: %w", err)
	}
	c.ChainID = models.ChainID(chainID)

	blockNum, err := readN(width64)
	if err != nil {
		return models.Checkpoint{}, fmt.Errorf("checkpoint: decode block number: %w", err)
	}
	c.BlockNumber = blockNum

	txIdx, err := readN(width32)
	if err != nil {
		return models.Checkpoint{}, fmt.Errorf("checkpoint: decode transaction index: %w", err)
	}
	c.TransactionIndex = uint32(txIdx)

	eventType, err := readN(width8)
	if err != nil {
		return models.Checkpoint{}, fmt.Errorf("checkpoint: decode event type: %w", err)
	}
	c.EventType = models.EventKind(eventType)

	eventIdx, err := readN(width32)
	if err != nil {
		return models.Checkpoint{}, fmt.Errorf("checkpoint: decode event index: %w", err)
	}
	c.EventIndex = uint32(eventIdx)

	traceIdx, err := readN(width32)
	if err != nil {
		return models.Checkpoint{}, fmt.Errorf("checkpoint: decode trace index: %w", err)
	}
	c.TraceIndex = uint32(traceIdx)

	logIdx, err := readN(width32)
	if err != nil {
		return models.Checkpoint{}, fmt.Errorf("checkpoint: decode log index: %w", err)
	}
	c.LogIndex = uint32(logIdx)

	checkIdx, err := readN(width32)
	if err != nil {
		return models.Checkpoint{}, fmt.Errorf("checkpoint: decode check index: %w", err)
	}
	c.CheckIndex = uint32(checkIdx)

	reserved, err := readN(width32)
	if err != nil {
		return models.Checkpoint{}, fmt.Errorf("checkpoint: decode reserved: %w", err)
	}
	c.Reserved = uint32(reserved)

	return c, nil
}

// Compare returns -1, 0, or 1 as the encoded form of a sorts before,
// equal to, or after the encoded form of b. It is equivalent to, and
// cheaper than, Encode(a) < Encode(b) when both operands are already Go
// values.
func Compare(a, b models.Checkpoint) int {
	switch {
	case a.Less(b):
		return -1
	case b.Less(a):
		return 1
	default:
		return 0
	}
}

// Tagged encodes a checkpoint with its tag as a one-byte prefix, for
// storage layouts (e.g. the sync store's cursor column) that need to
// distinguish "start"/"current"/"end"/"finalized" markers from ordinary
// event checkpoints without a separate column.
func Tagged(tag models.CheckpointTag, c models.Checkpoint) string {
	return fmt.Sprintf("%02x%s", uint8(tag), Encode(c))
}
