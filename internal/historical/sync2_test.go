package historical

import (
	"testing"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/require"

	"github.com/evmweave/indexer/internal/intervalset"
	"github.com/evmweave/indexer/pkg/models"
)

func TestNeededBlocksIncludesLogBlocks(t *testing.T) {
	logs := []models.SyncLog{{BlockNumber: 105}, {BlockNumber: 220}}
	out := neededBlocks(intervalset.Interval{Lo: 100, Hi: 300}, nil, logs)
	require.True(t, out[105])
	require.True(t, out[220])
	require.Len(t, out, 2)
}

func TestNeededBlocksAppliesCadence(t *testing.T) {
	f := models.Filter{Type: models.FilterTypeBlock, BlockInterval: 50, BlockOffset: 10}
	out := neededBlocks(intervalset.Interval{Lo: 0, Hi: 120}, []models.Filter{f}, nil)
	require.True(t, out[10])
	require.True(t, out[60])
	require.True(t, out[110])
	require.False(t, out[11])
	require.False(t, out[120])
}

func TestNeededBlocksCoversTraceFilterRange(t *testing.T) {
	to := uint64(50)
	f := models.Filter{Type: models.FilterTypeTrace, FromBlock: 10, ToBlock: &to}
	out := neededBlocks(intervalset.Interval{Lo: 0, Hi: 100}, []models.Filter{f}, nil)
	require.True(t, out[10])
	require.True(t, out[50])
	require.False(t, out[9])
	require.False(t, out[51])
}

func TestFlattenTraceAssignsPreorderAddresses(t *testing.T) {
	f := models.Filter{Type: models.FilterTypeTrace, CallTypes: []models.CallType{models.CallTypeCall}}
	root := callFrame{
		Type: "CALL",
		From: "0xaaa",
		To:   "0xbbb",
		Calls: []callFrame{
			{Type: "CALL", From: "0xbbb", To: "0xccc"},
			{Type: "DELEGATECALL", From: "0xbbb", To: "0xddd"},
		},
	}

	out := flattenTrace([]models.Filter{f}, nil, "0xblock", 1, "0xtx", root, nil)
	require.Len(t, out, 2)
	require.Equal(t, models.TraceAddress(nil), out[0].TraceAddress)
	require.Equal(t, models.TraceAddress{0}, out[1].TraceAddress)
}

func TestLowerCallType(t *testing.T) {
	require.Equal(t, "call", lowerCallType("CALL"))
	require.Equal(t, "delegatecall", lowerCallType("DELEGATECALL"))
	require.Equal(t, "create", lowerCallType("CREATE2"))
}

func TestToSyncReceiptNilContractAddress(t *testing.T) {
	r := &types.Receipt{Status: 1, GasUsed: 21000}
	sr := toSyncReceipt("0xblock", r)
	require.Nil(t, sr.ContractAddress)
	require.Equal(t, uint64(1), sr.Status)
}
