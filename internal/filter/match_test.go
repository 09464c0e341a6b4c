package filter

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/evmweave/indexer/pkg/models"
)

type fakeChildren map[models.FactoryID]map[models.Address]bool

func (c fakeChildren) Contains(factoryID models.FactoryID, addr models.Address) bool {
	return c[factoryID][addr]
}

func TestMatchLogWildcardTopics(t *testing.T) {
	f := models.Filter{
		Type:       models.FilterTypeLog,
		LogAddress: &models.AddressOrFactory{Address: models.NewAddress("0xabc")},
	}
	require.True(t, MatchLog(f, nil, models.NewAddress("0xabc"), []models.Hash{models.NewHash("0x01")}))
}

func TestMatchLogRejectsWrongAddress(t *testing.T) {
	f := models.Filter{
		Type:       models.FilterTypeLog,
		LogAddress: &models.AddressOrFactory{Address: models.NewAddress("0xabc")},
	}
	require.False(t, MatchLog(f, nil, models.NewAddress("0xdef"), nil))
}

func TestMatchLogFactoryAddress(t *testing.T) {
	children := fakeChildren{"fac-1": {models.NewAddress("0xchild"): true}}
	f := models.Filter{
		Type:       models.FilterTypeLog,
		LogAddress: &models.AddressOrFactory{Factory: &models.Factory{ID: "fac-1"}},
	}
	require.True(t, MatchLog(f, children, models.NewAddress("0xchild"), nil))
	require.False(t, MatchLog(f, children, models.NewAddress("0xother"), nil))
}

func TestMatchLogTopicPosition(t *testing.T) {
	f := models.Filter{
		Type: models.FilterTypeLog,
		Topics: models.TopicSet{
			{models.NewHash("0x01")},
			nil,
			{models.NewHash("0x02"), models.NewHash("0x03")},
			nil,
		},
	}
	require.True(t, MatchLog(f, nil, "", []models.Hash{models.NewHash("0x01"), models.NewHash("0xff"), models.NewHash("0x03")}))
	require.False(t, MatchLog(f, nil, "", []models.Hash{models.NewHash("0x01"), models.NewHash("0xff"), models.NewHash("0x09")}))
}

func TestMatchBlockCadence(t *testing.T) {
	f := models.Filter{Type: models.FilterTypeBlock, BlockInterval: 100, BlockOffset: 5}
	require.True(t, MatchBlock(f, 105))
	require.True(t, MatchBlock(f, 205))
	require.False(t, MatchBlock(f, 106))
	require.False(t, MatchBlock(f, 4))
}

func TestMatchTraceOrTransferValueRange(t *testing.T) {
	f := models.Filter{
		Type:     models.FilterTypeTransfer,
		MinValue: &models.BigValue{Decimal: "100"},
		MaxValue: &models.BigValue{Decimal: "1000"},
	}
	require.True(t, MatchTraceOrTransfer(f, nil, TraceCandidate{Value: big.NewInt(500)}))
	require.False(t, MatchTraceOrTransfer(f, nil, TraceCandidate{Value: big.NewInt(50)}))
	require.False(t, MatchTraceOrTransfer(f, nil, TraceCandidate{Value: big.NewInt(5000)}))
}

func TestMatchTraceOrTransferCallType(t *testing.T) {
	f := models.Filter{Type: models.FilterTypeTrace, CallTypes: []models.CallType{models.CallTypeDelegateCall}}
	require.True(t, MatchTraceOrTransfer(f, nil, TraceCandidate{Type: models.CallTypeDelegateCall}))
	require.False(t, MatchTraceOrTransfer(f, nil, TraceCandidate{Type: models.CallTypeCall}))
}

func TestMatchTransactionToFactory(t *testing.T) {
	children := fakeChildren{"fac-1": {models.NewAddress("0xchild"): true}}
	f := models.Filter{
		Type:      models.FilterTypeTransaction,
		ToAddress: &models.AddressOrFactory{Factory: &models.Factory{ID: "fac-1"}},
	}
	to := models.NewAddress("0xchild")
	require.True(t, MatchTransaction(f, children, "0xwhoever", &to, nil))

	other := models.NewAddress("0xother")
	require.False(t, MatchTransaction(f, children, "0xwhoever", &other, nil))
}
