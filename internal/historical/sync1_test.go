package historical

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/require"

	"github.com/evmweave/indexer/pkg/models"
)

func TestExtractChildAddressFromTopic(t *testing.T) {
	factory := models.Factory{Extraction: models.ChildFromTopic, TopicIndex: 1}
	child := common.HexToAddress("0x000000000000000000000000000000000000aa")
	log := types.Log{Topics: []common.Hash{common.HexToHash("0xevent"), child.Hash()}}

	addr, ok := extractChildAddress(factory, log)
	require.True(t, ok)
	require.Equal(t, models.NewAddress(child.Hex()), addr)
}

func TestExtractChildAddressFromTopicOutOfRange(t *testing.T) {
	factory := models.Factory{Extraction: models.ChildFromTopic, TopicIndex: 3}
	log := types.Log{Topics: []common.Hash{common.HexToHash("0xevent")}}

	_, ok := extractChildAddress(factory, log)
	require.False(t, ok)
}

func TestExtractChildAddressFromData(t *testing.T) {
	factory := models.Factory{Extraction: models.ChildFromData, DataOffset: 0}
	child := common.HexToAddress("0x000000000000000000000000000000000000bb")
	data := make([]byte, 32)
	copy(data[12:], child.Bytes())

	addr, ok := extractChildAddress(factory, types.Log{Data: data})
	require.True(t, ok)
	require.Equal(t, models.NewAddress(child.Hex()), addr)
}

func TestExtractChildrenKeepsEarliestSighting(t *testing.T) {
	factory := models.Factory{ID: "fac-1", Extraction: models.ChildFromTopic, TopicIndex: 1}
	child := common.HexToAddress("0x000000000000000000000000000000000000cc")
	logs := []types.Log{
		{Topics: []common.Hash{{}, child.Hash()}, BlockNumber: 50},
		{Topics: []common.Hash{{}, child.Hash()}, BlockNumber: 10},
	}

	out := extractChildren(factory, logs)
	require.Len(t, out, 1)
	require.Equal(t, uint64(10), out[0].FirstSeenBlock)
}

func TestTopicQueryTrimsTrailingWildcards(t *testing.T) {
	topics := models.TopicSet{
		{models.NewHash("0x01")},
		nil,
		nil,
		nil,
	}
	q := topicQuery(topics)
	require.Len(t, q, 1)
}

func TestTopicQueryAllWildcard(t *testing.T) {
	require.Nil(t, topicQuery(models.TopicSet{}))
}
