package fragment

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/evmweave/indexer/pkg/models"
)

func TestDecomposeLogIsDeterministic(t *testing.T) {
	f := models.Filter{
		ChainID:    1,
		Type:       models.FilterTypeLog,
		LogAddress: &models.AddressOrFactory{Address: models.NewAddress("0xABC")},
		Topics:     models.TopicSet{{models.NewHash("0x01")}, nil, nil, nil},
	}

	a := Decompose(f)
	b := Decompose(f)
	require.Len(t, a, 1)
	require.Equal(t, a[0].ID, b[0].ID)
}

func TestDecomposeDiffersOnTopics(t *testing.T) {
	base := models.Filter{
		ChainID:    1,
		Type:       models.FilterTypeLog,
		LogAddress: &models.AddressOrFactory{Address: models.NewAddress("0xABC")},
		Topics:     models.TopicSet{{models.NewHash("0x01")}, nil, nil, nil},
	}
	other := base
	other.Topics = models.TopicSet{{models.NewHash("0x02")}, nil, nil, nil}

	fa := Decompose(base)[0]
	fb := Decompose(other)[0]
	require.NotEqual(t, fa.ID, fb.ID)
}

func TestDecomposeSameAcrossFilterInstancesWithSameShape(t *testing.T) {
	f1 := models.Filter{
		ID:         "app-a",
		ChainID:    1,
		Type:       models.FilterTypeLog,
		LogAddress: &models.AddressOrFactory{Address: models.NewAddress("0xABC")},
	}
	f2 := models.Filter{
		ID:         "app-b",
		ChainID:    1,
		Type:       models.FilterTypeLog,
		LogAddress: &models.AddressOrFactory{Address: models.NewAddress("0xABC")},
	}

	require.Equal(t, Decompose(f1)[0].ID, Decompose(f2)[0].ID)
}

func TestDecomposeFactoryAddressDiffersFromConcrete(t *testing.T) {
	factoryFilter := models.Filter{
		ChainID: 1,
		Type:    models.FilterTypeLog,
		LogAddress: &models.AddressOrFactory{
			Factory: &models.Factory{ID: "fac-1"},
		},
	}
	concreteFilter := models.Filter{
		ChainID:    1,
		Type:       models.FilterTypeLog,
		LogAddress: &models.AddressOrFactory{Address: models.NewAddress("0xABC")},
	}

	require.NotEqual(t, Decompose(factoryFilter)[0].ID, Decompose(concreteFilter)[0].ID)
}
