package chain

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFeedPairs(t *testing.T) {
	feeds, err := ParseFeedPairs(
		" 0x1111111111111111111111111111111111111111:0x2222222222222222222222222222222222222222 ," +
			"0x3333333333333333333333333333333333333333:0x4444444444444444444444444444444444444444",
	)
	require.NoError(t, err)
	require.Len(t, feeds, 2)
	assert.Equal(t,
		common.HexToAddress("0x2222222222222222222222222222222222222222"),
		feeds[common.HexToAddress("0x1111111111111111111111111111111111111111")])
}

func TestParseFeedPairsEmpty(t *testing.T) {
	feeds, err := ParseFeedPairs("")
	require.NoError(t, err)
	assert.Empty(t, feeds)
}

func TestParseFeedPairsRejectsGarbage(t *testing.T) {
	_, err := ParseFeedPairs("ETH/USD:0x2222222222222222222222222222222222222222")
	assert.Error(t, err)

	_, err = ParseFeedPairs("0x1111111111111111111111111111111111111111")
	assert.Error(t, err)
}

func TestForChainFeedsAreEthDenominated(t *testing.T) {
	for _, name := range []string{"base", "ethereum"} {
		addrs, err := ForChain(name)
		require.NoError(t, err)
		// The WETH price is 1.0 by definition; a WETH entry would mean a
		// USD feed sneaked back into the table.
		_, ok := addrs.ChainlinkEthFeeds[addrs.WETH]
		assert.False(t, ok, name)
	}
}

func TestForChainUnknown(t *testing.T) {
	_, err := ForChain("dogechain")
	assert.Error(t, err)
}
