package chain

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// ═══════════════════════════════════════════════════════════════════════════════
// WELL-KNOWN ADDRESSES - Static per-chain constant table
// ═══════════════════════════════════════════════════════════════════════════════

// Addresses holds the well-known contract addresses for one chain.
type Addresses struct {
	ChainID          int64
	WETH             common.Address
	UniswapV3Factory common.Address

	// ChainlinkEthFeeds maps a token address to the Chainlink aggregator
	// proxy quoting that token in ETH. Only ETH-denominated feeds belong
	// here: grid prices are ETH per token, so a USD feed would
	// cross-validate against the TWAP in the wrong unit.
	ChainlinkEthFeeds map[common.Address]common.Address
}

var chains = map[string]Addresses{
	"base": {
		ChainID:          8453,
		WETH:             common.HexToAddress("0x4200000000000000000000000000000000000006"),
		UniswapV3Factory: common.HexToAddress("0x33128a8fC17869897dcE68Ed026d694621f6FDfD"),
		ChainlinkEthFeeds: map[common.Address]common.Address{
			// cbETH -> cbETH/ETH
			common.HexToAddress("0x2Ae3F1Ec7F1F5012CFEab0185bfc7aa3cf0DEc22"): common.HexToAddress("0x806b4Ac04501c29769051e42783cF04dCE41440b"),
		},
	},
	"ethereum": {
		ChainID:          1,
		WETH:             common.HexToAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2"),
		UniswapV3Factory: common.HexToAddress("0x1F98431c8aD98523631AE4a59f267346ea31F984"),
		ChainlinkEthFeeds: map[common.Address]common.Address{
			// stETH -> stETH/ETH
			common.HexToAddress("0xae7ab96520DE3A18E5e111B5EaAb095312D7fE84"): common.HexToAddress("0x86392dC19c0b719886221c78AB11eb8Cf5c52812"),
			// cbETH -> cbETH/ETH
			common.HexToAddress("0xBe9895146f7AF43049ca1c1AE358B0541Ea49704"): common.HexToAddress("0xF017fcB346A1885194689bA23Eff2fE6fA5C483b"),
		},
	},
}

// ParseFeedPairs parses a comma separated "0xtoken:0xfeed" mapping used to
// extend the built-in feed table from the environment. Feeds must be
// ETH-denominated aggregator proxies. An empty string yields an empty map.
func ParseFeedPairs(s string) (map[common.Address]common.Address, error) {
	out := make(map[common.Address]common.Address)
	for _, pair := range strings.Split(s, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		token, feed, ok := strings.Cut(pair, ":")
		if !ok || !common.IsHexAddress(token) || !common.IsHexAddress(feed) {
			return nil, fmt.Errorf("malformed feed pair %q, want 0xtoken:0xfeed", pair)
		}
		out[common.HexToAddress(token)] = common.HexToAddress(feed)
	}
	return out, nil
}

// UniswapFeeTiers are the well-known V3 pool fee tiers, in hundredths of a bip.
var UniswapFeeTiers = []int64{100, 500, 3000, 10000}

// ForChain resolves the address table for a chain name.
func ForChain(name string) (Addresses, error) {
	a, ok := chains[name]
	if !ok {
		return Addresses{}, fmt.Errorf("unknown chain %q", name)
	}
	return a, nil
}
