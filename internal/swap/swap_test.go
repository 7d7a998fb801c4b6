package swap

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func packSwapData(t *testing.T, a0in, a1in, a0out, a1out *big.Int) []byte {
	t.Helper()
	data, err := uint256Args.Pack(a0in, a1in, a0out, a1out)
	require.NoError(t, err)
	return data
}

func swapLog(t *testing.T, pool common.Address, sender, recipient common.Address, a0in, a1in, a0out, a1out *big.Int, idx uint) *types.Log {
	t.Helper()
	return &types.Log{
		Address: pool,
		Topics: []common.Hash{
			Topic0,
			common.BytesToHash(sender.Bytes()),
			common.BytesToHash(recipient.Bytes()),
		},
		Data:  packSwapData(t, a0in, a1in, a0out, a1out),
		Index: idx,
	}
}

func otherLog(sig string, idx uint) *types.Log {
	return &types.Log{
		Topics: []common.Hash{crypto.Keccak256Hash([]byte(sig))},
		Index:  idx,
	}
}

func TestIsSwapLog(t *testing.T) {
	poolA := common.HexToAddress("0xaaaa")
	sender := common.HexToAddress("0x1111")
	recipient := common.HexToAddress("0x2222")

	swapEntry := swapLog(t, poolA, sender, recipient, big.NewInt(0), big.NewInt(1000), big.NewInt(1100), big.NewInt(0), 0)
	transferEntry := otherLog("Transfer(address,address,uint256)", 1)

	assert.True(t, IsSwapLog(swapEntry))
	assert.False(t, IsSwapLog(transferEntry))
}

func TestExtractSwapEvents_MixedReceipt(t *testing.T) {
	poolA := common.HexToAddress("0xaaaa")
	poolB := common.HexToAddress("0xbbbb")
	poolC := common.HexToAddress("0xcccc")
	sender := common.HexToAddress("0x1111")
	recipient := common.HexToAddress("0x2222")

	logs := []*types.Log{
		swapLog(t, poolA, sender, recipient, big.NewInt(0), big.NewInt(1000), big.NewInt(1100), big.NewInt(0), 0),
		otherLog("Transfer(address,address,uint256)", 1),
		swapLog(t, poolB, sender, recipient, big.NewInt(1100), big.NewInt(0), big.NewInt(0), big.NewInt(1050), 2),
		otherLog("Sync(uint112,uint112)", 3),
		swapLog(t, poolC, sender, recipient, big.NewInt(0), big.NewInt(500), big.NewInt(480), big.NewInt(0), 4),
	}

	events, err := ExtractSwapEvents(logs)
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, uint(0), events[0].LogIndex)
	assert.Equal(t, uint(2), events[1].LogIndex)
	assert.Equal(t, uint(4), events[2].LogIndex)
}

func TestIsArbitrage_ClassicTwoHop(t *testing.T) {
	router := common.HexToAddress("0xr0u7e4")
	poolA := common.HexToAddress("0xaaaa")
	poolB := common.HexToAddress("0xbbbb")
	sender := common.HexToAddress("0x1111")
	recipient := common.HexToAddress("0x2222")

	routers := map[string]common.Address{"v2": router}
	selectors := map[string]struct{}{"0x38ed1739": {}} // swapExactTokensForTokens
	input := common.Hex2Bytes("38ed1739" + "00")

	logs := []*types.Log{
		swapLog(t, poolA, sender, recipient, big.NewInt(0), big.NewInt(1000), big.NewInt(1100), big.NewInt(0), 0),
		swapLog(t, poolB, sender, recipient, big.NewInt(1100), big.NewInt(0), big.NewInt(0), big.NewInt(1050), 1),
	}

	isArb, events, err := IsArbitrage(router, input, routers, selectors, logs)
	require.NoError(t, err)
	assert.True(t, isArb)
	assert.Len(t, events, 2)
	assert.Equal(t, "2-hop", Strategy(len(events)))
}

func TestIsArbitrage_SingleSwapRejected(t *testing.T) {
	router := common.HexToAddress("0xr0u7e4")
	poolA := common.HexToAddress("0xaaaa")
	sender := common.HexToAddress("0x1111")
	recipient := common.HexToAddress("0x2222")

	routers := map[string]common.Address{"v2": router}
	selectors := map[string]struct{}{"0x38ed1739": {}}
	input := common.Hex2Bytes("38ed1739" + "00")

	logs := []*types.Log{
		swapLog(t, poolA, sender, recipient, big.NewInt(0), big.NewInt(1000), big.NewInt(1100), big.NewInt(0), 0),
		otherLog("Transfer(address,address,uint256)", 1),
		otherLog("Sync(uint112,uint112)", 2),
	}

	isArb, events, err := IsArbitrage(router, input, routers, selectors, logs)
	require.NoError(t, err)
	assert.False(t, isArb)
	assert.Nil(t, events)
}

func TestIsArbitrage_NonRouterRejected(t *testing.T) {
	router := common.HexToAddress("0xr0u7e4")
	notRouter := common.HexToAddress("0xdead")
	poolA := common.HexToAddress("0xaaaa")
	poolB := common.HexToAddress("0xbbbb")
	sender := common.HexToAddress("0x1111")
	recipient := common.HexToAddress("0x2222")

	routers := map[string]common.Address{"v2": router}
	selectors := map[string]struct{}{"0x38ed1739": {}}
	input := common.Hex2Bytes("38ed1739" + "00")

	logs := []*types.Log{
		swapLog(t, poolA, sender, recipient, big.NewInt(0), big.NewInt(1000), big.NewInt(1100), big.NewInt(0), 0),
		swapLog(t, poolB, sender, recipient, big.NewInt(1100), big.NewInt(0), big.NewInt(0), big.NewInt(1050), 1),
	}

	isArb, _, err := IsArbitrage(notRouter, input, routers, selectors, logs)
	require.NoError(t, err)
	assert.False(t, isArb)
}

func TestStrategy(t *testing.T) {
	cases := map[int]string{2: "2-hop", 3: "3-hop", 4: "4-hop", 5: "N-hop", 7: "N-hop"}
	for n, want := range cases {
		assert.Equal(t, want, Strategy(n))
	}
}
