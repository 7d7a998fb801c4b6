package chainmonitor

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"

	"github.com/blackms/arbitragemonitor/internal/swap"
)

func TestPoolAddresses_PreservesDuplicatesAndOrder(t *testing.T) {
	poolA := common.HexToAddress("0xaaaa000000000000000000000000000000aaaa")
	poolB := common.HexToAddress("0xbbbb000000000000000000000000000000bbbb")

	events := []swap.Event{
		{PoolAddress: poolA},
		{PoolAddress: poolB},
		{PoolAddress: poolA}, // same pool hit twice in one route
	}

	pools := poolAddresses(events)
	assert.Equal(t, []string{poolA.Hex(), poolB.Hex(), poolA.Hex()}, pools)
	assert.Len(t, pools, len(events), "pools_involved must have one entry per swap event to match swap_count")
}

func TestPoolAddresses_EmptyEvents(t *testing.T) {
	assert.Nil(t, poolAddresses(nil))
}
