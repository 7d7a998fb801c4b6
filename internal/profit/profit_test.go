package profit

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blackms/arbitragemonitor/internal/swap"
)

// E1 — classic two-hop, per spec §8.
func TestCalculate_ClassicTwoHop(t *testing.T) {
	poolA := common.HexToAddress("0xaaaa")
	poolB := common.HexToAddress("0xbbbb")

	events := []swap.Event{
		{PoolAddress: poolA, Amount0In: big.NewInt(0), Amount1In: big.NewInt(1000), Amount0Out: big.NewInt(1100), Amount1Out: big.NewInt(0)},
		{PoolAddress: poolB, Amount0In: big.NewInt(1100), Amount1In: big.NewInt(0), Amount0Out: big.NewInt(0), Amount1Out: big.NewInt(1050)},
	}

	nativeUSD := decimal.NewFromInt(300)
	gasUsed := uint64(150000)
	effGasPrice := big.NewInt(5_000_000_000) // 5 gwei

	res := Calculate(events, gasUsed, effGasPrice, nativeUSD)

	require.NotNil(t, res.InputAmount)
	require.NotNil(t, res.OutputAmount)
	assert.Equal(t, big.NewInt(1000), res.InputAmount)
	assert.Equal(t, big.NewInt(1050), res.OutputAmount)

	require.NotNil(t, res.GrossProfitNative)
	require.NotNil(t, res.GrossProfitUSD)
	require.NotNil(t, res.NetProfitNative)
	require.NotNil(t, res.NetProfitUSD)
	require.NotNil(t, res.ROIPercent)

	assert.True(t, res.GasCostNative.Equal(decimal.NewFromFloat(0.00075)), "gas cost native: %s", res.GasCostNative)
	assert.True(t, res.GasCostUSD.Equal(decimal.NewFromFloat(0.225)), "gas cost usd: %s", res.GasCostUSD)
	assert.True(t, res.GrossProfitNative.Equal(decimal.NewFromInt(50)), "gross profit native: %s", res.GrossProfitNative)
	assert.True(t, res.GrossProfitUSD.Equal(decimal.NewFromInt(15000)), "gross profit usd: %s", res.GrossProfitUSD)
	assert.True(t, res.NetProfitNative.Equal(decimal.NewFromFloat(49.99925)), "net profit native: %s", res.NetProfitNative)
	assert.True(t, res.NetProfitUSD.Equal(decimal.NewFromFloat(14999.775)), "net profit usd: %s", res.NetProfitUSD)
	assert.True(t, res.ROIPercent.Equal(decimal.NewFromFloat(4.999925)), "roi: %s", res.ROIPercent)
}

func TestCalculate_ZeroInputNoROI(t *testing.T) {
	events := []swap.Event{
		{Amount0In: big.NewInt(0), Amount1In: big.NewInt(0), Amount0Out: big.NewInt(0), Amount1Out: big.NewInt(0)},
	}
	res := Calculate(events, 21000, big.NewInt(1e9), decimal.NewFromInt(300))
	assert.Nil(t, res.InputAmount)
	assert.Nil(t, res.ROIPercent)
}

func TestCalculate_NoEvents(t *testing.T) {
	res := Calculate(nil, 21000, big.NewInt(1e9), decimal.NewFromInt(300))
	assert.Nil(t, res.InputAmount)
	assert.Nil(t, res.GrossProfitNative)
}

func TestCalculate_NegativeGrossProfitPreserved(t *testing.T) {
	events := []swap.Event{
		{Amount0In: big.NewInt(0), Amount1In: big.NewInt(2000), Amount0Out: big.NewInt(1900), Amount1Out: big.NewInt(0)},
	}
	res := Calculate(events, 21000, big.NewInt(1e9), decimal.NewFromInt(300))
	require.NotNil(t, res.GrossProfitNative)
	assert.True(t, res.GrossProfitNative.IsNegative())
}

// E4 — pool imbalance emission, per spec §8.
func TestCalculateImbalance_E4(t *testing.T) {
	reserve0 := big.NewInt(1200)
	reserve1 := big.NewInt(800)
	feeFraction := decimal.NewFromFloat(0.003)

	imb, ok := CalculateImbalance(reserve0, reserve1, feeFraction)
	require.True(t, ok)

	assert.True(t, imb.ImbalancePct.GreaterThan(decimal.NewFromInt(22)), "imbalance: %s", imb.ImbalancePct)
	assert.True(t, imb.ImbalancePct.LessThan(decimal.NewFromInt(23)), "imbalance: %s", imb.ImbalancePct)
	assert.True(t, imb.ProfitNative.GreaterThan(decimal.NewFromInt(170)), "profit: %s", imb.ProfitNative)
	assert.True(t, imb.ProfitNative.LessThan(decimal.NewFromInt(185)), "profit: %s", imb.ProfitNative)
}

func TestCalculateImbalance_ZeroReserveSkipped(t *testing.T) {
	_, ok := CalculateImbalance(big.NewInt(0), big.NewInt(1000), decimal.NewFromFloat(0.003))
	assert.False(t, ok)
}

func TestCalculateImbalance_BalancedPoolBelowThreshold(t *testing.T) {
	imb, ok := CalculateImbalance(big.NewInt(1000), big.NewInt(1000), decimal.NewFromFloat(0.003))
	require.True(t, ok)
	assert.True(t, imb.ImbalancePct.LessThan(decimal.NewFromFloat(0.01)))
}

func BenchmarkCalculateImbalance(b *testing.B) {
	r0 := big.NewInt(1_000_000_000)
	r1 := big.NewInt(850_000_000)
	fee := decimal.NewFromFloat(0.003)
	for i := 0; i < b.N; i++ {
		CalculateImbalance(r0, r1, fee)
	}
}
