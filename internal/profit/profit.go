// Package profit implements the Profit Calculator (C3) and the
// constant-product imbalance math shared with the Pool Scanner (C4).
// All monetary math is decimal.Decimal; all token amounts are *big.Int.
package profit

import (
	"math/big"

	"github.com/shopspring/decimal"

	"github.com/blackms/arbitragemonitor/internal/swap"
)

// weiPerNative is 10^18, the scaling factor from wei to native units.
// It applies only to the gas-price conversion below: gas price arrives
// wei-denominated, but swap.Event amounts are already in the pool's
// native token units (spec §4.3), so token deltas never divide by it.
var weiPerNative = decimal.New(1, 18)

// Result is the output of profit reconstruction for one arbitrage
// transaction. The profit and ROI fields are nil when input_amount or
// output_amount could not be determined (spec's "no profit data" case) —
// the transaction is still recorded, just with null profit fields. The
// gas cost fields are always set.
type Result struct {
	InputAmount      *big.Int
	OutputAmount     *big.Int
	GrossProfitNative *decimal.Decimal
	GasCostNative     decimal.Decimal
	NetProfitNative   *decimal.Decimal
	GrossProfitUSD    *decimal.Decimal
	NetProfitUSD      *decimal.Decimal
	GasCostUSD        decimal.Decimal
	ROIPercent        *decimal.Decimal
}

// firstNonZero returns whichever of a, b is non-zero, preferring a.
// Returns nil if both are zero.
func firstNonZero(a, b *big.Int) *big.Int {
	if a != nil && a.Sign() != 0 {
		return a
	}
	if b != nil && b.Sign() != 0 {
		return b
	}
	return nil
}

// Calculate derives token flow and profit from an ordered swap sequence
// plus gas and pricing inputs, per spec §4.3.
func Calculate(events []swap.Event, gasUsed uint64, effectiveGasPriceWei *big.Int, nativeUSDPrice decimal.Decimal) Result {
	gasCostWei := new(big.Int).Mul(new(big.Int).SetUint64(gasUsed), effectiveGasPriceWei)
	gasCostNative := decimal.NewFromBigInt(gasCostWei, 0).Div(weiPerNative)
	gasCostUSD := gasCostNative.Mul(nativeUSDPrice)

	res := Result{
		GasCostNative: gasCostNative,
		GasCostUSD:    gasCostUSD,
	}

	if len(events) == 0 {
		return res
	}

	first := events[0]
	last := events[len(events)-1]

	res.InputAmount = firstNonZero(first.Amount0In, first.Amount1In)
	res.OutputAmount = firstNonZero(last.Amount0Out, last.Amount1Out)

	if res.InputAmount == nil || res.OutputAmount == nil {
		// "no profit data" — recorded, not re-classified.
		return res
	}

	grossNative := decimal.NewFromBigInt(res.OutputAmount, 0).Sub(decimal.NewFromBigInt(res.InputAmount, 0))
	netNative := grossNative.Sub(gasCostNative)
	grossUSD := grossNative.Mul(nativeUSDPrice)
	netUSD := netNative.Mul(nativeUSDPrice)

	res.GrossProfitNative = &grossNative
	res.NetProfitNative = &netNative
	res.GrossProfitUSD = &grossUSD
	res.NetProfitUSD = &netUSD

	if res.InputAmount.Sign() > 0 {
		inputNative := decimal.NewFromBigInt(res.InputAmount, 0)
		roi := netNative.Div(inputNative).Mul(decimal.NewFromInt(100))
		res.ROIPercent = &roi
	}

	return res
}

// Imbalance is the result of the constant-product reserve check (C4).
type Imbalance struct {
	Reserve0     *big.Int
	Reserve1     *big.Int
	ImbalancePct decimal.Decimal
	ProfitNative decimal.Decimal
	ProfitUSD    decimal.Decimal
}

// CalculateImbalance implements spec §4.4's CPMM formula. Returns ok=false
// if either reserve is zero (skip this pool for this tick).
func CalculateImbalance(reserve0, reserve1 *big.Int, feeFraction decimal.Decimal) (Imbalance, bool) {
	if reserve0.Sign() == 0 || reserve1.Sign() == 0 {
		return Imbalance{}, false
	}

	r0 := decimal.NewFromBigInt(reserve0, 0)
	r1 := decimal.NewFromBigInt(reserve1, 0)
	k := r0.Mul(r1)
	optimal := sqrtDecimal(k)
	if optimal.IsZero() {
		return Imbalance{}, false
	}

	dev0 := r0.Sub(optimal).Abs().Div(optimal)
	dev1 := r1.Sub(optimal).Abs().Div(optimal)
	imbalancePct := decimal.Max(dev0, dev1).Mul(decimal.NewFromInt(100))

	minReserve := decimal.Min(r0, r1)
	profitNative := decimal.Max(decimal.Zero, imbalancePct.Div(decimal.NewFromInt(100)).Sub(feeFraction)).Mul(minReserve)

	return Imbalance{
		Reserve0:     reserve0,
		Reserve1:     reserve1,
		ImbalancePct: imbalancePct,
		ProfitNative: profitNative,
		ProfitUSD:    profitNative, // token1 assumed ~= USD, per spec §4.4
	}, true
}

// sqrtDecimal computes an arbitrary-precision square root via Newton's
// method to decimal.DivisionPrecision digits.
func sqrtDecimal(d decimal.Decimal) decimal.Decimal {
	if d.Sign() <= 0 {
		return decimal.Zero
	}
	guess := d
	two := decimal.NewFromInt(2)
	for i := 0; i < 64; i++ {
		next := guess.Add(d.Div(guess)).Div(two)
		if next.Sub(guess).Abs().LessThan(decimal.New(1, -int32(decimal.DivisionPrecision-2))) {
			guess = next
			break
		}
		guess = next
	}
	return guess
}
