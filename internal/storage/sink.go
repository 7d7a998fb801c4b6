package storage

import (
	"context"
	"math/big"

	"github.com/shopspring/decimal"

	"github.com/blackms/arbitragemonitor/internal/poolscan"
)

func bigToDecimal(v *big.Int) decimal.Decimal {
	if v == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(v, 0)
}

// PublishOpportunity implements poolscan.Sink, persisting each emitted
// opportunity. Persistence failures are logged, not propagated: the
// pool scanner's tick must not block on a write's retry budget.
func (s *Store) PublishOpportunity(ctx context.Context, opp poolscan.Opportunity) {
	rec := &Opportunity{
		ChainID:      opp.ChainID,
		PoolLabel:    opp.PoolLabel,
		PoolAddress:  opp.PoolAddress.Hex(),
		ImbalancePct: opp.ImbalancePct,
		ProfitUSD:    opp.ProfitUSD,
		ProfitNative: opp.ProfitNative,
		Reserve0:     bigToDecimal(opp.Reserve0),
		Reserve1:     bigToDecimal(opp.Reserve1),
		BlockNumber:  int64(opp.BlockNumber),
		DetectedAt:   opp.DetectedAt,
		FeeFraction:  opp.FeeFraction,
	}
	if err := s.InsertOpportunity(ctx, rec); err != nil {
		s.logger.Error("failed to persist opportunity", "chain", opp.ChainID, "pool", opp.PoolLabel, "err", err.Error())
	}
}
