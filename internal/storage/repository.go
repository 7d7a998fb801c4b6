package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

// InsertOpportunity persists a newly detected opportunity.
func (s *Store) InsertOpportunity(ctx context.Context, o *Opportunity) error {
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	return s.withRetry(ctx, "insert_opportunity", func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO opportunities (
				id, chain_id, pool_label, pool_address, imbalance_pct, profit_usd,
				profit_native, reserve0, reserve1, block_number, detected_at,
				captured, captured_by, capture_tx_hash, fee_fraction
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)`,
			o.ID, o.ChainID, o.PoolLabel, o.PoolAddress, o.ImbalancePct, o.ProfitUSD,
			o.ProfitNative, o.Reserve0, o.Reserve1, o.BlockNumber, o.DetectedAt,
			o.Captured, o.CapturedBy, o.CaptureTxHash, o.FeeFraction,
		)
		return err
	})
}

// FindOpenOpportunitiesByPools returns every not-yet-captured opportunity
// on chainID whose pool_address is among poolAddresses — the candidate
// set a later arbitrage transaction's involved pools are checked against
// to resolve spec §3's Opportunity.captured transition.
func (s *Store) FindOpenOpportunitiesByPools(ctx context.Context, chainID int64, poolAddresses []string) ([]Opportunity, error) {
	if len(poolAddresses) == 0 {
		return nil, nil
	}
	rows, err := s.db.QueryxContext(ctx, `
		SELECT id, chain_id, pool_label, pool_address, imbalance_pct, profit_usd,
			profit_native, reserve0, reserve1, block_number, detected_at,
			captured, captured_by, capture_tx_hash, fee_fraction
		FROM opportunities
		WHERE chain_id = $1 AND captured = FALSE AND pool_address = ANY($2)`,
		chainID, pq.Array(poolAddresses))
	if err != nil {
		return nil, fmt.Errorf("storage: find open opportunities: %w", err)
	}
	defer rows.Close()

	var opps []Opportunity
	for rows.Next() {
		var o Opportunity
		if err := rows.StructScan(&o); err != nil {
			return nil, fmt.Errorf("storage: scan open opportunity: %w", err)
		}
		opps = append(opps, o)
	}
	return opps, rows.Err()
}

// MarkOpportunityCaptured records that a later transaction realized a
// prior opportunity (spec §3's Opportunity.captured lifecycle transition).
func (s *Store) MarkOpportunityCaptured(ctx context.Context, id uuid.UUID, capturedBy, txHash string) error {
	return s.withRetry(ctx, "mark_opportunity_captured", func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx, `
			UPDATE opportunities SET captured = TRUE, captured_by = $2, capture_tx_hash = $3
			WHERE id = $1`, id, capturedBy, txHash)
		return err
	})
}

// InsertArbitrageTransaction persists a detected transaction. Uniqueness
// on (chain_id, tx_hash) makes re-ingestion idempotent, per spec §4.5's
// "no deduplication required across restarts" guarantee.
func (s *Store) InsertArbitrageTransaction(ctx context.Context, t *ArbitrageTransaction) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	return s.withRetry(ctx, "insert_arbitrage_transaction", func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO arbitrage_transactions (
				id, chain_id, tx_hash, from_address, block_number, block_timestamp,
				gas_price_gwei, gas_used, gas_cost_native, gas_cost_usd, swap_count,
				strategy, profit_gross_usd, profit_net_usd, pools_involved,
				tokens_involved, receipt_status, detected_at
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)
			ON CONFLICT (chain_id, tx_hash) DO NOTHING`,
			t.ID, t.ChainID, t.TxHash, t.FromAddress, t.BlockNumber, t.BlockTimestamp,
			t.GasPriceGwei, t.GasUsed, t.GasCostNative, t.GasCostUSD, t.SwapCount,
			t.Strategy, t.ProfitGrossUSD, t.ProfitNetUSD, pq.Array(t.PoolsInvolved),
			pq.Array(t.TokensInvolved), t.ReceiptStatus, t.DetectedAt,
		)
		return err
	})
}

// UpsertArbitrageur implements C6's atomic upsert keyed by (address,
// chain_id), per spec §4.6. Each update runs in one transaction that reads
// the existing row with SELECT ... FOR UPDATE and then inserts or updates
// it, so the row lock preserves the total = successful + failed invariant.
func (s *Store) UpsertArbitrageur(ctx context.Context, address string, chainID int64, success bool, profitNetUSD, gasCostUSD, gasPriceGwei decimal.Decimal, strategy string) error {
	successInc, failInc := 0, 1
	if success {
		successInc, failInc = 1, 0
	}
	profitDelta := decimal.Max(decimal.Zero, profitNetUSD)

	return s.withRetry(ctx, "upsert_arbitrageur", func(ctx context.Context) error {
		return s.upsertArbitrageurTx(ctx, address, chainID, successInc, failInc, profitDelta, gasCostUSD, gasPriceGwei, strategy)
	})
}

func (s *Store) upsertArbitrageurTx(ctx context.Context, address string, chainID int64, successInc, failInc int, profitDelta, gasCostUSD, gasPriceGwei decimal.Decimal, strategy string) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var row struct {
		TotalTransactions  int64           `db:"total_transactions"`
		AvgGasPriceGwei    decimal.Decimal `db:"avg_gas_price_gwei"`
		StrategyCountsJSON []byte          `db:"strategy_counts"`
	}
	err = tx.QueryRowxContext(ctx, `
		SELECT total_transactions, avg_gas_price_gwei, strategy_counts
		FROM arbitrageurs WHERE address = $1 AND chain_id = $2 FOR UPDATE`,
		address, chainID).Scan(&row.TotalTransactions, &row.AvgGasPriceGwei, &row.StrategyCountsJSON)

	now := time.Now().UTC()

	if err == sql.ErrNoRows {
		counts := map[string]int64{strategy: 1}
		countsJSON, _ := json.Marshal(counts)
		_, err = tx.ExecContext(ctx, `
			INSERT INTO arbitrageurs (
				address, chain_id, first_seen, last_seen, total_transactions,
				successful_transactions, failed_transactions, total_profit_usd,
				total_gas_spent_usd, avg_gas_price_gwei, preferred_strategy, strategy_counts
			) VALUES ($1,$2,$3,$3,1,$4,$5,$6,$7,$8,$9,$10)`,
			address, chainID, now, successInc, failInc, profitDelta, gasCostUSD, gasPriceGwei, strategy, countsJSON,
		)
		if err != nil {
			return err
		}
		return tx.Commit()
	}
	if err != nil {
		return err
	}

	counts := map[string]int64{}
	_ = json.Unmarshal(row.StrategyCountsJSON, &counts)
	counts[strategy]++
	preferred := argmaxStrategy(counts)
	countsJSON, _ := json.Marshal(counts)

	newTotal := row.TotalTransactions + 1
	newAvgGas := row.AvgGasPriceGwei.Mul(decimal.NewFromInt(row.TotalTransactions)).Add(gasPriceGwei).Div(decimal.NewFromInt(newTotal))

	_, err = tx.ExecContext(ctx, `
		UPDATE arbitrageurs SET
			last_seen = $3,
			total_transactions = total_transactions + 1,
			successful_transactions = successful_transactions + $4,
			failed_transactions = failed_transactions + $5,
			total_profit_usd = total_profit_usd + $6,
			total_gas_spent_usd = total_gas_spent_usd + $7,
			avg_gas_price_gwei = $8,
			preferred_strategy = $9,
			strategy_counts = $10
		WHERE address = $1 AND chain_id = $2`,
		address, chainID, now, successInc, failInc, profitDelta, gasCostUSD, newAvgGas, preferred, countsJSON,
	)
	if err != nil {
		return err
	}
	return tx.Commit()
}

func argmaxStrategy(counts map[string]int64) string {
	var best string
	var bestCount int64 = -1
	for strategy, count := range counts {
		if count > bestCount || (count == bestCount && strategy < best) {
			best, bestCount = strategy, count
		}
	}
	return best
}

// UpsertChainStat implements C7's idempotent hourly upsert, per spec §4.8.
func (s *Store) UpsertChainStat(ctx context.Context, stat *ChainStat) error {
	return s.withRetry(ctx, "upsert_chain_stat", func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO chain_stats (
				chain_id, hour_timestamp, opportunities_detected, opportunities_captured,
				small_opportunities_count, small_opps_captured, transactions_detected,
				unique_arbitrageurs, total_profit_usd, capture_rate, small_opp_capture_rate,
				avg_competition_level, profit_min, profit_max, profit_avg, profit_median,
				profit_p95, total_gas_spent_usd
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)
			ON CONFLICT (chain_id, hour_timestamp) DO UPDATE SET
				opportunities_detected = EXCLUDED.opportunities_detected,
				opportunities_captured = EXCLUDED.opportunities_captured,
				small_opportunities_count = EXCLUDED.small_opportunities_count,
				small_opps_captured = EXCLUDED.small_opps_captured,
				transactions_detected = EXCLUDED.transactions_detected,
				unique_arbitrageurs = EXCLUDED.unique_arbitrageurs,
				total_profit_usd = EXCLUDED.total_profit_usd,
				capture_rate = EXCLUDED.capture_rate,
				small_opp_capture_rate = EXCLUDED.small_opp_capture_rate,
				avg_competition_level = EXCLUDED.avg_competition_level,
				profit_min = EXCLUDED.profit_min,
				profit_max = EXCLUDED.profit_max,
				profit_avg = EXCLUDED.profit_avg,
				profit_median = EXCLUDED.profit_median,
				profit_p95 = EXCLUDED.profit_p95,
				total_gas_spent_usd = EXCLUDED.total_gas_spent_usd`,
			stat.ChainID, stat.HourTimestamp, stat.OpportunitiesDetected, stat.OpportunitiesCaptured,
			stat.SmallOpportunitiesCount, stat.SmallOppsCaptured, stat.TransactionsDetected,
			stat.UniqueArbitrageurs, stat.TotalProfitUSD, stat.CaptureRate, stat.SmallOppCaptureRate,
			stat.AvgCompetitionLevel, stat.ProfitMin, stat.ProfitMax, stat.ProfitAvg, stat.ProfitMedian,
			stat.ProfitP95, stat.TotalGasSpentUSD,
		)
		return err
	})
}

// ComputeHourlyStat aggregates one closed hour for one chain directly in
// SQL, following the teacher's query-composition style in
// internal/transaction.repository.go's ListTransactions.
func (s *Store) ComputeHourlyStat(ctx context.Context, chainID int64, hour, hourEnd time.Time, smallOppMinUSD, smallOppMaxUSD decimal.Decimal) (*ChainStat, error) {
	var stat ChainStat
	stat.ChainID = chainID

	row := s.db.QueryRowxContext(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE TRUE) AS opportunities_detected,
			COUNT(*) FILTER (WHERE captured) AS opportunities_captured,
			COUNT(*) FILTER (WHERE profit_usd BETWEEN $4 AND $5) AS small_opportunities_count,
			COUNT(*) FILTER (WHERE captured AND profit_usd BETWEEN $4 AND $5) AS small_opps_captured
		FROM opportunities
		WHERE chain_id = $1 AND detected_at >= $2 AND detected_at < $3`,
		chainID, hour, hourEnd, smallOppMinUSD, smallOppMaxUSD)
	if err := row.Scan(&stat.OpportunitiesDetected, &stat.OpportunitiesCaptured,
		&stat.SmallOpportunitiesCount, &stat.SmallOppsCaptured); err != nil {
		return nil, fmt.Errorf("storage: compute opportunities stat: %w", err)
	}

	row2 := s.db.QueryRowxContext(ctx, `
		SELECT
			COUNT(*),
			COUNT(DISTINCT from_address),
			COALESCE(MIN(profit_net_usd), 0),
			COALESCE(MAX(profit_net_usd), 0),
			COALESCE(AVG(profit_net_usd), 0),
			COALESCE(PERCENTILE_CONT(0.5) WITHIN GROUP (ORDER BY profit_net_usd), 0),
			COALESCE(PERCENTILE_CONT(0.95) WITHIN GROUP (ORDER BY profit_net_usd), 0),
			COALESCE(SUM(gas_cost_usd), 0),
			COALESCE(SUM(profit_net_usd), 0)
		FROM arbitrage_transactions
		WHERE chain_id = $1 AND detected_at >= $2 AND detected_at < $3`,
		chainID, hour, hourEnd)
	var profitMin, profitMax, profitAvg, profitMedian, profitP95 decimal.Decimal
	if err := row2.Scan(&stat.TransactionsDetected, &stat.UniqueArbitrageurs,
		&profitMin, &profitMax, &profitAvg, &profitMedian, &profitP95, &stat.TotalGasSpentUSD, &stat.TotalProfitUSD); err != nil {
		return nil, fmt.Errorf("storage: compute transaction stat: %w", err)
	}
	stat.ProfitMin, stat.ProfitMax, stat.ProfitAvg, stat.ProfitMedian, stat.ProfitP95 =
		&profitMin, &profitMax, &profitAvg, &profitMedian, &profitP95

	if stat.OpportunitiesDetected > 0 {
		stat.CaptureRate = decimal.NewFromInt(stat.OpportunitiesCaptured).Div(decimal.NewFromInt(stat.OpportunitiesDetected)).Mul(decimal.NewFromInt(100))
		stat.AvgCompetitionLevel = decimal.NewFromInt(stat.UniqueArbitrageurs).Div(decimal.NewFromInt(stat.OpportunitiesDetected))
	}
	if stat.SmallOpportunitiesCount > 0 {
		stat.SmallOppCaptureRate = decimal.NewFromInt(stat.SmallOppsCaptured).Div(decimal.NewFromInt(stat.SmallOpportunitiesCount)).Mul(decimal.NewFromInt(100))
	}

	return &stat, nil
}
