package storage

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Opportunity mirrors spec §3's Opportunity entity as persisted by C9.
type Opportunity struct {
	ID            uuid.UUID       `db:"id"`
	ChainID       int64           `db:"chain_id"`
	PoolLabel     string          `db:"pool_label"`
	PoolAddress   string          `db:"pool_address"`
	ImbalancePct  decimal.Decimal `db:"imbalance_pct"`
	ProfitUSD     decimal.Decimal `db:"profit_usd"`
	ProfitNative  decimal.Decimal `db:"profit_native"`
	Reserve0      decimal.Decimal `db:"reserve0"`
	Reserve1      decimal.Decimal `db:"reserve1"`
	BlockNumber   int64           `db:"block_number"`
	DetectedAt    time.Time       `db:"detected_at"`
	Captured      bool            `db:"captured"`
	CapturedBy    *string         `db:"captured_by"`
	CaptureTxHash *string         `db:"capture_tx_hash"`
	FeeFraction   decimal.Decimal `db:"fee_fraction"`
}

// ArbitrageTransaction mirrors spec §3's ArbitrageTransaction entity.
type ArbitrageTransaction struct {
	ID              uuid.UUID        `db:"id"`
	ChainID         int64            `db:"chain_id"`
	TxHash          string           `db:"tx_hash"`
	FromAddress     string           `db:"from_address"`
	BlockNumber     int64            `db:"block_number"`
	BlockTimestamp  time.Time        `db:"block_timestamp"`
	GasPriceGwei    decimal.Decimal  `db:"gas_price_gwei"`
	GasUsed         int64            `db:"gas_used"`
	GasCostNative   decimal.Decimal  `db:"gas_cost_native"`
	GasCostUSD      decimal.Decimal  `db:"gas_cost_usd"`
	SwapCount       int              `db:"swap_count"`
	Strategy        string           `db:"strategy"`
	ProfitGrossUSD  *decimal.Decimal `db:"profit_gross_usd"`
	ProfitNetUSD    *decimal.Decimal `db:"profit_net_usd"`
	PoolsInvolved   []string         `db:"pools_involved"`
	TokensInvolved  []string         `db:"tokens_involved"`
	ReceiptStatus   int16            `db:"receipt_status"`
	DetectedAt      time.Time        `db:"detected_at"`
}

// Success follows the receipt's status field, per spec §9's
// disambiguation of the teacher source's ambiguous "success" flag.
func (t ArbitrageTransaction) Success() bool {
	return t.ReceiptStatus == 1
}

// Arbitrageur mirrors spec §3's Arbitrageur entity.
type Arbitrageur struct {
	Address                 string          `db:"address"`
	ChainID                 int64           `db:"chain_id"`
	FirstSeen               time.Time       `db:"first_seen"`
	LastSeen                time.Time       `db:"last_seen"`
	TotalTransactions       int64           `db:"total_transactions"`
	SuccessfulTransactions  int64           `db:"successful_transactions"`
	FailedTransactions      int64           `db:"failed_transactions"`
	TotalProfitUSD          decimal.Decimal `db:"total_profit_usd"`
	TotalGasSpentUSD        decimal.Decimal `db:"total_gas_spent_usd"`
	AvgGasPriceGwei         decimal.Decimal `db:"avg_gas_price_gwei"`
	PreferredStrategy       *string         `db:"preferred_strategy"`
	StrategyCountsJSON      []byte          `db:"strategy_counts"`
}

// ChainStat mirrors spec §3's ChainStat hourly bucket.
type ChainStat struct {
	ChainID                  int64            `db:"chain_id"`
	HourTimestamp            time.Time        `db:"hour_timestamp"`
	OpportunitiesDetected    int64            `db:"opportunities_detected"`
	OpportunitiesCaptured    int64            `db:"opportunities_captured"`
	SmallOpportunitiesCount  int64            `db:"small_opportunities_count"`
	SmallOppsCaptured        int64            `db:"small_opps_captured"`
	TransactionsDetected     int64            `db:"transactions_detected"`
	UniqueArbitrageurs       int64            `db:"unique_arbitrageurs"`
	TotalProfitUSD           decimal.Decimal  `db:"total_profit_usd"`
	CaptureRate              decimal.Decimal  `db:"capture_rate"`
	SmallOppCaptureRate      decimal.Decimal  `db:"small_opp_capture_rate"`
	AvgCompetitionLevel      decimal.Decimal  `db:"avg_competition_level"`
	ProfitMin                *decimal.Decimal `db:"profit_min"`
	ProfitMax                *decimal.Decimal `db:"profit_max"`
	ProfitAvg                *decimal.Decimal `db:"profit_avg"`
	ProfitMedian             *decimal.Decimal `db:"profit_median"`
	ProfitP95                *decimal.Decimal `db:"profit_p95"`
	TotalGasSpentUSD         decimal.Decimal  `db:"total_gas_spent_usd"`
}
