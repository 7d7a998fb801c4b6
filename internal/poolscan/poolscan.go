// Package poolscan implements the Pool Scanner (C4): periodic reserve
// sampling of configured pools, CPMM imbalance math, and opportunity
// emission. Scan-loop shape grounded on the teacher's
// ArbitrageDetector.detectionLoop (ticker + stop channel per chain).
package poolscan

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/blackms/arbitragemonitor/internal/config"
	"github.com/blackms/arbitragemonitor/internal/obsmetrics"
	"github.com/blackms/arbitragemonitor/internal/profit"
	"github.com/blackms/arbitragemonitor/internal/rpcclient"
	"github.com/blackms/arbitragemonitor/pkg/logger"
)

const getReservesABI = `[{"constant":true,"inputs":[],"name":"getReserves","outputs":[{"name":"reserve0","type":"uint112"},{"name":"reserve1","type":"uint112"},{"name":"blockTimestampLast","type":"uint32"}],"type":"function"}]`

var pairABI abi.ABI

func init() {
	parsed, err := abi.JSON(strings.NewReader(getReservesABI))
	if err != nil {
		panic(err)
	}
	pairABI = parsed
}

// Opportunity is the pool-imbalance record emitted by a scan tick
// (spec's Opportunity entity, persistence-assigned fields left zero).
type Opportunity struct {
	ChainID      int64
	PoolLabel    string
	PoolAddress  common.Address
	ImbalancePct decimal.Decimal
	ProfitUSD    decimal.Decimal
	ProfitNative decimal.Decimal
	Reserve0     *big.Int
	Reserve1     *big.Int
	BlockNumber  uint64
	DetectedAt   time.Time
	FeeFraction  decimal.Decimal
	DetectionID  string
}

// Sink receives emitted opportunities. internal/storage and
// internal/broadcast both implement it.
type Sink interface {
	PublishOpportunity(ctx context.Context, opp Opportunity)
}

// MultiSink fans an opportunity out to every sink in turn, continuing
// past a sink that handles its own failures (each sink owns its own
// error/retry policy; scanOnce never blocks on one sink's outcome).
type MultiSink []Sink

// PublishOpportunity implements Sink.
func (m MultiSink) PublishOpportunity(ctx context.Context, opp Opportunity) {
	for _, sink := range m {
		sink.PublishOpportunity(ctx, opp)
	}
}

// Scanner runs the C4 loop for one chain.
type Scanner struct {
	chain     *config.ChainConfig
	conn      *rpcclient.Connector
	sink      Sink
	logger    *logger.Logger
}

// New builds a pool scanner for one chain.
func New(chain *config.ChainConfig, conn *rpcclient.Connector, sink Sink, log *logger.Logger) *Scanner {
	return &Scanner{
		chain:  chain,
		conn:   conn,
		sink:   sink,
		logger: log.Named("poolscan").WithChain(chain.ChainID),
	}
}

// Run drives the scan loop until ctx is cancelled.
func (s *Scanner) Run(ctx context.Context) {
	ticker := time.NewTicker(s.chain.ScanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.scanOnce(ctx)
		}
	}
}

// scanOnce reads reserves sequentially across all configured pools, per
// spec §4.4's "sequential per tick" scheduling guarantee. A failed pool
// read logs and continues; it never aborts the tick.
func (s *Scanner) scanOnce(ctx context.Context) {
	height, err := s.conn.LatestHeight(ctx)
	if err != nil {
		s.logger.Warn("failed to fetch height for scan tick", "err", err.Error())
	}

	for label, addr := range s.chain.Pools {
		reserve0, reserve1, err := s.readReserves(ctx, addr)
		if err != nil {
			s.logger.Warn("failed to read pool reserves", "pool", label, "err", err.Error())
			continue
		}

		imb, ok := profit.CalculateImbalance(reserve0, reserve1, s.chain.FeeFraction)
		if !ok {
			continue
		}
		if imb.ImbalancePct.LessThan(s.chain.ImbalanceThresholdPct) {
			continue
		}

		opp := Opportunity{
			ChainID:      s.chain.ChainID,
			PoolLabel:    label,
			PoolAddress:  addr,
			ImbalancePct: imb.ImbalancePct,
			ProfitUSD:    imb.ProfitUSD,
			ProfitNative: imb.ProfitNative,
			Reserve0:     reserve0,
			Reserve1:     reserve1,
			BlockNumber:  height,
			DetectedAt:   time.Now(),
			FeeFraction:  s.chain.FeeFraction,
			DetectionID:  uuid.New().String(),
		}
		obsmetrics.OpportunitiesEmitted.WithLabelValues(s.chain.Name).Inc()
		s.sink.PublishOpportunity(ctx, opp)
	}
}

func (s *Scanner) readReserves(ctx context.Context, pool common.Address) (*big.Int, *big.Int, error) {
	data, err := pairABI.Pack("getReserves")
	if err != nil {
		return nil, nil, fmt.Errorf("pack getReserves: %w", err)
	}

	out, err := s.conn.Call(ctx, pool, data)
	if err != nil {
		return nil, nil, err
	}

	values, err := pairABI.Unpack("getReserves", out)
	if err != nil {
		return nil, nil, fmt.Errorf("unpack getReserves: %w", err)
	}
	return values[0].(*big.Int), values[1].(*big.Int), nil
}
