// Package chainmonitor implements the Chain Monitor (C5): the per-chain
// polling loop that walks newly confirmed blocks, classifies router-bound
// transactions via internal/swap, reconstructs profit via internal/profit,
// and — in the order spec §4.5 fixes — persists the transaction (C9),
// updates the arbitrageur record (C6), then pushes it to the broadcast
// hub (C8). Loop shape grounded on the teacher's
// ArbitrageDetector.detectionLoop (ticker-driven, per-chain goroutine,
// stop via context).
package chainmonitor

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"

	"github.com/blackms/arbitragemonitor/internal/arbitrageur"
	"github.com/blackms/arbitragemonitor/internal/config"
	"github.com/blackms/arbitragemonitor/internal/obsmetrics"
	"github.com/blackms/arbitragemonitor/internal/profit"
	"github.com/blackms/arbitragemonitor/internal/rpcclient"
	"github.com/blackms/arbitragemonitor/internal/storage"
	"github.com/blackms/arbitragemonitor/internal/swap"
	"github.com/blackms/arbitragemonitor/pkg/logger"
)

var weiPerGwei = decimal.New(1, 9)

// TransactionSink receives a fully persisted transaction for broadcast.
// internal/broadcast.Hub implements it.
type TransactionSink interface {
	PublishTransaction(ctx context.Context, tx storage.ArbitrageTransaction)
}

// Monitor drives C5's polling loop for one chain.
type Monitor struct {
	chain      *config.ChainConfig
	conn       *rpcclient.Connector
	store      *storage.Store
	tracker    *arbitrageur.Tracker
	broadcast  TransactionSink
	logger     *logger.Logger
	signer     types.Signer

	pollInterval time.Duration
	synced       uint64
}

// New builds a chain monitor. pollInterval is the tip-check cadence
// (spec §4.5's "every 1 second").
func New(chain *config.ChainConfig, conn *rpcclient.Connector, store *storage.Store, broadcast TransactionSink, log *logger.Logger) *Monitor {
	return &Monitor{
		chain:        chain,
		conn:         conn,
		store:        store,
		tracker:      arbitrageur.New(store),
		broadcast:    broadcast,
		logger:       log.Named("chainmonitor").WithChain(chain.ChainID),
		signer:       types.LatestSignerForChainID(big.NewInt(chain.ChainID)),
		pollInterval: time.Second,
	}
}

// Run drives the polling loop until ctx is cancelled. On first start it
// seeds synced to one block behind the current tip so the very first
// tick processes exactly the current head, never a deep backlog.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()

	if tip, err := m.conn.LatestHeight(ctx); err == nil && tip > 0 {
		m.synced = tip - 1
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.pollOnce(ctx)
		}
	}
}

// pollOnce advances from synced+1 through the chain's current tip,
// processing each block in order. A block that fails to fetch is
// retried on the next tick rather than skipped, per spec §4.5's
// "never silently skip a block" guarantee.
func (m *Monitor) pollOnce(ctx context.Context) {
	tip, err := m.conn.LatestHeight(ctx)
	if err != nil {
		m.logger.Warn("failed to fetch chain tip", "err", err.Error())
		return
	}
	if m.synced == 0 && tip > 0 {
		m.synced = tip - 1 // seeding in Run failed; seed here instead
	}
	obsmetrics.BlocksBehind.WithLabelValues(m.chain.Name).Set(float64(tip) - float64(m.synced))

	for h := m.synced + 1; h <= tip; h++ {
		start := time.Now()
		if err := m.processBlock(ctx, h); err != nil {
			m.logger.Warn("failed to process block, will retry next tick", "block", h, "err", err.Error())
			return
		}
		obsmetrics.BlockProcessDuration.WithLabelValues(m.chain.Name).Observe(time.Since(start).Seconds())
		m.synced = h
	}
}

func (m *Monitor) processBlock(ctx context.Context, height uint64) error {
	block, err := m.conn.Block(ctx, height)
	if err != nil {
		return err
	}

	for _, tx := range block.Transactions() {
		if tx.To() == nil {
			continue // contract creation, never router-bound
		}
		if !swap.IsRouter(*tx.To(), m.chain.DexRouters) {
			continue
		}

		receipt, err := m.conn.Receipt(ctx, tx.Hash())
		if err != nil {
			m.logger.Warn("failed to fetch receipt, skipping transaction", "tx_hash", tx.Hash().Hex(), "err", err.Error())
			continue
		}

		isArb, events, err := swap.IsArbitrage(*tx.To(), tx.Data(), m.chain.DexRouters, m.chain.SwapSelectors, receipt.Logs)
		if err != nil {
			m.logger.Warn("failed to decode swap logs, skipping transaction", "tx_hash", tx.Hash().Hex(), "err", err.Error())
			continue
		}
		if !isArb {
			continue
		}

		m.handleArbitrage(ctx, block, tx, receipt, events)
	}
	return nil
}

func (m *Monitor) handleArbitrage(ctx context.Context, block *types.Block, tx *types.Transaction, receipt *types.Receipt, events []swap.Event) {
	obsmetrics.TransactionsDetected.WithLabelValues(m.chain.Name).Inc()

	from, err := types.Sender(m.signer, tx)
	if err != nil {
		m.logger.Warn("failed to recover sender, skipping transaction", "tx_hash", tx.Hash().Hex(), "err", err.Error())
		return
	}

	result := profit.Calculate(events, receipt.GasUsed, receipt.EffectiveGasPrice, m.chain.Price().Get())
	success := receipt.Status == types.ReceiptStatusSuccessful

	record := storage.ArbitrageTransaction{
		ChainID:        m.chain.ChainID,
		TxHash:         tx.Hash().Hex(),
		FromAddress:    from.Hex(),
		BlockNumber:    int64(block.NumberU64()),
		BlockTimestamp: time.Unix(int64(block.Time()), 0).UTC(),
		GasPriceGwei:   decimal.NewFromBigInt(receipt.EffectiveGasPrice, 0).Div(weiPerGwei),
		GasUsed:        int64(receipt.GasUsed),
		GasCostNative:  result.GasCostNative,
		GasCostUSD:     result.GasCostUSD,
		SwapCount:      len(events),
		Strategy:       swap.Strategy(len(events)),
		ProfitGrossUSD: result.GrossProfitUSD,
		ProfitNetUSD:   result.NetProfitUSD,
		PoolsInvolved:  poolAddresses(events),
		TokensInvolved: nil, // token metadata requires an ERC-20 symbol lookup, out of scope here
		DetectedAt:     time.Now().UTC(),
	}
	if success {
		record.ReceiptStatus = 1
	}

	if err := m.store.InsertArbitrageTransaction(ctx, &record); err != nil {
		m.logger.Error("failed to persist arbitrage transaction", "tx_hash", record.TxHash, "err", err.Error())
		return
	}

	if err := m.tracker.Record(ctx, record.FromAddress, m.chain.ChainID, receipt.Status, result.NetProfitUSD, result.GasCostUSD, record.GasPriceGwei, record.Strategy); err != nil {
		m.logger.Error("failed to update arbitrageur stats", "address", record.FromAddress, "err", err.Error())
	}

	m.captureOpportunities(ctx, record)

	m.broadcast.PublishTransaction(ctx, record)
}

// captureOpportunities resolves spec §3's Opportunity.captured transition:
// any still-open opportunity on this chain whose pool this transaction
// also touched was, by definition, drained by it.
func (m *Monitor) captureOpportunities(ctx context.Context, record storage.ArbitrageTransaction) {
	opps, err := m.store.FindOpenOpportunitiesByPools(ctx, record.ChainID, record.PoolsInvolved)
	if err != nil {
		m.logger.Error("failed to look up open opportunities", "tx_hash", record.TxHash, "err", err.Error())
		return
	}
	for _, opp := range opps {
		if err := m.store.MarkOpportunityCaptured(ctx, opp.ID, record.FromAddress, record.TxHash); err != nil {
			m.logger.Error("failed to mark opportunity captured", "opportunity", opp.ID, "tx_hash", record.TxHash, "err", err.Error())
		}
	}
}

// poolAddresses returns one pool address per swap event, in emission
// order, duplicates included. A route that revisits a pool (e.g. a
// triangular route back through its starting pair) must keep that repeat
// so len(pools_involved) == swap_count holds per spec §3/§8.
func poolAddresses(events []swap.Event) []string {
	if len(events) == 0 {
		return nil
	}
	pools := make([]string, len(events))
	for i, ev := range events {
		pools[i] = ev.PoolAddress.Hex()
	}
	return pools
}
