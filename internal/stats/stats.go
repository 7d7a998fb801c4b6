// Package stats implements the Stats Aggregator (C7): an hourly,
// per-chain rollup of opportunities and transactions into ChainStat
// rows. Loop shape grounded on the teacher's periodic-aggregation
// goroutines (ticker + stop channel); the aggregation itself is pushed
// down into internal/storage.Store.ComputeHourlyStat so the SQL engine
// does the heavy lifting, matching the teacher's query-composition style.
package stats

import (
	"context"
	"time"

	"github.com/blackms/arbitragemonitor/internal/config"
	"github.com/blackms/arbitragemonitor/internal/storage"
	"github.com/blackms/arbitragemonitor/pkg/logger"
)

// Aggregator drives C7's hourly rollup for every configured chain.
type Aggregator struct {
	chains []config.ChainConfig
	store  *storage.Store
	logger *logger.Logger
}

// New builds a stats aggregator over all configured chains.
func New(chains []config.ChainConfig, store *storage.Store, log *logger.Logger) *Aggregator {
	return &Aggregator{chains: chains, store: store, logger: log.Named("stats")}
}

// Run ticks once per hour boundary, computing and upserting the stat for
// the hour that just closed. It also computes once immediately at
// startup for the previous hour; hours before that are not recomputed.
func (a *Aggregator) Run(ctx context.Context) {
	a.computeClosedHour(ctx, time.Now().UTC())

	for {
		next := nextHourBoundary(time.Now().UTC())
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			a.computeClosedHour(ctx, next)
		}
	}
}

func nextHourBoundary(now time.Time) time.Time {
	return now.Truncate(time.Hour).Add(time.Hour)
}

// computeClosedHour aggregates the hour immediately preceding asOf for
// every chain. Re-running for the same hour is safe: UpsertChainStat
// replaces the prior row for that (chain_id, hour_timestamp) exactly,
// per spec §8's idempotent-recompute property.
func (a *Aggregator) computeClosedHour(ctx context.Context, asOf time.Time) {
	hourEnd := asOf.Truncate(time.Hour)
	hour := hourEnd.Add(-time.Hour)

	for i := range a.chains {
		chain := &a.chains[i]
		stat, err := a.store.ComputeHourlyStat(ctx, chain.ChainID, hour, hourEnd, chain.SmallOppMinUSD, chain.SmallOppMaxUSD)
		if err != nil {
			a.logger.Error("failed to compute hourly stat", "chain", chain.ChainID, "hour", hour, "err", err.Error())
			continue
		}
		stat.HourTimestamp = hour
		if err := a.store.UpsertChainStat(ctx, stat); err != nil {
			a.logger.Error("failed to persist hourly stat", "chain", chain.ChainID, "hour", hour, "err", err.Error())
		}
	}
}
