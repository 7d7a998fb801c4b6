// Package arbitrageur implements the Arbitrageur Tracker (C6): the
// decision point between a detected transaction's receipt and the
// atomic (address, chain_id) upsert that internal/storage performs.
// Grounded on the teacher's PostgresRepository query-building style in
// internal/transaction/repository.go; the upsert itself lives in
// storage.Store.UpsertArbitrageur, serialized per key by Postgres's row
// lock rather than an in-process mutex.
package arbitrageur

import (
	"context"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"

	"github.com/blackms/arbitragemonitor/internal/storage"
)

// Store is the persistence dependency, satisfied by *storage.Store.
type Store interface {
	UpsertArbitrageur(ctx context.Context, address string, chainID int64, success bool, profitNetUSD, gasCostUSD, gasPriceGwei decimal.Decimal, strategy string) error
}

// Tracker decides the success flag from a receipt and records the
// outcome against the transaction's sender.
type Tracker struct {
	store Store
}

// New builds an arbitrageur tracker over the given store.
func New(store Store) *Tracker {
	return &Tracker{store: store}
}

// Record updates the arbitrageur row for the transaction's sender,
// resolving the success flag from the receipt's status — never from
// profitability — per spec §9's disambiguation.
func (t *Tracker) Record(ctx context.Context, address string, chainID int64, receiptStatus uint64, profitNetUSD *decimal.Decimal, gasCostUSD, gasPriceGwei decimal.Decimal, strategy string) error {
	success := receiptStatus == types.ReceiptStatusSuccessful

	profit := decimal.Zero
	if profitNetUSD != nil {
		profit = *profitNetUSD
	}
	return t.store.UpsertArbitrageur(ctx, address, chainID, success, profit, gasCostUSD, gasPriceGwei, strategy)
}

var _ Store = (*storage.Store)(nil)
