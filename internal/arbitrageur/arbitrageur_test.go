package arbitrageur

import (
	"context"
	"testing"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	gotSuccess bool
	gotProfit  decimal.Decimal
	calls      int
}

func (f *fakeStore) UpsertArbitrageur(_ context.Context, _ string, _ int64, success bool, profitNetUSD, _, _ decimal.Decimal, _ string) error {
	f.calls++
	f.gotSuccess = success
	f.gotProfit = profitNetUSD
	return nil
}

func TestRecord_SuccessFromReceiptStatusNotProfit(t *testing.T) {
	store := &fakeStore{}
	tracker := New(store)

	loss := decimal.NewFromInt(-50)
	err := tracker.Record(context.Background(), "0xabc", 1, types.ReceiptStatusSuccessful, &loss, decimal.Zero, decimal.Zero, "2-hop")

	require.NoError(t, err)
	assert.True(t, store.gotSuccess, "a successful receipt must record success even when the transaction lost money")
	assert.True(t, store.gotProfit.Equal(loss))
}

func TestRecord_FailedReceiptIsFailureRegardlessOfProfit(t *testing.T) {
	store := &fakeStore{}
	tracker := New(store)

	gain := decimal.NewFromInt(100)
	err := tracker.Record(context.Background(), "0xabc", 1, types.ReceiptStatusFailed, &gain, decimal.Zero, decimal.Zero, "3-hop")

	require.NoError(t, err)
	assert.False(t, store.gotSuccess)
}

func TestRecord_NilProfitTreatedAsZero(t *testing.T) {
	store := &fakeStore{}
	tracker := New(store)

	err := tracker.Record(context.Background(), "0xabc", 1, types.ReceiptStatusSuccessful, nil, decimal.Zero, decimal.Zero, "2-hop")

	require.NoError(t, err)
	assert.True(t, store.gotProfit.IsZero())
}
