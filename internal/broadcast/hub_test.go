package broadcast

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFilter_MatchesOpportunity(t *testing.T) {
	chainID := int64(1)
	minProfit := decimal.NewFromInt(100)

	f := Filter{ChainID: &chainID, MinProfit: &minProfit}

	assert.True(t, f.matchesOpportunity(1, decimal.NewFromInt(150)))
	assert.False(t, f.matchesOpportunity(1, decimal.NewFromInt(50)))
	assert.False(t, f.matchesOpportunity(2, decimal.NewFromInt(150)))
}

func TestFilter_MatchesTransaction_MinSwaps(t *testing.T) {
	minSwaps := 3
	f := Filter{MinSwaps: &minSwaps}

	assert.False(t, f.matchesTransaction(1, decimal.Zero, 2))
	assert.True(t, f.matchesTransaction(1, decimal.Zero, 3))
}

func TestFilter_EmptyFilterMatchesEverything(t *testing.T) {
	f := Filter{}
	assert.True(t, f.matchesOpportunity(42, decimal.NewFromInt(-1000)))
	assert.True(t, f.matchesTransaction(42, decimal.NewFromInt(-1000), 0))
}

// TestHandleMessage_SubscribeJSONFiltersPopulateByKey round-trips a real
// subscribe message using spec §6's snake_case filter keys through
// handleMessage, guarding against Filter losing its json tags again.
func TestHandleMessage_SubscribeJSONFiltersPopulateByKey(t *testing.T) {
	c := &Subscriber{notify: make(chan struct{}, 1), done: make(chan struct{})}

	msg := []byte(`{"type":"subscribe","channel":"transactions","filters":{"chain_id":1,"min_profit":"100","max_profit":"500","min_swaps":2}}`)
	c.handleMessage(msg)

	require.Len(t, c.subscriptions, 1)
	f := c.subscriptions[0].filter

	require.NotNil(t, f.ChainID)
	assert.Equal(t, int64(1), *f.ChainID)
	require.NotNil(t, f.MinProfit)
	assert.True(t, f.MinProfit.Equal(decimal.NewFromInt(100)))
	require.NotNil(t, f.MaxProfit)
	assert.True(t, f.MaxProfit.Equal(decimal.NewFromInt(500)))
	require.NotNil(t, f.MinSwaps)
	assert.Equal(t, 2, *f.MinSwaps)

	assert.True(t, f.matchesTransaction(1, decimal.NewFromInt(200), 2))
	assert.False(t, f.matchesTransaction(2, decimal.NewFromInt(200), 2), "wrong chain must not match")
}

func TestSubscriber_EnqueueDropsOldestOnOverflow(t *testing.T) {
	c := &Subscriber{notify: make(chan struct{}, 1), done: make(chan struct{})}

	for i := 0; i < mailboxCapacity+5; i++ {
		c.enqueue(wireMessage{Type: "opportunity", Timestamp: int64(i)})
	}

	drained := c.drain()
	assert.Len(t, drained, mailboxCapacity)
	assert.Equal(t, int64(5), drained[0].Timestamp) // oldest 5 were dropped
	assert.Equal(t, int64(mailboxCapacity+4), drained[len(drained)-1].Timestamp)
}
