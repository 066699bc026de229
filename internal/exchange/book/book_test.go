package book

import (
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/birzha-dev/birzha/internal/exchange/model"
)

var nextSeq uint64

func limit(side, price, qty string) *model.Order {
	nextSeq++
	return &model.Order{
		ID:       uuid.New(),
		UserID:   uuid.New(),
		Ticker:   "AAPL",
		Side:     side,
		Type:     model.TypeLimit,
		Quantity: decimal.RequireFromString(qty),
		Price:    decimal.RequireFromString(price),
		Status:   model.StatusNew,
		Seq:      nextSeq,
	}
}

func TestOpposingPriceTimeOrder(t *testing.T) {
	b := New("AAPL")

	askHigh := limit(model.SideSell, "52", "1")
	askLowFirst := limit(model.SideSell, "50", "1")
	askLowSecond := limit(model.SideSell, "50", "1")
	b.Insert(askHigh)
	b.Insert(askLowFirst)
	b.Insert(askLowSecond)

	// A BUY walks asks cheapest first, FIFO within a price
	got := b.Opposing(model.SideBuy)
	require.Len(t, got, 3)
	assert.Equal(t, askLowFirst.ID, got[0].ID)
	assert.Equal(t, askLowSecond.ID, got[1].ID)
	assert.Equal(t, askHigh.ID, got[2].ID)

	bidLow := limit(model.SideBuy, "48", "1")
	bidHigh := limit(model.SideBuy, "49", "1")
	b.Insert(bidLow)
	b.Insert(bidHigh)

	// A SELL walks bids highest first
	got = b.Opposing(model.SideSell)
	require.Len(t, got, 2)
	assert.Equal(t, bidHigh.ID, got[0].ID)
	assert.Equal(t, bidLow.ID, got[1].ID)
}

func TestRemove(t *testing.T) {
	b := New("AAPL")
	a := limit(model.SideSell, "50", "1")
	c := limit(model.SideSell, "50", "1")
	b.Insert(a)
	b.Insert(c)
	require.Equal(t, 2, b.Len())

	b.Remove(a)
	assert.Equal(t, 1, b.Len())
	got := b.Opposing(model.SideBuy)
	require.Len(t, got, 1)
	assert.Equal(t, c.ID, got[0].ID)

	// Removing a non-member is a no-op
	b.Remove(a)
	assert.Equal(t, 1, b.Len())

	// Removing the last order at a price drops the level entirely
	b.Remove(c)
	assert.Equal(t, 0, b.Len())
	assert.Empty(t, b.Opposing(model.SideBuy))
}

func TestLevels(t *testing.T) {
	b := New("AAPL")
	b.Insert(limit(model.SideSell, "51", "3"))
	b.Insert(limit(model.SideSell, "50", "2"))
	b.Insert(limit(model.SideSell, "50", "5"))
	b.Insert(limit(model.SideBuy, "49", "4"))
	b.Insert(limit(model.SideBuy, "48", "1"))

	bids, asks := b.Levels(0)
	require.Len(t, asks, 2)
	assert.True(t, asks[0].Price.Equal(decimal.RequireFromString("50")))
	assert.True(t, asks[0].Quantity.Equal(decimal.RequireFromString("7")))
	assert.True(t, asks[1].Price.Equal(decimal.RequireFromString("51")))

	require.Len(t, bids, 2)
	assert.True(t, bids[0].Price.Equal(decimal.RequireFromString("49")))
	assert.True(t, bids[1].Price.Equal(decimal.RequireFromString("48")))

	// Partially filled orders count only their remainder
	ask := limit(model.SideSell, "52", "10")
	ask.FilledQuantity = decimal.RequireFromString("6")
	b.Insert(ask)
	_, asks = b.Levels(0)
	require.Len(t, asks, 3)
	assert.True(t, asks[2].Quantity.Equal(decimal.RequireFromString("4")))

	// Depth caps each side
	bids, asks = b.Levels(1)
	assert.Len(t, bids, 1)
	assert.Len(t, asks, 1)
}
