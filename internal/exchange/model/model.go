package model

import (
	"regexp"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Order sides, types and statuses
const (
	SideBuy  = "BUY"
	SideSell = "SELL"

	TypeLimit  = "LIMIT"
	TypeMarket = "MARKET"

	StatusNew               = "NEW"
	StatusPartiallyExecuted = "PARTIALLY_EXECUTED"
	StatusExecuted          = "EXECUTED"
	StatusCancelled         = "CANCELLED"
)

// TickerRUB is the settlement currency. It is seeded once at startup and
// every trade settles its cash leg in it.
const TickerRUB = "RUB"

var tickerPattern = regexp.MustCompile(`^[A-Z0-9]{2,10}$`)

// ValidTicker reports whether s is an uppercase alphanumeric ticker of 2-10 chars.
func ValidTicker(s string) bool {
	return tickerPattern.MatchString(s)
}

// Instrument is a tradeable asset. RUB is the distinguished settlement currency.
type Instrument struct {
	ID        uuid.UUID `json:"id"`
	Ticker    string    `json:"ticker"`
	Name      string    `json:"name"`
	Listed    bool      `json:"listed"`
	CreatedAt time.Time `json:"created_at"`
}

// Order is a buy or sell request against an instrument. Price is meaningful
// only for LIMIT orders; MARKET orders carry a zero price.
type Order struct {
	ID             uuid.UUID       `json:"id"`
	UserID         uuid.UUID       `json:"user_id"`
	Ticker         string          `json:"ticker"`
	Side           string          `json:"side"`
	Type           string          `json:"type"`
	Quantity       decimal.Decimal `json:"quantity"`
	Price          decimal.Decimal `json:"price,omitempty"`
	FilledQuantity decimal.Decimal `json:"filled_quantity"`
	Status         string          `json:"status"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`

	// Seq breaks creation-time ties for price-time priority. Assigned once
	// at admission, strictly increasing across the engine.
	Seq uint64 `json:"-"`
}

// Remaining returns the unfilled quantity.
func (o *Order) Remaining() decimal.Decimal {
	return o.Quantity.Sub(o.FilledQuantity)
}

// IsOpen reports whether the order is still eligible for the book.
func (o *Order) IsOpen() bool {
	return o.Status == StatusNew || o.Status == StatusPartiallyExecuted
}

// IsTerminal reports whether the order reached a final state and is immutable.
func (o *Order) IsTerminal() bool {
	return o.Status == StatusExecuted || o.Status == StatusCancelled
}

// StatusForFill returns the status mandated by the fill level: EXECUTED when
// fully filled, PARTIALLY_EXECUTED when partially, NEW otherwise.
func StatusForFill(filled, quantity decimal.Decimal) string {
	switch {
	case filled.Cmp(quantity) >= 0:
		return StatusExecuted
	case filled.IsPositive():
		return StatusPartiallyExecuted
	default:
		return StatusNew
	}
}

// Trade is one executed match between a buy and a sell order. Price is always
// the resting order's price.
type Trade struct {
	ID          uuid.UUID       `json:"id"`
	Ticker      string          `json:"ticker"`
	BuyOrderID  uuid.UUID       `json:"buy_order_id"`
	SellOrderID uuid.UUID       `json:"sell_order_id"`
	BuyerID     uuid.UUID       `json:"buyer_id"`
	SellerID    uuid.UUID       `json:"seller_id"`
	Quantity    decimal.Decimal `json:"quantity"`
	Price       decimal.Decimal `json:"price"`
	CreatedAt   time.Time       `json:"created_at"`
}

// Level is an aggregated (price, total remaining quantity) pair across all
// resting orders at that price.
type Level struct {
	Price    decimal.Decimal `json:"price"`
	Quantity decimal.Decimal `json:"quantity"`
}
