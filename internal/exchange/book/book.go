// Package book maintains per-instrument resting orders with strict
// price-time priority. A Book is a pure data structure: it has no locking of
// its own and must only be touched inside the owning instrument's critical
// section (single writer per instrument).
package book

import (
	"github.com/shopspring/decimal"
	"github.com/tidwall/btree"

	"github.com/birzha-dev/birzha/internal/exchange/model"
)

// level groups resting orders at one price, FIFO by admission sequence.
type level struct {
	price  decimal.Decimal
	orders []*model.Order
}

// Book holds the bids and asks for a single instrument. Only orders with
// status NEW or PARTIALLY_EXECUTED and positive remaining quantity are
// members; the engine evicts filled and cancelled orders immediately.
type Book struct {
	ticker string
	bids   *btree.BTreeG[*level] // best (highest) price first
	asks   *btree.BTreeG[*level] // best (lowest) price first
	size   int
}

// New creates an empty book for the given ticker.
func New(ticker string) *Book {
	return &Book{
		ticker: ticker,
		bids: btree.NewBTreeG(func(a, b *level) bool {
			return a.price.GreaterThan(b.price)
		}),
		asks: btree.NewBTreeG(func(a, b *level) bool {
			return a.price.LessThan(b.price)
		}),
	}
}

// Ticker returns the instrument this book belongs to.
func (b *Book) Ticker() string { return b.ticker }

// Len returns the number of resting orders on both sides.
func (b *Book) Len() int { return b.size }

func (b *Book) side(s string) *btree.BTreeG[*level] {
	if s == model.SideBuy {
		return b.bids
	}
	return b.asks
}

// Insert adds a resting order to its side of the book.
func (b *Book) Insert(o *model.Order) {
	tree := b.side(o.Side)
	key := &level{price: o.Price}
	lvl, ok := tree.Get(key)
	if !ok {
		lvl = key
		tree.Set(lvl)
	}
	lvl.orders = append(lvl.orders, o)
	b.size++
}

// Remove evicts an order from the book. Removing an order that is not a
// member is a no-op.
func (b *Book) Remove(o *model.Order) {
	tree := b.side(o.Side)
	lvl, ok := tree.Get(&level{price: o.Price})
	if !ok {
		return
	}
	for i, res := range lvl.orders {
		if res.ID == o.ID {
			lvl.orders = append(lvl.orders[:i], lvl.orders[i+1:]...)
			b.size--
			break
		}
	}
	if len(lvl.orders) == 0 {
		tree.Delete(lvl)
	}
}

// Opposing returns the resting orders a given aggressor side would match
// against, in price-time priority: asks price-ascending for a BUY, bids
// price-descending for a SELL, FIFO within each price. The slice is a
// snapshot; the caller may mutate the book while walking it.
func (b *Book) Opposing(aggressorSide string) []*model.Order {
	tree := b.asks
	if aggressorSide == model.SideSell {
		tree = b.bids
	}
	var out []*model.Order
	tree.Scan(func(lvl *level) bool {
		out = append(out, lvl.orders...)
		return true
	})
	return out
}

// Levels aggregates each side into (price, total remaining quantity) pairs:
// bids price-descending, asks price-ascending, at most depth levels per side.
// A depth of zero or less means no limit.
func (b *Book) Levels(depth int) (bids, asks []model.Level) {
	collect := func(tree *btree.BTreeG[*level]) []model.Level {
		var out []model.Level
		tree.Scan(func(lvl *level) bool {
			total := decimal.Zero
			for _, o := range lvl.orders {
				total = total.Add(o.Remaining())
			}
			out = append(out, model.Level{Price: lvl.price, Quantity: total})
			return depth <= 0 || len(out) < depth
		})
		return out
	}
	return collect(b.bids), collect(b.asks)
}
