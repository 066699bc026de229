package engine

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/birzha-dev/birzha/internal/exchange/book"
	"github.com/birzha-dev/birzha/internal/exchange/model"
)

// validateOrderFields checks the request shape: side and type values, a
// positive quantity, and a positive price present iff the order is LIMIT.
func validateOrderFields(side, typ string, quantity, price decimal.Decimal) error {
	if side != model.SideBuy && side != model.SideSell {
		return fmt.Errorf("%w: side must be %s or %s", ErrInvalidState, model.SideBuy, model.SideSell)
	}
	if typ != model.TypeLimit && typ != model.TypeMarket {
		return fmt.Errorf("%w: type must be %s or %s", ErrInvalidState, model.TypeLimit, model.TypeMarket)
	}
	if !quantity.IsPositive() {
		return fmt.Errorf("%w: quantity must be positive", ErrInvalidState)
	}
	if typ == model.TypeLimit && !price.IsPositive() {
		return fmt.Errorf("%w: limit orders require a positive price", ErrInvalidState)
	}
	if typ == model.TypeMarket && !price.IsZero() {
		return fmt.Errorf("%w: market orders must not carry a price", ErrInvalidState)
	}
	return nil
}

// validateAdmission decides affordability and liquidity before an order
// enters the book. Read-only probe: it mutates nothing, so a rejection
// leaves no partial state. Must run inside the instrument and user critical
// sections so the balance read and the reservation it justifies cannot be
// split by a concurrent admission.
func (e *Engine) validateAdmission(bk *book.Book, userID uuid.UUID, side, typ string, quantity, price decimal.Decimal) error {
	if side == model.SideBuy {
		required := price.Mul(quantity)
		if typ == model.TypeMarket {
			cost, err := e.marketCost(bk, userID, side, quantity)
			if err != nil {
				return err
			}
			required = cost
		}
		available := e.Available(userID, model.TickerRUB)
		if available.LessThan(required) {
			return fmt.Errorf("%w: %s required %s, available %s",
				ErrInsufficientFunds, model.TickerRUB, required, available)
		}
		return nil
	}

	// SELL: the asset itself must be available for either type.
	available := e.Available(userID, bk.Ticker())
	if available.LessThan(quantity) {
		return fmt.Errorf("%w: %s required %s, available %s",
			ErrInsufficientFunds, bk.Ticker(), quantity, available)
	}
	if typ == model.TypeMarket {
		if _, err := e.marketCost(bk, userID, side, quantity); err != nil {
			return err
		}
	}
	return nil
}

// marketCost walks the opposing side of the book in priority order and
// accumulates the cost of filling quantity. The caller's own orders are
// skipped: self-trades never execute, so they provide no liquidity. Returns
// ErrInsufficientLiquidity with the shortfall when the book runs out.
func (e *Engine) marketCost(bk *book.Book, userID uuid.UUID, side string, quantity decimal.Decimal) (decimal.Decimal, error) {
	left := quantity
	cost := decimal.Zero
	for _, c := range bk.Opposing(side) {
		if !left.IsPositive() {
			break
		}
		if c.UserID == userID {
			continue
		}
		take := decimal.Min(left, c.Remaining())
		cost = cost.Add(take.Mul(c.Price))
		left = left.Sub(take)
	}
	if left.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: market %s for %s %s short by %s",
			ErrInsufficientLiquidity, side, quantity, bk.Ticker(), left)
	}
	return cost, nil
}
