// Package ledger tracks per-user per-instrument holdings. Balance rows hold
// settled amounts only; the portion earmarked by open orders is derived by
// the engine from its order set, never stored here.
package ledger

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ErrNegativeBalance is returned by Debit when the debit would drive a
// balance below zero. In correct operation the engine never lets this
// surface: every debit is covered by a prior reservation check.
var ErrNegativeBalance = fmt.Errorf("debit would make balance negative")

type key struct {
	user   uuid.UUID
	ticker string
}

// Ledger is a thread-safe map of (user, ticker) -> amount. Rows are created
// lazily on first credit and never deleted.
type Ledger struct {
	mu       sync.RWMutex
	balances map[key]decimal.Decimal
}

// New creates an empty ledger.
func New() *Ledger {
	return &Ledger{balances: make(map[key]decimal.Decimal)}
}

// Get returns the settled amount for (user, ticker); zero if no row exists.
func (l *Ledger) Get(user uuid.UUID, ticker string) decimal.Decimal {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.balances[key{user, ticker}]
}

// Credit adds delta to the (user, ticker) balance, creating the row if needed.
func (l *Ledger) Credit(user uuid.UUID, ticker string, delta decimal.Decimal) {
	if !delta.IsPositive() {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	k := key{user, ticker}
	l.balances[k] = l.balances[k].Add(delta)
}

// Debit subtracts delta from the (user, ticker) balance. It fails without
// mutating state if the result would be negative.
func (l *Ledger) Debit(user uuid.UUID, ticker string, delta decimal.Decimal) error {
	if !delta.IsPositive() {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	k := key{user, ticker}
	next := l.balances[k].Sub(delta)
	if next.IsNegative() {
		return fmt.Errorf("%w: %s %s, have %s, debit %s",
			ErrNegativeBalance, user, ticker, l.balances[k], delta)
	}
	l.balances[k] = next
	return nil
}

// Snapshot returns all balance rows for a user. The map is a copy and safe
// to use outside any critical section (display reads are eventually
// consistent).
func (l *Ledger) Snapshot(user uuid.UUID) map[string]decimal.Decimal {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make(map[string]decimal.Decimal)
	for k, v := range l.balances {
		if k.user == user {
			out[k.ticker] = v
		}
	}
	return out
}
