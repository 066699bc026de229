// Package engine implements the order matching and reservation core: it
// admits orders, walks the book in price-time priority, settles trades
// against the balance ledger and drives the order lifecycle.
//
// Concurrency model: all mutation of one instrument's book, its resting
// orders and the balances touched by matching it runs inside that
// instrument's mutex; the aggressor's per-user mutex is additionally held so
// the admission balance read and the reservation it justifies cannot be
// split by a concurrent admission in another instrument. Cross-instrument
// operations proceed in parallel.
package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/birzha-dev/birzha/internal/exchange/book"
	"github.com/birzha-dev/birzha/internal/exchange/ledger"
	"github.com/birzha-dev/birzha/internal/exchange/model"
	"github.com/birzha-dev/birzha/pkg/metrics"
)

// Sink receives engine mutations for persistence. Implementations must not
// block: calls happen on the matching path. A nil sink disables persistence.
type Sink interface {
	OrderUpserted(o model.Order)
	TradeExecuted(t model.Trade)
	BalanceChanged(user uuid.UUID, ticker string, amount decimal.Decimal)
	InstrumentUpserted(inst model.Instrument)
}

// BalanceView is one balance row with its derived reservation figures.
type BalanceView struct {
	Ticker    string
	Amount    decimal.Decimal
	Reserved  decimal.Decimal
	Available decimal.Decimal
}

// Engine owns the instrument registry, the order books, the order set and
// the balance ledger coordination. It is the single writer per instrument.
type Engine struct {
	logger *zap.Logger
	ledger *ledger.Ledger
	sink   Sink
	seq    atomic.Uint64

	mu          sync.RWMutex
	instruments map[string]*model.Instrument
	books       map[string]*book.Book
	bookLocks   map[string]*sync.Mutex
	userLocks   map[uuid.UUID]*sync.Mutex
	orders      map[uuid.UUID]*model.Order
	open        map[uuid.UUID]map[uuid.UUID]*model.Order
	trades      map[string][]*model.Trade
}

// New creates an engine backed by the given ledger. sink may be nil.
func New(logger *zap.Logger, l *ledger.Ledger, sink Sink) *Engine {
	return &Engine{
		logger:      logger,
		ledger:      l,
		sink:        sink,
		instruments: make(map[string]*model.Instrument),
		books:       make(map[string]*book.Book),
		bookLocks:   make(map[string]*sync.Mutex),
		userLocks:   make(map[uuid.UUID]*sync.Mutex),
		orders:      make(map[uuid.UUID]*model.Order),
		open:        make(map[uuid.UUID]map[uuid.UUID]*model.Order),
		trades:      make(map[string][]*model.Trade),
	}
}

// Ledger exposes the balance ledger for startup restoration and display reads.
func (e *Engine) Ledger() *ledger.Ledger { return e.ledger }

// --- instrument registry ---

// AddInstrument lists a new instrument, or relists an existing one under the
// given display name.
func (e *Engine) AddInstrument(ticker, name string) (*model.Instrument, error) {
	if !model.ValidTicker(ticker) {
		return nil, fmt.Errorf("%w: ticker %q must be uppercase alphanumeric, 2-10 chars", ErrInvalidState, ticker)
	}
	e.mu.Lock()
	inst, ok := e.instruments[ticker]
	if ok {
		inst.Name = name
		inst.Listed = true
	} else {
		inst = &model.Instrument{
			ID:        uuid.New(),
			Ticker:    ticker,
			Name:      name,
			Listed:    true,
			CreatedAt: time.Now(),
		}
		e.instruments[ticker] = inst
		e.books[ticker] = book.New(ticker)
		e.bookLocks[ticker] = &sync.Mutex{}
	}
	out := *inst
	e.mu.Unlock()

	e.logger.Info("instrument listed", zap.String("ticker", ticker), zap.String("name", name))
	if e.sink != nil {
		e.sink.InstrumentUpserted(out)
	}
	return &out, nil
}

// DelistInstrument marks an instrument unlisted. New orders against it are
// rejected; resting orders stay cancellable. RUB cannot be delisted.
func (e *Engine) DelistInstrument(ticker string) error {
	if ticker == model.TickerRUB {
		return fmt.Errorf("%w: %s is the settlement currency and cannot be delisted", ErrInvalidState, model.TickerRUB)
	}
	e.mu.Lock()
	inst, ok := e.instruments[ticker]
	if !ok {
		e.mu.Unlock()
		return fmt.Errorf("%w: instrument %s", ErrNotFound, ticker)
	}
	inst.Listed = false
	out := *inst
	e.mu.Unlock()

	e.logger.Info("instrument delisted", zap.String("ticker", ticker))
	if e.sink != nil {
		e.sink.InstrumentUpserted(out)
	}
	return nil
}

// Instruments returns all listed instruments sorted by ticker.
func (e *Engine) Instruments() []model.Instrument {
	e.mu.RLock()
	out := make([]model.Instrument, 0, len(e.instruments))
	for _, inst := range e.instruments {
		if inst.Listed {
			out = append(out, *inst)
		}
	}
	e.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Ticker < out[j].Ticker })
	return out
}

// --- reservation accounting ---

// Reserved derives the amount of (user, ticker) earmarked by the user's open
// orders: the full remaining quantity for SELL orders on the ticker, and
// remaining quantity times limit price in RUB for LIMIT BUY orders. MARKET
// orders never reserve.
func (e *Engine) Reserved(user uuid.UUID, ticker string) decimal.Decimal {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.reservedLocked(user, ticker)
}

func (e *Engine) reservedLocked(user uuid.UUID, ticker string) decimal.Decimal {
	total := decimal.Zero
	for _, o := range e.open[user] {
		switch {
		case o.Side == model.SideSell && o.Ticker == ticker:
			total = total.Add(o.Remaining())
		case o.Side == model.SideBuy && o.Type == model.TypeLimit && ticker == model.TickerRUB:
			total = total.Add(o.Remaining().Mul(o.Price))
		}
	}
	return total
}

// Available returns the (user, ticker) amount not earmarked by open orders.
func (e *Engine) Available(user uuid.UUID, ticker string) decimal.Decimal {
	return e.ledger.Get(user, ticker).Sub(e.Reserved(user, ticker))
}

// Balances returns every balance row of the user with derived reservation
// figures, sorted by ticker. Display-only snapshot.
func (e *Engine) Balances(user uuid.UUID) []BalanceView {
	amounts := e.ledger.Snapshot(user)
	e.mu.RLock()
	out := make([]BalanceView, 0, len(amounts))
	for ticker, amount := range amounts {
		reserved := e.reservedLocked(user, ticker)
		out = append(out, BalanceView{
			Ticker:    ticker,
			Amount:    amount,
			Reserved:  reserved,
			Available: amount.Sub(reserved),
		})
	}
	e.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Ticker < out[j].Ticker })
	return out
}

// Deposit credits (user, ticker). Admin operation.
func (e *Engine) Deposit(user uuid.UUID, ticker string, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("%w: deposit amount must be positive", ErrInvalidState)
	}
	e.mu.RLock()
	_, ok := e.instruments[ticker]
	e.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: instrument %s", ErrNotFound, ticker)
	}
	e.ledger.Credit(user, ticker, amount)
	e.emitBalance(user, ticker)
	return nil
}

// Withdraw debits (user, ticker) if the user's available amount covers it.
// Reservations are honoured: funds locked by open orders cannot leave.
func (e *Engine) Withdraw(user uuid.UUID, ticker string, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("%w: withdrawal amount must be positive", ErrInvalidState)
	}
	ul := e.userLock(user)
	ul.Lock()
	defer ul.Unlock()

	available := e.Available(user, ticker)
	if available.LessThan(amount) {
		return fmt.Errorf("%w: %s required %s, available %s", ErrInsufficientFunds, ticker, amount, available)
	}
	if err := e.ledger.Debit(user, ticker, amount); err != nil {
		return fmt.Errorf("%w: %v", ErrInvariantViolation, err)
	}
	e.emitBalance(user, ticker)
	return nil
}

// --- order admission and matching ---

// PlaceOrder validates, admits and matches a new order. price carries the
// limit price for LIMIT orders and must be zero for MARKET orders. On any
// rejection no state is mutated; on a failure mid-match the order is rolled
// back to CANCELLED with its reservation released.
func (e *Engine) PlaceOrder(ctx context.Context, userID uuid.UUID, ticker, side, typ string, quantity, price decimal.Decimal) (*model.Order, error) {
	start := time.Now()
	if err := validateOrderFields(side, typ, quantity, price); err != nil {
		metrics.OrdersRejected.WithLabelValues("invalid").Inc()
		return nil, err
	}

	e.mu.RLock()
	inst, ok := e.instruments[ticker]
	listed := ok && inst.Listed
	_, rubOK := e.instruments[model.TickerRUB]
	bk := e.books[ticker]
	bl := e.bookLocks[ticker]
	e.mu.RUnlock()
	if !listed {
		metrics.OrdersRejected.WithLabelValues("not_found").Inc()
		return nil, fmt.Errorf("%w: instrument %s", ErrNotFound, ticker)
	}
	if !rubOK {
		// Deployment invariant: the settlement currency must be seeded.
		return nil, fmt.Errorf("%w: settlement currency %s is not seeded", ErrInvariantViolation, model.TickerRUB)
	}

	bl.Lock()
	defer bl.Unlock()
	ul := e.userLock(userID)
	ul.Lock()
	defer ul.Unlock()

	if err := e.validateAdmission(bk, userID, side, typ, quantity, price); err != nil {
		metrics.OrdersRejected.WithLabelValues(rejectionReason(err)).Inc()
		return nil, err
	}

	now := time.Now()
	o := &model.Order{
		ID:             uuid.New(),
		UserID:         userID,
		Ticker:         ticker,
		Side:           side,
		Type:           typ,
		Quantity:       quantity,
		Price:          price,
		FilledQuantity: decimal.Zero,
		Status:         model.StatusNew,
		CreatedAt:      now,
		UpdatedAt:      now,
		Seq:            e.seq.Add(1),
	}

	e.mu.Lock()
	e.orders[o.ID] = o
	if e.open[userID] == nil {
		e.open[userID] = make(map[uuid.UUID]*model.Order)
	}
	e.open[userID][o.ID] = o
	e.mu.Unlock()

	metrics.OrdersProcessed.WithLabelValues(side).Inc()

	if err := e.match(bk, o, now); err != nil {
		// Roll the aggressor back: release the reservation, close the order.
		// Trades already settled before the failure stay; they are consistent.
		e.transition(o, model.StatusCancelled, time.Now())
		e.closeOrder(o)
		e.emitOrder(o)
		e.logger.Warn("order rolled back after matching failure",
			zap.String("order_id", o.ID.String()), zap.Error(err))
		return nil, err
	}

	if o.Type == model.TypeLimit && o.IsOpen() {
		bk.Insert(o)
	}
	e.emitOrder(o)
	metrics.OrderLatency.Observe(time.Since(start).Seconds())

	e.logger.Debug("order placed",
		zap.String("order_id", o.ID.String()),
		zap.String("ticker", ticker),
		zap.String("side", side),
		zap.String("type", typ),
		zap.String("status", o.Status))
	return o, nil
}

// match walks the opposing side of the book in price-time priority and
// executes trades until the aggressor is filled or no compatible counter
// order remains. Idempotent: aggressors that are no longer NEW are a no-op.
func (e *Engine) match(bk *book.Book, o *model.Order, now time.Time) error {
	if o.Status != model.StatusNew {
		return nil
	}

	counters := bk.Opposing(o.Side)
	if o.Type == model.TypeMarket && len(counters) == 0 {
		return fmt.Errorf("%w: no counter orders for market %s on %s", ErrInsufficientLiquidity, o.Side, o.Ticker)
	}

	for _, c := range counters {
		if !o.Remaining().IsPositive() {
			break
		}
		if o.Type == model.TypeLimit && !pricesCross(o, c) {
			// Counters are sorted best-first: nothing further can cross.
			break
		}
		if c.UserID == o.UserID {
			// Self-trades do not execute and do not consume liquidity.
			continue
		}
		dealQty := decimal.Min(o.Remaining(), c.Remaining())
		if err := e.settle(o, c, dealQty, c.Price, now); err != nil {
			return err
		}
		if !c.Remaining().IsPositive() {
			bk.Remove(c)
		}
		if c.IsTerminal() {
			e.closeOrder(c)
		}
		e.emitOrder(c)
	}

	status := model.StatusForFill(o.FilledQuantity, o.Quantity)

	// A MARKET order never rests: the unfilled remainder is discarded and
	// the status reflects what actually filled.
	if o.Type == model.TypeMarket && o.FilledQuantity.IsZero() {
		status = model.StatusCancelled
	}
	e.transition(o, status, now)
	if o.IsTerminal() || o.Type == model.TypeMarket {
		e.closeOrder(o)
	}
	return nil
}

// pricesCross reports whether a LIMIT aggressor is price-compatible with a
// resting counter order.
func pricesCross(o, c *model.Order) bool {
	if o.Side == model.SideBuy {
		return c.Price.LessThanOrEqual(o.Price)
	}
	return c.Price.GreaterThanOrEqual(o.Price)
}

// settle executes one trade leg: the buyer receives the asset, the seller
// receives RUB, both at the resting order's price. Balance moves either all
// apply or none.
func (e *Engine) settle(o, c *model.Order, qty, price decimal.Decimal, now time.Time) error {
	buy, sell := o, c
	if o.Side == model.SideSell {
		buy, sell = c, o
	}
	cost := qty.Mul(price)

	if err := e.ledger.Debit(sell.UserID, o.Ticker, qty); err != nil {
		return fmt.Errorf("%w: seller asset debit: %v", ErrInvariantViolation, err)
	}
	if err := e.ledger.Debit(buy.UserID, model.TickerRUB, cost); err != nil {
		e.ledger.Credit(sell.UserID, o.Ticker, qty)
		return fmt.Errorf("%w: buyer cash debit: %v", ErrInvariantViolation, err)
	}
	e.ledger.Credit(buy.UserID, o.Ticker, qty)
	e.ledger.Credit(sell.UserID, model.TickerRUB, cost)

	t := &model.Trade{
		ID:          uuid.New(),
		Ticker:      o.Ticker,
		BuyOrderID:  buy.ID,
		SellOrderID: sell.ID,
		BuyerID:     buy.UserID,
		SellerID:    sell.UserID,
		Quantity:    qty,
		Price:       price,
		CreatedAt:   now,
	}

	// Fill state is read by snapshot queries and reservation derivation
	// under e.mu; mutate it under the same lock.
	e.mu.Lock()
	for _, side := range []*model.Order{buy, sell} {
		side.FilledQuantity = side.FilledQuantity.Add(qty)
		side.Status = model.StatusForFill(side.FilledQuantity, side.Quantity)
		side.UpdatedAt = now
	}
	e.trades[o.Ticker] = append(e.trades[o.Ticker], t)
	e.mu.Unlock()

	metrics.TradesExecuted.Inc()
	if e.sink != nil {
		e.sink.TradeExecuted(*t)
	}
	e.emitBalance(buy.UserID, o.Ticker)
	e.emitBalance(buy.UserID, model.TickerRUB)
	e.emitBalance(sell.UserID, o.Ticker)
	e.emitBalance(sell.UserID, model.TickerRUB)
	return nil
}

// Rematch re-invokes the matcher for an already admitted order. Orders that
// are no longer NEW are a no-op, which makes re-invocation safe.
func (e *Engine) Rematch(orderID uuid.UUID) error {
	e.mu.RLock()
	o, ok := e.orders[orderID]
	var bk *book.Book
	var bl *sync.Mutex
	if ok {
		bk = e.books[o.Ticker]
		bl = e.bookLocks[o.Ticker]
	}
	e.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: order %s", ErrNotFound, orderID)
	}

	bl.Lock()
	defer bl.Unlock()
	ul := e.userLock(o.UserID)
	ul.Lock()
	defer ul.Unlock()

	if o.Status != model.StatusNew {
		return nil
	}
	bk.Remove(o)
	if err := e.match(bk, o, time.Now()); err != nil {
		e.transition(o, model.StatusCancelled, time.Now())
		e.closeOrder(o)
		e.emitOrder(o)
		return err
	}
	if o.Type == model.TypeLimit && o.IsOpen() {
		bk.Insert(o)
	}
	e.emitOrder(o)
	return nil
}

// --- cancellation and queries ---

// CancelOrder cancels a NEW or PARTIALLY_EXECUTED order owned by userID and
// releases its remaining reservation. Terminal orders are rejected.
func (e *Engine) CancelOrder(ctx context.Context, orderID, userID uuid.UUID) error {
	e.mu.RLock()
	o, ok := e.orders[orderID]
	var bk *book.Book
	var bl *sync.Mutex
	if ok {
		bk = e.books[o.Ticker]
		bl = e.bookLocks[o.Ticker]
	}
	e.mu.RUnlock()
	if !ok || o.UserID != userID {
		return fmt.Errorf("%w: order %s", ErrNotFound, orderID)
	}

	bl.Lock()
	defer bl.Unlock()
	ul := e.userLock(userID)
	ul.Lock()
	defer ul.Unlock()

	if o.IsTerminal() {
		return fmt.Errorf("%w: order %s is %s", ErrInvalidState, orderID, o.Status)
	}

	bk.Remove(o)
	e.transition(o, model.StatusCancelled, time.Now())
	e.closeOrder(o)
	e.emitOrder(o)
	metrics.OrdersCancelled.Inc()

	e.logger.Debug("order cancelled", zap.String("order_id", orderID.String()))
	return nil
}

// GetOrder returns a snapshot of an order owned by userID.
func (e *Engine) GetOrder(orderID, userID uuid.UUID) (model.Order, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	o, ok := e.orders[orderID]
	if !ok || o.UserID != userID {
		return model.Order{}, fmt.Errorf("%w: order %s", ErrNotFound, orderID)
	}
	return *o, nil
}

// ListOrders returns snapshots of all orders of a user, oldest first.
func (e *Engine) ListOrders(userID uuid.UUID) []model.Order {
	e.mu.RLock()
	out := make([]model.Order, 0)
	for _, o := range e.orders {
		if o.UserID == userID {
			out = append(out, *o)
		}
	}
	e.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out
}

// Levels returns the aggregated book for public display: bids
// price-descending, asks price-ascending, at most depth levels per side.
func (e *Engine) Levels(ticker string, depth int) (bids, asks []model.Level, err error) {
	e.mu.RLock()
	bk := e.books[ticker]
	bl := e.bookLocks[ticker]
	e.mu.RUnlock()
	if bk == nil {
		return nil, nil, fmt.Errorf("%w: instrument %s", ErrNotFound, ticker)
	}
	bl.Lock()
	defer bl.Unlock()
	bids, asks = bk.Levels(depth)
	return bids, asks, nil
}

// Trades returns up to limit most recent trades for a ticker, newest last.
func (e *Engine) Trades(ticker string, limit int) ([]model.Trade, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if _, ok := e.instruments[ticker]; !ok {
		return nil, fmt.Errorf("%w: instrument %s", ErrNotFound, ticker)
	}
	tape := e.trades[ticker]
	if limit > 0 && len(tape) > limit {
		tape = tape[len(tape)-limit:]
	}
	out := make([]model.Trade, len(tape))
	for i, t := range tape {
		out[i] = *t
	}
	return out, nil
}

// --- startup restoration ---

// RestoreInstrument installs a persisted instrument as-is, keeping its id and
// listed flag and emitting nothing back to the sink. Startup only.
func (e *Engine) RestoreInstrument(inst model.Instrument) {
	e.mu.Lock()
	defer e.mu.Unlock()
	cp := inst
	e.instruments[cp.Ticker] = &cp
	if _, ok := e.books[cp.Ticker]; !ok {
		e.books[cp.Ticker] = book.New(cp.Ticker)
		e.bookLocks[cp.Ticker] = &sync.Mutex{}
	}
}

// Restore loads a persisted order back into the engine. Open LIMIT orders
// rejoin their book; terminal orders become queryable history. Instruments
// must be restored first.
func (e *Engine) Restore(o model.Order) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	bk, ok := e.books[o.Ticker]
	if !ok {
		return fmt.Errorf("%w: instrument %s", ErrNotFound, o.Ticker)
	}
	cp := o
	if cp.Seq == 0 {
		cp.Seq = e.seq.Add(1)
	}
	e.orders[cp.ID] = &cp
	if cp.IsOpen() && cp.Type == model.TypeLimit {
		if e.open[cp.UserID] == nil {
			e.open[cp.UserID] = make(map[uuid.UUID]*model.Order)
		}
		e.open[cp.UserID][cp.ID] = &cp
		if cp.Remaining().IsPositive() {
			bk.Insert(&cp)
		}
	}
	return nil
}

// --- internals ---

func (e *Engine) userLock(user uuid.UUID) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	ul, ok := e.userLocks[user]
	if !ok {
		ul = &sync.Mutex{}
		e.userLocks[user] = ul
	}
	return ul
}

// transition applies a status change under e.mu. Order fields are read by
// snapshot queries and reservation derivation under that lock, so writers
// must hold it too, on top of the instrument critical section they run in.
func (e *Engine) transition(o *model.Order, status string, now time.Time) {
	e.mu.Lock()
	o.Status = status
	o.UpdatedAt = now
	e.mu.Unlock()
}

// closeOrder drops an order from the open set, releasing its derived
// reservation. The order stays queryable in the order history.
func (e *Engine) closeOrder(o *model.Order) {
	e.mu.Lock()
	delete(e.open[o.UserID], o.ID)
	e.mu.Unlock()
}

func (e *Engine) emitOrder(o *model.Order) {
	if e.sink != nil {
		e.sink.OrderUpserted(*o)
	}
}

func (e *Engine) emitBalance(user uuid.UUID, ticker string) {
	if e.sink != nil {
		e.sink.BalanceChanged(user, ticker, e.ledger.Get(user, ticker))
	}
}

func rejectionReason(err error) string {
	switch {
	case isErr(err, ErrInsufficientFunds):
		return "insufficient_funds"
	case isErr(err, ErrInsufficientLiquidity):
		return "insufficient_liquidity"
	case isErr(err, ErrNotFound):
		return "not_found"
	default:
		return "invalid"
	}
}
