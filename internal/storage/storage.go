// Package storage persists engine mutations write-behind: the matching path
// enqueues snapshots and a single worker flushes them to the database, so
// the critical section never blocks on I/O.
package storage

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/birzha-dev/birzha/internal/exchange/model"
	"github.com/birzha-dev/birzha/pkg/models"
)

const opQueueSize = 4096

// Store implements engine.Sink over GORM.
type Store struct {
	logger *zap.Logger
	db     *gorm.DB
	ops    chan func(*gorm.DB) error
	wg     sync.WaitGroup

	mu      sync.Mutex
	started bool
}

// NewStore creates a store backed by db.
func NewStore(logger *zap.Logger, db *gorm.DB) *Store {
	return &Store{
		logger: logger,
		db:     db,
		ops:    make(chan func(*gorm.DB) error, opQueueSize),
	}
}

// Start launches the flush worker.
func (s *Store) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return fmt.Errorf("store already started")
	}
	s.started = true
	s.wg.Add(1)
	go s.run()
	s.logger.Info("Storage write-behind worker started")
	return nil
}

// Stop drains pending operations and stops the worker.
func (s *Store) Stop() error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = false
	s.mu.Unlock()
	close(s.ops)
	s.wg.Wait()
	s.logger.Info("Storage write-behind worker stopped")
	return nil
}

func (s *Store) run() {
	defer s.wg.Done()
	for op := range s.ops {
		if err := op(s.db); err != nil {
			s.logger.Error("Storage flush failed", zap.Error(err))
		}
	}
}

// enqueue hands an operation to the worker without blocking the matching
// path. Overflow drops the write: the engine stays the source of truth.
func (s *Store) enqueue(op func(*gorm.DB) error) {
	select {
	case s.ops <- op:
	default:
		s.logger.Warn("Storage queue full, dropping write")
	}
}

// OrderUpserted persists an order snapshot.
func (s *Store) OrderUpserted(o model.Order) {
	rec := models.OrderRecord{
		ID:             o.ID,
		UserID:         o.UserID,
		Ticker:         o.Ticker,
		Side:           o.Side,
		Type:           o.Type,
		Quantity:       o.Quantity,
		Price:          o.Price,
		FilledQuantity: o.FilledQuantity,
		Status:         o.Status,
		CreatedAt:      o.CreatedAt,
		UpdatedAt:      o.UpdatedAt,
	}
	s.enqueue(func(db *gorm.DB) error {
		return db.Clauses(clause.OnConflict{UpdateAll: true}).Create(&rec).Error
	})
}

// TradeExecuted persists a trade.
func (s *Store) TradeExecuted(t model.Trade) {
	rec := models.TradeRecord{
		ID:          t.ID,
		Ticker:      t.Ticker,
		BuyOrderID:  t.BuyOrderID,
		SellOrderID: t.SellOrderID,
		BuyerID:     t.BuyerID,
		SellerID:    t.SellerID,
		Quantity:    t.Quantity,
		Price:       t.Price,
		CreatedAt:   t.CreatedAt,
	}
	s.enqueue(func(db *gorm.DB) error {
		return db.Create(&rec).Error
	})
}

// BalanceChanged persists a balance snapshot.
func (s *Store) BalanceChanged(user uuid.UUID, ticker string, amount decimal.Decimal) {
	rec := models.BalanceRecord{
		UserID:    user,
		Ticker:    ticker,
		Amount:    amount,
		UpdatedAt: time.Now(),
	}
	s.enqueue(func(db *gorm.DB) error {
		return db.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "ticker"}},
			UpdateAll: true,
		}).Create(&rec).Error
	})
}

// InstrumentUpserted persists an instrument.
func (s *Store) InstrumentUpserted(inst model.Instrument) {
	rec := models.InstrumentRecord{
		ID:        inst.ID,
		Ticker:    inst.Ticker,
		Name:      inst.Name,
		Listed:    inst.Listed,
		CreatedAt: inst.CreatedAt,
		UpdatedAt: time.Now(),
	}
	s.enqueue(func(db *gorm.DB) error {
		return db.Clauses(clause.OnConflict{UpdateAll: true}).Create(&rec).Error
	})
}

// LoadInstruments returns all persisted instruments for startup restoration.
func (s *Store) LoadInstruments() ([]models.InstrumentRecord, error) {
	var recs []models.InstrumentRecord
	if err := s.db.Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("failed to load instruments: %w", err)
	}
	return recs, nil
}

// LoadOrders returns all persisted orders, oldest first, for startup
// restoration. Open LIMIT orders rejoin their books.
func (s *Store) LoadOrders() ([]models.OrderRecord, error) {
	var recs []models.OrderRecord
	if err := s.db.Order("created_at asc").Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("failed to load orders: %w", err)
	}
	return recs, nil
}

// LoadBalances returns all persisted balance rows for startup restoration.
func (s *Store) LoadBalances() ([]models.BalanceRecord, error) {
	var recs []models.BalanceRecord
	if err := s.db.Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("failed to load balances: %w", err)
	}
	return recs, nil
}
