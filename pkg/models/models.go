package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// User represents a registered exchange user
type User struct {
	ID           uuid.UUID `gorm:"type:uuid;primary_key" json:"id"`
	Username     string    `gorm:"type:varchar(64);uniqueIndex;not null" json:"username"`
	Email        string    `gorm:"type:varchar(255);uniqueIndex;not null" json:"email"`
	PasswordHash string    `gorm:"type:varchar(255);not null" json:"-"`
	IsAdmin      bool      `gorm:"not null;default:false" json:"is_admin"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// InstrumentRecord is the persisted form of a tradeable instrument
type InstrumentRecord struct {
	ID        uuid.UUID `gorm:"type:uuid;primary_key" json:"id"`
	Ticker    string    `gorm:"type:varchar(10);uniqueIndex;not null" json:"ticker"`
	Name      string    `gorm:"type:varchar(255);not null" json:"name"`
	Listed    bool      `gorm:"not null;default:true" json:"listed"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// OrderRecord is the persisted form of an order
type OrderRecord struct {
	ID             uuid.UUID       `gorm:"type:uuid;primary_key" json:"id"`
	UserID         uuid.UUID       `gorm:"type:uuid;index;not null" json:"user_id"`
	Ticker         string          `gorm:"type:varchar(10);index;not null" json:"ticker"`
	Side           string          `gorm:"type:varchar(4);not null" json:"side"`
	Type           string          `gorm:"type:varchar(6);not null" json:"type"`
	Quantity       decimal.Decimal `gorm:"type:decimal(20,8);not null" json:"quantity"`
	Price          decimal.Decimal `gorm:"type:decimal(20,8)" json:"price"`
	FilledQuantity decimal.Decimal `gorm:"type:decimal(20,8);not null" json:"filled_quantity"`
	Status         string          `gorm:"type:varchar(20);index;not null" json:"status"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// TradeRecord is the persisted form of an executed trade
type TradeRecord struct {
	ID          uuid.UUID       `gorm:"type:uuid;primary_key" json:"id"`
	Ticker      string          `gorm:"type:varchar(10);index;not null" json:"ticker"`
	BuyOrderID  uuid.UUID       `gorm:"type:uuid;not null" json:"buy_order_id"`
	SellOrderID uuid.UUID       `gorm:"type:uuid;not null" json:"sell_order_id"`
	BuyerID     uuid.UUID       `gorm:"type:uuid;not null" json:"buyer_id"`
	SellerID    uuid.UUID       `gorm:"type:uuid;not null" json:"seller_id"`
	Quantity    decimal.Decimal `gorm:"type:decimal(20,8);not null" json:"quantity"`
	Price       decimal.Decimal `gorm:"type:decimal(20,8);not null" json:"price"`
	CreatedAt   time.Time       `json:"created_at"`
}

// BalanceRecord is the persisted form of a (user, ticker) balance row
type BalanceRecord struct {
	UserID    uuid.UUID       `gorm:"type:uuid;primaryKey" json:"user_id"`
	Ticker    string          `gorm:"type:varchar(10);primaryKey" json:"ticker"`
	Amount    decimal.Decimal `gorm:"type:decimal(20,8);not null" json:"amount"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// RegisterRequest is the payload for user registration
type RegisterRequest struct {
	Username string `json:"username" binding:"required,min=3,max=64"`
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=8"`
}

// LoginRequest is the payload for user login
type LoginRequest struct {
	Login    string `json:"login" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// UpdateUserRequest is the payload for profile updates; absent fields are
// left unchanged
type UpdateUserRequest struct {
	Username *string `json:"username" binding:"omitempty,min=3,max=64"`
	Email    *string `json:"email" binding:"omitempty,email"`
	Password *string `json:"password" binding:"omitempty,min=8"`
}

// LoginResponse carries the issued access token
type LoginResponse struct {
	User  *User  `json:"user"`
	Token string `json:"token"`
}

// CreateOrderRequest is the payload for order placement.
// Price present means LIMIT, absent means MARKET.
type CreateOrderRequest struct {
	Ticker   string           `json:"ticker" binding:"required,ticker"`
	Side     string           `json:"side" binding:"required,oneof=BUY SELL"`
	Quantity decimal.Decimal  `json:"quantity" binding:"required"`
	Price    *decimal.Decimal `json:"price"`
}

// CreateOrderResponse acknowledges an admitted order
type CreateOrderResponse struct {
	Success bool      `json:"success"`
	OrderID uuid.UUID `json:"order_id"`
}

// CreateInstrumentRequest is the admin payload for listing an instrument
type CreateInstrumentRequest struct {
	Ticker string `json:"ticker" binding:"required,ticker"`
	Name   string `json:"name" binding:"required,max=255"`
}

// BalanceChangeRequest is the admin payload for deposits and withdrawals
type BalanceChangeRequest struct {
	UserID uuid.UUID       `json:"user_id" binding:"required"`
	Ticker string          `json:"ticker" binding:"required,ticker"`
	Amount decimal.Decimal `json:"amount" binding:"required"`
}

// BalanceResponse reports one balance row with its derived figures
type BalanceResponse struct {
	Ticker    string          `json:"ticker"`
	Amount    decimal.Decimal `json:"amount"`
	Reserved  decimal.Decimal `json:"reserved"`
	Available decimal.Decimal `json:"available"`
}

// LevelResponse is one aggregated (price, quantity) book level
type LevelResponse struct {
	Price    decimal.Decimal `json:"price"`
	Quantity decimal.Decimal `json:"quantity"`
}

// OrderBookResponse is the public book view for one instrument
type OrderBookResponse struct {
	Ticker string          `json:"ticker"`
	Bids   []LevelResponse `json:"bids"`
	Asks   []LevelResponse `json:"asks"`
}

// Ok is a generic success response
type Ok struct {
	Success bool `json:"success"`
}
