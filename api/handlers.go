package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/birzha-dev/birzha/internal/exchange/engine"
	"github.com/birzha-dev/birzha/internal/exchange/model"
	"github.com/birzha-dev/birzha/pkg/models"
)

const (
	defaultBookDepth = 10
	bookCacheTTL     = time.Second
)

// engineStatus maps an engine rejection to an HTTP status code.
func engineStatus(err error) int {
	switch {
	case errors.Is(err, engine.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, engine.ErrInsufficientFunds),
		errors.Is(err, engine.ErrInsufficientLiquidity),
		errors.Is(err, engine.ErrInvalidState):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) engineError(c *gin.Context, err error) {
	status := engineStatus(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("engine operation failed", zap.Error(err))
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

// --- auth handlers ---

func (s *Server) register(c *gin.Context) {
	var req models.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	user, err := s.identities.Register(c.Request.Context(), &req)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, user)
}

func (s *Server) login(c *gin.Context) {
	var req models.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	resp, err := s.identities.Login(c.Request.Context(), &req)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}
	c.JSON(http.StatusOK, resp)
}

// --- profile handlers ---

func (s *Server) getProfile(c *gin.Context) {
	user, err := s.identities.GetUser(c.Request.Context(), currentUserID(c))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, user)
}

func (s *Server) updateProfile(c *gin.Context) {
	var req models.UpdateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	user, err := s.identities.UpdateUser(c.Request.Context(), currentUserID(c), &req)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, user)
}

func (s *Server) deleteProfile(c *gin.Context) {
	if err := s.identities.DeleteUser(c.Request.Context(), currentUserID(c)); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, models.Ok{Success: true})
}

// --- public handlers ---

// getOrderBook serves the aggregated book. Snapshots are cached briefly in
// redis when configured; display reads are eventually consistent.
func (s *Server) getOrderBook(c *gin.Context) {
	ticker := c.Param("ticker")
	depth := defaultBookDepth
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		depth = n
	}

	cacheKey := fmt.Sprintf("orderbook:%s:%d", ticker, depth)
	if s.cache != nil {
		if raw, err := s.cache.Get(c.Request.Context(), cacheKey).Bytes(); err == nil {
			c.Data(http.StatusOK, "application/json", raw)
			return
		}
	}

	bids, asks, err := s.engine.Levels(ticker, depth)
	if err != nil {
		s.engineError(c, err)
		return
	}
	resp := models.OrderBookResponse{
		Ticker: ticker,
		Bids:   toLevelResponses(bids),
		Asks:   toLevelResponses(asks),
	}

	if s.cache != nil {
		if raw, err := json.Marshal(resp); err == nil {
			if err := s.cache.Set(c.Request.Context(), cacheKey, raw, bookCacheTTL).Err(); err != nil {
				s.logger.Warn("orderbook cache write failed", zap.Error(err))
			}
		}
	}
	c.JSON(http.StatusOK, resp)
}

func toLevelResponses(levels []model.Level) []models.LevelResponse {
	out := make([]models.LevelResponse, len(levels))
	for i, l := range levels {
		out[i] = models.LevelResponse{Price: l.Price, Quantity: l.Quantity}
	}
	return out
}

func (s *Server) listInstruments(c *gin.Context) {
	c.JSON(http.StatusOK, s.engine.Instruments())
}

func (s *Server) listTrades(c *gin.Context) {
	ticker := c.Param("ticker")
	limit := 100
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = n
	}
	trades, err := s.engine.Trades(ticker, limit)
	if err != nil {
		s.engineError(c, err)
		return
	}
	c.JSON(http.StatusOK, trades)
}

// --- order handlers ---

func (s *Server) createOrder(c *gin.Context) {
	var req models.CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	// Order type is derived from price presence: price given means LIMIT.
	typ := model.TypeMarket
	price := decimal.Zero
	if req.Price != nil {
		typ = model.TypeLimit
		price = *req.Price
	}

	order, err := s.engine.PlaceOrder(c.Request.Context(), currentUserID(c), req.Ticker, req.Side, typ, req.Quantity, price)
	if err != nil {
		s.engineError(c, err)
		return
	}
	c.JSON(http.StatusOK, models.CreateOrderResponse{Success: true, OrderID: order.ID})
}

func (s *Server) listOrders(c *gin.Context) {
	c.JSON(http.StatusOK, s.engine.ListOrders(currentUserID(c)))
}

func (s *Server) getOrder(c *gin.Context) {
	orderID, err := uuid.Parse(c.Param("order_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid order id"})
		return
	}
	order, err := s.engine.GetOrder(orderID, currentUserID(c))
	if err != nil {
		s.engineError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (s *Server) cancelOrder(c *gin.Context) {
	orderID, err := uuid.Parse(c.Param("order_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid order id"})
		return
	}
	if err := s.engine.CancelOrder(c.Request.Context(), orderID, currentUserID(c)); err != nil {
		s.engineError(c, err)
		return
	}
	c.JSON(http.StatusOK, models.Ok{Success: true})
}

// --- balance handlers ---

func (s *Server) getBalances(c *gin.Context) {
	views := s.engine.Balances(currentUserID(c))
	out := make([]models.BalanceResponse, len(views))
	for i, v := range views {
		out[i] = models.BalanceResponse{
			Ticker:    v.Ticker,
			Amount:    v.Amount,
			Reserved:  v.Reserved,
			Available: v.Available,
		}
	}
	c.JSON(http.StatusOK, out)
}

// --- admin handlers ---

func (s *Server) addInstrument(c *gin.Context) {
	var req models.CreateInstrumentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	inst, err := s.engine.AddInstrument(req.Ticker, req.Name)
	if err != nil {
		s.engineError(c, err)
		return
	}
	c.JSON(http.StatusCreated, inst)
}

func (s *Server) delistInstrument(c *gin.Context) {
	if err := s.engine.DelistInstrument(c.Param("ticker")); err != nil {
		s.engineError(c, err)
		return
	}
	c.JSON(http.StatusOK, models.Ok{Success: true})
}

func (s *Server) deposit(c *gin.Context) {
	var req models.BalanceChangeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.engine.Deposit(req.UserID, req.Ticker, req.Amount); err != nil {
		s.engineError(c, err)
		return
	}
	c.JSON(http.StatusOK, models.Ok{Success: true})
}

func (s *Server) withdraw(c *gin.Context) {
	var req models.BalanceChangeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.engine.Withdraw(req.UserID, req.Ticker, req.Amount); err != nil {
		s.engineError(c, err)
		return
	}
	c.JSON(http.StatusOK, models.Ok{Success: true})
}
