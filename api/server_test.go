package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/birzha-dev/birzha/internal/exchange/engine"
	"github.com/birzha-dev/birzha/internal/exchange/ledger"
	"github.com/birzha-dev/birzha/internal/exchange/model"
	"github.com/birzha-dev/birzha/pkg/models"
)

// stubIdentities maps bearer tokens straight to user ids, no database.
type stubIdentities struct {
	users  map[string]uuid.UUID
	admins map[uuid.UUID]bool
}

func (s *stubIdentities) Register(ctx context.Context, req *models.RegisterRequest) (*models.User, error) {
	return nil, fmt.Errorf("not supported")
}

func (s *stubIdentities) Login(ctx context.Context, req *models.LoginRequest) (*models.LoginResponse, error) {
	return nil, fmt.Errorf("not supported")
}

func (s *stubIdentities) ValidateToken(token string) (uuid.UUID, error) {
	id, ok := s.users[token]
	if !ok {
		return uuid.Nil, fmt.Errorf("invalid token")
	}
	return id, nil
}

func (s *stubIdentities) GetUser(ctx context.Context, userID uuid.UUID) (*models.User, error) {
	return &models.User{ID: userID, Username: "trader", IsAdmin: s.admins[userID]}, nil
}

func (s *stubIdentities) UpdateUser(ctx context.Context, userID uuid.UUID, req *models.UpdateUserRequest) (*models.User, error) {
	user, _ := s.GetUser(ctx, userID)
	if req.Username != nil {
		user.Username = *req.Username
	}
	return user, nil
}

func (s *stubIdentities) DeleteUser(ctx context.Context, userID uuid.UUID) error {
	for token, id := range s.users {
		if id == userID {
			delete(s.users, token)
		}
	}
	return nil
}

func (s *stubIdentities) IsAdmin(ctx context.Context, userID uuid.UUID) (bool, error) {
	return s.admins[userID], nil
}

func newTestServer(t *testing.T) (*Server, *engine.Engine, uuid.UUID, uuid.UUID) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	eng := engine.New(zap.NewNop(), ledger.New(), nil)
	_, err := eng.AddInstrument(model.TickerRUB, "Российский рубль")
	require.NoError(t, err)
	_, err = eng.AddInstrument("AAPL", "Apple")
	require.NoError(t, err)

	trader := uuid.New()
	admin := uuid.New()
	ids := &stubIdentities{
		users:  map[string]uuid.UUID{"trader-token": trader, "admin-token": admin},
		admins: map[uuid.UUID]bool{admin: true},
	}
	return NewServer(zap.NewNop(), eng, ids, nil), eng, trader, admin
}

func do(t *testing.T, s *Server, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)
	return w
}

func TestAuthRequired(t *testing.T) {
	s, _, _, _ := newTestServer(t)

	w := do(t, s, http.MethodGet, "/api/v1/balance", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = do(t, s, http.MethodGet, "/api/v1/balance", "bogus", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAdminRequired(t *testing.T) {
	s, _, _, _ := newTestServer(t)

	w := do(t, s, http.MethodPost, "/api/v1/admin/instrument", "trader-token", models.CreateInstrumentRequest{
		Ticker: "GAZP",
		Name:   "Газпром",
	})
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestOrderFlow(t *testing.T) {
	s, eng, trader, _ := newTestServer(t)
	require.NoError(t, eng.Deposit(trader, model.TickerRUB, decimal.RequireFromString("1000")))

	price := decimal.RequireFromString("50")
	w := do(t, s, http.MethodPost, "/api/v1/order", "trader-token", models.CreateOrderRequest{
		Ticker:   "AAPL",
		Side:     model.SideBuy,
		Quantity: decimal.RequireFromString("10"),
		Price:    &price,
	})
	require.Equal(t, http.StatusOK, w.Code)

	var resp models.CreateOrderResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Success)

	w = do(t, s, http.MethodGet, "/api/v1/order/"+resp.OrderID.String(), "trader-token", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var got model.Order
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, model.StatusNew, got.Status)

	// The resting bid shows up in the public book
	w = do(t, s, http.MethodGet, "/api/v1/public/orderbook/AAPL", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var book models.OrderBookResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &book))
	require.Len(t, book.Bids, 1)
	assert.Empty(t, book.Asks)

	w = do(t, s, http.MethodDelete, "/api/v1/order/"+resp.OrderID.String(), "trader-token", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	// Cancelling a cancelled order is an invalid state transition
	w = do(t, s, http.MethodDelete, "/api/v1/order/"+resp.OrderID.String(), "trader-token", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestMarketOrderDerivedFromMissingPrice(t *testing.T) {
	s, _, _, _ := newTestServer(t)

	// No price means MARKET; an empty book rejects it for lack of liquidity
	w := do(t, s, http.MethodPost, "/api/v1/order", "trader-token", models.CreateOrderRequest{
		Ticker:   "AAPL",
		Side:     model.SideBuy,
		Quantity: decimal.RequireFromString("1"),
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCreateOrderValidation(t *testing.T) {
	s, _, _, _ := newTestServer(t)

	// Lowercase ticker fails the binding rule before the engine sees it
	w := do(t, s, http.MethodPost, "/api/v1/order", "trader-token", map[string]any{
		"ticker":   "aapl",
		"side":     "BUY",
		"quantity": "1",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, s, http.MethodPost, "/api/v1/order", "trader-token", map[string]any{
		"ticker":   "AAPL",
		"side":     "HOLD",
		"quantity": "1",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUnknownInstrument(t *testing.T) {
	s, _, _, _ := newTestServer(t)

	w := do(t, s, http.MethodGet, "/api/v1/public/orderbook/NOPE", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(t, s, http.MethodGet, "/api/v1/public/trades/NOPE", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAdminInstrumentAndBalances(t *testing.T) {
	s, eng, trader, _ := newTestServer(t)

	w := do(t, s, http.MethodPost, "/api/v1/admin/instrument", "admin-token", models.CreateInstrumentRequest{
		Ticker: "GAZP",
		Name:   "Газпром",
	})
	assert.Equal(t, http.StatusCreated, w.Code)

	w = do(t, s, http.MethodPost, "/api/v1/admin/balance/deposit", "admin-token", models.BalanceChangeRequest{
		UserID: trader,
		Ticker: "GAZP",
		Amount: decimal.RequireFromString("25"),
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, eng.Ledger().Get(trader, "GAZP").Equal(decimal.RequireFromString("25")))

	w = do(t, s, http.MethodGet, "/api/v1/balance", "trader-token", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var balances []models.BalanceResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &balances))
	require.Len(t, balances, 1)
	assert.Equal(t, "GAZP", balances[0].Ticker)

	// Withdrawing more than held fails without moving anything
	w = do(t, s, http.MethodPost, "/api/v1/admin/balance/withdraw", "admin-token", models.BalanceChangeRequest{
		UserID: trader,
		Ticker: "GAZP",
		Amount: decimal.RequireFromString("30"),
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.True(t, eng.Ledger().Get(trader, "GAZP").Equal(decimal.RequireFromString("25")))

	w = do(t, s, http.MethodDelete, "/api/v1/admin/instrument/GAZP", "admin-token", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	// RUB is protected
	w = do(t, s, http.MethodDelete, "/api/v1/admin/instrument/RUB", "admin-token", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestProfile(t *testing.T) {
	s, _, trader, _ := newTestServer(t)

	w := do(t, s, http.MethodGet, "/api/v1/users/me", "trader-token", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var user models.User
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &user))
	assert.Equal(t, trader, user.ID)

	w = do(t, s, http.MethodPut, "/api/v1/users/me", "trader-token", map[string]any{
		"username": "renamed",
	})
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &user))
	assert.Equal(t, "renamed", user.Username)

	// A malformed email fails binding before the service is called
	w = do(t, s, http.MethodPut, "/api/v1/users/me", "trader-token", map[string]any{
		"email": "not-an-email",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// Deleting the account invalidates its token
	w = do(t, s, http.MethodDelete, "/api/v1/users/me", "trader-token", nil)
	require.Equal(t, http.StatusOK, w.Code)
	w = do(t, s, http.MethodGet, "/api/v1/users/me", "trader-token", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestHealth(t *testing.T) {
	s, _, _, _ := newTestServer(t)
	w := do(t, s, http.MethodGet, "/api/v1/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}
