package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/birzha-dev/birzha/api"
	"github.com/birzha-dev/birzha/internal/config"
	"github.com/birzha-dev/birzha/internal/database"
	"github.com/birzha-dev/birzha/internal/exchange/engine"
	"github.com/birzha-dev/birzha/internal/exchange/ledger"
	"github.com/birzha-dev/birzha/internal/exchange/model"
	"github.com/birzha-dev/birzha/internal/identities"
	"github.com/birzha-dev/birzha/internal/storage"
	"github.com/birzha-dev/birzha/pkg/logger"
)

func main() {
	// Load .env file if present
	_ = godotenv.Load()

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.NewLogger(cfg.Log.Level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Starting exchange",
		zap.String("driver", cfg.Database.Driver),
		zap.Int("port", cfg.Server.Port))

	// Database
	db, err := database.Open(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	if err := database.Migrate(db); err != nil {
		log.Fatal("Failed to migrate database", zap.Error(err))
	}
	if _, err := database.SeedBaseCurrency(db); err != nil {
		log.Fatal("Failed to seed base currency", zap.Error(err))
	}

	// Optional redis cache for order book snapshots
	cache, err := redisClient(cfg)
	if err != nil {
		log.Warn("Redis unavailable, order book cache disabled", zap.Error(err))
	}

	// Write-behind persistence
	store := storage.NewStore(log, db)
	if err := store.Start(); err != nil {
		log.Fatal("Failed to start storage", zap.Error(err))
	}

	// Matching engine, restored from persisted state
	eng := engine.New(log, ledger.New(), store)
	if err := restore(eng, store); err != nil {
		log.Fatal("Failed to restore engine state", zap.Error(err))
	}

	ids, err := identities.NewService(log, db, cfg.Auth.JWTSecret, cfg.Auth.TokenTTLHours)
	if err != nil {
		log.Fatal("Failed to create identity service", zap.Error(err))
	}

	server := api.NewServer(log, eng, ids, cache)

	// Run the server; shut down the storage worker on interrupt
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start(fmt.Sprintf(":%d", cfg.Server.Port))
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		log.Error("Server stopped", zap.Error(err))
	case sig := <-quit:
		log.Info("Shutting down", zap.String("signal", sig.String()))
	}

	if err := store.Stop(); err != nil {
		log.Error("Failed to stop storage", zap.Error(err))
	}
	log.Info("Shutdown complete")
}

// restore replays persisted instruments, balances and orders into the engine.
// Instruments come first so order and balance rows have books to land in.
func restore(eng *engine.Engine, store *storage.Store) error {
	insts, err := store.LoadInstruments()
	if err != nil {
		return err
	}
	for _, rec := range insts {
		eng.RestoreInstrument(model.Instrument{
			ID:        rec.ID,
			Ticker:    rec.Ticker,
			Name:      rec.Name,
			Listed:    rec.Listed,
			CreatedAt: rec.CreatedAt,
		})
	}

	balances, err := store.LoadBalances()
	if err != nil {
		return err
	}
	for _, rec := range balances {
		eng.Ledger().Credit(rec.UserID, rec.Ticker, rec.Amount)
	}

	orders, err := store.LoadOrders()
	if err != nil {
		return err
	}
	for _, rec := range orders {
		o := model.Order{
			ID:             rec.ID,
			UserID:         rec.UserID,
			Ticker:         rec.Ticker,
			Side:           rec.Side,
			Type:           rec.Type,
			Quantity:       rec.Quantity,
			Price:          rec.Price,
			FilledQuantity: rec.FilledQuantity,
			Status:         rec.Status,
			CreatedAt:      rec.CreatedAt,
			UpdatedAt:      rec.UpdatedAt,
		}
		if err := eng.Restore(o); err != nil {
			return fmt.Errorf("restore order %s: %w", rec.ID, err)
		}
	}
	return nil
}

func redisClient(cfg *config.Config) (*redis.Client, error) {
	if cfg.Redis.Addr == "" {
		return nil, nil
	}
	return database.NewRedisClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
}
