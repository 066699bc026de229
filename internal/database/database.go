// Package database opens the GORM connection, runs migrations and seeds the
// settlement currency.
package database

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/birzha-dev/birzha/pkg/models"
)

// Open connects to the configured database.
func Open(driver, dsn string) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch driver {
	case "postgres":
		dialector = postgres.Open(dsn)
	case "sqlite":
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:      gormlogger.Default.LogMode(gormlogger.Warn),
		PrepareStmt: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database connection: %w", err)
	}
	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(time.Hour)

	return db, nil
}

// Migrate creates or updates the schema.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.User{},
		&models.InstrumentRecord{},
		&models.OrderRecord{},
		&models.TradeRecord{},
		&models.BalanceRecord{},
	)
}

// SeedBaseCurrency creates the RUB instrument if it does not exist yet. RUB
// is the sole settlement currency and is never deleted.
func SeedBaseCurrency(db *gorm.DB) (*models.InstrumentRecord, error) {
	var rub models.InstrumentRecord
	err := db.Where("ticker = ?", "RUB").First(&rub).Error
	if err == nil {
		return &rub, nil
	}
	if err != gorm.ErrRecordNotFound {
		return nil, fmt.Errorf("failed to look up base currency: %w", err)
	}

	rub = models.InstrumentRecord{
		ID:        uuid.New(),
		Ticker:    "RUB",
		Name:      "Российский рубль",
		Listed:    true,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	if err := db.Create(&rub).Error; err != nil {
		return nil, fmt.Errorf("failed to seed base currency: %w", err)
	}
	return &rub, nil
}
