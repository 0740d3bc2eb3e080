package database

import (
	"fmt"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/ksred/tradeguard-api/internal/breaker"
	"github.com/ksred/tradeguard-api/internal/database/migrations"
	"github.com/ksred/tradeguard-api/internal/idempotency"
	"github.com/ksred/tradeguard-api/internal/orders"
)

// NewDatabase initializes and returns a new GORM DB connection
// TranslateError is on so unique-constraint violations surface as
// gorm.ErrDuplicatedKey, which the idempotency ledger depends on.
func NewDatabase(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	if err != nil {
		return nil, err
	}

	err = db.AutoMigrate(
		&breaker.CircuitBreaker{},
		&idempotency.IdempotencyRecord{},
		&orders.Order{},
	)
	if err != nil {
		return nil, err
	}

	// Run migrations
	if err := migrations.AddGuardIndexes(db); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return db, nil
}
