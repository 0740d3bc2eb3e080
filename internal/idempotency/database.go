package idempotency

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

// SQLLedger stores idempotency records in the service database. The
// composite unique index on (tenant_id, idempotency_key) enforces the
// single-winner guarantee for concurrent creates.
type SQLLedger struct {
	db *gorm.DB
}

func NewSQLLedger(db *gorm.DB) *SQLLedger {
	return &SQLLedger{db: db}
}

func (l *SQLLedger) Create(ctx context.Context, tenantID, key, orderID, exchangeID string, ttl time.Duration) (*IdempotencyRecord, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	now := time.Now().UTC()
	record := &IdempotencyRecord{
		TenantID:       tenantID,
		IdempotencyKey: key,
		OrderID:        orderID,
		ExchangeID:     exchangeID,
		Status:         StatusPending,
		ExpiresAt:      now.Add(ttl),
	}

	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// An expired record still occupies the key slot in the index; purge
		// it so the slot is reusable. A live record survives this delete and
		// makes the insert below fail, which is the rejection we want.
		if err := tx.Where("tenant_id = ? AND idempotency_key = ? AND expires_at <= ?", tenantID, key, now).
			Delete(&IdempotencyRecord{}).Error; err != nil {
			return err
		}
		return tx.Create(record).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, ErrDuplicateKey
		}
		return nil, err
	}

	return record, nil
}

func (l *SQLLedger) Get(ctx context.Context, tenantID, key string) (*IdempotencyRecord, error) {
	var record IdempotencyRecord
	err := l.db.WithContext(ctx).
		Where("tenant_id = ? AND idempotency_key = ? AND expires_at > ?", tenantID, key, time.Now().UTC()).
		First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &record, nil
}

func (l *SQLLedger) Update(ctx context.Context, tenantID, key string, status Status, response string) (*IdempotencyRecord, error) {
	record, err := l.Get(ctx, tenantID, key)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, nil
	}

	record.Status = status
	if response != "" {
		record.Response = response
	}
	if err := l.db.WithContext(ctx).Save(record).Error; err != nil {
		return nil, err
	}
	return record, nil
}

func (l *SQLLedger) Remove(ctx context.Context, tenantID, key string) error {
	return l.db.WithContext(ctx).
		Where("tenant_id = ? AND idempotency_key = ?", tenantID, key).
		Delete(&IdempotencyRecord{}).Error
}

func (l *SQLLedger) ClearExpired(ctx context.Context) (int64, error) {
	result := l.db.WithContext(ctx).
		Where("expires_at <= ?", time.Now().UTC()).
		Delete(&IdempotencyRecord{})
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}
