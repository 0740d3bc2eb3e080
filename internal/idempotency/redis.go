package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisLedger stores idempotency records in Redis with native TTL expiry,
// so correctness does not depend on a sweep cadence. SETNX gives the atomic
// check-then-set that makes concurrent creates resolve to one winner.
type RedisLedger struct {
	client *redis.Client
}

// NewRedisClient connects to Redis and verifies the connection.
func NewRedisClient(addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}

func NewRedisLedger(client *redis.Client) *RedisLedger {
	return &RedisLedger{client: client}
}

func ledgerKey(tenantID, key string) string {
	return fmt.Sprintf("ledger:%s:%s", tenantID, key)
}

func (l *RedisLedger) Create(ctx context.Context, tenantID, key, orderID, exchangeID string, ttl time.Duration) (*IdempotencyRecord, error) {
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
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	payload, err := json.Marshal(record)
	if err != nil {
		return nil, err
	}

	ok, err := l.client.SetNX(ctx, ledgerKey(tenantID, key), payload, ttl).Result()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrDuplicateKey
	}
	return record, nil
}

func (l *RedisLedger) Get(ctx context.Context, tenantID, key string) (*IdempotencyRecord, error) {
	payload, err := l.client.Get(ctx, ledgerKey(tenantID, key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}

	var record IdempotencyRecord
	if err := json.Unmarshal(payload, &record); err != nil {
		return nil, err
	}
	return &record, nil
}

func (l *RedisLedger) Update(ctx context.Context, tenantID, key string, status Status, response string) (*IdempotencyRecord, error) {
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
	record.UpdatedAt = time.Now().UTC()

	payload, err := json.Marshal(record)
	if err != nil {
		return nil, err
	}

	// KeepTTL preserves the remaining expiry; an update must not extend the
	// key's lifetime.
	if err := l.client.Set(ctx, ledgerKey(tenantID, key), payload, redis.KeepTTL).Err(); err != nil {
		return nil, err
	}
	return record, nil
}

func (l *RedisLedger) Remove(ctx context.Context, tenantID, key string) error {
	return l.client.Del(ctx, ledgerKey(tenantID, key)).Err()
}

// ClearExpired is a no-op: Redis expires ledger keys natively.
func (l *RedisLedger) ClearExpired(ctx context.Context) (int64, error) {
	return 0, nil
}
