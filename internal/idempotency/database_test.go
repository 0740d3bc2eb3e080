package idempotency

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const testTenant = "tenant-test"

func newTestLedger(t *testing.T) *SQLLedger {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "ledger.db") + "?_busy_timeout=5000"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&IdempotencyRecord{}))
	return NewSQLLedger(db)
}

func TestCreateAndGet(t *testing.T) {
	ledger := newTestLedger(t)
	ctx := context.Background()

	created, err := ledger.Create(ctx, testTenant, "key-1", "order-1", "SIM", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, created.Status)
	assert.WithinDuration(t, time.Now().UTC().Add(time.Hour), created.ExpiresAt, time.Minute)

	got, err := ledger.Get(ctx, testTenant, "key-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "order-1", got.OrderID)
	assert.Equal(t, "SIM", got.ExchangeID)
	assert.Equal(t, StatusPending, got.Status)
}

func TestCreateAppliesDefaultTTL(t *testing.T) {
	ledger := newTestLedger(t)

	created, err := ledger.Create(context.Background(), testTenant, "key-1", "order-1", "SIM", 0)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().UTC().Add(DefaultTTL), created.ExpiresAt, time.Minute)
}

func TestCreateRejectsLiveDuplicate(t *testing.T) {
	ledger := newTestLedger(t)
	ctx := context.Background()

	_, err := ledger.Create(ctx, testTenant, "key-1", "order-1", "SIM", time.Hour)
	require.NoError(t, err)

	_, err = ledger.Create(ctx, testTenant, "key-1", "order-2", "SIM", time.Hour)
	assert.ErrorIs(t, err, ErrDuplicateKey)

	got, err := ledger.Get(ctx, testTenant, "key-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "order-1", got.OrderID, "the losing create must not overwrite the winner")
}

func TestConcurrentCreatesSingleWinner(t *testing.T) {
	ledger := newTestLedger(t)
	ctx := context.Background()

	const attempts = 4
	results := make(chan error, attempts)
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := ledger.Create(ctx, testTenant, "contended-key", "order-1", "SIM", time.Hour)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	winners, losers := 0, 0
	for err := range results {
		switch {
		case err == nil:
			winners++
		case assert.ErrorIs(t, err, ErrDuplicateKey):
			losers++
		}
	}
	assert.Equal(t, 1, winners)
	assert.Equal(t, attempts-1, losers)
}

func TestExpiredRecordIsInvisibleAndSlotReusable(t *testing.T) {
	ledger := newTestLedger(t)
	ctx := context.Background()

	_, err := ledger.Create(ctx, testTenant, "key-1", "order-1", "SIM", 50*time.Millisecond)
	require.NoError(t, err)

	got, err := ledger.Get(ctx, testTenant, "key-1")
	require.NoError(t, err)
	require.NotNil(t, got, "the record is live before its TTL")

	time.Sleep(75 * time.Millisecond)

	got, err = ledger.Get(ctx, testTenant, "key-1")
	require.NoError(t, err)
	assert.Nil(t, got, "an expired record reads as absent before any sweep")

	created, err := ledger.Create(ctx, testTenant, "key-1", "order-2", "SIM", time.Hour)
	require.NoError(t, err, "an expired record must not block reuse of its key")
	assert.Equal(t, "order-2", created.OrderID)
}

func TestUpdateLiveRecord(t *testing.T) {
	ledger := newTestLedger(t)
	ctx := context.Background()

	_, err := ledger.Create(ctx, testTenant, "key-1", "order-1", "SIM", time.Hour)
	require.NoError(t, err)

	updated, err := ledger.Update(ctx, testTenant, "key-1", StatusSubmitted, `{"exchange_order_id":"EX-1"}`)
	require.NoError(t, err)
	require.NotNil(t, updated)
	assert.Equal(t, StatusSubmitted, updated.Status)

	updated, err = ledger.Update(ctx, testTenant, "key-1", StatusCompleted, "")
	require.NoError(t, err)
	require.NotNil(t, updated)
	assert.Equal(t, StatusCompleted, updated.Status)
	assert.Equal(t, `{"exchange_order_id":"EX-1"}`, updated.Response,
		"an update without a response keeps the recorded one")
}

func TestUpdateAbsentRecordReturnsNil(t *testing.T) {
	ledger := newTestLedger(t)

	record, err := ledger.Update(context.Background(), testTenant, "no-such-key", StatusCompleted, "")
	require.NoError(t, err)
	assert.Nil(t, record)
}

func TestUpdateExpiredRecordReturnsNil(t *testing.T) {
	ledger := newTestLedger(t)
	ctx := context.Background()

	_, err := ledger.Create(ctx, testTenant, "key-1", "order-1", "SIM", 50*time.Millisecond)
	require.NoError(t, err)
	time.Sleep(75 * time.Millisecond)

	record, err := ledger.Update(ctx, testTenant, "key-1", StatusCompleted, "")
	require.NoError(t, err)
	assert.Nil(t, record)
}

func TestRemoveFreesKey(t *testing.T) {
	ledger := newTestLedger(t)
	ctx := context.Background()

	_, err := ledger.Create(ctx, testTenant, "key-1", "order-1", "SIM", time.Hour)
	require.NoError(t, err)

	require.NoError(t, ledger.Remove(ctx, testTenant, "key-1"))

	got, err := ledger.Get(ctx, testTenant, "key-1")
	require.NoError(t, err)
	assert.Nil(t, got)

	_, err = ledger.Create(ctx, testTenant, "key-1", "order-2", "SIM", time.Hour)
	assert.NoError(t, err)
}

func TestClearExpired(t *testing.T) {
	ledger := newTestLedger(t)
	ctx := context.Background()

	_, err := ledger.Create(ctx, testTenant, "short-1", "order-1", "SIM", 50*time.Millisecond)
	require.NoError(t, err)
	_, err = ledger.Create(ctx, testTenant, "short-2", "order-2", "SIM", 50*time.Millisecond)
	require.NoError(t, err)
	_, err = ledger.Create(ctx, testTenant, "long-1", "order-3", "SIM", time.Hour)
	require.NoError(t, err)

	time.Sleep(75 * time.Millisecond)

	removed, err := ledger.ClearExpired(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, removed)

	got, err := ledger.Get(ctx, testTenant, "long-1")
	require.NoError(t, err)
	assert.NotNil(t, got, "live records survive the sweep")

	removed, err = ledger.ClearExpired(ctx)
	require.NoError(t, err)
	assert.Zero(t, removed)
}

func TestKeysAreTenantScoped(t *testing.T) {
	ledger := newTestLedger(t)
	ctx := context.Background()

	_, err := ledger.Create(ctx, "tenant-a", "shared-key", "order-a", "SIM", time.Hour)
	require.NoError(t, err)
	_, err = ledger.Create(ctx, "tenant-b", "shared-key", "order-b", "SIM", time.Hour)
	require.NoError(t, err, "the same key is independent across tenants")

	got, err := ledger.Get(ctx, "tenant-a", "shared-key")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "order-a", got.OrderID)
}
