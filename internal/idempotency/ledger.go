package idempotency

import (
	"context"
	"errors"
	"time"
)

// DefaultTTL is how long a record blocks its key when the caller does not
// override the TTL per submission.
const DefaultTTL = 24 * time.Hour

// ErrDuplicateKey is returned by Create when a live record already holds
// the (tenant, key) slot. This rejection is the primary duplicate-prevention
// guarantee.
var ErrDuplicateKey = errors.New("idempotency key already in use")

// Ledger is the keyed store of in-flight and completed order submissions.
// Create must be an atomic check-then-set: two concurrent creates for the
// same key resolve to exactly one winner and one ErrDuplicateKey.
type Ledger interface {
	// Create inserts a new PENDING record. A non-positive ttl means
	// DefaultTTL. Fails with ErrDuplicateKey if a live record exists.
	Create(ctx context.Context, tenantID, key, orderID, exchangeID string, ttl time.Duration) (*IdempotencyRecord, error)

	// Get returns the live record for the key, or nil when none exists.
	// A record past its TTL is treated as absent even if not yet purged.
	Get(ctx context.Context, tenantID, key string) (*IdempotencyRecord, error)

	// Update overwrites the status and response of an existing live record
	// and bumps its updated timestamp. Returns nil when no live record
	// exists; that is not an error.
	Update(ctx context.Context, tenantID, key string, status Status, response string) (*IdempotencyRecord, error)

	// Remove deletes the record for the key, live or expired.
	Remove(ctx context.Context, tenantID, key string) error

	// ClearExpired physically removes expired records and returns the count
	// removed. Driven by a periodic sweep; the ledger itself performs no
	// background work.
	ClearExpired(ctx context.Context) (int64, error)
}
