package idempotency

import (
	"time"
)

// Status is the submission lifecycle state recorded under an idempotency key.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusSubmitted Status = "SUBMITTED"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
)

// IdempotencyRecord tracks one order submission attempt per
// (tenant, idempotency key). The composite unique index is what makes
// concurrent creates resolve to a single winner.
//
// Records are hard-deleted: an expired key slot must be reusable
// immediately, which a soft-delete marker would block via the unique index.
type IdempotencyRecord struct {
	ID             uint      `gorm:"primarykey" json:"-"`
	TenantID       string    `gorm:"uniqueIndex:idx_ledger_tenant_key" json:"tenant_id"`
	IdempotencyKey string    `gorm:"uniqueIndex:idx_ledger_tenant_key" json:"idempotency_key"`
	OrderID        string    `json:"order_id"`
	ExchangeID     string    `json:"exchange_id"`
	Status         Status    `json:"status"`
	Response       string    `json:"response,omitempty"`
	ExpiresAt      time.Time `json:"expires_at"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Expired reports whether the record is past its TTL at the given instant.
// Expired records are treated as absent by every read path, even before the
// sweeper physically removes them.
func (r *IdempotencyRecord) Expired(now time.Time) bool {
	return !r.ExpiresAt.After(now)
}
