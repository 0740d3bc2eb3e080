package breaker

import (
	"errors"

	"gorm.io/gorm"
)

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

func (d *Database) CreateBreaker(b *CircuitBreaker) error {
	return d.db.Create(b).Error
}

// GetBreaker looks up a breaker by tenant and breaker ID. Returns nil
// without an error when no such breaker exists for the tenant.
func (d *Database) GetBreaker(tenantID, breakerID string) (*CircuitBreaker, error) {
	var b CircuitBreaker
	if err := d.db.Where("tenant_id = ? AND breaker_id = ?", tenantID, breakerID).First(&b).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &b, nil
}

func (d *Database) ListBreakers(tenantID string) ([]CircuitBreaker, error) {
	var breakers []CircuitBreaker
	if err := d.db.Where("tenant_id = ?", tenantID).Order("created_at").Find(&breakers).Error; err != nil {
		return nil, err
	}
	return breakers, nil
}

func (d *Database) UpdateBreaker(b *CircuitBreaker) error {
	return d.db.Save(b).Error
}

// DeleteBreaker removes a breaker. Reports whether a row was actually
// deleted so the caller can distinguish a miss from a hit.
func (d *Database) DeleteBreaker(tenantID, breakerID string) (bool, error) {
	result := d.db.Where("tenant_id = ? AND breaker_id = ?", tenantID, breakerID).Delete(&CircuitBreaker{})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// ListClosedMatching returns the tenant's CLOSED breakers a signal with the
// given scope could trip. PORTFOLIO breakers match on scope alone; STRATEGY
// and ASSET breakers also match on scope ID.
func (d *Database) ListClosedMatching(tenantID string, scope Scope, scopeID string) ([]CircuitBreaker, error) {
	query := d.db.Where("tenant_id = ? AND state = ? AND scope = ?", tenantID, StateClosed, scope)
	if scope != ScopePortfolio {
		query = query.Where("scope_id = ?", scopeID)
	}
	var breakers []CircuitBreaker
	if err := query.Find(&breakers).Error; err != nil {
		return nil, err
	}
	return breakers, nil
}

// ListOpenBlocking returns every OPEN breaker that halts trading for the
// given strategy and asset context. A PORTFOLIO breaker blocks everything;
// STRATEGY and ASSET breakers block their own scope ID.
func (d *Database) ListOpenBlocking(tenantID, strategyID, assetID string) ([]CircuitBreaker, error) {
	var breakers []CircuitBreaker
	err := d.db.Where("tenant_id = ? AND state = ?", tenantID, StateOpen).
		Where(
			d.db.Where("scope = ?", ScopePortfolio).
				Or("scope = ? AND scope_id = ?", ScopeStrategy, strategyID).
				Or("scope = ? AND scope_id = ?", ScopeAsset, assetID),
		).
		Find(&breakers).Error
	if err != nil {
		return nil, err
	}
	return breakers, nil
}

// ListOpenAutoReset returns every OPEN breaker with auto-reset enabled. The
// scheduler decides which of them are due; cooldowns are recomputed from
// tripped_at so a restarted process resumes correctly.
func (d *Database) ListOpenAutoReset() ([]CircuitBreaker, error) {
	var breakers []CircuitBreaker
	err := d.db.Where("state = ? AND auto_reset_enabled = ?", StateOpen, true).
		Find(&breakers).Error
	if err != nil {
		return nil, err
	}
	return breakers, nil
}
