package migrations

import (
	"gorm.io/gorm"
)

// AddGuardIndexes creates the indexes behind the hot query paths
func AddGuardIndexes(db *gorm.DB) error {
	// Using raw SQL for index creation to have more control over index types
	indexes := []string{
		// Expiry sweep over idempotency records
		`CREATE INDEX IF NOT EXISTS idx_idempotency_records_expires_at
		 ON idempotency_records(expires_at)`,

		// Cooldown scheduler scan for open auto-reset breakers
		`CREATE INDEX IF NOT EXISTS idx_circuit_breakers_state_auto_reset
		 ON circuit_breakers(state, auto_reset_enabled)`,

		// Breaker matching on signal evaluation
		`CREATE INDEX IF NOT EXISTS idx_circuit_breakers_tenant_scope
		 ON circuit_breakers(tenant_id, scope, scope_id)`,

		// Duplicate guard order resolution by idempotency key
		`CREATE INDEX IF NOT EXISTS idx_orders_tenant_idempotency_key
		 ON orders(tenant_id, idempotency_key)`,
	}

	// Execute each index creation
	for _, idx := range indexes {
		if err := db.Exec(idx).Error; err != nil {
			return err
		}
	}

	return nil
}
