package orders

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// OrderStatus is the lifecycle state of an order as known to the platform.
type OrderStatus string

const (
	StatusPending         OrderStatus = "PENDING"
	StatusOpen            OrderStatus = "OPEN"
	StatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	StatusFilled          OrderStatus = "FILLED"
	StatusCancelled       OrderStatus = "CANCELLED"
	StatusRejected        OrderStatus = "REJECTED"
	StatusExpired         OrderStatus = "EXPIRED"
)

// IsTerminal reports whether the order has finished its lifecycle and can
// never be filled again.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case StatusFilled, StatusCancelled, StatusRejected, StatusExpired:
		return true
	}
	return false
}

// IsActive reports whether the order is still live on an exchange.
func (s OrderStatus) IsActive() bool {
	switch s {
	case StatusPending, StatusOpen, StatusPartiallyFilled:
		return true
	}
	return false
}

type Order struct {
	gorm.Model `json:"-"`
	OrderID    string `gorm:"uniqueIndex" json:"order_id"`
	TenantID   string `gorm:"index" json:"tenant_id"`
	// ExchangeOrderID is assigned by the exchange on acceptance. Empty means
	// the order was never acknowledged by any exchange.
	ExchangeOrderID string          `json:"exchange_order_id"`
	ExchangeID      string          `json:"exchange_id"`
	IdempotencyKey  string          `gorm:"index" json:"idempotency_key"`
	Symbol          string          `json:"symbol"`
	Side            string          `json:"side"`       // BUY or SELL
	OrderType       string          `json:"order_type"` // MARKET or LIMIT
	Quantity        decimal.Decimal `gorm:"type:decimal(20,8)" json:"quantity"`
	Price           decimal.Decimal `gorm:"type:decimal(20,8)" json:"price"`
	Status          OrderStatus     `json:"status"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}
