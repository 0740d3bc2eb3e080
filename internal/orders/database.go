package orders

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

func (d *Database) CreateOrder(order *Order) error {
	return d.db.Create(order).Error
}

// GetOrder looks up an order by tenant and order ID. Returns nil without an
// error when no such order exists.
func (d *Database) GetOrder(tenantID, orderID string) (*Order, error) {
	var order Order
	if err := d.db.Where("tenant_id = ? AND order_id = ?", tenantID, orderID).First(&order).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &order, nil
}

// GetOrderByIdempotencyKey finds the order a previous submission attempt
// created under the given key, if any.
func (d *Database) GetOrderByIdempotencyKey(tenantID, idempotencyKey string) (*Order, error) {
	var order Order
	if err := d.db.Where("tenant_id = ? AND idempotency_key = ?", tenantID, idempotencyKey).First(&order).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &order, nil
}

func (d *Database) UpdateOrder(order *Order) error {
	return d.db.Save(order).Error
}

// UpdateOrderStatus sets the status (and exchange order ID, when the exchange
// has assigned one) for an existing order.
func (d *Database) UpdateOrderStatus(tenantID, orderID string, status OrderStatus, exchangeOrderID string) error {
	updates := map[string]interface{}{"status": status}
	if exchangeOrderID != "" {
		updates["exchange_order_id"] = exchangeOrderID
	}
	return d.db.Model(&Order{}).
		Where("tenant_id = ? AND order_id = ?", tenantID, orderID).
		Updates(updates).Error
}
