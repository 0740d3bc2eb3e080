package guard

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ksred/tradeguard-api/internal/exchange"
	"github.com/ksred/tradeguard-api/internal/orders"
	"github.com/ksred/tradeguard-api/pkg/metrics"
)

// OrderExistenceResult is the answer to "does this order already exist
// remotely?", computed fresh per query.
type OrderExistenceResult struct {
	Exists          bool               `json:"exists"`
	Order           *orders.Order      `json:"order,omitempty"`
	ExchangeOrderID string             `json:"exchange_order_id,omitempty"`
	Status          orders.OrderStatus `json:"status,omitempty"`
	CheckedAt       time.Time          `json:"checked_at"`
}

// OrderRepository is the read-only view of the platform's orders consumed
// by the verifier. The guard never mutates orders.
type OrderRepository interface {
	GetOrder(tenantID, orderID string) (*orders.Order, error)
	GetOrderByIdempotencyKey(tenantID, key string) (*orders.Order, error)
}

// Verifier determines whether an order from a previous submission attempt
// already exists on an exchange. It consults internal order records first
// and the exchange adapter when one is registered.
type Verifier struct {
	repo     OrderRepository
	adapters *exchange.Registry
	// adapterTimeout bounds the exchange query. The call happens outside
	// any breaker or ledger lock, so a slow exchange stalls only its caller.
	adapterTimeout time.Duration
}

func NewVerifier(repo OrderRepository, adapters *exchange.Registry, adapterTimeout time.Duration) *Verifier {
	return &Verifier{
		repo:           repo,
		adapters:       adapters,
		adapterTimeout: adapterTimeout,
	}
}

// Verify checks internal records and, when possible, the exchange itself.
// An order that never received an exchange order ID never reached the
// exchange and is safe to submit. When the exchange cannot be queried the
// verifier falls back to the internally recorded status rather than failing
// the check: availability wins over freshness, but every fallback is
// counted and logged because it silently trusts internal state.
func (v *Verifier) Verify(ctx context.Context, tenantID, orderID, exchangeID, exchangeOrderID string) (*OrderExistenceResult, error) {
	result := &OrderExistenceResult{CheckedAt: time.Now().UTC()}

	order, err := v.repo.GetOrder(tenantID, orderID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return result, nil
	}
	result.Order = order

	// The stored exchange order ID is authoritative; the supplied one covers
	// retries where the caller saw an acknowledgement we never persisted.
	resolvedID := order.ExchangeOrderID
	if resolvedID == "" {
		resolvedID = exchangeOrderID
	}
	if resolvedID == "" {
		return result, nil
	}
	result.ExchangeOrderID = resolvedID

	status, ok := v.queryExchange(ctx, tenantID, orderID, exchangeID, resolvedID)
	if !ok {
		status = order.Status
	}

	result.Exists = true
	result.Status = status
	return result, nil
}

// queryExchange asks the registered adapter for the order's status. Returns
// ok=false when the answer has to come from internal state instead.
func (v *Verifier) queryExchange(ctx context.Context, tenantID, orderID, exchangeID, exchangeOrderID string) (orders.OrderStatus, bool) {
	logger := log.With().
		Str("tenant_id", tenantID).
		Str("order_id", orderID).
		Str("exchange_id", exchangeID).
		Logger()

	adapter, err := v.adapters.Lookup(tenantID, exchangeID)
	if err != nil {
		metrics.VerifierFallbacks.WithLabelValues("no_adapter").Inc()
		logger.Warn().Msg("no exchange adapter registered, falling back to internal order status")
		return "", false
	}

	queryCtx, cancel := context.WithTimeout(ctx, v.adapterTimeout)
	defer cancel()

	status, err := adapter.GetOrderStatus(queryCtx, orderID, exchangeOrderID)
	if err != nil {
		reason := "adapter_error"
		if err == exchange.ErrOrderNotFound {
			reason = "order_not_found"
		}
		metrics.VerifierFallbacks.WithLabelValues(reason).Inc()
		logger.Warn().Err(err).Msg("exchange status query failed, falling back to internal order status")
		return "", false
	}

	return status, true
}
