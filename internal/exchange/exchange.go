package exchange

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ksred/tradeguard-api/internal/orders"
)

var (
	// ErrOrderNotFound means the exchange has no record of the order. This is
	// an authoritative answer, not a transport failure.
	ErrOrderNotFound = errors.New("order not found on exchange")
	// ErrAdapterNotFound means no adapter is registered for the tenant and
	// exchange pair.
	ErrAdapterNotFound = errors.New("no adapter registered for exchange")
)

// Adapter queries an exchange for the authoritative status of an order.
// Implementations must honour the context deadline; the caller bounds the
// call so a slow exchange cannot stall order submission.
type Adapter interface {
	GetOrderStatus(ctx context.Context, orderID, exchangeOrderID string) (orders.OrderStatus, error)
}

// Registry holds the adapters available to the verifier, keyed by tenant and
// exchange. Adapters are injected at startup rather than constructed on
// demand so tests can substitute their own.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
}

func NewRegistry() *Registry {
	return &Registry{
		adapters: make(map[string]Adapter),
	}
}

func registryKey(tenantID, exchangeID string) string {
	return tenantID + ":" + exchangeID
}

// Register installs an adapter for a tenant's exchange connection.
func (r *Registry) Register(tenantID, exchangeID string, adapter Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[registryKey(tenantID, exchangeID)] = adapter
}

// Lookup returns the adapter for the tenant and exchange pair.
func (r *Registry) Lookup(tenantID, exchangeID string) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	adapter, ok := r.adapters[registryKey(tenantID, exchangeID)]
	if !ok {
		return nil, ErrAdapterNotFound
	}
	return adapter, nil
}

// SimulatedAdapter is a mock exchange connection with tunable latency and
// failure behaviour, used by the simulation harness and tests.
type SimulatedAdapter struct {
	ExchangeID  string
	Name        string
	MinLatency  int     // in milliseconds
	MaxLatency  int     // in milliseconds
	FailureRate float64 // 0-1, probability of a transport failure

	mu       sync.RWMutex
	statuses map[string]orders.OrderStatus // keyed by exchange order ID
}

func NewSimulatedAdapter(exchangeID, name string, minLatency, maxLatency int, failureRate float64) *SimulatedAdapter {
	return &SimulatedAdapter{
		ExchangeID:  exchangeID,
		Name:        name,
		MinLatency:  minLatency,
		MaxLatency:  maxLatency,
		FailureRate: failureRate,
		statuses:    make(map[string]orders.OrderStatus),
	}
}

// SetOrderStatus seeds the simulated exchange's view of an order.
func (a *SimulatedAdapter) SetOrderStatus(exchangeOrderID string, status orders.OrderStatus) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.statuses[exchangeOrderID] = status
}

// GetOrderStatus simulates querying the exchange for an order's status.
func (a *SimulatedAdapter) GetOrderStatus(ctx context.Context, orderID, exchangeOrderID string) (orders.OrderStatus, error) {
	logger := log.With().
		Str("exchange_id", a.ExchangeID).
		Str("order_id", orderID).
		Str("exchange_order_id", exchangeOrderID).
		Logger()

	latency := a.MinLatency
	if a.MaxLatency > a.MinLatency {
		latency = rand.Intn(a.MaxLatency-a.MinLatency+1) + a.MinLatency
	}
	logger.Debug().Int("latency_ms", latency).Msg("simulated network latency")

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case <-time.After(time.Duration(latency) * time.Millisecond):
	}

	if rand.Float64() < a.FailureRate {
		logger.Warn().
			Float64("failure_rate", a.FailureRate).
			Msg("simulated exchange query failure")
		return "", fmt.Errorf("exchange %s unavailable", a.ExchangeID)
	}

	a.mu.RLock()
	status, ok := a.statuses[exchangeOrderID]
	a.mu.RUnlock()
	if !ok {
		return "", ErrOrderNotFound
	}

	logger.Debug().Str("status", string(status)).Msg("exchange reported order status")
	return status, nil
}
