package exchange

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ksred/tradeguard-api/internal/orders"
)

func TestRegistryLookup(t *testing.T) {
	registry := NewRegistry()
	adapter := NewSimulatedAdapter("SIM", "Simulated Exchange", 0, 0, 0)

	registry.Register("tenant-a", "SIM", adapter)

	got, err := registry.Lookup("tenant-a", "SIM")
	require.NoError(t, err)
	assert.Same(t, adapter, got)

	_, err = registry.Lookup("tenant-a", "OTHER")
	assert.ErrorIs(t, err, ErrAdapterNotFound)

	_, err = registry.Lookup("tenant-b", "SIM")
	assert.ErrorIs(t, err, ErrAdapterNotFound, "adapters are registered per tenant")
}

func TestSimulatedAdapterReportsSeededStatus(t *testing.T) {
	adapter := NewSimulatedAdapter("SIM", "Simulated Exchange", 0, 0, 0)
	adapter.SetOrderStatus("EX-1", orders.StatusOpen)

	status, err := adapter.GetOrderStatus(context.Background(), "order-1", "EX-1")
	require.NoError(t, err)
	assert.Equal(t, orders.StatusOpen, status)

	adapter.SetOrderStatus("EX-1", orders.StatusFilled)
	status, err = adapter.GetOrderStatus(context.Background(), "order-1", "EX-1")
	require.NoError(t, err)
	assert.Equal(t, orders.StatusFilled, status)
}

func TestSimulatedAdapterUnknownOrder(t *testing.T) {
	adapter := NewSimulatedAdapter("SIM", "Simulated Exchange", 0, 0, 0)

	_, err := adapter.GetOrderStatus(context.Background(), "order-1", "EX-UNKNOWN")
	assert.ErrorIs(t, err, ErrOrderNotFound)
}

func TestSimulatedAdapterTransportFailure(t *testing.T) {
	adapter := NewSimulatedAdapter("SIM", "Simulated Exchange", 0, 0, 1)
	adapter.SetOrderStatus("EX-1", orders.StatusOpen)

	_, err := adapter.GetOrderStatus(context.Background(), "order-1", "EX-1")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrOrderNotFound,
		"a transport failure is not an authoritative not-found answer")
}

func TestSimulatedAdapterHonoursContextDeadline(t *testing.T) {
	adapter := NewSimulatedAdapter("SIM", "Simulated Exchange", 200, 200, 0)
	adapter.SetOrderStatus("EX-1", orders.StatusOpen)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := adapter.GetOrderStatus(ctx, "order-1", "EX-1")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
