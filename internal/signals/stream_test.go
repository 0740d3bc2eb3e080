package signals

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ksred/tradeguard-api/internal/breaker"
)

type captureEvaluator struct {
	signals chan breaker.RiskSignal
}

func (e *captureEvaluator) EvaluateSignal(signal breaker.RiskSignal) ([]breaker.CircuitBreaker, error) {
	e.signals <- signal
	return nil, nil
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func marshalSignal(t *testing.T, signal breaker.RiskSignal) []byte {
	t.Helper()
	raw, err := json.Marshal(signal)
	require.NoError(t, err)
	return raw
}

func TestStreamDeliversSignalsAndSkipsMalformed(t *testing.T) {
	evaluator := &captureEvaluator{signals: make(chan breaker.RiskSignal, 8)}

	failures := 3
	signal := breaker.RiskSignal{
		TenantID:            "tenant-test",
		Scope:               breaker.ScopePortfolio,
		ConsecutiveFailures: &failures,
		ObservedAt:          time.Now().UTC(),
	}

	var upgrader websocket.Upgrader
	var connections atomic.Int32
	hold := make(chan struct{})
	defer close(hold)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		if connections.Add(1) > 1 {
			<-hold
			return
		}
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"tenant_id":`)))
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, marshalSignal(t, signal)))
		<-hold
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		NewStream(wsURL(srv), evaluator).Start(ctx)
	}()

	select {
	case got := <-evaluator.signals:
		assert.Equal(t, "tenant-test", got.TenantID)
		assert.Equal(t, breaker.ScopePortfolio, got.Scope)
		require.NotNil(t, got.ConsecutiveFailures)
		assert.Equal(t, 3, *got.ConsecutiveFailures)
	case <-time.After(2 * time.Second):
		t.Fatal("signal was not delivered")
	}

	select {
	case <-evaluator.signals:
		t.Fatal("the malformed frame must be discarded, not evaluated")
	case <-time.After(100 * time.Millisecond):
	}

	cancel()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not stop on context cancellation")
	}
}

func TestStreamReconnectsAfterDrop(t *testing.T) {
	evaluator := &captureEvaluator{signals: make(chan breaker.RiskSignal, 8)}

	var upgrader websocket.Upgrader
	var connections atomic.Int32
	hold := make(chan struct{})
	defer close(hold)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		n := connections.Add(1)
		signal := breaker.RiskSignal{TenantID: "tenant-test", Scope: breaker.ScopePortfolio}
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, marshalSignal(t, signal)))
		if n == 1 {
			return // drop the first connection after one message
		}
		<-hold
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		NewStream(wsURL(srv), evaluator).Start(ctx)
	}()

	for i := 0; i < 2; i++ {
		select {
		case got := <-evaluator.signals:
			assert.Equal(t, "tenant-test", got.TenantID)
		case <-time.After(5 * time.Second):
			t.Fatalf("signal %d was not delivered across the reconnect", i+1)
		}
	}
	assert.GreaterOrEqual(t, connections.Load(), int32(2))

	cancel()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not stop on context cancellation")
	}
}

func TestStreamStopsWhileWaitingToRetry(t *testing.T) {
	evaluator := &captureEvaluator{signals: make(chan breaker.RiskSignal, 1)}

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		// Nothing listens here; the stream sits in its retry backoff.
		NewStream("ws://127.0.0.1:1", evaluator).Start(ctx)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not stop while waiting to reconnect")
	}
}
