package signals

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/ksred/tradeguard-api/internal/breaker"
)

// Evaluator receives decoded risk signals. Implemented by the breaker
// service.
type Evaluator interface {
	EvaluateSignal(signal breaker.RiskSignal) ([]breaker.CircuitBreaker, error)
}

const (
	initialBackoff = time.Second
	maxBackoff     = 30 * time.Second
)

// Stream consumes risk signals from the producer's websocket feed and runs
// each one through the breaker engine. The connection is re-established
// with capped exponential backoff; a dropped feed must not take the guard
// down with it.
type Stream struct {
	url       string
	evaluator Evaluator
}

func NewStream(url string, evaluator Evaluator) *Stream {
	return &Stream{
		url:       url,
		evaluator: evaluator,
	}
}

// Start begins the signal intake loop
func (s *Stream) Start(ctx context.Context) {
	logger := log.With().Str("component", "signal_stream").Str("url", s.url).Logger()
	logger.Info().Msg("starting risk signal stream")

	backoff := initialBackoff
	for {
		if ctx.Err() != nil {
			logger.Info().Msg("shutting down risk signal stream")
			return
		}

		conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.url, nil)
		if err != nil {
			logger.Warn().Err(err).Dur("retry_in", backoff).Msg("failed to connect to signal feed")
			select {
			case <-ctx.Done():
				logger.Info().Msg("shutting down risk signal stream")
				return
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}

		logger.Info().Msg("connected to signal feed")
		backoff = initialBackoff
		s.readLoop(ctx, conn)
	}
}

// readLoop consumes messages until the connection drops or the context is
// cancelled.
func (s *Stream) readLoop(ctx context.Context, conn *websocket.Conn) {
	logger := log.With().Str("component", "signal_stream").Logger()

	// ReadMessage blocks; closing the connection is how cancellation
	// reaches it.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
			conn.Close()
		}
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				logger.Warn().Err(err).Msg("signal feed connection lost")
			}
			return
		}

		var signal breaker.RiskSignal
		if err := json.Unmarshal(message, &signal); err != nil {
			logger.Warn().Err(err).Msg("discarding malformed risk signal")
			continue
		}

		tripped, err := s.evaluator.EvaluateSignal(signal)
		if err != nil {
			logger.Error().Err(err).
				Str("tenant_id", signal.TenantID).
				Str("scope", string(signal.Scope)).
				Msg("failed to evaluate risk signal")
			continue
		}
		if len(tripped) > 0 {
			logger.Warn().
				Str("tenant_id", signal.TenantID).
				Int("tripped", len(tripped)).
				Msg("risk signal tripped breakers")
		}
	}
}
