package idempotency

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ksred/tradeguard-api/pkg/metrics"
)

// Sweeper periodically purges expired idempotency records. Reads already
// treat expired records as absent; the sweep only reclaims storage and
// index slots.
type Sweeper struct {
	ledger        Ledger
	sweepInterval time.Duration
}

func NewSweeper(ledger Ledger, sweepInterval time.Duration) *Sweeper {
	return &Sweeper{
		ledger:        ledger,
		sweepInterval: sweepInterval,
	}
}

// Start begins the expiry sweep loop
func (s *Sweeper) Start(ctx context.Context) {
	logger := log.With().Str("component", "ledger_sweeper").Logger()
	logger.Info().Dur("sweep_interval", s.sweepInterval).Msg("starting ledger sweeper")

	ticker := time.NewTicker(s.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("shutting down ledger sweeper")
			return
		case <-ticker.C:
			removed, err := s.ledger.ClearExpired(ctx)
			if err != nil {
				logger.Error().Err(err).Msg("failed to clear expired idempotency records")
				continue
			}
			if removed > 0 {
				metrics.ExpiredRecordsRemoved.Add(float64(removed))
				logger.Info().Int64("removed", removed).Msg("cleared expired idempotency records")
			}
		}
	}
}
