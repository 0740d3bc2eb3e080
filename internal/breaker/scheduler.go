package breaker

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ksred/tradeguard-api/internal/events"
	"github.com/ksred/tradeguard-api/pkg/metrics"
)

// Scheduler drives automatic cooldown resets. It wakes on a recurring tick
// and closes every OPEN breaker whose cooldown has elapsed; between ticks it
// sleeps. Cooldowns are recomputed from the persisted tripped timestamp on
// every tick, so a restarted process picks up where it left off.
type Scheduler struct {
	service      *Service
	tickInterval time.Duration
}

func NewScheduler(service *Service, tickInterval time.Duration) *Scheduler {
	return &Scheduler{
		service:      service,
		tickInterval: tickInterval,
	}
}

// Start begins the cooldown processing loop
func (s *Scheduler) Start(ctx context.Context) {
	logger := log.With().Str("component", "cooldown_scheduler").Logger()
	logger.Info().Dur("tick_interval", s.tickInterval).Msg("starting cooldown scheduler")

	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("shutting down cooldown scheduler")
			return
		case <-ticker.C:
			if _, err := s.service.AutoResetDueBreakers(time.Now().UTC()); err != nil {
				logger.Error().Err(err).Msg("failed to process cooldown resets")
			}
		}
	}
}

// AutoResetDueBreakers closes every OPEN breaker with auto-reset enabled
// whose cooldown has elapsed at the given instant. Auto-reset is
// system-initiated and bypasses the manual reset's authentication
// requirement. Returns the number of breakers reset.
func (s *Service) AutoResetDueBreakers(now time.Time) (int, error) {
	logger := log.With().Str("component", "cooldown_scheduler").Logger()

	candidates, err := s.db.ListOpenAutoReset()
	if err != nil {
		return 0, err
	}

	resetCount := 0
	for i := range candidates {
		candidate := &candidates[i]
		if !cooldownElapsed(candidate, now) {
			continue
		}

		b, transitioned, err := s.autoReset(candidate.TenantID, candidate.BreakerID, now)
		if err != nil {
			logger.Error().Err(err).
				Str("breaker_id", candidate.BreakerID).
				Msg("failed to auto-reset breaker")
			continue
		}
		if !transitioned {
			// A manual reset or delete won the race. Nothing to do.
			continue
		}

		resetCount++
		metrics.BreakerResets.WithLabelValues("auto").Inc()
		logger.Info().
			Str("breaker_id", b.BreakerID).
			Str("tenant_id", b.TenantID).
			Int("cooldown_minutes", b.CooldownMinutes).
			Msg("circuit breaker auto-reset after cooldown")
		s.publish(events.Event{
			Type:       events.TypeBreakerAutoReset,
			BreakerID:  b.BreakerID,
			TenantID:   b.TenantID,
			Scope:      string(b.Scope),
			Mode:       "auto",
			OccurredAt: *b.LastResetAt,
		})
	}

	return resetCount, nil
}

func cooldownElapsed(b *CircuitBreaker, now time.Time) bool {
	if b.TrippedAt == nil {
		return false
	}
	due := b.TrippedAt.Add(time.Duration(b.CooldownMinutes) * time.Minute)
	return !now.Before(due)
}

// autoReset re-checks eligibility under the breaker lock before closing, so
// a concurrent manual reset or trip cannot be lost.
func (s *Service) autoReset(tenantID, breakerID string, now time.Time) (*CircuitBreaker, bool, error) {
	unlock := s.locks.lock(breakerID)
	defer unlock()

	b, err := s.db.GetBreaker(tenantID, breakerID)
	if err != nil {
		return nil, false, err
	}
	if b == nil {
		return nil, false, nil
	}
	if b.State != StateOpen || !b.AutoResetEnabled || !cooldownElapsed(b, now) {
		return b, false, nil
	}

	resetAt := now
	b.State = StateClosed
	b.TrippedAt = nil
	b.TripReason = ""
	b.LastResetAt = &resetAt

	if err := s.db.UpdateBreaker(b); err != nil {
		return nil, false, err
	}
	return b, true, nil
}
