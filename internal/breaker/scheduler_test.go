package breaker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ksred/tradeguard-api/internal/events"
)

func autoResetDef(cooldownMinutes int) BreakerDefinition {
	count := 3
	return BreakerDefinition{
		Name:  "portfolio failure halt",
		Scope: ScopePortfolio,
		Condition: ConditionInput{
			Type:  ConditionConsecutiveFailures,
			Count: &count,
		},
		CooldownMinutes:  cooldownMinutes,
		AutoResetEnabled: true,
	}
}

func TestAutoResetAfterCooldown(t *testing.T) {
	svc, pub := newTestService(t)

	created, err := svc.CreateBreaker(testTenant, autoResetDef(30))
	require.NoError(t, err)
	tripped, err := svc.TripBreaker(testTenant, created.BreakerID, "failure run")
	require.NoError(t, err)
	trippedAt := *tripped.TrippedAt

	count, err := svc.AutoResetDueBreakers(trippedAt.Add(29 * time.Minute))
	require.NoError(t, err)
	assert.Zero(t, count, "a breaker inside its cooldown must stay open")

	b, err := svc.GetBreaker(testTenant, created.BreakerID)
	require.NoError(t, err)
	assert.Equal(t, StateOpen, b.State)

	count, err = svc.AutoResetDueBreakers(trippedAt.Add(30 * time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	b, err = svc.GetBreaker(testTenant, created.BreakerID)
	require.NoError(t, err)
	assert.Equal(t, StateClosed, b.State)
	assert.Nil(t, b.TrippedAt)
	assert.Empty(t, b.TripReason)
	require.NotNil(t, b.LastResetAt)

	autoResets := pub.byType(events.TypeBreakerAutoReset)
	require.Len(t, autoResets, 1)
	assert.Equal(t, "auto", autoResets[0].Mode)
	assert.Equal(t, created.BreakerID, autoResets[0].BreakerID)
}

func TestAutoResetDisabledNeverFires(t *testing.T) {
	svc, pub := newTestService(t)

	count := 3
	created, err := svc.CreateBreaker(testTenant, BreakerDefinition{
		Name:  "portfolio failure halt",
		Scope: ScopePortfolio,
		Condition: ConditionInput{
			Type:  ConditionConsecutiveFailures,
			Count: &count,
		},
		CooldownMinutes:  1,
		AutoResetEnabled: false,
	})
	require.NoError(t, err)
	tripped, err := svc.TripBreaker(testTenant, created.BreakerID, "failure run")
	require.NoError(t, err)

	reset, err := svc.AutoResetDueBreakers(tripped.TrippedAt.Add(24 * time.Hour))
	require.NoError(t, err)
	assert.Zero(t, reset)

	b, err := svc.GetBreaker(testTenant, created.BreakerID)
	require.NoError(t, err)
	assert.Equal(t, StateOpen, b.State, "only a manual reset may close this breaker")
	assert.Empty(t, pub.byType(events.TypeBreakerAutoReset))
}

func TestAutoResetZeroCooldownDueImmediately(t *testing.T) {
	svc, _ := newTestService(t)

	created, err := svc.CreateBreaker(testTenant, autoResetDef(0))
	require.NoError(t, err)
	tripped, err := svc.TripBreaker(testTenant, created.BreakerID, "failure run")
	require.NoError(t, err)

	count, err := svc.AutoResetDueBreakers(*tripped.TrippedAt)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestAutoResetIgnoresClosedBreakers(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.CreateBreaker(testTenant, autoResetDef(0))
	require.NoError(t, err)

	count, err := svc.AutoResetDueBreakers(time.Now().UTC().Add(time.Hour))
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestAutoResetSpansTenants(t *testing.T) {
	svc, _ := newTestService(t)

	breakerA, err := svc.CreateBreaker("tenant-a", autoResetDef(5))
	require.NoError(t, err)
	breakerB, err := svc.CreateBreaker("tenant-b", autoResetDef(5))
	require.NoError(t, err)

	_, err = svc.TripBreaker("tenant-a", breakerA.BreakerID, "failure run")
	require.NoError(t, err)
	_, err = svc.TripBreaker("tenant-b", breakerB.BreakerID, "failure run")
	require.NoError(t, err)

	count, err := svc.AutoResetDueBreakers(time.Now().UTC().Add(6 * time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 2, count, "the scheduler sweeps every tenant's breakers")
}

func TestCooldownElapsed(t *testing.T) {
	trippedAt := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	b := &CircuitBreaker{CooldownMinutes: 30, TrippedAt: &trippedAt}

	assert.False(t, cooldownElapsed(b, trippedAt.Add(29*time.Minute+59*time.Second)))
	assert.True(t, cooldownElapsed(b, trippedAt.Add(30*time.Minute)))
	assert.True(t, cooldownElapsed(b, trippedAt.Add(time.Hour)))

	assert.False(t, cooldownElapsed(&CircuitBreaker{CooldownMinutes: 30}, trippedAt),
		"a breaker that never tripped has no cooldown to elapse")
}
