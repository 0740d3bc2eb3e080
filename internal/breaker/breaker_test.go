package breaker

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/ksred/tradeguard-api/internal/events"
	"github.com/ksred/tradeguard-api/pkg/validation"
)

const testTenant = "tenant-test"

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "breakers.db") + "?_busy_timeout=5000"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&CircuitBreaker{}))
	return db
}

// capturePublisher records published events so tests can assert on
// exactly-once delivery.
type capturePublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *capturePublisher) Publish(ctx context.Context, event events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *capturePublisher) Close() error { return nil }

func (p *capturePublisher) byType(eventType string) []events.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var matched []events.Event
	for _, e := range p.events {
		if e.Type == eventType {
			matched = append(matched, e)
		}
	}
	return matched
}

type stubVerifier struct {
	err error
}

func (v stubVerifier) VerifyResetToken(token string) error { return v.err }

func newTestService(t *testing.T) (*Service, *capturePublisher) {
	t.Helper()
	pub := &capturePublisher{}
	return NewService(newTestDB(t), pub, stubVerifier{}), pub
}

func dec(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

func intp(i int) *int { return &i }

func failuresDef(name string, scope Scope, scopeID string, count int) BreakerDefinition {
	return BreakerDefinition{
		Name:    name,
		Scope:   scope,
		ScopeID: scopeID,
		Condition: ConditionInput{
			Type:  ConditionConsecutiveFailures,
			Count: &count,
		},
	}
}

func TestCreateBreakerStartsClosed(t *testing.T) {
	svc, _ := newTestService(t)

	b, err := svc.CreateBreaker(testTenant, failuresDef("portfolio halt", ScopePortfolio, "", 3))
	require.NoError(t, err)
	require.NotEmpty(t, b.BreakerID)
	assert.Equal(t, StateClosed, b.State)
	assert.Nil(t, b.TrippedAt)
	assert.Empty(t, b.TripReason)

	got, err := svc.GetBreaker(testTenant, b.BreakerID)
	require.NoError(t, err)
	assert.Equal(t, b.BreakerID, got.BreakerID)
	assert.Equal(t, ConditionConsecutiveFailures, got.Condition.Type)
	assert.Equal(t, 3, got.Condition.Count)
}

func TestCreateBreakerReportsEveryViolatedField(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.CreateBreaker(testTenant, BreakerDefinition{
		Scope:           "REGION",
		CooldownMinutes: -1,
		Condition:       ConditionInput{Type: ConditionLossRate},
	})
	require.Error(t, err)

	var verrs validation.ValidationErrors
	require.ErrorAs(t, err, &verrs)

	fields := make(map[string]bool)
	for _, v := range verrs {
		fields[v.Field] = true
	}
	assert.True(t, fields["name"], "missing name should be reported")
	assert.True(t, fields["scope"], "invalid scope should be reported")
	assert.True(t, fields["cooldown_minutes"], "negative cooldown should be reported")
	assert.True(t, fields["condition.loss_percent"], "missing loss percent should be reported")
	assert.True(t, fields["condition.time_window_minutes"], "missing window should be reported")
}

func TestGetBreakerNotFound(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.GetBreaker(testTenant, "no-such-breaker")
	assert.ErrorIs(t, err, ErrBreakerNotFound)
}

func TestTripBreakerOpensAndRecordsWhy(t *testing.T) {
	svc, pub := newTestService(t)

	created, err := svc.CreateBreaker(testTenant, failuresDef("portfolio halt", ScopePortfolio, "", 3))
	require.NoError(t, err)

	b, err := svc.TripBreaker(testTenant, created.BreakerID, "3 consecutive failures")
	require.NoError(t, err)
	assert.Equal(t, StateOpen, b.State)
	require.NotNil(t, b.TrippedAt)
	assert.Equal(t, "3 consecutive failures", b.TripReason)

	tripped := pub.byType(events.TypeBreakerTripped)
	require.Len(t, tripped, 1)
	assert.Equal(t, created.BreakerID, tripped[0].BreakerID)
	assert.Equal(t, "3 consecutive failures", tripped[0].Reason)
}

func TestTripBreakerIdempotent(t *testing.T) {
	svc, pub := newTestService(t)

	created, err := svc.CreateBreaker(testTenant, failuresDef("portfolio halt", ScopePortfolio, "", 3))
	require.NoError(t, err)

	first, err := svc.TripBreaker(testTenant, created.BreakerID, "first trip")
	require.NoError(t, err)
	firstTrippedAt := *first.TrippedAt

	second, err := svc.TripBreaker(testTenant, created.BreakerID, "second trip")
	require.NoError(t, err)
	assert.Equal(t, StateOpen, second.State)
	require.NotNil(t, second.TrippedAt)
	assert.True(t, firstTrippedAt.Equal(*second.TrippedAt), "tripped timestamp must not move on re-trip")
	assert.Equal(t, "first trip", second.TripReason)

	assert.Len(t, pub.byType(events.TypeBreakerTripped), 1, "re-trip must not publish a second event")
}

func TestTripBreakerNotFound(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.TripBreaker(testTenant, "no-such-breaker", "reason")
	assert.ErrorIs(t, err, ErrBreakerNotFound)
}

func TestConcurrentTripsPublishExactlyOnce(t *testing.T) {
	svc, pub := newTestService(t)

	created, err := svc.CreateBreaker(testTenant, failuresDef("portfolio halt", ScopePortfolio, "", 3))
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.TripBreaker(testTenant, created.BreakerID, "concurrent trip")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	b, err := svc.GetBreaker(testTenant, created.BreakerID)
	require.NoError(t, err)
	assert.Equal(t, StateOpen, b.State)
	assert.Len(t, pub.byType(events.TypeBreakerTripped), 1)
}

func TestResetRequiresAuthToken(t *testing.T) {
	svc, _ := newTestService(t)

	created, err := svc.CreateBreaker(testTenant, failuresDef("portfolio halt", ScopePortfolio, "", 3))
	require.NoError(t, err)
	_, err = svc.TripBreaker(testTenant, created.BreakerID, "failure run")
	require.NoError(t, err)

	_, err = svc.ResetBreaker(testTenant, created.BreakerID, "")
	assert.ErrorIs(t, err, ErrAuthenticationRequired)

	b, err := svc.GetBreaker(testTenant, created.BreakerID)
	require.NoError(t, err)
	assert.Equal(t, StateOpen, b.State, "rejected reset must leave state untouched")
}

func TestResetRejectsUnverifiableToken(t *testing.T) {
	pub := &capturePublisher{}
	svc := NewService(newTestDB(t), pub, stubVerifier{err: errors.New("bad token")})

	created, err := svc.CreateBreaker(testTenant, failuresDef("portfolio halt", ScopePortfolio, "", 3))
	require.NoError(t, err)
	_, err = svc.TripBreaker(testTenant, created.BreakerID, "failure run")
	require.NoError(t, err)

	_, err = svc.ResetBreaker(testTenant, created.BreakerID, "forged-token")
	assert.ErrorIs(t, err, ErrAuthenticationRequired)

	b, err := svc.GetBreaker(testTenant, created.BreakerID)
	require.NoError(t, err)
	assert.Equal(t, StateOpen, b.State)
	assert.Empty(t, pub.byType(events.TypeBreakerReset))
}

func TestResetAuthCheckedBeforeLookup(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.ResetBreaker(testTenant, "no-such-breaker", "")
	assert.ErrorIs(t, err, ErrAuthenticationRequired,
		"a reset without a token fails on authentication even when the breaker does not exist")
}

func TestResetClosesBreakerAndClearsTripState(t *testing.T) {
	svc, pub := newTestService(t)

	created, err := svc.CreateBreaker(testTenant, failuresDef("portfolio halt", ScopePortfolio, "", 3))
	require.NoError(t, err)
	_, err = svc.TripBreaker(testTenant, created.BreakerID, "failure run")
	require.NoError(t, err)

	b, err := svc.ResetBreaker(testTenant, created.BreakerID, "valid-token")
	require.NoError(t, err)
	assert.Equal(t, StateClosed, b.State)
	assert.Nil(t, b.TrippedAt)
	assert.Empty(t, b.TripReason)
	require.NotNil(t, b.LastResetAt)

	resets := pub.byType(events.TypeBreakerReset)
	require.Len(t, resets, 1)
	assert.Equal(t, "manual", resets[0].Mode)
}

func TestResetClosedBreakerIsNoOp(t *testing.T) {
	svc, pub := newTestService(t)

	created, err := svc.CreateBreaker(testTenant, failuresDef("portfolio halt", ScopePortfolio, "", 3))
	require.NoError(t, err)

	b, err := svc.ResetBreaker(testTenant, created.BreakerID, "valid-token")
	require.NoError(t, err)
	assert.Equal(t, StateClosed, b.State)
	assert.Nil(t, b.LastResetAt)
	assert.Empty(t, pub.byType(events.TypeBreakerReset))
}

func TestUpdateBreakerPreservesState(t *testing.T) {
	svc, _ := newTestService(t)

	created, err := svc.CreateBreaker(testTenant, failuresDef("portfolio halt", ScopePortfolio, "", 3))
	require.NoError(t, err)
	tripped, err := svc.TripBreaker(testTenant, created.BreakerID, "failure run")
	require.NoError(t, err)

	updated, err := svc.UpdateBreaker(testTenant, created.BreakerID,
		failuresDef("portfolio halt v2", ScopePortfolio, "", 5))
	require.NoError(t, err)
	assert.Equal(t, "portfolio halt v2", updated.Name)
	assert.Equal(t, 5, updated.Condition.Count)
	assert.Equal(t, StateOpen, updated.State, "updating a definition must not close the breaker")
	require.NotNil(t, updated.TrippedAt)
	assert.True(t, tripped.TrippedAt.Equal(*updated.TrippedAt))
}

func TestUpdateBreakerValidates(t *testing.T) {
	svc, _ := newTestService(t)

	created, err := svc.CreateBreaker(testTenant, failuresDef("portfolio halt", ScopePortfolio, "", 3))
	require.NoError(t, err)

	_, err = svc.UpdateBreaker(testTenant, created.BreakerID, failuresDef("", ScopePortfolio, "", 0))
	var verrs validation.ValidationErrors
	assert.ErrorAs(t, err, &verrs)
}

func TestDeleteBreaker(t *testing.T) {
	svc, _ := newTestService(t)

	created, err := svc.CreateBreaker(testTenant, failuresDef("portfolio halt", ScopePortfolio, "", 3))
	require.NoError(t, err)

	require.NoError(t, svc.DeleteBreaker(testTenant, created.BreakerID))

	_, err = svc.GetBreaker(testTenant, created.BreakerID)
	assert.ErrorIs(t, err, ErrBreakerNotFound)

	err = svc.DeleteBreaker(testTenant, created.BreakerID)
	assert.ErrorIs(t, err, ErrBreakerNotFound)
}

func TestBreakersAreTenantScoped(t *testing.T) {
	svc, _ := newTestService(t)

	created, err := svc.CreateBreaker("tenant-a", failuresDef("portfolio halt", ScopePortfolio, "", 3))
	require.NoError(t, err)
	_, err = svc.TripBreaker("tenant-a", created.BreakerID, "failure run")
	require.NoError(t, err)

	_, err = svc.GetBreaker("tenant-b", created.BreakerID)
	assert.ErrorIs(t, err, ErrBreakerNotFound)

	status, err := svc.TradingAllowed("tenant-b", "momentum", "BTC-USD")
	require.NoError(t, err)
	assert.True(t, status.Allowed, "another tenant's open breaker must not block trading")
}

func TestEvaluateSignalTripsMatchingBreakers(t *testing.T) {
	svc, pub := newTestService(t)

	portfolio, err := svc.CreateBreaker(testTenant, failuresDef("portfolio halt", ScopePortfolio, "", 3))
	require.NoError(t, err)

	window := 15
	strategy, err := svc.CreateBreaker(testTenant, BreakerDefinition{
		Name:    "momentum loss halt",
		Scope:   ScopeStrategy,
		ScopeID: "momentum",
		Condition: ConditionInput{
			Type:              ConditionLossRate,
			LossPercent:       dec("5"),
			TimeWindowMinutes: &window,
		},
	})
	require.NoError(t, err)

	tripped, err := svc.EvaluateSignal(RiskSignal{
		TenantID:            testTenant,
		Scope:               ScopePortfolio,
		ConsecutiveFailures: intp(3),
		ObservedAt:          time.Now().UTC(),
	})
	require.NoError(t, err)
	require.Len(t, tripped, 1)
	assert.Equal(t, portfolio.BreakerID, tripped[0].BreakerID)

	untouched, err := svc.GetBreaker(testTenant, strategy.BreakerID)
	require.NoError(t, err)
	assert.Equal(t, StateClosed, untouched.State, "a portfolio signal must not trip strategy breakers")

	tripped, err = svc.EvaluateSignal(RiskSignal{
		TenantID:          testTenant,
		Scope:             ScopeStrategy,
		ScopeID:           "momentum",
		WindowLossPercent: dec("6.5"),
		ObservedAt:        time.Now().UTC(),
	})
	require.NoError(t, err)
	require.Len(t, tripped, 1)
	assert.Equal(t, strategy.BreakerID, tripped[0].BreakerID)

	assert.Len(t, pub.byType(events.TypeBreakerTripped), 2)
}

func TestEvaluateSignalBelowThreshold(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.CreateBreaker(testTenant, failuresDef("portfolio halt", ScopePortfolio, "", 3))
	require.NoError(t, err)

	tripped, err := svc.EvaluateSignal(RiskSignal{
		TenantID:            testTenant,
		Scope:               ScopePortfolio,
		ConsecutiveFailures: intp(2),
		ObservedAt:          time.Now().UTC(),
	})
	require.NoError(t, err)
	assert.Empty(t, tripped)
}

func TestEvaluateSignalScopeIDMismatch(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.CreateBreaker(testTenant, failuresDef("momentum halt", ScopeStrategy, "momentum", 3))
	require.NoError(t, err)

	tripped, err := svc.EvaluateSignal(RiskSignal{
		TenantID:            testTenant,
		Scope:               ScopeStrategy,
		ScopeID:             "scalping",
		ConsecutiveFailures: intp(10),
		ObservedAt:          time.Now().UTC(),
	})
	require.NoError(t, err)
	assert.Empty(t, tripped, "a signal for another strategy must not trip this breaker")
}

func TestEvaluateSignalAbsentMeasurementNeverTrips(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.CreateBreaker(testTenant, BreakerDefinition{
		Name:  "zero threshold loss halt",
		Scope: ScopePortfolio,
		Condition: ConditionInput{
			Type:              ConditionLossRate,
			LossPercent:       dec("0"),
			TimeWindowMinutes: intp(15),
		},
	})
	require.NoError(t, err)

	tripped, err := svc.EvaluateSignal(RiskSignal{
		TenantID:            testTenant,
		Scope:               ScopePortfolio,
		ConsecutiveFailures: intp(1),
		ObservedAt:          time.Now().UTC(),
	})
	require.NoError(t, err)
	assert.Empty(t, tripped, "a signal without a loss measurement must not satisfy a zero loss threshold")
}

func TestEvaluateSignalAlreadyOpenNoSecondEvent(t *testing.T) {
	svc, pub := newTestService(t)

	created, err := svc.CreateBreaker(testTenant, failuresDef("portfolio halt", ScopePortfolio, "", 3))
	require.NoError(t, err)

	signal := RiskSignal{
		TenantID:            testTenant,
		Scope:               ScopePortfolio,
		ConsecutiveFailures: intp(5),
		ObservedAt:          time.Now().UTC(),
	}

	tripped, err := svc.EvaluateSignal(signal)
	require.NoError(t, err)
	require.Len(t, tripped, 1)
	firstTrippedAt := *tripped[0].TrippedAt

	tripped, err = svc.EvaluateSignal(signal)
	require.NoError(t, err)
	assert.Empty(t, tripped, "an OPEN breaker is not a candidate for further signals")

	b, err := svc.GetBreaker(testTenant, created.BreakerID)
	require.NoError(t, err)
	assert.True(t, firstTrippedAt.Equal(*b.TrippedAt))
	assert.Len(t, pub.byType(events.TypeBreakerTripped), 1)
}

func TestEvaluateSignalRejectsInvalidSignal(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.EvaluateSignal(RiskSignal{Scope: ScopePortfolio})
	var verrs validation.ValidationErrors
	require.ErrorAs(t, err, &verrs)
}

func TestTradingAllowed(t *testing.T) {
	svc, _ := newTestService(t)

	status, err := svc.TradingAllowed(testTenant, "momentum", "BTC-USD")
	require.NoError(t, err)
	assert.True(t, status.Allowed)
	assert.Empty(t, status.BlockedBy)

	strategyBreaker, err := svc.CreateBreaker(testTenant, failuresDef("momentum halt", ScopeStrategy, "momentum", 3))
	require.NoError(t, err)
	_, err = svc.TripBreaker(testTenant, strategyBreaker.BreakerID, "failure run")
	require.NoError(t, err)

	status, err = svc.TradingAllowed(testTenant, "momentum", "BTC-USD")
	require.NoError(t, err)
	assert.False(t, status.Allowed)
	require.Len(t, status.BlockedBy, 1)
	assert.Equal(t, strategyBreaker.BreakerID, status.BlockedBy[0].BreakerID)

	status, err = svc.TradingAllowed(testTenant, "scalping", "BTC-USD")
	require.NoError(t, err)
	assert.True(t, status.Allowed, "an open strategy breaker must not block other strategies")

	portfolio, err := svc.CreateBreaker(testTenant, failuresDef("portfolio halt", ScopePortfolio, "", 3))
	require.NoError(t, err)
	_, err = svc.TripBreaker(testTenant, portfolio.BreakerID, "failure run")
	require.NoError(t, err)

	status, err = svc.TradingAllowed(testTenant, "scalping", "ETH-USD")
	require.NoError(t, err)
	assert.False(t, status.Allowed, "an open portfolio breaker blocks every context")

	_, err = svc.ResetBreaker(testTenant, portfolio.BreakerID, "valid-token")
	require.NoError(t, err)
	_, err = svc.ResetBreaker(testTenant, strategyBreaker.BreakerID, "valid-token")
	require.NoError(t, err)

	status, err = svc.TradingAllowed(testTenant, "momentum", "BTC-USD")
	require.NoError(t, err)
	assert.True(t, status.Allowed, "reset restores trading")
}
