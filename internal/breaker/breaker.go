package breaker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/ksred/tradeguard-api/internal/events"
	"github.com/ksred/tradeguard-api/pkg/metrics"
	"github.com/ksred/tradeguard-api/pkg/response"
	"github.com/ksred/tradeguard-api/pkg/validation"
)

var (
	ErrBreakerNotFound        = errors.New("breaker not found")
	ErrAuthenticationRequired = errors.New("authentication required for breaker reset")
)

// TokenVerifier checks the opaque token presented with a manual reset.
// Verification failures are reported to callers as authentication errors.
type TokenVerifier interface {
	VerifyResetToken(token string) error
}

// keyedMutex serialises trip and reset transitions per breaker ID. There is
// no global lock; contention is scoped to the breaker being transitioned.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*sync.Mutex)}
}

// lock acquires the mutex for the key and returns its unlock function.
func (k *keyedMutex) lock(key string) func() {
	k.mu.Lock()
	m, ok := k.locks[key]
	if !ok {
		m = &sync.Mutex{}
		k.locks[key] = m
	}
	k.mu.Unlock()

	m.Lock()
	return m.Unlock
}

// Service owns breaker definitions and applies the only two state
// transitions, trip and reset. Transitions on the same breaker are
// linearizable; events are published after the lock is released, exactly
// once per transition.
type Service struct {
	db        *Database
	publisher events.Publisher
	verifier  TokenVerifier
	locks     *keyedMutex
}

// NewService creates a new breaker service with the given database
// connection, event publisher, and reset token verifier.
func NewService(gormDB *gorm.DB, publisher events.Publisher, verifier TokenVerifier) *Service {
	return &Service{
		db:        NewDatabase(gormDB),
		publisher: publisher,
		verifier:  verifier,
		locks:     newKeyedMutex(),
	}
}

// CreateBreaker validates the definition and stores a new breaker in the
// CLOSED state. Every violated field is reported, not just the first.
func (s *Service) CreateBreaker(tenantID string, def BreakerDefinition) (*CircuitBreaker, error) {
	if errs := ValidateDefinition(def); errs != nil {
		return nil, errs
	}

	b := &CircuitBreaker{
		BreakerID:        uuid.New().String(),
		TenantID:         tenantID,
		Name:             def.Name,
		Scope:            def.Scope,
		ScopeID:          def.ScopeID,
		Condition:        toCondition(def.Condition),
		CooldownMinutes:  def.CooldownMinutes,
		AutoResetEnabled: def.AutoResetEnabled,
		State:            StateClosed,
	}

	if err := s.db.CreateBreaker(b); err != nil {
		return nil, err
	}

	log.Info().
		Str("breaker_id", b.BreakerID).
		Str("tenant_id", tenantID).
		Str("scope", string(b.Scope)).
		Str("condition_type", string(b.Condition.Type)).
		Msg("circuit breaker created")

	return b, nil
}

// GetBreaker retrieves a breaker owned by the tenant.
func (s *Service) GetBreaker(tenantID, breakerID string) (*CircuitBreaker, error) {
	b, err := s.db.GetBreaker(tenantID, breakerID)
	if err != nil {
		return nil, err
	}
	if b == nil {
		return nil, ErrBreakerNotFound
	}
	return b, nil
}

// ListBreakers returns all of the tenant's breakers.
func (s *Service) ListBreakers(tenantID string) ([]CircuitBreaker, error) {
	return s.db.ListBreakers(tenantID)
}

// UpdateBreaker replaces a breaker's definition. The current state is
// preserved: updating the condition of an OPEN breaker does not close it.
func (s *Service) UpdateBreaker(tenantID, breakerID string, def BreakerDefinition) (*CircuitBreaker, error) {
	if errs := ValidateDefinition(def); errs != nil {
		return nil, errs
	}

	unlock := s.locks.lock(breakerID)
	defer unlock()

	b, err := s.db.GetBreaker(tenantID, breakerID)
	if err != nil {
		return nil, err
	}
	if b == nil {
		return nil, ErrBreakerNotFound
	}

	b.Name = def.Name
	b.Scope = def.Scope
	b.ScopeID = def.ScopeID
	b.Condition = toCondition(def.Condition)
	b.CooldownMinutes = def.CooldownMinutes
	b.AutoResetEnabled = def.AutoResetEnabled

	if err := s.db.UpdateBreaker(b); err != nil {
		return nil, err
	}
	return b, nil
}

// DeleteBreaker removes a breaker owned by the tenant.
func (s *Service) DeleteBreaker(tenantID, breakerID string) error {
	unlock := s.locks.lock(breakerID)
	defer unlock()

	deleted, err := s.db.DeleteBreaker(tenantID, breakerID)
	if err != nil {
		return err
	}
	if !deleted {
		return ErrBreakerNotFound
	}

	log.Info().
		Str("breaker_id", breakerID).
		Str("tenant_id", tenantID).
		Msg("circuit breaker deleted")

	return nil
}

// TripBreaker transitions a breaker to OPEN and records when and why.
// Tripping an already OPEN breaker is a no-op that keeps the original
// tripped timestamp; the tripped event fires once per transition.
func (s *Service) TripBreaker(tenantID, breakerID, reason string) (*CircuitBreaker, error) {
	b, transitioned, err := s.trip(tenantID, breakerID, reason)
	if err != nil {
		return nil, err
	}

	if transitioned {
		metrics.BreakerTrips.WithLabelValues(string(b.Scope)).Inc()
		log.Warn().
			Str("breaker_id", b.BreakerID).
			Str("tenant_id", b.TenantID).
			Str("scope", string(b.Scope)).
			Str("reason", reason).
			Msg("circuit breaker tripped")
		s.publish(events.Event{
			Type:       events.TypeBreakerTripped,
			BreakerID:  b.BreakerID,
			TenantID:   b.TenantID,
			Scope:      string(b.Scope),
			Reason:     reason,
			OccurredAt: *b.TrippedAt,
		})
	}

	return b, nil
}

func (s *Service) trip(tenantID, breakerID, reason string) (*CircuitBreaker, bool, error) {
	unlock := s.locks.lock(breakerID)
	defer unlock()

	b, err := s.db.GetBreaker(tenantID, breakerID)
	if err != nil {
		return nil, false, err
	}
	if b == nil {
		return nil, false, ErrBreakerNotFound
	}
	if b.State == StateOpen {
		return b, false, nil
	}

	now := time.Now().UTC()
	b.State = StateOpen
	b.TrippedAt = &now
	b.TripReason = reason

	if err := s.db.UpdateBreaker(b); err != nil {
		return nil, false, err
	}
	return b, true, nil
}

// ResetBreaker transitions a breaker back to CLOSED. The auth token must be
// present and verifiable; a rejected reset leaves state untouched. Resetting
// a CLOSED breaker succeeds without doing anything.
func (s *Service) ResetBreaker(tenantID, breakerID, authToken string) (*CircuitBreaker, error) {
	if authToken == "" {
		return nil, ErrAuthenticationRequired
	}
	if s.verifier != nil {
		if err := s.verifier.VerifyResetToken(authToken); err != nil {
			return nil, ErrAuthenticationRequired
		}
	}

	b, transitioned, err := s.reset(tenantID, breakerID)
	if err != nil {
		return nil, err
	}

	if transitioned {
		metrics.BreakerResets.WithLabelValues("manual").Inc()
		log.Info().
			Str("breaker_id", b.BreakerID).
			Str("tenant_id", b.TenantID).
			Msg("circuit breaker reset")
		s.publish(events.Event{
			Type:       events.TypeBreakerReset,
			BreakerID:  b.BreakerID,
			TenantID:   b.TenantID,
			Scope:      string(b.Scope),
			Mode:       "manual",
			OccurredAt: *b.LastResetAt,
		})
	}

	return b, nil
}

func (s *Service) reset(tenantID, breakerID string) (*CircuitBreaker, bool, error) {
	unlock := s.locks.lock(breakerID)
	defer unlock()

	b, err := s.db.GetBreaker(tenantID, breakerID)
	if err != nil {
		return nil, false, err
	}
	if b == nil {
		return nil, false, ErrBreakerNotFound
	}
	if b.State == StateClosed {
		return b, false, nil
	}

	now := time.Now().UTC()
	b.State = StateClosed
	b.TrippedAt = nil
	b.TripReason = ""
	b.LastResetAt = &now

	if err := s.db.UpdateBreaker(b); err != nil {
		return nil, false, err
	}
	return b, true, nil
}

// EvaluateSignal checks a risk signal against every CLOSED breaker it
// targets and trips those whose condition it satisfies. Returns the
// breakers tripped by this signal.
func (s *Service) EvaluateSignal(signal RiskSignal) ([]CircuitBreaker, error) {
	if errs := validation.Struct(signal); errs != nil {
		return nil, errs
	}

	candidates, err := s.db.ListClosedMatching(signal.TenantID, signal.Scope, signal.ScopeID)
	if err != nil {
		return nil, err
	}

	metrics.SignalsEvaluated.WithLabelValues(string(signal.Scope)).Inc()

	var tripped []CircuitBreaker
	for i := range candidates {
		candidate := &candidates[i]
		if !Evaluate(candidate.Condition, signal) {
			continue
		}

		b, err := s.TripBreaker(signal.TenantID, candidate.BreakerID, TripReason(candidate.Condition, signal))
		if err != nil {
			// The breaker may have been deleted since the listing; skip it
			// rather than abandoning the rest of the candidates.
			if !errors.Is(err, ErrBreakerNotFound) {
				log.Error().Err(err).
					Str("breaker_id", candidate.BreakerID).
					Msg("failed to trip breaker from signal")
			}
			continue
		}
		tripped = append(tripped, *b)
	}

	return tripped, nil
}

// TradingAllowed reports whether order flow may proceed for the given
// strategy and asset. Any OPEN breaker covering the context blocks it.
func (s *Service) TradingAllowed(tenantID, strategyID, assetID string) (*TradingStatus, error) {
	blocking, err := s.db.ListOpenBlocking(tenantID, strategyID, assetID)
	if err != nil {
		return nil, err
	}
	return &TradingStatus{
		Allowed:   len(blocking) == 0,
		BlockedBy: blocking,
	}, nil
}

// publish delivers a breaker event. Publish failures are logged and never
// fail the state transition that produced the event.
func (s *Service) publish(event events.Event) {
	if s.publisher == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.publisher.Publish(ctx, event); err != nil {
		log.Warn().Err(err).
			Str("event_type", event.Type).
			Str("breaker_id", event.BreakerID).
			Msg("failed to publish breaker event")
	}
}

// GinHandlers contains HTTP handlers for breaker endpoints
type GinHandlers struct {
	service *Service
}

// NewGinHandlers creates a new set of HTTP handlers for breaker endpoints
func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{
		service: service,
	}
}

func respondServiceError(c *gin.Context, err error) {
	var verrs validation.ValidationErrors
	switch {
	case errors.As(err, &verrs):
		response.ValidationFailed(c, "invalid breaker definition", verrs)
	case errors.Is(err, ErrBreakerNotFound):
		response.NotFound(c, "Breaker not found")
	case errors.Is(err, ErrAuthenticationRequired):
		response.AuthenticationRequired(c, "Breaker reset requires a valid auth token")
	default:
		response.InternalError(c, err.Error())
	}
}

// CreateBreakerHandler handles POST requests to create circuit breakers
// Requires a valid JWT token; the breaker is owned by the token's tenant
func (h *GinHandlers) CreateBreakerHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		tenantID := c.GetString("tenantID")

		var def BreakerDefinition
		if err := c.ShouldBindJSON(&def); err != nil {
			response.BadRequest(c, "Invalid request body")
			return
		}

		b, err := h.service.CreateBreaker(tenantID, def)
		if err != nil {
			respondServiceError(c, err)
			return
		}
		response.Success(c, b)
	}
}

// ListBreakersHandler handles GET requests to list the tenant's breakers
func (h *GinHandlers) ListBreakersHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		breakers, err := h.service.ListBreakers(c.GetString("tenantID"))
		if err != nil {
			response.InternalError(c, err.Error())
			return
		}
		response.Success(c, breakers)
	}
}

// GetBreakerHandler handles GET requests for a single breaker
// URL parameter: breaker_id
func (h *GinHandlers) GetBreakerHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		b, err := h.service.GetBreaker(c.GetString("tenantID"), c.Param("breaker_id"))
		if err != nil {
			respondServiceError(c, err)
			return
		}
		response.Success(c, b)
	}
}

// UpdateBreakerHandler handles PUT requests to replace a breaker definition
// URL parameter: breaker_id
func (h *GinHandlers) UpdateBreakerHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var def BreakerDefinition
		if err := c.ShouldBindJSON(&def); err != nil {
			response.BadRequest(c, "Invalid request body")
			return
		}

		b, err := h.service.UpdateBreaker(c.GetString("tenantID"), c.Param("breaker_id"), def)
		if err != nil {
			respondServiceError(c, err)
			return
		}
		response.Success(c, b)
	}
}

// DeleteBreakerHandler handles DELETE requests for a breaker
// URL parameter: breaker_id
func (h *GinHandlers) DeleteBreakerHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		breakerID := c.Param("breaker_id")
		if err := h.service.DeleteBreaker(c.GetString("tenantID"), breakerID); err != nil {
			respondServiceError(c, err)
			return
		}
		response.Success(c, gin.H{"breaker_id": breakerID, "deleted": true})
	}
}

// TripBreakerHandler handles POST requests to manually trip a breaker
// URL parameter: breaker_id; request body may carry a reason
func (h *GinHandlers) TripBreakerHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var body struct {
			Reason string `json:"reason"`
		}
		// An empty body is fine; the reason defaults below.
		_ = c.ShouldBindJSON(&body)
		if body.Reason == "" {
			body.Reason = "manually tripped"
		}

		b, err := h.service.TripBreaker(c.GetString("tenantID"), c.Param("breaker_id"), body.Reason)
		if err != nil {
			respondServiceError(c, err)
			return
		}
		response.Success(c, b)
	}
}

// ResetBreakerHandler handles POST requests to manually reset a breaker
// URL parameter: breaker_id; request body must carry the auth token
func (h *GinHandlers) ResetBreakerHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var body struct {
			AuthToken string `json:"auth_token"`
		}
		_ = c.ShouldBindJSON(&body)

		b, err := h.service.ResetBreaker(c.GetString("tenantID"), c.Param("breaker_id"), body.AuthToken)
		if err != nil {
			respondServiceError(c, err)
			return
		}
		response.Success(c, b)
	}
}

// EvaluateSignalHandler handles POST requests from the risk signal producer
// Requires internal authentication; the tenant comes from the signal itself
func (h *GinHandlers) EvaluateSignalHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var signal RiskSignal
		if err := c.ShouldBindJSON(&signal); err != nil {
			response.BadRequest(c, "Invalid request body")
			return
		}

		tripped, err := h.service.EvaluateSignal(signal)
		if err != nil {
			var verrs validation.ValidationErrors
			if errors.As(err, &verrs) {
				response.ValidationFailed(c, "invalid risk signal", verrs)
				return
			}
			response.InternalError(c, err.Error())
			return
		}
		response.Success(c, gin.H{"tripped": tripped})
	}
}

// TradingStatusHandler handles GET requests from the order submission path
// Requires internal authentication
// Query parameters: tenant_id (required), strategy_id, asset_id
func (h *GinHandlers) TradingStatusHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		tenantID := c.Query("tenant_id")
		if tenantID == "" {
			response.BadRequest(c, "tenant_id is required")
			return
		}

		status, err := h.service.TradingAllowed(tenantID, c.Query("strategy_id"), c.Query("asset_id"))
		if err != nil {
			response.InternalError(c, err.Error())
			return
		}
		response.Success(c, status)
	}
}
