package guard

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/ksred/tradeguard-api/internal/idempotency"
	"github.com/ksred/tradeguard-api/internal/orders"
	"github.com/ksred/tradeguard-api/pkg/metrics"
	"github.com/ksred/tradeguard-api/pkg/response"
	"github.com/ksred/tradeguard-api/pkg/validation"
)

// OrderRequest identifies the submission the caller wants to retry.
type OrderRequest struct {
	IdempotencyKey string `json:"idempotency_key" validate:"required"`
	OrderID        string `json:"order_id"`
	ExchangeID     string `json:"exchange_id"`
	// ExchangeOrderID covers retries where the caller received an exchange
	// acknowledgement that was never persisted internally.
	ExchangeOrderID string `json:"exchange_order_id"`
}

// RetryDecision is the guard's verdict. A denial is a normal, modeled
// outcome, not an error; infrastructure failures are returned as errors and
// the caller must then default to NOT submitting.
type RetryDecision struct {
	ShouldRetry   bool          `json:"should_retry"`
	Reason        string        `json:"reason"`
	ExistingOrder *orders.Order `json:"existing_order,omitempty"`
}

// Service arbitrates order submission retries by composing the idempotency
// ledger with the order existence verifier.
type Service struct {
	ledger   idempotency.Ledger
	verifier *Verifier
	repo     OrderRepository
}

// NewService creates a new duplicate guard with the given ledger, verifier,
// and order repository.
func NewService(ledger idempotency.Ledger, verifier *Verifier, repo OrderRepository) *Service {
	return &Service{
		ledger:   ledger,
		verifier: verifier,
		repo:     repo,
	}
}

// ShouldRetry decides whether an order submission may proceed. The ledger
// check runs first: it is cheaper than an exchange round trip and catches
// same-process races. A FAILED record does not block by itself; the attempt
// may still have reached the exchange, so verification decides.
func (s *Service) ShouldRetry(ctx context.Context, tenantID string, req OrderRequest) (*RetryDecision, error) {
	record, err := s.ledger.Get(ctx, tenantID, req.IdempotencyKey)
	if err != nil {
		return nil, err
	}

	if record != nil {
		switch record.Status {
		case idempotency.StatusPending, idempotency.StatusSubmitted:
			return s.deny(tenantID, "submission already in progress", nil), nil
		case idempotency.StatusCompleted:
			return s.deny(tenantID, "submission already completed", s.resolveOrder(tenantID, record)), nil
		}
	}

	if req.OrderID != "" && req.ExchangeID != "" {
		result, err := s.verifier.Verify(ctx, tenantID, req.OrderID, req.ExchangeID, req.ExchangeOrderID)
		if err != nil {
			return nil, err
		}
		if result.Exists {
			reason := fmt.Sprintf("order already exists with status %s", result.Status)
			switch {
			case result.Status.IsTerminal():
				reason = fmt.Sprintf("order already reached terminal status %s", result.Status)
			case result.Status.IsActive():
				reason = fmt.Sprintf("order already active with status %s", result.Status)
			}
			return s.deny(tenantID, reason, result.Order), nil
		}
	}

	metrics.GuardDecisions.WithLabelValues("allowed").Inc()
	return &RetryDecision{
		ShouldRetry: true,
		Reason:      "no blocking submission or existing order found",
	}, nil
}

func (s *Service) deny(tenantID, reason string, existing *orders.Order) *RetryDecision {
	metrics.GuardDecisions.WithLabelValues("denied").Inc()
	log.Info().
		Str("tenant_id", tenantID).
		Str("reason", reason).
		Msg("order submission denied")
	return &RetryDecision{
		ShouldRetry:   false,
		Reason:        reason,
		ExistingOrder: existing,
	}
}

// resolveOrder attaches the order behind a completed submission, best
// effort. The decision stands even when the lookup fails.
func (s *Service) resolveOrder(tenantID string, record *idempotency.IdempotencyRecord) *orders.Order {
	order, err := s.repo.GetOrderByIdempotencyKey(tenantID, record.IdempotencyKey)
	if err != nil {
		log.Warn().Err(err).
			Str("tenant_id", tenantID).
			Str("idempotency_key", record.IdempotencyKey).
			Msg("failed to resolve completed order for denial response")
		return nil
	}
	if order == nil && record.OrderID != "" {
		order, err = s.repo.GetOrder(tenantID, record.OrderID)
		if err != nil {
			log.Warn().Err(err).
				Str("tenant_id", tenantID).
				Str("order_id", record.OrderID).
				Msg("failed to resolve completed order for denial response")
			return nil
		}
	}
	return order
}

// RegisterSubmission claims the idempotency key for a submission that the
// guard has allowed, writing the PENDING ledger entry. A non-positive ttl
// means the ledger default.
func (s *Service) RegisterSubmission(ctx context.Context, tenantID string, req OrderRequest, ttl time.Duration) (*idempotency.IdempotencyRecord, error) {
	return s.ledger.Create(ctx, tenantID, req.IdempotencyKey, req.OrderID, req.ExchangeID, ttl)
}

// RecordOutcome reports how a submission ended. Returns nil when no live
// record exists for the key.
func (s *Service) RecordOutcome(ctx context.Context, tenantID, key string, status idempotency.Status, outcome string) (*idempotency.IdempotencyRecord, error) {
	return s.ledger.Update(ctx, tenantID, key, status, outcome)
}

// ReleaseSubmission frees the idempotency key, for callers that want to
// retry immediately after a failure they know never reached the exchange.
func (s *Service) ReleaseSubmission(ctx context.Context, tenantID, key string) error {
	return s.ledger.Remove(ctx, tenantID, key)
}

// GinHandlers contains HTTP handlers for the duplicate guard endpoints
type GinHandlers struct {
	service *Service
}

// NewGinHandlers creates a new set of HTTP handlers for the duplicate guard
func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{
		service: service,
	}
}

type checkRetryRequest struct {
	TenantID string `json:"tenant_id" validate:"required"`
	OrderRequest
}

// CheckRetryHandler handles POST requests from the order submission path,
// invoked immediately before an order is dispatched to an exchange
// Requires internal authentication
func (h *GinHandlers) CheckRetryHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req checkRetryRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, "Invalid request body")
			return
		}
		if errs := validation.Struct(req); errs != nil {
			response.ValidationFailed(c, "invalid retry check request", errs)
			return
		}

		decision, err := h.service.ShouldRetry(c.Request.Context(), req.TenantID, req.OrderRequest)
		if err != nil {
			// The caller must treat this as "do not submit".
			response.InternalError(c, err.Error())
			return
		}
		response.Success(c, decision)
	}
}

type registerSubmissionRequest struct {
	TenantID string `json:"tenant_id" validate:"required"`
	OrderRequest
	TTLSeconds int `json:"ttl_seconds" validate:"gte=0"`
}

// RegisterSubmissionHandler handles POST requests to claim an idempotency
// key before dispatching an order
// Requires internal authentication
func (h *GinHandlers) RegisterSubmissionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req registerSubmissionRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, "Invalid request body")
			return
		}
		if errs := validation.Struct(req); errs != nil {
			response.ValidationFailed(c, "invalid submission registration", errs)
			return
		}

		record, err := h.service.RegisterSubmission(c.Request.Context(), req.TenantID, req.OrderRequest,
			time.Duration(req.TTLSeconds)*time.Second)
		if err != nil {
			if errors.Is(err, idempotency.ErrDuplicateKey) {
				response.Conflict(c, "idempotency key already in use")
				return
			}
			response.InternalError(c, err.Error())
			return
		}
		response.Success(c, record)
	}
}

type recordOutcomeRequest struct {
	TenantID string             `json:"tenant_id" validate:"required"`
	Status   idempotency.Status `json:"status" validate:"required,oneof=PENDING SUBMITTED COMPLETED FAILED"`
	Response string             `json:"response"`
}

// RecordOutcomeHandler handles PUT requests reporting a submission outcome
// Requires internal authentication
// URL parameter: idempotency_key
func (h *GinHandlers) RecordOutcomeHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req recordOutcomeRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, "Invalid request body")
			return
		}
		if errs := validation.Struct(req); errs != nil {
			response.ValidationFailed(c, "invalid outcome report", errs)
			return
		}

		record, err := h.service.RecordOutcome(c.Request.Context(), req.TenantID, c.Param("idempotency_key"), req.Status, req.Response)
		if err != nil {
			response.InternalError(c, err.Error())
			return
		}
		if record == nil {
			response.NotFound(c, "No live submission for idempotency key")
			return
		}
		response.Success(c, record)
	}
}

// ReleaseSubmissionHandler handles DELETE requests to free an idempotency key
// Requires internal authentication
// URL parameter: idempotency_key; query parameter: tenant_id
func (h *GinHandlers) ReleaseSubmissionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		tenantID := c.Query("tenant_id")
		if tenantID == "" {
			response.BadRequest(c, "tenant_id is required")
			return
		}

		key := c.Param("idempotency_key")
		if err := h.service.ReleaseSubmission(c.Request.Context(), tenantID, key); err != nil {
			response.InternalError(c, err.Error())
			return
		}
		response.Success(c, gin.H{"idempotency_key": key, "released": true})
	}
}
