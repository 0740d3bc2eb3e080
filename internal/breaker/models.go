package breaker

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Scope determines which slice of a tenant's trading a breaker halts.
type Scope string

const (
	ScopeStrategy  Scope = "STRATEGY"
	ScopeAsset     Scope = "ASSET"
	ScopePortfolio Scope = "PORTFOLIO"
)

// State is the breaker state. There is deliberately no half-open probing
// state: reset is binary, either manual with authentication or automatic
// after cooldown.
type State string

const (
	StateClosed State = "CLOSED"
	StateOpen   State = "OPEN"
)

// ConditionType discriminates the trip condition variant.
type ConditionType string

const (
	ConditionLossRate            ConditionType = "LOSS_RATE"
	ConditionConsecutiveFailures ConditionType = "CONSECUTIVE_FAILURES"
	ConditionPriceDeviation      ConditionType = "PRICE_DEVIATION"
	ConditionErrorRate           ConditionType = "ERROR_RATE"
)

// Condition is the trip condition stored with a breaker. Only the fields of
// the variant named by Type carry meaning; the rest stay at their zero value.
type Condition struct {
	Type              ConditionType   `json:"type"`
	LossPercent       decimal.Decimal `gorm:"type:decimal(10,4)" json:"loss_percent"`
	TimeWindowMinutes int             `json:"time_window_minutes"`
	Count             int             `json:"count"`
	DeviationPercent  decimal.Decimal `gorm:"type:decimal(10,4)" json:"deviation_percent"`
	ErrorPercent      decimal.Decimal `gorm:"type:decimal(10,4)" json:"error_percent"`
	SampleSize        int             `json:"sample_size"`
}

type CircuitBreaker struct {
	gorm.Model `json:"-"`
	BreakerID  string `gorm:"uniqueIndex" json:"breaker_id"`
	TenantID   string `gorm:"index" json:"tenant_id"`
	Name       string `json:"name"`
	Scope      Scope  `json:"scope"`
	// ScopeID names the strategy or asset the breaker halts. Empty for
	// PORTFOLIO scope, which halts all of the tenant's trading.
	ScopeID          string     `json:"scope_id,omitempty"`
	Condition        Condition  `gorm:"embedded;embeddedPrefix:condition_" json:"condition"`
	CooldownMinutes  int        `json:"cooldown_minutes"`
	AutoResetEnabled bool       `json:"auto_reset_enabled"`
	State            State      `gorm:"index" json:"state"`
	TrippedAt        *time.Time `json:"tripped_at,omitempty"`
	TripReason       string     `json:"trip_reason,omitempty"`
	LastResetAt      *time.Time `json:"last_reset_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// BreakerDefinition is the request payload for creating or updating a
// breaker. Condition fields are pointers so a missing value can be told
// apart from a legitimate zero during validation.
type BreakerDefinition struct {
	Name             string         `json:"name" validate:"required"`
	Scope            Scope          `json:"scope" validate:"required,oneof=STRATEGY ASSET PORTFOLIO"`
	ScopeID          string         `json:"scope_id"`
	Condition        ConditionInput `json:"condition"`
	CooldownMinutes  int            `json:"cooldown_minutes" validate:"gte=0"`
	AutoResetEnabled bool           `json:"auto_reset_enabled"`
}

type ConditionInput struct {
	Type              ConditionType    `json:"type" validate:"required,oneof=LOSS_RATE CONSECUTIVE_FAILURES PRICE_DEVIATION ERROR_RATE"`
	LossPercent       *decimal.Decimal `json:"loss_percent,omitempty"`
	TimeWindowMinutes *int             `json:"time_window_minutes,omitempty"`
	Count             *int             `json:"count,omitempty"`
	DeviationPercent  *decimal.Decimal `json:"deviation_percent,omitempty"`
	ErrorPercent      *decimal.Decimal `json:"error_percent,omitempty"`
	SampleSize        *int             `json:"sample_size,omitempty"`
}

// RiskSignal is a pre-aggregated observation from the signal producer.
// Measurements are pointers: an absent measurement never satisfies a
// condition, so a signal carrying only failure counts cannot trip a
// loss-rate breaker whose threshold happens to be zero.
type RiskSignal struct {
	TenantID            string           `json:"tenant_id" validate:"required"`
	Scope               Scope            `json:"scope" validate:"required,oneof=STRATEGY ASSET PORTFOLIO"`
	ScopeID             string           `json:"scope_id"`
	WindowLossPercent   *decimal.Decimal `json:"window_loss_percent,omitempty"`
	ConsecutiveFailures *int             `json:"consecutive_failures,omitempty"`
	DeviationPercent    *decimal.Decimal `json:"deviation_percent,omitempty"`
	ErrorCount          *int             `json:"error_count,omitempty"`
	SampleSizeObserved  *int             `json:"sample_size_observed,omitempty"`
	ObservedAt          time.Time        `json:"observed_at"`
}

// TradingStatus answers whether order flow may proceed for a given context.
type TradingStatus struct {
	Allowed   bool             `json:"allowed"`
	BlockedBy []CircuitBreaker `json:"blocked_by,omitempty"`
}
