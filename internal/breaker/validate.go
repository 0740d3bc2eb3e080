package breaker

import (
	"github.com/ksred/tradeguard-api/pkg/validation"
)

// ValidateDefinition checks a breaker definition and returns every violated
// field, not just the first, so a caller can fix all errors in one round
// trip. Returns nil when the definition is valid.
func ValidateDefinition(def BreakerDefinition) validation.ValidationErrors {
	errs := validation.Struct(def)

	switch def.Scope {
	case ScopeStrategy, ScopeAsset:
		if def.ScopeID == "" {
			errs.Add("scope_id", "is required for STRATEGY and ASSET scopes")
		}
	case ScopePortfolio:
		if def.ScopeID != "" {
			errs.Add("scope_id", "must be empty for PORTFOLIO scope")
		}
	}

	validateCondition(def.Condition, &errs)

	if len(errs) == 0 {
		return nil
	}
	return errs
}

// validateCondition checks the variant payload named by the condition type.
// Fields belonging to other variants are ignored.
func validateCondition(cond ConditionInput, errs *validation.ValidationErrors) {
	switch cond.Type {
	case ConditionLossRate:
		if cond.LossPercent == nil {
			errs.Add("condition.loss_percent", "is required for LOSS_RATE")
		} else if cond.LossPercent.IsNegative() {
			errs.Add("condition.loss_percent", "must be greater than or equal to 0")
		}
		if cond.TimeWindowMinutes == nil {
			errs.Add("condition.time_window_minutes", "is required for LOSS_RATE")
		} else if *cond.TimeWindowMinutes <= 0 {
			errs.Add("condition.time_window_minutes", "must be greater than 0")
		}

	case ConditionConsecutiveFailures:
		if cond.Count == nil {
			errs.Add("condition.count", "is required for CONSECUTIVE_FAILURES")
		} else if *cond.Count <= 0 {
			errs.Add("condition.count", "must be greater than 0")
		}

	case ConditionPriceDeviation:
		if cond.DeviationPercent == nil {
			errs.Add("condition.deviation_percent", "is required for PRICE_DEVIATION")
		} else if cond.DeviationPercent.IsNegative() {
			errs.Add("condition.deviation_percent", "must be greater than or equal to 0")
		}
		if cond.TimeWindowMinutes == nil {
			errs.Add("condition.time_window_minutes", "is required for PRICE_DEVIATION")
		} else if *cond.TimeWindowMinutes <= 0 {
			errs.Add("condition.time_window_minutes", "must be greater than 0")
		}

	case ConditionErrorRate:
		if cond.ErrorPercent == nil {
			errs.Add("condition.error_percent", "is required for ERROR_RATE")
		} else if cond.ErrorPercent.IsNegative() {
			errs.Add("condition.error_percent", "must be greater than or equal to 0")
		}
		if cond.SampleSize == nil {
			errs.Add("condition.sample_size", "is required for ERROR_RATE")
		} else if *cond.SampleSize <= 0 {
			errs.Add("condition.sample_size", "must be greater than 0")
		}
	}
}

// toCondition converts a validated condition input into its stored form.
func toCondition(in ConditionInput) Condition {
	cond := Condition{Type: in.Type}
	if in.LossPercent != nil {
		cond.LossPercent = *in.LossPercent
	}
	if in.TimeWindowMinutes != nil {
		cond.TimeWindowMinutes = *in.TimeWindowMinutes
	}
	if in.Count != nil {
		cond.Count = *in.Count
	}
	if in.DeviationPercent != nil {
		cond.DeviationPercent = *in.DeviationPercent
	}
	if in.ErrorPercent != nil {
		cond.ErrorPercent = *in.ErrorPercent
	}
	if in.SampleSize != nil {
		cond.SampleSize = *in.SampleSize
	}
	return cond
}
