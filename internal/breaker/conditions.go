package breaker

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Evaluate reports whether the signal satisfies the trip condition. It is
// pure: no side effects, deterministic for a given condition and signal.
// Measurements the signal does not carry never satisfy a condition.
func Evaluate(condition Condition, signal RiskSignal) bool {
	switch condition.Type {
	case ConditionLossRate:
		if signal.WindowLossPercent == nil {
			return false
		}
		return signal.WindowLossPercent.GreaterThanOrEqual(condition.LossPercent)

	case ConditionConsecutiveFailures:
		if signal.ConsecutiveFailures == nil {
			return false
		}
		return *signal.ConsecutiveFailures >= condition.Count

	case ConditionPriceDeviation:
		if signal.DeviationPercent == nil {
			return false
		}
		return signal.DeviationPercent.GreaterThanOrEqual(condition.DeviationPercent)

	case ConditionErrorRate:
		if signal.ErrorCount == nil || signal.SampleSizeObserved == nil {
			return false
		}
		// Not evaluable until the observed sample is large enough.
		if *signal.SampleSizeObserved < condition.SampleSize {
			return false
		}
		observed := decimal.NewFromInt(int64(*signal.ErrorCount)).
			Mul(decimal.NewFromInt(100)).
			Div(decimal.NewFromInt(int64(*signal.SampleSizeObserved)))
		return observed.GreaterThanOrEqual(condition.ErrorPercent)
	}

	return false
}

// TripReason builds the human-readable reason recorded when a signal trips
// a breaker.
func TripReason(condition Condition, signal RiskSignal) string {
	switch condition.Type {
	case ConditionLossRate:
		if signal.WindowLossPercent != nil {
			return fmt.Sprintf("loss rate %s%% reached threshold %s%% over %dm window",
				signal.WindowLossPercent, condition.LossPercent, condition.TimeWindowMinutes)
		}
	case ConditionConsecutiveFailures:
		if signal.ConsecutiveFailures != nil {
			return fmt.Sprintf("%d consecutive failures reached threshold %d",
				*signal.ConsecutiveFailures, condition.Count)
		}
	case ConditionPriceDeviation:
		if signal.DeviationPercent != nil {
			return fmt.Sprintf("price deviation %s%% reached threshold %s%% over %dm window",
				signal.DeviationPercent, condition.DeviationPercent, condition.TimeWindowMinutes)
		}
	case ConditionErrorRate:
		if signal.ErrorCount != nil && signal.SampleSizeObserved != nil {
			return fmt.Sprintf("error rate %d/%d reached threshold %s%%",
				*signal.ErrorCount, *signal.SampleSizeObserved, condition.ErrorPercent)
		}
	}
	return fmt.Sprintf("%s condition met", condition.Type)
}
