package latefee

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/feeledger/internal/feeerr"
	"github.com/smallbiznis/feeledger/internal/period"
)

type PenaltyType string

const (
	PenaltyTypeNone       PenaltyType = ""
	PenaltyTypeFixed      PenaltyType = "FIXED"
	PenaltyTypePercentage PenaltyType = "PERCENTAGE"
)

var hundred = decimal.NewFromInt(100)

// Rule is the late-fee policy attached to a fee structure. Value is in minor
// units for FIXED and in percent for PERCENTAGE.
type Rule struct {
	GraceDays int
	Type      PenaltyType
	Value     decimal.Decimal
}

// ParsePenaltyType normalizes a wire value; empty means no penalty.
func ParsePenaltyType(raw string) (PenaltyType, error) {
	switch PenaltyType(strings.ToUpper(strings.TrimSpace(raw))) {
	case PenaltyTypeNone:
		return PenaltyTypeNone, nil
	case PenaltyTypeFixed:
		return PenaltyTypeFixed, nil
	case PenaltyTypePercentage:
		return PenaltyTypePercentage, nil
	default:
		return "", feeerr.Validation("invalid_penalty_type", "late_fee_penalty_type", "penalty type must be FIXED or PERCENTAGE")
	}
}

// Validate checks the rule is internally consistent.
func (r Rule) Validate() error {
	if r.GraceDays < 0 {
		return feeerr.Validation("invalid_grace_days", "late_fee_grace_days", "grace days cannot be negative")
	}
	if r.Value.IsNegative() {
		return feeerr.Validation("invalid_penalty_value", "late_fee_penalty_value", "penalty value cannot be negative")
	}
	switch r.Type {
	case PenaltyTypeNone:
		return nil
	case PenaltyTypeFixed:
		if !r.Value.Equal(r.Value.Truncate(0)) {
			return feeerr.Validation("invalid_penalty_value", "late_fee_penalty_value", "fixed penalty must be whole minor units")
		}
	case PenaltyTypePercentage:
		if r.Value.GreaterThan(hundred) {
			return feeerr.Validation("invalid_penalty_value", "late_fee_penalty_value", "percentage penalty cannot exceed 100")
		}
	default:
		return feeerr.Validation("invalid_penalty_type", "late_fee_penalty_type", "penalty type must be FIXED or PERCENTAGE")
	}
	return nil
}

// Penalty is the late fee owed on base when payment is daysLate days past due.
// Nothing is owed inside the grace period. Percentages round half away from
// zero to the minor unit.
func Penalty(rule Rule, base int64, daysLate int) int64 {
	if daysLate <= rule.GraceDays || base <= 0 {
		return 0
	}
	switch rule.Type {
	case PenaltyTypeFixed:
		return rule.Value.Round(0).IntPart()
	case PenaltyTypePercentage:
		return decimal.NewFromInt(base).Mul(rule.Value).Div(hundred).Round(0).IntPart()
	default:
		return 0
	}
}

// DaysLate counts whole calendar days from dueDate to today, never negative.
func DaysLate(dueDate, today time.Time) int {
	days := period.DaysBetween(dueDate, today)
	if days < 0 {
		return 0
	}
	return days
}
