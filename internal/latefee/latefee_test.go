package latefee

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/feeledger/internal/feeerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPenaltyWithinGraceIsZero(t *testing.T) {
	rule := Rule{GraceDays: 5, Type: PenaltyTypeFixed, Value: decimal.NewFromInt(200)}
	assert.Equal(t, int64(0), Penalty(rule, 5000, 0))
	assert.Equal(t, int64(0), Penalty(rule, 5000, 5))
	assert.Equal(t, int64(200), Penalty(rule, 5000, 6))
}

func TestPenaltyPercentageRoundsHalfUp(t *testing.T) {
	rule := Rule{Type: PenaltyTypePercentage, Value: decimal.NewFromInt(5)}
	assert.Equal(t, int64(250), Penalty(rule, 5000, 1))
	// 52.5 rounds up, banker's rounding would give 52.
	assert.Equal(t, int64(53), Penalty(rule, 1050, 1))

	rule.Value = decimal.RequireFromString("1.5")
	// 4.995 rounds to 5.
	assert.Equal(t, int64(5), Penalty(rule, 333, 10))
}

func TestPenaltyNoRule(t *testing.T) {
	assert.Equal(t, int64(0), Penalty(Rule{}, 5000, 40))
	assert.Equal(t, int64(0), Penalty(Rule{Type: PenaltyTypeFixed, Value: decimal.NewFromInt(100)}, 0, 40))
}

func TestDaysLate(t *testing.T) {
	due := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, 0, DaysLate(due, time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, 0, DaysLate(due, due))
	assert.Equal(t, 22, DaysLate(due, time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)))
}

func TestRuleValidate(t *testing.T) {
	require.NoError(t, Rule{}.Validate())
	require.NoError(t, Rule{GraceDays: 3, Type: PenaltyTypePercentage, Value: decimal.RequireFromString("2.5")}.Validate())

	cases := []Rule{
		{GraceDays: -1},
		{Type: PenaltyTypeFixed, Value: decimal.NewFromInt(-5)},
		{Type: PenaltyTypeFixed, Value: decimal.RequireFromString("1.5")},
		{Type: PenaltyTypePercentage, Value: decimal.NewFromInt(101)},
		{Type: PenaltyType("DAILY"), Value: decimal.NewFromInt(1)},
	}
	for _, rule := range cases {
		assert.ErrorIs(t, rule.Validate(), feeerr.ErrValidation)
	}
}

func TestParsePenaltyType(t *testing.T) {
	got, err := ParsePenaltyType(" percentage ")
	require.NoError(t, err)
	assert.Equal(t, PenaltyTypePercentage, got)

	got, err = ParsePenaltyType("")
	require.NoError(t, err)
	assert.Equal(t, PenaltyTypeNone, got)

	_, err = ParsePenaltyType("weekly")
	assert.ErrorIs(t, err, feeerr.ErrValidation)
}
