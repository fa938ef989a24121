package pricing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNextMonthStart(t *testing.T) {
	cases := []struct {
		ref      time.Time
		expected time.Time
	}{
		{
			ref:      time.Date(2025, time.June, 20, 15, 4, 5, 0, time.UTC),
			expected: time.Date(2025, time.July, 1, 0, 0, 0, 0, time.UTC),
		},
		{
			ref:      time.Date(2025, time.December, 31, 23, 59, 59, 0, time.UTC),
			expected: time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC),
		},
		{
			ref:      time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC),
			expected: time.Date(2025, time.February, 1, 0, 0, 0, 0, time.UTC),
		},
	}
	for _, c := range cases {
		assert.Equal(t, c.expected, NextMonthStart(c.ref))
	}
}

func TestNextAnnualAnchor(t *testing.T) {
	cases := []struct {
		ref      time.Time
		expected time.Time
	}{
		{
			// mid-year signups anchor to next January
			ref:      time.Date(2025, time.June, 20, 0, 0, 0, 0, time.UTC),
			expected: time.Date(2026, time.January, 7, 0, 0, 0, 0, time.UTC),
		},
		{
			// early January still catches this year's anchor
			ref:      time.Date(2025, time.January, 3, 0, 0, 0, 0, time.UTC),
			expected: time.Date(2025, time.January, 7, 0, 0, 0, 0, time.UTC),
		},
		{
			// on the anchor itself, roll over to next year
			ref:      time.Date(2025, time.January, 7, 0, 0, 0, 0, time.UTC),
			expected: time.Date(2026, time.January, 7, 0, 0, 0, 0, time.UTC),
		},
	}
	for _, c := range cases {
		assert.Equal(t, c.expected, NextAnnualAnchor(c.ref))
	}
}

func TestPlanValidate(t *testing.T) {
	plan := &Plan{
		MonthlyPriceID: "price_monthly",
		AnnualPriceID:  "price_annual",
		MonthlyAmount:  2000,
		AnnualAmount:   12000,
		Currency:       "eur",
	}
	require.NoError(t, plan.Validate())

	missing := *plan
	missing.AnnualPriceID = ""
	require.Error(t, missing.Validate())

	negative := *plan
	negative.MonthlyAmount = 0
	require.Error(t, negative.Validate())
}
