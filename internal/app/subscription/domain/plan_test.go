package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBillingIntervalNext(t *testing.T) {
	testCases := []struct {
		name     string
		interval BillingInterval
		from     time.Time
		expected time.Time
	}{
		{"monthly", IntervalMonthly, time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC), time.Date(2024, 2, 15, 9, 0, 0, 0, time.UTC)},
		{"monthly clamps to leap day", IntervalMonthly, time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC), time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC)},
		{"monthly across year", IntervalMonthly, time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC), time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC)},
		{"yearly from leap day", IntervalYearly, time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC), time.Date(2025, 2, 28, 0, 0, 0, 0, time.UTC)},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, tc.interval.Next(tc.from))
		})
	}
}

func TestPlanMissingFeatures(t *testing.T) {
	pro := Plan{Features: []string{"reports", "sms", "api"}}
	basic := Plan{Features: []string{"reports"}}

	assert.ElementsMatch(t, []string{"sms", "api"}, pro.MissingFeatures(basic))
	assert.Empty(t, basic.MissingFeatures(pro))
}

func TestPlanLimit(t *testing.T) {
	p := Plan{Limits: map[Resource]int64{ResourceStaff: 5}}

	limit, ok := p.Limit(ResourceStaff)
	assert.True(t, ok)
	assert.Equal(t, int64(5), limit)

	_, ok = p.Limit(ResourceLocations)
	assert.False(t, ok)
}
