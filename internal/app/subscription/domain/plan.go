package domain

import (
	"time"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"
)

// BillingInterval is how often a plan renews
type BillingInterval string

const (
	IntervalMonthly BillingInterval = "monthly"
	IntervalYearly  BillingInterval = "yearly"
)

// Next returns the period boundary one interval after t. Days past the end
// of the target month clamp to its last day (Jan 31 -> Feb 28/29).
func (i BillingInterval) Next(t time.Time) time.Time {
	if i == IntervalYearly {
		return addMonths(t, 12)
	}
	return addMonths(t, 1)
}

func addMonths(t time.Time, months int) time.Time {
	y, m, d := t.Date()
	first := time.Date(y, m+time.Month(months), 1, 0, 0, 0, 0, t.Location())
	if last := first.AddDate(0, 1, -1).Day(); d > last {
		d = last
	}
	return time.Date(first.Year(), first.Month(), d, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}

// Resource is a countable entitlement capped by a plan (e.g. staff seats)
type Resource string

const (
	ResourceStaff     Resource = "staff"
	ResourceLocations Resource = "locations"
	ResourceServices  Resource = "services"
)

// Usage is a business's current consumption per resource
type Usage map[Resource]int64

// Plan is a published, immutable price point. Subscriptions reference it by ID.
type Plan struct {
	ID        string             `json:"id"`
	Name      string             `json:"name"`
	Price     decimal.Decimal    `json:"price"`
	Currency  string             `json:"currency"`
	Interval  BillingInterval    `json:"interval"`
	SortOrder int                `json:"sort_order"`
	Features  []string           `json:"features,omitempty"`
	Limits    map[Resource]int64 `json:"limits,omitempty"`
}

// Limit returns the cap for r; ok is false when the plan leaves r unlimited.
func (p Plan) Limit(r Resource) (limit int64, ok bool) {
	limit, ok = p.Limits[r]
	return limit, ok
}

// MissingFeatures lists features of p that other does not include.
func (p Plan) MissingFeatures(other Plan) []string {
	return lo.Without(p.Features, other.Features...)
}
