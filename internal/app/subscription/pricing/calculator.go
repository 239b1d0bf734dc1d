// Package pricing classifies plan changes and computes proration. Everything
// here is pure: identical inputs always produce identical previews.
package pricing

import (
	"sort"
	"time"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"github.com/wuyiadepoju/planchange/internal/app/subscription/domain"
)

// minorUnitPlaces is the rounding precision for charged amounts.
const minorUnitPlaces = 2

// Input carries everything the calculator needs. Now must be supplied by the
// caller; the calculator never reads the clock.
type Input struct {
	CurrentPlan domain.Plan
	NewPlan     domain.Plan
	PeriodStart time.Time
	PeriodEnd   time.Time
	Now         time.Time
	Usage       domain.Usage
}

// Classify returns the change type implied by the two prices.
func Classify(current, next domain.Plan) domain.ChangeType {
	switch next.Price.Cmp(current.Price) {
	case 1:
		return domain.ChangeTypeUpgrade
	case -1:
		return domain.ChangeTypeDowngrade
	default:
		return domain.ChangeTypeLateral
	}
}

// RemainingFraction is (periodEnd - now) / (periodEnd - periodStart), clamped to [0,1].
func RemainingFraction(periodStart, periodEnd, now time.Time) decimal.Decimal {
	total := periodEnd.Sub(periodStart)
	if total <= 0 {
		return decimal.Zero
	}
	remaining := periodEnd.Sub(now)
	switch {
	case remaining <= 0:
		return decimal.Zero
	case remaining >= total:
		return decimal.NewFromInt(1)
	}
	return decimal.NewFromInt(int64(remaining)).Div(decimal.NewFromInt(int64(total)))
}

// Prorate charges the price delta for the remaining share of the period.
// The result is rounded to minor units and never exceeds the full delta.
func Prorate(current, next domain.Plan, periodStart, periodEnd, now time.Time) decimal.Decimal {
	delta := next.Price.Sub(current.Price)
	if !delta.IsPositive() {
		return decimal.Zero
	}
	amount := delta.Mul(RemainingFraction(periodStart, periodEnd, now)).Round(minorUnitPlaces)
	return decimal.Min(decimal.Max(amount, decimal.Zero), delta)
}

// Limitations lists every resource whose usage exceeds the plan's cap,
// ordered by resource name.
func Limitations(plan domain.Plan, usage domain.Usage) []domain.Limitation {
	out := lo.FilterMap(lo.Keys(usage), func(r domain.Resource, _ int) (domain.Limitation, bool) {
		limit, capped := plan.Limit(r)
		if !capped || usage[r] <= limit {
			return domain.Limitation{}, false
		}
		return domain.Limitation{Resource: r, Current: usage[r], Limit: limit}, true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Resource < out[j].Resource })
	return out
}

// ComputePreview builds the non-authoritative projection of moving from
// in.CurrentPlan to in.NewPlan at in.Now.
//
// Upgrades charge the prorated delta immediately and keep the next billing
// date. Downgrades and lateral moves never charge and take effect at the
// period boundary. Any limitation blocks the change and forces a deferred
// effective date.
func ComputePreview(in Input) (domain.ChangePreview, error) {
	if in.NewPlan.ID == "" {
		return domain.ChangePreview{}, domain.ErrInvalidPlanID
	}
	if in.NewPlan.ID == in.CurrentPlan.ID {
		return domain.ChangePreview{}, domain.ErrSamePlan
	}
	if in.NewPlan.Currency != in.CurrentPlan.Currency {
		return domain.ChangePreview{}, domain.ErrCurrencyMismatch
	}
	if !in.PeriodEnd.After(in.PeriodStart) {
		return domain.ChangePreview{}, domain.ErrInvalidPeriod
	}

	changeType := Classify(in.CurrentPlan, in.NewPlan)
	limitations := Limitations(in.NewPlan, in.Usage)
	removed := in.CurrentPlan.MissingFeatures(in.NewPlan)

	preview := domain.ChangePreview{
		ChangeType:          changeType,
		CurrentPlan:         in.CurrentPlan,
		NewPlan:             in.NewPlan,
		ProrationAmount:     decimal.Zero,
		TotalDueToday:       decimal.Zero,
		Currency:            in.NewPlan.Currency,
		EffectiveDate:       domain.DeferredTo(in.PeriodEnd),
		NextBillingDate:     in.PeriodEnd,
		PeriodStart:         in.PeriodStart,
		PeriodEnd:           in.PeriodEnd,
		CanProceed:          len(limitations) == 0,
		Limitations:         limitations,
		EntitlementsReduced: len(removed) > 0,
		RemovedFeatures:     removed,
		ComputedAt:          in.Now,
	}

	if changeType == domain.ChangeTypeUpgrade {
		// An upgrade always needs an instrument on file for future renewals,
		// even when nothing is due today.
		preview.PaymentRequired = true
		preview.ProrationAmount = Prorate(in.CurrentPlan, in.NewPlan, in.PeriodStart, in.PeriodEnd, in.Now)
		preview.TotalDueToday = preview.ProrationAmount
		if preview.CanProceed {
			preview.EffectiveDate = domain.Immediately(in.Now)
		}
	}

	return preview, nil
}
