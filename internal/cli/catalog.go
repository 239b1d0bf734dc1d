package cli

import (
	"context"

	"github.com/shopspring/decimal"
	"github.com/wuyiadepoju/planchange/internal/app/subscription/contracts"
	"github.com/wuyiadepoju/planchange/internal/app/subscription/domain"
)

// defaultCatalog is the plan ladder published by `migrate --seed-plans` and
// preloaded into the in-memory store.
func defaultCatalog() []domain.Plan {
	return []domain.Plan{
		{
			ID:        "plan-basic",
			Name:      "Basic",
			Price:     decimal.NewFromInt(1500),
			Currency:  "NGN",
			Interval:  domain.IntervalMonthly,
			SortOrder: 1,
			Features:  []string{"online_booking", "sms_reminders"},
			Limits: map[domain.Resource]int64{
				domain.ResourceStaff:     3,
				domain.ResourceLocations: 1,
				domain.ResourceServices:  10,
			},
		},
		{
			ID:        "plan-pro",
			Name:      "Pro",
			Price:     decimal.NewFromInt(3000),
			Currency:  "NGN",
			Interval:  domain.IntervalMonthly,
			SortOrder: 2,
			Features:  []string{"online_booking", "sms_reminders", "reports", "inventory"},
			Limits: map[domain.Resource]int64{
				domain.ResourceStaff:     10,
				domain.ResourceLocations: 3,
				domain.ResourceServices:  50,
			},
		},
		{
			ID:        "plan-enterprise",
			Name:      "Enterprise",
			Price:     decimal.NewFromInt(6000),
			Currency:  "NGN",
			Interval:  domain.IntervalMonthly,
			SortOrder: 3,
			Features:  []string{"online_booking", "sms_reminders", "reports", "inventory", "api_access"},
		},
	}
}

func publishCatalog(ctx context.Context, plans contracts.PlanRepository) error {
	for _, plan := range defaultCatalog() {
		if err := plans.SavePlan(ctx, plan); err != nil {
			return err
		}
	}
	return nil
}
