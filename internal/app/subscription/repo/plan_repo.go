package repo

import (
	"context"
	"encoding/json"

	"cloud.google.com/go/spanner"
	"github.com/samber/lo"
	"github.com/wuyiadepoju/planchange/internal/app/subscription/contracts"
	"github.com/wuyiadepoju/planchange/internal/app/subscription/domain"
)

var _ contracts.PlanRepository = (*PlanRepo)(nil)

const plansTable = "plans"

var planColumns = []string{"id", "name", "price_minor", "currency", "billing_interval", "sort_order", "features", "limits"}

type planRow struct {
	ID              string               `spanner:"id"`
	Name            string               `spanner:"name"`
	PriceMinor      int64                `spanner:"price_minor"`
	Currency        string               `spanner:"currency"`
	BillingInterval string               `spanner:"billing_interval"`
	SortOrder       int64                `spanner:"sort_order"`
	Features        []spanner.NullString `spanner:"features"`
	Limits          spanner.NullString   `spanner:"limits"`
}

// PlanRepo reads and publishes plans in Cloud Spanner
type PlanRepo struct {
	client *spanner.Client
}

// NewPlanRepo creates a new plan repository
func NewPlanRepo(client *spanner.Client) *PlanRepo {
	return &PlanRepo{client: client}
}

// FindPlan retrieves a published plan by ID
func (r *PlanRepo) FindPlan(ctx context.Context, planID string) (*domain.Plan, error) {
	row, err := r.client.Single().ReadRow(ctx, plansTable, spanner.Key{planID}, planColumns)
	if err != nil {
		if isNotFound(err) {
			return nil, domain.ErrPlanNotFound
		}
		return nil, storeError(err, "failed to read plan")
	}

	var pr planRow
	if err := row.ToStruct(&pr); err != nil {
		return nil, storeError(err, "failed to decode plan")
	}

	plan := domain.Plan{
		ID:        pr.ID,
		Name:      pr.Name,
		Price:     fromMinorUnits(pr.PriceMinor),
		Currency:  pr.Currency,
		Interval:  domain.BillingInterval(pr.BillingInterval),
		SortOrder: int(pr.SortOrder),
		Features: lo.FilterMap(pr.Features, func(f spanner.NullString, _ int) (string, bool) {
			return f.StringVal, f.Valid
		}),
	}
	if pr.Limits.Valid && pr.Limits.StringVal != "" {
		if err := json.Unmarshal([]byte(pr.Limits.StringVal), &plan.Limits); err != nil {
			return nil, storeError(err, "failed to decode plan limits")
		}
	}
	return &plan, nil
}

// SavePlan publishes plan, replacing any plan with the same ID
func (r *PlanRepo) SavePlan(ctx context.Context, plan domain.Plan) error {
	limits := spanner.NullString{}
	if len(plan.Limits) > 0 {
		raw, err := json.Marshal(plan.Limits)
		if err != nil {
			return storeError(err, "failed to encode plan limits")
		}
		limits = spanner.NullString{StringVal: string(raw), Valid: true}
	}

	m := spanner.InsertOrUpdate(plansTable, planColumns, []interface{}{
		plan.ID,
		plan.Name,
		toMinorUnits(plan.Price),
		plan.Currency,
		string(plan.Interval),
		int64(plan.SortOrder),
		plan.Features,
		limits,
	})

	_, err := r.client.Apply(ctx, []*spanner.Mutation{m})
	return storeError(err, "failed to save plan")
}
