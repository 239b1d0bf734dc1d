package repo

import (
	"context"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/wuyiadepoju/planchange/internal/app/subscription/contracts"
	"github.com/wuyiadepoju/planchange/internal/app/subscription/domain"
)

var _ contracts.PlanCatalog = (*CachedPlanCatalog)(nil)

// CachedPlanCatalog keeps published plans in memory. Plans are immutable once
// published, so entries only expire to pick up newly published plans.
type CachedPlanCatalog struct {
	next  contracts.PlanCatalog
	cache *cache.Cache
}

// NewCachedPlanCatalog wraps next with a cache holding entries for ttl
func NewCachedPlanCatalog(next contracts.PlanCatalog, ttl time.Duration) *CachedPlanCatalog {
	return &CachedPlanCatalog{
		next:  next,
		cache: cache.New(ttl, 2*ttl),
	}
}

func (c *CachedPlanCatalog) FindPlan(ctx context.Context, planID string) (*domain.Plan, error) {
	if cached, ok := c.cache.Get(planID); ok {
		plan := cached.(domain.Plan)
		return &plan, nil
	}

	plan, err := c.next.FindPlan(ctx, planID)
	if err != nil {
		return nil, err
	}
	c.cache.SetDefault(planID, *plan)
	return plan, nil
}
