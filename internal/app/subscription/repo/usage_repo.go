package repo

import (
	"context"

	"cloud.google.com/go/spanner"
	"github.com/wuyiadepoju/planchange/internal/app/subscription/contracts"
	"github.com/wuyiadepoju/planchange/internal/app/subscription/domain"
)

var _ contracts.UsageReader = (*UsageRepo)(nil)

// UsageRepo reads business resource consumption from Cloud Spanner
type UsageRepo struct {
	client *spanner.Client
}

// NewUsageRepo creates a new usage repository
func NewUsageRepo(client *spanner.Client) *UsageRepo {
	return &UsageRepo{client: client}
}

// Usage returns the business's recorded consumption per resource
func (r *UsageRepo) Usage(ctx context.Context, businessID string) (domain.Usage, error) {
	stmt := spanner.Statement{
		SQL: `SELECT resource, quantity FROM business_usage WHERE business_id = @business_id`,
		Params: map[string]interface{}{
			"business_id": businessID,
		},
	}

	usage := domain.Usage{}
	err := r.client.Single().Query(ctx, stmt).Do(func(row *spanner.Row) error {
		var (
			resource string
			quantity int64
		)
		if err := row.Columns(&resource, &quantity); err != nil {
			return err
		}
		usage[domain.Resource(resource)] = quantity
		return nil
	})
	if err != nil {
		return nil, storeError(err, "failed to read usage")
	}
	return usage, nil
}

// SetUsage records the business's current consumption
func (r *UsageRepo) SetUsage(ctx context.Context, businessID string, usage domain.Usage) error {
	mutations := make([]*spanner.Mutation, 0, len(usage))
	for resource, quantity := range usage {
		mutations = append(mutations, spanner.InsertOrUpdate("business_usage",
			[]string{"business_id", "resource", "quantity"},
			[]interface{}{businessID, string(resource), quantity},
		))
	}
	_, err := r.client.Apply(ctx, mutations)
	return storeError(err, "failed to record usage")
}
