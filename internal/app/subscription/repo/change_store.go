package repo

import (
	"context"
	"encoding/json"

	"cloud.google.com/go/spanner"
	"github.com/wuyiadepoju/planchange/internal/app/subscription/contracts"
	"github.com/wuyiadepoju/planchange/internal/app/subscription/domain"
	"google.golang.org/api/iterator"
)

var _ contracts.ChangeStore = (*ChangeStore)(nil)

const (
	resultsTable         = "plan_change_results"
	reconciliationsTable = "plan_change_reconciliations"
)

// ChangeStore records plan change outcomes in Cloud Spanner
type ChangeStore struct {
	client *spanner.Client
}

// NewChangeStore creates a new change store
func NewChangeStore(client *spanner.Client) *ChangeStore {
	return &ChangeStore{client: client}
}

// FindResult returns the stored result for idempotencyKey
func (s *ChangeStore) FindResult(ctx context.Context, idempotencyKey string) (*domain.ChangeResult, error) {
	row, err := s.client.Single().ReadRow(ctx, resultsTable, spanner.Key{idempotencyKey}, []string{"payload"})
	if err != nil {
		if isNotFound(err) {
			return nil, domain.ErrResultNotFound
		}
		return nil, storeError(err, "failed to read change result")
	}

	var payload string
	if err := row.Column(0, &payload); err != nil {
		return nil, storeError(err, "failed to decode change result")
	}

	var result domain.ChangeResult
	if err := json.Unmarshal([]byte(payload), &result); err != nil {
		return nil, storeError(err, "failed to decode change result")
	}
	return &result, nil
}

// CommitChange writes the subscription and its result in one transaction.
// The subscription version is re-read inside the transaction.
func (s *ChangeStore) CommitChange(ctx context.Context, sub *domain.Subscription, expectedVersion int64, result *domain.ChangeResult) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return storeError(err, "failed to encode change result")
	}

	_, err = s.client.ReadWriteTransaction(ctx, func(ctx context.Context, txn *spanner.ReadWriteTransaction) error {
		_, err := txn.ReadRow(ctx, resultsTable, spanner.Key{result.IdempotencyKey}, []string{"idempotency_key"})
		if err == nil {
			return domain.ErrResultExists
		}
		if !isNotFound(err) {
			return err
		}

		update, err := guardedUpdate(ctx, txn, sub, expectedVersion, domain.ErrStalePreview)
		if err != nil {
			return err
		}

		insert := spanner.Insert(resultsTable,
			[]string{"idempotency_key", "business_id", "subscription_id", "target_plan_id", "change_type", "outcome", "payload", "completed_at"},
			[]interface{}{
				result.IdempotencyKey,
				result.BusinessID,
				result.SubscriptionID,
				result.TargetPlanID,
				string(result.ChangeType),
				string(result.Outcome),
				string(payload),
				result.CompletedAt,
			})

		return txn.BufferWrite([]*spanner.Mutation{update, insert})
	})
	return storeError(err, "failed to commit plan change")
}

// FindReconciliation returns the reconciliation record for idempotencyKey
func (s *ChangeStore) FindReconciliation(ctx context.Context, idempotencyKey string) (*domain.Reconciliation, error) {
	row, err := s.client.Single().ReadRow(ctx, reconciliationsTable, spanner.Key{idempotencyKey}, []string{"payload"})
	if err != nil {
		if isNotFound(err) {
			return nil, domain.ErrReconciliationNotFound
		}
		return nil, storeError(err, "failed to read reconciliation")
	}
	return decodeReconciliation(row)
}

// FindOpenReconciliationBySubscription returns the oldest unresolved record
// for subscriptionID
func (s *ChangeStore) FindOpenReconciliationBySubscription(ctx context.Context, subscriptionID string) (*domain.Reconciliation, error) {
	stmt := spanner.Statement{
		SQL: `SELECT payload FROM plan_change_reconciliations
			WHERE subscription_id = @subscription_id AND resolved_at IS NULL
			ORDER BY created_at
			LIMIT 1`,
		Params: map[string]interface{}{
			"subscription_id": subscriptionID,
		},
	}

	iter := s.client.Single().Query(ctx, stmt)
	defer iter.Stop()

	row, err := iter.Next()
	if err == iterator.Done {
		return nil, domain.ErrReconciliationNotFound
	}
	if err != nil {
		return nil, storeError(err, "failed to read open reconciliation")
	}
	return decodeReconciliation(row)
}

// SaveReconciliation inserts or replaces rec
func (s *ChangeStore) SaveReconciliation(ctx context.Context, rec *domain.Reconciliation) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return storeError(err, "failed to encode reconciliation")
	}

	resolvedAt := spanner.NullTime{}
	if rec.ResolvedAt != nil {
		resolvedAt = spanner.NullTime{Time: *rec.ResolvedAt, Valid: true}
	}

	m := spanner.InsertOrUpdate(reconciliationsTable,
		[]string{"idempotency_key", "subscription_id", "transaction_id", "payload", "created_at", "resolved_at"},
		[]interface{}{rec.IdempotencyKey, rec.SubscriptionID, rec.TransactionID, string(payload), rec.CreatedAt, resolvedAt},
	)
	_, err = s.client.Apply(ctx, []*spanner.Mutation{m})
	return storeError(err, "failed to save reconciliation")
}

// ListOpenReconciliations returns unresolved records, oldest first
func (s *ChangeStore) ListOpenReconciliations(ctx context.Context, limit int) ([]domain.Reconciliation, error) {
	stmt := spanner.Statement{
		SQL: `SELECT payload FROM plan_change_reconciliations
			WHERE resolved_at IS NULL
			ORDER BY created_at
			LIMIT @limit`,
		Params: map[string]interface{}{
			"limit": int64(limit),
		},
	}

	var records []domain.Reconciliation
	err := s.client.Single().Query(ctx, stmt).Do(func(row *spanner.Row) error {
		rec, err := decodeReconciliation(row)
		if err != nil {
			return err
		}
		records = append(records, *rec)
		return nil
	})
	if err != nil {
		return nil, storeError(err, "failed to list reconciliations")
	}
	return records, nil
}

func decodeReconciliation(row *spanner.Row) (*domain.Reconciliation, error) {
	var payload string
	if err := row.Column(0, &payload); err != nil {
		return nil, storeError(err, "failed to decode reconciliation")
	}
	var rec domain.Reconciliation
	if err := json.Unmarshal([]byte(payload), &rec); err != nil {
		return nil, storeError(err, "failed to decode reconciliation")
	}
	return &rec, nil
}
