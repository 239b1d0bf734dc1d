package repo

import (
	"context"
	"time"

	"cloud.google.com/go/spanner"
	"github.com/wuyiadepoju/planchange/internal/app/subscription/contracts"
	"github.com/wuyiadepoju/planchange/internal/app/subscription/domain"
)

var _ contracts.PaymentMethodRepository = (*PaymentMethodRepo)(nil)

const paymentMethodsTable = "payment_methods"

type paymentMethodRow struct {
	BusinessID   string    `spanner:"business_id"`
	ID           string    `spanner:"id"`
	Brand        string    `spanner:"brand"`
	Last4        string    `spanner:"last4"`
	HolderName   string    `spanner:"holder_name"`
	ExpMonth     int64     `spanner:"exp_month"`
	ExpYear      int64     `spanner:"exp_year"`
	IsDefault    bool      `spanner:"is_default"`
	GatewayToken string    `spanner:"gateway_token"`
	CreatedAt    time.Time `spanner:"created_at"`
}

var paymentMethodColumns = []string{
	"business_id", "id", "brand", "last4", "holder_name", "exp_month", "exp_year",
	"is_default", "gateway_token", "created_at",
}

func (r paymentMethodRow) toDomain() domain.PaymentMethod {
	return domain.PaymentMethod{
		ID:           r.ID,
		BusinessID:   r.BusinessID,
		Brand:        domain.CardBrand(r.Brand),
		Last4:        r.Last4,
		HolderName:   r.HolderName,
		ExpMonth:     int(r.ExpMonth),
		ExpYear:      int(r.ExpYear),
		IsDefault:    r.IsDefault,
		GatewayToken: r.GatewayToken,
		CreatedAt:    r.CreatedAt,
	}
}

// PaymentMethodRepo stores tokenized payment methods in Cloud Spanner
type PaymentMethodRepo struct {
	client *spanner.Client
}

// NewPaymentMethodRepo creates a new payment method repository
func NewPaymentMethodRepo(client *spanner.Client) *PaymentMethodRepo {
	return &PaymentMethodRepo{client: client}
}

// ListByBusiness returns the business's methods, oldest first
func (r *PaymentMethodRepo) ListByBusiness(ctx context.Context, businessID string) ([]domain.PaymentMethod, error) {
	stmt := spanner.Statement{
		SQL: `SELECT business_id, id, brand, last4, holder_name, exp_month, exp_year,
				is_default, gateway_token, created_at
			FROM payment_methods
			WHERE business_id = @business_id
			ORDER BY created_at, id`,
		Params: map[string]interface{}{
			"business_id": businessID,
		},
	}

	methods := []domain.PaymentMethod{}
	err := r.client.Single().Query(ctx, stmt).Do(func(row *spanner.Row) error {
		var pr paymentMethodRow
		if err := row.ToStruct(&pr); err != nil {
			return err
		}
		methods = append(methods, pr.toDomain())
		return nil
	})
	if err != nil {
		return nil, storeError(err, "failed to list payment methods")
	}
	return methods, nil
}

// FindByID retrieves one of the business's methods
func (r *PaymentMethodRepo) FindByID(ctx context.Context, businessID, id string) (*domain.PaymentMethod, error) {
	row, err := r.client.Single().ReadRow(ctx, paymentMethodsTable, spanner.Key{businessID, id}, paymentMethodColumns)
	if err != nil {
		if isNotFound(err) {
			return nil, domain.ErrPaymentMethodNotFound
		}
		return nil, storeError(err, "failed to read payment method")
	}

	var pr paymentMethodRow
	if err := row.ToStruct(&pr); err != nil {
		return nil, storeError(err, "failed to decode payment method")
	}
	m := pr.toDomain()
	return &m, nil
}

// Add inserts m. A new default clears the flag on the business's other methods
// in the same transaction.
func (r *PaymentMethodRepo) Add(ctx context.Context, m domain.PaymentMethod) error {
	_, err := r.client.ReadWriteTransaction(ctx, func(ctx context.Context, txn *spanner.ReadWriteTransaction) error {
		var mutations []*spanner.Mutation

		if m.IsDefault {
			stmt := spanner.Statement{
				SQL: `SELECT id FROM payment_methods
					WHERE business_id = @business_id AND is_default = TRUE`,
				Params: map[string]interface{}{"business_id": m.BusinessID},
			}
			err := txn.Query(ctx, stmt).Do(func(row *spanner.Row) error {
				var id string
				if err := row.Column(0, &id); err != nil {
					return err
				}
				mutations = append(mutations, spanner.Update(paymentMethodsTable,
					[]string{"business_id", "id", "is_default"},
					[]interface{}{m.BusinessID, id, false},
				))
				return nil
			})
			if err != nil {
				return err
			}
		}

		insert, err := spanner.InsertStruct(paymentMethodsTable, paymentMethodRow{
			BusinessID:   m.BusinessID,
			ID:           m.ID,
			Brand:        string(m.Brand),
			Last4:        m.Last4,
			HolderName:   m.HolderName,
			ExpMonth:     int64(m.ExpMonth),
			ExpYear:      int64(m.ExpYear),
			IsDefault:    m.IsDefault,
			GatewayToken: m.GatewayToken,
			CreatedAt:    m.CreatedAt,
		})
		if err != nil {
			return err
		}
		return txn.BufferWrite(append(mutations, insert))
	})
	return storeError(err, "failed to add payment method")
}
