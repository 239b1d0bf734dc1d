// Package repo implements the subscription store ports on Cloud Spanner.
package repo

import (
	"context"

	"cloud.google.com/go/spanner"
	"github.com/shopspring/decimal"
	"github.com/wuyiadepoju/planchange/internal/config"
	ierr "github.com/wuyiadepoju/planchange/internal/errors"
	"google.golang.org/grpc/codes"
)

// NewClient opens a Spanner client for the configured database
func NewClient(ctx context.Context, cfg config.SpannerConfig) (*spanner.Client, error) {
	client, err := spanner.NewClient(ctx, cfg.DatabasePath(), cfg.ClientOptions()...)
	if err != nil {
		return nil, ierr.WithError(err).
			WithMessage("failed to create spanner client").
			Mark(ierr.ErrSystem)
	}
	return client, nil
}

// storeError classifies a Spanner failure. Errors that already carry a
// taxonomy mark pass through untouched.
func storeError(err error, msg string) error {
	if err == nil || ierr.Marked(err) {
		return err
	}
	switch spanner.ErrCode(err) {
	case codes.Unavailable, codes.DeadlineExceeded, codes.Aborted, codes.ResourceExhausted:
		return ierr.WithError(err).
			WithMessage(msg).
			WithHint("The store is temporarily unavailable, please retry").
			Mark(ierr.ErrTransient)
	}
	return ierr.WithError(err).WithMessage(msg).Mark(ierr.ErrSystem)
}

func isNotFound(err error) bool {
	return spanner.ErrCode(err) == codes.NotFound
}

var minorUnitScale = decimal.NewFromInt(100)

func toMinorUnits(amount decimal.Decimal) int64 {
	return amount.Mul(minorUnitScale).Round(0).IntPart()
}

func fromMinorUnits(minor int64) decimal.Decimal {
	return decimal.New(minor, -2)
}
