package paymentmethod

import (
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/wuyiadepoju/planchange/internal/app/subscription/domain"
	ierr "github.com/wuyiadepoju/planchange/internal/errors"
)

// maxExpiryYears bounds how far in the future an expiry year may be.
const maxExpiryYears = 10

var (
	digitsOnly = regexp.MustCompile(`^[0-9]+$`)
	separators = strings.NewReplacer(" ", "", "-", "")
	validate   = newValidator()
)

type cardInput struct {
	HolderName string `json:"holder_name" validate:"required"`
	Number     string `json:"number" validate:"required,digits,min=13,max=19"`
	ExpMonth   int    `json:"exp_month" validate:"min=1,max=12"`
	CVC        string `json:"cvc" validate:"required,digits,min=3,max=4"`
}

var fieldMessages = map[string]string{
	"holder_name": "is required",
	"number":      "must be 13 to 19 digits",
	"exp_month":   "must be between 1 and 12",
	"cvc":         "must be 3 or 4 digits",
}

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		return strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
	})
	_ = v.RegisterValidation("digits", func(fl validator.FieldLevel) bool {
		return digitsOnly.MatchString(fl.Field().String())
	})
	return v
}

// NormalizeNumber strips the separators people type into card numbers.
func NormalizeNumber(number string) string {
	return separators.Replace(strings.TrimSpace(number))
}

// ValidateCard checks raw card data before it may leave the registry. All
// violations are reported together as field-scoped errors. On success it
// returns the normalized card number.
func ValidateCard(card domain.CardData, now time.Time) (string, error) {
	in := cardInput{
		HolderName: strings.TrimSpace(card.HolderName),
		Number:     NormalizeNumber(card.Number),
		ExpMonth:   card.ExpMonth,
		CVC:        strings.TrimSpace(card.CVC),
	}

	fields := map[string]string{}
	if err := validate.Struct(in); err != nil {
		var verrs validator.ValidationErrors
		if !ierr.As(err, &verrs) {
			return "", ierr.WithError(err).Mark(ierr.ErrSystem)
		}
		for _, fe := range verrs {
			fields[fe.Field()] = fieldMessages[fe.Field()]
		}
	}

	year := now.Year()
	switch {
	case card.ExpYear < year || card.ExpYear > year+maxExpiryYears:
		fields["exp_year"] = fmt.Sprintf("must be between %d and %d", year, year+maxExpiryYears)
	case card.ExpYear == year && card.ExpMonth >= 1 && card.ExpMonth < int(now.Month()):
		fields["exp_month"] = "card has expired"
	}

	if len(fields) > 0 {
		return "", ierr.NewFieldErrors(fields)
	}
	return in.Number, nil
}

// DetectBrand infers the card network from the number's prefix.
func DetectBrand(number string) domain.CardBrand {
	switch {
	case strings.HasPrefix(number, "4"):
		return domain.BrandVisa
	case strings.HasPrefix(number, "34"), strings.HasPrefix(number, "37"):
		return domain.BrandAmex
	case strings.HasPrefix(number, "6011"), strings.HasPrefix(number, "65"):
		return domain.BrandDiscover
	case len(number) >= 2 && number[0] == '5' && number[1] >= '1' && number[1] <= '5':
		return domain.BrandMastercard
	case len(number) >= 4 && number[:4] >= "2221" && number[:4] <= "2720":
		return domain.BrandMastercard
	}
	return domain.BrandUnknown
}
