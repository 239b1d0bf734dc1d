package domain

import (
	"time"
)

// CardBrand is the card network of a stored instrument
type CardBrand string

const (
	BrandVisa       CardBrand = "visa"
	BrandMastercard CardBrand = "mastercard"
	BrandAmex       CardBrand = "amex"
	BrandDiscover   CardBrand = "discover"
	BrandUnknown    CardBrand = "unknown"
)

// PaymentMethod is a tokenized card reference. Full card numbers never reach
// this type; GatewayToken is the provider's handle for the instrument.
type PaymentMethod struct {
	ID           string    `json:"id"`
	BusinessID   string    `json:"business_id"`
	Brand        CardBrand `json:"brand"`
	Last4        string    `json:"last4"`
	HolderName   string    `json:"holder_name"`
	ExpMonth     int       `json:"exp_month"`
	ExpYear      int       `json:"exp_year"`
	IsDefault    bool      `json:"is_default"`
	GatewayToken string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// Expired reports whether the card's expiry month is entirely in the past.
func (m PaymentMethod) Expired(now time.Time) bool {
	y, mo, _ := now.Date()
	if m.ExpYear != y {
		return m.ExpYear < y
	}
	return m.ExpMonth < int(mo)
}

// CardData is raw instrument data as entered by the caller. It only lives
// long enough to be validated and tokenized.
type CardData struct {
	HolderName  string `json:"holder_name"`
	Number      string `json:"number"`
	ExpMonth    int    `json:"exp_month"`
	ExpYear     int    `json:"exp_year"`
	CVC         string `json:"cvc"`
	MakeDefault bool   `json:"make_default"`
}

// CardToken is what the gateway returns for tokenized card data
type CardToken struct {
	Token string
	Brand CardBrand
	Last4 string
}
