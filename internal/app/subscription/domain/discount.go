package domain

import "github.com/shopspring/decimal"

// DiscountResult is the discount validator's breakdown for a code
type DiscountResult struct {
	Code           string          `json:"code"`
	IsValid        bool            `json:"is_valid"`
	DiscountAmount decimal.Decimal `json:"discount_amount"`
	FinalAmount    decimal.Decimal `json:"final_amount"`
	Message        string          `json:"message,omitempty"`
}
