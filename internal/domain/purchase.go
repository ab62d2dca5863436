package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	CategoryCylinderPurchase    = "cylinder_purchase"
	CategoryGasPurchase         = "gas_purchase"
	CategoryVaporizerPurchase   = "vaporizer_purchase"
	CategoryAccessoriesPurchase = "accessories_purchase"
	CategoryValvesPurchase      = "valves_purchase"
	CategoryBill                = "bill"
)

type PaymentStatus string

const (
	PaymentUnpaid  PaymentStatus = "UNPAID"
	PaymentPartial PaymentStatus = "PARTIAL"
	PaymentPaid    PaymentStatus = "PAID"
)

type PurchaseLine struct {
	SKU      SKUKey          `json:"sku"`
	Quantity decimal.Decimal `json:"quantity"`
	UnitCost decimal.Decimal `json:"unit_cost"`
}

func (l PurchaseLine) Amount() decimal.Decimal {
	return l.Quantity.Mul(l.UnitCost)
}

type PurchaseInvoice struct {
	ID             string          `json:"id"`
	DocumentNumber string          `json:"document_number"`
	VendorID       string          `json:"vendor_id"`
	Category       string          `json:"category"`
	Lines          []PurchaseLine  `json:"lines"`
	Total          decimal.Decimal `json:"total"`
	PaidAmount     decimal.Decimal `json:"paid_amount"`
	BalanceAmount  decimal.Decimal `json:"balance_amount"`
	PaymentStatus  PaymentStatus   `json:"payment_status"`
	Notes          string          `json:"notes,omitempty"`
	CreatedBy      string          `json:"created_by,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// DerivePaymentState computes balance and status from total and paid amount.
// An overpaid invoice is PAID with a negative balance.
func DerivePaymentState(total, paid decimal.Decimal) (decimal.Decimal, PaymentStatus) {
	balance := total.Sub(paid)
	switch {
	case !balance.IsPositive():
		return balance, PaymentPaid
	case paid.IsPositive():
		return balance, PaymentPartial
	default:
		return balance, PaymentUnpaid
	}
}

// WithPayment returns a copy with paid, balance and status re-derived together.
// The caller validates that amount is positive.
func (p PurchaseInvoice) WithPayment(amount decimal.Decimal, at time.Time) PurchaseInvoice {
	p.PaidAmount = p.PaidAmount.Add(amount)
	p.BalanceAmount, p.PaymentStatus = DerivePaymentState(p.Total, p.PaidAmount)
	p.UpdatedAt = at
	return p
}

type PurchasePayment struct {
	ID         string          `json:"id"`
	PurchaseID string          `json:"purchase_id"`
	Amount     decimal.Decimal `json:"amount"`
	Method     string          `json:"method,omitempty"`
	RecordedBy string          `json:"recorded_by,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

type PurchaseCreateRequest struct {
	VendorID string         `json:"vendor_id"`
	Category string         `json:"category,omitempty"`
	Lines    []PurchaseLine `json:"lines"`
	Notes    string         `json:"notes,omitempty"`
}

type PurchasePaymentRequest struct {
	Amount decimal.Decimal `json:"amount"`
	Method string          `json:"method,omitempty"`
}

type PurchaseDetail struct {
	Purchase PurchaseInvoice   `json:"purchase"`
	Payments []PurchasePayment `json:"payments"`
}
