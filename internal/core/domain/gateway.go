package domain

import "github.com/shopspring/decimal"

// PaymentCharge is a request to collect money through the external gateway.
type PaymentCharge struct {
	Amount      decimal.Decimal
	Currency    Currency
	Description string
	Metadata    map[string]string
}

// PaymentResult is the gateway's answer to a charge.
type PaymentResult struct {
	Success       bool
	TransactionID string
	Error         string
	Details       map[string]string
}

// RefundResult is the gateway's answer to a refund.
type RefundResult struct {
	Success  bool
	RefundID string
	Error    string
}
