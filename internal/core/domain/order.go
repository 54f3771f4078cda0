package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// OrderStatus is the lifecycle state of an order.
type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "pending"
	OrderStatusPaid       OrderStatus = "paid"
	OrderStatusProcessing OrderStatus = "processing"
	OrderStatusShipped    OrderStatus = "shipped"
	OrderStatusDelivered  OrderStatus = "delivered"
	OrderStatusCancelled  OrderStatus = "cancelled"
	OrderStatusRefunded   OrderStatus = "refunded"
)

var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending:    {OrderStatusPaid, OrderStatusCancelled},
	OrderStatusPaid:       {OrderStatusProcessing, OrderStatusCancelled, OrderStatusRefunded},
	OrderStatusProcessing: {OrderStatusShipped, OrderStatusRefunded},
	OrderStatusShipped:    {OrderStatusDelivered, OrderStatusRefunded},
	OrderStatusDelivered:  {OrderStatusRefunded},
}

// CanTransition reports whether an order may move from s to next.
func (s OrderStatus) CanTransition(next OrderStatus) bool {
	for _, allowed := range orderTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// IsTerminal returns true if no further transition is possible.
func (s OrderStatus) IsTerminal() bool {
	return len(orderTransitions[s]) == 0
}

// Order is a checkout of a user's cart, priced in one payment currency.
type Order struct {
	ID                   uuid.UUID       `json:"id"`
	UserID               uuid.UUID       `json:"user_id"`
	Status               OrderStatus     `json:"status"`
	PaymentMethod        Currency        `json:"payment_method"`
	Subtotal             decimal.Decimal `json:"subtotal"`
	TaxAmount            decimal.Decimal `json:"tax_amount"`
	TotalAmount          decimal.Decimal `json:"total_amount"`
	EGPAmount            decimal.Decimal `json:"egp_amount"`
	GoldAmount           decimal.Decimal `json:"gold_amount"`
	MassAmount           decimal.Decimal `json:"mass_amount"`
	GatewayTransactionID *string         `json:"gateway_transaction_id,omitempty"`
	LedgerEntryID        *int64          `json:"ledger_entry_id,omitempty"`
	ShippingAddress      string          `json:"shipping_address"`
	ShippingPhone        string          `json:"shipping_phone"`
	Notes                string          `json:"notes"`
	Items                []OrderItem     `json:"items"`
	CreatedAt            time.Time       `json:"created_at"`
	UpdatedAt            time.Time       `json:"updated_at"`
	PaidAt               *time.Time      `json:"paid_at,omitempty"`
}

// MarkPaid records the settled amount in the payment currency's field.
func (o *Order) MarkPaid(entryID int64, gatewayTxnID string, at time.Time) {
	o.Status = OrderStatusPaid
	o.LedgerEntryID = &entryID
	o.GatewayTransactionID = &gatewayTxnID
	o.PaidAt = &at
	o.UpdatedAt = at
	switch o.PaymentMethod {
	case CurrencyEGP:
		o.EGPAmount = o.TotalAmount
	case CurrencyGold:
		o.GoldAmount = o.TotalAmount
	case CurrencyMass:
		o.MassAmount = o.TotalAmount
	}
}

// OrderItem snapshots a product's prices at the time the order was created.
type OrderItem struct {
	ID         uuid.UUID       `json:"id"`
	OrderID    uuid.UUID       `json:"order_id"`
	ProductID  string          `json:"product_id"`
	Quantity   int             `json:"quantity"`
	PriceEGP   decimal.Decimal `json:"price_egp"`
	PriceGold  decimal.Decimal `json:"price_gold"`
	PriceMass  decimal.Decimal `json:"price_mass"`
	TotalPrice decimal.Decimal `json:"total_price"`
}
