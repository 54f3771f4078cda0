package domain

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// CartItem is one product line in a user's cart with per-currency unit prices.
// A nil price means the product is not sold in that currency.
type CartItem struct {
	UserID    uuid.UUID        `json:"user_id"`
	ProductID string           `json:"product_id"`
	Quantity  int              `json:"quantity"`
	PriceEGP  *decimal.Decimal `json:"price_egp,omitempty"`
	PriceGold *decimal.Decimal `json:"price_gold,omitempty"`
	PriceMass *decimal.Decimal `json:"price_mass,omitempty"`
}

// UnitPrice returns the price in c, if the product has one.
func (i *CartItem) UnitPrice(c Currency) (decimal.Decimal, bool) {
	var p *decimal.Decimal
	switch c {
	case CurrencyEGP:
		p = i.PriceEGP
	case CurrencyGold:
		p = i.PriceGold
	case CurrencyMass:
		p = i.PriceMass
	}
	if p == nil {
		return decimal.Zero, false
	}
	return *p, true
}

func priceOrZero(p *decimal.Decimal) decimal.Decimal {
	if p == nil {
		return decimal.Zero
	}
	return *p
}

// Snapshot converts the cart line into an order item priced in c.
func (i *CartItem) Snapshot(orderID uuid.UUID, c Currency) (OrderItem, bool) {
	unit, ok := i.UnitPrice(c)
	if !ok {
		return OrderItem{}, false
	}
	return OrderItem{
		ID:         uuid.New(),
		OrderID:    orderID,
		ProductID:  i.ProductID,
		Quantity:   i.Quantity,
		PriceEGP:   priceOrZero(i.PriceEGP),
		PriceGold:  priceOrZero(i.PriceGold),
		PriceMass:  priceOrZero(i.PriceMass),
		TotalPrice: unit.Mul(decimal.NewFromInt(int64(i.Quantity))),
	}, true
}
