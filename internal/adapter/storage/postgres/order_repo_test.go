package postgres

import (
	"context"
	"testing"
	"time"

	"marketplace-ledger/internal/core/domain"

	"github.com/google/uuid"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func orderColumnNames() []string {
	return []string{"id", "user_id", "status", "payment_method", "subtotal", "tax_amount", "total_amount",
		"egp_amount", "gold_amount", "mass_amount", "gateway_transaction_id", "ledger_entry_id",
		"shipping_address", "shipping_phone", "notes", "created_at", "updated_at", "paid_at"}
}

func orderItemColumnNames() []string {
	return []string{"id", "order_id", "product_id", "quantity", "price_egp", "price_gold", "price_mass", "total_price"}
}

func newTestOrder() *domain.Order {
	now := time.Now().UTC().Truncate(time.Microsecond)
	id := uuid.New()
	return &domain.Order{
		ID:            id,
		UserID:        uuid.New(),
		Status:        domain.OrderStatusPending,
		PaymentMethod: domain.CurrencyEGP,
		Subtotal:      decimal.RequireFromString("100"),
		TaxAmount:     decimal.RequireFromString("5"),
		TotalAmount:   decimal.RequireFromString("105"),
		Items: []domain.OrderItem{{
			ID:         uuid.New(),
			OrderID:    id,
			ProductID:  "sku-1",
			Quantity:   2,
			PriceEGP:   decimal.RequireFromString("50"),
			TotalPrice: decimal.RequireFromString("100"),
		}},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestOrderRepo_Create(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewOrderRepo(mock)
	o := newTestOrder()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO orders").
		WithArgs(o.ID, o.UserID, o.Status, o.PaymentMethod, "100", "5", "105", "0", "0", "0",
			"", "", "", o.CreatedAt, o.UpdatedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO order_items").
		WithArgs(o.Items[0].ID, o.ID, "sku-1", 2, "50", "0", "0", "100").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	tx, err := mock.Begin(context.Background())
	require.NoError(t, err)

	require.NoError(t, repo.Create(context.Background(), tx, o))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOrderRepo_GetByIDForUpdate(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewOrderRepo(mock)
	o := newTestOrder()
	entryID := int64(11)
	txnID := "mock_ab12"
	paidAt := time.Now()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT .+ FROM orders WHERE id = \\$1 FOR UPDATE").
		WithArgs(o.ID).
		WillReturnRows(pgxmock.NewRows(orderColumnNames()).AddRow(
			o.ID, o.UserID, domain.OrderStatusPaid, domain.CurrencyGold, "100.00", "5.00", "105.00",
			"0.00", "105.00", "0.00", &txnID, &entryID, "Cairo", "0100", "", o.CreatedAt, o.UpdatedAt, &paidAt,
		))
	mock.ExpectQuery("SELECT .+ FROM order_items WHERE order_id = \\$1").
		WithArgs(o.ID).
		WillReturnRows(pgxmock.NewRows(orderItemColumnNames()).AddRow(
			o.Items[0].ID, o.ID, "sku-1", 2, "50.00", "5.00", "2.00", "10.00",
		))

	tx, err := mock.Begin(context.Background())
	require.NoError(t, err)

	got, err := repo.GetByIDForUpdate(context.Background(), tx, o.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, domain.OrderStatusPaid, got.Status)
	assert.True(t, decimal.NewFromInt(105).Equal(got.GoldAmount))
	require.NotNil(t, got.LedgerEntryID)
	assert.Equal(t, int64(11), *got.LedgerEntryID)
	require.Len(t, got.Items, 1)
	assert.True(t, decimal.NewFromInt(10).Equal(got.Items[0].TotalPrice))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOrderRepo_GetByID_NotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewOrderRepo(mock)

	id := uuid.New()

	mock.ExpectQuery("SELECT .+ FROM orders WHERE id = \\$1").
		WithArgs(id).
		WillReturnRows(pgxmock.NewRows(orderColumnNames()))

	got, err := repo.GetByID(context.Background(), id)
	assert.NoError(t, err)
	assert.Nil(t, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOrderRepo_Update(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewOrderRepo(mock)
	o := newTestOrder()
	o.MarkPaid(3, "mock_x", time.Now())

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE orders SET status").
		WithArgs(domain.OrderStatusPaid, "105", "0", "0", o.GatewayTransactionID, o.LedgerEntryID, o.PaidAt, o.ID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	tx, err := mock.Begin(context.Background())
	require.NoError(t, err)

	require.NoError(t, repo.Update(context.Background(), tx, o))
	assert.NoError(t, mock.ExpectationsWereMet())
}
