package service

import (
	"context"
	"fmt"
	"testing"

	"marketplace-ledger/pkg/apperror"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

// mockTx implements pgx.Tx for testing
type mockTx struct {
	pgx.Tx
	commitErr error
	committed bool
}

func (m *mockTx) Rollback(_ context.Context) error { return nil }
func (m *mockTx) Commit(_ context.Context) error {
	if m.commitErr != nil {
		return m.commitErr
	}
	m.committed = true
	return nil
}

func assertAppError(t *testing.T, err error, expectedCode string) {
	t.Helper()
	var appErr *apperror.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, expectedCode, appErr.Code)
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// decEq matches a decimal.Decimal by numeric value.
type decEq struct{ want decimal.Decimal }

func decimalEq(s string) gomock.Matcher { return decEq{want: dec(s)} }

func (m decEq) Matches(x any) bool {
	switch v := x.(type) {
	case decimal.Decimal:
		return v.Equal(m.want)
	case *decimal.Decimal:
		return v != nil && v.Equal(m.want)
	}
	return false
}

func (m decEq) String() string { return fmt.Sprintf("is decimal %s", m.want) }
