package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

// AppError is a structured error that maps to HTTP responses.
type AppError struct {
	Code       string `json:"error_code"`
	Message    string `json:"message"`
	HTTPStatus int    `json:"-"`
	Retryable  bool   `json:"retryable"`
	Err        error  `json:"-"` // Wrapped internal error (not exposed to client)
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Is matches on Code so callers can compare against constructor results.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// New creates a new AppError.
func New(code string, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
	}
}

// Wrap wraps an internal error with an AppError.
func Wrap(code string, message string, httpStatus int, err error) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Err:        err,
	}
}

// As returns the outermost AppError in err's chain, if any.
func As(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// HasCode reports whether err, or anything it wraps, is an AppError with code.
func HasCode(err error, code string) bool {
	for err != nil {
		if appErr, ok := err.(*AppError); ok && appErr.Code == code {
			return true
		}
		err = errors.Unwrap(err)
	}
	return false
}

// IsRetryable reports whether the outermost AppError in err's chain is retryable.
func IsRetryable(err error) bool {
	appErr, ok := As(err)
	return ok && appErr.Retryable
}

func retryable(e *AppError) *AppError {
	e.Retryable = true
	return e
}

// ---- Wallet (WAL) ----

func ErrInsufficientFunds() *AppError {
	return New("WAL_001", "Insufficient balance in wallet", http.StatusPaymentRequired)
}

func ErrInvalidCurrency(currency string) *AppError {
	return New("WAL_002", fmt.Sprintf("Invalid currency %q", currency), http.StatusBadRequest)
}

func ErrWalletNotFound() *AppError {
	return New("WAL_003", "Wallet not found", http.StatusNotFound)
}

func ErrInvalidAmount() *AppError {
	return New("WAL_004", "Invalid amount", http.StatusBadRequest)
}

func ErrSameCurrency() *AppError {
	return New("WAL_005", "Source and target currency must differ", http.StatusBadRequest)
}

// ---- Ledger (LED) ----

func ErrEntryNotFound() *AppError {
	return New("LED_001", "Ledger entry not found", http.StatusNotFound)
}

func ErrAlreadyReversed() *AppError {
	return New("LED_002", "Ledger entry already reversed", http.StatusConflict)
}

func ErrNotReversible() *AppError {
	return New("LED_003", "Ledger entry cannot be reversed", http.StatusUnprocessableEntity)
}

// ---- Payment gateway (GW) ----

func ErrGatewayFailure(reason string) *AppError {
	return New("GW_001", fmt.Sprintf("Payment declined: %s", reason), http.StatusPaymentRequired)
}

// ErrGatewayError reports a gateway call that failed without an answer.
func ErrGatewayError(err error) *AppError {
	return Wrap("GW_001", "Payment gateway unavailable", http.StatusBadGateway, err)
}

func ErrGatewayTimeout(err error) *AppError {
	return retryable(Wrap("GW_002", "Payment gateway timed out", http.StatusGatewayTimeout, err))
}

// ErrGatewayChargedButLedgerFailed reports a charge that could not be recorded.
// The cause stays in Err and is never exposed in Message.
func ErrGatewayChargedButLedgerFailed(err error) *AppError {
	return Wrap("GW_003", "Payment was charged but could not be recorded", http.StatusConflict, err)
}

// ---- Orders (ORD) ----

func ErrOrderStateConflict(from, to string) *AppError {
	return New("ORD_001", fmt.Sprintf("Order cannot move from %s to %s", from, to), http.StatusConflict)
}

func ErrNotFound(entity string) *AppError {
	return New("ORD_002", fmt.Sprintf("%s not found", entity), http.StatusNotFound)
}

func ErrEmptyCart() *AppError {
	return New("ORD_003", "Cart is empty", http.StatusBadRequest)
}

func ErrPriceUnavailable(product string, currency string) *AppError {
	return New("ORD_004", fmt.Sprintf("Product %s has no %s price", product, currency), http.StatusUnprocessableEntity)
}

// ---- System & Infrastructure (SYS) ----

func ErrDatabaseError(err error) *AppError {
	return Wrap("SYS_001", "Internal database error", http.StatusInternalServerError, err)
}

func ErrLockTimeout(err error) *AppError {
	return retryable(Wrap("SYS_002", "Lock acquisition timeout", http.StatusServiceUnavailable, err))
}

func ErrConcurrentModification(err error) *AppError {
	return retryable(Wrap("SYS_003", "Concurrent modification, retry", http.StatusConflict, err))
}

// InternalError wraps an internal error as a SYS_001 error.
func InternalError(err error) *AppError {
	return Wrap("SYS_001", "Internal server error", http.StatusInternalServerError, err)
}

// Validation returns a WAL_004-style validation error.
func Validation(message string) *AppError {
	return New("WAL_004", message, http.StatusBadRequest)
}
