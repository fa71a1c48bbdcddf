package checkout

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrPaymentNotCompleted = errors.New("payment not completed")
	ErrEmptyCart           = errors.New("cart is empty, nothing to check out")
	ErrAmountMismatch      = errors.New("captured amount does not match computed total")
	ErrStockUnavailable    = errors.New("insufficient stock")
)

// ValidationError reports the request fields that failed structural
// validation. No side effect has happened when it is returned.
type ValidationError struct {
	Fields []string
}

func (e *ValidationError) Error() string {
	return "invalid request: " + strings.Join(e.Fields, ", ")
}

// StockError carries the product that lost the race for stock.
type StockError struct {
	ProductID int64
	Requested int
	Available int
}

func (e *StockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %d: requested %d, available %d", e.ProductID, e.Requested, e.Available)
}

func (e *StockError) Unwrap() error { return ErrStockUnavailable }
