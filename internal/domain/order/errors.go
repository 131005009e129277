package order

import (
	"fmt"
	"strings"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Sentinel errors for order validation and lifecycle.
var (
	ErrEmptyItems      = errors.New("items required")
	ErrInvalidQuantity = errors.New("quantity must be greater than 0")
	ErrNotFound        = errors.New("order not found")
	// ErrValidation is matched by every *ValidationError.
	ErrValidation = errors.New("order validation failed")
	// ErrNotReconciled is matched by every *ReconciliationError.
	ErrNotReconciled = errors.New("order is not reconciled")
	// ErrInvalidTransition is returned for status changes the order's
	// current status does not allow.
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrInvalidAmount     = errors.New("amount must be greater than 0")
	ErrDuplicateStatus   = errors.New("status code already defined")
	ErrUnknownStatus     = errors.New("status code not defined")
)

// UnitNotFoundError indicates a requested unit does not exist.
type UnitNotFoundError struct {
	UnitID string
}

func (e *UnitNotFoundError) Error() string {
	return fmt.Sprintf("unit %s not found", e.UnitID)
}

// InvalidQuantityError indicates a line item has a non-positive quantity.
type InvalidQuantityError struct {
	UnitID string
}

func (e *InvalidQuantityError) Error() string {
	return fmt.Sprintf("quantity must be greater than 0 for unit %s", e.UnitID)
}

func (e *InvalidQuantityError) Unwrap() error { return ErrInvalidQuantity }

// Problem is one failed check on an order being assembled.
type Problem struct {
	Field   string
	Message string
}

func (p Problem) String() string { return p.Field + ": " + p.Message }

// ValidationError lists every check an order failed at commit.
type ValidationError struct {
	Problems []Problem
}

func (e *ValidationError) Error() string {
	msgs := make([]string, len(e.Problems))
	for i, p := range e.Problems {
		msgs[i] = p.String()
	}
	return ErrValidation.Error() + ": " + strings.Join(msgs, "; ")
}

// Is reports whether target is ErrValidation.
func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// ReconciliationError indicates payments do not cover the order total.
type ReconciliationError struct {
	OrderID string
	// Balance is the amount still owed; negative when overpaid.
	Balance decimal.Decimal
}

func (e *ReconciliationError) Error() string {
	return fmt.Sprintf("order %s has outstanding balance %s", e.OrderID, e.Balance.StringFixed(2))
}

// Is reports whether target is ErrNotReconciled.
func (e *ReconciliationError) Is(target error) bool { return target == ErrNotReconciled }
