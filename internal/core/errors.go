package core

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Sentinel kinds. Every typed error below matches exactly one of them via errors.Is.
var (
	ErrValidation          = errors.New("validation failed")
	ErrInsufficientStock   = errors.New("insufficient stock")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrNotFound            = errors.New("not found")
	ErrConcurrencyConflict = errors.New("concurrency conflict")
	ErrInternal            = errors.New("internal error")
)

// ErrorKind classifies an error for transport adapters.
type ErrorKind string

const (
	KindValidation          ErrorKind = "VALIDATION"
	KindInsufficientStock   ErrorKind = "INSUFFICIENT_STOCK"
	KindInsufficientBalance ErrorKind = "INSUFFICIENT_BALANCE"
	KindNotFound            ErrorKind = "NOT_FOUND"
	KindConcurrencyConflict ErrorKind = "CONCURRENCY_CONFLICT"
	KindInternal            ErrorKind = "INTERNAL"
)

// KindOf returns the kind of err. Unclassified errors are internal.
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, ErrInsufficientStock):
		return KindInsufficientStock
	case errors.Is(err, ErrInsufficientBalance):
		return KindInsufficientBalance
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrConcurrencyConflict):
		return KindConcurrencyConflict
	default:
		return KindInternal
	}
}

// ValidationError reports a correctable fault in the caller's input.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation failed: %s", e.Message)
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// NewValidationError builds a ValidationError with a formatted message.
func NewValidationError(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// InsufficientStockError names the product and location that could not cover a request.
type InsufficientStockError struct {
	ProductID   string
	ProductName string
	Location    Location
	Required    decimal.Decimal
	Available   decimal.Decimal
}

func (e *InsufficientStockError) Error() string {
	name := e.ProductName
	if name == "" {
		name = e.ProductID
	}
	return fmt.Sprintf("insufficient %s stock for product %s: available %s, required %s",
		e.Location, name, e.Available.String(), e.Required.String())
}

func (e *InsufficientStockError) Is(target error) bool { return target == ErrInsufficientStock }

// InsufficientBalanceError reports that a debtor, debt or credit balance cannot cover an amount.
type InsufficientBalanceError struct {
	Subject   string
	Required  decimal.Decimal
	Available decimal.Decimal
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance on %s: available %s, required %s",
		e.Subject, e.Available.StringFixed(2), e.Required.StringFixed(2))
}

func (e *InsufficientBalanceError) Is(target error) bool { return target == ErrInsufficientBalance }

// NotFoundError reports a missing referenced entity.
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// ConcurrencyConflictError means a conditional write lost a race. The whole
// operation may be retried once.
type ConcurrencyConflictError struct {
	Entity string
	ID     string
}

func (e *ConcurrencyConflictError) Error() string {
	return fmt.Sprintf("concurrent modification of %s %s", e.Entity, e.ID)
}

func (e *ConcurrencyConflictError) Is(target error) bool { return target == ErrConcurrencyConflict }

// InternalError wraps a storage or transport failure. Its detail is for logs only.
type InternalError struct {
	Op  string
	Err error
}

func (e *InternalError) Error() string {
	return fmt.Sprintf("internal: %s: %v", e.Op, e.Err)
}

func (e *InternalError) Unwrap() error { return e.Err }

func (e *InternalError) Is(target error) bool { return target == ErrInternal }

// WrapInternal wraps err as an InternalError unless it already carries a kind.
func WrapInternal(op string, err error) error {
	if err == nil {
		return nil
	}
	if KindOf(err) != KindInternal {
		return err
	}
	var ie *InternalError
	if errors.As(err, &ie) {
		return err
	}
	return &InternalError{Op: op, Err: err}
}

// PartialApplicationError is returned when a compound operation failed part-way
// on a store without atomic transactions. It lists exactly which steps were
// applied, which were compensated and which could not be undone.
type PartialApplicationError struct {
	Operation     string
	Completed     []string
	Failed        string
	Compensated   []string
	Uncompensated []string
	Err           error
}

func (e *PartialApplicationError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s failed at step %q: %v", e.Operation, e.Failed, e.Err)
	if len(e.Completed) > 0 {
		fmt.Fprintf(&b, "; completed [%s]", strings.Join(e.Completed, ", "))
	}
	if len(e.Compensated) > 0 {
		fmt.Fprintf(&b, "; compensated [%s]", strings.Join(e.Compensated, ", "))
	}
	if len(e.Uncompensated) > 0 {
		fmt.Fprintf(&b, "; NOT compensated [%s]", strings.Join(e.Uncompensated, ", "))
	}
	return b.String()
}

func (e *PartialApplicationError) Unwrap() error { return e.Err }

// NeedsReconciliation reports whether some applied step is still in effect.
func (e *PartialApplicationError) NeedsReconciliation() bool {
	return len(e.Uncompensated) > 0
}
